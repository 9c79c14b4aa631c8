package lineage

import (
	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/solver"
)

// Zero-valued numeric settings in requests take the package defaults and
// everything is clamped before it reaches the solver.

type EquilibriumRequest struct {
	Name string `yaml:"name" validate:"required,identifier"`

	// ParameterName defaults to the source's continuation parameter.
	ParameterName string          `yaml:"parameter"`
	Settings      branch.Settings `yaml:"settings"`
	Forward       bool            `yaml:"forward"`
}

type LimitCycleRequest struct {
	Name          string          `yaml:"name" validate:"required,identifier"`
	ParameterName string          `yaml:"parameter"`
	Settings      branch.Settings `yaml:"settings"`
	Forward       bool            `yaml:"forward"`
}

// HopfCycleRequest starts a limit cycle object from a Hopf point.
type HopfCycleRequest struct {
	ObjectName    string          `yaml:"object" validate:"required,identifier"`
	BranchName    string          `yaml:"name" validate:"required,identifier"`
	ParameterName string          `yaml:"parameter"`
	Amplitude     float64         `yaml:"amplitude"`
	Mesh          solver.Mesh     `yaml:"mesh"`
	Settings      branch.Settings `yaml:"settings"`
	Forward       bool            `yaml:"forward"`
}

// OrbitCycleRequest starts a limit cycle object from a recurrent orbit.
type OrbitCycleRequest struct {
	ObjectName    string          `yaml:"object" validate:"required,identifier"`
	BranchName    string          `yaml:"name" validate:"required,identifier"`
	ParameterName string          `yaml:"parameter"`
	Tolerance     float64         `yaml:"tolerance"`
	Mesh          solver.Mesh     `yaml:"mesh"`
	Settings      branch.Settings `yaml:"settings"`
	Forward       bool            `yaml:"forward"`
}

type CurveRequest struct {
	Kind solver.CurveKind `yaml:"kind" validate:"required,oneof=fold hopf lpc pd ns"`
	Name string           `yaml:"name" validate:"required,identifier"`

	// Param2Name is the second continuation parameter; the first is the
	// source's.
	Param2Name string          `yaml:"param2" validate:"required"`
	Settings   branch.Settings `yaml:"settings"`
	Forward    bool            `yaml:"forward"`
}

// PeriodDoublingRequest branches to the period-doubled cycle.
type PeriodDoublingRequest struct {
	ObjectName string          `yaml:"object" validate:"required,identifier"`
	BranchName string          `yaml:"name" validate:"required,identifier"`
	Amplitude  float64         `yaml:"amplitude"`
	Settings   branch.Settings `yaml:"settings"`
	Forward    bool            `yaml:"forward"`
}

// Manifold1DRequest computes a 1D manifold. With direction Both, Name is a
// base name and the branches are Name_plus and Name_minus.
type Manifold1DRequest struct {
	Name     string                    `yaml:"name" validate:"required,identifier"`
	Settings solver.Manifold1DSettings `yaml:"settings"`
}

// Manifold2DRequest computes a 2D manifold. When no geometry is set the
// named profile (local_preview by default) supplies it.
type Manifold2DRequest struct {
	Name     string                    `yaml:"name" validate:"required,identifier"`
	Settings solver.Manifold2DSettings `yaml:"settings"`
}

type HomotopyRequest struct {
	Name       string                  `yaml:"name" validate:"required,identifier"`
	Param2Name string                  `yaml:"param2" validate:"required"`
	Setup      solver.HomotopySettings `yaml:"setup"`
	Settings   branch.Settings         `yaml:"settings"`
	Forward    bool                    `yaml:"forward"`
}

type ExtendRequest struct {
	Forward  bool            `yaml:"forward"`
	Settings branch.Settings `yaml:"settings"`
}

const (
	defaultAmplitude      = 1e-2
	defaultOrbitTolerance = 1e-2
	manifold1DMethod      = "shooting_bvp"
	manifold2DMethod      = "leaf_shooting_bvp"
	arclengthParam        = "arclength"
)

func continuation(s branch.Settings) branch.Settings {
	if s == (branch.Settings{}) {
		s = branch.DefaultSettings()
	}
	return s.Clamp()
}

func mesh(m solver.Mesh) solver.Mesh {
	if m == (solver.Mesh{}) {
		m = solver.DefaultMesh()
	}
	return m.Clamp()
}

func amplitude(a float64) float64 {
	if a == 0 {
		a = defaultAmplitude
	}
	return solver.ClampAmplitude(a)
}

func manifold1D(s solver.Manifold1DSettings) solver.Manifold1DSettings {
	if s.Eps == 0 && s.IntegrationDT == 0 && s.TargetArclength == 0 {
		d := solver.DefaultManifold1D()
		if s.Stability != "" {
			d.Stability = s.Stability
		}
		if s.Direction != "" {
			d.Direction = s.Direction
		}
		d.EigIndex = s.EigIndex
		if s.Caps != (branch.ManifoldCaps{}) {
			d.Caps = s.Caps
		}
		s = d
	}
	return s.Clamp()
}

func manifold2D(s solver.Manifold2DSettings) (solver.Manifold2DSettings, error) {
	if s.InitialRadius == 0 && s.RingPoints == 0 && s.IntegrationDT == 0 {
		name := s.Profile
		if name == "" {
			name = solver.ProfileLocalPreview
		}
		var err error
		if s, err = s.WithProfile(name); err != nil {
			return s, err
		}
	}
	if s.Stability == "" {
		s.Stability = branch.ManifoldUnstable
	}
	return s.Clamp(), nil
}

func homotopy(s solver.HomotopySettings) solver.HomotopySettings {
	if s == (solver.HomotopySettings{}) {
		s = solver.DefaultHomotopy()
	}
	return s.Clamp()
}
