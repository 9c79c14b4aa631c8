package solver

import (
	"fmt"
	"sort"

	"github.com/san-kum/dynbranch/internal/branch"
)

// Mesh is a collocation discretization.
type Mesh struct {
	NTST int `json:"ntst" yaml:"ntst"`
	NCOL int `json:"ncol" yaml:"ncol"`
}

func DefaultMesh() Mesh { return Mesh{NTST: 20, NCOL: 4} }

func (m Mesh) Clamp() Mesh {
	m.NTST = max(m.NTST, 2)
	m.NCOL = max(m.NCOL, 1)
	return m
}

const (
	MinAmplitude = 1e-12
	MinEps       = 1e-12
	MinDT        = 1e-9
	MinTime      = 1e-6
)

// ClampAmplitude floors a perturbation amplitude.
func ClampAmplitude(a float64) float64 {
	return branch.FloorFinite(a, 1e-2, MinAmplitude)
}

// Manifold1DSettings drives a 1D equilibrium manifold computation.
type Manifold1DSettings struct {
	Stability       branch.ManifoldStability `json:"stability" yaml:"stability"`
	Direction       branch.ManifoldDirection `json:"direction" yaml:"direction"`
	EigIndex        *int                     `json:"eig_index,omitempty" yaml:"eig_index,omitempty"`
	Eps             float64                  `json:"eps" yaml:"eps"`
	TargetArclength float64                  `json:"target_arclength" yaml:"target_arclength"`
	IntegrationDT   float64                  `json:"integration_dt" yaml:"integration_dt"`
	Caps            branch.ManifoldCaps      `json:"caps" yaml:"caps"`
}

func DefaultManifold1D() Manifold1DSettings {
	return Manifold1DSettings{
		Stability:       branch.ManifoldUnstable,
		Direction:       branch.DirectionBoth,
		Eps:             1e-4,
		TargetArclength: 10,
		IntegrationDT:   1e-2,
		Caps:            branch.ManifoldCaps{MaxSteps: 2000, MaxPoints: 2000, MaxTime: 100},
	}
}

func (s Manifold1DSettings) Clamp() Manifold1DSettings {
	d := DefaultManifold1D()
	if s.Stability != branch.ManifoldStable {
		s.Stability = branch.ManifoldUnstable
	}
	switch s.Direction {
	case branch.DirectionPlus, branch.DirectionMinus, branch.DirectionBoth:
	default:
		s.Direction = branch.DirectionBoth
	}
	s.Eps = branch.FloorFinite(s.Eps, d.Eps, MinEps)
	s.TargetArclength = branch.FloorFinite(s.TargetArclength, d.TargetArclength, 0)
	s.IntegrationDT = branch.FloorFinite(s.IntegrationDT, d.IntegrationDT, MinDT)
	s.Caps.MaxSteps = max(s.Caps.MaxSteps, 1)
	s.Caps.MaxPoints = max(s.Caps.MaxPoints, 2)
	s.Caps.MaxTime = branch.FloorFinite(s.Caps.MaxTime, d.Caps.MaxTime, s.IntegrationDT)
	return s
}

// Directions expands Both into Plus and Minus, in that order.
func (s Manifold1DSettings) Directions() []branch.ManifoldDirection {
	if s.Direction == branch.DirectionBoth {
		return []branch.ManifoldDirection{branch.DirectionPlus, branch.DirectionMinus}
	}
	return []branch.ManifoldDirection{s.Direction}
}

// Manifold2DSettings drives a 2D equilibrium manifold computation. Every
// numeric field except EigIndices is controlled by the selected profile.
type Manifold2DSettings struct {
	Stability  branch.ManifoldStability `json:"stability" yaml:"stability"`
	Profile    string                   `json:"profile" yaml:"profile"`
	EigIndices []int                    `json:"eig_indices,omitempty" yaml:"eig_indices,omitempty"`

	InitialRadius float64 `json:"initial_radius" yaml:"initial_radius"`
	LeafDelta     float64 `json:"leaf_delta" yaml:"leaf_delta"`
	DeltaMin      float64 `json:"delta_min" yaml:"delta_min"`
	RingPoints    int     `json:"ring_points" yaml:"ring_points"`
	IntegrationDT float64 `json:"integration_dt" yaml:"integration_dt"`
	MinSpacing    float64 `json:"min_spacing" yaml:"min_spacing"`
	MaxSpacing    float64 `json:"max_spacing" yaml:"max_spacing"`
	AlphaMin      float64 `json:"alpha_min" yaml:"alpha_min"`
	AlphaMax      float64 `json:"alpha_max" yaml:"alpha_max"`
	DeltaAlphaMin float64 `json:"delta_alpha_min" yaml:"delta_alpha_min"`
	DeltaAlphaMax float64 `json:"delta_alpha_max" yaml:"delta_alpha_max"`
	MaxSteps      int     `json:"max_steps" yaml:"max_steps"`
	MaxTime       float64 `json:"max_time" yaml:"max_time"`
	MaxRings      int     `json:"max_rings" yaml:"max_rings"`
	MaxVertices   int     `json:"max_vertices" yaml:"max_vertices"`
}

const (
	ProfileLocalPreview   = "local_preview"
	ProfileLorenzGlobalKo = "lorenz_global_ko"
)

// Manifold2DProfiles are the bundled 2D manifold presets.
var Manifold2DProfiles = map[string]Manifold2DSettings{
	ProfileLocalPreview: {
		InitialRadius: 1e-3,
		LeafDelta:     2e-3,
		DeltaMin:      1e-3,
		RingPoints:    48,
		IntegrationDT: 1e-2,
		MinSpacing:    0.00134,
		MaxSpacing:    0.004,
		AlphaMin:      0.3,
		AlphaMax:      0.4,
		DeltaAlphaMin: 0.1,
		DeltaAlphaMax: 1.0,
		MaxSteps:      300,
		MaxTime:       10,
		MaxRings:      40,
		MaxVertices:   20000,
	},
	ProfileLorenzGlobalKo: {
		InitialRadius: 1.0,
		LeafDelta:     1.0,
		DeltaMin:      0.01,
		RingPoints:    20,
		IntegrationDT: 1e-3,
		MinSpacing:    0.25,
		MaxSpacing:    2.0,
		AlphaMin:      0.3,
		AlphaMax:      0.4,
		DeltaAlphaMin: 0.1,
		DeltaAlphaMax: 1.0,
		MaxSteps:      150,
		MaxTime:       50,
		MaxRings:      200,
		MaxVertices:   200000,
	},
}

// ProfileNames lists the bundled profiles in sorted order.
func ProfileNames() []string {
	names := make([]string, 0, len(Manifold2DProfiles))
	for n := range Manifold2DProfiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func DefaultManifold2D() Manifold2DSettings {
	s, _ := Manifold2DSettings{Stability: branch.ManifoldUnstable}.WithProfile(ProfileLocalPreview)
	return s
}

// WithProfile returns s with every profile-controlled field replaced by the
// named profile. Values are overwritten, never merged.
func (s Manifold2DSettings) WithProfile(name string) (Manifold2DSettings, error) {
	p, ok := Manifold2DProfiles[name]
	if !ok {
		return s, fmt.Errorf("unknown manifold profile %q", name)
	}
	p.Stability = s.Stability
	p.EigIndices = append([]int(nil), s.EigIndices...)
	p.Profile = name
	return p, nil
}

func (s Manifold2DSettings) Clamp() Manifold2DSettings {
	d, ok := Manifold2DProfiles[s.Profile]
	if !ok {
		d = Manifold2DProfiles[ProfileLocalPreview]
	}
	if s.Stability != branch.ManifoldStable {
		s.Stability = branch.ManifoldUnstable
	}
	s.InitialRadius = branch.FloorFinite(s.InitialRadius, d.InitialRadius, MinDT)
	s.LeafDelta = branch.FloorFinite(s.LeafDelta, d.LeafDelta, MinDT)
	s.DeltaMin = branch.FloorFinite(s.DeltaMin, d.DeltaMin, MinEps)
	s.IntegrationDT = branch.FloorFinite(s.IntegrationDT, d.IntegrationDT, MinDT)
	s.MinSpacing = branch.FloorFinite(s.MinSpacing, d.MinSpacing, MinEps)
	s.MaxSpacing = branch.FloorFinite(s.MaxSpacing, d.MaxSpacing, s.MinSpacing)
	s.AlphaMin = branch.FloorFinite(s.AlphaMin, d.AlphaMin, MinEps)
	s.AlphaMax = branch.FloorFinite(s.AlphaMax, d.AlphaMax, s.AlphaMin)
	s.DeltaAlphaMin = branch.FloorFinite(s.DeltaAlphaMin, d.DeltaAlphaMin, MinEps)
	s.DeltaAlphaMax = branch.FloorFinite(s.DeltaAlphaMax, d.DeltaAlphaMax, s.DeltaAlphaMin)
	s.RingPoints = max(s.RingPoints, 8)
	s.MaxSteps = max(s.MaxSteps, 1)
	s.MaxRings = max(s.MaxRings, 1)
	s.MaxVertices = max(s.MaxVertices, 64)
	s.MaxTime = branch.FloorFinite(s.MaxTime, d.MaxTime, MinDT)
	return s
}

// Caps is the termination bundle recorded on the branch type.
func (s Manifold2DSettings) Caps() branch.ManifoldCaps {
	return branch.ManifoldCaps{
		MaxSteps:    s.MaxSteps,
		MaxRings:    s.MaxRings,
		MaxVertices: s.MaxVertices,
		MaxTime:     s.MaxTime,
	}
}

// HomotopySettings configures the staged homotopy-saddle setup.
type HomotopySettings struct {
	NTST    int     `json:"ntst" yaml:"ntst"`
	NCOL    int     `json:"ncol" yaml:"ncol"`
	Eps0    float64 `json:"eps0" yaml:"eps0"`
	Eps1    float64 `json:"eps1" yaml:"eps1"`
	Time    float64 `json:"time" yaml:"time"`
	Eps1Tol float64 `json:"eps1_tol" yaml:"eps1_tol"`
}

func DefaultHomotopy() HomotopySettings {
	return HomotopySettings{NTST: 40, NCOL: 4, Eps0: 1e-2, Eps1: 1e-1, Time: 20, Eps1Tol: 1e-4}
}

func (s HomotopySettings) Clamp() HomotopySettings {
	d := DefaultHomotopy()
	s.NTST = max(s.NTST, 2)
	s.NCOL = max(s.NCOL, 1)
	s.Eps0 = branch.FloorFinite(s.Eps0, d.Eps0, MinEps)
	s.Eps1 = branch.FloorFinite(s.Eps1, d.Eps1, MinEps)
	s.Time = branch.FloorFinite(s.Time, d.Time, MinTime)
	s.Eps1Tol = branch.FloorFinite(s.Eps1Tol, d.Eps1Tol, branch.MinTolerance)
	return s
}
