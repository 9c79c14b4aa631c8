package branch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Stability is the label the solver attaches to each point.
type Stability string

const (
	StabilityNone  Stability = "None"
	Stable         Stability = "Stable"
	Unstable       Stability = "Unstable"
	Fold           Stability = "Fold"
	Hopf           Stability = "Hopf"
	NeutralSaddle  Stability = "NeutralSaddle"
	PeriodDoubling Stability = "PeriodDoubling"
	CycleFold      Stability = "CycleFold"
	NeimarkSacker  Stability = "NeimarkSacker"
)

var knownStability = map[Stability]bool{
	StabilityNone: true, Stable: true, Unstable: true, Fold: true, Hopf: true,
	NeutralSaddle: true, PeriodDoubling: true, CycleFold: true, NeimarkSacker: true,
}

// ParseStability maps a wire label to a Stability. Unknown labels are None.
func ParseStability(s string) Stability {
	if knownStability[Stability(s)] {
		return Stability(s)
	}
	return StabilityNone
}

func (s *Stability) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = StabilityNone
		return nil
	}
	*s = ParseStability(raw)
	return nil
}

// IsBifurcation reports whether s marks a codimension-1 bifurcation.
// NeutralSaddle is a test-function artifact, not a bifurcation.
func (s Stability) IsBifurcation() bool {
	switch s {
	case Fold, Hopf, PeriodDoubling, CycleFold, NeimarkSacker:
		return true
	}
	return false
}

// Complex is the canonical eigenvalue (or Floquet multiplier) pair.
type Complex struct {
	Re float64 `json:"re"`
	Im float64 `json:"im"`
}

// IsSentinel reports whether c is the "not yet computed" placeholder.
func (c Complex) IsSentinel() bool {
	return math.IsNaN(c.Re) || math.IsNaN(c.Im)
}

func (c Complex) Abs() float64 {
	return math.Hypot(c.Re, c.Im)
}

// MarshalJSON writes non-finite parts as strings so sentinels survive storage.
func (c Complex) MarshalJSON() ([]byte, error) {
	return []byte(`{"re":` + jsonFloat(c.Re) + `,"im":` + jsonFloat(c.Im) + `}`), nil
}

// UnmarshalJSON accepts {"re","im"} objects, [re, im] tuples and bare reals.
// Parts that cannot be read are 0 so one bad eigenvalue never fails a load.
func (c *Complex) UnmarshalJSON(data []byte) error {
	*c = Complex{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '[':
		var parts []json.RawMessage
		if json.Unmarshal(data, &parts) != nil {
			return nil
		}
		if len(parts) > 0 {
			c.Re = parseJSONFloat(parts[0])
		}
		if len(parts) > 1 {
			c.Im = parseJSONFloat(parts[1])
		}
	case '{':
		var raw struct {
			Re json.RawMessage `json:"re"`
			Im json.RawMessage `json:"im"`
		}
		if json.Unmarshal(data, &raw) != nil {
			return nil
		}
		c.Re = parseJSONFloat(raw.Re)
		c.Im = parseJSONFloat(raw.Im)
	default:
		c.Re = parseJSONFloat(data)
	}
	return nil
}

func jsonFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.Quote(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseJSONFloat(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
	}
	return 0
}

// Point is one sample on a branch.
type Point struct {
	State       []float64   `json:"state"`
	ParamValue  float64     `json:"param_value"`
	Param2Value *float64    `json:"param2_value,omitempty"`
	Stability   Stability   `json:"stability"`
	Eigenvalues []Complex   `json:"eigenvalues,omitempty"`
	CyclePoints [][]float64 `json:"cycle_points,omitempty"`
}

// NeedsEigenvalues reports whether the eigen data is absent or holds sentinels.
func (p *Point) NeedsEigenvalues() bool {
	if len(p.Eigenvalues) == 0 {
		return true
	}
	for _, ev := range p.Eigenvalues {
		if ev.IsSentinel() {
			return true
		}
	}
	return false
}

func (p Point) Clone() Point {
	c := p
	c.State = append([]float64(nil), p.State...)
	c.Eigenvalues = append([]Complex(nil), p.Eigenvalues...)
	if p.Param2Value != nil {
		v := *p.Param2Value
		c.Param2Value = &v
	}
	if p.CyclePoints != nil {
		c.CyclePoints = make([][]float64, len(p.CyclePoints))
		for i, cp := range p.CyclePoints {
			c.CyclePoints[i] = append([]float64(nil), cp...)
		}
	}
	return c
}

// Data is the stored result of one continuation run.
//
// Points are in storage order. Indices[i] is the logical index of Points[i].
// Bifurcations holds storage positions, not logical indices.
type Data struct {
	Points       []Point
	Indices      []int
	Bifurcations []int
	BranchType   Type
}

// Settings is the continuation settings record passed to the solver.
type Settings struct {
	StepSize           float64 `json:"step_size" yaml:"step_size"`
	MinStepSize        float64 `json:"min_step_size" yaml:"min_step_size"`
	MaxStepSize        float64 `json:"max_step_size" yaml:"max_step_size"`
	MaxSteps           int     `json:"max_steps" yaml:"max_steps"`
	CorrectorSteps     int     `json:"corrector_steps" yaml:"corrector_steps"`
	CorrectorTolerance float64 `json:"corrector_tolerance" yaml:"corrector_tolerance"`
	StepTolerance      float64 `json:"step_tolerance" yaml:"step_tolerance"`
}

const (
	MinStep      = 1e-12
	MinTolerance = 1e-14
)

func DefaultSettings() Settings {
	return Settings{
		StepSize:           0.01,
		MinStepSize:        1e-5,
		MaxStepSize:        0.1,
		MaxSteps:           100,
		CorrectorSteps:     4,
		CorrectorTolerance: 1e-6,
		StepTolerance:      1e-6,
	}
}

// Clamp returns s with every field floored to a safe minimum.
// Non-finite values fall back to the defaults.
func (s Settings) Clamp() Settings {
	d := DefaultSettings()
	s.StepSize = floorFinite(s.StepSize, d.StepSize, MinStep)
	s.MinStepSize = floorFinite(s.MinStepSize, d.MinStepSize, MinStep)
	s.MaxStepSize = floorFinite(s.MaxStepSize, d.MaxStepSize, MinStep)
	if s.MinStepSize > s.StepSize {
		s.MinStepSize = s.StepSize
	}
	if s.MaxStepSize < s.StepSize {
		s.MaxStepSize = s.StepSize
	}
	s.MaxSteps = max(s.MaxSteps, 1)
	s.CorrectorSteps = max(s.CorrectorSteps, 1)
	s.CorrectorTolerance = floorFinite(s.CorrectorTolerance, d.CorrectorTolerance, MinTolerance)
	s.StepTolerance = floorFinite(s.StepTolerance, d.StepTolerance, MinTolerance)
	return s
}

// FloorFinite returns v floored at floor, or def when v is NaN or infinite.
func FloorFinite(v, def, floor float64) float64 {
	return floorFinite(v, def, floor)
}

func floorFinite(v, def, floor float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = def
	}
	if v < floor {
		return floor
	}
	return v
}

// Branch is a named, persisted continuation branch.
type Branch struct {
	Name          string    `json:"name"`
	SystemName    string    `json:"systemName"`
	ParameterName string    `json:"parameterName"`
	ParentObject  string    `json:"parentObject"`
	StartObject   string    `json:"startObject,omitempty"`
	StartParent   string    `json:"startParent,omitempty"`
	BranchType    string    `json:"branchType"`
	Data          Data      `json:"data"`
	Settings      Settings  `json:"settings"`
	Params        []float64 `json:"params,omitempty"`
	MapIterations int       `json:"mapIterations,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Kind returns the coarse kind string, derived from Data.BranchType when set.
func (b *Branch) Kind() string {
	if b.Data.BranchType != nil {
		return KindOf(b.Data.BranchType)
	}
	return b.BranchType
}

// ObjectKind distinguishes the objects branches are stored under.
type ObjectKind string

const (
	ObjectEquilibrium ObjectKind = "equilibrium"
	ObjectLimitCycle  ObjectKind = "limit_cycle"
	ObjectOrbit       ObjectKind = "orbit"
)

// EigenPair is an eigenvalue with its eigenvector.
type EigenPair struct {
	Value  Complex   `json:"value"`
	Vector []Complex `json:"vector"`
}

// Solution is the inspectable solution snapshot of an object.
type Solution struct {
	State        []float64   `json:"state"`
	ResidualNorm float64     `json:"residual_norm"`
	Iterations   int         `json:"iterations"`
	Eigenpairs   []EigenPair `json:"eigenpairs,omitempty"`
	CyclePoints  [][]float64 `json:"cycle_points,omitempty"`
}

// Orbit is a sampled trajectory stored on an orbit object.
type Orbit struct {
	Times  []float64   `json:"times"`
	States [][]float64 `json:"states"`
}

// Object is a named equilibrium, limit cycle or orbit owning branches.
type Object struct {
	Name          string     `json:"name"`
	SystemName    string     `json:"systemName"`
	Kind          ObjectKind `json:"kind"`
	Params        []float64  `json:"params,omitempty"`
	ParameterName string     `json:"parameterName,omitempty"`
	Solution      *Solution  `json:"solution,omitempty"`
	Orbit         *Orbit     `json:"orbit,omitempty"`
	MapIterations int        `json:"mapIterations,omitempty"`
	NTST          int        `json:"ntst,omitempty"`
	NCOL          int        `json:"ncol,omitempty"`
	StartObject   string     `json:"startObject,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// SystemType is flow (ODE) or map (iterated map).
type SystemType string

const (
	Flow SystemType = "flow"
	Map  SystemType = "map"
)

// System is the read-only system configuration.
type System struct {
	Name       string     `json:"name" yaml:"name"`
	Type       SystemType `json:"type" yaml:"type"`
	ParamNames []string   `json:"paramNames" yaml:"param_names"`
	Params     []float64  `json:"params" yaml:"params"`
	Equations  []string   `json:"equations" yaml:"equations"`
	VarNames   []string   `json:"varNames" yaml:"var_names"`
}

func (s System) Dimension() int { return len(s.Equations) }

// ParamIndex returns the position of name in ParamNames, or -1.
func (s System) ParamIndex(name string) int {
	for i, n := range s.ParamNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Validate checks the internal consistency of the configuration.
func (s System) Validate() error {
	if s.Type != Flow && s.Type != Map {
		return fmt.Errorf("system %q: unknown type %q", s.Name, s.Type)
	}
	if len(s.Params) != len(s.ParamNames) {
		return fmt.Errorf("system %q: %d params for %d param names", s.Name, len(s.Params), len(s.ParamNames))
	}
	seen := make(map[string]bool, len(s.ParamNames))
	for _, n := range s.ParamNames {
		if seen[n] {
			return fmt.Errorf("system %q: duplicate param name %q", s.Name, n)
		}
		seen[n] = true
	}
	return nil
}
