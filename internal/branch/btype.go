package branch

import (
	"encoding/json"
	"fmt"
)

// Coarse kind strings stored on Branch.BranchType.
const (
	KindEquilibrium    = "equilibrium"
	KindLimitCycle     = "limit_cycle"
	KindManifoldEq1D   = "eq_manifold_1d"
	KindManifoldEq2D   = "eq_manifold_2d"
	KindFoldCurve      = "fold_curve"
	KindHopfCurve      = "hopf_curve"
	KindLPCCurve       = "lpc_curve"
	KindPDCurve        = "pd_curve"
	KindNSCurve        = "ns_curve"
	KindHomotopySaddle = "homotopy_saddle_curve"
)

// Type is the closed set of branch kinds.
type Type interface {
	// Tag is the wire discriminant stored under branch_type.type.
	Tag() string
	isBranchType()
}

type ManifoldStability string

const (
	ManifoldStable   ManifoldStability = "Stable"
	ManifoldUnstable ManifoldStability = "Unstable"
)

type ManifoldDirection string

const (
	DirectionPlus  ManifoldDirection = "Plus"
	DirectionMinus ManifoldDirection = "Minus"
	DirectionBoth  ManifoldDirection = "Both"
)

// ManifoldCaps bounds the work a manifold computation may do.
type ManifoldCaps struct {
	MaxSteps    int     `json:"max_steps" yaml:"max_steps"`
	MaxPoints   int     `json:"max_points" yaml:"max_points"`
	MaxRings    int     `json:"max_rings" yaml:"max_rings"`
	MaxVertices int     `json:"max_vertices" yaml:"max_vertices"`
	MaxTime     float64 `json:"max_time" yaml:"max_time"`
}

type HomotopyStage string

const (
	StageA HomotopyStage = "StageA"
	StageB HomotopyStage = "StageB"
	StageC HomotopyStage = "StageC"
	StageD HomotopyStage = "StageD"
)

type Equilibrium struct{}

type LimitCycle struct {
	NTST int `json:"ntst"`
	NCOL int `json:"ncol"`
}

type ManifoldEq1D struct {
	Stability ManifoldStability `json:"stability"`
	Direction ManifoldDirection `json:"direction"`
	EigIndex  int               `json:"eig_index"`
	Method    string            `json:"method"`
	Caps      ManifoldCaps      `json:"caps"`
}

type ManifoldEq2D struct {
	Stability  ManifoldStability `json:"stability"`
	EigKind    string            `json:"eig_kind,omitempty"`
	EigIndices []int             `json:"eig_indices,omitempty"`
	Method     string            `json:"method"`
	Caps       ManifoldCaps      `json:"caps"`
}

type FoldCurve struct {
	Param1Name string `json:"param1_name,omitempty"`
	Param2Name string `json:"param2_name,omitempty"`
}

type HopfCurve struct {
	Param1Name string `json:"param1_name,omitempty"`
	Param2Name string `json:"param2_name,omitempty"`
}

type LPCCurve struct {
	Param1Name string `json:"param1_name,omitempty"`
	Param2Name string `json:"param2_name,omitempty"`
	NTST       int    `json:"ntst,omitempty"`
	NCOL       int    `json:"ncol,omitempty"`
}

type PDCurve struct {
	Param1Name string `json:"param1_name,omitempty"`
	Param2Name string `json:"param2_name,omitempty"`
	NTST       int    `json:"ntst,omitempty"`
	NCOL       int    `json:"ncol,omitempty"`
}

type NSCurve struct {
	Param1Name string `json:"param1_name,omitempty"`
	Param2Name string `json:"param2_name,omitempty"`
	NTST       int    `json:"ntst,omitempty"`
	NCOL       int    `json:"ncol,omitempty"`
}

type HomotopySaddleCurve struct {
	NTST       int           `json:"ntst"`
	NCOL       int           `json:"ncol"`
	Param1Name string        `json:"param1_name"`
	Param2Name string        `json:"param2_name"`
	Stage      HomotopyStage `json:"stage"`
}

func (Equilibrium) Tag() string         { return "Equilibrium" }
func (LimitCycle) Tag() string          { return "LimitCycle" }
func (ManifoldEq1D) Tag() string        { return "ManifoldEq1D" }
func (ManifoldEq2D) Tag() string        { return "ManifoldEq2D" }
func (FoldCurve) Tag() string           { return "FoldCurve" }
func (HopfCurve) Tag() string           { return "HopfCurve" }
func (LPCCurve) Tag() string            { return "LPCCurve" }
func (PDCurve) Tag() string             { return "PDCurve" }
func (NSCurve) Tag() string             { return "NSCurve" }
func (HomotopySaddleCurve) Tag() string { return "HomotopySaddleCurve" }

func (Equilibrium) isBranchType()         {}
func (LimitCycle) isBranchType()          {}
func (ManifoldEq1D) isBranchType()        {}
func (ManifoldEq2D) isBranchType()        {}
func (FoldCurve) isBranchType()           {}
func (HopfCurve) isBranchType()           {}
func (LPCCurve) isBranchType()            {}
func (PDCurve) isBranchType()             {}
func (NSCurve) isBranchType()             {}
func (HomotopySaddleCurve) isBranchType() {}

// KindOf maps a branch type to its coarse kind string.
func KindOf(t Type) string {
	switch t.(type) {
	case Equilibrium:
		return KindEquilibrium
	case LimitCycle:
		return KindLimitCycle
	case ManifoldEq1D:
		return KindManifoldEq1D
	case ManifoldEq2D:
		return KindManifoldEq2D
	case FoldCurve:
		return KindFoldCurve
	case HopfCurve:
		return KindHopfCurve
	case LPCCurve:
		return KindLPCCurve
	case PDCurve:
		return KindPDCurve
	case NSCurve:
		return KindNSCurve
	case HomotopySaddleCurve:
		return KindHomotopySaddle
	default:
		return KindEquilibrium
	}
}

// Mesh returns the collocation mesh of types that carry one.
func Mesh(t Type) (ntst, ncol int, ok bool) {
	switch v := t.(type) {
	case LimitCycle:
		return v.NTST, v.NCOL, true
	case LPCCurve:
		return v.NTST, v.NCOL, v.NTST > 0
	case PDCurve:
		return v.NTST, v.NCOL, v.NTST > 0
	case NSCurve:
		return v.NTST, v.NCOL, v.NTST > 0
	case HomotopySaddleCurve:
		return v.NTST, v.NCOL, true
	case Equilibrium, ManifoldEq1D, ManifoldEq2D, FoldCurve, HopfCurve:
		return 0, 0, false
	default:
		return 0, 0, false
	}
}

// MarshalType encodes t as a tagged JSON object.
func MarshalType(t Type) ([]byte, error) {
	if t == nil {
		t = Equilibrium{}
	}
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	tag, _ := json.Marshal(t.Tag())
	fields["type"] = tag
	return json.Marshal(fields)
}

// UnmarshalType decodes a tagged JSON object. A missing tag is Equilibrium.
func UnmarshalType(data []byte) (Type, error) {
	if len(data) == 0 || string(data) == "null" {
		return Equilibrium{}, nil
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("branch type: %w", err)
	}
	switch head.Type {
	case "", "Equilibrium":
		return Equilibrium{}, nil
	case "LimitCycle":
		return decodeVariant[LimitCycle](data)
	case "ManifoldEq1D":
		return decodeVariant[ManifoldEq1D](data)
	case "ManifoldEq2D":
		return decodeVariant[ManifoldEq2D](data)
	case "FoldCurve":
		return decodeVariant[FoldCurve](data)
	case "HopfCurve":
		return decodeVariant[HopfCurve](data)
	case "LPCCurve":
		return decodeVariant[LPCCurve](data)
	case "PDCurve":
		return decodeVariant[PDCurve](data)
	case "NSCurve":
		return decodeVariant[NSCurve](data)
	case "HomotopySaddleCurve":
		return decodeVariant[HomotopySaddleCurve](data)
	default:
		return nil, fmt.Errorf("branch type: unknown tag %q", head.Type)
	}
}

func decodeVariant[T Type](data []byte) (Type, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("branch type %s: %w", v.Tag(), err)
	}
	return v, nil
}

type dataWire struct {
	Points       []Point         `json:"points"`
	Indices      []int           `json:"indices,omitempty"`
	Bifurcations []int           `json:"bifurcations"`
	BranchType   json.RawMessage `json:"branch_type,omitempty"`
}

func (d Data) MarshalJSON() ([]byte, error) {
	bt, err := MarshalType(d.BranchType)
	if err != nil {
		return nil, err
	}
	w := dataWire{
		Points:       d.Points,
		Indices:      d.Indices,
		Bifurcations: d.Bifurcations,
		BranchType:   bt,
	}
	if w.Points == nil {
		w.Points = []Point{}
	}
	if w.Bifurcations == nil {
		w.Bifurcations = []int{}
	}
	return json.Marshal(w)
}

func (d *Data) UnmarshalJSON(data []byte) error {
	var w dataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	bt, err := UnmarshalType(w.BranchType)
	if err != nil {
		return err
	}
	d.Points = w.Points
	d.Indices = w.Indices
	d.Bifurcations = w.Bifurcations
	d.BranchType = bt
	return nil
}

// CycleStateLen is the flat state length of a collocated limit cycle:
// ntst mesh states, ntst*ncol stage states and the trailing period.
func CycleStateLen(dim, ntst, ncol int) int {
	return ntst*dim + ntst*ncol*dim + 1
}
