// Package solver is the port to the numerical continuation engine.
//
// The engine is opaque: this package only fixes the shapes sent to it and
// received from it. Raw results carry eigen data in whatever wire shape the
// engine emits; callers normalize it with the eigen package.
package solver

import (
	"context"
	"encoding/json"
	"math"
	"strconv"

	"github.com/san-kum/dynbranch/internal/branch"
)

// Solver runs continuation and setup computations.
// Every method blocks until the engine finishes or ctx is done.
type Solver interface {
	ContinueEquilibrium(ctx context.Context, req EquilibriumRequest) (*RawBranch, error)
	ContinueLimitCycle(ctx context.Context, req LimitCycleRequest) (*RawBranch, error)
	ContinueCurve(ctx context.Context, req CurveRequest) (*RawBranch, error)
	Manifold1D(ctx context.Context, req Manifold1DRequest) ([]RawBranch, error)
	Manifold2D(ctx context.Context, req Manifold2DRequest) (*RawBranch, error)
	HomotopySaddle(ctx context.Context, req HomotopyRequest) (*RawBranch, error)

	LimitCycleFromHopf(ctx context.Context, req HopfSetupRequest) (*CycleSetup, error)
	LimitCycleFromOrbit(ctx context.Context, req OrbitSetupRequest) (*CycleSetup, error)
	PeriodDoubledGuess(ctx context.Context, req PDSetupRequest) (*CycleSetup, error)

	Extend(ctx context.Context, req ExtendRequest) (*RawBranch, error)
	Eigenvalues(ctx context.Context, req EigenRequest) (any, error)
}

// Problem is the system and parameter context shared by every request.
type Problem struct {
	System        branch.System `json:"system"`
	Params        []float64     `json:"params"`
	ParamName     string        `json:"param_name"`
	Param2Name    string        `json:"param2_name,omitempty"`
	MapIterations int           `json:"map_iterations,omitempty"`
}

// RawPoint is a point as the engine emits it.
type RawPoint struct {
	State       []float64   `json:"state"`
	ParamValue  float64     `json:"param_value"`
	Param2Value *float64    `json:"param2_value,omitempty"`
	Stability   string      `json:"stability"`
	Eigenvalues any         `json:"eigenvalues,omitempty"`
	CyclePoints [][]float64 `json:"cycle_points,omitempty"`
}

// RawBranch is a continuation result in engine order. BranchType is the
// engine's own tag, left empty when it did not set one.
type RawBranch struct {
	Points       []RawPoint      `json:"points"`
	Indices      []int           `json:"indices,omitempty"`
	Bifurcations []int           `json:"bifurcations"`
	BranchType   json.RawMessage `json:"branch_type,omitempty"`
}

// WirePoint is a stored point in the shape the engine expects back.
type WirePoint struct {
	State       []float64    `json:"state"`
	ParamValue  float64      `json:"param_value"`
	Param2Value *float64     `json:"param2_value,omitempty"`
	Stability   string       `json:"stability"`
	Eigenvalues []EigenTuple `json:"eigenvalues"`
	CyclePoints [][]float64  `json:"cycle_points,omitempty"`
}

// EigenTuple is one eigenvalue as [re, im]. Non-finite parts are written as
// quoted strings ("NaN") so not-yet-computed placeholders survive encoding.
type EigenTuple [2]float64

// Tuples converts [re, im] pairs to their wire form.
func Tuples(pairs [][2]float64) []EigenTuple {
	out := make([]EigenTuple, len(pairs))
	for i, p := range pairs {
		out[i] = EigenTuple(p)
	}
	return out
}

func (t EigenTuple) MarshalJSON() ([]byte, error) {
	return []byte("[" + wireFloat(t[0]) + "," + wireFloat(t[1]) + "]"), nil
}

// UnmarshalJSON accepts numbers or quoted numbers. Missing or unparseable
// parts are 0.
func (t *EigenTuple) UnmarshalJSON(data []byte) error {
	*t = EigenTuple{}
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil
	}
	for i := 0; i < len(parts) && i < 2; i++ {
		t[i] = parseWireFloat(parts[i])
	}
	return nil
}

func wireFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.Quote(s)
	}
	return s
}

func parseWireFloat(raw json.RawMessage) float64 {
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

// WireBranch is stored branch data sent to the engine for extension.
type WireBranch struct {
	Points       []WirePoint     `json:"points"`
	Indices      []int           `json:"indices"`
	Bifurcations []int           `json:"bifurcations"`
	BranchType   json.RawMessage `json:"branch_type"`
}

// CycleSetup is an initial limit cycle guess produced by a setup call.
type CycleSetup struct {
	State []float64 `json:"state"`
	// ParamValue is nil when the engine leaves the parameter unchanged.
	ParamValue *float64 `json:"param_value,omitempty"`
	NTST       int      `json:"ntst"`
	NCOL       int      `json:"ncol"`
	Period     float64  `json:"period"`
	// CyclePoints is set for map cycles instead of a mesh.
	CyclePoints [][]float64 `json:"cycle_points,omitempty"`
}

type EquilibriumRequest struct {
	Problem  Problem         `json:"problem"`
	State    []float64       `json:"state"`
	Settings branch.Settings `json:"settings"`
	Forward  bool            `json:"forward"`
}

type LimitCycleRequest struct {
	Problem  Problem         `json:"problem"`
	Setup    CycleSetup      `json:"setup"`
	Settings branch.Settings `json:"settings"`
	Forward  bool            `json:"forward"`
}

// CurveKind selects a codim-1 curve continuation.
type CurveKind string

const (
	CurveFold CurveKind = "fold"
	CurveHopf CurveKind = "hopf"
	CurveLPC  CurveKind = "lpc"
	CurvePD   CurveKind = "pd"
	CurveNS   CurveKind = "ns"
)

type CurveRequest struct {
	Problem     Problem         `json:"problem"`
	Kind        CurveKind       `json:"kind"`
	State       []float64       `json:"state"`
	ParamValue  float64         `json:"param_value"`
	Param2Value float64         `json:"param2_value"`
	NTST        int             `json:"ntst,omitempty"`
	NCOL        int             `json:"ncol,omitempty"`
	Frequency   float64         `json:"frequency,omitempty"`
	Settings    branch.Settings `json:"settings"`
	Forward     bool            `json:"forward"`
}

type Manifold1DRequest struct {
	Problem  Problem            `json:"problem"`
	State    []float64          `json:"state"`
	Settings Manifold1DSettings `json:"settings"`
}

type Manifold2DRequest struct {
	Problem  Problem            `json:"problem"`
	State    []float64          `json:"state"`
	Settings Manifold2DSettings `json:"settings"`
}

type HomotopyRequest struct {
	Problem  Problem          `json:"problem"`
	State    []float64        `json:"state"`
	Setup    HomotopySettings `json:"setup"`
	Settings branch.Settings  `json:"settings"`
	Forward  bool             `json:"forward"`
}

type HopfSetupRequest struct {
	Problem    Problem   `json:"problem"`
	State      []float64 `json:"state"`
	ParamValue float64   `json:"param_value"`
	Amplitude  float64   `json:"amplitude"`
	// Frequency is the imaginary part of the critical eigenvalue, 0 when unknown.
	Frequency  float64   `json:"frequency,omitempty"`
	NTST       int       `json:"ntst"`
	NCOL       int       `json:"ncol"`
}

type OrbitSetupRequest struct {
	Problem    Problem     `json:"problem"`
	Times      []float64   `json:"times"`
	States     [][]float64 `json:"states"`
	ParamValue float64     `json:"param_value"`
	Tolerance  float64     `json:"tolerance"`
	NTST       int         `json:"ntst"`
	NCOL       int         `json:"ncol"`
}

type PDSetupRequest struct {
	Problem     Problem     `json:"problem"`
	State       []float64   `json:"state"`
	ParamValue  float64     `json:"param_value"`
	Amplitude   float64     `json:"amplitude"`
	NTST        int         `json:"ntst,omitempty"`
	NCOL        int         `json:"ncol,omitempty"`
	CyclePoints [][]float64 `json:"cycle_points,omitempty"`
}

// ExtendRequest continues Branch from the point at storage position
// Endpoint. The engine echoes that point first in its result.
type ExtendRequest struct {
	Problem  Problem         `json:"problem"`
	Branch   WireBranch      `json:"branch"`
	Endpoint int             `json:"endpoint"`
	Settings branch.Settings `json:"settings"`
	Forward  bool            `json:"forward"`
}

type EigenRequest struct {
	Problem     Problem   `json:"problem"`
	Kind        string    `json:"kind"`
	State       []float64 `json:"state"`
	ParamValue  float64   `json:"param_value"`
	Param2Value *float64  `json:"param2_value,omitempty"`
}
