package lineage

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/solver"
)

// scriptedSolver records every request and answers from its hooks, or with
// a small default branch when a hook is not set.
type scriptedSolver struct {
	mu    sync.Mutex
	calls []string
	last  map[string]any
	err   error

	equilibrium func(solver.EquilibriumRequest) (*solver.RawBranch, error)
	cycle       func(solver.LimitCycleRequest) (*solver.RawBranch, error)
	curve       func(solver.CurveRequest) (*solver.RawBranch, error)
	manifold1D  func(solver.Manifold1DRequest) ([]solver.RawBranch, error)
	homotopy    func(solver.HomotopyRequest) (*solver.RawBranch, error)
	extend      func(solver.ExtendRequest) (*solver.RawBranch, error)
	eigen       func(solver.EigenRequest) (any, error)
	setup       *solver.CycleSetup
}

func newScriptedSolver() *scriptedSolver {
	return &scriptedSolver{last: map[string]any{}}
}

func (s *scriptedSolver) record(method string, req any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, method)
	s.last[method] = req
	return s.err
}

func (s *scriptedSolver) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func rawBranch(n int, stability string) *solver.RawBranch {
	raw := &solver.RawBranch{Bifurcations: []int{}}
	for i := 0; i < n; i++ {
		raw.Points = append(raw.Points, solver.RawPoint{
			State:       []float64{float64(i), 0, 0},
			ParamValue:  float64(i) / 10,
			Stability:   stability,
			Eigenvalues: [][2]float64{{-1, 0}},
		})
	}
	return raw
}

func tagged(raw *solver.RawBranch, t branch.Type) *solver.RawBranch {
	tag, _ := branch.MarshalType(t)
	raw.BranchType = json.RawMessage(tag)
	return raw
}

func (s *scriptedSolver) ContinueEquilibrium(_ context.Context, req solver.EquilibriumRequest) (*solver.RawBranch, error) {
	if err := s.record("equilibrium", req); err != nil {
		return nil, err
	}
	if s.equilibrium != nil {
		return s.equilibrium(req)
	}
	return rawBranch(3, "Stable"), nil
}

func (s *scriptedSolver) ContinueLimitCycle(_ context.Context, req solver.LimitCycleRequest) (*solver.RawBranch, error) {
	if err := s.record("limit_cycle", req); err != nil {
		return nil, err
	}
	if s.cycle != nil {
		return s.cycle(req)
	}
	return rawBranch(4, "Stable"), nil
}

func (s *scriptedSolver) ContinueCurve(_ context.Context, req solver.CurveRequest) (*solver.RawBranch, error) {
	if err := s.record("curve", req); err != nil {
		return nil, err
	}
	if s.curve != nil {
		return s.curve(req)
	}
	raw := rawBranch(3, "None")
	for i := range raw.Points {
		v := req.Param2Value + float64(i)
		raw.Points[i].Param2Value = &v
	}
	return raw, nil
}

func (s *scriptedSolver) Manifold1D(_ context.Context, req solver.Manifold1DRequest) ([]solver.RawBranch, error) {
	if err := s.record("manifold_1d", req); err != nil {
		return nil, err
	}
	if s.manifold1D != nil {
		return s.manifold1D(req)
	}
	n := 1
	if req.Settings.Direction == branch.DirectionBoth {
		n = 2
	}
	out := make([]solver.RawBranch, n)
	for i := range out {
		out[i] = *rawBranch(5, "None")
	}
	return out, nil
}

func (s *scriptedSolver) Manifold2D(_ context.Context, req solver.Manifold2DRequest) (*solver.RawBranch, error) {
	if err := s.record("manifold_2d", req); err != nil {
		return nil, err
	}
	return rawBranch(6, "None"), nil
}

func (s *scriptedSolver) HomotopySaddle(_ context.Context, req solver.HomotopyRequest) (*solver.RawBranch, error) {
	if err := s.record("homotopy", req); err != nil {
		return nil, err
	}
	if s.homotopy != nil {
		return s.homotopy(req)
	}
	return rawBranch(3, "None"), nil
}

func ptr(v float64) *float64 { return &v }

func (s *scriptedSolver) cycleSetup() *solver.CycleSetup {
	if s.setup != nil {
		c := *s.setup
		return &c
	}
	return &solver.CycleSetup{State: []float64{1, 2, 3}, ParamValue: ptr(24.5), NTST: 20, NCOL: 4, Period: 0.6}
}

func (s *scriptedSolver) LimitCycleFromHopf(_ context.Context, req solver.HopfSetupRequest) (*solver.CycleSetup, error) {
	if err := s.record("hopf_setup", req); err != nil {
		return nil, err
	}
	return s.cycleSetup(), nil
}

func (s *scriptedSolver) LimitCycleFromOrbit(_ context.Context, req solver.OrbitSetupRequest) (*solver.CycleSetup, error) {
	if err := s.record("orbit_setup", req); err != nil {
		return nil, err
	}
	return s.cycleSetup(), nil
}

func (s *scriptedSolver) PeriodDoubledGuess(_ context.Context, req solver.PDSetupRequest) (*solver.CycleSetup, error) {
	if err := s.record("pd_setup", req); err != nil {
		return nil, err
	}
	return s.cycleSetup(), nil
}

func (s *scriptedSolver) Extend(_ context.Context, req solver.ExtendRequest) (*solver.RawBranch, error) {
	if err := s.record("extend", req); err != nil {
		return nil, err
	}
	if s.extend != nil {
		return s.extend(req)
	}
	return rawBranch(3, "Stable"), nil
}

func (s *scriptedSolver) Eigenvalues(_ context.Context, req solver.EigenRequest) (any, error) {
	if err := s.record("eigenvalues", req); err != nil {
		return nil, err
	}
	if s.eigen != nil {
		return s.eigen(req)
	}
	return [][2]float64{{-1, 0}, {-2, 0}, {-3, 0}}, nil
}

var _ solver.Solver = (*scriptedSolver)(nil)
