package lineage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
	"github.com/san-kum/dynbranch/internal/eigen"
	"github.com/san-kum/dynbranch/internal/solver"
)

// seed returns the selected point and its resolved, seeded params.
func (r *Resolver) seed(ctx context.Context, op string, sys branch.System, src Source) (branch.Point, []float64, error) {
	p, err := src.Point()
	if err != nil {
		return p, nil, err
	}
	params, err := r.sourceParams(ctx, sys, src, &p)
	if err != nil {
		if errors.Is(err, branch.ErrLineageCycle) {
			return p, nil, branch.Invalid(op, "lineage", err)
		}
		return p, nil, err
	}
	return p, params, nil
}

// continuationParam picks the requested parameter or the source's own.
func continuationParam(op string, sys branch.System, src Source, requested string) (string, int, error) {
	name := requested
	if name == "" {
		name = sourceParam(src)
	}
	if name == "" && len(sys.ParamNames) > 0 {
		name = sys.ParamNames[0]
	}
	i, err := requireParam(op, "parameter", sys, name)
	return name, i, err
}

func sourceParam(src Source) string {
	if src.Branch != nil {
		if p1, _, _, ok := seedNames(src.Branch); ok {
			return p1
		}
		return ""
	}
	if src.Object != nil {
		return src.Object.ParameterName
	}
	return ""
}

// sourceMesh is the collocation mesh of an LC-family source.
func sourceMesh(op string, src Source) (solver.Mesh, error) {
	if src.Branch != nil {
		if ntst, ncol, ok := branch.Mesh(src.Branch.Data.BranchType); ok {
			return solver.Mesh{NTST: ntst, NCOL: ncol}.Clamp(), nil
		}
	} else if src.Object != nil && src.Object.NTST > 0 {
		return solver.Mesh{NTST: src.Object.NTST, NCOL: src.Object.NCOL}.Clamp(), nil
	}
	return solver.Mesh{}, branch.Invalid(op, "source", fmt.Errorf("no collocation mesh on %s source: %w", src.Kind(), branch.ErrSourceMismatch))
}

// cycleState checks a limit cycle state against its mesh. Curve sources
// carry extra unknowns after the cycle and are cut to length.
func cycleState(op string, sys branch.System, src Source, state []float64, m solver.Mesh) ([]float64, error) {
	want := branch.CycleStateLen(sys.Dimension(), m.NTST, m.NCOL)
	switch {
	case len(state) == want:
		return state, nil
	case len(state) > want && src.Kind() != branch.KindLimitCycle:
		return state[:want], nil
	}
	return nil, branch.Invalid(op, "state", fmt.Errorf("cycle state has %d entries, mesh %dx%d needs %d: %w",
		len(state), m.NTST, m.NCOL, want, branch.ErrSourceMismatch))
}

// DeriveEquilibrium continues a new equilibrium branch from an
// equilibrium-family point or an equilibrium object.
func (r *Resolver) DeriveEquilibrium(ctx context.Context, sys branch.System, src Source, req EquilibriumRequest) (*Result, error) {
	const op = "derive equilibrium"
	return r.run(ctx, branch.KindEquilibrium, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		if err := requireAction(op, sys, src, p, classify.NewEquilibriumBranch); err != nil {
			return nil, err
		}
		paramName, _, err := continuationParam(op, sys, src, req.ParameterName)
		if err != nil {
			return nil, err
		}
		parent := src.ParentName()
		if err := r.checkBranchNames(ctx, op, sys.Name, parent, req.Name); err != nil {
			return nil, err
		}

		settings := continuation(req.Settings)
		raw, err := r.solver.ContinueEquilibrium(ctx, solver.EquilibriumRequest{
			Problem:  problem(sys, params, paramName, src.MapIterations()),
			State:    p.State,
			Settings: settings,
			Forward:  req.Forward,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		d, err := normalizeRaw(op, raw, branch.Equilibrium{}, log)
		if err != nil {
			return nil, err
		}
		b := r.newBranch(sys, req.Name, parent, paramName, src, d, settings, params)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
}

// DeriveLimitCycle continues a new limit cycle branch from an LC-family
// point or a limit cycle object.
func (r *Resolver) DeriveLimitCycle(ctx context.Context, sys branch.System, src Source, req LimitCycleRequest) (*Result, error) {
	const op = "derive limit cycle"
	return r.run(ctx, branch.KindLimitCycle, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		if err := requireFlow(op, sys); err != nil {
			return nil, err
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		if err := requireAction(op, sys, src, p, classify.NewLimitCycleBranch); err != nil {
			return nil, err
		}
		paramName, _, err := continuationParam(op, sys, src, req.ParameterName)
		if err != nil {
			return nil, err
		}
		m, err := sourceMesh(op, src)
		if err != nil {
			return nil, err
		}
		state, err := cycleState(op, sys, src, p.State, m)
		if err != nil {
			return nil, err
		}
		parent := src.ParentName()
		if err := r.checkBranchNames(ctx, op, sys.Name, parent, req.Name); err != nil {
			return nil, err
		}

		settings := continuation(req.Settings)
		raw, err := r.solver.ContinueLimitCycle(ctx, solver.LimitCycleRequest{
			Problem: problem(sys, params, paramName, 1),
			Setup: solver.CycleSetup{
				State:      state,
				ParamValue: &p.ParamValue,
				NTST:       m.NTST,
				NCOL:       m.NCOL,
				Period:     state[len(state)-1],
			},
			Settings: settings,
			Forward:  req.Forward,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		d, err := normalizeRaw(op, raw, branch.LimitCycle{NTST: m.NTST, NCOL: m.NCOL}, log)
		if err != nil {
			return nil, err
		}
		b := r.newBranch(sys, req.Name, parent, paramName, src, d, settings, params)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
}

// DeriveLimitCycleFromHopf builds a cycle guess at a Hopf point and
// continues it as a new limit cycle object.
func (r *Resolver) DeriveLimitCycleFromHopf(ctx context.Context, sys branch.System, src Source, req HopfCycleRequest) (*Result, error) {
	const op = "derive limit cycle from hopf"
	return r.run(ctx, branch.KindLimitCycle, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		if err := requireFlow(op, sys); err != nil {
			return nil, err
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		if err := requireAction(op, sys, src, p, classify.InitiateLC); err != nil {
			return nil, err
		}
		paramName, idx, err := continuationParam(op, sys, src, req.ParameterName)
		if err != nil {
			return nil, err
		}
		if err := r.checkNewObject(ctx, op, sys.Name, req.ObjectName, req.BranchName); err != nil {
			return nil, err
		}

		m := mesh(req.Mesh)
		freq, ok := eigen.HopfFrequency(p.Eigenvalues)
		if !ok {
			log.Warn("no complex pair at hopf point, solver picks the frequency")
		}
		pb := problem(sys, params, paramName, 1)
		setup, err := r.solver.LimitCycleFromHopf(ctx, solver.HopfSetupRequest{
			Problem:    pb,
			State:      p.State,
			ParamValue: p.ParamValue,
			Amplitude:  amplitude(req.Amplitude),
			Frequency:  freq,
			NTST:       m.NTST,
			NCOL:       m.NCOL,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		return r.continueNewCycle(ctx, op, sys, src, req.ObjectName, req.BranchName, paramName, idx, params, setup, m, req.Settings, req.Forward, log)
	})
}

// DeriveLimitCycleFromOrbit detects a cycle in a stored orbit and continues
// it as a new limit cycle object.
func (r *Resolver) DeriveLimitCycleFromOrbit(ctx context.Context, sys branch.System, src Source, req OrbitCycleRequest) (*Result, error) {
	const op = "derive limit cycle from orbit"
	return r.run(ctx, branch.KindLimitCycle, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		if err := requireFlow(op, sys); err != nil {
			return nil, err
		}
		obj := src.Object
		if obj == nil || obj.Kind != branch.ObjectOrbit || obj.Orbit == nil ||
			len(obj.Orbit.Times) < 2 || len(obj.Orbit.Times) != len(obj.Orbit.States) {
			return nil, branch.Invalid(op, "object", fmt.Errorf("not an orbit with a sampled trajectory: %w", branch.ErrSourceMismatch))
		}
		paramName, idx, err := continuationParam(op, sys, src, req.ParameterName)
		if err != nil {
			return nil, err
		}
		if err := r.checkNewObject(ctx, op, sys.Name, req.ObjectName, req.BranchName); err != nil {
			return nil, err
		}

		params := append([]float64(nil), sys.Params...)
		if len(obj.Params) == len(sys.Params) {
			params = append([]float64(nil), obj.Params...)
		}
		tol := req.Tolerance
		if tol == 0 {
			tol = defaultOrbitTolerance
		}
		m := mesh(req.Mesh)
		setup, err := r.solver.LimitCycleFromOrbit(ctx, solver.OrbitSetupRequest{
			Problem:    problem(sys, params, paramName, 1),
			Times:      obj.Orbit.Times,
			States:     obj.Orbit.States,
			ParamValue: params[idx],
			Tolerance:  branch.FloorFinite(tol, defaultOrbitTolerance, branch.MinTolerance),
			NTST:       m.NTST,
			NCOL:       m.NCOL,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		return r.continueNewCycle(ctx, op, sys, src, req.ObjectName, req.BranchName, paramName, idx, params, setup, m, req.Settings, req.Forward, log)
	})
}

// DerivePeriodDoubled branches from a period-doubling point. On maps the
// new object is the fixed point of the doubled iterate; on flows it is the
// doubled limit cycle.
func (r *Resolver) DerivePeriodDoubled(ctx context.Context, sys branch.System, src Source, req PeriodDoublingRequest) (*Result, error) {
	const op = "derive period doubled"
	kind := branch.KindLimitCycle
	if sys.Type == branch.Map {
		kind = branch.KindEquilibrium
	}
	return r.run(ctx, kind, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		if err := requireAction(op, sys, src, p, classify.BranchToPD); err != nil {
			return nil, err
		}
		paramName, idx, err := continuationParam(op, sys, src, "")
		if err != nil {
			return nil, err
		}
		if sys.Type == branch.Map {
			if err := r.checkNewObject(ctx, op, sys.Name, req.ObjectName, req.BranchName); err != nil {
				return nil, err
			}
			return r.doubleMapCycle(ctx, op, sys, src, req, p, paramName, params, log)
		}

		m, err := sourceMesh(op, src)
		if err != nil {
			return nil, err
		}
		state, err := cycleState(op, sys, src, p.State, m)
		if err != nil {
			return nil, err
		}
		if err := r.checkNewObject(ctx, op, sys.Name, req.ObjectName, req.BranchName); err != nil {
			return nil, err
		}
		setup, err := r.solver.PeriodDoubledGuess(ctx, solver.PDSetupRequest{
			Problem:    problem(sys, params, paramName, 1),
			State:      state,
			ParamValue: p.ParamValue,
			Amplitude:  amplitude(req.Amplitude),
			NTST:       m.NTST,
			NCOL:       m.NCOL,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		return r.continueNewCycle(ctx, op, sys, src, req.ObjectName, req.BranchName, paramName, idx, params, setup, m, req.Settings, req.Forward, log)
	})
}

func (r *Resolver) doubleMapCycle(ctx context.Context, op string, sys branch.System, src Source, req PeriodDoublingRequest,
	p branch.Point, paramName string, params []float64, log *slog.Logger) (*Result, error) {
	iterations := src.MapIterations()
	doubled := 2 * iterations

	setup, err := r.solver.PeriodDoubledGuess(ctx, solver.PDSetupRequest{
		Problem:     problem(sys, params, paramName, iterations),
		State:       p.State,
		ParamValue:  p.ParamValue,
		Amplitude:   amplitude(req.Amplitude),
		CyclePoints: p.CyclePoints,
	})
	if err != nil {
		return nil, solverFailed(op, err)
	}
	settings := continuation(req.Settings)
	raw, err := r.solver.ContinueEquilibrium(ctx, solver.EquilibriumRequest{
		Problem:  problem(sys, params, paramName, doubled),
		State:    setup.State,
		Settings: settings,
		Forward:  req.Forward,
	})
	if err != nil {
		return nil, solverFailed(op, err)
	}
	d, err := normalizeRaw(op, raw, branch.Equilibrium{}, log)
	if err != nil {
		return nil, err
	}
	if len(d.Points) == 0 {
		return nil, &branch.SolverError{Op: op, Wrapped: branch.ErrEmptyBranch}
	}

	obj := &branch.Object{
		Name:          req.ObjectName,
		SystemName:    sys.Name,
		Kind:          branch.ObjectEquilibrium,
		Params:        append([]float64(nil), params...),
		ParameterName: paramName,
		Solution:      solutionFrom(d.Points[0]),
		MapIterations: doubled,
		StartObject:   src.Name(),
		Timestamp:     r.now().UTC(),
	}
	b := r.newBranch(sys, req.BranchName, req.ObjectName, paramName, src, d, settings, params)
	b.MapIterations = doubled
	return &Result{Objects: []*branch.Object{obj}, Branches: []*branch.Branch{b}}, nil
}

// solutionFrom snapshots a point as an object solution. Residual and
// iteration counts are unknown and left zero.
func solutionFrom(p branch.Point) *branch.Solution {
	sol := &branch.Solution{
		State:       append([]float64(nil), p.State...),
		CyclePoints: p.Clone().CyclePoints,
	}
	for _, ev := range p.Eigenvalues {
		sol.Eigenpairs = append(sol.Eigenpairs, branch.EigenPair{Value: ev, Vector: []branch.Complex{}})
	}
	return sol
}

// continueNewCycle continues setup and packages the limit cycle object it
// seeds together with its first branch.
func (r *Resolver) continueNewCycle(ctx context.Context, op string, sys branch.System, src Source, objectName, branchName, paramName string,
	idx int, params []float64, setup *solver.CycleSetup, m solver.Mesh, s branch.Settings, forward bool, log *slog.Logger) (*Result, error) {
	if setup == nil || len(setup.State) == 0 {
		return nil, &branch.SolverError{Op: op, Wrapped: errors.New("empty cycle setup")}
	}
	if setup.NTST == 0 {
		setup.NTST, setup.NCOL = m.NTST, m.NCOL
	}
	params = append([]float64(nil), params...)
	if setup.ParamValue != nil {
		params[idx] = *setup.ParamValue
	}
	setup.ParamValue = &params[idx]

	settings := continuation(s)
	raw, err := r.solver.ContinueLimitCycle(ctx, solver.LimitCycleRequest{
		Problem:  problem(sys, params, paramName, 1),
		Setup:    *setup,
		Settings: settings,
		Forward:  forward,
	})
	if err != nil {
		return nil, solverFailed(op, err)
	}
	d, err := normalizeRaw(op, raw, branch.LimitCycle{NTST: setup.NTST, NCOL: setup.NCOL}, log)
	if err != nil {
		return nil, err
	}

	obj := &branch.Object{
		Name:          objectName,
		SystemName:    sys.Name,
		Kind:          branch.ObjectLimitCycle,
		Params:        params,
		ParameterName: paramName,
		Solution: &branch.Solution{
			State:       append([]float64(nil), setup.State...),
			CyclePoints: setup.CyclePoints,
		},
		NTST:        setup.NTST,
		NCOL:        setup.NCOL,
		StartObject: src.Name(),
		Timestamp:   r.now().UTC(),
	}
	b := r.newBranch(sys, branchName, objectName, paramName, src, d, settings, params)
	return &Result{Objects: []*branch.Object{obj}, Branches: []*branch.Branch{b}}, nil
}

// checkNewObject validates the names of a new object and its first branch.
func (r *Resolver) checkNewObject(ctx context.Context, op, system, object, branchName string) error {
	if err := r.checkObjectName(ctx, op, system, object); err != nil {
		return err
	}
	return r.checkBranchNames(ctx, op, system, object, branchName)
}
