package lineage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
	"github.com/san-kum/dynbranch/internal/solver"
)

func requireEquilibriumSource(op string, src Source) error {
	if classify.FamilyOf(src.Kind()) != classify.FamilyEquilibrium {
		return branch.Invalid(op, "source", fmt.Errorf("manifolds start at an equilibrium, got %s: %w", src.Kind(), branch.ErrNotEligible))
	}
	return nil
}

// ManifoldNames returns the branch names a 1D manifold request produces,
// in the order of its directions.
func ManifoldNames(base string, dirs []branch.ManifoldDirection) []string {
	if len(dirs) == 1 {
		return []string{base}
	}
	names := make([]string, len(dirs))
	for i, d := range dirs {
		switch d {
		case branch.DirectionPlus:
			names[i] = base + "_plus"
		case branch.DirectionMinus:
			names[i] = base + "_minus"
		default:
			names[i] = fmt.Sprintf("%s_%d", base, i)
		}
	}
	return names
}

// DeriveManifold1D computes the 1D stable or unstable manifold of an
// equilibrium. Every resolved name is checked before the solver runs, so a
// single collision fails the whole request.
func (r *Resolver) DeriveManifold1D(ctx context.Context, sys branch.System, src Source, req Manifold1DRequest) (*Result, error) {
	const op = "derive manifold 1d"
	return r.run(ctx, branch.KindManifoldEq1D, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		if err := requireFlow(op, sys); err != nil {
			return nil, err
		}
		if err := requireEquilibriumSource(op, src); err != nil {
			return nil, err
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		paramName := sourceParam(src)
		if paramName == "" && len(sys.ParamNames) > 0 {
			paramName = sys.ParamNames[0]
		}

		settings := manifold1D(req.Settings)
		dirs := settings.Directions()
		names := ManifoldNames(req.Name, dirs)
		for _, n := range names {
			if !ValidName(n) {
				return nil, branch.Invalid(op, "name", fmt.Errorf("%q: %w", n, branch.ErrInvalidName))
			}
		}
		parent := src.ParentName()
		if err := r.checkBranchNames(ctx, op, sys.Name, parent, names...); err != nil {
			return nil, err
		}

		raws, err := r.solver.Manifold1D(ctx, solver.Manifold1DRequest{
			Problem:  problem(sys, params, paramName, 1),
			State:    p.State,
			Settings: settings,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		if len(raws) == 0 {
			return nil, &branch.SolverError{Op: op, Wrapped: branch.ErrEmptyBranch}
		}

		eigIndex := 0
		if settings.EigIndex != nil {
			eigIndex = *settings.EigIndex
		}
		res := &Result{}
		for i, raw := range matchDirections(raws, dirs, log) {
			if raw == nil {
				log.Warn("solver returned no branch for direction", "direction", dirs[i])
				continue
			}
			def := branch.ManifoldEq1D{
				Stability: settings.Stability,
				Direction: dirs[i],
				EigIndex:  eigIndex,
				Method:    manifold1DMethod,
				Caps:      settings.Caps,
			}
			d, err := normalizeRaw(op, raw, def, log)
			if err != nil {
				return nil, err
			}
			if t, ok := d.BranchType.(branch.ManifoldEq1D); ok {
				if t.Direction == "" {
					t.Direction = dirs[i]
				}
				if t.Method == "" {
					t.Method = manifold1DMethod
				}
				d.BranchType = t
			}
			res.Branches = append(res.Branches, r.newBranch(sys, names[i], parent, arclengthParam, src, d, branch.Settings{}, params))
		}
		return res, nil
	})
}

// matchDirections pairs solver branches with requested directions. A
// branch's own direction tag is used first; the rest are assigned in order.
func matchDirections(raws []solver.RawBranch, dirs []branch.ManifoldDirection, log *slog.Logger) []*solver.RawBranch {
	out := make([]*solver.RawBranch, len(dirs))
	used := make([]bool, len(raws))
	for i := range raws {
		t, ok := solverType(raws[i].BranchType, log)
		if !ok {
			continue
		}
		m, ok := t.(branch.ManifoldEq1D)
		if !ok {
			continue
		}
		for j, d := range dirs {
			if out[j] == nil && m.Direction == d {
				out[j] = &raws[i]
				used[i] = true
				break
			}
		}
	}
	next := 0
	for j := range dirs {
		if out[j] != nil {
			continue
		}
		for next < len(raws) && used[next] {
			next++
		}
		if next == len(raws) {
			break
		}
		out[j] = &raws[next]
		used[next] = true
	}
	return out
}

// DeriveManifold2D computes the 2D manifold of an equilibrium of a flow
// with at least three state variables.
func (r *Resolver) DeriveManifold2D(ctx context.Context, sys branch.System, src Source, req Manifold2DRequest) (*Result, error) {
	const op = "derive manifold 2d"
	return r.run(ctx, branch.KindManifoldEq2D, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		if err := requireFlow(op, sys); err != nil {
			return nil, err
		}
		if sys.Dimension() < 3 {
			return nil, branch.Invalid(op, "system", fmt.Errorf("dimension %d: %w", sys.Dimension(), branch.ErrInsufficientDimension))
		}
		if err := requireEquilibriumSource(op, src); err != nil {
			return nil, err
		}
		settings, err := manifold2D(req.Settings)
		if err != nil {
			return nil, branch.Invalid(op, "profile", fmt.Errorf("%v: %w", err, branch.ErrSourceMismatch))
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		paramName := sourceParam(src)
		if paramName == "" && len(sys.ParamNames) > 0 {
			paramName = sys.ParamNames[0]
		}
		parent := src.ParentName()
		if err := r.checkBranchNames(ctx, op, sys.Name, parent, req.Name); err != nil {
			return nil, err
		}

		raw, err := r.solver.Manifold2D(ctx, solver.Manifold2DRequest{
			Problem:  problem(sys, params, paramName, 1),
			State:    p.State,
			Settings: settings,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		def := branch.ManifoldEq2D{
			Stability:  settings.Stability,
			EigIndices: settings.EigIndices,
			Method:     manifold2DMethod,
			Caps:       settings.Caps(),
		}
		d, err := normalizeRaw(op, raw, def, log)
		if err != nil {
			return nil, err
		}
		b := r.newBranch(sys, req.Name, parent, arclengthParam, src, d, branch.Settings{}, params)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
}
