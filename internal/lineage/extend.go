package lineage

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/eigen"
	"github.com/san-kum/dynbranch/internal/indexing"
	"github.com/san-kum/dynbranch/internal/solver"
)

// Extend continues a stored branch past its last (forward) or first
// (backward) logical point and saves the merged branch under the same name.
func (r *Resolver) Extend(ctx context.Context, sys branch.System, object, name string, req ExtendRequest) (*branch.Branch, error) {
	const op = "extend"
	res, err := r.run(ctx, op, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		b, err := r.store.LoadBranch(ctx, sys.Name, object, name)
		if err != nil {
			return nil, err
		}
		end, err := indexing.Endpoint(&b.Data, req.Forward)
		if err != nil {
			return nil, branch.Invalid(op, "branch", err)
		}
		params, err := r.ResolveParams(ctx, sys, b)
		if err != nil {
			if errors.Is(err, branch.ErrLineageCycle) {
				return nil, branch.Invalid(op, "lineage", err)
			}
			return nil, err
		}
		wire, err := toWire(&b.Data)
		if err != nil {
			return nil, err
		}

		settings := b.Settings
		if req.Settings != (branch.Settings{}) {
			settings = req.Settings
		}
		settings = continuation(settings)
		raw, err := r.solver.Extend(ctx, solver.ExtendRequest{
			Problem:  branchProblem(sys, b, params),
			Branch:   wire,
			Endpoint: end,
			Settings: settings,
			Forward:  req.Forward,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		if raw == nil {
			return nil, &branch.SolverError{Op: op, Wrapped: errors.New("empty result")}
		}

		pts, bifs := extensionPoints(raw)
		if !req.Forward {
			slices.Reverse(pts)
			for i, bf := range bifs {
				bifs[i] = len(pts) - 1 - bf
			}
		}
		before := len(b.Data.Points)
		if req.Forward {
			indexing.Append(&b.Data, pts, bifs)
		} else {
			indexing.Prepend(&b.Data, pts, bifs)
		}
		b.Settings = settings
		b.Timestamp = r.now().UTC()
		log.Debug("extended branch", "branch", name, "forward", req.Forward, "added", len(b.Data.Points)-before)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Branches[0], nil
}

// extensionPoints drops the echoed seed point and rebases the bifurcation
// positions onto what remains.
func extensionPoints(raw *solver.RawBranch) ([]branch.Point, []int) {
	if len(raw.Points) <= 1 {
		return nil, nil
	}
	pts := make([]branch.Point, 0, len(raw.Points)-1)
	for _, rp := range raw.Points[1:] {
		pts = append(pts, fromRaw(rp))
	}
	bifs := make([]int, 0, len(raw.Bifurcations))
	for _, bf := range raw.Bifurcations {
		if bf >= 1 && bf < len(raw.Points) {
			bifs = append(bifs, bf-1)
		}
	}
	return pts, bifs
}

func toWire(d *branch.Data) (solver.WireBranch, error) {
	tag, err := branch.MarshalType(d.BranchType)
	if err != nil {
		return solver.WireBranch{}, err
	}
	w := solver.WireBranch{
		Points:       make([]solver.WirePoint, len(d.Points)),
		Indices:      append([]int(nil), indexing.EnsureIndices(d)...),
		Bifurcations: append([]int{}, d.Bifurcations...),
		BranchType:   tag,
	}
	for i, p := range d.Points {
		w.Points[i] = solver.WirePoint{
			State:       p.State,
			ParamValue:  p.ParamValue,
			Param2Value: p.Param2Value,
			Stability:   string(p.Stability),
			Eigenvalues: solver.Tuples(eigen.Denormalize(p.Eigenvalues)),
			CyclePoints: p.CyclePoints,
		}
	}
	return w, nil
}

// branchProblem is the solver context of an existing branch.
func branchProblem(sys branch.System, b *branch.Branch, params []float64) solver.Problem {
	p1, p2, two := ParamNames(b)
	pb := problem(sys, params, p1, b.MapIterations)
	if two {
		pb.Param2Name = p2
	}
	return pb
}

// HydrateEigenvalues fills in missing or placeholder eigenvalues on a
// stored branch and returns how many points were updated.
func (r *Resolver) HydrateEigenvalues(ctx context.Context, sys branch.System, object, name string) (int, error) {
	const op = "hydrate"
	updated := 0
	_, err := r.run(ctx, op, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		b, err := r.store.LoadBranch(ctx, sys.Name, object, name)
		if err != nil {
			return nil, err
		}
		base, err := r.ResolveParams(ctx, sys, b)
		if err != nil {
			if errors.Is(err, branch.ErrLineageCycle) {
				return nil, branch.Invalid(op, "lineage", err)
			}
			return nil, err
		}
		p1, p2, _, seeded := seedNames(b)
		i1, i2 := sys.ParamIndex(p1), sys.ParamIndex(p2)

		for pos := range b.Data.Points {
			p := &b.Data.Points[pos]
			if !p.NeedsEigenvalues() {
				continue
			}
			params := append([]float64(nil), base...)
			if seeded && i1 >= 0 {
				params[i1] = p.ParamValue
			}
			if seeded && i2 >= 0 && p.Param2Value != nil {
				params[i2] = *p.Param2Value
			}
			raw, err := r.solver.Eigenvalues(ctx, solver.EigenRequest{
				Problem:     branchProblem(sys, b, params),
				Kind:        b.Kind(),
				State:       p.State,
				ParamValue:  p.ParamValue,
				Param2Value: p.Param2Value,
			})
			if err != nil {
				return nil, solverFailed(op, err)
			}
			if ev := eigen.Normalize(raw); len(ev) > 0 {
				p.Eigenvalues = ev
				updated++
			}
		}
		if updated == 0 {
			return &Result{}, nil
		}
		log.Debug("hydrated eigenvalues", "branch", name, "points", updated)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
	if err != nil {
		return 0, err
	}
	return updated, nil
}
