package lineage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
	"github.com/san-kum/dynbranch/internal/eigen"
	"github.com/san-kum/dynbranch/internal/solver"
)

type curveSpec struct {
	action classify.Action
	kind   string
	cycle  bool
}

var curveSpecs = map[solver.CurveKind]curveSpec{
	solver.CurveFold: {classify.ContinueFoldCurve, branch.KindFoldCurve, false},
	solver.CurveHopf: {classify.ContinueHopfCurve, branch.KindHopfCurve, false},
	solver.CurveLPC:  {classify.ContinueLPCCurve, branch.KindLPCCurve, true},
	solver.CurvePD:   {classify.ContinuePDCurve, branch.KindPDCurve, true},
	solver.CurveNS:   {classify.ContinueNSCurve, branch.KindNSCurve, true},
}

// curveType is the branch type stored when the solver sets none.
func curveType(k solver.CurveKind, p1, p2 string, m solver.Mesh) branch.Type {
	switch k {
	case solver.CurveFold:
		return branch.FoldCurve{Param1Name: p1, Param2Name: p2}
	case solver.CurveHopf:
		return branch.HopfCurve{Param1Name: p1, Param2Name: p2}
	case solver.CurveLPC:
		return branch.LPCCurve{Param1Name: p1, Param2Name: p2, NTST: m.NTST, NCOL: m.NCOL}
	case solver.CurvePD:
		return branch.PDCurve{Param1Name: p1, Param2Name: p2, NTST: m.NTST, NCOL: m.NCOL}
	default:
		return branch.NSCurve{Param1Name: p1, Param2Name: p2, NTST: m.NTST, NCOL: m.NCOL}
	}
}

// secondParam checks that the system has two parameters and that name is a
// second one distinct from first.
func secondParam(op string, sys branch.System, first, name string) (int, error) {
	if len(sys.ParamNames) < 2 {
		return -1, branch.Invalid(op, "system", fmt.Errorf("%d parameters: %w", len(sys.ParamNames), branch.ErrInsufficientParams))
	}
	i, err := requireParam(op, "param2", sys, name)
	if err != nil {
		return -1, err
	}
	if name == first {
		return -1, branch.Invalid(op, "param2", fmt.Errorf("%q is already the first parameter: %w", name, branch.ErrSourceMismatch))
	}
	return i, nil
}

// DeriveCurve continues a two-parameter codim-1 curve from a bifurcation
// point. The new branch is stored next to the source branch.
func (r *Resolver) DeriveCurve(ctx context.Context, sys branch.System, src Source, req CurveRequest) (*Result, error) {
	const op = "derive curve"
	spec, known := curveSpecs[req.Kind]
	kind := spec.kind
	if !known {
		kind = "curve"
	}
	return r.run(ctx, kind, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		p, params, err := r.seed(ctx, op, sys, src)
		if err != nil {
			return nil, err
		}
		if err := requireAction(op, sys, src, p, spec.action); err != nil {
			return nil, err
		}
		p1, _, err := continuationParam(op, sys, src, "")
		if err != nil {
			return nil, err
		}
		i2, err := secondParam(op, sys, p1, req.Param2Name)
		if err != nil {
			return nil, err
		}

		creq := solver.CurveRequest{
			Kind:        req.Kind,
			State:       p.State,
			ParamValue:  p.ParamValue,
			Param2Value: params[i2],
			Settings:    continuation(req.Settings),
			Forward:     req.Forward,
		}
		var m solver.Mesh
		if spec.cycle {
			if m, err = sourceMesh(op, src); err != nil {
				return nil, err
			}
			creq.NTST, creq.NCOL = m.NTST, m.NCOL
		}
		if req.Kind == solver.CurveHopf {
			freq, ok := eigen.HopfFrequency(p.Eigenvalues)
			if !ok {
				return nil, branch.Invalid(op, "eigenvalues", fmt.Errorf("no complex pair at hopf point, hydrate eigenvalues first: %w", branch.ErrSourceMismatch))
			}
			creq.Frequency = freq
		}
		parent := src.ParentName()
		if err := r.checkBranchNames(ctx, op, sys.Name, parent, req.Name); err != nil {
			return nil, err
		}

		creq.Problem = problem(sys, params, p1, src.MapIterations())
		creq.Problem.Param2Name = req.Param2Name
		raw, err := r.solver.ContinueCurve(ctx, creq)
		if err != nil {
			return nil, solverFailed(op, err)
		}
		d, err := normalizeRaw(op, raw, curveType(req.Kind, p1, req.Param2Name, m), log)
		if err != nil {
			return nil, err
		}
		b := r.newBranch(sys, req.Name, parent, twoParamName(p1, req.Param2Name), src, d, creq.Settings, params)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
}

// DeriveHomotopySaddle runs the staged homotopy from a saddle equilibrium
// to a homoclinic orbit. Only the final stage is stored.
func (r *Resolver) DeriveHomotopySaddle(ctx context.Context, sys branch.System, src Source, req HomotopyRequest) (*Result, error) {
	const op = "derive homotopy saddle"
	return r.run(ctx, branch.KindHomotopySaddle, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
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
		if classify.FamilyOf(src.Kind()) != classify.FamilyEquilibrium {
			return nil, branch.Invalid(op, "source", fmt.Errorf("homotopy needs an equilibrium, got %s: %w", src.Kind(), branch.ErrNotEligible))
		}
		p1, _, err := continuationParam(op, sys, src, "")
		if err != nil {
			return nil, err
		}
		if _, err := secondParam(op, sys, p1, req.Param2Name); err != nil {
			return nil, err
		}
		parent := src.ParentName()
		if err := r.checkBranchNames(ctx, op, sys.Name, parent, req.Name); err != nil {
			return nil, err
		}

		setup := homotopy(req.Setup)
		settings := continuation(req.Settings)
		pb := problem(sys, params, p1, 1)
		pb.Param2Name = req.Param2Name
		raw, err := r.solver.HomotopySaddle(ctx, solver.HomotopyRequest{
			Problem:  pb,
			State:    p.State,
			Setup:    setup,
			Settings: settings,
			Forward:  req.Forward,
		})
		if err != nil {
			return nil, solverFailed(op, err)
		}
		final := branch.HomotopySaddleCurve{NTST: setup.NTST, NCOL: setup.NCOL}
		d, err := normalizeRaw(op, raw, final, log)
		if err != nil {
			return nil, err
		}
		if t, ok := d.BranchType.(branch.HomotopySaddleCurve); ok && t.NTST > 0 {
			final.NTST, final.NCOL = t.NTST, t.NCOL
		}
		final.Param1Name, final.Param2Name = p1, req.Param2Name
		final.Stage = branch.StageD
		d.BranchType = final

		b := r.newBranch(sys, req.Name, parent, twoParamName(p1, req.Param2Name), src, d, settings, params)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
}
