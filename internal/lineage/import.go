package lineage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/solver"
)

// ImportRequest names a solver result computed outside a derivation.
type ImportRequest struct {
	Name string `yaml:"name" validate:"required,identifier"`

	// ParameterName defaults to the object's continuation parameter.
	ParameterName string `yaml:"parameter"`
}

// Import normalizes raw and stores it as a new branch of an existing
// object. Without a branch type tag the branch takes the object's family:
// a limit cycle branch on its mesh, otherwise an equilibrium branch.
func (r *Resolver) Import(ctx context.Context, sys branch.System, object string, req ImportRequest, raw *solver.RawBranch) (*branch.Branch, error) {
	const op = "import"
	res, err := r.run(ctx, op, sys, func(ctx context.Context, log *slog.Logger) (*Result, error) {
		if err := checkRequest(op, req); err != nil {
			return nil, err
		}
		obj, err := r.store.LoadObject(ctx, sys.Name, object)
		if err != nil {
			return nil, err
		}
		src := Source{Object: obj}
		paramName, _, err := continuationParam(op, sys, src, req.ParameterName)
		if err != nil {
			return nil, err
		}
		if raw == nil || len(raw.Points) == 0 {
			return nil, branch.Invalid(op, "raw", fmt.Errorf("no points: %w", branch.ErrEmptyBranch))
		}
		if err := r.checkBranchNames(ctx, op, sys.Name, obj.Name, req.Name); err != nil {
			return nil, err
		}

		var seed branch.Point
		params, err := r.sourceParams(ctx, sys, src, &seed)
		if err != nil {
			return nil, err
		}
		var def branch.Type = branch.Equilibrium{}
		if obj.Kind == branch.ObjectLimitCycle {
			def = branch.LimitCycle{NTST: obj.NTST, NCOL: obj.NCOL}
		}
		d, err := normalizeRaw(op, raw, def, log)
		if err != nil {
			return nil, err
		}
		b := r.newBranch(sys, req.Name, obj.Name, paramName, src, d, branch.Settings{}, params)
		return &Result{Branches: []*branch.Branch{b}}, nil
	})
	if err != nil {
		return nil, err
	}
	return res.Branches[0], nil
}
