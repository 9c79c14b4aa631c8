package lineage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/san-kum/dynbranch/internal/branch"
)

// ResolveParams returns the parameter vector b was computed with.
//
// b.Params is used when its length matches the system. Otherwise the
// startObject chain is walked: first a branch under StartParent, then a
// sibling branch under the same parent, then an object of that name. When
// the chain ends without a consistent vector the live system params are
// returned. A chain that revisits a record or exceeds the depth bound fails
// with ErrLineageCycle.
func (r *Resolver) ResolveParams(ctx context.Context, sys branch.System, b *branch.Branch) ([]float64, error) {
	n := len(sys.Params)
	visited := make(map[string]bool)
	cur := b
	for depth := 0; cur != nil; depth++ {
		if depth >= r.maxDepth {
			return nil, fmt.Errorf("branch %q: lineage deeper than %d: %w", b.Name, r.maxDepth, branch.ErrLineageCycle)
		}
		key := "branch:" + cur.ParentObject + "/" + cur.Name
		if visited[key] {
			return nil, fmt.Errorf("branch %q: revisits %s: %w", b.Name, key, branch.ErrLineageCycle)
		}
		visited[key] = true

		if n > 0 && len(cur.Params) == n {
			return append([]float64(nil), cur.Params...), nil
		}
		if cur.StartObject == "" {
			break
		}

		next, err := r.lineageBranch(ctx, sys.Name, cur)
		if err != nil {
			return nil, err
		}
		if next != nil {
			cur = next
			continue
		}

		key = "object:" + cur.StartObject
		if visited[key] {
			return nil, fmt.Errorf("branch %q: revisits %s: %w", b.Name, key, branch.ErrLineageCycle)
		}
		visited[key] = true
		obj, err := r.store.LoadObject(ctx, sys.Name, cur.StartObject)
		if err != nil && !errors.Is(err, branch.ErrNotFound) {
			return nil, err
		}
		if obj != nil && n > 0 && len(obj.Params) == n {
			return append([]float64(nil), obj.Params...), nil
		}
		break
	}
	return append([]float64(nil), sys.Params...), nil
}

// lineageBranch finds the branch cur.StartObject refers to, or nil.
func (r *Resolver) lineageBranch(ctx context.Context, system string, cur *branch.Branch) (*branch.Branch, error) {
	parents := make([]string, 0, 2)
	if cur.StartParent != "" {
		parents = append(parents, cur.StartParent)
	}
	if cur.ParentObject != "" && cur.ParentObject != cur.StartParent {
		parents = append(parents, cur.ParentObject)
	}
	for _, parent := range parents {
		if parent == cur.ParentObject && cur.StartObject == cur.Name {
			continue
		}
		next, err := r.store.LoadBranch(ctx, system, parent, cur.StartObject)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, branch.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// sourceParams resolves the params for a derivation from src and writes the
// selected point's parameter values over the source continuation parameters.
func (r *Resolver) sourceParams(ctx context.Context, sys branch.System, src Source, p *branch.Point) ([]float64, error) {
	if src.Branch == nil {
		params := append([]float64(nil), sys.Params...)
		if src.Object != nil && len(src.Object.Params) == len(sys.Params) {
			params = append([]float64(nil), src.Object.Params...)
		}
		if src.Object != nil {
			if i := sys.ParamIndex(src.Object.ParameterName); i >= 0 {
				p.ParamValue = params[i]
			}
		}
		return params, nil
	}

	params, err := r.ResolveParams(ctx, sys, src.Branch)
	if err != nil {
		return nil, err
	}
	p1, p2, _, ok := seedNames(src.Branch)
	if !ok {
		return params, nil
	}
	if i := sys.ParamIndex(p1); i >= 0 {
		params[i] = p.ParamValue
	}
	if p2 != "" && p.Param2Value != nil {
		if i := sys.ParamIndex(p2); i >= 0 {
			params[i] = *p.Param2Value
		}
	}
	return params, nil
}

// seedNames reports the continuation parameter names of b. Manifold
// branches are parameterized by arclength and report false.
func seedNames(b *branch.Branch) (p1, p2 string, twoParam, ok bool) {
	switch b.Data.BranchType.(type) {
	case branch.ManifoldEq1D, branch.ManifoldEq2D:
		return "", "", false, false
	}
	p1, p2, twoParam = ParamNames(b)
	return p1, p2, twoParam, p1 != ""
}

// ParamNames returns the continuation parameter names of b. For the
// two-parameter curve kinds both names come from the branch type, with p1
// and p2 standing in for missing ones.
func ParamNames(b *branch.Branch) (p1, p2 string, twoParam bool) {
	switch t := b.Data.BranchType.(type) {
	case branch.FoldCurve:
		return orDefault(t.Param1Name, b, 0), orDefault(t.Param2Name, b, 1), true
	case branch.HopfCurve:
		return orDefault(t.Param1Name, b, 0), orDefault(t.Param2Name, b, 1), true
	case branch.LPCCurve:
		return orDefault(t.Param1Name, b, 0), orDefault(t.Param2Name, b, 1), true
	case branch.PDCurve:
		return orDefault(t.Param1Name, b, 0), orDefault(t.Param2Name, b, 1), true
	case branch.NSCurve:
		return orDefault(t.Param1Name, b, 0), orDefault(t.Param2Name, b, 1), true
	case branch.HomotopySaddleCurve:
		return orDefault(t.Param1Name, b, 0), orDefault(t.Param2Name, b, 1), true
	}
	return b.ParameterName, "", false
}

// orDefault falls back to the matching half of a "p1, p2" parameterName
// and then to the generic name.
func orDefault(name string, b *branch.Branch, i int) string {
	if name != "" {
		return name
	}
	if parts := strings.Split(b.ParameterName, ","); len(parts) == 2 {
		if s := strings.TrimSpace(parts[i]); s != "" {
			return s
		}
	}
	return "p" + strconv.Itoa(i+1)
}

func twoParamName(p1, p2 string) string {
	return p1 + ", " + p2
}

// PointLabel renders the parameter values of p the way b names them.
func PointLabel(b *branch.Branch, p branch.Point) string {
	p1, p2, two := ParamNames(b)
	if p1 == "" {
		p1 = "param"
	}
	label := p1 + "=" + formatValue(p.ParamValue)
	if two {
		v := "n/a"
		if p.Param2Value != nil {
			v = formatValue(*p.Param2Value)
		}
		label += ", " + p2 + "=" + v
	}
	return label
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}
