// Package lineage derives new continuation branches and objects from points
// on existing ones.
//
// Every derivation runs the same pipeline: resolve the parameter vector from
// the source's lineage, override the seed parameters with the selected point,
// validate the new names, call the solver, normalize its output and commit the
// new records to the store in one changeset. Validation failures happen before
// the solver is called. Nothing is stored unless the solver succeeds.
package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/eigen"
	"github.com/san-kum/dynbranch/internal/indexing"
	"github.com/san-kum/dynbranch/internal/solver"
	"github.com/san-kum/dynbranch/internal/storage"
	"github.com/san-kum/dynbranch/internal/telemetry"
)

// DefaultMaxDepth bounds startObject walks.
const DefaultMaxDepth = 64

// Resolver runs derivations against a store and a solver.
type Resolver struct {
	store    storage.Store
	solver   solver.Solver
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	maxDepth int
}

type Option func(*Resolver)

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithMaxDepth(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.maxDepth = n
		}
	}
}

func New(store storage.Store, s solver.Solver, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		solver:   s,
		logger:   slog.Default(),
		now:      time.Now,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source is the selected starting point of a derivation. Branch is nil when
// the derivation starts from the object itself (an equilibrium solution or
// an orbit).
type Source struct {
	Object *branch.Object
	Branch *branch.Branch
	// Index is the logical index of the selected point on Branch.
	Index int
}

// Source loads the object and, when branchName is set, the branch and
// checks that logical is a point on it.
func (r *Resolver) Source(ctx context.Context, system, object, branchName string, logical int) (Source, error) {
	var src Source
	obj, err := r.store.LoadObject(ctx, system, object)
	switch {
	case err == nil:
		src.Object = obj
	case errors.Is(err, branch.ErrNotFound) && branchName != "":
		// branches may be stored under an object name with no object record
	default:
		return src, err
	}
	if branchName == "" {
		return src, nil
	}
	b, err := r.store.LoadBranch(ctx, system, object, branchName)
	if err != nil {
		return src, err
	}
	src.Branch = b
	src.Index = logical
	if _, err := src.Point(); err != nil {
		return src, err
	}
	return src, nil
}

// ParentName is the object new sibling branches are stored under.
func (s Source) ParentName() string {
	if s.Branch != nil {
		return s.Branch.ParentObject
	}
	if s.Object != nil {
		return s.Object.Name
	}
	return ""
}

// Name is the startObject recorded on records derived from s.
func (s Source) Name() string {
	if s.Branch != nil {
		return s.Branch.Name
	}
	if s.Object != nil {
		return s.Object.Name
	}
	return ""
}

// Kind is the coarse branch kind of the source, with objects mapped to the
// kind of branch their solution seeds.
func (s Source) Kind() string {
	if s.Branch != nil {
		return s.Branch.Kind()
	}
	if s.Object != nil && s.Object.Kind == branch.ObjectLimitCycle {
		return branch.KindLimitCycle
	}
	return branch.KindEquilibrium
}

// MapIterations of the source, at least 1.
func (s Source) MapIterations() int {
	n := 0
	if s.Branch != nil {
		n = s.Branch.MapIterations
	} else if s.Object != nil {
		n = s.Object.MapIterations
	}
	return max(n, 1)
}

// Point returns the selected point. For object sources it is built from the
// stored solution and carries no parameter value.
func (s Source) Point() (branch.Point, error) {
	if s.Branch == nil {
		if s.Object == nil || s.Object.Solution == nil {
			return branch.Point{}, branch.Invalid("source", "object", branch.ErrSourceMismatch)
		}
		p := branch.Point{
			State:       append([]float64(nil), s.Object.Solution.State...),
			Stability:   branch.StabilityNone,
			CyclePoints: s.Object.Solution.CyclePoints,
		}
		for _, ep := range s.Object.Solution.Eigenpairs {
			p.Eigenvalues = append(p.Eigenvalues, ep.Value)
		}
		return p, nil
	}
	d := &s.Branch.Data
	if len(d.Points) == 0 {
		return branch.Point{}, branch.Invalid("source", "branch", branch.ErrEmptyBranch)
	}
	pos, ok := indexing.LogicalToStorage(indexing.EnsureIndices(d))[s.Index]
	if !ok {
		return branch.Point{}, branch.Invalid("source", "index", fmt.Errorf("no point with logical index %d: %w", s.Index, branch.ErrSourceMismatch))
	}
	return d.Points[pos].Clone(), nil
}

// Result holds the records one derivation created.
type Result struct {
	Objects  []*branch.Object
	Branches []*branch.Branch
}

func (res *Result) changeset() storage.Changeset {
	return storage.Changeset{Objects: res.Objects, Branches: res.Branches}
}

func (res *Result) points() int {
	n := 0
	for _, b := range res.Branches {
		n += len(b.Data.Points)
	}
	return n
}

// run wraps one derivation with a run id, timing, metrics and the final
// commit. fn must not touch the store for writing.
func (r *Resolver) run(ctx context.Context, kind string, sys branch.System, fn func(ctx context.Context, log *slog.Logger) (*Result, error)) (*Result, error) {
	log := telemetry.WithRunID(r.logger, uuid.NewString()).With("kind", kind, "system", sys.Name)
	ctx = telemetry.WithLogger(ctx, log)
	start := time.Now()

	res, err := fn(ctx, log)
	if err == nil && !res.changeset().Empty() {
		err = r.store.Commit(ctx, sys.Name, res.changeset())
		if err != nil {
			err = fmt.Errorf("%s: persist: %w", kind, err)
		}
	}
	elapsed := time.Since(start)
	if err != nil {
		outcome := outcomeOf(err)
		r.metrics.Observe(kind, outcome, elapsed)
		log.Error("derivation failed", "outcome", outcome, "error", err)
		return nil, err
	}

	r.metrics.Observe(kind, telemetry.OutcomeOK, elapsed)
	for _, b := range res.Branches {
		r.metrics.Persisted(b.Kind(), len(b.Data.Points))
	}
	log.Info("derivation stored",
		"objects", len(res.Objects),
		"branches", len(res.Branches),
		"points", res.points(),
		"elapsed", elapsed)
	return res, nil
}

func outcomeOf(err error) string {
	switch {
	case branch.IsValidation(err):
		return telemetry.OutcomeValidation
	case branch.IsSolver(err):
		return telemetry.OutcomeSolver
	default:
		return telemetry.OutcomeStore
	}
}

// normalizeRaw converts a solver result into stored branch data. The
// solver's own branch type tag wins when it decodes; otherwise def is used.
func normalizeRaw(op string, raw *solver.RawBranch, def branch.Type, log *slog.Logger) (branch.Data, error) {
	if raw == nil {
		return branch.Data{}, &branch.SolverError{Op: op, Wrapped: errors.New("empty result")}
	}
	d := branch.Data{
		Points:       make([]branch.Point, len(raw.Points)),
		Indices:      append([]int(nil), raw.Indices...),
		Bifurcations: append([]int(nil), raw.Bifurcations...),
		BranchType:   def,
	}
	for i, rp := range raw.Points {
		d.Points[i] = fromRaw(rp)
	}
	if t, ok := solverType(raw.BranchType, log); ok {
		d.BranchType = t
	}
	if rep := indexing.Repair(&d); rep.Changed() {
		log.Warn("repaired solver output",
			"regenerated_indices", rep.RegeneratedIndices,
			"dropped_bifurcations", rep.DroppedBifurcations)
	}
	return d, nil
}

func fromRaw(rp solver.RawPoint) branch.Point {
	p := branch.Point{
		State:       rp.State,
		ParamValue:  rp.ParamValue,
		Stability:   branch.ParseStability(rp.Stability),
		Eigenvalues: eigen.Normalize(rp.Eigenvalues),
		CyclePoints: rp.CyclePoints,
	}
	if rp.Param2Value != nil {
		v := *rp.Param2Value
		p.Param2Value = &v
	}
	return p
}

// solverType decodes the tag the solver set. An absent tag reports false.
func solverType(raw []byte, log *slog.Logger) (branch.Type, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, false
	}
	t, err := branch.UnmarshalType(raw)
	if err != nil {
		log.Warn("ignoring solver branch type", "error", err)
		return nil, false
	}
	if _, isDefault := t.(branch.Equilibrium); isDefault && !hasTag(raw) {
		return nil, false
	}
	return t, true
}

func hasTag(raw []byte) bool {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return head.Type != ""
}

// newBranch fills the bookkeeping fields shared by every derived branch.
func (r *Resolver) newBranch(sys branch.System, name, parent, paramName string, src Source, d branch.Data, settings branch.Settings, params []float64) *branch.Branch {
	b := &branch.Branch{
		Name:          name,
		SystemName:    sys.Name,
		ParameterName: paramName,
		ParentObject:  parent,
		StartObject:   src.Name(),
		Data:          d,
		Settings:      settings,
		Params:        append([]float64(nil), params...),
		MapIterations: src.MapIterations(),
		Timestamp:     r.now().UTC(),
	}
	if src.Branch != nil && src.Branch.ParentObject != parent {
		b.StartParent = src.Branch.ParentObject
	}
	if sys.Type != branch.Map {
		b.MapIterations = 0
	}
	b.BranchType = b.Kind()
	return b
}

func problem(sys branch.System, params []float64, paramName string, mapIterations int) solver.Problem {
	p := solver.Problem{
		System:    sys,
		Params:    params,
		ParamName: paramName,
	}
	if sys.Type == branch.Map {
		p.MapIterations = max(mapIterations, 1)
	}
	return p
}

func solverFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	if branch.IsSolver(err) {
		return err
	}
	return &branch.SolverError{Op: op, Wrapped: err}
}
