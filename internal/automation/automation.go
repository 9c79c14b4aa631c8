// Package automation runs scripted derivation sequences.
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/config"
	"github.com/san-kum/dynbranch/internal/lineage"
	"github.com/san-kum/dynbranch/internal/storage"
)

// Action names one scripted step.
type Action string

const (
	ActionEquilibrium Action = "equilibrium"
	ActionLimitCycle  Action = "limit-cycle"
	ActionHopfCycle   Action = "hopf-lc"
	ActionOrbitCycle  Action = "orbit-lc"
	ActionCurve       Action = "curve"
	ActionPD          Action = "pd"
	ActionManifold1D  Action = "manifold1d"
	ActionManifold2D  Action = "manifold2d"
	ActionHomotopy    Action = "homotopy"
	ActionExtend      Action = "extend"
	ActionHydrate     Action = "hydrate"
)

var ErrUnknownAction = errors.New("automation: unknown action")

var actions = map[Action]bool{
	ActionEquilibrium: true, ActionLimitCycle: true, ActionHopfCycle: true,
	ActionOrbitCycle: true, ActionCurve: true, ActionPD: true,
	ActionManifold1D: true, ActionManifold2D: true, ActionHomotopy: true,
	ActionExtend: true, ActionHydrate: true,
}

// Script is a sequence of derivations over one system.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	System      string `yaml:"system"`

	// Preset names the continuation settings used by steps that set none.
	Preset string `yaml:"preset"`
	Steps  []Step `yaml:"steps"`
}

// Step is a single derivation. With carries the request for Action and is
// decoded into the matching lineage request type.
type Step struct {
	Action Action    `yaml:"action"`
	From   From      `yaml:"from"`
	Preset string    `yaml:"preset"`
	With   yaml.Node `yaml:"with"`
}

// From selects the source: an object, or a point on one of its branches.
// At picks the first point in traversal order with that stability and
// takes precedence over Index.
type From struct {
	Object string `yaml:"object"`
	Branch string `yaml:"branch"`
	Index  int    `yaml:"index"`
	At     string `yaml:"at"`
}

// StepResult records what one step wrote.
type StepResult struct {
	Step     int
	Action   Action
	Objects  []string
	Branches []string
	Points   int
}

// LoadScript loads a script from a YAML file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if len(s.Steps) == 0 {
		return nil, errors.New("automation: script has no steps")
	}
	for i, step := range s.Steps {
		if !actions[step.Action] {
			return nil, fmt.Errorf("step %d: %w: %q", i+1, ErrUnknownAction, step.Action)
		}
	}
	return &s, nil
}

type Runner struct {
	resolver *lineage.Resolver
	store    storage.Store
	logger   *slog.Logger
}

func NewRunner(resolver *lineage.Resolver, st storage.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{resolver: resolver, store: st, logger: logger}
}

// Run executes the steps in order and stops at the first failure. The
// results of the steps that completed are returned with the error.
func (r *Runner) Run(ctx context.Context, sys branch.System, script *Script) ([]StepResult, error) {
	if script.System != "" && script.System != sys.Name {
		return nil, fmt.Errorf("script is for system %q, not %q", script.System, sys.Name)
	}
	results := make([]StepResult, 0, len(script.Steps))
	for i, step := range script.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r.logger.Info("running step", "step", i+1, "of", len(script.Steps), "action", step.Action)

		preset := step.Preset
		if preset == "" {
			preset = script.Preset
		}
		res, err := r.runStep(ctx, sys, step, preset)
		if err != nil {
			return results, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		res.Step = i + 1
		res.Action = step.Action
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runStep(ctx context.Context, sys branch.System, step Step, preset string) (StepResult, error) {
	settings, err := presetSettings(preset)
	if err != nil {
		return StepResult{}, err
	}

	switch step.Action {
	case ActionExtend:
		var req lineage.ExtendRequest
		if err := decode(step.With, &req); err != nil {
			return StepResult{}, err
		}
		fill(&req.Settings, settings)
		b, err := r.resolver.Extend(ctx, sys, step.From.Object, step.From.Branch, req)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Branches: []string{b.Name}, Points: len(b.Data.Points)}, nil
	case ActionHydrate:
		n, err := r.resolver.HydrateEigenvalues(ctx, sys, step.From.Object, step.From.Branch)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Branches: []string{step.From.Branch}, Points: n}, nil
	}

	src, err := r.source(ctx, sys, step.From)
	if err != nil {
		return StepResult{}, err
	}
	res, err := r.derive(ctx, sys, src, step, settings)
	if err != nil {
		return StepResult{}, err
	}
	return summarize(res), nil
}

func (r *Runner) derive(ctx context.Context, sys branch.System, src lineage.Source, step Step, settings branch.Settings) (*lineage.Result, error) {
	switch step.Action {
	case ActionEquilibrium:
		var req lineage.EquilibriumRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DeriveEquilibrium(ctx, sys, src, req)
	case ActionLimitCycle:
		var req lineage.LimitCycleRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DeriveLimitCycle(ctx, sys, src, req)
	case ActionHopfCycle:
		var req lineage.HopfCycleRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DeriveLimitCycleFromHopf(ctx, sys, src, req)
	case ActionOrbitCycle:
		var req lineage.OrbitCycleRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DeriveLimitCycleFromOrbit(ctx, sys, src, req)
	case ActionCurve:
		var req lineage.CurveRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DeriveCurve(ctx, sys, src, req)
	case ActionPD:
		var req lineage.PeriodDoublingRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DerivePeriodDoubled(ctx, sys, src, req)
	case ActionManifold1D:
		var req lineage.Manifold1DRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		return r.resolver.DeriveManifold1D(ctx, sys, src, req)
	case ActionManifold2D:
		var req lineage.Manifold2DRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		return r.resolver.DeriveManifold2D(ctx, sys, src, req)
	case ActionHomotopy:
		var req lineage.HomotopyRequest
		if err := decode(step.With, &req); err != nil {
			return nil, err
		}
		fill(&req.Settings, settings)
		return r.resolver.DeriveHomotopySaddle(ctx, sys, src, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, step.Action)
	}
}

// source resolves From, looking up the At stability when it is set.
func (r *Runner) source(ctx context.Context, sys branch.System, from From) (lineage.Source, error) {
	idx := from.Index
	if from.At != "" && from.Branch != "" {
		b, err := r.store.LoadBranch(ctx, sys.Name, from.Object, from.Branch)
		if err != nil {
			return lineage.Source{}, err
		}
		idx, err = firstWith(b, branch.ParseStability(from.At))
		if err != nil {
			return lineage.Source{}, err
		}
	}
	return r.resolver.Source(ctx, sys.Name, from.Object, from.Branch, idx)
}

func firstWith(b *branch.Branch, st branch.Stability) (int, error) {
	for _, row := range storage.Rows(b) {
		if row.Stability == st {
			return row.Logical, nil
		}
	}
	return 0, fmt.Errorf("branch %q has no %s point: %w", b.Name, st, branch.ErrNotFound)
}

func decode(n yaml.Node, v any) error {
	if n.Kind == 0 {
		return nil
	}
	return n.Decode(v)
}

func presetSettings(name string) (branch.Settings, error) {
	if name == "" {
		return branch.Settings{}, nil
	}
	s := config.GetPreset(name)
	if s == nil {
		return branch.Settings{}, fmt.Errorf("unknown preset %q", name)
	}
	return *s, nil
}

// fill sets s to preset when the step left it empty.
func fill(s *branch.Settings, preset branch.Settings) {
	if *s == (branch.Settings{}) {
		*s = preset
	}
}

func summarize(res *lineage.Result) StepResult {
	var out StepResult
	for _, o := range res.Objects {
		out.Objects = append(out.Objects, o.Name)
	}
	for _, b := range res.Branches {
		out.Branches = append(out.Branches, b.Name)
		out.Points += len(b.Data.Points)
	}
	return out
}
