package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/config"
	"github.com/san-kum/dynbranch/internal/lineage"
	"github.com/san-kum/dynbranch/internal/solver"
	"github.com/san-kum/dynbranch/internal/storage"
	"github.com/san-kum/dynbranch/internal/telemetry"
)

var lorenz = branch.System{
	Name:       "lorenz",
	Type:       branch.Flow,
	ParamNames: []string{"rho", "sigma", "beta"},
	Params:     []float64{28, 10, 2.667},
	Equations:  []string{"sigma*(y-x)", "x*(rho-z)-y", "x*y-beta*z"},
	VarNames:   []string{"x", "y", "z"},
}

var errUnsupported = errors.New("stub: unsupported")

// stubSolver answers the calls a Hopf walkthrough makes.
type stubSolver struct {
	equilibria []solver.EquilibriumRequest
}

func (s *stubSolver) ContinueEquilibrium(_ context.Context, req solver.EquilibriumRequest) (*solver.RawBranch, error) {
	s.equilibria = append(s.equilibria, req)
	return &solver.RawBranch{
		Points: []solver.RawPoint{
			{State: []float64{1, 1, 1}, ParamValue: 20, Stability: "Stable", Eigenvalues: [][2]float64{{-1, 0}}},
			{State: []float64{2, 2, 2}, ParamValue: 24.7, Stability: "Hopf", Eigenvalues: [][2]float64{{0, 9.6}, {0, -9.6}, {-13.6, 0}}},
			{State: []float64{3, 3, 3}, ParamValue: 26, Stability: "Unstable", Eigenvalues: [][2]float64{{1, 0}}},
		},
		Bifurcations: []int{1},
	}, nil
}

func (s *stubSolver) ContinueLimitCycle(_ context.Context, req solver.LimitCycleRequest) (*solver.RawBranch, error) {
	return &solver.RawBranch{
		Points: []solver.RawPoint{
			{State: req.Setup.State, ParamValue: *req.Setup.ParamValue, Stability: "Stable"},
			{State: req.Setup.State, ParamValue: *req.Setup.ParamValue + 0.1, Stability: "Stable"},
		},
	}, nil
}

func (s *stubSolver) ContinueCurve(context.Context, solver.CurveRequest) (*solver.RawBranch, error) {
	return nil, errUnsupported
}

func (s *stubSolver) Manifold1D(context.Context, solver.Manifold1DRequest) ([]solver.RawBranch, error) {
	return nil, errUnsupported
}

func (s *stubSolver) Manifold2D(context.Context, solver.Manifold2DRequest) (*solver.RawBranch, error) {
	return nil, errUnsupported
}

func (s *stubSolver) HomotopySaddle(context.Context, solver.HomotopyRequest) (*solver.RawBranch, error) {
	return nil, errUnsupported
}

func (s *stubSolver) LimitCycleFromHopf(_ context.Context, req solver.HopfSetupRequest) (*solver.CycleSetup, error) {
	return &solver.CycleSetup{State: []float64{1, 2, 3}, ParamValue: &req.ParamValue, NTST: req.NTST, NCOL: req.NCOL, Period: 0.65}, nil
}

func (s *stubSolver) LimitCycleFromOrbit(context.Context, solver.OrbitSetupRequest) (*solver.CycleSetup, error) {
	return nil, errUnsupported
}

func (s *stubSolver) PeriodDoubledGuess(context.Context, solver.PDSetupRequest) (*solver.CycleSetup, error) {
	return nil, errUnsupported
}

func (s *stubSolver) Extend(_ context.Context, req solver.ExtendRequest) (*solver.RawBranch, error) {
	seed := req.Branch.Points[req.Endpoint]
	return &solver.RawBranch{
		Points: []solver.RawPoint{
			{State: seed.State, ParamValue: seed.ParamValue, Stability: seed.Stability},
			{State: seed.State, ParamValue: seed.ParamValue + 1, Stability: "Unstable"},
			{State: seed.State, ParamValue: seed.ParamValue + 2, Stability: "Unstable"},
		},
	}, nil
}

func (s *stubSolver) Eigenvalues(context.Context, solver.EigenRequest) (any, error) {
	return [][2]float64{{-1, 0}}, nil
}

const walkthrough = `
name: lorenz-hopf
system: lorenz
preset: coarse
steps:
  - action: equilibrium
    from: {object: eq1}
    with: {name: eq1_rho, parameter: rho}
  - action: hopf-lc
    from: {object: eq1, branch: eq1_rho, at: Hopf}
    with: {object: lc1, name: lc1_rho}
  - action: extend
    from: {object: eq1, branch: eq1_rho}
    with: {forward: true}
  - action: hydrate
    from: {object: eq1, branch: eq1_rho}
`

func newRunner(t *testing.T) (*Runner, storage.Store, *stubSolver) {
	t.Helper()
	st := storage.NewMemStore(nil)
	obj := &branch.Object{
		Name: "eq1", SystemName: "lorenz", Kind: branch.ObjectEquilibrium,
		Params: []float64{28, 10, 2.667}, ParameterName: "rho",
		Solution: &branch.Solution{State: []float64{0, 0, 0}},
	}
	if err := st.SaveObject(context.Background(), "lorenz", obj); err != nil {
		t.Fatal(err)
	}
	s := &stubSolver{}
	r := lineage.New(st, s, lineage.WithLogger(telemetry.Discard()))
	return NewRunner(r, st, telemetry.Discard()), st, s
}

func TestRunScript(t *testing.T) {
	runner, st, stub := newRunner(t)
	script, err := ParseScript([]byte(walkthrough))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	results, err := runner.Run(context.Background(), lorenz, script)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}

	tests := []struct {
		action   Action
		objects  int
		branches string
		points   int
	}{
		{ActionEquilibrium, 0, "eq1_rho", 3},
		{ActionHopfCycle, 1, "lc1_rho", 2},
		{ActionExtend, 0, "eq1_rho", 5},
		// the stub extends without eigenvalues, so hydrate fills both new points
		{ActionHydrate, 0, "eq1_rho", 2},
	}
	for i, tt := range tests {
		got := results[i]
		if got.Step != i+1 || got.Action != tt.action {
			t.Errorf("result %d: got step %d action %s", i, got.Step, got.Action)
		}
		if len(got.Objects) != tt.objects {
			t.Errorf("%s: expected %d objects, got %v", tt.action, tt.objects, got.Objects)
		}
		if len(got.Branches) != 1 || got.Branches[0] != tt.branches {
			t.Errorf("%s: expected branch %s, got %v", tt.action, tt.branches, got.Branches)
		}
		if got.Points != tt.points {
			t.Errorf("%s: expected %d points, got %d", tt.action, tt.points, got.Points)
		}
	}

	lc, err := st.LoadBranch(context.Background(), "lorenz", "lc1", "lc1_rho")
	if err != nil {
		t.Fatalf("load derived cycle: %v", err)
	}
	if lc.StartObject != "eq1_rho" {
		t.Errorf("cycle should start from eq1_rho, got %q", lc.StartObject)
	}

	if len(stub.equilibria) != 1 {
		t.Fatalf("expected one equilibrium call, got %d", len(stub.equilibria))
	}
	if got := stub.equilibria[0].Settings.StepSize; got != config.Presets["coarse"].StepSize {
		t.Errorf("script preset should apply, got step size %v", got)
	}
}

func TestStepPresetOverridesScript(t *testing.T) {
	runner, _, stub := newRunner(t)
	script := &Script{
		Preset: "coarse",
		Steps:  []Step{{Action: ActionEquilibrium, From: From{Object: "eq1"}, Preset: "fine"}},
	}
	mustDecode(t, &script.Steps[0], "name: eq1_rho")

	if _, err := runner.Run(context.Background(), lorenz, script); err != nil {
		t.Fatal(err)
	}
	if got := stub.equilibria[0].Settings.StepSize; got != config.Presets["fine"].StepSize {
		t.Errorf("step preset should win, got %v", got)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	runner, _, _ := newRunner(t)
	script, err := ParseScript([]byte(`
steps:
  - action: equilibrium
    from: {object: eq1}
    with: {name: eq1_rho}
  - action: hopf-lc
    from: {object: eq1, branch: eq1_rho, at: PeriodDoubling}
    with: {object: lc1, name: lc1_rho}
  - action: extend
    from: {object: eq1, branch: eq1_rho}
`))
	if err != nil {
		t.Fatal(err)
	}

	results, err := runner.Run(context.Background(), lorenz, script)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, branch.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "step 2 (hopf-lc)") {
		t.Errorf("error should name the step: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("completed steps should be returned, got %d", len(results))
	}
}

func TestRunValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(error) bool
	}{
		{
			"invalid name",
			"steps:\n  - action: equilibrium\n    from: {object: eq1}\n    with: {name: \"bad name\"}\n",
			branch.IsValidation,
		},
		{
			"unknown preset",
			"preset: turbo\nsteps:\n  - action: equilibrium\n    from: {object: eq1}\n    with: {name: eq1_rho}\n",
			func(err error) bool { return strings.Contains(err.Error(), "unknown preset") },
		},
		{
			"unsupported solver call",
			"steps:\n  - action: manifold1d\n    from: {object: eq1}\n    with: {name: wu}\n",
			branch.IsSolver,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, _, _ := newRunner(t)
			script, err := ParseScript([]byte(tt.script))
			if err != nil {
				t.Fatal(err)
			}
			_, err = runner.Run(context.Background(), lorenz, script)
			if err == nil || !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestRunSystemMismatch(t *testing.T) {
	runner, _, _ := newRunner(t)
	script := &Script{System: "henon", Steps: []Step{{Action: ActionHydrate}}}
	if _, err := runner.Run(context.Background(), lorenz, script); err == nil {
		t.Error("expected system mismatch error")
	}
}

func TestParseScript_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no steps", "name: empty\n"},
		{"unknown action", "steps:\n  - action: teleport\n"},
		{"missing action", "steps:\n  - from: {object: eq1}\n"},
		{"not yaml", "steps: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScript([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.yaml")
	if err := os.WriteFile(path, []byte(walkthrough), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScript(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "lorenz-hopf" || len(s.Steps) != 4 || s.Steps[1].From.At != "Hopf" {
		t.Errorf("unexpected script %+v", s)
	}
}

func mustDecode(t *testing.T, step *Step, with string) {
	t.Helper()
	s, err := ParseScript([]byte("steps:\n  - action: equilibrium\n    with: {" + with + "}\n"))
	if err != nil {
		t.Fatal(err)
	}
	step.With = s.Steps[0].With
}
