package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/san-kum/dynbranch/internal/branch"
)

var (
	ErrNoCommand = errors.New("solver: no command configured")
	ErrTimeout   = errors.New("solver: timed out")
)

// ExecConfig describes the external engine process.
type ExecConfig struct {
	// Command is the program and its leading arguments.
	Command []string
	Timeout time.Duration
	Dir     string
	Logger  *slog.Logger
}

// ExecSolver runs one engine process per call. The request is written to
// stdin as {"method": ..., "params": ...}; the engine answers on stdout
// with {"result": ...} or {"error": "..."}.
type ExecSolver struct {
	cfg ExecConfig
}

func NewExec(cfg ExecConfig) (*ExecSolver, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, ErrNoCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ExecSolver{cfg: cfg}, nil
}

type envelope struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type reply struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

func (s *ExecSolver) call(ctx context.Context, method string, params, out any) error {
	body, err := json.Marshal(envelope{Method: method, Params: params})
	if err != nil {
		return &branch.SolverError{Op: method, Wrapped: fmt.Errorf("encode request: %w", err)}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Dir
	cmd.Stdin = bytes.NewReader(body)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	s.cfg.Logger.Debug("solver call",
		slog.String("method", method),
		slog.Duration("duration", time.Since(start)),
		slog.Int("stdout_bytes", stdout.Len()),
	)

	if cmdCtx.Err() == context.DeadlineExceeded {
		return &branch.SolverError{Op: method, Wrapped: ErrTimeout}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if runErr != nil && stdout.Len() == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = runErr.Error()
		}
		return &branch.SolverError{Op: method, Wrapped: errors.New(msg)}
	}

	var r reply
	if err := json.Unmarshal(stdout.Bytes(), &r); err != nil {
		return &branch.SolverError{Op: method, Wrapped: fmt.Errorf("decode reply: %w", err)}
	}
	if r.Error != "" {
		return &branch.SolverError{Op: method, Wrapped: errors.New(r.Error)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return &branch.SolverError{Op: method, Wrapped: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

func (s *ExecSolver) ContinueEquilibrium(ctx context.Context, req EquilibriumRequest) (*RawBranch, error) {
	var out RawBranch
	if err := s.call(ctx, "continue_equilibrium", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) ContinueLimitCycle(ctx context.Context, req LimitCycleRequest) (*RawBranch, error) {
	var out RawBranch
	if err := s.call(ctx, "continue_limit_cycle", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) ContinueCurve(ctx context.Context, req CurveRequest) (*RawBranch, error) {
	var out RawBranch
	if err := s.call(ctx, "continue_"+string(req.Kind)+"_curve", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) Manifold1D(ctx context.Context, req Manifold1DRequest) ([]RawBranch, error) {
	var out []RawBranch
	if err := s.call(ctx, "manifold_eq_1d", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ExecSolver) Manifold2D(ctx context.Context, req Manifold2DRequest) (*RawBranch, error) {
	var out RawBranch
	if err := s.call(ctx, "manifold_eq_2d", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) HomotopySaddle(ctx context.Context, req HomotopyRequest) (*RawBranch, error) {
	var out RawBranch
	if err := s.call(ctx, "homotopy_saddle", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) LimitCycleFromHopf(ctx context.Context, req HopfSetupRequest) (*CycleSetup, error) {
	var out CycleSetup
	if err := s.call(ctx, "init_lc_from_hopf", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) LimitCycleFromOrbit(ctx context.Context, req OrbitSetupRequest) (*CycleSetup, error) {
	var out CycleSetup
	if err := s.call(ctx, "init_lc_from_orbit", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) PeriodDoubledGuess(ctx context.Context, req PDSetupRequest) (*CycleSetup, error) {
	var out CycleSetup
	if err := s.call(ctx, "init_from_pd", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) Extend(ctx context.Context, req ExtendRequest) (*RawBranch, error) {
	var out RawBranch
	if err := s.call(ctx, "extend_branch", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ExecSolver) Eigenvalues(ctx context.Context, req EigenRequest) (any, error) {
	var out any
	if err := s.call(ctx, "eigenvalues", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Solver = (*ExecSolver)(nil)
