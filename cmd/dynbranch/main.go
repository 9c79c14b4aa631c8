package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/san-kum/dynbranch/internal/automation"
	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/config"
	"github.com/san-kum/dynbranch/internal/lineage"
	"github.com/san-kum/dynbranch/internal/solver"
	"github.com/san-kum/dynbranch/internal/storage"
	"github.com/san-kum/dynbranch/internal/storage/badgerstore"
	"github.com/san-kum/dynbranch/internal/telemetry"
	"github.com/san-kum/dynbranch/internal/viz"
)

var (
	configFile string
	dataDir    string
	backend    string
	logLevel   string
	logFormat  string
	systemsDir string
	solverCmd  string
	theme      string
)

// main registers the commands and persistent flags and executes the root
// command. It exits with status 1 when the command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:           "dynbranch",
		Short:         "branch store and lineage for continuation results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&dataDir, "data", config.DefaultDataDir, "data directory")
	pf.StringVar(&backend, "store", config.DefaultBackend, "store backend (file, badger, memory)")
	pf.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "log level")
	pf.StringVar(&logFormat, "log-format", config.DefaultLogFormat, "log format (json, text)")
	pf.StringVar(&systemsDir, "systems", config.DefaultSystemsDir, "directory of system definitions")
	pf.StringVar(&solverCmd, "solver", "", "continuation engine command")
	pf.StringVar(&theme, "theme", "default", "color theme ("+strings.Join(viz.ThemeNames(), ", ")+")")

	rootCmd.AddCommand(inspectCommands()...)
	rootCmd.AddCommand(deriveCommand(), extendCommand(), hydrateCommand(), importCommand())

	runCmd := &cobra.Command{
		Use:   "run [script]",
		Short: "run an automation script",
		Args:  cobra.ExactArgs(1),
		RunE:  runScript,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list continuation presets",
		RunE:  listPresets,
	}

	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "list 2D manifold profiles",
		RunE:  listProfiles,
	}

	configInitCmd := &cobra.Command{
		Use:   "config-init [path]",
		Short: "write the default config and an example system",
		Args:  cobra.ExactArgs(1),
		RunE:  configInit,
	}

	rootCmd.AddCommand(runCmd, presetsCmd, profilesCmd, configInitCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, viz.ErrorStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

// app is the per-invocation wiring: config, logger, store and metrics.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	registry *prometheus.Registry
	metrics  *telemetry.Metrics
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("data") {
		cfg.Store.Path = dataDir
	}
	if flags.Changed("store") {
		cfg.Store.Backend = backend
	}
	if flags.Changed("systems") {
		cfg.SystemsDir = systemsDir
	}
	if flags.Changed("solver") {
		cfg.Solver.Command = strings.Fields(solverCmd)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	viz.SetTheme(theme)

	opts := telemetry.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}.FromEnv()
	if cmd.Flags().Changed("log-level") {
		opts.Level = logLevel
	}
	if cmd.Flags().Changed("log-format") {
		opts.Format = logFormat
	}
	logger := telemetry.SetupLogger(opts)

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	reg := prometheus.NewRegistry()
	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		registry: reg,
		metrics:  telemetry.NewMetrics(reg),
	}, nil
}

func openStore(sc config.StoreConfig, logger *slog.Logger) (storage.Store, error) {
	switch sc.Backend {
	case "badger":
		bc := badgerstore.DefaultConfig(sc.Path)
		bc.Logger = logger
		return badgerstore.Open(bc)
	case "memory":
		return storage.NewMemStore(logger), nil
	default:
		fs := storage.NewFileStore(sc.Path, logger)
		if err := fs.Init(); err != nil {
			return nil, err
		}
		return fs, nil
	}
}

// close writes the metrics textfile when one is configured and closes the
// store.
func (a *app) close() error {
	var errs []error
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := telemetry.WriteTextfile(path, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("metrics: %w", err))
		}
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// resolver builds the lineage resolver. Commands that only read the store
// pass withSolver false and never reach the engine.
func (a *app) resolver(withSolver bool) (*lineage.Resolver, error) {
	var s solver.Solver
	if withSolver {
		exec, err := solver.NewExec(solver.ExecConfig{
			Command: a.cfg.Solver.Command,
			Timeout: a.cfg.Solver.Timeout,
			Logger:  a.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set solver.command or --solver)", err)
		}
		s = exec
	}
	return lineage.New(a.store, s,
		lineage.WithLogger(a.logger),
		lineage.WithMetrics(a.metrics)), nil
}

func (a *app) system(name string) (branch.System, error) {
	return config.FindSystem(a.cfg.SystemsDir, name)
}

// withApp opens the app around fn and closes it afterwards.
func withApp(fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args, a)
	}
}

var runScript = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	script, err := automation.LoadScript(args[0])
	if err != nil {
		return err
	}
	sys, err := a.system(script.System)
	if err != nil {
		return err
	}
	r, err := a.resolver(true)
	if err != nil {
		return err
	}

	fmt.Printf("running %s (%d steps)...\n", script.Name, len(script.Steps))
	fmt.Println(viz.Separator(48))
	results, err := automation.NewRunner(r, a.store, a.logger).Run(cmd.Context(), sys, script)
	for _, res := range results {
		fmt.Printf("  step %d  %-12s objects=%s branches=%s points=%d\n",
			res.Step, res.Action, joinOr(res.Objects), joinOr(res.Branches), res.Points)
	}
	return err
})

func joinOr(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

func listPresets(cmd *cobra.Command, args []string) error {
	fmt.Println("available presets:")
	for _, name := range config.ListPresets() {
		s := config.GetPreset(name)
		fmt.Printf("  %-10s step=%g max_step=%g max_steps=%d corrector_tol=%g\n",
			name, s.StepSize, s.MaxStepSize, s.MaxSteps, s.CorrectorTolerance)
	}
	return nil
}

func listProfiles(cmd *cobra.Command, args []string) error {
	fmt.Println("2D manifold profiles:")
	for _, name := range config.ListProfiles() {
		p, err := config.Manifold2DProfile(name)
		if err != nil {
			return err
		}
		fmt.Printf("  %-18s radius=%g ring_points=%d max_rings=%d max_time=%g\n",
			name, p.InitialRadius, p.RingPoints, p.MaxRings, p.MaxTime)
	}
	return nil
}

func configInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(args[0]); err == nil {
		return fmt.Errorf("%s already exists", args[0])
	}
	if err := config.Save(args[0], config.DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", args[0])

	dir := filepath.Join(filepath.Dir(args[0]), config.DefaultSystemsDir)
	path := filepath.Join(dir, exampleSystem.Name+".yaml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := config.SaveSystem(path, exampleSystem); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

var exampleSystem = branch.System{
	Name:       "lorenz",
	Type:       branch.Flow,
	ParamNames: []string{"rho", "sigma", "beta"},
	Params:     []float64{28, 10, 8.0 / 3},
	Equations:  []string{"sigma*(y-x)", "x*(rho-z)-y", "x*y-beta*z"},
	VarNames:   []string{"x", "y", "z"},
}
