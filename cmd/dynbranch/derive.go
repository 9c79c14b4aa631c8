package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/config"
	"github.com/san-kum/dynbranch/internal/lineage"
	"github.com/san-kum/dynbranch/internal/solver"
	"github.com/san-kum/dynbranch/internal/viz"
)

var (
	fromObject string
	fromBranch string
	fromIndex  int
	name       string
	newObject  string
	param      string
	param2     string
	preset     string
	backward   bool
	amplitude  float64
	tolerance  float64
	ntst       int
	ncol       int
	curveKind  string
	stability  string
	direction  string
	eigIndex   int
	profile    string
)

// sourceFlags are shared by every derive subcommand.
func sourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&fromObject, "object", "", "source object")
	f.StringVar(&fromBranch, "branch", "", "source branch (empty to start from the object)")
	f.IntVar(&fromIndex, "index", 0, "logical index of the source point")
	f.StringVar(&name, "name", "", "name of the new branch")
	f.StringVar(&preset, "preset", "", "continuation preset")
	f.BoolVar(&backward, "backward", false, "continue in the decreasing direction")
	_ = cmd.MarkFlagRequired("object")
	_ = cmd.MarkFlagRequired("name")
}

func meshFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&ntst, "ntst", 0, "mesh intervals")
	cmd.Flags().IntVar(&ncol, "ncol", 0, "collocation points per interval")
}

func deriveCommand() *cobra.Command {
	deriveCmd := &cobra.Command{
		Use:   "derive",
		Short: "derive a new branch from a stored point",
	}

	eqCmd := &cobra.Command{
		Use:   "equilibrium [system]",
		Short: "continue an equilibrium",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveEquilibrium,
	}
	sourceFlags(eqCmd)
	eqCmd.Flags().StringVar(&param, "param", "", "continuation parameter")

	lcCmd := &cobra.Command{
		Use:   "limit-cycle [system]",
		Short: "continue an existing limit cycle",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveLimitCycle,
	}
	sourceFlags(lcCmd)
	lcCmd.Flags().StringVar(&param, "param", "", "continuation parameter")

	hopfCmd := &cobra.Command{
		Use:   "hopf-lc [system]",
		Short: "start a limit cycle from a hopf point",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveHopfCycle,
	}
	sourceFlags(hopfCmd)
	meshFlags(hopfCmd)
	hopfCmd.Flags().StringVar(&newObject, "new-object", "", "name of the new limit cycle object")
	hopfCmd.Flags().StringVar(&param, "param", "", "continuation parameter")
	hopfCmd.Flags().Float64Var(&amplitude, "amplitude", 0, "initial amplitude")
	_ = hopfCmd.MarkFlagRequired("new-object")

	orbitCmd := &cobra.Command{
		Use:   "orbit-lc [system]",
		Short: "start a limit cycle from an orbit object",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveOrbitCycle,
	}
	sourceFlags(orbitCmd)
	meshFlags(orbitCmd)
	orbitCmd.Flags().StringVar(&newObject, "new-object", "", "name of the new limit cycle object")
	orbitCmd.Flags().StringVar(&param, "param", "", "continuation parameter")
	orbitCmd.Flags().Float64Var(&tolerance, "tolerance", 0, "recurrence tolerance")
	_ = orbitCmd.MarkFlagRequired("new-object")

	curveCmd := &cobra.Command{
		Use:   "curve [system]",
		Short: "continue a codimension-1 point in two parameters",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveCurve,
	}
	sourceFlags(curveCmd)
	curveCmd.Flags().StringVar(&curveKind, "kind", "", "curve kind (fold, hopf, lpc, pd, ns)")
	curveCmd.Flags().StringVar(&param2, "param2", "", "second continuation parameter")
	_ = curveCmd.MarkFlagRequired("kind")
	_ = curveCmd.MarkFlagRequired("param2")

	pdCmd := &cobra.Command{
		Use:   "pd [system]",
		Short: "branch to the period-doubled solution",
		Args:  cobra.ExactArgs(1),
		RunE:  derivePeriodDoubled,
	}
	sourceFlags(pdCmd)
	pdCmd.Flags().StringVar(&newObject, "new-object", "", "name of the new object")
	pdCmd.Flags().Float64Var(&amplitude, "amplitude", 0, "initial amplitude")
	_ = pdCmd.MarkFlagRequired("new-object")

	m1Cmd := &cobra.Command{
		Use:   "manifold1d [system]",
		Short: "compute a 1D invariant manifold of an equilibrium",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveManifold1D,
	}
	sourceFlags(m1Cmd)
	m1Cmd.Flags().StringVar(&stability, "stability", string(branch.ManifoldUnstable), "Stable or Unstable")
	m1Cmd.Flags().StringVar(&direction, "direction", string(branch.DirectionBoth), "Plus, Minus or Both")
	m1Cmd.Flags().IntVar(&eigIndex, "eig-index", 0, "eigenvector index")

	m2Cmd := &cobra.Command{
		Use:   "manifold2d [system]",
		Short: "compute a 2D invariant manifold of an equilibrium",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveManifold2D,
	}
	sourceFlags(m2Cmd)
	m2Cmd.Flags().StringVar(&stability, "stability", string(branch.ManifoldUnstable), "Stable or Unstable")
	m2Cmd.Flags().StringVar(&profile, "profile", "", "manifold profile (default from config)")

	homotopyCmd := &cobra.Command{
		Use:   "homotopy [system]",
		Short: "continue a homoclinic orbit by homotopy from a saddle",
		Args:  cobra.ExactArgs(1),
		RunE:  deriveHomotopy,
	}
	sourceFlags(homotopyCmd)
	meshFlags(homotopyCmd)
	homotopyCmd.Flags().StringVar(&param2, "param2", "", "second continuation parameter")
	_ = homotopyCmd.MarkFlagRequired("param2")

	deriveCmd.AddCommand(eqCmd, lcCmd, hopfCmd, orbitCmd, curveCmd, pdCmd, m1Cmd, m2Cmd, homotopyCmd)
	return deriveCmd
}

// derivation carries what every derive subcommand resolves before calling
// the resolver.
type derivation struct {
	sys      branch.System
	src      lineage.Source
	r        *lineage.Resolver
	settings branch.Settings
}

func prepare(cmd *cobra.Command, a *app, system string) (*derivation, error) {
	sys, err := a.system(system)
	if err != nil {
		return nil, err
	}
	settings, err := continuationSettings(a)
	if err != nil {
		return nil, err
	}
	r, err := a.resolver(true)
	if err != nil {
		return nil, err
	}
	src, err := r.Source(cmd.Context(), sys.Name, fromObject, fromBranch, fromIndex)
	if err != nil {
		return nil, err
	}
	return &derivation{sys: sys, src: src, r: r, settings: settings}, nil
}

func continuationSettings(a *app) (branch.Settings, error) {
	if preset == "" {
		return a.cfg.ContinuationSettings(), nil
	}
	s := config.GetPreset(preset)
	if s == nil {
		return branch.Settings{}, fmt.Errorf("unknown preset %q (available: %v)", preset, config.ListPresets())
	}
	return *s, nil
}

func cliMesh() solver.Mesh {
	m := solver.DefaultMesh()
	if ntst > 0 {
		m.NTST = ntst
	}
	if ncol > 0 {
		m.NCOL = ncol
	}
	return m
}

func report(res *lineage.Result) {
	if len(res.Objects) > 0 {
		fmt.Println(viz.RenderObjects(res.Objects))
	}
	fmt.Println(viz.RenderBranches(res.Branches))
}

var deriveEquilibrium = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := d.r.DeriveEquilibrium(cmd.Context(), d.sys, d.src, lineage.EquilibriumRequest{
		Name:          name,
		ParameterName: param,
		Settings:      d.settings,
		Forward:       !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveLimitCycle = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := d.r.DeriveLimitCycle(cmd.Context(), d.sys, d.src, lineage.LimitCycleRequest{
		Name:          name,
		ParameterName: param,
		Settings:      d.settings,
		Forward:       !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveHopfCycle = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := d.r.DeriveLimitCycleFromHopf(cmd.Context(), d.sys, d.src, lineage.HopfCycleRequest{
		ObjectName:    newObject,
		BranchName:    name,
		ParameterName: param,
		Amplitude:     amplitude,
		Mesh:          cliMesh(),
		Settings:      d.settings,
		Forward:       !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveOrbitCycle = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := d.r.DeriveLimitCycleFromOrbit(cmd.Context(), d.sys, d.src, lineage.OrbitCycleRequest{
		ObjectName:    newObject,
		BranchName:    name,
		ParameterName: param,
		Tolerance:     tolerance,
		Mesh:          cliMesh(),
		Settings:      d.settings,
		Forward:       !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveCurve = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := d.r.DeriveCurve(cmd.Context(), d.sys, d.src, lineage.CurveRequest{
		Kind:       solver.CurveKind(curveKind),
		Name:       name,
		Param2Name: param2,
		Settings:   d.settings,
		Forward:    !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var derivePeriodDoubled = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	res, err := d.r.DerivePeriodDoubled(cmd.Context(), d.sys, d.src, lineage.PeriodDoublingRequest{
		ObjectName: newObject,
		BranchName: name,
		Amplitude:  amplitude,
		Settings:   d.settings,
		Forward:    !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveManifold1D = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	settings := solver.DefaultManifold1D()
	settings.Stability = branch.ManifoldStability(stability)
	settings.Direction = branch.ManifoldDirection(direction)
	if cmd.Flags().Changed("eig-index") {
		idx := eigIndex
		settings.EigIndex = &idx
	}
	res, err := d.r.DeriveManifold1D(cmd.Context(), d.sys, d.src, lineage.Manifold1DRequest{
		Name:     name,
		Settings: settings,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveManifold2D = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	p := profile
	if p == "" {
		p = a.cfg.Manifold2DProfile
	}
	res, err := d.r.DeriveManifold2D(cmd.Context(), d.sys, d.src, lineage.Manifold2DRequest{
		Name: name,
		Settings: solver.Manifold2DSettings{
			Stability: branch.ManifoldStability(stability),
			Profile:   p,
		},
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

var deriveHomotopy = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	d, err := prepare(cmd, a, args[0])
	if err != nil {
		return err
	}
	setup := solver.DefaultHomotopy()
	if ntst > 0 {
		setup.NTST = ntst
	}
	if ncol > 0 {
		setup.NCOL = ncol
	}
	res, err := d.r.DeriveHomotopySaddle(cmd.Context(), d.sys, d.src, lineage.HomotopyRequest{
		Name:       name,
		Param2Name: param2,
		Setup:      setup,
		Settings:   d.settings,
		Forward:    !backward,
	})
	if err != nil {
		return err
	}
	report(res)
	return nil
})

func extendCommand() *cobra.Command {
	extendCmd := &cobra.Command{
		Use:   "extend [system] [object] [branch]",
		Short: "continue a stored branch past its end",
		Args:  cobra.ExactArgs(3),
		RunE:  extendBranch,
	}
	extendCmd.Flags().BoolVar(&backward, "backward", false, "extend from the first logical point")
	extendCmd.Flags().StringVar(&preset, "preset", "", "continuation preset (default: the branch's own settings)")
	return extendCmd
}

var extendBranch = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	sys, err := a.system(args[0])
	if err != nil {
		return err
	}
	req := lineage.ExtendRequest{Forward: !backward}
	if preset != "" {
		if req.Settings, err = continuationSettings(a); err != nil {
			return err
		}
	}
	r, err := a.resolver(true)
	if err != nil {
		return err
	}
	b, err := r.Extend(cmd.Context(), sys, args[1], args[2], req)
	if err != nil {
		return err
	}
	fmt.Printf("extended %s: %d points\n", b.Name, len(b.Data.Points))
	return nil
})

func hydrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hydrate [system] [object] [branch]",
		Short: "fill in missing eigenvalues on a stored branch",
		Args:  cobra.ExactArgs(3),
		RunE:  hydrate,
	}
}

var hydrate = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	sys, err := a.system(args[0])
	if err != nil {
		return err
	}
	r, err := a.resolver(true)
	if err != nil {
		return err
	}
	n, err := r.HydrateEigenvalues(cmd.Context(), sys, args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("hydrated %d points\n", n)
	return nil
})

func importCommand() *cobra.Command {
	importCmd := &cobra.Command{
		Use:   "import [system] [object] [branch] [raw.json]",
		Short: "store a raw solver result as a new branch",
		Args:  cobra.ExactArgs(4),
		RunE:  importBranch,
	}
	importCmd.Flags().StringVar(&param, "param", "", "continuation parameter (default: the object's)")
	return importCmd
}

var importBranch = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	sys, err := a.system(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[3])
	if err != nil {
		return err
	}
	var raw solver.RawBranch
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%s: %w", args[3], err)
	}
	r, err := a.resolver(false)
	if err != nil {
		return err
	}
	b, err := r.Import(cmd.Context(), sys, args[1], lineage.ImportRequest{Name: args[2], ParameterName: param}, &raw)
	if err != nil {
		return err
	}
	fmt.Println(viz.RenderBranches([]*branch.Branch{b}))
	return nil
})
