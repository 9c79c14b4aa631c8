package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
	"github.com/san-kum/dynbranch/internal/storage"
	"github.com/san-kum/dynbranch/internal/tui"
	"github.com/san-kum/dynbranch/internal/viz"
)

var (
	showLimit  int
	component  int
	plotWidth  int
	plotHeight int
	diagram    bool
	outputFile string
)

func inspectCommands() []*cobra.Command {
	objectsCmd := &cobra.Command{
		Use:   "objects [system]",
		Short: "list the objects of a system",
		Args:  cobra.ExactArgs(1),
		RunE:  listObjects,
	}

	branchesCmd := &cobra.Command{
		Use:   "branches [system] [object]",
		Short: "list the branches of an object",
		Args:  cobra.ExactArgs(2),
		RunE:  listBranches,
	}

	showCmd := &cobra.Command{
		Use:   "show [system] [object] [branch]",
		Short: "show a branch and its points in logical order",
		Args:  cobra.ExactArgs(3),
		RunE:  showBranch,
	}
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "maximum points to print (0 for all)")

	actionsCmd := &cobra.Command{
		Use:   "actions [system] [object] [branch] [index]",
		Short: "list the derivations offered at a point",
		Args:  cobra.ExactArgs(4),
		RunE:  listActions,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [system] [object] [branch]",
		Short: "plot a branch",
		Args:  cobra.ExactArgs(3),
		RunE:  plotBranch,
	}
	plotCmd.Flags().IntVar(&component, "component", 0, "state component to plot (-1 for the parameter)")
	plotCmd.Flags().IntVar(&plotWidth, "width", 60, "plot width")
	plotCmd.Flags().IntVar(&plotHeight, "height", 12, "plot height")
	plotCmd.Flags().BoolVar(&diagram, "diagram", false, "draw component against the parameter")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [system] [object] [branch]",
		Short: "export branch points as csv",
		Args:  cobra.ExactArgs(3),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default stdout)")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [system] [object] [branch]",
		Short: "export a branch as json",
		Args:  cobra.ExactArgs(3),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default stdout)")

	browseCmd := &cobra.Command{
		Use:   "browse [system]",
		Short: "browse objects and branches interactively",
		Args:  cobra.ExactArgs(1),
		RunE:  browse,
	}

	return []*cobra.Command{objectsCmd, branchesCmd, showCmd, actionsCmd, plotCmd, exportCSVCmd, exportJSONCmd, browseCmd}
}

var listObjects = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	ctx := cmd.Context()
	names, err := a.store.ListObjects(ctx, args[0])
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no objects found")
		return nil
	}
	objs := make([]*branch.Object, 0, len(names))
	for _, name := range names {
		obj, err := a.store.LoadObject(ctx, args[0], name)
		if err != nil {
			return err
		}
		objs = append(objs, obj)
	}
	fmt.Println(viz.RenderObjects(objs))
	return nil
})

var listBranches = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	ctx := cmd.Context()
	names, err := a.store.ListBranches(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("no branches found")
		return nil
	}
	bs := make([]*branch.Branch, 0, len(names))
	for _, name := range names {
		b, err := a.store.LoadBranch(ctx, args[0], args[1], name)
		if err != nil {
			return err
		}
		bs = append(bs, b)
	}
	fmt.Println(viz.RenderBranches(bs))
	return nil
})

// loadBranch resolves the system definition and loads one stored branch.
func loadBranch(cmd *cobra.Command, a *app, args []string) (branch.System, *branch.Branch, error) {
	sys, err := a.system(args[0])
	if err != nil {
		return branch.System{}, nil, err
	}
	b, err := a.store.LoadBranch(cmd.Context(), sys.Name, args[1], args[2])
	if err != nil {
		return branch.System{}, nil, err
	}
	return sys, b, nil
}

var showBranch = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	sys, b, err := loadBranch(cmd, a, args)
	if err != nil {
		return err
	}
	fmt.Println(viz.RenderBranch(sys, b, showLimit))
	return nil
})

var listActions = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	idx, err := strconv.Atoi(args[3])
	if err != nil {
		return fmt.Errorf("index %q: %w", args[3], err)
	}
	sys, err := a.system(args[0])
	if err != nil {
		return err
	}
	r, err := a.resolver(false)
	if err != nil {
		return err
	}
	src, err := r.Source(cmd.Context(), sys.Name, args[1], args[2], idx)
	if err != nil {
		return err
	}
	p, err := src.Point()
	if err != nil {
		return err
	}
	actions := classify.EligibleActionsFor(p, classify.FamilyOf(src.Kind()), sys.Type)
	fmt.Println(viz.RenderActions(src.Branch, p, actions))
	return nil
})

var plotBranch = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	_, b, err := loadBranch(cmd, a, args)
	if err != nil {
		return err
	}
	var out string
	if diagram {
		out, err = viz.Diagram(b, component, plotWidth, plotHeight)
	} else {
		opts := viz.DefaultPlotOptions()
		opts.Component = component
		opts.Width = plotWidth
		opts.Height = plotHeight
		out, err = viz.PlotBranch(b, opts)
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
})

// output opens the -o target, or stdout when none was given.
func output() (io.WriteCloser, error) {
	if outputFile == "" {
		return nopCloser{os.Stdout}, nil
	}
	return os.Create(outputFile)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

var exportCSV = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	sys, b, err := loadBranch(cmd, a, args)
	if err != nil {
		return err
	}
	w, err := output()
	if err != nil {
		return err
	}
	if err := storage.ExportCSV(w, b, sys.VarNames); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	if outputFile != "" {
		fmt.Printf("exported %d points to %s\n", len(b.Data.Points), outputFile)
	}
	return nil
})

var exportJSON = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	_, b, err := loadBranch(cmd, a, args)
	if err != nil {
		return err
	}
	if outputFile != "" {
		if err := storage.ExportJSONFile(outputFile, b); err != nil {
			return err
		}
		fmt.Printf("exported %s to %s\n", b.Name, outputFile)
		return nil
	}
	return storage.ExportJSON(os.Stdout, b)
})

var browse = withApp(func(cmd *cobra.Command, args []string, a *app) error {
	sys, err := a.system(args[0])
	if err != nil {
		return err
	}
	return tui.Run(cmd.Context(), a.store, sys)
})
