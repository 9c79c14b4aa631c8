// Package viz renders stored branches and objects for the terminal.
//
// Tables and summaries are built with lipgloss:
//
//   - [RenderObjects] and [RenderBranches]: listings for one system
//   - [RenderBranch]: branch header plus points in traversal order
//   - [RenderActions]: derivations offered at one point
//
// Plots come in two forms. [PlotBranch] draws one state component per
// logical index with asciigraph, stable and unstable stretches as separate
// series. [Diagram] draws the component against the continuation parameter
// on a braille [Canvas], which is the usual bifurcation diagram.
package viz
