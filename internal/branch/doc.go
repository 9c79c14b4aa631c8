// Package branch defines the continuation data model shared by every other
// package in dynbranch.
//
// The package describes what a continuation run produces and how it is
// stored, without any numerics:
//
//   - [Point]: one sample on a branch (state, parameter values, stability, eigenvalues)
//   - [Data]: the stored result of one run (points in storage order, logical indices, bifurcations)
//   - [Type]: closed set of branch kinds, one struct per variant
//   - [Branch]: a named, persisted branch with lineage linkage
//   - [Object]: a named equilibrium / limit cycle / orbit owning branches
//   - [System]: read-only system configuration
//   - [Settings]: continuation settings with safe floors
//
// # Storage order vs logical order
//
// Data.Points is kept in storage order, which grows at either end.
// Data.Indices holds the logical index of each stored point; use the
// indexing package to traverse a branch in logical order.
//
// # Branch types
//
// [Type] is sealed: only the variants declared here implement it. Code that
// inspects a branch type switches over every variant:
//
//	switch t := b.Data.BranchType.(type) {
//	case branch.Equilibrium:
//	case branch.LimitCycle:
//	    _ = t.NTST
//	...
//	}
package branch
