// Package indexing reconciles storage order with logical order on branch data.
//
// Points are stored in the order they were written. Forward extension
// appends at the end; backward extension prepends at position 0. Each point's
// logical index (Data.Indices) is its stable identity along the branch.
package indexing

import (
	"sort"

	"github.com/san-kum/dynbranch/internal/branch"
)

// EnsureIndices regenerates d.Indices as 0..n-1 when it is missing or its
// length differs from d.Points. It is idempotent and returns the indices.
func EnsureIndices(d *branch.Data) []int {
	if len(d.Indices) == len(d.Points) && d.Indices != nil {
		return d.Indices
	}
	d.Indices = make([]int, len(d.Points))
	for i := range d.Indices {
		d.Indices[i] = i
	}
	return d.Indices
}

// SortedOrder returns storage positions ordered by ascending logical index.
// Equal logical indices keep storage order.
func SortedOrder(indices []int) []int {
	order := make([]int, len(indices))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return indices[order[a]] < indices[order[b]]
	})
	return order
}

// LogicalToStorage maps each logical index to its storage position.
// On duplicates the first storage position wins.
func LogicalToStorage(indices []int) map[int]int {
	m := make(map[int]int, len(indices))
	for pos, idx := range indices {
		if _, ok := m[idx]; !ok {
			m[idx] = pos
		}
	}
	return m
}

// Traverse returns the points of d in logical order.
func Traverse(d *branch.Data) []branch.Point {
	if len(d.Points) == 0 {
		return nil
	}
	order := SortedOrder(EnsureIndices(d))
	out := make([]branch.Point, len(order))
	for i, pos := range order {
		out[i] = d.Points[pos]
	}
	return out
}

// Endpoint returns the storage position of the point with the largest
// (forward) or smallest (backward) logical index.
func Endpoint(d *branch.Data, forward bool) (int, error) {
	if len(d.Points) == 0 {
		return 0, branch.ErrEmptyBranch
	}
	indices := EnsureIndices(d)
	best := 0
	for pos, idx := range indices {
		if forward && idx > indices[best] || !forward && idx < indices[best] {
			best = pos
		}
	}
	return best, nil
}

// Append adds pts after the current logical maximum. bifs are positions
// within pts and are offset into the merged storage order.
func Append(d *branch.Data, pts []branch.Point, bifs []int) {
	EnsureIndices(d)
	next := 0
	if len(d.Indices) > 0 {
		next = maxOf(d.Indices) + 1
	}
	offset := len(d.Points)
	for i, p := range pts {
		d.Points = append(d.Points, p)
		d.Indices = append(d.Indices, next+i)
	}
	for _, b := range bifs {
		if b >= 0 && b < len(pts) {
			d.Bifurcations = append(d.Bifurcations, offset+b)
		}
	}
}

// Prepend inserts pts, given in logical order, at storage position 0 ahead
// of the current logical minimum. Existing bifurcation positions shift by
// len(pts). If the new minimum falls below zero every logical index is
// shifted up so the branch stays zero-based; relative order is unchanged.
func Prepend(d *branch.Data, pts []branch.Point, bifs []int) {
	EnsureIndices(d)
	k := len(pts)
	if k == 0 {
		return
	}
	start := -k
	if len(d.Indices) > 0 {
		start = minOf(d.Indices) - k
	}

	points := make([]branch.Point, 0, k+len(d.Points))
	points = append(points, pts...)
	points = append(points, d.Points...)

	indices := make([]int, 0, k+len(d.Indices))
	for i := range pts {
		indices = append(indices, start+i)
	}
	indices = append(indices, d.Indices...)
	if start < 0 {
		for i := range indices {
			indices[i] -= start
		}
	}

	merged := make([]int, 0, len(bifs)+len(d.Bifurcations))
	for _, b := range bifs {
		if b >= 0 && b < k {
			merged = append(merged, b)
		}
	}
	for _, b := range d.Bifurcations {
		merged = append(merged, b+k)
	}

	d.Points = points
	d.Indices = indices
	d.Bifurcations = merged
}

// Report describes the repairs applied to legacy data.
type Report struct {
	RegeneratedIndices  bool
	DroppedBifurcations []int
}

func (r Report) Changed() bool {
	return r.RegeneratedIndices || len(r.DroppedBifurcations) > 0
}

// Repair upgrades stored data in place: it regenerates missing indices and
// drops bifurcation positions outside [0, len(points)).
func Repair(d *branch.Data) Report {
	var r Report
	if len(d.Indices) != len(d.Points) {
		r.RegeneratedIndices = true
	}
	EnsureIndices(d)
	kept := d.Bifurcations[:0]
	for _, b := range d.Bifurcations {
		if b < 0 || b >= len(d.Points) {
			r.DroppedBifurcations = append(r.DroppedBifurcations, b)
			continue
		}
		kept = append(kept, b)
	}
	d.Bifurcations = kept
	if d.Bifurcations == nil {
		d.Bifurcations = []int{}
	}
	if d.BranchType == nil {
		d.BranchType = branch.Equilibrium{}
	}
	return r
}

// BifurcationSet returns the bifurcation storage positions as a set.
func BifurcationSet(d *branch.Data) map[int]bool {
	s := make(map[int]bool, len(d.Bifurcations))
	for _, b := range d.Bifurcations {
		s[b] = true
	}
	return s
}

func maxOf(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		m = max(m, x)
	}
	return m
}

func minOf(xs []int) int {
	m := xs[0]
	for _, x := range xs[1:] {
		m = min(m, x)
	}
	return m
}
