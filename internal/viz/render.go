package viz

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
	"github.com/san-kum/dynbranch/internal/lineage"
	"github.com/san-kum/dynbranch/internal/storage"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(Subtle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return Title.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// RenderObjects lists objects with their kind and owning parameter.
func RenderObjects(objs []*branch.Object) string {
	if len(objs) == 0 {
		return Subtle.Render("no objects")
	}
	t := newTable("NAME", "KIND", "PARAMETER", "MAP ITER", "FROM")
	for _, o := range objs {
		iter := ""
		if o.MapIterations > 0 {
			iter = strconv.Itoa(o.MapIterations)
		}
		t.Row(o.Name, string(o.Kind), o.ParameterName, iter, o.StartObject)
	}
	return t.Render()
}

// RenderBranches lists branches with their kind, size and lineage.
func RenderBranches(bs []*branch.Branch) string {
	if len(bs) == 0 {
		return Subtle.Render("no branches")
	}
	t := newTable("NAME", "KIND", "PARAMETER", "POINTS", "BIFS", "FROM")
	for _, b := range bs {
		from := b.StartObject
		if b.StartParent != "" {
			from = b.StartParent + "/" + b.StartObject
		}
		t.Row(b.Name, b.Kind(), b.ParameterName,
			strconv.Itoa(len(b.Data.Points)), strconv.Itoa(len(b.Data.Bifurcations)), from)
	}
	return t.Render()
}

// RenderBranch renders the branch header and its points in logical order.
// limit caps the number of rows; zero shows every point.
func RenderBranch(sys branch.System, b *branch.Branch, limit int) string {
	var s strings.Builder
	s.WriteString(HeaderStyle.Render(fmt.Sprintf("%s / %s / %s", sys.Name, b.ParentObject, b.Name)) + "\n")
	s.WriteString(Metric("kind", b.Kind()) + "\n")
	s.WriteString(Metric("parameter", b.ParameterName) + "\n")
	s.WriteString(Metric("points", strconv.Itoa(len(b.Data.Points))) + "\n")
	if b.MapIterations > 0 {
		s.WriteString(Metric("map iterations", strconv.Itoa(b.MapIterations)) + "\n")
	}
	if b.StartObject != "" {
		s.WriteString(Metric("started from", b.StartObject) + "\n")
	}
	if !b.Timestamp.IsZero() {
		s.WriteString(Metric("computed", b.Timestamp.Format("2006-01-02 15:04:05")) + "\n")
	}
	if trace := ParamTrace(b, 40); trace != "" && len(b.Data.Points) > 1 {
		s.WriteString(Metric("trace", trace) + "\n")
	}
	s.WriteString("\n")
	s.WriteString(RenderPoints(sys, b, limit))
	return s.String()
}

// RenderPoints is the point table of b. Bifurcation points are starred.
func RenderPoints(sys branch.System, b *branch.Branch, limit int) string {
	rows := storage.Rows(b)
	if len(rows) == 0 {
		return Subtle.Render("no points")
	}
	t := newTable("IDX", "", "POINT", "STABILITY", "STATE")
	shown := rows
	if limit > 0 && len(rows) > limit {
		shown = rows[:limit]
	}
	for _, r := range shown {
		mark := ""
		if r.Bifurcation {
			mark = "*"
		}
		p := b.Data.Points[r.Storage]
		t.Row(strconv.Itoa(r.Logical), mark, lineage.PointLabel(b, p),
			StabilityStyle(r.Stability).Render(string(r.Stability)), formatState(sys, r.State))
	}
	out := t.Render()
	if len(shown) < len(rows) {
		out += "\n" + Subtle.Render(fmt.Sprintf("... %d more", len(rows)-len(shown)))
	}
	return out
}

// RenderActions lists the derivations offered at one point.
func RenderActions(b *branch.Branch, p branch.Point, actions []classify.Action) string {
	var s strings.Builder
	s.WriteString(Title.Render(lineage.PointLabel(b, p)) + "  " + StabilityStyle(p.Stability).Render(string(p.Stability)) + "\n")
	if len(actions) == 0 {
		s.WriteString(Subtle.Render("no derivations available"))
		return s.String()
	}
	for _, a := range actions {
		s.WriteString(fmt.Sprintf("  %s  %s\n", Selected.Render(string(a)), Subtle.Render(a.Label())))
	}
	return strings.TrimRight(s.String(), "\n")
}

func formatState(sys branch.System, state []float64) string {
	parts := make([]string, len(state))
	for i, v := range state {
		val := strconv.FormatFloat(v, 'g', 5, 64)
		if i < len(sys.VarNames) {
			parts[i] = sys.VarNames[i] + "=" + val
		} else {
			parts[i] = val
		}
	}
	const maxLen = 60
	out := strings.Join(parts, " ")
	if len(out) > maxLen {
		out = out[:maxLen-3] + "..."
	}
	return out
}
