// Package tui is an interactive browser over the objects and branches of
// one system.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/dynbranch/internal/branch"
	"github.com/san-kum/dynbranch/internal/classify"
	"github.com/san-kum/dynbranch/internal/lineage"
	"github.com/san-kum/dynbranch/internal/storage"
	"github.com/san-kum/dynbranch/internal/viz"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	red     = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

type state int

const (
	stateObjects state = iota
	stateBranches
	statePoints
)

const pageSize = 10

type model struct {
	ctx   context.Context
	store storage.Store
	sys   branch.System

	state   state
	objects []string
	cursor  int

	object   string
	branches []string
	bcursor  int

	branch   *branch.Branch
	rows     []storage.ExportPoint
	rowOf    map[int]int // logical index to row
	pcursor  int
	showPlot bool

	jumping bool
	jumpBuf string

	err    error
	width  int
	height int
}

type objectsMsg struct {
	names []string
	err   error
}

type branchesMsg struct {
	object string
	names  []string
	err    error
}

type branchMsg struct {
	branch *branch.Branch
	err    error
}

// New returns the browser model for sys, starting at the object list.
func New(ctx context.Context, st storage.Store, sys branch.System) model {
	return model{ctx: ctx, store: st, sys: sys, width: 80, height: 24}
}

func (m model) Init() tea.Cmd { return m.loadObjects() }

func (m model) loadObjects() tea.Cmd {
	return func() tea.Msg {
		names, err := m.store.ListObjects(m.ctx, m.sys.Name)
		return objectsMsg{names: names, err: err}
	}
}

func (m model) loadBranches(object string) tea.Cmd {
	return func() tea.Msg {
		names, err := m.store.ListBranches(m.ctx, m.sys.Name, object)
		return branchesMsg{object: object, names: names, err: err}
	}
}

func (m model) loadBranch(object, name string) tea.Cmd {
	return func() tea.Msg {
		b, err := m.store.LoadBranch(m.ctx, m.sys.Name, object, name)
		return branchMsg{branch: b, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case objectsMsg:
		m.err = msg.err
		m.objects = msg.names
		m.cursor = min(m.cursor, max(len(m.objects)-1, 0))
		return m, nil
	case branchesMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.object = msg.object
		m.branches = msg.names
		m.bcursor = 0
		m.state = stateBranches
		return m, nil
	case branchMsg:
		m.err = msg.err
		if msg.err != nil {
			return m, nil
		}
		m.branch = msg.branch
		m.rows = storage.Rows(msg.branch)
		m.rowOf = rowIndex(m.rows)
		m.pcursor = 0
		m.state = statePoints
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}
	switch m.state {
	case stateObjects:
		return m.objectsKey(msg)
	case stateBranches:
		return m.branchesKey(msg)
	case statePoints:
		if m.jumping {
			return m.jumpKey(msg)
		}
		return m.pointsKey(msg)
	}
	return m, nil
}

func (m model) objectsKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.objects)-1 {
			m.cursor++
		}
	case "r":
		return m, m.loadObjects()
	case "enter", " ", "l", "right":
		if len(m.objects) > 0 {
			return m, m.loadBranches(m.objects[m.cursor])
		}
	}
	return m, nil
}

func (m model) branchesKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "h", "left":
		m.state = stateObjects
		m.err = nil
	case "up", "k":
		if m.bcursor > 0 {
			m.bcursor--
		}
	case "down", "j":
		if m.bcursor < len(m.branches)-1 {
			m.bcursor++
		}
	case "enter", " ", "l", "right":
		if len(m.branches) > 0 {
			return m, m.loadBranch(m.object, m.branches[m.bcursor])
		}
	}
	return m, nil
}

func (m model) pointsKey(msg tea.KeyMsg) (model, tea.Cmd) {
	last := len(m.rows) - 1
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "h", "left":
		m.state = stateBranches
		m.err = nil
	case "up", "k":
		m.pcursor = max(m.pcursor-1, 0)
	case "down", "j":
		m.pcursor = max(min(m.pcursor+1, last), 0)
	case "pgup":
		m.pcursor = max(m.pcursor-pageSize, 0)
	case "pgdown":
		m.pcursor = max(min(m.pcursor+pageSize, last), 0)
	case "home", "g":
		m.pcursor = 0
	case "end", "G":
		m.pcursor = max(last, 0)
	case "n":
		m.pcursor = m.nextBifurcation(1)
	case "N":
		m.pcursor = m.nextBifurcation(-1)
	case "p":
		m.showPlot = !m.showPlot
	case ":", "/":
		m.jumping = true
		m.jumpBuf = ""
		m.err = nil
	}
	return m, nil
}

func (m model) jumpKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		m.jumping = false
		m.jumpTo(m.jumpBuf)
		m.jumpBuf = ""
	case "esc":
		m.jumping = false
		m.jumpBuf = ""
	case "backspace":
		if len(m.jumpBuf) > 0 {
			m.jumpBuf = m.jumpBuf[:len(m.jumpBuf)-1]
		}
	default:
		if s := msg.String(); len(s) == 1 && (s[0] >= '0' && s[0] <= '9' || s[0] == '-' && m.jumpBuf == "") {
			m.jumpBuf += s
		}
	}
	return m, nil
}

// jumpTo moves the cursor to the point with the given logical index.
func (m *model) jumpTo(buf string) {
	idx, err := strconv.Atoi(buf)
	if err != nil {
		m.err = fmt.Errorf("not an index: %q", buf)
		return
	}
	if i, ok := m.rowOf[idx]; ok {
		m.pcursor = i
		return
	}
	m.err = fmt.Errorf("no point with logical index %d", idx)
}

func rowIndex(rows []storage.ExportPoint) map[int]int {
	idx := make(map[int]int, len(rows))
	for i, r := range rows {
		if _, ok := idx[r.Logical]; !ok {
			idx[r.Logical] = i
		}
	}
	return idx
}

// nextBifurcation is the traversal position of the next bifurcation point
// in dir, or the current position when there is none.
func (m model) nextBifurcation(dir int) int {
	for i := m.pcursor + dir; i >= 0 && i < len(m.rows); i += dir {
		if m.rows[i].Bifurcation {
			return i
		}
	}
	return m.pcursor
}

// Actions lists the derivations offered at the selected point.
func (m model) Actions() []classify.Action {
	p, ok := m.selectedPoint()
	if !ok {
		return nil
	}
	return classify.EligibleActionsFor(p, classify.FamilyOf(m.branch.Kind()), m.sys.Type)
}

func (m model) selectedPoint() (branch.Point, bool) {
	if m.branch == nil || m.pcursor < 0 || m.pcursor >= len(m.rows) {
		return branch.Point{}, false
	}
	return m.branch.Data.Points[m.rows[m.pcursor].Storage], true
}

func (m model) View() string {
	var s string
	switch m.state {
	case stateObjects:
		s = m.viewObjects()
	case stateBranches:
		s = m.viewBranches()
	case statePoints:
		s = m.viewPoints()
	}
	if m.err != nil {
		s += "\n      " + red.Render(m.err.Error()) + "\n"
	}
	return s
}

func (m model) header(title string) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n")
	b.WriteString("      " + cyan.Render(title) + "\n")
	b.WriteString(dimmer.Render("    ╺━━━━━━━━━━━━━━━━━━━━━━━━━━━━╸") + "\n\n")
	return b.String()
}

func list(b *strings.Builder, items []string, cursor int, empty string) {
	if len(items) == 0 {
		b.WriteString("        " + dim.Render(empty) + "\n")
		return
	}
	for i, name := range items {
		if i == cursor {
			b.WriteString("      " + cyan.Render("▸ ") + white.Render(name) + "\n")
		} else {
			b.WriteString("        " + dim.Render(name) + "\n")
		}
	}
}

func (m model) viewObjects() string {
	var b strings.Builder
	b.WriteString(m.header(m.sys.Name))
	list(&b, m.objects, m.cursor, "no objects")
	b.WriteString("\n" + dim.Render("      ↑↓ select   enter open   r reload   q quit") + "\n")
	return b.String()
}

func (m model) viewBranches() string {
	var b strings.Builder
	b.WriteString(m.header(m.sys.Name + " / " + m.object))
	list(&b, m.branches, m.bcursor, "no branches")
	b.WriteString("\n" + dim.Render("      ↑↓ select   enter open   esc back   q quit") + "\n")
	return b.String()
}

func (m model) viewPoints() string {
	var b strings.Builder
	br := m.branch
	b.WriteString(m.header(fmt.Sprintf("%s / %s / %s  %s", m.sys.Name, m.object, br.Name, dim.Render(br.Kind()))))

	if len(m.rows) == 0 {
		b.WriteString("        " + dim.Render("no points") + "\n")
		return b.String()
	}

	visible := max(m.height-16, 5)
	start := max(m.pcursor-visible/2, 0)
	end := min(start+visible, len(m.rows))
	start = max(end-visible, 0)
	for i := start; i < end; i++ {
		r := m.rows[i]
		p := br.Data.Points[r.Storage]
		mark := " "
		if r.Bifurcation {
			mark = magenta.Render("*")
		}
		line := fmt.Sprintf("%5d %s %-28s", r.Logical, mark, lineage.PointLabel(br, p))
		stab := viz.StabilityStyle(p.Stability).Render(string(p.Stability))
		if i == m.pcursor {
			b.WriteString("    " + cyan.Render("▸ ") + white.Render(line) + " " + stab + "\n")
		} else {
			b.WriteString("      " + dim.Render(line) + " " + stab + "\n")
		}
	}

	if p, ok := m.selectedPoint(); ok {
		b.WriteString("\n" + viz.RenderActions(br, p, m.Actions()) + "\n")
	}
	if m.showPlot {
		if plot, err := viz.Diagram(br, 0, max(m.width-10, 20), 8); err == nil {
			b.WriteString("\n" + plot + "\n")
		}
	}

	b.WriteString("\n")
	if m.jumping {
		b.WriteString("      " + cyan.Render("go to index: ") + magenta.Render(m.jumpBuf+"▋") + "\n")
	}
	b.WriteString(dim.Render("      ↑↓ move  n/N next bif  : jump  p plot  esc back  q quit") + "\n")
	return b.String()
}

// Run starts the browser in the alternate screen and blocks until it exits.
func Run(ctx context.Context, st storage.Store, sys branch.System) error {
	p := tea.NewProgram(New(ctx, st, sys), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
