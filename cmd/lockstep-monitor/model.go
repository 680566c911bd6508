package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-lockstep/pkg/protocol"
	"github.com/dd0wney/cluso-lockstep/pkg/session"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FFFF")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(lipgloss.Color("#FF00FF")).
			Padding(0, 2)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#666666")).
				Padding(0, 2)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type view int

const (
	dashboardView view = iota
	nodesView
	gatesView
	viewCount
)

var viewNames = [viewCount]string{"Dashboard", "Nodes", "Gates"}

type keyMap struct {
	Tab      key.Binding
	ShiftTab key.Binding
	Refresh  key.Binding
	Quit     key.Binding
	Up       key.Binding
	Down     key.Binding
}

var keys = keyMap{
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next view"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev view"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.ShiftTab, k.Refresh},
		{k.Up, k.Down},
		{k.Quit},
	}
}

type model struct {
	client      *statusClient
	interval    time.Duration
	currentView view
	nodeTable   table.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int

	status  session.Status
	have    bool
	lastErr error
	lastAt  time.Time
	fps     float64
}

func initialModel(client *statusClient, interval time.Duration) model {
	columns := []table.Column{
		{Title: "ID", Width: 16},
		{Title: "Host", Width: 20},
		{Title: "Role", Width: 10},
		{Title: "Active", Width: 8},
		{Title: "Link", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#00FFFF")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#FF00FF")).
		Bold(false)
	t.SetStyles(s)

	return model{
		client:      client,
		interval:    interval,
		currentView: dashboardView,
		nodeTable:   t,
		help:        help.New(),
		keys:        keys,
	}
}

func (m model) Init() tea.Cmd {
	return m.client.fetchCmd()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case tickMsg:
		return m, m.client.fetchCmd()

	case statusMsg:
		m.applyStatus(msg)
		return m, tickCmd(m.interval)

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Tab):
			m.currentView = (m.currentView + 1) % viewCount

		case key.Matches(msg, m.keys.ShiftTab):
			m.currentView = (m.currentView + viewCount - 1) % viewCount

		case key.Matches(msg, m.keys.Refresh):
			return m, m.client.fetchCmd()
		}
	}

	if m.currentView == nodesView {
		m.nodeTable, cmd = m.nodeTable.Update(msg)
	}
	return m, cmd
}

// applyStatus folds one poll into the model. The frame rate is measured
// between consecutive successful polls of the same session.
func (m *model) applyStatus(msg statusMsg) {
	m.lastErr = msg.err
	if msg.err != nil {
		return
	}

	if m.have && m.status.SessionID == msg.status.SessionID && msg.status.Frame >= m.status.Frame {
		if dt := msg.at.Sub(m.lastAt).Seconds(); dt > 0 {
			m.fps = float64(msg.status.Frame-m.status.Frame) / dt
		}
	} else {
		m.fps = 0
	}

	m.status = msg.status
	m.lastAt = msg.at
	m.have = true
	m.nodeTable.SetRows(nodeRows(msg.status.Nodes))
}

func nodeRows(nodes []session.NodeStatus) []table.Row {
	rows := make([]table.Row, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, table.Row{n.ID, n.Host, n.Role, yesNo(n.Active), yesNo(n.Connected)})
	}
	return rows
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (m model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var s strings.Builder

	s.WriteString(titleStyle.Render("Cluso Lockstep - Cluster Monitor"))
	s.WriteString("\n\n")

	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	if !m.have {
		s.WriteString(contentStyle.Render("Waiting for " + m.client.url))
	} else {
		switch m.currentView {
		case dashboardView:
			s.WriteString(m.renderDashboard())
		case nodesView:
			s.WriteString(m.renderNodes())
		case gatesView:
			s.WriteString(m.renderGates())
		}
	}

	s.WriteString("\n\n")
	switch {
	case m.lastErr != nil:
		s.WriteString(errorStyle.Render("✗ " + m.lastErr.Error()))
	case m.have && m.status.Error != "":
		s.WriteString(errorStyle.Render("✗ session ended: " + m.status.Error))
	case m.have:
		s.WriteString(successStyle.Render(fmt.Sprintf("✓ updated %s", m.lastAt.Format("15:04:05.000"))))
	}

	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))

	return s.String()
}

func (m model) renderTabs() string {
	renderedTabs := make([]string, 0, viewCount)
	for i, tab := range viewNames {
		if view(i) == m.currentView {
			renderedTabs = append(renderedTabs, activeTabStyle.Render(tab))
		} else {
			renderedTabs = append(renderedTabs, inactiveTabStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
}

func (m model) renderDashboard() string {
	st := m.status

	active := 0
	for _, n := range st.Nodes {
		if n.Active {
			active++
		}
	}

	sessionContent := fmt.Sprintf(`Session
───────────────
Node:      %s
Role:      %s
Mode:      %s
Transport: %s
Failover:  %s
Running:   %s
Uptime:    %s

Frames
───────────────
Frame:     %d
Rate:      %.1f fps
Last:      %s`,
		st.NodeID,
		st.Role,
		st.Mode,
		orDash(st.Transport),
		st.Failover,
		yesNo(st.Running),
		st.Uptime.Round(time.Second),
		st.Frame,
		m.fps,
		st.FrameTime.Round(time.Microsecond),
	)

	c := st.Cache
	clusterContent := fmt.Sprintf(`Cluster
───────────────
Nodes:     %d/%d active
Epoch:     %d

Frame Cache
───────────────
Computes:  %d
Hits:      %d
Clears:    %d

Pending Events
───────────────
JSON:      %d
Binary:    %d`,
		active, len(st.Nodes),
		st.Epoch,
		c.Computes(),
		c.Hits,
		c.Clears,
		st.Pending.JSON,
		st.Pending.Binary,
	)

	return contentStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Top,
			statsBoxStyle.Render(sessionContent),
			statsBoxStyle.Render(clusterContent)),
	)
}

func (m model) renderNodes() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render("Cluster Nodes"))
	s.WriteString("\n\n")
	s.WriteString(m.nodeTable.View())

	return contentStyle.Render(s.String())
}

func (m model) renderGates() string {
	var s strings.Builder

	s.WriteString(headerStyle.Render("Barriers"))
	s.WriteString("\n\n")

	if len(m.status.Gates) == 0 {
		s.WriteString("No barriers on this node")
		return contentStyle.Render(s.String())
	}

	for _, gate := range gateOrder(m.status.Gates) {
		line := fmt.Sprintf("%-12s %s", gate, m.status.Gates[gate])
		if missing := m.status.Timeouts[gate]; len(missing) > 0 {
			line += errorStyle.Render("  last timeout: " + strings.Join(missing, ", "))
		}
		s.WriteString(line + "\n")
	}

	return contentStyle.Render(s.String())
}

// gateOrder lists gates in the order a frame passes them, then any unknown
// names alphabetically
func gateOrder(gates map[string]string) []string {
	out := make([]string, 0, len(gates))
	seen := make(map[string]bool, len(gates))
	for _, g := range protocol.Gates {
		name := g.String()
		if _, ok := gates[name]; ok {
			out = append(out, name)
			seen[name] = true
		}
	}
	var rest []string
	for name := range gates {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
