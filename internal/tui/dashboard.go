// Package tui implements the optional pool-status dashboard: a
// single-screen bubbletea program that polls the warm-pool and
// renders it live, grounded on the teacher's screens/servers.go
// discovery loop (3s tea.Tick poll, bubbles/key bindings, bubbles/help
// footer, lipgloss cursor styling) with the multi-screen wizard stack
// and its screens removed since this repo has only one screen to show.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/neurovisor/neurovisor/internal/vm"
)

// StatsFunc fetches one PoolStats snapshot, e.g. by querying a running
// daemon's control socket. Errors are shown in the dashboard rather than
// exiting it, since a daemon restart should not kill the viewer.
type StatsFunc func() (vm.PoolStats, error)

var (
	colorPrimary = lipgloss.AdaptiveColor{Light: "#2F71F2", Dark: "#4A90FF"}
	colorDim     = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#666666"}
	colorSuccess = lipgloss.AdaptiveColor{Light: "#04B575", Dark: "#04B575"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"}
)

const pollInterval = 3 * time.Second

type statsTickMsg struct{}

type statsMsg struct {
	stats vm.PoolStats
	err   error
}

type dashboardKeyMap struct {
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Refresh, k.Help, k.Quit}
}

func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Refresh, k.Help, k.Quit}}
}

var dashboardKeys = dashboardKeyMap{
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Dashboard is the single-screen bubbletea model showing live warm-pool
// occupancy for a running daemon.
type Dashboard struct {
	fetch  StatsFunc
	keys   dashboardKeyMap
	help   help.Model
	stats  vm.PoolStats
	err    error
	width  int
	height int
}

func NewDashboard(fetch StatsFunc) *Dashboard {
	return &Dashboard{
		fetch: fetch,
		keys:  dashboardKeys,
		help:  help.New(),
	}
}

func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.poll(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return statsTickMsg{} })
}

func (d *Dashboard) poll() tea.Cmd {
	return func() tea.Msg {
		stats, err := d.fetch()
		return statsMsg{stats: stats, err: err}
	}
}

func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.help.Width = msg.Width
		return d, nil

	case statsTickMsg:
		return d, tea.Batch(d.poll(), tick())

	case statsMsg:
		d.err = msg.err
		if msg.err == nil {
			d.stats = msg.stats
		}
		return d, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, d.keys.Refresh):
			return d, d.poll()
		case key.Matches(msg, d.keys.Help):
			d.help.ShowAll = !d.help.ShowAll
			return d, nil
		case key.Matches(msg, d.keys.Quit):
			return d, tea.Quit
		}
	}
	return d, nil
}

func (d *Dashboard) View() string {
	var b strings.Builder

	title := lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	b.WriteString(title.Render("neurovisor — pool status") + "\n\n")

	warmStyle := lipgloss.NewStyle().Foreground(colorSuccess)
	activeStyle := lipgloss.NewStyle().Foreground(colorWarning)
	dimStyle := lipgloss.NewStyle().Foreground(colorDim)

	b.WriteString(fmt.Sprintf("  warm:    %s\n", warmStyle.Render(fmt.Sprintf("%d", d.stats.WarmCount))))
	b.WriteString(fmt.Sprintf("  active:  %s\n", activeStyle.Render(fmt.Sprintf("%d", d.stats.ActiveCount))))
	b.WriteString(fmt.Sprintf("  max:     %d\n", d.stats.MaxPoolSize))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  created: %d  destroyed: %d\n", d.stats.TotalCreated, d.stats.TotalDestroyed)))

	if d.err != nil {
		b.WriteString("\n" + lipgloss.NewStyle().Foreground(colorWarning).Render("error: "+d.err.Error()) + "\n")
	}

	b.WriteString("\n" + d.help.View(d.keys))
	return b.String()
}

// Run starts the dashboard program against fetch and blocks until the
// user quits.
func Run(fetch StatsFunc) error {
	p := tea.NewProgram(NewDashboard(fetch), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
