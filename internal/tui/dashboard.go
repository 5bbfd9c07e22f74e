// Package tui renders the live dashboard: path list with running counters,
// the selected path's per-minute chart and its most recent records. All data
// flows through the reconciliation store; the dashboard never talks to the
// service directly.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hookscope/internal/console"
	"hookscope/internal/httpcontract"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = time.Second
	opTimeout       = 15 * time.Second
	recordPanelRows = 8
)

type tickMsg time.Time

type pathsLoadedMsg struct {
	err error
}

type pathSelectedMsg struct {
	err error
}

// DashboardModel is the bubbletea model for the live console view.
type DashboardModel struct {
	store *console.Store

	paths    []httpcontract.Path
	selected int
	spin     spinner.Model
	width    int
	height   int
	lastErr  error
}

// NewDashboard creates the dashboard backed by the given store. The store is
// expected to be subscribed to live updates already.
func NewDashboard(store *console.Store) *DashboardModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return &DashboardModel{store: store, spin: sp}
}

func (m *DashboardModel) Init() tea.Cmd {
	return tea.Batch(m.loadPathsCmd(), m.spin.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *DashboardModel) loadPathsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		_, err := m.store.ListPaths(ctx)
		return pathsLoadedMsg{err: err}
	}
}

// selectCmd loads the chart series and record page for the selected path.
func (m *DashboardModel) selectCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()
		if _, err := m.store.LoadChartSeries(ctx, id); err != nil {
			return pathSelectedMsg{err: err}
		}
		err := m.store.LoadPageData(ctx, id, recordPanelRows, 0)
		return pathSelectedMsg{err: err}
	}
}

func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
				return m, m.selectedPathCmd()
			}
		case "down", "j":
			if m.selected < len(m.paths)-1 {
				m.selected++
				return m, m.selectedPathCmd()
			}
		case "r":
			return m, m.loadPathsCmd()
		}
		return m, nil

	case pathsLoadedMsg:
		m.lastErr = msg.err
		m.paths = m.store.Paths()
		if m.selected >= len(m.paths) {
			m.selected = 0
		}
		if msg.err == nil && len(m.paths) > 0 {
			return m, m.selectedPathCmd()
		}
		return m, nil

	case pathSelectedMsg:
		m.lastErr = msg.err
		return m, nil

	case tickMsg:
		// Pull fresh snapshots so live updates show without key presses.
		m.paths = m.store.Paths()
		if m.selected >= len(m.paths) {
			m.selected = 0
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *DashboardModel) selectedPathCmd() tea.Cmd {
	if m.selected < 0 || m.selected >= len(m.paths) {
		return nil
	}
	return m.selectCmd(m.paths[m.selected].ID)
}

func (m *DashboardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	listWidth := m.width / 3
	if listWidth < 28 {
		listWidth = 28
	}
	rightWidth := m.width - listWidth - 4

	left := m.renderPathList(listWidth)
	right := lipgloss.JoinVertical(lipgloss.Left,
		m.renderChart(rightWidth),
		m.renderRecords(rightWidth),
	)

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	status := helpStyle.Render("up/down: select  r: refresh  q: quit")
	if m.lastErr != nil {
		status = errStyle.Render("error: " + m.lastErr.Error())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("hookscope"),
		body,
		status,
	)
}

func (m *DashboardModel) renderPathList(width int) string {
	var b strings.Builder
	b.WriteString(chartTitleStyle.Render("Paths") + "\n")

	if len(m.paths) == 0 {
		b.WriteString(helpStyle.Render("No paths defined"))
	}
	for i, p := range m.paths {
		line := fmt.Sprintf("%-*s %s", width-12, truncate(p.Route, width-12),
			countStyle.Render(fmt.Sprintf("%6d", p.WebhookCount)))
		if i == m.selected {
			line = selectedRowStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}

	return sectionStyle.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func (m *DashboardModel) renderChart(width int) string {
	var inner string
	if m.selected < len(m.paths) {
		id := m.paths[m.selected].ID
		if series, ok := m.store.Series(id); ok {
			inner = renderSeries(series, width-4, 9)
		} else {
			inner = helpStyle.Render("No chart data yet")
		}
	} else {
		inner = helpStyle.Render("Select a path")
	}
	return activeSectionStyle.Width(width).Render(inner)
}

func (m *DashboardModel) renderRecords(width int) string {
	view := m.store.PageView()

	var b strings.Builder
	header := fmt.Sprintf("Recent records (%d total)", view.Total)
	if view.Loading {
		header += " " + m.spin.View()
	}
	b.WriteString(chartTitleStyle.Render(header) + "\n")

	if len(view.Records) == 0 {
		b.WriteString(helpStyle.Render("No records"))
	}
	for i, rec := range view.Records {
		if i >= recordPanelRows {
			break
		}
		line := fmt.Sprintf("%s  %-24s %s",
			rec.ReceivedAt.Local().Format("15:04:05"),
			truncate(rec.ContentType, 24),
			rec.IPAddress,
		)
		b.WriteString(truncate(line, width-4) + "\n")
	}

	return sectionStyle.Width(width).Render(strings.TrimRight(b.String(), "\n"))
}

func truncate(s string, max int) string {
	if max <= 3 {
		return s
	}
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// Run starts the dashboard and blocks until the user quits.
func Run(store *console.Store) error {
	p := tea.NewProgram(NewDashboard(store), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
