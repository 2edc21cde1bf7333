// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

// Package fleetview is the terminal UI behind roost-viewer: a live
// table of the cluster's workers, polled from the controller's status
// API. The model is plain bubbletea so cmd/roost-viewer stays a thin
// flag-parsing shell.
package fleetview

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/roost-cluster/roost/lib/schema"
)

// StatusFetcher retrieves the controller's current status report.
type StatusFetcher func(ctx context.Context) (schema.StatusReport, error)

// Theme is the viewer's color palette, in ANSI 256-color codes for
// broad terminal compatibility.
type Theme struct {
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	FaintText        lipgloss.Color

	HealthOnline  lipgloss.Color
	HealthSuspect lipgloss.Color
	HealthOffline lipgloss.Color
}

// DefaultTheme returns the standard palette.
func DefaultTheme() Theme {
	return Theme{
		HeaderForeground: lipgloss.Color("39"),
		BorderColor:      lipgloss.Color("240"),
		FaintText:        lipgloss.Color("245"),
		HealthOnline:     lipgloss.Color("42"),
		HealthSuspect:    lipgloss.Color("214"),
		HealthOffline:    lipgloss.Color("196"),
	}
}

// HealthColor returns the palette color for a health state.
func (t Theme) HealthColor(health schema.Health) lipgloss.Color {
	switch health {
	case schema.HealthOnline:
		return t.HealthOnline
	case schema.HealthSuspect:
		return t.HealthSuspect
	case schema.HealthOffline:
		return t.HealthOffline
	default:
		return t.FaintText
	}
}

type statusMsg schema.StatusReport

type statusErrMsg struct{ err error }

type tickMsg time.Time

// Model is the fleet table. Create with New, run with tea.NewProgram.
type Model struct {
	fetch    StatusFetcher
	interval time.Duration
	theme    Theme

	table   table.Model
	spinner spinner.Model

	report  *schema.StatusReport
	fetched time.Time
	err     error
	width   int
	height  int
}

// New returns a model polling fetch every interval.
func New(fetch StatusFetcher, interval time.Duration) Model {
	theme := DefaultTheme()

	columns := []table.Column{
		{Title: "ID", Width: 4},
		{Title: "NAME", Width: 16},
		{Title: "HEALTH", Width: 8},
		{Title: "CONTROL IP", Width: 15},
		{Title: "DATA PLANE", Width: 10},
		{Title: "DATA IP", Width: 15},
		{Title: "DATA OK", Width: 8},
		{Title: "LAST SEEN", Width: 12},
	}
	tbl := table.New(table.WithColumns(columns), table.WithFocused(true))
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Foreground(theme.HeaderForeground).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.BorderColor).
		BorderBottom(true).
		Bold(true)
	tbl.SetStyles(styles)

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return Model{
		fetch:    fetch,
		interval: interval,
		theme:    theme,
		table:    tbl,
		spinner:  spin,
	}
}

// Init starts the spinner and the first poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.fetchCmd())
}

func (m Model) fetchCmd() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		report, err := fetch(ctx)
		if err != nil {
			return statusErrMsg{err: err}
		}
		return statusMsg(report)
	}
}

func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles polling, resize, and key events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case statusMsg:
		report := schema.StatusReport(msg)
		m.report = &report
		m.fetched = time.Now()
		m.err = nil
		m.table.SetRows(workerRows(report.Workers))
		return m, m.scheduleTick()

	case statusErrMsg:
		// Keep the previous table contents; the error banner explains
		// the staleness.
		m.err = msg.err
		return m, m.scheduleTick()

	case tickMsg:
		return m, m.fetchCmd()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(3, msg.Height-6))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.fetchCmd()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func workerRows(workers []schema.WorkerRegistration) []table.Row {
	rows := make([]table.Row, 0, len(workers))
	for _, worker := range workers {
		dataOK := "no"
		if worker.DataConnectivity {
			dataOK = "yes"
		}
		rows = append(rows, table.Row{
			strconv.Itoa(worker.WorkerID),
			worker.Identifier,
			string(worker.Health),
			worker.ControlIP,
			string(worker.DataPlane),
			worker.DataIP,
			dataOK,
			ago(time.Since(worker.LastSeen)),
		})
	}
	return rows
}

// ago renders a staleness duration compactly: "3s", "2m", "1h".
func ago(d time.Duration) string {
	switch {
	case d < 0:
		return "0s"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
}

// View renders the header, the table, and the health summary footer.
func (m Model) View() string {
	if m.report == nil {
		if m.err != nil {
			return fmt.Sprintf("\n  %s\n\n  press q to quit\n", m.errorLine())
		}
		return fmt.Sprintf("\n  %s contacting controller...\n", m.spinner.View())
	}

	headerStyle := lipgloss.NewStyle().Foreground(m.theme.HeaderForeground).Bold(true)
	faint := lipgloss.NewStyle().Foreground(m.theme.FaintText)

	header := headerStyle.Render(fmt.Sprintf("Roost fleet: %s (%s)",
		m.report.Identifier, m.report.Version))
	footer := m.summaryLine()
	if m.err != nil {
		footer = m.errorLine() + "\n" + footer
	}
	help := faint.Render("q quit · r refresh · ↑/↓ select")

	return fmt.Sprintf("%s\n\n%s\n\n%s\n%s\n", header, m.table.View(), footer, help)
}

// summaryLine counts workers by health with the health colors applied.
func (m Model) summaryLine() string {
	counts := map[schema.Health]int{}
	for _, worker := range m.report.Workers {
		counts[worker.Health]++
	}
	style := func(health schema.Health) lipgloss.Style {
		return lipgloss.NewStyle().Foreground(m.theme.HealthColor(health))
	}
	line := fmt.Sprintf("%s %d · %s %d · %s %d",
		style(schema.HealthOnline).Render("online"), counts[schema.HealthOnline],
		style(schema.HealthSuspect).Render("suspect"), counts[schema.HealthSuspect],
		style(schema.HealthOffline).Render("offline"), counts[schema.HealthOffline],
	)
	if m.report.Pending > 0 {
		line += fmt.Sprintf(" · pending %d", m.report.Pending)
	}
	return line
}

func (m Model) errorLine() string {
	style := lipgloss.NewStyle().Foreground(m.theme.HealthOffline)
	return style.Render(fmt.Sprintf("controller unreachable: %v", m.err))
}
