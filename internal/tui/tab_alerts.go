package tui

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pingcounter/internal/storage/models"
)

type alertsModel struct {
	table  table.Model
	events []*models.AlertEvent
	width  int
	height int
}

func newAlertsModel() alertsModel {
	cols := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Counter", Width: 25},
		{Title: "Address", Width: 25},
		{Title: "State", Width: 6},
		{Title: "For", Width: 12},
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorBorder).
		BorderBottom(true).
		Bold(true).
		Foreground(colorPurple)
	s.Selected = s.Selected.
		Foreground(colorFg).
		Background(lipgloss.AdaptiveColor{Light: "#E8E0F0", Dark: "#2A1A3E"}).
		Bold(true)
	t.SetStyles(s)

	return alertsModel{table: t}
}

func (am *alertsModel) setSize(w, h int) {
	am.width = w
	am.height = h
	am.table.SetHeight(max(h-1, 1))
}

// setEvents fills the table newest first. The For column shows how long
// each state lasted, or has lasted so far for the latest one of a counter.
func (am *alertsModel) setEvents(events []*models.AlertEvent) {
	am.events = events

	next := make(map[string]time.Time)
	rows := make([]table.Row, len(events))
	for i, ev := range events {
		end, ok := next[ev.Counter]
		if !ok {
			end = time.Now()
		}
		next[ev.Counter] = ev.ChangedAt

		rows[i] = table.Row{
			ev.ChangedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(ev.Counter, 25),
			ev.Address,
			ev.State(),
			formatDuration(end.Sub(ev.ChangedAt)),
		}
	}
	am.table.SetRows(rows)
}

func (am *alertsModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	var cmd tea.Cmd
	am.table, cmd = am.table.Update(msg)
	return cmd
}

func (am *alertsModel) View() string {
	var b strings.Builder
	if len(am.events) == 0 {
		b.WriteString(titleStyle.Render("Alert Transitions"))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("No alert transitions recorded"))
		return forceHeight(b.String(), am.width, am.height)
	}
	b.WriteString(dimStyle.Render("Most recent alert transitions"))
	b.WriteString("\n")
	b.WriteString(am.table.View())
	return forceHeight(b.String(), am.width, am.height)
}
