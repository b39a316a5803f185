package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pingcounter/internal/engine"
	"pingcounter/internal/server"
	"pingcounter/internal/storage/models"
)

type statusModel struct {
	width  int
	height int

	counter *engine.CounterSnapshot
	uptime  *server.CounterUptime
}

func newStatusModel() statusModel {
	return statusModel{}
}

func (sm *statusModel) setSize(w, h int) {
	sm.width = w
	sm.height = h
}

func (sm *statusModel) setCounter(snap *engine.CounterSnapshot) {
	if snap == nil {
		sm.counter = nil
		return
	}
	if sm.counter == nil || sm.counter.Target.Name != snap.Target.Name {
		sm.uptime = nil
	}
	c := *snap
	sm.counter = &c
}

func (sm *statusModel) setHistory(name string, probes []*models.ProbeRecord) {
	if sm.counter == nil || sm.counter.Target.Name != name {
		return
	}
	sm.uptime = nil
	for _, u := range server.ComputeUptime(probes) {
		if u.Counter == name {
			sm.uptime = &u
		}
	}
}

func (sm *statusModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	return nil
}

func (sm *statusModel) View() string {
	var content string
	if sm.counter == nil {
		content = sm.viewEmpty()
	} else {
		content = sm.viewCounter(*sm.counter)
	}
	return forceHeight(content, sm.width, sm.height)
}

func (sm *statusModel) viewEmpty() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		cardTitleStyle.Render("Counter Status"),
		"",
		lipgloss.NewStyle().Foreground(colorDimFg).Render("No counter selected"),
		"",
		dimStyle.Render("Select a counter on the Counters tab and press enter"),
	)
	return cardStyle.Width(sm.cardWidth()).Render(content)
}

func (sm *statusModel) viewCounter(snap engine.CounterSnapshot) string {
	var sections []string

	alert := successStyle.Render("OFF")
	if snap.State.AlertActive {
		alert = errorStyle.Render("ON")
	}
	failures := fmt.Sprintf("%d of %d", snap.State.ConsecutiveFailures, snap.Target.Threshold)
	if snap.State.ConsecutiveFailures > 0 && !snap.State.AlertActive {
		failures = warningStyle.Render(failures)
	}

	rows := []string{
		sm.row("Counter", snap.Target.Name),
		sm.row("Address", snap.Target.Address),
		sm.row("Interval", snap.Target.Interval.String()),
		sm.row("Failures", failures),
		sm.row("Alert", alert),
	}
	if snap.Alert != "" {
		rows = append(rows, sm.row("Output", snap.Alert))
	}
	if snap.State.LastOutcome != nil {
		rows = append(rows, sm.row("Last", renderOutcome(snap)))
		rows = append(rows, sm.row("Probed", snap.State.LastProbeAt.Local().Format("15:04:05")))
	}
	if !snap.NextRun.IsZero() {
		rows = append(rows, sm.row("Next", nextRun(snap.NextRun)))
	}
	rows = append(rows,
		sm.row("Probes", fmt.Sprintf("%d", snap.State.Probes)),
		sm.row("Skipped", fmt.Sprintf("%d", snap.State.Skipped)),
	)

	sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
		append([]string{cardTitleStyle.Render("Counter")}, rows...)...,
	))

	if u := sm.uptime; u != nil {
		uptimeRows := []string{
			sm.row("Uptime", fmt.Sprintf("%.2f%%", u.UptimePercent)),
			sm.row("Probes", fmt.Sprintf("%d", u.TotalProbes)),
			sm.row("Answered", fmt.Sprintf("%d", u.Succeeded)),
			sm.row("Failed", fmt.Sprintf("%d", u.Failed)),
			sm.row("Timed out", fmt.Sprintf("%d", u.TimedOut)),
			sm.row("Avg RTT", rttStyle(u.AvgRTTMs).Render(fmt.Sprintf("%.1fms", u.AvgRTTMs))),
		}
		sections = append(sections, lipgloss.JoinVertical(lipgloss.Left,
			append([]string{cardTitleStyle.Render(fmt.Sprintf("Last %d probes", historyWindow))}, uptimeRows...)...,
		))
	}

	// Layout: side by side if wide enough.
	w := sm.cardWidth()
	if len(sections) == 2 && sm.width > 80 {
		halfW := (w - 4) / 2
		left := cardStyle.Width(halfW).Render(sections[0])
		right := cardStyle.Width(halfW).Render(sections[1])
		return lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	}

	var rendered []string
	for _, s := range sections {
		rendered = append(rendered, cardStyle.Width(w).Render(s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rendered...)
}

func (sm *statusModel) cardWidth() int {
	w := sm.width - 6
	if w < 30 {
		w = 30
	}
	return w
}

func (sm *statusModel) row(label, value string) string {
	return cardLabelStyle.Render(label+":") + " " + cardValueStyle.Render(value)
}

func renderOutcome(snap engine.CounterSnapshot) string {
	o := snap.State.LastOutcome
	if o.OK() {
		ms := float64(o.RTT.Microseconds()) / 1000
		return rttStyle(ms).Render(formatRTT(o.RTT))
	}
	return errorStyle.Render(o.String())
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
