package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pingcounter/internal/engine"
)

type countersModel struct {
	table    table.Model
	counters []engine.CounterSnapshot
	loaded   bool
	width    int
	height   int

	// Check state.
	checkingSingle bool
	checkingBatch  bool
	batchProgress  progress.Model
	batchCurrent   int
	batchTotal     int
}

func counterColumns(width int) []table.Column {
	nameW, addrW := 20, 20
	if width > 100 {
		nameW = width/4 - 5
		addrW = width/5 - 2
	}
	return []table.Column{
		{Title: "Counter", Width: nameW},
		{Title: "Address", Width: addrW},
		{Title: "Failures", Width: 10},
		{Title: "Alert", Width: 6},
		{Title: "Last", Width: 16},
		{Title: "Next", Width: 6},
	}
}

func newCountersModel() countersModel {
	t := table.New(
		table.WithColumns(counterColumns(0)),
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

	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithoutPercentage(),
	)

	return countersModel{
		table:         t,
		batchProgress: p,
	}
}

func (cm *countersModel) setSize(w, h int) {
	cm.width = w
	cm.height = h
	cm.adjustTableHeight()
	cm.table.SetColumns(counterColumns(w))
	cm.batchProgress.Width = w - 4
}

// adjustTableHeight leaves room for the check indicator line.
func (cm *countersModel) adjustTableHeight() {
	overhead := 0
	if cm.checkingSingle || cm.checkingBatch {
		overhead++
	}
	th := cm.height - overhead
	if th < 1 {
		th = 1
	}
	cm.table.SetHeight(th)
}

func (cm *countersModel) setCounters(snaps []engine.CounterSnapshot) {
	cm.counters = snaps
	cm.loaded = true

	rows := make([]table.Row, len(snaps))
	for i, s := range snaps {
		alert := "off"
		if s.State.AlertActive {
			alert = "ON"
		}
		rows[i] = table.Row{
			truncate(s.Target.Name, 30),
			s.Target.Address,
			fmt.Sprintf("%d/%d", s.State.ConsecutiveFailures, s.Target.Threshold),
			alert,
			lastOutcome(s),
			nextRun(s.NextRun),
		}
	}
	cm.table.SetRows(rows)
}

func (cm *countersModel) selected() *engine.CounterSnapshot {
	idx := cm.table.Cursor()
	if idx >= 0 && idx < len(cm.counters) {
		return &cm.counters[idx]
	}
	return nil
}

func (cm *countersModel) alerting() int {
	n := 0
	for _, s := range cm.counters {
		if s.State.AlertActive {
			n++
		}
	}
	return n
}

func (cm *countersModel) updateProgress(msg checkProgressMsg) {
	cm.batchCurrent = msg.current
	cm.batchTotal = msg.total
}

func (cm *countersModel) Update(msg tea.Msg, root *Model) tea.Cmd {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Enter):
			if cm.selected() != nil {
				root.activeTab = tabStatus
				return root.onTabChange()
			}

		case key.Matches(msg, keys.TestSingle):
			snap := cm.selected()
			if snap != nil && !cm.checkingSingle && !cm.checkingBatch {
				cm.checkingSingle = true
				cm.adjustTableHeight()
				return tea.Batch(
					checkSingle(root.newStrategy, root.store, snap.Target.Name, snap.Target.Address, root.checkSettings()),
					root.spinner.Tick,
				)
			}

		case key.Matches(msg, keys.TestBatch):
			if len(cm.counters) > 0 && !cm.checkingBatch && !cm.checkingSingle {
				addresses := make([]string, len(cm.counters))
				for i, s := range cm.counters {
					addresses[i] = s.Target.Address
				}
				cm.checkingBatch = true
				cm.batchCurrent = 0
				cm.batchTotal = len(addresses)
				cm.adjustTableHeight()
				return tea.Batch(
					checkBatch(root.newStrategy, root.store, addresses, root.program, root.checkSettings()),
					root.spinner.Tick,
				)
			}
		}
	}

	var cmd tea.Cmd
	cm.table, cmd = cm.table.Update(msg)
	return cmd
}

func (cm *countersModel) View(s spinner.Model) string {
	var b strings.Builder

	if cm.checkingSingle {
		b.WriteString(s.View() + " Probing...\n")
	} else if cm.checkingBatch {
		pct := 0.0
		if cm.batchTotal > 0 {
			pct = float64(cm.batchCurrent) / float64(cm.batchTotal)
		}
		b.WriteString(fmt.Sprintf("%s Probing %d/%d ", s.View(), cm.batchCurrent, cm.batchTotal))
		b.WriteString(cm.batchProgress.ViewAs(pct))
		b.WriteString("\n")
	}

	if cm.loaded && len(cm.counters) == 0 {
		b.WriteString(dimStyle.Render("No counters configured"))
	} else {
		b.WriteString(cm.table.View())
	}

	return forceHeight(b.String(), cm.width, cm.height)
}

func lastOutcome(s engine.CounterSnapshot) string {
	switch {
	case s.InFlight:
		return "probing"
	case s.State.LastOutcome == nil:
		return "-"
	case s.State.LastOutcome.OK():
		return formatRTT(s.State.LastOutcome.RTT)
	case s.State.LastOutcome.Reason != "":
		return s.State.LastOutcome.Reason
	default:
		return s.State.LastOutcome.Kind.String()
	}
}

func nextRun(at time.Time) string {
	if at.IsZero() {
		return "-"
	}
	d := time.Until(at).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

func formatRTT(d time.Duration) string {
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "~"
}
