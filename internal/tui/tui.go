package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pingcounter/internal/check"
	"pingcounter/internal/engine"
	"pingcounter/internal/storage"
)

// Tab indices.
const (
	tabCounters = 0
	tabStatus   = 1
	tabAlerts   = 2
	tabSettings = 3
	tabCount    = 4
)

// Snapshotter reads counter state. *engine.Engine satisfies it.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]engine.CounterSnapshot, error)
}

// StrategyFactory builds the probe strategy used for manual checks.
type StrategyFactory func(name string, port int) (check.Strategy, error)

// Model is the root BubbleTea model.
type Model struct {
	// Dependencies.
	counters    Snapshotter
	store       storage.Storage
	newStrategy StrategyFactory
	program     *tea.Program

	// Dimensions.
	width  int
	height int

	// Navigation.
	activeTab int
	showHelp  bool

	// Tab models.
	countersTab countersModel
	statusTab   statusModel
	alertsTab   alertsModel
	settingsTab settingsModel

	// Notification.
	notification    string
	notificationErr bool
	notifVersion    int

	// Spinner for async operations.
	spinner spinner.Model
}

// Deps holds all dependencies injected into the TUI.
type Deps struct {
	Counters    Snapshotter
	Storage     storage.Storage
	NewStrategy StrategyFactory
}

// checkSettings are the manual check parameters read from the settings tab.
type checkSettings struct {
	strategy string
	workers  int64
	timeout  time.Duration
	port     int
}

// NewModel creates a new root Model.
func NewModel(deps Deps) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return &Model{
		counters:    deps.Counters,
		store:       deps.Storage,
		newStrategy: deps.NewStrategy,
		activeTab:   tabCounters,
		spinner:     s,
		countersTab: newCountersModel(),
		statusTab:   newStatusModel(),
		alertsTab:   newAlertsModel(),
		settingsTab: newSettingsModel(),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		loadCounters(m.counters),
		loadAlerts(m.store),
		loadSettings(m.store),
		refreshTick(),
		m.spinner.Tick,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	prevNotifVersion := m.notifVersion

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		ch := m.contentHeight()
		m.countersTab.setSize(msg.Width, ch)
		m.statusTab.setSize(msg.Width, ch)
		m.alertsTab.setSize(msg.Width, ch)
		m.settingsTab.setSize(msg.Width, ch)
		return m, nil

	case tea.KeyMsg:
		if cmd := m.handleGlobalKey(msg); cmd != nil {
			return m, cmd
		}

	// Data loading.
	case countersLoadedMsg:
		if msg.err == nil {
			m.countersTab.setCounters(msg.counters)
			m.statusTab.setCounter(m.countersTab.selected())
		}
	case alertsLoadedMsg:
		if msg.err == nil {
			m.alertsTab.setEvents(msg.events)
		}
	case historyLoadedMsg:
		if msg.err == nil {
			m.statusTab.setHistory(msg.counter, msg.probes)
		}
	case settingsLoadedMsg:
		if msg.err == nil {
			m.settingsTab.setSettings(msg.settings)
		}

	// Polling.
	case refreshTickMsg:
		cmds = append(cmds, loadCounters(m.counters), refreshTick())
		switch m.activeTab {
		case tabAlerts:
			cmds = append(cmds, loadAlerts(m.store))
		case tabStatus:
			if snap := m.countersTab.selected(); snap != nil {
				cmds = append(cmds, loadHistory(m.store, snap.Target.Name))
			}
		}

	// Manual checks.
	case checkProgressMsg:
		m.countersTab.updateProgress(msg)
	case checkDoneMsg:
		m.countersTab.checkingBatch = false
		m.countersTab.adjustTableHeight()
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Check failed: %v", msg.err), true)
		} else {
			m.setNotification(
				fmt.Sprintf("Probed %d: %d answered, %d failed",
					msg.batch.Tested, msg.batch.Succeeded, msg.batch.Failed), false)
		}
	case singleCheckDoneMsg:
		m.countersTab.checkingSingle = false
		m.countersTab.adjustTableHeight()
		switch {
		case msg.err != nil:
			m.setNotification(fmt.Sprintf("%s: %v", msg.counter, msg.err), true)
		case msg.result.Outcome.OK():
			m.setNotification(fmt.Sprintf("%s: %s", msg.counter, formatRTT(msg.result.Outcome.RTT)), false)
		default:
			m.setNotification(fmt.Sprintf("%s: %s", msg.counter, msg.result.Outcome), true)
		}

	// Settings.
	case settingSavedMsg:
		if msg.err != nil {
			m.setNotification(fmt.Sprintf("Save failed: %v", msg.err), true)
		} else {
			m.setNotification(fmt.Sprintf("Saved %s", msg.key), false)
		}

	// Notification.
	case clearNotificationMsg:
		if msg.version == m.notifVersion {
			m.notification = ""
			m.notificationErr = false
		}
	}

	// Spinner.
	if m.countersTab.checkingSingle || m.countersTab.checkingBatch {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	// Schedule notification auto-clear when a new notification was set.
	if m.notifVersion > prevNotifVersion && m.notification != "" {
		cmds = append(cmds, clearNotification(4*time.Second, m.notifVersion))
	}

	// Delegate to active tab.
	switch m.activeTab {
	case tabCounters:
		cmds = append(cmds, m.countersTab.Update(msg, m))
	case tabStatus:
		cmds = append(cmds, m.statusTab.Update(msg, m))
	case tabAlerts:
		cmds = append(cmds, m.alertsTab.Update(msg, m))
	case tabSettings:
		cmds = append(cmds, m.settingsTab.Update(msg, m))
	}

	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	header := renderHeader(m.activeTab, m.countersTab.loaded, m.countersTab.alerting(), len(m.countersTab.counters), m.width)

	var content string
	switch m.activeTab {
	case tabCounters:
		content = m.countersTab.View(m.spinner)
	case tabStatus:
		content = m.statusTab.View()
	case tabAlerts:
		content = m.alertsTab.View()
	case tabSettings:
		content = m.settingsTab.View()
	}

	var notif string
	if m.notification != "" {
		if m.notificationErr {
			notif = notifErrorStyle.Render("! " + m.notification)
		} else {
			notif = notifSuccessStyle.Render("* " + m.notification)
		}
	}

	helpText := renderHelpBar(m.showHelp)
	footer := renderFooter(helpText, m.width)

	parts := []string{header}
	if notif != "" {
		parts = append(parts, notif)
	}
	parts = append(parts, content, footer)
	output := lipgloss.JoinVertical(lipgloss.Left, parts...)

	// Force exactly m.height lines to prevent BubbleTea rendering drift.
	return forceHeight(output, m.width, m.height)
}

// forceHeight ensures the string has exactly `height` lines, each padded to `width`.
// This prevents BubbleTea from leaving ghost lines when switching tabs.
func forceHeight(s string, width, height int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	blank := strings.Repeat(" ", width)
	for len(lines) < height {
		lines = append(lines, blank)
	}
	return strings.Join(lines, "\n")
}

func (m *Model) contentHeight() int {
	overhead := 5
	if m.showHelp {
		overhead += 3
	}
	h := m.height - overhead
	if h < 1 {
		h = 1
	}
	return h
}

func (m *Model) handleGlobalKey(msg tea.KeyMsg) tea.Cmd {
	// Don't intercept while a setting is being edited.
	if m.activeTab == tabSettings && m.settingsTab.editing {
		return nil
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return tea.Quit

	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return nil

	case key.Matches(msg, keys.TabNext):
		m.activeTab = (m.activeTab + 1) % tabCount
		return m.onTabChange()

	case key.Matches(msg, keys.TabPrev):
		m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		return m.onTabChange()

	case key.Matches(msg, keys.Refresh):
		return tea.Batch(
			loadCounters(m.counters),
			loadAlerts(m.store),
			loadSettings(m.store),
		)
	}

	return nil
}

func (m *Model) onTabChange() tea.Cmd {
	switch m.activeTab {
	case tabStatus:
		if snap := m.countersTab.selected(); snap != nil {
			return loadHistory(m.store, snap.Target.Name)
		}
	case tabAlerts:
		return loadAlerts(m.store)
	}
	return nil
}

func (m *Model) setNotification(text string, isErr bool) {
	m.notification = text
	m.notificationErr = isErr
	m.notifVersion++
}

func (m *Model) checkSettings() checkSettings {
	cs := checkSettings{
		strategy: "icmp",
		workers:  10,
		timeout:  2 * time.Second,
		port:     443,
	}

	settings := m.settingsTab.settings
	if v, ok := settings["check_strategy"]; ok {
		cs.strategy = v
	}
	if v, ok := settings["check_workers"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cs.workers = n
		}
	}
	if v, ok := settings["check_timeout"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cs.timeout = time.Duration(n) * time.Millisecond
		}
	}
	if v, ok := settings["check_port"]; ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < 65536 {
			cs.port = n
		}
	}
	return cs
}

// NewProgram creates a bubbletea program with alt screen.
func NewProgram(deps Deps) *tea.Program {
	m := NewModel(deps)
	p := tea.NewProgram(m, tea.WithAltScreen())
	m.program = p
	return p
}
