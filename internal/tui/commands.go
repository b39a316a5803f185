package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"pingcounter/internal/check"
	"pingcounter/internal/storage"
)

const (
	refreshInterval = time.Second
	historyWindow   = 200
	alertsWindow    = 100
)

// loadCounters copies the state of every counter from the engine.
func loadCounters(counters Snapshotter) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		snaps, err := counters.Snapshot(ctx)
		return countersLoadedMsg{counters: snaps, err: err}
	}
}

// loadAlerts fetches the most recent alert transitions of every counter.
func loadAlerts(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		events, err := store.GetAlertHistory(context.Background(), "", alertsWindow)
		return alertsLoadedMsg{events: events, err: err}
	}
}

// loadHistory fetches the recent probes of one counter.
func loadHistory(store storage.Storage, name string) tea.Cmd {
	return func() tea.Msg {
		probes, err := store.GetProbeHistory(context.Background(), name, historyWindow)
		return historyLoadedMsg{counter: name, probes: probes, err: err}
	}
}

// loadSettings fetches the check settings. Missing keys keep their defaults.
func loadSettings(store storage.Storage) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		settings := make(map[string]string, len(settingDefs))
		for _, def := range settingDefs {
			v, err := store.GetSetting(ctx, def.key)
			if err != nil {
				continue
			}
			settings[def.key] = v
		}
		return settingsLoadedMsg{settings: settings}
	}
}

// refreshTick returns a tea.Cmd that fires after refreshInterval.
func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

// checkSingle probes one counter target out of band.
func checkSingle(newStrategy StrategyFactory, store storage.Storage, name, address string, cs checkSettings) tea.Cmd {
	return func() tea.Msg {
		strategy, err := newStrategy(cs.strategy, cs.port)
		if err != nil {
			return singleCheckDoneMsg{counter: name, err: err}
		}
		tester := check.NewTester(store, check.TesterConfig{
			Workers:  1,
			Timeout:  cs.timeout,
			Strategy: strategy,
		})
		result := tester.TestSingle(context.Background(), address)
		return singleCheckDoneMsg{counter: name, result: result}
	}
}

// checkBatch probes every address with progress reporting via program.Send.
func checkBatch(newStrategy StrategyFactory, store storage.Storage, addresses []string, p *tea.Program, cs checkSettings) tea.Cmd {
	return func() tea.Msg {
		if p == nil {
			return checkDoneMsg{err: errors.New("program not running")}
		}
		strategy, err := newStrategy(cs.strategy, cs.port)
		if err != nil {
			return checkDoneMsg{err: err}
		}
		tester := check.NewTester(store, check.TesterConfig{
			Workers:  cs.workers,
			Timeout:  cs.timeout,
			Strategy: strategy,
		})

		progress := func(result *check.Result, current, total int) {
			p.Send(checkProgressMsg{result: result, current: current, total: total})
		}

		batch := tester.TestBatch(context.Background(), addresses, progress)
		return checkDoneMsg{batch: batch}
	}
}

// saveSetting saves a single setting.
func saveSetting(store storage.Storage, key, value string) tea.Cmd {
	return func() tea.Msg {
		err := store.SetSetting(context.Background(), key, value)
		return settingSavedMsg{key: key, err: err}
	}
}

// clearNotification returns a command that fires after a delay.
func clearNotification(d time.Duration, version int) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return clearNotificationMsg{version: version}
	})
}
