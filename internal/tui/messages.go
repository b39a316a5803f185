package tui

import (
	"pingcounter/internal/check"
	"pingcounter/internal/engine"
	"pingcounter/internal/storage/models"
)

// Data loading messages.

type countersLoadedMsg struct {
	counters []engine.CounterSnapshot
	err      error
}

type alertsLoadedMsg struct {
	events []*models.AlertEvent
	err    error
}

type historyLoadedMsg struct {
	counter string
	probes  []*models.ProbeRecord
	err     error
}

type settingsLoadedMsg struct {
	settings map[string]string
	err      error
}

// Polling messages.

type refreshTickMsg struct{}

// Manual check messages.

type checkProgressMsg struct {
	result  *check.Result
	current int
	total   int
}

type checkDoneMsg struct {
	batch *check.BatchResult
	err   error
}

type singleCheckDoneMsg struct {
	counter string
	result  *check.Result
	err     error
}

// Settings update messages.

type settingSavedMsg struct {
	key string
	err error
}

// Notification message.

type clearNotificationMsg struct {
	version int
}
