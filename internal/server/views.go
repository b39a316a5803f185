package server

import (
	"time"

	"pingcounter/internal/engine"
)

type counterView struct {
	Name                string     `json:"name"`
	Address             string     `json:"address"`
	IntervalSeconds     float64    `json:"interval_seconds"`
	Threshold           int        `json:"threshold"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	AlertActive         bool       `json:"alert_active"`
	Alert               string     `json:"alert,omitempty"`
	InFlight            bool       `json:"in_flight"`
	LastOutcome         string     `json:"last_outcome,omitempty"`
	LastReason          string     `json:"last_reason,omitempty"`
	LastRTTMs           *float64   `json:"last_rtt_ms,omitempty"`
	LastProbeAt         *time.Time `json:"last_probe_at,omitempty"`
	NextRun             *time.Time `json:"next_run,omitempty"`
	Probes              uint64     `json:"probes"`
	Skipped             uint64     `json:"skipped"`
}

func newCounterView(snap engine.CounterSnapshot) counterView {
	v := counterView{
		Name:                snap.Target.Name,
		Address:             snap.Target.Address,
		IntervalSeconds:     snap.Target.Interval.Seconds(),
		Threshold:           snap.Target.Threshold,
		ConsecutiveFailures: snap.State.ConsecutiveFailures,
		AlertActive:         snap.State.AlertActive,
		Alert:               snap.Alert,
		InFlight:            snap.InFlight,
		Probes:              snap.State.Probes,
		Skipped:             snap.State.Skipped,
	}
	if o := snap.State.LastOutcome; o != nil {
		v.LastOutcome = o.Kind.String()
		v.LastReason = o.Reason
		if o.OK() {
			ms := float64(o.RTT.Microseconds()) / 1000
			v.LastRTTMs = &ms
		}
	}
	if !snap.State.LastProbeAt.IsZero() {
		at := snap.State.LastProbeAt.UTC()
		v.LastProbeAt = &at
	}
	if !snap.NextRun.IsZero() {
		next := snap.NextRun.UTC()
		v.NextRun = &next
	}
	return v
}
