package server

import (
	"math"
	"sort"
	"time"

	"pingcounter/internal/storage/models"
)

// CounterUptime summarises the probe history of one counter.
type CounterUptime struct {
	Counter       string  `json:"counter"`
	Address       string  `json:"address"`
	UptimePercent float64 `json:"uptime_percent"`
	TotalProbes   int     `json:"total_probes"`
	Succeeded     int     `json:"succeeded"`
	Failed        int     `json:"failed"`
	TimedOut      int     `json:"timed_out"`
	AvgRTTMs      float64 `json:"avg_rtt_ms"`
	LastKind      string  `json:"last_kind,omitempty"`
	LastUpdated   string  `json:"last_updated,omitempty"`
}

// ComputeUptime aggregates uptime statistics per counter from probe records.
func ComputeUptime(probes []*models.ProbeRecord) []CounterUptime {
	type acc struct {
		address   string
		succeeded int
		failed    int
		timedOut  int
		rttTotal  time.Duration
		lastKind  string
		lastTime  time.Time
	}
	state := make(map[string]*acc)
	for _, p := range probes {
		target := state[p.Counter]
		if target == nil {
			target = &acc{address: p.Address}
			state[p.Counter] = target
		}
		switch p.Kind {
		case "success":
			target.succeeded++
			target.rttTotal += p.RTT()
		case "timeout":
			target.timedOut++
		default:
			target.failed++
		}
		if p.ProbedAt.After(target.lastTime) {
			target.lastTime = p.ProbedAt
			target.lastKind = p.Kind
		}
	}
	if len(state) == 0 {
		return nil
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]CounterUptime, 0, len(keys))
	for _, name := range keys {
		data := state[name]
		total := data.succeeded + data.failed + data.timedOut
		uptime := 0.0
		if total > 0 {
			uptime = float64(data.succeeded) / float64(total) * 100
		}
		avg := 0.0
		if data.succeeded > 0 {
			avg = float64(data.rttTotal.Microseconds()) / float64(data.succeeded) / 1000
		}

		result := CounterUptime{
			Counter:       name,
			Address:       data.address,
			UptimePercent: round2(uptime),
			TotalProbes:   total,
			Succeeded:     data.succeeded,
			Failed:        data.failed,
			TimedOut:      data.timedOut,
			AvgRTTMs:      round2(avg),
			LastKind:      data.lastKind,
		}
		if !data.lastTime.IsZero() {
			result.LastUpdated = data.lastTime.UTC().Format(time.RFC3339)
		}
		results = append(results, result)
	}
	return results
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
