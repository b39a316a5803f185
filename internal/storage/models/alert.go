package models

import "time"

// AlertEvent records a transition of a counter's alert output.
type AlertEvent struct {
	ID        int64     `json:"id"`
	Counter   string    `json:"counter"`
	Address   string    `json:"address"`
	Active    bool      `json:"active"`
	Failures  int       `json:"failures"`
	ChangedAt time.Time `json:"changed_at"`
}

// State returns "ON" or "OFF".
func (e *AlertEvent) State() string {
	if e.Active {
		return "ON"
	}
	return "OFF"
}
