package models

import "time"

// ProbeRecord is one folded probe outcome of a counter.
type ProbeRecord struct {
	ID        int64     `json:"id"`
	Counter   string    `json:"counter"`
	Address   string    `json:"address"`
	Kind      string    `json:"kind"` // success, failure, timeout
	RTTMicros *int64    `json:"rtt_us,omitempty"` // NULL unless success
	Reason    string    `json:"reason,omitempty"`
	Failures  int       `json:"failures"` // consecutive failures after the update
	ProbedAt  time.Time `json:"probed_at"`
}

// RTT returns the round trip time, zero when the probe did not succeed.
func (p *ProbeRecord) RTT() time.Duration {
	if p.RTTMicros == nil {
		return 0
	}
	return time.Duration(*p.RTTMicros) * time.Microsecond
}
