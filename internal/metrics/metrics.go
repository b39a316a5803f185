// Package metrics exports counter activity to prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pingcounter/internal/counter"
	"pingcounter/internal/echo"
)

const (
	labelCounter = "counter"
	labelOutcome = "outcome"
)

// Metrics implements counter.Observer.
type Metrics struct {
	probes      *prometheus.CounterVec
	rtt         *prometheus.HistogramVec
	failures    *prometheus.GaugeVec
	alertActive *prometheus.GaugeVec
	threshold   *prometheus.GaugeVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	prom := promauto.With(reg)
	return &Metrics{
		probes: prom.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pingcounter_probes_total",
				Help: "Completed probes by outcome.",
			},
			[]string{labelCounter, labelOutcome},
		),
		rtt: prom.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pingcounter_probe_rtt_seconds",
				Help:    "Round trip time of successful probes.",
				Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{labelCounter},
		),
		failures: prom.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pingcounter_consecutive_failures",
				Help: "Current number of consecutive failed or timed out probes.",
			},
			[]string{labelCounter},
		),
		alertActive: prom.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pingcounter_alert_active",
				Help: "1 while the counter's failure threshold is reached.",
			},
			[]string{labelCounter},
		),
		threshold: prom.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pingcounter_threshold",
				Help: "Configured failure threshold.",
			},
			[]string{labelCounter},
		),
	}
}

// Init exports the initial state of target so its series exist before the
// first probe completes.
func (m *Metrics) Init(target counter.Target) {
	m.threshold.WithLabelValues(target.Name).Set(float64(target.Threshold))
	m.failures.WithLabelValues(target.Name).Set(0)
	m.alertActive.WithLabelValues(target.Name).Set(0)
	for _, k := range []echo.Kind{echo.KindSuccess, echo.KindFailure, echo.KindTimeout} {
		m.probes.WithLabelValues(target.Name, k.String())
	}
}

// ObserveProbe records one folded outcome.
func (m *Metrics) ObserveProbe(target counter.Target, outcome echo.Outcome, state counter.State) {
	m.probes.WithLabelValues(target.Name, outcome.Kind.String()).Inc()
	if outcome.OK() {
		m.rtt.WithLabelValues(target.Name).Observe(outcome.RTT.Seconds())
	}
	m.failures.WithLabelValues(target.Name).Set(float64(state.ConsecutiveFailures))
	m.alertActive.WithLabelValues(target.Name).Set(boolToFloat(state.AlertActive))
}

// Forget removes every series of the named counter.
func (m *Metrics) Forget(name string) {
	m.probes.DeletePartialMatch(prometheus.Labels{labelCounter: name})
	m.rtt.DeleteLabelValues(name)
	m.failures.DeleteLabelValues(name)
	m.alertActive.DeleteLabelValues(name)
	m.threshold.DeleteLabelValues(name)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
