package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingcounter/internal/counter"
	"pingcounter/internal/echo"
)

var gw = counter.Target{Name: "gw", Address: "192.0.2.1", Interval: time.Second, Threshold: 2}

func TestObserveProbe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Init(gw)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.threshold.WithLabelValues("gw")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.probes.WithLabelValues("gw", "timeout")))

	m.ObserveProbe(gw, echo.Timeout(), counter.State{ConsecutiveFailures: 1})
	m.ObserveProbe(gw, echo.Timeout(), counter.State{ConsecutiveFailures: 2, AlertActive: true})

	assert.Equal(t, float64(2), testutil.ToFloat64(m.probes.WithLabelValues("gw", "timeout")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.failures.WithLabelValues("gw")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.alertActive.WithLabelValues("gw")))

	m.ObserveProbe(gw, echo.Success(3*time.Millisecond), counter.State{})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.probes.WithLabelValues("gw", "success")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.failures.WithLabelValues("gw")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.alertActive.WithLabelValues("gw")))

	expected := `
# HELP pingcounter_alert_active 1 while the counter's failure threshold is reached.
# TYPE pingcounter_alert_active gauge
pingcounter_alert_active{counter="gw"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "pingcounter_alert_active"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.rtt))
}

func TestForget(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Init(gw)
	m.ObserveProbe(gw, echo.Success(time.Millisecond), counter.State{})

	m.Forget("gw")
	assert.Equal(t, 0, testutil.CollectAndCount(m.probes))
	assert.Equal(t, 0, testutil.CollectAndCount(m.failures))
	assert.Equal(t, 0, testutil.CollectAndCount(m.rtt))
}
