package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pingcounter/internal/counter"
	"pingcounter/internal/echo"
	"pingcounter/internal/storage/models"
	"pingcounter/internal/storage/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

func openStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var gw = counter.Target{Name: "gw", Address: "192.0.2.1", Interval: time.Second, Threshold: 3}

func TestRecorderWritesProbes(t *testing.T) {
	store := openStore(t)
	rec := NewRecorder(store)
	rec.Start()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.ObserveProbe(gw, echo.Success(2*time.Millisecond), counter.State{LastProbeAt: at})
	rec.ObserveProbe(gw, echo.Timeout(), counter.State{ConsecutiveFailures: 1, LastProbeAt: at.Add(time.Second)})
	rec.ObserveProbe(gw, echo.Failure(echo.ReasonUnreachable), counter.State{ConsecutiveFailures: 2, LastProbeAt: at.Add(2 * time.Second)})
	rec.Close()

	probes, err := store.GetProbeHistory(context.Background(), "gw", 0)
	require.NoError(t, err)
	require.Len(t, probes, 3)

	assert.Equal(t, "failure", probes[0].Kind)
	assert.Equal(t, "unreachable", probes[0].Reason)
	assert.Equal(t, 2, probes[0].Failures)
	assert.Nil(t, probes[0].RTTMicros)

	assert.Equal(t, "timeout", probes[1].Kind)

	assert.Equal(t, "success", probes[2].Kind)
	assert.Equal(t, 2*time.Millisecond, probes[2].RTT())
	assert.Equal(t, "192.0.2.1", probes[2].Address)
}

func TestRecorderAlertSink(t *testing.T) {
	store := openStore(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	rec := NewRecorder(store, WithClock(clock))
	rec.Start()

	sink := rec.AlertSink(gw)
	sink.PublishState(false)
	clock.Advance(time.Minute)
	sink.PublishState(true)
	rec.Close()

	events, err := store.GetAlertHistory(context.Background(), "gw", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].Active)
	assert.Equal(t, gw.Threshold, events[0].Failures)
	assert.False(t, events[1].Active)
	assert.Equal(t, 0, events[1].Failures)
}

func TestRecorderIgnoresAfterClose(t *testing.T) {
	store := openStore(t)
	rec := NewRecorder(store)
	rec.Start()
	rec.Close()
	rec.Close()

	rec.ObserveProbe(gw, echo.Timeout(), counter.State{ConsecutiveFailures: 1})
	rec.AlertSink(gw).PublishState(true)

	probes, err := store.GetProbeHistory(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, probes)
	assert.Zero(t, rec.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := openStore(t)
	rec := NewRecorder(store, WithQueueSize(2))

	// Not started: nothing drains the queue.
	for i := 0; i < 5; i++ {
		rec.ObserveProbe(gw, echo.Timeout(), counter.State{ConsecutiveFailures: i + 1})
	}
	assert.Equal(t, uint64(3), rec.Dropped())

	rec.Start()
	rec.Close()

	probes, err := store.GetProbeHistory(context.Background(), "gw", 0)
	require.NoError(t, err)
	assert.Len(t, probes, 2)
}

func TestRecorderPrunesOnStart(t *testing.T) {
	store := openStore(t)
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	require.NoError(t, store.RecordProbe(ctx, &models.ProbeRecord{Counter: "gw", Address: "192.0.2.1", Kind: "success", ProbedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, store.RecordProbe(ctx, &models.ProbeRecord{Counter: "gw", Address: "192.0.2.1", Kind: "success", ProbedAt: now.Add(-time.Hour)}))

	rec := NewRecorder(store, WithClock(clockwork.NewFakeClockAt(now)), WithRetention(7*24*time.Hour))
	rec.Start()
	rec.Close()

	probes, err := store.GetProbeHistory(ctx, "gw", 0)
	require.NoError(t, err)
	require.Len(t, probes, 1)
	assert.True(t, probes[0].ProbedAt.Equal(now.Add(-time.Hour)))
}
