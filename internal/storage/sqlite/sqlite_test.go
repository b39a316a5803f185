package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pingcounter/internal/storage/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func rtt(us int64) *int64 { return &us }

func TestProbeRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	probes := []*models.ProbeRecord{
		{Counter: "gw", Address: "192.0.2.1", Kind: "success", RTTMicros: rtt(1500), ProbedAt: base},
		{Counter: "gw", Address: "192.0.2.1", Kind: "timeout", Failures: 1, ProbedAt: base.Add(10 * time.Second)},
		{Counter: "dns", Address: "8.8.8.8", Kind: "failure", Reason: "unreachable", Failures: 1, ProbedAt: base.Add(5 * time.Second)},
	}
	for _, p := range probes {
		require.NoError(t, db.RecordProbe(ctx, p))
		assert.NotZero(t, p.ID)
	}

	latest, err := db.GetLatestProbe(ctx, "gw")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "timeout", latest.Kind)
	assert.Nil(t, latest.RTTMicros)
	assert.Equal(t, 1, latest.Failures)
	assert.True(t, latest.ProbedAt.Equal(base.Add(10*time.Second)))

	history, err := db.GetProbeHistory(ctx, "gw", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "success", history[1].Kind)
	assert.Equal(t, 1500*time.Microsecond, history[1].RTT())

	all, err := db.GetProbeHistory(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "unreachable", all[1].Reason)

	missing, err := db.GetLatestProbe(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPruneProbes(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	now := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordProbe(ctx, &models.ProbeRecord{
			Counter:  "gw",
			Address:  "192.0.2.1",
			Kind:     "success",
			ProbedAt: now.Add(-time.Duration(i) * 24 * time.Hour),
		}))
	}

	n, err := db.PruneProbes(ctx, now.Add(-48*time.Hour-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := db.GetProbeHistory(ctx, "gw", 0)
	require.NoError(t, err)
	assert.Len(t, left, 3)
}

func TestAlertHistory(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.RecordAlert(ctx, &models.AlertEvent{Counter: "gw", Address: "192.0.2.1", Active: true, Failures: 3, ChangedAt: base}))
	require.NoError(t, db.RecordAlert(ctx, &models.AlertEvent{Counter: "gw", Address: "192.0.2.1", Active: false, ChangedAt: base.Add(time.Minute)}))
	require.NoError(t, db.RecordAlert(ctx, &models.AlertEvent{Counter: "dns", Address: "8.8.8.8", Active: true, Failures: 10, ChangedAt: base.Add(30 * time.Second)}))

	gw, err := db.GetAlertHistory(ctx, "gw", 10)
	require.NoError(t, err)
	require.Len(t, gw, 2)
	assert.False(t, gw[0].Active)
	assert.Equal(t, "OFF", gw[0].State())
	assert.True(t, gw[1].Active)
	assert.Equal(t, 3, gw[1].Failures)

	all, err := db.GetAlertHistory(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "gw", all[0].Counter)
	assert.Equal(t, "dns", all[1].Counter)

	names, err := db.GetCounterNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dns", "gw"}, names)
}

func TestTransaction(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	tx, err := db.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.RecordProbe(ctx, &models.ProbeRecord{Counter: "gw", Address: "192.0.2.1", Kind: "timeout"}))
	require.NoError(t, tx.Rollback())

	history, err := db.GetProbeHistory(ctx, "gw", 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	tx, err = db.BeginTx(ctx)
	require.NoError(t, err)
	_, err = tx.BeginTx(ctx)
	assert.Error(t, err)
	require.NoError(t, tx.RecordAlert(ctx, &models.AlertEvent{Counter: "gw", Address: "192.0.2.1", Active: true}))
	require.NoError(t, tx.Commit())

	events, err := db.GetAlertHistory(ctx, "gw", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	v, err := db.GetSetting(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	require.NoError(t, db.SetSetting(ctx, "last_start", "a"))
	require.NoError(t, db.SetSetting(ctx, "last_start", "b"))
	v, err = db.GetSetting(ctx, "last_start")
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	_, err = db.GetSetting(ctx, "missing")
	assert.Error(t, err)
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.RecordProbe(ctx, &models.ProbeRecord{Counter: "gw", Address: "192.0.2.1", Kind: "success", RTTMicros: rtt(10)}))
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()
	latest, err := db.GetLatestProbe(ctx, "gw")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(10), *latest.RTTMicros)
}
