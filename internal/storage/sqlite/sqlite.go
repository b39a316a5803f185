package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pingcounter/internal/storage"
	"pingcounter/internal/storage/models"
)

// dbHandle is the common interface between *sql.DB and *sql.Tx.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DB implements the Storage interface using SQLite
type DB struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	storage := &DB{db: db}

	if err := runMigrations(storage); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return storage, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) handle() dbHandle { return d.db }

// BeginTx starts a new transaction
func (d *DB) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

// Tx implements the Transaction interface
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) Commit() error    { return t.tx.Commit() }
func (t *Tx) Rollback() error  { return t.tx.Rollback() }
func (t *Tx) handle() dbHandle { return t.tx }

func (t *Tx) BeginTx(ctx context.Context) (storage.Transaction, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *Tx) Close() error { return nil }

// ─── Probe operations ───────────────────────────────────────────────────────

func (d *DB) RecordProbe(ctx context.Context, probe *models.ProbeRecord) error {
	return recordProbe(ctx, d.handle(), probe)
}
func (t *Tx) RecordProbe(ctx context.Context, probe *models.ProbeRecord) error {
	return recordProbe(ctx, t.handle(), probe)
}

func recordProbe(ctx context.Context, h dbHandle, probe *models.ProbeRecord) error {
	if probe.ProbedAt.IsZero() {
		probe.ProbedAt = time.Now()
	}
	probe.ProbedAt = probe.ProbedAt.UTC()

	query := `
		INSERT INTO probe_results (counter, address, kind, rtt_us, reason, failures, probed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		probe.Counter, probe.Address, probe.Kind, probe.RTTMicros, probe.Reason,
		probe.Failures, probe.ProbedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record probe: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	probe.ID = id
	return nil
}

func (d *DB) GetLatestProbe(ctx context.Context, counter string) (*models.ProbeRecord, error) {
	return getLatestProbe(ctx, d.handle(), counter)
}
func (t *Tx) GetLatestProbe(ctx context.Context, counter string) (*models.ProbeRecord, error) {
	return getLatestProbe(ctx, t.handle(), counter)
}

func getLatestProbe(ctx context.Context, h dbHandle, counter string) (*models.ProbeRecord, error) {
	query := `
		SELECT id, counter, address, kind, rtt_us, reason, failures, probed_at
		FROM probe_results
		WHERE counter = ?
		ORDER BY probed_at DESC, id DESC
		LIMIT 1
	`
	probe := &models.ProbeRecord{}
	err := h.QueryRowContext(ctx, query, counter).Scan(
		&probe.ID, &probe.Counter, &probe.Address, &probe.Kind, &probe.RTTMicros,
		&probe.Reason, &probe.Failures, &probe.ProbedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return probe, nil
}

func (d *DB) GetProbeHistory(ctx context.Context, counter string, limit int) ([]*models.ProbeRecord, error) {
	return getProbeHistory(ctx, d.handle(), counter, limit)
}
func (t *Tx) GetProbeHistory(ctx context.Context, counter string, limit int) ([]*models.ProbeRecord, error) {
	return getProbeHistory(ctx, t.handle(), counter, limit)
}

func getProbeHistory(ctx context.Context, h dbHandle, counter string, limit int) ([]*models.ProbeRecord, error) {
	query := `
		SELECT id, counter, address, kind, rtt_us, reason, failures, probed_at
		FROM probe_results
		WHERE (? = '' OR counter = ?)
		ORDER BY probed_at DESC, id DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, counter, counter, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var probes []*models.ProbeRecord
	for rows.Next() {
		probe := &models.ProbeRecord{}
		err := rows.Scan(
			&probe.ID, &probe.Counter, &probe.Address, &probe.Kind, &probe.RTTMicros,
			&probe.Reason, &probe.Failures, &probe.ProbedAt,
		)
		if err != nil {
			return nil, err
		}
		probes = append(probes, probe)
	}
	return probes, rows.Err()
}

func (d *DB) PruneProbes(ctx context.Context, before time.Time) (int64, error) {
	return pruneProbes(ctx, d.handle(), before)
}
func (t *Tx) PruneProbes(ctx context.Context, before time.Time) (int64, error) {
	return pruneProbes(ctx, t.handle(), before)
}

func pruneProbes(ctx context.Context, h dbHandle, before time.Time) (int64, error) {
	result, err := h.ExecContext(ctx, "DELETE FROM probe_results WHERE probed_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune probes: %w", err)
	}
	return result.RowsAffected()
}

// ─── Alert operations ───────────────────────────────────────────────────────

func (d *DB) RecordAlert(ctx context.Context, event *models.AlertEvent) error {
	return recordAlert(ctx, d.handle(), event)
}
func (t *Tx) RecordAlert(ctx context.Context, event *models.AlertEvent) error {
	return recordAlert(ctx, t.handle(), event)
}

func recordAlert(ctx context.Context, h dbHandle, event *models.AlertEvent) error {
	if event.ChangedAt.IsZero() {
		event.ChangedAt = time.Now()
	}
	event.ChangedAt = event.ChangedAt.UTC()

	query := `
		INSERT INTO alert_events (counter, address, active, failures, changed_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := h.ExecContext(ctx, query,
		event.Counter, event.Address, event.Active, event.Failures, event.ChangedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record alert: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

func (d *DB) GetAlertHistory(ctx context.Context, counter string, limit int) ([]*models.AlertEvent, error) {
	return getAlertHistory(ctx, d.handle(), counter, limit)
}
func (t *Tx) GetAlertHistory(ctx context.Context, counter string, limit int) ([]*models.AlertEvent, error) {
	return getAlertHistory(ctx, t.handle(), counter, limit)
}

func getAlertHistory(ctx context.Context, h dbHandle, counter string, limit int) ([]*models.AlertEvent, error) {
	query := `
		SELECT id, counter, address, active, failures, changed_at
		FROM alert_events
		WHERE (? = '' OR counter = ?)
		ORDER BY changed_at DESC, id DESC
		LIMIT ?
	`
	rows, err := h.QueryContext(ctx, query, counter, counter, normalizeLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		event := &models.AlertEvent{}
		err := rows.Scan(
			&event.ID, &event.Counter, &event.Address, &event.Active,
			&event.Failures, &event.ChangedAt,
		)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (d *DB) GetCounterNames(ctx context.Context) ([]string, error) {
	return getCounterNames(ctx, d.handle())
}
func (t *Tx) GetCounterNames(ctx context.Context) ([]string, error) {
	return getCounterNames(ctx, t.handle())
}

func getCounterNames(ctx context.Context, h dbHandle) ([]string, error) {
	query := `
		SELECT counter FROM probe_results
		UNION
		SELECT counter FROM alert_events
		ORDER BY counter ASC
	`
	rows, err := h.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ─── Settings operations ────────────────────────────────────────────────────

func (d *DB) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, d.handle(), key)
}
func (t *Tx) GetSetting(ctx context.Context, key string) (string, error) {
	return getSetting(ctx, t.handle(), key)
}

func getSetting(ctx context.Context, h dbHandle, key string) (string, error) {
	var value string
	err := h.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting not found: %s", key)
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d *DB) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, d.handle(), key, value)
}
func (t *Tx) SetSetting(ctx context.Context, key, value string) error {
	return setSetting(ctx, t.handle(), key, value)
}

func setSetting(ctx context.Context, h dbHandle, key, value string) error {
	query := `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	_, err := h.ExecContext(ctx, query, key, value)
	return err
}

const defaultHistoryLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return limit
}
