package sqlite

const schema = `
-- Folded probe outcomes, one row per completed probe
CREATE TABLE IF NOT EXISTS probe_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    counter TEXT NOT NULL,
    address TEXT NOT NULL,
    kind TEXT NOT NULL,
    rtt_us INTEGER,
    reason TEXT NOT NULL DEFAULT '',
    failures INTEGER NOT NULL DEFAULT 0,
    probed_at TIMESTAMP NOT NULL
);

-- Alert output transitions
CREATE TABLE IF NOT EXISTS alert_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    counter TEXT NOT NULL,
    address TEXT NOT NULL,
    active BOOLEAN NOT NULL,
    failures INTEGER NOT NULL DEFAULT 0,
    changed_at TIMESTAMP NOT NULL
);

-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_probe_results_counter ON probe_results(counter, probed_at);
CREATE INDEX IF NOT EXISTS idx_probe_results_probed_at ON probe_results(probed_at);
CREATE INDEX IF NOT EXISTS idx_alert_events_counter ON alert_events(counter, changed_at);

-- Triggers for updated_at
CREATE TRIGGER IF NOT EXISTS update_settings_timestamp AFTER UPDATE ON settings
BEGIN
    UPDATE settings SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

const defaultData = `
INSERT OR IGNORE INTO settings (key, value) VALUES
    ('schema_version', '1');
`

// runMigrations executes the database schema and default data
func runMigrations(db *DB) error {
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}

	if _, err := db.db.Exec(defaultData); err != nil {
		return err
	}

	return nil
}
