package store

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    range_start INTEGER NOT NULL DEFAULT 0,
    range_end INTEGER NOT NULL DEFAULT 0,
    attempted INTEGER NOT NULL DEFAULT 0,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    abort_error TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_failures (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    item_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    title TEXT,
    kind TEXT NOT NULL,
    message TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (run_id, item_id)
);

CREATE TABLE IF NOT EXISTS judgments (
    item_id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    original_title TEXT NOT NULL,
    is_recipe INTEGER NOT NULL,
    content_summary TEXT,
    proposed_title TEXT,
    title_needs_improvement INTEGER NOT NULL DEFAULT 0,
    quality_score INTEGER NOT NULL,
    primary_category TEXT NOT NULL,
    cuisine_type TEXT NOT NULL,
    dietary_tags TEXT,
    usage_tags TEXT,
    confidence INTEGER NOT NULL,
    reasoning TEXT,
    existing_tags TEXT,
    overrides TEXT,
    run_id TEXT,
    classified_at TEXT
);

CREATE TABLE IF NOT EXISTS corrections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id TEXT NOT NULL,
    field TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    source TEXT,
    corrected_at TEXT,
    outcome TEXT NOT NULL,
    detail TEXT,
    recorded_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_run_failures_run ON run_failures(run_id);
CREATE INDEX IF NOT EXISTS idx_judgments_position ON judgments(position);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index corrections by item and category lookups",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE INDEX IF NOT EXISTS idx_corrections_item ON corrections(item_id);
CREATE INDEX IF NOT EXISTS idx_judgments_category ON judgments(primary_category);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
