// Package store persists grown flakes in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS flakes (
    id TEXT PRIMARY KEY,
    run_id TEXT NOT NULL,
    domain_size REAL NOT NULL,
    crystal_radius REAL NOT NULL,
    step_size REAL NOT NULL,
    drift_angle REAL NOT NULL,
    max_steps INTEGER NOT NULL,
    seed INTEGER NOT NULL,
    created_at TEXT NOT NULL,
    saved_at TEXT NOT NULL
);

-- idx 0 is always the seed at the origin
CREATE TABLE IF NOT EXISTS points (
    flake_id TEXT NOT NULL REFERENCES flakes(id) ON DELETE CASCADE,
    idx INTEGER NOT NULL,
    x REAL NOT NULL,
    y REAL NOT NULL,
    PRIMARY KEY (flake_id, idx)
);

CREATE TABLE IF NOT EXISTS bonds (
    flake_id TEXT NOT NULL REFERENCES flakes(id) ON DELETE CASCADE,
    parent_idx INTEGER NOT NULL,
    child_idx INTEGER NOT NULL,
    PRIMARY KEY (flake_id, child_idx)
);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// InitSchema creates the tables if needed and records the version.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return nil
}
