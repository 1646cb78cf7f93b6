// Package store provides the orchestrator's durable state: engines,
// streams, and stream stat samples in an embedded pure-Go SQLite
// database (no cgo required).
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection backing orchestrator persistence.
// The registry is the only caller; writes are single-writer, reads
// may run concurrently.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the
// schema migration.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("store: create db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: set WAL mode: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS engines (
			engine_key   TEXT PRIMARY KEY,
			container_id TEXT NOT NULL,
			host         TEXT NOT NULL,
			port         INTEGER NOT NULL,
			labels       TEXT NOT NULL DEFAULT '{}',
			first_seen   TEXT NOT NULL,
			last_seen    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS streams (
			id                  TEXT PRIMARY KEY,
			engine_key          TEXT NOT NULL,
			key_type            TEXT NOT NULL,
			key                 TEXT NOT NULL,
			playback_session_id TEXT NOT NULL,
			stat_url            TEXT NOT NULL DEFAULT '',
			command_url         TEXT NOT NULL DEFAULT '',
			is_live             INTEGER NOT NULL DEFAULT 0,
			started_at          TEXT NOT NULL,
			ended_at            TEXT,
			status              TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_streams_engine_key ON streams(engine_key);
		CREATE INDEX IF NOT EXISTS idx_streams_status ON streams(status);

		CREATE TABLE IF NOT EXISTS stream_stats (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			stream_id   TEXT NOT NULL,
			ts          TEXT NOT NULL,
			peers       INTEGER NOT NULL DEFAULT 0,
			speed_down  INTEGER NOT NULL DEFAULT 0,
			speed_up    INTEGER NOT NULL DEFAULT 0,
			downloaded  INTEGER NOT NULL DEFAULT 0,
			uploaded    INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_stream_stats_stream_id ON stream_stats(stream_id);
		CREATE INDEX IF NOT EXISTS idx_stream_stats_ts ON stream_stats(ts);
	`)
	return err
}
