package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Engine is the durable record of one managed container.
type Engine struct {
	EngineKey   string            `json:"engine_key"`
	ContainerID string            `json:"container_id"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Labels      map[string]string `json:"labels"`
	FirstSeen   time.Time         `json:"first_seen"`
	LastSeen    time.Time         `json:"last_seen"`
}

// SaveEngine upserts an engine row, keyed by engine_key.
func (d *DB) SaveEngine(e *Engine) error {
	labelsJSON, err := json.Marshal(e.Labels)
	if err != nil {
		return err
	}
	_, err = d.db.Exec(`
		INSERT INTO engines (engine_key, container_id, host, port, labels, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(engine_key) DO UPDATE SET
			container_id = excluded.container_id,
			host = excluded.host,
			port = excluded.port,
			labels = excluded.labels,
			last_seen = excluded.last_seen
	`, e.EngineKey, e.ContainerID, e.Host, e.Port, string(labelsJSON),
		e.FirstSeen.UTC().Format(time.RFC3339Nano), e.LastSeen.UTC().Format(time.RFC3339Nano))
	return err
}

// GetEngine fetches an engine by key, returning nil if absent.
func (d *DB) GetEngine(engineKey string) (*Engine, error) {
	row := d.db.QueryRow(`
		SELECT engine_key, container_id, host, port, labels, first_seen, last_seen
		FROM engines WHERE engine_key = ?
	`, engineKey)
	return scanEngine(row)
}

// ListEngines returns every engine row.
func (d *DB) ListEngines() ([]*Engine, error) {
	rows, err := d.db.Query(`
		SELECT engine_key, container_id, host, port, labels, first_seen, last_seen
		FROM engines ORDER BY first_seen ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Engine
	for rows.Next() {
		e, err := scanEngineRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEngine removes an engine row and its streams and stats.
func (d *DB) DeleteEngine(engineKey string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM stream_stats WHERE stream_id IN (SELECT id FROM streams WHERE engine_key = ?)
	`, engineKey); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM streams WHERE engine_key = ?`, engineKey); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM engines WHERE engine_key = ?`, engineKey); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngine(row *sql.Row) (*Engine, error) {
	e, err := scanEngineFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func scanEngineRow(rows *sql.Rows) (*Engine, error) {
	return scanEngineFrom(rows)
}

func scanEngineFrom(s rowScanner) (*Engine, error) {
	var e Engine
	var labelsJSON, firstSeen, lastSeen string
	if err := s.Scan(&e.EngineKey, &e.ContainerID, &e.Host, &e.Port, &labelsJSON, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(labelsJSON), &e.Labels)
	e.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
	e.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
	return &e, nil
}
