package store

import (
	"database/sql"
	"time"
)

// KeyType enumerates the closed set of stream identity kinds.
type KeyType string

const (
	KeyTypeContentID KeyType = "content_id"
	KeyTypeInfohash  KeyType = "infohash"
	KeyTypeURL       KeyType = "url"
	KeyTypeMagnet    KeyType = "magnet"
)

// StreamStatus is the two-state lifecycle of a Stream.
type StreamStatus string

const (
	StreamStarted StreamStatus = "started"
	StreamEnded   StreamStatus = "ended"
)

// Stream is the durable record of one playback session against an engine.
type Stream struct {
	ID                string       `json:"id"`
	EngineKey         string       `json:"engine_key"`
	KeyType           KeyType      `json:"key_type"`
	Key               string       `json:"key"`
	PlaybackSessionID string       `json:"playback_session_id"`
	StatURL           string       `json:"stat_url"`
	CommandURL        string       `json:"command_url"`
	IsLive            bool         `json:"is_live"`
	StartedAt         time.Time    `json:"started_at"`
	EndedAt           *time.Time   `json:"ended_at,omitempty"`
	Status            StreamStatus `json:"status"`
}

// SaveStream upserts a stream row, keyed by id.
func (d *DB) SaveStream(s *Stream) error {
	var endedAt sql.NullString
	if s.EndedAt != nil {
		endedAt = sql.NullString{String: s.EndedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	isLive := 0
	if s.IsLive {
		isLive = 1
	}
	_, err := d.db.Exec(`
		INSERT INTO streams (id, engine_key, key_type, key, playback_session_id, stat_url, command_url, is_live, started_at, ended_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			engine_key = excluded.engine_key,
			key_type = excluded.key_type,
			key = excluded.key,
			playback_session_id = excluded.playback_session_id,
			stat_url = excluded.stat_url,
			command_url = excluded.command_url,
			is_live = excluded.is_live,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			status = excluded.status
	`, s.ID, s.EngineKey, string(s.KeyType), s.Key, s.PlaybackSessionID, s.StatURL, s.CommandURL,
		isLive, s.StartedAt.UTC().Format(time.RFC3339Nano), endedAt, string(s.Status))
	return err
}

// GetStream fetches a stream by id, returning nil if absent.
func (d *DB) GetStream(id string) (*Stream, error) {
	row := d.db.QueryRow(streamSelect+` WHERE id = ?`, id)
	return scanStream(row)
}

// ListStreams returns streams optionally filtered by status and/or the
// container id of their owning engine. Empty filters match everything.
func (d *DB) ListStreams(status StreamStatus, containerID string) ([]*Stream, error) {
	query := `
		SELECT s.id, s.engine_key, s.key_type, s.key, s.playback_session_id, s.stat_url, s.command_url, s.is_live, s.started_at, s.ended_at, s.status
		FROM streams s
		LEFT JOIN engines e ON e.engine_key = s.engine_key
		WHERE 1 = 1
	`
	var args []any
	if status != "" {
		query += " AND s.status = ?"
		args = append(args, string(status))
	}
	if containerID != "" {
		query += " AND e.container_id = ?"
		args = append(args, containerID)
	}
	query += " ORDER BY s.started_at DESC"

	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Stream
	for rows.Next() {
		s, err := scanStreamRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStreamsByEngine returns every stream for a given engine key.
func (d *DB) ListStreamsByEngine(engineKey string) ([]*Stream, error) {
	rows, err := d.db.Query(streamSelect+` WHERE engine_key = ? ORDER BY started_at DESC`, engineKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Stream
	for rows.Next() {
		s, err := scanStreamRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListStartedStreams returns every stream currently in status started,
// across all engines. Used by the state registry's boot-time rehydrate.
func (d *DB) ListStartedStreams() ([]*Stream, error) {
	return d.ListStreams(StreamStarted, "")
}

const streamSelect = `
	SELECT id, engine_key, key_type, key, playback_session_id, stat_url, command_url, is_live, started_at, ended_at, status
	FROM streams
`

func scanStream(row *sql.Row) (*Stream, error) {
	s, err := scanStreamFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

func scanStreamRow(rows *sql.Rows) (*Stream, error) {
	return scanStreamFrom(rows)
}

func scanStreamFrom(s rowScanner) (*Stream, error) {
	var st Stream
	var keyType, status, startedAt string
	var isLive int
	var endedAt sql.NullString
	if err := s.Scan(&st.ID, &st.EngineKey, &keyType, &st.Key, &st.PlaybackSessionID,
		&st.StatURL, &st.CommandURL, &isLive, &startedAt, &endedAt, &status); err != nil {
		return nil, err
	}
	st.KeyType = KeyType(keyType)
	st.Status = StreamStatus(status)
	st.IsLive = isLive != 0
	st.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err == nil {
			st.EndedAt = &t
		}
	}
	return &st, nil
}
