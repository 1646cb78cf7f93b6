package store

import "time"

// StreamStatSample is a single immutable observation of a stream's
// transfer statistics.
type StreamStatSample struct {
	StreamID   string    `json:"stream_id"`
	TS         time.Time `json:"ts"`
	Peers      int       `json:"peers"`
	SpeedDown  int64     `json:"speed_down"`
	SpeedUp    int64     `json:"speed_up"`
	Downloaded int64     `json:"downloaded"`
	Uploaded   int64     `json:"uploaded"`
	Status     string    `json:"status"`
}

// InsertStat appends a sample. Samples are immutable and retained
// unbounded in storage; the bounded ring lives in the state registry.
func (d *DB) InsertStat(s *StreamStatSample) error {
	_, err := d.db.Exec(`
		INSERT INTO stream_stats (stream_id, ts, peers, speed_down, speed_up, downloaded, uploaded, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.StreamID, s.TS.UTC().Format(time.RFC3339Nano), s.Peers, s.SpeedDown, s.SpeedUp, s.Downloaded, s.Uploaded, s.Status)
	return err
}

// ListStats returns samples for a stream at or after since, oldest first.
func (d *DB) ListStats(streamID string, since time.Time) ([]*StreamStatSample, error) {
	rows, err := d.db.Query(`
		SELECT stream_id, ts, peers, speed_down, speed_up, downloaded, uploaded, status
		FROM stream_stats WHERE stream_id = ? AND ts >= ? ORDER BY ts ASC
	`, streamID, since.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StreamStatSample
	for rows.Next() {
		var s StreamStatSample
		var ts string
		if err := rows.Scan(&s.StreamID, &ts, &s.Peers, &s.SpeedDown, &s.SpeedUp, &s.Downloaded, &s.Uploaded, &s.Status); err != nil {
			return nil, err
		}
		s.TS, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, &s)
	}
	return out, rows.Err()
}
