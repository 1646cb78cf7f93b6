package store

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "orchestrator.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveAndGetEngineRoundTrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	e := &Engine{
		EngineKey:   "10.0.0.1:19000",
		ContainerID: "c1",
		Host:        "10.0.0.1",
		Port:        19000,
		Labels:      map[string]string{"ondemand.app": "myservice"},
		FirstSeen:   now,
		LastSeen:    now,
	}
	if err := db.SaveEngine(e); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := db.GetEngine(e.EngineKey)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ContainerID != "c1" || got.Port != 19000 {
		t.Fatalf("unexpected engine: %+v", got)
	}
}

func TestSaveEngineUpsertUpdatesLastSeen(t *testing.T) {
	db := openTestDB(t)
	t0 := time.Now().UTC()
	e := &Engine{EngineKey: "k", ContainerID: "c1", Host: "h", Port: 1, Labels: map[string]string{}, FirstSeen: t0, LastSeen: t0}
	if err := db.SaveEngine(e); err != nil {
		t.Fatalf("save: %v", err)
	}
	t1 := t0.Add(time.Minute)
	e.LastSeen = t1
	if err := db.SaveEngine(e); err != nil {
		t.Fatalf("save again: %v", err)
	}
	got, _ := db.GetEngine("k")
	if !got.LastSeen.Equal(t1) {
		t.Fatalf("expected last_seen updated to %v, got %v", t1, got.LastSeen)
	}
	if !got.FirstSeen.Equal(t0) {
		t.Fatalf("expected first_seen unchanged, got %v", got.FirstSeen)
	}
}

func TestStreamLifecycleAndListFilters(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	e := &Engine{EngineKey: "k", ContainerID: "c1", Host: "h", Port: 1, Labels: map[string]string{}, FirstSeen: now, LastSeen: now}
	if err := db.SaveEngine(e); err != nil {
		t.Fatalf("save engine: %v", err)
	}

	s := &Stream{
		ID: "S", EngineKey: "k", KeyType: KeyTypeContentID, Key: "abc",
		PlaybackSessionID: "sess1", StatURL: "http://x/stat", CommandURL: "http://x/cmd",
		StartedAt: now, Status: StreamStarted,
	}
	if err := db.SaveStream(s); err != nil {
		t.Fatalf("save stream: %v", err)
	}

	started, err := db.ListStreams(StreamStarted, "")
	if err != nil || len(started) != 1 {
		t.Fatalf("expected 1 started stream, got %d, err=%v", len(started), err)
	}

	ended := now.Add(time.Second)
	s.Status = StreamEnded
	s.EndedAt = &ended
	if err := db.SaveStream(s); err != nil {
		t.Fatalf("save ended stream: %v", err)
	}

	gotEnded, err := db.ListStreams(StreamEnded, "")
	if err != nil || len(gotEnded) != 1 || gotEnded[0].ID != "S" {
		t.Fatalf("expected exactly one ended stream S, got %+v err=%v", gotEnded, err)
	}
	if gotEnded[0].EndedAt == nil || !gotEnded[0].EndedAt.After(gotEnded[0].StartedAt) {
		t.Fatalf("expected ended_at after started_at, got %+v", gotEnded[0])
	}

	byContainer, err := db.ListStreams("", "c1")
	if err != nil || len(byContainer) != 1 {
		t.Fatalf("expected 1 stream by container_id, got %d err=%v", len(byContainer), err)
	}
}

func TestInsertAndListStats(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	s1 := &StreamStatSample{StreamID: "S", TS: now, Peers: 3, SpeedDown: 100}
	s2 := &StreamStatSample{StreamID: "S", TS: now.Add(time.Second), Peers: 4, SpeedDown: 200}
	if err := db.InsertStat(s1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.InsertStat(s2); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := db.ListStats("S", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Peers != 3 || got[1].Peers != 4 {
		t.Fatalf("expected oldest-first order, got %+v", got)
	}
}

func TestDeleteEngineCascades(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	e := &Engine{EngineKey: "k", ContainerID: "c1", Host: "h", Port: 1, Labels: map[string]string{}, FirstSeen: now, LastSeen: now}
	_ = db.SaveEngine(e)
	s := &Stream{ID: "S", EngineKey: "k", KeyType: KeyTypeURL, Key: "u", PlaybackSessionID: "p", StartedAt: now, Status: StreamStarted}
	_ = db.SaveStream(s)
	_ = db.InsertStat(&StreamStatSample{StreamID: "S", TS: now})

	if err := db.DeleteEngine("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ := db.GetEngine("k")
	if got != nil {
		t.Fatalf("expected engine gone, got %+v", got)
	}
	streams, _ := db.ListStreamsByEngine("k")
	if len(streams) != 0 {
		t.Fatalf("expected cascaded stream deletion, got %d", len(streams))
	}
}
