package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

func newTestRegistry(t *testing.T, historyMax int) *Registry {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, historyMax)
}

func TestUpsertEngineIndexesByContainer(t *testing.T) {
	r := newTestRegistry(t, 10)
	now := time.Now().UTC()
	e := &store.Engine{EngineKey: "h:1", ContainerID: "c1", Host: "h", Port: 1, Labels: map[string]string{}, FirstSeen: now, LastSeen: now}
	if err := r.UpsertEngine(e); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got := r.GetEngineByContainer("c1")
	if got == nil || got.EngineKey != "h:1" {
		t.Fatalf("expected lookup by container id to resolve, got %+v", got)
	}
}

func TestRemoveEngineDropsStreamsAndStats(t *testing.T) {
	r := newTestRegistry(t, 10)
	now := time.Now().UTC()
	e := &store.Engine{EngineKey: "h:1", ContainerID: "c1", Host: "h", Port: 1, Labels: map[string]string{}, FirstSeen: now, LastSeen: now}
	_ = r.UpsertEngine(e)
	s := &store.Stream{ID: "S", EngineKey: "h:1", KeyType: store.KeyTypeURL, Key: "u", PlaybackSessionID: "p", StartedAt: now, Status: store.StreamStarted}
	_ = r.UpsertStream(s)
	_ = r.AppendStat(&store.StreamStatSample{StreamID: "S", TS: now})

	if err := r.RemoveEngine("h:1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.GetEngine("h:1") != nil {
		t.Fatal("expected engine removed")
	}
	if r.GetStream("S") != nil {
		t.Fatal("expected stream removed")
	}
	if len(r.RecentStats("S")) != 0 {
		t.Fatal("expected stats ring cleared")
	}
}

func TestStatsRingBoundedAtHistoryMax(t *testing.T) {
	r := newTestRegistry(t, 3)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		if err := r.AppendStat(&store.StreamStatSample{StreamID: "S", TS: now.Add(time.Duration(i) * time.Second), Peers: i}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ring := r.RecentStats("S")
	if len(ring) != 3 {
		t.Fatalf("expected ring capped at 3, got %d", len(ring))
	}
	if ring[0].Peers != 2 || ring[2].Peers != 4 {
		t.Fatalf("expected the last 3 samples retained, got %+v", ring)
	}
}

func TestReopenStreamAfterEnded(t *testing.T) {
	r := newTestRegistry(t, 10)
	now := time.Now().UTC()
	s := &store.Stream{ID: "S", EngineKey: "h:1", KeyType: store.KeyTypeURL, Key: "u", PlaybackSessionID: "p", StartedAt: now, Status: store.StreamEnded, EndedAt: &now}
	if err := r.UpsertStream(s); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	reopened := &store.Stream{ID: "S", EngineKey: "h:1", KeyType: store.KeyTypeURL, Key: "u", PlaybackSessionID: "p", StartedAt: now.Add(time.Minute), Status: store.StreamStarted}
	if err := r.UpsertStream(reopened); err != nil {
		t.Fatalf("upsert reopen: %v", err)
	}
	got := r.GetStream("S")
	if got.Status != store.StreamStarted || got.EndedAt != nil {
		t.Fatalf("expected reopened stream, got %+v", got)
	}
}

func TestUnhealthyThreshold(t *testing.T) {
	r := newTestRegistry(t, 10)
	for i := 0; i < 2; i++ {
		if r.MarkCollectFailure("h:1") {
			t.Fatalf("should not be unhealthy before 3 failures (i=%d)", i)
		}
	}
	if !r.MarkCollectFailure("h:1") {
		t.Fatal("expected unhealthy after 3 consecutive failures")
	}
	r.MarkCollectSuccess("h:1")
	if r.IsUnhealthy("h:1") {
		t.Fatal("expected success to clear unhealthy state")
	}
}

func TestRehydrateLoadsFromPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orchestrator.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UTC()
	_ = db.SaveEngine(&store.Engine{EngineKey: "h:1", ContainerID: "c1", Host: "h", Port: 1, Labels: map[string]string{}, FirstSeen: now, LastSeen: now})
	_ = db.SaveStream(&store.Stream{ID: "S", EngineKey: "h:1", KeyType: store.KeyTypeURL, Key: "u", PlaybackSessionID: "p", StartedAt: now, Status: store.StreamStarted})
	db.Close()

	db2, err := store.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { db2.Close() })
	r := New(db2, 10)
	if err := r.Rehydrate(); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if r.GetEngine("h:1") == nil {
		t.Fatal("expected engine rehydrated")
	}
	if r.GetStream("S") == nil {
		t.Fatal("expected stream rehydrated")
	}
}
