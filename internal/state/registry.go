// Package state is the in-memory index of live engines and streams.
// Every mutation is mirrored to persistence within the same critical
// section: the mutation commits to memory only after the persistence
// write succeeds.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

// Registry is the concurrency-safe index over engines, streams, and a
// bounded per-stream stats ring.
type Registry struct {
	mu sync.RWMutex

	db *store.DB

	engines          map[string]*store.Engine // engine_key -> engine
	engineByContainer map[string]string        // container_id -> engine_key

	streams         map[string]*store.Stream // stream_id -> stream
	streamsByEngine map[string]map[string]struct{}

	stats       map[string][]*store.StreamStatSample // stream_id -> ring
	historyMax  int
	unhealthy   map[string]int // engine_key -> consecutive collector failures
}

// New builds an empty Registry bound to db, with the given per-stream
// stats ring capacity.
func New(db *store.DB, historyMax int) *Registry {
	return &Registry{
		db:                db,
		engines:           make(map[string]*store.Engine),
		engineByContainer: make(map[string]string),
		streams:           make(map[string]*store.Stream),
		streamsByEngine:   make(map[string]map[string]struct{}),
		stats:             make(map[string][]*store.StreamStatSample),
		historyMax:        historyMax,
		unhealthy:         make(map[string]int),
	}
}

// Rehydrate loads every engine and non-ended stream from persistence
// into the in-memory index. Called once by the boot sequencer.
func (r *Registry) Rehydrate() error {
	engines, err := r.db.ListEngines()
	if err != nil {
		return fmt.Errorf("state: rehydrate engines: %w", err)
	}
	streams, err := r.db.ListStartedStreams()
	if err != nil {
		return fmt.Errorf("state: rehydrate streams: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range engines {
		r.engines[e.EngineKey] = e
		r.engineByContainer[e.ContainerID] = e.EngineKey
	}
	for _, s := range streams {
		r.streams[s.ID] = s
		r.indexStreamLocked(s)
	}
	return nil
}

func (r *Registry) indexStreamLocked(s *store.Stream) {
	set, ok := r.streamsByEngine[s.EngineKey]
	if !ok {
		set = make(map[string]struct{})
		r.streamsByEngine[s.EngineKey] = set
	}
	set[s.ID] = struct{}{}
}

// UpsertEngine inserts or refreshes an engine, persisting first. Used
// by the provisioner, the reindexer, and the event ingestor.
func (r *Registry) UpsertEngine(e *store.Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.SaveEngine(e); err != nil {
		return &orcherr.PersistenceError{Op: "save_engine", Cause: err}
	}
	r.engines[e.EngineKey] = e
	r.engineByContainer[e.ContainerID] = e.EngineKey
	return nil
}

// GetEngine returns the engine for a key, or nil if unknown.
func (r *Registry) GetEngine(engineKey string) *store.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[engineKey]
}

// GetEngineByContainer resolves an engine via its container id.
func (r *Registry) GetEngineByContainer(containerID string) *store.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.engineByContainer[containerID]
	if !ok {
		return nil
	}
	return r.engines[key]
}

// ListEngines returns a snapshot of every known engine.
func (r *Registry) ListEngines() []*store.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*store.Engine, 0, len(r.engines))
	for _, e := range r.engines {
		out = append(out, e)
	}
	return out
}

// CountEngines returns the number of known engines.
func (r *Registry) CountEngines() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.engines)
}

// RemoveEngine deletes an engine, its streams, and their stats from
// persistence and the index. Used after a confirmed removal via the
// runtime adapter.
func (r *Registry) RemoveEngine(engineKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.DeleteEngine(engineKey); err != nil {
		return &orcherr.PersistenceError{Op: "delete_engine", Cause: err}
	}
	e, ok := r.engines[engineKey]
	if ok {
		delete(r.engineByContainer, e.ContainerID)
	}
	delete(r.engines, engineKey)
	for id := range r.streamsByEngine[engineKey] {
		delete(r.streams, id)
		delete(r.stats, id)
	}
	delete(r.streamsByEngine, engineKey)
	delete(r.unhealthy, engineKey)
	return nil
}

// UpsertStream inserts, overwrites, or re-opens a stream record,
// persisting first.
func (r *Registry) UpsertStream(s *store.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.SaveStream(s); err != nil {
		return &orcherr.PersistenceError{Op: "save_stream", Cause: err}
	}
	r.streams[s.ID] = s
	r.indexStreamLocked(s)
	return nil
}

// GetStream returns a stream by id, or nil if unknown.
func (r *Registry) GetStream(id string) *store.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[id]
}

// ListStreams returns a snapshot filtered by status (empty = any) and
// engine key (empty = any).
func (r *Registry) ListStreams(status store.StreamStatus, engineKey string) []*store.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*store.Stream
	for _, s := range r.streams {
		if status != "" && s.Status != status {
			continue
		}
		if engineKey != "" && s.EngineKey != engineKey {
			continue
		}
		out = append(out, s)
	}
	return out
}

// StartedStreamsSnapshot returns every stream currently in status
// started, taken under a read lock, for the collector's per-cycle walk.
func (r *Registry) StartedStreamsSnapshot() []*store.Stream {
	return r.ListStreams(store.StreamStarted, "")
}

// FindStreamByContainer resolves a started stream belonging to the
// engine identified by containerID. Used by on_stream_ended's fallback
// resolution path.
func (r *Registry) FindStreamByContainer(containerID string) *store.Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	engineKey, ok := r.engineByContainer[containerID]
	if !ok {
		return nil
	}
	for id := range r.streamsByEngine[engineKey] {
		if s := r.streams[id]; s != nil && s.Status == store.StreamStarted {
			return s
		}
	}
	return nil
}

// AppendStat records a sample into the bounded in-memory ring and
// persists it. The ring never exceeds historyMax entries per stream.
func (r *Registry) AppendStat(s *store.StreamStatSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.db.InsertStat(s); err != nil {
		return &orcherr.PersistenceError{Op: "insert_stat", Cause: err}
	}
	ring := append(r.stats[s.StreamID], s)
	if len(ring) > r.historyMax {
		ring = ring[len(ring)-r.historyMax:]
	}
	r.stats[s.StreamID] = ring
	return nil
}

// StatsSince returns samples for a stream at or after since. When since
// is zero, or falls within the bounded in-memory ring's current window,
// it answers from the ring without touching storage. When since
// predates the ring's oldest retained sample, it falls back to the
// unbounded persisted history so the query contract holds regardless of
// how much of the ring has rolled off.
func (r *Registry) StatsSince(streamID string, since time.Time) ([]*store.StreamStatSample, error) {
	r.mu.RLock()
	ring := r.stats[streamID]
	coveredByRing := since.IsZero() || len(ring) == 0 || !since.Before(ring[0].TS)
	out := make([]*store.StreamStatSample, len(ring))
	copy(out, ring)
	r.mu.RUnlock()

	if coveredByRing {
		filtered := out[:0:0]
		for _, sm := range out {
			if since.IsZero() || !sm.TS.Before(since) {
				filtered = append(filtered, sm)
			}
		}
		return filtered, nil
	}

	samples, err := r.db.ListStats(streamID, since)
	if err != nil {
		return nil, &orcherr.PersistenceError{Op: "list_stats", Cause: err}
	}
	return samples, nil
}

// RecentStats returns the in-memory ring for a stream, most-recent
// retention only; callers wanting full history should query storage.
func (r *Registry) RecentStats(streamID string) []*store.StreamStatSample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ring := r.stats[streamID]
	out := make([]*store.StreamStatSample, len(ring))
	copy(out, ring)
	return out
}

// MarkCollectFailure increments an engine's consecutive collector
// failure count and reports whether it has now crossed the
// three-strikes unhealthy threshold.
func (r *Registry) MarkCollectFailure(engineKey string) (unhealthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhealthy[engineKey]++
	return r.unhealthy[engineKey] >= 3
}

// MarkCollectSuccess resets an engine's consecutive failure count.
func (r *Registry) MarkCollectSuccess(engineKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unhealthy, engineKey)
}

// IsUnhealthy reports whether an engine has crossed the three
// consecutive collector-failure threshold.
func (r *Registry) IsUnhealthy(engineKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unhealthy[engineKey] >= 3
}

// EngineKeyFor derives the stable engine identity from a host/port pair.
func EngineKeyFor(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// Now is the registry's clock; a package var so tests can override it.
var Now = time.Now
