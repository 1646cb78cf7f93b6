// Package events implements idempotent handlers for stream_started and
// stream_ended, including optional auto-delete with bounded retry.
package events

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/metrics"
	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

// backoff is the bounded auto-delete retry schedule.
var backoff = []time.Duration{1 * time.Second, 2 * time.Second, 3 * time.Second}

// EngineRef identifies the engine a started stream is playing on.
type EngineRef struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StreamRef carries the stream's closed-enum identity.
type StreamRef struct {
	KeyType store.KeyType `json:"key_type"`
	Key     string        `json:"key"`
}

// SessionRef carries the playback session's addressable endpoints.
type SessionRef struct {
	PlaybackSessionID string `json:"playback_session_id"`
	StatURL           string `json:"stat_url"`
	CommandURL        string `json:"command_url"`
	IsLive            bool   `json:"is_live"`
}

// StartedEvent is the validated payload of POST /events/stream_started.
type StartedEvent struct {
	Engine  EngineRef
	Stream  StreamRef
	Session SessionRef
	Labels  map[string]string
}

// EndedEvent is the payload of POST /events/stream_ended. Exactly one
// of ContainerID, StreamID, or Host should resolve the target stream.
type EndedEvent struct {
	ContainerID string
	StreamID    string
	Host        string
	Reason      string
}

// EndedResult is the response shape for on_stream_ended.
type EndedResult struct {
	Updated bool          `json:"updated"`
	Stream  *store.Stream `json:"stream,omitempty"`
}

// Ingestor owns the event-handling logic over the shared registry.
type Ingestor struct {
	cfg *config.Config
	reg *state.Registry
	rt  runtime.Adapter
	log *logging.Logger
	now func() time.Time
}

// New builds an Ingestor.
func New(cfg *config.Config, reg *state.Registry, rt runtime.Adapter, log *logging.Logger) *Ingestor {
	return &Ingestor{cfg: cfg, reg: reg, rt: rt, log: log, now: time.Now}
}

// Validate checks the required fields of a stream_started payload
// against the closed key_type enumeration.
func (e StartedEvent) Validate() error {
	if e.Engine.Host == "" {
		return &orcherr.ValidationError{Field: "engine.host", Reason: "required"}
	}
	if e.Engine.Port <= 0 {
		return &orcherr.ValidationError{Field: "engine.port", Reason: "required"}
	}
	switch e.Stream.KeyType {
	case store.KeyTypeContentID, store.KeyTypeInfohash, store.KeyTypeURL, store.KeyTypeMagnet:
	default:
		return &orcherr.ValidationError{Field: "stream.key_type", Reason: fmt.Sprintf("must be one of content_id, infohash, url, magnet, got %q", e.Stream.KeyType)}
	}
	if e.Stream.Key == "" {
		return &orcherr.ValidationError{Field: "stream.key", Reason: "required"}
	}
	if e.Session.PlaybackSessionID == "" {
		return &orcherr.ValidationError{Field: "session.playback_session_id", Reason: "required"}
	}
	if e.Session.StatURL == "" {
		return &orcherr.ValidationError{Field: "session.stat_url", Reason: "required"}
	}
	if e.Session.CommandURL == "" {
		return &orcherr.ValidationError{Field: "session.command_url", Reason: "required"}
	}
	return nil
}

// OnStreamStarted implements on_stream_started: it resolves or creates
// the engine, computes the stream id, and creates or idempotently
// overwrites the stream record, re-opening it if it was previously
// ended.
func (i *Ingestor) OnStreamStarted(evt StartedEvent) (*store.Stream, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}

	now := i.now().UTC()
	engineKey := state.EngineKeyFor(evt.Engine.Host, evt.Engine.Port)
	engine := i.reg.GetEngine(engineKey)
	if engine == nil {
		engine = &store.Engine{
			EngineKey: engineKey,
			Host:      evt.Engine.Host,
			Port:      evt.Engine.Port,
			Labels:    map[string]string{},
			FirstSeen: now,
			LastSeen:  now,
		}
	} else {
		engine.LastSeen = now
		for k, v := range evt.Labels {
			if engine.Labels == nil {
				engine.Labels = map[string]string{}
			}
			engine.Labels[k] = v
		}
	}
	if err := i.reg.UpsertEngine(engine); err != nil {
		return nil, err
	}

	streamID := evt.Labels["stream_id"]
	if streamID == "" {
		streamID = fmt.Sprintf("%s|%s", evt.Stream.Key, evt.Session.PlaybackSessionID)
	}

	startedAt := now
	if existing := i.reg.GetStream(streamID); existing != nil && existing.Status == store.StreamStarted {
		startedAt = existing.StartedAt
	}

	s := &store.Stream{
		ID:                streamID,
		EngineKey:         engineKey,
		KeyType:           evt.Stream.KeyType,
		Key:               evt.Stream.Key,
		PlaybackSessionID: evt.Session.PlaybackSessionID,
		StatURL:           evt.Session.StatURL,
		CommandURL:        evt.Session.CommandURL,
		IsLive:            evt.Session.IsLive,
		StartedAt:         startedAt,
		EndedAt:           nil,
		Status:            store.StreamStarted,
	}
	if err := i.reg.UpsertStream(s); err != nil {
		return nil, err
	}

	metrics.EventsStartedTotal.Inc()
	metrics.StreamsActive.Set(float64(len(i.reg.ListStreams(store.StreamStarted, ""))))
	i.log.WithStream(streamID, engineKey).Info("stream started")
	return s, nil
}

// OnStreamEnded implements on_stream_ended: it resolves the target
// stream by id, then by owning container, then by the host embedded in
// stat_url, and transitions it to ended exactly once.
func (i *Ingestor) OnStreamEnded(ctx context.Context, evt EndedEvent) (*EndedResult, error) {
	s := i.resolveStream(evt)
	if s == nil {
		return &EndedResult{Updated: false}, nil
	}
	if s.Status == store.StreamEnded {
		return &EndedResult{Updated: false, Stream: s}, nil
	}

	now := i.now().UTC()
	s.Status = store.StreamEnded
	s.EndedAt = &now
	if err := i.reg.UpsertStream(s); err != nil {
		return nil, err
	}

	metrics.EventsEndedTotal.Inc()
	metrics.StreamsActive.Set(float64(len(i.reg.ListStreams(store.StreamStarted, ""))))
	i.log.WithStream(s.ID, s.EngineKey).WithField("reason", evt.Reason).Info("stream ended")

	if i.cfg.AutoDelete {
		i.maybeAutoDelete(s.EngineKey)
	}

	return &EndedResult{Updated: true, Stream: s}, nil
}

func (i *Ingestor) resolveStream(evt EndedEvent) *store.Stream {
	if evt.StreamID != "" {
		if s := i.reg.GetStream(evt.StreamID); s != nil {
			return s
		}
	}
	if evt.ContainerID != "" {
		if s := i.reg.FindStreamByContainer(evt.ContainerID); s != nil {
			return s
		}
	}
	if evt.Host != "" {
		if s := i.findByHost(evt.Host); s != nil {
			return s
		}
	}
	return nil
}

func (i *Ingestor) findByHost(host string) *store.Stream {
	for _, s := range i.reg.ListStreams(store.StreamStarted, "") {
		if u, err := url.Parse(s.StatURL); err == nil && hostMatches(u, host) {
			return s
		}
	}
	return nil
}

func hostMatches(u *url.URL, host string) bool {
	h := u.Hostname()
	if port := u.Port(); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			h = h + ":" + port
		}
	}
	return h == host || strings.HasPrefix(host, u.Hostname())
}

// maybeAutoDelete schedules container removal, with bounded retry at
// 1s/2s/3s, once an engine's started-stream count reaches zero.
func (i *Ingestor) maybeAutoDelete(engineKey string) {
	remaining := i.reg.ListStreams(store.StreamStarted, engineKey)
	if len(remaining) > 0 {
		return
	}
	engine := i.reg.GetEngine(engineKey)
	if engine == nil {
		return
	}

	go i.retryRemove(engine.EngineKey, engine.ContainerID)
}

func (i *Ingestor) retryRemove(engineKey, containerID string) {
	ctx := context.Background()
	var lastErr error
	for _, delay := range backoff {
		time.Sleep(delay)
		// Another event may have re-populated the engine with a new
		// stream between attempts; abort the delete in that case.
		if len(i.reg.ListStreams(store.StreamStarted, engineKey)) > 0 {
			return
		}
		if err := i.rt.Remove(ctx, containerID, true); err != nil {
			lastErr = err
			continue
		}
		if err := i.reg.RemoveEngine(engineKey); err != nil {
			i.log.WithEngine(engineKey).WithError(err).Error("auto-delete: remove from registry failed")
		}
		return
	}
	i.log.WithEngine(engineKey).WithError(lastErr).Warn("auto-delete: all retries exhausted, leaving engine for next gc cycle")
}
