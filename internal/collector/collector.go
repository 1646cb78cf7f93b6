// Package collector runs the periodic stats-gathering loop over every
// started stream, detecting engine-side termination and feeding the
// unhealthy-engine signal back into the state registry.
package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/events"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/metrics"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

// maxConcurrentFetches bounds the collector's fan-out regardless of how
// many streams are active in a given cycle.
const maxConcurrentFetches = 16

// terminalStatuses are the engine-reported statuses treated as stream
// end, in addition to a 404/410 on the stat endpoint itself.
var terminalStatuses = map[string]bool{
	"finished": true,
	"stopped":  true,
	"error":    true,
	"dead":     true,
}

// statPayload is the subset of an engine's stat_url JSON response the
// collector understands.
type statPayload struct {
	Status         string `json:"status"`
	Peers          int    `json:"peers"`
	SpeedDown      int64  `json:"speed_down"`
	SpeedUp        int64  `json:"speed_up"`
	Downloaded     int64  `json:"downloaded"`
	Uploaded       int64  `json:"uploaded"`
}

// Collector periodically samples every started stream's stat_url.
type Collector struct {
	cfg  *config.Config
	reg  *state.Registry
	ing  *events.Ingestor
	log  *logging.Logger
	http *http.Client
	now  func() time.Time

	stop chan struct{}
	done chan struct{}
}

// New builds a Collector. The HTTP client's per-request timeout is
// derived from COLLECT_INTERVAL_S so a single slow engine cannot stall
// an entire cycle past the next tick.
func New(cfg *config.Config, reg *state.Registry, ing *events.Ingestor, log *logging.Logger) *Collector {
	timeout := time.Duration(cfg.CollectInterval) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Collector{
		cfg:  cfg,
		reg:  reg,
		ing:  ing,
		log:  log,
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run blocks, ticking every COLLECT_INTERVAL_S until Stop is called or
// ctx is cancelled. Intended to be launched in its own goroutine.
func (c *Collector) Run(ctx context.Context) {
	defer close(c.done)
	interval := time.Duration(c.cfg.CollectInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight cycle, if
// any, to finish.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Collector) runCycle(ctx context.Context) {
	streams := c.reg.StartedStreamsSnapshot()
	if len(streams) == 0 {
		return
	}

	sem := semaphore.NewWeighted(maxConcurrentFetches)
	for _, s := range streams {
		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(s *store.Stream) {
			defer sem.Release(1)
			c.sampleOne(ctx, s)
		}(s)
	}
	// Wait for every outstanding fetch to release its slot before the
	// next tick fires.
	_ = sem.Acquire(ctx, maxConcurrentFetches)
}

func (c *Collector) sampleOne(ctx context.Context, s *store.Stream) {
	reqCtx, cancel := context.WithTimeout(ctx, c.http.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.StatURL, nil)
	if err != nil {
		c.recordFailure(s)
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(s)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		c.endDetected(s)
		return
	}
	if resp.StatusCode >= 300 {
		c.recordFailure(s)
		return
	}

	var payload statPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.recordFailure(s)
		return
	}

	sample := &store.StreamStatSample{
		StreamID:   s.ID,
		TS:         c.now().UTC(),
		Peers:      payload.Peers,
		SpeedDown:  payload.SpeedDown,
		SpeedUp:    payload.SpeedUp,
		Downloaded: payload.Downloaded,
		Uploaded:   payload.Uploaded,
		Status:     payload.Status,
	}
	if err := c.reg.AppendStat(sample); err != nil {
		c.log.WithStream(s.ID, s.EngineKey).WithError(err).Error("collector: persist sample failed")
	}
	c.reg.MarkCollectSuccess(s.EngineKey)

	if terminalStatuses[payload.Status] {
		c.endDetected(s)
	}
}

func (c *Collector) recordFailure(s *store.Stream) {
	metrics.CollectErrorsTotal.Inc()
	if c.reg.MarkCollectFailure(s.EngineKey) {
		c.log.WithEngine(s.EngineKey).Warn("collector: engine marked unhealthy after 3 consecutive failures")
	}
}

func (c *Collector) endDetected(s *store.Stream) {
	ctx := context.Background()
	if _, err := c.ing.OnStreamEnded(ctx, events.EndedEvent{StreamID: s.ID, Reason: "collector_detected"}); err != nil {
		c.log.WithStream(s.ID, s.EngineKey).WithError(err).Error("collector: synthesized stream_ended failed")
	}
}
