// Package boot wires every component into a single Orchestrator and
// drives the startup and shutdown sequences.
package boot

import (
	"context"
	"fmt"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/autoscale"
	"github.com/krinkuto11/ace-orchestrator/internal/collector"
	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/events"
	"github.com/krinkuto11/ace-orchestrator/internal/lifecycle"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/portpool"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

// Orchestrator aggregates every component constructed during boot and
// exposes the lifecycle hooks the entrypoint drives.
type Orchestrator struct {
	Cfg         *config.Config
	Log         *logging.Logger
	DB          *store.DB
	Pool        *portpool.Pool
	Runtime     runtime.Adapter
	Registry    *state.Registry
	Provisioner *lifecycle.Provisioner
	Ingestor    *events.Ingestor
	Collector   *collector.Collector
	Autoscaler  *autoscale.Autoscaler
}

// New constructs every component and performs the schema-create,
// rehydrate, and reindex-on-boot steps. It does not start the
// collector or call EnsureMinimum; that is Run's job.
func New(cfg *config.Config, log *logging.Logger, rt runtime.Adapter) (*Orchestrator, error) {
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("boot: open store: %w", err)
	}

	pool := portpool.New(cfg.PortRangeHost, cfg.AceHTTPRange, cfg.AceHTTPSRange)
	reg := state.New(db, cfg.StatsHistoryMax)
	if err := reg.Rehydrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("boot: rehydrate registry: %w", err)
	}

	pr := lifecycle.New(cfg, pool, rt, reg, log)
	if err := pr.ReindexOnBoot(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("boot: reindex containers: %w", err)
	}

	ing := events.New(cfg, reg, rt, log)
	coll := collector.New(cfg, reg, ing, log)
	as := autoscale.New(cfg, rt, pr, log)

	return &Orchestrator{
		Cfg:         cfg,
		Log:         log,
		DB:          db,
		Pool:        pool,
		Runtime:     rt,
		Registry:    reg,
		Provisioner: pr,
		Ingestor:    ing,
		Collector:   coll,
		Autoscaler:  as,
	}, nil
}

// Run starts the collector loop and tops the fleet up to MIN_REPLICAS.
// ctx governs the collector's lifetime; cancelling it stops the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	go o.Collector.Run(ctx)
	if err := o.Autoscaler.EnsureMinimum(ctx); err != nil {
		return fmt.Errorf("boot: ensure minimum replicas: %w", err)
	}
	o.Log.Info("orchestrator started")
	return nil
}

// shutdownDrain bounds how long Shutdown waits for the collector's
// in-flight cycle before closing persistence regardless.
const shutdownDrain = 10 * time.Second

// Shutdown stops the collector, waits up to shutdownDrain for its
// in-flight cycle to finish, then closes the store.
func (o *Orchestrator) Shutdown() error {
	stopped := make(chan struct{})
	go func() {
		o.Collector.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(shutdownDrain):
		o.Log.Warn("boot: collector did not stop within drain window")
	}

	return o.DB.Close()
}
