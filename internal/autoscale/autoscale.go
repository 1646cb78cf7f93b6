// Package autoscale keeps the managed engine fleet at or above a
// configured floor and honors explicit scale-to-demand requests,
// clamped to [MIN_REPLICAS, MAX_REPLICAS]. It never shrinks the fleet;
// surplus capacity is reclaimed only through stream_ended auto-delete
// or an operator-initiated removal.
package autoscale

import (
	"context"
	"fmt"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/lifecycle"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
)

// Autoscaler provisions engines on demand, never removing them. Fleet
// size is read from the runtime adapter directly (every container
// carrying the management label), not from the stream-facing state
// registry, since a warm replica has no engine_key until a stream
// event or explicit registration binds it to a host:port.
type Autoscaler struct {
	cfg *config.Config
	rt  runtime.Adapter
	pr  *lifecycle.Provisioner
	log *logging.Logger
}

// New builds an Autoscaler.
func New(cfg *config.Config, rt runtime.Adapter, pr *lifecycle.Provisioner, log *logging.Logger) *Autoscaler {
	return &Autoscaler{cfg: cfg, rt: rt, pr: pr, log: log}
}

// EnsureMinimum tops the fleet up to MIN_REPLICAS using the configured
// default image. Called once at boot.
func (a *Autoscaler) EnsureMinimum(ctx context.Context) error {
	return a.scaleUpTo(ctx, a.cfg.MinReplicas)
}

// ScaleTo clamps demand to [MIN_REPLICAS, MAX_REPLICAS], provisions the
// shortfall, if any, to reach it, and reports the clamped target
// alongside the fleet size after provisioning. It never removes
// engines even when the current count exceeds the clamped demand.
func (a *Autoscaler) ScaleTo(ctx context.Context, demand int) (target, current int, err error) {
	target = clamp(demand, a.cfg.MinReplicas, a.cfg.MaxReplicas)
	current, err = a.scaleUpTo(ctx, target)
	return target, current, err
}

// CurrentCount reports the number of containers carrying the
// management label, regardless of engine registration.
func (a *Autoscaler) CurrentCount(ctx context.Context) (int, error) {
	key, val := a.cfg.LabelKV()
	containers, err := a.rt.ListByLabel(ctx, key, val)
	if err != nil {
		return 0, fmt.Errorf("autoscale: count managed containers: %w", err)
	}
	return len(containers), nil
}

func (a *Autoscaler) scaleUpTo(ctx context.Context, target int) (int, error) {
	current, err := a.CurrentCount(ctx)
	if err != nil {
		return 0, err
	}
	for current < target {
		containerID, err := a.pr.ProvisionGeneric(ctx, a.cfg.TargetImage, nil, nil, nil)
		if err != nil {
			return current, fmt.Errorf("autoscale: provision shortfall: %w", err)
		}
		current++
		a.log.WithContainer(containerID).Info("autoscale: provisioned replica")
	}
	return current, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
