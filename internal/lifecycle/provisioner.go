// Package lifecycle composes the port allocator, runtime adapter, and
// state registry to realize provisioning: create, start, wait for
// running, and roll back cleanly on any failure along the way.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/imageref"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/metrics"
	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
	"github.com/krinkuto11/ace-orchestrator/internal/portpool"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

// Provisioner realizes provision_generic and provision_acestream by
// composing the port allocator, the runtime adapter, and the state
// registry, including the startup wait and rollback-on-failure path.
type Provisioner struct {
	cfg          *config.Config
	pool         *portpool.Pool
	rt           runtime.Adapter
	reg          *state.Registry
	log          *logging.Logger
	now          func() time.Time
	resolveImage func(ctx context.Context, image string) (*imageref.Resolved, error)
}

// New builds a Provisioner.
func New(cfg *config.Config, pool *portpool.Pool, rt runtime.Adapter, reg *state.Registry, log *logging.Logger) *Provisioner {
	return &Provisioner{cfg: cfg, pool: pool, rt: rt, reg: reg, log: log, now: time.Now, resolveImage: imageref.Resolve}
}

// SetImageResolver overrides the registry digest resolver, for tests
// that must not perform a real network round-trip.
func (p *Provisioner) SetImageResolver(f func(ctx context.Context, image string) (*imageref.Resolved, error)) {
	p.resolveImage = f
}

// AcestreamResult is the response shape for provision_acestream.
type AcestreamResult struct {
	ContainerID        string `json:"container_id"`
	HostHTTPPort       int    `json:"host_http_port"`
	ContainerHTTPPort  int    `json:"container_http_port"`
	ContainerHTTPSPort int    `json:"container_https_port"`
}

// ProvisionGeneric merges caller labels with the management label,
// creates and starts a container, and waits up to STARTUP_TIMEOUT_S
// for it to reach running. On timeout or an early exit it force-removes
// the container and returns StartupTimeout/StartupFailed.
func (p *Provisioner) ProvisionGeneric(ctx context.Context, image string, env, labels map[string]string, portBindings map[string]int) (string, error) {
	reqID := NewRequestID()
	key, val := p.cfg.LabelKV()
	merged := map[string]string{key: val}
	for k, v := range labels {
		merged[k] = v
	}

	spec := runtime.Spec{
		Image:        image,
		Env:          toEnvSlice(env),
		Labels:       merged,
		Network:      p.cfg.DockerNetwork,
		PortBindings: portBindings,
	}

	containerID, err := p.rt.Create(ctx, spec)
	if err != nil {
		metrics.ProvisionTotal.WithLabelValues("generic", "error").Inc()
		return "", err
	}

	if err := p.rt.Start(ctx, containerID); err != nil {
		_ = p.rt.Remove(ctx, containerID, true)
		metrics.ProvisionTotal.WithLabelValues("generic", "error").Inc()
		return "", err
	}

	if err := p.waitForRunning(ctx, containerID); err != nil {
		_ = p.rt.Remove(ctx, containerID, true)
		metrics.ProvisionTotal.WithLabelValues("generic", "error").Inc()
		return "", err
	}

	metrics.ProvisionTotal.WithLabelValues("generic", "ok").Inc()
	p.log.WithContainer(containerID).WithField("request_id", reqID).Info("container provisioned")
	return containerID, nil
}

// validateImage rejects a malformed image reference before any port
// is reserved or container created. Registry-unreachable errors are
// logged rather than failing the request: the runtime adapter's own
// pull, issued by the daemon during Create, is the authoritative check.
func (p *Provisioner) validateImage(ctx context.Context, image string) error {
	resolved, err := p.resolveImage(ctx, image)
	if err != nil {
		if _, malformed := err.(*orcherr.ValidationError); malformed {
			return err
		}
		p.log.WithField("image", image).WithError(err).Warn("image digest resolution failed, deferring to runtime pull")
		return nil
	}
	p.log.WithField("image", image).WithField("digest", resolved.Digest).Debug("image reference resolved")
	return nil
}

func (p *Provisioner) waitForRunning(ctx context.Context, containerID string) error {
	deadline := time.After(time.Duration(p.cfg.StartupTimeoutS) * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return &orcherr.StartupTimeout{ContainerID: containerID}
		case <-ticker.C:
			st, err := p.rt.Inspect(ctx, containerID)
			if err != nil {
				continue
			}
			switch st.State {
			case runtime.StateRunning:
				return nil
			case runtime.StateExited, runtime.StateDead:
				return &orcherr.StartupFailed{ContainerID: containerID, State: string(st.State)}
			}
		}
	}
}

// ProvisionAcestream reserves a host port (unless supplied) and two
// container ports, composes the acestream launch flags and port map,
// and delegates to ProvisionGeneric. Any failure after port allocation
// releases every port reserved during the attempt.
func (p *Provisioner) ProvisionAcestream(ctx context.Context, image string, labels, env map[string]string, hostPort *int) (*AcestreamResult, error) {
	reqID := NewRequestID()
	if image == "" {
		image = p.cfg.TargetImage
	}
	if err := p.validateImage(ctx, image); err != nil {
		return nil, err
	}

	var host int
	var err error
	if hostPort != nil {
		host = *hostPort
		p.pool.MarkUsed(portpool.RangeHost, host)
	} else {
		host, err = p.pool.AllocateHost()
		if err != nil {
			metrics.ProvisionTotal.WithLabelValues("acestream", "error").Inc()
			return nil, err
		}
	}

	containerHTTP, containerHTTPS, err := p.pool.AllocateContainerPair()
	if err != nil {
		p.pool.Release(portpool.RangeHost, host)
		metrics.ProvisionTotal.WithLabelValues("acestream", "error").Inc()
		return nil, err
	}

	rollback := func() {
		p.pool.Release(portpool.RangeHost, host)
		p.pool.Release(portpool.RangeAceHTTP, containerHTTP)
		p.pool.Release(portpool.RangeAceHTTPS, containerHTTPS)
	}

	mergedLabels := map[string]string{
		"acestream.http_port":  fmt.Sprintf("%d", containerHTTP),
		"acestream.https_port": fmt.Sprintf("%d", containerHTTPS),
		"host.http_port":       fmt.Sprintf("%d", host),
	}
	for k, v := range labels {
		mergedLabels[k] = v
	}

	portBindings := map[string]int{
		fmt.Sprintf("%d/tcp", containerHTTP): host,
	}
	var hostHTTPS int
	if p.cfg.AceMapHTTPS {
		hostHTTPS, err = p.pool.AllocateHost()
		if err != nil {
			rollback()
			metrics.ProvisionTotal.WithLabelValues("acestream", "error").Inc()
			return nil, err
		}
		portBindings[fmt.Sprintf("%d/tcp", containerHTTPS)] = hostHTTPS
		mergedLabels["host.https_port"] = fmt.Sprintf("%d", hostHTTPS)
	}

	mergedEnv := map[string]string{}
	for k, v := range env {
		mergedEnv[k] = v
	}

	containerID, err := p.provisionWithArgs(ctx, reqID, image, mergedEnv, mergedLabels, portBindings, containerHTTP, containerHTTPS)
	if err != nil {
		rollback()
		if hostHTTPS != 0 {
			p.pool.Release(portpool.RangeHost, hostHTTPS)
		}
		metrics.ProvisionTotal.WithLabelValues("acestream", "error").Inc()
		return nil, err
	}

	metrics.ProvisionTotal.WithLabelValues("acestream", "ok").Inc()
	return &AcestreamResult{
		ContainerID:        containerID,
		HostHTTPPort:       host,
		ContainerHTTPPort:  containerHTTP,
		ContainerHTTPSPort: containerHTTPS,
	}, nil
}

func (p *Provisioner) provisionWithArgs(ctx context.Context, reqID, image string, env, labels map[string]string, portBindings map[string]int, containerHTTP, containerHTTPS int) (string, error) {
	key, val := p.cfg.LabelKV()
	merged := map[string]string{key: val}
	for k, v := range labels {
		merged[k] = v
	}

	spec := runtime.Spec{
		Image:        image,
		Env:          toEnvSlice(env),
		Cmd:          []string{fmt.Sprintf("--http-port=%d", containerHTTP), fmt.Sprintf("--https-port=%d", containerHTTPS)},
		Labels:       merged,
		Network:      p.cfg.DockerNetwork,
		PortBindings: portBindings,
	}

	containerID, err := p.rt.Create(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := p.rt.Start(ctx, containerID); err != nil {
		_ = p.rt.Remove(ctx, containerID, true)
		return "", err
	}
	if err := p.waitForRunning(ctx, containerID); err != nil {
		_ = p.rt.Remove(ctx, containerID, true)
		return "", err
	}
	p.log.WithContainer(containerID).WithField("request_id", reqID).Info("acestream engine provisioned")
	return containerID, nil
}

// RegisterEngine registers a freshly provisioned engine in the state
// registry under the host:port identity, honoring the EngineKeyFor
// convention. Called by the HTTP layer once provisioning succeeds.
func (p *Provisioner) RegisterEngine(host string, hostPort int, containerID string, labels map[string]string) error {
	now := p.now().UTC()
	key := state.EngineKeyFor(host, hostPort)
	e := &store.Engine{
		EngineKey:   key,
		ContainerID: containerID,
		Host:        host,
		Port:        hostPort,
		Labels:      labels,
		FirstSeen:   now,
		LastSeen:    now,
	}
	return p.reg.UpsertEngine(e)
}

// ReindexOnBoot queries the runtime adapter for every container
// carrying the management label, marks their ports used in the pool,
// and registers any not already present in the state registry.
func (p *Provisioner) ReindexOnBoot(ctx context.Context) error {
	key, val := p.cfg.LabelKV()
	containers, err := p.rt.ListByLabel(ctx, key, val)
	if err != nil {
		return fmt.Errorf("lifecycle: reindex list: %w", err)
	}

	for _, c := range containers {
		httpPort, ok := intLabel(c.Labels, "acestream.http_port")
		if !ok {
			continue
		}
		httpsPort, _ := intLabel(c.Labels, "acestream.https_port")
		hostHTTP, ok := intLabel(c.Labels, "host.http_port")
		if !ok {
			continue
		}

		p.pool.MarkUsed(portpool.RangeHost, hostHTTP)
		p.pool.MarkUsed(portpool.RangeAceHTTP, httpPort)
		if httpsPort != 0 {
			p.pool.MarkUsed(portpool.RangeAceHTTPS, httpsPort)
		}
		if hostHTTPS, ok := intLabel(c.Labels, "host.https_port"); ok {
			p.pool.MarkUsed(portpool.RangeHost, hostHTTPS)
		}

		engineKey := state.EngineKeyFor("127.0.0.1", hostHTTP)
		if p.reg.GetEngine(engineKey) != nil {
			continue
		}
		now := p.now().UTC()
		if err := p.reg.UpsertEngine(&store.Engine{
			EngineKey:   engineKey,
			ContainerID: c.ContainerID,
			Host:        "127.0.0.1",
			Port:        hostHTTP,
			Labels:      c.Labels,
			FirstSeen:   now,
			LastSeen:    now,
		}); err != nil {
			return fmt.Errorf("lifecycle: reindex register %s: %w", c.ContainerID, err)
		}
	}
	return nil
}

func intLabel(labels map[string]string, key string) (int, bool) {
	v, ok := labels[key]
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func toEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}

// NewRequestID generates the idempotency-safe internal id logged
// alongside a provisioning attempt.
func NewRequestID() string {
	return uuid.New().String()
}
