package autoscale

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/lifecycle"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
	"github.com/krinkuto11/ace-orchestrator/internal/portpool"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*runtime.RuntimeState
	nextID     int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]*runtime.RuntimeState)}
}

func (f *fakeRuntime) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "c" + strconv.Itoa(f.nextID)
	f.containers[id] = &runtime.RuntimeState{ContainerID: id, State: runtime.StateCreated, Labels: spec.Labels}
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[containerID].State = runtime.StateRunning
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, containerID string) (runtime.RuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.containers[containerID]
	if !ok {
		return runtime.RuntimeState{}, &orcherr.NotFound{Kind: "container", ID: containerID}
	}
	return *st, nil
}

func (f *fakeRuntime) ListByLabel(ctx context.Context, key, value string) ([]runtime.ContainerSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []runtime.ContainerSummary
	for id, st := range f.containers {
		if st.Labels[key] == value {
			out = append(out, runtime.ContainerSummary{ContainerID: id, State: st.State, Labels: st.Labels})
		}
	}
	return out, nil
}

func (f *fakeRuntime) Remove(ctx context.Context, containerID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
	return nil
}

func newTestAutoscaler(t *testing.T, minReplicas, maxReplicas int) (*Autoscaler, *fakeRuntime) {
	t.Helper()
	cfg := config.Default()
	cfg.MinReplicas = minReplicas
	cfg.MaxReplicas = maxReplicas
	cfg.StartupTimeoutS = 1

	pool := portpool.New(
		config.PortRange{Lo: 19000, Hi: 19010},
		config.PortRange{Lo: 40000, Hi: 40010},
		config.PortRange{Lo: 45000, Hi: 45010},
	)
	pool.SetProbe(func(int) bool { return true })

	db, err := store.Open(filepath.Join(t.TempDir(), "orchestrator.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	reg := state.New(db, 10)
	rt := newFakeRuntime()
	log := logging.New("error", "text")
	pr := lifecycle.New(cfg, pool, rt, reg, log)

	return New(cfg, rt, pr, log), rt
}

func TestEnsureMinimumProvisionsShortfall(t *testing.T) {
	a, rt := newTestAutoscaler(t, 3, 5)
	if err := a.EnsureMinimum(context.Background()); err != nil {
		t.Fatalf("ensure minimum: %v", err)
	}
	if len(rt.containers) != 3 {
		t.Fatalf("expected 3 replicas provisioned, got %d", len(rt.containers))
	}
}

func TestEnsureMinimumIsNoopWhenAlreadyMet(t *testing.T) {
	a, rt := newTestAutoscaler(t, 0, 5)
	if err := a.EnsureMinimum(context.Background()); err != nil {
		t.Fatalf("ensure minimum: %v", err)
	}
	if len(rt.containers) != 0 {
		t.Fatalf("expected no replicas provisioned when min is 0, got %d", len(rt.containers))
	}
}

func TestScaleToClampsToMinReplicas(t *testing.T) {
	a, _ := newTestAutoscaler(t, 2, 5)
	clamped, current, err := a.ScaleTo(context.Background(), 0)
	if err != nil {
		t.Fatalf("scale to: %v", err)
	}
	if clamped != 2 {
		t.Fatalf("expected demand clamped up to MIN_REPLICAS=2, got %d", clamped)
	}
	if current != 2 {
		t.Fatalf("expected fleet provisioned up to 2, got %d", current)
	}
}

func TestScaleToClampsToMaxReplicas(t *testing.T) {
	a, rt := newTestAutoscaler(t, 0, 3)
	clamped, _, err := a.ScaleTo(context.Background(), 100)
	if err != nil {
		t.Fatalf("scale to: %v", err)
	}
	if clamped != 3 {
		t.Fatalf("expected demand clamped down to MAX_REPLICAS=3, got %d", clamped)
	}
	if len(rt.containers) != 3 {
		t.Fatalf("expected 3 replicas provisioned, got %d", len(rt.containers))
	}
}

func TestScaleToNeverShrinks(t *testing.T) {
	a, rt := newTestAutoscaler(t, 0, 5)
	if _, _, err := a.ScaleTo(context.Background(), 4); err != nil {
		t.Fatalf("scale up: %v", err)
	}
	if len(rt.containers) != 4 {
		t.Fatalf("expected 4 replicas, got %d", len(rt.containers))
	}
	if _, _, err := a.ScaleTo(context.Background(), 1); err != nil {
		t.Fatalf("scale down request: %v", err)
	}
	if len(rt.containers) != 4 {
		t.Fatalf("expected surplus left untouched, still 4, got %d", len(rt.containers))
	}
}
