package lifecycle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/krinkuto11/ace-orchestrator/internal/config"
	"github.com/krinkuto11/ace-orchestrator/internal/imageref"
	"github.com/krinkuto11/ace-orchestrator/internal/logging"
	"github.com/krinkuto11/ace-orchestrator/internal/orcherr"
	"github.com/krinkuto11/ace-orchestrator/internal/portpool"
	"github.com/krinkuto11/ace-orchestrator/internal/runtime"
	"github.com/krinkuto11/ace-orchestrator/internal/state"
	"github.com/krinkuto11/ace-orchestrator/internal/store"
)

// stubResolveImage stands in for a real registry round-trip: tests must
// not depend on network reachability.
func stubResolveImage(ctx context.Context, image string) (*imageref.Resolved, error) {
	return &imageref.Resolved{Ref: image, Digest: "sha256:stub"}, nil
}

// fakeRuntime is an in-memory runtime.Adapter for exercising the
// provisioner without a real container daemon.
type fakeRuntime struct {
	mu         sync.Mutex
	containers map[string]*runtime.RuntimeState
	nextID     int
	startErr   error
	createErr  error
	neverRuns  bool
	exitsEarly bool
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{containers: make(map[string]*runtime.RuntimeState)}
}

func (f *fakeRuntime) Create(ctx context.Context, spec runtime.Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := "c" + itoa(f.nextID)
	f.containers[id] = &runtime.RuntimeState{ContainerID: id, State: runtime.StateCreated, Labels: spec.Labels}
	return id, nil
}

func (f *fakeRuntime) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	st := f.containers[containerID]
	if st == nil {
		return &orcherr.NotFound{Kind: "container", ID: containerID}
	}
	if f.exitsEarly {
		st.State = runtime.StateExited
		return nil
	}
	if !f.neverRuns {
		st.State = runtime.StateRunning
	}
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, containerID string) (runtime.RuntimeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.containers[containerID]
	if st == nil {
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

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newTestEnv(t *testing.T) (*Provisioner, *fakeRuntime, *state.Registry, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.StartupTimeoutS = 1
	pool := portpool.New(
		config.PortRange{Lo: 19000, Hi: 19001},
		config.PortRange{Lo: 40000, Hi: 40001},
		config.PortRange{Lo: 45000, Hi: 45001},
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
	p := New(cfg, pool, rt, reg, log)
	p.SetImageResolver(stubResolveImage)
	return p, rt, reg, cfg
}

func TestProvisionAcestreamRejectsMalformedImage(t *testing.T) {
	p, _, reg, _ := newTestEnv(t)
	p.SetImageResolver(func(ctx context.Context, image string) (*imageref.Resolved, error) {
		return nil, &orcherr.ValidationError{Field: "image", Reason: "malformed"}
	})

	_, err := p.ProvisionAcestream(context.Background(), "not a ref", nil, nil, nil)
	if _, ok := err.(*orcherr.ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if reg.CountEngines() != 0 {
		t.Fatalf("expected no port reserved or engine registered, got %d engines", reg.CountEngines())
	}
}

func TestProvisionAcestreamToleratesResolverFailure(t *testing.T) {
	p, _, _, _ := newTestEnv(t)
	p.SetImageResolver(func(ctx context.Context, image string) (*imageref.Resolved, error) {
		return nil, &orcherr.RuntimeTransient{Cause: context.DeadlineExceeded}
	})

	res, err := p.ProvisionAcestream(context.Background(), "", nil, nil, nil)
	if err != nil {
		t.Fatalf("expected registry-unreachable to be non-fatal, got %v", err)
	}
	if res.ContainerID == "" {
		t.Fatal("expected provisioning to proceed despite resolver failure")
	}
}

func TestProvisionAcestreamHappyPath(t *testing.T) {
	p, _, _, _ := newTestEnv(t)
	res, err := p.ProvisionAcestream(context.Background(), "", nil, nil, nil)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if res.HostHTTPPort != 19000 || res.ContainerHTTPPort != 40000 || res.ContainerHTTPSPort != 45000 {
		t.Fatalf("unexpected port allocation: %+v", res)
	}
}

func TestProvisionAcestreamPortExhaustion(t *testing.T) {
	p, _, reg, _ := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := p.ProvisionAcestream(ctx, "", nil, nil, nil)
		if err != nil {
			t.Fatalf("provision %d: %v", i, err)
		}
		if err := p.RegisterEngine("127.0.0.1", res.HostHTTPPort, res.ContainerID, nil); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	_, err := p.ProvisionAcestream(ctx, "", nil, nil, nil)
	var pe *orcherr.PortExhausted
	if !asPortExhausted(err, &pe) {
		t.Fatalf("expected PortExhausted on third provision, got %v", err)
	}
	if reg.CountEngines() != 2 {
		t.Fatalf("expected exactly 2 registered engines, got %d", reg.CountEngines())
	}
}

func asPortExhausted(err error, target **orcherr.PortExhausted) bool {
	pe, ok := err.(*orcherr.PortExhausted)
	if ok {
		*target = pe
	}
	return ok
}

func TestProvisionGenericStartupTimeoutRemovesContainer(t *testing.T) {
	p, rt, _, _ := newTestEnv(t)
	rt.neverRuns = true

	_, err := p.ProvisionGeneric(context.Background(), "some/image", nil, nil, nil)
	var to *orcherr.StartupTimeout
	if err == nil {
		t.Fatal("expected startup timeout error")
	}
	if _, ok := err.(*orcherr.StartupTimeout); !ok {
		t.Fatalf("expected StartupTimeout, got %T: %v", err, err)
	}
	_ = to
	if len(rt.containers) != 0 {
		t.Fatalf("expected container force-removed after timeout, got %d remaining", len(rt.containers))
	}
}

func TestProvisionGenericExitsEarlyReturnsStartupFailed(t *testing.T) {
	p, rt, _, _ := newTestEnv(t)
	rt.exitsEarly = true

	_, err := p.ProvisionGeneric(context.Background(), "some/image", nil, nil, nil)
	if _, ok := err.(*orcherr.StartupFailed); !ok {
		t.Fatalf("expected StartupFailed, got %T: %v", err, err)
	}
}

func TestReindexOnBootMarksPortsUsed(t *testing.T) {
	p, rt, reg, cfg := newTestEnv(t)
	key, val := cfg.LabelKV()
	rt.containers["pre-existing"] = &runtime.RuntimeState{
		ContainerID: "pre-existing",
		State:       runtime.StateRunning,
		Labels: map[string]string{
			key:                     val,
			"acestream.http_port":  "40000",
			"acestream.https_port": "45000",
			"host.http_port":       "19000",
		},
	}

	if err := p.ReindexOnBoot(context.Background()); err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if reg.GetEngine(state.EngineKeyFor("127.0.0.1", 19000)) == nil {
		t.Fatal("expected reindexed engine registered")
	}

	if _, err := p.pool.AllocateHost(); err != nil {
		t.Fatalf("allocate remaining host port: %v", err)
	}
	_, err := p.pool.AllocateHost()
	if _, ok := err.(*orcherr.PortExhausted); !ok {
		t.Fatalf("expected reindexed port 19000 excluded from allocation, got %v", err)
	}

	_ = time.Second
}
