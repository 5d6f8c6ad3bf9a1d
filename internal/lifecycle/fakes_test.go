package lifecycle

import (
	"context"
	"maps"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/cyverse/cloudgw/internal/cache"
	"github.com/cyverse/cloudgw/internal/gateway"
	"github.com/cyverse/cloudgw/internal/jobs"
	"github.com/cyverse/cloudgw/internal/memstore"
	"github.com/cyverse/cloudgw/internal/model"
	"github.com/cyverse/cloudgw/internal/usage"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

var (
	alice = model.Principal{ID: "alice", Email: "alice@example.org", Role: model.RoleClient}
	bob   = model.Principal{ID: "bob", Email: "bob@example.org", Role: model.RoleClient}
	admin = model.Principal{ID: "root", Email: "root@example.org", Role: model.RoleAdmin}
)

// fakeGateway keeps upstream servers in memory.
type fakeGateway struct {
	mu           sync.Mutex
	servers      map[int64]*gateway.Server
	nextID       int64
	createStatus string
	createErr    error
	deleteErr    error
	powerErr     error
	backupStatus string
	calls        map[string]int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		servers:      make(map[int64]*gateway.Server),
		createStatus: "running",
		backupStatus: "running",
		calls:        make(map[string]int),
	}
}

func (g *fakeGateway) count(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) addServer(s gateway.Server) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.servers[s.ID] = &s
}

func (g *fakeGateway) removeServer(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.servers, id)
}

func notFound(op gateway.Operation) error {
	return &gateway.GatewayError{Operation: op, Status: http.StatusNotFound, Message: "not found"}
}

func (g *fakeGateway) ListServers(_ context.Context, _ model.Principal) ([]gateway.Server, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["list"]++
	var result []gateway.Server
	for _, s := range g.servers {
		result = append(result, *s)
	}
	return result, nil
}

func (g *fakeGateway) GetServer(_ context.Context, _ model.Principal, id int64) (*gateway.Server, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["get"]++
	s, ok := g.servers[id]
	if !ok {
		return nil, notFound(gateway.OpGet)
	}
	c := *s
	return &c, nil
}

func (g *fakeGateway) CreateServer(ctx context.Context, _ model.Principal, req *gateway.CreateServerRequest) (*gateway.Server, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["create"]++
	if err := ctx.Err(); err != nil {
		return nil, &gateway.GatewayError{Operation: gateway.OpCreate, Message: err.Error(), Retryable: true, Err: err}
	}
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	s := &gateway.Server{
		ID:         g.nextID,
		Name:       req.Name,
		Status:     g.createStatus,
		ServerType: req.ServerType,
		Location:   req.Location,
		Labels:     maps.Clone(req.Labels),
	}
	g.servers[s.ID] = s
	c := *s
	return &c, nil
}

func (g *fakeGateway) DeleteServer(_ context.Context, _ model.Principal, id int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["delete"]++
	if g.deleteErr != nil {
		return g.deleteErr
	}
	if _, ok := g.servers[id]; !ok {
		return notFound(gateway.OpDelete)
	}
	delete(g.servers, id)
	return nil
}

func (g *fakeGateway) Power(_ context.Context, _ model.Principal, id int64, action string, _ bool) (*gateway.PowerResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["power"]++
	if g.powerErr != nil {
		return nil, g.powerErr
	}
	s, ok := g.servers[id]
	if !ok {
		return nil, notFound(gateway.OpPower)
	}
	switch action {
	case "start", "poweron", "reboot", "reset":
		s.Status = "running"
	default:
		s.Status = "off"
	}
	return &gateway.PowerResponse{ServerID: id, Action: action, Status: "success"}, nil
}

func (g *fakeGateway) Metrics(_ context.Context, _ model.Principal, id int64) (*gateway.Metrics, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["metrics"]++
	cpu, memory := 12.5, 40.0
	return &gateway.Metrics{ServerID: id, CPUUsage: &cpu, MemoryUsage: &memory}, nil
}

func (g *fakeGateway) CreateBackup(_ context.Context, _ model.Principal, id int64, _ string) (*gateway.ActionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls["backup"]++
	return &gateway.ActionResponse{ID: 1, Command: "create_image", Status: g.backupStatus}, nil
}

// interleavingGateway runs functions in the middle of upstream calls, standing in for work that races with them.
type interleavingGateway struct {
	*fakeGateway
	duringCreate func(ctx context.Context)
	duringPower  func()
	beforeDelete func()
	afterDelete  func()
}

func (g *interleavingGateway) CreateServer(ctx context.Context, p model.Principal, req *gateway.CreateServerRequest) (*gateway.Server, error) {
	if g.duringCreate != nil {
		g.duringCreate(ctx)
	}
	return g.fakeGateway.CreateServer(ctx, p, req)
}

func (g *interleavingGateway) Power(
	ctx context.Context,
	p model.Principal,
	id int64,
	action string,
	force bool,
) (*gateway.PowerResponse, error) {
	if g.duringPower != nil {
		g.duringPower()
	}
	return g.fakeGateway.Power(ctx, p, id, action, force)
}

func (g *interleavingGateway) DeleteServer(ctx context.Context, p model.Principal, id int64) error {
	if g.beforeDelete != nil {
		g.beforeDelete()
	}
	err := g.fakeGateway.DeleteServer(ctx, p, id)
	if g.afterDelete != nil {
		g.afterDelete()
	}
	return err
}

// fakeScheduler records jobs so that tests can run them explicitly.
type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]jobs.Job
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: make(map[string]jobs.Job)}
}

func (s *fakeScheduler) Schedule(key string, _ time.Duration, job jobs.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[key] = job
}

func (s *fakeScheduler) ScheduleRecurring(key string, _ time.Time, _ time.Duration, job jobs.Job) {
	s.Schedule(key, 0, job)
}

func (s *fakeScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	delete(s.jobs, key)
	return ok
}

func (s *fakeScheduler) CancelResource(resourceID string) int {
	n := 0
	for _, kind := range []string{JobSync, JobBackup} {
		if s.Cancel(jobs.Key(kind, resourceID)) {
			n++
		}
	}
	return n
}

func (s *fakeScheduler) pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[key]
	return ok
}

// run executes a recorded job. One-shot semantics are not emulated; the job stays recorded.
func (s *fakeScheduler) run(t *testing.T, key string) error {
	t.Helper()
	s.mu.Lock()
	job, ok := s.jobs[key]
	s.mu.Unlock()
	if !ok {
		t.Fatalf("no job is scheduled under %s", key)
	}
	return job(context.Background())
}

type testEnv struct {
	coordinator *Coordinator
	store       *memstore.Store
	gateway     *fakeGateway
	cache       *cache.MemoryCache
	clock       *clocktesting.FakeClock
	scheduler   *fakeScheduler
}

func newTestEnv(t *testing.T, observers ...Observer) *testEnv {
	t.Helper()

	clk := clocktesting.NewFakeClock(epoch)
	store := memstore.New()
	store.SetPrice("cx21", "", 0.01)
	store.SetPrice("cx21", "fsn1", 0.0119)
	gw := newFakeGateway()
	c := cache.NewMemoryCache(clk)
	scheduler := newFakeScheduler()
	ledger := usage.NewLedger(store, clk)

	observers = append([]Observer{NewAuditObserver(store)}, observers...)
	coordinator := New(store, gw, c, ledger, scheduler, Settings{}, WithClock(clk), WithObservers(observers...))

	return &testEnv{
		coordinator: coordinator,
		store:       store,
		gateway:     gw,
		cache:       c,
		clock:       clk,
		scheduler:   scheduler,
	}
}

// create creates a running resource owned by the principal.
func (env *testEnv) create(t *testing.T, p model.Principal, name string) *model.ManagedResource {
	t.Helper()
	r, err := env.coordinator.Create(context.Background(), p, &NewResource{
		Name:       name,
		ServerType: "cx21",
		Location:   "nbg1",
		Image:      "ubuntu-24.04",
	})
	if err != nil {
		t.Fatalf("unable to create %s: %s", name, err)
	}
	return r
}

func (env *testEnv) stored(t *testing.T, id string) *model.ManagedResource {
	t.Helper()
	r, err := env.store.GetResource(context.Background(), id, true)
	if err != nil {
		t.Fatalf("unable to look up %s: %s", id, err)
	}
	if r == nil {
		t.Fatalf("resource %s does not exist", id)
	}
	return r
}

func (env *testEnv) intervals(t *testing.T, id string) []model.UsageInterval {
	t.Helper()
	intervals, err := env.store.ListIntervals(context.Background(), id)
	if err != nil {
		t.Fatalf("unable to list intervals: %s", err)
	}
	return intervals
}

func (env *testEnv) quota(t *testing.T, ownerID string) int64 {
	t.Helper()
	q, err := env.coordinator.Quota(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("unable to get the quota usage: %s", err)
	}
	return q
}

func openIntervals(intervals []model.UsageInterval) int {
	n := 0
	for _, i := range intervals {
		if !i.Closed {
			n++
		}
	}
	return n
}

func expectPolicyViolation(t *testing.T, err error, reason string) {
	t.Helper()
	pv, ok := IsPolicyViolation(err)
	if !ok {
		t.Fatalf("expected a policy violation, got %v", err)
	}
	if pv.Reason != reason {
		t.Errorf("got reason %s, want %s", pv.Reason, reason)
	}
}
