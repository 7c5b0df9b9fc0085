package sessionpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/havenline/havenline/pkg/avatar"
)

// fakeGateway records vendor calls and can be told to fail them.
type fakeGateway struct {
	mu        sync.Mutex
	created   int
	started   []string
	closed    []string
	createErr error
	startErr  error
	closeErr  error
}

func (g *fakeGateway) CreateSession(ctx context.Context, req avatar.CreateSessionRequest) (*avatar.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created++
	return &avatar.Session{SessionID: fmt.Sprintf("sess_%d", g.created), StreamURL: "wss://x"}, nil
}

func (g *fakeGateway) StartSession(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startErr != nil {
		return g.startErr
	}
	g.started = append(g.started, id)
	return nil
}

func (g *fakeGateway) CloseSession(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, id)
	return g.closeErr
}

func (g *fakeGateway) closedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.closed...)
}

// testClock hands out a controllable now.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, cfg Config, gw Gateway) (*Pool, *testClock) {
	t.Helper()
	p := New(cfg, gw, nil)
	clock := newTestClock()
	p.now = clock.Now
	return p, clock
}

func TestCreate_NeverExceedsCapacity(t *testing.T) {
	gw := &fakeGateway{}
	p, _ := newTestPool(t, Config{MaxConcurrentSessions: 2}, gw)

	for i := 0; i < 5; i++ {
		if _, err := p.Create(context.Background(), avatar.CreateSessionRequest{}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if n := p.ActiveCount(); n > 2 {
			t.Fatalf("active count %d exceeds cap after create %d", n, i)
		}
	}
	if n := p.ActiveCount(); n != 2 {
		t.Fatalf("active count = %d, want 2", n)
	}
}

func TestCreate_AtCapacityEvictsLeastRecentlyActive(t *testing.T) {
	gw := &fakeGateway{}
	p, clock := newTestPool(t, Config{MaxConcurrentSessions: 2}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	clock.Advance(time.Minute)
	b, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})

	// a is older, but touching it makes b the eviction candidate.
	clock.Advance(time.Minute)
	p.Touch(a.SessionID)

	clock.Advance(time.Minute)
	if _, err := p.Create(context.Background(), avatar.CreateSessionRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	closed := gw.closedIDs()
	if len(closed) != 1 || closed[0] != b.SessionID {
		t.Fatalf("closed = %v, want exactly [%s]", closed, b.SessionID)
	}
	if !p.Tracked(a.SessionID) {
		t.Error("touched session was evicted")
	}
	if p.Tracked(b.SessionID) {
		t.Error("evicted session still tracked")
	}
}

func TestCreate_SingleSlotScenario(t *testing.T) {
	gw := &fakeGateway{}
	p, _ := newTestPool(t, Config{MaxConcurrentSessions: 1}, gw)

	a, err := p.Create(context.Background(), avatar.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create A: %v", err)
	}
	b, err := p.Create(context.Background(), avatar.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create B: %v", err)
	}

	if got := gw.closedIDs(); len(got) != 1 || got[0] != a.SessionID {
		t.Fatalf("closed = %v, want [%s]", got, a.SessionID)
	}
	if n := p.ActiveCount(); n != 1 {
		t.Fatalf("active count = %d, want 1", n)
	}
	if !p.Tracked(b.SessionID) {
		t.Error("new session not tracked")
	}
}

func TestCreate_GatewayFailureLeavesPoolUnchanged(t *testing.T) {
	gw := &fakeGateway{}
	p, _ := newTestPool(t, Config{MaxConcurrentSessions: 2}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})

	gw.createErr = &avatar.Error{Status: 429, Message: "quota exceeded"}
	if _, err := p.Create(context.Background(), avatar.CreateSessionRequest{}); err == nil {
		t.Fatal("want create error")
	}

	if n := p.ActiveCount(); n != 1 {
		t.Fatalf("active count = %d, want 1", n)
	}
	if !p.Tracked(a.SessionID) {
		t.Error("existing session lost after failed create")
	}
}

func TestStart_UntrackedReturnsErrNotTracked(t *testing.T) {
	p, _ := newTestPool(t, Config{}, &fakeGateway{})
	if err := p.Start(context.Background(), "ghost"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("err = %v, want ErrNotTracked", err)
	}
}

func TestStart_TouchesActivityOnSuccess(t *testing.T) {
	gw := &fakeGateway{}
	p, clock := newTestPool(t, Config{}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	created := clock.Now()
	clock.Advance(time.Minute)

	if err := p.Start(context.Background(), a.SessionID); err != nil {
		t.Fatalf("start: %v", err)
	}

	snap := p.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if !snap[0].LastActivityAt.After(created) {
		t.Error("start did not touch activity")
	}
}

func TestStart_GatewayFailureKeepsEntry(t *testing.T) {
	gw := &fakeGateway{}
	p, _ := newTestPool(t, Config{}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	gw.startErr = &avatar.Error{Status: 502, Message: "boom"}

	if err := p.Start(context.Background(), a.SessionID); err == nil {
		t.Fatal("want start error")
	}
	if !p.Tracked(a.SessionID) {
		t.Error("entry removed after failed start")
	}
}

func TestTouch_UntrackedIsNoOp(t *testing.T) {
	p, _ := newTestPool(t, Config{}, &fakeGateway{})
	p.Touch("ghost")
	if n := p.ActiveCount(); n != 0 {
		t.Fatalf("active count = %d, want 0", n)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	gw := &fakeGateway{}
	p, _ := newTestPool(t, Config{}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})

	p.Close(context.Background(), a.SessionID)
	p.Close(context.Background(), a.SessionID)
	p.Close(context.Background(), "unknown-id")

	if n := p.ActiveCount(); n != 0 {
		t.Fatalf("active count = %d, want 0", n)
	}
	// Only the first close reaches the vendor.
	if got := gw.closedIDs(); len(got) != 1 {
		t.Fatalf("vendor closes = %v, want one", got)
	}
}

func TestClose_RemovesEntryEvenWhenVendorFails(t *testing.T) {
	gw := &fakeGateway{closeErr: &avatar.Error{Status: 500, Message: "vendor down"}}
	p, _ := newTestPool(t, Config{}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	p.Close(context.Background(), a.SessionID)

	if p.Tracked(a.SessionID) {
		t.Error("entry leaked after vendor close failure")
	}
}

func TestSweep_RemovesOnlyIdleSessions(t *testing.T) {
	gw := &fakeGateway{}
	timeout := 10 * time.Minute
	p, clock := newTestPool(t, Config{MaxConcurrentSessions: 5, SessionTimeout: timeout}, gw)

	stale, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	fresh, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})

	clock.Advance(timeout + time.Second)
	p.Touch(fresh.SessionID)

	p.sweep(context.Background())

	if p.Tracked(stale.SessionID) {
		t.Error("idle session survived sweep")
	}
	if !p.Tracked(fresh.SessionID) {
		t.Error("active session was swept")
	}
	if got := gw.closedIDs(); len(got) != 1 || got[0] != stale.SessionID {
		t.Fatalf("closed = %v, want [%s]", got, stale.SessionID)
	}
}

func TestSweep_ExactlyAtTimeoutIsKept(t *testing.T) {
	gw := &fakeGateway{}
	timeout := 10 * time.Minute
	p, clock := newTestPool(t, Config{SessionTimeout: timeout}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	clock.Advance(timeout)

	p.sweep(context.Background())

	if !p.Tracked(a.SessionID) {
		t.Error("session at exactly the timeout must remain")
	}
}

func TestSweep_ScenarioIdleSessionRemoved(t *testing.T) {
	gw := &fakeGateway{}
	timeout := 10 * time.Minute
	p, clock := newTestPool(t, Config{SessionTimeout: timeout}, gw)

	a, _ := p.Create(context.Background(), avatar.CreateSessionRequest{})
	p.Touch(a.SessionID)

	clock.Advance(timeout + time.Second)
	p.sweep(context.Background())

	if n := p.ActiveCount(); n != 0 {
		t.Fatalf("active count = %d, want 0", n)
	}
}

func TestSweep_VendorFailureDoesNotAbortRemaining(t *testing.T) {
	gw := &fakeGateway{closeErr: errors.New("vendor down")}
	timeout := time.Minute
	p, clock := newTestPool(t, Config{MaxConcurrentSessions: 3, SessionTimeout: timeout}, gw)

	for i := 0; i < 3; i++ {
		if _, err := p.Create(context.Background(), avatar.CreateSessionRequest{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	clock.Advance(timeout + time.Second)

	p.sweep(context.Background())

	if n := p.ActiveCount(); n != 0 {
		t.Fatalf("active count = %d, want 0 (all swept despite close failures)", n)
	}
	if got := gw.closedIDs(); len(got) != 3 {
		t.Fatalf("vendor closes = %d, want 3", len(got))
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	p := New(Config{SweepInterval: time.Millisecond}, &fakeGateway{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestCreate_ConcurrentCallsHoldInvariant(t *testing.T) {
	gw := &fakeGateway{}
	p, _ := newTestPool(t, Config{MaxConcurrentSessions: 2}, gw)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Create(context.Background(), avatar.CreateSessionRequest{})
		}()
	}
	wg.Wait()

	if n := p.ActiveCount(); n != 2 {
		t.Fatalf("active count = %d, want 2", n)
	}
}
