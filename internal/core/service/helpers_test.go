package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rl1809/dropspot/internal/adapter/storage"
	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/ranking"
	"github.com/rl1809/dropspot/internal/port"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock only moves when told to.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Mock StockCounter
type mockCounter struct {
	mu         sync.Mutex
	stock      map[string]int
	decrements int
	reseeds    int
	failOnDecr bool
}

func newMockCounter() *mockCounter {
	return &mockCounter{stock: make(map[string]int)}
}

func (m *mockCounter) DecrementStock(ctx context.Context, dropID string, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decrements++
	if m.failOnDecr {
		return false, context.DeadlineExceeded
	}
	current, ok := m.stock[dropID]
	if !ok {
		return false, port.ErrCounterMissing
	}
	if current >= quantity {
		m.stock[dropID] -= quantity
		return true, nil
	}
	return false, nil
}

func (m *mockCounter) IncrementStock(ctx context.Context, dropID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[dropID]; ok {
		m.stock[dropID] += quantity
	}
	return nil
}

func (m *mockCounter) SetStock(ctx context.Context, dropID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[dropID] = quantity
	return nil
}

func (m *mockCounter) InitStock(ctx context.Context, dropID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stock[dropID]; !ok {
		m.reseeds++
		m.stock[dropID] = quantity
	}
	return nil
}

func (m *mockCounter) DeleteStock(ctx context.Context, dropID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stock, dropID)
	return nil
}

func (m *mockCounter) get(dropID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.stock[dropID]
	return v, ok
}

// conflictStore loses the stock race for its first n commits.
type conflictStore struct {
	*storage.MemoryAdapter
	remaining atomic.Int32
	commits   atomic.Int32
}

func (s *conflictStore) CommitClaim(ctx context.Context, claim domain.ClaimRecord, expectedRemaining int) error {
	s.commits.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return port.ErrStockConflict
	}
	return s.MemoryAdapter.CommitClaim(ctx, claim, expectedRemaining)
}

// blockingStore holds commits for blockedDrop until release is closed.
type blockingStore struct {
	*storage.MemoryAdapter
	blockedDrop string
	entered     chan struct{}
	release     chan struct{}
}

func (s *blockingStore) CommitClaim(ctx context.Context, claim domain.ClaimRecord, expectedRemaining int) error {
	if claim.DropID == s.blockedDrop {
		select {
		case s.entered <- struct{}{}:
		default:
		}
		<-s.release
	}
	return s.MemoryAdapter.CommitClaim(ctx, claim, expectedRemaining)
}

type testEnv struct {
	store    port.Store
	counter  *mockCounter
	clock    *fakeClock
	ranker   *ranking.Ranker
	drops    *DropService
	waitlist *WaitlistService
	claims   *ClaimService
}

type envOption func(*envConfig)

type envConfig struct {
	store   port.Store
	counter port.StockCounter
	claim   ClaimConfig
}

func withStore(store port.Store) envOption {
	return func(c *envConfig) { c.store = store }
}

func withCounter(counter port.StockCounter) envOption {
	return func(c *envConfig) { c.counter = counter }
}

func withClaimConfig(cfg ClaimConfig) envOption {
	return func(c *envConfig) { c.claim = cfg }
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		store: storage.NewMemoryAdapter(),
		claim: DefaultClaimConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{
		store:  cfg.store,
		clock:  newFakeClock(testEpoch),
		ranker: ranking.New(ranking.DefaultSeed),
	}
	if mc, ok := cfg.counter.(*mockCounter); ok {
		env.counter = mc
	}

	logger := discardLogger()
	env.drops = NewDropService(cfg.store, cfg.counter, NewDropCache(64, time.Minute), env.clock, logger)
	env.waitlist = NewWaitlistService(cfg.store, env.drops, env.ranker, env.clock, logger)
	env.claims = NewClaimService(cfg.store, cfg.counter, env.drops, env.ranker, env.clock, cfg.claim, logger)
	return env
}

// testSpec opens the waitlist an hour before testEpoch's claim window.
func testSpec(stock int) domain.DropSpec {
	return domain.DropSpec{
		Title:          "Sneaker drop",
		Description:    "limited run",
		Stock:          stock,
		WaitlistOpenAt: testEpoch.Add(-time.Hour),
		ClaimOpenAt:    testEpoch.Add(time.Hour),
		ClaimCloseAt:   testEpoch.Add(2 * time.Hour),
	}
}

func (e *testEnv) createDrop(t *testing.T, stock int) domain.Drop {
	t.Helper()
	drop, err := e.drops.CreateDrop(context.Background(), testSpec(stock))
	if err != nil {
		t.Fatalf("create drop: %v", err)
	}
	return drop
}

func (e *testEnv) join(t *testing.T, dropID string, users ...string) {
	t.Helper()
	for _, u := range users {
		if _, err := e.waitlist.Join(context.Background(), dropID, u); err != nil {
			t.Fatalf("join %s: %v", u, err)
		}
		e.clock.Advance(time.Millisecond)
	}
}

func (e *testEnv) openClaims(drop domain.Drop) {
	e.clock.Set(drop.ClaimOpenAt.Add(time.Minute))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
