package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rl1809/dropspot/internal/adapter/storage"
	"github.com/rl1809/dropspot/internal/auth"
	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/ranking"
	"github.com/rl1809/dropspot/internal/core/service"
)

const testSecret = "handler-test-secret"

var testEpoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type failingPinger struct{}

func (failingPinger) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

type testServer struct {
	store    *storage.MemoryAdapter
	clock    *fakeClock
	drops    *service.DropService
	waitlist *service.WaitlistService
	claims   *service.ClaimService
	verifier *auth.Verifier
	issuer   *auth.Issuer
	logger   *slog.Logger
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := storage.NewMemoryAdapter()
	clock := &fakeClock{now: testEpoch}
	ranker := ranking.New(ranking.DefaultSeed)

	drops := service.NewDropService(store, nil, service.NewDropCache(16, time.Minute), clock, logger)
	waitlist := service.NewWaitlistService(store, drops, ranker, clock, logger)
	claims := service.NewClaimService(store, nil, drops, ranker, clock, service.DefaultClaimConfig(), logger)

	return &testServer{
		store:    store,
		clock:    clock,
		drops:    drops,
		waitlist: waitlist,
		claims:   claims,
		verifier: auth.NewVerifier(testSecret, 0),
		issuer:   auth.NewIssuer(testSecret),
		logger:   logger,
	}
}

func (s *testServer) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, err := s.issuer.Issue(userID, role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

// createDrop makes a drop whose waitlist is open at testEpoch and whose
// claim window opens an hour later.
func (s *testServer) createDrop(t *testing.T, stock int) domain.Drop {
	t.Helper()
	drop, err := s.drops.CreateDrop(context.Background(), domain.DropSpec{
		Title:          "Vinyl drop",
		Stock:          stock,
		WaitlistOpenAt: testEpoch.Add(-time.Hour),
		ClaimOpenAt:    testEpoch.Add(time.Hour),
		ClaimCloseAt:   testEpoch.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create drop: %v", err)
	}
	return drop
}

func (s *testServer) openClaims(drop domain.Drop) {
	s.clock.Set(drop.ClaimOpenAt.Add(time.Minute))
}
