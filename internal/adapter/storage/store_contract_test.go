package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/port"
)

// runStoreContract exercises the behaviour every port.Store must share.
func runStoreContract(t *testing.T, store port.Store) {
	t.Run("CreateAndGetDrop", func(t *testing.T) { testCreateAndGetDrop(t, store) })
	t.Run("DuplicateDrop", func(t *testing.T) { testDuplicateDrop(t, store) })
	t.Run("JoinLeaveRejoin", func(t *testing.T) { testJoinLeaveRejoin(t, store) })
	t.Run("JoinMissingDrop", func(t *testing.T) { testJoinMissingDrop(t, store) })
	t.Run("CommitClaim", func(t *testing.T) { testCommitClaim(t, store) })
	t.Run("CommitClaimStockConflict", func(t *testing.T) { testCommitClaimStockConflict(t, store) })
	t.Run("CommitClaimNotActive", func(t *testing.T) { testCommitClaimNotActive(t, store) })
	t.Run("UpdateDeleteWithClaims", func(t *testing.T) { testUpdateDeleteWithClaims(t, store) })
	t.Run("UpdateResetsRemaining", func(t *testing.T) { testUpdateResetsRemaining(t, store) })
	t.Run("ConcurrentCommits", func(t *testing.T) { testConcurrentCommits(t, store) })
}

func newTestDrop(stock int) domain.Drop {
	now := domain.NormalizeTime(time.Now())
	return domain.Drop{
		ID:             uuid.NewString(),
		Title:          "Test drop",
		Description:    "contract",
		Stock:          stock,
		RemainingStock: stock,
		WaitlistOpenAt: now.Add(-time.Hour),
		ClaimOpenAt:    now.Add(-time.Minute),
		ClaimCloseAt:   now.Add(time.Hour),
		BasePriority:   0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func mustCreateDrop(t *testing.T, store port.Store, stock int) domain.Drop {
	t.Helper()
	drop := newTestDrop(stock)
	if err := store.CreateDrop(context.Background(), drop); err != nil {
		t.Fatalf("create drop: %v", err)
	}
	t.Cleanup(func() {
		store.DeleteDrop(context.Background(), drop.ID)
	})
	return drop
}

func mustJoin(t *testing.T, store port.Store, dropID, userID string) domain.WaitlistEntry {
	t.Helper()
	entry, _, err := store.JoinEntry(context.Background(), dropID, userID, domain.NormalizeTime(time.Now()))
	if err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	return entry
}

func newClaim(dropID, userID string) domain.ClaimRecord {
	return domain.ClaimRecord{
		DropID:    dropID,
		UserID:    userID,
		ClaimCode: domain.NewClaimCode(),
		ClaimedAt: domain.NormalizeTime(time.Now()),
	}
}

func testCreateAndGetDrop(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 5)

	got, err := store.GetDrop(ctx, drop.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected drop, got nil")
	}
	if got.Title != drop.Title || got.Stock != 5 || got.RemainingStock != 5 {
		t.Errorf("unexpected drop: %+v", got)
	}
	if !got.ClaimOpenAt.Equal(drop.ClaimOpenAt) {
		t.Errorf("expected claim_open_at %v, got %v", drop.ClaimOpenAt, got.ClaimOpenAt)
	}

	missing, err := store.GetDrop(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing drop, got %+v", missing)
	}
}

func testDuplicateDrop(t *testing.T, store port.Store) {
	drop := mustCreateDrop(t, store, 1)

	err := store.CreateDrop(context.Background(), drop)
	if !errors.Is(err, port.ErrDuplicateDrop) {
		t.Errorf("expected ErrDuplicateDrop, got %v", err)
	}
}

func testJoinLeaveRejoin(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 1)
	first := domain.NormalizeTime(time.Now().Add(-time.Minute))

	entry, existing, err := store.JoinEntry(ctx, drop.ID, "alice", first)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if existing || entry.Status != domain.EntryStatusActive {
		t.Fatalf("expected fresh active entry, got existing=%v %+v", existing, entry)
	}

	_, existing, err = store.JoinEntry(ctx, drop.ID, "alice", first.Add(time.Second))
	if err != nil {
		t.Fatalf("second join: %v", err)
	}
	if !existing {
		t.Error("expected second join to report existing entry")
	}

	left, err := store.LeaveEntry(ctx, drop.ID, "alice", first.Add(2*time.Second))
	if err != nil || !left {
		t.Fatalf("expected leave to succeed, got left=%v err=%v", left, err)
	}
	left, err = store.LeaveEntry(ctx, drop.ID, "alice", first.Add(3*time.Second))
	if err != nil || left {
		t.Errorf("expected second leave to be a no-op, got left=%v err=%v", left, err)
	}

	active, _ := store.ListEntries(ctx, drop.ID, domain.EntryStatusActive)
	if len(active) != 0 {
		t.Errorf("expected no active entries, got %d", len(active))
	}

	entry, existing, err = store.JoinEntry(ctx, drop.ID, "alice", first.Add(time.Minute))
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if existing {
		t.Error("expected rejoin to reactivate the entry")
	}
	if !entry.JoinedAt.Equal(first) {
		t.Errorf("expected joined_at %v to be preserved, got %v", first, entry.JoinedAt)
	}

	left, err = store.LeaveEntry(ctx, drop.ID, "nobody", first)
	if err != nil || left {
		t.Errorf("expected leave without entry to be a no-op, got left=%v err=%v", left, err)
	}
}

func testJoinMissingDrop(t *testing.T, store port.Store) {
	_, _, err := store.JoinEntry(context.Background(), uuid.NewString(), "alice", time.Now())
	if !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testCommitClaim(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 2)
	mustJoin(t, store, drop.ID, "alice")
	claim := newClaim(drop.ID, "alice")

	if err := store.CommitClaim(ctx, claim, 2); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, _ := store.GetDrop(ctx, drop.ID)
	if got.RemainingStock != 1 {
		t.Errorf("expected remaining 1, got %d", got.RemainingStock)
	}
	entry, _ := store.GetEntry(ctx, drop.ID, "alice")
	if entry == nil || entry.Status != domain.EntryStatusClaimed {
		t.Errorf("expected claimed entry, got %+v", entry)
	}
	stored, _ := store.GetClaim(ctx, drop.ID, "alice")
	if stored == nil || stored.ClaimCode != claim.ClaimCode {
		t.Errorf("expected claim %s, got %+v", claim.ClaimCode, stored)
	}

	err := store.CommitClaim(ctx, newClaim(drop.ID, "alice"), 1)
	if !errors.Is(err, port.ErrDuplicateClaim) {
		t.Errorf("expected ErrDuplicateClaim, got %v", err)
	}

	left, err := store.LeaveEntry(ctx, drop.ID, "alice", time.Now())
	if !errors.Is(err, port.ErrEntryClaimed) || left {
		t.Errorf("expected ErrEntryClaimed on leave, got left=%v err=%v", left, err)
	}

	_, existing, err := store.JoinEntry(ctx, drop.ID, "alice", time.Now())
	if err != nil || !existing {
		t.Errorf("expected join on claimed entry to report existing, got existing=%v err=%v", existing, err)
	}

	claims, _ := store.ListClaims(ctx, drop.ID)
	if len(claims) != 1 {
		t.Errorf("expected 1 claim, got %d", len(claims))
	}
}

func testCommitClaimStockConflict(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 2)
	mustJoin(t, store, drop.ID, "alice")

	err := store.CommitClaim(ctx, newClaim(drop.ID, "alice"), 1)
	if !errors.Is(err, port.ErrStockConflict) {
		t.Fatalf("expected ErrStockConflict, got %v", err)
	}

	got, _ := store.GetDrop(ctx, drop.ID)
	if got.RemainingStock != 2 {
		t.Errorf("expected remaining 2 after conflict, got %d", got.RemainingStock)
	}
	if claim, _ := store.GetClaim(ctx, drop.ID, "alice"); claim != nil {
		t.Errorf("expected no claim after conflict, got %+v", claim)
	}
	entry, _ := store.GetEntry(ctx, drop.ID, "alice")
	if entry.Status != domain.EntryStatusActive {
		t.Errorf("expected entry to stay active, got %s", entry.Status)
	}
}

func testCommitClaimNotActive(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 2)

	err := store.CommitClaim(ctx, newClaim(drop.ID, "stranger"), 2)
	if !errors.Is(err, port.ErrEntryNotActive) {
		t.Errorf("expected ErrEntryNotActive for unknown user, got %v", err)
	}

	mustJoin(t, store, drop.ID, "bob")
	store.LeaveEntry(ctx, drop.ID, "bob", time.Now())
	err = store.CommitClaim(ctx, newClaim(drop.ID, "bob"), 2)
	if !errors.Is(err, port.ErrEntryNotActive) {
		t.Errorf("expected ErrEntryNotActive for left user, got %v", err)
	}

	got, _ := store.GetDrop(ctx, drop.ID)
	if got.RemainingStock != 2 {
		t.Errorf("expected remaining 2, got %d", got.RemainingStock)
	}
}

func testUpdateDeleteWithClaims(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 1)
	mustJoin(t, store, drop.ID, "alice")
	if err := store.CommitClaim(ctx, newClaim(drop.ID, "alice"), 1); err != nil {
		t.Fatalf("commit: %v", err)
	}

	drop.Title = "Renamed"
	if err := store.UpdateDrop(ctx, drop); !errors.Is(err, port.ErrDropHasClaims) {
		t.Errorf("expected ErrDropHasClaims on update, got %v", err)
	}
	if err := store.DeleteDrop(ctx, drop.ID); !errors.Is(err, port.ErrDropHasClaims) {
		t.Errorf("expected ErrDropHasClaims on delete, got %v", err)
	}

	got, _ := store.GetDrop(ctx, drop.ID)
	if got == nil || got.Title != "Test drop" {
		t.Errorf("expected drop unchanged, got %+v", got)
	}
}

func testUpdateResetsRemaining(t *testing.T, store port.Store) {
	ctx := context.Background()
	drop := mustCreateDrop(t, store, 3)
	mustJoin(t, store, drop.ID, "alice")

	drop.Stock = 7
	drop.RemainingStock = 0
	drop.Title = "Bigger drop"
	if err := store.UpdateDrop(ctx, drop); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := store.GetDrop(ctx, drop.ID)
	if got.Stock != 7 || got.RemainingStock != 7 || got.Title != "Bigger drop" {
		t.Errorf("unexpected drop after update: %+v", got)
	}

	if err := store.DeleteDrop(ctx, drop.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := store.GetDrop(ctx, drop.ID); got != nil {
		t.Errorf("expected drop deleted, got %+v", got)
	}
	if entry, _ := store.GetEntry(ctx, drop.ID, "alice"); entry != nil {
		t.Errorf("expected waitlist removed with drop, got %+v", entry)
	}
	if err := store.DeleteDrop(ctx, drop.ID); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.UpdateDrop(ctx, drop); !errors.Is(err, port.ErrNotFound) {
		t.Errorf("expected ErrNotFound on update of deleted drop, got %v", err)
	}
}

// testConcurrentCommits races committers that all read the same remaining
// stock; only one per observed value may win.
func testConcurrentCommits(t *testing.T, store port.Store) {
	ctx := context.Background()
	stock := 5
	users := 20
	drop := mustCreateDrop(t, store, stock)

	for i := 0; i < users; i++ {
		mustJoin(t, store, drop.ID, uuid.NewString())
	}
	entries, _ := store.ListEntries(ctx, drop.ID, domain.EntryStatusActive)
	if len(entries) != users {
		t.Fatalf("expected %d entries, got %d", users, len(entries))
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				current, err := store.GetDrop(ctx, drop.ID)
				if err != nil || current == nil || current.RemainingStock <= 0 {
					return
				}
				err = store.CommitClaim(ctx, newClaim(drop.ID, userID), current.RemainingStock)
				if err == nil {
					successCount.Add(1)
					return
				}
				if !errors.Is(err, port.ErrStockConflict) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}(e.UserID)
	}
	wg.Wait()

	if successCount.Load() != int32(stock) {
		t.Errorf("expected %d successful commits, got %d", stock, successCount.Load())
	}
	got, _ := store.GetDrop(ctx, drop.ID)
	if got.RemainingStock != 0 {
		t.Errorf("expected remaining 0, got %d", got.RemainingStock)
	}
	claims, _ := store.ListClaims(ctx, drop.ID)
	if len(claims) != stock {
		t.Errorf("expected %d claims, got %d", stock, len(claims))
	}
}
