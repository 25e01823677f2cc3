package ranking

import (
	"fmt"
	"testing"
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
)

func testEntries(dropID string, n int) []domain.WaitlistEntry {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := make([]domain.WaitlistEntry, n)
	for i := range entries {
		entries[i] = domain.WaitlistEntry{
			DropID:   dropID,
			UserID:   fmt.Sprintf("user-%03d", i),
			JoinedAt: base.Add(time.Duration(i) * time.Second),
			Status:   domain.EntryStatusActive,
		}
	}
	return entries
}

func TestRank_Deterministic(t *testing.T) {
	drop := domain.Drop{ID: "drop-1", BasePriority: 5}
	entries := testEntries(drop.ID, 50)

	first := New("deadbeefcafe").Rank(drop, entries)
	second := New("deadbeefcafe").Rank(drop, entries)

	for i := range first {
		if first[i].UserID != second[i].UserID || first[i].PriorityScore != second[i].PriorityScore {
			t.Fatalf("position %d differs: %s/%d vs %s/%d", i,
				first[i].UserID, first[i].PriorityScore, second[i].UserID, second[i].PriorityScore)
		}
	}
}

func TestRank_IndependentOfInputOrder(t *testing.T) {
	drop := domain.Drop{ID: "drop-1"}
	entries := testEntries(drop.ID, 20)

	reversed := make([]domain.WaitlistEntry, len(entries))
	for i, e := range entries {
		reversed[len(entries)-1-i] = e
	}

	r := New("seed")
	a := r.Rank(drop, entries)
	b := r.Rank(drop, reversed)
	for i := range a {
		if a[i].UserID != b[i].UserID {
			t.Fatalf("position %d: %s vs %s", i, a[i].UserID, b[i].UserID)
		}
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	drop := domain.Drop{ID: "drop-1"}
	entries := testEntries(drop.ID, 5)
	New("seed").Rank(drop, entries)

	for i, e := range entries {
		if e.PriorityScore != 0 || e.UserID != fmt.Sprintf("user-%03d", i) {
			t.Fatalf("input modified at %d: %+v", i, e)
		}
	}
}

func TestScore_SeedChangesOrder(t *testing.T) {
	drop := domain.Drop{ID: "drop-1"}
	entries := testEntries(drop.ID, 30)

	a := New("seed-a").Rank(drop, entries)
	b := New("seed-b").Rank(drop, entries)

	same := true
	for i := range a {
		if a[i].UserID != b[i].UserID {
			same = false
			break
		}
	}
	if same {
		t.Error("different seeds produced an identical ranking of 30 entries")
	}
}

func TestScore_BasePriorityShiftsScore(t *testing.T) {
	entry := testEntries("drop-1", 1)[0]
	r := New("seed")

	low := r.Score(domain.Drop{ID: "drop-1", BasePriority: 0}, entry)
	high := r.Score(domain.Drop{ID: "drop-1", BasePriority: 100}, entry)
	if high-low != 100 {
		t.Errorf("expected base priority to shift score by 100, got %d", high-low)
	}
	if low < 0 || low >= ScoreSpread {
		t.Errorf("offset out of range: %d", low)
	}
}

func TestScore_JoinedAtIsPartOfKey(t *testing.T) {
	drop := domain.Drop{ID: "drop-1"}
	entry := testEntries(drop.ID, 1)[0]
	r := New("seed")

	moved := entry
	moved.JoinedAt = entry.JoinedAt.Add(time.Microsecond)
	if r.Score(drop, entry) == r.Score(drop, moved) {
		t.Error("a different joined_at should change the score")
	}

	// sub-microsecond differences are below storage precision
	jitter := entry
	jitter.JoinedAt = entry.JoinedAt.Add(300 * time.Nanosecond)
	if r.Score(drop, entry) != r.Score(drop, jitter) {
		t.Error("sub-microsecond jitter must not change the score")
	}
}

func TestLess_TieBreaks(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	a := domain.WaitlistEntry{UserID: "b", JoinedAt: at, PriorityScore: 10}
	b := domain.WaitlistEntry{UserID: "a", JoinedAt: at.Add(time.Second), PriorityScore: 10}
	c := domain.WaitlistEntry{UserID: "a", JoinedAt: at, PriorityScore: 10}

	if !Less(a, b) {
		t.Error("earlier joined_at must win a score tie")
	}
	if !Less(c, a) {
		t.Error("lower user_id must win a score and joined_at tie")
	}
	if Less(a, a) {
		t.Error("Less must be irreflexive")
	}
}

func TestPosition(t *testing.T) {
	ranked := []domain.WaitlistEntry{{UserID: "x"}, {UserID: "y"}}
	if Position(ranked, "y") != 1 {
		t.Error("expected position 1")
	}
	if Position(ranked, "z") != -1 {
		t.Error("expected -1 for absent user")
	}
}
