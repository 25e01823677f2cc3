package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/port"
)

// dropBucket holds everything owned by one drop behind its own lock, so work
// on one drop never waits on another.
type dropBucket struct {
	mu      sync.Mutex
	drop    domain.Drop
	entries map[string]domain.WaitlistEntry
	claims  map[string]domain.ClaimRecord
	deleted bool
}

type MemoryAdapter struct {
	mu      sync.RWMutex
	buckets map[string]*dropBucket
}

var _ port.Store = (*MemoryAdapter)(nil)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{buckets: make(map[string]*dropBucket)}
}

// bucket returns the locked bucket for dropID, or nil.
func (m *MemoryAdapter) bucket(dropID string) *dropBucket {
	m.mu.RLock()
	b := m.buckets[dropID]
	m.mu.RUnlock()
	if b == nil {
		return nil
	}
	b.mu.Lock()
	if b.deleted {
		b.mu.Unlock()
		return nil
	}
	return b
}

func (m *MemoryAdapter) CreateDrop(ctx context.Context, drop domain.Drop) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.buckets[drop.ID]; ok {
		return port.ErrDuplicateDrop
	}
	drop.RemainingStock = drop.Stock
	m.buckets[drop.ID] = &dropBucket{
		drop:    drop,
		entries: make(map[string]domain.WaitlistEntry),
		claims:  make(map[string]domain.ClaimRecord),
	}
	return nil
}

func (m *MemoryAdapter) GetDrop(ctx context.Context, dropID string) (*domain.Drop, error) {
	b := m.bucket(dropID)
	if b == nil {
		return nil, nil
	}
	defer b.mu.Unlock()

	drop := b.drop
	return &drop, nil
}

func (m *MemoryAdapter) ListDrops(ctx context.Context) ([]domain.Drop, error) {
	m.mu.RLock()
	buckets := make([]*dropBucket, 0, len(m.buckets))
	for _, b := range m.buckets {
		buckets = append(buckets, b)
	}
	m.mu.RUnlock()

	drops := make([]domain.Drop, 0, len(buckets))
	for _, b := range buckets {
		b.mu.Lock()
		if !b.deleted {
			drops = append(drops, b.drop)
		}
		b.mu.Unlock()
	}

	sort.Slice(drops, func(i, j int) bool {
		if !drops[i].ClaimOpenAt.Equal(drops[j].ClaimOpenAt) {
			return drops[i].ClaimOpenAt.Before(drops[j].ClaimOpenAt)
		}
		return drops[i].ID < drops[j].ID
	})
	return drops, nil
}

func (m *MemoryAdapter) UpdateDrop(ctx context.Context, drop domain.Drop) error {
	b := m.bucket(drop.ID)
	if b == nil {
		return port.ErrNotFound
	}
	defer b.mu.Unlock()

	if len(b.claims) > 0 {
		return port.ErrDropHasClaims
	}
	drop.CreatedAt = b.drop.CreatedAt
	drop.RemainingStock = drop.Stock
	b.drop = drop
	return nil
}

func (m *MemoryAdapter) DeleteDrop(ctx context.Context, dropID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[dropID]
	if !ok {
		return port.ErrNotFound
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.claims) > 0 {
		return port.ErrDropHasClaims
	}
	b.deleted = true
	delete(m.buckets, dropID)
	return nil
}

func (m *MemoryAdapter) GetEntry(ctx context.Context, dropID, userID string) (*domain.WaitlistEntry, error) {
	b := m.bucket(dropID)
	if b == nil {
		return nil, nil
	}
	defer b.mu.Unlock()

	entry, ok := b.entries[userID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *MemoryAdapter) JoinEntry(ctx context.Context, dropID, userID string, now time.Time) (domain.WaitlistEntry, bool, error) {
	b := m.bucket(dropID)
	if b == nil {
		return domain.WaitlistEntry{}, false, port.ErrNotFound
	}
	defer b.mu.Unlock()

	entry, ok := b.entries[userID]
	switch {
	case !ok:
		entry = domain.WaitlistEntry{
			DropID:    dropID,
			UserID:    userID,
			JoinedAt:  now,
			Status:    domain.EntryStatusActive,
			UpdatedAt: now,
		}
	case entry.Status == domain.EntryStatusLeft:
		entry.Status = domain.EntryStatusActive
		entry.UpdatedAt = now
	default:
		return entry, true, nil
	}

	b.entries[userID] = entry
	return entry, false, nil
}

func (m *MemoryAdapter) LeaveEntry(ctx context.Context, dropID, userID string, now time.Time) (bool, error) {
	b := m.bucket(dropID)
	if b == nil {
		return false, nil
	}
	defer b.mu.Unlock()

	entry, ok := b.entries[userID]
	if !ok {
		return false, nil
	}
	switch entry.Status {
	case domain.EntryStatusClaimed:
		return false, port.ErrEntryClaimed
	case domain.EntryStatusLeft:
		return false, nil
	}

	entry.Status = domain.EntryStatusLeft
	entry.UpdatedAt = now
	b.entries[userID] = entry
	return true, nil
}

func (m *MemoryAdapter) ListEntries(ctx context.Context, dropID string, status domain.EntryStatus) ([]domain.WaitlistEntry, error) {
	b := m.bucket(dropID)
	if b == nil {
		return nil, nil
	}
	defer b.mu.Unlock()

	entries := make([]domain.WaitlistEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.Status == status {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries, nil
}

func (m *MemoryAdapter) GetClaim(ctx context.Context, dropID, userID string) (*domain.ClaimRecord, error) {
	b := m.bucket(dropID)
	if b == nil {
		return nil, nil
	}
	defer b.mu.Unlock()

	claim, ok := b.claims[userID]
	if !ok {
		return nil, nil
	}
	return &claim, nil
}

func (m *MemoryAdapter) ListClaims(ctx context.Context, dropID string) ([]domain.ClaimRecord, error) {
	b := m.bucket(dropID)
	if b == nil {
		return nil, nil
	}
	defer b.mu.Unlock()

	claims := make([]domain.ClaimRecord, 0, len(b.claims))
	for _, c := range b.claims {
		claims = append(claims, c)
	}
	sort.Slice(claims, func(i, j int) bool {
		if !claims[i].ClaimedAt.Equal(claims[j].ClaimedAt) {
			return claims[i].ClaimedAt.Before(claims[j].ClaimedAt)
		}
		return claims[i].UserID < claims[j].UserID
	})
	return claims, nil
}

func (m *MemoryAdapter) CommitClaim(ctx context.Context, claim domain.ClaimRecord, expectedRemaining int) error {
	b := m.bucket(claim.DropID)
	if b == nil {
		return port.ErrNotFound
	}
	defer b.mu.Unlock()

	if _, ok := b.claims[claim.UserID]; ok {
		return port.ErrDuplicateClaim
	}
	if b.drop.RemainingStock != expectedRemaining || b.drop.RemainingStock <= 0 {
		return port.ErrStockConflict
	}
	entry, ok := b.entries[claim.UserID]
	if !ok || entry.Status != domain.EntryStatusActive {
		return port.ErrEntryNotActive
	}

	entry.Status = domain.EntryStatusClaimed
	entry.UpdatedAt = claim.ClaimedAt
	b.entries[claim.UserID] = entry
	b.claims[claim.UserID] = claim
	b.drop.RemainingStock--
	b.drop.UpdatedAt = claim.ClaimedAt
	return nil
}

func (m *MemoryAdapter) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryAdapter) Close() error {
	return nil
}
