package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateDrop  = errors.New("drop already exists")
	ErrDropHasClaims  = errors.New("drop has claim records")
	ErrStockConflict  = errors.New("remaining stock changed")
	ErrDuplicateClaim = errors.New("claim record already exists")
	ErrEntryNotActive = errors.New("waitlist entry is not active")
	ErrEntryClaimed   = errors.New("waitlist entry is claimed")
)

type DropRepository interface {
	// CreateDrop persists a new drop with RemainingStock equal to Stock
	CreateDrop(ctx context.Context, drop domain.Drop) error

	// GetDrop returns nil, nil when the drop does not exist
	GetDrop(ctx context.Context, dropID string) (*domain.Drop, error)

	// ListDrops returns every drop ordered by claim_open_at ascending
	ListDrops(ctx context.Context) ([]domain.Drop, error)

	// UpdateDrop replaces the mutable attributes and resets RemainingStock to Stock;
	// ErrDropHasClaims if any claim exists, checked atomically with the write
	UpdateDrop(ctx context.Context, drop domain.Drop) error

	// DeleteDrop removes the drop and its waitlist; ErrDropHasClaims if any claim exists
	DeleteDrop(ctx context.Context, dropID string) error
}

type WaitlistRepository interface {
	// GetEntry returns nil, nil when the user never joined
	GetEntry(ctx context.Context, dropID, userID string) (*domain.WaitlistEntry, error)

	// JoinEntry inserts an active entry or reactivates a left one keeping its joined_at.
	// existing is true when the entry was already active or claimed and nothing changed.
	JoinEntry(ctx context.Context, dropID, userID string, now time.Time) (entry domain.WaitlistEntry, existing bool, err error)

	// LeaveEntry marks an active entry left. left is false when there was no active entry.
	// ErrEntryClaimed when the entry has been claimed.
	LeaveEntry(ctx context.Context, dropID, userID string, now time.Time) (left bool, err error)

	// ListEntries returns the drop's entries with the given status
	ListEntries(ctx context.Context, dropID string, status domain.EntryStatus) ([]domain.WaitlistEntry, error)
}

type ClaimRepository interface {
	// GetClaim returns nil, nil when no claim exists for the pair
	GetClaim(ctx context.Context, dropID, userID string) (*domain.ClaimRecord, error)

	// ListClaims returns the drop's claim records ordered by claimed_at
	ListClaims(ctx context.Context, dropID string) ([]domain.ClaimRecord, error)

	// CommitClaim atomically decrements remaining stock from expectedRemaining,
	// flips the entry active->claimed and inserts the claim record.
	// Nothing is written when it returns ErrStockConflict, ErrEntryNotActive or ErrDuplicateClaim.
	CommitClaim(ctx context.Context, claim domain.ClaimRecord, expectedRemaining int) error
}

// Store is the full persistence surface the engine runs on.
type Store interface {
	DropRepository
	WaitlistRepository
	ClaimRepository

	Ping(ctx context.Context) error
	Close() error
}
