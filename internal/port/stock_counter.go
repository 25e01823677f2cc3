package port

import (
	"context"
	"errors"
)

// ErrCounterMissing is returned when a drop has no counter, either because it
// was never seeded or because it lapsed.
var ErrCounterMissing = errors.New("stock counter missing")

// StockCounter is a cross-instance reservation counter kept beside the store.
// It holds remaining stock minus the units reserved by claims still committing.
// The store stays authoritative; a counter at zero denies a claim before it
// reaches the store.
type StockCounter interface {
	// DecrementStock atomically decreases stock, returns false if insufficient
	// and ErrCounterMissing when the drop has no counter
	DecrementStock(ctx context.Context, dropID string, quantity int) (bool, error)

	// IncrementStock restores stock (for rollback on failure). A missing
	// counter stays missing.
	IncrementStock(ctx context.Context, dropID string, quantity int) error

	// SetStock overwrites the counter with the authoritative remaining stock
	SetStock(ctx context.Context, dropID string, quantity int) error

	// InitStock seeds the counter only when it is missing
	InitStock(ctx context.Context, dropID string, quantity int) error

	// DeleteStock drops the counter for a deleted drop
	DeleteStock(ctx context.Context, dropID string) error
}
