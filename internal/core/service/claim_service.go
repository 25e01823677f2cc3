package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/ranking"
	"github.com/rl1809/dropspot/internal/port"
)

type ClaimConfig struct {
	// LaneTimeout bounds how long a request waits to enter its drop's lane.
	LaneTimeout time.Duration
	// CommitTimeout bounds one decision, retries included.
	CommitTimeout time.Duration
	// LaneIdleTimeout retires a lane that has seen no request for this long.
	LaneIdleTimeout time.Duration
}

func DefaultClaimConfig() ClaimConfig {
	return ClaimConfig{
		LaneTimeout:     2 * time.Second,
		CommitTimeout:   5 * time.Second,
		LaneIdleTimeout: time.Minute,
	}
}

// ClaimService is the claim allocator. Decisions for one drop are serialized
// through that drop's lane and committed with a compare-and-decrement on
// remaining stock, so concurrent instances sharing storage stay correct too.
type ClaimService struct {
	store   port.Store
	counter port.StockCounter
	drops   *DropService
	ranker  *ranking.Ranker
	clock   Clock
	cfg     ClaimConfig
	lanes   *laneSet
	logger  *slog.Logger
}

// NewClaimService wires the allocator. counter may be nil.
func NewClaimService(store port.Store, counter port.StockCounter, drops *DropService, ranker *ranking.Ranker, clock Clock, cfg ClaimConfig, logger *slog.Logger) *ClaimService {
	s := &ClaimService{
		store:   store,
		counter: counter,
		drops:   drops,
		ranker:  ranker,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "claims")),
	}
	s.lanes = newLaneSet(cfg.LaneIdleTimeout, s.decide)
	return s
}

// Claim allocates one unit of the drop's stock to the user, or returns the
// claim they already hold. Failures are ErrWindowClosed, ErrNotEligible or
// ErrSoldOut; ErrAllocatorBusy when the drop's lane is saturated.
func (s *ClaimService) Claim(ctx context.Context, dropID, userID string) (claim domain.ClaimRecord, err error) {
	defer func() { observeClaimOutcome(err) }()

	if err := validateUserID(userID); err != nil {
		return domain.ClaimRecord{}, err
	}
	// read through storage so a window edited on another instance applies at once
	drop, err := s.drops.loadDrop(ctx, dropID)
	if err != nil {
		return domain.ClaimRecord{}, err
	}
	dropID = drop.ID

	if err := checkClaimWindow(drop, s.clock.Now()); err != nil {
		return domain.ClaimRecord{}, err
	}

	entry, err := s.store.GetEntry(ctx, dropID, userID)
	if err != nil {
		return domain.ClaimRecord{}, fmt.Errorf("get entry: %w", err)
	}
	if entry == nil || entry.Status == domain.EntryStatusLeft {
		return domain.ClaimRecord{}, notEligible(dropID)
	}
	if entry.Status == domain.EntryStatusClaimed {
		existing, err := s.store.GetClaim(ctx, dropID, userID)
		if err != nil {
			return domain.ClaimRecord{}, fmt.Errorf("get claim: %w", err)
		}
		if existing != nil {
			return *existing, nil
		}
	}

	claim, err = s.lanes.submit(ctx, dropID, userID, s.cfg.LaneTimeout)
	if errors.Is(err, domain.ErrAllocatorBusy) {
		s.logger.Warn("claim lane saturated", slog.String("drop_id", dropID), slog.Duration("lane_timeout", s.cfg.LaneTimeout))
	}
	return claim, err
}

func checkClaimWindow(drop domain.Drop, now time.Time) error {
	if !drop.ClaimWindowOpenAt(now) {
		return fmt.Errorf("%w: claims for drop %s are open from %s until %s",
			domain.ErrWindowClosed, drop.ID, drop.ClaimOpenAt.Format(timeFormat), drop.ClaimCloseAt.Format(timeFormat))
	}
	return nil
}

func notEligible(dropID string) error {
	return fmt.Errorf("%w: no active waitlist entry for drop %s", domain.ErrNotEligible, dropID)
}

// decide runs on the drop's lane. The caller's cancellation is dropped so a
// disconnect cannot interrupt a commit half way; CommitTimeout bounds it instead.
func (s *ClaimService) decide(req laneRequest) laneResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(req.ctx), s.cfg.CommitTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		claim, err := s.attempt(ctx, req.dropID, req.userID)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return laneResult{claim: claim, err: err}
		}

		claimConflictsTotal.Inc()
		s.logger.Debug("claim attempt lost stock race, retrying",
			slog.String("drop_id", req.dropID),
			slog.String("user_id", req.userID),
			slog.Int("attempt", attempt),
		)
		if ctx.Err() != nil {
			return laneResult{err: fmt.Errorf("%w: gave up after %d attempts", domain.ErrAllocatorBusy, attempt)}
		}
	}
}

// attempt makes one allocation decision against freshly read state.
func (s *ClaimService) attempt(ctx context.Context, dropID, userID string) (domain.ClaimRecord, error) {
	existing, err := s.store.GetClaim(ctx, dropID, userID)
	if err != nil {
		return domain.ClaimRecord{}, s.infraError(ctx, "get claim", err)
	}
	if existing != nil {
		return *existing, nil
	}

	drop, err := s.store.GetDrop(ctx, dropID)
	if err != nil {
		return domain.ClaimRecord{}, s.infraError(ctx, "get drop", err)
	}
	if drop == nil {
		return domain.ClaimRecord{}, fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	}
	now := s.clock.Now()
	if err := checkClaimWindow(*drop, now); err != nil {
		return domain.ClaimRecord{}, err
	}
	if drop.RemainingStock <= 0 {
		return domain.ClaimRecord{}, fmt.Errorf("%w: drop %s has no remaining stock", domain.ErrSoldOut, dropID)
	}

	reserved, err := s.reserve(ctx, *drop)
	if err != nil {
		return domain.ClaimRecord{}, err
	}

	active, err := s.store.ListEntries(ctx, dropID, domain.EntryStatusActive)
	if err != nil {
		s.releaseIf(reserved, dropID)
		return domain.ClaimRecord{}, s.infraError(ctx, "list entries", err)
	}
	ranked := s.ranker.Rank(*drop, active)
	rank := ranking.Position(ranked, userID)
	if rank < 0 {
		s.releaseIf(reserved, dropID)
		return domain.ClaimRecord{}, notEligible(dropID)
	}

	s.logger.Debug("claim decision",
		slog.String("drop_id", dropID),
		slog.String("user_id", userID),
		slog.Int("rank", rank),
		slog.Int("remaining", drop.RemainingStock),
	)
	if rank >= drop.RemainingStock {
		s.releaseIf(reserved, dropID)
		return domain.ClaimRecord{}, fmt.Errorf("%w: remaining units are held for higher-ranked waitlist members", domain.ErrSoldOut)
	}

	claim := domain.ClaimRecord{
		DropID:    dropID,
		UserID:    userID,
		ClaimCode: domain.NewClaimCode(),
		ClaimedAt: now,
	}
	err = s.store.CommitClaim(ctx, claim, drop.RemainingStock)
	if err != nil {
		s.releaseIf(reserved, dropID)
	}

	switch {
	case err == nil:
		s.drops.invalidate(dropID)
		s.logger.Info("claim allocated",
			slog.String("drop_id", dropID),
			slog.String("user_id", userID),
			slog.Int("rank", rank),
			slog.Int("remaining", drop.RemainingStock-1),
		)
		return claim, nil
	case errors.Is(err, port.ErrStockConflict):
		return domain.ClaimRecord{}, domain.ErrConcurrencyConflict
	case errors.Is(err, port.ErrDuplicateClaim), errors.Is(err, port.ErrEntryNotActive):
		// another instance committed for this user, or the entry left meanwhile
		existing, getErr := s.store.GetClaim(ctx, dropID, userID)
		if getErr != nil {
			return domain.ClaimRecord{}, s.infraError(ctx, "get claim", getErr)
		}
		if existing != nil {
			return *existing, nil
		}
		return domain.ClaimRecord{}, notEligible(dropID)
	case errors.Is(err, port.ErrNotFound):
		return domain.ClaimRecord{}, fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	default:
		return domain.ClaimRecord{}, s.infraError(ctx, "commit claim", err)
	}
}

// reserve takes a unit from the shared stock counter when one is configured.
// A counter at zero means other instances hold the remaining units for
// claims they are committing, and the caller is sold out. A missing counter
// is reseeded from storage; counting units still in flight elsewhere there
// only costs a stock conflict, since the store arbitrates the commit.
// Counter failures let the claim through to the store.
func (s *ClaimService) reserve(ctx context.Context, drop domain.Drop) (bool, error) {
	if s.counter == nil {
		return false, nil
	}

	ok, err := s.counter.DecrementStock(ctx, drop.ID, 1)
	if errors.Is(err, port.ErrCounterMissing) {
		if err := s.counter.InitStock(ctx, drop.ID, drop.RemainingStock); err != nil {
			s.logger.Warn("stock counter reseed failed", slog.String("drop_id", drop.ID), slog.Any("error", err))
			return false, nil
		}
		ok, err = s.counter.DecrementStock(ctx, drop.ID, 1)
	}
	if err != nil {
		s.logger.Warn("stock counter unavailable, committing without reservation",
			slog.String("drop_id", drop.ID), slog.Any("error", err))
		return false, nil
	}
	if !ok {
		return false, fmt.Errorf("%w: remaining units of drop %s are reserved by claims in flight", domain.ErrSoldOut, drop.ID)
	}
	return true, nil
}

func (s *ClaimService) releaseIf(reserved bool, dropID string) {
	if !reserved {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.counter.IncrementStock(ctx, dropID, 1); err != nil {
		s.logger.Warn("stock counter rollback failed", slog.String("drop_id", dropID), slog.Any("error", err))
	}
}

// infraError reports storage failures, turning an exhausted decision budget
// into ErrAllocatorBusy.
func (s *ClaimService) infraError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrAllocatorBusy, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
