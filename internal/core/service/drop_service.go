package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/port"
)

// PhaseAll disables phase filtering in ListDrops.
const PhaseAll = "all"

// DropFilter selects drops by lifecycle phase. The zero value lists every
// drop whose claim window has not closed yet.
type DropFilter struct {
	Phase domain.Phase
	All   bool
}

// ParseDropFilter parses the phase query value accepted by GET /drops.
func ParseDropFilter(phase string) (DropFilter, error) {
	switch strings.ToLower(strings.TrimSpace(phase)) {
	case "":
		return DropFilter{}, nil
	case PhaseAll:
		return DropFilter{All: true}, nil
	}
	p, err := domain.ParsePhase(phase)
	if err != nil {
		return DropFilter{}, err
	}
	return DropFilter{Phase: p}, nil
}

func (f DropFilter) match(drop domain.Drop, now time.Time) bool {
	phase := drop.PhaseAt(now)
	switch {
	case f.All:
		return true
	case f.Phase != "":
		return phase == f.Phase
	default:
		return phase != domain.PhaseClosed
	}
}

// DropService is the drop registry and the admin surface over it.
type DropService struct {
	store   port.Store
	counter port.StockCounter
	cache   *DropCache
	clock   Clock
	logger  *slog.Logger
}

// NewDropService wires the registry. counter and cache may be nil.
func NewDropService(store port.Store, counter port.StockCounter, cache *DropCache, clock Clock, logger *slog.Logger) *DropService {
	return &DropService{
		store:   store,
		counter: counter,
		cache:   cache,
		clock:   clock,
		logger:  logger.With(slog.String("component", "drops")),
	}
}

// canonicalDropID returns the hyphenated lowercase form of dropID, so every
// spelling uuid.Parse accepts maps to one cache entry and one claim lane.
func canonicalDropID(dropID string) (string, error) {
	id, err := uuid.Parse(dropID)
	if err != nil {
		return "", fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	}
	return id.String(), nil
}

func normalizeSpec(spec domain.DropSpec) domain.DropSpec {
	spec.Title = strings.TrimSpace(spec.Title)
	spec.WaitlistOpenAt = domain.NormalizeTime(spec.WaitlistOpenAt)
	spec.ClaimOpenAt = domain.NormalizeTime(spec.ClaimOpenAt)
	spec.ClaimCloseAt = domain.NormalizeTime(spec.ClaimCloseAt)
	return spec
}

func applySpec(drop domain.Drop, spec domain.DropSpec) domain.Drop {
	drop.Title = spec.Title
	drop.Description = spec.Description
	drop.Stock = spec.Stock
	drop.RemainingStock = spec.Stock
	drop.WaitlistOpenAt = spec.WaitlistOpenAt
	drop.ClaimOpenAt = spec.ClaimOpenAt
	drop.ClaimCloseAt = spec.ClaimCloseAt
	drop.BasePriority = spec.BasePriority
	return drop
}

func (s *DropService) CreateDrop(ctx context.Context, spec domain.DropSpec) (domain.Drop, error) {
	spec = normalizeSpec(spec)
	if err := spec.Validate(); err != nil {
		return domain.Drop{}, err
	}

	now := s.clock.Now()
	drop := applySpec(domain.Drop{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}, spec)

	if err := s.store.CreateDrop(ctx, drop); err != nil {
		return domain.Drop{}, fmt.Errorf("create drop: %w", err)
	}
	s.syncCounter(ctx, drop)

	s.logger.Info("drop created",
		slog.String("drop_id", drop.ID),
		slog.Int("stock", drop.Stock),
		slog.Time("claim_open_at", drop.ClaimOpenAt),
	)
	return drop, nil
}

// UpdateDrop applies patch to the drop. It fails with ErrConflict once any
// claim exists for the drop.
func (s *DropService) UpdateDrop(ctx context.Context, dropID string, patch domain.DropPatch) (domain.Drop, error) {
	current, err := s.loadDrop(ctx, dropID)
	if err != nil {
		return domain.Drop{}, err
	}
	dropID = current.ID

	spec := patch.Apply(current.Spec())
	spec = normalizeSpec(spec)
	if err := spec.Validate(); err != nil {
		return domain.Drop{}, err
	}

	updated := applySpec(current, spec)
	updated.UpdatedAt = s.clock.Now()

	err = s.store.UpdateDrop(ctx, updated)
	s.cache.Delete(dropID)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return domain.Drop{}, fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	case errors.Is(err, port.ErrDropHasClaims):
		return domain.Drop{}, fmt.Errorf("%w: drop %s already has claims", domain.ErrConflict, dropID)
	case err != nil:
		return domain.Drop{}, fmt.Errorf("update drop: %w", err)
	}
	s.syncCounter(ctx, updated)

	s.logger.Info("drop updated", slog.String("drop_id", dropID))
	return updated, nil
}

// GetDrop returns the drop, possibly from the read cache.
func (s *DropService) GetDrop(ctx context.Context, dropID string) (domain.Drop, error) {
	dropID, err := canonicalDropID(dropID)
	if err != nil {
		return domain.Drop{}, err
	}
	if drop, ok := s.cache.Get(dropID); ok {
		return drop, nil
	}
	drop, err := s.loadDrop(ctx, dropID)
	if err != nil {
		return domain.Drop{}, err
	}
	s.cache.Set(drop)
	return drop, nil
}

// loadDrop always reads from storage.
func (s *DropService) loadDrop(ctx context.Context, dropID string) (domain.Drop, error) {
	dropID, err := canonicalDropID(dropID)
	if err != nil {
		return domain.Drop{}, err
	}
	drop, err := s.store.GetDrop(ctx, dropID)
	if err != nil {
		return domain.Drop{}, fmt.Errorf("get drop: %w", err)
	}
	if drop == nil {
		return domain.Drop{}, fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	}
	return *drop, nil
}

// ListDrops returns the drops matching filter ordered by claim_open_at ascending.
func (s *DropService) ListDrops(ctx context.Context, filter DropFilter) ([]domain.Drop, error) {
	drops, err := s.store.ListDrops(ctx)
	if err != nil {
		return nil, fmt.Errorf("list drops: %w", err)
	}

	now := s.clock.Now()
	result := make([]domain.Drop, 0, len(drops))
	for _, d := range drops {
		if filter.match(d, now) {
			result = append(result, d)
		}
	}
	return result, nil
}

// ListAllDrops returns every drop, most recent claim window first.
func (s *DropService) ListAllDrops(ctx context.Context) ([]domain.Drop, error) {
	drops, err := s.ListDrops(ctx, DropFilter{All: true})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(drops, func(i, j int) bool {
		return drops[i].ClaimOpenAt.After(drops[j].ClaimOpenAt)
	})
	return drops, nil
}

// DeleteDrop removes the drop and its waitlist. It fails with ErrConflict
// once any claim exists for the drop.
func (s *DropService) DeleteDrop(ctx context.Context, dropID string) error {
	dropID, err := canonicalDropID(dropID)
	if err != nil {
		return err
	}

	err = s.store.DeleteDrop(ctx, dropID)
	s.cache.Delete(dropID)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	case errors.Is(err, port.ErrDropHasClaims):
		return fmt.Errorf("%w: drop %s already has claims", domain.ErrConflict, dropID)
	case err != nil:
		return fmt.Errorf("delete drop: %w", err)
	}

	if s.counter != nil {
		if err := s.counter.DeleteStock(ctx, dropID); err != nil {
			s.logger.Warn("stock counter cleanup failed", slog.String("drop_id", dropID), slog.Any("error", err))
		}
	}
	s.logger.Info("drop deleted", slog.String("drop_id", dropID))
	return nil
}

// ListClaims returns the drop's claim records for audit.
func (s *DropService) ListClaims(ctx context.Context, dropID string) ([]domain.ClaimRecord, error) {
	drop, err := s.loadDrop(ctx, dropID)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaims(ctx, drop.ID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return claims, nil
}

// invalidate drops a cached copy after its remaining stock changed.
func (s *DropService) invalidate(dropID string) {
	s.cache.Delete(dropID)
}

// syncCounter seeds the shared stock counter. A failure is not fatal: the
// claim path reseeds a missing counter from storage.
func (s *DropService) syncCounter(ctx context.Context, drop domain.Drop) {
	if s.counter == nil {
		return
	}
	if err := s.counter.SetStock(ctx, drop.ID, drop.RemainingStock); err != nil {
		s.logger.Warn("stock counter sync failed", slog.String("drop_id", drop.ID), slog.Any("error", err))
	}
}
