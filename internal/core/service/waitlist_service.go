package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/ranking"
	"github.com/rl1809/dropspot/internal/port"
)

// WaitlistService is the waitlist ledger. Join and leave touch only the
// caller's own entry and take no lock shared with other users.
type WaitlistService struct {
	store  port.Store
	drops  *DropService
	ranker *ranking.Ranker
	clock  Clock
	logger *slog.Logger
}

func NewWaitlistService(store port.Store, drops *DropService, ranker *ranking.Ranker, clock Clock, logger *slog.Logger) *WaitlistService {
	return &WaitlistService{
		store:  store,
		drops:  drops,
		ranker: ranker,
		clock:  clock,
		logger: logger.With(slog.String("component", "waitlist")),
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if len(userID) > domain.MaxUserIDLength {
		return fmt.Errorf("%w: user id exceeds %d bytes", domain.ErrValidation, domain.MaxUserIDLength)
	}
	return nil
}

// Join adds the user to the drop's waitlist. Joining again while active or
// claimed is a no-op reported as already_joined. A user who left is
// reactivated with their original joined_at.
func (s *WaitlistService) Join(ctx context.Context, dropID, userID string) (domain.MembershipResult, error) {
	if err := validateUserID(userID); err != nil {
		return domain.MembershipResult{}, err
	}
	drop, err := s.drops.GetDrop(ctx, dropID)
	if err != nil {
		return domain.MembershipResult{}, err
	}
	dropID = drop.ID

	entry, err := s.store.GetEntry(ctx, dropID, userID)
	if err != nil {
		return domain.MembershipResult{}, fmt.Errorf("get entry: %w", err)
	}
	if entry != nil && entry.Status != domain.EntryStatusLeft {
		return alreadyJoined(), nil
	}

	now := s.clock.Now()
	if !drop.JoinOpenAt(now) {
		return domain.MembershipResult{}, fmt.Errorf("%w: waitlist for drop %s is open from %s until %s",
			domain.ErrWindowClosed, dropID, drop.WaitlistOpenAt.Format(timeFormat), drop.ClaimCloseAt.Format(timeFormat))
	}

	_, existing, err := s.store.JoinEntry(ctx, dropID, userID, now)
	switch {
	case errors.Is(err, port.ErrNotFound):
		return domain.MembershipResult{}, fmt.Errorf("%w: drop %s", domain.ErrNotFound, dropID)
	case err != nil:
		return domain.MembershipResult{}, fmt.Errorf("join waitlist: %w", err)
	case existing:
		return alreadyJoined(), nil
	}

	s.logger.Debug("joined waitlist", slog.String("drop_id", dropID), slog.String("user_id", userID))
	return domain.MembershipResult{Status: domain.MembershipJoined}, nil
}

func alreadyJoined() domain.MembershipResult {
	return domain.MembershipResult{Status: domain.MembershipAlreadyJoined, AlreadyJoined: true}
}

// Leave marks the user's entry left. It succeeds without change when the
// user has no active entry and fails with ErrConflict once they have claimed.
func (s *WaitlistService) Leave(ctx context.Context, dropID, userID string) (domain.MembershipResult, error) {
	if err := validateUserID(userID); err != nil {
		return domain.MembershipResult{}, err
	}
	drop, err := s.drops.GetDrop(ctx, dropID)
	if err != nil {
		return domain.MembershipResult{}, err
	}
	dropID = drop.ID

	left, err := s.store.LeaveEntry(ctx, dropID, userID, s.clock.Now())
	switch {
	case errors.Is(err, port.ErrEntryClaimed):
		return domain.MembershipResult{}, fmt.Errorf("%w: a claimed entry cannot leave the waitlist", domain.ErrConflict)
	case err != nil:
		return domain.MembershipResult{}, fmt.Errorf("leave waitlist: %w", err)
	}

	if left {
		s.logger.Debug("left waitlist", slog.String("drop_id", dropID), slog.String("user_id", userID))
	}
	return domain.MembershipResult{Status: domain.MembershipLeft, AlreadyJoined: left}, nil
}

// Position reports the user's entry status, priority score and current rank.
func (s *WaitlistService) Position(ctx context.Context, dropID, userID string) (domain.WaitlistPosition, error) {
	if err := validateUserID(userID); err != nil {
		return domain.WaitlistPosition{}, err
	}
	drop, err := s.drops.GetDrop(ctx, dropID)
	if err != nil {
		return domain.WaitlistPosition{}, err
	}
	dropID = drop.ID

	entry, err := s.store.GetEntry(ctx, dropID, userID)
	if err != nil {
		return domain.WaitlistPosition{}, fmt.Errorf("get entry: %w", err)
	}
	if entry == nil {
		return domain.WaitlistPosition{Status: domain.StatusNotRegistered, Rank: -1}, nil
	}

	pos := domain.WaitlistPosition{
		Status:        string(entry.Status),
		PriorityScore: s.ranker.Score(drop, *entry),
		JoinedAt:      entry.JoinedAt,
		Rank:          -1,
	}
	if entry.Status == domain.EntryStatusActive {
		active, err := s.store.ListEntries(ctx, dropID, domain.EntryStatusActive)
		if err != nil {
			return domain.WaitlistPosition{}, fmt.Errorf("list entries: %w", err)
		}
		pos.Rank = ranking.Position(s.ranker.Rank(drop, active), userID)
	}
	return pos, nil
}

// Statuses returns the user's entry status for each drop that has one.
func (s *WaitlistService) Statuses(ctx context.Context, userID string, dropIDs []string) (map[string]domain.EntryStatus, error) {
	statuses := make(map[string]domain.EntryStatus, len(dropIDs))
	if userID == "" {
		return statuses, nil
	}
	for _, id := range dropIDs {
		entry, err := s.store.GetEntry(ctx, id, userID)
		if err != nil {
			return nil, fmt.Errorf("get entry: %w", err)
		}
		if entry != nil {
			statuses[id] = entry.Status
		}
	}
	return statuses, nil
}
