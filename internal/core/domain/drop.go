package domain

import (
	"fmt"
	"strings"
	"time"
)

type Phase string

const (
	PhaseUpcoming     Phase = "upcoming"
	PhaseWaitlistOpen Phase = "waitlist_open"
	PhaseClaimOpen    Phase = "claim_open"
	PhaseClosed       Phase = "closed"
)

func ParsePhase(s string) (Phase, error) {
	switch p := Phase(strings.ToLower(s)); p {
	case PhaseUpcoming, PhaseWaitlistOpen, PhaseClaimOpen, PhaseClosed:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown phase %q", ErrValidation, s)
}

type Drop struct {
	ID             string
	Title          string
	Description    string
	Stock          int
	RemainingStock int
	WaitlistOpenAt time.Time
	ClaimOpenAt    time.Time
	ClaimCloseAt   time.Time
	BasePriority   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PhaseAt derives the lifecycle phase from the window timestamps. It is never stored.
func (d Drop) PhaseAt(now time.Time) Phase {
	switch {
	case now.Before(d.WaitlistOpenAt):
		return PhaseUpcoming
	case now.Before(d.ClaimOpenAt):
		return PhaseWaitlistOpen
	case now.Before(d.ClaimCloseAt):
		return PhaseClaimOpen
	default:
		return PhaseClosed
	}
}

// JoinOpenAt reports whether now falls in [WaitlistOpenAt, ClaimCloseAt).
func (d Drop) JoinOpenAt(now time.Time) bool {
	return !now.Before(d.WaitlistOpenAt) && now.Before(d.ClaimCloseAt)
}

// ClaimWindowOpenAt reports whether now falls in [ClaimOpenAt, ClaimCloseAt).
func (d Drop) ClaimWindowOpenAt(now time.Time) bool {
	return !now.Before(d.ClaimOpenAt) && now.Before(d.ClaimCloseAt)
}

type DropSpec struct {
	Title          string
	Description    string
	Stock          int
	WaitlistOpenAt time.Time
	ClaimOpenAt    time.Time
	ClaimCloseAt   time.Time
	BasePriority   int
}

func (s DropSpec) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if s.Stock < 1 {
		return fmt.Errorf("%w: stock must be at least 1", ErrValidation)
	}
	if s.WaitlistOpenAt.IsZero() || s.ClaimOpenAt.IsZero() || s.ClaimCloseAt.IsZero() {
		return fmt.Errorf("%w: waitlist_open_at, claim_open_at and claim_close_at are required", ErrValidation)
	}
	if !s.ClaimOpenAt.Before(s.ClaimCloseAt) {
		return fmt.Errorf("%w: claim_open_at must be before claim_close_at", ErrValidation)
	}
	if s.WaitlistOpenAt.After(s.ClaimOpenAt) {
		return fmt.Errorf("%w: waitlist_open_at must not be after claim_open_at", ErrValidation)
	}
	return nil
}

// DropPatch carries a partial update; nil fields are left unchanged.
type DropPatch struct {
	Title          *string
	Description    *string
	Stock          *int
	WaitlistOpenAt *time.Time
	ClaimOpenAt    *time.Time
	ClaimCloseAt   *time.Time
	BasePriority   *int
}

func (d Drop) Spec() DropSpec {
	return DropSpec{
		Title:          d.Title,
		Description:    d.Description,
		Stock:          d.Stock,
		WaitlistOpenAt: d.WaitlistOpenAt,
		ClaimOpenAt:    d.ClaimOpenAt,
		ClaimCloseAt:   d.ClaimCloseAt,
		BasePriority:   d.BasePriority,
	}
}

// Apply returns the spec that results from applying p on top of s.
func (p DropPatch) Apply(s DropSpec) DropSpec {
	if p.Title != nil {
		s.Title = *p.Title
	}
	if p.Description != nil {
		s.Description = *p.Description
	}
	if p.Stock != nil {
		s.Stock = *p.Stock
	}
	if p.WaitlistOpenAt != nil {
		s.WaitlistOpenAt = *p.WaitlistOpenAt
	}
	if p.ClaimOpenAt != nil {
		s.ClaimOpenAt = *p.ClaimOpenAt
	}
	if p.ClaimCloseAt != nil {
		s.ClaimCloseAt = *p.ClaimCloseAt
	}
	if p.BasePriority != nil {
		s.BasePriority = *p.BasePriority
	}
	return s
}

// NormalizeTime truncates to microseconds in UTC, the precision both SQL backends keep.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
