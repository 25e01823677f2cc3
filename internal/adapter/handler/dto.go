package handler

import (
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
)

// dropRequest is the body of create and update. Absent fields stay nil so an
// update only touches what was sent.
type dropRequest struct {
	Title          *string    `json:"title"`
	Description    *string    `json:"description"`
	Stock          *int       `json:"stock"`
	WaitlistOpenAt *time.Time `json:"waitlist_open_at"`
	ClaimOpenAt    *time.Time `json:"claim_open_at"`
	ClaimCloseAt   *time.Time `json:"claim_close_at"`
	BasePriority   *int       `json:"base_priority"`
}

func (r dropRequest) patch() domain.DropPatch {
	return domain.DropPatch{
		Title:          r.Title,
		Description:    r.Description,
		Stock:          r.Stock,
		WaitlistOpenAt: r.WaitlistOpenAt,
		ClaimOpenAt:    r.ClaimOpenAt,
		ClaimCloseAt:   r.ClaimCloseAt,
		BasePriority:   r.BasePriority,
	}
}

func (r dropRequest) spec() domain.DropSpec {
	return r.patch().Apply(domain.DropSpec{})
}

type dropResponse struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Stock          int       `json:"stock"`
	RemainingStock int       `json:"remaining_stock"`
	WaitlistOpenAt time.Time `json:"waitlist_open_at"`
	ClaimOpenAt    time.Time `json:"claim_open_at"`
	ClaimCloseAt   time.Time `json:"claim_close_at"`
	BasePriority   int       `json:"base_priority"`
	Phase          string    `json:"phase"`
	WaitlistStatus string    `json:"waitlist_status,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toDropResponse(d domain.Drop, now time.Time) dropResponse {
	return dropResponse{
		ID:             d.ID,
		Title:          d.Title,
		Description:    d.Description,
		Stock:          d.Stock,
		RemainingStock: d.RemainingStock,
		WaitlistOpenAt: d.WaitlistOpenAt,
		ClaimOpenAt:    d.ClaimOpenAt,
		ClaimCloseAt:   d.ClaimCloseAt,
		BasePriority:   d.BasePriority,
		Phase:          string(d.PhaseAt(now)),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

type membershipResponse struct {
	Status        string `json:"status"`
	AlreadyJoined bool   `json:"already_joined"`
}

type claimResponse struct {
	ClaimCode string    `json:"claim_code"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type claimRecordResponse struct {
	UserID    string    `json:"user_id"`
	ClaimCode string    `json:"claim_code"`
	ClaimedAt time.Time `json:"claimed_at"`
}

type positionResponse struct {
	Status        string     `json:"status"`
	PriorityScore *int64     `json:"priority_score,omitempty"`
	JoinedAt      *time.Time `json:"joined_at,omitempty"`
	Rank          *int       `json:"rank,omitempty"`
}

func toPositionResponse(p domain.WaitlistPosition) positionResponse {
	resp := positionResponse{Status: p.Status}
	if p.Status == domain.StatusNotRegistered {
		return resp
	}
	score, joined := p.PriorityScore, p.JoinedAt
	resp.PriorityScore = &score
	resp.JoinedAt = &joined
	if p.Rank >= 0 {
		rank := p.Rank
		resp.Rank = &rank
	}
	return resp
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}
