package domain

import "time"

type EntryStatus string

const (
	EntryStatusActive  EntryStatus = "active"
	EntryStatusLeft    EntryStatus = "left"
	EntryStatusClaimed EntryStatus = "claimed"
)

type WaitlistEntry struct {
	DropID        string
	UserID        string
	JoinedAt      time.Time
	Status        EntryStatus
	PriorityScore int64 // filled by the ranker, not persisted
	UpdatedAt     time.Time
}

// MaxUserIDLength matches the user_id column width in storage.
const MaxUserIDLength = 64

const (
	MembershipJoined        = "joined"
	MembershipAlreadyJoined = "already_joined"
	MembershipLeft          = "left"
)

// MembershipResult is the outcome of join and leave.
type MembershipResult struct {
	Status        string
	AlreadyJoined bool
}

// StatusNotRegistered is reported for users without a waitlist entry.
const StatusNotRegistered = "not_registered"

// WaitlistPosition is a user's view of their standing on a drop's waitlist.
// Rank is the 0-based position among active entries, or -1 when not active.
type WaitlistPosition struct {
	Status        string
	PriorityScore int64
	JoinedAt      time.Time
	Rank          int
}
