package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type ClaimRecord struct {
	DropID    string
	UserID    string
	ClaimCode string
	ClaimedAt time.Time
}

// NewClaimCode returns 32 hex characters drawn from a random (v4) UUID.
func NewClaimCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
