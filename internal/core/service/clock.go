package service

import (
	"time"

	"github.com/rl1809/dropspot/internal/core/domain"
)

// Clock is the single source of "now" for every window check.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return domain.NormalizeTime(time.Now())
}

const timeFormat = time.RFC3339
