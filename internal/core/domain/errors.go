package domain

import "errors"

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrWindowClosed  = errors.New("window closed")
	ErrNotEligible   = errors.New("not eligible")
	ErrConflict      = errors.New("conflict")
	ErrSoldOut       = errors.New("sold out")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrAllocatorBusy = errors.New("allocator busy")

	// ErrConcurrencyConflict marks a lost race on the stock counter. The claim
	// service retries it internally and never returns it.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

const (
	CodeValidation    = "VALIDATION_ERROR"
	CodeNotFound      = "NOT_FOUND"
	CodeWindowClosed  = "WINDOW_CLOSED"
	CodeNotEligible   = "NOT_ELIGIBLE"
	CodeConflict      = "CONFLICT"
	CodeSoldOut       = "SOLD_OUT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeAllocatorBusy = "ALLOCATOR_BUSY"
	CodeInternal      = "INTERNAL_ERROR"
)

// Code maps an error onto its stable machine-readable code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrWindowClosed):
		return CodeWindowClosed
	case errors.Is(err, ErrNotEligible):
		return CodeNotEligible
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrSoldOut):
		return CodeSoldOut
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrAllocatorBusy):
		return CodeAllocatorBusy
	default:
		return CodeInternal
	}
}

// IsBusinessError reports whether err is part of the stable outcome taxonomy
// rather than an infrastructure failure.
func IsBusinessError(err error) bool {
	switch Code(err) {
	case CodeInternal, CodeAllocatorBusy:
		return false
	}
	return true
}
