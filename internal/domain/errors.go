package domain

import (
	"errors"
	"fmt"
)

// Adapter-facing failure taxonomy. Adapters return these (wrapped with
// fmt.Errorf %w) so the resilience wrapper and the engine can branch with
// errors.Is / errors.As without naming a venue.
var (
	ErrRetryableNetwork  = errors.New("retryable network error")
	ErrInsufficientBal   = errors.New("insufficient balance")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrInvalidLeverage   = errors.New("invalid leverage")
	ErrPositionNotFound  = errors.New("position not found")
	ErrAuthFailure       = errors.New("authentication failure")
	ErrUnsupported       = errors.New("operation not supported by venue")
	ErrCircuitOpen       = errors.New("circuit open")
)

// RateLimited carries the venue's Retry-After hint, if any.
type RateLimited struct {
	RetryAfter *durationSeconds
}

type durationSeconds = int

func (e *RateLimited) Error() string { return "rate limited" }

// NewRateLimited builds a RateLimited error with an optional retry-after hint.
func NewRateLimited(retryAfterSeconds int) error {
	if retryAfterSeconds <= 0 {
		return &RateLimited{}
	}
	s := retryAfterSeconds
	return &RateLimited{RetryAfter: &s}
}

// VenueError is the catch-all for non-retryable venue responses that don't
// fit a more specific sentinel.
type VenueError struct {
	Code    string
	Message string
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue error %s: %s", e.Code, e.Message)
}

// NewVenueError constructs a VenueError.
func NewVenueError(code, message string) error {
	return &VenueError{Code: code, Message: message}
}

// IsRetryable reports whether err should be retried by the resilience
// wrapper: transient network errors and rate limiting.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRetryableNetwork) {
		return true
	}
	var rl *RateLimited
	return errors.As(err, &rl)
}

// IsTerminal reports whether err should surface immediately without
// retrying and without tripping the circuit breaker.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrInsufficientBal) ||
		errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrInvalidLeverage) ||
		errors.Is(err, ErrPositionNotFound) ||
		errors.Is(err, ErrAuthFailure) ||
		errors.Is(err, ErrUnsupported)
}
