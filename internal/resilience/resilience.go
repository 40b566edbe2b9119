// Package resilience wraps every exchange adapter call with the behaviors
// every call must pass through: bounded exponential backoff retry on
// retryable failures, and a three-state circuit breaker per (venue,
// credential scope). This is the only place call success and failure
// counters are recorded.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// Config tunes retry and circuit-breaker behavior; zero-value fields fall
// back to sane defaults via WithDefaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	FailureThreshold uint32        // F, default 5
	OpenCooldown     time.Duration // T, default 60s
	HalfOpenProbes   uint32        // H, default 1
	CloseSuccesses   uint32        // S, default 1
}

// WithDefaults fills unset fields with sane defaults.
func (c Config) WithDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenCooldown == 0 {
		c.OpenCooldown = 60 * time.Second
	}
	if c.HalfOpenProbes == 0 {
		c.HalfOpenProbes = 1
	}
	if c.CloseSuccesses == 0 {
		c.CloseSuccesses = 1
	}
	return c
}

// Wrapper owns one circuit breaker per (venue, credential scope) key and
// runs every call assigned to a scope through retry-then-breaker.
type Wrapper struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds a Wrapper; cfg's zero fields take the package defaults.
func New(cfg Config) *Wrapper {
	return &Wrapper{cfg: cfg.WithDefaults(), breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Scope identifies one circuit breaker: a venue plus the API key the
// call authenticates with (the wrapped adapter passes creds.APIKey). Public market-data calls (ticker,
// leaderboard) use an empty CredentialScope so every caller shares one
// breaker per venue for those.
type Scope struct {
	Venue           domain.Venue
	CredentialScope string
}

func (s Scope) key() string { return string(s.Venue) + "|" + s.CredentialScope }

func (w *Wrapper) breakerFor(scope Scope) *gobreaker.CircuitBreaker {
	w.mu.Lock()
	defer w.mu.Unlock()

	key := scope.key()
	if cb, ok := w.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: w.cfg.HalfOpenProbes,
		Interval:    0,
		Timeout:     w.cfg.OpenCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= w.cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || domain.IsTerminal(err)
		},
	})
	w.breakers[key] = cb
	return cb
}

// Call runs fn through the circuit breaker for scope, retrying retryable
// failures with exponential backoff before the breaker ever sees them —
// the breaker only records the final outcome of the whole retry run, so a
// transient blip that retry absorbs never counts as a breaker failure.
func (w *Wrapper) Call(ctx context.Context, scope Scope, fn func(ctx context.Context) error) error {
	cb := w.breakerFor(scope)

	_, err := cb.Execute(func() (interface{}, error) {
		return nil, w.retry(ctx, fn)
	})
	if err != nil && errors.Is(err, gobreaker.ErrOpenState) {
		return domain.ErrCircuitOpen
	}
	if err != nil && errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ErrCircuitOpen
	}
	return err
}

// State reports the current breaker state for scope, CLOSED if no call
// has been made through it yet.
func (w *Wrapper) State(scope Scope) gobreaker.State {
	w.mu.Lock()
	cb, ok := w.breakers[scope.key()]
	w.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// retry drives fn through up to MaxAttempts tries. The delay between
// tries comes from an exponential backoff.BackOff, except when the
// failure carries a venue-supplied retry_after, which takes precedence.
func (w *Wrapper) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.cfg.BaseDelay
	bo.MaxInterval = w.cfg.MaxDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by MaxAttempts below, not wall clock
	bo.Reset()

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt >= w.cfg.MaxAttempts {
			break
		}

		delay := bo.NextBackOff()
		if wait := retryAfterOf(err); wait > 0 {
			delay = time.Duration(wait) * time.Second
		}
		if delay == backoff.Stop {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func isRetryable(err error) bool {
	return domain.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}

func retryAfterOf(err error) int {
	var rl *domain.RateLimited
	if errors.As(err, &rl) && rl.RetryAfter != nil {
		return *rl.RetryAfter
	}
	return 0
}
