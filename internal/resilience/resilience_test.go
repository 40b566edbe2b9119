package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func testScope() Scope {
	return Scope{Venue: domain.VenueBinance, CredentialScope: "user-1"}
}

func TestCall_RetriesRetryableThenSucceeds(t *testing.T) {
	w := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	attempts := 0
	err := w.Call(context.Background(), testScope(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return domain.ErrRetryableNetwork
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestCall_TerminalErrorSurfacesImmediately(t *testing.T) {
	w := New(Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})

	attempts := 0
	err := w.Call(context.Background(), testScope(), func(ctx context.Context) error {
		attempts++
		return domain.ErrInsufficientBal
	})

	assert.ErrorIs(t, err, domain.ErrInsufficientBal)
	assert.Equal(t, 1, attempts)
}

func TestCall_OpensCircuitAfterConsecutiveFailures(t *testing.T) {
	w := New(Config{MaxAttempts: 1, FailureThreshold: 3, OpenCooldown: time.Hour})
	scope := testScope()

	for i := 0; i < 3; i++ {
		_ = w.Call(context.Background(), scope, func(ctx context.Context) error {
			return domain.ErrRetryableNetwork
		})
	}

	called := false
	err := w.Call(context.Background(), scope, func(ctx context.Context) error {
		called = true
		return nil
	})

	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called, "circuit open must fail fast without contacting the venue")
}

func TestCall_DifferentScopesHaveIndependentBreakers(t *testing.T) {
	w := New(Config{MaxAttempts: 1, FailureThreshold: 1, OpenCooldown: time.Hour})

	_ = w.Call(context.Background(), Scope{Venue: domain.VenueBinance, CredentialScope: "user-1"}, func(ctx context.Context) error {
		return domain.ErrRetryableNetwork
	})

	err := w.Call(context.Background(), Scope{Venue: domain.VenueBinance, CredentialScope: "user-2"}, func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}
