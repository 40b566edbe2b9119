package signal

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the slice of the store package the expiry sweep needs.
type Store interface {
	SweepExpired(ttl time.Duration, now time.Time) (int64, error)
}

// ExpirySweeper periodically flips PENDING signals older than TTL to
// EXPIRED: a signal nobody claimed within its window is stale news, not a
// trade to execute late. It implements the cron package's Job interface
// (Run/Name) so it can be registered on the same clock as the other
// periodic sweeps.
type ExpirySweeper struct {
	store Store
	ttl   time.Duration
}

// NewExpirySweeper builds a sweeper expiring PENDING signals older than ttl.
func NewExpirySweeper(store Store, ttl time.Duration) *ExpirySweeper {
	return &ExpirySweeper{store: store, ttl: ttl}
}

func (e *ExpirySweeper) Name() string { return "signal-expiry-sweep" }

func (e *ExpirySweeper) Run() error {
	n, err := e.store.SweepExpired(e.ttl, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("expired stale pending signals")
	}
	return nil
}
