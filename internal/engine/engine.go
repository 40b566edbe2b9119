// Package engine is the copy-trade dispatcher: claims a PENDING signal,
// enumerates its eligible followers, and runs each follower's
// two-phase-commit execution against a resilience-wrapped venue
// adapter, fanning out from one signal to many followers across many
// venues.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/cache"
	"github.com/web3guy0/whalecopy/internal/config"
	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/events"
	"github.com/web3guy0/whalecopy/internal/exchange"
	"github.com/web3guy0/whalecopy/internal/risk"
)

// softLimit/hardLimit are the whole-signal processing bounds: past the
// soft limit the dispatcher stops enrolling new followers; the hard limit
// is a deadline on the context ProcessSignal runs followers under, and a
// venue call cut off by it is just another follower-level failure.
const (
	softLimit = 9 * time.Minute
	hardLimit = 10 * time.Minute

	idempotencyOp  = "process_signal"
	idempotencyTTL = 10 * time.Minute
)

// Store is the slice of the store package the dispatcher needs.
type Store interface {
	GetSignal(signalID uint64) (domain.Signal, error)
	ClaimPending(signalID uint64, now time.Time) (domain.Signal, error)
	FinishSignal(signalID uint64, status domain.SignalStatus, tradesExecuted int, errMsg string, now time.Time) error

	ActiveFollowersOfWhale(whaleID uint64) ([]domain.WhaleFollow, error)
	ListOpenPositionsForWhale(whaleID uint64) ([]domain.Position, error)

	GetUser(userID uint64) (domain.User, error)
	GetUserSettings(userID uint64) (domain.UserSettings, error)
	ResolveCredentialHandle(userID uint64, venue domain.Venue) (string, error)

	LockUserForUpdate(userID uint64, fn func(tx *gorm.DB, user domain.User) error) error
	CreatePendingTrade(tx *gorm.DB, userID uint64, t domain.Trade) (domain.Trade, error)
	ConfirmTrade(tradeID uint64, execPrice, execQty decimal.Decimal, fee *decimal.Decimal, venueOrderID string, version int64, now time.Time) error
	RollbackTrade(tradeID uint64, userID uint64, reservedValue decimal.Decimal, errMsg string, version int64, now time.Time) error
	MarkNeedsReconciliation(tradeID uint64, errMsg string, version int64) error
	MarkExecuting(tradeID uint64, version int64, now time.Time) error

	GetOpenPosition(userID uint64, venue domain.Venue, market domain.Market, symbol string) (domain.Position, error)
	GetPosition(positionID uint64) (domain.Position, error)
	OpenPosition(tx *gorm.DB, p domain.Position) (domain.Position, error)
	ClosePosition(tx *gorm.DB, userID uint64, positionID uint64, exitTradeID uint64, exitPrice, realizedPnL, returnedNotional decimal.Decimal, reason domain.CloseReason, status domain.PositionStatus, version int64, now time.Time) error

	WithTx(fn func(tx *gorm.DB) error) error
}

// Risk is the gatekeeper Dispatcher calls before every reservation.
type Risk interface {
	Check(req risk.Request) (risk.Result, error)
}

// Idempotency is the slice of the cache package's keyspace the
// dispatcher uses to make signal claiming safe against duplicate workers.
type Idempotency interface {
	Acquire(ctx context.Context, operation string, entityID interface{}, actor string, ttl time.Duration) (cache.AcquireResult, error)
	MarkCompleted(ctx context.Context, operation string, entityID interface{}, actor string, ttl time.Duration) error
	Release(ctx context.Context, operation string, entityID interface{}, actor string) error
}

// Dispatcher wires the store, risk manager, venue adapters, credential
// provider and event bus together for the dispatch contract.
type Dispatcher struct {
	cfg      *config.Config
	store    Store
	idem     Idempotency
	risk     Risk
	adapters map[domain.Venue]exchange.Adapter
	creds    exchange.CredentialProvider
	bus      *events.Bus
}

// New builds a Dispatcher. adapters must be keyed by the venue each one
// serves, already wrapped by the resilience package.
func New(cfg *config.Config, store Store, idem Idempotency, riskMgr Risk, adapters map[domain.Venue]exchange.Adapter, creds exchange.CredentialProvider, bus *events.Bus) *Dispatcher {
	return &Dispatcher{cfg: cfg, store: store, idem: idem, risk: riskMgr, adapters: adapters, creds: creds, bus: bus}
}

// ProcessSignal runs the full dispatch for one PENDING signal: claim,
// enumerate followers, execute each one, finish, publish, mark the
// idempotency token completed.
func (d *Dispatcher) ProcessSignal(ctx context.Context, signalID uint64) error {
	acq, err := d.idem.Acquire(ctx, idempotencyOp, signalID, "", idempotencyTTL)
	if err != nil {
		return fmt.Errorf("acquiring idempotency token: %w", err)
	}
	if acq.AlreadyCompleted {
		return nil
	}
	if !acq.Acquired {
		return nil
	}

	start := time.Now()
	sig, err := d.store.ClaimPending(signalID, start)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("claiming signal %d: %w", signalID, err)
	}

	followers, err := d.enumerateFollowers(sig)
	if err != nil {
		_ = d.store.FinishSignal(sig.ID, domain.SignalFailed, 0, err.Error(), time.Now())
		d.bus.Publish(events.Event{Type: events.SignalFailed, Payload: events.SignalProcessedPayload{SignalID: sig.ID, WhaleID: sig.WhaleID, Error: err.Error()}})
		_ = d.idem.MarkCompleted(ctx, idempotencyOp, signalID, "", idempotencyTTL)
		return nil
	}

	executed := 0
	var lastErr string
	execCtx, cancel := context.WithTimeout(ctx, hardLimit)
	defer cancel()
	for _, f := range followers {
		if time.Since(start) > softLimit {
			log.Warn().Uint64("signal_id", sig.ID).Msg("soft time limit reached, stopping follower enrollment")
			break
		}
		if err := d.executeFollower(execCtx, sig, f); err != nil {
			lastErr = err.Error()
			log.Warn().Err(err).Uint64("signal_id", sig.ID).Uint64("user_id", f.UserID).Msg("follower execution did not produce a trade")
			continue
		}
		executed++
	}

	status := domain.SignalProcessed
	if executed == 0 && len(followers) > 0 {
		status = domain.SignalFailed
	}
	if err := d.store.FinishSignal(sig.ID, status, executed, lastErr, time.Now()); err != nil {
		log.Error().Err(err).Uint64("signal_id", sig.ID).Msg("finishing signal")
	}

	d.bus.Publish(events.Event{Type: events.SignalProcessed, Payload: events.SignalProcessedPayload{
		SignalID: sig.ID, WhaleID: sig.WhaleID, TradesExecuted: executed, Error: lastErr,
	}})

	if err := d.idem.MarkCompleted(ctx, idempotencyOp, signalID, "", idempotencyTTL); err != nil {
		log.Error().Err(err).Uint64("signal_id", sig.ID).Msg("marking idempotency token completed")
	}
	return nil
}

// enumerateFollowers: opening signals fan out to active auto-copy
// followers; closing signals are restricted to followers who currently
// hold a position this whale opened for them.
func (d *Dispatcher) enumerateFollowers(sig domain.Signal) ([]domain.WhaleFollow, error) {
	all, err := d.store.ActiveFollowersOfWhale(sig.WhaleID)
	if err != nil {
		return nil, fmt.Errorf("loading active followers: %w", err)
	}

	if !sig.IsClose {
		eligible := make([]domain.WhaleFollow, 0, len(all))
		for _, f := range all {
			if f.AutoCopyEnabled {
				eligible = append(eligible, f)
			}
		}
		return eligible, nil
	}

	openPositions, err := d.store.ListOpenPositionsForWhale(sig.WhaleID)
	if err != nil {
		return nil, fmt.Errorf("loading open positions for whale: %w", err)
	}
	holders := make(map[uint64]bool, len(openPositions))
	for _, p := range openPositions {
		if p.Symbol == sig.Symbol {
			holders[p.UserID] = true
		}
	}

	eligible := make([]domain.WhaleFollow, 0, len(all))
	for _, f := range all {
		if !holders[f.UserID] {
			continue
		}
		settings, err := d.store.GetUserSettings(f.UserID)
		if err != nil {
			continue
		}
		if settings.AutoCloseOnWhaleExit {
			eligible = append(eligible, f)
		}
	}
	return eligible, nil
}
