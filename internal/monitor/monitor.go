// Package monitor runs three independent periodic tasks over the set of
// OPEN positions — re-pricing, local SL/TP triggering, and reconciliation
// against what the venue actually reports. Shaped after the scheduler's
// single-purpose-tick pattern, generalized from "poll a whale" to "poll
// this system's own open book".
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/exchange"
	"github.com/web3guy0/whalecopy/internal/ticker"
)

// reconcileGrace is how long a trade may sit in NEEDS_RECONCILIATION
// before its absence from the venue's reported positions is treated as a
// rejection rather than a still-settling fill.
const reconcileGrace = 2 * time.Minute

// Store is the slice of the store package the monitor needs.
type Store interface {
	ListOpenPositions() ([]domain.Position, error)
	UpdateMarkPrice(positionID uint64, currentPrice, unrealizedPnL decimal.Decimal) error
	ResolveCredentialHandle(userID uint64, venue domain.Venue) (string, error)

	TradesNeedingReconciliation() ([]domain.Trade, error)
	ConfirmTrade(tradeID uint64, execPrice, execQty decimal.Decimal, fee *decimal.Decimal, venueOrderID string, version int64, now time.Time) error
	RollbackTrade(tradeID uint64, userID uint64, reservedValue decimal.Decimal, errMsg string, version int64, now time.Time) error
}

// PositionCloser is the engine's close path — the monitor never calls a
// venue's order API directly.
type PositionCloser interface {
	ClosePosition(ctx context.Context, positionID uint64, reason domain.CloseReason) error
}

// Monitor wires the store, venue adapters and the engine's close path
// together.
type Monitor struct {
	store    Store
	adapters map[domain.Venue]exchange.Adapter
	creds    exchange.CredentialProvider
	closer   PositionCloser
	ticker   *ticker.Cache
}

func New(store Store, adapters map[domain.Venue]exchange.Adapter, creds exchange.CredentialProvider, closer PositionCloser) *Monitor {
	return &Monitor{store: store, adapters: adapters, creds: creds, closer: closer}
}

// WithTickerCache attaches a streaming price cache Reprice consults before
// falling back to a per-position REST call; nil disables it. Only
// Binance-market positions benefit, since the cache streams from the
// Binance combined-stream endpoint.
func (m *Monitor) WithTickerCache(c *ticker.Cache) *Monitor {
	m.ticker = c
	return m
}

// Reprice is the ≈10s task: refresh current_price and unrealized_pnl for
// every OPEN position.
func (m *Monitor) Reprice(ctx context.Context) error {
	positions, err := m.store.ListOpenPositions()
	if err != nil {
		return fmt.Errorf("listing open positions: %w", err)
	}
	for _, pos := range positions {
		adapter, ok := m.adapters[pos.Venue]
		if !ok {
			continue
		}

		price, fresh := decimal.Zero, false
		if m.ticker != nil && pos.Venue == domain.VenueBinance {
			price, fresh = m.ticker.Price(pos.Symbol)
		}
		if !fresh {
			var err error
			price, err = adapter.GetTicker(ctx, pos.Symbol, pos.Market)
			if err != nil {
				log.Warn().Err(err).Uint64("position_id", pos.ID).Msg("fetching ticker for reprice")
				continue
			}
		}

		sign := decimal.NewFromInt(1)
		if pos.Side == domain.SideShort {
			sign = decimal.NewFromInt(-1)
		}
		unrealized := price.Sub(pos.EntryPrice).Mul(pos.Quantity).Mul(sign).Mul(decimal.NewFromInt(int64(pos.Leverage)))

		if err := m.store.UpdateMarkPrice(pos.ID, price, unrealized); err != nil {
			log.Error().Err(err).Uint64("position_id", pos.ID).Msg("updating mark price")
		}
	}
	return nil
}

// TriggerStopLossTakeProfit is the ≈10s task: for positions the adapter
// never accepted a remote stop for (no stop_loss_order_id /
// take_profit_order_id), evaluate the trigger locally against the last
// known current_price and dispatch a close through the engine.
func (m *Monitor) TriggerStopLossTakeProfit(ctx context.Context) error {
	positions, err := m.store.ListOpenPositions()
	if err != nil {
		return fmt.Errorf("listing open positions: %w", err)
	}
	for _, pos := range positions {
		if pos.CurrentPrice == nil {
			continue
		}
		price := *pos.CurrentPrice

		if pos.StopLossOrderID == "" && pos.StopLossPrice != nil {
			if stopLossHit(pos.Side, price, *pos.StopLossPrice) {
				m.dispatchClose(ctx, pos.ID, domain.CloseStopLoss)
				continue
			}
		}
		if pos.TakeProfitOrderID == "" && pos.TakeProfitPrice != nil {
			if takeProfitHit(pos.Side, price, *pos.TakeProfitPrice) {
				m.dispatchClose(ctx, pos.ID, domain.CloseTakeProfit)
			}
		}
	}
	return nil
}

func stopLossHit(side domain.Side, price, stop decimal.Decimal) bool {
	if side == domain.SideShort {
		return price.GreaterThanOrEqual(stop)
	}
	return price.LessThanOrEqual(stop)
}

func takeProfitHit(side domain.Side, price, target decimal.Decimal) bool {
	if side == domain.SideShort {
		return price.LessThanOrEqual(target)
	}
	return price.GreaterThanOrEqual(target)
}

func (m *Monitor) dispatchClose(ctx context.Context, positionID uint64, reason domain.CloseReason) {
	if err := m.closer.ClosePosition(ctx, positionID, reason); err != nil {
		log.Warn().Err(err).Uint64("position_id", positionID).Str("reason", string(reason)).Msg("dispatching triggered close")
	}
}

// RepriceJob, SLTPJob and ReconcileJob adapt Monitor's three passes to the
// cron package's Run/Name Job contract, each owning its own background
// context since a cron tick carries none.
type RepriceJob struct{ M *Monitor }
type SLTPJob struct{ M *Monitor }
type ReconcileJob struct{ M *Monitor }

func (j RepriceJob) Name() string   { return "monitor-reprice" }
func (j RepriceJob) Run() error     { return j.M.Reprice(context.Background()) }
func (j SLTPJob) Name() string      { return "monitor-local-sltp" }
func (j SLTPJob) Run() error        { return j.M.TriggerStopLossTakeProfit(context.Background()) }
func (j ReconcileJob) Name() string { return "monitor-reconcile" }
func (j ReconcileJob) Run() error   { return j.M.Reconcile(context.Background()) }
