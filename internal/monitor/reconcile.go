package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// accountKey groups OPEN positions sharing one venue call: one
// GetAccountPositions round trip per (user, venue, market), not one per
// position.
type accountKey struct {
	userID uint64
	venue  domain.Venue
	market domain.Market
}

// Reconcile is the ≈30s task: positions the venue no longer reports get
// closed out locally, and trades stuck in NEEDS_RECONCILIATION get
// resolved one way or the other.
func (m *Monitor) Reconcile(ctx context.Context) error {
	if err := m.reconcilePositions(ctx); err != nil {
		log.Error().Err(err).Msg("reconciling positions against venue")
	}
	if err := m.reconcileTrades(ctx); err != nil {
		log.Error().Err(err).Msg("reconciling needs-reconciliation trades")
	}
	return nil
}

func (m *Monitor) reconcilePositions(ctx context.Context) error {
	positions, err := m.store.ListOpenPositions()
	if err != nil {
		return fmt.Errorf("listing open positions: %w", err)
	}

	byAccount := map[accountKey][]domain.Position{}
	for _, pos := range positions {
		if pos.Market == domain.MarketSpot {
			continue // SPOT has no venue-side position concept to reconcile against
		}
		key := accountKey{userID: pos.UserID, venue: pos.Venue, market: pos.Market}
		byAccount[key] = append(byAccount[key], pos)
	}

	for key, group := range byAccount {
		venueSamples, err := m.fetchAccountPositions(ctx, key)
		if err != nil {
			log.Warn().Err(err).Uint64("user_id", key.userID).Str("venue", string(key.venue)).Msg("fetching account positions for reconciliation")
			continue
		}
		held := make(map[string]bool, len(venueSamples))
		for _, s := range venueSamples {
			held[s.Symbol] = true
		}

		for _, pos := range group {
			if held[pos.Symbol] {
				continue
			}
			m.closeExternally(pos)
		}
	}
	return nil
}

func (m *Monitor) fetchAccountPositions(ctx context.Context, key accountKey) ([]domain.PositionSample, error) {
	adapter, ok := m.adapters[key.venue]
	if !ok {
		return nil, fmt.Errorf("no adapter configured for venue %s", key.venue)
	}
	handle, err := m.store.ResolveCredentialHandle(key.userID, key.venue)
	if err != nil {
		return nil, fmt.Errorf("resolving credential handle: %w", err)
	}
	creds, err := m.creds.Resolve(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("resolving credentials: %w", err)
	}
	return adapter.GetAccountPositions(ctx, creds, key.market)
}

// closeExternally dispatches a close for a position the venue no longer
// reports. There is nothing left to place an order against, so this goes
// through the same engine close path with the position's own
// current_price standing in for the exit fill the venue never reported.
func (m *Monitor) closeExternally(pos domain.Position) {
	if err := m.closer.ClosePosition(context.Background(), pos.ID, domain.CloseReconciliationExternal); err != nil {
		log.Warn().Err(err).Uint64("position_id", pos.ID).Msg("reconciling externally-closed position")
	}
}

func (m *Monitor) reconcileTrades(ctx context.Context) error {
	trades, err := m.store.TradesNeedingReconciliation()
	if err != nil {
		return fmt.Errorf("listing trades needing reconciliation: %w", err)
	}

	for _, t := range trades {
		if time.Since(t.CreatedAt) < reconcileGrace {
			continue // still within the venue's normal settlement window
		}
		m.reconcileTrade(ctx, t)
	}
	return nil
}

// reconcileTrade decides a stuck trade's fate by checking whether a
// position matching it now exists on the venue: present means the order
// filled after all, so Phase 2 completes; absent past the grace period
// means it never filled, so Phase 2 rolls back.
func (m *Monitor) reconcileTrade(ctx context.Context, t domain.Trade) {
	adapter, ok := m.adapters[t.Venue]
	if !ok {
		return
	}
	handle, err := m.store.ResolveCredentialHandle(t.UserID, t.Venue)
	if err != nil {
		log.Warn().Err(err).Uint64("trade_id", t.ID).Msg("resolving credential handle for reconciliation")
		return
	}
	creds, err := m.creds.Resolve(ctx, handle)
	if err != nil {
		log.Warn().Err(err).Uint64("trade_id", t.ID).Msg("resolving credentials for reconciliation")
		return
	}

	samples, err := adapter.GetAccountPositions(ctx, creds, t.Market)
	if err != nil {
		log.Warn().Err(err).Uint64("trade_id", t.ID).Msg("fetching account positions for trade reconciliation")
		return
	}

	if found := matchingSample(samples, t); found != nil {
		m.confirmStuckTrade(t, *found)
		return
	}
	m.rollbackStuckTrade(t)
}

func matchingSample(samples []domain.PositionSample, t domain.Trade) *domain.PositionSample {
	for _, s := range samples {
		if s.Symbol == t.Symbol {
			return &s
		}
	}
	return nil
}

func (m *Monitor) confirmStuckTrade(t domain.Trade, sample domain.PositionSample) {
	if err := m.store.ConfirmTrade(t.ID, sample.EntryPrice, sample.Quantity, nil, "", t.Version, time.Now()); err != nil {
		log.Error().Err(err).Uint64("trade_id", t.ID).Msg("confirming reconciled trade")
	}
}

func (m *Monitor) rollbackStuckTrade(t domain.Trade) {
	if err := m.store.RollbackTrade(t.ID, t.UserID, t.TradeValueUSDT, "reconciliation: not found on venue past grace period", t.Version, time.Now()); err != nil {
		log.Error().Err(err).Uint64("trade_id", t.ID).Msg("rolling back reconciled trade")
	}
}
