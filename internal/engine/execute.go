package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/events"
	"github.com/web3guy0/whalecopy/internal/exchange"
	"github.com/web3guy0/whalecopy/internal/risk"
)

// ErrRiskRejected wraps a risk manager rejection reason: not a failure
// of the dispatcher, just a follower the risk gate declined.
var ErrRiskRejected = errors.New("risk check rejected follower")

// clientOrderID is derived from (signal, follower, venue) rather than the
// not-yet-assigned trade id, so it can be attached at Phase 1 creation time;
// the trade row stores it under a unique index. It is not sent to the
// venue, and the reconciler does not look trades up by it: reconciliation
// matches a stuck trade to the venue's open positions by symbol.
func clientOrderID(sig domain.Signal, userID uint64, venue domain.Venue) string {
	return fmt.Sprintf("wc-%d-%d-%s", sig.ID, userID, venue)
}

// executeFollower runs one follower's two-phase commit. A non-nil error
// means the follower's copy did not complete: no trade was recorded, the
// trade failed and was rolled back, it was parked in NEEDS_RECONCILIATION
// after an ambiguous venue answer, or a store write after the fill failed;
// the caller logs it and moves on to the next follower.
func (d *Dispatcher) executeFollower(ctx context.Context, sig domain.Signal, follow domain.WhaleFollow) error {
	settings, err := d.store.GetUserSettings(follow.UserID)
	if err != nil {
		return fmt.Errorf("loading user settings: %w", err)
	}

	venue := settings.PreferredVenue
	market := sig.Market
	if settings.TradingMode == domain.ModeSpot {
		market = domain.MarketSpot
	}

	adapter, ok := d.adapters[venue]
	if !ok {
		return fmt.Errorf("no adapter configured for venue %s", venue)
	}

	handle, err := d.store.ResolveCredentialHandle(follow.UserID, venue)
	if err != nil {
		return fmt.Errorf("resolving credential handle: %w", err)
	}
	creds, err := d.creds.Resolve(ctx, handle)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	if sig.IsClose {
		return d.closeFollower(ctx, sig, follow, settings, venue, market, adapter, creds)
	}
	return d.openFollower(ctx, sig, follow, settings, venue, market, adapter, creds)
}

func (d *Dispatcher) openFollower(ctx context.Context, sig domain.Signal, follow domain.WhaleFollow, settings domain.UserSettings, venue domain.Venue, market domain.Market, adapter exchange.Adapter, creds exchange.Credentials) error {
	price, err := adapter.GetTicker(ctx, sig.Symbol, market)
	if err != nil || price.IsZero() {
		return fmt.Errorf("fetching ticker for sizing: %w", err)
	}

	var created domain.Trade
	var riskResult risk.Result
	err = d.store.LockUserForUpdate(follow.UserID, func(tx *gorm.DB, user domain.User) error {
		sizeUSDT := risk.ComputeTradeSize(follow, settings, user.AvailableBalance)
		venueCap := d.cfg.VenueMaxLeverageOf(venue)
		leverage := risk.ComputeLeverage(follow, sig, settings, venueCap, market)

		result, err := d.risk.Check(risk.Request{
			User: user, Settings: settings, Tier: user.SubscriptionTier,
			Venue: venue, Market: market, RequestedSizeUSDT: sizeUSDT, Leverage: leverage,
		})
		if err != nil {
			return fmt.Errorf("running risk check: %w", err)
		}
		if !result.Allowed {
			return fmt.Errorf("%w: %s", ErrRiskRejected, result.Reason)
		}
		riskResult = result

		quantity := result.AdjustedSizeUSDT.Mul(decimal.NewFromInt(int64(result.Leverage))).Div(price)
		t, err := d.store.CreatePendingTrade(tx, follow.UserID, domain.Trade{
			SignalID: &sig.ID, WhaleID: &sig.WhaleID, Venue: venue, Market: market,
			Symbol: sig.Symbol, Side: sig.Action, OrderType: domain.OrderTypeMarket,
			RequestedQuantity: quantity, TradeValueUSDT: result.AdjustedSizeUSDT, Leverage: &result.Leverage,
			ClientOrderID: clientOrderID(sig, follow.UserID, venue),
		})
		if err != nil {
			return fmt.Errorf("creating pending trade: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRiskRejected) {
			log.Info().Uint64("user_id", follow.UserID).Uint64("signal_id", sig.ID).Msg(err.Error())
		}
		return err
	}

	now := time.Now()
	if err := d.store.MarkExecuting(created.ID, created.Version, now); err != nil {
		return fmt.Errorf("marking trade executing: %w", err)
	}
	execVersion := created.Version + 1

	if market != domain.MarketSpot {
		if err := adapter.SetLeverage(ctx, creds, sig.Symbol, riskResult.Leverage, market); err != nil {
			return d.rollback(created, follow.UserID, execVersion, now, err)
		}
	}

	var result struct {
		VenueOrderID string
		Price, Qty   decimal.Decimal
		Fee          *decimal.Decimal
	}
	var execErr error
	if market == domain.MarketSpot {
		r, err := adapter.PlaceSpotMarket(ctx, creds, sig.Symbol, sig.Action, created.RequestedQuantity)
		result.VenueOrderID, result.Price, result.Qty, result.Fee = r.VenueOrderID, r.FilledPrice, r.FilledQuantity, r.Fee
		execErr = err
	} else {
		r, err := adapter.PlaceFuturesMarket(ctx, creds, sig.Symbol, sig.Action, created.RequestedQuantity, market)
		result.VenueOrderID, result.Price, result.Qty, result.Fee = r.VenueOrderID, r.FilledPrice, r.FilledQuantity, r.Fee
		execErr = err
	}

	switch classify(execErr) {
	case outcomeFailure:
		return d.rollback(created, follow.UserID, execVersion, now, execErr)
	case outcomeAmbiguous:
		if err := d.store.MarkNeedsReconciliation(created.ID, execErr.Error(), execVersion); err != nil {
			log.Error().Err(err).Uint64("trade_id", created.ID).Msg("marking needs reconciliation")
		}
		return fmt.Errorf("ambiguous outcome placing order: %w", execErr)
	}
	if result.Qty.IsZero() {
		result.Qty = created.RequestedQuantity
	}
	if result.Price.IsZero() {
		result.Price = price
	}

	if err := d.store.ConfirmTrade(created.ID, result.Price, result.Qty, result.Fee, result.VenueOrderID, execVersion, time.Now()); err != nil {
		log.Error().Err(err).Uint64("trade_id", created.ID).Msg("confirming trade")
		return err
	}

	posSide := domain.SideLong
	if sig.Action == domain.SideSell && market != domain.MarketSpot {
		posSide = domain.SideShort
	}
	err = d.store.WithTx(func(tx *gorm.DB) error {
		_, err := d.store.OpenPosition(tx, domain.Position{
			UserID: follow.UserID, WhaleID: &sig.WhaleID, EntryTradeID: created.ID,
			Venue: venue, Market: market, Symbol: sig.Symbol, Side: posSide,
			Leverage: riskResult.Leverage, EntryPrice: result.Price, Quantity: result.Qty,
		})
		return err
	})
	if err != nil {
		log.Error().Err(err).Uint64("trade_id", created.ID).Msg("opening position after fill")
		return err
	}

	d.bus.Publish(events.Event{Type: events.TradeExecuted, Payload: events.TradeExecutedPayload{
		TradeID: created.ID, UserID: follow.UserID, VenueOrderID: result.VenueOrderID, ExecutedQty: result.Qty.String(),
	}})
	d.bus.Publish(events.Event{Type: events.PositionOpened, Payload: events.PositionPayload{
		UserID: follow.UserID, Symbol: sig.Symbol,
	}})
	return nil
}

func (d *Dispatcher) closeFollower(ctx context.Context, sig domain.Signal, follow domain.WhaleFollow, settings domain.UserSettings, venue domain.Venue, market domain.Market, adapter exchange.Adapter, creds exchange.Credentials) error {
	pos, err := d.store.GetOpenPosition(follow.UserID, venue, market, sig.Symbol)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("loading open position: %w", err)
	}
	return d.closePosition(ctx, pos, venue, market, adapter, creds, domain.CloseWhaleExit, &sig.ID)
}

// ClosePosition runs the same two-phase-commit close used for whale-exit
// mirroring, but for a position identified directly rather than through a
// Signal — the entry point the monitor uses for local SL/TP triggers
// and external reconciliation closes.
func (d *Dispatcher) ClosePosition(ctx context.Context, positionID uint64, reason domain.CloseReason) error {
	pos, err := d.store.GetPosition(positionID)
	if err != nil {
		return fmt.Errorf("loading position %d: %w", positionID, err)
	}
	if pos.Status != domain.PositionOpen {
		return nil
	}

	adapter, ok := d.adapters[pos.Venue]
	if !ok {
		return fmt.Errorf("no adapter configured for venue %s", pos.Venue)
	}
	handle, err := d.store.ResolveCredentialHandle(pos.UserID, pos.Venue)
	if err != nil {
		return fmt.Errorf("resolving credential handle: %w", err)
	}
	creds, err := d.creds.Resolve(ctx, handle)
	if err != nil {
		return fmt.Errorf("resolving credentials: %w", err)
	}

	return d.closePosition(ctx, pos, pos.Venue, pos.Market, adapter, creds, reason, nil)
}

// closePosition is the shared Phase-1/Phase-2 close path: create the
// pending exit trade, place it, and on a clean fill credit the user and
// mark the position CLOSED.
func (d *Dispatcher) closePosition(ctx context.Context, pos domain.Position, venue domain.Venue, market domain.Market, adapter exchange.Adapter, creds exchange.Credentials, reason domain.CloseReason, signalID *uint64) error {
	closeSide := domain.SideSell
	if pos.Side == domain.SideShort {
		closeSide = domain.SideBuy
	}

	var created domain.Trade
	err := d.store.LockUserForUpdate(pos.UserID, func(tx *gorm.DB, user domain.User) error {
		leverage := pos.Leverage
		t, err := d.store.CreatePendingTrade(tx, pos.UserID, domain.Trade{
			SignalID: signalID, WhaleID: pos.WhaleID, Venue: venue, Market: market,
			Symbol: pos.Symbol, Side: closeSide, OrderType: domain.OrderTypeMarket,
			RequestedQuantity: pos.Quantity, TradeValueUSDT: decimal.Zero, Leverage: &leverage,
			ClientOrderID: positionCloseOrderID(pos, venue),
		})
		if err != nil {
			return fmt.Errorf("creating pending close trade: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return err
	}

	now := time.Now()
	if err := d.store.MarkExecuting(created.ID, created.Version, now); err != nil {
		return fmt.Errorf("marking close trade executing: %w", err)
	}
	execVersion := created.Version + 1

	qty := pos.Quantity
	var r struct {
		VenueOrderID string
		Price        decimal.Decimal
		Fee          *decimal.Decimal
	}
	var execErr error
	if reason == domain.CloseReconciliationExternal {
		// The venue no longer reports this position, so there is nothing
		// left to place an order against: synthesize the fill from the
		// last known price rather than calling the venue at all.
		r.Price = pos.EntryPrice
		if pos.CurrentPrice != nil {
			r.Price = *pos.CurrentPrice
		}
	} else if market == domain.MarketSpot {
		res, err := adapter.PlaceSpotMarket(ctx, creds, pos.Symbol, closeSide, qty)
		r.VenueOrderID, r.Price, r.Fee = res.VenueOrderID, res.FilledPrice, res.Fee
		execErr = err
	} else {
		res, err := adapter.CloseFuturesPosition(ctx, creds, pos.Symbol, pos.Side, &qty, market)
		r.VenueOrderID, r.Price, r.Fee = res.VenueOrderID, res.FilledPrice, res.Fee
		execErr = err
	}

	switch classify(execErr) {
	case outcomeFailure:
		return d.rollback(created, pos.UserID, execVersion, now, execErr)
	case outcomeAmbiguous:
		if err := d.store.MarkNeedsReconciliation(created.ID, execErr.Error(), execVersion); err != nil {
			log.Error().Err(err).Uint64("trade_id", created.ID).Msg("marking needs reconciliation")
		}
		return fmt.Errorf("ambiguous outcome closing position: %w", execErr)
	}

	sign := decimal.NewFromInt(1)
	if pos.Side == domain.SideShort {
		sign = decimal.NewFromInt(-1)
	}
	realizedPnL := r.Price.Sub(pos.EntryPrice).Mul(qty).Mul(sign).Mul(decimal.NewFromInt(int64(pos.Leverage)))
	marginUsed := pos.EntryPrice.Mul(pos.Quantity).Div(decimal.NewFromInt(int64(pos.Leverage)))

	if err := d.store.ConfirmTrade(created.ID, r.Price, qty, r.Fee, r.VenueOrderID, execVersion, time.Now()); err != nil {
		log.Error().Err(err).Uint64("trade_id", created.ID).Msg("confirming close trade")
		return err
	}

	status := domain.PositionClosed
	if reason == domain.CloseLiquidation {
		status = domain.PositionLiquidated
	}
	err = d.store.WithTx(func(tx *gorm.DB) error {
		return d.store.ClosePosition(tx, pos.UserID, pos.ID, created.ID, r.Price, realizedPnL, marginUsed,
			reason, status, pos.Version, time.Now())
	})
	if err != nil {
		log.Error().Err(err).Uint64("position_id", pos.ID).Msg("closing position after fill")
		return err
	}

	d.bus.Publish(events.Event{Type: events.TradeExecuted, Payload: events.TradeExecutedPayload{
		TradeID: created.ID, UserID: pos.UserID, VenueOrderID: r.VenueOrderID, ExecutedQty: qty.String(),
	}})
	d.bus.Publish(events.Event{Type: events.PositionClosed, Payload: events.PositionPayload{
		PositionID: pos.ID, UserID: pos.UserID, Symbol: pos.Symbol, RealizedPnL: realizedPnL.String(), CloseReason: string(reason),
	}})
	return nil
}

// positionCloseOrderID is derived from (position.id, venue) rather than
// the not-yet-assigned exit trade id, mirroring clientOrderID's rationale
// for entry trades.
func positionCloseOrderID(pos domain.Position, venue domain.Venue) string {
	return fmt.Sprintf("wc-close-%d-%s", pos.ID, venue)
}

func (d *Dispatcher) rollback(trade domain.Trade, userID uint64, version int64, now time.Time, cause error) error {
	if err := d.store.RollbackTrade(trade.ID, userID, trade.TradeValueUSDT, cause.Error(), version, now); err != nil {
		log.Error().Err(err).Uint64("trade_id", trade.ID).Msg("rolling back trade")
	}
	d.bus.Publish(events.Event{Type: events.TradeFailed, Payload: events.TradeExecutedPayload{
		TradeID: trade.ID, UserID: userID, Error: cause.Error(),
	}})
	return fmt.Errorf("venue rejected order: %w", cause)
}

type execOutcome int

const (
	outcomeSuccess execOutcome = iota
	outcomeFailure
	outcomeAmbiguous
)

// classify sorts an exchange call's error into the three phase-2
// branches: nil is success, a venue-side terminal error or an open
// circuit is a clean failure (nothing was placed), anything else —
// timeouts, exhausted retries — is ambiguous and goes to the reconciler.
func classify(err error) execOutcome {
	if err == nil {
		return outcomeSuccess
	}
	if domain.IsTerminal(err) || errors.Is(err, domain.ErrCircuitOpen) {
		return outcomeFailure
	}
	return outcomeAmbiguous
}
