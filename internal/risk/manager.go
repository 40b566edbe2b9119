// Package risk is the copy-trade engine's gatekeeper: no trade happens
// without its approval. Check is a pure function of its inputs plus two
// read-only store lookups (today's realized loss, open position count);
// it holds no state of its own, a single authoritative decision point
// ahead of order placement.
package risk

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/config"
	"github.com/web3guy0/whalecopy/internal/domain"
)

// Store is the read-only slice of the store package Check needs.
type Store interface {
	TodayRealizedLoss(userID uint64, dayStart time.Time) (decimal.Decimal, error)
	CountOpenPositions(userID uint64) (int64, error)
}

// Manager evaluates every follower's trade against the risk checklist
// before the engine is allowed to place it.
type Manager struct {
	cfg   *config.Config
	store Store
}

// New builds a Manager backed by cfg's limits and store's daily-loss /
// open-position lookups.
func New(cfg *config.Config, store Store) *Manager {
	return &Manager{cfg: cfg, store: store}
}

// Request is everything Check needs about one follower's prospective
// trade, gathered by the engine before calling in.
type Request struct {
	User     domain.User
	Settings domain.UserSettings
	Tier     domain.SubscriptionTier
	Venue    domain.Venue
	Market   domain.Market

	RequestedSizeUSDT decimal.Decimal
	Leverage          int
}

// Result is the risk decision: allowed or not, the adjusted size and
// leverage to actually use, and any non-fatal warnings picked up along
// the way (e.g. the balance-shortfall auto-adjust).
type Result struct {
	Allowed          bool
	AdjustedSizeUSDT decimal.Decimal
	Leverage         int
	Warnings         []string
	Reason           string
}

func rejected(reason string) Result {
	return Result{Allowed: false, Reason: reason}
}

// Check runs the full risk checklist in the documented order; the first
// failing step rejects and every later step is skipped.
func (m *Manager) Check(req Request) (Result, error) {
	if !req.User.IsActive || req.User.IsBanned {
		return rejected("user is inactive or banned"), nil
	}

	if req.User.AvailableBalance.LessThan(m.cfg.MinTradingBalance) {
		return rejected(fmt.Sprintf("available balance %s below minimum trading balance %s",
			req.User.AvailableBalance, m.cfg.MinTradingBalance)), nil
	}

	if req.RequestedSizeUSDT.LessThan(m.cfg.MinTradeSize) {
		return rejected(fmt.Sprintf("requested size %s below minimum trade size %s",
			req.RequestedSizeUSDT, m.cfg.MinTradeSize)), nil
	}

	if req.Market != domain.MarketSpot {
		limits := m.cfg.TierLimits[req.Tier]
		if !limits.FuturesAllowed {
			return rejected(fmt.Sprintf("tier %s does not permit futures trading", req.Tier)), nil
		}
	}

	var warnings []string
	adjustedSize := req.RequestedSizeUSDT
	if req.User.AvailableBalance.LessThan(req.RequestedSizeUSDT) {
		adjustedSize = req.User.AvailableBalance.Mul(decimal.NewFromFloat(0.80))
		if adjustedSize.LessThan(m.cfg.MinTradeSize) {
			return rejected(fmt.Sprintf("balance-adjusted size %s below minimum trade size %s",
				adjustedSize, m.cfg.MinTradeSize)), nil
		}
		warnings = append(warnings, fmt.Sprintf("requested size %s exceeds available balance, reduced to %s",
			req.RequestedSizeUSDT, adjustedSize))
	}

	if req.Settings.MaxTradeSizeUSDT != nil && adjustedSize.GreaterThan(*req.Settings.MaxTradeSizeUSDT) {
		adjustedSize = *req.Settings.MaxTradeSizeUSDT
		warnings = append(warnings, fmt.Sprintf("clamped to user's max trade size %s", adjustedSize))
	}

	dayStart := time.Now().Truncate(24 * time.Hour)
	todayLoss, err := m.store.TodayRealizedLoss(req.User.ID, dayStart)
	if err != nil {
		return Result{}, fmt.Errorf("computing today's realized loss: %w", err)
	}
	if todayLoss.GreaterThanOrEqual(req.Settings.DailyLossLimitUSDT) {
		return rejected(fmt.Sprintf("today's realized loss %s has met the daily loss limit %s",
			todayLoss, req.Settings.DailyLossLimitUSDT)), nil
	}

	openCount, err := m.store.CountOpenPositions(req.User.ID)
	if err != nil {
		return Result{}, fmt.Errorf("counting open positions: %w", err)
	}
	limits := m.cfg.TierLimits[req.Tier]
	if limits.MaxOpenPositions > 0 && openCount >= int64(limits.MaxOpenPositions) {
		return rejected(fmt.Sprintf("open position count %d has met tier limit %d", openCount, limits.MaxOpenPositions)), nil
	}

	leverage := req.Leverage
	if req.Market == domain.MarketSpot {
		leverage = 1
	} else {
		leverage = clampInt(leverage, 1, req.Settings.MaxLeverage)
		leverage = clampInt(leverage, 1, m.cfg.VenueMaxLeverageOf(req.Venue))
	}

	minNotional := m.cfg.MinNotional(req.Venue, req.Market)
	notional := adjustedSize.Mul(decimal.NewFromInt(int64(leverage)))
	if notional.LessThan(minNotional) {
		buffered := minNotional.Mul(decimal.NewFromFloat(1.20))
		tenPctOfBalance := req.User.AvailableBalance.Mul(decimal.NewFromFloat(0.10))
		if buffered.GreaterThan(tenPctOfBalance) {
			return rejected(fmt.Sprintf("notional %s below minimum %s and the 1.20x buffer exceeds 10%% of balance", notional, minNotional)), nil
		}
		bumped := buffered.Div(decimal.NewFromInt(int64(leverage)))
		warnings = append(warnings, fmt.Sprintf("bumped size from %s to %s to clear the venue minimum notional", adjustedSize, bumped))
		adjustedSize = bumped
	}

	log.Debug().
		Uint64("user_id", req.User.ID).
		Str("venue", string(req.Venue)).
		Str("adjusted_size", adjustedSize.String()).
		Int("leverage", leverage).
		Msg("risk check passed")

	return Result{
		Allowed:          true,
		AdjustedSizeUSDT: adjustedSize,
		Leverage:         leverage,
		Warnings:         warnings,
	}, nil
}

func clampInt(v, min, max int) int {
	if max > 0 && v > max {
		v = max
	}
	if v < min {
		v = min
	}
	return v
}

// ComputeTradeSize resolves the sizing precedence, strictly in order:
// follow.trade_size_usdt, follow.trade_size_percent, the user's
// default_trade_size_usdt, then 1% of available balance.
func ComputeTradeSize(follow domain.WhaleFollow, settings domain.UserSettings, availableBalance decimal.Decimal) decimal.Decimal {
	if follow.TradeSizeUSDT != nil {
		return *follow.TradeSizeUSDT
	}
	if follow.TradeSizePercent != nil {
		return follow.TradeSizePercent.Div(decimal.NewFromInt(100)).Mul(availableBalance)
	}
	if !settings.DefaultTradeSizeUSDT.IsZero() {
		return settings.DefaultTradeSizeUSDT
	}
	return availableBalance.Mul(decimal.NewFromFloat(0.01))
}

// ComputeLeverage resolves the leverage precedence, strictly in order:
// follow.leverage_override, the signal's whale_leverage (only when
// copy_whale_leverage is set), settings.default_leverage, then a 5x
// fallback — always clamped to settings.max_leverage and venueCap, and
// forced to 1 for SPOT regardless of every prior source.
func ComputeLeverage(follow domain.WhaleFollow, signal domain.Signal, settings domain.UserSettings, venueCap int, market domain.Market) int {
	if market == domain.MarketSpot {
		return 1
	}

	leverage := 5
	switch {
	case follow.LeverageOverride != nil:
		leverage = *follow.LeverageOverride
	case follow.CopyWhaleLeverage && signal.WhaleLeverage != nil:
		leverage = *signal.WhaleLeverage
	case settings.DefaultLeverage > 0:
		leverage = settings.DefaultLeverage
	}

	leverage = clampInt(leverage, 1, settings.MaxLeverage)
	leverage = clampInt(leverage, 1, venueCap)
	return leverage
}
