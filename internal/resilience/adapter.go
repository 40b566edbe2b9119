package resilience

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/exchange"
)

// WrappedAdapter decorates an exchange.Adapter so every method runs
// through the retry+circuit-breaker Wrapper instead of hitting the venue
// directly — the only way the engine and scheduler are meant to hold an
// Adapter.
type WrappedAdapter struct {
	inner exchange.Adapter
	w     *Wrapper
}

// Wrap returns inner decorated with w.
func Wrap(inner exchange.Adapter, w *Wrapper) *WrappedAdapter {
	return &WrappedAdapter{inner: inner, w: w}
}

func (a *WrappedAdapter) Venue() domain.Venue { return a.inner.Venue() }

func (a *WrappedAdapter) scope(credHandle string) Scope {
	return Scope{Venue: a.inner.Venue(), CredentialScope: credHandle}
}

func (a *WrappedAdapter) PlaceSpotMarket(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	var res exchange.OrderResult
	err := a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		var callErr error
		res, callErr = a.inner.PlaceSpotMarket(ctx, creds, symbol, side, quantity)
		return callErr
	})
	return res, err
}

func (a *WrappedAdapter) PlaceFuturesMarket(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (exchange.OrderResult, error) {
	var res exchange.OrderResult
	err := a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		var callErr error
		res, callErr = a.inner.PlaceFuturesMarket(ctx, creds, symbol, side, quantity, market)
		return callErr
	})
	return res, err
}

func (a *WrappedAdapter) CloseFuturesPosition(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (exchange.OrderResult, error) {
	var res exchange.OrderResult
	err := a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		var callErr error
		res, callErr = a.inner.CloseFuturesPosition(ctx, creds, symbol, side, quantity, market)
		return callErr
	})
	return res, err
}

func (a *WrappedAdapter) SetLeverage(ctx context.Context, creds exchange.Credentials, symbol string, leverage int, market domain.Market) error {
	return a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		return a.inner.SetLeverage(ctx, creds, symbol, leverage, market)
	})
}

func (a *WrappedAdapter) PlaceStopLoss(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error) {
	var orderID string
	err := a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		var callErr error
		orderID, callErr = a.inner.PlaceStopLoss(ctx, creds, symbol, side, quantity, stopPrice, market)
		return callErr
	})
	return orderID, err
}

// GetTicker and GetLeaderboard are public, unauthenticated calls; they
// share one breaker per venue under an empty credential scope.
func (a *WrappedAdapter) GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := a.w.Call(ctx, a.scope(""), func(ctx context.Context) error {
		var callErr error
		price, callErr = a.inner.GetTicker(ctx, symbol, market)
		return callErr
	})
	return price, err
}

func (a *WrappedAdapter) GetBalances(ctx context.Context, creds exchange.Credentials) ([]exchange.Balance, error) {
	var balances []exchange.Balance
	err := a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		var callErr error
		balances, callErr = a.inner.GetBalances(ctx, creds)
		return callErr
	})
	return balances, err
}

func (a *WrappedAdapter) GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error) {
	var samples []domain.PositionSample
	err := a.w.Call(ctx, a.scope(""), func(ctx context.Context) error {
		var callErr error
		samples, callErr = a.inner.GetOpenPositionsOfTrader(ctx, venueUID, market)
		return callErr
	})
	return samples, err
}

func (a *WrappedAdapter) GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]exchange.TraderSummary, error) {
	var traders []exchange.TraderSummary
	err := a.w.Call(ctx, a.scope(""), func(ctx context.Context) error {
		var callErr error
		traders, callErr = a.inner.GetLeaderboard(ctx, market, page)
		return callErr
	})
	return traders, err
}

func (a *WrappedAdapter) GetAccountPositions(ctx context.Context, creds exchange.Credentials, market domain.Market) ([]domain.PositionSample, error) {
	var samples []domain.PositionSample
	err := a.w.Call(ctx, a.scope(creds.APIKey), func(ctx context.Context) error {
		var callErr error
		samples, callErr = a.inner.GetAccountPositions(ctx, creds, market)
		return callErr
	})
	return samples, err
}

var _ exchange.Adapter = (*WrappedAdapter)(nil)
