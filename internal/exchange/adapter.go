// Package exchange normalizes each venue's REST surface to one
// contract: place/close spot & futures market orders, set leverage,
// fetch tickers and balances, and read a trader's public leaderboard
// positions. Every venue peculiarity — symbol format, position-side
// encoding, auth scheme — stays behind the adapter that owns it: signed
// REST calls over net/http, with github.com/shopspring/decimal for
// every amount.
package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// OrderResult is what every order-placing call returns on success.
type OrderResult struct {
	VenueOrderID   string
	FilledPrice    decimal.Decimal
	FilledQuantity decimal.Decimal
	Fee            *decimal.Decimal
	RawTimestamp   time.Time
}

// Balance is one asset line from get_balances.
type Balance struct {
	Asset  string
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// TraderSummary is one row of a venue leaderboard page.
type TraderSummary struct {
	VenueUID    string
	DisplayName string
	Score       decimal.Decimal
}

// Credentials are resolved by the credential provider and handed to an
// adapter for the duration of one call; the adapter never persists
// them.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string // OKX, Bitget
}

// Adapter is the venue-neutral contract every exchange package
// implements. Every call is a network round-trip; callers pass a
// context with a hard per-call timeout and run the call through the
// resilience wrapper, never directly.
type Adapter interface {
	Venue() domain.Venue

	PlaceSpotMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (OrderResult, error)
	PlaceFuturesMarket(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (OrderResult, error)
	CloseFuturesPosition(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (OrderResult, error)
	SetLeverage(ctx context.Context, creds Credentials, symbol string, leverage int, market domain.Market) error
	PlaceStopLoss(ctx context.Context, creds Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error)

	GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error)
	GetBalances(ctx context.Context, creds Credentials) ([]Balance, error)
	GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error)
	GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]TraderSummary, error)

	// GetAccountPositions lists the caller's own open futures positions,
	// for the monitor's external reconciliation task. SPOT has no
	// venue-side position concept distinct from a balance, so adapters
	// return an empty slice for it rather than an error.
	GetAccountPositions(ctx context.Context, creds Credentials, market domain.Market) ([]domain.PositionSample, error)
}

// CredentialProvider decrypts and returns a user's credentials for a
// venue. The engine is the only caller; adapters never see a user id.
type CredentialProvider interface {
	Resolve(ctx context.Context, handle string) (Credentials, error)
}
