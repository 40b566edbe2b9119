// Package domain holds the shared entities, enums and value objects of the
// copy-trading core: User, Whale, Signal, Trade, Position and the cache/lock
// payloads that sit between them. Nothing in this package touches a
// database, a venue API or a clock — it is the vocabulary every other
// package imports.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionTier gates futures access and position limits.
type SubscriptionTier string

const (
	TierFree  SubscriptionTier = "FREE"
	TierPro   SubscriptionTier = "PRO"
	TierElite SubscriptionTier = "ELITE"
)

// TradingMode is a UserSettings preference, not an order-routing decision.
type TradingMode string

const (
	ModeSpot    TradingMode = "SPOT"
	ModeFutures TradingMode = "FUTURES"
	ModeMixed   TradingMode = "MIXED"
)

// Venue is a centralized exchange identity. The rest of the system never
// branches on more than this tag — venue peculiarities stay inside the
// adapter that owns it.
type Venue string

const (
	VenueBinance Venue = "BINANCE"
	VenueOKX     Venue = "OKX"
	VenueBybit   Venue = "BYBIT"
	VenueBitget  Venue = "BITGET"
)

// Market distinguishes spot from USD- and coin-margined futures.
type Market string

const (
	MarketSpot        Market = "SPOT"
	MarketUSDMFutures Market = "USDM_FUTURES"
	MarketCoinMFutures Market = "COINM_FUTURES"
)

// WhaleKind distinguishes CEX leaderboard traders from on-chain wallets.
type WhaleKind string

const (
	WhaleKindCEXTrader     WhaleKind = "CEX_TRADER"
	WhaleKindOnchainWallet WhaleKind = "ONCHAIN_WALLET"
)

// DataStatus tracks whether a whale's position data is still observable.
type DataStatus string

const (
	DataStatusActive          DataStatus = "ACTIVE"
	DataStatusSharingDisabled DataStatus = "SHARING_DISABLED"
	DataStatusRateLimited     DataStatus = "RATE_LIMITED"
)

// Side is the conventional long/short or buy/sell tag used across signals,
// trades and positions. SPOT positions always use Long.
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
	SideBuy   Side = "BUY"
	SideSell  Side = "SELL"
)

// SignalSource distinguishes whale-detected signals from manually or
// indicator-originated ones; only the tag is modeled, no indicator engine
// ships as part of the core.
type SignalSource string

const (
	SignalSourceWhale     SignalSource = "WHALE"
	SignalSourceManual    SignalSource = "MANUAL"
	SignalSourceIndicator SignalSource = "INDICATOR"
)

// Confidence buckets, derived from ConfidenceScore by ConfidenceBucket.
type Confidence string

const (
	ConfidenceLow        Confidence = "LOW"
	ConfidenceMedium     Confidence = "MEDIUM"
	ConfidenceHigh       Confidence = "HIGH"
	ConfidenceVeryHigh   Confidence = "VERY_HIGH"
)

// ConfidenceBucket maps a [0,100] score onto a Confidence bucket.
func ConfidenceBucket(score decimal.Decimal) Confidence {
	switch {
	case score.LessThan(decimal.NewFromInt(40)):
		return ConfidenceLow
	case score.LessThan(decimal.NewFromInt(60)):
		return ConfidenceMedium
	case score.LessThan(decimal.NewFromInt(80)):
		return ConfidenceHigh
	default:
		return ConfidenceVeryHigh
	}
}

// SignalPriority is derived from follower context, not signal content.
type SignalPriority string

const (
	PriorityHigh   SignalPriority = "HIGH"
	PriorityMedium SignalPriority = "MEDIUM"
	PriorityLow    SignalPriority = "LOW"
)

// SignalStatus is the Signal state machine.
type SignalStatus string

const (
	SignalPending    SignalStatus = "PENDING"
	SignalProcessing SignalStatus = "PROCESSING"
	SignalProcessed  SignalStatus = "PROCESSED"
	SignalFailed     SignalStatus = "FAILED"
	SignalSkipped    SignalStatus = "SKIPPED"
	SignalExpired    SignalStatus = "EXPIRED"
)

// TradeStatus is the Trade state machine.
type TradeStatus string

const (
	TradePending             TradeStatus = "PENDING"
	TradeExecuting           TradeStatus = "EXECUTING"
	TradeFilled              TradeStatus = "FILLED"
	TradeFailed              TradeStatus = "FAILED"
	TradeNeedsReconciliation TradeStatus = "NEEDS_RECONCILIATION"
)

// OrderType is the venue order flavor; the core only ever places MARKET
// orders today, LIMIT is reserved for future use by the Command API.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// PositionStatus is the Position state machine.
type PositionStatus string

const (
	PositionOpen       PositionStatus = "OPEN"
	PositionClosed     PositionStatus = "CLOSED"
	PositionLiquidated PositionStatus = "LIQUIDATED"
)

// CloseReason explains why a Position left OPEN.
type CloseReason string

const (
	CloseManual                    CloseReason = "MANUAL"
	CloseStopLoss                  CloseReason = "STOP_LOSS"
	CloseTakeProfit                CloseReason = "TAKE_PROFIT"
	CloseWhaleExit                 CloseReason = "WHALE_EXIT"
	CloseLiquidation               CloseReason = "LIQUIDATION"
	CloseReconciliationExternal    CloseReason = "RECONCILIATION_EXTERNAL_CLOSE"
)

// User is the copy-trading subscriber. Invariant: AvailableBalance is
// always in [0, TotalBalance] at every committed transaction boundary.
type User struct {
	ID                  uint64
	ExternalID          string
	SubscriptionTier    SubscriptionTier
	SubscriptionExpires *time.Time
	IsActive            bool
	IsBanned            bool
	TotalBalance        decimal.Decimal
	AvailableBalance    decimal.Decimal
	TwoFactorEnabled    bool
}

// UserSettings is 1:1 with User.
type UserSettings struct {
	UserID                uint64
	TradingMode           TradingMode
	PreferredVenue        Venue
	AutoCopyEnabled       bool
	DefaultTradeSizeUSDT  decimal.Decimal
	MaxTradeSizeUSDT      *decimal.Decimal
	StopLossPercent       decimal.Decimal
	TakeProfitPercent     *decimal.Decimal
	DailyLossLimitUSDT    decimal.Decimal
	MaxOpenPositions      int
	DefaultLeverage       int
	MaxLeverage           int
	AutoCloseOnTP         bool
	AutoCloseOnWhaleExit  bool
	NotifyOnTrade         bool
	NotifyOnClose         bool
}

// UserVenueCredential is an opaque handle; the core never holds plaintext
// keys.
type UserVenueCredential struct {
	UserID  uint64
	Venue   Venue
	Handle  string // opaque, resolved via a CredentialProvider
}

// Whale is a publicly observable trader whose position changes produce
// signals. Identity is unique per whale: either (Venue, VenueUID) for a
// CEX trader, or (Chain, WalletAddress) for an on-chain wallet.
type Whale struct {
	ID                  uint64
	Venue               Venue  // set when Kind == CEX_TRADER
	VenueUID            string
	Chain               string // set when Kind == ONCHAIN_WALLET
	WalletAddress       string
	DisplayName         string
	Kind                WhaleKind
	DataStatus          DataStatus
	ConsecutiveEmpty    int
	SharingDisabledAt   *time.Time
	SharingRecheckAt    *time.Time
	PriorityScore       int // [1,100]
	PollingIntervalSecs int
	LastCheckedAt       time.Time
}

// WhaleFollow is a User's subscription to a Whale's signals.
type WhaleFollow struct {
	UserID             uint64
	WhaleID            uint64
	AutoCopyEnabled    bool
	TradeSizeUSDT      *decimal.Decimal
	TradeSizePercent   *decimal.Decimal
	LeverageOverride   *int
	CopyWhaleLeverage  bool
	StopLossPercent    *decimal.Decimal
	TakeProfitPercent  *decimal.Decimal
	Active             bool
}

// Signal is the intent record a poll tick derives from a whale's position
// diff, consumed by the copy-trade engine.
type Signal struct {
	ID                  uint64
	WhaleID             uint64
	Source              SignalSource
	Fingerprint         string
	Action              Side // BUY or SELL
	Symbol              string
	Market              Market
	IsClose             bool
	WhaleLeverage       *int
	AmountHintUSD       *decimal.Decimal
	PriceAtSignal       *decimal.Decimal
	Confidence          Confidence
	ConfidenceScore     decimal.Decimal
	Priority            SignalPriority
	Status              SignalStatus
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	TradesExecuted      int
	Error               string
	Version             int64
}

// Trade is the aggregate root of one follower's copy execution.
type Trade struct {
	ID                 uint64
	UserID              uint64
	SignalID            *uint64
	WhaleID             *uint64
	Venue               Venue
	Market              Market
	Symbol              string
	Side                Side
	OrderType           OrderType
	RequestedQuantity   decimal.Decimal
	TradeValueUSDT      decimal.Decimal
	Leverage            *int
	Status              TradeStatus
	VenueOrderID        string
	ClientOrderID       string
	ExecutedPrice       *decimal.Decimal
	ExecutedQuantity    *decimal.Decimal
	Fee                 *decimal.Decimal
	RealizedPnL         *decimal.Decimal
	Version             int64
	CreatedAt           time.Time
	ExecutedAt          *time.Time
	Error               string
}

// Position is owned by one User and cross-references the trades that
// opened and (when closed) closed it.
type Position struct {
	ID                uint64
	UserID            uint64
	WhaleID           *uint64
	EntryTradeID      uint64
	ExitTradeID       *uint64
	Venue             Venue
	Market            Market
	Symbol            string
	Side              Side
	Leverage          int
	EntryPrice        decimal.Decimal
	CurrentPrice      *decimal.Decimal
	ExitPrice         *decimal.Decimal
	Quantity          decimal.Decimal
	StopLossPrice     *decimal.Decimal
	StopLossOrderID   string
	TakeProfitPrice   *decimal.Decimal
	TakeProfitOrderID string
	UnrealizedPnL     decimal.Decimal
	RealizedPnL       decimal.Decimal
	Status            PositionStatus
	CloseReason       CloseReason
	Version           int64
	OpenedAt          time.Time
	ClosedAt          *time.Time
}

// PositionSample is one line of a whale's publicly observed open positions,
// as returned by an exchange adapter's GetOpenPositionsOfTrader.
type PositionSample struct {
	Symbol     string
	Market     Market
	Side       Side
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	Leverage   *int
	ROE        *decimal.Decimal
}

// PositionSnapshot is the cache entry keyed by whale id.
type PositionSnapshot struct {
	WhaleID    uint64
	CapturedAt time.Time
	Positions  []PositionSample
}

// Key returns the stable (symbol, market) identity used to diff two
// snapshots; two samples with the same Key are "the same open position".
// Side is not part of the Key.
func (p PositionSample) Key() string {
	return p.Symbol + "|" + string(p.Market)
}
