// Package store is the gorm-backed persistence layer for the copy-trading
// core: Users, Whales, WhaleFollows, Signals, Trades and Positions.
// Postgres in production, SQLite in development, switched on the
// connection string.
package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// userRow, whaleRow, ... are the gorm row shapes. They mirror
// domain.<Entity> field-for-field but live in their own package so gorm
// tags never leak into the domain vocabulary the rest of the system
// imports.

type userRow struct {
	ID                  uint64 `gorm:"primaryKey;autoIncrement"`
	ExternalID          string `gorm:"uniqueIndex"`
	SubscriptionTier    string
	SubscriptionExpires *time.Time
	IsActive            bool
	IsBanned            bool
	TotalBalance        decimal.Decimal `gorm:"type:decimal(24,8)"`
	AvailableBalance    decimal.Decimal `gorm:"type:decimal(24,8)"`
	TwoFactorEnabled    bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (userRow) TableName() string { return "users" }

type userSettingsRow struct {
	UserID               uint64 `gorm:"primaryKey"`
	TradingMode          string
	PreferredVenue       string
	AutoCopyEnabled      bool
	DefaultTradeSizeUSDT decimal.Decimal `gorm:"type:decimal(24,8)"`
	MaxTradeSizeUSDT     *decimal.Decimal `gorm:"type:decimal(24,8)"`
	StopLossPercent      decimal.Decimal `gorm:"type:decimal(8,4)"`
	TakeProfitPercent    *decimal.Decimal `gorm:"type:decimal(8,4)"`
	DailyLossLimitUSDT   decimal.Decimal `gorm:"type:decimal(24,8)"`
	MaxOpenPositions     int
	DefaultLeverage      int
	MaxLeverage          int
	AutoCloseOnTP        bool
	AutoCloseOnWhaleExit bool
	NotifyOnTrade        bool
	NotifyOnClose        bool
}

func (userSettingsRow) TableName() string { return "user_settings" }

type userVenueCredentialRow struct {
	UserID uint64 `gorm:"primaryKey"`
	Venue  string `gorm:"primaryKey"`
	Handle string
}

func (userVenueCredentialRow) TableName() string { return "user_venue_credentials" }

type whaleRow struct {
	ID                  uint64 `gorm:"primaryKey;autoIncrement"`
	Venue               string `gorm:"index:idx_whale_identity"`
	VenueUID            string `gorm:"index:idx_whale_identity"`
	Chain               string `gorm:"index:idx_whale_chain_identity"`
	WalletAddress       string `gorm:"index:idx_whale_chain_identity"`
	DisplayName         string
	Kind                string
	DataStatus          string
	ConsecutiveEmpty    int
	SharingDisabledAt   *time.Time
	SharingRecheckAt    *time.Time
	PriorityScore       int
	PollingIntervalSecs int
	LastCheckedAt       time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (whaleRow) TableName() string { return "whales" }

type whaleFollowRow struct {
	UserID            uint64 `gorm:"primaryKey"`
	WhaleID           uint64 `gorm:"primaryKey;index"`
	AutoCopyEnabled   bool
	TradeSizeUSDT     *decimal.Decimal `gorm:"type:decimal(24,8)"`
	TradeSizePercent  *decimal.Decimal `gorm:"type:decimal(8,4)"`
	LeverageOverride  *int
	CopyWhaleLeverage bool
	StopLossPercent   *decimal.Decimal `gorm:"type:decimal(8,4)"`
	TakeProfitPercent *decimal.Decimal `gorm:"type:decimal(8,4)"`
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (whaleFollowRow) TableName() string { return "whale_follows" }

type signalRow struct {
	ID                  uint64 `gorm:"primaryKey;autoIncrement"`
	WhaleID             uint64 `gorm:"index"`
	Source              string
	Fingerprint         string `gorm:"uniqueIndex"`
	Action              string
	Symbol              string
	Market              string
	IsClose             bool
	WhaleLeverage       *int
	AmountHintUSD       *decimal.Decimal `gorm:"type:decimal(24,8)"`
	PriceAtSignal       *decimal.Decimal `gorm:"type:decimal(24,8)"`
	Confidence          string
	ConfidenceScore     decimal.Decimal `gorm:"type:decimal(8,4)"`
	Priority            string
	Status              string `gorm:"index"`
	CreatedAt           time.Time `gorm:"index"`
	ProcessingStartedAt *time.Time
	ProcessedAt         *time.Time
	TradesExecuted      int
	Error               string
	Version             int64
}

func (signalRow) TableName() string { return "signals" }

type tradeRow struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	UserID            uint64 `gorm:"index"`
	SignalID          *uint64 `gorm:"index"`
	WhaleID           *uint64
	Venue             string
	Market            string
	Symbol            string
	Side              string
	OrderType         string
	RequestedQuantity decimal.Decimal `gorm:"type:decimal(24,8)"`
	TradeValueUSDT    decimal.Decimal `gorm:"type:decimal(24,8)"`
	Leverage          *int
	Status            string `gorm:"index"`
	VenueOrderID      string
	ClientOrderID     string `gorm:"uniqueIndex"`
	ExecutedPrice     *decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExecutedQuantity  *decimal.Decimal `gorm:"type:decimal(24,8)"`
	Fee               *decimal.Decimal `gorm:"type:decimal(24,8)"`
	RealizedPnL       *decimal.Decimal `gorm:"type:decimal(24,8)"`
	Version           int64
	CreatedAt         time.Time
	ExecutedAt        *time.Time
	Error             string
}

func (tradeRow) TableName() string { return "trades" }

type positionRow struct {
	ID                uint64 `gorm:"primaryKey;autoIncrement"`
	UserID            uint64 `gorm:"index:idx_position_open_key"`
	WhaleID           *uint64
	EntryTradeID      uint64
	ExitTradeID       *uint64
	Venue             string `gorm:"index:idx_position_open_key"`
	Market            string `gorm:"index:idx_position_open_key"`
	Symbol            string `gorm:"index:idx_position_open_key"`
	Side              string
	Leverage          int
	EntryPrice        decimal.Decimal `gorm:"type:decimal(24,8)"`
	CurrentPrice      *decimal.Decimal `gorm:"type:decimal(24,8)"`
	ExitPrice         *decimal.Decimal `gorm:"type:decimal(24,8)"`
	Quantity          decimal.Decimal `gorm:"type:decimal(24,8)"`
	StopLossPrice     *decimal.Decimal `gorm:"type:decimal(24,8)"`
	StopLossOrderID   string
	TakeProfitPrice   *decimal.Decimal `gorm:"type:decimal(24,8)"`
	TakeProfitOrderID string
	UnrealizedPnL     decimal.Decimal `gorm:"type:decimal(24,8)"`
	RealizedPnL       decimal.Decimal `gorm:"type:decimal(24,8)"`
	Status            string `gorm:"index:idx_position_open_key"`
	CloseReason       string
	Version           int64
	OpenedAt          time.Time
	ClosedAt          *time.Time
}

func (positionRow) TableName() string { return "positions" }
