// Package config loads polling periods per tier, retry/circuit
// parameters, idempotency TTLs, signal expiry, per-(venue,market)
// minimum notionals, and the subscription-tier limit table. Everything
// is read once at startup with a built-in default, layered under viper
// so an operator can override the scalar values via env var or
// config.yaml without the binary knowing the difference; the
// minimum-notional, tier-limit and venue max-leverage tables come from
// code only.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/web3guy0/whalecopy/internal/domain"
)

// TierPeriod is one polling tier's cadence and whale-selection cap.
type TierPeriod struct {
	Period time.Duration
	Cap    int
}

// RetryConfig is the resilience wrapper's backoff policy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// CircuitConfig is the per-(venue,scope) breaker policy.
type CircuitConfig struct {
	FailureThreshold int           // F
	CooldownPeriod   time.Duration // T
	HalfOpenProbes   uint32        // H
	SuccessThreshold uint32        // S
}

// TierLimits is the subscription-tier limit table.
type TierLimits struct {
	FuturesAllowed    bool
	MaxOpenPositions  int // 0 == unlimited (ELITE)
	MaxLeverage       int
	MaxFollowedWhales int
	CommissionRate    decimal.Decimal
}

// VenueMarketKey addresses the minimum-notional table.
type VenueMarketKey struct {
	Venue  domain.Venue
	Market domain.Market
}

// Config is the fully resolved, immutable configuration tree read once
// at startup.
type Config struct {
	Debug    bool
	LogFormat string // "console" | "json"

	DatabaseURL string // postgres DSN; empty falls back to SQLite
	SQLitePath  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Tiers map[string]TierPeriod // "critical" | "high" | "normal" | "low"

	Retry   RetryConfig
	Circuit CircuitConfig

	IdempotencyTTL   time.Duration
	SignalExpiry     time.Duration
	SignalSweepEvery time.Duration

	MinTradingBalance decimal.Decimal
	MinTradeSize      decimal.Decimal

	MinNotionals map[VenueMarketKey]decimal.Decimal
	TierLimits   map[domain.SubscriptionTier]TierLimits
	VenueMaxLeverage map[domain.Venue]int

	PollSoftLimit time.Duration
	PollHardLimit time.Duration

	RepriceEvery       time.Duration
	LocalSLTPEvery     time.Duration
	ReconcileEvery     time.Duration
	SharingRecheckWait time.Duration
	EmptyStreakLimit   int
}

// Load reads .env if present, then binds env vars and an optional
// config.yaml over an in-code default tree so the service runs
// correctly with zero external configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, relying on process environment")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.SetEnvPrefix("WHALECOPY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config.yaml: %w", err)
		}
		log.Debug().Msg("no config.yaml found, using defaults + env overrides")
	}

	cfg := &Config{
		Debug:       v.GetBool("debug"),
		LogFormat:   v.GetString("log_format"),
		DatabaseURL: v.GetString("database_url"),
		SQLitePath:  v.GetString("sqlite_path"),

		RedisAddr:     v.GetString("redis.addr"),
		RedisPassword: v.GetString("redis.password"),
		RedisDB:       v.GetInt("redis.db"),

		Tiers: map[string]TierPeriod{
			"critical": {Period: v.GetDuration("tiers.critical.period"), Cap: v.GetInt("tiers.critical.cap")},
			"high":     {Period: v.GetDuration("tiers.high.period"), Cap: v.GetInt("tiers.high.cap")},
			"normal":   {Period: v.GetDuration("tiers.normal.period"), Cap: v.GetInt("tiers.normal.cap")},
			"low":      {Period: v.GetDuration("tiers.low.period"), Cap: v.GetInt("tiers.low.cap")},
		},

		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
		},
		Circuit: CircuitConfig{
			FailureThreshold: v.GetInt("circuit.failure_threshold"),
			CooldownPeriod:   v.GetDuration("circuit.cooldown"),
			HalfOpenProbes:   uint32(v.GetInt("circuit.half_open_probes")),
			SuccessThreshold: uint32(v.GetInt("circuit.success_threshold")),
		},

		IdempotencyTTL:   v.GetDuration("idempotency_ttl"),
		SignalExpiry:     v.GetDuration("signal_expiry"),
		SignalSweepEvery: v.GetDuration("signal_sweep_every"),

		MinTradingBalance: decimalOrDefault(v.GetString("min_trading_balance"), decimal.NewFromInt(5)),
		MinTradeSize:      decimalOrDefault(v.GetString("min_trade_size"), decimal.NewFromInt(5)),

		PollSoftLimit: v.GetDuration("poll_soft_limit"),
		PollHardLimit: v.GetDuration("poll_hard_limit"),

		RepriceEvery:       v.GetDuration("monitor.reprice_every"),
		LocalSLTPEvery:     v.GetDuration("monitor.local_sltp_every"),
		ReconcileEvery:     v.GetDuration("monitor.reconcile_every"),
		SharingRecheckWait: v.GetDuration("sharing.recheck_wait"),
		EmptyStreakLimit:   v.GetInt("sharing.empty_streak_limit"),
	}

	cfg.MinNotionals = defaultMinNotionals()
	cfg.TierLimits = defaultTierLimits()
	cfg.VenueMaxLeverage = defaultVenueMaxLeverage()

	return cfg, nil
}

func decimalOrDefault(s string, def decimal.Decimal) decimal.Decimal {
	if s == "" {
		return def
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return def
	}
	return d
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "console")
	v.SetDefault("sqlite_path", "data/whalecopy.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("tiers.critical.period", 12*time.Second)
	v.SetDefault("tiers.critical.cap", 200)
	v.SetDefault("tiers.high.period", 30*time.Second)
	v.SetDefault("tiers.high.cap", 150)
	v.SetDefault("tiers.normal.period", 45*time.Second)
	v.SetDefault("tiers.normal.cap", 100)
	v.SetDefault("tiers.low.period", 120*time.Second)
	v.SetDefault("tiers.low.cap", 50)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 8*time.Second)

	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.cooldown", 60*time.Second)
	v.SetDefault("circuit.half_open_probes", 2)
	v.SetDefault("circuit.success_threshold", 1)

	v.SetDefault("idempotency_ttl", 5*time.Minute)
	v.SetDefault("signal_expiry", 60*time.Second)
	v.SetDefault("signal_sweep_every", 15*time.Second)

	v.SetDefault("min_trading_balance", "5")
	v.SetDefault("min_trade_size", "5")

	v.SetDefault("poll_soft_limit", 9*time.Minute)
	v.SetDefault("poll_hard_limit", 10*time.Minute)

	v.SetDefault("monitor.reprice_every", 10*time.Second)
	v.SetDefault("monitor.local_sltp_every", 10*time.Second)
	v.SetDefault("monitor.reconcile_every", 30*time.Second)

	v.SetDefault("sharing.recheck_wait", 24*time.Hour)
	v.SetDefault("sharing.empty_streak_limit", 5)
}

func defaultMinNotionals() map[VenueMarketKey]decimal.Decimal {
	five := decimal.NewFromInt(5)
	ten := decimal.NewFromInt(10)
	return map[VenueMarketKey]decimal.Decimal{
		{Venue: domain.VenueBinance, Market: domain.MarketSpot}:         ten,
		{Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures}:  five,
		{Venue: domain.VenueBinance, Market: domain.MarketCoinMFutures}: decimal.NewFromInt(1),
		{Venue: domain.VenueOKX, Market: domain.MarketSpot}:             five,
		{Venue: domain.VenueOKX, Market: domain.MarketUSDMFutures}:      five,
		{Venue: domain.VenueBybit, Market: domain.MarketSpot}:           five,
		{Venue: domain.VenueBybit, Market: domain.MarketUSDMFutures}:    five,
		{Venue: domain.VenueBitget, Market: domain.MarketSpot}:          five,
		{Venue: domain.VenueBitget, Market: domain.MarketUSDMFutures}:   five,
	}
}

func defaultTierLimits() map[domain.SubscriptionTier]TierLimits {
	return map[domain.SubscriptionTier]TierLimits{
		domain.TierFree: {
			FuturesAllowed:    false,
			MaxOpenPositions:  3,
			MaxLeverage:       1,
			MaxFollowedWhales: 2,
			CommissionRate:    decimal.NewFromFloat(0.001),
		},
		domain.TierPro: {
			FuturesAllowed:    true,
			MaxOpenPositions:  10,
			MaxLeverage:       20,
			MaxFollowedWhales: 10,
			CommissionRate:    decimal.NewFromFloat(0.0007),
		},
		domain.TierElite: {
			FuturesAllowed:    true,
			MaxOpenPositions:  0, // unlimited
			MaxLeverage:       50,
			MaxFollowedWhales: 50,
			CommissionRate:    decimal.NewFromFloat(0.0004),
		},
	}
}

// defaultVenueMaxLeverage seeds each venue's own maximum leverage cap,
// independent of a user's subscription tier.
func defaultVenueMaxLeverage() map[domain.Venue]int {
	return map[domain.Venue]int{
		domain.VenueBinance: 125,
		domain.VenueOKX:     100,
		domain.VenueBybit:   100,
		domain.VenueBitget:  125,
	}
}

// VenueMaxLeverageOf looks up a venue's leverage cap, defaulting to a
// conservative 20x if the venue isn't seeded.
func (c *Config) VenueMaxLeverageOf(venue domain.Venue) int {
	if v, ok := c.VenueMaxLeverage[venue]; ok {
		return v
	}
	return 20
}

// MinNotional looks up the minimum notional for (venue, market), falling
// back to a conservative default if the pair isn't seeded.
func (c *Config) MinNotional(venue domain.Venue, market domain.Market) decimal.Decimal {
	if v, ok := c.MinNotionals[VenueMarketKey{Venue: venue, Market: market}]; ok {
		return v
	}
	return decimal.NewFromInt(5)
}
