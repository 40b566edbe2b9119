package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalecopy/internal/config"
	"github.com/web3guy0/whalecopy/internal/domain"
)

type fakeStore struct {
	todayLoss  decimal.Decimal
	openCount  int64
}

func (f *fakeStore) TodayRealizedLoss(userID uint64, dayStart time.Time) (decimal.Decimal, error) {
	return f.todayLoss, nil
}

func (f *fakeStore) CountOpenPositions(userID uint64) (int64, error) {
	return f.openCount, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MinTradingBalance: decimal.NewFromInt(5),
		MinTradeSize:      decimal.NewFromInt(5),
		MinNotionals: map[config.VenueMarketKey]decimal.Decimal{
			{Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures}: decimal.NewFromInt(5),
			{Venue: domain.VenueBinance, Market: domain.MarketSpot}:        decimal.NewFromInt(10),
		},
		TierLimits: map[domain.SubscriptionTier]config.TierLimits{
			domain.TierFree: {FuturesAllowed: false, MaxOpenPositions: 3, MaxLeverage: 1},
			domain.TierPro:  {FuturesAllowed: true, MaxOpenPositions: 10, MaxLeverage: 20},
		},
		VenueMaxLeverage: map[domain.Venue]int{domain.VenueBinance: 125},
	}
}

func baseUser() domain.User {
	return domain.User{ID: 1, IsActive: true, IsBanned: false, AvailableBalance: decimal.NewFromInt(1000)}
}

func baseSettings() domain.UserSettings {
	return domain.UserSettings{MaxLeverage: 20, DailyLossLimitUSDT: decimal.NewFromInt(100)}
}

func TestCheck_RejectsInactiveUser(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	user := baseUser()
	user.IsActive = false

	res, err := m.Check(Request{User: user, Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_RejectsBelowMinTradingBalance(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	user := baseUser()
	user.AvailableBalance = decimal.NewFromInt(2)

	res, err := m.Check(Request{User: user, Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_RejectsBelowMinTradeSize(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	res, err := m.Check(Request{User: baseUser(), Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(1), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_RejectsFuturesOnFreeTier(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	res, err := m.Check(Request{User: baseUser(), Settings: baseSettings(), Tier: domain.TierFree, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_AutoAdjustsWhenBalanceBelowRequested(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	user := baseUser()
	user.AvailableBalance = decimal.NewFromInt(50)

	res, err := m.Check(Request{User: user, Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(100), Leverage: 5})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.True(t, res.AdjustedSizeUSDT.Equal(decimal.NewFromInt(40)))
	assert.NotEmpty(t, res.Warnings)
}

func TestCheck_RejectsWhenAutoAdjustedBelowMinTradeSize(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	user := baseUser()
	user.AvailableBalance = decimal.NewFromInt(5)

	res, err := m.Check(Request{User: user, Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(100), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_ClampsToMaxTradeSize(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	settings := baseSettings()
	cap := decimal.NewFromInt(20)
	settings.MaxTradeSizeUSDT = &cap

	res, err := m.Check(Request{User: baseUser(), Settings: settings, Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 5})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.True(t, res.AdjustedSizeUSDT.Equal(cap))
}

func TestCheck_RejectsAtDailyLossLimit(t *testing.T) {
	settings := baseSettings()
	settings.DailyLossLimitUSDT = decimal.NewFromInt(100)
	m := New(testConfig(), &fakeStore{todayLoss: decimal.NewFromInt(100)})

	res, err := m.Check(Request{User: baseUser(), Settings: settings, Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_RejectsAtOpenPositionLimit(t *testing.T) {
	m := New(testConfig(), &fakeStore{openCount: 10})
	res, err := m.Check(Request{User: baseUser(), Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 5})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestCheck_ClampsLeverageToSettingsAndVenueCap(t *testing.T) {
	m := New(testConfig(), &fakeStore{})
	settings := baseSettings()
	settings.MaxLeverage = 10

	res, err := m.Check(Request{User: baseUser(), Settings: settings, Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(50), Leverage: 999})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, 10, res.Leverage)
}

func TestCheck_BumpsSizeToClearMinNotional(t *testing.T) {
	cfg := testConfig()
	cfg.MinNotionals[config.VenueMarketKey{Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures}] = decimal.NewFromInt(20)
	m := New(cfg, &fakeStore{})
	res, err := m.Check(Request{User: baseUser(), Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(5), Leverage: 1})
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.True(t, res.AdjustedSizeUSDT.Equal(decimal.NewFromInt(24)))
}

func TestCheck_RejectsWhenNotionalBumpExceedsTenPercentOfBalance(t *testing.T) {
	cfg := testConfig()
	cfg.MinNotionals[config.VenueMarketKey{Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures}] = decimal.NewFromInt(1000)
	m := New(cfg, &fakeStore{})

	res, err := m.Check(Request{User: baseUser(), Settings: baseSettings(), Tier: domain.TierPro, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, RequestedSizeUSDT: decimal.NewFromInt(5), Leverage: 1})
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

// --- sizing precedence, one case per level ---

func TestComputeTradeSize_FollowTradeSizeUSDTWins(t *testing.T) {
	size := decimal.NewFromInt(77)
	follow := domain.WhaleFollow{TradeSizeUSDT: &size}
	got := ComputeTradeSize(follow, baseSettings(), decimal.NewFromInt(1000))
	assert.True(t, got.Equal(size))
}

func TestComputeTradeSize_FollowTradeSizePercentWins(t *testing.T) {
	pct := decimal.NewFromInt(10)
	follow := domain.WhaleFollow{TradeSizePercent: &pct}
	got := ComputeTradeSize(follow, baseSettings(), decimal.NewFromInt(1000))
	assert.True(t, got.Equal(decimal.NewFromInt(100)))
}

func TestComputeTradeSize_SettingsDefaultWins(t *testing.T) {
	settings := baseSettings()
	settings.DefaultTradeSizeUSDT = decimal.NewFromInt(30)
	got := ComputeTradeSize(domain.WhaleFollow{}, settings, decimal.NewFromInt(1000))
	assert.True(t, got.Equal(decimal.NewFromInt(30)))
}

func TestComputeTradeSize_FallsBackToOnePercentOfBalance(t *testing.T) {
	got := ComputeTradeSize(domain.WhaleFollow{}, baseSettings(), decimal.NewFromInt(1000))
	assert.True(t, got.Equal(decimal.NewFromInt(10)))
}

// --- leverage precedence, one case per level ---

func TestComputeLeverage_FollowOverrideWins(t *testing.T) {
	override := 15
	follow := domain.WhaleFollow{LeverageOverride: &override}
	got := ComputeLeverage(follow, domain.Signal{}, baseSettings(), 125, domain.MarketUSDMFutures)
	assert.Equal(t, 15, got)
}

func TestComputeLeverage_WhaleLeverageWinsWhenCopyEnabled(t *testing.T) {
	whaleLev := 8
	follow := domain.WhaleFollow{CopyWhaleLeverage: true}
	signal := domain.Signal{WhaleLeverage: &whaleLev}
	got := ComputeLeverage(follow, signal, baseSettings(), 125, domain.MarketUSDMFutures)
	assert.Equal(t, 8, got)
}

func TestComputeLeverage_IgnoresWhaleLeverageWhenCopyDisabled(t *testing.T) {
	whaleLev := 8
	follow := domain.WhaleFollow{CopyWhaleLeverage: false}
	signal := domain.Signal{WhaleLeverage: &whaleLev}
	settings := baseSettings()
	settings.DefaultLeverage = 3
	got := ComputeLeverage(follow, signal, settings, 125, domain.MarketUSDMFutures)
	assert.Equal(t, 3, got)
}

func TestComputeLeverage_SettingsDefaultWins(t *testing.T) {
	settings := baseSettings()
	settings.DefaultLeverage = 12
	got := ComputeLeverage(domain.WhaleFollow{}, domain.Signal{}, settings, 125, domain.MarketUSDMFutures)
	assert.Equal(t, 12, got)
}

func TestComputeLeverage_FallsBackToFive(t *testing.T) {
	got := ComputeLeverage(domain.WhaleFollow{}, domain.Signal{}, domain.UserSettings{MaxLeverage: 20}, 125, domain.MarketUSDMFutures)
	assert.Equal(t, 5, got)
}

func TestComputeLeverage_SpotAlwaysForcesOne(t *testing.T) {
	override := 20
	follow := domain.WhaleFollow{LeverageOverride: &override}
	got := ComputeLeverage(follow, domain.Signal{}, baseSettings(), 125, domain.MarketSpot)
	assert.Equal(t, 1, got)
}

func TestComputeLeverage_ClampedToSettingsMaxLeverage(t *testing.T) {
	override := 50
	follow := domain.WhaleFollow{LeverageOverride: &override}
	settings := domain.UserSettings{MaxLeverage: 10}
	got := ComputeLeverage(follow, domain.Signal{}, settings, 125, domain.MarketUSDMFutures)
	assert.Equal(t, 10, got)
}

func TestComputeLeverage_ClampedToVenueCap(t *testing.T) {
	override := 50
	follow := domain.WhaleFollow{LeverageOverride: &override}
	settings := domain.UserSettings{MaxLeverage: 100}
	got := ComputeLeverage(follow, domain.Signal{}, settings, 20, domain.MarketUSDMFutures)
	assert.Equal(t, 20, got)
}
