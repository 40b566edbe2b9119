package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/cache"
	"github.com/web3guy0/whalecopy/internal/config"
	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/events"
	"github.com/web3guy0/whalecopy/internal/exchange"
	"github.com/web3guy0/whalecopy/internal/risk"
)

type fakeStore struct {
	signal      domain.Signal
	followers   []domain.WhaleFollow
	openPos     map[uint64]domain.Position // by userID
	users       map[uint64]domain.User
	settings    map[uint64]domain.UserSettings
	handles     map[uint64]string

	trades        []domain.Trade
	nextTradeID   uint64
	confirmed     []uint64
	rolledBack    []uint64
	reconciled    []uint64
	finishedWith  domain.SignalStatus
	positions     []domain.Position
	closed        []uint64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		openPos:  map[uint64]domain.Position{},
		users:    map[uint64]domain.User{},
		settings: map[uint64]domain.UserSettings{},
		handles:  map[uint64]string{},
	}
}

func (f *fakeStore) GetSignal(signalID uint64) (domain.Signal, error) { return f.signal, nil }
func (f *fakeStore) ClaimPending(signalID uint64, now time.Time) (domain.Signal, error) {
	return f.signal, nil
}
func (f *fakeStore) FinishSignal(signalID uint64, status domain.SignalStatus, tradesExecuted int, errMsg string, now time.Time) error {
	f.finishedWith = status
	return nil
}
func (f *fakeStore) ActiveFollowersOfWhale(whaleID uint64) ([]domain.WhaleFollow, error) {
	return f.followers, nil
}
func (f *fakeStore) ListOpenPositionsForWhale(whaleID uint64) ([]domain.Position, error) {
	return f.positions, nil
}
func (f *fakeStore) GetUser(userID uint64) (domain.User, error) { return f.users[userID], nil }
func (f *fakeStore) GetUserSettings(userID uint64) (domain.UserSettings, error) {
	return f.settings[userID], nil
}
func (f *fakeStore) ResolveCredentialHandle(userID uint64, venue domain.Venue) (string, error) {
	return f.handles[userID], nil
}
func (f *fakeStore) LockUserForUpdate(userID uint64, fn func(tx *gorm.DB, user domain.User) error) error {
	return fn(nil, f.users[userID])
}
func (f *fakeStore) CreatePendingTrade(tx *gorm.DB, userID uint64, t domain.Trade) (domain.Trade, error) {
	f.nextTradeID++
	t.ID = f.nextTradeID
	t.UserID = userID
	t.Version = 1
	f.trades = append(f.trades, t)
	return t, nil
}
func (f *fakeStore) ConfirmTrade(tradeID uint64, execPrice, execQty decimal.Decimal, fee *decimal.Decimal, venueOrderID string, version int64, now time.Time) error {
	f.confirmed = append(f.confirmed, tradeID)
	return nil
}
func (f *fakeStore) RollbackTrade(tradeID uint64, userID uint64, reservedValue decimal.Decimal, errMsg string, version int64, now time.Time) error {
	f.rolledBack = append(f.rolledBack, tradeID)
	return nil
}
func (f *fakeStore) MarkNeedsReconciliation(tradeID uint64, errMsg string, version int64) error {
	f.reconciled = append(f.reconciled, tradeID)
	return nil
}
func (f *fakeStore) MarkExecuting(tradeID uint64, version int64, now time.Time) error { return nil }
func (f *fakeStore) GetOpenPosition(userID uint64, venue domain.Venue, market domain.Market, symbol string) (domain.Position, error) {
	p, ok := f.openPos[userID]
	if !ok {
		return domain.Position{}, gorm.ErrRecordNotFound
	}
	return p, nil
}
func (f *fakeStore) GetPosition(positionID uint64) (domain.Position, error) {
	for _, p := range f.openPos {
		if p.ID == positionID {
			return p, nil
		}
	}
	return domain.Position{}, gorm.ErrRecordNotFound
}
func (f *fakeStore) OpenPosition(tx *gorm.DB, p domain.Position) (domain.Position, error) {
	f.openPos[p.UserID] = p
	return p, nil
}
func (f *fakeStore) ClosePosition(tx *gorm.DB, userID uint64, positionID uint64, exitTradeID uint64, exitPrice, realizedPnL, returnedNotional decimal.Decimal, reason domain.CloseReason, status domain.PositionStatus, version int64, now time.Time) error {
	f.closed = append(f.closed, positionID)
	return nil
}
func (f *fakeStore) WithTx(fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeIdem struct{ released, completed bool }

func (f *fakeIdem) Acquire(ctx context.Context, operation string, entityID interface{}, actor string, ttl time.Duration) (cache.AcquireResult, error) {
	return cache.AcquireResult{Acquired: true}, nil
}
func (f *fakeIdem) MarkCompleted(ctx context.Context, operation string, entityID interface{}, actor string, ttl time.Duration) error {
	f.completed = true
	return nil
}
func (f *fakeIdem) Release(ctx context.Context, operation string, entityID interface{}, actor string) error {
	f.released = true
	return nil
}

type allowAllRisk struct{}

func (allowAllRisk) Check(req risk.Request) (risk.Result, error) {
	return risk.Result{Allowed: true, AdjustedSizeUSDT: req.RequestedSizeUSDT, Leverage: req.Leverage}, nil
}

type rejectRisk struct{ reason string }

func (r rejectRisk) Check(req risk.Request) (risk.Result, error) {
	return risk.Result{Allowed: false, Reason: r.reason}, nil
}

type fakeAdapter struct {
	ticker  decimal.Decimal
	fillErr error
}

func (a *fakeAdapter) Venue() domain.Venue { return domain.VenueBinance }
func (a *fakeAdapter) PlaceSpotMarket(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	return exchange.OrderResult{VenueOrderID: "v1", FilledPrice: a.ticker, FilledQuantity: quantity}, a.fillErr
}
func (a *fakeAdapter) PlaceFuturesMarket(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (exchange.OrderResult, error) {
	return exchange.OrderResult{VenueOrderID: "v1", FilledPrice: a.ticker, FilledQuantity: quantity}, a.fillErr
}
func (a *fakeAdapter) CloseFuturesPosition(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (exchange.OrderResult, error) {
	return exchange.OrderResult{VenueOrderID: "v2", FilledPrice: a.ticker, FilledQuantity: *quantity}, a.fillErr
}
func (a *fakeAdapter) SetLeverage(ctx context.Context, creds exchange.Credentials, symbol string, leverage int, market domain.Market) error {
	return nil
}
func (a *fakeAdapter) PlaceStopLoss(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error) {
	return "", nil
}
func (a *fakeAdapter) GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	return a.ticker, nil
}
func (a *fakeAdapter) GetBalances(ctx context.Context, creds exchange.Credentials) ([]exchange.Balance, error) {
	return nil, nil
}
func (a *fakeAdapter) GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error) {
	return nil, nil
}
func (a *fakeAdapter) GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]exchange.TraderSummary, error) {
	return nil, nil
}
func (a *fakeAdapter) GetAccountPositions(ctx context.Context, creds exchange.Credentials, market domain.Market) ([]domain.PositionSample, error) {
	return nil, nil
}

type fakeCredProvider struct{}

func (fakeCredProvider) Resolve(ctx context.Context, handle string) (exchange.Credentials, error) {
	return exchange.Credentials{APIKey: "k", APISecret: "s"}, nil
}

func testCfg() *config.Config {
	return &config.Config{VenueMaxLeverage: map[domain.Venue]int{domain.VenueBinance: 125}}
}

func testSettings() domain.UserSettings {
	return domain.UserSettings{PreferredVenue: domain.VenueBinance, TradingMode: domain.ModeFutures, MaxLeverage: 10, DefaultLeverage: 5}
}

func TestProcessSignal_OpeningSignalExecutesAndConfirms(t *testing.T) {
	st := newFakeStore()
	st.signal = domain.Signal{ID: 1, WhaleID: 9, Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Action: domain.SideBuy, IsClose: false}
	st.followers = []domain.WhaleFollow{{UserID: 5, WhaleID: 9, AutoCopyEnabled: true, TradeSizeUSDT: decPtr(decimal.NewFromInt(100))}}
	st.users[5] = domain.User{ID: 5, IsActive: true, AvailableBalance: decimal.NewFromInt(1000), SubscriptionTier: domain.TierPro}
	st.settings[5] = testSettings()
	st.handles[5] = "handle-5"

	adapter := &fakeAdapter{ticker: decimal.NewFromInt(100)}
	bus := events.New()
	d := New(testCfg(), st, &fakeIdem{}, allowAllRisk{}, map[domain.Venue]exchange.Adapter{domain.VenueBinance: adapter}, fakeCredProvider{}, bus)

	err := d.ProcessSignal(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, st.trades, 1)
	assert.Len(t, st.confirmed, 1)
	assert.Contains(t, st.openPos, uint64(5))
	assert.Equal(t, domain.SignalProcessed, st.finishedWith)
}

func TestProcessSignal_RiskRejectionProducesNoTrade(t *testing.T) {
	st := newFakeStore()
	st.signal = domain.Signal{ID: 1, WhaleID: 9, Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Action: domain.SideBuy, IsClose: false}
	st.followers = []domain.WhaleFollow{{UserID: 5, WhaleID: 9, AutoCopyEnabled: true}}
	st.users[5] = domain.User{ID: 5, IsActive: true, AvailableBalance: decimal.NewFromInt(1000)}
	st.settings[5] = testSettings()
	st.handles[5] = "handle-5"

	adapter := &fakeAdapter{ticker: decimal.NewFromInt(100)}
	bus := events.New()
	d := New(testCfg(), st, &fakeIdem{}, rejectRisk{reason: "balance too low"}, map[domain.Venue]exchange.Adapter{domain.VenueBinance: adapter}, fakeCredProvider{}, bus)

	err := d.ProcessSignal(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, st.trades)
	assert.Equal(t, domain.SignalFailed, st.finishedWith)
}

func TestProcessSignal_VenueTerminalErrorRollsBackTrade(t *testing.T) {
	st := newFakeStore()
	st.signal = domain.Signal{ID: 1, WhaleID: 9, Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Action: domain.SideBuy, IsClose: false}
	st.followers = []domain.WhaleFollow{{UserID: 5, WhaleID: 9, AutoCopyEnabled: true}}
	st.users[5] = domain.User{ID: 5, IsActive: true, AvailableBalance: decimal.NewFromInt(1000)}
	st.settings[5] = testSettings()
	st.handles[5] = "handle-5"

	adapter := &fakeAdapter{ticker: decimal.NewFromInt(100), fillErr: domain.ErrInsufficientBal}
	bus := events.New()
	d := New(testCfg(), st, &fakeIdem{}, allowAllRisk{}, map[domain.Venue]exchange.Adapter{domain.VenueBinance: adapter}, fakeCredProvider{}, bus)

	err := d.ProcessSignal(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, st.trades, 1)
	assert.Len(t, st.rolledBack, 1)
	assert.Empty(t, st.confirmed)
}

func TestProcessSignal_AmbiguousErrorMarksNeedsReconciliation(t *testing.T) {
	st := newFakeStore()
	st.signal = domain.Signal{ID: 1, WhaleID: 9, Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Action: domain.SideBuy, IsClose: false}
	st.followers = []domain.WhaleFollow{{UserID: 5, WhaleID: 9, AutoCopyEnabled: true}}
	st.users[5] = domain.User{ID: 5, IsActive: true, AvailableBalance: decimal.NewFromInt(1000)}
	st.settings[5] = testSettings()
	st.handles[5] = "handle-5"

	adapter := &fakeAdapter{ticker: decimal.NewFromInt(100), fillErr: errors.New("context deadline exceeded")}
	bus := events.New()
	d := New(testCfg(), st, &fakeIdem{}, allowAllRisk{}, map[domain.Venue]exchange.Adapter{domain.VenueBinance: adapter}, fakeCredProvider{}, bus)

	err := d.ProcessSignal(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, st.reconciled, 1)
}

func TestProcessSignal_ClosingSignalClosesOnlyHoldersOfThePosition(t *testing.T) {
	st := newFakeStore()
	st.signal = domain.Signal{ID: 2, WhaleID: 9, Symbol: "ETHUSDT", Market: domain.MarketUSDMFutures, Action: domain.SideSell, IsClose: true}
	st.followers = []domain.WhaleFollow{{UserID: 5, WhaleID: 9}, {UserID: 6, WhaleID: 9}}
	st.positions = []domain.Position{{UserID: 5, Symbol: "ETHUSDT"}}
	st.users[5] = domain.User{ID: 5, IsActive: true, AvailableBalance: decimal.NewFromInt(1000)}
	st.settings[5] = domain.UserSettings{PreferredVenue: domain.VenueBinance, TradingMode: domain.ModeFutures, AutoCloseOnWhaleExit: true}
	st.handles[5] = "handle-5"
	st.openPos[5] = domain.Position{ID: 42, UserID: 5, Venue: domain.VenueBinance, Market: domain.MarketUSDMFutures, Symbol: "ETHUSDT", Side: domain.SideLong, EntryPrice: decimal.NewFromInt(2000), Quantity: decimal.NewFromInt(1), Leverage: 5, Version: 1}

	adapter := &fakeAdapter{ticker: decimal.NewFromInt(2100)}
	bus := events.New()
	d := New(testCfg(), st, &fakeIdem{}, allowAllRisk{}, map[domain.Venue]exchange.Adapter{domain.VenueBinance: adapter}, fakeCredProvider{}, bus)

	err := d.ProcessSignal(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, st.trades, 1)
	assert.Equal(t, uint64(5), st.trades[0].UserID)
	assert.Len(t, st.closed, 1)
}

func decPtr(d decimal.Decimal) *decimal.Decimal { return &d }
