package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/whalecopy/internal/domain"
	"github.com/web3guy0/whalecopy/internal/exchange"
)

type fakeStore struct {
	signals        []domain.Signal
	followers      []domain.WhaleFollow
	autoCopyCount  int64
	emptyChecks    int
	nonEmptyChecks int
	touched        int
}

func (f *fakeStore) EligibleWhalesForTier(minIntervalSecs, maxIntervalSecs, cap int) ([]domain.Whale, error) {
	return nil, nil
}
func (f *fakeStore) TouchLastChecked(whaleID uint64, now time.Time) error {
	f.touched++
	return nil
}
func (f *fakeStore) RecordEmptyCheck(whaleID uint64, limit int, recheckWait time.Duration, now time.Time) error {
	f.emptyChecks++
	return nil
}
func (f *fakeStore) RecordNonEmptyCheck(whaleID uint64) error {
	f.nonEmptyChecks++
	return nil
}
func (f *fakeStore) ActiveFollowersOfWhale(whaleID uint64) ([]domain.WhaleFollow, error) {
	return f.followers, nil
}
func (f *fakeStore) ActiveAutoCopyFollowerCount(whaleID uint64) (int64, error) {
	return f.autoCopyCount, nil
}
func (f *fakeStore) CreateSignal(sig domain.Signal) (domain.Signal, error) {
	f.signals = append(f.signals, sig)
	return sig, nil
}

type fakeCache struct {
	snap    domain.PositionSnapshot
	hadPrev bool
	stored  domain.PositionSnapshot
}

func (f *fakeCache) GetSnapshot(ctx context.Context, whaleID uint64) (domain.PositionSnapshot, bool, error) {
	return f.snap, f.hadPrev, nil
}
func (f *fakeCache) PutSnapshot(ctx context.Context, snap domain.PositionSnapshot, ttl time.Duration) error {
	f.stored = snap
	return nil
}

type fakeAdapter struct {
	samples []domain.PositionSample
	err     error
}

func (a *fakeAdapter) Venue() domain.Venue { return domain.VenueBinance }
func (a *fakeAdapter) PlaceSpotMarket(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity decimal.Decimal) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("not implemented")
}
func (a *fakeAdapter) PlaceFuturesMarket(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity decimal.Decimal, market domain.Market) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("not implemented")
}
func (a *fakeAdapter) CloseFuturesPosition(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity *decimal.Decimal, market domain.Market) (exchange.OrderResult, error) {
	return exchange.OrderResult{}, errors.New("not implemented")
}
func (a *fakeAdapter) SetLeverage(ctx context.Context, creds exchange.Credentials, symbol string, leverage int, market domain.Market) error {
	return errors.New("not implemented")
}
func (a *fakeAdapter) PlaceStopLoss(ctx context.Context, creds exchange.Credentials, symbol string, side domain.Side, quantity, stopPrice decimal.Decimal, market domain.Market) (string, error) {
	return "", errors.New("not implemented")
}
func (a *fakeAdapter) GetTicker(ctx context.Context, symbol string, market domain.Market) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("not implemented")
}
func (a *fakeAdapter) GetBalances(ctx context.Context, creds exchange.Credentials) ([]exchange.Balance, error) {
	return nil, errors.New("not implemented")
}
func (a *fakeAdapter) GetOpenPositionsOfTrader(ctx context.Context, venueUID string, market domain.Market) ([]domain.PositionSample, error) {
	return a.samples, a.err
}
func (a *fakeAdapter) GetLeaderboard(ctx context.Context, market domain.Market, page int) ([]exchange.TraderSummary, error) {
	return nil, errors.New("not implemented")
}
func (a *fakeAdapter) GetAccountPositions(ctx context.Context, creds exchange.Credentials, market domain.Market) ([]domain.PositionSample, error) {
	return nil, errors.New("not implemented")
}

func testWhale() domain.Whale {
	return domain.Whale{ID: 1, Venue: domain.VenueBinance, VenueUID: "whale-1", Kind: domain.WhaleKindCEXTrader, PriorityScore: 80}
}

func TestDiffAndEmit_FirstObservationSuppressesSignals(t *testing.T) {
	st := &fakeStore{}
	c := &fakeCache{hadPrev: false}
	s := New(nil, st, c, nil, nil)

	samples := []domain.PositionSample{{Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Side: domain.SideLong, EntryPrice: decimal.NewFromInt(50000)}}
	s.diffAndEmit(context.Background(), testWhale(), samples, time.Now())

	assert.Empty(t, st.signals)
	assert.Equal(t, samples, c.stored.Positions)
}

func TestDiffAndEmit_NewSymbolEmitsOpenSignal(t *testing.T) {
	st := &fakeStore{followers: []domain.WhaleFollow{{Active: true, AutoCopyEnabled: true}}, autoCopyCount: 1}
	c := &fakeCache{hadPrev: true, snap: domain.PositionSnapshot{WhaleID: 1}}
	s := New(nil, st, c, nil, nil)

	samples := []domain.PositionSample{{Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Side: domain.SideLong, EntryPrice: decimal.NewFromInt(50000)}}
	s.diffAndEmit(context.Background(), testWhale(), samples, time.Now())

	require.Len(t, st.signals, 1)
	assert.Equal(t, domain.SideBuy, st.signals[0].Action)
	assert.False(t, st.signals[0].IsClose)
	assert.Equal(t, domain.PriorityHigh, st.signals[0].Priority)
}

func TestDiffAndEmit_ClosedSymbolEmitsCloseSignalWithOppositeSide(t *testing.T) {
	st := &fakeStore{}
	prev := domain.PositionSnapshot{WhaleID: 1, Positions: []domain.PositionSample{
		{Symbol: "ETHUSDT", Market: domain.MarketUSDMFutures, Side: domain.SideShort, EntryPrice: decimal.NewFromInt(3000)},
	}}
	c := &fakeCache{hadPrev: true, snap: prev}
	s := New(nil, st, c, nil, nil)

	s.diffAndEmit(context.Background(), testWhale(), nil, time.Now())

	require.Len(t, st.signals, 1)
	assert.Equal(t, domain.SideBuy, st.signals[0].Action)
	assert.True(t, st.signals[0].IsClose)
}

func TestDiffAndEmit_UnchangedSymbolEmitsNothing(t *testing.T) {
	st := &fakeStore{}
	samples := []domain.PositionSample{{Symbol: "BTCUSDT", Market: domain.MarketUSDMFutures, Side: domain.SideLong, EntryPrice: decimal.NewFromInt(50000)}}
	c := &fakeCache{hadPrev: true, snap: domain.PositionSnapshot{WhaleID: 1, Positions: samples}}
	s := New(nil, st, c, nil, nil)

	s.diffAndEmit(context.Background(), testWhale(), samples, time.Now())

	assert.Empty(t, st.signals)
}

func TestFetch_EmptySamplesClassifiedAsEmpty(t *testing.T) {
	st := &fakeStore{}
	s := New(nil, st, &fakeCache{}, map[domain.Venue]exchange.Adapter{domain.VenueBinance: &fakeAdapter{}}, nil)
	_, oc := s.fetch(context.Background(), testWhale())
	assert.Equal(t, outcomeEmpty, oc)
}

func TestFetch_TerminalErrorClassifiedAsAuthOrRateError(t *testing.T) {
	s := New(nil, &fakeStore{}, &fakeCache{}, map[domain.Venue]exchange.Adapter{
		domain.VenueBinance: &fakeAdapter{err: domain.ErrAuthFailure},
	}, nil)
	_, oc := s.fetch(context.Background(), testWhale())
	assert.Equal(t, outcomeAuthOrRateError, oc)
}

func TestFetch_RetryableNetworkErrorClassifiedAsAdapterError(t *testing.T) {
	s := New(nil, &fakeStore{}, &fakeCache{}, map[domain.Venue]exchange.Adapter{
		domain.VenueBinance: &fakeAdapter{err: domain.ErrRetryableNetwork},
	}, nil)
	_, oc := s.fetch(context.Background(), testWhale())
	assert.Equal(t, outcomeAdapterError, oc)
}

func TestFetch_SamplesClassifiedAsSamples(t *testing.T) {
	samples := []domain.PositionSample{{Symbol: "BTCUSDT"}}
	s := New(nil, &fakeStore{}, &fakeCache{}, map[domain.Venue]exchange.Adapter{
		domain.VenueBinance: &fakeAdapter{samples: samples},
	}, nil)
	got, oc := s.fetch(context.Background(), testWhale())
	assert.Equal(t, outcomeSamples, oc)
	assert.Equal(t, samples, got)
}
