package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, total, available string) domain.User {
	t.Helper()
	row := userRow{
		ExternalID:       "ext-1",
		SubscriptionTier: string(domain.TierPro),
		IsActive:         true,
		TotalBalance:     decimal.RequireFromString(total),
		AvailableBalance: decimal.RequireFromString(available),
	}
	require.NoError(t, s.db.Create(&row).Error)
	return userRowToDomain(row)
}

func TestAdjustAvailableBalance_ClampsWithinBounds(t *testing.T) {
	s := newTestStore(t)
	user := seedUser(t, s, "1000", "500")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.AdjustAvailableBalance(tx, user.ID, decimal.NewFromInt(600))
	})
	require.NoError(t, err)

	got, err := s.GetUser(user.ID)
	require.NoError(t, err)
	assert.True(t, got.AvailableBalance.Equal(decimal.NewFromInt(1000)), "balance should clamp to total_balance, got %s", got.AvailableBalance)
}

func TestAdjustAvailableBalance_RejectsNegative(t *testing.T) {
	s := newTestStore(t)
	user := seedUser(t, s, "1000", "100")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		return s.AdjustAvailableBalance(tx, user.ID, decimal.NewFromInt(-200))
	})
	assert.Error(t, err)
}

func TestCreateSignal_DuplicateFingerprintRejected(t *testing.T) {
	s := newTestStore(t)
	sig := domain.Signal{
		WhaleID:     1,
		Source:      domain.SignalSourceWhale,
		Fingerprint: "fp-1",
		Action:      domain.SideBuy,
		Symbol:      "BTCUSDT",
		Market:      domain.MarketUSDMFutures,
		Priority:    domain.PriorityMedium,
	}
	_, err := s.CreateSignal(sig)
	require.NoError(t, err)

	_, err = s.CreateSignal(sig)
	assert.ErrorIs(t, err, ErrDuplicateSignal)
}

func TestClaimPending_OnlyOneWinner(t *testing.T) {
	s := newTestStore(t)
	created, err := s.CreateSignal(domain.Signal{
		WhaleID:     1,
		Fingerprint: "fp-claim",
		Action:      domain.SideBuy,
		Symbol:      "ETHUSDT",
		Market:      domain.MarketUSDMFutures,
		Priority:    domain.PriorityHigh,
	})
	require.NoError(t, err)

	now := time.Now()
	_, err1 := s.ClaimPending(created.ID, now)
	_, err2 := s.ClaimPending(created.ID, now)

	assert.NoError(t, err1)
	assert.Error(t, err2, "a signal claimed once is no longer PENDING for a second claimant")
}

func TestOpenPosition_RejectsSecondOpenForSameKey(t *testing.T) {
	s := newTestStore(t)
	user := seedUser(t, s, "1000", "1000")

	err := s.db.Transaction(func(tx *gorm.DB) error {
		_, err := s.OpenPosition(tx, domain.Position{
			UserID:       user.ID,
			EntryTradeID: 1,
			Venue:        domain.VenueBinance,
			Market:       domain.MarketUSDMFutures,
			Symbol:       "BTCUSDT",
			Side:         domain.SideLong,
			Leverage:     5,
			EntryPrice:   decimal.NewFromInt(60000),
			Quantity:     decimal.NewFromFloat(0.1),
		})
		return err
	})
	require.NoError(t, err)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		_, err := s.OpenPosition(tx, domain.Position{
			UserID:       user.ID,
			EntryTradeID: 2,
			Venue:        domain.VenueBinance,
			Market:       domain.MarketUSDMFutures,
			Symbol:       "BTCUSDT",
			Side:         domain.SideLong,
			Leverage:     5,
			EntryPrice:   decimal.NewFromInt(61000),
			Quantity:     decimal.NewFromFloat(0.1),
		})
		return err
	})
	assert.ErrorIs(t, err, ErrPositionAlreadyOpen)
}

func TestRecordEmptyCheck_DisablesSharingAfterStreak(t *testing.T) {
	s := newTestStore(t)
	whale := whaleRow{
		Venue:               string(domain.VenueBinance),
		VenueUID:            "trader-1",
		Kind:                string(domain.WhaleKindCEXTrader),
		DataStatus:          string(domain.DataStatusActive),
		PriorityScore:       50,
		PollingIntervalSecs: 30,
	}
	require.NoError(t, s.db.Create(&whale).Error)

	now := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, s.RecordEmptyCheck(whale.ID, 5, 24*time.Hour, now))
	}
	got, err := s.GetWhale(whale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DataStatusActive, got.DataStatus)

	require.NoError(t, s.RecordEmptyCheck(whale.ID, 5, 24*time.Hour, now))
	got, err = s.GetWhale(whale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DataStatusSharingDisabled, got.DataStatus)
	require.NotNil(t, got.SharingRecheckAt)
}
