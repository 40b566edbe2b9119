package store

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func userRowToDomain(r userRow) domain.User {
	return domain.User{
		ID:                  r.ID,
		ExternalID:          r.ExternalID,
		SubscriptionTier:    domain.SubscriptionTier(r.SubscriptionTier),
		SubscriptionExpires: r.SubscriptionExpires,
		IsActive:            r.IsActive,
		IsBanned:            r.IsBanned,
		TotalBalance:        r.TotalBalance,
		AvailableBalance:    r.AvailableBalance,
		TwoFactorEnabled:    r.TwoFactorEnabled,
	}
}

// GetUser fetches a user by id.
func (s *Store) GetUser(userID uint64) (domain.User, error) {
	var r userRow
	if err := s.db.First(&r, "id = ?", userID).Error; err != nil {
		return domain.User{}, err
	}
	return userRowToDomain(r), nil
}

// GetUserSettings fetches the 1:1 settings row for a user.
func (s *Store) GetUserSettings(userID uint64) (domain.UserSettings, error) {
	var r userSettingsRow
	if err := s.db.First(&r, "user_id = ?", userID).Error; err != nil {
		return domain.UserSettings{}, err
	}
	return domain.UserSettings{
		UserID:               r.UserID,
		TradingMode:          domain.TradingMode(r.TradingMode),
		PreferredVenue:       domain.Venue(r.PreferredVenue),
		AutoCopyEnabled:      r.AutoCopyEnabled,
		DefaultTradeSizeUSDT: r.DefaultTradeSizeUSDT,
		MaxTradeSizeUSDT:     r.MaxTradeSizeUSDT,
		StopLossPercent:      r.StopLossPercent,
		TakeProfitPercent:    r.TakeProfitPercent,
		DailyLossLimitUSDT:   r.DailyLossLimitUSDT,
		MaxOpenPositions:     r.MaxOpenPositions,
		DefaultLeverage:      r.DefaultLeverage,
		MaxLeverage:          r.MaxLeverage,
		AutoCloseOnTP:        r.AutoCloseOnTP,
		AutoCloseOnWhaleExit: r.AutoCloseOnWhaleExit,
		NotifyOnTrade:        r.NotifyOnTrade,
		NotifyOnClose:        r.NotifyOnClose,
	}, nil
}

// ResolveCredentialHandle returns the opaque handle a user stored for a
// venue. The core never sees plaintext keys.
func (s *Store) ResolveCredentialHandle(userID uint64, venue domain.Venue) (string, error) {
	var r userVenueCredentialRow
	err := s.db.First(&r, "user_id = ? AND venue = ?", userID, string(venue)).Error
	if err != nil {
		return "", err
	}
	return r.Handle, nil
}

// LockUserForUpdate opens a transaction, takes an exclusive row lock on
// the user, and hands it to fn along with the freshly re-read balance.
func (s *Store) LockUserForUpdate(userID uint64, fn func(tx *gorm.DB, user domain.User) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var r userRow
		if err := s.withLock(tx).First(&r, "id = ?", userID).Error; err != nil {
			return err
		}
		return fn(tx, userRowToDomain(r))
	})
}

// AdjustAvailableBalance applies delta to a user's available_balance
// within an already-open transaction, enforcing the invariant that it
// never leaves [0, total_balance]. The caller must already hold the row
// lock taken by LockUserForUpdate.
func (s *Store) AdjustAvailableBalance(tx *gorm.DB, userID uint64, delta decimal.Decimal) error {
	var r userRow
	if err := s.withLock(tx).First(&r, "id = ?", userID).Error; err != nil {
		return err
	}
	newBalance := r.AvailableBalance.Add(delta)
	if newBalance.IsNegative() {
		return fmt.Errorf("balance adjustment would go negative: available=%s delta=%s", r.AvailableBalance, delta)
	}
	if newBalance.GreaterThan(r.TotalBalance) {
		newBalance = r.TotalBalance
	}
	return tx.Model(&userRow{}).Where("id = ?", userID).Update("available_balance", newBalance).Error
}
