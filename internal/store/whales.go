package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func whaleRowToDomain(r whaleRow) domain.Whale {
	return domain.Whale{
		ID:                  r.ID,
		Venue:               domain.Venue(r.Venue),
		VenueUID:            r.VenueUID,
		Chain:               r.Chain,
		WalletAddress:       r.WalletAddress,
		DisplayName:         r.DisplayName,
		Kind:                domain.WhaleKind(r.Kind),
		DataStatus:          domain.DataStatus(r.DataStatus),
		ConsecutiveEmpty:    r.ConsecutiveEmpty,
		SharingDisabledAt:   r.SharingDisabledAt,
		SharingRecheckAt:    r.SharingRecheckAt,
		PriorityScore:       r.PriorityScore,
		PollingIntervalSecs: r.PollingIntervalSecs,
		LastCheckedAt:       r.LastCheckedAt,
	}
}

// GetWhale fetches a single whale by id.
func (s *Store) GetWhale(whaleID uint64) (domain.Whale, error) {
	var r whaleRow
	if err := s.db.First(&r, "id = ?", whaleID).Error; err != nil {
		return domain.Whale{}, err
	}
	return whaleRowToDomain(r), nil
}

// EligibleWhalesForTier lists whales due for a poll within one scheduler
// tier: active sharing status, polling interval matching the tier,
// ordered by priority_score DESC then last_checked_at ASC so the busiest
// and longest-waiting whales are served first, capped at the tier's budget.
func (s *Store) EligibleWhalesForTier(minIntervalSecs, maxIntervalSecs, cap int) ([]domain.Whale, error) {
	var rows []whaleRow
	q := s.db.Where("data_status = ?", string(domain.DataStatusActive)).
		Where("polling_interval_secs >= ? AND polling_interval_secs < ?", minIntervalSecs, maxIntervalSecs).
		Order("priority_score DESC, last_checked_at ASC")
	if cap > 0 {
		q = q.Limit(cap)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	whales := make([]domain.Whale, 0, len(rows))
	for _, r := range rows {
		whales = append(whales, whaleRowToDomain(r))
	}
	return whales, nil
}

// WhalesDueForSharingRecheck lists SHARING_DISABLED whales whose recheck
// deadline has passed.
func (s *Store) WhalesDueForSharingRecheck(now time.Time) ([]domain.Whale, error) {
	var rows []whaleRow
	err := s.db.Where("data_status = ? AND sharing_recheck_at <= ?", string(domain.DataStatusSharingDisabled), now).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	whales := make([]domain.Whale, 0, len(rows))
	for _, r := range rows {
		whales = append(whales, whaleRowToDomain(r))
	}
	return whales, nil
}

// TouchLastChecked stamps a whale as checked at now, regardless of whether
// the check produced a signal.
func (s *Store) TouchLastChecked(whaleID uint64, now time.Time) error {
	return s.db.Model(&whaleRow{}).Where("id = ?", whaleID).Update("last_checked_at", now).Error
}

// RecordEmptyCheck increments the consecutive-empty counter and, once it
// reaches limit, flips the whale to SHARING_DISABLED with a recheck
// deadline. RecordNonEmptyCheck resets the counter back to zero and
// re-activates a whale that was disabled.

func (s *Store) RecordEmptyCheck(whaleID uint64, limit int, recheckWait time.Duration, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var r whaleRow
		if err := tx.First(&r, "id = ?", whaleID).Error; err != nil {
			return err
		}
		r.ConsecutiveEmpty++
		updates := map[string]interface{}{"consecutive_empty": r.ConsecutiveEmpty}
		if r.ConsecutiveEmpty >= limit {
			recheckAt := now.Add(recheckWait)
			updates["data_status"] = string(domain.DataStatusSharingDisabled)
			updates["sharing_disabled_at"] = now
			updates["sharing_recheck_at"] = recheckAt
		}
		return tx.Model(&whaleRow{}).Where("id = ?", whaleID).Updates(updates).Error
	})
}

func (s *Store) RecordNonEmptyCheck(whaleID uint64) error {
	return s.db.Model(&whaleRow{}).Where("id = ?", whaleID).Updates(map[string]interface{}{
		"consecutive_empty":   0,
		"data_status":         string(domain.DataStatusActive),
		"sharing_disabled_at": nil,
		"sharing_recheck_at":  nil,
	}).Error
}

// SetPriorityScore updates a whale's priority score, used after follower
// counts change.
func (s *Store) SetPriorityScore(whaleID uint64, score int) error {
	return s.db.Model(&whaleRow{}).Where("id = ?", whaleID).Update("priority_score", score).Error
}

// ActiveAutoCopyFollowerCount reports how many active, auto-copy follows a
// whale has — used to derive signal priority and sharing eligibility.
func (s *Store) ActiveAutoCopyFollowerCount(whaleID uint64) (int64, error) {
	var count int64
	err := s.db.Model(&whaleFollowRow{}).
		Where("whale_id = ? AND active = ? AND auto_copy_enabled = ?", whaleID, true, true).
		Count(&count).Error
	return count, err
}

// ActiveFollowersOfWhale returns every active WhaleFollow row for a whale,
// the follower fan-out list for signal dispatch.
func (s *Store) ActiveFollowersOfWhale(whaleID uint64) ([]domain.WhaleFollow, error) {
	var rows []whaleFollowRow
	if err := s.db.Where("whale_id = ? AND active = ?", whaleID, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	follows := make([]domain.WhaleFollow, 0, len(rows))
	for _, r := range rows {
		follows = append(follows, whaleFollowRowToDomain(r))
	}
	return follows, nil
}

func whaleFollowRowToDomain(r whaleFollowRow) domain.WhaleFollow {
	return domain.WhaleFollow{
		UserID:            r.UserID,
		WhaleID:           r.WhaleID,
		AutoCopyEnabled:   r.AutoCopyEnabled,
		TradeSizeUSDT:     r.TradeSizeUSDT,
		TradeSizePercent:  r.TradeSizePercent,
		LeverageOverride:  r.LeverageOverride,
		CopyWhaleLeverage: r.CopyWhaleLeverage,
		StopLossPercent:   r.StopLossPercent,
		TakeProfitPercent: r.TakeProfitPercent,
		Active:            r.Active,
	}
}
