package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func tradeRowToDomain(r tradeRow) domain.Trade {
	return domain.Trade{
		ID:                r.ID,
		UserID:            r.UserID,
		SignalID:          r.SignalID,
		WhaleID:           r.WhaleID,
		Venue:             domain.Venue(r.Venue),
		Market:            domain.Market(r.Market),
		Symbol:            r.Symbol,
		Side:              domain.Side(r.Side),
		OrderType:         domain.OrderType(r.OrderType),
		RequestedQuantity: r.RequestedQuantity,
		TradeValueUSDT:    r.TradeValueUSDT,
		Leverage:          r.Leverage,
		Status:            domain.TradeStatus(r.Status),
		VenueOrderID:      r.VenueOrderID,
		ClientOrderID:     r.ClientOrderID,
		ExecutedPrice:     r.ExecutedPrice,
		ExecutedQuantity:  r.ExecutedQuantity,
		Fee:               r.Fee,
		RealizedPnL:       r.RealizedPnL,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		ExecutedAt:        r.ExecutedAt,
		Error:             r.Error,
	}
}

// CreatePendingTrade is Phase 1 of the two-phase commit: within an
// already-open, user-locked transaction, it inserts a PENDING trade and
// reserves its notional against the user's available balance by debiting
// it via AdjustAvailableBalance. Callers must run this inside the
// transaction opened by LockUserForUpdate.
func (s *Store) CreatePendingTrade(tx *gorm.DB, userID uint64, t domain.Trade) (domain.Trade, error) {
	row := tradeRow{
		UserID:            userID,
		SignalID:          t.SignalID,
		WhaleID:           t.WhaleID,
		Venue:             string(t.Venue),
		Market:            string(t.Market),
		Symbol:            t.Symbol,
		Side:              string(t.Side),
		OrderType:         string(t.OrderType),
		RequestedQuantity: t.RequestedQuantity,
		TradeValueUSDT:    t.TradeValueUSDT,
		Leverage:          t.Leverage,
		Status:            string(domain.TradePending),
		ClientOrderID:     t.ClientOrderID,
		Version:           1,
		CreatedAt:         time.Now(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return domain.Trade{}, err
	}
	if err := s.AdjustAvailableBalance(tx, userID, t.TradeValueUSDT.Neg()); err != nil {
		return domain.Trade{}, err
	}
	return tradeRowToDomain(row), nil
}

// MarkExecuting is a version-checked PENDING -> EXECUTING transition
// taken just before the uncommitted exchange call, so a crash mid-call
// leaves an unambiguous EXECUTING trade, which TradesNeedingReconciliation
// hands to the reconciler once it is ten minutes old.
func (s *Store) MarkExecuting(tradeID uint64, version int64, now time.Time) error {
	res := s.db.Model(&tradeRow{}).
		Where("id = ? AND version = ? AND status = ?", tradeID, version, string(domain.TradePending)).
		Updates(map[string]interface{}{
			"status":  string(domain.TradeExecuting),
			"version": version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticConflict
	}
	return nil
}

// ConfirmTrade is Phase 2's success path: the venue confirmed a fill, so
// the trade moves PENDING/EXECUTING -> FILLED with the fill's execution
// facts, under an optimistic version check.
func (s *Store) ConfirmTrade(tradeID uint64, execPrice, execQty decimal.Decimal, fee *decimal.Decimal, venueOrderID string, version int64, now time.Time) error {
	res := s.db.Model(&tradeRow{}).
		Where("id = ? AND version = ?", tradeID, version).
		Updates(map[string]interface{}{
			"status":            string(domain.TradeFilled),
			"executed_price":    execPrice,
			"executed_quantity": execQty,
			"fee":               fee,
			"venue_order_id":    venueOrderID,
			"executed_at":       now,
			"version":           version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticConflict
	}
	return nil
}

// RollbackTrade is Phase 2's failure path: the venue rejected the order
// before any fill occurred, so the reservation is released and the trade
// is marked FAILED.
func (s *Store) RollbackTrade(tradeID uint64, userID uint64, reservedValue decimal.Decimal, errMsg string, version int64, now time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&tradeRow{}).
			Where("id = ? AND version = ?", tradeID, version).
			Updates(map[string]interface{}{
				"status":  string(domain.TradeFailed),
				"error":   errMsg,
				"version": version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOptimisticConflict
		}
		return s.AdjustAvailableBalance(tx, userID, reservedValue)
	})
}

// MarkNeedsReconciliation is Phase 2's ambiguous-outcome path: the venue
// call timed out or returned an indeterminate error, so the reservation
// stays held and the trade is parked for the reconciliation task.
func (s *Store) MarkNeedsReconciliation(tradeID uint64, errMsg string, version int64) error {
	res := s.db.Model(&tradeRow{}).
		Where("id = ? AND version = ?", tradeID, version).
		Updates(map[string]interface{}{
			"status":  string(domain.TradeNeedsReconciliation),
			"error":   errMsg,
			"version": version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticConflict
	}
	return nil
}

// TradesNeedingReconciliation lists every trade parked in
// NEEDS_RECONCILIATION, plus every trade still EXECUTING ten minutes (the
// engine's hard limit) after it was created, for the reconciliation task
// to resolve.
func (s *Store) TradesNeedingReconciliation() ([]domain.Trade, error) {
	var rows []tradeRow
	staleExecuting := time.Now().Add(-10 * time.Minute)
	if err := s.db.Where("status = ? OR (status = ? AND created_at < ?)",
		string(domain.TradeNeedsReconciliation), string(domain.TradeExecuting), staleExecuting).Find(&rows).Error; err != nil {
		return nil, err
	}
	trades := make([]domain.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, tradeRowToDomain(r))
	}
	return trades, nil
}
