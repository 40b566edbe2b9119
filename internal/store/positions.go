package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func positionRowToDomain(r positionRow) domain.Position {
	return domain.Position{
		ID:                r.ID,
		UserID:            r.UserID,
		WhaleID:           r.WhaleID,
		EntryTradeID:      r.EntryTradeID,
		ExitTradeID:       r.ExitTradeID,
		Venue:             domain.Venue(r.Venue),
		Market:            domain.Market(r.Market),
		Symbol:            r.Symbol,
		Side:              domain.Side(r.Side),
		Leverage:          r.Leverage,
		EntryPrice:        r.EntryPrice,
		CurrentPrice:      r.CurrentPrice,
		ExitPrice:         r.ExitPrice,
		Quantity:          r.Quantity,
		StopLossPrice:     r.StopLossPrice,
		StopLossOrderID:   r.StopLossOrderID,
		TakeProfitPrice:   r.TakeProfitPrice,
		TakeProfitOrderID: r.TakeProfitOrderID,
		UnrealizedPnL:     r.UnrealizedPnL,
		RealizedPnL:       r.RealizedPnL,
		Status:            domain.PositionStatus(r.Status),
		CloseReason:       domain.CloseReason(r.CloseReason),
		Version:           r.Version,
		OpenedAt:          r.OpenedAt,
		ClosedAt:          r.ClosedAt,
	}
}

// ErrPositionAlreadyOpen guards the invariant: at most one OPEN position
// per (user, venue, market, symbol).
var ErrPositionAlreadyOpen = errors.New("position already open for this user/venue/market/symbol")

// OpenPosition creates a new OPEN position for a freshly FILLED entry
// trade, inside the same transaction Phase 2 commits in. Returns
// ErrPositionAlreadyOpen if one is already open for the same key — the
// caller should treat that as a bug in the risk manager's pre-check
// rather than retry.
func (s *Store) OpenPosition(tx *gorm.DB, p domain.Position) (domain.Position, error) {
	var existing int64
	err := tx.Model(&positionRow{}).
		Where("user_id = ? AND venue = ? AND market = ? AND symbol = ? AND status = ?",
			p.UserID, string(p.Venue), string(p.Market), p.Symbol, string(domain.PositionOpen)).
		Count(&existing).Error
	if err != nil {
		return domain.Position{}, err
	}
	if existing > 0 {
		return domain.Position{}, ErrPositionAlreadyOpen
	}

	row := positionRow{
		UserID:       p.UserID,
		WhaleID:      p.WhaleID,
		EntryTradeID: p.EntryTradeID,
		Venue:        string(p.Venue),
		Market:       string(p.Market),
		Symbol:       p.Symbol,
		Side:         string(p.Side),
		Leverage:     p.Leverage,
		EntryPrice:   p.EntryPrice,
		Quantity:     p.Quantity,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		Status:       string(domain.PositionOpen),
		Version:      1,
		OpenedAt:     time.Now(),
	}
	if err := tx.Create(&row).Error; err != nil {
		return domain.Position{}, err
	}
	return positionRowToDomain(row), nil
}

// GetOpenPosition finds the (at most one) OPEN position for a user at a
// given venue/market/symbol.
func (s *Store) GetOpenPosition(userID uint64, venue domain.Venue, market domain.Market, symbol string) (domain.Position, error) {
	var r positionRow
	err := s.db.Where("user_id = ? AND venue = ? AND market = ? AND symbol = ? AND status = ?",
		userID, string(venue), string(market), symbol, string(domain.PositionOpen)).First(&r).Error
	if err != nil {
		return domain.Position{}, err
	}
	return positionRowToDomain(r), nil
}

// ListOpenPositions returns every OPEN position, the working set for the
// re-price and local SL/TP monitor tasks.
func (s *Store) ListOpenPositions() ([]domain.Position, error) {
	var rows []positionRow
	if err := s.db.Where("status = ?", string(domain.PositionOpen)).Find(&rows).Error; err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, positionRowToDomain(r))
	}
	return positions, nil
}

// ListOpenPositionsForWhale returns every user's open positions attributed
// to a specific whale, used when a whale fully exits ("whale exit
// mirroring").
func (s *Store) ListOpenPositionsForWhale(whaleID uint64) ([]domain.Position, error) {
	var rows []positionRow
	err := s.db.Where("whale_id = ? AND status = ?", whaleID, string(domain.PositionOpen)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	positions := make([]domain.Position, 0, len(rows))
	for _, r := range rows {
		positions = append(positions, positionRowToDomain(r))
	}
	return positions, nil
}

// UpdateMarkPrice refreshes a position's current price and unrealized PnL
// without touching its version — the re-price task runs far more often
// than anything that needs optimistic concurrency against it.
func (s *Store) UpdateMarkPrice(positionID uint64, currentPrice, unrealizedPnL decimal.Decimal) error {
	return s.db.Model(&positionRow{}).Where("id = ?", positionID).Updates(map[string]interface{}{
		"current_price":  currentPrice,
		"unrealized_pnl": unrealizedPnL,
	}).Error
}

// ClosePosition is Phase 2 of a closing trade's commit: the position moves
// OPEN -> CLOSED (or LIQUIDATED), records the exit trade and realized PnL,
// and credits the user's available balance with the returned notional plus
// PnL, under the version check and the user's row lock. RealizedPnL is
// stored and credited as passed in; no fee is subtracted from it here or
// by the engine's close path.
func (s *Store) ClosePosition(tx *gorm.DB, userID uint64, positionID uint64, exitTradeID uint64, exitPrice, realizedPnL, returnedNotional decimal.Decimal, reason domain.CloseReason, status domain.PositionStatus, version int64, now time.Time) error {
	res := tx.Model(&positionRow{}).
		Where("id = ? AND version = ?", positionID, version).
		Updates(map[string]interface{}{
			"status":        string(status),
			"close_reason":  string(reason),
			"exit_trade_id": exitTradeID,
			"exit_price":    exitPrice,
			"realized_pnl":  realizedPnL,
			"closed_at":     now,
			"version":       version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOptimisticConflict
	}
	return s.AdjustAvailableBalance(tx, userID, returnedNotional.Add(realizedPnL))
}

// CountOpenPositions counts a user's OPEN positions.
func (s *Store) CountOpenPositions(userID uint64) (int64, error) {
	var n int64
	err := s.db.Model(&positionRow{}).Where("user_id = ? AND status = ?", userID, string(domain.PositionOpen)).Count(&n).Error
	return n, err
}

// TodayRealizedLoss sums a user's realized losses (negative RealizedPnL)
// on positions closed since dayStart, returned as a positive magnitude.
// The caller chooses dayStart; the risk manager passes the start of the
// current UTC day.
func (s *Store) TodayRealizedLoss(userID uint64, dayStart time.Time) (decimal.Decimal, error) {
	var rows []positionRow
	err := s.db.Where("user_id = ? AND status IN ? AND closed_at >= ?",
		userID, []string{string(domain.PositionClosed), string(domain.PositionLiquidated)}, dayStart).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	loss := decimal.Zero
	for _, r := range rows {
		if r.RealizedPnL.IsNegative() {
			loss = loss.Add(r.RealizedPnL.Abs())
		}
	}
	return loss, nil
}

// GetPosition fetches a position by id.
func (s *Store) GetPosition(positionID uint64) (domain.Position, error) {
	var r positionRow
	if err := s.db.First(&r, "id = ?", positionID).Error; err != nil {
		return domain.Position{}, err
	}
	return positionRowToDomain(r), nil
}
