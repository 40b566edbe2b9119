package store

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func signalRowToDomain(r signalRow) domain.Signal {
	return domain.Signal{
		ID:                  r.ID,
		WhaleID:             r.WhaleID,
		Source:              domain.SignalSource(r.Source),
		Fingerprint:         r.Fingerprint,
		Action:              domain.Side(r.Action),
		Symbol:              r.Symbol,
		Market:              domain.Market(r.Market),
		IsClose:             r.IsClose,
		WhaleLeverage:       r.WhaleLeverage,
		AmountHintUSD:       r.AmountHintUSD,
		PriceAtSignal:       r.PriceAtSignal,
		Confidence:          domain.Confidence(r.Confidence),
		ConfidenceScore:     r.ConfidenceScore,
		Priority:            domain.SignalPriority(r.Priority),
		Status:              domain.SignalStatus(r.Status),
		CreatedAt:           r.CreatedAt,
		ProcessingStartedAt: r.ProcessingStartedAt,
		ProcessedAt:         r.ProcessedAt,
		TradesExecuted:      r.TradesExecuted,
		Error:               r.Error,
		Version:             r.Version,
	}
}

func signalRowFromDomain(sig domain.Signal) signalRow {
	return signalRow{
		ID:                  sig.ID,
		WhaleID:             sig.WhaleID,
		Source:              string(sig.Source),
		Fingerprint:         sig.Fingerprint,
		Action:              string(sig.Action),
		Symbol:              sig.Symbol,
		Market:              string(sig.Market),
		IsClose:             sig.IsClose,
		WhaleLeverage:       sig.WhaleLeverage,
		AmountHintUSD:       sig.AmountHintUSD,
		PriceAtSignal:       sig.PriceAtSignal,
		Confidence:          string(sig.Confidence),
		ConfidenceScore:     sig.ConfidenceScore,
		Priority:            string(sig.Priority),
		Status:              string(sig.Status),
		CreatedAt:           sig.CreatedAt,
		ProcessingStartedAt: sig.ProcessingStartedAt,
		ProcessedAt:         sig.ProcessedAt,
		TradesExecuted:      sig.TradesExecuted,
		Error:               sig.Error,
		Version:             sig.Version,
	}
}

// ErrDuplicateSignal is returned when CreateSignal hits the fingerprint
// uniqueness constraint — the scheduler saw the same whale move twice
// within one detection minute, the fingerprint's time granularity.
var ErrDuplicateSignal = errors.New("duplicate signal fingerprint")

// CreateSignal inserts a new PENDING signal. A unique-index violation on
// fingerprint is translated to ErrDuplicateSignal so schedulers can treat
// it as a no-op rather than a hard failure.
func (s *Store) CreateSignal(sig domain.Signal) (domain.Signal, error) {
	row := signalRowFromDomain(sig)
	row.ID = 0
	row.Status = string(domain.SignalPending)
	row.CreatedAt = time.Now()
	row.Version = 1

	if err := s.db.Create(&row).Error; err != nil {
		if isUniqueConstraintErr(err) {
			return domain.Signal{}, ErrDuplicateSignal
		}
		return domain.Signal{}, err
	}
	return signalRowToDomain(row), nil
}

// ClaimPending atomically moves one PENDING signal to PROCESSING using an
// optimistic version check, and returns it. Returns gorm.ErrRecordNotFound
// when there's nothing left to claim.
func (s *Store) ClaimPending(signalID uint64, now time.Time) (domain.Signal, error) {
	var claimed signalRow
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var r signalRow
		if err := tx.First(&r, "id = ? AND status = ?", signalID, string(domain.SignalPending)).Error; err != nil {
			return err
		}
		res := tx.Model(&signalRow{}).
			Where("id = ? AND version = ?", r.ID, r.Version).
			Updates(map[string]interface{}{
				"status":                string(domain.SignalProcessing),
				"processing_started_at": now,
				"version":               r.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrOptimisticConflict
		}
		r.Status = string(domain.SignalProcessing)
		r.ProcessingStartedAt = &now
		r.Version++
		claimed = r
		return nil
	})
	if err != nil {
		return domain.Signal{}, err
	}
	return signalRowToDomain(claimed), nil
}

// NextPendingIDs returns the ids of PENDING signals ordered by priority
// (HIGH, MEDIUM, LOW) then creation time, the dispatch order the engine's
// worker pool pulls from.
func (s *Store) NextPendingIDs(limit int) ([]uint64, error) {
	var rows []signalRow
	err := s.db.Select("id").
		Where("status = ?", string(domain.SignalPending)).
		Order("CASE priority WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END, created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// FinishSignal moves a PROCESSING signal to a terminal state (PROCESSED or
// FAILED), recording how many trades it produced and any error.
func (s *Store) FinishSignal(signalID uint64, status domain.SignalStatus, tradesExecuted int, errMsg string, now time.Time) error {
	return s.db.Model(&signalRow{}).Where("id = ?", signalID).Updates(map[string]interface{}{
		"status":       string(status),
		"processed_at": now,
		"trades_executed": tradesExecuted,
		"error":        errMsg,
	}).Error
}

// SweepExpired moves PENDING signals older than ttl to EXPIRED.
func (s *Store) SweepExpired(ttl time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-ttl)
	res := s.db.Model(&signalRow{}).
		Where("status = ? AND created_at < ?", string(domain.SignalPending), cutoff).
		Update("status", string(domain.SignalExpired))
	return res.RowsAffected, res.Error
}

// GetSignal fetches a signal by id.
func (s *Store) GetSignal(signalID uint64) (domain.Signal, error) {
	var r signalRow
	if err := s.db.First(&r, "id = ?", signalID).Error; err != nil {
		return domain.Signal{}, err
	}
	return signalRowToDomain(r), nil
}

func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
