// Package signal turns a raw whale position diff into a ranked Signal:
// confidence scoring, follower-context priority, a stable dedup
// fingerprint, and the periodic expiry sweep.
package signal

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/whalecopy/internal/domain"
)

var (
	ten        = decimal.NewFromInt(10)
	hundred    = decimal.NewFromInt(100)
	thirty     = decimal.NewFromInt(30)
	twenty     = decimal.NewFromInt(20)
	halfWeight = decimal.NewFromFloat(0.5)
	roeWeight  = decimal.NewFromInt(3)
	levWeight  = decimal.NewFromFloat(1.5)
)

// ConfidenceScore computes the confidence score: half the whale's
// historical score, plus up to 30 points of ROE signal, minus up to 20
// points of leverage penalty, clamped to [10,100].
func ConfidenceScore(whaleScore int, roe *decimal.Decimal, leverage *int) decimal.Decimal {
	score := halfWeight.Mul(decimal.NewFromInt(int64(whaleScore)))

	if roe != nil {
		roeTerm := roe.Abs().Mul(roeWeight)
		if roeTerm.GreaterThan(thirty) {
			roeTerm = thirty
		}
		score = score.Add(roeTerm)
	}

	if leverage != nil {
		levTerm := decimal.NewFromInt(int64(*leverage)).Mul(levWeight)
		if levTerm.GreaterThan(twenty) {
			levTerm = twenty
		}
		score = score.Sub(levTerm)
	}

	if score.LessThan(ten) {
		return ten
	}
	if score.GreaterThan(hundred) {
		return hundred
	}
	return score
}
