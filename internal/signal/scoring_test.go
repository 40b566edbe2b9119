package signal

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func TestConfidenceScore_BaseWhaleScoreOnly(t *testing.T) {
	score := ConfidenceScore(80, nil, nil)
	assert.True(t, score.Equal(decimal.NewFromInt(40)), "got %s", score)
}

func TestConfidenceScore_ROEBoostIsCappedAt30(t *testing.T) {
	roe := decimal.NewFromInt(50)
	score := ConfidenceScore(0, &roe, nil)
	assert.True(t, score.Equal(decimal.NewFromInt(30)), "got %s", score)
}

func TestConfidenceScore_NegativeROEUsesAbsoluteValue(t *testing.T) {
	pos := decimal.NewFromInt(5)
	neg := decimal.NewFromInt(-5)
	assert.True(t, ConfidenceScore(50, &pos, nil).Equal(ConfidenceScore(50, &neg, nil)))
}

func TestConfidenceScore_LeveragePenaltyIsCappedAt20(t *testing.T) {
	lev := 50
	score := ConfidenceScore(100, nil, &lev)
	assert.True(t, score.Equal(decimal.NewFromInt(30)), "got %s", score)
}

func TestConfidenceScore_ClampsToFloorOf10(t *testing.T) {
	lev := 100
	score := ConfidenceScore(0, nil, &lev)
	assert.True(t, score.Equal(decimal.NewFromInt(10)), "got %s", score)
}

func TestConfidenceScore_ClampsToCeilingOf100(t *testing.T) {
	roe := decimal.NewFromInt(100)
	score := ConfidenceScore(200, &roe, nil)
	assert.True(t, score.Equal(decimal.NewFromInt(100)), "got %s", score)
}

func TestConfidenceScore_FeedsIntoDomainBucket(t *testing.T) {
	roe := decimal.NewFromInt(10)
	lev := 2
	score := ConfidenceScore(70, &roe, &lev)
	assert.Equal(t, domain.ConfidenceHigh, domain.ConfidenceBucket(score))
}
