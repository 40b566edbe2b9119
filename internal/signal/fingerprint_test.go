package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func TestFingerprint_StableForSameInputs(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 15, 0, time.UTC)
	a := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, ts)
	b := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, ts)
	assert.Equal(t, a, b)
	assert.NotEmpty(t, a)
}

func TestFingerprint_CollapsesWithinSameMinute(t *testing.T) {
	t1 := time.Date(2026, 7, 30, 12, 0, 1, 0, time.UTC)
	t2 := time.Date(2026, 7, 30, 12, 0, 58, 0, time.UTC)
	a := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, t1)
	b := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, t2)
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersAcrossMinuteBoundary(t *testing.T) {
	t1 := time.Date(2026, 7, 30, 12, 0, 59, 0, time.UTC)
	t2 := time.Date(2026, 7, 30, 12, 1, 1, 0, time.UTC)
	a := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, t1)
	b := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, t2)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DiffersByWhale(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	a := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, ts)
	b := Fingerprint(8, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, ts)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DiffersByCloseFlag(t *testing.T) {
	ts := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	a := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, false, ts)
	b := Fingerprint(7, "BTCUSDT", domain.MarketUSDMFutures, domain.SideBuy, true, ts)
	assert.NotEqual(t, a, b)
}
