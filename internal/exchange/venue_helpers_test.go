package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/whalecopy/internal/domain"
)

func TestOKXSymbol_AppendsSwapSuffixForFutures(t *testing.T) {
	assert.Equal(t, "BTC-USDT", okxSymbol("BTC-USDT", domain.MarketSpot))
	assert.Equal(t, "BTC-USDT-SWAP", okxSymbol("BTCUSDT", domain.MarketUSDMFutures))
}

func TestBybitCategory_MapsMarketToVenueCategory(t *testing.T) {
	assert.Equal(t, "spot", bybitCategory(domain.MarketSpot))
	assert.Equal(t, "linear", bybitCategory(domain.MarketUSDMFutures))
	assert.Equal(t, "inverse", bybitCategory(domain.MarketCoinMFutures))
}

func TestBitgetHoldSide_MapsSideToHoldSide(t *testing.T) {
	assert.Equal(t, "long", bitgetHoldSide(domain.SideLong))
	assert.Equal(t, "short", bitgetHoldSide(domain.SideShort))
}

func TestClassifyOKXStatus_MapsKnownCodes(t *testing.T) {
	assert.NoError(t, classifyOKXStatus(200, []byte(`{"code":"0"}`)))
	assert.ErrorIs(t, classifyOKXStatus(200, []byte(`{"code":"51008","msg":"insufficient"}`)), domain.ErrInsufficientBal)
	assert.ErrorIs(t, classifyOKXStatus(200, []byte(`{"code":"51840","msg":"bad lever"}`)), domain.ErrInvalidLeverage)
}

func TestClassifyBybitStatus_MapsKnownCodes(t *testing.T) {
	assert.NoError(t, classifyBybitStatus(200, []byte(`{"retCode":0}`)))
	assert.ErrorIs(t, classifyBybitStatus(200, []byte(`{"retCode":110007,"retMsg":"insufficient"}`)), domain.ErrInsufficientBal)
	assert.ErrorIs(t, classifyBybitStatus(200, []byte(`{"retCode":110025,"retMsg":"not found"}`)), domain.ErrPositionNotFound)
}

func TestClassifyBitgetStatus_MapsKnownCodes(t *testing.T) {
	assert.NoError(t, classifyBitgetStatus(200, []byte(`{"code":"00000"}`)))
	assert.ErrorIs(t, classifyBitgetStatus(200, []byte(`{"code":"43012","msg":"insufficient"}`)), domain.ErrInsufficientBal)
	assert.ErrorIs(t, classifyBitgetStatus(200, []byte(`{"code":"40838","msg":"bad leverage"}`)), domain.ErrInvalidLeverage)
}
