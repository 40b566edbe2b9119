package ticker

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPrice_MissingSymbolIsNotFresh(t *testing.T) {
	c := New([]string{"BTCUSDT"})
	_, ok := c.Price("BTCUSDT")
	assert.False(t, ok)
}

func TestPrice_ReturnsRecentlyHandledTrade(t *testing.T) {
	c := New([]string{"BTCUSDT"})
	c.handle([]byte(`{"stream":"btcusdt@trade","data":{"s":"BTCUSDT","p":"65000.50"}}`))

	price, ok := c.Price("btcusdt")
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("65000.50")))
}

func TestPrice_StaleEntryIsNotTrusted(t *testing.T) {
	c := New([]string{"ETHUSDT"})
	c.prices["ETHUSDT"] = entry{price: decimal.NewFromInt(3000), updated: time.Now().Add(-time.Minute)}

	_, ok := c.Price("ETHUSDT")
	assert.False(t, ok)
}

func TestHandle_IgnoresMalformedMessage(t *testing.T) {
	c := New([]string{"BTCUSDT"})
	c.handle([]byte(`not json`))
	_, ok := c.Price("BTCUSDT")
	assert.False(t, ok)
}

func TestStart_NoopWithoutSymbols(t *testing.T) {
	c := New(nil)
	c.Start()
	assert.False(t, c.running)
}
