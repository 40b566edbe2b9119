// Package ticker is an optional streaming price cache that backs the
// position monitor's re-price pass with a live feed instead of one REST
// call per open position per tick: a combined Binance websocket stream
// keyed by raw venue symbol (BTCUSDT) rather than bare asset name, since
// the monitor works in venue symbols throughout.
package ticker

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// maxStaleness is how long a cached price is trusted before Reprice
// falls back to the adapter's REST ticker instead.
const maxStaleness = 30 * time.Second

type entry struct {
	price   decimal.Decimal
	updated time.Time
}

// Cache streams trade prices for a fixed symbol set over one combined
// Binance websocket connection and serves the latest price per symbol.
// It is a read-through optimization only: a miss or stale entry means
// the caller should fall back to an adapter's REST ticker, so nothing
// in this system depends on it being connected.
type Cache struct {
	wsURL   string
	symbols []string

	mu     sync.RWMutex
	prices map[string]entry

	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
}

func New(symbols []string) *Cache {
	return &Cache{
		wsURL:   "wss://stream.binance.com:9443/stream",
		symbols: symbols,
		prices:  make(map[string]entry),
		stopCh:  make(chan struct{}),
	}
}

// Start is a no-op when there are no symbols to stream.
func (c *Cache) Start() {
	if len(c.symbols) == 0 {
		return
	}
	c.running = true
	go c.run()
}

func (c *Cache) Stop() {
	if !c.running {
		return
	}
	c.running = false
	close(c.stopCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

// Price returns the cached price for symbol and whether it is fresh
// enough to trust.
func (c *Cache) Price(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.prices[strings.ToUpper(symbol)]
	if !ok || time.Since(e.updated) > maxStaleness {
		return decimal.Zero, false
	}
	return e.price, true
}

func (c *Cache) run() {
	for c.running {
		if err := c.connect(); err != nil {
			log.Error().Err(err).Msg("ticker cache websocket connection failed")
			select {
			case <-time.After(5 * time.Second):
			case <-c.stopCh:
				return
			}
			continue
		}

		c.readLoop()

		if !c.running {
			return
		}
		log.Warn().Msg("ticker cache disconnected, reconnecting")
		time.Sleep(time.Second)
	}
}

func (c *Cache) connect() error {
	streams := make([]string, 0, len(c.symbols))
	for _, s := range c.symbols {
		streams = append(streams, strings.ToLower(s)+"@trade")
	}
	url := fmt.Sprintf("%s?streams=%s", c.wsURL, strings.Join(streams, "/"))

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	log.Info().Strs("symbols", c.symbols).Msg("ticker cache connected")
	return nil
}

func (c *Cache) readLoop() {
	for c.running {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if c.running {
				log.Error().Err(err).Msg("ticker cache read error")
			}
			return
		}
		c.handle(message)
	}
}

func (c *Cache) handle(data []byte) {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return
	}

	var trade struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	}
	if err := json.Unmarshal(wrapper.Data, &trade); err != nil {
		return
	}

	price, err := decimal.NewFromString(trade.Price)
	if err != nil {
		return
	}

	c.mu.Lock()
	c.prices[strings.ToUpper(trade.Symbol)] = entry{price: price, updated: time.Now()}
	c.mu.Unlock()
}
