// Package events is the in-process domain event bus: plain
// publish/subscribe, handlers run off the committing goroutine so a slow
// or failing subscriber never blocks the worker that just committed a
// transaction.
package events

import (
	"github.com/rs/zerolog/log"
)

// Type names every event this package carries.
type Type string

const (
	SignalDetected    Type = "SignalDetected"
	SignalProcessed   Type = "SignalProcessed"
	SignalFailed      Type = "SignalFailed"
	TradeExecuted     Type = "TradeExecuted"
	TradeFailed       Type = "TradeFailed"
	PositionOpened    Type = "PositionOpened"
	PositionClosed    Type = "PositionClosed"
	PositionLiquidated Type = "PositionLiquidated"
)

// Event is a published occurrence: Type tags it, Payload carries whatever
// identifiers and numeric fields that type's contract requires.
type Event struct {
	Type    Type
	Payload interface{}
}

// Handler processes one event. A Handler must not panic; Bus recovers and
// logs on its behalf so one bad subscriber can't take down the others.
type Handler func(Event)

// Bus is a fixed set of per-type subscriber lists. It holds no buffering
// of its own — Publish runs every matching handler in its own goroutine,
// so the caller (typically just after a DB commit) never blocks on a slow
// subscriber.
type Bus struct {
	handlers map[Type][]Handler
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers h to run for every event of typ.
func (b *Bus) Subscribe(typ Type, h Handler) {
	b.handlers[typ] = append(b.handlers[typ], h)
}

// Publish hands ev to every subscriber of its type, each on its own
// goroutine. A handler's panic is recovered and logged, never propagated.
func (b *Bus) Publish(ev Event) {
	for _, h := range b.handlers[ev.Type] {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("event", string(ev.Type)).Msg("event handler panicked")
				}
			}()
			h(ev)
		}()
	}
}

// SignalProcessedPayload is the payload for SignalProcessed/SignalFailed.
type SignalProcessedPayload struct {
	SignalID       uint64
	WhaleID        uint64
	TradesExecuted int
	Error          string
}

// TradeExecutedPayload is the payload for TradeExecuted/TradeFailed.
type TradeExecutedPayload struct {
	TradeID      uint64
	UserID       uint64
	VenueOrderID string
	ExecutedQty  string
	Error        string
}

// PositionPayload is the payload for PositionOpened/Closed/Liquidated.
type PositionPayload struct {
	PositionID  uint64
	UserID      uint64
	Symbol      string
	RealizedPnL string
	CloseReason string
}
