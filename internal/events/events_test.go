package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublish_DeliversToAllSubscribersOfType(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []Event

	b.Subscribe(TradeExecuted, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	b.Subscribe(TradeExecuted, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	b.Publish(Event{Type: TradeExecuted, Payload: TradeExecutedPayload{TradeID: 1}})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestPublish_DoesNotDeliverToOtherTypes(t *testing.T) {
	b := New()
	called := false
	b.Subscribe(TradeFailed, func(ev Event) { called = true })

	b.Publish(Event{Type: TradeExecuted})

	time.Sleep(50 * time.Millisecond)
	assert.False(t, called)
}

func TestPublish_PanickingHandlerDoesNotBlockOthers(t *testing.T) {
	b := New()
	var mu sync.Mutex
	secondRan := false

	b.Subscribe(SignalProcessed, func(ev Event) { panic("boom") })
	b.Subscribe(SignalProcessed, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		secondRan = true
	})

	b.Publish(Event{Type: SignalProcessed})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondRan
	}, time.Second, 10*time.Millisecond)
}
