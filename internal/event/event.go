// Package event defines the immutable envelope that moves through the bus.
package event

import (
	"time"

	"futurebot-go/internal/market"
)

// Type identifies what kind of payload an event carries.
type Type string

const (
	CandleUpdate         Type = "CANDLE_UPDATE"
	CandleClosed         Type = "CANDLE_CLOSED"
	SignalGenerated      Type = "SIGNAL_GENERATED"
	OrderPlaced          Type = "ORDER_PLACED"
	OrderFilled          Type = "ORDER_FILLED"
	OrderPartiallyFilled Type = "ORDER_PARTIALLY_FILLED"
	PositionOpened       Type = "POSITION_OPENED"
	PositionClosed       Type = "POSITION_CLOSED"
)

// Event is created by producers, consumed by processors, and never mutated in
// between. Exactly one payload field is set, matching Type.
type Event struct {
	Type      Type
	Candle    *market.Candle
	Signal    *market.Signal
	Order     *market.Order
	Positions []market.PositionUpdate
	Ts        time.Time
	Source    string
}

// NewCandle wraps a candle, choosing CANDLE_CLOSED or CANDLE_UPDATE from the
// candle's closed flag.
func NewCandle(c market.Candle, source string) Event {
	typ := CandleUpdate
	if c.Closed {
		typ = CandleClosed
	}
	return Event{Type: typ, Candle: &c, Ts: time.Now().UTC(), Source: source}
}

// NewSignal wraps a generated signal.
func NewSignal(s market.Signal, source string) Event {
	return Event{Type: SignalGenerated, Signal: &s, Ts: time.Now().UTC(), Source: source}
}

// NewOrder wraps an order snapshot, mapping its status to the matching type.
func NewOrder(o market.Order, source string) Event {
	typ := OrderPlaced
	switch o.Status {
	case market.OrderStatusFilled:
		typ = OrderFilled
	case market.OrderStatusPartiallyFilled:
		typ = OrderPartiallyFilled
	}
	return Event{Type: typ, Order: &o, Ts: time.Now().UTC(), Source: source}
}

// NewPositions wraps a batch of pushed account position updates.
func NewPositions(typ Type, updates []market.PositionUpdate, source string) Event {
	return Event{Type: typ, Positions: updates, Ts: time.Now().UTC(), Source: source}
}
