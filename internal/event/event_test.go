package event

import (
	"testing"

	"futurebot-go/internal/market"
)

func TestNewCandlePicksTypeFromClosedFlag(t *testing.T) {
	closed := NewCandle(market.Candle{Symbol: "BTCUSDT", Closed: true}, "test")
	if closed.Type != CandleClosed {
		t.Fatalf("expected CANDLE_CLOSED, got %s", closed.Type)
	}
	open := NewCandle(market.Candle{Symbol: "BTCUSDT"}, "test")
	if open.Type != CandleUpdate {
		t.Fatalf("expected CANDLE_UPDATE, got %s", open.Type)
	}
	if closed.Ts.IsZero() || open.Ts.IsZero() {
		t.Fatalf("constructors must stamp the event")
	}
}

func TestNewOrderMapsStatus(t *testing.T) {
	cases := map[market.OrderStatus]Type{
		market.OrderStatusNew:             OrderPlaced,
		market.OrderStatusFilled:          OrderFilled,
		market.OrderStatusPartiallyFilled: OrderPartiallyFilled,
		market.OrderStatusCanceled:        OrderPlaced,
	}
	for status, want := range cases {
		ev := NewOrder(market.Order{Symbol: "BTCUSDT", Status: status}, "ws")
		if ev.Type != want {
			t.Fatalf("status %s: expected %s, got %s", status, want, ev.Type)
		}
	}
}

func TestEnvelopeDoesNotAliasCallerValue(t *testing.T) {
	c := market.Candle{Symbol: "BTCUSDT", Close: 50000, Closed: true}
	ev := NewCandle(c, "")
	c.Close = 0
	if ev.Candle.Close != 50000 {
		t.Fatalf("event payload must be a copy of the producer's value")
	}
}
