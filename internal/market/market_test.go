package market

import (
	"testing"
	"time"
)

func TestSignalValidate(t *testing.T) {
	cases := map[string]struct {
		sig     Signal
		wantErr bool
	}{
		"entry with bracket": {
			sig:     Signal{Type: SignalLongEntry, Symbol: "BTCUSDT", EntryPrice: 50000, TakeProfit: 55000, StopLoss: 48000},
			wantErr: false,
		},
		"entry missing stop loss": {
			sig:     Signal{Type: SignalShortEntry, Symbol: "BTCUSDT", EntryPrice: 50000, TakeProfit: 45000},
			wantErr: true,
		},
		"exit with reason": {
			sig:     Signal{Type: SignalCloseLong, Symbol: "ETHUSDT", EntryPrice: 3000, ExitReason: "trend reversal"},
			wantErr: false,
		},
		"exit missing reason": {
			sig:     Signal{Type: SignalCloseShort, Symbol: "ETHUSDT", EntryPrice: 3000},
			wantErr: true,
		},
		"missing symbol": {
			sig:     Signal{Type: SignalLongEntry, TakeProfit: 1, StopLoss: 1},
			wantErr: true,
		},
		"unknown type": {
			sig:     Signal{Type: "HOLD", Symbol: "BTCUSDT"},
			wantErr: true,
		},
	}
	for name, tc := range cases {
		err := tc.sig.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestOrderValidate(t *testing.T) {
	cases := map[string]struct {
		order   Order
		wantErr bool
	}{
		"market order": {
			order: Order{Symbol: "BTCUSDT", Side: Buy, Type: OrderMarket, Quantity: 0.5},
		},
		"market order zero quantity": {
			order:   Order{Symbol: "BTCUSDT", Side: Buy, Type: OrderMarket},
			wantErr: true,
		},
		"limit order without price": {
			order:   Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderLimit, Quantity: 1},
			wantErr: true,
		},
		"stop market without stop price": {
			order:   Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderStopMarket},
			wantErr: true,
		},
		"stop market with stop price": {
			order: Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderStopMarket, StopPrice: 48000},
		},
		"stop requires both prices": {
			order:   Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderStop, Price: 48000},
			wantErr: true,
		},
		"take profit market": {
			order: Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderTakeProfitMarket, StopPrice: 55000},
		},
		"trailing stop without callback": {
			order:   Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderTrailingStopMarket},
			wantErr: true,
		},
		"trailing stop with callback": {
			order: Order{Symbol: "BTCUSDT", Side: Sell, Type: OrderTrailingStopMarket, CallbackRate: 0.5},
		},
		"bad side": {
			order:   Order{Symbol: "BTCUSDT", Side: "LONG", Type: OrderMarket, Quantity: 1},
			wantErr: true,
		},
		"bad type": {
			order:   Order{Symbol: "BTCUSDT", Side: Buy, Type: "ICEBERG", Quantity: 1},
			wantErr: true,
		},
	}
	for name, tc := range cases {
		err := tc.order.Validate()
		if tc.wantErr && err == nil {
			t.Fatalf("%s: expected error, got nil", name)
		}
		if !tc.wantErr && err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
}

func TestPositionUpdateFlat(t *testing.T) {
	flat := PositionUpdate{Symbol: "BTCUSDT"}
	if !flat.Flat() {
		t.Fatalf("zero quantity update should be flat")
	}
	if flat.Position(time.Now()) != nil {
		t.Fatalf("flat update should not convert to a position")
	}

	open := PositionUpdate{Symbol: "BTCUSDT", Side: Long, EntryPrice: 50000, Quantity: 0.25, Leverage: 5}
	pos := open.Position(time.Unix(1700000000, 0))
	if pos == nil {
		t.Fatalf("expected position from non-flat update")
	}
	if pos.Side != Long || pos.Quantity != 0.25 || pos.EntryPrice != 50000 {
		t.Fatalf("unexpected position: %+v", pos)
	}
}
