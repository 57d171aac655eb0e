package exchange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/market"
)

func TestStubFeedEmitsClosedCandles(t *testing.T) {
	f := NewFeed(ProviderStub, []string{"btcusdt", "BTCUSDT", "ethusdt"}, zerolog.Nop(),
		WithStubTick(5*time.Millisecond))

	var mu sync.Mutex
	var candles []market.Candle
	f.OnCandle(func(c market.Candle) {
		mu.Lock()
		candles = append(candles, c)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(candles)
		mu.Unlock()
		if n >= 16 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(candles) < 16 {
		t.Fatalf("expected at least 16 candles, got %d", len(candles))
	}
	closed := 0
	symbols := make(map[string]struct{})
	for _, c := range candles {
		symbols[c.Symbol] = struct{}{}
		if c.Closed {
			closed++
		}
		if c.Close <= 0 || c.High < c.Low {
			t.Fatalf("malformed candle: %+v", c)
		}
	}
	if closed == 0 {
		t.Fatalf("stub feed never closed a candle")
	}
	if len(symbols) != 2 {
		t.Fatalf("expected dedupe to 2 symbols, got %v", symbols)
	}
	if f.IsConnected() {
		t.Fatalf("feed still reports connected after stop")
	}
}

func TestFeedStopIsIdempotent(t *testing.T) {
	f := NewFeed(ProviderStub, []string{"BTCUSDT"}, zerolog.Nop(), WithStubTick(5*time.Millisecond))
	done := make(chan struct{})
	go func() {
		f.Run(context.Background())
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	f.Stop(time.Second)
	f.Stop(time.Second)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}

func TestParseKline(t *testing.T) {
	payload := []byte(`{
		"e":"kline","E":1700000005000,"s":"BTCUSDT",
		"k":{"t":1700000000000,"T":1700003599999,"s":"BTCUSDT","i":"1h",
		"o":"50000.10","c":"50500.50","h":"50600.00","l":"49900.00","v":"123.45","x":true}
	}`)

	c, ok := parseKline(payload)
	if !ok {
		t.Fatalf("expected kline to parse")
	}
	if c.Symbol != "BTCUSDT" || c.Interval != "1h" || !c.Closed {
		t.Fatalf("unexpected candle: %+v", c)
	}
	if c.Open != 50000.10 || c.Close != 50500.50 || c.High != 50600 || c.Low != 49900 || c.Volume != 123.45 {
		t.Fatalf("prices wrong: %+v", c)
	}
	if c.OpenTime.UnixMilli() != 1700000000000 || c.CloseTime.UnixMilli() != 1700003599999 {
		t.Fatalf("timestamps wrong: %+v", c)
	}

	if _, ok := parseKline([]byte(`{"e":"aggTrade","s":"BTCUSDT"}`)); ok {
		t.Fatalf("non-kline event must not parse")
	}
	if _, ok := parseKline([]byte(`{"e":"kline","s":"BTCUSDT","k":{"o":"not-a-number"}}`)); ok {
		t.Fatalf("malformed prices must not parse")
	}
}

func TestParseOrderUpdate(t *testing.T) {
	payload := []byte(`{
		"e":"ORDER_TRADE_UPDATE","E":1700000006000,
		"o":{"s":"ethusdt","c":"client-1","S":"SELL","o":"STOP_MARKET","q":"2","p":"0",
		"sp":"2900.5","X":"FILLED","i":8886774,"z":"2","ap":"2899.9","T":1700000006000,"R":true}
	}`)

	o, ok := ParseOrderUpdate(payload)
	if !ok {
		t.Fatalf("expected order update to parse")
	}
	if o.Symbol != "ETHUSDT" || o.ID != "8886774" || o.ClientID != "client-1" {
		t.Fatalf("identity wrong: %+v", o)
	}
	if o.Side != market.Sell || o.Type != market.OrderStopMarket || o.Status != market.OrderStatusFilled {
		t.Fatalf("classification wrong: %+v", o)
	}
	if o.StopPrice != 2900.5 || o.FilledQty != 2 || o.AvgPrice != 2899.9 || !o.ReduceOnly {
		t.Fatalf("fill fields wrong: %+v", o)
	}

	if _, ok := ParseOrderUpdate([]byte(`{"e":"ACCOUNT_UPDATE"}`)); ok {
		t.Fatalf("non-order event must not parse")
	}
}

func TestHandleMessageUnwrapsCombinedStream(t *testing.T) {
	f := NewFeed(ProviderBinanceFutures, []string{"BTCUSDT"}, zerolog.Nop())
	var got []market.Candle
	f.OnCandle(func(c market.Candle) { got = append(got, c) })

	combined := []byte(`{"stream":"btcusdt@kline_1h","data":{
		"e":"kline","s":"BTCUSDT",
		"k":{"t":1700000000000,"T":1700003599999,"i":"1h",
		"o":"1","c":"2","h":"3","l":"0.5","v":"10","x":false}}}`)
	f.handleMessage(combined)

	if len(got) != 1 || got[0].Close != 2 || got[0].Closed {
		t.Fatalf("combined stream message not delivered: %+v", got)
	}
}
