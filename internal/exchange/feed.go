// Package exchange hosts the streaming collaborators that deliver candles
// and order updates into the engine.
package exchange

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/market"
)

const (
	// ProviderStub emits deterministic synthetic candles (useful for tests
	// and offline work).
	ProviderStub = "stub"
	// ProviderBinanceFutures streams klines from Binance USD-M futures
	// websockets.
	ProviderBinanceFutures = "binance_futures"
)

// CandleHandler receives every parsed candle on the feed's own goroutine.
// Implementations must hand off quickly and never block on bus processing.
type CandleHandler func(market.Candle)

// OrderUpdateHandler receives parsed order updates from the user-data stream.
type OrderUpdateHandler func(market.Order)

// Feed represents a pluggable market data stream implementation.
type Feed struct {
	provider  string
	log       zerolog.Logger
	intervals []string
	stubTick  time.Duration
	baseURL   string

	mu       sync.RWMutex
	symbols  []string
	onCandle CandleHandler
	onOrder  OrderUpdateHandler

	connected atomic.Bool
	running   atomic.Bool
	cancel    context.CancelFunc
}

// Option configures Feed construction parameters.
type Option func(*Feed)

const (
	defaultStubTick = 200 * time.Millisecond
	defaultBaseURL  = "wss://fstream.binance.com"
)

// WithIntervals overrides the kline intervals subscribed per symbol.
func WithIntervals(intervals []string) Option {
	return func(f *Feed) {
		if len(intervals) > 0 {
			f.intervals = intervals
		}
	}
}

// WithBaseURL points the websocket dialer at a different endpoint (testnet).
func WithBaseURL(url string) Option {
	return func(f *Feed) {
		if url != "" {
			f.baseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithStubTick overrides the synthetic candle cadence of the stub provider.
func WithStubTick(d time.Duration) Option {
	return func(f *Feed) {
		if d > 0 {
			f.stubTick = d
		}
	}
}

// NewFeed constructs a feed backed by the requested provider.
func NewFeed(provider string, symbols []string, log zerolog.Logger, opts ...Option) *Feed {
	if provider == "" {
		provider = ProviderStub
	}
	f := &Feed{
		provider:  strings.ToLower(provider),
		log:       log.With().Str("component", "feed").Logger(),
		intervals: []string{"1h"},
		stubTick:  defaultStubTick,
		baseURL:   defaultBaseURL,
	}
	f.setSymbols(symbols)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnCandle registers the candle callback.
func (f *Feed) OnCandle(h CandleHandler) {
	f.mu.Lock()
	f.onCandle = h
	f.mu.Unlock()
}

// OnOrderUpdate registers the order-update callback.
func (f *Feed) OnOrderUpdate(h OrderUpdateHandler) {
	f.mu.Lock()
	f.onOrder = h
	f.mu.Unlock()
}

// IsConnected reports whether the upstream connection is live.
func (f *Feed) IsConnected() bool { return f.connected.Load() }

// SetSymbols replaces the tracked symbol list (deduplicated, sorted for
// determinism).
func (f *Feed) SetSymbols(symbols []string) {
	f.setSymbols(symbols)
}

func (f *Feed) setSymbols(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	unique := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		sym = strings.TrimSpace(strings.ToUpper(sym))
		if sym == "" {
			continue
		}
		unique[sym] = struct{}{}
	}
	f.symbols = f.symbols[:0]
	for sym := range unique {
		f.symbols = append(f.symbols, sym)
	}
	sort.Strings(f.symbols)
}

func (f *Feed) snapshotSymbols() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.symbols))
	copy(out, f.symbols)
	return out
}

func (f *Feed) emitCandle(c market.Candle) {
	f.mu.RLock()
	h := f.onCandle
	f.mu.RUnlock()
	if h != nil {
		h(c)
	}
}

func (f *Feed) emitOrder(o market.Order) {
	f.mu.RLock()
	h := f.onOrder
	f.mu.RUnlock()
	if h != nil {
		h(o)
	}
}

// Run streams candles into the registered callback until the context is
// canceled or Stop is called. Calling Run on a running feed is a no-op.
func (f *Feed) Run(ctx context.Context) error {
	if !f.running.CompareAndSwap(false, true) {
		return nil
	}
	defer f.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	switch f.provider {
	case ProviderBinanceFutures:
		return f.runBinanceFutures(ctx)
	default:
		return f.runStub(ctx)
	}
}

// Stop cancels a running feed. Idempotent; waiting for exit is bounded by
// timeout.
func (f *Feed) Stop(timeout time.Duration) {
	f.mu.RLock()
	cancel := f.cancel
	f.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	deadline := time.Now().Add(timeout)
	for f.running.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// runStub produces a synthetic uptrend: in-progress updates every tick and a
// closed candle every fourth tick.
func (f *Feed) runStub(ctx context.Context) error {
	ticker := time.NewTicker(f.stubTick)
	defer ticker.Stop()

	f.connected.Store(true)
	defer f.connected.Store(false)

	prices := make(map[string]float64)
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			tick++
			for _, sym := range f.snapshotSymbols() {
				px, ok := prices[sym]
				if !ok {
					px = 100
				}
				px *= 1.01
				prices[sym] = px
				c := market.Candle{
					Symbol:    sym,
					Interval:  f.intervals[0],
					OpenTime:  ts.Add(-time.Minute),
					CloseTime: ts,
					Open:      px * 0.995,
					High:      px * 1.002,
					Low:       px * 0.993,
					Close:     px,
					Volume:    10,
					Closed:    tick%4 == 0,
				}
				f.emitCandle(c)
			}
		}
	}
}
