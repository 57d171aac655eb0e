// Package engine wires the bus, position cache, dispatcher, and execution
// gateway into one lifecycle and carries signals through to execution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/bus"
	"futurebot-go/internal/dispatch"
	"futurebot-go/internal/event"
	"futurebot-go/internal/gateway"
	"futurebot-go/internal/market"
	"futurebot-go/internal/poscache"
)

// DefaultShutdownTimeout bounds the drain wait during Shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// Config carries the execution-side settings the engine needs at boot.
type Config struct {
	Symbols         []string
	Quantity        float64
	Leverage        int
	MarginType      string
	Source          string
	ShutdownTimeout time.Duration
}

// Engine owns the coordination core. Construction registers all bus handlers;
// Start brings the queues and the dispatcher online.
type Engine struct {
	log     zerolog.Logger
	bus     *bus.Bus
	cache   *poscache.Cache
	disp    *dispatch.Dispatcher
	gw      gateway.ExecutionGateway
	symbols map[string]struct{}

	quantity        float64
	leverage        int
	marginType      string
	source          string
	shutdownTimeout time.Duration
}

// New assembles the engine and subscribes its handlers on the bus.
func New(cfg Config, b *bus.Bus, cache *poscache.Cache, disp *dispatch.Dispatcher, gw gateway.ExecutionGateway, log zerolog.Logger) (*Engine, error) {
	if b == nil || cache == nil || disp == nil || gw == nil {
		return nil, errors.New("engine: bus, cache, dispatcher, and gateway are all required")
	}
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("engine: no symbols configured")
	}
	if cfg.Quantity <= 0 {
		return nil, fmt.Errorf("engine: quantity %f must be positive", cfg.Quantity)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	symbols := make(map[string]struct{}, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		symbols[sym] = struct{}{}
	}

	e := &Engine{
		log:             log.With().Str("component", "engine").Logger(),
		bus:             b,
		cache:           cache,
		disp:            disp,
		gw:              gw,
		symbols:         symbols,
		quantity:        cfg.Quantity,
		leverage:        cfg.Leverage,
		marginType:      cfg.MarginType,
		source:          cfg.Source,
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	b.Subscribe(event.CandleClosed, disp.HandleCandleEvent)
	b.Subscribe(event.SignalGenerated, e.handleSignal)
	b.Subscribe(event.OrderFilled, e.handleOrderFill)
	b.Subscribe(event.OrderPartiallyFilled, e.handleOrderFill)
	b.Subscribe(event.PositionOpened, e.handlePositionUpdate)
	b.Subscribe(event.PositionClosed, e.handlePositionUpdate)
	return e, nil
}

// Start applies per-symbol account settings, starts the bus processors, and
// opens the ingest gate.
func (e *Engine) Start(ctx context.Context) error {
	for sym := range e.symbols {
		if e.leverage > 0 {
			if err := e.gw.SetLeverage(ctx, sym, e.leverage); err != nil {
				return fmt.Errorf("set leverage for %s: %w", sym, err)
			}
		}
		if e.marginType != "" {
			if err := e.gw.SetMarginType(ctx, sym, e.marginType); err != nil {
				return fmt.Errorf("set margin type for %s: %w", sym, err)
			}
		}
	}
	if err := e.bus.Start(); err != nil {
		return err
	}
	e.disp.Start()
	e.log.Info().Int("symbols", len(e.symbols)).Msg("engine started")
	return nil
}

// Shutdown closes the ingest gate, drains the queues, and stops the bus.
func (e *Engine) Shutdown() {
	e.disp.Stop()
	e.bus.Shutdown(e.shutdownTimeout)
	e.log.Info().Msg("engine stopped")
}

// HandleCandle is the feed callback; it runs on the feed goroutine.
func (e *Engine) HandleCandle(c market.Candle) {
	e.disp.IngestCandle(c)
}

// HandleOrderUpdate bridges gateway or user-data-stream order updates onto
// the order queue, where loss is never acceptable.
func (e *Engine) HandleOrderUpdate(o market.Order) {
	if err := e.bus.Publish(event.NewOrder(o, e.source), bus.QueueOrder); err != nil {
		e.log.Error().Err(err).Str("symbol", o.Symbol).Msg("order update publish failed")
	}
}

// handleSignal executes a published signal against the gateway: entries open
// a position with bracket legs, exits flatten at market.
func (e *Engine) handleSignal(ctx context.Context, ev event.Event) error {
	if ev.Signal == nil {
		return errors.New("signal event without signal payload")
	}
	sig := *ev.Signal
	if _, ok := e.symbols[sig.Symbol]; !ok {
		return fmt.Errorf("signal for untracked symbol %s", sig.Symbol)
	}

	if sig.Type.IsEntry() {
		return e.executeEntry(ctx, &sig)
	}
	return e.executeExit(ctx, &sig)
}

func (e *Engine) executeEntry(ctx context.Context, sig *market.Signal) error {
	order, brackets, err := e.gw.ExecuteSignal(ctx, sig, e.quantity, false)
	if err != nil {
		e.log.Error().Err(err).
			Str("symbol", sig.Symbol).
			Str("type", string(sig.Type)).
			Msg("entry execution failed")
		return err
	}

	// The fill changed account state behind the cache's back.
	e.cache.Invalidate(sig.Symbol)

	side := market.Long
	if sig.Type == market.SignalShortEntry {
		side = market.Short
	}
	update := market.PositionUpdate{
		Symbol:     sig.Symbol,
		Side:       side,
		EntryPrice: order.AvgPrice,
		Quantity:   order.FilledQty,
		Leverage:   e.leverage,
	}
	if err := e.bus.Publish(event.NewPositions(event.PositionOpened, []market.PositionUpdate{update}, e.source), bus.QueueOrder); err != nil {
		e.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("position-opened publish failed")
	}

	evt := e.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(side)).
		Float64("qty", order.FilledQty).
		Float64("px", order.AvgPrice)
	if brackets.TakeProfit != nil {
		evt = evt.Float64("tp", brackets.TakeProfit.StopPrice)
	}
	if brackets.StopLoss != nil {
		evt = evt.Float64("sl", brackets.StopLoss.StopPrice)
	}
	evt.Msg("entry executed")
	return nil
}

func (e *Engine) executeExit(ctx context.Context, sig *market.Signal) error {
	side := market.Long
	if sig.Type == market.SignalCloseShort {
		side = market.Short
	}

	// Quantity zero flattens whatever is open.
	res, err := e.gw.ExecuteMarketClose(ctx, sig.Symbol, 0, side, true)
	if err != nil {
		e.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("exit execution failed")
		return err
	}
	if !res.Success {
		e.log.Warn().
			Str("symbol", sig.Symbol).
			Str("reason", res.Err).
			Msg("exit found nothing to close")
		return nil
	}

	e.cache.Invalidate(sig.Symbol)

	if _, err := e.gw.CancelAllOrders(ctx, sig.Symbol, true, 3); err != nil {
		e.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("bracket cleanup failed after close")
	}

	update := market.PositionUpdate{Symbol: sig.Symbol}
	if err := e.bus.Publish(event.NewPositions(event.PositionClosed, []market.PositionUpdate{update}, e.source), bus.QueueOrder); err != nil {
		e.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("position-closed publish failed")
	}

	e.log.Info().
		Str("symbol", sig.Symbol).
		Float64("qty", res.ExecutedQty).
		Float64("px", res.AvgPrice).
		Str("reason", sig.ExitReason).
		Msg("exit executed")
	return nil
}

// handlePositionUpdate applies pushed position batches straight into the
// cache, so a confirmed fill refreshes state without a round trip through the
// gateway. Untracked symbols are filtered by the cache's allowed set.
func (e *Engine) handlePositionUpdate(ctx context.Context, ev event.Event) error {
	if len(ev.Positions) == 0 {
		return errors.New("position event without updates")
	}
	e.cache.ApplyAccountUpdate(ev.Positions, e.symbols)
	return nil
}

// handleOrderFill keeps the cache honest when resting TP/SL orders fire
// without the engine initiating them.
func (e *Engine) handleOrderFill(ctx context.Context, ev event.Event) error {
	if ev.Order == nil {
		return errors.New("order event without order payload")
	}
	o := *ev.Order
	if _, ok := e.symbols[o.Symbol]; !ok {
		return nil
	}
	e.cache.Invalidate(o.Symbol)
	e.log.Debug().
		Str("symbol", o.Symbol).
		Str("type", string(o.Type)).
		Str("status", string(o.Status)).
		Msg("order fill observed, cache invalidated")
	return nil
}
