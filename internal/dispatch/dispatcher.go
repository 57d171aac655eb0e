// Package dispatch implements the candle → signal decision pipeline run once
// per closed candle.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/audit"
	"futurebot-go/internal/bus"
	"futurebot-go/internal/event"
	"futurebot-go/internal/gateway"
	"futurebot-go/internal/market"
	"futurebot-go/internal/metrics"
	"futurebot-go/internal/poscache"
	"futurebot-go/internal/strategy"
)

const (
	// DefaultCooldown is the minimum spacing between entry signals per symbol.
	DefaultCooldown = 5 * time.Minute
	// DefaultStopSyncThreshold is the relative trailing-stop movement below
	// which no replacement order is pushed, to avoid order churn.
	DefaultStopSyncThreshold = 0.001
)

// runState mirrors the engine lifecycle for the ingest guard.
type runState int32

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
)

// Config tunes the pipeline.
type Config struct {
	Cooldown          time.Duration
	StopSyncThreshold float64
	Source            string
}

type stopKey struct {
	symbol string
	side   market.PositionSide
}

// Dispatcher consumes closed-candle events, consults the position cache, and
// turns strategy decisions into published signals.
//
// Strategy calls run on the market-data processor goroutine: a slow strategy
// stalls dispatch for every symbol on that queue, but never the signal or
// order queues.
type Dispatcher struct {
	log        zerolog.Logger
	bus        *bus.Bus
	cache      *poscache.Cache
	gw         gateway.ExecutionGateway
	strategies map[string]strategy.Strategy
	rec        audit.Recorder

	cooldown time.Duration
	stopSync float64
	source   string

	mu          sync.Mutex
	pushedStops map[stopKey]float64

	state       atomic.Int32
	ingestDrops atomic.Uint64

	now func() time.Time
}

// New validates the symbol → strategy wiring and builds a dispatcher. Any
// configuration problem aborts before handlers can be registered.
func New(cfg Config, b *bus.Bus, cache *poscache.Cache, gw gateway.ExecutionGateway, strategies map[string]strategy.Strategy, rec audit.Recorder, log zerolog.Logger) (*Dispatcher, error) {
	if len(strategies) == 0 {
		return nil, errors.New("dispatch: no symbols configured")
	}
	for symbol, s := range strategies {
		if s == nil {
			return nil, fmt.Errorf("dispatch: symbol %s has no strategy", symbol)
		}
		if len(s.Intervals()) == 0 {
			return nil, fmt.Errorf("dispatch: strategy %s for %s declares no intervals", s.Name(), symbol)
		}
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.StopSyncThreshold <= 0 {
		cfg.StopSyncThreshold = DefaultStopSyncThreshold
	}
	if rec == nil {
		rec = audit.Nop{}
	}
	return &Dispatcher{
		log:         log.With().Str("component", "dispatch").Logger(),
		bus:         b,
		cache:       cache,
		gw:          gw,
		strategies:  strategies,
		rec:         rec,
		cooldown:    cfg.Cooldown,
		stopSync:    cfg.StopSyncThreshold,
		source:      cfg.Source,
		pushedStops: make(map[stopKey]float64),
		now:         time.Now,
	}, nil
}

// Start marks the dispatcher as accepting ingested candles.
func (d *Dispatcher) Start() { d.state.Store(int32(stateRunning)) }

// Stop marks the dispatcher as draining; further ingested candles are
// refused quietly.
func (d *Dispatcher) Stop() { d.state.Store(int32(stateStopping)) }

// IngestDrops reports how many candles were refused at the ingest boundary.
func (d *Dispatcher) IngestDrops() uint64 { return d.ingestDrops.Load() }

// IngestCandle is the cross-thread entry point for the streaming collaborator.
// It runs on the feed's goroutine and hands the candle to the bus without
// blocking on processing.
//
// Closed and in-progress candles share the market-data queue but not its
// overflow policy: closed candles get the bounded-wait publish, updates are
// fire-and-forget. When the queue is full of updates, a closed candle waits
// for the processor to free a slot while new updates are the ones dropped;
// only a queue saturated past the full wait loses a closed candle.
func (d *Dispatcher) IngestCandle(c market.Candle) {
	switch runState(d.state.Load()) {
	case stateRunning:
	case stateIdle, stateStopping:
		d.ingestDrops.Add(1)
		metrics.IngestDropsTotal.Inc()
		d.log.Debug().Str("symbol", c.Symbol).Msg("candle refused, engine not running")
		return
	default:
		d.ingestDrops.Add(1)
		metrics.IngestDropsTotal.Inc()
		d.log.Warn().Str("symbol", c.Symbol).Msg("candle refused in unexpected engine state")
		return
	}
	if d.bus == nil {
		d.ingestDrops.Add(1)
		metrics.IngestDropsTotal.Inc()
		d.log.Error().Str("symbol", c.Symbol).Msg("no bus available for candle handoff")
		return
	}

	ev := event.NewCandle(c, d.source)
	var err error
	if c.Closed {
		err = d.bus.Publish(ev, bus.QueueMarketData)
	} else {
		err = d.bus.TryPublish(ev, bus.QueueMarketData)
	}
	if err != nil {
		d.log.Error().Err(err).Str("symbol", c.Symbol).Msg("candle publish failed")
		return
	}
	metrics.CandlesTotal.WithLabelValues(c.Symbol, c.Interval).Inc()
}

// HandleCandleEvent is the bus handler for CANDLE_CLOSED events.
func (d *Dispatcher) HandleCandleEvent(ctx context.Context, ev event.Event) error {
	if ev.Candle == nil {
		return errors.New("candle event without candle payload")
	}
	c := *ev.Candle
	if !c.Closed {
		// In-progress bars never drive decisions.
		return nil
	}

	strat, ok := d.strategies[c.Symbol]
	if !ok {
		d.log.Error().Str("symbol", c.Symbol).Msg("closed candle for unconfigured symbol")
		return fmt.Errorf("no strategy configured for %s", c.Symbol)
	}
	if !strategy.WantsInterval(strat, c.Interval) {
		d.log.Debug().
			Str("symbol", c.Symbol).
			Str("interval", c.Interval).
			Msg("interval not consumed by strategy, skipping")
		return nil
	}

	pos, err := d.cache.Get(ctx, c.Symbol)
	if err != nil {
		// Acting on unknown position state risks duplicate entries; skip the
		// whole cycle and let the next candle retry.
		d.log.Warn().Err(err).Str("symbol", c.Symbol).Msg("position state unknown, skipping cycle")
		return nil
	}

	if pos != nil {
		d.exitPath(ctx, strat, *pos, c)
		return nil
	}
	d.entryPath(ctx, strat, c)
	return nil
}

func (d *Dispatcher) exitPath(ctx context.Context, strat strategy.Strategy, pos market.Position, c market.Candle) {
	sig := d.safeExit(strat, pos, c)
	if sig != nil {
		if err := sig.Validate(); err != nil {
			d.log.Error().Err(err).Str("symbol", c.Symbol).Msg("strategy produced invalid exit signal")
			return
		}
		d.publishWithAudit(c, sig)
		return
	}
	d.syncTrailingStop(ctx, strat, pos)
}

// syncTrailingStop pushes the strategy's persisted trailing level to the
// exchange when it has moved more than the configured relative threshold
// since the last push.
func (d *Dispatcher) syncTrailingStop(ctx context.Context, strat strategy.Strategy, pos market.Position) {
	tlp, ok := strat.(strategy.TrailingLevelProvider)
	if !ok {
		return
	}
	level, ok := tlp.TrailingLevel(pos.Symbol, pos.Side)
	if !ok || level <= 0 {
		return
	}

	key := stopKey{symbol: pos.Symbol, side: pos.Side}
	d.mu.Lock()
	last, pushed := d.pushedStops[key]
	d.mu.Unlock()
	if pushed && relDiff(level, last) <= d.stopSync {
		return
	}

	order, err := d.gw.UpdateStopLoss(ctx, pos.Symbol, level, pos.Side)
	if err != nil {
		d.log.Error().Err(err).
			Str("symbol", pos.Symbol).
			Float64("stop", level).
			Msg("stop-loss update failed")
		return
	}
	d.mu.Lock()
	d.pushedStops[key] = level
	d.mu.Unlock()

	entry := d.log.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("stop", level)
	if order != nil {
		entry = entry.Str("order_id", order.ID)
	}
	entry.Msg("trailing stop synced")
}

func (d *Dispatcher) entryPath(ctx context.Context, strat strategy.Strategy, c market.Candle) {
	now := d.now()
	if last, ok := d.cache.LastSignalAt(c.Symbol); ok {
		if elapsed := now.Sub(last); elapsed < d.cooldown {
			d.log.Debug().
				Str("symbol", c.Symbol).
				Dur("remaining", d.cooldown-elapsed).
				Msg("entry cooldown active, skipping")
			return
		}
	}

	sig := d.safeAnalyze(strat, c)
	if sig == nil {
		return
	}
	if err := sig.Validate(); err != nil {
		d.log.Error().Err(err).Str("symbol", c.Symbol).Msg("strategy produced invalid entry signal")
		return
	}

	d.cache.MarkSignal(c.Symbol, now)
	d.publishWithAudit(c, sig)
}

// publishWithAudit writes the audit record, then places the signal on the
// bus. Audit failures are logged but never block publication; a signal-queue
// timeout is an operational alarm surfaced through the error log.
func (d *Dispatcher) publishWithAudit(c market.Candle, sig *market.Signal) {
	entry := audit.Entry{
		Ts:              d.now().UTC(),
		Symbol:          sig.Symbol,
		Interval:        c.Interval,
		ClosePrice:      c.Close,
		SignalType:      string(sig.Type),
		Strategy:        sig.Strategy,
		SignalGenerated: true,
	}
	if sig.Type.IsEntry() {
		entry.EntryPrice = sig.EntryPrice
		entry.TakeProfit = sig.TakeProfit
		entry.StopLoss = sig.StopLoss
	} else {
		entry.ExitPrice = sig.EntryPrice
		entry.ExitReason = sig.ExitReason
	}
	if err := d.rec.Record(entry); err != nil {
		d.log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("audit write failed")
	}

	if err := d.bus.Publish(event.NewSignal(*sig, d.source), bus.QueueSignal); err != nil {
		d.log.Error().Err(err).
			Str("symbol", sig.Symbol).
			Str("type", string(sig.Type)).
			Msg("signal publish failed")
		return
	}
	metrics.SignalsTotal.WithLabelValues(sig.Symbol, string(sig.Type)).Inc()
	d.log.Info().
		Str("symbol", sig.Symbol).
		Str("type", string(sig.Type)).
		Str("strategy", sig.Strategy).
		Float64("price", sig.EntryPrice).
		Msg("signal published")
}

// safeAnalyze treats a panicking strategy as "no signal".
func (d *Dispatcher) safeAnalyze(strat strategy.Strategy, c market.Candle) (sig *market.Signal) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("symbol", c.Symbol).
				Str("strategy", strat.Name()).
				Interface("panic", r).
				Msg("strategy entry analysis panicked")
			sig = nil
		}
	}()
	return strat.Analyze(c)
}

func (d *Dispatcher) safeExit(strat strategy.Strategy, pos market.Position, c market.Candle) (sig *market.Signal) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("symbol", c.Symbol).
				Str("strategy", strat.Name()).
				Interface("panic", r).
				Msg("strategy exit analysis panicked")
			sig = nil
		}
	}()
	return strat.ShouldExit(pos, c)
}

func relDiff(a, b float64) float64 {
	if b == 0 {
		return math.Inf(1)
	}
	return math.Abs(a-b) / math.Abs(b)
}

// SetClock overrides the time source. Test hook.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }
