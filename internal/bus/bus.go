// Package bus implements the multi-queue event bus that decouples producers
// from consumers with priority-differentiated backpressure.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/event"
	"futurebot-go/internal/metrics"
)

// Queue selects one of the three bounded queues.
type Queue string

const (
	QueueMarketData Queue = "market_data"
	QueueSignal     Queue = "signal"
	QueueOrder      Queue = "order"
)

// State is the bus lifecycle phase.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateDraining
)

var (
	// ErrUnknownQueue marks a publish against a queue the bus does not own.
	ErrUnknownQueue = errors.New("unknown bus queue")
	// ErrPublishTimeout is returned when the signal queue stays full past its
	// timeout. Callers must treat it as an operational alarm, not drop it.
	ErrPublishTimeout = errors.New("publish timed out")
	// ErrAlreadyStarted is returned when Start is called on a bus that has
	// already been through a full stop; the bus is not restartable.
	ErrAlreadyStarted = errors.New("bus already stopped; not restartable")
)

// Handler processes one event. Handlers for the same event type run
// sequentially in registration order and must not assume exclusivity across
// types.
type Handler func(ctx context.Context, ev event.Event) error

// Config sizes the queues and tunes the overflow policies.
type Config struct {
	MarketDataCapacity int
	SignalCapacity     int
	OrderCapacity      int

	// MarketDataTimeout bounds how long a market-data publish waits for space
	// before dropping the event. Dropping here is expected under load.
	MarketDataTimeout time.Duration
	// SignalTimeout bounds how long a signal publish waits before failing.
	SignalTimeout time.Duration
	// DrainPoll is the queue-empty polling cadence during Shutdown.
	DrainPoll time.Duration
	// StopGrace is how long Shutdown waits for processors to exit before
	// cancelling the handler context as a last resort.
	StopGrace time.Duration
}

// DefaultConfig returns the production queue sizing.
func DefaultConfig() Config {
	return Config{
		MarketDataCapacity: 1000,
		SignalCapacity:     100,
		OrderCapacity:      50,
		MarketDataTimeout:  time.Second,
		SignalTimeout:      5 * time.Second,
		DrainPoll:          50 * time.Millisecond,
		StopGrace:          2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MarketDataCapacity <= 0 {
		c.MarketDataCapacity = d.MarketDataCapacity
	}
	if c.SignalCapacity <= 0 {
		c.SignalCapacity = d.SignalCapacity
	}
	if c.OrderCapacity <= 0 {
		c.OrderCapacity = d.OrderCapacity
	}
	if c.MarketDataTimeout <= 0 {
		c.MarketDataTimeout = d.MarketDataTimeout
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = d.SignalTimeout
	}
	if c.DrainPoll <= 0 {
		c.DrainPoll = d.DrainPoll
	}
	if c.StopGrace <= 0 {
		c.StopGrace = d.StopGrace
	}
	return c
}

// QueueStats is the observable health of one queue. Drops only ever grows on
// the market-data queue; a non-zero value there is how operators detect the
// lossy policy engaging.
type QueueStats struct {
	Size     int
	Capacity int
	Drops    uint64
}

type queue struct {
	name  Queue
	ch    chan event.Event
	drops atomic.Uint64
}

// Bus owns the three queues and their processor goroutines. Publish is safe
// from any goroutine; channel sends are the cross-thread handoff.
type Bus struct {
	cfg Config
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[event.Type][]Handler

	queues map[Queue]*queue

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	runCtx context.Context
	cancel context.CancelFunc
}

// New allocates the queues up front so publishing is valid before Start.
func New(cfg Config, log zerolog.Logger) *Bus {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:      cfg,
		log:      log.With().Str("component", "bus").Logger(),
		handlers: make(map[event.Type][]Handler),
		queues: map[Queue]*queue{
			QueueMarketData: {name: QueueMarketData, ch: make(chan event.Event, cfg.MarketDataCapacity)},
			QueueSignal:     {name: QueueSignal, ch: make(chan event.Event, cfg.SignalCapacity)},
			QueueOrder:      {name: QueueOrder, ch: make(chan event.Event, cfg.OrderCapacity)},
		},
		stopCh: make(chan struct{}),
		runCtx: ctx,
		cancel: cancel,
	}
	for name, q := range b.queues {
		metrics.QueueCapacity.WithLabelValues(string(name)).Set(float64(cap(q.ch)))
	}
	return b
}

// Subscribe appends a handler for the given event type. Duplicate
// registrations are allowed; an event type with no handlers is a no-op.
func (b *Bus) Subscribe(typ event.Type, h Handler) {
	b.mu.Lock()
	b.handlers[typ] = append(b.handlers[typ], h)
	b.mu.Unlock()
}

// Publish enqueues an event using the selected queue's overflow policy:
// market-data drops after MarketDataTimeout, signal fails after SignalTimeout,
// order blocks until space frees up.
func (b *Bus) Publish(ev event.Event, sel Queue) error {
	q, ok := b.queues[sel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, sel)
	}

	switch sel {
	case QueueMarketData:
		timer := time.NewTimer(b.cfg.MarketDataTimeout)
		defer timer.Stop()
		select {
		case q.ch <- ev:
		case <-timer.C:
			q.drops.Add(1)
			metrics.QueueDropsTotal.WithLabelValues(string(sel)).Inc()
			b.log.Warn().
				Str("queue", string(sel)).
				Str("event", string(ev.Type)).
				Uint64("drops", q.drops.Load()).
				Msg("market-data queue full, event dropped")
			return nil
		}
	case QueueSignal:
		timer := time.NewTimer(b.cfg.SignalTimeout)
		defer timer.Stop()
		select {
		case q.ch <- ev:
		case <-timer.C:
			return fmt.Errorf("%w: queue %q full for %s", ErrPublishTimeout, sel, b.cfg.SignalTimeout)
		}
	case QueueOrder:
		// Order events must never be dropped, even if the caller stalls.
		q.ch <- ev
	}
	metrics.QueueDepth.WithLabelValues(string(sel)).Set(float64(len(q.ch)))
	return nil
}

// TryPublish enqueues without waiting, dropping the event when the queue is
// full. It is the lane for in-progress candle updates, which must never
// consume the waiting budget closed-candle events get.
func (b *Bus) TryPublish(ev event.Event, sel Queue) error {
	q, ok := b.queues[sel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, sel)
	}
	select {
	case q.ch <- ev:
		metrics.QueueDepth.WithLabelValues(string(sel)).Set(float64(len(q.ch)))
	default:
		q.drops.Add(1)
		metrics.QueueDropsTotal.WithLabelValues(string(sel)).Inc()
	}
	return nil
}

// Start launches one processor goroutine per queue. Calling Start on a
// running bus is a no-op; a fully stopped bus cannot be restarted.
func (b *Bus) Start() error {
	select {
	case <-b.stopCh:
		return ErrAlreadyStarted
	default:
	}
	if !b.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return nil
	}
	for _, q := range b.queues {
		b.wg.Add(1)
		go b.process(q)
	}
	b.log.Info().
		Int("market_data_cap", b.cfg.MarketDataCapacity).
		Int("signal_cap", b.cfg.SignalCapacity).
		Int("order_cap", b.cfg.OrderCapacity).
		Msg("event bus started")
	return nil
}

// Stop signals the processors to exit without waiting for them. In-flight
// handler invocations run to completion; queued events are left in place.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.state.Store(int32(StateStopped))
		close(b.stopCh)
		b.log.Info().Msg("event bus stop requested")
	})
}

// Shutdown waits up to timeout per queue for a full drain, logging and moving
// on when a queue will not empty, then stops the processors. If a processor
// is still alive after the grace period the handler context is cancelled as a
// last resort.
func (b *Bus) Shutdown(timeout time.Duration) {
	b.state.CompareAndSwap(int32(StateRunning), int32(StateDraining))

	for name, q := range b.queues {
		if !b.awaitDrain(q, timeout) {
			b.log.Warn().
				Str("queue", string(name)).
				Int("remaining", len(q.ch)).
				Dur("timeout", timeout).
				Msg("queue failed to drain before shutdown")
		}
	}

	b.Stop()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.cfg.StopGrace):
		b.log.Error().Msg("processor did not exit in time, cancelling handler context")
		b.cancel()
		<-done
	}
	b.log.Info().Msg("event bus shut down")
}

func (b *Bus) awaitDrain(q *queue, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for len(q.ch) > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(b.cfg.DrainPoll)
	}
	return true
}

// State returns the current lifecycle phase.
func (b *Bus) State() State {
	return State(b.state.Load())
}

// Running reports whether processors are consuming (running or draining).
func (b *Bus) Running() bool {
	s := b.State()
	return s == StateRunning || s == StateDraining
}

// Stats snapshots size, capacity, and cumulative drops per queue.
func (b *Bus) Stats() map[Queue]QueueStats {
	out := make(map[Queue]QueueStats, len(b.queues))
	for name, q := range b.queues {
		out[name] = QueueStats{Size: len(q.ch), Capacity: cap(q.ch), Drops: q.drops.Load()}
	}
	return out
}

func (b *Bus) process(q *queue) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case ev := <-q.ch:
			metrics.QueueDepth.WithLabelValues(string(q.name)).Set(float64(len(q.ch)))
			b.dispatch(q, ev)
		}
	}
}

// dispatch fans one event out to every handler registered for its type,
// sequentially in registration order. A failing or panicking handler never
// aborts the remaining handlers or the processor loop.
func (b *Bus) dispatch(q *queue, ev event.Event) {
	b.mu.RLock()
	handlers := b.handlers[ev.Type]
	b.mu.RUnlock()

	for i, h := range handlers {
		b.invoke(q, ev, i, h)
	}
}

func (b *Bus) invoke(q *queue, ev event.Event, idx int, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().
				Str("queue", string(q.name)).
				Str("event", string(ev.Type)).
				Int("handler", idx).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()
	if err := h(b.runCtx, ev); err != nil {
		b.log.Error().
			Err(err).
			Str("queue", string(q.name)).
			Str("event", string(ev.Type)).
			Int("handler", idx).
			Msg("handler failed")
	}
}
