package strategy

import (
	"fmt"
	"math"
	"sync"

	"futurebot-go/internal/market"
)

// Momentum enters in the direction of percent change over a lookback window
// of closed candles and trails a stop behind the best close since entry.
type Momentum struct {
	threshold float64
	lookback  int
	tpPct     float64
	slPct     float64
	trailPct  float64
	intervals []string

	mu     sync.Mutex
	series map[string]*candleSeries
	trails map[trailKey]float64
}

type trailKey struct {
	symbol string
	side   market.PositionSide
}

type candleSeries struct {
	closes []float64
}

// NewMomentum builds a momentum strategy; zero parameters fall back to
// conservative defaults.
func NewMomentum(threshold float64, lookback int, tpPct, slPct, trailPct float64, intervals []string) *Momentum {
	if threshold <= 0 {
		threshold = 0.02
	}
	if lookback <= 0 {
		lookback = 12
	}
	if tpPct <= 0 {
		tpPct = 0.10
	}
	if slPct <= 0 {
		slPct = 0.04
	}
	if trailPct <= 0 {
		trailPct = 0.03
	}
	if len(intervals) == 0 {
		intervals = []string{"1h"}
	}
	return &Momentum{
		threshold: threshold,
		lookback:  lookback,
		tpPct:     tpPct,
		slPct:     slPct,
		trailPct:  trailPct,
		intervals: intervals,
		series:    make(map[string]*candleSeries),
		trails:    make(map[trailKey]float64),
	}
}

// Name returns the identifier used in signals and audit records.
func (m *Momentum) Name() string { return "Momentum" }

// Intervals lists the candle intervals the strategy analyzes on.
func (m *Momentum) Intervals() []string { return m.intervals }

// Analyze emits an entry when percent change over the lookback window clears
// the threshold.
func (m *Momentum) Analyze(c market.Candle) *market.Signal {
	if c.Symbol == "" || c.Close <= 0 {
		return nil
	}

	change, ok := m.observe(c)
	if !ok || math.Abs(change) < m.threshold {
		return nil
	}

	typ := market.SignalLongEntry
	tp := c.Close * (1 + m.tpPct)
	sl := c.Close * (1 - m.slPct)
	if change < 0 {
		typ = market.SignalShortEntry
		tp = c.Close * (1 - m.tpPct)
		sl = c.Close * (1 + m.slPct)
	}
	return &market.Signal{
		Type:       typ,
		Symbol:     c.Symbol,
		EntryPrice: c.Close,
		TakeProfit: tp,
		StopLoss:   sl,
		Strategy:   m.Name(),
		Ts:         c.CloseTime,
	}
}

// ShouldExit closes the position when momentum flips against it, and
// otherwise ratchets the trailing stop behind the close.
func (m *Momentum) ShouldExit(p market.Position, c market.Candle) *market.Signal {
	if c.Close <= 0 {
		return nil
	}

	change, ok := m.observe(c)
	against := false
	if ok {
		if p.Side == market.Long {
			against = change <= -m.threshold/2
		} else {
			against = change >= m.threshold/2
		}
	}
	if against {
		m.clearTrail(p.Symbol, p.Side)
		typ := market.SignalCloseLong
		if p.Side == market.Short {
			typ = market.SignalCloseShort
		}
		return &market.Signal{
			Type:       typ,
			Symbol:     p.Symbol,
			EntryPrice: c.Close,
			Strategy:   m.Name(),
			Ts:         c.CloseTime,
			ExitReason: fmt.Sprintf("momentum reversed %.2f%% against position", change*100),
		}
	}

	m.ratchetTrail(p, c.Close)
	return nil
}

// TrailingLevel exposes the persisted stop level for the dispatcher's
// stop-loss sync.
func (m *Momentum) TrailingLevel(symbol string, side market.PositionSide) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	level, ok := m.trails[trailKey{symbol: symbol, side: side}]
	return level, ok
}

func (m *Momentum) observe(c market.Candle) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.series[c.Symbol]
	if s == nil {
		s = &candleSeries{}
		m.series[c.Symbol] = s
	}
	s.closes = append(s.closes, c.Close)
	if len(s.closes) > m.lookback {
		s.closes = s.closes[len(s.closes)-m.lookback:]
	}
	if len(s.closes) < 2 {
		return 0, false
	}
	oldest := s.closes[0]
	if oldest <= 0 {
		return 0, false
	}
	return (c.Close - oldest) / oldest, true
}

func (m *Momentum) ratchetTrail(p market.Position, close float64) {
	key := trailKey{symbol: p.Symbol, side: p.Side}
	var level float64
	if p.Side == market.Long {
		level = close * (1 - m.trailPct)
	} else {
		level = close * (1 + m.trailPct)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.trails[key]
	// The trail only tightens: up for longs, down for shorts.
	if !ok || (p.Side == market.Long && level > prev) || (p.Side == market.Short && level < prev) {
		m.trails[key] = level
	}
}

func (m *Momentum) clearTrail(symbol string, side market.PositionSide) {
	m.mu.Lock()
	delete(m.trails, trailKey{symbol: symbol, side: side})
	m.mu.Unlock()
}
