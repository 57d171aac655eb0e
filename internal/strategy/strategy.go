// Package strategy contains the strategy contract the dispatcher drives and
// the implementations shipped with the engine.
package strategy

import "futurebot-go/internal/market"

// Strategy is the decision interface invoked once per closed candle.
type Strategy interface {
	// Name identifies the strategy in signals, audit records, and logs.
	Name() string

	// Intervals lists the candle intervals the strategy wants to analyze on.
	// Candles on other intervals are filtered out before Analyze/ShouldExit.
	Intervals() []string

	// Analyze evaluates a closed candle with no open position and returns an
	// entry signal, or nil for no action.
	Analyze(c market.Candle) *market.Signal

	// ShouldExit evaluates a closed candle against the open position and
	// returns an exit signal, or nil to keep holding.
	ShouldExit(p market.Position, c market.Candle) *market.Signal
}

// TrailingLevelProvider is an optional capability: strategies that persist a
// trailing stop level implement it, and the dispatcher syncs the level to the
// exchange when it has moved enough.
type TrailingLevelProvider interface {
	// TrailingLevel returns the current stop level for symbol/side and
	// whether one is being tracked.
	TrailingLevel(symbol string, side market.PositionSide) (float64, bool)
}

// WantsInterval reports whether the strategy consumes the given interval.
func WantsInterval(s Strategy, interval string) bool {
	for _, iv := range s.Intervals() {
		if iv == interval {
			return true
		}
	}
	return false
}
