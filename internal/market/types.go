// Package market defines the payload types shared between ingestion, strategy,
// and execution layers.
package market

import "time"

// Candle is one OHLCV bar for a symbol/interval pair. Closed reports whether
// the bar is final; in-progress bars must never drive entry or exit decisions.
type Candle struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// SignalType enumerates the directional intents a strategy can emit.
type SignalType string

const (
	SignalLongEntry  SignalType = "LONG_ENTRY"
	SignalShortEntry SignalType = "SHORT_ENTRY"
	SignalCloseLong  SignalType = "CLOSE_LONG"
	SignalCloseShort SignalType = "CLOSE_SHORT"
)

// IsEntry reports whether the signal opens a new position.
func (s SignalType) IsEntry() bool {
	return s == SignalLongEntry || s == SignalShortEntry
}

// IsExit reports whether the signal closes an existing position.
func (s SignalType) IsExit() bool {
	return s == SignalCloseLong || s == SignalCloseShort
}

// Signal expresses a trading decision produced by a strategy implementation.
// Entry signals carry take-profit/stop-loss levels; exit signals carry the
// reason the position should be closed.
type Signal struct {
	Type       SignalType
	Symbol     string
	EntryPrice float64
	TakeProfit float64
	StopLoss   float64
	Strategy   string
	Ts         time.Time
	ExitReason string
}

// Validate enforces the entry/exit field invariants.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return errSignalSymbol
	}
	switch {
	case s.Type.IsEntry():
		if s.TakeProfit <= 0 || s.StopLoss <= 0 {
			return errSignalBracket
		}
	case s.Type.IsExit():
		if s.ExitReason == "" {
			return errSignalReason
		}
	default:
		return errSignalType
	}
	return nil
}

// PositionSide is the direction of an open futures position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Position is an open futures position. At most one exists per symbol.
type Position struct {
	Symbol        string
	Side          PositionSide
	EntryPrice    float64
	Quantity      float64
	Leverage      int
	UnrealizedPnL float64
	EntryTime     time.Time
}

// PositionUpdate is a raw position delta pushed by the account stream or
// returned by a bulk position query. Zero quantity means the symbol is flat.
type PositionUpdate struct {
	Symbol        string
	Side          PositionSide
	EntryPrice    float64
	Quantity      float64
	UnrealizedPnL float64
	Leverage      int
}

// Flat reports whether the update describes a closed (zero-size) position.
func (u PositionUpdate) Flat() bool {
	return u.Quantity == 0
}

// Position converts a non-flat update into a Position snapshot.
func (u PositionUpdate) Position(at time.Time) *Position {
	if u.Flat() {
		return nil
	}
	return &Position{
		Symbol:        u.Symbol,
		Side:          u.Side,
		EntryPrice:    u.EntryPrice,
		Quantity:      u.Quantity,
		Leverage:      u.Leverage,
		UnrealizedPnL: u.UnrealizedPnL,
		EntryTime:     at,
	}
}
