package strategy

import (
	"fmt"
	"strings"
)

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	Threshold     float64
	Lookback      int
	TakeProfitPct float64
	StopLossPct   float64
	TrailPct      float64
	Intervals     []string
}

// Build returns the strategy implementation matching the configured mode. An
// unknown mode is a configuration error and aborts setup.
func Build(mode string, params Params) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "momentum":
		return NewMomentum(params.Threshold, params.Lookback, params.TakeProfitPct, params.StopLossPct, params.TrailPct, params.Intervals), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}
