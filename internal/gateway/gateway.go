// Package gateway defines the execution boundary between the coordination
// core and a concrete trading backend. The dispatcher and trade coordinator
// depend on this interface only; live and simulated backends implement it.
package gateway

import (
	"context"

	"futurebot-go/internal/market"
)

// BracketOrders are the protective legs placed alongside an entry.
type BracketOrders struct {
	TakeProfit *market.Order
	StopLoss   *market.Order
}

// CloseResult reports the outcome of a market close attempt.
type CloseResult struct {
	Success     bool
	OrderID     string
	AvgPrice    float64
	ExecutedQty float64
	Err         string
}

// ExecutionGateway abstracts order placement, cancellation, and account
// queries. GetPosition may fail on transport errors; the position cache is
// responsible for turning that into an "unknown" state rather than a flat one.
type ExecutionGateway interface {
	// ExecuteSignal places the entry order for a signal plus its TP/SL legs.
	ExecuteSignal(ctx context.Context, sig *market.Signal, quantity float64, reduceOnly bool) (*market.Order, BracketOrders, error)

	// ExecuteMarketClose flattens positionAmt of an open position at market.
	ExecuteMarketClose(ctx context.Context, symbol string, positionAmt float64, side market.PositionSide, reduceOnly bool) (CloseResult, error)

	// CancelAllOrders cancels every resting order for the symbol, optionally
	// verifying the book is empty afterwards, retrying up to maxRetries.
	CancelAllOrders(ctx context.Context, symbol string, verify bool, maxRetries int) (int, error)

	GetAccountBalance(ctx context.Context) (float64, error)

	// UpdateStopLoss replaces the active stop-loss for the symbol/side with a
	// new trigger price. Returns nil when there was no stop to move.
	UpdateStopLoss(ctx context.Context, symbol string, newStopPrice float64, side market.PositionSide) (*market.Order, error)

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error

	// GetPosition returns the open position for symbol, nil when flat.
	GetPosition(ctx context.Context, symbol string) (*market.Position, error)

	GetAllPositions(ctx context.Context, symbols []string) ([]market.PositionUpdate, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]market.Order, error)
}
