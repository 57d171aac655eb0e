// Package paper implements an in-memory futures execution gateway used for
// paper trading and as the reference ExecutionGateway implementation in
// tests.
package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"futurebot-go/internal/gateway"
	"futurebot-go/internal/market"
	"futurebot-go/internal/metrics"
)

const epsilon = 1e-9

// Config tunes the simulated account.
type Config struct {
	StartingBalance float64
	Leverage        int
	SlippageBps     float64
}

// Gateway simulates a USD-M futures account: one position per symbol, a cash
// balance credited with realized PnL, and resting TP/SL bracket orders.
type Gateway struct {
	mu       sync.Mutex
	log      zerolog.Logger
	balance  float64
	slippage float64
	leverage map[string]int
	margin   map[string]string
	pos      map[string]*market.Position
	orders   map[string][]market.Order
	marks    map[string]float64
	ledger   *Ledger

	onOrder func(market.Order)
	now     func() time.Time
}

// New builds a paper gateway with the given starting balance.
func New(cfg Config, log zerolog.Logger) *Gateway {
	if cfg.StartingBalance <= 0 {
		cfg.StartingBalance = 10_000
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	g := &Gateway{
		log:      log.With().Str("component", "paper").Logger(),
		balance:  cfg.StartingBalance,
		slippage: cfg.SlippageBps / 10_000,
		leverage: make(map[string]int),
		margin:   make(map[string]string),
		pos:      make(map[string]*market.Position),
		orders:   make(map[string][]market.Order),
		marks:    make(map[string]float64),
		ledger:   NewLedger(0),
		now:      time.Now,
	}
	g.defaultLeverage(cfg.Leverage)
	return g
}

func (g *Gateway) defaultLeverage(lev int) {
	g.leverage[""] = lev
}

// OnOrderUpdate registers a callback invoked with every order state change,
// on the caller's goroutine. The engine bridges it onto the bus order queue.
func (g *Gateway) OnOrderUpdate(fn func(market.Order)) {
	g.mu.Lock()
	g.onOrder = fn
	g.mu.Unlock()
}

// MarkPrice sets the mark used for unrealized PnL and market fills.
func (g *Gateway) MarkPrice(symbol string, price float64) {
	g.mu.Lock()
	g.marks[symbol] = price
	g.mu.Unlock()
}

// Ledger exposes the recorded fills for inspection.
func (g *Gateway) Ledger() *Ledger { return g.ledger }

// ExecuteSignal opens a position for an entry signal and rests its TP/SL
// bracket legs.
func (g *Gateway) ExecuteSignal(ctx context.Context, sig *market.Signal, quantity float64, reduceOnly bool) (*market.Order, gateway.BracketOrders, error) {
	if sig == nil {
		return nil, gateway.BracketOrders{}, errors.New("nil signal")
	}
	if err := sig.Validate(); err != nil {
		return nil, gateway.BracketOrders{}, err
	}
	if !sig.Type.IsEntry() {
		return nil, gateway.BracketOrders{}, fmt.Errorf("signal type %s is not an entry", sig.Type)
	}
	if quantity <= 0 {
		return nil, gateway.BracketOrders{}, errors.New("quantity must be positive")
	}

	g.mu.Lock()
	if existing := g.pos[sig.Symbol]; existing != nil {
		g.mu.Unlock()
		return nil, gateway.BracketOrders{}, fmt.Errorf("position already open for %s", sig.Symbol)
	}

	side := market.Buy
	posSide := market.Long
	fillPrice := sig.EntryPrice * (1 + g.slippage)
	if sig.Type == market.SignalShortEntry {
		side = market.Sell
		posSide = market.Short
		fillPrice = sig.EntryPrice * (1 - g.slippage)
	}

	entry := market.Order{
		ID:        uuid.NewString(),
		ClientID:  uuid.NewString(),
		Symbol:    sig.Symbol,
		Side:      side,
		Type:      market.OrderMarket,
		Quantity:  quantity,
		Status:    market.OrderStatusFilled,
		FilledQty: quantity,
		AvgPrice:  fillPrice,
		Ts:        g.now(),
	}

	lev := g.leverage[sig.Symbol]
	if lev == 0 {
		lev = g.leverage[""]
	}
	g.pos[sig.Symbol] = &market.Position{
		Symbol:     sig.Symbol,
		Side:       posSide,
		EntryPrice: fillPrice,
		Quantity:   quantity,
		Leverage:   lev,
		EntryTime:  entry.Ts,
	}

	closeSide := market.Sell
	if posSide == market.Short {
		closeSide = market.Buy
	}
	tp := market.Order{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       closeSide,
		Type:       market.OrderTakeProfitMarket,
		StopPrice:  sig.TakeProfit,
		ReduceOnly: true,
		Status:     market.OrderStatusNew,
		Ts:         entry.Ts,
	}
	sl := market.Order{
		ID:         uuid.NewString(),
		Symbol:     sig.Symbol,
		Side:       closeSide,
		Type:       market.OrderStopMarket,
		StopPrice:  sig.StopLoss,
		ReduceOnly: true,
		Status:     market.OrderStatusNew,
		Ts:         entry.Ts,
	}
	g.orders[sig.Symbol] = append(g.orders[sig.Symbol], tp, sl)
	g.mu.Unlock()

	g.ledger.Record(entry)
	metrics.OrdersTotal.WithLabelValues(entry.Symbol, string(entry.Side)).Inc()
	g.notify(entry)
	g.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(posSide)).
		Float64("qty", quantity).
		Float64("px", fillPrice).
		Msg("paper entry filled")

	return &entry, gateway.BracketOrders{TakeProfit: &tp, StopLoss: &sl}, nil
}

// ExecuteMarketClose flattens up to positionAmt of the open position at the
// current mark (or entry price when no mark is known).
func (g *Gateway) ExecuteMarketClose(ctx context.Context, symbol string, positionAmt float64, side market.PositionSide, reduceOnly bool) (gateway.CloseResult, error) {
	g.mu.Lock()
	pos := g.pos[symbol]
	if pos == nil || pos.Side != side {
		g.mu.Unlock()
		return gateway.CloseResult{Err: "no matching position"}, nil
	}
	qty := positionAmt
	if qty <= 0 || qty > pos.Quantity {
		qty = pos.Quantity
	}

	price := g.marks[symbol]
	if price <= 0 {
		price = pos.EntryPrice
	}
	realized := (price - pos.EntryPrice) * qty
	if pos.Side == market.Short {
		realized = -realized
	}
	g.balance += realized

	fill := market.Order{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       closeSideFor(side),
		Type:       market.OrderMarket,
		Quantity:   qty,
		ReduceOnly: true,
		Status:     market.OrderStatusFilled,
		FilledQty:  qty,
		AvgPrice:   price,
		Ts:         g.now(),
	}

	pos.Quantity -= qty
	if pos.Quantity <= epsilon {
		delete(g.pos, symbol)
		g.cancelAllLocked(symbol)
	}
	g.mu.Unlock()

	g.ledger.Record(fill)
	metrics.OrdersTotal.WithLabelValues(symbol, string(fill.Side)).Inc()
	g.notify(fill)
	g.log.Info().
		Str("symbol", symbol).
		Float64("qty", qty).
		Float64("px", price).
		Float64("realized", realized).
		Msg("paper position closed")

	return gateway.CloseResult{Success: true, OrderID: fill.ID, AvgPrice: price, ExecutedQty: qty}, nil
}

// CancelAllOrders drops every resting order for the symbol. verify and
// maxRetries exist for interface parity; the in-memory book cannot fail.
func (g *Gateway) CancelAllOrders(ctx context.Context, symbol string, verify bool, maxRetries int) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancelAllLocked(symbol), nil
}

func (g *Gateway) cancelAllLocked(symbol string) int {
	n := len(g.orders[symbol])
	delete(g.orders, symbol)
	return n
}

// GetAccountBalance returns the cash balance including realized PnL.
func (g *Gateway) GetAccountBalance(ctx context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balance, nil
}

// UpdateStopLoss replaces the resting stop order for symbol/side. Returns nil
// when there is no open position to protect.
func (g *Gateway) UpdateStopLoss(ctx context.Context, symbol string, newStopPrice float64, side market.PositionSide) (*market.Order, error) {
	if newStopPrice <= 0 {
		return nil, errors.New("stop price must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	pos := g.pos[symbol]
	if pos == nil || pos.Side != side {
		return nil, nil
	}

	kept := g.orders[symbol][:0]
	for _, o := range g.orders[symbol] {
		if o.Type != market.OrderStopMarket {
			kept = append(kept, o)
		}
	}
	stop := market.Order{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       closeSideFor(side),
		Type:       market.OrderStopMarket,
		StopPrice:  newStopPrice,
		ReduceOnly: true,
		Status:     market.OrderStatusNew,
		Ts:         g.now(),
	}
	g.orders[symbol] = append(kept, stop)
	return &stop, nil
}

// SetLeverage records the leverage applied to future entries on symbol.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("leverage %d out of range", leverage)
	}
	g.mu.Lock()
	g.leverage[symbol] = leverage
	g.mu.Unlock()
	return nil
}

// SetMarginType records the margin type; the simulation does not distinguish
// cross from isolated.
func (g *Gateway) SetMarginType(ctx context.Context, symbol, marginType string) error {
	g.mu.Lock()
	g.margin[symbol] = marginType
	g.mu.Unlock()
	return nil
}

// GetPosition returns a snapshot of the open position, nil when flat.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*market.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pos := g.pos[symbol]
	if pos == nil {
		return nil, nil
	}
	snap := *pos
	if mark := g.marks[symbol]; mark > 0 {
		snap.UnrealizedPnL = (mark - snap.EntryPrice) * snap.Quantity
		if snap.Side == market.Short {
			snap.UnrealizedPnL = -snap.UnrealizedPnL
		}
	}
	return &snap, nil
}

// GetAllPositions returns one update per requested symbol; flat symbols are
// reported with zero quantity.
func (g *Gateway) GetAllPositions(ctx context.Context, symbols []string) ([]market.PositionUpdate, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]market.PositionUpdate, 0, len(symbols))
	for _, sym := range symbols {
		u := market.PositionUpdate{Symbol: sym}
		if pos := g.pos[sym]; pos != nil {
			u.Side = pos.Side
			u.EntryPrice = pos.EntryPrice
			u.Quantity = pos.Quantity
			u.Leverage = pos.Leverage
		}
		out = append(out, u)
	}
	return out, nil
}

// GetOpenOrders returns copies of the resting orders for symbol.
func (g *Gateway) GetOpenOrders(ctx context.Context, symbol string) ([]market.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]market.Order, len(g.orders[symbol]))
	copy(out, g.orders[symbol])
	return out, nil
}

// notify delivers an order update without holding the account mutex. The
// engine bridges this callback onto the bus order queue, whose policy is to
// block when full; a callback under the lock would pin every other gateway
// method behind that wait.
func (g *Gateway) notify(o market.Order) {
	g.mu.Lock()
	cb := g.onOrder
	g.mu.Unlock()
	if cb != nil {
		cb(o)
	}
}

func closeSideFor(side market.PositionSide) market.OrderSide {
	if side == market.Long {
		return market.Sell
	}
	return market.Buy
}
