package market

import (
	"errors"
	"fmt"
	"time"
)

// OrderSide enumerates order directions.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType enumerates the futures order types the engine places.
type OrderType string

const (
	OrderMarket             OrderType = "MARKET"
	OrderLimit              OrderType = "LIMIT"
	OrderStop               OrderType = "STOP"
	OrderStopMarket         OrderType = "STOP_MARKET"
	OrderTakeProfit         OrderType = "TAKE_PROFIT"
	OrderTakeProfitMarket   OrderType = "TAKE_PROFIT_MARKET"
	OrderTrailingStopMarket OrderType = "TRAILING_STOP_MARKET"
)

// OrderStatus enumerates exchange order states.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

var (
	errSignalSymbol  = errors.New("signal requires a symbol")
	errSignalBracket = errors.New("entry signal requires take-profit and stop-loss")
	errSignalReason  = errors.New("exit signal requires an exit reason")
	errSignalType    = errors.New("unknown signal type")
)

// Order is a placement request or exchange order snapshot.
type Order struct {
	ID           string
	ClientID     string
	Symbol       string
	Side         OrderSide
	Type         OrderType
	Quantity     float64
	Price        float64
	StopPrice    float64
	CallbackRate float64
	ReduceOnly   bool
	Status       OrderStatus
	FilledQty    float64
	AvgPrice     float64
	Ts           time.Time
}

// Validate enforces per-type field requirements before an order leaves the
// process. Violations are usage errors, never coerced.
func (o *Order) Validate() error {
	if o.Symbol == "" {
		return errors.New("order requires a symbol")
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("order side %q invalid", o.Side)
	}

	switch o.Type {
	case OrderMarket, OrderLimit:
		if o.Quantity <= 0 {
			return fmt.Errorf("%s order requires positive quantity", o.Type)
		}
	case OrderStop, OrderStopMarket, OrderTakeProfit, OrderTakeProfitMarket, OrderTrailingStopMarket:
		// TP/SL legs may be quantity-less (close-position orders).
	default:
		return fmt.Errorf("order type %q invalid", o.Type)
	}

	switch o.Type {
	case OrderLimit, OrderStop, OrderTakeProfit:
		if o.Price <= 0 {
			return fmt.Errorf("%s order requires a price", o.Type)
		}
	}

	switch o.Type {
	case OrderStop, OrderStopMarket, OrderTakeProfit, OrderTakeProfitMarket:
		if o.StopPrice <= 0 {
			return fmt.Errorf("%s order requires a stop price", o.Type)
		}
	case OrderTrailingStopMarket:
		if o.CallbackRate <= 0 {
			return errors.New("TRAILING_STOP_MARKET order requires a callback rate")
		}
	}
	return nil
}

// Active reports whether the order still rests on the exchange.
func (o *Order) Active() bool {
	return o.Status == OrderStatusNew || o.Status == OrderStatusPartiallyFilled
}
