package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"futurebot-go/internal/market"
)

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type klineEvent struct {
	Event string `json:"e"`
	// EventTime absorbs the numeric "E" key so it cannot case-insensitively
	// match the "e" tag and break decoding.
	EventTime int64        `json:"E"`
	Symbol    string       `json:"s"`
	Kline     klinePayload `json:"k"`
}

type klinePayload struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Final     bool   `json:"x"`
}

type orderTradeUpdate struct {
	Event string `json:"e"`
	// EventTime absorbs the numeric "E" key so it cannot case-insensitively
	// match the "e" tag and break decoding.
	EventTime int64              `json:"E"`
	Order     orderUpdatePayload `json:"o"`
}

type orderUpdatePayload struct {
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	Type      string `json:"o"`
	Status    string `json:"X"`
	OrderID   int64  `json:"i"`
	ClientID  string `json:"c"`
	Quantity  string `json:"q"`
	Price     string `json:"p"`
	StopPrice string `json:"sp"`
	FilledQty string `json:"z"`
	AvgPrice  string `json:"ap"`
	TradeTime int64  `json:"T"`
	Reduce    bool   `json:"R"`
}

func (f *Feed) runBinanceFutures(ctx context.Context) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return fmt.Errorf("binance futures feed requires at least one symbol")
	}

	var streams []string
	for _, sym := range symbols {
		for _, iv := range f.intervals {
			streams = append(streams, strings.ToLower(sym)+"@kline_"+iv)
		}
	}

	url := fmt.Sprintf("%s/stream?streams=%s", f.baseURL, strings.Join(streams, "/"))
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.consumeStream(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.log.Warn().Err(err).Msg("binance futures feed disconnected, retrying")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = time.Duration(math.Min(float64(maxBackoff), float64(backoff)*1.8))
			continue
		}
		return nil
	}
}

func (f *Feed) consumeStream(ctx context.Context, url string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	f.connected.Store(true)
	defer f.connected.Store(false)
	f.log.Info().Str("provider", ProviderBinanceFutures).Strs("symbols", f.snapshotSymbols()).Msg("connected market data feed")

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.log.Warn().Err(err).Msg("binance ping failed")
					return
				}
			case <-pingCtx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

func (f *Feed) handleMessage(message []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		f.log.Warn().Err(err).Msg("failed to decode stream message")
		return
	}
	payload := env.Data
	if payload == nil {
		// Raw (non-combined) connections deliver the event at the top level.
		payload = message
	}

	if c, ok := parseKline(payload); ok {
		f.emitCandle(c)
		return
	}
	if o, ok := ParseOrderUpdate(payload); ok {
		f.emitOrder(o)
	}
}

// parseKline converts a kline event payload into a Candle. The second return
// is false for non-kline or malformed payloads.
func parseKline(data []byte) (market.Candle, bool) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event != "kline" {
		return market.Candle{}, false
	}
	open, err1 := strconv.ParseFloat(ev.Kline.Open, 64)
	closePx, err2 := strconv.ParseFloat(ev.Kline.Close, 64)
	high, err3 := strconv.ParseFloat(ev.Kline.High, 64)
	low, err4 := strconv.ParseFloat(ev.Kline.Low, 64)
	vol, err5 := strconv.ParseFloat(ev.Kline.Volume, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return market.Candle{}, false
	}
	return market.Candle{
		Symbol:    strings.ToUpper(ev.Symbol),
		Interval:  ev.Kline.Interval,
		OpenTime:  time.UnixMilli(ev.Kline.OpenTime).UTC(),
		CloseTime: time.UnixMilli(ev.Kline.CloseTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    vol,
		Closed:    ev.Kline.Final,
	}, true
}

// ParseOrderUpdate converts an ORDER_TRADE_UPDATE user-data payload into an
// Order snapshot for fill detection.
func ParseOrderUpdate(data []byte) (market.Order, bool) {
	var ev orderTradeUpdate
	if err := json.Unmarshal(data, &ev); err != nil || ev.Event != "ORDER_TRADE_UPDATE" {
		return market.Order{}, false
	}
	o := ev.Order
	qty, _ := strconv.ParseFloat(o.Quantity, 64)
	price, _ := strconv.ParseFloat(o.Price, 64)
	stop, _ := strconv.ParseFloat(o.StopPrice, 64)
	filled, _ := strconv.ParseFloat(o.FilledQty, 64)
	avg, _ := strconv.ParseFloat(o.AvgPrice, 64)
	return market.Order{
		ID:         strconv.FormatInt(o.OrderID, 10),
		ClientID:   o.ClientID,
		Symbol:     strings.ToUpper(o.Symbol),
		Side:       market.OrderSide(o.Side),
		Type:       market.OrderType(o.Type),
		Quantity:   qty,
		Price:      price,
		StopPrice:  stop,
		ReduceOnly: o.Reduce,
		Status:     market.OrderStatus(o.Status),
		FilledQty:  filled,
		AvgPrice:   avg,
		Ts:         time.UnixMilli(o.TradeTime).UTC(),
	}, true
}
