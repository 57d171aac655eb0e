package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"futurebot-go/internal/audit"
	"futurebot-go/internal/bus"
	"futurebot-go/internal/dispatch"
	"futurebot-go/internal/engine"
	"futurebot-go/internal/market"
	"futurebot-go/internal/paper"
	"futurebot-go/internal/poscache"
	"futurebot-go/internal/strategy"
)

// scriptedStrategy emits one long entry on the first closed candle it sees.
type scriptedStrategy struct {
	fired    atomic.Bool
	analyzed atomic.Int64
}

func (s *scriptedStrategy) Name() string        { return "scripted" }
func (s *scriptedStrategy) Intervals() []string { return []string{"1h"} }

func (s *scriptedStrategy) Analyze(c market.Candle) *market.Signal {
	s.analyzed.Add(1)
	if !s.fired.CompareAndSwap(false, true) {
		return nil
	}
	return &market.Signal{
		Type:       market.SignalLongEntry,
		Symbol:     c.Symbol,
		EntryPrice: c.Close,
		TakeProfit: 55000,
		StopLoss:   48000,
		Strategy:   "scripted",
		Ts:         c.CloseTime,
	}
}

func (s *scriptedStrategy) ShouldExit(market.Position, market.Candle) *market.Signal {
	return nil
}

func closedCandle(ts time.Time) market.Candle {
	return market.Candle{
		Symbol:    "BTCUSDT",
		Interval:  "1h",
		OpenTime:  ts.Add(-time.Hour),
		CloseTime: ts,
		Open:      49800,
		High:      50100,
		Low:       49700,
		Close:     50000,
		Volume:    120,
		Closed:    true,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestClosedCandleFlowsThroughToExecution(t *testing.T) {
	log := zerolog.Nop()
	auditPath := filepath.Join(t.TempDir(), "audit.jsonl")
	rec, err := audit.NewJSONLRecorder(auditPath)
	if err != nil {
		t.Fatalf("NewJSONLRecorder: %v", err)
	}
	defer rec.Close()

	b := bus.New(bus.DefaultConfig(), log)
	gw := paper.New(paper.Config{StartingBalance: 10000, Leverage: 3}, log)
	cache := poscache.New(gw, time.Minute, log)
	strat := &scriptedStrategy{}
	disp, err := dispatch.New(dispatch.Config{Source: "integration"}, b, cache, gw,
		map[string]strategy.Strategy{"BTCUSDT": strat}, rec, log)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	eng, err := engine.New(engine.Config{
		Symbols:  []string{"BTCUSDT"},
		Quantity: 0.25,
		Source:   "integration",
	}, b, cache, disp, gw, log)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Shutdown()

	eng.HandleCandle(closedCandle(time.Now()))

	waitFor(t, func() bool {
		pos, _ := gw.GetPosition(context.Background(), "BTCUSDT")
		return pos != nil
	}, "entry to execute")

	pos, _ := gw.GetPosition(context.Background(), "BTCUSDT")
	if pos.Side != market.Long || pos.Quantity != 0.25 {
		t.Fatalf("unexpected position: %+v", pos)
	}
	open, _ := gw.GetOpenOrders(context.Background(), "BTCUSDT")
	if len(open) != 2 {
		t.Fatalf("expected bracket legs, got %d orders", len(open))
	}

	file, err := os.Open(auditPath)
	if err != nil {
		t.Fatalf("open audit trail: %v", err)
	}
	defer file.Close()
	var entries []audit.Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		entries = append(entries, e)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if !entries[0].SignalGenerated || entries[0].SignalType != string(market.SignalLongEntry) {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
	if entries[0].TakeProfit != 55000 || entries[0].StopLoss != 48000 {
		t.Fatalf("audit entry missing bracket levels: %+v", entries[0])
	}
}

// unreliableGateway fails position queries so every cache refresh reports
// unknown state.
type unreliableGateway struct {
	*paper.Gateway
}

func (g *unreliableGateway) GetPosition(ctx context.Context, symbol string) (*market.Position, error) {
	return nil, errors.New("simulated transport failure")
}

func TestUnknownPositionStateSuppressesTheWholeCycle(t *testing.T) {
	log := zerolog.Nop()
	b := bus.New(bus.DefaultConfig(), log)
	gw := &unreliableGateway{Gateway: paper.New(paper.Config{StartingBalance: 10000}, log)}
	cache := poscache.New(gw, time.Minute, log)
	strat := &scriptedStrategy{}
	disp, err := dispatch.New(dispatch.Config{Source: "integration"}, b, cache, gw,
		map[string]strategy.Strategy{"BTCUSDT": strat}, audit.Nop{}, log)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	eng, err := engine.New(engine.Config{
		Symbols:  []string{"BTCUSDT"},
		Quantity: 0.25,
		Source:   "integration",
	}, b, cache, disp, gw, log)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Shutdown()

	eng.HandleCandle(closedCandle(time.Now()))

	waitFor(t, func() bool {
		return b.Stats()[bus.QueueMarketData].Size == 0
	}, "market-data queue drain")
	time.Sleep(50 * time.Millisecond)

	if n := strat.analyzed.Load(); n != 0 {
		t.Fatalf("strategy must not run on unknown position state, analyzed %d times", n)
	}
	if size := b.Stats()[bus.QueueSignal].Size; size != 0 {
		t.Fatalf("no signal may be published on unknown state, %d queued", size)
	}
	pos, _ := gw.Gateway.GetPosition(context.Background(), "BTCUSDT")
	if pos != nil {
		t.Fatalf("no position may be opened on unknown state")
	}
}
