// Binary paper runs the full trading engine against the in-memory paper
// gateway: live candles in, simulated fills out.
package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"futurebot-go/internal/audit"
	"futurebot-go/internal/bus"
	"futurebot-go/internal/config"
	"futurebot-go/internal/dispatch"
	"futurebot-go/internal/engine"
	"futurebot-go/internal/exchange"
	"futurebot-go/internal/metrics"
	"futurebot-go/internal/paper"
	"futurebot-go/internal/poscache"
	"futurebot-go/internal/strategy"
	"futurebot-go/internal/util"
)

func main() {
	_ = godotenv.Load() // best-effort

	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	strategies := make(map[string]strategy.Strategy, len(cfg.Exchange.Symbols))
	for _, sym := range cfg.Exchange.Symbols {
		strat, err := strategy.Build(cfg.Strategy.Mode, strategy.Params{
			Threshold:     cfg.Strategy.Params.Threshold,
			Lookback:      cfg.Strategy.Params.Lookback,
			TakeProfitPct: cfg.Strategy.Params.TakeProfitPct,
			StopLossPct:   cfg.Strategy.Params.StopLossPct,
			TrailPct:      cfg.Strategy.Params.TrailPct,
			Intervals:     cfg.Strategy.Intervals,
		})
		if err != nil {
			log.Fatal().Err(err).Str("symbol", sym).Msg("build strategy")
		}
		strategies[sym] = strat
	}

	var rec audit.Recorder = audit.Nop{}
	if cfg.Engine.AuditPath != "" {
		jsonl, err := audit.NewJSONLRecorder(cfg.Engine.AuditPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Engine.AuditPath).Msg("open audit trail")
		}
		defer jsonl.Close()
		rec = jsonl
	}

	b := bus.New(bus.Config{
		MarketDataCapacity: cfg.Engine.MarketDataQueueSize,
		SignalCapacity:     cfg.Engine.SignalQueueSize,
		OrderCapacity:      cfg.Engine.OrderQueueSize,
	}, log)

	gw := paper.New(paper.Config{
		StartingBalance: cfg.Paper.StartingBalance,
		Leverage:        cfg.Paper.Leverage,
		SlippageBps:     cfg.Paper.SlippageBps,
	}, log)

	cache := poscache.New(gw, cfg.Engine.PositionTTL(), log)

	disp, err := dispatch.New(dispatch.Config{
		Cooldown:          cfg.Engine.SignalCooldown(),
		StopSyncThreshold: cfg.Engine.StopSyncThreshold,
		Source:            "paper",
	}, b, cache, gw, strategies, rec, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build dispatcher")
	}

	quantity := cfg.Paper.QuantityPerSide
	if quantity <= 0 {
		quantity = 0.001
	}
	eng, err := engine.New(engine.Config{
		Symbols:    cfg.Exchange.Symbols,
		Quantity:   quantity,
		Leverage:   cfg.Exchange.Leverage,
		MarginType: cfg.Exchange.MarginType,
		Source:     "paper",
	}, b, cache, disp, gw, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build engine")
	}

	if err := eng.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start engine")
	}

	gw.OnOrderUpdate(eng.HandleOrderUpdate)

	intervals := cfg.Strategy.Intervals
	if len(intervals) == 0 {
		intervals = cfg.Exchange.Intervals
	}
	feed := exchange.NewFeed(cfg.Exchange.Provider, cfg.Exchange.Symbols, log,
		exchange.WithIntervals(intervals),
		exchange.WithBaseURL(cfg.Exchange.WSBaseURL),
	)
	feed.OnCandle(eng.HandleCandle)
	feed.OnOrderUpdate(eng.HandleOrderUpdate)

	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("feed stopped")
			cancel()
		}
	}()

	log.Info().
		Str("provider", cfg.Exchange.Provider).
		Strs("symbols", cfg.Exchange.Symbols).
		Msg("paper engine started")

	<-ctx.Done()
	log.Info().Msg("shutting down")
	feed.Stop(5 * time.Second)
	eng.Shutdown()
}
