// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string
	Env         string
	MetricsAddr string
	LogLevel    string
}

// Exchange describes the futures exchange connectivity parameters the bot expects.
type Exchange struct {
	Name       string
	Provider   string   `yaml:"provider"`
	Symbols    []string `yaml:"symbols"`
	Intervals  []string `yaml:"intervals"`
	APIKey     string   `yaml:"api_key"`
	APISecret  string   `yaml:"api_secret"`
	Testnet    bool     `yaml:"testnet"`
	WSBaseURL  string   `yaml:"ws_base_url"`
	Leverage   int      `yaml:"leverage"`
	MarginType string   `yaml:"margin_type"`
}

// Engine tunes the coordination core: queue sizing, position cache freshness,
// and the dispatcher's rate limits.
type Engine struct {
	MarketDataQueueSize int     `yaml:"market_data_queue_size"`
	SignalQueueSize     int     `yaml:"signal_queue_size"`
	OrderQueueSize      int     `yaml:"order_queue_size"`
	PositionTTLSecs     int     `yaml:"position_ttl_secs"`
	SignalCooldownSecs  int     `yaml:"signal_cooldown_secs"`
	StopSyncThreshold   float64 `yaml:"stop_sync_threshold"`
	AuditPath           string  `yaml:"audit_path"`
}

// PositionTTL returns the cache TTL as a duration, zero when unset.
func (e Engine) PositionTTL() time.Duration {
	return time.Duration(e.PositionTTLSecs) * time.Second
}

// SignalCooldown returns the per-symbol signal cooldown as a duration.
func (e Engine) SignalCooldown() time.Duration {
	return time.Duration(e.SignalCooldownSecs) * time.Second
}

// StrategyParams groups tunable knobs for a strategy implementation.
type StrategyParams struct {
	Threshold     float64 `yaml:"threshold"`
	Lookback      int     `yaml:"lookback"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`
	StopLossPct   float64 `yaml:"stop_loss_pct"`
	TrailPct      float64 `yaml:"trail_pct"`
}

// Strategy specifies which strategy is active along with the parameter bundle.
type Strategy struct {
	Mode      string
	Intervals []string `yaml:"intervals"`
	Params    StrategyParams
}

// Paper captures paper-trading account settings.
type Paper struct {
	StartingBalance float64 `yaml:"starting_balance"`
	Leverage        int     `yaml:"leverage"`
	SlippageBps     float64 `yaml:"slippage_bps"`
	QuantityPerSide float64 `yaml:"quantity_per_side"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App      App      `yaml:"app"`
	Exchange Exchange `yaml:"exchange"`
	Engine   Engine   `yaml:"engine"`
	Strategy Strategy `yaml:"strategy"`
	Paper    Paper    `yaml:"paper"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the engine cannot start with. Bad trading
// parameters must fail at boot, not mid-session.
func (c *Config) Validate() error {
	if c.Strategy.Mode == "" {
		return fmt.Errorf("strategy.mode is required")
	}
	if len(c.Exchange.Symbols) == 0 {
		return fmt.Errorf("exchange.symbols must name at least one symbol")
	}
	for _, sym := range c.Exchange.Symbols {
		if sym == "" {
			return fmt.Errorf("exchange.symbols contains an empty symbol")
		}
	}
	if len(c.Strategy.Intervals) == 0 && len(c.Exchange.Intervals) == 0 {
		return fmt.Errorf("no candle intervals configured")
	}
	if c.Engine.StopSyncThreshold < 0 {
		return fmt.Errorf("engine.stop_sync_threshold must not be negative")
	}
	if c.Engine.PositionTTLSecs < 0 || c.Engine.SignalCooldownSecs < 0 {
		return fmt.Errorf("engine durations must not be negative")
	}
	if c.Exchange.Leverage < 0 {
		return fmt.Errorf("exchange.leverage must not be negative")
	}
	return nil
}
