// Package config defines all configuration for the orderbook aggregator.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// fields overridable via DEX_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Hyperliquid HyperliquidConfig `mapstructure:"hyperliquid"`
	Lighter     LighterConfig     `mapstructure:"lighter"`
	Markets     MarketsConfig     `mapstructure:"markets"`
	Liquidity   LiquidityConfig   `mapstructure:"liquidity"`
	History     HistoryConfig     `mapstructure:"history"`
	Broadcast   BroadcastConfig   `mapstructure:"broadcast"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Server      ServerConfig      `mapstructure:"server"`
}

// HyperliquidConfig holds the Hyperliquid WebSocket venue's connection settings.
type HyperliquidConfig struct {
	WSURL          string        `mapstructure:"ws_url"`
	NLevels        int           `mapstructure:"n_levels"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
}

// LighterConfig holds the Lighter venue's WS and REST connection settings.
//
//   - RESTRefreshInterval: cadence of the deep periodic re-snapshot fetch.
//   - RESTSnapshotDepth/Limit: query params sent to orderBookOrders.
type LighterConfig struct {
	WSURL               string        `mapstructure:"ws_url"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	RESTBaseURL         string        `mapstructure:"rest_base_url"`
	ReconnectDelay      time.Duration `mapstructure:"reconnect_delay"`
	RESTRefreshInterval time.Duration `mapstructure:"rest_refresh_interval"`
	RESTSnapshotDepth   int           `mapstructure:"rest_snapshot_depth"`
	RESTSnapshotLimit   int           `mapstructure:"rest_snapshot_limit"`
	RESTTimeout         time.Duration `mapstructure:"rest_timeout"`
	RESTRateLimitPerSec float64       `mapstructure:"rest_rate_limit_per_sec"`
}

// MarketsConfig is the static symbol table. AvailableAssets is the full set
// clients may subscribe to; LighterMarketMap maps a symbol to its Lighter
// market index for the subset Lighter actually lists.
type MarketsConfig struct {
	AvailableAssets  []string       `mapstructure:"available_assets"`
	LighterMarketMap map[string]int `mapstructure:"lighter_market_map"`
}

// LiquidityConfig is the fixed USD notional ladder the liquidity engine walks.
type LiquidityConfig struct {
	SizesUSD []float64 `mapstructure:"sizes_usd"`
}

type HistoryConfig struct {
	RetentionSeconds int `mapstructure:"retention_seconds"`
}

// BroadcastConfig tunes the cadence loop and client heartbeat.
type BroadcastConfig struct {
	FrequencyHz  float64       `mapstructure:"frequency_hz"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig controls the HTTP/WS server exposing the duplex stream.
type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// All fields are overridable via DEX_<SECTION>_<FIELD> env vars, e.g.
// DEX_SERVER_ADDR, DEX_BROADCAST_FREQUENCY_HZ.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Hyperliquid.WSURL == "" {
		return fmt.Errorf("hyperliquid.ws_url is required")
	}
	if c.Hyperliquid.NLevels < 1 || c.Hyperliquid.NLevels > 100 {
		return fmt.Errorf("hyperliquid.n_levels must be between 1 and 100")
	}
	if c.Lighter.WSURL == "" {
		return fmt.Errorf("lighter.ws_url is required")
	}
	if c.Lighter.RESTBaseURL == "" {
		return fmt.Errorf("lighter.rest_base_url is required")
	}
	if len(c.Markets.AvailableAssets) == 0 {
		return fmt.Errorf("markets.available_assets must not be empty")
	}
	if len(c.Liquidity.SizesUSD) == 0 {
		return fmt.Errorf("liquidity.sizes_usd must not be empty")
	}
	if c.History.RetentionSeconds <= 0 {
		return fmt.Errorf("history.retention_seconds must be > 0")
	}
	if c.Broadcast.FrequencyHz <= 0 {
		return fmt.Errorf("broadcast.frequency_hz must be > 0")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
