package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"plspricer/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Registries []RegistryConfig `mapstructure:"registries"`
	Assets     []AssetConfig    `mapstructure:"reference_assets"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Watch      WatchConfig      `mapstructure:"watch"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Database   DatabaseConfig   `mapstructure:"database"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ChainConfig covers on-chain data access.
type ChainConfig struct {
	RPCURLs        []string      `mapstructure:"rpc_urls"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
}

// RegistryConfig identifies one AMM factory queried for pairs.
type RegistryConfig struct {
	Name    string `mapstructure:"name"`
	Factory string `mapstructure:"factory"`
}

// AssetConfig declares a reference asset tokens are priced against.
// Class is one of "bridge", "stable", "major".
type AssetConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Address  string `mapstructure:"address"`
	Class    string `mapstructure:"class"`
	Decimals int32  `mapstructure:"decimals"`
}

// BridgeConfig pins the pair used to anchor the wrapped-native USD price.
type BridgeConfig struct {
	AnchorPair    string        `mapstructure:"anchor_pair"`
	FallbackPrice float64       `mapstructure:"fallback_price"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// PricingConfig tunes the pair selection heuristics.
type PricingConfig struct {
	MinLiquidityUSD   float64           `mapstructure:"min_liquidity_usd"`
	LiquidityScoreCap float64           `mapstructure:"liquidity_score_cap"`
	OutlierRatio      float64           `mapstructure:"outlier_ratio"`
	OutlierPenalty    float64           `mapstructure:"outlier_penalty"`
	PinnedPairs       map[string]string `mapstructure:"pinned_pairs"`
}

// CacheConfig sets memoisation windows per data source.
type CacheConfig struct {
	ChainTTL      time.Duration `mapstructure:"chain_ttl"`
	AggregatorTTL time.Duration `mapstructure:"aggregator_ttl"`
}

// BatchConfig paces multi-token pricing.
type BatchConfig struct {
	Size  int           `mapstructure:"size"`
	Delay time.Duration `mapstructure:"delay"`
}

// AggregatorConfig captures the optional HTTP pair source.
type AggregatorConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	ChainID        string        `mapstructure:"chain_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// WatchConfig governs the periodic watchlist re-pricing loop.
type WatchConfig struct {
	Tokens          []string      `mapstructure:"tokens"`
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines price-move alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PLSPRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "plspricer")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("chain.rpc_urls", []string{
		"https://rpc.pulsechain.com",
		"https://rpc-pulsechain.g4mm4.io",
	})
	v.SetDefault("chain.request_timeout", "8s")
	v.SetDefault("chain.max_retries", 2)
	v.SetDefault("chain.retry_base_delay", "250ms")

	v.SetDefault("registries", []map[string]any{
		{"name": "pulsex-v1", "factory": "0x1715a3E4A142d8b698131108995174F37aEBA10D"},
		{"name": "pulsex-v2", "factory": "0x29eA7545DEf87022BAdc76323F373EA1e707C523"},
	})

	v.SetDefault("reference_assets", []map[string]any{
		{"symbol": "WPLS", "address": "0xA1077a294dDE1B09bB078844df40758a5D0f9a27", "class": "bridge", "decimals": 18},
		{"symbol": "DAI", "address": "0xefD766cCb38EaF1dfd701853BFCe31359239F305", "class": "stable", "decimals": 18},
		{"symbol": "USDC", "address": "0x15D38573d2feeb82e7ad5187aB8c1D52810B1f07", "class": "stable", "decimals": 6},
		{"symbol": "USDT", "address": "0x0Cb6F5a34ad42ec934882A05265A7d5F59b51A2f", "class": "stable", "decimals": 6},
		{"symbol": "PLSX", "address": "0x95B303987A60C71504D99Aa1b13B4DA07b0790ab", "class": "major", "decimals": 18},
	})

	// WPLS/DAI on PulseX V1. The anchor pair is never discovered dynamically.
	v.SetDefault("bridge.anchor_pair", "0xE56043671df55dE5CDf8459710433C10324DE0aE")
	v.SetDefault("bridge.fallback_price", 0.00003)
	v.SetDefault("bridge.ttl", "30s")

	v.SetDefault("pricing.min_liquidity_usd", 1000.0)
	v.SetDefault("pricing.liquidity_score_cap", 100.0)
	v.SetDefault("pricing.outlier_ratio", 10.0)
	v.SetDefault("pricing.outlier_penalty", 0.1)

	v.SetDefault("cache.chain_ttl", "15s")
	v.SetDefault("cache.aggregator_ttl", "3m")

	v.SetDefault("batch.size", 8)
	v.SetDefault("batch.delay", "150ms")

	v.SetDefault("aggregator.enabled", false)
	v.SetDefault("aggregator.base_url", "https://api.dexscreener.com")
	v.SetDefault("aggregator.chain_id", "pulsechain")
	v.SetDefault("aggregator.request_timeout", "10s")
	v.SetDefault("aggregator.max_backoff", "30s")
	v.SetDefault("aggregator.user_agent", "plspricer/1.0")

	v.SetDefault("watch.interval", "5m")
	v.SetDefault("watch.align_to_bucket", true)
	v.SetDefault("watch.advisory_lock_key", int64(0x504c5350))
	v.SetDefault("watch.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 10.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Chain.RPCURLs) == 0 {
		return fmt.Errorf("chain.rpc_urls must list at least one endpoint")
	}
	if c.Chain.RequestTimeout <= 0 {
		return fmt.Errorf("chain.request_timeout must be greater than zero")
	}
	if c.Chain.MaxRetries < 0 {
		return fmt.Errorf("chain.max_retries cannot be negative")
	}
	if len(c.Registries) == 0 {
		return fmt.Errorf("at least one registry factory is required")
	}
	var bridges, stables int
	for _, asset := range c.Assets {
		switch asset.Class {
		case "bridge":
			bridges++
		case "stable":
			stables++
		case "major":
		default:
			return fmt.Errorf("reference asset %s has unknown class %q", asset.Symbol, asset.Class)
		}
		if asset.Decimals < 0 {
			return fmt.Errorf("reference asset %s has negative decimals", asset.Symbol)
		}
	}
	if bridges != 1 {
		return fmt.Errorf("exactly one bridge-class reference asset is required, found %d", bridges)
	}
	if stables == 0 {
		return fmt.Errorf("at least one stable-class reference asset is required")
	}
	if c.Bridge.AnchorPair == "" {
		return fmt.Errorf("bridge.anchor_pair 必须配置")
	}
	if c.Bridge.FallbackPrice <= 0 {
		return fmt.Errorf("bridge.fallback_price must be greater than zero")
	}
	if c.Pricing.OutlierRatio <= 1 {
		return fmt.Errorf("pricing.outlier_ratio must be greater than one")
	}
	if c.Pricing.OutlierPenalty <= 0 || c.Pricing.OutlierPenalty > 1 {
		return fmt.Errorf("pricing.outlier_penalty must be in (0, 1]")
	}
	if c.Batch.Size <= 0 {
		return fmt.Errorf("batch.size must be greater than zero")
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("watch.interval must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}
