// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
	"github.com/rovshanmuradov/solana-sniper/internal/capital"
	"github.com/rovshanmuradov/solana-sniper/internal/dex/dexscreener"
	"github.com/rovshanmuradov/solana-sniper/internal/execution"
	"github.com/rovshanmuradov/solana-sniper/internal/monitor"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/types"
)

// EnvPrefix prefixes every environment override, e.g. SNIPER_WALLET_PRIVATE_KEY.
const EnvPrefix = "SNIPER"

// Storage drivers.
const (
	StorageNone     = "none"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Endpoints EndpointsConfig `mapstructure:"endpoints"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Capital   capital.Config  `mapstructure:"capital"`
	Exit      ExitConfig      `mapstructure:"exit"`
	Loops     LoopsConfig     `mapstructure:"loops"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Storage   StorageConfig   `mapstructure:"storage"`
	API       APIConfig       `mapstructure:"api"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Export    ExportConfig    `mapstructure:"export"`

	ShutdownTimeoutMS int `mapstructure:"shutdown_timeout_ms"`
}

type WalletConfig struct {
	PrivateKey string `mapstructure:"private_key"`
	KeyFile    string `mapstructure:"key_file"`
}

type EndpointConfig struct {
	URL      string `mapstructure:"url"`
	Priority int    `mapstructure:"priority"`
	Capacity int    `mapstructure:"capacity"`
	WindowMS int    `mapstructure:"window_ms"`
}

// EndpointsConfig lists one pool per service class.
type EndpointsConfig struct {
	Quote []EndpointConfig `mapstructure:"quote"`
	Swap  []EndpointConfig `mapstructure:"swap"`
	RPC   []EndpointConfig `mapstructure:"rpc"`
	Scan  []EndpointConfig `mapstructure:"scan"`
}

type PoolConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold"`
	BlacklistMS      int `mapstructure:"blacklist_ms"`
}

type RetryConfig struct {
	MaxRetries       int `mapstructure:"max_retries"`
	BaseDelayMS      int `mapstructure:"base_delay_ms"`
	MaxDelayMS       int `mapstructure:"max_delay_ms"`
	AttemptTimeoutMS int `mapstructure:"attempt_timeout_ms"`
}

// ExitConfig percentages are fractions: 0.25 is 25%.
type ExitConfig struct {
	ProfitTargetPct float64 `mapstructure:"profit_target_pct"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	TrailingStopPct float64 `mapstructure:"trailing_stop_pct"`
	MaxHoldSec      int     `mapstructure:"max_hold_sec"`
}

type LoopsConfig struct {
	ScanIntervalMS    int     `mapstructure:"scan_interval_ms"`
	MonitorIntervalMS int     `mapstructure:"monitor_interval_ms"`
	PriceRate         float64 `mapstructure:"price_rate"`
	PriceBurst        int     `mapstructure:"price_burst"`
	StatusIntervalMS  int     `mapstructure:"status_interval_ms"`
}

type ExecutionConfig struct {
	SlippageBps              int     `mapstructure:"slippage_bps"`
	MaxPriceImpactPct        float64 `mapstructure:"max_price_impact_pct"`
	ConfirmPolls             int     `mapstructure:"confirm_polls"`
	ConfirmDelayMS           int     `mapstructure:"confirm_delay_ms"`
	ResubmitEvery            int     `mapstructure:"resubmit_every"`
	Priority                 string  `mapstructure:"priority"`
	ExhaustionAlertThreshold int     `mapstructure:"exhaustion_alert_threshold"`
}

type ScannerConfig struct {
	Query           string  `mapstructure:"query"`
	MinLiquidityUSD float64 `mapstructure:"min_liquidity_usd"`
	MinValuationUSD float64 `mapstructure:"min_valuation_usd"`
	MaxValuationUSD float64 `mapstructure:"max_valuation_usd"`
	MinVolume5mUSD  float64 `mapstructure:"min_volume_5m_usd"`
	MaxPairAgeMin   int     `mapstructure:"max_pair_age_min"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresURL string `mapstructure:"postgres_url"`
	RedisURL    string `mapstructure:"redis_url"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Token   string `mapstructure:"token"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]interface{}{
	"wallet.private_key": "",
	"wallet.key_file":    "",

	"endpoints.quote": []map[string]interface{}{{"url": "https://quote-api.jup.ag/v6", "capacity": 10, "window_ms": 1000}},
	"endpoints.swap":  []map[string]interface{}{{"url": "https://quote-api.jup.ag/v6", "capacity": 5, "window_ms": 1000}},
	"endpoints.rpc":   []map[string]interface{}{{"url": "https://api.mainnet-beta.solana.com", "capacity": 10, "window_ms": 1000}},
	"endpoints.scan":  []map[string]interface{}{{"url": "https://api.dexscreener.com", "capacity": 5, "window_ms": 1000}},

	"pool.failure_threshold": rpc.DefaultFailureThreshold,
	"pool.blacklist_ms":      int(rpc.DefaultBlacklistDuration / time.Millisecond),

	"retry.max_retries":        rpc.DefaultMaxRetries,
	"retry.base_delay_ms":      int(rpc.DefaultBaseDelay / time.Millisecond),
	"retry.max_delay_ms":       int(rpc.DefaultMaxDelay / time.Millisecond),
	"retry.attempt_timeout_ms": 10_000,

	"capital.max_concurrent_positions": 5,
	"capital.max_position_size":        0.5,
	"capital.max_fraction_per_trade":   0.2,
	"capital.minimum_viable_size":      0.05,
	"capital.reserve_floor":            0.1,

	"exit.profit_target_pct": 0.25,
	"exit.stop_loss_pct":     0.15,
	"exit.trailing_stop_pct": 0.10,
	"exit.max_hold_sec":      3600,

	"loops.scan_interval_ms":    30_000,
	"loops.monitor_interval_ms": 5_000,
	"loops.price_rate":          5.0,
	"loops.price_burst":         1,
	"loops.status_interval_ms":  60_000,

	"execution.slippage_bps":               100,
	"execution.max_price_impact_pct":       5.0,
	"execution.confirm_polls":              30,
	"execution.confirm_delay_ms":           1000,
	"execution.resubmit_every":             5,
	"execution.priority":                   string(types.PriorityAuto),
	"execution.exhaustion_alert_threshold": 3,

	"scanner.query":             "SOL",
	"scanner.min_liquidity_usd": 10_000.0,
	"scanner.min_valuation_usd": 0.0,
	"scanner.max_valuation_usd": 0.0,
	"scanner.min_volume_5m_usd": 0.0,
	"scanner.max_pair_age_min":  24 * 60,

	"storage.driver":       StorageNone,
	"storage.postgres_url": "",
	"storage.redis_url":    "",
	"storage.redis_prefix": "sniper",

	"api.enabled": false,
	"api.listen":  "127.0.0.1:8080",
	"api.token":   "",

	"telegram.enabled": false,
	"telegram.token":   "",
	"telegram.chat_id": 0,

	"logging.level":        "info",
	"logging.file":         "logs/sniper.log",
	"logging.max_size_mb":  50,
	"logging.max_backups":  5,
	"logging.max_age_days": 14,

	"export.dir":    "",
	"export.format": "csv",

	"shutdown_timeout_ms": 60_000,
}

// LoadConfig reads path (JSON or YAML by extension) over the defaults and
// applies SNIPER_* environment overrides. An empty path uses defaults and
// the environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyEndpointLists(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEndpointLists lets comma separated SNIPER_{QUOTE,SWAP,RPC,SCAN}_URLS
// replace a whole endpoint list.
func applyEndpointLists(v *viper.Viper, cfg *Config) {
	lists := map[string]*[]EndpointConfig{
		"QUOTE_URLS": &cfg.Endpoints.Quote,
		"SWAP_URLS":  &cfg.Endpoints.Swap,
		"RPC_URLS":   &cfg.Endpoints.RPC,
		"SCAN_URLS":  &cfg.Endpoints.Scan,
	}
	for key, target := range lists {
		raw := v.GetString(key)
		if raw == "" {
			continue
		}
		var eps []EndpointConfig
		for i, u := range strings.Split(raw, ",") {
			if clean := strings.TrimSpace(u); clean != "" {
				eps = append(eps, EndpointConfig{URL: clean, Priority: i})
			}
		}
		if len(eps) > 0 {
			*target = eps
		}
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Wallet.PrivateKey == "" && c.Wallet.KeyFile == "" {
		return errors.New("wallet.private_key or wallet.key_file is required")
	}

	for name, eps := range map[string][]EndpointConfig{
		"quote": c.Endpoints.Quote,
		"swap":  c.Endpoints.Swap,
		"rpc":   c.Endpoints.RPC,
		"scan":  c.Endpoints.Scan,
	} {
		if len(eps) == 0 {
			return fmt.Errorf("endpoints.%s is empty", name)
		}
		for _, ep := range eps {
			if err := validateURL(ep.URL, "http"); err != nil {
				return fmt.Errorf("endpoints.%s: %q: %w", name, ep.URL, err)
			}
		}
	}

	if err := c.Capital.Validate(); err != nil {
		return fmt.Errorf("capital: %w", err)
	}
	if err := c.validateNumericParams(); err != nil {
		return err
	}
	if _, err := types.ParsePriority(c.Execution.Priority); err != nil {
		return fmt.Errorf("execution.priority: %w", err)
	}

	switch c.Storage.Driver {
	case StorageNone, "":
	case StoragePostgres:
		if c.Storage.PostgresURL == "" {
			return errors.New("storage.postgres_url is required for the postgres driver")
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("storage.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return errors.New("telegram.token and telegram.chat_id are required when telegram is enabled")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when the api is enabled")
	}
	switch c.Export.Format {
	case "csv", "json":
	default:
		return fmt.Errorf("export.format must be csv or json, got %q", c.Export.Format)
	}
	return nil
}

func (c *Config) validateNumericParams() error {
	switch {
	case c.Exit.ProfitTargetPct <= 0:
		return errors.New("invalid exit.profit_target_pct")
	case c.Exit.StopLossPct <= 0 || c.Exit.StopLossPct >= 1:
		return errors.New("exit.stop_loss_pct must be in (0, 1)")
	case c.Exit.TrailingStopPct < 0 || c.Exit.TrailingStopPct >= 1:
		return errors.New("exit.trailing_stop_pct must be in [0, 1)")
	case c.Exit.MaxHoldSec < 0:
		return errors.New("invalid exit.max_hold_sec")
	case c.Loops.MonitorIntervalMS <= 0:
		return errors.New("invalid loops.monitor_interval_ms")
	case c.Loops.ScanIntervalMS <= c.Loops.MonitorIntervalMS:
		return errors.New("loops.scan_interval_ms must be longer than loops.monitor_interval_ms")
	case c.Loops.PriceRate < 0:
		return errors.New("invalid loops.price_rate")
	case c.Execution.SlippageBps < 0 || c.Execution.SlippageBps > 10_000:
		return errors.New("execution.slippage_bps must be in [0, 10000]")
	case c.Execution.ConfirmPolls <= 0 || c.Execution.ConfirmDelayMS <= 0:
		return errors.New("execution.confirm_polls and confirm_delay_ms must be positive")
	case c.Retry.MaxRetries < 0:
		return errors.New("invalid retry.max_retries")
	case c.Retry.BaseDelayMS <= 0 || c.Retry.MaxDelayMS < c.Retry.BaseDelayMS:
		return errors.New("retry delays must be positive and max_delay_ms >= base_delay_ms")
	case c.Pool.FailureThreshold <= 0 || c.Pool.BlacklistMS <= 0:
		return errors.New("pool.failure_threshold and blacklist_ms must be positive")
	}
	return nil
}

func validateURL(rawURL, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// RPCEndpoints converts an endpoint list for rpc.NewPool.
func RPCEndpoints(eps []EndpointConfig) []rpc.EndpointConfig {
	out := make([]rpc.EndpointConfig, 0, len(eps))
	for _, ep := range eps {
		out = append(out, rpc.EndpointConfig{
			URL:            ep.URL,
			Priority:       ep.Priority,
			WindowCapacity: ep.Capacity,
			WindowDuration: ms(ep.WindowMS),
		})
	}
	return out
}

func (c *Config) PoolConfig() rpc.PoolConfig {
	return rpc.PoolConfig{
		FailureThreshold:  c.Pool.FailureThreshold,
		BlacklistDuration: ms(c.Pool.BlacklistMS),
	}
}

// RetryConfig overlays the configured retry section on the defaults.
// Unset delays keep the default; max_retries 0 disables retries unless the
// whole section is empty.
func (c *Config) RetryConfig() rpc.RetryConfig {
	out := rpc.DefaultRetryConfig()
	if c.Retry == (RetryConfig{}) {
		return out
	}
	out.MaxRetries = c.Retry.MaxRetries
	if c.Retry.BaseDelayMS > 0 {
		out.BaseDelay = ms(c.Retry.BaseDelayMS)
	}
	if c.Retry.MaxDelayMS > 0 {
		out.MaxDelay = ms(c.Retry.MaxDelayMS)
	}
	if c.Retry.AttemptTimeoutMS > 0 {
		out.AttemptTimeout = ms(c.Retry.AttemptTimeoutMS)
	}
	return out
}

func (c *Config) Rules() position.Rules {
	return position.Rules{
		ProfitTargetPct: c.Exit.ProfitTargetPct,
		StopLossPct:     c.Exit.StopLossPct,
		TrailingStopPct: c.Exit.TrailingStopPct,
		MaxHold:         time.Duration(c.Exit.MaxHoldSec) * time.Second,
	}
}

func (c *Config) ExecutionConfig() execution.Config {
	return execution.Config{
		SlippageBps:              c.Execution.SlippageBps,
		MaxPriceImpactPct:        c.Execution.MaxPriceImpactPct,
		ConfirmPolls:             c.Execution.ConfirmPolls,
		ConfirmDelay:             ms(c.Execution.ConfirmDelayMS),
		ResubmitEvery:            c.Execution.ResubmitEvery,
		ExhaustionAlertThreshold: c.Execution.ExhaustionAlertThreshold,
		Rules:                    c.Rules(),
	}
}

func (c *Config) MonitorConfig() monitor.Config {
	return monitor.Config{
		Interval:     ms(c.Loops.MonitorIntervalMS),
		PriceRate:    c.Loops.PriceRate,
		PriceBurst:   c.Loops.PriceBurst,
		PriceTimeout: ms(c.Retry.AttemptTimeoutMS) * time.Duration(c.Retry.MaxRetries+1),
	}
}

func (c *Config) ScanFilter() dexscreener.Filter {
	return dexscreener.Filter{
		MinLiquidityUSD: c.Scanner.MinLiquidityUSD,
		MinValuationUSD: c.Scanner.MinValuationUSD,
		MaxValuationUSD: c.Scanner.MaxValuationUSD,
		MinVolume5mUSD:  c.Scanner.MinVolume5mUSD,
		MaxPairAge:      time.Duration(c.Scanner.MaxPairAgeMin) * time.Minute,
	}
}

func (c *Config) ScanInterval() time.Duration {
	return ms(c.Loops.ScanIntervalMS)
}

func (c *Config) StatusInterval() time.Duration {
	return ms(c.Loops.StatusIntervalMS)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return ms(c.ShutdownTimeoutMS)
}

// PriorityFee resolves the configured priority level to lamports.
func (c *Config) PriorityFee() uint64 {
	level, err := types.ParsePriority(c.Execution.Priority)
	if err != nil {
		return 0
	}
	return level.FeeLamports()
}
