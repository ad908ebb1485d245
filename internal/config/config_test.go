// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/solana-sniper/internal/blockchain/solbc/rpc"
)

const testKey = "4wBqpZM9xaSheZzJSMawUHDgZ7miWfSsxmfVF5jJpYP2AHGvrLKaJBiRZEnMbr1QVqPTMkV8fEjh2azzkTTqTddo"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		env       map[string]string
		wantErr   string
		checkFunc func(t *testing.T, c *Config)
	}{
		{
			name: "defaults with key from env",
			env:  map[string]string{"SNIPER_WALLET_PRIVATE_KEY": testKey},
			checkFunc: func(t *testing.T, c *Config) {
				assert.Equal(t, 5, c.Capital.MaxConcurrentPositions)
				assert.Equal(t, StorageNone, c.Storage.Driver)
				assert.Len(t, c.Endpoints.RPC, 1)
				assert.Equal(t, 30*time.Second, c.ScanInterval())
				assert.Equal(t, 5*time.Second, c.MonitorConfig().Interval)
			},
		},
		{
			name: "file overrides defaults",
			body: `{
				"wallet": {"private_key": "` + testKey + `"},
				"endpoints": {
					"rpc": [
						{"url": "https://rpc-a.example.com", "priority": 0, "capacity": 20, "window_ms": 500},
						{"url": "https://rpc-b.example.com", "priority": 1}
					]
				},
				"capital": {"max_concurrent_positions": 2, "max_position_size": 1, "max_fraction_per_trade": 0.5, "minimum_viable_size": 0.1, "reserve_floor": 0.2},
				"exit": {"profit_target_pct": 0.5, "stop_loss_pct": 0.2, "trailing_stop_pct": 0.05, "max_hold_sec": 600}
			}`,
			checkFunc: func(t *testing.T, c *Config) {
				require.Len(t, c.Endpoints.RPC, 2)
				eps := RPCEndpoints(c.Endpoints.RPC)
				assert.Equal(t, "https://rpc-a.example.com", eps[0].URL)
				assert.Equal(t, 20, eps[0].WindowCapacity)
				assert.Equal(t, 500*time.Millisecond, eps[0].WindowDuration)
				assert.Equal(t, 1, eps[1].Priority)

				assert.Equal(t, 2, c.Capital.MaxConcurrentPositions)
				assert.InDelta(t, 0.2, c.Capital.ReserveFloor, 1e-12)

				rules := c.Rules()
				assert.InDelta(t, 0.5, rules.ProfitTargetPct, 1e-12)
				assert.Equal(t, 10*time.Minute, rules.MaxHold)
			},
		},
		{
			name: "env url list replaces endpoints",
			env: map[string]string{
				"SNIPER_WALLET_PRIVATE_KEY": testKey,
				"SNIPER_RPC_URLS":           "https://one.example.com, https://two.example.com",
			},
			checkFunc: func(t *testing.T, c *Config) {
				require.Len(t, c.Endpoints.RPC, 2)
				assert.Equal(t, "https://two.example.com", c.Endpoints.RPC[1].URL)
				assert.Equal(t, 1, c.Endpoints.RPC[1].Priority)
			},
		},
		{
			name: "env scalar override",
			env: map[string]string{
				"SNIPER_WALLET_PRIVATE_KEY":         testKey,
				"SNIPER_CAPITAL_MAX_POSITION_SIZE":  "2",
				"SNIPER_EXECUTION_PRIORITY":         "high",
				"SNIPER_LOGGING_LEVEL":              "debug",
				"SNIPER_EXECUTION_CONFIRM_DELAY_MS": "250",
			},
			checkFunc: func(t *testing.T, c *Config) {
				assert.InDelta(t, 2.0, c.Capital.MaxPositionSize, 1e-12)
				assert.Equal(t, uint64(200_000), c.PriorityFee())
				assert.Equal(t, "debug", c.Logging.Level)
				assert.Equal(t, 250*time.Millisecond, c.ExecutionConfig().ConfirmDelay)
			},
		},
		{
			name:    "missing wallet",
			wantErr: "wallet",
		},
		{
			name:    "bad endpoint scheme",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "endpoints": {"rpc": [{"url": "ftp://rpc.example.com"}]}}`,
			wantErr: "endpoints.rpc",
		},
		{
			name:    "scan interval not above monitor interval",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "loops": {"scan_interval_ms": 1000, "monitor_interval_ms": 1000}}`,
			wantErr: "scan_interval_ms",
		},
		{
			name:    "stop loss out of range",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "exit": {"stop_loss_pct": 1.5}}`,
			wantErr: "stop_loss_pct",
		},
		{
			name:    "invalid capital",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "capital": {"max_concurrent_positions": 0}}`,
			wantErr: "capital",
		},
		{
			name:    "postgres without url",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "storage": {"driver": "postgres"}}`,
			wantErr: "postgres_url",
		},
		{
			name:    "unknown storage driver",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "storage": {"driver": "sqlite"}}`,
			wantErr: "storage.driver",
		},
		{
			name:    "telegram without chat",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "telegram": {"enabled": true, "token": "t"}}`,
			wantErr: "telegram",
		},
		{
			name:    "unknown priority",
			body:    `{"wallet": {"private_key": "` + testKey + `"}, "execution": {"priority": "warp"}}`,
			wantErr: "execution.priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.body != "" {
				path = writeConfig(t, tt.body)
			}

			cfg, err := LoadConfig(path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.checkFunc(t, cfg)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestRetryConfigDefaults(t *testing.T) {
	var cfg Config
	assert.Equal(t, rpc.DefaultRetryConfig(), cfg.RetryConfig())

	cfg.Retry = RetryConfig{MaxRetries: 0, BaseDelayMS: 100}
	retry := cfg.RetryConfig()
	assert.Equal(t, 0, retry.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, retry.BaseDelay)
	assert.Equal(t, rpc.DefaultMaxDelay, retry.MaxDelay)
	assert.Equal(t, rpc.DefaultRetryConfig().AttemptTimeout, retry.AttemptTimeout)
}

func TestConverters(t *testing.T) {
	t.Setenv("SNIPER_WALLET_PRIVATE_KEY", testKey)
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	pool := cfg.PoolConfig()
	assert.Equal(t, 3, pool.FailureThreshold)
	assert.Equal(t, time.Minute, pool.BlacklistDuration)

	retry := cfg.RetryConfig()
	assert.Equal(t, 3, retry.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, retry.BaseDelay)
	assert.Equal(t, 10*time.Second, retry.AttemptTimeout)

	filter := cfg.ScanFilter()
	assert.Equal(t, 24*time.Hour, filter.MaxPairAge)
	assert.InDelta(t, 10_000.0, filter.MinLiquidityUSD, 1e-9)

	assert.Equal(t, 40*time.Second, cfg.MonitorConfig().PriceTimeout)
	assert.Equal(t, time.Minute, cfg.ShutdownTimeout())
}
