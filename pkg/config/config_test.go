package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecretKey = strings.Repeat("ab", 32)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	Env = nil
	t.Setenv("X402_NETWORK", "solana-devnet")
	t.Setenv("DB_DSN", "user:pass@tcp(127.0.0.1:3306)/knowpay?parseTime=true")
	t.Setenv("WEBHOOK_SECRET_KEY", testSecretKey)
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "solana-devnet", cfg.Network)
	assert.Equal(t, []string{"https://api.devnet.solana.com"}, cfg.Endpoints())
	assert.Equal(t, 10*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 300, cfg.PaymentTimeoutSeconds)
	assert.Equal(t, 3, cfg.WebhookMaxAttempts)
	assert.False(t, cfg.CacheEnabled())
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RPC_ENDPOINTS", "https://rpc-a.devnet.example.com, ,https://rpc-b.devnet.example.com")
	t.Setenv("RPC_TIMEOUT", "3s")
	t.Setenv("FEE_BASIS_POINTS", "250")
	t.Setenv("CACHE_HOST", "redis")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://rpc-a.devnet.example.com", "https://rpc-b.devnet.example.com"}, cfg.Endpoints())
	assert.Equal(t, 3*time.Second, cfg.RPCTimeout)
	assert.Equal(t, 250, cfg.FeeBasisPoints)
	assert.True(t, cfg.CacheEnabled())
	assert.Equal(t, 5, cfg.WebhookMaxAttempts)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "missing network", key: "X402_NETWORK", value: ""},
		{name: "missing dsn", key: "DB_DSN", value: ""},
		{name: "short secret key", key: "WEBHOOK_SECRET_KEY", value: "abcd"},
		{name: "fee too high", key: "FEE_BASIS_POINTS", value: "10001"},
		{name: "bad log level", key: "LOG_LEVEL", value: "verbose"},
		{name: "bad endpoint", key: "RPC_ENDPOINTS", value: "not a url"},
		{name: "fractional fee", key: "FEE_BASIS_POINTS", value: "2.5"},
		{name: "fee with unit", key: "FEE_BASIS_POINTS", value: "250bps"},
		{name: "duration without unit", key: "RPC_TIMEOUT", value: "10"},
		{name: "non numeric port", key: "CACHE_PORT", value: "redis"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			if tt.value == "" {
				// os.Getenv treats empty as unset
				os.Unsetenv(tt.key)
			} else {
				t.Setenv(tt.key, tt.value)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSetupEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("X402_NETWORK=base\nRATE_LIMIT_MAX=7\n"), 0o600))
	t.Cleanup(func() { Env = nil })

	require.NoError(t, SetupEnvFile(filepath.Join(dir, "missing.env"), path))
	assert.Equal(t, "base", GetEnv("X402_NETWORK", ""))
	n, err := GetEnvInt("RATE_LIMIT_MAX", 60)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = GetEnvInt("UNSET_INT", 60)
	require.NoError(t, err)
	assert.Equal(t, 60, n)

	Env = nil
	assert.NoError(t, SetupEnvFile(filepath.Join(dir, "missing.env")))
}

func TestLoadReportsMalformedNumbers(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FEE_BASIS_POINTS", "2.5")
	t.Setenv("WEBHOOK_TIMEOUT", "five seconds")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FEE_BASIS_POINTS")
	assert.Contains(t, err.Error(), "WEBHOOK_TIMEOUT")
}

func TestGetEnvNumbers(t *testing.T) {
	Env = nil
	t.Setenv("SOME_INT", " 42 ")
	t.Setenv("SOME_BAD_INT", "4x2")
	t.Setenv("SOME_DURATION", "1500ms")
	t.Setenv("SOME_BAD_DURATION", "soon")

	n, err := GetEnvInt("SOME_INT", 1)
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	n, err = GetEnvInt("SOME_BAD_INT", 1)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	d, err := GetEnvDuration("SOME_DURATION", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, err = GetEnvDuration("SOME_BAD_DURATION", time.Second)
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Network:        "solana-devnet",
		RPCEndpoints:   []string{"https://api.devnet.solana.com"},
		FeeBasisPoints: 250,
	}
}

func TestCheckNetworkConsistency(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "consistent devnet",
			mutate: func(c *Config) {},
		},
		{
			name: "official endpoints fallback",
			mutate: func(c *Config) {
				c.Network = "base"
				c.RPCEndpoints = nil
			},
		},
		{
			name: "private endpoint without markers",
			mutate: func(c *Config) {
				c.Network = "base-sepolia"
				c.RPCEndpoints = []string{"http://10.0.0.5:8545"}
			},
		},
		{
			name:    "unknown network",
			mutate:  func(c *Config) { c.Network = "polygon" },
			wantErr: true,
		},
		{
			name:    "mainnet endpoint on devnet",
			mutate:  func(c *Config) { c.RPCEndpoints = []string{"https://api.mainnet-beta.solana.com"} },
			wantErr: true,
		},
		{
			name: "devnet endpoint on mainnet",
			mutate: func(c *Config) {
				c.Network = "solana"
				c.RPCEndpoints = []string{"https://api.devnet.solana.com"}
			},
			wantErr: true,
		},
		{
			name: "solana endpoint on evm network",
			mutate: func(c *Config) {
				c.Network = "base"
				c.RPCEndpoints = []string{"https://solana-rpc.example.com"}
			},
			wantErr: true,
		},
		{
			name:    "non http endpoint",
			mutate:  func(c *Config) { c.RPCEndpoints = []string{"ws://devnet.example.com"} },
			wantErr: true,
		},
		{
			name:    "fee out of range",
			mutate:  func(c *Config) { c.FeeBasisPoints = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := CheckNetworkConsistency(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, CheckNetworkConsistency(nil))
}

func TestReadinessCachesResult(t *testing.T) {
	cfg := validConfig()
	cfg.Network = "polygon"
	readiness := NewReadiness(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.False(t, readiness.Ready())
		}()
	}
	wg.Wait()

	// Fixing the config afterwards does not change the cached verdict
	cfg.Network = "solana-devnet"
	assert.Error(t, readiness.Check())
}
