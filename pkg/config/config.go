// Package config resolves the process configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sigweihq/knowpay/pkg/constants"
)

// Config is the validated runtime configuration. It is passed explicitly to
// every component that needs it and never re-read from the environment.
type Config struct {
	Addr     string `validate:"required"`
	LogLevel string `validate:"oneof=debug info warn error"`

	// Network is the x402 network every payment is negotiated and verified on
	Network      string        `validate:"required"`
	RPCEndpoints []string      `validate:"dive,url"`
	RPCTimeout   time.Duration `validate:"gt=0"`

	// Optional fee split. Applied only when both addresses are valid for Network.
	ProgramID      string
	FeeVault       string
	FeeBasisPoints int `validate:"min=0,max=10000"`

	PaymentTimeoutSeconds int    `validate:"min=1"`
	PublicBaseURL         string `validate:"required,url"`

	DatabaseDSN   string `validate:"required"`
	CacheHost     string
	CachePort     int `validate:"min=0,max=65535"`
	CachePassword string

	// WebhookSecretKey is the hex encoded 32 byte key sealing webhook signing secrets
	WebhookSecretKey   string        `validate:"required,len=64,hexadecimal"`
	WebhookMaxAttempts int           `validate:"min=1,max=10"`
	WebhookTimeout     time.Duration `validate:"gt=0"`

	RateLimitMax    int           `validate:"min=0"`
	RateLimitWindow time.Duration `validate:"gt=0"`
}

// Load reads configuration from the optional .env file and the environment
func Load() (*Config, error) {
	if err := SetupEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	// Malformed numbers fail the load
	var parseErrs []error
	intEnv := func(key string, def int) int {
		n, err := GetEnvInt(key, def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return n
	}
	durationEnv := func(key string, def time.Duration) time.Duration {
		d, err := GetEnvDuration(key, def)
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		return d
	}

	cfg := &Config{
		Addr:                  GetEnv("APP_ADDR", ":8080"),
		LogLevel:              GetEnv("LOG_LEVEL", "info"),
		Network:               GetEnv("X402_NETWORK", ""),
		RPCEndpoints:          GetEnvList("RPC_ENDPOINTS"),
		RPCTimeout:            durationEnv("RPC_TIMEOUT", constants.TransactionReceiptTimeout),
		ProgramID:             GetEnv("PAYMENT_PROGRAM_ID", ""),
		FeeVault:              GetEnv("FEE_VAULT_ADDRESS", ""),
		FeeBasisPoints:        intEnv("FEE_BASIS_POINTS", 0),
		PaymentTimeoutSeconds: intEnv("PAYMENT_TIMEOUT_SECONDS", constants.DefaultPaymentTimeoutSeconds),
		PublicBaseURL:         GetEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		DatabaseDSN:           GetEnv("DB_DSN", ""),
		CacheHost:             GetEnv("CACHE_HOST", ""),
		CachePort:             intEnv("CACHE_PORT", 6379),
		CachePassword:         GetEnv("CACHE_PASSWORD", ""),
		WebhookSecretKey:      GetEnv("WEBHOOK_SECRET_KEY", ""),
		WebhookMaxAttempts:    intEnv("WEBHOOK_MAX_ATTEMPTS", constants.DefaultWebhookMaxAttempts),
		WebhookTimeout:        durationEnv("WEBHOOK_TIMEOUT", constants.WebhookTimeout),
		RateLimitMax:          intEnv("RATE_LIMIT_MAX", 60),
		RateLimitWindow:       durationEnv("RATE_LIMIT_WINDOW", time.Minute),
	}

	if err := errors.Join(parseErrs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field level constraints. Cross-field network consistency
// is a separate check, see CheckNetworkConsistency.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Endpoints returns the RPC endpoints for the configured network,
// falling back to the official public endpoints
func (c *Config) Endpoints() []string {
	if len(c.RPCEndpoints) > 0 {
		return c.RPCEndpoints
	}
	return constants.OfficialRPCEndpoints[c.Network]
}

// CacheEnabled reports whether a Redis cache is configured
func (c *Config) CacheEnabled() bool {
	return c.CacheHost != ""
}
