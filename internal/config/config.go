// Package config loads service settings from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for the payments service.
type Config struct {
	ServerPort              string        `mapstructure:"SERVER_PORT"`
	DatabaseDriver          string        `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	LogLevel                string        `mapstructure:"LOG_LEVEL"`
	DefaultProvider         string        `mapstructure:"DEFAULT_PROVIDER"`
	DefaultCurrency         string        `mapstructure:"DEFAULT_CURRENCY"`
	PlatformFeeBps          int64         `mapstructure:"PLATFORM_FEE_BPS"`
	StripeSecretKey         string        `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret     string        `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBaseURL        string        `mapstructure:"STRIPE_API_BASE_URL"`
	AccountEnabledRule      string        `mapstructure:"ACCOUNT_ENABLED_RULE"`
	SnowflakeNode           int64         `mapstructure:"SNOWFLAKE_NODE"`
	BreakerFailureThreshold int           `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	BreakerOpenTimeout      time.Duration `mapstructure:"BREAKER_OPEN_TIMEOUT"`
	TracingEnabled          bool          `mapstructure:"TRACING_ENABLED"`
}

var keys = []string{
	"SERVER_PORT",
	"DATABASE_DRIVER",
	"DATABASE_URL",
	"LOG_LEVEL",
	"DEFAULT_PROVIDER",
	"DEFAULT_CURRENCY",
	"PLATFORM_FEE_BPS",
	"STRIPE_SECRET_KEY",
	"STRIPE_WEBHOOK_SECRET",
	"STRIPE_API_BASE_URL",
	"ACCOUNT_ENABLED_RULE",
	"SNOWFLAKE_NODE",
	"BREAKER_FAILURE_THRESHOLD",
	"BREAKER_OPEN_TIMEOUT",
	"TRACING_ENABLED",
}

// Load reads configuration from environment variables, falling back to a
// .env file under path when present.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("DATABASE_DRIVER", "postgres")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DEFAULT_PROVIDER", "stripe")
	v.SetDefault("DEFAULT_CURRENCY", "USD")
	v.SetDefault("PLATFORM_FEE_BPS", 0)
	v.SetDefault("SNOWFLAKE_NODE", 1)
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_OPEN_TIMEOUT", "30s")
	v.SetDefault("TRACING_ENABLED", false)

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail much later at runtime.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps >= 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be in [0, 10000), got %d", c.PlatformFeeBps)
	}
	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("SNOWFLAKE_NODE must be in [0, 1023], got %d", c.SnowflakeNode)
	}
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter ISO code, got %q", c.DefaultCurrency)
	}
	return nil
}
