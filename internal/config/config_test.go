package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		prev, had := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(key, prev)
				return
			}
			_ = os.Unsetenv(key)
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "stripe", cfg.DefaultProvider)
	assert.Equal(t, "USD", cfg.DefaultCurrency)
	assert.Equal(t, int64(1), cfg.SnowflakeNode)
	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerOpenTimeout)
	assert.False(t, cfg.TracingEnabled)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("DEFAULT_PROVIDER", "Mock")
	t.Setenv("DEFAULT_CURRENCY", "eur")
	t.Setenv("PLATFORM_FEE_BPS", "250")
	t.Setenv("BREAKER_OPEN_TIMEOUT", "5s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
	assert.Equal(t, "file::memory:", cfg.DatabaseURL)
	assert.Equal(t, "mock", cfg.DefaultProvider)
	assert.Equal(t, "EUR", cfg.DefaultCurrency)
	assert.Equal(t, int64(250), cfg.PlatformFeeBps)
	assert.Equal(t, 5*time.Second, cfg.BreakerOpenTimeout)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	content := "STRIPE_SECRET_KEY=sk_test_dotenv\nSERVER_PORT=9090\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "sk_test_dotenv", cfg.StripeSecretKey)
	assert.Equal(t, "9090", cfg.ServerPort)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"driver", "DATABASE_DRIVER", "mysql"},
		{"fee", "PLATFORM_FEE_BPS", "10000"},
		{"node", "SNOWFLAKE_NODE", "2048"},
		{"currency", "DEFAULT_CURRENCY", "EURO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			_, err := Load(t.TempDir())
			assert.Error(t, err)
		})
	}
}
