package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/paie-engine/config"
)

var keys = []string{
	"PAIE_ADDR", "PAIE_DB_PATH", "PAIE_LOG_LEVEL", "PAIE_BATCH_WORKERS",
	"PAIE_BASE_SALARY_FAILSAFE", "PAIE_TAX_FALLBACK", "PAIE_CATALOG_PATH", "PAIE_METRICS_ENABLED",
}

// clearEnv unsets every PAIE_* variable for the test; godotenv writes
// with os.Setenv, so the originals are restored by t.Setenv.
func clearEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "paie.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8, cfg.BatchWorkers)
	assert.True(t, cfg.BaseSalaryFailSafe)
	assert.False(t, cfg.TaxFallback)
	assert.True(t, cfg.MetricsEnabled)
	assert.Empty(t, cfg.CatalogPath)
}

func TestLoad_EnvOverridesDotenv(t *testing.T) {
	// GIVEN: a .env file and one variable already in the environment
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"PAIE_DB_PATH=/tmp/from-file.db\nPAIE_BATCH_WORKERS=2\nPAIE_TAX_FALLBACK=true\n"), 0o600))
	t.Setenv("PAIE_BATCH_WORKERS", "16")

	// WHEN
	cfg, err := config.LoadFile(path)

	// THEN
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-file.db", cfg.DBPath)
	assert.Equal(t, 16, cfg.BatchWorkers)
	assert.True(t, cfg.TaxFallback)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value, wantErr string
	}{
		{"workers not a number", "PAIE_BATCH_WORKERS", "many", "PAIE_BATCH_WORKERS"},
		{"workers zero", "PAIE_BATCH_WORKERS", "0", "must be positive"},
		{"bad bool", "PAIE_BASE_SALARY_FAILSAFE", "perhaps", "PAIE_BASE_SALARY_FAILSAFE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.env"))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
