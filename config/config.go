package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds process settings for the paie binary.
type Config struct {
	Addr     string
	DBPath   string
	LogLevel string

	BatchWorkers       int
	BaseSalaryFailSafe bool
	TaxFallback        bool

	// CatalogPath is seeded on serve start when set.
	CatalogPath    string
	MetricsEnabled bool
}

// Load reads .env when present, then the PAIE_* environment variables.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is ignored;
// variables already set in the environment win over the file.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	cfg := &Config{
		Addr:        getEnv("PAIE_ADDR", ":8080"),
		DBPath:      getEnv("PAIE_DB_PATH", "paie.db"),
		LogLevel:    getEnv("PAIE_LOG_LEVEL", "info"),
		CatalogPath: getEnv("PAIE_CATALOG_PATH", ""),
	}

	var err error
	if cfg.BatchWorkers, err = strconv.Atoi(getEnv("PAIE_BATCH_WORKERS", "8")); err != nil {
		return nil, fmt.Errorf("invalid PAIE_BATCH_WORKERS: %w", err)
	}
	if cfg.BaseSalaryFailSafe, err = getBool("PAIE_BASE_SALARY_FAILSAFE", true); err != nil {
		return nil, err
	}
	if cfg.TaxFallback, err = getBool("PAIE_TAX_FALLBACK", false); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = getBool("PAIE_METRICS_ENABLED", true); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("PAIE_BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("PAIE_DB_PATH is required")
	}
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("PAIE_ADDR is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
