/*
main.go - Application entry point

PURPOSE:
  The paie binary: HTTP API server plus administrative commands over the
  same SQLite store.

COMMANDS:
  serve             Start the HTTP API (graceful shutdown on SIGINT/SIGTERM)
  seed              Load a catalog file, or the embedded Algerian catalog
  calculate         Print one payslip, or a whole month with --all, as JSON
  validate-formula  Compile and dry-run a formula

CONFIGURATION:
  Environment (and .env when present), see config/config.go:
    PAIE_ADDR, PAIE_DB_PATH, PAIE_LOG_LEVEL, PAIE_BATCH_WORKERS,
    PAIE_BASE_SALARY_FAILSAFE, PAIE_TAX_FALLBACK, PAIE_CATALOG_PATH,
    PAIE_METRICS_ENABLED
  Flags override the environment.

EXAMPLES:
  paie seed --reset
  paie calculate --employee emp-001 --period 2025-03
  paie serve --addr :3000 --db ":memory:" --catalog algeria/catalog.yaml

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/paie-engine/algeria"
	"github.com/warp/paie-engine/config"
	"github.com/warp/paie-engine/observability"
	"github.com/warp/paie-engine/payroll"
	"github.com/warp/paie-engine/store/sqlite"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every command shares once config is loaded.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *sqlite.Store
}

func newRootCmd() *cobra.Command {
	var dbPath, logLevel string
	a := &app{}

	root := &cobra.Command{
		Use:           "paie",
		Short:         "Payroll rubrique calculation engine",
		Version:       readVersionFromEnv(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.DBPath = dbPath
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			a.cfg = cfg
			a.log, err = observability.NewLogger(cfg.LogLevel)
			return err
		},
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path, \":memory:\" for in-memory (env PAIE_DB_PATH)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn, error or dev (env PAIE_LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(a),
		newSeedCmd(a),
		newCalculateCmd(a),
		newValidateFormulaCmd(a),
	)
	return root
}

// openStore opens the configured database once per process.
func (a *app) openStore() (*sqlite.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := sqlite.New(a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.store = store
	return store, nil
}

func (a *app) close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// newService wires the calculation service from config.
func (a *app) newService(store payroll.Store) *payroll.Service {
	opts := []payroll.Option{
		payroll.WithLogger(a.log),
		payroll.WithBaseSalaryFailSafe(a.cfg.BaseSalaryFailSafe),
	}
	if a.cfg.TaxFallback {
		opts = append(opts, payroll.WithFallbackBrackets(algeria.DefaultIRGBrackets()))
	}
	return payroll.NewService(store, opts...)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
