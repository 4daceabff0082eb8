package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/paie-engine/algeria"
	"github.com/warp/paie-engine/api"
	"github.com/warp/paie-engine/factory"
	"github.com/warp/paie-engine/formula"
	"github.com/warp/paie-engine/observability"
	"github.com/warp/paie-engine/payroll"
)

// =============================================================================
// SERVE
// =============================================================================

func newServeCmd(a *app) *cobra.Command {
	var addr, catalogPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if cmd.Flags().Changed("catalog") {
				a.cfg.CatalogPath = catalogPath
			}
			defer a.close()
			return runServe(a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (env PAIE_ADDR)")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog to apply at startup (env PAIE_CATALOG_PATH)")
	return cmd
}

func runServe(a *app) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	if a.cfg.CatalogPath != "" {
		if _, err := applyCatalog(context.Background(), a, a.cfg.CatalogPath); err != nil {
			return err
		}
	}

	var recorder payroll.Recorder
	var metricsHandler http.Handler
	if a.cfg.MetricsEnabled {
		metrics := observability.NewMetrics()
		recorder = metrics
		metricsHandler = metrics.Handler()
	}

	svc := a.newService(store)
	handler := api.NewHandler(store, svc, payroll.NewBatchRunner(svc, a.cfg.BatchWorkers, recorder), a.log)
	router := api.NewRouter(handler, metricsHandler)

	server := &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("server starting",
			zap.String("addr", a.cfg.Addr),
			zap.String("db", a.cfg.DBPath),
			zap.Int("batch_workers", a.cfg.BatchWorkers),
			zap.Bool("base_salary_failsafe", a.cfg.BaseSalaryFailSafe),
			zap.Bool("tax_fallback", a.cfg.TaxFallback),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	a.log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("server stopped")
	return nil
}

// =============================================================================
// SEED
// =============================================================================

func newSeedCmd(a *app) *cobra.Command {
	var catalogPath string
	var reset bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply a catalog file (default: the embedded Algerian catalog)",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			ctx := cmd.Context()
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if reset {
				if err := store.Reset(ctx); err != nil {
					return err
				}
				a.log.Warn("store reset", zap.String("db", a.cfg.DBPath))
			}
			if catalogPath == "" {
				catalogPath = a.cfg.CatalogPath
			}
			res, err := applyCatalog(ctx, a, catalogPath)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML or JSON catalog file")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete all data first")
	return cmd
}

// applyCatalog loads path, or the embedded default catalog when path is empty.
func applyCatalog(ctx context.Context, a *app, path string) (*factory.ApplyResult, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	var catalog *factory.Catalog
	if path == "" {
		catalog, err = algeria.DefaultCatalog()
	} else {
		catalog, err = factory.ParseFile(path)
	}
	if err != nil {
		return nil, err
	}
	return factory.NewLoader(store, a.log).Apply(ctx, catalog)
}

// =============================================================================
// CALCULATE
// =============================================================================

func newCalculateCmd(a *app) *cobra.Command {
	var employeeID, periodFlag string
	var all bool
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate a payslip and print it as JSON",
		Example: "  paie calculate --employee emp-001 --period 2025-03\n" +
			"  paie calculate --all --period 2025-03",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			if employeeID == "" && !all {
				return errors.New("either --employee or --all is required")
			}
			period, err := parsePeriod(periodFlag)
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			svc := a.newService(store)
			ctx := cmd.Context()

			if all {
				res, err := payroll.NewBatchRunner(svc, a.cfg.BatchWorkers, nil).RunRoster(ctx, period)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			}

			req, err := svc.RequestFor(ctx, employeeID, period)
			if err != nil {
				return err
			}
			slip, err := svc.CalculatePayslip(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, slip)
		},
	}
	cmd.Flags().StringVar(&employeeID, "employee", "", "employee id")
	cmd.Flags().StringVar(&periodFlag, "period", time.Now().Format("2006-01"), "payroll month as YYYY-MM")
	cmd.Flags().BoolVar(&all, "all", false, "calculate every employee in the store")
	return cmd
}

func parsePeriod(s string) (payroll.Period, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(s))
	if err != nil {
		return payroll.Period{}, fmt.Errorf("%w: %q is not YYYY-MM", payroll.ErrInvalidPeriod, s)
	}
	return payroll.NewPeriod(t.Year(), t.Month())
}

// =============================================================================
// VALIDATE-FORMULA
// =============================================================================

func newValidateFormulaCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-formula FORMULA",
		Short: "Compile a formula and evaluate it against today's parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			expr, err := formula.Compile(args[0])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			extra, err := a.newService(store).Parameters().All(cmd.Context(), payroll.DateOf(time.Now()))
			if err != nil {
				return err
			}
			extra[payroll.VarAnciennete] = decimal.NewFromInt(1)

			sample, err := formula.Validate(args[0], extra)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "variables: %s\nsample:    %s\n",
				strings.Join(expr.Variables(), ", "), sample.StringFixed(2))
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
