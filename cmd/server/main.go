/*
main.go - Application entry point

PURPOSE:
  Starts the salary truing engine: HTTP API, demo seeding, and one-off
  calculations from the command line. Handles configuration, dependency
  injection, and graceful shutdown.

COMMANDS:
  serve      Run the HTTP API
  seed       Reset the database and load the demo dataset
  calculate  Calculate (or preview) one staff-month

GLOBAL FLAGS:
  --config   YAML configuration file (default: built-in defaults)
  --db       SQLite database path, overrides database.path
             Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server serve --db=./data/salary.db

  # Load the demo data, then calculate December 2025 for staff 1
  ./server seed
  ./server calculate --staff=1 --year=2025 --month=12

  # Preview without recording a payment
  ./server calculate --staff=1 --year=2025 --month=12 --dry-run

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration file format
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/salary-engine/api"
	"github.com/warp/salary-engine/config"
	"github.com/warp/salary-engine/payroll"
	"github.com/warp/salary-engine/seed"
	"github.com/warp/salary-engine/store/sqlite"
)

var (
	configPath string
	dbPath     string
)

func main() {
	root := &cobra.Command{
		Use:           "server",
		Short:         "EU project salary truing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides config)")

	root.AddCommand(serveCmd(), seedCmd(), calculateCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

func serveCmd() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "HTTP server port (overrides config)")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Reset the database and load the demo dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := seed.Load(cmd.Context(), store, log.Default())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func calculateCmd() *cobra.Command {
	var (
		staffID int64
		year    int
		month   int
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Calculate the payment for one staff-month",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			engine := newEngine(store, cfg, log.Default())
			in := payroll.CalculationInput{StaffID: staffID, Year: year, Month: time.Month(month)}

			var res *payroll.CalculationResult
			if dryRun {
				res, err = engine.Preview(cmd.Context(), in)
			} else {
				res, err = engine.Calculate(cmd.Context(), in)
			}
			if err != nil {
				return err
			}
			printResult(cmd, res, cfg.Payroll.Currency)
			return nil
		},
	}
	cmd.Flags().Int64Var(&staffID, "staff", 0, "staff ID")
	cmd.Flags().IntVar(&year, "year", 0, "payment year")
	cmd.Flags().IntVar(&month, "month", 0, "payment month (1-12)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without recording a payment")
	cmd.MarkFlagRequired("staff")
	cmd.MarkFlagRequired("year")
	cmd.MarkFlagRequired("month")
	return cmd
}

// =============================================================================
// SERVER
// =============================================================================

func serve(cfg *config.Config) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	logger := log.Default()
	handler := api.NewHandler(store)
	handler.Engine = newEngine(store, cfg, logger)
	handler.Logger = logger

	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%s", cfg.Server.Port)
		log.Printf("API available at http://localhost:%s/api", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// =============================================================================
// WIRING
// =============================================================================

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*sqlite.Store, error) {
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return store, nil
}

func newEngine(store *sqlite.Store, cfg *config.Config, logger *log.Logger) *payroll.Engine {
	engine := payroll.NewEngine(store)
	engine.Calculator = cfg.Payroll.Calculator()
	engine.Duplicates = cfg.Payroll.Duplicates()
	engine.Logger = payroll.StdLogger{Logger: logger, Debug: cfg.Payroll.Debug()}
	return engine
}

// =============================================================================
// OUTPUT
// =============================================================================

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printResult(cmd *cobra.Command, res *payroll.CalculationResult, currency string) {
	out := cmd.OutOrStdout()
	if res.PaymentID != 0 {
		fmt.Fprintf(out, "Payment %d (%s)\n", res.PaymentID, res.Reference)
	} else {
		fmt.Fprintln(out, "Preview (not recorded)")
	}

	for _, step := range res.Breakdown.EUSteps {
		fmt.Fprintf(out, "  %s P%d\n", step.ProjectName, step.PeriodNumber)
		fmt.Fprintf(out, "    %s\n", step.EURCalculation)
		fmt.Fprintf(out, "    %s\n", step.CumulativeCalculation)
		fmt.Fprintf(out, "    %s\n", step.PaymentCalculation)
	}
	if nonEU := res.Breakdown.NonEU; nonEU != nil {
		fmt.Fprintln(out, "  Non-EU")
		fmt.Fprintf(out, "    %s\n", nonEU.EURCalculation)
		fmt.Fprintf(out, "    %s\n", nonEU.LocalCalculation)
	}

	fmt.Fprintf(out, "EU portion:     %s %s\n", res.EUPortionLocal.StringFixed(2), currency)
	fmt.Fprintf(out, "Non-EU portion: %s %s\n", res.NonEUPortionLocal.StringFixed(2), currency)
	fmt.Fprintf(out, "Gross:          %s %s\n", res.GrossLocal.StringFixed(2), currency)
	fmt.Fprintf(out, "EUR claimable:  %s EUR\n", res.TotalEURClaimable.StringFixed(2))
}
