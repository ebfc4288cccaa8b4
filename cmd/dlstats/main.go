package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/srault95/dlstats/internal/fetchers"
	"github.com/srault95/dlstats/internal/fetchers/bis"
	"github.com/srault95/dlstats/internal/fetchers/ecb"
	"github.com/srault95/dlstats/internal/fetchers/imf"
	"github.com/srault95/dlstats/internal/store"
	"github.com/srault95/dlstats/internal/store/sqlite"
)

var (
	// Global flags
	dbPath  string
	dryRun  bool
	verbose bool

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dlstats",
	Short: "Economic statistics ingestion for BIS, ECB and IMF",
	Long: `dlstats normalizes the statistical publications of international
organisations (BIS full dumps, the ECB Statistical Data Warehouse, the IMF
data services) into a shared provider / category / dataset / series model
and keeps per-observation revision history across releases.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func openStore() (store.Store, error) {
	if dryRun {
		return &store.NopStore{}, nil
	}
	return sqlite.New(dbPath)
}

func registerFetchers() {
	fetchers.Register(bis.ProviderName, bis.New)
	fetchers.Register(ecb.ProviderName, ecb.New)
	fetchers.Register(imf.ProviderName, imf.New)
}

func main() {
	registerFetchers()

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "dlstats.db", "sqlite database path")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "fetch without persisting")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(calendarCmd)
	rootCmd.AddCommand(exportCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
