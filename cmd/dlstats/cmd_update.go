package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/srault95/dlstats/internal/fetchers"
)

var (
	updateProvider string
	updateDatasets []string
	updateAll      bool
	updateWorkers  int
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Ingest a provider's datasets into the store",
	Long: `Upserts the provider document and its category tree, then streams the
selected datasets' series into the store. Datasets whose source release is
not newer than the stored last update are skipped.

Examples:
  dlstats update --provider BIS --all
  dlstats update --provider ECB --dataset EXR --dataset BSI
  dlstats update --provider IMF --dataset WEO --dry-run`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVarP(&updateProvider, "provider", "p", "", "provider name (BIS, ECB, IMF)")
	updateCmd.Flags().StringArrayVarP(&updateDatasets, "dataset", "d", nil, "dataset code (repeatable)")
	updateCmd.Flags().BoolVar(&updateAll, "all", false, "update every dataset the provider carries")
	updateCmd.Flags().IntVar(&updateWorkers, "workers", 1, "concurrent dataset updates")
	_ = updateCmd.MarkFlagRequired("provider")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	if !updateAll && len(updateDatasets) == 0 {
		return fmt.Errorf("either --all or at least one --dataset is required")
	}

	fetcher, err := fetchers.New(updateProvider, logger)
	if err != nil {
		return err
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if err := fetchers.UpdateProvider(ctx, st, fetcher); err != nil {
		return err
	}

	codes := updateDatasets
	if updateAll {
		codes = fetcher.DatasetCodes()
	}
	if len(codes) == 0 {
		return fmt.Errorf("provider %s carries no datasets", updateProvider)
	}

	workers := updateWorkers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, code := range codes {
		code := code
		g.Go(func() error {
			count, err := fetchers.UpdateDataset(ctx, st, fetcher, code, logger)
			if errors.Is(err, fetchers.ErrRejectUpdated) {
				logger.Info("dataset skipped", zap.String("dataset", code), zap.Error(err))
				return nil
			}
			if err != nil {
				return fmt.Errorf("dataset %s: %w", code, err)
			}
			fmt.Printf("updated %s/%s series=%d\n", updateProvider, code, count)
			return nil
		})
	}
	return g.Wait()
}
