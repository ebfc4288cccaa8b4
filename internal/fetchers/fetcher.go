package fetchers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/srault95/dlstats/internal/model"
	"github.com/srault95/dlstats/internal/store"
)

// ErrRejectUpdated is returned when a dataset is skipped because the source
// release date is not newer than the stored last update.
var ErrRejectUpdated = errors.New("fetchers: dataset already up to date")

// ErrDatasetUnknown is returned for dataset codes a fetcher does not carry.
var ErrDatasetUnknown = errors.New("fetchers: unknown dataset")

// upsert batch size for series
const bulkSize = 100

// SeriesIterator streams normalized series out of a provider-specific source
// file or endpoint. Next returns io.EOF when exhausted.
type SeriesIterator interface {
	Next() (*model.Series, error)
}

// Fetcher is one site-specific scraper normalizing a provider's publications
// into the shared record model.
type Fetcher interface {
	Provider() model.Provider
	DatasetCodes() []string
	DataTree(ctx context.Context) ([]model.Category, error)
	SeriesIterator(ctx context.Context, dataset *model.Dataset) (SeriesIterator, error)
}

// CalendarFetcher is implemented by providers publishing a release schedule.
type CalendarFetcher interface {
	Calendar(ctx context.Context) ([]model.CalendarEntry, error)
}

// Constructor builds a fetcher from its environment configuration.
type Constructor func(logger *zap.Logger) (Fetcher, error)

var registry = map[string]Constructor{}

func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

func New(name string, logger *zap.Logger) (Fetcher, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("fetchers: unknown provider %q", name)
	}
	return ctor(logger)
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateProvider upserts the provider document and its category tree.
func UpdateProvider(ctx context.Context, st store.Store, f Fetcher) error {
	if err := st.UpsertProvider(ctx, f.Provider()); err != nil {
		return err
	}
	categories, err := f.DataTree(ctx)
	if err != nil {
		return err
	}
	return st.UpsertCategories(ctx, categories)
}

// UpdateDataset builds the dataset metadata for code, streams its series into
// the store in batches, then upserts the dataset document itself. The dataset
// document is written after the series so codelists accumulated during row
// processing are included.
func UpdateDataset(ctx context.Context, st store.Store, f Fetcher, code string, logger *zap.Logger) (int, error) {
	provider := f.Provider()

	dataset := &model.Dataset{
		ProviderName: provider.Name,
		DatasetCode:  code,
	}
	if last, err := st.DatasetLastUpdate(ctx, provider.Name, code); err == nil && last != nil {
		dataset.LastUpdate = *last
	}

	it, err := f.SeriesIterator(ctx, dataset)
	if err != nil {
		return 0, err
	}

	count := 0
	batch := make([]*model.Series, 0, bulkSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := st.UpsertSeries(ctx, dataset, batch); err != nil {
			return err
		}
		count += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		series, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, err
		}
		if series == nil || len(series.Values) == 0 {
			continue
		}
		dataset.AddFrequency(series.Frequency)
		batch = append(batch, series)
		if len(batch) == bulkSize {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := flush(); err != nil {
		return count, err
	}

	if err := st.UpsertDataset(ctx, dataset); err != nil {
		return count, err
	}
	logger.Info("dataset updated",
		zap.String("provider", provider.Name),
		zap.String("dataset", code),
		zap.Int("series", count),
		zap.Time("last_update", dataset.LastUpdate))
	return count, nil
}
