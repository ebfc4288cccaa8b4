package store

import (
	"context"
	"time"

	"github.com/srault95/dlstats/internal/model"
)

type Store interface {
	UpsertProvider(ctx context.Context, provider model.Provider) error
	UpsertCategories(ctx context.Context, categories []model.Category) error
	UpsertDataset(ctx context.Context, dataset *model.Dataset) error
	UpsertSeries(ctx context.Context, dataset *model.Dataset, series []*model.Series) error
	DatasetLastUpdate(ctx context.Context, providerName, datasetCode string) (*time.Time, error)
	ListDatasets(ctx context.Context, providerName string) ([]model.Dataset, error)
	LoadSeries(ctx context.Context, providerName, datasetCode string) ([]*model.Series, error)
	Close() error
}

// NopStore discards writes; used for dry runs.
type NopStore struct{}

func (s *NopStore) UpsertProvider(ctx context.Context, provider model.Provider) error {
	_ = ctx
	_ = provider
	return nil
}

func (s *NopStore) UpsertCategories(ctx context.Context, categories []model.Category) error {
	_ = ctx
	_ = categories
	return nil
}

func (s *NopStore) UpsertDataset(ctx context.Context, dataset *model.Dataset) error {
	_ = ctx
	_ = dataset
	return nil
}

func (s *NopStore) UpsertSeries(ctx context.Context, dataset *model.Dataset, series []*model.Series) error {
	_ = ctx
	_ = dataset
	_ = series
	return nil
}

func (s *NopStore) DatasetLastUpdate(ctx context.Context, providerName, datasetCode string) (*time.Time, error) {
	_ = ctx
	_ = providerName
	_ = datasetCode
	return nil, nil
}

func (s *NopStore) ListDatasets(ctx context.Context, providerName string) ([]model.Dataset, error) {
	_ = ctx
	_ = providerName
	return nil, nil
}

func (s *NopStore) LoadSeries(ctx context.Context, providerName, datasetCode string) ([]*model.Series, error) {
	_ = ctx
	_ = providerName
	_ = datasetCode
	return nil, nil
}

func (s *NopStore) Close() error {
	return nil
}
