package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srault95/dlstats/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "dlstats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testDataset(lastUpdate time.Time) *model.Dataset {
	return &model.Dataset{
		ProviderName:  "BIS",
		DatasetCode:   "CNFS",
		Name:          "Credit to the non-financial sector",
		LastUpdate:    lastUpdate,
		Frequencies:   []string{"Q"},
		DimensionKeys: []string{"FREQ", "BORROWERS_CTY"},
		Codelists: map[string]map[string]string{
			"FREQ":          {"Q": "Quarterly"},
			"BORROWERS_CTY": {"AR": "Argentina"},
		},
		Concepts: map[string]string{
			"FREQ":          "Frequency",
			"BORROWERS_CTY": "Borrowers' country",
		},
	}
}

func testSeries(values []model.SeriesValue) *model.Series {
	return &model.Series{
		ProviderName: "BIS",
		DatasetCode:  "CNFS",
		Key:          "Q:AR:C:A:M:770:A",
		Name:         "Quarterly - Argentina",
		Frequency:    "Q",
		Dimensions:   map[string]string{"FREQ": "Q", "BORROWERS_CTY": "AR"},
		Values:       values,
	}
}

func TestUpsertProvider(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	provider := model.Provider{
		Name:     "BIS",
		LongName: "Bank for International Settlements",
		Version:  1,
		Region:   "World",
		Website:  "https://www.bis.org",
	}
	require.NoError(t, s.UpsertProvider(ctx, provider))

	provider.Version = 2
	require.NoError(t, s.UpsertProvider(ctx, provider))

	var version int
	err := s.db.QueryRow(`SELECT version FROM providers WHERE name = ?`, "BIS").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
}

func TestUpsertCategories(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	categories := []model.Category{
		{
			ProviderName: "BIS",
			CategoryCode: "BIS-categories",
			Name:         "BIS categories",
		},
		{
			ProviderName: "BIS",
			CategoryCode: "CNFS",
			Name:         "Credit to the non-financial sector",
			Parent:       "BIS-categories",
			AllParents:   []string{"BIS-categories"},
			Datasets: []model.DatasetRef{
				{DatasetCode: "CNFS", Name: "Credit to the non-financial sector"},
			},
		},
	}
	require.NoError(t, s.UpsertCategories(ctx, categories))
	require.NoError(t, s.UpsertCategories(ctx, categories))

	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM categories WHERE provider = ?`, "BIS").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDatasetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastUpdate := time.Date(2015, time.September, 16, 8, 13, 35, 0, time.UTC)
	dataset := testDataset(lastUpdate)
	require.NoError(t, s.UpsertDataset(ctx, dataset))

	datasets, err := s.ListDatasets(ctx, "BIS")
	require.NoError(t, err)
	require.Len(t, datasets, 1)

	got := datasets[0]
	assert.Equal(t, "CNFS", got.DatasetCode)
	assert.Equal(t, dataset.Name, got.Name)
	assert.True(t, got.LastUpdate.Equal(lastUpdate))
	assert.Equal(t, []string{"Q"}, got.Frequencies)
	assert.Equal(t, []string{"FREQ", "BORROWERS_CTY"}, got.DimensionKeys)
	assert.Equal(t, "Quarterly", got.Codelists["FREQ"]["Q"])
	assert.Equal(t, "Frequency", got.Concepts["FREQ"])
}

func TestDatasetLastUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	when, err := s.DatasetLastUpdate(ctx, "BIS", "CNFS")
	require.NoError(t, err)
	assert.Nil(t, when)

	lastUpdate := time.Date(2015, time.September, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertDataset(ctx, testDataset(lastUpdate)))

	when, err = s.DatasetLastUpdate(ctx, "BIS", "CNFS")
	require.NoError(t, err)
	require.NotNil(t, when)
	assert.True(t, when.Equal(lastUpdate))
}

func TestUpsertSeriesFirstWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastUpdate := time.Date(2015, time.September, 16, 0, 0, 0, 0, time.UTC)
	dataset := testDataset(lastUpdate)
	item := testSeries([]model.SeriesValue{
		{Value: "14.2", Ordinal: 176, Period: "2014-Q1"},
		{Value: "14.6", Ordinal: 177, Period: "2014-Q2"},
	})

	require.NoError(t, s.UpsertSeries(ctx, dataset, []*model.Series{item}))

	loaded, err := s.LoadSeries(ctx, "BIS", "CNFS")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, item.Key, got.Key)
	assert.Equal(t, 176, got.StartDate)
	assert.Equal(t, 177, got.EndDate)
	assert.True(t, got.LastUpdate.Equal(lastUpdate))
	require.Len(t, got.Values, 2)
	assert.Equal(t, "14.2", got.Values[0].Value)
	assert.True(t, got.Values[0].ReleaseDate.Equal(lastUpdate))
	assert.Empty(t, got.Values[0].Revisions)
	assert.Equal(t, "AR", got.Dimensions["BORROWERS_CTY"])
}

func TestUpsertSeriesKeepsRevisionHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	firstRelease := time.Date(2015, time.June, 1, 0, 0, 0, 0, time.UTC)
	secondRelease := time.Date(2015, time.September, 16, 0, 0, 0, 0, time.UTC)

	dataset := testDataset(firstRelease)
	require.NoError(t, s.UpsertSeries(ctx, dataset, []*model.Series{
		testSeries([]model.SeriesValue{
			{Value: "14.2", Ordinal: 176, Period: "2014-Q1"},
			{Value: "14.6", Ordinal: 177, Period: "2014-Q2"},
		}),
	}))

	dataset.LastUpdate = secondRelease
	require.NoError(t, s.UpsertSeries(ctx, dataset, []*model.Series{
		testSeries([]model.SeriesValue{
			{Value: "14.2", Ordinal: 176, Period: "2014-Q1"},
			{Value: "14.9", Ordinal: 177, Period: "2014-Q2"},
			{Value: "15.1", Ordinal: 178, Period: "2014-Q3"},
		}),
	}))

	loaded, err := s.LoadSeries(ctx, "BIS", "CNFS")
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	values := loaded[0].Values
	require.Len(t, values, 3)

	// unchanged observation keeps its original release date
	assert.Equal(t, "14.2", values[0].Value)
	assert.True(t, values[0].ReleaseDate.Equal(firstRelease))
	assert.Empty(t, values[0].Revisions)

	// changed observation records the previous value
	assert.Equal(t, "14.9", values[1].Value)
	assert.True(t, values[1].ReleaseDate.Equal(secondRelease))
	require.Len(t, values[1].Revisions, 1)
	assert.Equal(t, "14.6", values[1].Revisions[0].Value)
	assert.True(t, values[1].Revisions[0].ReleaseDate.Equal(firstRelease))

	// new observation, no history
	assert.Equal(t, "15.1", values[2].Value)
	assert.Empty(t, values[2].Revisions)

	assert.Equal(t, 176, loaded[0].StartDate)
	assert.Equal(t, 178, loaded[0].EndDate)
}

func TestUpsertSeriesFillsPeriodGaps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lastUpdate := time.Date(2015, time.September, 16, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertSeries(ctx, testDataset(lastUpdate), []*model.Series{
		testSeries([]model.SeriesValue{
			{Value: "14.2", Ordinal: 176, Period: "2014-Q1"},
			{Value: "15.1", Ordinal: 178, Period: "2014-Q3"},
		}),
	}))

	loaded, err := s.LoadSeries(ctx, "BIS", "CNFS")
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Values, 3)
	assert.Equal(t, "na", loaded[0].Values[1].Value)
	assert.Equal(t, 177, loaded[0].Values[1].Ordinal)
}

func TestListDatasetsEmpty(t *testing.T) {
	s := newTestStore(t)

	datasets, err := s.ListDatasets(context.Background(), "BIS")
	require.NoError(t, err)
	assert.Empty(t, datasets)
}
