package series

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srault95/dlstats/internal/model"
)

var (
	firstRelease  = time.Date(2015, 1, 15, 0, 0, 0, 0, time.UTC)
	secondRelease = time.Date(2015, 4, 15, 0, 0, 0, 0, time.UTC)
)

func values(startOrdinal int, freq string, raw ...string) []model.SeriesValue {
	out := make([]model.SeriesValue, 0, len(raw))
	for i, v := range raw {
		ordinal := startOrdinal + i
		out = append(out, model.SeriesValue{
			Period:  model.FormatPeriod(ordinal, freq),
			Ordinal: ordinal,
			Value:   v,
		})
	}
	return out
}

func TestMergeFirstRelease(t *testing.T) {
	incoming := values(176, model.FreqQuarterly, "1.0", "2.0")
	merged := Merge(nil, incoming, model.FreqQuarterly, firstRelease)

	require.Len(t, merged, 2)
	for _, v := range merged {
		assert.Equal(t, firstRelease, v.ReleaseDate)
		assert.Empty(t, v.Revisions)
	}
}

func TestMergeUnchangedKeepsHistory(t *testing.T) {
	old := values(176, model.FreqQuarterly, "1.0", "2.0")
	Stamp(old, firstRelease)

	incoming := values(176, model.FreqQuarterly, "1.0", "2.0")
	merged := Merge(old, incoming, model.FreqQuarterly, secondRelease)

	require.Len(t, merged, 2)
	for _, v := range merged {
		assert.Equal(t, firstRelease, v.ReleaseDate)
		assert.Empty(t, v.Revisions)
	}
}

func TestMergeChangedValueRecordsRevision(t *testing.T) {
	old := values(176, model.FreqQuarterly, "1.0", "2.0")
	Stamp(old, firstRelease)

	incoming := values(176, model.FreqQuarterly, "1.0", "2.5")
	merged := Merge(old, incoming, model.FreqQuarterly, secondRelease)

	require.Len(t, merged, 2)

	assert.Equal(t, "1.0", merged[0].Value)
	assert.Equal(t, firstRelease, merged[0].ReleaseDate)
	assert.Empty(t, merged[0].Revisions)

	assert.Equal(t, "2.5", merged[1].Value)
	assert.Equal(t, secondRelease, merged[1].ReleaseDate)
	require.Len(t, merged[1].Revisions, 1)
	assert.Equal(t, "2.0", merged[1].Revisions[0].Value)
	assert.Equal(t, firstRelease, merged[1].Revisions[0].ReleaseDate)
}

func TestMergeSecondRevisionAppends(t *testing.T) {
	old := values(176, model.FreqQuarterly, "2.0")
	Stamp(old, firstRelease)

	merged := Merge(old, values(176, model.FreqQuarterly, "2.5"), model.FreqQuarterly, secondRelease)
	thirdRelease := secondRelease.AddDate(0, 3, 0)
	merged = Merge(merged, values(176, model.FreqQuarterly, "2.7"), model.FreqQuarterly, thirdRelease)

	require.Len(t, merged, 1)
	assert.Equal(t, "2.7", merged[0].Value)
	require.Len(t, merged[0].Revisions, 2)
	assert.Equal(t, "2.0", merged[0].Revisions[0].Value)
	assert.Equal(t, "2.5", merged[0].Revisions[1].Value)
}

func TestMergeShorterReleasePadsWithNA(t *testing.T) {
	old := values(176, model.FreqQuarterly, "1.0", "2.0", "3.0")
	Stamp(old, firstRelease)

	// the new release drops the last period
	incoming := values(176, model.FreqQuarterly, "1.0", "2.0")
	merged := Merge(old, incoming, model.FreqQuarterly, secondRelease)

	require.Len(t, merged, 3)
	assert.Equal(t, naValue, merged[2].Value)
	assert.Equal(t, secondRelease, merged[2].ReleaseDate)
	require.Len(t, merged[2].Revisions, 1)
	assert.Equal(t, "3.0", merged[2].Revisions[0].Value)
}

func TestMergePaddedPeriodStaysPadded(t *testing.T) {
	old := values(176, model.FreqQuarterly, "1.0", "2.0", "3.0")
	Stamp(old, firstRelease)

	// two successive releases keep omitting the last period
	merged := Merge(old, values(176, model.FreqQuarterly, "1.0", "2.0"), model.FreqQuarterly, secondRelease)
	thirdRelease := secondRelease.AddDate(0, 3, 0)
	merged = Merge(merged, values(176, model.FreqQuarterly, "1.0", "2.0"), model.FreqQuarterly, thirdRelease)

	require.Len(t, merged, 3)
	assert.Equal(t, naValue, merged[2].Value)
	// the pad from the first omission is final: no churned release date,
	// no repeated revision entries
	assert.Equal(t, secondRelease, merged[2].ReleaseDate)
	require.Len(t, merged[2].Revisions, 1)
	assert.Equal(t, "3.0", merged[2].Revisions[0].Value)
	assert.Equal(t, firstRelease, merged[2].Revisions[0].ReleaseDate)
}

func TestMergeLongerReleaseExtends(t *testing.T) {
	old := values(176, model.FreqQuarterly, "1.0")
	Stamp(old, firstRelease)

	incoming := values(175, model.FreqQuarterly, "0.5", "1.0", "2.0")
	merged := Merge(old, incoming, model.FreqQuarterly, secondRelease)

	require.Len(t, merged, 3)
	assert.Equal(t, 175, merged[0].Ordinal)
	assert.Equal(t, "0.5", merged[0].Value)
	assert.Equal(t, secondRelease, merged[0].ReleaseDate)
	// the overlapping unchanged value keeps its first release date
	assert.Equal(t, firstRelease, merged[1].ReleaseDate)
}

func TestDensify(t *testing.T) {
	sparse := []model.SeriesValue{
		{Period: "2014", Ordinal: 44, Value: "1.0"},
		{Period: "2016", Ordinal: 46, Value: "3.0"},
	}
	dense := Densify(sparse, model.FreqAnnual, firstRelease)

	require.Len(t, dense, 3)
	assert.Equal(t, "2015", dense[1].Period)
	assert.Equal(t, naValue, dense[1].Value)
	assert.Equal(t, firstRelease, dense[1].ReleaseDate)

	// already dense input passes through untouched
	same := Densify(dense, model.FreqAnnual, firstRelease)
	assert.Equal(t, dense, same)
}

func TestCheck(t *testing.T) {
	s := &model.Series{
		Key:       "X",
		StartDate: 44,
		EndDate:   45,
		Values:    values(44, model.FreqAnnual, "1.0", "2.0"),
	}
	Stamp(s.Values, firstRelease)
	require.NoError(t, Check(s))

	t.Run("gap", func(t *testing.T) {
		broken := *s
		broken.Values = []model.SeriesValue{s.Values[0], {Ordinal: 46, Value: "3.0", ReleaseDate: firstRelease}}
		assert.Error(t, Check(&broken))
	})

	t.Run("missing release date", func(t *testing.T) {
		broken := *s
		broken.Values = values(44, model.FreqAnnual, "1.0")
		broken.EndDate = 44
		assert.Error(t, Check(&broken))
	})

	t.Run("out of sync bounds", func(t *testing.T) {
		broken := *s
		broken.EndDate = 50
		assert.Error(t, Check(&broken))
	})

	t.Run("empty", func(t *testing.T) {
		assert.Error(t, Check(&model.Series{Key: "X"}))
	})
}
