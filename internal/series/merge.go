// Package series reconciles successive releases of the same time series.
//
// Providers reissue whole series on every release. When a later release
// changes an observation, the previous value and its release date are kept as
// a revision; values present in only one release are padded with "na" against
// the other's bounds so value positions stay aligned with period ordinals.
package series

import (
	"fmt"
	"time"

	"github.com/srault95/dlstats/internal/model"
)

const naValue = "na"

// Stamp sets the release date on values that carry none. Used on first insert.
func Stamp(values []model.SeriesValue, lastUpdate time.Time) {
	for i := range values {
		if values[i].ReleaseDate.IsZero() {
			values[i].ReleaseDate = lastUpdate
		}
	}
}

// Densify fills ordinal gaps with "na" markers so value positions stay
// aligned with period ordinals. Values must be sorted by ordinal.
func Densify(values []model.SeriesValue, freq string, lastUpdate time.Time) []model.SeriesValue {
	if len(values) == 0 {
		return values
	}
	start := values[0].Ordinal
	end := values[len(values)-1].Ordinal
	if end-start+1 == len(values) {
		return values
	}
	dense := make([]model.SeriesValue, 0, end-start+1)
	next := 0
	for ordinal := start; ordinal <= end; ordinal++ {
		if next < len(values) && values[next].Ordinal == ordinal {
			dense = append(dense, values[next])
			next++
			continue
		}
		dense = append(dense, model.SeriesValue{
			Period:      model.FormatPeriod(ordinal, freq),
			Ordinal:     ordinal,
			Value:       naValue,
			ReleaseDate: lastUpdate,
		})
	}
	return dense
}

// Merge combines the stored values of a series with a newly released set.
// Both slices must be sorted by ordinal and dense for the series frequency.
// The result spans the union of both ranges.
func Merge(old, incoming []model.SeriesValue, freq string, lastUpdate time.Time) []model.SeriesValue {
	if len(old) == 0 {
		Stamp(incoming, lastUpdate)
		return incoming
	}
	if len(incoming) == 0 {
		return old
	}

	oldByOrdinal := make(map[int]model.SeriesValue, len(old))
	for _, v := range old {
		oldByOrdinal[v.Ordinal] = v
	}
	newByOrdinal := make(map[int]model.SeriesValue, len(incoming))
	for _, v := range incoming {
		newByOrdinal[v.Ordinal] = v
	}

	start := min(old[0].Ordinal, incoming[0].Ordinal)
	end := max(old[len(old)-1].Ordinal, incoming[len(incoming)-1].Ordinal)

	merged := make([]model.SeriesValue, 0, end-start+1)
	for ordinal := start; ordinal <= end; ordinal++ {
		oldVal, hasOld := oldByOrdinal[ordinal]
		newVal, hasNew := newByOrdinal[ordinal]

		switch {
		case hasOld && hasNew:
			if newVal.Value == oldVal.Value {
				// unchanged: original release date and history survive
				newVal.ReleaseDate = oldVal.ReleaseDate
				newVal.Revisions = oldVal.Revisions
			} else {
				newVal.ReleaseDate = lastUpdate
				newVal.Revisions = append(oldVal.Revisions, model.Revision{
					Value:       oldVal.Value,
					ReleaseDate: oldVal.ReleaseDate,
				})
			}
			merged = append(merged, newVal)

		case hasOld:
			// the new release no longer covers this period; an already
			// padded value stays as it is
			if oldVal.Value == naValue {
				merged = append(merged, oldVal)
				continue
			}
			pad := model.SeriesValue{
				Period:      oldVal.Period,
				Ordinal:     ordinal,
				Value:       naValue,
				ReleaseDate: lastUpdate,
				Revisions: append(oldVal.Revisions, model.Revision{
					Value:       oldVal.Value,
					ReleaseDate: oldVal.ReleaseDate,
				}),
			}
			merged = append(merged, pad)

		case hasNew:
			if newVal.ReleaseDate.IsZero() {
				newVal.ReleaseDate = lastUpdate
			}
			merged = append(merged, newVal)

		default:
			merged = append(merged, model.SeriesValue{
				Period:      model.FormatPeriod(ordinal, freq),
				Ordinal:     ordinal,
				Value:       naValue,
				ReleaseDate: lastUpdate,
			})
		}
	}

	return merged
}

// Check verifies that values are dense and sorted by ordinal and that every
// value carries a release date. Mirrors the consistency check done before
// every series write.
func Check(s *model.Series) error {
	if len(s.Values) == 0 {
		return fmt.Errorf("series %s: no values", s.Key)
	}
	for i, v := range s.Values {
		if v.Ordinal != s.Values[0].Ordinal+i {
			return fmt.Errorf("series %s: ordinal gap at position %d", s.Key, i)
		}
		if v.ReleaseDate.IsZero() {
			return fmt.Errorf("series %s: missing release date at position %d", s.Key, i)
		}
	}
	if s.StartDate != s.Values[0].Ordinal || s.EndDate != s.Values[len(s.Values)-1].Ordinal {
		return fmt.Errorf("series %s: start/end dates out of sync with values", s.Key)
	}
	return nil
}
