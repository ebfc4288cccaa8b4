// Package sdmx parses SDMX 2.1 structure and data messages and carries the
// slicing helpers used to decompose a multi-dimensional series space into
// fetchable data requests.
package sdmx

import (
	"sort"
	"strings"
)

// Pivot selection strategies. The pivot dimension's codelist drives how many
// data requests a dataset costs: max yields many small slices, min few large
// ones, avg sits between.
const (
	ChoiceMin = "min"
	ChoiceMax = "max"
	ChoiceAvg = "avg"
)

// SelectDimension picks the pivot dimension among dimensionKeys according to
// choice and returns its position, key and sorted code values. Dimensions
// with empty codelists are never picked.
func SelectDimension(dimensionKeys []string, dimensions map[string]map[string]string, choice string) (int, string, []string) {
	if len(dimensionKeys) == 0 || len(dimensions) == 0 {
		return 0, "", nil
	}

	total := 0
	counted := 0
	for _, codes := range dimensions {
		total += len(codes)
		counted++
	}
	average := total / counted

	var minKey, maxKey, avgKey string
	minCount, maxCount := -1, -1
	for _, key := range dimensionKeys {
		count := len(dimensions[key])
		if count == 0 {
			continue
		}
		if minCount == -1 {
			minKey, minCount = key, count
			maxKey, maxCount = key, count
			avgKey = key
			continue
		}
		if count < minCount {
			minKey, minCount = key, count
		}
		if count > maxCount {
			maxKey, maxCount = key, count
		}
		if count == average {
			avgKey = key
		}
	}
	if minCount == -1 {
		return 0, "", nil
	}

	var key string
	switch choice {
	case ChoiceMax:
		key = maxKey
	case ChoiceMin:
		key = minKey
	default:
		key = avgKey
	}

	position := 0
	for i, k := range dimensionKeys {
		if k == key {
			position = i
			break
		}
	}

	codes := make([]string, 0, len(dimensions[key]))
	for code := range dimensions[key] {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return position, key, codes
}

// KeyForDimension builds an SDMX data key filtering a single dimension:
// dots for every free dimension, the code value at the pivot position
// (e.g. position 2 of 4 -> "..X.").
func KeyForDimension(countDimensions, position int, value string) string {
	parts := make([]string, countDimensions)
	parts[position] = value
	return strings.Join(parts, ".")
}
