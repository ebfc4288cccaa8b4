package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period ordinals follow the pandas convention: the number of periods since
// 1970 for the given frequency (1970 itself is 0, 1970Q1 is 0, 1970-01 is 0,
// 1970-01-01 is 0). Series start/end dates and value positions rely on this
// being dense and sortable per frequency.

// ParsePeriod converts a period string to its ordinal for freq.
//
// Accepted shapes per frequency:
//
//	A: 2014
//	S: 2014S2, 2014-S2
//	Q: 2014Q3, 2014-Q3
//	M: 2014-05, 201405, 2014-5
//	W: 2014-W05
//	D: 2014-05-07, 20140507
func ParsePeriod(period, freq string) (int, error) {
	period = strings.TrimSpace(period)
	if period == "" {
		return 0, fmt.Errorf("model: empty period")
	}

	switch freq {
	case FreqAnnual:
		year, err := strconv.Atoi(period)
		if err != nil {
			return 0, fmt.Errorf("model: invalid annual period %q", period)
		}
		return year - 1970, nil

	case FreqSemester:
		year, sub, err := splitSubPeriod(period, 'S', 2)
		if err != nil {
			return 0, err
		}
		return (year-1970)*2 + sub - 1, nil

	case FreqQuarterly:
		year, sub, err := splitSubPeriod(period, 'Q', 4)
		if err != nil {
			return 0, err
		}
		return (year-1970)*4 + sub - 1, nil

	case FreqMonthly:
		year, month, err := parseYearMonth(period)
		if err != nil {
			return 0, err
		}
		return (year-1970)*12 + month - 1, nil

	case FreqWeekly:
		year, sub, err := splitSubPeriod(period, 'W', 53)
		if err != nil {
			return 0, err
		}
		// ordinal of the Monday of the ISO week, in weeks since epoch
		monday := isoWeekStart(year, sub)
		return int(monday.Sub(time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)).Hours()/24/7) + 1, nil

	case FreqDaily:
		layout := "2006-01-02"
		if len(period) == 8 {
			layout = "20060102"
		}
		day, err := time.Parse(layout, period)
		if err != nil {
			return 0, fmt.Errorf("model: invalid daily period %q", period)
		}
		return int(day.Sub(time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)).Hours() / 24), nil
	}

	return 0, fmt.Errorf("model: unsupported frequency %q", freq)
}

// FormatPeriod is the inverse of ParsePeriod for the calendar frequencies.
func FormatPeriod(ordinal int, freq string) string {
	switch freq {
	case FreqAnnual:
		return strconv.Itoa(1970 + ordinal)
	case FreqSemester:
		return fmt.Sprintf("%04d-S%d", 1970+floorDiv(ordinal, 2), mod(ordinal, 2)+1)
	case FreqQuarterly:
		return fmt.Sprintf("%04d-Q%d", 1970+floorDiv(ordinal, 4), mod(ordinal, 4)+1)
	case FreqMonthly:
		return fmt.Sprintf("%04d-%02d", 1970+floorDiv(ordinal, 12), mod(ordinal, 12)+1)
	case FreqDaily:
		return time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, ordinal).Format("2006-01-02")
	}
	return strconv.Itoa(ordinal)
}

func splitSubPeriod(period string, sep byte, max int) (int, int, error) {
	upper := strings.ToUpper(period)
	idx := strings.IndexByte(upper, sep)
	if idx <= 0 {
		return 0, 0, fmt.Errorf("model: invalid period %q", period)
	}
	yearPart := strings.TrimSuffix(upper[:idx], "-")
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return 0, 0, fmt.Errorf("model: invalid period %q", period)
	}
	sub, err := strconv.Atoi(upper[idx+1:])
	if err != nil || sub < 1 || sub > max {
		return 0, 0, fmt.Errorf("model: invalid period %q", period)
	}
	return year, sub, nil
}

func parseYearMonth(period string) (int, int, error) {
	if len(period) == 6 && !strings.Contains(period, "-") {
		year, errYear := strconv.Atoi(period[:4])
		month, errMonth := strconv.Atoi(period[4:])
		if errYear == nil && errMonth == nil && month >= 1 && month <= 12 {
			return year, month, nil
		}
		return 0, 0, fmt.Errorf("model: invalid monthly period %q", period)
	}
	parts := strings.SplitN(period, "-", 2)
	if len(parts) == 2 {
		year, errYear := strconv.Atoi(parts[0])
		month, errMonth := strconv.Atoi(parts[1])
		if errYear == nil && errMonth == nil && month >= 1 && month <= 12 {
			return year, month, nil
		}
	}
	return 0, 0, fmt.Errorf("model: invalid monthly period %q", period)
}

func isoWeekStart(year, week int) time.Time {
	jan4 := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	week1Monday := jan4.AddDate(0, 0, 1-weekday)
	return week1Monday.AddDate(0, 0, (week-1)*7)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func mod(a, b int) int {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
