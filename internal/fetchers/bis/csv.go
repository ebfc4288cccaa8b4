package bis

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/srault95/dlstats/internal/model"
)

// BIS full dumps are CSV files with a metadata preamble: somewhere in the
// first headersLine lines sits a "Retrieved on" cell carrying the release
// date, then the header row. The header row lists the dimension columns, a
// "Time Period" column holding the series key, and one column per period.
const releaseDateFormat = "Mon Jan 2 15:04:05 MST 2006"

type csvSource struct {
	file          io.Closer
	rows          *csv.Reader
	releaseDate   time.Time
	dimensionKeys []string
	periods       []string
}

func openCSV(path string, headersLine int) (*csvSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := readCSVHead(file, headersLine)
	if err != nil {
		file.Close()
		return nil, err
	}
	src.file = file
	return src, nil
}

func readCSVHead(r io.Reader, headersLine int) (*csvSource, error) {
	rows := csv.NewReader(r)
	rows.FieldsPerRecord = -1

	var releaseDateTxt string
	for i := 0; i < headersLine; i++ {
		line, err := rows.Read()
		if err != nil {
			return nil, fmt.Errorf("bis: preamble truncated: %w", err)
		}
		for j, cell := range line {
			if strings.Contains(cell, "Retrieved on") && j+1 < len(line) {
				releaseDateTxt = line[j+1]
			}
		}
	}
	if releaseDateTxt == "" {
		return nil, fmt.Errorf("bis: release date line not found in first %d lines", headersLine)
	}
	releaseDate, err := time.Parse(releaseDateFormat, strings.TrimSpace(releaseDateTxt))
	if err != nil {
		return nil, fmt.Errorf("bis: invalid release date %q: %w", releaseDateTxt, err)
	}

	header, err := rows.Read()
	if err != nil {
		return nil, fmt.Errorf("bis: header row missing: %w", err)
	}

	var dimensionKeys []string
	keyColumn := -1
	for i, cell := range header {
		if cell == "Time Period" {
			keyColumn = i
			break
		}
		dimensionKeys = append(dimensionKeys, cell)
	}
	if keyColumn < 0 {
		return nil, fmt.Errorf("bis: Time Period column not found")
	}

	return &csvSource{
		rows:          rows,
		releaseDate:   releaseDate.UTC(),
		dimensionKeys: dimensionKeys,
		periods:       header[keyColumn+1:],
	}, nil
}

func (s *csvSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

type seriesIterator struct {
	src       *csvSource
	dataset   *model.Dataset
	frequency string
}

func (it *seriesIterator) Next() (*model.Series, error) {
	row, err := it.src.rows.Read()
	if err == io.EOF {
		it.src.Close()
		return nil, io.EOF
	}
	if err != nil {
		it.src.Close()
		return nil, err
	}
	series, err := it.buildSeries(row)
	if err != nil {
		it.src.Close()
		return nil, err
	}
	return series, nil
}

// buildSeries maps one data row onto a series. Dimension cells are
// "short:long" code pairs; the long labels feed the dataset codelists and the
// series name.
func (it *seriesIterator) buildSeries(row []string) (*model.Series, error) {
	dims := it.src.dimensionKeys
	if len(row) < len(dims)+1+len(it.src.periods) {
		return nil, fmt.Errorf("bis: short row (%d cells)", len(row))
	}

	dimensions := make(map[string]string, len(dims))
	labels := make([]string, 0, len(dims))
	for i, key := range dims {
		short, long, found := strings.Cut(row[i], ":")
		if !found {
			long = short
		}
		dimensions[key] = short
		labels = append(labels, long)
		it.dataset.Codelist(key)[short] = long
	}

	seriesKey := row[len(dims)]
	if len(it.src.periods) == 0 {
		return nil, fmt.Errorf("bis: series %s: no period columns", seriesKey)
	}

	values := make([]model.SeriesValue, 0, len(it.src.periods))
	for j, period := range it.src.periods {
		ordinal, err := model.ParsePeriod(period, it.frequency)
		if err != nil {
			return nil, fmt.Errorf("bis: series %s: %w", seriesKey, err)
		}
		values = append(values, model.SeriesValue{
			Period:  period,
			Ordinal: ordinal,
			Value:   row[len(dims)+1+j],
		})
	}

	return &model.Series{
		ProviderName: ProviderName,
		DatasetCode:  it.dataset.DatasetCode,
		Key:          seriesKey,
		Name:         strings.Join(labels, " - "),
		Frequency:    it.frequency,
		StartDate:    values[0].Ordinal,
		EndDate:      values[len(values)-1].Ordinal,
		LastUpdate:   it.src.releaseDate,
		Dimensions:   dimensions,
		Values:       values,
	}, nil
}
