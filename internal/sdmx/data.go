package sdmx

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// RawObs is one observation of a structure-specific data message.
type RawObs struct {
	Period string
	Value  string
	Attrs  map[string]string
}

// RawSeries is one series element with its dimension/attribute values and
// its observations, in document order.
type RawSeries struct {
	Attrs map[string]string
	Obs   []RawObs
}

// DataReader streams series out of an SDMX 2.1 structure-specific data
// message without loading the whole document.
type DataReader struct {
	dec *xml.Decoder
}

func NewDataReader(r io.Reader) *DataReader {
	return &DataReader{dec: xml.NewDecoder(r)}
}

// Next returns the next series in the message, or io.EOF when the
// message is exhausted.
func (r *DataReader) Next() (*RawSeries, error) {
	for {
		tok, err := r.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("sdmx: data message: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Series" {
			continue
		}
		return r.readSeries(start)
	}
}

func (r *DataReader) readSeries(start xml.StartElement) (*RawSeries, error) {
	series := &RawSeries{Attrs: attrMap(start.Attr)}
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("sdmx: data message: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "Obs" {
				if err := r.dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			attrs := attrMap(t.Attr)
			obs := RawObs{
				Period: attrs["TIME_PERIOD"],
				Value:  attrs["OBS_VALUE"],
			}
			delete(attrs, "TIME_PERIOD")
			delete(attrs, "OBS_VALUE")
			obs.Attrs = attrs
			series.Obs = append(series.Obs, obs)
			if err := r.dec.Skip(); err != nil {
				return nil, err
			}
		case xml.EndElement:
			if t.Name.Local == "Series" {
				return series, nil
			}
		}
	}
}

func attrMap(attrs []xml.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		if a.Name.Local == "xmlns" || a.Name.Space == "xmlns" {
			continue
		}
		out[a.Name.Local] = a.Value
	}
	return out
}

// specialFormats maps TIME_FORMAT durations to the frequencies they imply.
var specialFormats = map[string]string{
	"P1Y": "A",
	"P6M": "S",
	"P3M": "Q",
	"P1M": "M",
	"P7D": "W",
	"P1D": "D",
}

// NormalizeSpecialPeriod rewrites a period reported with a duration-style
// TIME_FORMAT into the canonical period string and frequency. Periods
// with an ordinary frequency code pass through unchanged.
func NormalizeSpecialPeriod(period, timeFormat string) (string, string, bool) {
	freq, ok := specialFormats[timeFormat]
	if !ok {
		return period, timeFormat, false
	}
	switch freq {
	case "S":
		// 2014-07 style: the month encodes the half-year.
		if year, month, ok := strings.Cut(period, "-"); ok && len(month) == 2 {
			half := "S1"
			if month > "06" {
				half = "S2"
			}
			return year + "-" + half, freq, true
		}
	case "Q":
		if year, month, ok := strings.Cut(period, "-"); ok && len(month) == 2 {
			quarter := (int(month[0]-'0')*10+int(month[1]-'0') + 2) / 3
			return fmt.Sprintf("%s-Q%d", year, quarter), freq, true
		}
	}
	return period, freq, true
}
