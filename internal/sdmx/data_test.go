package sdmx

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataFixture = `<?xml version="1.0" encoding="UTF-8"?>
<mes:StructureSpecificData xmlns:mes="http://www.sdmx.org/resources/sdmxml/schemas/v2_1/message">
  <mes:DataSet>
    <Series FREQ="Q" CURRENCY="EUR" TIME_FORMAT="P3M" TITLE="Euro series">
      <Obs TIME_PERIOD="2014-Q1" OBS_VALUE="1.05" OBS_STATUS="A"/>
      <Obs TIME_PERIOD="2014-Q2" OBS_VALUE="1.10" OBS_STATUS="A"/>
    </Series>
    <Series FREQ="A" CURRENCY="USD">
      <Obs TIME_PERIOD="2014" OBS_VALUE="1.33"/>
    </Series>
  </mes:DataSet>
</mes:StructureSpecificData>`

func TestDataReader(t *testing.T) {
	reader := NewDataReader(strings.NewReader(dataFixture))

	first, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "Q", first.Attrs["FREQ"])
	assert.Equal(t, "EUR", first.Attrs["CURRENCY"])
	assert.Equal(t, "Euro series", first.Attrs["TITLE"])
	require.Len(t, first.Obs, 2)
	assert.Equal(t, "2014-Q1", first.Obs[0].Period)
	assert.Equal(t, "1.05", first.Obs[0].Value)
	assert.Equal(t, map[string]string{"OBS_STATUS": "A"}, first.Obs[0].Attrs)

	second, err := reader.Next()
	require.NoError(t, err)
	assert.Equal(t, "USD", second.Attrs["CURRENCY"])
	require.Len(t, second.Obs, 1)
	assert.Empty(t, second.Obs[0].Attrs)

	_, err = reader.Next()
	assert.Equal(t, io.EOF, err)
}

func TestNormalizeSpecialPeriod(t *testing.T) {
	cases := []struct {
		period     string
		timeFormat string
		wantPeriod string
		wantFreq   string
		normalized bool
	}{
		{"2014", "P1Y", "2014", "A", true},
		{"2014-04", "P3M", "2014-Q2", "Q", true},
		{"2014-10", "P3M", "2014-Q4", "Q", true},
		{"2014-03", "P6M", "2014-S1", "S", true},
		{"2014-09", "P6M", "2014-S2", "S", true},
		{"2014-05", "P1M", "2014-05", "M", true},
		{"2014-05-07", "P1D", "2014-05-07", "D", true},
		{"2014-Q1", "Q", "2014-Q1", "Q", false},
	}
	for _, tc := range cases {
		period, freq, normalized := NormalizeSpecialPeriod(tc.period, tc.timeFormat)
		assert.Equal(t, tc.wantPeriod, period, "period %s/%s", tc.period, tc.timeFormat)
		assert.Equal(t, tc.wantFreq, freq, "freq %s/%s", tc.period, tc.timeFormat)
		assert.Equal(t, tc.normalized, normalized)
	}
}
