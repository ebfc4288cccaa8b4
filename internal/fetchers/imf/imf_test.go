package imf

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/srault95/dlstats/internal/fetchers"
	"github.com/srault95/dlstats/internal/model"
)

func serveFile(t *testing.T, name string) http.HandlerFunc {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(content) }
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/DataStructure/PGI", serveFile(t, "dsd_pgi.json"))
	mux.HandleFunc("/DataStructure/HPDD", serveFile(t, "dsd_hpdd.json"))
	compact := serveFile(t, "compact_pgi_de.json")
	mux.HandleFunc("/CompactData/PGI/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/.DE.") {
			compact(w, r)
			return
		}
		// other slices carry no series
		http.NotFound(w, r)
	})
	mux.HandleFunc("/external/ns/cs.aspx", serveFile(t, "weo_index.html"))
	mux.HandleFunc("/external/pubs/ft/weo/2015/02/weodata/download.aspx", serveFile(t, "weo_download.html"))
	mux.HandleFunc("/external/pubs/ft/weo/2015/02/weodata/WEOOct2015all.xls", serveFile(t, "WEOOct2015all.xls"))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestFetcher(t *testing.T, server *httptest.Server) *IMF {
	t.Helper()
	m, err := NewWithConfig(Config{
		BaseURL:   server.URL,
		WEOURL:    server.URL + "/external/ns/cs.aspx?id=28",
		StorePath: t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestDatasetCodes(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	codes := m.DatasetCodes()
	assert.Len(t, codes, 31)
	assert.True(t, sort.StringsAreSorted(codes))
	assert.Contains(t, codes, "WEO")
	assert.Contains(t, codes, "IFS")
	assert.Contains(t, codes, "PGI")
}

func TestDataTree(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	categories, err := m.DataTree(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 20)

	byCode := make(map[string]model.Category, len(categories))
	for _, cat := range categories {
		byCode[cat.CategoryCode] = cat
	}

	assert.Len(t, byCode["GFS"].Datasets, 7)
	assert.Equal(t, "Government Finance Statistics", byCode["GFS"].Name)

	// categories named after their single dataset
	assert.Equal(t, "World Economic Outlook", byCode["WEO"].Name)
	require.Len(t, byCode["WEO"].Datasets, 1)
	assert.Equal(t, "WEO", byCode["WEO"].Datasets[0].DatasetCode)
}

func TestSeriesIteratorUnknownDataset(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	_, err := m.SeriesIterator(context.Background(), &model.Dataset{
		ProviderName: ProviderName,
		DatasetCode:  "NOPE",
	})
	assert.ErrorIs(t, err, fetchers.ErrDatasetUnknown)
}

func TestJSONIterator(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	dataset := &model.Dataset{ProviderName: ProviderName, DatasetCode: "PGI"}
	iterator, err := m.SeriesIterator(context.Background(), dataset)
	require.NoError(t, err)

	wantUpdate := time.Date(2015, time.September, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Principal Global Indicators", dataset.Name)
	assert.True(t, dataset.LastUpdate.Equal(wantUpdate))
	assert.Equal(t, []string{"FREQ", "REF_AREA", "INDICATOR"}, dataset.DimensionKeys)
	assert.Equal(t, []string{"OBS_STATUS"}, dataset.AttributeKeys)
	assert.Equal(t, "Germany", dataset.Codelists["REF_AREA"]["DE"])
	assert.Equal(t, "Frequency", dataset.Concepts["FREQ"])

	item, err := iterator.Next()
	require.NoError(t, err)
	assert.Equal(t, "PGI.A.DE.AIP_IX", item.Key)
	assert.Equal(t, "Annual - Germany - Industrial production", item.Name)
	assert.Equal(t, "A", item.Frequency)
	assert.Equal(t, map[string]string{"FREQ": "A", "REF_AREA": "DE", "INDICATOR": "AIP_IX"}, item.Dimensions)
	assert.Equal(t, "A", item.Attributes["OBS_STATUS"])
	assert.True(t, item.LastUpdate.Equal(wantUpdate))

	require.Len(t, item.Values, 2)
	assert.Equal(t, "2013", item.Values[0].Period)
	assert.Equal(t, 43, item.Values[0].Ordinal)
	assert.Equal(t, "101.5", item.Values[0].Value)
	assert.Equal(t, "A", item.Values[0].Attributes["OBS_STATUS"])
	assert.Equal(t, "103.0", item.Values[1].Value)
	assert.Empty(t, item.Values[1].Attributes)

	// the weekly series is out of scope, remaining slices are empty
	_, err = iterator.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestLoadDSDFrequencyDimensionFlag(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	// the flagged dimension drives frequency even under another name
	dsd, err := m.loadDSD(context.Background(), "HPDD")
	require.NoError(t, err)
	assert.Equal(t, "FREQUENCY", dsd.freqDimension)
	assert.Equal(t, []string{"FREQUENCY", "REF_AREA"}, dsd.dimensionKeys)

	it := &jsonIterator{
		imf:     m,
		dataset: &model.Dataset{ProviderName: ProviderName, DatasetCode: "HPDD"},
		dsd:     dsd,
	}
	raw := rawSeries{
		"@FREQUENCY": json.RawMessage(`"A"`),
		"@REF_AREA":  json.RawMessage(`"DE"`),
		"Obs":        json.RawMessage(`[{"@TIME_PERIOD":"2014","@OBS_VALUE":"55.1"}]`),
	}
	item, err := it.buildSeries(raw)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "A", item.Frequency)
	assert.Equal(t, "HPDD.A.DE", item.Key)
}

func TestJSONIteratorRejectsFreshDataset(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	dataset := &model.Dataset{
		ProviderName: ProviderName,
		DatasetCode:  "PGI",
		LastUpdate:   time.Date(2015, time.September, 20, 0, 0, 0, 0, time.UTC),
	}
	_, err := m.SeriesIterator(context.Background(), dataset)
	assert.ErrorIs(t, err, fetchers.ErrRejectUpdated)
}

func TestWEOIterator(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	dataset := &model.Dataset{ProviderName: ProviderName, DatasetCode: "WEO"}
	iterator, err := m.SeriesIterator(context.Background(), dataset)
	require.NoError(t, err)

	item, err := iterator.Next()
	require.NoError(t, err)

	release := time.Date(2015, time.October, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, dataset.LastUpdate.Equal(release))
	assert.True(t, item.LastUpdate.Equal(release))

	assert.Equal(t, "NGDP.DEU.0", item.Key)
	assert.Equal(t, "Gross domestic product, current prices - Germany - National currency", item.Name)
	assert.Equal(t, model.FreqAnnual, item.Frequency)
	assert.Equal(t, map[string]string{
		"WEO Subject Code": "NGDP",
		"ISO":              "DEU",
		"Units":            "0",
	}, item.Dimensions)
	assert.Equal(t, "134", item.Attributes["WEO Country Code"])
	assert.Equal(t, "0", item.Attributes["Scale"])
	assert.Contains(t, item.Notes, "Expressed in billions of national currency units.")
	assert.Contains(t, item.Notes, "Source: National Statistics Office.")

	// commas are stripped, estimates are flagged from the marker year on
	require.Len(t, item.Values, 3)
	assert.Equal(t, "2809.48", item.Values[0].Value)
	assert.Empty(t, item.Values[0].Attributes)
	assert.Equal(t, "2915.65", item.Values[1].Value)
	assert.Equal(t, "e", item.Values[1].Attributes["flag"])
	assert.Equal(t, "e", item.Values[2].Attributes["flag"])

	assert.Equal(t, "Gross domestic product, current prices (National currency)",
		dataset.Codelists["WEO Subject Code"]["NGDP"])
	assert.Equal(t, "Germany", dataset.Codelists["ISO"]["DEU"])
	assert.Equal(t, "National currency", dataset.Codelists["Units"]["0"])
	assert.Equal(t, "Billions", dataset.Codelists["Scale"]["0"])
	assert.Equal(t, "Estimates Start After", dataset.Codelists["flag"]["e"])

	_, err = iterator.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWEOIteratorSkipsIngestedReleases(t *testing.T) {
	m := newTestFetcher(t, newTestServer(t))

	dataset := &model.Dataset{
		ProviderName: ProviderName,
		DatasetCode:  "WEO",
		LastUpdate:   time.Date(2015, time.December, 1, 0, 0, 0, 0, time.UTC),
	}
	iterator, err := m.SeriesIterator(context.Background(), dataset)
	require.NoError(t, err)

	_, err = iterator.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestVersionedRelease(t *testing.T) {
	cases := []struct {
		code, base  string
		year, month int
		ok          bool
	}{
		{"GFSR2015", "GFSR", 2015, 1, true},
		{"MCDREO201410", "MCDREO", 2014, 10, true},
		{"APDREO201504", "APDREO", 2015, 4, true},
		{"GFSR15", "GFSR", 0, 0, false},
		{"GFSRabcd", "GFSR", 0, 0, false},
	}
	for _, tc := range cases {
		year, month, ok := versionedRelease(tc.code, tc.base)
		assert.Equal(t, tc.ok, ok, tc.code)
		if tc.ok {
			assert.Equal(t, tc.year, year, tc.code)
			assert.Equal(t, tc.month, month, tc.code)
		}
	}
}

func TestFlexList(t *testing.T) {
	var single flexList
	require.NoError(t, json.Unmarshal([]byte(`{"@value":"A"}`), &single))
	assert.Len(t, single, 1)

	var many flexList
	require.NoError(t, json.Unmarshal([]byte(`[{"@value":"A"},{"@value":"Q"}]`), &many))
	assert.Len(t, many, 2)

	codes, err := decodeList[codeJSON](many)
	require.NoError(t, err)
	assert.Equal(t, "A", codes[0].Value)
	assert.Equal(t, "Q", codes[1].Value)
}

func TestJSONString(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`"105.2"`, "105.2"},
		{`105.2`, "105.2"},
		{`-3`, "-3"},
		{`null`, ""},
		{``, ""},
	}
	for _, tc := range cases {
		got, err := jsonString(json.RawMessage(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	_, err := jsonString(json.RawMessage(`{"nested":true}`))
	assert.Error(t, err)
}

func TestAssignCode(t *testing.T) {
	byName := make(map[string]string)
	codelist := make(map[string]string)

	assert.Equal(t, "0", assignCode(byName, codelist, "National currency"))
	assert.Equal(t, "1", assignCode(byName, codelist, "Percent change"))
	assert.Equal(t, "0", assignCode(byName, codelist, "National currency"))
	assert.Equal(t, "National currency", codelist["0"])
	assert.Equal(t, "Percent change", codelist["1"])
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("IMF_BASE_URL", "http://example.org/sdmx/")
	t.Setenv("IMF_STORE_PATH", "/tmp/imf")
	t.Setenv("IMF_USE_EXISTING_FILE", "1")

	cfg := ConfigFromEnv()
	assert.Equal(t, "http://example.org/sdmx/", cfg.BaseURL)
	assert.Equal(t, defaultWEOURL, cfg.WEOURL)
	assert.Equal(t, "/tmp/imf", cfg.StorePath)
	assert.True(t, cfg.UseExistingFile)
}
