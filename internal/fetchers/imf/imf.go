// Package imf ingests the International Monetary Fund data services: the
// SDMX_JSON REST endpoints for most datasets, plus the World Economic
// Outlook TSV publications scraped off the WEO page.
package imf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/srault95/dlstats/internal/download"
	"github.com/srault95/dlstats/internal/fetchers"
	"github.com/srault95/dlstats/internal/model"
	"github.com/srault95/dlstats/internal/sdmx"
)

const (
	ProviderName = "IMF"
	version      = 3

	defaultBaseURL = "http://dataservices.imf.org/REST/SDMX_JSON.svc"
	defaultWEOURL  = "http://www.imf.org/external/ns/cs.aspx?id=28"
)

var supportedFrequencies = map[string]bool{
	model.FreqAnnual:    true,
	model.FreqQuarterly: true,
	model.FreqMonthly:   true,
}

type datasetDef struct {
	name     string
	docHref  string
	previous []string // versioned history codes, oldest first
}

var datasets = map[string]datasetDef{
	"WEO":        {name: "World Economic Outlook", docHref: defaultWEOURL},
	"WEO-GROUPS": {name: "World Economic Outlook (groups)", docHref: defaultWEOURL},
	"BOP":        {name: "Balance of Payments", docHref: "http://data.imf.org/BOP"},
	"BOPAGG":     {name: "Balance of Payments, World and Regional Aggregates", docHref: "http://data.imf.org/BOP"},
	"DOT":        {name: "Direction of Trade Statistics", docHref: "http://data.imf.org/DOT"},
	"IFS":        {name: "International Financial Statistics", docHref: "http://data.imf.org/IFS"},
	"COMMP":      {name: "Primary Commodity Prices", docHref: "http://data.imf.org"},
	"COMMPP":     {name: "Primary Commodity Prices Projections", docHref: "http://data.imf.org"},
	"GFSR": {name: "Government Finance Statistics, Revenue",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSR2015"}},
	"GFSSSUC": {name: "Government Finance Statistics, Statement of Sources and Uses of Cash",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSSSUC2015"}},
	"GFSCOFOG": {name: "Government Finance Statistics, Expenditure by Function of Government",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSCOFOG2015"}},
	"GFSFALCS": {name: "Government Finance Statistics, Financial Assets and Liabilities by Counterpart Sector",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSFALCS2015"}},
	"GFSIBS": {name: "Government Finance Statistics, Integrated Balance Sheet (Stock Positions and Flows in Assets and Liabilities)",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSIBS2015"}},
	"GFSMAB": {name: "Government Finance Statistics, Main Aggregates and Balances",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSMAB2015"}},
	"GFSE": {name: "Government Finance Statistics, Expense",
		docHref: "http://data.imf.org/COFR", previous: []string{"GFSE2015"}},
	"FSI":   {name: "Financial Soundness Indicators", docHref: "http://data.imf.org/FSI"},
	"FAS":   {name: "Financial Access Survey", docHref: "http://data.imf.org/FAS"},
	"COFER": {name: "Currency Composition of Official Foreign Exchange Reserves", docHref: "http://data.imf.org/COFER"},
	"CDIS":  {name: "Coordinated Direct Investment Survey", docHref: "http://data.imf.org/CDIS"},
	"CPIS":  {name: "Coordinated Portfolio Investment Survey", docHref: "http://data.imf.org/CPIS"},
	"WoRLD": {name: "World Revenue Longitudinal Data", docHref: "http://data.imf.org"},
	"MCDREO": {name: "Middle East and Central Asia Regional Economic Outlook",
		docHref:  "http://data.imf.org/MCDREO",
		previous: []string{"MCDREO201410", "MCDREO201501", "MCDREO201505", "MCDREO201510"}},
	"APDREO": {name: "Asia and Pacific Regional Economic Outlook",
		docHref:  "http://data.imf.org/APDREO",
		previous: []string{"APDREO201410", "APDREO201504", "APDREO201510"}},
	"AFRREO": {name: "Sub-Saharan Africa Regional Economic Outlook",
		docHref:  "http://data.imf.org/AFRREO",
		previous: []string{"AFRREO201410", "AFRREO201504", "AFRREO201510"}},
	"WHDREO": {name: "Western Hemisphere Regional Economic Outlook",
		docHref:  "http://data.imf.org/WHDREO",
		previous: []string{"WHDREO201504", "WHDREO201510"}},
	"WCED": {name: "World Commodity Exporters", docHref: "http://data.imf.org/WCED"},
	"CPI":  {name: "Consumer Price Index", docHref: "http://data.imf.org/CPI"},
	"COFR": {name: "Coverage of Fiscal Reporting", docHref: "http://data.imf.org/COFR"},
	"ICSD": {name: "Investment and Capital Stock", docHref: "http://data.imf.org/ICSD"},
	"HPDD": {name: "Historical Public Debt", docHref: "http://data.imf.org/HPDD"},
	"PGI":  {name: "Principal Global Indicators", docHref: "http://data.imf.org/PGI"},
}

type categoryDef struct {
	code     string
	name     string
	position int
	datasets []string
}

// The IMF services expose no category scheme; the tree is maintained by hand.
var categories = []categoryDef{
	{"BOFS", "Balance of Payments Statistics", 1, []string{"BOP", "BOPAGG"}},
	{"PCP", "Primary Commodity Prices", 2, []string{"COMMP", "COMMPP"}},
	{"GFS", "Government Finance Statistics", 3,
		[]string{"GFSCOFOG", "GFSE", "GFSFALCS", "GFSIBS", "GFSMAB", "GFSR", "GFSSSUC"}},
	{"CDIS", "", 4, []string{"CDIS"}},
	{"CPIS", "", 5, []string{"CPIS"}},
	{"COFER", "", 6, []string{"COFER"}},
	{"DOT", "", 7, []string{"DOT"}},
	{"FAS", "", 8, []string{"FAS"}},
	{"FSI", "", 9, []string{"FSI"}},
	{"REO", "Regional Economic Outlook", 10, []string{"AFRREO", "MCDREO", "APDREO", "WHDREO"}},
	{"IFS", "", 11, []string{"IFS"}},
	{"WoRLD", "", 13, []string{"WoRLD"}},
	{"WEO", "", 14, []string{"WEO"}},
	{"WEO-GROUPS", "", 14, []string{"WEO-GROUPS"}},
	{"PGI", "", 15, []string{"PGI"}},
	{"WCED", "", 16, []string{"WCED"}},
	{"CPI", "", 17, []string{"CPI"}},
	{"COFR", "", 18, []string{"COFR"}},
	{"ICSD", "", 19, []string{"ICSD"}},
	{"HPDD", "", 20, []string{"HPDD"}},
}

type Config struct {
	BaseURL         string
	WEOURL          string
	StorePath       string
	UseExistingFile bool
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:         getenv("IMF_BASE_URL", defaultBaseURL),
		WEOURL:          getenv("IMF_WEO_URL", defaultWEOURL),
		StorePath:       getenv("IMF_STORE_PATH", os.TempDir()),
		UseExistingFile: getenvBool("IMF_USE_EXISTING_FILE", false),
	}
}

type IMF struct {
	config     Config
	logger     *zap.Logger
	downloader *download.Downloader
}

func New(logger *zap.Logger) (fetchers.Fetcher, error) {
	return NewWithConfig(ConfigFromEnv(), logger)
}

func NewWithConfig(cfg Config, logger *zap.Logger) (*IMF, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.WEOURL) == "" {
		cfg.WEOURL = defaultWEOURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dl := download.New(cfg.StorePath)
	dl.UseExistingFile = cfg.UseExistingFile
	return &IMF{
		config:     cfg,
		logger:     logger,
		downloader: dl,
	}, nil
}

func (m *IMF) Provider() model.Provider {
	return model.Provider{
		Name:       ProviderName,
		LongName:   "International Monetary Fund",
		Version:    version,
		Region:     "World",
		Website:    "http://www.imf.org/",
		TermsOfUse: "http://www.imf.org/external/terms.htm",
	}
}

func (m *IMF) DatasetCodes() []string {
	codes := make([]string, 0, len(datasets))
	for code := range datasets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

func (m *IMF) DataTree(ctx context.Context) ([]model.Category, error) {
	_ = ctx
	out := make([]model.Category, 0, len(categories))
	for _, def := range categories {
		name := def.name
		if name == "" {
			name = datasets[def.code].name
		}
		cat := model.Category{
			ProviderName: ProviderName,
			CategoryCode: def.code,
			Name:         name,
			Position:     def.position,
		}
		for _, code := range def.datasets {
			cat.Datasets = append(cat.Datasets, model.DatasetRef{
				DatasetCode: code,
				Name:        datasets[code].name,
				DocHref:     datasets[code].docHref,
			})
		}
		out = append(out, cat)
	}
	return out, nil
}

func (m *IMF) SeriesIterator(ctx context.Context, dataset *model.Dataset) (fetchers.SeriesIterator, error) {
	def, ok := datasets[dataset.DatasetCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fetchers.ErrDatasetUnknown, dataset.DatasetCode)
	}
	dataset.Name = def.name
	dataset.DocHref = def.docHref

	switch dataset.DatasetCode {
	case "WEO", "WEO-GROUPS":
		return newWEOIterator(ctx, m, dataset)
	}
	return newJSONIterator(ctx, m, dataset, def)
}

var _ fetchers.Fetcher = (*IMF)(nil)

// jsonIterator walks the CompactData slices of a dataset, including its
// versioned history datasets on first ingestion, buffering the series of
// each downloaded slice.
type jsonIterator struct {
	imf     *IMF
	ctx     context.Context
	dataset *model.Dataset

	codes    []string // dataset codes left to walk, current first
	replay   bool     // walking the versioned history on first ingestion
	current  string
	release  time.Time
	dsd      *jsonDSD
	slices   []string
	position int
	next     int

	queue []*model.Series
}

// jsonDSD is the digested DataStructure response for one dataset code.
type jsonDSD struct {
	dimensionKeys []string
	attributeKeys []string
	freqDimension string
	codelists     map[string]map[string]string
	concepts      map[string]string
	lastUpdate    time.Time
}

func newJSONIterator(ctx context.Context, m *IMF, dataset *model.Dataset, def datasetDef) (*jsonIterator, error) {
	it := &jsonIterator{
		imf:     m,
		ctx:     ctx,
		dataset: dataset,
	}

	// The history datasets are only walked on first ingestion; afterwards
	// the current dataset alone carries the revisions.
	if dataset.LastUpdate.IsZero() && len(def.previous) > 0 {
		it.codes = append(append([]string(nil), def.previous...), dataset.DatasetCode)
		it.replay = true
	} else {
		it.codes = []string{dataset.DatasetCode}
	}

	if err := it.advanceDataset(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *jsonIterator) Next() (*model.Series, error) {
	for {
		if len(it.queue) > 0 {
			series := it.queue[0]
			it.queue = it.queue[1:]
			return series, nil
		}
		if it.next < len(it.slices) {
			if err := it.loadSlice(it.slices[it.next]); err != nil {
				return nil, err
			}
			it.next++
			continue
		}
		if len(it.codes) == 0 {
			return nil, io.EOF
		}
		if err := it.advanceDataset(); err != nil {
			return nil, err
		}
	}
}

// advanceDataset loads the DSD of the next dataset code and prepares its
// data slices along the widest dimension.
func (it *jsonIterator) advanceDataset() error {
	it.current = it.codes[0]
	it.codes = it.codes[1:]

	versioned := it.current != it.dataset.DatasetCode
	if versioned {
		year, month, ok := versionedRelease(it.current, it.dataset.DatasetCode)
		if !ok {
			return fmt.Errorf("imf: bad history dataset code %s", it.current)
		}
		it.release = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	}

	dsd, err := it.imf.loadDSD(it.ctx, it.current)
	if err != nil {
		return err
	}

	if versioned {
		dsd.lastUpdate = it.release
	} else {
		if dsd.lastUpdate.IsZero() {
			dsd.lastUpdate = time.Now().UTC()
		}
		// Freshness only applies outside history replays.
		if !it.replay && !it.dataset.LastUpdate.IsZero() &&
			!dsd.lastUpdate.After(it.dataset.LastUpdate) {
			return fmt.Errorf("%w: %s update-date[%s]", fetchers.ErrRejectUpdated,
				it.current, dsd.lastUpdate.Format("2006-01-02"))
		}
	}

	it.dsd = dsd
	it.dataset.LastUpdate = dsd.lastUpdate
	it.dataset.DimensionKeys = dsd.dimensionKeys
	it.dataset.AttributeKeys = dsd.attributeKeys
	it.dataset.Codelists = dsd.codelists
	it.dataset.Concepts = dsd.concepts

	dimensions := make(map[string]map[string]string, len(dsd.dimensionKeys))
	for _, key := range dsd.dimensionKeys {
		dimensions[key] = dsd.codelists[key]
	}
	position, pivotKey, values := sdmx.SelectDimension(dsd.dimensionKeys, dimensions, sdmx.ChoiceMax)
	if len(values) == 0 {
		return fmt.Errorf("imf: dataset %s: no coded dimension to slice on", it.current)
	}
	it.position = position
	it.slices = values
	it.next = 0

	it.imf.logger.Info("imf dataset structure loaded",
		zap.String("dataset", it.current),
		zap.Time("last_update", dsd.lastUpdate),
		zap.String("pivot", pivotKey),
		zap.Int("slices", len(values)))
	return nil
}

// loadSlice downloads one CompactData slice and queues its series.
func (it *jsonIterator) loadSlice(value string) error {
	key := sdmx.KeyForDimension(len(it.dsd.dimensionKeys), it.position, value)
	url := fmt.Sprintf("%s/CompactData/%s/%s", it.imf.config.BaseURL, it.current, key)

	var doc compactDocument
	if err := it.imf.fetchJSON(it.ctx, url, fmt.Sprintf("imf_data_%s_%s.json", it.current, value), &doc); err != nil {
		var status *download.StatusError
		if errors.As(err, &status) && status.Code >= 400 && status.Code < 500 {
			it.imf.logger.Warn("imf slice unavailable", zap.String("url", url), zap.Error(err))
			return nil
		}
		return err
	}

	seriesList, err := decodeList[rawSeries](doc.CompactData.DataSet.Series)
	if err != nil {
		return err
	}
	for _, raw := range seriesList {
		series, err := it.buildSeries(raw)
		if err != nil {
			it.imf.logger.Warn("imf series skipped",
				zap.String("dataset", it.current), zap.Error(err))
			continue
		}
		if series != nil {
			it.queue = append(it.queue, series)
		}
	}
	return nil
}

func (it *jsonIterator) buildSeries(raw rawSeries) (*model.Series, error) {
	frequency, err := raw.attr(it.dsd.freqDimension)
	if err != nil {
		return nil, err
	}
	if !supportedFrequencies[frequency] {
		return nil, nil
	}

	dimensions := make(map[string]string, len(it.dsd.dimensionKeys))
	keyParts := make([]string, 0, len(it.dsd.dimensionKeys)+1)
	labels := make([]string, 0, len(it.dsd.dimensionKeys))
	keyParts = append(keyParts, it.dataset.DatasetCode)
	for _, dim := range it.dsd.dimensionKeys {
		value, err := raw.attr(dim)
		if err != nil {
			return nil, err
		}
		dimensions[dim] = value
		keyParts = append(keyParts, value)
		if label, ok := it.dsd.codelists[dim][value]; ok && label != "" {
			labels = append(labels, label)
		}
	}

	attributes := make(map[string]string)
	for _, attr := range it.dsd.attributeKeys {
		value, err := raw.attr(attr)
		if err != nil {
			return nil, err
		}
		if value != "" {
			attributes[attr] = value
		}
	}

	observations, err := raw.observations()
	if err != nil {
		return nil, err
	}
	values := make([]model.SeriesValue, 0, len(observations))
	for _, obs := range observations {
		value, err := obs.attr("OBS_VALUE")
		if err != nil {
			return nil, err
		}
		if value == "" {
			continue
		}
		period, err := obs.attr("TIME_PERIOD")
		if err != nil {
			return nil, err
		}
		ordinal, err := model.ParsePeriod(period, frequency)
		if err != nil {
			return nil, err
		}
		var obsAttrs map[string]string
		for _, attr := range it.dsd.attributeKeys {
			v, err := obs.attr(attr)
			if err != nil {
				return nil, err
			}
			if v == "" {
				continue
			}
			if obsAttrs == nil {
				obsAttrs = make(map[string]string)
			}
			obsAttrs[attr] = v
		}
		values = append(values, model.SeriesValue{
			Period:     period,
			Ordinal:    ordinal,
			Value:      value,
			Attributes: obsAttrs,
		})
	}
	if len(values) == 0 {
		return nil, nil
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Ordinal < values[j].Ordinal })

	return &model.Series{
		ProviderName: ProviderName,
		DatasetCode:  it.dataset.DatasetCode,
		Key:          strings.Join(keyParts, "."),
		Name:         strings.Join(labels, " - "),
		Frequency:    frequency,
		StartDate:    values[0].Ordinal,
		EndDate:      values[len(values)-1].Ordinal,
		LastUpdate:   it.dsd.lastUpdate,
		Dimensions:   dimensions,
		Attributes:   attributes,
		Values:       values,
	}, nil
}

// loadDSD fetches and digests the DataStructure response for code.
func (m *IMF) loadDSD(ctx context.Context, code string) (*jsonDSD, error) {
	var doc dsdDocument
	url := m.config.BaseURL + "/DataStructure/" + code
	if err := m.fetchJSON(ctx, url, "imf_dsd_"+code+".json", &doc); err != nil {
		return nil, err
	}

	codelists := make(map[string]map[string]string)
	codelistDefs, err := decodeList[codelistJSON](doc.Structure.CodeLists.CodeList)
	if err != nil {
		return nil, err
	}
	for _, cl := range codelistDefs {
		codes, err := decodeList[codeJSON](cl.Codes)
		if err != nil {
			return nil, err
		}
		entry := make(map[string]string, len(codes))
		for _, code := range codes {
			entry[code.Value] = code.Description.Text
		}
		codelists[cl.ID] = entry
	}

	concepts := make(map[string]string)
	conceptDefs, err := decodeList[conceptJSON](doc.Structure.Concepts.ConceptScheme.Concept)
	if err != nil {
		return nil, err
	}
	for _, concept := range conceptDefs {
		concepts[concept.ID] = concept.Name.Text
	}

	dsd := &jsonDSD{
		codelists: make(map[string]map[string]string),
		concepts:  concepts,
	}

	components := doc.Structure.KeyFamilies.KeyFamily.Components
	dimensionDefs, err := decodeList[componentJSON](components.Dimension)
	if err != nil {
		return nil, err
	}
	for _, dim := range dimensionDefs {
		dsd.dimensionKeys = append(dsd.dimensionKeys, dim.ConceptRef)
		dsd.codelists[dim.ConceptRef] = codelists[dim.Codelist]
		if dim.IsFrequencyDimension == "true" {
			dsd.freqDimension = dim.ConceptRef
		}
	}
	if dsd.freqDimension == "" {
		dsd.freqDimension = "FREQ"
	}
	attributeDefs, err := decodeList[componentJSON](components.Attribute)
	if err != nil {
		return nil, err
	}
	for _, attr := range attributeDefs {
		dsd.attributeKeys = append(dsd.attributeKeys, attr.ConceptRef)
		if attr.Codelist != "" {
			dsd.codelists[attr.ConceptRef] = codelists[attr.Codelist]
		} else {
			dsd.codelists[attr.ConceptRef] = map[string]string{}
		}
	}

	annotations, err := decodeList[annotationJSON](doc.Structure.KeyFamilies.KeyFamily.Annotations.Annotation)
	if err != nil {
		return nil, err
	}
	for _, annotation := range annotations {
		if annotation.Title != "Latest Update Date" {
			continue
		}
		when, err := time.Parse("1/2/2006", annotation.Text.Text)
		if err != nil {
			return nil, fmt.Errorf("imf: dataset %s: bad update date %q", code, annotation.Text.Text)
		}
		dsd.lastUpdate = when.UTC()
		break
	}
	return dsd, nil
}

func (m *IMF) fetchJSON(ctx context.Context, url, filename string, out any) error {
	path, err := m.downloader.Get(ctx, url, filename)
	if err != nil {
		return err
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := json.NewDecoder(file).Decode(out); err != nil {
		return fmt.Errorf("imf: %s: %w", url, err)
	}
	return nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return fallback
	}
}
