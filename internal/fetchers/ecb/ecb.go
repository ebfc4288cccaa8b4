// Package ecb ingests the European Central Bank Statistical Data Warehouse
// through its SDMX 2.1 REST interface. Dataset structures come from dataflow
// queries with references=all, data comes in per-slice requests along a pivot
// dimension, and freshness comes from the SDW updates feed.
package ecb

import (
	"context"
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
	ProviderName = "ECB"
	version      = 4
	agencyID     = "ECB"

	defaultBaseURL = "https://sdw-wsrest.ecb.europa.eu/service"
	defaultRSSURL  = "https://sdw.ecb.europa.eu/rss/data.do"

	acceptStructure = "application/vnd.sdmx.structure+xml;version=2.1"
	acceptData      = "application/vnd.sdmx.structurespecificdata+xml;version=2.1"
)

type Config struct {
	BaseURL         string
	RSSURL          string
	StorePath       string
	UseExistingFile bool
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:         getenv("ECB_BASE_URL", defaultBaseURL),
		RSSURL:          getenv("ECB_RSS_URL", defaultRSSURL),
		StorePath:       getenv("ECB_STORE_PATH", os.TempDir()),
		UseExistingFile: getenvBool("ECB_USE_EXISTING_FILE", false),
	}
}

type ECB struct {
	config     Config
	logger     *zap.Logger
	structures *download.Downloader
	data       *download.Downloader

	flowCodes []string // cached dataflow codes, filled on first use
}

func New(logger *zap.Logger) (fetchers.Fetcher, error) {
	return NewWithConfig(ConfigFromEnv(), logger)
}

func NewWithConfig(cfg Config, logger *zap.Logger) (*ECB, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if strings.TrimSpace(cfg.RSSURL) == "" {
		cfg.RSSURL = defaultRSSURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	structures := download.New(cfg.StorePath)
	structures.UseExistingFile = cfg.UseExistingFile
	structures.Headers = map[string]string{"Accept": acceptStructure}

	data := download.New(cfg.StorePath)
	data.UseExistingFile = cfg.UseExistingFile
	data.Headers = map[string]string{"Accept": acceptData}

	return &ECB{
		config:     cfg,
		logger:     logger,
		structures: structures,
		data:       data,
	}, nil
}

func (e *ECB) Provider() model.Provider {
	return model.Provider{
		Name:       ProviderName,
		LongName:   "European Central Bank",
		Version:    version,
		Region:     "Europe",
		Website:    "https://www.ecb.europa.eu",
		TermsOfUse: "https://www.ecb.europa.eu/home/disclaimer/html/index.en.html",
	}
}

func (e *ECB) DatasetCodes() []string {
	if e.flowCodes == nil {
		structure, err := e.fetchStructure(context.Background(), "dataflow/"+agencyID, "ecb_dataflows.xml")
		if err != nil {
			e.logger.Warn("ecb dataflow list unavailable", zap.Error(err))
			return nil
		}
		codes := make([]string, 0, len(structure.Dataflows))
		for code := range structure.Dataflows {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		e.flowCodes = codes
	}
	return e.flowCodes
}

// DataTree walks the ECB category scheme and attaches each categorised
// dataflow to its category.
func (e *ECB) DataTree(ctx context.Context) ([]model.Category, error) {
	structure, err := e.fetchStructure(ctx,
		"categoryscheme/"+agencyID+"?references=parentsandsiblings", "ecb_categoryscheme.xml")
	if err != nil {
		return nil, err
	}

	var categories []model.Category
	position := 0
	var walk func(cat sdmx.Category, parent string, parents []string)
	walk = func(cat sdmx.Category, parent string, parents []string) {
		position++
		out := model.Category{
			ProviderName: ProviderName,
			CategoryCode: cat.ID,
			Name:         cat.Name,
			Position:     position,
			Parent:       parent,
			AllParents:   append([]string(nil), parents...),
		}
		flowIDs := append([]string(nil), structure.Categorisations[cat.ID]...)
		sort.Strings(flowIDs)
		for _, flowID := range flowIDs {
			flow, ok := structure.Dataflows[flowID]
			if !ok {
				continue
			}
			out.Datasets = append(out.Datasets, model.DatasetRef{
				DatasetCode: flow.ID,
				Name:        flow.Name,
			})
		}
		categories = append(categories, out)
		for _, child := range cat.Children {
			walk(child, cat.ID, append(parents, cat.ID))
		}
	}
	for _, root := range structure.Categories {
		walk(root, "", nil)
	}
	return categories, nil
}

func (e *ECB) SeriesIterator(ctx context.Context, dataset *model.Dataset) (fetchers.SeriesIterator, error) {
	code := dataset.DatasetCode

	lastUpdate, err := e.lastUpdateFromFeed(ctx, code)
	if err != nil {
		e.logger.Warn("ecb updates feed unavailable", zap.String("dataset", code), zap.Error(err))
		lastUpdate = time.Now().UTC()
	}
	if !dataset.LastUpdate.IsZero() && !lastUpdate.After(dataset.LastUpdate) {
		return nil, fmt.Errorf("%w: %s release[%s]", fetchers.ErrRejectUpdated,
			code, lastUpdate.Format("2006-01-02"))
	}

	structure, err := e.fetchStructure(ctx,
		fmt.Sprintf("dataflow/%s/%s?references=all", agencyID, code),
		fmt.Sprintf("ecb_dataflow_%s.xml", code))
	if err != nil {
		return nil, err
	}
	flow, ok := structure.Dataflows[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fetchers.ErrDatasetUnknown, code)
	}
	dsd, ok := structure.DataStructures[flow.DSDRef]
	if !ok {
		return nil, fmt.Errorf("ecb: dataflow %s: data structure %s missing", code, flow.DSDRef)
	}

	dataset.Name = flow.Name
	dataset.LastUpdate = lastUpdate
	dataset.DimensionKeys = dsd.DimensionKeys()
	dataset.AttributeKeys = dsd.AttributeKeys()
	dataset.Concepts = make(map[string]string)
	dataset.Codelists = make(map[string]map[string]string)
	for _, component := range append(append([]sdmx.Component(nil), dsd.Dimensions...), dsd.Attributes...) {
		dataset.Concepts[component.ConceptRef] = structure.Concepts[component.ConceptRef]
		if codes, ok := structure.Codelists[component.CodelistRef]; ok {
			dataset.Codelists[component.ConceptRef] = codes
		}
	}

	// Slice the series space along one dimension to keep responses bounded.
	dimensionCodes := make(map[string]map[string]string, len(dataset.DimensionKeys))
	for _, key := range dataset.DimensionKeys {
		dimensionCodes[key] = dataset.Codelists[key]
	}
	position, pivotKey, codes := sdmx.SelectDimension(dataset.DimensionKeys, dimensionCodes, sdmx.ChoiceAvg)
	if len(codes) == 0 {
		return nil, fmt.Errorf("ecb: dataflow %s: no coded dimension to slice on", code)
	}

	e.logger.Info("ecb dataset structure loaded",
		zap.String("dataset", code),
		zap.Time("last_update", lastUpdate),
		zap.String("pivot", pivotKey),
		zap.Int("slices", len(codes)))

	return &seriesIterator{
		ecb:      e,
		ctx:      ctx,
		dataset:  dataset,
		position: position,
		codes:    codes,
	}, nil
}

// seriesIterator walks the data slices of one dataflow, streaming series out
// of each structure-specific data file in turn.
type seriesIterator struct {
	ecb      *ECB
	ctx      context.Context
	dataset  *model.Dataset
	position int
	codes    []string

	next   int
	file   *os.File
	reader *sdmx.DataReader
}

func (it *seriesIterator) Next() (*model.Series, error) {
	for {
		if it.reader == nil {
			if err := it.openNextSlice(); err != nil {
				return nil, err
			}
		}
		raw, err := it.reader.Next()
		if errors.Is(err, io.EOF) {
			it.closeSlice()
			continue
		}
		if err != nil {
			it.closeSlice()
			return nil, err
		}
		series, err := it.buildSeries(raw)
		if err != nil {
			it.ecb.logger.Warn("ecb series skipped",
				zap.String("dataset", it.dataset.DatasetCode), zap.Error(err))
			continue
		}
		return series, nil
	}
}

func (it *seriesIterator) openNextSlice() error {
	for it.next < len(it.codes) {
		value := it.codes[it.next]
		it.next++

		key := sdmx.KeyForDimension(len(it.dataset.DimensionKeys), it.position, value)
		path, err := it.ecb.data.Get(it.ctx,
			fmt.Sprintf("%s/data/%s/%s", it.ecb.config.BaseURL, it.dataset.DatasetCode, key),
			fmt.Sprintf("ecb_data_%s_%s.xml", it.dataset.DatasetCode, value))
		if err != nil {
			var status *download.StatusError
			if errors.As(err, &status) && status.Code == 404 {
				// no series for this slice
				continue
			}
			return err
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		it.file = file
		it.reader = sdmx.NewDataReader(file)
		return nil
	}
	return io.EOF
}

func (it *seriesIterator) closeSlice() {
	if it.file != nil {
		it.file.Close()
		it.file = nil
	}
	it.reader = nil
}

func (it *seriesIterator) buildSeries(raw *sdmx.RawSeries) (*model.Series, error) {
	dataset := it.dataset

	dimensions := make(map[string]string, len(dataset.DimensionKeys))
	attributes := make(map[string]string)
	for key, value := range raw.Attrs {
		if isDimension(dataset.DimensionKeys, key) {
			dimensions[key] = value
		} else {
			attributes[key] = value
		}
	}

	keyParts := make([]string, len(dataset.DimensionKeys))
	for i, key := range dataset.DimensionKeys {
		keyParts[i] = dimensions[key]
	}
	seriesKey := strings.Join(keyParts, ".")

	frequency := dimensions["FREQ"]
	timeFormat := attributes["TIME_FORMAT"]

	values := make([]model.SeriesValue, 0, len(raw.Obs))
	for _, obs := range raw.Obs {
		period, freq, normalized := sdmx.NormalizeSpecialPeriod(obs.Period, timeFormat)
		if !normalized {
			freq = frequency
		}
		if frequency == "" {
			frequency = freq
		}
		ordinal, err := model.ParsePeriod(period, frequency)
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", seriesKey, err)
		}
		value := obs.Value
		if value == "" {
			value = "na"
		}
		values = append(values, model.SeriesValue{
			Period:     period,
			Ordinal:    ordinal,
			Value:      value,
			Attributes: obs.Attrs,
		})
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("series %s: no observations", seriesKey)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Ordinal < values[j].Ordinal })

	name := attributes["TITLE_COMPL"]
	if name == "" {
		name = attributes["TITLE"]
	}
	if name == "" {
		labels := make([]string, 0, len(dataset.DimensionKeys))
		for _, key := range dataset.DimensionKeys {
			if label, ok := dataset.Codelists[key][dimensions[key]]; ok && label != "" {
				labels = append(labels, label)
			}
		}
		name = strings.Join(labels, " - ")
	}

	return &model.Series{
		ProviderName: ProviderName,
		DatasetCode:  dataset.DatasetCode,
		Key:          seriesKey,
		Name:         name,
		Frequency:    frequency,
		StartDate:    values[0].Ordinal,
		EndDate:      values[len(values)-1].Ordinal,
		LastUpdate:   dataset.LastUpdate,
		Dimensions:   dimensions,
		Attributes:   attributes,
		Values:       values,
	}, nil
}

func isDimension(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func (e *ECB) fetchStructure(ctx context.Context, resource, filename string) (*sdmx.Structure, error) {
	path, err := e.structures.Get(ctx, e.config.BaseURL+"/"+resource, filename)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return sdmx.ParseStructure(file)
}

var _ fetchers.Fetcher = (*ECB)(nil)
var _ fetchers.CalendarFetcher = (*ECB)(nil)

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
