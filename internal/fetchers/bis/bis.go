// Package bis ingests the Bank for International Settlements full-dump
// statistics: zipped CSV files with per-dataset metadata header lines, plus
// the HTML release calendar.
package bis

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/srault95/dlstats/internal/download"
	"github.com/srault95/dlstats/internal/fetchers"
	"github.com/srault95/dlstats/internal/model"
)

const (
	ProviderName = "BIS"
	version      = 4

	defaultAgendaURL = "https://www.bis.org/statistics/relcal.htm?m=6|37|68"
)

type datasetDef struct {
	name         string
	agendaTitles []string
	docHref      string
	url          string
	filename     string
	frequency    string
	headersLine  int
}

// Full-dump datasets carried by the fetcher. The headersLine offsets locate
// the header row inside each file's metadata preamble.
var datasets = map[string]datasetDef{
	"LBS-DISS": {
		name:         "Locational Banking Statistics - disseminated data",
		agendaTitles: []string{"Banking statistics Locational"},
		docHref:      "https://www.bis.org/statistics/bankstats.htm",
		url:          "https://www.bis.org/statistics/full_bis_lbs_diss_csv.zip",
		filename:     "full_bis_lbs_diss_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  7,
	},
	"CBS": {
		name:         "Consolidated banking statistics",
		agendaTitles: []string{"Banking statistics Consolidated"},
		docHref:      "https://www.bis.org/statistics/consstats.htm",
		url:          "https://www.bis.org/statistics/full_bis_cbs_csv.zip",
		filename:     "full_bis_cbs_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  8,
	},
	"DSS": {
		name: "Debt securities statistics",
		// one file feeds both the international and the domestic agenda rows
		agendaTitles: []string{"Debt securities statistics International", "Debt securities statistics Domestic and total"},
		docHref:      "https://www.bis.org/statistics/secstats.htm",
		url:          "https://www.bis.org/statistics/full_bis_debt_sec2_csv.zip",
		filename:     "full_bis_debt_sec2_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  10,
	},
	"CNFS": {
		name:         "Credit to the non-financial sector",
		agendaTitles: []string{"Credit to non-financial sector"},
		docHref:      "https://www.bis.org/statistics/credtopriv.htm",
		url:          "https://www.bis.org/statistics/full_bis_total_credit_csv.zip",
		filename:     "full_bis_total_credit_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  5,
	},
	"DSRP": {
		name:         "Debt service ratios for the private non-financial sector",
		agendaTitles: []string{"Debt service ratio"},
		docHref:      "https://www.bis.org/statistics/dsr.htm",
		url:          "https://www.bis.org/statistics/full_bis_dsr_csv.zip",
		filename:     "full_bis_dsr_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  7,
	},
	"PP-SS": {
		name:         "Property prices - selected series",
		agendaTitles: []string{"Property prices Selected"},
		docHref:      "https://www.bis.org/statistics/pp_detailed.htm",
		url:          "https://www.bis.org/statistics/full_bis_selected_pp_csv.zip",
		filename:     "full_bis_selected_pp_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  5,
	},
	"PP-LS": {
		name:         "Property prices - long series",
		agendaTitles: []string{"Property prices long"},
		docHref:      "https://www.bis.org/statistics/pp_long.htm",
		url:          "https://www.bis.org/statistics/full_bis_long_pp_csv.zip",
		filename:     "full_bis_long_pp_csv.zip",
		frequency:    model.FreqQuarterly,
		headersLine:  6,
	},
	"EERI": {
		name:         "Effective exchange rate indices",
		agendaTitles: []string{"Effective exchange rates"},
		docHref:      "https://www.bis.org/statistics/eer/index.htm",
		url:          "https://www.bis.org/statistics/full_bis_eer_csv.zip",
		filename:     "full_bis_eer_csv.zip",
		frequency:    model.FreqMonthly,
		headersLine:  4,
	},
}

type Config struct {
	StorePath       string
	AgendaURL       string
	UseExistingFile bool
}

func ConfigFromEnv() Config {
	return Config{
		StorePath:       getenv("BIS_STORE_PATH", os.TempDir()),
		AgendaURL:       getenv("BIS_AGENDA_URL", defaultAgendaURL),
		UseExistingFile: getenvBool("BIS_USE_EXISTING_FILE", false),
	}
}

type BIS struct {
	config     Config
	logger     *zap.Logger
	downloader *download.Downloader
}

func New(logger *zap.Logger) (fetchers.Fetcher, error) {
	return NewWithConfig(ConfigFromEnv(), logger)
}

func NewWithConfig(cfg Config, logger *zap.Logger) (*BIS, error) {
	if strings.TrimSpace(cfg.AgendaURL) == "" {
		cfg.AgendaURL = defaultAgendaURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dl := download.New(cfg.StorePath)
	dl.UseExistingFile = cfg.UseExistingFile
	return &BIS{
		config:     cfg,
		logger:     logger,
		downloader: dl,
	}, nil
}

func (b *BIS) Provider() model.Provider {
	return model.Provider{
		Name:       ProviderName,
		LongName:   "Bank for International Settlements",
		Version:    version,
		Region:     "World",
		Website:    "https://www.bis.org",
		TermsOfUse: "https://www.bis.org/terms_conditions.htm",
	}
}

func (b *BIS) DatasetCodes() []string {
	codes := make([]string, 0, len(datasets))
	for code := range datasets {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// DataTree is flat for BIS: one category per dataset.
func (b *BIS) DataTree(ctx context.Context) ([]model.Category, error) {
	_ = ctx
	categories := make([]model.Category, 0, len(datasets))
	for _, code := range b.DatasetCodes() {
		def := datasets[code]
		categories = append(categories, model.Category{
			ProviderName: ProviderName,
			CategoryCode: code,
			Name:         def.name,
			DocHref:      def.docHref,
			Datasets: []model.DatasetRef{{
				DatasetCode: code,
				Name:        def.name,
				DocHref:     def.docHref,
			}},
		})
	}
	return categories, nil
}

func (b *BIS) SeriesIterator(ctx context.Context, dataset *model.Dataset) (fetchers.SeriesIterator, error) {
	def, ok := datasets[dataset.DatasetCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fetchers.ErrDatasetUnknown, dataset.DatasetCode)
	}

	zipPath, err := b.downloader.Get(ctx, def.url, def.filename)
	if err != nil {
		return nil, err
	}
	csvPath, err := download.ExtractZipFirst(zipPath)
	if err != nil {
		return nil, err
	}

	src, err := openCSV(csvPath, def.headersLine)
	if err != nil {
		return nil, err
	}

	if !dataset.LastUpdate.IsZero() && !src.releaseDate.After(dataset.LastUpdate) {
		src.Close()
		return nil, fmt.Errorf("%w: %s release[%s]", fetchers.ErrRejectUpdated,
			dataset.DatasetCode, src.releaseDate.Format("2006-01-02"))
	}

	dataset.Name = def.name
	dataset.DocHref = def.docHref
	dataset.LastUpdate = src.releaseDate
	dataset.DimensionKeys = src.dimensionKeys
	dataset.Concepts = make(map[string]string, len(src.dimensionKeys))
	for _, key := range src.dimensionKeys {
		dataset.Concepts[key] = key
	}
	dataset.AddFrequency(def.frequency)

	b.logger.Info("bis dataset file loaded",
		zap.String("dataset", dataset.DatasetCode),
		zap.Time("release_date", src.releaseDate),
		zap.Int("periods", len(src.periods)))

	return &seriesIterator{
		src:       src,
		dataset:   dataset,
		frequency: def.frequency,
	}, nil
}

var _ fetchers.Fetcher = (*BIS)(nil)
var _ fetchers.CalendarFetcher = (*BIS)(nil)

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
