package imf

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/srault95/dlstats/internal/model"
)

// The WEO page links one publication per release; each publication page
// links the tab-separated country file ("WEOApr2016all.xls") and the
// country-groups file ("WEOApr2016alla.xls"). Files are Latin-1 encoded
// TSV despite the .xls extension.
var weoReleasePattern = regexp.MustCompile(`WEO([A-Za-z]{3}\d{4})`)

// weoIterator replays the WEO publications in chronological order so
// revisions accumulate release by release.
type weoIterator struct {
	imf     *IMF
	ctx     context.Context
	dataset *model.Dataset
	groups  bool

	urls        []string
	next        int
	releaseDate time.Time

	file   *os.File
	reader *csv.Reader
	header map[string]int
	years  []string

	unitCodes  map[string]string
	scaleCodes map[string]string
}

func newWEOIterator(ctx context.Context, m *IMF, dataset *model.Dataset) (*weoIterator, error) {
	it := &weoIterator{
		imf:        m,
		ctx:        ctx,
		dataset:    dataset,
		groups:     dataset.DatasetCode == "WEO-GROUPS",
		unitCodes:  make(map[string]string),
		scaleCodes: make(map[string]string),
	}

	urls, err := it.discoverURLs()
	if err != nil {
		return nil, err
	}
	it.urls = urls

	dataset.AddFrequency(model.FreqAnnual)
	if it.groups {
		dataset.DimensionKeys = []string{"WEO Subject Code", "WEO Country Group Code", "Units"}
		dataset.AttributeKeys = []string{"Scale", "flag"}
	} else {
		dataset.DimensionKeys = []string{"WEO Subject Code", "ISO", "Units"}
		dataset.AttributeKeys = []string{"WEO Country Code", "Scale", "flag"}
	}
	dataset.Concepts = make(map[string]string)
	for _, key := range append(append([]string(nil), dataset.DimensionKeys...), dataset.AttributeKeys...) {
		dataset.Concepts[key] = key
		dataset.Codelist(key)
	}
	dataset.Codelist("flag")["e"] = "Estimates Start After"

	return it, nil
}

// discoverURLs scrapes the WEO page for the per-release data files, oldest
// release first.
func (it *weoIterator) discoverURLs() ([]string, error) {
	indexPath, err := it.imf.downloader.Get(it.ctx, it.imf.config.WEOURL, "weo.html")
	if err != nil {
		return nil, err
	}
	indexDoc, err := openDocument(indexPath)
	if err != nil {
		return nil, err
	}

	var pages []string
	indexDoc.Find("div#content-main h4 a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.Contains(href, "/weo/") {
			return
		}
		if !strings.HasSuffix(href, "index.aspx") {
			return
		}
		pages = append(pages, strings.TrimSuffix(href, "index.aspx")+"download.aspx")
	})

	filePattern := regexp.MustCompile(`WEO[A-Za-z]{3}\d{4}all\.xls$`)
	if it.groups {
		filePattern = regexp.MustCompile(`WEO[A-Za-z]{3}\d{4}alla\.xls$`)
	}

	var out []string
	for _, page := range pages {
		pageURL, err := resolveURL(it.imf.config.WEOURL, page)
		if err != nil {
			continue
		}
		pagePath, err := it.imf.downloader.Get(it.ctx, pageURL, "weo_"+model.Slugify(pageURL)+".html")
		if err != nil {
			it.imf.logger.Warn("weo release page unavailable", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		pageDoc, err := openDocument(pagePath)
		if err != nil {
			return nil, err
		}
		pageDoc.Find("div#content table a").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, ok := sel.Attr("href")
			if !ok || !filePattern.MatchString(href) {
				return true
			}
			if fileURL, err := resolveURL(pageURL, href); err == nil {
				out = append(out, fileURL)
			}
			return false
		})
	}

	sort.Strings(out)
	return out, nil
}

func (it *weoIterator) Next() (*model.Series, error) {
	for {
		if it.reader == nil {
			if err := it.openNextFile(); err != nil {
				return nil, err
			}
		}
		row, err := it.reader.Read()
		if err == io.EOF {
			it.closeFile()
			continue
		}
		if err != nil {
			it.closeFile()
			return nil, err
		}
		if it.cell(row, it.countryColumn()) == "" {
			// footer notes follow the data rows
			it.closeFile()
			continue
		}
		return it.buildSeries(row)
	}
}

func (it *weoIterator) openNextFile() error {
	for it.next < len(it.urls) {
		fileURL := it.urls[it.next]
		it.next++

		match := weoReleasePattern.FindStringSubmatch(fileURL)
		if match == nil {
			continue
		}
		release, err := time.Parse("Jan2006", match[1])
		if err != nil {
			continue
		}
		if !it.dataset.LastUpdate.IsZero() && !release.After(it.dataset.LastUpdate) {
			it.imf.logger.Info("weo release already ingested",
				zap.String("dataset", it.dataset.DatasetCode),
				zap.Time("release_date", release))
			continue
		}

		filePath, err := it.imf.downloader.Get(it.ctx, fileURL, path.Base(fileURL))
		if err != nil {
			return err
		}
		file, err := os.Open(filePath)
		if err != nil {
			return err
		}

		reader := csv.NewReader(transform.NewReader(file, charmap.ISO8859_1.NewDecoder()))
		reader.Comma = '\t'
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		fields, err := reader.Read()
		if err != nil {
			file.Close()
			return fmt.Errorf("imf: weo file %s: %w", fileURL, err)
		}
		offset := 9
		if it.groups {
			offset = 8
		}
		if len(fields) < offset+2 {
			file.Close()
			return fmt.Errorf("imf: weo file %s: short header", fileURL)
		}

		it.file = file
		it.reader = reader
		it.header = make(map[string]int, len(fields))
		for i, name := range fields {
			it.header[strings.TrimSpace(name)] = i
		}
		// the trailing column holds the estimates flag marker, not a year
		it.years = fields[offset : len(fields)-1]
		it.releaseDate = release
		it.dataset.LastUpdate = release

		it.imf.logger.Info("weo release file loaded",
			zap.String("dataset", it.dataset.DatasetCode),
			zap.Time("release_date", release),
			zap.Int("years", len(it.years)))
		return nil
	}
	return io.EOF
}

func (it *weoIterator) closeFile() {
	if it.file != nil {
		it.file.Close()
		it.file = nil
	}
	it.reader = nil
}

func (it *weoIterator) countryColumn() string {
	if it.groups {
		return "Country Group Name"
	}
	return "Country"
}

func (it *weoIterator) buildSeries(row []string) (*model.Series, error) {
	dataset := it.dataset
	subject := it.cell(row, "WEO Subject Code")
	units := it.cell(row, "Units")
	country := it.cell(row, it.countryColumn())

	subjects := dataset.Codelist("WEO Subject Code")
	if _, ok := subjects[subject]; !ok {
		subjects[subject] = fmt.Sprintf("%s (%s)", it.cell(row, "Subject Descriptor"), units)
	}
	unitCode := assignCode(it.unitCodes, dataset.Codelist("Units"), units)

	dimensions := map[string]string{
		"WEO Subject Code": subject,
		"Units":            unitCode,
	}
	attributes := make(map[string]string)

	if it.groups {
		groupCode := it.cell(row, "WEO Country Group Code")
		dimensions["WEO Country Group Code"] = groupCode
		dataset.Codelist("WEO Country Group Code")[groupCode] = country
	} else {
		iso := it.cell(row, "ISO")
		dimensions["ISO"] = iso
		dataset.Codelist("ISO")[iso] = country

		countryCode := it.cell(row, "WEO Country Code")
		attributes["WEO Country Code"] = countryCode
		dataset.Codelist("WEO Country Code")[countryCode] = country
	}

	if scale := it.cell(row, "Scale"); scale != "" {
		attributes["Scale"] = assignCode(it.scaleCodes, dataset.Codelist("Scale"), scale)
	}

	estimatesStart := 0
	if raw := it.cell(row, "Estimates Start After"); raw != "" {
		if year, err := strconv.Atoi(raw); err == nil {
			estimatesStart = year
		}
	}

	values := make([]model.SeriesValue, 0, len(it.years))
	for _, year := range it.years {
		ordinal, err := model.ParsePeriod(year, model.FreqAnnual)
		if err != nil {
			return nil, fmt.Errorf("weo year column %q: %w", year, err)
		}
		value := model.SeriesValue{
			Period:  year,
			Ordinal: ordinal,
			Value:   strings.ReplaceAll(it.cell(row, year), ",", ""),
		}
		if estimatesStart > 0 {
			if y, err := strconv.Atoi(year); err == nil && y >= estimatesStart {
				value.Attributes = map[string]string{"flag": "e"}
			}
		}
		values = append(values, value)
	}

	var notes []string
	if n := it.cell(row, "Subject Notes"); n != "" {
		notes = append(notes, n)
	}
	noteColumn := "Country/Series-specific Notes"
	if it.groups {
		noteColumn = "Series-specific Notes"
	}
	if n := it.cell(row, noteColumn); n != "" {
		notes = append(notes, n)
	}

	keyDim := dimensions["ISO"]
	if it.groups {
		keyDim = dimensions["WEO Country Group Code"]
	}

	return &model.Series{
		ProviderName: ProviderName,
		DatasetCode:  dataset.DatasetCode,
		Key:          fmt.Sprintf("%s.%s.%s", subject, keyDim, unitCode),
		Name:         fmt.Sprintf("%s - %s - %s", it.cell(row, "Subject Descriptor"), country, units),
		Frequency:    model.FreqAnnual,
		StartDate:    values[0].Ordinal,
		EndDate:      values[len(values)-1].Ordinal,
		LastUpdate:   it.releaseDate,
		Dimensions:   dimensions,
		Attributes:   attributes,
		Notes:        strings.Join(notes, "\n"),
		Values:       values,
	}, nil
}

func (it *weoIterator) cell(row []string, column string) string {
	idx, ok := it.header[column]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// assignCode gives names without a native code a stable generated one, in
// first-seen order.
func assignCode(byName map[string]string, codelist map[string]string, name string) string {
	if code, ok := byName[name]; ok {
		return code
	}
	code := strconv.Itoa(len(byName))
	byName[name] = code
	codelist[code] = name
	return code
}

func openDocument(path string) (*goquery.Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return goquery.NewDocumentFromReader(file)
}

func resolveURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(refURL).String(), nil
}
