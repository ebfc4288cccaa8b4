package model

import (
	"strings"
	"time"
)

// Frequency codes shared by all providers.
const (
	FreqAnnual    = "A"
	FreqSemester  = "S"
	FreqQuarterly = "Q"
	FreqMonthly   = "M"
	FreqWeekly    = "W"
	FreqDaily     = "D"
)

type Provider struct {
	Name       string
	LongName   string
	Version    int
	Region     string
	Website    string
	TermsOfUse string
}

func (p Provider) Slug() string {
	return Slugify(p.Name)
}

type DatasetRef struct {
	DatasetCode string
	Name        string
	LastUpdate  *time.Time
	DocHref     string
}

type Category struct {
	ProviderName string
	CategoryCode string
	Name         string
	Position     int
	Parent       string
	AllParents   []string
	DocHref      string
	Datasets     []DatasetRef
}

func (c Category) Slug() string {
	return Slugify(c.ProviderName + "-" + c.CategoryCode)
}

type Dataset struct {
	ProviderName  string
	DatasetCode   string
	Name          string
	DocHref       string
	LastUpdate    time.Time
	Frequencies   []string
	DimensionKeys []string
	AttributeKeys []string
	Codelists     map[string]map[string]string
	Concepts      map[string]string
	Notes         string
}

func (d *Dataset) Slug() string {
	return Slugify(d.ProviderName + "-" + d.DatasetCode)
}

// AddFrequency records a frequency used by at least one series of the dataset.
func (d *Dataset) AddFrequency(freq string) {
	if freq == "" {
		return
	}
	for _, f := range d.Frequencies {
		if f == freq {
			return
		}
	}
	d.Frequencies = append(d.Frequencies, freq)
}

// Codelist returns the codelist for key, creating it when missing.
func (d *Dataset) Codelist(key string) map[string]string {
	if d.Codelists == nil {
		d.Codelists = make(map[string]map[string]string)
	}
	cl, ok := d.Codelists[key]
	if !ok {
		cl = make(map[string]string)
		d.Codelists[key] = cl
	}
	return cl
}

type Revision struct {
	Value       string    `json:"value"`
	ReleaseDate time.Time `json:"release_date"`
}

type SeriesValue struct {
	Period      string            `json:"period"`
	Ordinal     int               `json:"ordinal"`
	Value       string            `json:"value"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	ReleaseDate time.Time         `json:"release_date"`
	Revisions   []Revision        `json:"revisions,omitempty"`
}

type Series struct {
	ProviderName string
	DatasetCode  string
	Key          string
	Name         string
	Frequency    string
	StartDate    int
	EndDate      int
	LastUpdate   time.Time
	Dimensions   map[string]string
	Attributes   map[string]string
	Notes        string
	Values       []SeriesValue
}

func (s *Series) Slug() string {
	return Slugify(s.ProviderName + "-" + s.DatasetCode + "-" + s.Key)
}

// CalendarEntry is one scheduled dataset release derived from a provider
// calendar (BIS release calendar page, ECB updates feed).
type CalendarEntry struct {
	ProviderName string
	DatasetCode  string
	RunDate      time.Time
	Timezone     string
}

// Slugify lowercases and joins on single dashes, keeping letters and digits.
func Slugify(value string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
