package ecb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/srault95/dlstats/internal/model"
)

// The SDW updates feed announces dataset releases; item titles carry the
// dataset code ("ECB Data: EXR has been updated ...").
func (e *ECB) fetchFeed(ctx context.Context) (*gofeed.Feed, error) {
	parser := gofeed.NewParser()
	parser.UserAgent = "dlstats/4.0"
	feed, err := parser.ParseURLWithContext(e.config.RSSURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("ecb: updates feed: %w", err)
	}
	return feed, nil
}

// lastUpdateFromFeed returns the most recent release announced for code.
func (e *ECB) lastUpdateFromFeed(ctx context.Context, code string) (time.Time, error) {
	feed, err := e.fetchFeed(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, item := range feed.Items {
		if item.PublishedParsed == nil || !itemMatchesDataset(item, code) {
			continue
		}
		if item.PublishedParsed.After(last) {
			last = *item.PublishedParsed
		}
	}
	if last.IsZero() {
		return time.Time{}, fmt.Errorf("ecb: updates feed: no entry for %s", code)
	}
	return last.UTC(), nil
}

// Calendar maps the updates feed to release entries, one per dataset item.
func (e *ECB) Calendar(ctx context.Context) ([]model.CalendarEntry, error) {
	feed, err := e.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]model.CalendarEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item.PublishedParsed == nil {
			continue
		}
		code := datasetCodeFromTitle(item.Title)
		if code == "" {
			continue
		}
		entries = append(entries, model.CalendarEntry{
			ProviderName: ProviderName,
			DatasetCode:  code,
			RunDate:      item.PublishedParsed.UTC(),
			Timezone:     "UTC",
		})
	}
	return entries, nil
}

func itemMatchesDataset(item *gofeed.Item, code string) bool {
	return datasetCodeFromTitle(item.Title) == code ||
		strings.Contains(item.Link, "dataSetCode="+code)
}

// datasetCodeFromTitle extracts the dataset code token from a feed item
// title, e.g. "ECB Data: EXR has been updated" -> "EXR".
func datasetCodeFromTitle(title string) string {
	_, rest, ok := strings.Cut(title, ":")
	if !ok {
		rest = title
	}
	for _, field := range strings.Fields(rest) {
		token := strings.Trim(field, ".,;()")
		if len(token) < 2 || token != strings.ToUpper(token) {
			continue
		}
		// dataset codes are upper-case alphanumerics
		valid := true
		for _, r := range token {
			if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
				valid = false
				break
			}
		}
		if valid {
			return token
		}
	}
	return ""
}
