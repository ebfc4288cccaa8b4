package bis

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/srault95/dlstats/internal/model"
)

const agendaTimezone = "Europe/Zurich"

var dayPattern = regexp.MustCompile(`^\d{1,2}`)

// agendaRow is one dataset line of the release calendar table: a title
// (optionally refined by a second-level title) and one optional day of month
// per calendar column.
type agendaRow struct {
	title    string
	subTitle string
	days     []int // 0 = no release that month
}

// Calendar downloads the BIS release calendar page and turns it into
// update-dataset schedule entries at 08:00 Europe/Zurich.
func (b *BIS) Calendar(ctx context.Context) ([]model.CalendarEntry, error) {
	path, err := b.downloader.Get(ctx, b.config.AgendaURL, "agenda.html")
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	doc, err := goquery.NewDocumentFromReader(file)
	if err != nil {
		return nil, err
	}

	months, lines, err := parseAgenda(doc)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(agendaTimezone)
	if err != nil {
		loc = time.UTC
	}

	var entries []model.CalendarEntry
	for _, line := range lines {
		title := line.title
		if line.subTitle != "" {
			title = title + " " + line.subTitle
		}
		code := datasetCodeForAgendaTitle(title)
		if code == "" {
			b.logger.Info("calendar entry for unimplemented dataset skipped", zap.String("title", title))
			continue
		}
		for i, day := range line.days {
			if day == 0 || i >= len(months) {
				continue
			}
			month := months[i]
			entries = append(entries, model.CalendarEntry{
				ProviderName: ProviderName,
				DatasetCode:  code,
				RunDate:      time.Date(month.Year(), month.Month(), day, 8, 0, 0, 0, loc),
				Timezone:     agendaTimezone,
			})
		}
	}
	return entries, nil
}

// parseAgenda walks the calendar table. The second row holds the month
// headers; each following row is a dataset title plus day cells, where a
// rowspan=2 title is refined by second-level link titles, the second of which
// lives in the row below with its own day cells.
func parseAgenda(doc *goquery.Document) ([]time.Time, []agendaRow, error) {
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, nil, fmt.Errorf("bis: calendar table not found")
	}
	rows := table.Find("tr")
	if rows.Length() < 3 {
		return nil, nil, fmt.Errorf("bis: calendar table too short (%d rows)", rows.Length())
	}

	var months []time.Time
	rows.Eq(1).Find("td").Each(func(_ int, cell *goquery.Selection) {
		text := strings.TrimSpace(cell.Find("strong").Text())
		if text == "" {
			return
		}
		if month, err := time.Parse("January 2006", text); err == nil {
			months = append(months, month)
		}
	})
	if len(months) == 0 {
		return nil, nil, fmt.Errorf("bis: no month headers in calendar")
	}

	var lines []agendaRow
	ir := 2
	for ir < rows.Length() {
		cells := rows.Eq(ir).Find("td")
		if cells.Length() == 0 {
			ir++
			continue
		}

		title := cellTitle(cells.Eq(0))
		if _, twoRows := cells.Eq(0).Attr("rowspan"); twoRows {
			// first sub-title sits next to the spanning title cell
			lines = append(lines, agendaRow{
				title:    title,
				subTitle: cellTitle(cells.Eq(1)),
				days:     cellDays(cells, 2),
			})
			ir++
			// remaining sub-titles share the next row's day cells
			next := rows.Eq(ir).Find("td")
			days := cellDays(next, 1)
			next.Eq(0).Find("a").Each(func(_ int, link *goquery.Selection) {
				sub := strings.TrimSpace(link.Text())
				if sub == "" {
					return
				}
				lines = append(lines, agendaRow{title: title, subTitle: sub, days: days})
			})
			ir++
			continue
		}

		lines = append(lines, agendaRow{title: title, days: cellDays(cells, 1)})
		ir++
	}
	return months, lines, nil
}

func cellTitle(cell *goquery.Selection) string {
	if link := cell.Find("a").First(); link.Length() > 0 {
		if text := strings.TrimSpace(link.Text()); text != "" {
			return text
		}
	}
	return strings.TrimSpace(cell.Text())
}

func cellDays(cells *goquery.Selection, offset int) []int {
	var days []int
	cells.Each(func(i int, cell *goquery.Selection) {
		if i < offset {
			return
		}
		text := strings.TrimLeft(cell.Text(), "  \t\n")
		match := dayPattern.FindString(strings.TrimSpace(text))
		if match == "" {
			days = append(days, 0)
			return
		}
		day, err := strconv.Atoi(match)
		if err != nil || day < 1 || day > 31 {
			days = append(days, 0)
			return
		}
		days = append(days, day)
	})
	return days
}

func datasetCodeForAgendaTitle(title string) string {
	for code, def := range datasets {
		for _, t := range def.agendaTitles {
			if t == title {
				return code
			}
		}
	}
	return ""
}
