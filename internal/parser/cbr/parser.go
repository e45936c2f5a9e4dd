// Package cbr extracts daily exchange rates from the Bank of Russia rates page.
package cbr

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
)

const (
	tableSelector = "table.data"
	columnCount   = 5
)

var spaceReplacer = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "")

// Parser implements crawler.Parser for the daily rates page.
type Parser struct{}

// Parse extracts the rates of date from body.
func (Parser) Parse(body string, date time.Time) ([]crawler.Record, error) {
	return Parse(body, date)
}

// Parse reads the first rates table of the page. A page without the table
// yields no records and no error. Rows without data cells are skipped.
func Parse(body string, date time.Time) ([]crawler.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %w", crawler.ErrParse, err)
	}
	table := doc.Find(tableSelector).First()
	if table.Length() == 0 {
		return nil, nil
	}

	day := crawler.DateOf(date)
	var (
		records  []crawler.Record
		rowErr   error
		rowIndex int
	)
	table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		rowIndex++
		cells := row.Find("td")
		if cells.Length() == 0 {
			return true
		}
		rec, err := parseRow(cells, day)
		if err != nil {
			rowErr = fmt.Errorf("%w: row %d: %w", crawler.ErrParse, rowIndex, err)
			return false
		}
		records = append(records, rec)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return records, nil
}

func parseRow(cells *goquery.Selection, day time.Time) (crawler.Record, error) {
	if cells.Length() < columnCount {
		return crawler.Record{}, fmt.Errorf("expected %d cells, got %d", columnCount, cells.Length())
	}
	text := func(i int) string {
		return strings.TrimSpace(cells.Eq(i).Text())
	}

	quantity, err := strconv.Atoi(spaceReplacer.Replace(text(2)))
	if err != nil || quantity <= 0 {
		return crawler.Record{}, fmt.Errorf("invalid quantity %q", text(2))
	}
	name := text(3)
	if name == "" {
		return crawler.Record{}, fmt.Errorf("empty currency name")
	}
	value, err := ParseRate(text(4))
	if err != nil {
		return crawler.Record{}, err
	}
	return crawler.Record{
		Date:     day,
		NumCode:  text(0),
		StrCode:  text(1),
		Quantity: quantity,
		Name:     name,
		Value:    value,
	}, nil
}

// ParseRate converts a localized rate such as "1 234,5678" into a decimal.
func ParseRate(raw string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(spaceReplacer.Replace(raw), ",", ".")
	value, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid rate %q: %w", raw, err)
	}
	return value, nil
}
