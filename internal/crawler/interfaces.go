package crawler

import (
	"context"
	"time"
)

// Fetcher downloads the daily rates page for a day.
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (string, error)
}

// Parser extracts rate records from a rates page. A page without a rates
// table yields no records and no error.
type Parser interface {
	Parse(body string, date time.Time) ([]Record, error)
}

// ParserFunc adapts a plain function to Parser.
type ParserFunc func(body string, date time.Time) ([]Record, error)

// Parse calls f.
func (f ParserFunc) Parse(body string, date time.Time) ([]Record, error) {
	return f(body, date)
}

// Sink persists records idempotently on (date, name).
type Sink interface {
	Store(ctx context.Context, records []Record) error
	LatestDate(ctx context.Context) (time.Time, bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
