package crawler

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Date layouts used by the CLI/config and by the rates source.
const (
	DateLayout       = "2006-01-02"
	SourceDateLayout = "02.01.2006"
)

// MinDate is the earliest day the source publishes daily rates for.
var MinDate = time.Date(1992, time.July, 1, 0, 0, 0, 0, time.UTC)

// DateOf truncates t to a calendar day at UTC midnight, keeping the
// year/month/day t has in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD string into a calendar day.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDate, value)
	}
	return DateOf(t), nil
}

// Record is one currency row of the daily rates table for a given day.
type Record struct {
	Date     time.Time
	NumCode  string
	StrCode  string
	Quantity int
	Name     string
	Value    decimal.Decimal
}

// DateRange is an inclusive, ordered span of calendar days.
type DateRange struct {
	from time.Time
	to   time.Time
}

// NewDateRange builds a range; from must not be after to.
func NewDateRange(from, to time.Time) (DateRange, error) {
	from, to = DateOf(from), DateOf(to)
	if from.After(to) {
		return DateRange{}, fmt.Errorf("%w: date_from %s is after date_to %s",
			ErrInvalidDate, from.Format(DateLayout), to.Format(DateLayout))
	}
	return DateRange{from: from, to: to}, nil
}

// From returns the first day of the range.
func (r DateRange) From() time.Time { return r.from }

// To returns the last day of the range.
func (r DateRange) To() time.Time { return r.to }

// Days counts the days in the range, both ends included.
func (r DateRange) Days() int {
	if r.from.IsZero() && r.to.IsZero() {
		return 0
	}
	return int(r.to.Sub(r.from).Hours()/24) + 1
}

// Dates lists every day of the range in ascending order.
func (r DateRange) Dates() []time.Time {
	n := r.Days()
	dates := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		dates = append(dates, r.from.AddDate(0, 0, i))
	}
	return dates
}

func (r DateRange) String() string {
	return r.from.Format(DateLayout) + ".." + r.to.Format(DateLayout)
}

// OutcomeKind classifies how a single day's task ended.
type OutcomeKind string

// Task outcome values.
const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomeEmpty   OutcomeKind = "empty"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome is the result of processing one day.
type Outcome struct {
	Date     time.Time
	Kind     OutcomeKind
	Records  int
	Err      error
	Duration time.Duration
}

// FailedDate pairs a day with the error that made its task fail.
type FailedDate struct {
	Date time.Time
	Err  error
}

// Report summarises a backfill run.
type Report struct {
	RunID       string
	Range       DateRange
	Processed   int
	Succeeded   int
	Empty       int
	Records     int
	Failed      []FailedDate
	Waves       int
	Interrupted bool
	FirstErr    error
}

// Add folds a task outcome into the report.
func (r *Report) Add(o Outcome) {
	r.Processed++
	switch o.Kind {
	case OutcomeSuccess:
		r.Succeeded++
		r.Records += o.Records
	case OutcomeEmpty:
		r.Empty++
	default:
		r.Failed = append(r.Failed, FailedDate{Date: o.Date, Err: o.Err})
		if r.FirstErr == nil {
			r.FirstErr = o.Err
		}
	}
}

// HasFailures reports whether any task failed or the run was cut short.
func (r Report) HasFailures() bool {
	return len(r.Failed) > 0 || r.Interrupted
}
