package crawler

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// Sentinel errors surfaced by the pipeline. Callers match them with errors.Is.
var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrNegativeResponse = errors.New("negative response")
	ErrFetchUnavailable = errors.New("fetch unavailable")
	ErrParse            = errors.New("parse rates")
	ErrStore            = errors.New("store rates")
)

const maxErrorBody = 512

// NegativeResponseError carries the details of a non-2xx reply from the source.
type NegativeResponseError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *NegativeResponseError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
		for !utf8.ValidString(body) {
			body = body[:len(body)-1]
		}
	}
	return fmt.Sprintf("negative response from %s: status %d: %s", e.URL, e.StatusCode, body)
}

// Is lets errors.Is(err, ErrNegativeResponse) match.
func (e *NegativeResponseError) Is(target error) bool {
	return target == ErrNegativeResponse
}
