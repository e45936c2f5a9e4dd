package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicyBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3 * time.Second,
		3 * time.Second,
	}
	for i, w := range want {
		require.Equal(t, w, p.Backoff(i), "attempt %d", i)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := DefaultRetryPolicy()
	transport := &url.Error{Op: "Get", URL: "https://example.org", Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}}

	require.True(t, p.ShouldRetry(transport, 0))
	require.True(t, p.ShouldRetry(transport, 3))
	require.False(t, p.ShouldRetry(transport, 4), "fifth attempt is the last one")

	negative := &NegativeResponseError{StatusCode: 503, URL: "https://example.org"}
	require.False(t, p.ShouldRetry(negative, 0))
	require.False(t, p.ShouldRetry(errors.New("boom"), 0))
	require.False(t, p.ShouldRetry(nil, 0))

	cancelled := &url.Error{Op: "Get", URL: "https://example.org", Err: context.Canceled}
	require.False(t, p.ShouldRetry(cancelled, 0))
}

func TestNegativeResponseErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("fetch 2020-01-01: %w", &NegativeResponseError{StatusCode: 500, URL: "u", Body: "oops"})
	require.ErrorIs(t, err, ErrNegativeResponse)

	var nr *NegativeResponseError
	require.ErrorAs(t, err, &nr)
	require.Equal(t, 500, nr.StatusCode)
	require.Contains(t, err.Error(), "status 500")
}

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestIsTransportErrorClassifiesConnectionFailures(t *testing.T) {
	get := func(err error) error {
		return &url.Error{Op: "Get", URL: "https://www.cbr.ru/currency_base/daily/", Err: err}
	}
	retryable := map[string]error{
		"dial refused":  get(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}),
		"proxy connect": get(&net.OpError{Op: "proxyconnect", Net: "tcp", Err: errors.New("connection refused")}),
		"dns":           get(&net.DNSError{Err: "no such host", Name: "www.cbr.ru"}),
		"timeout":       get(timeoutError{}),
		"dropped":       get(io.ErrUnexpectedEOF),
		"reset":         fmt.Errorf("read: %w", syscall.ECONNRESET),
	}
	for name, err := range retryable {
		require.True(t, IsTransportError(err), name)
	}

	final := map[string]error{
		"redirect loop":      get(errors.New("stopped after 10 redirects")),
		"unsupported scheme": get(errors.New(`unsupported protocol scheme "ftp"`)),
		"cancelled":          get(context.Canceled),
		"negative":           &NegativeResponseError{StatusCode: 502},
		"plain":              errors.New("boom"),
	}
	for name, err := range final {
		require.False(t, IsTransportError(err), name)
	}
}
