package collyfetcher

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
)

const ratesPage = `<html><body><table class="data"><tr><th>Цифр. код</th></tr></table></body></html>`

var newYear = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

type flakyTransport struct {
	failures int32
	calls    atomic.Int32
	base     http.RoundTripper
}

func (t *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.calls.Add(1) <= t.failures {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return t.base.RoundTrip(req)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newRatesServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchSendsDateQuery(t *testing.T) {
	t.Parallel()

	var got url.Values
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		agent = r.UserAgent()
		_, _ = w.Write([]byte(ratesPage))
	}))
	t.Cleanup(srv.Close)

	f, err := New(Config{BaseURL: srv.URL + "/currency_base/daily/", UserAgent: "rates-test"})
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), newYear)
	require.NoError(t, err)
	require.Equal(t, ratesPage, body)
	require.Equal(t, "True", got.Get("UniDbQuery.Posted"))
	require.Equal(t, "01.01.2020", got.Get("UniDbQuery.To"))
	require.Equal(t, "rates-test", agent)
}

func TestFetchRetriesTransportFailures(t *testing.T) {
	t.Parallel()

	srv, hits := newRatesServer(t, http.StatusOK, ratesPage)
	transport := &flakyTransport{failures: 4, base: http.DefaultTransport}
	sleeps := &sleepRecorder{}

	f, err := New(Config{BaseURL: srv.URL}, WithTransport(transport), WithSleeper(sleeps.sleep))
	require.NoError(t, err)

	body, err := f.Fetch(context.Background(), newYear)
	require.NoError(t, err)
	require.Equal(t, ratesPage, body)
	require.EqualValues(t, 5, transport.calls.Load())
	require.EqualValues(t, 1, hits.Load())
	require.Equal(t, []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}, sleeps.delays)
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	srv, hits := newRatesServer(t, http.StatusOK, ratesPage)
	transport := &flakyTransport{failures: 100, base: http.DefaultTransport}
	sleeps := &sleepRecorder{}

	f, err := New(Config{BaseURL: srv.URL}, WithTransport(transport), WithSleeper(sleeps.sleep))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), newYear)
	require.ErrorIs(t, err, crawler.ErrFetchUnavailable)
	require.EqualValues(t, 5, transport.calls.Load(), "no sixth attempt")
	require.Zero(t, hits.Load())
	require.Len(t, sleeps.delays, 4)
}

func TestFetchNegativeResponseIsNotRetried(t *testing.T) {
	t.Parallel()

	srv, hits := newRatesServer(t, http.StatusServiceUnavailable, "maintenance")
	sleeps := &sleepRecorder{}

	f, err := New(Config{BaseURL: srv.URL}, WithSleeper(sleeps.sleep))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), newYear)
	require.ErrorIs(t, err, crawler.ErrNegativeResponse)
	require.NotErrorIs(t, err, crawler.ErrFetchUnavailable)

	var negative *crawler.NegativeResponseError
	require.ErrorAs(t, err, &negative)
	require.Equal(t, http.StatusServiceUnavailable, negative.StatusCode)
	require.Equal(t, "maintenance", negative.Body)
	require.EqualValues(t, 1, hits.Load())
	require.Empty(t, sleeps.delays)
}

func TestFetchStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	srv, _ := newRatesServer(t, http.StatusOK, ratesPage)
	f, err := New(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, newYear)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "ftp://example.org"})
	require.Error(t, err)
	_, err = New(Config{BaseURL: "://"})
	require.Error(t, err)
}

func TestRequestURL(t *testing.T) {
	t.Parallel()

	f, err := New(Config{})
	require.NoError(t, err)
	require.Equal(t,
		"https://www.cbr.ru/currency_base/daily/?UniDbQuery.Posted=True&UniDbQuery.To=01.07.1992",
		f.RequestURL(crawler.MinDate))
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f, err := New(Config{})
	require.NoError(t, err)

	var result pageResult
	var fetchErr error
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusBadGateway,
		Body:       []byte("bad gateway"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/daily")},
	})
	require.Equal(t, http.StatusBadGateway, result.status)
	require.Equal(t, "bad gateway", string(result.body))
	require.Equal(t, "https://example.com/daily", result.url)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

type countingLimiter struct {
	calls atomic.Int32
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.calls.Add(1)
	return l.err
}

func TestFetchWaitsOnLimiterPerAttempt(t *testing.T) {
	t.Parallel()

	srv, _ := newRatesServer(t, http.StatusOK, ratesPage)
	transport := &flakyTransport{failures: 2, base: http.DefaultTransport}
	limiter := &countingLimiter{}
	sleeps := &sleepRecorder{}

	f, err := New(Config{BaseURL: srv.URL},
		WithTransport(transport), WithSleeper(sleeps.sleep), WithLimiter(limiter))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), newYear)
	require.NoError(t, err)
	require.EqualValues(t, 3, limiter.calls.Load())
}

func TestFetchStopsWhenLimiterFails(t *testing.T) {
	t.Parallel()

	srv, hits := newRatesServer(t, http.StatusOK, ratesPage)
	limiter := &countingLimiter{err: context.DeadlineExceeded}

	f, err := New(Config{BaseURL: srv.URL}, WithLimiter(limiter))
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), newYear)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.EqualValues(t, 0, hits.Load())
}
