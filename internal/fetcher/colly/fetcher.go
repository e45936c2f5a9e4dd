// Package collyfetcher implements crawler.Fetcher for the daily rates page using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
	"github.com/JakeFAU/cbr-rates-crawler/internal/metrics"
)

// DefaultBaseURL is the daily rates page of the Bank of Russia.
const DefaultBaseURL = "https://www.cbr.ru/currency_base/daily/"

// Query parameters understood by the rates page.
const (
	paramPosted = "UniDbQuery.Posted"
	paramTo     = "UniDbQuery.To"
)

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	ProxyURL  string
	Timeout   time.Duration
	Retry     crawler.RetryPolicy
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseURL       *url.URL
	transport     http.RoundTripper
	baseCollector *colly.Collector
	sleep         func(ctx context.Context, d time.Duration) error
	limiter       Limiter
	logger        *zap.Logger
}

// Limiter throttles outbound requests.
type Limiter interface {
	Wait(ctx context.Context, target string) error
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithTransport replaces the HTTP transport used by the collector.
func WithTransport(rt http.RoundTripper) Option {
	return func(f *Fetcher) { f.transport = rt }
}

// WithSleeper replaces the backoff sleep between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *Fetcher) { f.sleep = sleep }
}

// WithLimiter throttles every attempt, retries included.
func WithLimiter(l Limiter) Option {
	return func(f *Fetcher) { f.limiter = l }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type pageResult struct {
	status int
	url    string
	body   []byte
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) (*Fetcher, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = crawler.DefaultRetryPolicy()
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid source base url %q", cfg.BaseURL)
	}

	f := &Fetcher{
		cfg:     cfg,
		baseURL: base,
		sleep:   sleepContext,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.transport == nil {
		f.transport = newHTTPTransport()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(f.transport)
	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}
	c.SetRequestTimeout(cfg.Timeout)
	f.baseCollector = c
	return f, nil
}

// RequestURL returns the page address for a given day.
func (f *Fetcher) RequestURL(date time.Time) string {
	u := *f.baseURL
	q := u.Query()
	q.Set(paramPosted, "True")
	q.Set(paramTo, date.Format(crawler.SourceDateLayout))
	u.RawQuery = q.Encode()
	return u.String()
}

// Fetch downloads the rates page for date. Transport failures are retried
// with the configured backoff; a non-2xx reply is returned at once.
func (f *Fetcher) Fetch(ctx context.Context, date time.Time) (string, error) {
	target := f.RequestURL(date)
	attempts := f.cfg.Retry.MaxAttempts
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, target); err != nil {
				return "", fmt.Errorf("fetch %s: %w", target, err)
			}
		}
		start := time.Now()
		body, err := f.fetchOnce(ctx, target)
		if err == nil {
			metrics.ObserveFetchAttempt(metrics.FetchResultOK, time.Since(start))
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("fetch %s: %w", target, ctxErr)
		}
		if errors.Is(err, crawler.ErrNegativeResponse) {
			metrics.ObserveFetchAttempt(metrics.FetchResultNegative, time.Since(start))
			return "", err
		}
		metrics.ObserveFetchAttempt(metrics.FetchResultTransport, time.Since(start))
		lastErr = err
		if !f.cfg.Retry.ShouldRetry(err, attempt) {
			break
		}

		delay := f.cfg.Retry.Backoff(attempt)
		f.logger.Warn("cannot fetch rates page, retrying",
			zap.String("date", date.Format(crawler.DateLayout)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry()
		if err := f.sleep(ctx, delay); err != nil {
			return "", fmt.Errorf("fetch %s: %w", target, err)
		}
	}

	if !crawler.IsTransportError(lastErr) {
		return "", fmt.Errorf("fetch %s: %w", target, lastErr)
	}
	return "", fmt.Errorf("%w: %s after %d attempts: %w", crawler.ErrFetchUnavailable, target, attempts, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, target string) (string, error) {
	var (
		result   pageResult
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := runCollector(ctx, collector, target, &fetchErr); err != nil {
		return "", err
	}
	f.logger.Debug("rates page response",
		zap.Int("status", result.status),
		zap.String("url", result.url))
	if result.status < http.StatusOK || result.status >= http.StatusMultipleChoices {
		return "", &crawler.NegativeResponseError{
			StatusCode: result.status,
			URL:        result.url,
			Body:       string(result.body),
		}
	}
	return string(result.body), nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *pageResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = pageResult{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
		if r.Request != nil && r.Request.URL != nil {
			result.url = r.Request.URL.String()
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          1000,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
	}
}
