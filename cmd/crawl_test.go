package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cbr-rates-crawler/internal/app"
	"github.com/JakeFAU/cbr-rates-crawler/internal/config"
	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
)

const ratesPage = `<table class="data">
<tr><th>Цифр. код</th><th>Букв. код</th><th>Единиц</th><th>Валюта</th><th>Курс</th></tr>
<tr><td>840</td><td>USD</td><td>1</td><td>Доллар США</td><td>92,5000</td></tr>
</table>`

func setupEnv(t *testing.T, baseURL string) {
	t.Helper()
	t.Setenv("CBR_SOURCE_BASE_URL", baseURL)
	t.Setenv("CBR_CRAWLER_LOCATION", "UTC")
	t.Setenv("CBR_RETRY_BASE_DELAY", "1ms")
	t.Setenv("CBR_RETRY_MAX_DELAY", "2ms")
	t.Setenv("CBR_DB_DSN", "")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlDryRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, ratesPage)
	}))
	defer srv.Close()
	setupEnv(t, srv.URL+"/")

	from := crawler.DateOf(time.Now().UTC()).AddDate(0, 0, -1).Format(crawler.DateLayout)
	out, err := execute(t, "crawl", "--dry-run", "--fail-on-error", "--concurrency", "1", "--from", from)
	require.NoError(t, err)
	assert.Contains(t, out, "processed=2 succeeded=2 empty=0 failed=0 records=2 waves=2")
}

func TestCrawlFailOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()
	setupEnv(t, srv.URL+"/")

	from := crawler.DateOf(time.Now().UTC()).Format(crawler.DateLayout)
	out, err := execute(t, "crawl", "--dry-run", "--from", from)
	require.NoError(t, err)
	assert.Contains(t, out, "failed "+from)

	_, err = execute(t, "crawl", "--dry-run", "--fail-on-error", "--from", from)
	require.ErrorIs(t, err, crawler.ErrNegativeResponse)
}

func TestCrawlRejectsBadFlags(t *testing.T) {
	setupEnv(t, "http://example.invalid/")

	_, err := execute(t, "crawl", "--dry-run", "--concurrency", "0")
	require.Error(t, err)

	_, err = execute(t, "crawl", "--dry-run", "--from", "1992-06-30")
	require.ErrorIs(t, err, crawler.ErrInvalidDate)

	tomorrow := crawler.DateOf(time.Now().UTC()).AddDate(0, 0, 1).Format(crawler.DateLayout)
	_, err = execute(t, "crawl", "--dry-run", "--to", tomorrow)
	require.ErrorIs(t, err, crawler.ErrInvalidDate)

	_, err = execute(t, "crawl", "--dry-run", "--to", "01.02.2024")
	require.ErrorIs(t, err, crawler.ErrInvalidDate)
}

func TestMigrateRequiresDSN(t *testing.T) {
	setupEnv(t, "http://example.invalid/")

	_, err := execute(t, "migrate")
	require.ErrorIs(t, err, app.ErrMissingDSN)
}

func TestCrawlOptions(t *testing.T) {
	c := config.CrawlerConfig{DateFrom: "2020-01-01", DateTo: "2020-02-01", Resume: true}

	opts, err := crawlOptions(c, crawlFlags{})
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01", opts.From.Format(crawler.DateLayout))
	require.NotNil(t, opts.To)
	assert.Equal(t, "2020-02-01", opts.To.Format(crawler.DateLayout))
	assert.True(t, opts.Resume)

	opts, err = crawlOptions(c, crawlFlags{from: "2021-03-04", to: "2021-03-05", noResume: true})
	require.NoError(t, err)
	assert.Equal(t, "2021-03-04", opts.From.Format(crawler.DateLayout))
	assert.Equal(t, "2021-03-05", opts.To.Format(crawler.DateLayout))
	assert.False(t, opts.Resume)

	_, err = crawlOptions(c, crawlFlags{from: "yesterday"})
	require.ErrorIs(t, err, crawler.ErrInvalidDate)
}

func TestPrepareSchemaAborted(t *testing.T) {
	setupEnv(t, "http://example.invalid/")
	cfg, err := config.Load("")
	require.NoError(t, err)
	a, err := app.New(context.Background(), cfg, nil, true)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err = prepareSchema(ctx, a, true, &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Contains(t, out.String(), "Dropping all stored rates in 5")
}
