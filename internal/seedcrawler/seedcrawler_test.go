package seedcrawler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/ratelimit"
	"github.com/northcloud/crawlctl/internal/seedcrawler"
)

func TestCrawl_MissingSelectorsIsInvalidConfig(t *testing.T) {
	res, err := seedcrawler.Crawl(context.Background(), "https://example.com", seedcrawler.Config{})
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeInvalidConfig, res.Outcome)
}

func TestCrawl_MissingDetailURLsKeyIsInvalidConfig(t *testing.T) {
	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{"urls": "a"}}}
	res, err := seedcrawler.Crawl(context.Background(), "https://example.com", cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeInvalidConfig, res.Outcome)
}

func TestCrawl_UnsupportedSelectorKeyIsInvalidConfig(t *testing.T) {
	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{
		"detail_urls": "a.link",
		"links":       "a",
	}}}
	res, err := seedcrawler.Crawl(context.Background(), "https://example.com", cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeInvalidConfig, res.Outcome)
}

func TestCrawl_ExtractsDetailURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><a class="link" href="/a">A</a><a class="link" href="/b">B</a></body></html>`))
	}))
	defer srv.Close()

	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{"detail_urls": "a.link"}}}
	res, err := seedcrawler.Crawl(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeSuccess, res.Outcome)
	assert.Len(t, res.URLs, 2)
}

func TestCrawl_SeedURL404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{"detail_urls": "a"}}}
	res, err := seedcrawler.Crawl(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeSeedURL404, res.Outcome)
}

func TestCrawl_SeedURLError_SurfacesUpstreamJSONMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "rate limited, retry later"}`))
	}))
	defer srv.Close()

	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{"detail_urls": "a"}}}
	res, err := seedcrawler.Crawl(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeSeedURLError, res.Outcome)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "rate limited, retry later")
}

func TestCrawl_RateLimitThrottlesButEventuallyCompletes(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Write([]byte(`<html><body><a class="link" href="/a">A</a></body></html>`))
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewDistributedLimiter(rdb, logging.NewNop(), 1, 50*time.Millisecond)

	// miniredis does not expire keys on its own; advance its clock so
	// the limiter's window can roll over while the crawl waits.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				mr.FastForward(time.Second)
			}
		}
	}()

	cfg := seedcrawler.Config{
		Step: seedcrawler.StepConfig{
			Selectors:  map[string]string{"detail_urls": "a.link"},
			Pagination: &seedcrawler.PaginationConfig{Type: seedcrawler.PaginationPageBased, MaxPages: 1},
		},
		RateLimit: limiter,
	}
	res, err := seedcrawler.Crawl(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomePaginationStopped, res.Outcome)
	assert.GreaterOrEqual(t, requests, 2)
}

func TestCrawl_NoURLsMatchedIsSuccessNoURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	}))
	defer srv.Close()

	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{"detail_urls": "a.link"}}}
	res, err := seedcrawler.Crawl(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeSuccessNoURLs, res.Outcome)
}

func TestCrawl_ScopesExtractionToContainer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<div class="results"><a class="link" href="/inside">In</a></div>
			<a class="link" href="/outside">Out</a>
		</body></html>`))
	}))
	defer srv.Close()

	cfg := seedcrawler.Config{Step: seedcrawler.StepConfig{Selectors: map[string]string{
		"detail_urls": "a.link",
		"container":   "div.results",
	}}}
	res, err := seedcrawler.Crawl(context.Background(), srv.URL, cfg)
	require.NoError(t, err)
	assert.Equal(t, seedcrawler.OutcomeSuccess, res.Outcome)
	require.Len(t, res.URLs, 1)
	assert.Contains(t, res.URLs[0], "/inside")
}
