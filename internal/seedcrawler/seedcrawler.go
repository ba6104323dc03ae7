// Package seedcrawler implements C9: fetch a seed URL, extract detail
// URLs from it and its paginated successors, and stop on one of a
// fixed set of pagination conditions.
package seedcrawler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/google/uuid"

	"github.com/northcloud/crawlctl/internal/canonical"
	"github.com/northcloud/crawlctl/internal/cancel"
	"github.com/northcloud/crawlctl/internal/dedupcache"
	"github.com/northcloud/crawlctl/internal/errs"
	"github.com/northcloud/crawlctl/internal/ratelimit"
	"github.com/northcloud/crawlctl/internal/resilience"
)

// fetchRetryConfig bounds the transport-level retry a single fetch gets
// before its error is surfaced to the pagination loop. Deliberately
// small: C9's own pagination stop-conditions (OutcomePartialSuccess,
// OutcomeSeedURLError) are the spec's retry boundary, not this helper.
var fetchRetryConfig = resilience.Config{
	MaxAttempts:  2,
	InitialDelay: 200 * time.Millisecond,
	MaxDelay:     time.Second,
	Multiplier:   2.0,
	IsRetryable:  resilience.DefaultIsRetryable,
}

// Outcome classifies how a crawl ended.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeSuccessNoURLs      Outcome = "success_no_urls"
	OutcomeSeedURL404         Outcome = "seed_url_404"
	OutcomeSeedURLError       Outcome = "seed_url_error"
	OutcomeInvalidConfig      Outcome = "invalid_config"
	OutcomePaginationStopped  Outcome = "pagination_stopped"
	OutcomeCircularPagination Outcome = "circular_pagination"
	OutcomeEmptyPages         Outcome = "empty_pages"
	OutcomePartialSuccess     Outcome = "partial_success"
	OutcomeCancelled          Outcome = "cancelled"
)

// PaginationType selects how successive pages are discovered.
type PaginationType string

const (
	PaginationPageBased PaginationType = "page_based"
	PaginationOffset    PaginationType = "offset"
	PaginationCursor    PaginationType = "cursor"
	PaginationDisabled  PaginationType = "disabled"
)

// PaginationConfig configures the pagination strategy and its stop
// conditions.
type PaginationConfig struct {
	Type PaginationType `json:"type"`

	// page_based
	PageParam string `json:"page_param"`
	StartPage int    `json:"start_page"`

	// offset
	OffsetParam string `json:"offset_param"`
	LimitParam  string `json:"limit_param"`
	LimitValue  int    `json:"limit_value"`

	// cursor: NextSelector extracts the next cursor/page URL from the
	// current page; if empty, pagination stops after the seed.
	NextSelector string `json:"next_selector"`

	MaxPages              int `json:"max_pages"`
	MinContentLength      int `json:"min_content_length"`
	ConsecutiveEmptyLimit int `json:"consecutive_empty_limit"`
}

func (c PaginationConfig) withDefaults() PaginationConfig {
	if c.PageParam == "" {
		c.PageParam = "page"
	}
	if c.StartPage == 0 {
		c.StartPage = 1
	}
	if c.MaxPages == 0 {
		c.MaxPages = 50
	}
	if c.ConsecutiveEmptyLimit == 0 {
		c.ConsecutiveEmptyLimit = 2
	}
	if c.LimitParam == "" {
		c.LimitParam = "limit"
	}
	if c.LimitValue == 0 {
		c.LimitValue = 20
	}
	return c
}

// StepConfig is a single crawl step's selector and pagination
// configuration. The spec's redesigned stricter rule requires the
// detail-URL selector key to be exactly "detail_urls" (not "urls",
// "links", or any other alias), and the container key, if present,
// must be exactly "container".
type StepConfig struct {
	Selectors  map[string]string
	Pagination *PaginationConfig
}

// Config bundles everything Crawl needs for one seed.
type Config struct {
	Step       StepConfig
	JobID      *uuid.UUID
	HTTPClient *http.Client
	DedupCache *dedupcache.Cache
	Cancel     *cancel.Signal

	RequestTimeout time.Duration

	// RateLimit, if set, throttles fetches per host so a single crawl
	// can't hammer a slow or rate-limit-sensitive site regardless of
	// how aggressively its pagination is configured.
	RateLimit *ratelimit.DistributedLimiter
}

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBodyBytes  = 10 * 1024 * 1024
)

// Result is what Crawl returns.
type Result struct {
	Outcome  Outcome
	URLs     []string
	Warnings []string
}

// Crawl is C9's entry point.
func Crawl(ctx context.Context, seedURL string, cfg Config) (*Result, error) {
	if err := validateStepConfig(cfg.Step); err != nil {
		return &Result{Outcome: OutcomeInvalidConfig, Warnings: []string{err.Error()}}, nil
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	// A fresh breaker per crawl: pagination fetches target one host, so
	// a handful of consecutive failures should stop the run well before
	// MaxPages is exhausted, without affecting unrelated concurrent crawls.
	breaker := resilience.NewBreaker(resilience.BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: 30 * time.Second})
	c := &crawler{cfg: cfg, client: client, seen: make(map[string]struct{}), breaker: breaker}
	return c.run(ctx, seedURL)
}

func validateStepConfig(step StepConfig) error {
	if len(step.Selectors) == 0 {
		return errs.New(errs.KindValidation, "MISSING_SELECTORS", "step config has no selectors")
	}
	if _, ok := step.Selectors["detail_urls"]; !ok {
		return errs.New(errs.KindValidation, "MISSING_DETAIL_URLS", "selectors must include an explicit detail_urls key")
	}
	for key := range step.Selectors {
		if key != "detail_urls" && key != "container" {
			return errs.New(errs.KindValidation, "UNSUPPORTED_SELECTOR_KEY", fmt.Sprintf("unsupported selector key %q: only detail_urls and container are accepted", key))
		}
	}
	return nil
}

type crawler struct {
	cfg     Config
	client  *http.Client
	breaker *resilience.Breaker
	seen    map[string]struct{} // canonical digest -> present, within this crawl's extraction
}

func (c *crawler) run(ctx context.Context, seedURL string) (*Result, error) {
	var (
		urls     []string
		warnings []string
	)

	status, body, err := c.fetch(ctx, seedURL)
	if err != nil {
		return &Result{Outcome: OutcomeSeedURLError, Warnings: []string{err.Error()}}, nil
	}
	if status == http.StatusNotFound {
		return &Result{Outcome: OutcomeSeedURL404, Warnings: []string{httpErrorDetail(status, body)}}, nil
	}
	if status >= 400 {
		return &Result{Outcome: OutcomeSeedURLError, Warnings: []string{httpErrorDetail(status, body)}}, nil
	}

	seedExtracted, warn := c.extract(ctx, seedURL, body)
	urls = append(urls, seedExtracted...)
	if warn != "" {
		warnings = append(warnings, warn)
	}

	if c.isCancelled(ctx) {
		return &Result{Outcome: OutcomeCancelled, URLs: urls, Warnings: warnings}, nil
	}

	pag := c.paginationConfig()
	if pag == nil || pag.Type == PaginationDisabled {
		return c.finish(urls, warnings, false), nil
	}
	if pag.Type == PaginationCursor && pag.NextSelector == "" {
		warnings = append(warnings, "pagination_selector_not_found")
		return c.finish(urls, warnings, false), nil
	}

	pageURLs, pageWarnings, stopOutcome := c.paginate(ctx, seedURL, body, *pag)
	urls = append(urls, pageURLs...)
	warnings = append(warnings, pageWarnings...)

	if stopOutcome != "" {
		return &Result{Outcome: stopOutcome, URLs: urls, Warnings: warnings}, nil
	}
	return c.finish(urls, warnings, false), nil
}

func (c *crawler) finish(urls []string, warnings []string, partial bool) *Result {
	if partial {
		return &Result{Outcome: OutcomePartialSuccess, URLs: urls, Warnings: warnings}
	}
	if len(urls) == 0 {
		return &Result{Outcome: OutcomeSuccessNoURLs, URLs: urls, Warnings: warnings}
	}
	return &Result{Outcome: OutcomeSuccess, URLs: urls, Warnings: warnings}
}

func (c *crawler) paginationConfig() *PaginationConfig {
	if c.cfg.Step.Pagination == nil {
		return nil
	}
	withDefaults := c.cfg.Step.Pagination.withDefaults()
	return &withDefaults
}

// paginate drives the page sequence, checking stop conditions after
// every fetch, matching generate_with_stop_detection.
func (c *crawler) paginate(ctx context.Context, seedURL string, seedBody []byte, pag PaginationConfig) (urls []string, warnings []string, outcome Outcome) {
	visited := map[string]struct{}{seedURL: {}}
	consecutiveEmpty := 0
	next := seedURL

	for page := pag.StartPage + 1; page <= pag.StartPage+pag.MaxPages; page++ {
		if c.isCancelled(ctx) {
			return urls, warnings, OutcomeCancelled
		}

		pageURL, ok := c.nextPageURL(next, seedBody, pag, page)
		if !ok {
			return urls, warnings, ""
		}
		if _, dup := visited[pageURL]; dup {
			return urls, warnings, OutcomeCircularPagination
		}
		visited[pageURL] = struct{}{}

		status, body, err := c.fetch(ctx, pageURL)
		if err != nil || status >= 500 {
			if err != nil {
				warnings = append(warnings, "pagination network error: "+err.Error())
			} else {
				warnings = append(warnings, "pagination: "+httpErrorDetail(status, body))
			}
			return urls, warnings, OutcomePartialSuccess
		}
		if status >= 400 {
			warnings = append(warnings, "pagination: "+httpErrorDetail(status, body))
			return urls, warnings, OutcomePartialSuccess
		}

		if len(body) < pag.MinContentLength {
			consecutiveEmpty++
			if consecutiveEmpty >= pag.ConsecutiveEmptyLimit {
				return urls, warnings, OutcomeEmptyPages
			}
			continue
		}
		consecutiveEmpty = 0

		extracted, warn := c.extract(ctx, pageURL, body)
		urls = append(urls, extracted...)
		if warn != "" {
			warnings = append(warnings, warn)
		}

		seedBody = body
		next = pageURL
	}

	return urls, warnings, OutcomePaginationStopped
}

// nextPageURL computes the next page's URL for page_based/offset
// pagination, or extracts it via NextSelector for cursor pagination.
func (c *crawler) nextPageURL(currentURL string, currentBody []byte, pag PaginationConfig, page int) (string, bool) {
	switch pag.Type {
	case PaginationPageBased:
		return withQueryParam(currentURL, pag.PageParam, strconv.Itoa(page))
	case PaginationOffset:
		offset := (page - pag.StartPage) * pag.LimitValue
		u, ok := withQueryParam(currentURL, pag.OffsetParam, strconv.Itoa(offset))
		if !ok {
			return "", false
		}
		u, ok = withQueryParam(u, pag.LimitParam, strconv.Itoa(pag.LimitValue))
		return u, ok
	case PaginationCursor:
		return c.extractCursorURL(currentURL, currentBody, pag.NextSelector)
	default:
		return "", false
	}
}

func withQueryParam(rawURL, key, value string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	q := parsed.Query()
	q.Set(key, value)
	parsed.RawQuery = q.Encode()
	return parsed.String(), true
}

func (c *crawler) extractCursorURL(baseURL string, body []byte, selector string) (string, bool) {
	hrefs := c.selectHrefs(body, selector)
	if len(hrefs) == 0 {
		return "", false
	}
	resolved, ok := resolveAgainst(baseURL, hrefs[0])
	return resolved, ok
}

// extract pulls detail URLs from a page using the detail_urls selector
// (and, if configured, narrows the search to the container selector
// first), resolving, canonicalizing, and deduping them.
func (c *crawler) extract(ctx context.Context, pageURL string, body []byte) (urls []string, warning string) {
	if c.isCancelled(ctx) {
		return nil, ""
	}

	selector := c.cfg.Step.Selectors["detail_urls"]
	searchBody := body
	if container, ok := c.cfg.Step.Selectors["container"]; ok {
		if scoped, found := c.scopeToContainer(body, container); found {
			searchBody = scoped
		}
	}

	hrefs := c.selectHrefs(searchBody, selector)
	if len(hrefs) == 0 {
		return nil, "no urls matched detail_urls selector on " + pageURL
	}

	digests := make([]string, 0, len(hrefs))
	canonicalByDigest := make(map[string]string, len(hrefs))
	for _, href := range hrefs {
		resolved, ok := resolveAgainst(pageURL, href)
		if !ok {
			continue
		}
		if err := canonical.ValidateNormalizable(resolved); err != nil {
			continue
		}
		canonURL, digest, err := canonical.Digest(resolved, canonical.Options{})
		if err != nil {
			continue
		}
		if _, dup := c.seen[digest]; dup {
			continue
		}
		c.seen[digest] = struct{}{}
		digests = append(digests, digest)
		canonicalByDigest[digest] = canonURL
	}

	if c.cfg.DedupCache != nil && c.cfg.JobID != nil && len(digests) > 0 {
		present := c.cfg.DedupCache.ExistsBatch(ctx, digests)
		fresh := digests[:0]
		for _, d := range digests {
			if !present[d] {
				fresh = append(fresh, d)
			}
		}
		digests = fresh
	}

	for _, d := range digests {
		canonURL := canonicalByDigest[d]
		urls = append(urls, canonURL)
		if c.cfg.DedupCache != nil && c.cfg.JobID != nil {
			c.cfg.DedupCache.Set(ctx, d, map[string]any{
				"job_id":         c.cfg.JobID.String(),
				"extracted_from": pageURL,
			}, 0)
		}
	}
	return urls, ""
}

// selectHrefs runs selector (CSS by default, XPath when it starts
// with "/" or "//") against body and returns raw href attribute
// values.
func (c *crawler) selectHrefs(body []byte, selector string) []string {
	if strings.HasPrefix(selector, "/") {
		return c.selectHrefsXPath(body, selector)
	}
	return c.selectHrefsCSS(body, selector)
}

func (c *crawler) selectHrefsCSS(body []byte, selector string) []string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var hrefs []string
	doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}

func (c *crawler) selectHrefsXPath(body []byte, expr string) []string {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	nodes, err := htmlquery.QueryAll(doc, expr)
	if err != nil {
		return nil
	}
	var hrefs []string
	for _, n := range nodes {
		if href := htmlquery.SelectAttr(n, "href"); href != "" {
			hrefs = append(hrefs, href)
		}
	}
	return hrefs
}

// scopeToContainer re-serializes the DOM subtree matched by the
// container selector, so detail_urls extraction can be narrowed to it.
func (c *crawler) scopeToContainer(body []byte, containerSelector string) ([]byte, bool) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	sel := doc.Find(containerSelector).First()
	if sel.Length() == 0 {
		return nil, false
	}
	html, err := sel.Html()
	if err != nil {
		return nil, false
	}
	return []byte("<html><body>" + html + "</body></html>"), true
}

// httpErrorDetail formats a non-2xx fetch response via errs.ParseHTTPError,
// reusing its JSON-error-body sniffing so seed/pagination failure
// warnings surface an upstream API's own error message where one exists.
func httpErrorDetail(status int, body []byte) string {
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
	if err := errs.ParseHTTPError(resp); err != nil {
		return err.Error()
	}
	return fmt.Sprintf("HTTP error: %d %s", status, http.StatusText(status))
}

// awaitRateLimit blocks until the per-host bucket for rawURL's host
// admits another fetch, retrying the wait once the reported window
// elapses. Fails open (returns nil) if the limiter itself errors, same
// as DistributedLimiter.Allow does against a down Redis.
func (c *crawler) awaitRateLimit(ctx context.Context, rawURL string) error {
	host := hostScope(rawURL)
	for {
		allowed, retryAfter, err := c.cfg.RateLimit.Allow(ctx, host)
		if err != nil || allowed {
			return nil
		}
		timer := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func hostScope(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "seedcrawler:unknown"
	}
	return "seedcrawler:" + u.Host
}

func resolveAgainst(baseURL, ref string) (string, bool) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", false
	}
	rel, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	return base.ResolveReference(rel).String(), true
}

func (c *crawler) isCancelled(ctx context.Context) bool {
	if c.cfg.Cancel == nil || c.cfg.JobID == nil {
		return false
	}
	return c.cfg.Cancel.IsCancelled(ctx, *c.cfg.JobID)
}

// fetch issues one GET, retrying transient transport errors a couple
// of times and tripping the per-crawl breaker after repeated failures
// so a dead host doesn't burn through the rest of MaxPages.
func (c *crawler) fetch(ctx context.Context, rawURL string) (status int, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("seedcrawler: build request: %w", err)
	}

	if c.cfg.RateLimit != nil {
		if waitErr := c.awaitRateLimit(ctx, rawURL); waitErr != nil {
			return 0, nil, waitErr
		}
	}

	var resp *http.Response
	doErr := c.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, fetchRetryConfig, func() error {
			var reqErr error
			resp, reqErr = c.client.Do(req) //nolint:bodyclose // closed by the caller below on success
			return reqErr
		})
	})
	if doErr != nil {
		return 0, nil, fmt.Errorf("seedcrawler: fetch: %w", doErr)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBodyBytes)
	b, err := io.ReadAll(limited)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("seedcrawler: read body: %w", err)
	}
	return resp.StatusCode, b, nil
}
