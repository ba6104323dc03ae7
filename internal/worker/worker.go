// Package worker implements C10: the durable-queue consumer loop that
// dispatches claimed CrawlJobs to the Seed-URL Crawler (C9) and
// records their outcome.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/northcloud/crawlctl/internal/cancel"
	"github.com/northcloud/crawlctl/internal/dedupcache"
	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/logbuffer"
	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/ratelimit"
	"github.com/northcloud/crawlctl/internal/retryhandler"
	"github.com/northcloud/crawlctl/internal/seedcrawler"
	"github.com/northcloud/crawlctl/internal/store"
)

const maxErrorMessageLen = 1000

// Loop is C10: one cooperative goroutine pool pulling from the
// durable queue, one message at a time per worker.
type Loop struct {
	store     *store.Store
	consumer  *queue.Consumer
	retry     *retryhandler.Handler
	cancel    *cancel.Signal
	dedup     *dedupcache.Cache
	logs      *logbuffer.Buffer
	rateLimit *ratelimit.DistributedLimiter
	log       logging.Logger
	workerN   int
	requestTO time.Duration

	stopping chan struct{}
	once     sync.Once
}

// Config configures a Loop.
type Config struct {
	WorkerCount    int
	RequestTimeout time.Duration
}

// New constructs a Loop. logs and rateLimit are optional: a nil logs
// buffer skips the per-job tail mirror, and a nil rateLimit leaves
// fetches unthrottled.
func New(st *store.Store, consumer *queue.Consumer, retry *retryhandler.Handler, sig *cancel.Signal, dedup *dedupcache.Cache, logs *logbuffer.Buffer, rateLimit *ratelimit.DistributedLimiter, log logging.Logger, cfg Config) *Loop {
	n := cfg.WorkerCount
	if n <= 0 {
		n = 1
	}
	to := cfg.RequestTimeout
	if to <= 0 {
		to = 30 * time.Second
	}
	return &Loop{
		store: st, consumer: consumer, retry: retry, cancel: sig, dedup: dedup,
		logs: logs, rateLimit: rateLimit, log: log,
		workerN: n, requestTO: to, stopping: make(chan struct{}),
	}
}

// Run blocks, running workerN goroutines until ctx is cancelled or a
// SIGINT/SIGTERM is received.
func (l *Loop) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := l.consumer.Initialize(ctx); err != nil {
		return fmt.Errorf("worker: initialize consumer: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < l.workerN; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.runWorker(ctx, id)
		}(i)
	}
	wg.Wait()
	return nil
}

// Stop signals every worker goroutine to exit at the next message
// boundary, without waiting for in-flight work.
func (l *Loop) Stop() {
	l.once.Do(func() { close(l.stopping) })
}

func (l *Loop) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopping:
			return
		default:
		}

		job, err := l.consumer.ReadOne(ctx)
		if err != nil {
			l.log.Error("worker: read failed", logging.Int("worker_id", id), logging.Error(err))
			continue
		}
		if job == nil {
			continue
		}
		l.processMessage(ctx, job)
	}
}

// processMessage implements C10's per-message flow.
func (l *Loop) processMessage(ctx context.Context, msg *queue.ConsumedJob) {
	jobID, err := uuid.Parse(msg.JobID)
	if err != nil {
		l.log.Warn("worker: malformed job_id, dropping", logging.String("raw", msg.JobID))
		_ = l.consumer.Ack(ctx, msg)
		return
	}

	if l.cancel != nil && l.cancel.IsCancelled(ctx, jobID) {
		_ = l.consumer.Ack(ctx, msg)
		return
	}

	job, err := l.store.CrawlJobs.GetByID(ctx, jobID)
	if err != nil {
		if err == store.ErrNotFound {
			_ = l.consumer.Ack(ctx, msg)
			return
		}
		l.log.Error("worker: load job failed", logging.Error(err))
		_ = l.consumer.Nak(ctx, msg)
		return
	}
	if job.Status == domain.JobStatusCompleted || job.Status == domain.JobStatusCancelled || job.Status == domain.JobStatusFailed {
		_ = l.consumer.Ack(ctx, msg)
		return
	}

	if err := l.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusProcessing, nil); err != nil {
		l.log.Error("worker: transition to running failed", logging.Error(err))
		_ = l.consumer.Nak(ctx, msg)
		return
	}

	stepCfg, seedURL, err := l.resolveStep(ctx, job)
	if err != nil {
		l.fail(ctx, job, err.Error())
		_ = l.consumer.Ack(ctx, msg)
		return
	}

	l.logJob(ctx, job.ID, fmt.Sprintf("starting crawl: seed_url=%s", seedURL))

	crawlCfg := seedcrawler.Config{
		Step:           stepCfg,
		JobID:          &job.ID,
		DedupCache:     l.dedup,
		Cancel:         l.cancel,
		RequestTimeout: l.requestTO,
		HTTPClient:     &http.Client{Timeout: l.requestTO},
		RateLimit:      l.rateLimit,
	}

	result, err := seedcrawler.Crawl(ctx, seedURL, crawlCfg)
	if err != nil {
		l.logJob(ctx, job.ID, "crawl error: "+err.Error())
		l.handleFailure(ctx, msg, job, err, 0)
		return
	}

	l.logJob(ctx, job.ID, fmt.Sprintf("crawl finished: outcome=%s urls=%d", result.Outcome, len(result.URLs)))

	switch result.Outcome {
	case seedcrawler.OutcomeSuccess, seedcrawler.OutcomeSuccessNoURLs, seedcrawler.OutcomePartialSuccess, seedcrawler.OutcomePaginationStopped:
		l.recordPages(ctx, job, seedURL, result.URLs)
		if err := l.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusCompleted, nil); err != nil {
			l.log.Error("worker: complete transition failed", logging.Error(err))
		}
	case seedcrawler.OutcomeCancelled:
		reason := "cancelled during crawl"
		if err := l.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusCancelled, &reason); err != nil {
			l.log.Error("worker: cancel transition failed", logging.Error(err))
		}
	default:
		reason := truncate(string(result.Outcome), maxErrorMessageLen)
		l.handleFailure(ctx, msg, job, fmt.Errorf("crawl outcome: %s", reason), httpStatusForOutcome(result.Outcome))
		return
	}

	_ = l.consumer.Ack(ctx, msg)
}

// logJob mirrors a line into the job's bounded log tail, in addition to
// whatever structured zap logging already records the same event.
func (l *Loop) logJob(ctx context.Context, jobID uuid.UUID, line string) {
	if l.logs == nil {
		return
	}
	l.logs.Append(ctx, jobID, line)
}

func (l *Loop) handleFailure(ctx context.Context, msg *queue.ConsumedJob, job *domain.CrawlJob, cause error, httpStatus int) {
	_, err := l.retry.HandleFailure(ctx, retryhandler.Failure{
		JobID:        job.ID,
		Err:          cause,
		HTTPStatus:   httpStatus,
		ErrorMessage: truncate(cause.Error(), maxErrorMessageLen),
	})
	if err != nil {
		l.log.Error("worker: handle_failure errored", logging.Error(err))
	}
	_ = l.consumer.Ack(ctx, msg)
}

func (l *Loop) fail(ctx context.Context, job *domain.CrawlJob, reason string) {
	truncated := truncate(reason, maxErrorMessageLen)
	if err := l.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusFailed, &truncated); err != nil {
		l.log.Error("worker: fail transition failed", logging.Error(err))
	}
}

// resolveStep loads the crawl step's selector/pagination configuration,
// either from the job's inline config or, for template-based jobs,
// from the job's Website.
func (l *Loop) resolveStep(ctx context.Context, job *domain.CrawlJob) (seedcrawler.StepConfig, string, error) {
	raw := job.Config
	if job.ScheduledJobID != nil || job.WebsiteID != uuid.Nil {
		website, err := l.store.Websites.GetByID(ctx, job.WebsiteID)
		if err != nil {
			return seedcrawler.StepConfig{}, "", fmt.Errorf("load website for template job: %w", err)
		}
		merged := domain.JSONMap{}
		for k, v := range website.Config {
			merged[k] = v
		}
		for k, v := range raw {
			merged[k] = v
		}
		step, err := decodeStepConfig(merged)
		if err != nil {
			return seedcrawler.StepConfig{}, "", err
		}
		return step, website.BaseURL, nil
	}

	step, err := decodeStepConfig(raw)
	if err != nil {
		return seedcrawler.StepConfig{}, "", err
	}
	seedURL, _ := raw["seed_url"].(string)
	if seedURL == "" {
		return seedcrawler.StepConfig{}, "", fmt.Errorf("inline config missing seed_url")
	}
	return step, seedURL, nil
}

func decodeStepConfig(m domain.JSONMap) (seedcrawler.StepConfig, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return seedcrawler.StepConfig{}, fmt.Errorf("marshal step config: %w", err)
	}
	var decoded struct {
		Selectors  map[string]string            `json:"selectors"`
		Pagination *seedcrawler.PaginationConfig `json:"pagination"`
	}
	if err := json.Unmarshal(b, &decoded); err != nil {
		return seedcrawler.StepConfig{}, fmt.Errorf("unmarshal step config: %w", err)
	}
	return seedcrawler.StepConfig{Selectors: decoded.Selectors, Pagination: decoded.Pagination}, nil
}

func (l *Loop) recordPages(ctx context.Context, job *domain.CrawlJob, seedURL string, urls []string) {
	for _, u := range urls {
		page := &domain.CrawledPage{
			ID:           uuid.New(),
			JobID:        job.ID,
			URL:          u,
			CanonicalURL: u,
			URLHash:      u,
			StatusCode:   http.StatusOK,
			Metadata:     domain.JSONMap{"seed_url": seedURL},
		}
		if err := l.store.Pages.Create(ctx, page); err != nil {
			l.log.Warn("worker: record page failed", logging.String("url", u), logging.Error(err))
		}
	}
	progress := domain.JSONMap{"urls_extracted": len(urls)}
	if err := l.store.CrawlJobs.UpdateProgress(ctx, job.ID, progress); err != nil {
		l.log.Warn("worker: update progress failed", logging.Error(err))
	}
}

func httpStatusForOutcome(o seedcrawler.Outcome) int {
	switch o {
	case seedcrawler.OutcomeSeedURL404:
		return http.StatusNotFound
	case seedcrawler.OutcomeInvalidConfig:
		return http.StatusUnprocessableEntity
	default:
		return 0
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.TrimSpace(s[:n])
}
