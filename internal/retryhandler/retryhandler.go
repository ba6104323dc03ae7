// Package retryhandler implements C7: the per-job retry/DLQ decision
// that the Worker Loop (C10) calls after a crawl step fails.
package retryhandler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/retrypolicy"
	"github.com/northcloud/crawlctl/internal/store"
)

// dlqEntriesTotal is emitted by add_to_dlq per the spec's
// `dlq_entries_total{category, job_type}` metric.
var dlqEntriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dlq_entries_total",
		Help: "Number of jobs written to the dead letter queue, by error category and job type.",
	},
	[]string{"category", "job_type"},
)

func init() {
	prometheus.MustRegister(dlqEntriesTotal)
}

// PolicyLookup resolves a RetryPolicy for (jobType, category); callers
// supply this from whatever config/store layer owns policy rows.
type PolicyLookup func(ctx context.Context, jobType string, category domain.ErrorCategory) (domain.RetryPolicy, error)

// Handler is C7.
type Handler struct {
	store    *store.Store
	producer *queue.Producer
	policy   PolicyLookup
	log      logging.Logger
	now      func() time.Time
}

// New constructs a Handler.
func New(st *store.Store, producer *queue.Producer, policy PolicyLookup, log logging.Logger) *Handler {
	return &Handler{store: st, producer: producer, policy: policy, log: log, now: time.Now}
}

// Failure bundles the inputs to HandleFailure.
type Failure struct {
	JobID        uuid.UUID
	Err          error
	HTTPStatus   int
	ErrorMessage string
	RetryAfter   string // raw Retry-After header value, if any
}

// HandleFailure implements the spec's handle_failure: classify, decide
// retry vs. DLQ, and either re-enqueue after a backoff sleep or mark
// the job failed and archive it. Returns whether the job was retried.
func (h *Handler) HandleFailure(ctx context.Context, f Failure) (retried bool, err error) {
	job, err := h.store.CrawlJobs.GetByID(ctx, f.JobID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil // idempotent: nothing to do
		}
		return false, err
	}

	category := retrypolicy.Classify(f.Err, f.HTTPStatus)
	policy, err := h.policy(ctx, jobTypeOf(job), category)
	if err != nil {
		return false, err
	}

	attemptNumber := job.RetryCount + 1
	if !retrypolicy.CanRetry(policy, attemptNumber) {
		return false, h.toDLQ(ctx, job, category, f.ErrorMessage)
	}

	delay := retrypolicy.Backoff(policy.Strategy, attemptNumber, secToDur(policy.InitialDelaySec), secToDur(policy.MaxDelaySec), policy.BackoffMultiplier, true, retrypolicy.JitterFraction)
	if serverDelay, ok := retrypolicy.ParseRetryAfter(f.RetryAfter, h.now()); ok {
		delay = retrypolicy.HonorRetryAfter(delay, serverDelay)
	}

	if err := h.store.RetryHistory.Record(ctx, job.ID, attemptNumber, category, f.ErrorMessage, delay); err != nil {
		return false, err
	}
	if _, err := h.store.CrawlJobs.ResetForRetry(ctx, job.ID); err != nil {
		return false, err
	}

	// Suspend for the backoff delay; interruptible, and cancellation
	// still leaves the job pending for another worker to pick up.
	select {
	case <-ctx.Done():
		return true, nil
	case <-time.After(delay):
	}

	if err := h.producer.Enqueue(ctx, queue.JobMessage{JobID: job.ID, Priority: job.Priority}); err != nil {
		reason := "re-enqueue after retry failed: " + err.Error()
		_ = h.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusFailed, &reason)
		return false, err
	}

	return true, nil
}

func (h *Handler) toDLQ(ctx context.Context, job *domain.CrawlJob, category domain.ErrorCategory, errMsg string) error {
	reason := errMsg
	if err := h.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusFailed, &reason); err != nil {
		h.log.Warn("retryhandler: failed to mark job failed", logging.Error(err))
	}
	if err := h.addToDLQ(ctx, job, category, errMsg); err != nil {
		// DLQ insert failure is logged, not propagated.
		h.log.Error("retryhandler: add_to_dlq failed", logging.Error(err))
	}
	return nil
}

func (h *Handler) addToDLQ(ctx context.Context, job *domain.CrawlJob, category domain.ErrorCategory, errMsg string) error {
	jobType := jobTypeOf(job)
	d := &domain.DeadLetterQueue{
		ID:           uuid.New(),
		JobID:        job.ID,
		JobType:      jobType,
		Category:     category,
		ErrorMessage: errMsg,
		Payload:      job.Config,
	}
	if err := h.store.DLQ.Add(ctx, d); err != nil {
		return err
	}
	dlqEntriesTotal.WithLabelValues(string(category), jobType).Inc()
	return nil
}

func jobTypeOf(job *domain.CrawlJob) string {
	if job.ScheduledJobID != nil {
		return "scheduled"
	}
	return "manual"
}

func secToDur(s int) time.Duration { return time.Duration(s) * time.Second }
