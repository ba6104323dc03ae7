// Package scheduler implements C8: the cooperative poll loop that
// materializes due ScheduledJobs into CrawlJob rows and publishes them
// to the durable queue.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northcloud/crawlctl/internal/cronengine"
	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/store"
)

const (
	// DefaultPollInterval is the time between ticks.
	DefaultPollInterval = 60 * time.Second
	// DefaultBatchSize is the number of due jobs claimed per fetch.
	DefaultBatchSize = 100
	// MaxCatchupDelay bounds how far past next_run_time a job can be
	// and still be caught up rather than skipped.
	MaxCatchupDelay = 1 * time.Hour
	// defaultPriority is the priority new template-based jobs run at.
	defaultPriority = 5
	// defaultMaxRetries bounds scheduled-job retries.
	defaultMaxRetries = 3
)

// Processor is C8.
type Processor struct {
	store        *store.Store
	producer     *queue.Producer
	log          logging.Logger
	now          func() time.Time
	pollInterval time.Duration
	batchSize    int
}

// Config configures a Processor; zero values take spec defaults.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// New constructs a Processor.
func New(st *store.Store, producer *queue.Producer, log logging.Logger, cfg Config) *Processor {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Processor{store: st, producer: producer, log: log, now: time.Now, pollInterval: interval, batchSize: batch}
}

// Run blocks, ticking the processor until ctx is cancelled. The first
// tick runs the missed-schedule sweep; every subsequent tick runs
// normal processing.
func (p *Processor) Run(ctx context.Context) error {
	if err := p.sweep(ctx); err != nil {
		p.log.Error("scheduler: missed-schedule sweep failed", logging.Error(err))
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.tick(ctx); err != nil {
				p.log.Error("scheduler: tick failed", logging.Error(err))
			}
		}
	}
}

// sweep drains every due job on the first tick after start, applying
// the 1-hour catch-up-vs-skip threshold.
func (p *Processor) sweep(ctx context.Context) error {
	for {
		jobs, err := p.store.ScheduledJobs.GetDueJobs(ctx, p.now(), p.batchSize)
		if err != nil {
			return fmt.Errorf("scheduler: fetch due jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			p.processDueJob(ctx, job, true)
		}
		if len(jobs) < p.batchSize {
			return nil
		}
	}
}

// ProcessOnce runs a single tick synchronously, without the Run loop's
// ticker or initial sweep. Exposed for callers (and tests) that want
// to drive the scheduler on their own cadence.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	return p.tick(ctx)
}

// tick runs normal per-tick processing: the same per-job flow as the
// sweep, but always catches up since next_run_time is by definition
// <= now when selected.
func (p *Processor) tick(ctx context.Context) error {
	jobs, err := p.store.ScheduledJobs.GetDueJobs(ctx, p.now(), p.batchSize)
	if err != nil {
		return fmt.Errorf("scheduler: fetch due jobs: %w", err)
	}
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		p.processDueJob(ctx, job, false)
	}
	return nil
}

// processDueJob applies the single per-job flow both the sweep and
// normal ticks share, differing only in whether the 1-hour catch-up
// threshold is enforced (sweepMode) or bypassed (normal ticks).
func (p *Processor) processDueJob(ctx context.Context, job domain.ScheduledJob, sweepMode bool) {
	website, err := p.store.Websites.GetByID(ctx, job.WebsiteID)
	if err != nil || website.DeletedAt != nil {
		if err := p.store.ScheduledJobs.Deactivate(ctx, job.ID); err != nil {
			p.log.Error("scheduler: failed to deactivate orphaned job", logging.String("scheduled_job_id", job.ID.String()), logging.Error(err))
		}
		return
	}

	if job.Timezone == "" {
		if err := p.store.ScheduledJobs.BackfillTimezone(ctx, job.ID); err != nil {
			p.log.Error("scheduler: failed to backfill timezone", logging.Error(err))
		}
		job.Timezone = "UTC"
	}

	now := p.now()

	if job.NextRunTime == nil {
		next, _, err := cronengine.NextRun(job.CronExpression, now, job.Timezone)
		if err != nil {
			p.deactivateOnCronFailure(ctx, job.ID, err)
			return
		}
		if err := p.store.ScheduledJobs.UpdateScheduleState(ctx, job.ID, next, nil); err != nil {
			p.log.Error("scheduler: failed to recompute orphaned next_run_time", logging.Error(err))
		}
		return
	}

	delay := now.Sub(*job.NextRunTime)
	catchUp := !sweepMode || delay < MaxCatchupDelay

	next, _, err := cronengine.NextRun(job.CronExpression, now, job.Timezone)
	if err != nil {
		p.deactivateOnCronFailure(ctx, job.ID, err)
		return
	}

	if !catchUp {
		if err := p.store.ScheduledJobs.UpdateScheduleState(ctx, job.ID, next, nil); err != nil {
			p.log.Error("scheduler: failed to advance skipped job", logging.Error(err))
		}
		return
	}

	p.createTemplateBasedJob(ctx, job, website, now, sweepMode && delay > 0)

	if err := p.store.ScheduledJobs.UpdateScheduleState(ctx, job.ID, next, &now); err != nil {
		p.log.Error("scheduler: failed to advance caught-up job", logging.Error(err))
	}
}

func (p *Processor) deactivateOnCronFailure(ctx context.Context, id uuid.UUID, cause error) {
	p.log.Error("scheduler: cron recompute failed, deactivating", logging.String("scheduled_job_id", id.String()), logging.Error(cause))
	if err := p.store.ScheduledJobs.Deactivate(ctx, id); err != nil {
		p.log.Error("scheduler: failed to deactivate after cron failure", logging.Error(err))
	}
}

// createTemplateBasedJob materializes a CrawlJob from a ScheduledJob's
// website template and publishes it. Publish failure is compensated by
// marking the new job cancelled, not failed, because it never ran.
func (p *Processor) createTemplateBasedJob(ctx context.Context, scheduled domain.ScheduledJob, website *domain.Website, now time.Time, catchup bool) {
	progress := domain.JSONMap{
		"scheduled_job_id": scheduled.ID.String(),
		"cron_schedule":    scheduled.CronExpression,
		"catchup":          catchup,
	}
	if catchup && scheduled.NextRunTime != nil {
		progress["missed_time"] = scheduled.NextRunTime.UTC().Format(time.RFC3339)
	}

	job := &domain.CrawlJob{
		ID:             uuid.New(),
		WebsiteID:      website.ID,
		ScheduledJobID: &scheduled.ID,
		Status:         domain.JobStatusPending,
		Priority:       defaultPriority,
		Config:         scheduled.JobConfig,
		MaxRetries:     defaultMaxRetries,
		Progress:       progress,
	}

	if err := p.store.CrawlJobs.Create(ctx, job); err != nil {
		p.log.Error("scheduler: create template-based job failed", logging.Error(err))
		return
	}

	if err := p.producer.Enqueue(ctx, queue.JobMessage{JobID: job.ID, Priority: job.Priority}); err != nil {
		reason := "publish failed: " + err.Error()
		if cErr := p.store.CrawlJobs.TransitionTo(ctx, job.ID, domain.JobStatusCancelled, &reason); cErr != nil {
			p.log.Error("scheduler: failed to cancel unpublished job", logging.Error(cErr))
		}
	}
}

