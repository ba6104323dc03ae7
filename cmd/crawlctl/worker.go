package crawlctl

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/northcloud/crawlctl/internal/domain"
	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/retryhandler"
	"github.com/northcloud/crawlctl/internal/retrypolicy"
	"github.com/northcloud/crawlctl/internal/store"
	"github.com/northcloud/crawlctl/internal/worker"
)

// storeBackedPolicyLookup reads the persisted, admin-mutable
// retry_policies row for category, falling back to the built-in
// default when the table hasn't been seeded for it yet.
func storeBackedPolicyLookup(st *store.Store) retryhandler.PolicyLookup {
	return func(ctx context.Context, jobType string, category domain.ErrorCategory) (domain.RetryPolicy, error) {
		policy, err := st.RetryPolicies.GetByCategory(ctx, category)
		if err == store.ErrNotFound {
			return retrypolicy.DefaultPolicy(jobType, category), nil
		}
		if err != nil {
			return domain.RetryPolicy{}, err
		}
		return *policy, nil
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the durable-queue consumer loop (C10)",
		Long:  `Pulls claimed crawl jobs off the priority streams and dispatches them to the seed-URL crawler.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx := cmd.Context()
			d, err := wireDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			consumerID, _ := os.Hostname()
			if consumerID == "" {
				consumerID = "crawlctl-worker"
			}
			if cfg.Queue.ConsumerName != "" {
				consumerID = cfg.Queue.ConsumerName
			}
			consumer, err := queue.NewConsumer(d.queue, queue.ConsumerConfig{
				ConsumerGroup: cfg.Queue.ConsumerGroup,
				ConsumerID:    consumerID,
			})
			if err != nil {
				return fmt.Errorf("construct queue consumer: %w", err)
			}

			producer := queue.NewProducer(d.queue, queue.ProducerConfig{})
			retry := retryhandler.New(d.store, producer, storeBackedPolicyLookup(d.store), log)

			loop := worker.New(d.store, consumer, retry, d.cancel, d.dedup, d.logs, d.rateLimit, log, worker.Config{
				WorkerCount:    cfg.Worker.WorkerCount,
				RequestTimeout: cfg.Worker.RequestTimeout,
			})

			log.Info("worker: starting", logging.Int("worker_count", cfg.Worker.WorkerCount))
			return loop.Run(ctx)
		},
	}
}
