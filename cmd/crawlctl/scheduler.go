package crawlctl

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/scheduler"
)

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run the scheduled-job processor (C8)",
		Long:  `Polls due scheduled jobs, materializes template-based crawl jobs, and enqueues them onto the durable queue.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := wireDeps(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer d.Close()

			producer := queue.NewProducer(d.queue, queue.ProducerConfig{})
			proc := scheduler.New(d.store, producer, log, scheduler.Config{
				PollInterval: cfg.Scheduler.PollInterval,
				BatchSize:    cfg.Scheduler.BatchSize,
			})

			log.Info("scheduler: starting", logging.String("poll_interval", cfg.Scheduler.PollInterval.String()))
			return proc.Run(ctx)
		},
	}
}
