// Package crawlctl implements the command-line interface for the crawl
// control plane, following the teacher's cobra root-command layout
// (cmd/root.go) adapted to this service's own subcommand set.
package crawlctl

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/northcloud/crawlctl/internal/config"
	"github.com/northcloud/crawlctl/internal/logging"
)

var (
	cfgFile string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "crawlctl",
		Short: "Crawl control plane: scheduler, worker, and maintenance commands",
		Long:  `crawlctl schedules, queues, and executes web crawl jobs across a fleet of workers.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml, ./config/config.yaml, /etc/crawlctl/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging regardless of configured level")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSchedulerCmd())
	rootCmd.AddCommand(newWorkerCmd())
	rootCmd.AddCommand(newMigrateCmd())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "crawlctl version dev")
		},
	}
}

// loadConfigAndLogger centralizes the init sequence every long-running
// subcommand needs: read config, build the structured logger, and
// apply the --debug override.
func loadConfigAndLogger() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Logger.Level = "debug"
	}

	log, err := logging.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}
