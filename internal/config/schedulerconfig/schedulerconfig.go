// Package schedulerconfig holds C8's polling tunables.
package schedulerconfig

import "time"

// Config configures the Scheduled-Job Processor.
type Config struct {
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	BatchSize      int           `mapstructure:"batch_size" validate:"min=1"`
	MaxCatchupLag  time.Duration `mapstructure:"max_catchup_lag"`
	DefaultRetries int           `mapstructure:"default_retries" validate:"min=0"`
}
