// Package workerconfig holds C10's worker-pool tunables.
package workerconfig

import "time"

// Config configures the Worker Loop.
type Config struct {
	WorkerCount    int           `mapstructure:"worker_count" validate:"min=1"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}
