// Package ratelimitconfig holds the supplemental rate limiter's (4.12)
// tunables: CRAWLER_RATE_LIMIT_REQUESTS / CRAWLER_RATE_LIMIT_PERIOD
// from the original_source config.py.
package ratelimitconfig

import "time"

// Config configures both the in-process and distributed rate limiters.
type Config struct {
	RequestsPerPeriod int           `mapstructure:"requests_per_period" validate:"min=1"`
	Period            time.Duration `mapstructure:"period"`
}
