// Package crawlerconfig holds the defaults the Seed-URL Crawler (C9)
// falls back to when a step's pagination block omits a value.
package crawlerconfig

import "time"

// Config holds C9's tunables.
type Config struct {
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	MaxResponseBodyBytes  int64         `mapstructure:"max_response_body_bytes" validate:"min=1"`
	DefaultMaxPages       int           `mapstructure:"default_max_pages" validate:"min=1"`
	DefaultConsecutiveMax int           `mapstructure:"default_consecutive_empty_limit" validate:"min=1"`
	UserAgent             string        `mapstructure:"user_agent" validate:"required"`
}
