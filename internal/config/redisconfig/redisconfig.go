// Package redisconfig holds connection configuration shared by every
// Redis-backed component (queue streams, dedupcache, cancel signal,
// rate limiter, wstoken, logbuffer).
package redisconfig

// Config is the Redis connection configuration.
type Config struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db" validate:"min=0"`
}
