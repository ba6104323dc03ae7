// Package config loads and validates the crawl control plane's typed
// configuration tree via spf13/viper, adapting the teacher crawler's
// internal/config/init.go bootstrap (nested SetDefault maps,
// multi-alias BindEnv, dot-to-underscore env replacer) to this
// service's own config surface.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/northcloud/crawlctl/internal/config/app"
	"github.com/northcloud/crawlctl/internal/config/crawlerconfig"
	"github.com/northcloud/crawlctl/internal/config/database"
	"github.com/northcloud/crawlctl/internal/config/queueconfig"
	"github.com/northcloud/crawlctl/internal/config/ratelimitconfig"
	"github.com/northcloud/crawlctl/internal/config/redisconfig"
	"github.com/northcloud/crawlctl/internal/config/schedulerconfig"
	"github.com/northcloud/crawlctl/internal/config/workerconfig"
	"github.com/northcloud/crawlctl/internal/logging"
)

// Config is the aggregate, validated configuration tree for crawlctl.
type Config struct {
	App       app.Config             `mapstructure:"app" validate:"required"`
	Logger    logging.Config         `mapstructure:"logger"`
	Database  database.Config        `mapstructure:"database" validate:"required"`
	Redis     redisconfig.Config     `mapstructure:"redis" validate:"required"`
	Queue     queueconfig.Config     `mapstructure:"queue" validate:"required"`
	Crawler   crawlerconfig.Config   `mapstructure:"crawler" validate:"required"`
	Scheduler schedulerconfig.Config `mapstructure:"scheduler" validate:"required"`
	Worker    workerconfig.Config    `mapstructure:"worker" validate:"required"`
	RateLimit ratelimitconfig.Config `mapstructure:"rate_limit" validate:"required"`
}

// Load initializes Viper (YAML file discovery + environment overrides)
// and unmarshals/validates the aggregate Config, following the
// teacher's InitializeViper -> setDefaults -> bindEnvironmentVariables
// -> readConfigFile flow.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	setDefaults(v)
	bindEnvironmentVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file (searched for, or given explicitly) falls back
		// to defaults and environment overrides.
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDevelopmentOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setupViper wires file discovery and environment-variable overrides.
// Unlike the teacher, this never looks for a .env file: the control
// plane runs in containers where env vars are injected directly, and
// the pack's dropped-godotenv decision (DESIGN.md) applies here too.
func setupViper(v *viper.Viper, configPath string) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/crawlctl")
}

// setDefaults installs the nested-map defaults, one SetDefault call per
// section, matching the teacher's setDefaults layout.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app", map[string]any{
		"name":        "crawlctl",
		"version":     "dev",
		"environment": "development",
		"debug":       false,
	})

	v.SetDefault("logger", map[string]any{
		"level":       "info",
		"format":      "json",
		"development": false,
	})

	v.SetDefault("database", map[string]any{
		"host":              "localhost",
		"port":              5432,
		"user":              "crawlctl",
		"name":              "crawlctl",
		"ssl_mode":          "disable",
		"max_open_conns":    25,
		"max_idle_conns":    5,
		"conn_max_lifetime": 5 * time.Minute,
	})

	v.SetDefault("redis", map[string]any{
		"addr": "localhost:6379",
		"db":   0,
	})

	v.SetDefault("queue", map[string]any{
		"stream_prefix":         "crawler",
		"consumer_group":        "crawlctl-workers",
		"consumer_name":         "",
		"block_timeout_seconds": 5,
	})

	v.SetDefault("crawler", map[string]any{
		"request_timeout":                 30 * time.Second,
		"max_response_body_bytes":         10 * 1024 * 1024,
		"default_max_pages":               50,
		"default_consecutive_empty_limit": 2,
		"user_agent":                      "crawlctl/1.0",
	})

	v.SetDefault("scheduler", map[string]any{
		"poll_interval":   60 * time.Second,
		"batch_size":      100,
		"max_catchup_lag": 1 * time.Hour,
		"default_retries": 3,
	})

	v.SetDefault("worker", map[string]any{
		"worker_count":    4,
		"request_timeout": 30 * time.Second,
	})

	v.SetDefault("rate_limit", map[string]any{
		"requests_per_period": 10,
		"period":              1 * time.Second,
	})
}

// bindEnvironmentVariables delegates to per-section binders, each
// allowing multiple legacy env var aliases per key (teacher pattern).
func bindEnvironmentVariables(v *viper.Viper) {
	bindAppEnvVars(v)
	bindDatabaseEnvVars(v)
	bindRedisEnvVars(v)
	bindQueueEnvVars(v)
	bindCrawlerEnvVars(v)
	bindSchedulerEnvVars(v)
	bindWorkerEnvVars(v)
	bindRateLimitEnvVars(v)
}

func bindAppEnvVars(v *viper.Viper) {
	_ = v.BindEnv("app.environment", "APP_ENVIRONMENT", "ENVIRONMENT", "NODE_ENV")
	_ = v.BindEnv("app.debug", "APP_DEBUG", "DEBUG")
	_ = v.BindEnv("app.name", "APP_NAME")
	_ = v.BindEnv("app.version", "APP_VERSION")
}

func bindDatabaseEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.host", "DATABASE_HOST", "DB_HOST", "PGHOST")
	_ = v.BindEnv("database.port", "DATABASE_PORT", "DB_PORT", "PGPORT")
	_ = v.BindEnv("database.user", "DATABASE_USER", "DB_USER", "PGUSER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD", "DB_PASSWORD", "PGPASSWORD")
	_ = v.BindEnv("database.name", "DATABASE_NAME", "DB_NAME", "PGDATABASE")
	_ = v.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE", "PGSSLMODE")
}

func bindRedisEnvVars(v *viper.Viper) {
	_ = v.BindEnv("redis.addr", "REDIS_ADDR", "REDIS_URL", "REDIS_HOST")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
}

func bindQueueEnvVars(v *viper.Viper) {
	_ = v.BindEnv("queue.stream_prefix", "QUEUE_STREAM_PREFIX", "CRAWLER_STREAM_PREFIX")
	_ = v.BindEnv("queue.consumer_group", "QUEUE_CONSUMER_GROUP")
	_ = v.BindEnv("queue.consumer_name", "QUEUE_CONSUMER_NAME", "HOSTNAME")
}

func bindCrawlerEnvVars(v *viper.Viper) {
	_ = v.BindEnv("crawler.request_timeout", "CRAWLER_REQUEST_TIMEOUT")
	_ = v.BindEnv("crawler.user_agent", "CRAWLER_USER_AGENT")
	_ = v.BindEnv("crawler.default_max_pages", "CRAWLER_DEFAULT_MAX_PAGES")
}

func bindSchedulerEnvVars(v *viper.Viper) {
	_ = v.BindEnv("scheduler.poll_interval", "SCHEDULER_POLL_INTERVAL")
	_ = v.BindEnv("scheduler.batch_size", "SCHEDULER_BATCH_SIZE")
	_ = v.BindEnv("scheduler.max_catchup_lag", "SCHEDULER_MAX_CATCHUP_LAG")
}

func bindWorkerEnvVars(v *viper.Viper) {
	_ = v.BindEnv("worker.worker_count", "WORKER_COUNT")
	_ = v.BindEnv("worker.request_timeout", "WORKER_REQUEST_TIMEOUT")
}

func bindRateLimitEnvVars(v *viper.Viper) {
	_ = v.BindEnv("rate_limit.requests_per_period", "CRAWLER_RATE_LIMIT_REQUESTS")
	_ = v.BindEnv("rate_limit.period", "CRAWLER_RATE_LIMIT_PERIOD")
}

// applyDevelopmentOverrides loosens logging for local/dev runs, mirroring
// the teacher's setupDevelopmentLogging.
func applyDevelopmentOverrides(cfg *Config) {
	if cfg.App.Environment == "development" || cfg.App.Debug {
		cfg.Logger.Development = true
		if cfg.Logger.Level == "" || cfg.Logger.Level == "info" {
			cfg.Logger.Level = "debug"
		}
	}
}

func validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
