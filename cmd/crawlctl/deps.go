package crawlctl

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq"

	"github.com/northcloud/crawlctl/internal/cancel"
	"github.com/northcloud/crawlctl/internal/config"
	"github.com/northcloud/crawlctl/internal/dedupcache"
	"github.com/northcloud/crawlctl/internal/logbuffer"
	"github.com/northcloud/crawlctl/internal/logging"
	"github.com/northcloud/crawlctl/internal/queue"
	"github.com/northcloud/crawlctl/internal/ratelimit"
	"github.com/northcloud/crawlctl/internal/store"
)

// deps bundles the infrastructure handles every long-running command
// wires the same way: database, Redis, durable queue, store
// repositories, and the Redis-backed supporting services.
type deps struct {
	cfg       *config.Config
	log       logging.Logger
	db        *sqlx.DB
	redis     *redis.Client
	store     *store.Store
	queue     *queue.StreamsClient
	cancel    *cancel.Signal
	dedup     *dedupcache.Cache
	logs      *logbuffer.Buffer
	rateLimit *ratelimit.DistributedLimiter
}

func wireDeps(ctx context.Context, cfg *config.Config, log logging.Logger) (*deps, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	streams := queue.NewStreamsClientFromRedis(rdb, cfg.Queue.StreamPrefix)

	return &deps{
		cfg:       cfg,
		log:       log,
		db:        db,
		redis:     rdb,
		store:     store.New(db),
		queue:     streams,
		cancel:    cancel.New(rdb, log),
		dedup:     dedupcache.New(rdb, log),
		logs:      logbuffer.New(rdb, log),
		rateLimit: ratelimit.NewDistributedLimiter(rdb, log, cfg.RateLimit.RequestsPerPeriod, cfg.RateLimit.Period),
	}, nil
}

func (d *deps) Close() {
	_ = d.db.Close()
	_ = d.redis.Close()
}
