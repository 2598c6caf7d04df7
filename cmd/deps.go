package cmd

import (
	"context"
	"fmt"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	"github.com/oneirolab/dreamgate/internal/api"
	"github.com/oneirolab/dreamgate/internal/cache"
	cachememory "github.com/oneirolab/dreamgate/internal/cache/memory"
	"github.com/oneirolab/dreamgate/internal/clock/system"
	"github.com/oneirolab/dreamgate/internal/cms"
	"github.com/oneirolab/dreamgate/internal/config"
	"github.com/oneirolab/dreamgate/internal/id/uuid"
	pubmemory "github.com/oneirolab/dreamgate/internal/publisher/memory"
	pubgcp "github.com/oneirolab/dreamgate/internal/publisher/pubsub"
	"github.com/oneirolab/dreamgate/internal/queue"
	queuememory "github.com/oneirolab/dreamgate/internal/queue/memory"
	"github.com/oneirolab/dreamgate/internal/ratelimit"
	"github.com/oneirolab/dreamgate/internal/seo"
	"github.com/oneirolab/dreamgate/internal/storage/gcs"
	storagememory "github.com/oneirolab/dreamgate/internal/storage/memory"
	"github.com/oneirolab/dreamgate/internal/storage/postgres"
)

// deps holds everything a subcommand might wire together, plus the
// teardown hooks accumulated while building it.
type deps struct {
	stores    api.Stores
	cache     cms.Cache
	queue     cms.Queue
	blobs     cms.BlobStore
	publisher cms.Publisher
	pinger    *seo.Pinger
	clock     cms.Clock
	ids       cms.IDGenerator

	closers []func()
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// buildDeps constructs the provider set selected by config. Memory
// providers back every concern that has no external endpoint configured,
// so a bare `dreamgate serve` works on a laptop.
func buildDeps(ctx context.Context, cfg config.Config) (*deps, error) {
	d := &deps{
		clock: system.New(),
		ids:   uuid.New(),
	}

	if cfg.DB.DSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
			MinConns: int32(cfg.DB.MinConns),
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		d.closers = append(d.closers, pool.Close)
		content, err := postgres.NewContentStore(pool)
		if err != nil {
			return nil, fmt.Errorf("content store: %w", err)
		}
		submissions, err := postgres.NewSubmissionStore(pool)
		if err != nil {
			return nil, fmt.Errorf("submission store: %w", err)
		}
		failedJobs, err := postgres.NewFailedJobStore(pool)
		if err != nil {
			return nil, fmt.Errorf("failed-job store: %w", err)
		}
		auditStore, err := postgres.NewAuditStore(pool)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		analytics, err := postgres.NewAnalyticsStore(pool)
		if err != nil {
			return nil, fmt.Errorf("analytics store: %w", err)
		}
		d.stores = api.Stores{
			Content:     content,
			Submissions: submissions,
			FailedJobs:  failedJobs,
			Audit:       auditStore,
			Analytics:   analytics,
		}
	} else {
		d.stores = api.Stores{
			Content:     storagememory.NewContentStore(),
			Submissions: storagememory.NewSubmissionStore(),
			FailedJobs:  storagememory.NewFailedJobStore(),
			Audit:       storagememory.NewAuditStore(),
			Analytics:   storagememory.NewAnalyticsStore(),
		}
	}

	// The queue provider decides whether Redis is in play; the cache
	// shares the same client so the two never disagree about the backend.
	if cfg.Queue.Provider == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		d.closers = append(d.closers, func() { _ = rdb.Close() })
		d.cache = cache.NewRedisWithClient(rdb)
		d.queue = queue.NewRedis(rdb)
	} else {
		d.cache = cachememory.New()
		d.queue = queuememory.New()
	}

	if cfg.Storage.Provider == "gcs" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		d.closers = append(d.closers, func() { _ = client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs store: %w", err)
		}
		d.blobs = store
	} else {
		d.blobs = storagememory.NewBlobStore()
	}

	if cfg.PubSub.Provider == "pubsub" {
		pub, err := pubgcp.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		d.closers = append(d.closers, func() { _ = pub.Close() })
		d.publisher = pub
	} else {
		d.publisher = pubmemory.New()
	}

	d.pinger = seo.NewPinger(seo.PingerConfig{
		SiteURL:     cfg.SEO.SiteURL,
		IndexNowKey: cfg.SEO.IndexNowKey,
		RatePerSec:  cfg.SEO.PingRatePerSecond,
		Timeout:     cfg.PingTimeout(),
	}, logger)

	return d, nil
}

// limiterFromConfig translates rate-limit config into the limiter's rule
// set.
func limiterFromConfig(cfg config.Config, cache cms.Cache, clock cms.Clock) *ratelimit.Limiter {
	rlCfg := ratelimit.Config{
		Default: ratelimit.Rule{
			Window: time.Duration(cfg.RateLimit.DefaultWindow) * time.Millisecond,
			Max:    cfg.RateLimit.DefaultMax,
		},
		Global: ratelimit.Rule{
			Window: time.Duration(cfg.RateLimit.GlobalWindow) * time.Millisecond,
			Max:    cfg.RateLimit.GlobalMax,
		},
		TrustedHeaders: cfg.RateLimit.TrustedHeaders,
	}
	for _, rule := range cfg.RateLimit.Endpoints {
		rlCfg.Rules = append(rlCfg.Rules, ratelimit.Rule{
			Prefix: rule.Prefix,
			Window: time.Duration(rule.WindowMs) * time.Millisecond,
			Max:    rule.MaxRequests,
		})
	}
	return ratelimit.New(cache, rlCfg, clock, logger)
}
