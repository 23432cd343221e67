package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"killtracker/common/database"
	commonredis "killtracker/common/redis"
	"killtracker/internal/cache"
	"killtracker/internal/composer"
	"killtracker/internal/config"
	"killtracker/internal/consumer"
	"killtracker/internal/evaluator"
	"killtracker/internal/feed"
	"killtracker/internal/httpapi"
	"killtracker/internal/repository"
	"killtracker/internal/tasks"
	"killtracker/internal/universe"
	"killtracker/internal/webhook"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// nameCacheTTL is how long resolved entity names stay in Redis.
const nameCacheTTL = 24 * time.Hour

// App wires the killtracker components to Postgres, Redis and the
// upstream APIs.
type App struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	pool        *tasks.Pool
	catalog     *universe.Catalog
	scheduler   *consumer.Scheduler
	router      *httpapi.Router
	Drainer     *webhook.Drainer
	Webhooks    *repository.WebhookRepository
	Killtracker *Killtracker
}

// NewApp connects to Postgres and Redis and builds every component.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	db, err := database.NewPostgresDB(context.Background(), &cfg.Database)
	if err != nil {
		return nil, err
	}

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	if err := commonredis.Ping(context.Background(), redisClient); err != nil {
		database.Close(db)
		return nil, err
	}

	trackerRepo := repository.NewTrackerRepository(db, logger)
	webhookRepo := repository.NewWebhookRepository(db, logger)
	killmailRepo := repository.NewKillmailRepository(db, logger)

	esi := feed.NewESIClient(cfg.ESI.BaseURL, cfg.Feed.UserAgent, cfg.ESI.Timeout, logger)
	redisQ := feed.NewRedisQClient(cfg.Feed.RedisQURL, cfg.Feed.QueueID, cfg.Feed.TTW, cfg.Feed.Timeout,
		cfg.Feed.UserAgent, esi, logger)
	zkb := feed.NewZkbClient(cfg.Feed.ZkbAPIURL, cfg.Feed.UserAgent, cfg.Feed.Timeout, logger)

	catalog := universe.NewCatalog(esi, logger)
	if err := catalog.LoadFile(cfg.Universe.CatalogFile); err != nil {
		logger.Warn("failed to load universe catalog", zap.String("file", cfg.Universe.CatalogFile), zap.Error(err))
	}
	names := universe.NewNameCache(redisClient, esi, nameCacheTTL, logger)

	gm := cfg.Tracker.GenerateMessage
	policy := composer.RetryPolicy{
		MaxRetries: gm.MaxRetries,
		Backoff:    composer.NewBackoff(gm.Backoff, gm.RetryDelay, gm.MaxRetryWait),
	}

	kv := cache.NewRedisKVStore(redisClient)
	pool := tasks.NewPool(cfg.Tracker.Workers, 256, logger)
	drainer := webhook.NewDrainer(
		redisClient,
		kv,
		webhookRepo,
		webhook.NewDiscordTransport(cfg.Discord.Timeout, cfg.Feed.UserAgent),
		pool,
		cfg.Discord.SendDelay,
		cfg.Discord.Username,
		cfg.Discord.AvatarURL,
		logger,
	)

	kt := NewKilltracker(cfg, Deps{
		Feed:       redisQ,
		Lookup:     feed.NewLookupFetcher(zkb, esi, logger),
		Health:     esi,
		KV:         kv,
		Trackers:   trackerRepo,
		Webhooks:   webhookRepo,
		Killmails:  killmailRepo,
		Catalog:    catalog,
		Matcher:    evaluator.NewEvaluator(catalog),
		Composer:   composer.NewComposer(names, catalog, policy, cfg.Discord.Username, cfg.Discord.AvatarURL, logger),
		Delivery:   drainer,
		Dispatcher: pool,
	}, logger)

	router := httpapi.NewRouter(logger)
	router.RegisterStatusRoutes(httpapi.NewStatusHandler(drainer, map[string]httpapi.Pinger{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return commonredis.Ping(ctx, redisClient)
		},
	}, logger))

	return &App{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
		pool:        pool,
		catalog:     catalog,
		scheduler:   consumer.NewScheduler(cfg.Tracker.Schedule, logger),
		router:      router,
		Drainer:     drainer,
		Webhooks:    webhookRepo,
		Killtracker: kt,
	}, nil
}

// DB returns the database handle.
func (a *App) DB() *sql.DB {
	return a.db
}

// StartWorkers starts the task pool only, for one-off commands.
func (a *App) StartWorkers(ctx context.Context) {
	a.pool.Start(ctx)
}

// WaitIdle blocks until the task pool has nothing left to run, the
// timeout passes or ctx is done.
func (a *App) WaitIdle(ctx context.Context, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for a.pool.Busy() > 0 && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Start runs the task pool, the cycle scheduler and the status server
// until ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting killtracker",
		zap.String("schedule", a.config.Tracker.Schedule),
		zap.Int("workers", a.config.Tracker.Workers),
		zap.Bool("storing_killmails", a.config.Storage.Enabled),
	)
	a.pool.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Start(ctx, func(ctx context.Context) error {
			_, err := a.Killtracker.RunCycle(ctx)
			return err
		})
	})
	g.Go(func() error {
		return httpapi.Serve(ctx, a.config.HTTP.Addr, a.router, a.logger)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("killtracker stopped: %w", err)
	}
	return nil
}

// Stop releases every resource. The universe catalog is saved so the next
// start needs fewer lookups.
func (a *App) Stop() error {
	a.logger.Info("stopping killtracker")
	a.pool.Close()

	if err := a.catalog.SaveFile(a.config.Universe.CatalogFile); err != nil {
		a.logger.Error("failed to save universe catalog", zap.Error(err))
	}
	if err := commonredis.Close(a.redisClient); err != nil {
		a.logger.Error("failed to close redis", zap.Error(err))
	}
	if err := database.Close(a.db); err != nil {
		a.logger.Error("failed to close database", zap.Error(err))
	}
	return nil
}
