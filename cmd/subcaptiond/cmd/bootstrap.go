package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"frameworks/internal/blobstore"
	"frameworks/internal/cleaner"
	"frameworks/internal/ingress"
	"frameworks/internal/jobrepo"
	"frameworks/internal/media"
	"frameworks/internal/pipeline"
	"frameworks/internal/queue"
	"frameworks/internal/quota"
	"frameworks/internal/ratelimit"
	"frameworks/internal/scheduler"
	"frameworks/internal/subtitles"
	"frameworks/internal/tenantrepo"
	"frameworks/internal/transcribe"
	"frameworks/internal/translate"
	"frameworks/pkg/cache"
	"frameworks/pkg/config"
	"frameworks/pkg/database"
	"frameworks/pkg/logging"
	"frameworks/pkg/monitoring"
	subredis "frameworks/pkg/redis"
	"frameworks/pkg/version"
)

// deps is every collaborator a subcommand might need, built once by
// bootstrap so serve/worker/clean share identical wiring.
type deps struct {
	cfg    appConfig
	logger logging.Logger
	db     *sql.DB
	redis  goredis.UniversalClient

	tenants *tenantrepo.Repository
	jobs    *jobrepo.Repository
	ledger  *quota.Ledger
	queue   *queue.Queue
	limiter *ratelimit.Limiter
	store   *blobstore.Store

	driver    *pipeline.Driver
	scheduler *scheduler.Scheduler
	cleaner   *cleaner.Cleaner
	ingress   *ingress.Server

	health  *monitoring.HealthChecker
	metrics *monitoring.MetricsCollector
}

// bootstrap loads configuration and connects every collaborator. A
// missing or incomplete Postgres schema is reported as a
// migrationRequiredError so callers can map it to exit code 2.
func bootstrap(ctx context.Context) (*deps, error) {
	cfg := loadAppConfig()
	logger := logging.NewLoggerWithService("subcaptiond")
	config.LoadEnv(logger)

	db, err := database.Connect(database.Config{
		URL:             cfg.DatabaseURL,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	ready, err := database.SchemaReady(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !ready {
		return nil, &migrationRequiredError{err: fmt.Errorf(
			"required tables missing from %s; apply pkg/database/migrations before starting subcaptiond", cfg.DatabaseURL,
		)}
	}

	redisClient, err := subredis.NewUniversalClient(ctx, subredis.Config{
		Mode:     subredis.ModeSingle,
		Addrs:    cfg.RedisAddrs,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	store, err := blobstore.New(ctx, blobstore.Config{
		Bucket:    cfg.BlobBucket,
		Region:    cfg.BlobRegion,
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	tenants := tenantrepo.New(db)
	jobs := jobrepo.New(db)
	limits := quota.NewStaticPlanLimits(cfg.FreeMinutesLimit)
	ledger := quota.New(db, limits, logger)
	q := queue.New(redisClient)
	limiter := ratelimit.New(redisClient, ratelimit.DefaultConfig())

	translateCache := cache.New(cache.Options{
		TTL:        30 * 24 * time.Hour,
		MaxEntries: 50_000,
	}, cache.MetricsHooks{})
	provider := translate.NewOpenAIProvider("openai", cfg.TranslateEndpoint, cfg.TranslateAPIKey, cfg.TranslateModel, 30*time.Second)
	facade := translate.New([]translate.ProviderConfig{
		{Provider: provider, RequestsPerHour: cfg.TranslateRPH},
	}, translateCache, logger)

	extractor := media.New(store, media.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
	}, logger)
	transcriber := transcribe.New(transcribe.Config{
		Endpoint: cfg.TranscribeEndpoint,
		APIKey:   cfg.TranscribeAPIKey,
	}, logger)
	emitter := subtitles.New(subtitles.DefaultConfig())
	uploader := media.NewUploader(store)

	driver := pipeline.New(jobs, ledger, extractor, transcriber, facade, emitter, uploader, logger)
	sched := scheduler.New(q, driver, redisClient, scheduler.DefaultClassCaps(), cfg.Workers, logger)
	cln := cleaner.New(store, jobs, logger)

	ingressCfg := ingress.DefaultConfig()
	ingressCfg.AuthSecret = []byte(cfg.JWTSecret)
	ingressCfg.FreeMinutesLimit = cfg.FreeMinutesLimit
	ingressCfg.MaxUploadBytes = cfg.MaxUploadBytes

	srv := &ingress.Server{
		Cfg:       ingressCfg,
		Tenants:   tenants,
		Jobs:      jobs,
		Ledger:    ledger,
		Queue:     q,
		Scheduler: sched,
		Limiter:   limiter,
		Store:     store,
		Logger:    logger,
	}

	info := version.GetInfo()
	health := monitoring.NewHealthChecker("subcaptiond", info.Version)
	health.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	health.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	metrics := monitoring.NewMetricsCollector("subcaptiond", info.Version, version.GetShortCommit())

	return &deps{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		tenants:   tenants,
		jobs:      jobs,
		ledger:    ledger,
		queue:     q,
		limiter:   limiter,
		store:     store,
		driver:    driver,
		scheduler: sched,
		cleaner:   cln,
		ingress:   srv,
		health:    health,
		metrics:   metrics,
	}, nil
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}
