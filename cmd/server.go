// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Ayazzbek/kaspi--lab-project1/pkg/api"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/cache"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/debug"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/env"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/events"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/logger"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/taskqueue/handlers"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/types"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/upload/reclaim"
	"github.com/Ayazzbek/kaspi--lab-project1/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ServerOpts struct {
	IP        string
	HTTPPort  int
	DebugPort int

	DB          DBOpts
	Storage     StorageOpts
	AutoMigrate bool
	MaxAttempts int

	MaxFileSize         int64
	AllowedContentTypes []string
	UploadWorkers       int
	FileCacheSize       int
	FileCacheTTL        time.Duration

	JWTSecret string

	// Rate limiting
	RateLimitEnabled      bool
	RateLimitRPS          float64
	RateLimitBurst        int
	RateLimitRedisEnabled bool
	RateLimitRedis        api.RedisRateLimitConfig

	// Reclaimer
	ReclaimEnabled     bool
	StalledThreshold   time.Duration
	StalledInterval    time.Duration
	Retention          time.Duration
	RetentionInterval  time.Duration
	ReclaimBatchSize   int
	ReclaimConcurrency int

	// Task worker
	TaskConcurrency   int
	TaskPollInterval  time.Duration
	TaskRetention     time.Duration
	TaskCleanupPeriod time.Duration

	Events events.Config

	ShutdownTimeout time.Duration
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the upload API server",
	Long: `Start the uploader API server, which runs:
- the REST upload API under /api/v1/files
- the async upload worker pool
- the stalled-request reclaimer and retention sweeps
- the task worker for orphan cleanup and event delivery
- the debug server with /metrics, /health, /ready and pprof`,
	Run: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.String("ip", "0.0.0.0", "IP address to bind to")
	f.Int("http_port", 8080, "HTTP port for the upload API")
	f.Int("debug_port", 8085, "Debug HTTP port (metrics, health, pprof)")
	addDBFlags(f)
	addStorageFlags(f)
	f.Bool("auto_migrate", true, "Apply pending schema migrations at startup")

	f.Int64("max_file_size", upload.DefaultMaxFileSize, "Largest accepted upload in bytes")
	f.StringSlice("allowed_content_types", nil, "Accepted media types; empty accepts any")
	f.Int("upload_workers", upload.DefaultWorkers, "Concurrent async uploads")
	f.Int("file_cache_size", 10_000, "File metadata cache entries (0 disables)")
	f.Duration("file_cache_ttl", 10*time.Minute, "File metadata cache TTL")

	f.String("jwt_secret", "", "HS256 secret for bearer authentication; empty disables auth (prefer JWT_SECRET)")

	// Rate limiting
	f.Bool("rate_limit_enabled", true, "Enable per-client request rate limiting")
	f.Float64("rate_limit_rps", 20, "Requests per second allowed per client")
	f.Int("rate_limit_burst", 40, "Burst allowed per client")
	f.Bool("rate_limit_redis_enabled", false, "Share rate limits across replicas via Redis")
	f.String("rate_limit_redis_addr", "localhost:6379", "Redis address for distributed rate limiting")
	f.String("rate_limit_redis_password", "", "Redis password")
	f.Int("rate_limit_redis_db", 0, "Redis database number")
	f.Int("rate_limit_redis_pool_size", 10, "Redis connection pool size")
	f.Bool("rate_limit_redis_fail_open", true, "Allow requests when Redis is unavailable")

	// Reclaimer
	f.Bool("reclaim_enabled", true, "Run the stalled-request and retention sweeps")
	f.Duration("stalled_threshold", reclaim.DefaultStalledThreshold, "PROCESSING requests idle longer than this are reclaimed")
	f.Duration("stalled_interval", reclaim.DefaultStalledInterval, "How often the stalled sweep runs")
	f.Duration("retention", reclaim.DefaultRetention, "How long terminal requests are kept")
	f.Duration("retention_interval", reclaim.DefaultRetentionInterval, "How often the retention sweep runs")
	f.Int("reclaim_batch_size", reclaim.DefaultBatchSize, "Requests loaded per sweep batch")
	f.Int("reclaim_concurrency", reclaim.DefaultConcurrency, "Requests reclaimed in parallel")

	// Task worker
	f.Int("task_concurrency", taskqueue.DefaultConcurrency, "Concurrent background tasks")
	f.Duration("task_poll_interval", taskqueue.DefaultPollInterval, "Task queue poll interval")
	f.Duration("task_retention", 7*24*time.Hour, "How long finished tasks are kept")
	f.Duration("task_cleanup_interval", time.Hour, "How often finished tasks are purged")

	// Events
	f.Bool("events_enabled", false, "Publish upload lifecycle events")
	f.StringSlice("events_types", nil, "Event name filters, e.g. upload.*; empty publishes all")
	f.Bool("events_kafka_enabled", false, "Publish events to Kafka")
	f.StringSlice("events_kafka_brokers", []string{"localhost:9092"}, "Kafka brokers")
	f.String("events_kafka_topic", "upload-events", "Kafka topic")
	f.String("events_kafka_sasl_mechanism", "", "Kafka SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	f.String("events_kafka_sasl_username", "", "Kafka SASL username")
	f.String("events_kafka_sasl_password", "", "Kafka SASL password")
	f.Bool("events_kafka_tls", false, "Connect to Kafka over TLS")
	f.Bool("events_redis_enabled", false, "Publish events to Redis pub/sub")
	f.String("events_redis_addr", "localhost:6379", "Redis address for events")
	f.String("events_redis_password", "", "Redis password for events")
	f.String("events_redis_channel", "uploads:events", "Redis channel prefix")

	f.Duration("shutdown_timeout", 30*time.Second, "Grace period for in-flight requests and uploads")

	viper.BindPFlags(f)
}

func loadServerOpts(cmd *cobra.Command) ServerOpts {
	fl := NewFlagLoader(cmd)

	redisCfg := api.DefaultRedisRateLimitConfig()
	redisCfg.Enabled = fl.Bool("rate_limit_redis_enabled")
	redisCfg.Addr = fl.String("rate_limit_redis_addr")
	redisCfg.Password = fl.String("rate_limit_redis_password")
	redisCfg.DB = fl.Int("rate_limit_redis_db")
	redisCfg.PoolSize = fl.Int("rate_limit_redis_pool_size")
	redisCfg.FailOpen = fl.Bool("rate_limit_redis_fail_open")

	ev := events.DefaultConfig()
	ev.Enabled = fl.Bool("events_enabled")
	ev.EventTypes = fl.StringSlice("events_types")
	ev.Kafka.Enabled = fl.Bool("events_kafka_enabled")
	ev.Kafka.Brokers = fl.StringSlice("events_kafka_brokers")
	ev.Kafka.Topic = fl.String("events_kafka_topic")
	ev.Kafka.SASLMechanism = fl.String("events_kafka_sasl_mechanism")
	ev.Kafka.SASLUsername = fl.String("events_kafka_sasl_username")
	ev.Kafka.SASLPassword = fl.String("events_kafka_sasl_password")
	ev.Kafka.TLS = fl.Bool("events_kafka_tls")
	ev.Redis.Enabled = fl.Bool("events_redis_enabled")
	ev.Redis.Addr = fl.String("events_redis_addr")
	ev.Redis.Password = fl.String("events_redis_password")
	ev.Redis.Channel = fl.String("events_redis_channel")
	ev.Validate()

	return ServerOpts{
		IP:        fl.String("ip"),
		HTTPPort:  fl.Int("http_port"),
		DebugPort: fl.Int("debug_port"),

		DB:          loadDBOpts(fl),
		Storage:     loadStorageOpts(fl),
		AutoMigrate: fl.Bool("auto_migrate"),
		MaxAttempts: fl.Int("max_attempts"),

		MaxFileSize:         fl.Int64("max_file_size"),
		AllowedContentTypes: fl.StringSlice("allowed_content_types"),
		UploadWorkers:       fl.Int("upload_workers"),
		FileCacheSize:       fl.Int("file_cache_size"),
		FileCacheTTL:        fl.Duration("file_cache_ttl"),

		JWTSecret: fl.String("jwt_secret"),

		RateLimitEnabled:      fl.Bool("rate_limit_enabled"),
		RateLimitRPS:          fl.Float64("rate_limit_rps"),
		RateLimitBurst:        fl.Int("rate_limit_burst"),
		RateLimitRedisEnabled: redisCfg.Enabled,
		RateLimitRedis:        redisCfg,

		ReclaimEnabled:     fl.Bool("reclaim_enabled"),
		StalledThreshold:   fl.Duration("stalled_threshold"),
		StalledInterval:    fl.Duration("stalled_interval"),
		Retention:          fl.Duration("retention"),
		RetentionInterval:  fl.Duration("retention_interval"),
		ReclaimBatchSize:   fl.Int("reclaim_batch_size"),
		ReclaimConcurrency: fl.Int("reclaim_concurrency"),

		TaskConcurrency:   fl.Int("task_concurrency"),
		TaskPollInterval:  fl.Duration("task_poll_interval"),
		TaskRetention:     fl.Duration("task_retention"),
		TaskCleanupPeriod: fl.Duration("task_cleanup_interval"),

		Events: ev,

		ShutdownTimeout: fl.Duration("shutdown_timeout"),
	}
}

func runServer(cmd *cobra.Command, args []string) {
	opts := loadServerOpts(cmd)
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	debug.SetNotReady()
	debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort)

	mdb, err := openDB(opts.DB)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", opts.DB.Driver).Msg("failed to open metadata database")
	}
	defer mdb.Close()

	if opts.AutoMigrate {
		if err := mdb.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}
	debug.AddReadyCheck("database", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return mdb.Ping(pingCtx)
	})

	store, err := openObjectStore(ctx, opts.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("bucket", opts.Storage.Bucket).Msg("object store is not usable")
	}
	defer store.Close()

	queue, err := mdb.newQueue()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create task queue")
	}
	defer queue.Close()

	// Events are queued by the emitter and delivered by the task worker.
	var eventHandler *events.Handler
	emitter := events.NoopEmitter()
	if opts.Events.Enabled && opts.Events.HasPublishers() {
		publishers, err := events.NewPublishers(opts.Events)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create event publishers")
		}
		eventHandler = events.NewHandler(publishers, opts.Events.EventTypes, "uploader")
		emitter = events.NewEmitter(events.EmitterConfig{
			Queue:      queue,
			Enabled:    true,
			MaxRetries: opts.Events.MaxRetries,
		})
	} else if opts.Events.Enabled {
		logger.Warn().Msg("events enabled but no publisher configured; events are dropped")
	}

	hostname, _ := os.Hostname()
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           hostname,
		Queue:        queue,
		PollInterval: opts.TaskPollInterval,
		Concurrency:  opts.TaskConcurrency,
	})
	worker.RegisterHandler(handlers.NewObjectCleanupHandler(store))
	if eventHandler != nil {
		worker.RegisterHandler(eventHandler)
	}
	worker.Start(ctx)
	go purgeFinishedTasks(ctx, queue, opts.TaskRetention, opts.TaskCleanupPeriod)

	coord, err := newCoordinator(mdb, opts.MaxAttempts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create idempotency coordinator")
	}

	var fileCache *upload.FileCache
	if opts.FileCacheSize > 0 {
		fileCache = cache.New(
			cache.WithMaxSize[string, *types.FileMetadata](opts.FileCacheSize),
			cache.WithExpiry[string, *types.FileMetadata](opts.FileCacheTTL),
		)
		defer fileCache.Stop()
	}

	svc, err := upload.NewService(upload.Config{
		Coordinator:         coord,
		Files:               mdb,
		ObjectStore:         store,
		Bucket:              opts.Storage.Bucket,
		MaxFileSize:         opts.MaxFileSize,
		AllowedContentTypes: opts.AllowedContentTypes,
		Workers:             opts.UploadWorkers,
		TaskQueue:           queue,
		Emitter:             emitter,
		FileCache:           fileCache,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create upload service")
	}

	reclaimer, err := reclaim.New(reclaim.Config{
		Coordinator:       coord,
		Requests:          mdb,
		Files:             mdb,
		Emitter:           emitter,
		Enabled:           opts.ReclaimEnabled,
		StalledThreshold:  opts.StalledThreshold,
		StalledInterval:   opts.StalledInterval,
		Retention:         opts.Retention,
		RetentionInterval: opts.RetentionInterval,
		BatchSize:         opts.ReclaimBatchSize,
		Concurrency:       opts.ReclaimConcurrency,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create reclaimer")
	}
	reclaimer.Start(ctx)

	var redisLimiter *api.RedisRateLimiter
	if opts.RateLimitEnabled && opts.RateLimitRedisEnabled {
		redisLimiter, err = api.NewRedisRateLimiter(ctx, opts.RateLimitRedis)
		if err != nil {
			if !opts.RateLimitRedis.FailOpen {
				logger.Fatal().Err(err).Msg("failed to connect to rate limit redis")
			}
			logger.Warn().Err(err).Msg("rate limit redis unavailable, using local limits")
		} else {
			defer redisLimiter.Close()
			debug.AddReadyCheck("ratelimit_redis", func() error {
				pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				return redisLimiter.Ping(pingCtx)
			})
		}
	}

	if opts.JWTSecret == "" && env.IsProduction() {
		logger.Warn().Msg("jwt_secret is empty: API authentication is disabled in production")
	}

	apiServer, err := api.NewServer(api.Config{
		Service:          svc,
		MaxUploadBytes:   opts.MaxFileSize,
		JWTSecret:        []byte(opts.JWTSecret),
		RateLimitEnabled: opts.RateLimitEnabled,
		RateLimit: api.RateLimitConfig{
			RPS:   opts.RateLimitRPS,
			Burst: opts.RateLimitBurst,
		},
		RedisLimiter: redisLimiter,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create API server")
	}
	httpServer := startHTTPServer(apiServer, opts.IP, opts.HTTPPort)

	logger.Info().
		Str("db_driver", opts.DB.Driver).
		Str("storage", opts.Storage.Type).
		Str("bucket", opts.Storage.Bucket).
		Str("max_file_size", humanize.IBytes(uint64(opts.MaxFileSize))).
		Int("upload_workers", opts.UploadWorkers).
		Bool("auth", opts.JWTSecret != "").
		Bool("reclaim", opts.ReclaimEnabled).
		Bool("events", emitter.IsEnabled()).
		Msg("uploader started")

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("in-flight uploads did not finish before the deadline")
	}
	reclaimer.Stop()
	cancel()
	worker.Stop()
	if eventHandler != nil {
		if err := eventHandler.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing event publishers")
		}
	}
	if err := debugServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn().Err(err).Msg("debug server shutdown")
	}
	logger.Info().Msg("uploader stopped")
}

// purgeFinishedTasks drops completed tasks older than retention until ctx ends.
func purgeFinishedTasks(ctx context.Context, queue taskqueue.Queue, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	for {
		timer := utils.NextTick(interval, 0.1)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		n, err := queue.Cleanup(ctx, retention)
		if err != nil {
			logger.Warn().Err(err).Msg("task cleanup failed")
			continue
		}
		if n > 0 {
			logger.Info().Int("removed", n).Msg("purged finished tasks")
		}
	}
}
