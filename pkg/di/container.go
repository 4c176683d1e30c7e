package di

import (
	"context"
	"time"

	"gorm.io/gorm"

	"retreat-photos/application/serviceimpl"
	"retreat-photos/domain/models"
	"retreat-photos/domain/repositories"
	"retreat-photos/domain/services"
	"retreat-photos/infrastructure/postgres"
	"retreat-photos/infrastructure/recognition"
	"retreat-photos/infrastructure/redis"
	"retreat-photos/infrastructure/storage"
	"retreat-photos/infrastructure/telegram"
	"retreat-photos/infrastructure/websocket"
	"retreat-photos/infrastructure/worker"
	"retreat-photos/interfaces/api/handlers"
	"retreat-photos/pkg/config"
	"retreat-photos/pkg/logger"
	"retreat-photos/pkg/retry"
	"retreat-photos/pkg/scheduler"
)

const (
	digestJobID = "daily-digest"
	sweepJobID  = "stuck-sweeper"
)

type Container struct {
	// Configuration
	Config *config.Config

	// Infrastructure
	DB             *gorm.DB
	RedisClient    *redis.RedisClient
	Storage        *storage.MinioStorage
	Fetcher        *storage.HTTPFetcher
	Recognition    *recognition.Client
	Bot            *telegram.BotClient
	Hub            *websocket.Hub
	EventScheduler scheduler.EventScheduler

	// Repositories
	ImageRepository       repositories.ImageRepository
	FaceRepository        repositories.FaceRepository
	FaceTagRepository     repositories.FaceTagRepository
	PersonRepository      repositories.PersonRepository
	EventRepository       repositories.EventRepository
	LinkTokenRepository   repositories.LinkTokenRepository
	LedgerRepository      repositories.NotificationLedgerRepository
	PollSessionRepository repositories.PollSessionRepository

	// Services
	CollectionService   services.CollectionService
	NotificationService services.NotificationService
	CompletionWatcher   services.CompletionWatcher
	IndexService        services.IndexService
	ProgressService     services.ProgressService
	MatchService        services.MatchService
	DeletionService     services.DeletionService
	WebhookService      services.WebhookService
	DigestService       services.DigestService

	// Workers
	IndexWorker *worker.IndexWorker
}

func NewContainer() *Container {
	return &Container{}
}

func (c *Container) Initialize() error {
	if err := c.initConfig(); err != nil {
		return err
	}

	if err := c.initInfrastructure(); err != nil {
		return err
	}

	if err := c.initRepositories(); err != nil {
		return err
	}

	if err := c.initServices(); err != nil {
		return err
	}

	if err := c.initWorkers(); err != nil {
		return err
	}

	if err := c.initScheduler(); err != nil {
		return err
	}

	return nil
}

func (c *Container) initConfig() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	c.Config = cfg

	if err := logger.Init(cfg.Log.Dir, cfg.Log.Console); err != nil {
		return err
	}
	logger.Startup("config_loaded", "Configuration loaded", map[string]interface{}{"env": cfg.App.Env})
	return nil
}

// retryPolicy is shared by every outbound client; each call gets fresh backoff state.
func (c *Container) retryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxAttempts = c.Config.Pipeline.RetryMaxAttempts
	p.BaseDelay = c.Config.Pipeline.RetryBaseDelay
	p.MaxDelay = c.Config.Pipeline.RetryMaxDelay
	return p
}

func (c *Container) initInfrastructure() error {
	ctx := context.Background()
	policy := c.retryPolicy()

	// Initialize Database
	dbConfig := postgres.DatabaseConfig{
		Host:     c.Config.Database.Host,
		Port:     c.Config.Database.Port,
		User:     c.Config.Database.User,
		Password: c.Config.Database.Password,
		DBName:   c.Config.Database.DBName,
		SSLMode:  c.Config.Database.SSLMode,
	}

	db, err := postgres.NewDatabase(dbConfig)
	if err != nil {
		return err
	}
	c.DB = db
	logger.Startup("db_connected", "Database connected", nil)

	// Run migrations
	if err := postgres.Migrate(db); err != nil {
		return err
	}
	logger.Startup("db_migrated", "Database migrated", nil)

	// Initialize Redis
	redisConfig := redis.RedisConfig{
		Host:     c.Config.Redis.Host,
		Port:     c.Config.Redis.Port,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	}
	c.RedisClient = redis.NewRedisClient(redisConfig)

	// Poll sessions live in Redis; without it polling still works but every tick starts fresh
	if err := c.RedisClient.Ping(ctx); err != nil {
		logger.StartupWarn("redis_connection_failed", "Redis connection failed", map[string]interface{}{"error": err.Error()})
	} else {
		logger.Startup("redis_connected", "Redis connected", nil)
	}

	// Initialize blob storage
	minioStorage, err := storage.NewMinioStorage(ctx, storage.MinioConfig{
		Endpoint:      c.Config.Storage.Endpoint,
		AccessKey:     c.Config.Storage.AccessKey,
		SecretKey:     c.Config.Storage.SecretKey,
		Bucket:        c.Config.Storage.Bucket,
		UseSSL:        c.Config.Storage.UseSSL,
		PublicBaseURL: c.Config.Storage.PublicBaseURL,
		Policy:        policy,
	})
	if err != nil {
		return err
	}
	c.Storage = minioStorage
	c.Fetcher = storage.NewHTTPFetcher(c.Config.Storage.FetchTimeout, policy)
	logger.Startup("storage_initialized", "Blob storage initialized", map[string]interface{}{"bucket": c.Config.Storage.Bucket})

	// Initialize recognition provider
	c.Recognition = recognition.NewClient(recognition.Config{
		BaseURL:       c.Config.Recognition.BaseURL,
		APIKey:        c.Config.Recognition.APIKey,
		Timeout:       c.Config.Recognition.Timeout,
		MaxImageBytes: c.Config.Recognition.MaxImageBytes,
		Policy:        policy,
	})
	if !c.Recognition.IsAvailable(ctx) {
		logger.StartupWarn("recognition_unavailable", "Recognition provider is not reachable yet", map[string]interface{}{"url": c.Config.Recognition.BaseURL})
	} else {
		logger.Startup("recognition_connected", "Recognition provider connected", nil)
	}

	// Initialize Telegram bot
	c.Bot = telegram.NewBotClient(telegram.Config{
		BotToken: c.Config.Telegram.BotToken,
		BaseURL:  c.Config.Telegram.BaseURL,
		Timeout:  c.Config.Telegram.Timeout,
		Policy:   policy,
	})
	if c.Config.Telegram.BotToken == "" {
		logger.StartupWarn("telegram_not_configured", "Telegram bot token not configured, notifications will fail", nil)
	} else if c.Config.Telegram.BotUsername == "" {
		if username, err := c.Bot.GetMe(ctx); err != nil {
			logger.StartupWarn("telegram_getme_failed", "Could not resolve bot username, deep links disabled", map[string]interface{}{"error": err.Error()})
		} else {
			c.Config.Telegram.BotUsername = username
			logger.Startup("telegram_connected", "Telegram bot connected", map[string]interface{}{"username": username})
		}
	}

	c.Hub = websocket.Manager

	return nil
}

func (c *Container) initRepositories() error {
	c.ImageRepository = postgres.NewImageRepository(c.DB)
	c.FaceRepository = postgres.NewFaceRepository(c.DB)
	c.FaceTagRepository = postgres.NewFaceTagRepository(c.DB)
	c.PersonRepository = postgres.NewPersonRepository(c.DB)
	c.EventRepository = postgres.NewEventRepository(c.DB)
	c.LinkTokenRepository = postgres.NewLinkTokenRepository(c.DB)
	c.LedgerRepository = postgres.NewNotificationLedgerRepository(c.DB)
	c.PollSessionRepository = redis.NewPollSessionStore(c.RedisClient, c.Config.Pipeline.PollSessionTTL)
	logger.Startup("repositories_initialized", "Repositories initialized", nil)
	return nil
}

func (c *Container) pollPolicy() models.PollPolicy {
	return models.PollPolicy{
		StuckAfter:           c.Config.Pipeline.StuckThreshold,
		MaxConsecutiveErrors: c.Config.Pipeline.MaxConsecutiveErrors,
	}
}

func (c *Container) initServices() error {
	p := c.Config.Pipeline

	c.NotificationService = serviceimpl.NewNotificationService(c.PersonRepository, c.Bot, serviceimpl.NotificationConfig{
		BatchSize:  p.BroadcastBatchSize,
		BatchDelay: p.BroadcastBatchDelay,
	})
	c.CompletionWatcher = serviceimpl.NewCompletionWatcher(
		c.ImageRepository,
		c.EventRepository,
		c.LedgerRepository,
		c.NotificationService,
		p.CompletionMessageTmpl,
	)
	c.CollectionService = serviceimpl.NewCollectionService(c.Recognition, c.Config.Recognition.CollectionPrefix)

	c.IndexService = serviceimpl.NewIndexService(
		c.ImageRepository,
		c.FaceRepository,
		c.EventRepository,
		c.CollectionService,
		c.Recognition,
		c.Storage,
		c.Fetcher,
		storage.NewThumbnailer(480, 480),
		c.CompletionWatcher,
		c.Hub,
		serviceimpl.IndexConfig{
			DefaultBatchLimit: p.BatchLimit,
			MaxFaces:          c.Config.Recognition.MaxFaces,
			StuckThreshold:    p.StuckThreshold,
		},
	)
	c.ProgressService = serviceimpl.NewProgressService(c.ImageRepository, c.PollSessionRepository, c.IndexService, c.pollPolicy())

	c.MatchService = serviceimpl.NewMatchService(
		c.PersonRepository,
		c.FaceRepository,
		c.FaceTagRepository,
		c.CollectionService,
		c.Recognition,
		c.Storage,
		c.Fetcher,
		c.NotificationService,
		serviceimpl.MatchConfig{
			DefaultThreshold:  p.SearchThreshold,
			DefaultMaxResults: p.SearchMaxResults,
		},
	)
	c.DeletionService = serviceimpl.NewDeletionService(
		c.ImageRepository,
		c.FaceRepository,
		c.CollectionService,
		c.Recognition,
		c.Storage,
		c.Hub,
		c.Config.Recognition.DeleteBatchSize,
	)

	c.WebhookService = serviceimpl.NewWebhookService(c.PersonRepository, c.LinkTokenRepository, c.Bot)
	c.DigestService = serviceimpl.NewDigestService(
		c.FaceTagRepository,
		c.PersonRepository,
		c.LedgerRepository,
		c.NotificationService,
		c.Config.Digest.Location(),
	)

	logger.Startup("services_initialized", "Services initialized", nil)
	return nil
}

func (c *Container) initScheduler() error {
	c.EventScheduler = scheduler.NewEventScheduler(c.Config.Digest.Location())

	if c.Config.Digest.Enabled {
		err := c.EventScheduler.AddJob(digestJobID, c.Config.Digest.Cron, c.runDigest)
		if err != nil {
			return err
		}
		logger.Startup("digest_scheduled", "Daily digest scheduled", map[string]interface{}{
			"cron":      c.Config.Digest.Cron,
			"tz_offset": c.Config.Digest.TZOffsetHours,
		})
	}

	if c.Config.Pipeline.SweepInterval > 0 {
		if err := c.EventScheduler.AddIntervalJob(sweepJobID, c.Config.Pipeline.SweepInterval, c.IndexWorker.SweepStuck); err != nil {
			return err
		}
	}

	c.EventScheduler.Start()
	logger.Startup("scheduler_started", "Event scheduler started", nil)
	return nil
}

func (c *Container) runDigest() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	result, err := c.DigestService.SendDailyDigest(ctx, time.Now())
	if err != nil {
		logger.SchedulerError("digest_failed", "Daily digest failed", err, nil)
		return
	}
	logger.Scheduler("digest_done", "Daily digest finished", map[string]interface{}{
		"total":   result.Total,
		"sent":    result.Sent,
		"failed":  result.Failed,
		"blocked": result.Blocked,
	})
}

// initWorkers always builds the index worker since the stuck sweeper runs
// through it; the polling loop only starts when auto indexing is on.
func (c *Container) initWorkers() error {
	c.IndexWorker = worker.NewIndexWorker(c.ImageRepository, c.IndexService, worker.IndexWorkerConfig{
		PollInterval:  c.Config.Pipeline.PollInterval,
		BatchLimit:    c.Config.Pipeline.BatchLimit,
		MaxEvents:     c.Config.Pipeline.WorkerMaxEvents,
		AlertCooldown: c.Config.Pipeline.AlertCooldown,
		SweepTimeout:  time.Minute,
		Policy:        c.pollPolicy(),
	})

	if !c.Config.Pipeline.AutoIndexEnabled || !c.Config.Recognition.Enabled {
		logger.Startup("index_worker_disabled", "Auto indexing is disabled, batches only run when triggered", nil)
		return nil
	}
	c.IndexWorker.Start()
	return nil
}

func (c *Container) Cleanup() error {
	logger.Startup("cleanup_started", "Starting cleanup...", nil)

	// Stop index worker
	if c.IndexWorker != nil && c.IndexWorker.IsRunning() {
		c.IndexWorker.Stop()
	}

	// Stop scheduler
	if c.EventScheduler != nil {
		if c.EventScheduler.IsRunning() {
			c.EventScheduler.Stop()
			logger.Startup("scheduler_stopped", "Event scheduler stopped", nil)
		} else {
			logger.Startup("scheduler_already_stopped", "Event scheduler was already stopped", nil)
		}
	}

	// Let fire-and-forget match notifications finish
	if c.NotificationService != nil {
		c.NotificationService.Wait()
	}

	// Close Redis connection
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			logger.StartupWarn("redis_close_failed", "Failed to close Redis connection", map[string]interface{}{"error": err.Error()})
		} else {
			logger.Startup("redis_closed", "Redis connection closed", nil)
		}
	}

	// Close database connection
	if c.DB != nil {
		sqlDB, err := c.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.StartupWarn("db_close_failed", "Failed to close database connection", map[string]interface{}{"error": err.Error()})
			} else {
				logger.Startup("db_closed", "Database connection closed", nil)
			}
		}
	}

	logger.Startup("cleanup_completed", "Cleanup completed", nil)
	logger.Default().Close()
	return nil
}

func (c *Container) GetConfig() *config.Config {
	return c.Config
}

func (c *Container) GetHandlerServices() *handlers.Services {
	return &handlers.Services{
		IndexService:        c.IndexService,
		ProgressService:     c.ProgressService,
		MatchService:        c.MatchService,
		DeletionService:     c.DeletionService,
		NotificationService: c.NotificationService,
		WebhookService:      c.WebhookService,
		DigestService:       c.DigestService,
		PublicURL:           c.Storage.PublicURL,
	}
}

// GetHealthHandler wires every dependency the detailed health check probes.
func (c *Container) GetHealthHandler() *handlers.HealthHandler {
	components := map[string]handlers.Pinger{
		"redis":       c.RedisClient,
		"storage":     c.Storage,
		"recognition": handlers.PingFunc(c.Recognition.Health),
		"telegram":    nil,
	}
	if c.Config.Telegram.BotToken != "" {
		components["telegram"] = handlers.PingFunc(func(ctx context.Context) error {
			_, err := c.Bot.GetMe(ctx)
			return err
		})
	}
	return handlers.NewHealthHandler(c.DB, components, c.ImageRepository, c.Config.Pipeline.StuckThreshold)
}
