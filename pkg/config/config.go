package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Admin       AdminConfig
	Storage     StorageConfig
	Recognition RecognitionConfig
	Telegram    TelegramConfig
	Pipeline    PipelineConfig
	Digest      DigestConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
}

type AdminConfig struct {
	Token string // Separate admin token for log access (falls back to JWT secret if not set)
}

type AppConfig struct {
	Name        string
	Port        string
	Env         string
	BodyLimitMB int
	CORSOrigins string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

// StorageConfig points at the S3-compatible bucket holding originals and thumbnails.
type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string // e.g. https://cdn.example.com/photos
	FetchTimeout  time.Duration
}

type RecognitionConfig struct {
	BaseURL          string
	APIKey           string
	Timeout          time.Duration
	CollectionPrefix string
	MaxImageBytes    int64
	MaxFaces         int
	DeleteBatchSize  int
	Enabled          bool
}

type TelegramConfig struct {
	BotToken      string
	BaseURL       string
	BotUsername   string // used for t.me deep links; resolved with getMe when empty
	WebhookSecret string // compared with X-Telegram-Bot-Api-Secret-Token
	Timeout       time.Duration
}

// PipelineConfig tunes the indexing worker, the poller and the broadcast engine.
type PipelineConfig struct {
	BatchLimit            int
	PollInterval          time.Duration
	StuckThreshold        time.Duration
	SweepInterval         time.Duration
	WorkerMaxEvents       int
	AlertCooldown         time.Duration
	MaxConsecutiveErrors  int
	AutoIndexEnabled      bool
	BroadcastBatchSize    int
	BroadcastBatchDelay   time.Duration
	RetryMaxAttempts      int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
	PollSessionTTL        time.Duration
	SearchThreshold       float64
	SearchMaxResults      int
	CompletionMessageTmpl string
}

type DigestConfig struct {
	Enabled       bool
	Cron          string
	TZOffsetHours int
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequests          int
	WindowSeconds        int
	WebhookMaxRequests   int
	WebhookWindowSeconds int
}

type LogConfig struct {
	Dir     string
	Console bool
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists (optional for production)
	_ = godotenv.Load()

	config := &Config{
		App: AppConfig{
			Name:        getEnv("APP_NAME", "Retreat Photos"),
			Port:        getEnv("APP_PORT", "3000"),
			Env:         getEnv("APP_ENV", "development"),
			BodyLimitMB: getEnvInt("APP_BODY_LIMIT_MB", 20),
			CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "retreat_photos"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key"),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
		Storage: StorageConfig{
			Endpoint:      getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretKey:     getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			Bucket:        getEnv("STORAGE_BUCKET", "event-photos"),
			UseSSL:        getEnvBool("STORAGE_USE_SSL", false),
			PublicBaseURL: getEnv("STORAGE_PUBLIC_URL", "http://localhost:9000/event-photos"),
			FetchTimeout:  getEnvDuration("STORAGE_FETCH_TIMEOUT", 20*time.Second),
		},
		Recognition: RecognitionConfig{
			BaseURL:          getEnv("RECOGNITION_URL", "http://localhost:5000"),
			APIKey:           getEnv("RECOGNITION_API_KEY", ""),
			Timeout:          getEnvDuration("RECOGNITION_TIMEOUT", 30*time.Second),
			CollectionPrefix: getEnv("RECOGNITION_COLLECTION_PREFIX", "event-"),
			MaxImageBytes:    int64(getEnvInt("RECOGNITION_MAX_IMAGE_BYTES", 15*1024*1024)),
			MaxFaces:         getEnvInt("RECOGNITION_MAX_FACES", 15),
			DeleteBatchSize:  getEnvInt("RECOGNITION_DELETE_BATCH_SIZE", 4096),
			Enabled:          getEnvBool("RECOGNITION_ENABLED", true),
		},
		Telegram: TelegramConfig{
			BotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
			BotUsername:   getEnv("TELEGRAM_BOT_USERNAME", ""),
			BaseURL:       getEnv("TELEGRAM_API_URL", "https://api.telegram.org"),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			Timeout:       getEnvDuration("TELEGRAM_TIMEOUT", 30*time.Second),
		},
		Pipeline: PipelineConfig{
			BatchLimit:            getEnvInt("PIPELINE_BATCH_LIMIT", 10),
			PollInterval:          getEnvDuration("PIPELINE_POLL_INTERVAL", 5*time.Second),
			StuckThreshold:        getEnvDuration("PIPELINE_STUCK_THRESHOLD", 5*time.Minute),
			SweepInterval:         getEnvDuration("PIPELINE_SWEEP_INTERVAL", time.Minute),
			WorkerMaxEvents:       getEnvInt("PIPELINE_WORKER_MAX_EVENTS", 20),
			AlertCooldown:         getEnvDuration("PIPELINE_ALERT_COOLDOWN", 5*time.Minute),
			MaxConsecutiveErrors:  getEnvInt("PIPELINE_MAX_CONSECUTIVE_ERRORS", 10),
			AutoIndexEnabled:      getEnvBool("PIPELINE_AUTO_INDEX", true),
			BroadcastBatchSize:    getEnvInt("BROADCAST_BATCH_SIZE", 25),
			BroadcastBatchDelay:   getEnvDuration("BROADCAST_BATCH_DELAY", time.Second),
			RetryMaxAttempts:      getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:        getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
			RetryMaxDelay:         getEnvDuration("RETRY_MAX_DELAY", 10*time.Second),
			PollSessionTTL:        getEnvDuration("POLL_SESSION_TTL", 30*time.Minute),
			SearchThreshold:       getEnvFloat("SEARCH_THRESHOLD", 80),
			SearchMaxResults:      getEnvInt("SEARCH_MAX_RESULTS", 100),
			CompletionMessageTmpl: getEnv("COMPLETION_MESSAGE", "📸 %d new photos from %s are ready. Open the gallery to find yourself!"),
		},
		Digest: DigestConfig{
			Enabled:       getEnvBool("DIGEST_ENABLED", true),
			Cron:          getEnv("DIGEST_CRON", "0 15 * * *"),
			TZOffsetHours: getEnvInt("DIGEST_TZ_OFFSET_HOURS", 5),
		},
		RateLimit: RateLimitConfig{
			Enabled:              getEnvBool("RATE_LIMIT_ENABLED", true),
			MaxRequests:          getEnvInt("RATE_LIMIT_MAX", 120),
			WindowSeconds:        getEnvInt("RATE_LIMIT_WINDOW", 60),
			WebhookMaxRequests:   getEnvInt("RATE_LIMIT_WEBHOOK_MAX", 600),
			WebhookWindowSeconds: getEnvInt("RATE_LIMIT_WEBHOOK_WINDOW", 60),
		},
		Log: LogConfig{
			Dir:     getEnv("LOG_DIR", "logs"),
			Console: getEnvBool("LOG_CONSOLE", true),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// ImageClaimCeiling is the longest one image can hold its claim between
// heartbeats: every fetch and recognition attempt times out and each retry
// waits the capped backoff doubled for jitter.
func (c *Config) ImageClaimCeiling() time.Duration {
	attempts := c.Pipeline.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	perAttempt := c.Storage.FetchTimeout + c.Recognition.Timeout
	return time.Duration(attempts)*perAttempt + time.Duration(attempts-1)*2*c.Pipeline.RetryMaxDelay
}

// Validate rejects a stuck threshold that would let the sweeper reset an
// image a live batch is still working on.
func (c *Config) Validate() error {
	if ceiling := c.ImageClaimCeiling(); c.Pipeline.StuckThreshold <= ceiling {
		return fmt.Errorf("PIPELINE_STUCK_THRESHOLD (%s) must exceed the per-image ceiling of %s "+
			"(fetch + recognition timeout per attempt, %d attempts, retry delays)",
			c.Pipeline.StuckThreshold, ceiling, c.Pipeline.RetryMaxAttempts)
	}
	return nil
}

// AdminToken is the token guarding the log endpoints.
func (c *Config) AdminToken() string {
	if c.Admin.Token != "" {
		return c.Admin.Token
	}
	return c.JWT.Secret
}

// Location is the fixed-offset zone the digest uses for "today".
func (d DigestConfig) Location() *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", d.TZOffsetHours), d.TZOffsetHours*3600)
}

func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
