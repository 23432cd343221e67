package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"killtracker/common/config"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Backoff strategies for message composition retries.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config is the killtracker service configuration.
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig

	Feed struct {
		RedisQURL string        // long-poll endpoint
		QueueID   string        // identifies this consumer to RedisQ
		TTW       int           // seconds RedisQ may hold the request open
		ZkbAPIURL string        // zKillboard API root, used for lookups by id
		Timeout   time.Duration // must exceed TTW
		UserAgent string
	}

	ESI struct {
		BaseURL        string
		Timeout        time.Duration
		HealthCacheTTL time.Duration
	}

	Discord struct {
		SendDelay time.Duration // pause between two messages to the same webhook
		Timeout   time.Duration
		Username  string
		AvatarURL string
	}

	Tracker struct {
		Schedule           string // cron spec for the recurring cycle
		MaxKillmailsPerRun int
		MaxDurationPerRun  time.Duration
		DedupTTL           time.Duration
		Workers            int

		GenerateMessage struct {
			MaxRetries   int
			Backoff      string // fixed | exponential
			RetryDelay   time.Duration
			MaxRetryWait time.Duration
		}
	}

	Storage struct {
		Enabled        bool
		PurgeAfterDays int
		SweepInterval  time.Duration
	}

	Universe struct {
		CatalogFile string
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads the configuration from the environment. A .env file is read
// first when present; variables already set win over it.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnv("KILLTRACKER_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "killtracker")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)
	cfg.Database.ConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.PoolSize = getEnvInt("REDIS_POOL_SIZE", 0)
	cfg.Redis.DialTimeout = getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second)

	cfg.Feed.RedisQURL = getEnv("KILLTRACKER_REDISQ_URL", "https://zkillredisq.stream/listen.php")
	cfg.Feed.QueueID = getEnv("KILLTRACKER_QUEUE_ID", "")
	cfg.Feed.TTW = getEnvInt("KILLTRACKER_REDISQ_TTW", 5)
	cfg.Feed.ZkbAPIURL = getEnv("KILLTRACKER_ZKB_API_URL", "https://zkillboard.com/api")
	cfg.Feed.Timeout = getEnvDuration("KILLTRACKER_FEED_TIMEOUT", 15*time.Second)
	cfg.Feed.UserAgent = getEnv("KILLTRACKER_USER_AGENT", "killtracker")

	cfg.ESI.BaseURL = getEnv("KILLTRACKER_ESI_URL", "https://esi.evetech.net/latest")
	cfg.ESI.Timeout = getEnvDuration("KILLTRACKER_ESI_TIMEOUT", 10*time.Second)
	cfg.ESI.HealthCacheTTL = getEnvDuration("KILLTRACKER_HEALTH_CACHE_TTL", 60*time.Second)

	cfg.Discord.SendDelay = getEnvDuration("KILLTRACKER_DISCORD_SEND_DELAY", 2*time.Second)
	cfg.Discord.Timeout = getEnvDuration("KILLTRACKER_DISCORD_TIMEOUT", 10*time.Second)
	cfg.Discord.Username = getEnv("KILLTRACKER_DISCORD_USERNAME", "Killtracker")
	cfg.Discord.AvatarURL = getEnv("KILLTRACKER_DISCORD_AVATAR_URL", "")

	cfg.Tracker.Schedule = getEnv("KILLTRACKER_CYCLE_SCHEDULE", "@every 1m")
	cfg.Tracker.MaxKillmailsPerRun = getEnvInt("KILLTRACKER_MAX_KILLMAILS_PER_RUN", 200)
	cfg.Tracker.MaxDurationPerRun = getEnvDuration("KILLTRACKER_MAX_DURATION_PER_RUN", 50*time.Second)
	cfg.Tracker.DedupTTL = getEnvDuration("KILLTRACKER_DEDUP_TTL", time.Hour)
	cfg.Tracker.Workers = getEnvInt("KILLTRACKER_WORKERS", 8)
	cfg.Tracker.GenerateMessage.MaxRetries = getEnvInt("KILLTRACKER_GENERATE_MESSAGE_MAX_RETRIES", 3)
	cfg.Tracker.GenerateMessage.Backoff = getEnv("KILLTRACKER_GENERATE_MESSAGE_BACKOFF", BackoffFixed)
	cfg.Tracker.GenerateMessage.RetryDelay = getEnvDuration("KILLTRACKER_GENERATE_MESSAGE_RETRY_DELAY", 10*time.Second)
	cfg.Tracker.GenerateMessage.MaxRetryWait = getEnvDuration("KILLTRACKER_GENERATE_MESSAGE_MAX_RETRY_WAIT", 2*time.Minute)

	cfg.Storage.Enabled = getEnvBool("KILLTRACKER_STORING_KILLMAILS_ENABLED", false)
	cfg.Storage.PurgeAfterDays = getEnvInt("KILLTRACKER_PURGE_KILLMAILS_AFTER_DAYS", 30)
	cfg.Storage.SweepInterval = getEnvDuration("KILLTRACKER_STALE_SWEEP_INTERVAL", 24*time.Hour)

	cfg.Universe.CatalogFile = getEnv("KILLTRACKER_UNIVERSE_FILE", "universe.json")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if _, err := cron.ParseStandard(c.Tracker.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("invalid cycle schedule %q: %w", c.Tracker.Schedule, err))
	}
	if c.Tracker.GenerateMessage.Backoff != BackoffFixed && c.Tracker.GenerateMessage.Backoff != BackoffExponential {
		errs = append(errs, fmt.Errorf("unknown backoff strategy %q", c.Tracker.GenerateMessage.Backoff))
	}
	if c.Tracker.GenerateMessage.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries must not be negative"))
	}
	if c.Tracker.MaxKillmailsPerRun <= 0 {
		errs = append(errs, errors.New("max killmails per run must be positive"))
	}
	if c.Tracker.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}
	if c.Feed.Timeout <= time.Duration(c.Feed.TTW)*time.Second {
		errs = append(errs, errors.New("feed timeout must exceed RedisQ ttw"))
	}
	if c.Storage.Enabled && c.Storage.PurgeAfterDays <= 0 {
		errs = append(errs, errors.New("purge after days must be positive when storing is enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}
