package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"papp/ingestion/internal/errs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	// The Odds API
	OddsAPIKey            string        `envconfig:"ODDS_API_KEY" required:"true"`
	OddsAPIBaseURL        string        `envconfig:"ODDS_API_BASE_URL" default:"https://api.the-odds-api.com/v4"`
	OddsAPITimeout        time.Duration `envconfig:"ODDS_API_TIMEOUT" default:"30s"`
	OddsAPIRegions        string        `envconfig:"ODDS_API_REGIONS" default:"eu"`
	OddsAPIMaxRetries     int           `envconfig:"ODDS_API_MAX_RETRIES" default:"2"`
	OddsAPIMaxConcurrency int           `envconfig:"ODDS_API_MAX_CONCURRENCY" default:"5"`
	OddsAPIScoresDaysFrom int           `envconfig:"ODDS_API_SCORES_DAYS_FROM" default:"3"`

	// Leagues are provider sport keys, e.g. soccer_epl,soccer_spain_la_liga
	Leagues           []string `envconfig:"LEAGUES" default:"soccer_epl"`
	LeagueConcurrency int      `envconfig:"LEAGUE_CONCURRENCY" default:"4"`

	// Snapshot collection
	SnapshotDedupWindow time.Duration `envconfig:"SNAPSHOT_DEDUP_WINDOW" default:"5m"`
	SnapshotStaleGrace  time.Duration `envconfig:"SNAPSHOT_STALE_GRACE" default:"2m"`
	CollectHandicap     bool          `envconfig:"COLLECT_HANDICAP" default:"true"`

	// Sweeps
	DiscoveryCron      string        `envconfig:"DISCOVERY_CRON" default:"0 */2 * * *"`
	BackfillCron       string        `envconfig:"BACKFILL_CRON" default:"0 6,18 * * *"`
	ScoreBackfillGrace time.Duration `envconfig:"SCORE_BACKFILL_GRACE" default:"110m"`

	// Job queue
	QueuePrefix            string        `envconfig:"QUEUE_PREFIX" default:"papp:snapshots"`
	QueuePollInterval      time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	QueueVisibilityTimeout time.Duration `envconfig:"QUEUE_VISIBILITY_TIMEOUT" default:"2m"`
	QueueMaxAttempts       int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"3"`
	QueueRetryDelay        time.Duration `envconfig:"QUEUE_RETRY_DELAY" default:"1m"`
	WorkerConcurrency      int           `envconfig:"WORKER_CONCURRENCY" default:"8"`

	// Database
	DatabaseHost     string `envconfig:"DATABASE_HOST" default:"localhost"`
	DatabasePort     int    `envconfig:"DATABASE_PORT" default:"5432"`
	DatabaseName     string `envconfig:"DATABASE_NAME" default:"papp"`
	DatabaseUser     string `envconfig:"DATABASE_USER" default:"papp_user"`
	DatabasePassword string `envconfig:"DATABASE_PASSWORD" required:"true"`
	DatabaseSSLMode  string `envconfig:"DATABASE_SSL_MODE" default:"disable"`

	// Redis
	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Application
	AppEnv   string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Scheduler
	EnableScheduler  bool `envconfig:"ENABLE_SCHEDULER" default:"true"`
	ReconcileOnStart bool `envconfig:"RECONCILE_ON_START" default:"true"`

	// Monitoring and ops endpoints
	EnableMetrics bool   `envconfig:"ENABLE_METRICS" default:"true"`
	MetricsPort   int    `envconfig:"METRICS_PORT" default:"9090"`
	OpsToken      string `envconfig:"OPS_TOKEN" default:""`

	// Browser origins allowed to call the ops endpoints; empty disables CORS
	OpsAllowedOrigins []string `envconfig:"OPS_ALLOWED_ORIGINS"`
}

// Load loads configuration from environment variables
// It first attempts to load from .env file if in development mode
func Load() (*Config, error) {
	// Try to load .env file (ignore error if doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errs.Config(err, "failed to process environment config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errs.Config(err, "invalid configuration")
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.OddsAPIKey) == "" {
		return fmt.Errorf("ODDS_API_KEY is required")
	}

	if c.DatabasePassword == "" {
		return fmt.Errorf("DATABASE_PASSWORD is required")
	}

	c.Leagues = normalizeLeagues(c.Leagues)
	if len(c.Leagues) == 0 {
		return fmt.Errorf("LEAGUES must name at least one league")
	}

	if c.SnapshotDedupWindow <= 0 {
		return fmt.Errorf("SNAPSHOT_DEDUP_WINDOW must be positive")
	}
	if c.SnapshotStaleGrace < 0 {
		return fmt.Errorf("SNAPSHOT_STALE_GRACE must not be negative")
	}
	if c.ScoreBackfillGrace <= 0 {
		return fmt.Errorf("SCORE_BACKFILL_GRACE must be positive")
	}
	if c.OddsAPITimeout <= 0 {
		return fmt.Errorf("ODDS_API_TIMEOUT must be positive")
	}
	if c.WorkerConcurrency < 1 || c.LeagueConcurrency < 1 || c.OddsAPIMaxConcurrency < 1 {
		return fmt.Errorf("concurrency settings must be at least 1")
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1")
	}

	if _, err := cron.ParseStandard(c.DiscoveryCron); err != nil {
		return fmt.Errorf("DISCOVERY_CRON %q: %w", c.DiscoveryCron, err)
	}
	if _, err := cron.ParseStandard(c.BackfillCron); err != nil {
		return fmt.Errorf("BACKFILL_CRON %q: %w", c.BackfillCron, err)
	}

	return nil
}

func normalizeLeagues(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, league := range in {
		league = strings.TrimSpace(league)
		if league == "" {
			continue
		}
		if _, ok := seen[league]; ok {
			continue
		}
		seen[league] = struct{}{}
		out = append(out, league)
	}
	return out
}

// RedisAddr returns the Redis address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// MustLoad loads configuration or exits on error
// Use this in main() where we want to fail fast
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}
