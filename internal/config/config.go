package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a default except DATABASE_URL and JWT_SECRET.
type Config struct {
	// Server
	HTTPPort        string        `envconfig:"HTTP_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"5s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"10s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// Database
	DatabaseURL    string `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns     int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns     int32  `envconfig:"DB_MIN_CONNS" default:"5"`
	MigrationsPath string `envconfig:"MIGRATIONS_PATH" default:"migrations"`

	// Push (FCM multicast)
	FCMEndpoint  string        `envconfig:"FCM_ENDPOINT" default:"https://fcm.googleapis.com/fcm/send"`
	FCMServerKey string        `envconfig:"FCM_SERVER_KEY"`
	FCMTimeout   time.Duration `envconfig:"FCM_TIMEOUT" default:"10s"`

	// Webhook channel
	WebhookURL     string        `envconfig:"WEBHOOK_URL" default:"https://webhook.site/your-uuid-here"`
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`

	// One worker pool is shared across all channels.
	Workers int `envconfig:"WORKERS" default:"10"`

	// Provider throughput: maximum sends per second per channel.
	RateLimit int `envconfig:"RATE_LIMIT_PER_CHANNEL" default:"100"`

	// Per-recipient cap: at most RecipientRateLimit notifications per
	// RecipientRateWindow. Zero disables it.
	RecipientRateLimit  int           `envconfig:"RECIPIENT_RATE_LIMIT" default:"20"`
	RecipientRateWindow time.Duration `envconfig:"RECIPIENT_RATE_WINDOW" default:"1m"`

	// Duplicate suppression window for (job, staff, event type).
	DedupTTL time.Duration `envconfig:"DEDUP_TTL" default:"5m"`

	// Retry backoff durations: index 0 = first retry delay, etc.
	RetryBackoff []time.Duration `envconfig:"RETRY_BACKOFF" default:"5s,30s,120s"`
	MaxRetries   int             `envconfig:"MAX_RETRIES" default:"3"`

	// Background worker poll intervals
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" default:"10s"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`

	// Live feed
	FeedDedupWindow time.Duration `envconfig:"FEED_DEDUP_WINDOW" default:"10s"`
	FeedBuffer      int           `envconfig:"FEED_BUFFER" default:"32"`
	FeedHeartbeat   time.Duration `envconfig:"FEED_HEARTBEAT" default:"25s"`
}

// Load reads the server configuration.
func Load() (*Config, error) { return load(true) }

// LoadWithoutAuth reads the configuration for maintenance tools that never
// issue or check tokens, so JWT_SECRET may be unset.
func LoadWithoutAuth() (*Config, error) { return load(false) }

func load(auth bool) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if auth && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive, got %s", c.DedupTTL)
	}
	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_CHANNEL must be at least 1, got %d", c.RateLimit)
	}
	if len(c.RetryBackoff) == 0 {
		return fmt.Errorf("RETRY_BACKOFF must list at least one duration")
	}
	if c.FeedHeartbeat <= 0 {
		return fmt.Errorf("FEED_HEARTBEAT must be positive, got %s", c.FeedHeartbeat)
	}
	if c.FeedBuffer < 1 {
		return fmt.Errorf("FEED_BUFFER must be at least 1, got %d", c.FeedBuffer)
	}
	return nil
}
