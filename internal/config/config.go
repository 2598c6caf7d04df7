// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Queue     QueueConfig     `mapstructure:"queue"`
	SEO       SEOConfig       `mapstructure:"seo"`
	Email     EmailConfig     `mapstructure:"email"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// CORSConfig holds the origin allow-list echoed on responses.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig defines admin API authentication. An empty secret leaves
// /api/admin unauthenticated, matching the original deployment.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// RateLimitRule is one endpoint-prefix window configuration.
type RateLimitRule struct {
	Prefix      string `mapstructure:"prefix"`
	WindowMs    int    `mapstructure:"window_ms"`
	MaxRequests int    `mapstructure:"max_requests"`
}

// RateLimitConfig governs the fixed-window limiter.
type RateLimitConfig struct {
	Enabled        bool            `mapstructure:"enabled"`
	DefaultWindow  int             `mapstructure:"default_window_ms"`
	DefaultMax     int             `mapstructure:"default_max_requests"`
	GlobalWindow   int             `mapstructure:"global_window_ms"`
	GlobalMax      int             `mapstructure:"global_max_requests"`
	Endpoints      []RateLimitRule `mapstructure:"endpoints"`
	TrustedHeaders []string        `mapstructure:"trusted_headers"`
}

// RedisConfig controls access to the cache/queue backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MinConns     int    `mapstructure:"min_conns"`
}

// StorageConfig sets the blob store provider and paths.
type StorageConfig struct {
	Provider    string `mapstructure:"provider"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// QueueConfig controls the worker consume loop.
type QueueConfig struct {
	Provider         string `mapstructure:"provider"`
	BatchSize        int    `mapstructure:"batch_size"`
	BlockTimeoutSec  int    `mapstructure:"block_timeout_seconds"`
	SweepIntervalSec int    `mapstructure:"sweep_interval_seconds"`
}

// SEOConfig carries search-engine credentials. All fields are optional;
// their absence degrades the owning feature to a no-op.
type SEOConfig struct {
	SiteURL             string  `mapstructure:"site_url"`
	IndexNowKey         string  `mapstructure:"indexnow_key"`
	SearchConsoleCreds  string  `mapstructure:"search_console_credentials"`
	PingRatePerSecond   float64 `mapstructure:"ping_rate_per_second"`
	PingTimeoutSeconds  int     `mapstructure:"ping_timeout_seconds"`
	SitemapObjectPrefix string  `mapstructure:"sitemap_object_prefix"`
}

// EmailConfig points at the outbound notification API. Optional.
type EmailConfig struct {
	APIURL string `mapstructure:"api_url"`
	APIKey string `mapstructure:"api_key"`
}

// WebhookConfig holds the shared signing secret for inbound and outbound
// webhooks. Optional; empty disables signature verification.
type WebhookConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

// SchedulerConfig tunes the cron job registry. The cleanup job is off
// unless explicitly enabled here or via the scheduler command flag.
type SchedulerConfig struct {
	EnableCleanup          bool `mapstructure:"enable_cleanup"`
	CleanupAgeDays         int  `mapstructure:"cleanup_age_days"`
	AnalyticsRetentionDays int  `mapstructure:"analytics_retention_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DREAMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("cors.allowed_origins", []string{"https://dreamgate.example.com"})
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.default_window_ms", 60000)
	v.SetDefault("ratelimit.default_max_requests", 100)
	v.SetDefault("ratelimit.global_window_ms", 60000)
	v.SetDefault("ratelimit.global_max_requests", 300)
	v.SetDefault("ratelimit.trusted_headers", []string{"CF-Connecting-IP", "X-Forwarded-For", "X-Real-IP"})
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("storage.content_type", "application/xml")
	v.SetDefault("pubsub.provider", "memory")
	v.SetDefault("queue.provider", "memory")
	v.SetDefault("queue.batch_size", 10)
	v.SetDefault("queue.block_timeout_seconds", 5)
	v.SetDefault("queue.sweep_interval_seconds", 5)
	v.SetDefault("seo.ping_rate_per_second", 1)
	v.SetDefault("seo.ping_timeout_seconds", 30)
	v.SetDefault("seo.sitemap_object_prefix", "sitemaps")
	v.SetDefault("scheduler.cleanup_age_days", 30)
	v.SetDefault("scheduler.analytics_retention_days", 90)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. Optional
// credentials (SEO, email, webhook, JWT) are deliberately not required:
// features depending on them degrade rather than blocking startup.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.RateLimit.DefaultWindow <= 0 || c.RateLimit.DefaultMax <= 0 {
		return fmt.Errorf("ratelimit defaults must be > 0")
	}
	for _, rule := range c.RateLimit.Endpoints {
		if rule.Prefix == "" {
			return fmt.Errorf("ratelimit endpoint rule missing prefix")
		}
		if rule.WindowMs <= 0 || rule.MaxRequests <= 0 {
			return fmt.Errorf("ratelimit rule for %s must have positive window and max", rule.Prefix)
		}
	}
	if c.Storage.Provider == "gcs" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("storage.gcs_bucket is required when storage.provider is gcs")
	}
	if c.PubSub.Provider == "pubsub" && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required when pubsub.provider is pubsub")
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	return nil
}

// ServerTimeout converts the configured request timeout into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// PingTimeout bounds outbound search-engine calls.
func (c Config) PingTimeout() time.Duration {
	return time.Duration(c.SEO.PingTimeoutSeconds) * time.Second
}

// BlockTimeout is how long a worker blocks waiting for a ready message.
func (c Config) BlockTimeout() time.Duration {
	return time.Duration(c.Queue.BlockTimeoutSec) * time.Second
}

// SweepInterval is the cadence of the delayed-message promotion sweep.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Queue.SweepIntervalSec) * time.Second
}

// CleanupAge is how old a failed-job row must be before the cleanup job
// removes it.
func (c Config) CleanupAge() time.Duration {
	return time.Duration(c.Scheduler.CleanupAgeDays) * 24 * time.Hour
}

// AnalyticsRetention bounds how long raw analytics events are kept.
func (c Config) AnalyticsRetention() time.Duration {
	return time.Duration(c.Scheduler.AnalyticsRetentionDays) * 24 * time.Hour
}
