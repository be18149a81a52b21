// Package config loads and validates crawl engine configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"crawl-engine/internal/dedup"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Browser BrowserConfig `mapstructure:"browser"`
	Dedup   dedup.Policy  `mapstructure:"dedup"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	KV      KVConfig      `mapstructure:"kv"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	RequestTimeout  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs the worker pool and crawl pipeline behavior.
type CrawlerConfig struct {
	Workers           int     `mapstructure:"workers"`
	UserAgent         string  `mapstructure:"user_agent"`
	DefaultRateRPS    float64 `mapstructure:"default_rate_rps"`
	MaxDepthDefault   int     `mapstructure:"max_depth_default"`
	MaxPagesDefault   int     `mapstructure:"max_pages_default"`
	RequestTimeoutSec int     `mapstructure:"request_timeout_seconds"`
	RobotsTTLHours    int     `mapstructure:"robots_ttl_hours"`
	FrontierCapacity  uint    `mapstructure:"frontier_capacity"`
	FailureThreshold  int     `mapstructure:"failure_threshold"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	PoolSize          int  `mapstructure:"pool_size"`
	AcquireTimeoutSec int  `mapstructure:"acquire_timeout_seconds"`
	RenderTimeoutSec  int  `mapstructure:"render_timeout_seconds"`
	MaxAttempts       int  `mapstructure:"max_attempts"`
}

// StorageConfig selects and configures the blob store backend.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig selects and configures the job/result store backend.
type DBConfig struct {
	Provider     string `mapstructure:"provider"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KVConfig selects the durable key/value cache backend.
type KVConfig struct {
	Provider string `mapstructure:"provider"`
	Path     string `mapstructure:"path"`
}

// LoggingConfig controls zap behavior.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	def := dedup.DefaultPolicy()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("crawler.workers", 8)
	v.SetDefault("crawler.user_agent", "crawl-engine-bot/0.1")
	v.SetDefault("crawler.default_rate_rps", 1.0)
	v.SetDefault("crawler.max_depth_default", 2)
	v.SetDefault("crawler.max_pages_default", 100)
	v.SetDefault("crawler.request_timeout_seconds", 15)
	v.SetDefault("crawler.robots_ttl_hours", 24)
	v.SetDefault("crawler.frontier_capacity", 1_000_000)
	v.SetDefault("crawler.failure_threshold", 50)
	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.pool_size", 2)
	v.SetDefault("browser.acquire_timeout_seconds", 30)
	v.SetDefault("browser.render_timeout_seconds", 30)
	v.SetDefault("browser.max_attempts", 3)
	v.SetDefault("dedup.exact_threshold", def.ExactThreshold)
	v.SetDefault("dedup.near_duplicate_threshold", def.NearDuplicateThreshold)
	v.SetDefault("dedup.similar_threshold", def.SimilarThreshold)
	v.SetDefault("dedup.reject_exact", def.RejectExact)
	v.SetDefault("dedup.reject_near_duplicate", def.RejectNearDuplicate)
	v.SetDefault("dedup.merge_similar", def.MergeSimilar)
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.local_dir", "./data/blobs")
	v.SetDefault("db.provider", "memory")
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("kv.provider", "memory")
	v.SetDefault("kv.path", "./data/kv")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.DefaultRateRPS <= 0 {
		return fmt.Errorf("crawler.default_rate_rps must be > 0")
	}
	if c.Browser.Enabled && c.Browser.PoolSize <= 0 {
		return fmt.Errorf("browser.pool_size must be > 0 when the browser is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Provider {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not one of memory, local, gcs", c.Storage.Provider)
	}
	switch c.DB.Provider {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("db.provider %q is not one of memory, postgres", c.DB.Provider)
	}
	switch c.KV.Provider {
	case "memory", "badger":
	default:
		return fmt.Errorf("kv.provider %q is not one of memory, badger", c.KV.Provider)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if err := validatePolicy(c.Dedup); err != nil {
		return err
	}
	return nil
}

func validatePolicy(p dedup.Policy) error {
	if p.NearDuplicateThreshold <= 0 || p.NearDuplicateThreshold > 1 {
		return fmt.Errorf("dedup.near_duplicate_threshold must be in (0, 1]")
	}
	if p.SimilarThreshold > p.NearDuplicateThreshold {
		return fmt.Errorf("dedup.similar_threshold must not exceed the near-duplicate threshold")
	}
	return nil
}

// RequestTimeout converts the crawler timeout into a duration.
func (c CrawlerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// RobotsTTL converts the robots cache TTL into a duration.
func (c CrawlerConfig) RobotsTTL() time.Duration {
	return time.Duration(c.RobotsTTLHours) * time.Hour
}
