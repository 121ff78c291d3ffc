// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Robots     RobotsConfig     `mapstructure:"robots"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Events     EventsConfig     `mapstructure:"events"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	// SuffixList is an optional public suffix file; empty uses the
	// compiled-in table.
	SuffixList string `mapstructure:"suffix_list"`
}

// ServerConfig controls the stats/metrics HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey guards the seed endpoint when set.
	APIKey string `mapstructure:"api_key"`
}

// CrawlerConfig governs the frontier bounds and the worker pool.
type CrawlerConfig struct {
	Concurrency   int      `mapstructure:"concurrency"`
	UserAgent     string   `mapstructure:"user_agent"`
	MaxDepth      int      `mapstructure:"max_depth"`
	MaxRedirects  int      `mapstructure:"max_redirects"`
	MaxRetries    int      `mapstructure:"max_retries"`
	QueueCapacity int      `mapstructure:"queue_capacity"`
	Seeds         []string `mapstructure:"seeds"`
}

// RobotsConfig controls robots.txt handling.
type RobotsConfig struct {
	Respect  bool          `mapstructure:"respect"`
	TTL      time.Duration `mapstructure:"ttl"`
	ErrorTTL time.Duration `mapstructure:"error_ttl"`
	MaxBytes int           `mapstructure:"max_bytes"`
}

// PolitenessConfig sets per-host cooldowns and the per-domain rate limit.
type PolitenessConfig struct {
	DefaultDelay time.Duration      `mapstructure:"default_delay"`
	MaxDelay     time.Duration      `mapstructure:"max_delay"`
	RateLimitRPS float64            `mapstructure:"rate_limit_rps"`
	Burst        int                `mapstructure:"burst"`
	DomainRPS    map[string]float64 `mapstructure:"domain_rps"`
}

// PolicyConfig selects and tunes the admission policy.
type PolicyConfig struct {
	// Name is "filter" or "simple".
	Name               string   `mapstructure:"name"`
	AllowedDomains     []string `mapstructure:"allowed_domains"`
	BlockedDomains     []string `mapstructure:"blocked_domains"`
	ExcludePattern     string   `mapstructure:"exclude_pattern"`
	ForbiddenThreshold int      `mapstructure:"forbidden_threshold"`
	MaxLinksPerPage    int      `mapstructure:"max_links_per_page"`
}

// HTTPConfig configures the fetcher and its retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int            `mapstructure:"timeout_seconds"`
	MaxBodyBytes     int            `mapstructure:"max_body_bytes"`
	BackoffInitialMs int            `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int            `mapstructure:"backoff_max_ms"`
	Headless         HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig controls promotion of script-rendered pages to headless
// Chrome.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	Settle      time.Duration `mapstructure:"settle"`
	// MinText is the visible text length under which a script-heavy page
	// is rendered.
	MinText int `mapstructure:"min_text"`
}

// StorageConfig selects the durable backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	// Checkpoint periodically uploads snapshots while crawling.
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
}

// CheckpointConfig selects where periodic snapshots go. Target is a
// gs://bucket/prefix URI or a local directory.
type CheckpointConfig struct {
	Target   string        `mapstructure:"target"`
	Interval time.Duration `mapstructure:"interval"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
	WAL  bool   `mapstructure:"wal"`
}

// PostgresConfig controls access to Postgres.
type PostgresConfig struct {
	DSN        string `mapstructure:"dsn"`
	SeenTable  string `mapstructure:"seen_table"`
	QueueTable string `mapstructure:"queue_table"`
	MaxConns   int32  `mapstructure:"max_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	// Encoding is "json", "console" or empty for the mode's default.
	Encoding string `mapstructure:"encoding"`
}

// EventsConfig tunes the progress event hub.
type EventsConfig struct {
	// Log mirrors every event to the logger at debug level.
	Log        bool          `mapstructure:"log"`
	BufferSize int           `mapstructure:"buffer_size"`
	MaxBatch   int           `mapstructure:"max_batch"`
	MaxWait    time.Duration `mapstructure:"max_wait"`
	PubSub     PubSubConfig  `mapstructure:"pubsub"`
}

// PubSubConfig publishes event batches to a Pub/Sub topic when Topic is
// set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// TelemetryConfig toggles OpenTelemetry tracing of fetches.
type TelemetryConfig struct {
	Tracing     bool    `mapstructure:"tracing"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
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
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.user_agent", "crawlfrontier/0.1")
	v.SetDefault("crawler.max_depth", 3)
	v.SetDefault("crawler.max_redirects", 5)
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.queue_capacity", 100000)
	v.SetDefault("robots.respect", true)
	v.SetDefault("robots.ttl", 24*time.Hour)
	v.SetDefault("robots.error_ttl", 5*time.Minute)
	v.SetDefault("robots.max_bytes", 500<<10)
	v.SetDefault("politeness.default_delay", time.Second)
	v.SetDefault("politeness.max_delay", time.Minute)
	v.SetDefault("politeness.rate_limit_rps", 0)
	v.SetDefault("politeness.burst", 1)
	v.SetDefault("policy.name", "filter")
	v.SetDefault("policy.forbidden_threshold", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.sqlite.path", "data/frontier.db")
	v.SetDefault("storage.sqlite.wal", true)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "")
	v.SetDefault("http.headless.enabled", false)
	v.SetDefault("http.headless.max_parallel", 2)
	v.SetDefault("http.headless.nav_timeout", "45s")
	v.SetDefault("http.headless.settle", "500ms")
	v.SetDefault("http.headless.min_text", 200)
	v.SetDefault("storage.checkpoint.interval", "0s")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.service_name", "crawlfrontier")
	v.SetDefault("telemetry.sample_ratio", 0.1)
	v.SetDefault("events.log", false)
	v.SetDefault("events.buffer_size", 4096)
	v.SetDefault("events.max_batch", 500)
	v.SetDefault("events.max_wait", "500ms")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if strings.TrimSpace(c.Crawler.UserAgent) == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Politeness.DefaultDelay < 0 {
		return fmt.Errorf("politeness.default_delay must be >= 0")
	}
	if c.Politeness.MaxDelay > 0 && c.Politeness.MaxDelay < c.Politeness.DefaultDelay {
		return fmt.Errorf("politeness.max_delay must be >= politeness.default_delay")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	switch c.Logging.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.encoding must be json or console")
	}
	if c.Events.BufferSize < 0 || c.Events.MaxBatch < 0 {
		return fmt.Errorf("events.buffer_size and events.max_batch must be >= 0")
	}
	if c.Events.PubSub.Topic != "" && c.Events.PubSub.ProjectID == "" {
		return fmt.Errorf("events.pubsub.project_id must be set with events.pubsub.topic")
	}
	if c.HTTP.Headless.Enabled && c.HTTP.Headless.MaxParallel < 0 {
		return fmt.Errorf("http.headless.max_parallel must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be in [0, 1]")
	}
	if c.Storage.Checkpoint.Interval < 0 {
		return fmt.Errorf("storage.checkpoint.interval must be >= 0")
	}
	if c.Storage.Checkpoint.Interval > 0 && strings.TrimSpace(c.Storage.Checkpoint.Target) == "" {
		return fmt.Errorf("storage.checkpoint.target must be set when checkpointing is enabled")
	}
	switch c.Policy.Name {
	case "filter", "simple":
	default:
		return fmt.Errorf("policy.name must be filter or simple, got %q", c.Policy.Name)
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLite.Path == "" {
			return fmt.Errorf("storage.sqlite.path must be set for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, sqlite or postgres, got %q", c.Storage.Backend)
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryBackoff returns the initial and maximum retry backoff.
func (c Config) RetryBackoff() (initial, maxDelay time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
