package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  concurrency: 6
  user_agent: real-agent
  max_depth: 5
  max_redirects: 2
  queue_capacity: 128
  seeds: ["https://example.com/"]
robots:
  ttl: 2h
politeness:
  default_delay: 250ms
  max_delay: 10s
  domain_rps:
    example.com: 2
policy:
  name: simple
http:
  timeout_seconds: 45
  backoff_initial_ms: 100
  backoff_max_ms: 500
storage:
  backend: sqlite
  sqlite:
    path: /tmp/frontier.db
logging:
  development: false
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.Concurrency != 6 || cfg.Crawler.MaxDepth != 5 || cfg.Crawler.MaxRedirects != 2 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.Seeds) != 1 || cfg.Crawler.Seeds[0] != "https://example.com/" {
		t.Fatalf("expected seeds to be loaded: %+v", cfg.Crawler.Seeds)
	}
	if cfg.Robots.TTL != 2*time.Hour || !cfg.Robots.Respect {
		t.Fatalf("expected robots ttl override with default respect: %+v", cfg.Robots)
	}
	if cfg.Politeness.DefaultDelay != 250*time.Millisecond || cfg.Politeness.MaxDelay != 10*time.Second {
		t.Fatalf("expected politeness overrides: %+v", cfg.Politeness)
	}
	if cfg.Politeness.DomainRPS["example.com"] != 2 {
		t.Fatalf("expected domain rps override: %+v", cfg.Politeness.DomainRPS)
	}
	if cfg.Policy.Name != "simple" {
		t.Fatalf("expected simple policy, got %q", cfg.Policy.Name)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.SQLite.Path != "/tmp/frontier.db" {
		t.Fatalf("expected sqlite storage: %+v", cfg.Storage)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	initial, maxDelay := cfg.RetryBackoff()
	if initial != 100*time.Millisecond || maxDelay != 500*time.Millisecond {
		t.Fatalf("unexpected backoff %v/%v", initial, maxDelay)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Fatalf("expected memory backend by default, got %q", cfg.Storage.Backend)
	}
	if cfg.Politeness.DefaultDelay != time.Second {
		t.Fatalf("expected 1s default delay, got %v", cfg.Politeness.DefaultDelay)
	}
	if cfg.Crawler.MaxRetries != 2 || cfg.Policy.Name != "filter" {
		t.Fatalf("unexpected defaults: %+v %+v", cfg.Crawler, cfg.Policy)
	}
	if cfg.Events.MaxWait != 500*time.Millisecond || cfg.Events.BufferSize != 4096 || cfg.Events.Log {
		t.Fatalf("unexpected event defaults: %+v", cfg.Events)
	}
	if cfg.HTTP.Headless.Enabled || cfg.HTTP.Headless.NavTimeout != 45*time.Second || cfg.HTTP.Headless.MinText != 200 {
		t.Fatalf("unexpected headless defaults: %+v", cfg.HTTP.Headless)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:     ServerConfig{Enabled: true, Port: 8080},
		Crawler:    CrawlerConfig{Concurrency: 1, UserAgent: "agent"},
		Politeness: PolitenessConfig{DefaultDelay: time.Second},
		Policy:     PolicyConfig{Name: "filter"},
		HTTP:       HTTPConfig{TimeoutSeconds: 10},
		Storage:    StorageConfig{Backend: BackendMemory},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		edit func(c *Config)
		want string
	}{
		{name: "invalid port", edit: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid concurrency", edit: func(c *Config) { c.Crawler.Concurrency = 0 }, want: "crawler.concurrency"},
		{name: "blank user agent", edit: func(c *Config) { c.Crawler.UserAgent = "  " }, want: "crawler.user_agent"},
		{name: "negative retries", edit: func(c *Config) { c.Crawler.MaxRetries = -1 }, want: "crawler.max_retries"},
		{name: "negative delay", edit: func(c *Config) { c.Politeness.DefaultDelay = -time.Second }, want: "politeness.default_delay"},
		{name: "max below default", edit: func(c *Config) { c.Politeness.MaxDelay = time.Millisecond }, want: "politeness.max_delay"},
		{name: "invalid timeout", edit: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, want: "http.timeout_seconds"},
		{name: "unknown log encoding", edit: func(c *Config) { c.Logging.Encoding = "xml" }, want: "logging.encoding"},
		{name: "negative event buffer", edit: func(c *Config) { c.Events.BufferSize = -1 }, want: "events.buffer_size"},
		{name: "pubsub without project", edit: func(c *Config) { c.Events.PubSub.Topic = "events" }, want: "events.pubsub.project_id"},
		{name: "negative render slots", edit: func(c *Config) { c.HTTP.Headless = HeadlessConfig{Enabled: true, MaxParallel: -1} }, want: "http.headless.max_parallel"},
		{name: "checkpoint without target", edit: func(c *Config) { c.Storage.Checkpoint.Interval = time.Minute }, want: "storage.checkpoint.target"},
		{name: "sample ratio above one", edit: func(c *Config) { c.Telemetry.SampleRatio = 1.5 }, want: "telemetry.sample_ratio"},
		{name: "unknown policy", edit: func(c *Config) { c.Policy.Name = "smart" }, want: "policy.name"},
		{name: "unknown backend", edit: func(c *Config) { c.Storage.Backend = "gcs" }, want: "storage.backend"},
		{name: "sqlite without path", edit: func(c *Config) { c.Storage.Backend = BackendSQLite }, want: "storage.sqlite.path"},
		{name: "postgres without dsn", edit: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "storage.postgres.dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.edit(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateSkipsPortWhenServerDisabled(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Crawler: CrawlerConfig{Concurrency: 1, UserAgent: "agent"},
		Policy:  PolicyConfig{Name: "simple"},
		HTTP:    HTTPConfig{TimeoutSeconds: 1},
		Storage: StorageConfig{Backend: BackendMemory},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
