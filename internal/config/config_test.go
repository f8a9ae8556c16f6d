package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/jobs"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
db:
  backend: postgres
  dsn: postgres://newshub@localhost/newshub
  max_conns: 20
http:
  timeout: 45s
  max_retries: 4
crawler:
  max_depth: 3
  rate_limit: 8
  use_categories: false
jobs:
  pause_policy: drain
  cancel_grace: 3s
lock:
  backend: redis
redis:
  address: redis:6379
maintenance:
  enabled: true
  schedule: "@daily"
progress:
  sinks: [log, publisher]
publisher:
  backend: kafka
kafka:
  brokers: [kafka:9092]
  topic: newshub.jobs
export:
  backend: gcs
  gcs_bucket: exports
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
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.DB.Backend != "postgres" || cfg.DB.MaxConns != 20 {
		t.Fatalf("expected db overrides to apply: %+v", cfg.DB)
	}
	if cfg.HTTP.Timeout != 45*time.Second || cfg.HTTP.MaxRetries != 4 {
		t.Fatalf("expected http overrides to apply: %+v", cfg.HTTP)
	}
	defaults := cfg.JobDefaults()
	if defaults.MaxDepth != 3 || defaults.RateLimit != 8 || defaults.UseCategories {
		t.Fatalf("unexpected job defaults: %+v", defaults)
	}
	opts := cfg.JobOptions()
	if opts.PausePolicy != jobs.PauseDrain || opts.CancelGrace != 3*time.Second {
		t.Fatalf("unexpected job options: %+v", opts)
	}
	if opts.Lookahead != 16 {
		t.Fatalf("expected default lookahead 16, got %d", opts.Lookahead)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "kafka:9092" {
		t.Fatalf("expected kafka brokers to load: %+v", cfg.Kafka)
	}
	if cfg.Stats.ErrorWindow != 24*time.Hour {
		t.Fatalf("expected default error window 24h, got %v", cfg.Stats.ErrorWindow)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DB.Backend != "memory" || cfg.Lock.Backend != "memory" {
		t.Fatalf("expected in-process backends by default: %+v %+v", cfg.DB, cfg.Lock)
	}
	if cfg.Jobs.PausePolicy != "cancel" || !cfg.Jobs.RecoverOnStart {
		t.Fatalf("unexpected jobs defaults: %+v", cfg.Jobs)
	}
	if cfg.Publisher.Backend != "none" {
		t.Fatalf("expected publisher disabled by default, got %q", cfg.Publisher.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("NEWSHUB_SERVER_PORT", "7070")
	t.Setenv("NEWSHUB_JOBS_PAUSE_POLICY", "drain")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Jobs.PausePolicy != "drain" {
		t.Fatalf("expected env pause policy drain, got %q", cfg.Jobs.PausePolicy)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"postgres without dsn", func(c *Config) { c.DB.Backend = "postgres" }, "db.dsn"},
		{"unknown db backend", func(c *Config) { c.DB.Backend = "sqlite" }, "db.backend"},
		{"invalid timeout", func(c *Config) { c.HTTP.Timeout = 0 }, "http.timeout"},
		{"missing worker endpoint", func(c *Config) { c.Worker.Endpoint = " " }, "worker.endpoint"},
		{"negative defaults", func(c *Config) { c.Crawler.RateLimit = -1 }, "crawler defaults"},
		{"bad pause policy", func(c *Config) { c.Jobs.PausePolicy = "freeze" }, "jobs.pause_policy"},
		{"redis without address", func(c *Config) { c.Lock.Backend = "redis"; c.Redis.Address = "" }, "redis.address"},
		{"maintenance without schedule", func(c *Config) { c.Maintenance.Enabled = true; c.Maintenance.Schedule = "" }, "maintenance.schedule"},
		{"unknown sink", func(c *Config) { c.Progress.Sinks = []string{"stdout"} }, "progress.sinks"},
		{"pubsub incomplete", func(c *Config) { c.Publisher.Backend = "pubsub" }, "pubsub.project_id"},
		{"kafka incomplete", func(c *Config) { c.Publisher.Backend = "kafka" }, "kafka.brokers"},
		{"gcs without bucket", func(c *Config) { c.Export.Backend = "gcs" }, "export.gcs_bucket"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
		{"gcp exporter without project", func(c *Config) { c.Telemetry.Exporter = "gcp" }, "telemetry.project_id"},
		{"unknown exporter", func(c *Config) { c.Telemetry.Exporter = "jaeger" }, "telemetry.exporter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Progress.Sinks = append([]string(nil), base.Progress.Sinks...)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
