// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/jobs"
)

// EnvPrefix prefixes every environment override, e.g. NEWSHUB_DB_DSN.
const EnvPrefix = "NEWSHUB"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	DB          DBConfig          `mapstructure:"db"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Crawler     CrawlerConfig     `mapstructure:"crawler"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Lock        LockConfig        `mapstructure:"lock"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Progress    ProgressConfig    `mapstructure:"progress"`
	Publisher   PublisherConfig   `mapstructure:"publisher"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Export      ExportConfig      `mapstructure:"export"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DBConfig selects and tunes the relational store. Backend "memory" keeps
// everything in process.
type DBConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// HTTPConfig configures the discovery fetcher and per-URL retries.
type HTTPConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
}

// CrawlerConfig holds the job config defaults applied to zero request fields.
type CrawlerConfig struct {
	MaxDepth      int  `mapstructure:"max_depth"`
	RateLimit     int  `mapstructure:"rate_limit"`
	MaxArticles   int  `mapstructure:"max_articles"`
	UseCategories bool `mapstructure:"use_categories"`
	ProxyRotation bool `mapstructure:"proxy_rotation"`
}

// DiscoveryConfig tunes sitemap and category discovery.
type DiscoveryConfig struct {
	MaxSitemapDepth  int           `mapstructure:"max_sitemap_depth"`
	MaxCategoryPages int           `mapstructure:"max_category_pages"`
	RootRetries      int           `mapstructure:"root_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	ValidateURLs     bool          `mapstructure:"validate_urls"`
	ExcludedPatterns []string      `mapstructure:"excluded_patterns"`
}

// JobsConfig tunes the job state machines.
type JobsConfig struct {
	PausePolicy    string        `mapstructure:"pause_policy"`
	CancelGrace    time.Duration `mapstructure:"cancel_grace"`
	FlushInterval  time.Duration `mapstructure:"flush_interval"`
	Lookahead      int           `mapstructure:"lookahead"`
	RecoverOnStart bool          `mapstructure:"recover_on_start"`
}

// WorkerConfig points at the article extraction worker.
type WorkerConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Token    string        `mapstructure:"token"`
}

// LockConfig selects the website lock backend: memory or redis.
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig addresses the Redis server used by the redis lock backend.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MaintenanceConfig schedules maintenance start-all runs.
type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// ProgressConfig tunes the progress hub and selects its sinks.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	Sinks          []string      `mapstructure:"sinks"`
}

// PublisherConfig selects the lifecycle event backend: none, memory, pubsub
// or kafka.
type PublisherConfig struct {
	Backend string `mapstructure:"backend"`
	Topic   string `mapstructure:"topic"`
}

// PubSubConfig holds Google Cloud Pub/Sub coordinates.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// KafkaConfig holds Kafka broker coordinates.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ExportConfig selects where article exports are written: local, gcs or
// memory.
type ExportConfig struct {
	Backend   string `mapstructure:"backend"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// StatsConfig tunes dashboard rollups.
type StatsConfig struct {
	ErrorWindow time.Duration `mapstructure:"error_window"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	// Exporter is "none" or "gcp" (Cloud Trace).
	Exporter  string `mapstructure:"exporter"`
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from .env files, an optional config file and the
// environment.
func Load(path string) (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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

// loadDotEnv exports the variables of file when it exists. Variables already
// set in the environment win.
func loadDotEnv(file string) error {
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "20s")
	v.SetDefault("logging.development", true)
	v.SetDefault("db.backend", "memory")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", "30m")
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("http.user_agent", "newshub-crawler/1.0")
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.respect_robots", true)
	v.SetDefault("http.max_body_bytes", 10*1024*1024)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial", "500ms")
	v.SetDefault("http.backoff_max", "10s")
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.rate_limit", 5)
	v.SetDefault("crawler.max_articles", 0)
	v.SetDefault("crawler.use_categories", true)
	v.SetDefault("discovery.max_sitemap_depth", 3)
	v.SetDefault("discovery.max_category_pages", 50)
	v.SetDefault("discovery.root_retries", 3)
	v.SetDefault("discovery.retry_delay", "2s")
	v.SetDefault("discovery.validate_urls", false)
	v.SetDefault("jobs.pause_policy", "cancel")
	v.SetDefault("jobs.cancel_grace", "10s")
	v.SetDefault("jobs.flush_interval", "1s")
	v.SetDefault("jobs.lookahead", 16)
	v.SetDefault("jobs.recover_on_start", true)
	v.SetDefault("worker.endpoint", "http://localhost:9000/v1/extract")
	v.SetDefault("worker.timeout", "60s")
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("maintenance.enabled", false)
	v.SetDefault("maintenance.schedule", "0 3 * * *")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 200)
	v.SetDefault("progress.max_batch_wait", "1s")
	v.SetDefault("progress.sink_timeout", "2s")
	v.SetDefault("progress.sinks", []string{"log", "prometheus"})
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.topic", "newshub.jobs")
	v.SetDefault("export.backend", "local")
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("export.local_dir", "data")
	v.SetDefault("stats.error_window", "24h")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "newshub-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.exporter", "none")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.DB.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("db.backend %q is not one of memory, postgres", c.DB.Backend)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if strings.TrimSpace(c.Worker.Endpoint) == "" {
		return fmt.Errorf("worker.endpoint is required")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Crawler.MaxDepth < 0 || c.Crawler.RateLimit < 0 || c.Crawler.MaxArticles < 0 {
		return fmt.Errorf("crawler defaults must not be negative")
	}
	if _, err := c.PausePolicy(); err != nil {
		return err
	}
	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("lock.backend %q is not one of memory, redis", c.Lock.Backend)
	}
	if c.Maintenance.Enabled && strings.TrimSpace(c.Maintenance.Schedule) == "" {
		return fmt.Errorf("maintenance.schedule must be set when maintenance is enabled")
	}
	for _, sink := range c.Progress.Sinks {
		switch sink {
		case "log", "prometheus", "publisher":
		default:
			return fmt.Errorf("progress.sinks: unknown sink %q", sink)
		}
	}
	switch c.Publisher.Backend {
	case "none", "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name are required for the pubsub publisher")
		}
	case "kafka":
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.brokers and kafka.topic are required for the kafka publisher")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not one of none, memory, pubsub, kafka", c.Publisher.Backend)
	}
	switch c.Export.Backend {
	case "local", "memory":
	case "gcs":
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket is required for the gcs export backend")
		}
	default:
		return fmt.Errorf("export.backend %q is not one of local, gcs, memory", c.Export.Backend)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	switch c.Telemetry.Exporter {
	case "none":
	case "gcp":
		if c.Telemetry.ProjectID == "" {
			return fmt.Errorf("telemetry.project_id is required for the gcp exporter")
		}
	default:
		return fmt.Errorf("telemetry.exporter %q is not one of none, gcp", c.Telemetry.Exporter)
	}
	return nil
}

// JobDefaults converts the crawler section into the JobConfig defaults.
func (c Config) JobDefaults() crawler.JobConfig {
	return crawler.JobConfig{
		MaxDepth:      c.Crawler.MaxDepth,
		RateLimit:     c.Crawler.RateLimit,
		MaxArticles:   c.Crawler.MaxArticles,
		UseCategories: c.Crawler.UseCategories,
		ProxyRotation: c.Crawler.ProxyRotation,
	}
}

// PausePolicy parses jobs.pause_policy.
func (c Config) PausePolicy() (jobs.PausePolicy, error) {
	switch strings.ToLower(c.Jobs.PausePolicy) {
	case "", "cancel":
		return jobs.PauseCancel, nil
	case "drain":
		return jobs.PauseDrain, nil
	default:
		return "", fmt.Errorf("jobs.pause_policy %q is not one of cancel, drain", c.Jobs.PausePolicy)
	}
}

// JobOptions converts the jobs section into machine options.
func (c Config) JobOptions() jobs.Options {
	policy, _ := c.PausePolicy()
	return jobs.Options{
		PausePolicy:   policy,
		CancelGrace:   c.Jobs.CancelGrace,
		FlushInterval: c.Jobs.FlushInterval,
		Lookahead:     c.Jobs.Lookahead,
	}
}
