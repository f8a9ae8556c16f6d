package server

import (
	"context"
	"fmt"
	"slices"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/config"
	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/jobs"
	redislock "github.com/JakeFAU/newshub-crawler/internal/lock/redis"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/newshub-crawler/internal/progress/sinks"
	kafkapublisher "github.com/JakeFAU/newshub-crawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/newshub-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/newshub-crawler/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/newshub-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/newshub-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/newshub-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/newshub-crawler/internal/storage/postgres"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// Storage is an opened relational backend.
type Storage struct {
	Repos store.Repositories
	ping  func(context.Context) error
	close func()
}

// Ping reports whether the backend is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend's connections.
func (s *Storage) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStorage connects the backend selected by db.backend, applying
// migrations first when db.migrate_on_start is set.
func OpenStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Storage, error) {
	if cfg.DB.Backend != "postgres" {
		logger.Warn("using in-memory store; data is lost on exit")
		return &Storage{Repos: memorystorage.NewStore().Repositories()}, nil
	}
	if cfg.DB.MigrateOnStart {
		if err := pgstore.Migrate(cfg.DB.DSN, pgstore.Up); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		logger.Info("database migrations applied")
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store init failed: %w", err)
	}
	logger.Info("postgres store initialized", zap.Int32("max_conns", cfg.DB.MaxConns))
	return &Storage{Repos: pg.Repositories(), ping: pg.Ping, close: pg.Close}, nil
}

// OpenBlobStore builds the export destination selected by export.backend.
// The returned func releases any client it opened.
func OpenBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Export.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Export.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		logger.Info("using GCS export backend", zap.String("bucket", cfg.Export.GCSBucket))
		return blobs, client.Close, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.Export.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		logger.Info("using local export backend", zap.String("path", cfg.Export.LocalDir))
		return blobs, noop, nil
	default:
		logger.Info("using in-memory export backend")
		return memorystorage.NewBlobStore(), noop, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case "pubsub":
		pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.TopicName),
		)
		return pub, nil
	case "kafka":
		pub, err := kafkapublisher.New(kafkapublisher.Config{
			Brokers: a.cfg.Kafka.Brokers,
			Topic:   a.cfg.Kafka.Topic,
		})
		if err != nil {
			return nil, fmt.Errorf("kafka publisher init failed: %w", err)
		}
		a.logger.Info("kafka publisher initialized",
			zap.Strings("brokers", a.cfg.Kafka.Brokers),
			zap.String("topic", a.cfg.Kafka.Topic),
		)
		return pub, nil
	case "memory":
		a.logger.Info("using in-memory publisher")
		return memorypublisher.New(), nil
	default:
		return nil, nil
	}
}

// setupProgress always returns a hub so emitters never see a nil pointer.
func (a *App) setupProgress(publisher crawler.Publisher) (*progress.Hub, error) {
	var sinkList []progress.Sink
	for _, name := range a.cfg.Progress.Sinks {
		switch name {
		case "log":
			sinkList = append(sinkList, progresssinks.NewLogSink(a.logger))
		case "prometheus":
			sink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
			if err != nil {
				return nil, fmt.Errorf("prometheus progress sink init failed: %w", err)
			}
			sinkList = append(sinkList, sink)
		case "publisher":
			if publisher == nil {
				a.logger.Warn("publisher sink configured without a publisher backend")
				continue
			}
			topic := a.cfg.Publisher.Topic
			if a.cfg.Publisher.Backend == "kafka" && a.cfg.Kafka.Topic != "" {
				topic = a.cfg.Kafka.Topic
			}
			sinkList = append(sinkList, progresssinks.NewPublishSink(publisher, topic, a.logger))
		}
	}
	if publisher != nil && !slices.Contains(a.cfg.Progress.Sinks, "publisher") {
		if closer, ok := publisher.(interface{ Close() error }); ok {
			a.onClose("publisher", closer.Close)
		}
	}

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		Logger:         a.logger,
	}
	hub := progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Strings("sinks", a.cfg.Progress.Sinks),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return hub, nil
}

func (a *App) setupLocker(ctx context.Context) (jobs.Locker, error) {
	if a.cfg.Lock.Backend != "redis" {
		return jobs.NewMemoryLocker(), nil
	}
	client, err := redislock.NewClient(ctx, redislock.ClientConfig{
		Address:  a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis client init failed: %w", err)
	}
	locker := redislock.NewLocker(client, a.cfg.Lock.TTL, a.logger)
	a.onClose("redis", func() error {
		locker.Close()
		return client.Close()
	})
	a.logger.Info("redis website lock initialized",
		zap.String("address", a.cfg.Redis.Address),
		zap.Duration("ttl", a.cfg.Lock.TTL),
	)
	return locker, nil
}
