// Package server provides the composition root for the newshub service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/api"
	"github.com/JakeFAU/newshub-crawler/internal/articles"
	"github.com/JakeFAU/newshub-crawler/internal/clock/system"
	"github.com/JakeFAU/newshub-crawler/internal/config"
	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/discovery"
	"github.com/JakeFAU/newshub-crawler/internal/dispatcher"
	"github.com/JakeFAU/newshub-crawler/internal/failures"
	collyfetcher "github.com/JakeFAU/newshub-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/newshub-crawler/internal/hash/sha256"
	"github.com/JakeFAU/newshub-crawler/internal/id/uuid"
	"github.com/JakeFAU/newshub-crawler/internal/jobs"
	"github.com/JakeFAU/newshub-crawler/internal/logging"
	"github.com/JakeFAU/newshub-crawler/internal/maintenance"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
	"github.com/JakeFAU/newshub-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
	"github.com/JakeFAU/newshub-crawler/internal/stats"
	"github.com/JakeFAU/newshub-crawler/internal/store"
	"github.com/JakeFAU/newshub-crawler/internal/telemetry"
	"github.com/JakeFAU/newshub-crawler/internal/worker"
	"github.com/JakeFAU/newshub-crawler/internal/worker/remote"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// App contains the application's dependencies.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	registry    *jobs.Registry
	scheduler   *maintenance.Scheduler
	progressHub *progress.Hub
	storage     *Storage
	closers     []namedCloser
	tracer      *telemetry.Provider
	restoreLogs func()
}

type namedCloser struct {
	name  string
	close func() error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg config.Config, logger *zap.Logger) *App {
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_backend", cfg.DB.Backend),
		zap.String("lock_backend", cfg.Lock.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
	)
	return &App{cfg: cfg, logger: logger}
}

// Handler returns the instrumented API handler.
func (a *App) Handler() http.Handler {
	return otelhttp.NewHandler(a.apiServer.Handler(), "newshub.api")
}

// Registry exposes the job registry.
func (a *App) Registry() *jobs.Registry {
	return a.registry
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.cfg.Jobs.RecoverOnStart {
		n, err := a.registry.Recover(ctx)
		if err != nil {
			a.logger.Error("job recovery failed", zap.Error(err))
		} else {
			a.logger.Info("jobs recovered", zap.Int("count", n))
		}
	}
	if a.scheduler != nil {
		a.scheduler.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close stops the job machines, then the infrastructure beneath them.
func (a *App) Close(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("maintenance scheduler stop failed", zap.Error(err))
		}
	}
	var errs []error
	if a.registry != nil {
		if err := a.registry.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown jobs: %w", err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	if a.storage != nil {
		a.storage.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.restoreLogs != nil {
		a.restoreLogs()
	}
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	app := NewApp(cfg, logger)
	app.restoreLogs = logging.Install(logger)

	var exporter sdktrace.SpanExporter
	if cfg.Telemetry.Enabled {
		exporter, err = telemetry.NewExporter(cfg.Telemetry.Exporter, cfg.Telemetry.ProjectID)
		if err != nil {
			app.restoreLogs()
			return nil, fmt.Errorf("trace exporter init failed: %w", err)
		}
	}
	app.tracer, err = telemetry.Init(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     Version,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Exporter:    exporter,
	})
	if err != nil {
		app.restoreLogs()
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(ctx)
		app.closeObservability(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	clock := system.New()
	ids := uuid.New()

	var err error
	a.storage, err = OpenStorage(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	repos := a.storage.Repos

	articleSvc := articles.NewService(repos.Articles, clock, ids, a.logger)
	failureSvc := failures.New(repos.Errors, clock, ids, a.logger)
	statsSvc := stats.NewService(repos, clock, cfg.Stats.ErrorWindow, a.logger)

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	a.progressHub, err = a.setupProgress(publisher)
	if err != nil {
		return err
	}

	discoverer := a.setupDiscovery(repos, clock, ids)
	runners, err := a.setupRunners(clock)
	if err != nil {
		return err
	}
	locker, err := a.setupLocker(ctx)
	if err != nil {
		return err
	}

	a.registry = jobs.NewRegistry(jobs.Deps{
		Jobs:       repos.Jobs,
		Articles:   articleSvc,
		Failures:   failureSvc,
		Discoverer: discoverer,
		Runners:    runners,
		Events:     a.progressHub,
		Clock:      clock,
		Logger:     a.logger,
		Tracer:     a.tracer.Tracer("newshub/jobs"),
	}, jobs.RegistryConfig{
		Websites: repos.Websites,
		Errors:   failureSvc,
		Locker:   locker,
		IDs:      ids,
		Defaults: cfg.JobDefaults(),
		Options:  cfg.JobOptions(),
	})

	if cfg.Maintenance.Enabled {
		a.scheduler, err = maintenance.New(cfg.Maintenance.Schedule, a.registry, cfg.JobDefaults(), a.logger)
		if err != nil {
			return fmt.Errorf("maintenance scheduler init failed: %w", err)
		}
	}

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(api.Deps{
		Websites: repos.Websites,
		Jobs:     a.registry,
		Articles: articleSvc,
		Errors:   failureSvc,
		Stats:    statsSvc,
		IDs:      ids,
		Clock:    clock,
		Ready:    a.storage.Ping,
		Logger:   a.logger,
	}, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.Server.RequestTimeout,
	})
	return nil
}

func (a *App) setupDiscovery(repos store.Repositories, clock crawler.Clock, ids crawler.IDGenerator) *discovery.Discoverer {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.HTTP.UserAgent,
		RespectRobots: a.cfg.HTTP.RespectRobots,
		Timeout:       a.cfg.HTTP.Timeout,
		MaxBodyBytes:  a.cfg.HTTP.MaxBodyBytes,
		OnRobotsFallback: func(host string) {
			metrics.ObserveRobotsFallback()
			a.logger.Debug("robots.txt unavailable, allowing all", zap.String("host", host))
		},
	})
	a.logger.Info("using colly discovery fetcher",
		zap.String("user_agent", a.cfg.HTTP.UserAgent),
		zap.Bool("respect_robots", a.cfg.HTTP.RespectRobots),
	)
	return discovery.New(fetcher, repos.Discovered, sha256.New(), clock, ids, discovery.Config{
		MaxSitemapDepth:  a.cfg.Discovery.MaxSitemapDepth,
		MaxCategoryPages: a.cfg.Discovery.MaxCategoryPages,
		RootRetries:      a.cfg.Discovery.RootRetries,
		RetryDelay:       a.cfg.Discovery.RetryDelay,
		ValidateURLs:     a.cfg.Discovery.ValidateURLs,
		ExcludedPatterns: a.cfg.Discovery.ExcludedPatterns,
	}, a.logger)
}

// setupRunners builds one rate limiter per job run; the extraction client and
// retry tuning are shared.
func (a *App) setupRunners(clock crawler.Clock) (jobs.RunnerFactory, error) {
	client, err := remote.New(remote.Config{
		Endpoint: a.cfg.Worker.Endpoint,
		Timeout:  a.cfg.Worker.Timeout,
		Token:    a.cfg.Worker.Token,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction client init failed: %w", err)
	}
	a.logger.Info("article worker configured",
		zap.String("endpoint", a.cfg.Worker.Endpoint),
		zap.Duration("timeout", a.cfg.Worker.Timeout),
		zap.Int("max_retries", a.cfg.HTTP.MaxRetries),
	)
	httpCfg := a.cfg.HTTP
	return func(cfg crawler.JobConfig) dispatcher.TaskRunner {
		return worker.NewRunner(
			client,
			ratelimit.ForJob(cfg),
			crawler.NewExponentialRetryPolicy(httpCfg.MaxRetries, httpCfg.BackoffInitial, httpCfg.BackoffMax),
			clock,
			a.progressHub,
			a.logger,
		)
	}, nil
}
