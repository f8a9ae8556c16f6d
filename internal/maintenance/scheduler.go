// Package maintenance re-crawls every active website on a cron schedule with
// maintenance mode on, so only new or changed articles are fetched.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/jobs"
)

const defaultRunTimeout = time.Minute

// Starter starts one job per active website.
type Starter interface {
	StartAll(ctx context.Context, cfg crawler.JobConfig) ([]jobs.StartResult, error)
}

// Summary counts the outcome of one scheduled run.
type Summary struct {
	Started int
	Busy    int
	Failed  int
}

// Scheduler triggers StartAll on a standard five-field cron expression.
type Scheduler struct {
	cron    *cron.Cron
	starter Starter
	config  crawler.JobConfig
	timeout time.Duration
	logger  *zap.Logger
}

// New parses schedule and prepares a Scheduler. Every run uses config with
// MaintenanceMode forced on.
func New(schedule string, starter Starter, config crawler.JobConfig, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("maintenance")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cronLogger{logger: logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
	)
	config.MaintenanceMode = true
	s := &Scheduler{
		cron:    c,
		starter: starter,
		config:  config,
		timeout: defaultRunTimeout,
		logger:  logger,
	}
	if _, err := c.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("parse maintenance schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Info("maintenance scheduled", zap.Time("next_run", entry.Next))
	}
}

// Stop halts the schedule and waits for a running trigger to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop maintenance scheduler: %w", ctx.Err())
	}
}

// RunOnce starts a maintenance job for every active website now.
func (s *Scheduler) RunOnce(ctx context.Context) (Summary, error) {
	results, err := s.starter.StartAll(ctx, s.config)
	if err != nil {
		return Summary{}, fmt.Errorf("start maintenance jobs: %w", err)
	}
	var summary Summary
	for _, res := range results {
		switch {
		case res.Err == nil:
			summary.Started++
		case errors.Is(res.Err, jobs.ErrWebsiteBusy):
			summary.Busy++
		default:
			summary.Failed++
		}
	}
	return summary, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	summary, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("maintenance run failed", zap.Error(err))
		return
	}
	s.logger.Info("maintenance run started jobs",
		zap.Int("started", summary.Started),
		zap.Int("busy", summary.Busy),
		zap.Int("failed", summary.Failed),
	)
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
