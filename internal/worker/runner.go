// Package worker executes single article tasks: it throttles per domain,
// calls the extraction contract and retries transient failures.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
)

// Feedback is implemented by limiters that adapt to rate-limit responses.
type Feedback interface {
	ReportResult(url string, kind crawler.ErrorKind)
}

// Runner executes one task at a time on behalf of a pool goroutine.
type Runner struct {
	worker  crawler.ArticleWorker
	limiter crawler.Limiter
	retry   crawler.RetryPolicy
	clock   crawler.Clock
	events  progress.Emitter
	logger  *zap.Logger
}

// NewRunner wires a Runner. A nil limiter or retry policy disables that
// concern.
func NewRunner(
	worker crawler.ArticleWorker,
	limiter crawler.Limiter,
	retry crawler.RetryPolicy,
	clock crawler.Clock,
	events progress.Emitter,
	logger *zap.Logger,
) *Runner {
	if events == nil {
		events = progress.Nop
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		worker:  worker,
		limiter: limiter,
		retry:   retry,
		clock:   clock,
		events:  events,
		logger:  logger.Named("worker"),
	}
}

// Run crawls task, retrying transient failures. The result is never partial:
// on error Article is zero.
func (r *Runner) Run(ctx context.Context, task crawler.Task) crawler.TaskResult {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := r.clock.Now()
	res := crawler.TaskResult{Task: task}
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		article, err := r.attempt(ctx, task)
		if err == nil {
			res.Article = article
			res.Err = nil
			break
		}
		res.Err = err
		if r.retry == nil || !r.retry.ShouldRetry(err, attempt) {
			break
		}
		delay := r.retry.Backoff(attempt - 1)
		r.logger.Debug("retrying article",
			zap.String("job_id", task.JobID),
			zap.String("url", task.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			res.Err = err
			break
		}
	}
	res.Duration = r.clock.Now().Sub(start)

	if res.Err != nil && !crawler.IsCanceled(res.Err) {
		kind := crawler.ClassifyError(res.Err)
		r.events.Emit(progress.Event{
			JobID:     task.JobID,
			WebsiteID: task.WebsiteID,
			TS:        r.clock.Now(),
			Stage:     progress.StageURLError,
			Site:      metrics.SanitizeSite(task.URL),
			URL:       task.URL,
			ErrorKind: kind,
			Attempts:  res.Attempts,
			Dur:       res.Duration,
			Note:      res.Err.Error(),
		})
	}
	return res
}

func (r *Runner) attempt(ctx context.Context, task crawler.Task) (crawler.ArticleResult, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, task.URL); err != nil {
			return crawler.ArticleResult{}, fmt.Errorf("wait for rate limit: %w", err)
		}
	}
	article, err := r.worker.Crawl(ctx, task)
	if err != nil {
		if fb, ok := r.limiter.(Feedback); ok {
			fb.ReportResult(task.URL, crawler.ClassifyError(err))
		}
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return crawler.ArticleResult{}, err
	}
	if article.URL == "" {
		article.URL = task.URL
	}
	return article, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
