// Package failures records and summarizes scraping errors.
package failures

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const summaryRecentLimit = 10

// Summary aggregates errors recorded over a trailing window.
type Summary struct {
	Days       int                       `json:"days"`
	Total      int                       `json:"total"`
	ByKind     map[crawler.ErrorKind]int `json:"by_type"`
	BySeverity map[crawler.Severity]int  `json:"by_severity"`
	Recent     []crawler.ScrapingError   `json:"recent"`
}

// Aggregator is the single entry point for recording scraping errors.
type Aggregator struct {
	repo   store.ErrorRepository
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// New constructs an Aggregator.
func New(repo store.ErrorRepository, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{repo: repo, clock: clock, ids: ids, logger: logger.Named("failures")}
}

// Record appends an error for a job's URL and returns the stored record.
func (a *Aggregator) Record(
	ctx context.Context,
	jobID, websiteID, url string,
	kind crawler.ErrorKind,
	message string,
) (crawler.ScrapingError, error) {
	kind = crawler.ParseErrorKind(string(kind))
	id, err := a.ids.NewID()
	if err != nil {
		return crawler.ScrapingError{}, fmt.Errorf("generate error id: %w", err)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = string(kind) + " error"
	}
	record := crawler.ScrapingError{
		ID:        id,
		JobID:     jobID,
		WebsiteID: websiteID,
		URL:       url,
		Kind:      kind,
		Message:   message,
		Severity:  crawler.SeverityFor(kind),
		CreatedAt: a.clock.Now(),
	}
	if err := a.repo.InsertError(ctx, record); err != nil {
		return crawler.ScrapingError{}, fmt.Errorf("record scraping error: %w", err)
	}
	metrics.ObserveScrapingError(string(kind))
	a.logger.Info("scraping error recorded",
		zap.String("job_id", jobID),
		zap.String("url", url),
		zap.String("error_type", string(kind)),
		zap.String("severity", string(record.Severity)),
		zap.String("message", message),
	)
	return record, nil
}

// Resolve marks an error resolved. Resolving twice is a no-op that keeps the
// first resolution time.
func (a *Aggregator) Resolve(ctx context.Context, id string) (crawler.ScrapingError, error) {
	record, err := a.repo.ResolveError(ctx, id, a.clock.Now())
	if err != nil {
		return crawler.ScrapingError{}, fmt.Errorf("resolve error %s: %w", id, err)
	}
	return record, nil
}

// CountForJob counts all errors recorded for a job.
func (a *Aggregator) CountForJob(ctx context.Context, jobID string) (int, error) {
	n, err := a.repo.CountErrors(ctx, store.ErrorFilter{JobID: jobID})
	if err != nil {
		return 0, fmt.Errorf("count job errors: %w", err)
	}
	return n, nil
}

// ListByJob returns a job's errors, newest first.
func (a *Aggregator) ListByJob(ctx context.Context, jobID string, limit, offset int) ([]crawler.ScrapingError, error) {
	list, err := a.repo.ListErrors(ctx, store.ErrorFilter{JobID: jobID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("list job errors: %w", err)
	}
	return emptyIfNil(list), nil
}

// Recent returns the newest errors across all jobs.
func (a *Aggregator) Recent(ctx context.Context, limit int) ([]crawler.ScrapingError, error) {
	if limit <= 0 {
		limit = summaryRecentLimit
	}
	list, err := a.repo.ListErrors(ctx, store.ErrorFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list recent errors: %w", err)
	}
	return emptyIfNil(list), nil
}

// Summary aggregates errors from the last days days.
func (a *Aggregator) Summary(ctx context.Context, days int) (Summary, error) {
	if days <= 0 {
		days = 7
	}
	since := a.clock.Now().Add(-time.Duration(days) * 24 * time.Hour)
	filter := store.ErrorFilter{CreatedFrom: &since}

	byKind, err := a.repo.CountErrorsByKind(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("count errors by kind: %w", err)
	}
	out := Summary{
		Days:       days,
		ByKind:     byKind,
		BySeverity: make(map[crawler.Severity]int),
	}
	for kind, n := range byKind {
		out.Total += n
		out.BySeverity[crawler.SeverityFor(kind)] += n
	}
	filter.Limit = summaryRecentLimit
	recent, err := a.repo.ListErrors(ctx, filter)
	if err != nil {
		return Summary{}, fmt.Errorf("list recent errors: %w", err)
	}
	out.Recent = emptyIfNil(recent)
	return out, nil
}

func emptyIfNil(list []crawler.ScrapingError) []crawler.ScrapingError {
	if list == nil {
		return []crawler.ScrapingError{}
	}
	return list
}
