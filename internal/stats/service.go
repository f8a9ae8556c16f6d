// Package stats computes dashboard rollups on demand from count queries over
// the persisted tables. It keeps no counters of its own.
package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const (
	week              = 7 * 24 * time.Hour
	websiteRecentJobs = 5
	performanceLimit  = 1000
)

// Delta compares a count over the last seven days with the seven before.
type Delta struct {
	Current  int     `json:"current"`
	Previous int     `json:"previous"`
	Change   int     `json:"change"`
	Percent  float64 `json:"percent"`
}

func newDelta(current, previous int) Delta {
	d := Delta{Current: current, Previous: previous, Change: current - previous}
	if previous > 0 {
		d.Percent = float64(d.Change) / float64(previous) * 100
	}
	return d
}

// Dashboard is the top-level rollup.
type Dashboard struct {
	TotalArticles    int   `json:"total_articles"`
	ActiveWebsites   int   `json:"active_websites"`
	ActiveJobs       int   `json:"active_jobs"`
	UnresolvedErrors int   `json:"unresolved_errors"`
	ArticlesCreated  Delta `json:"articles_created"`
	JobsStarted      Delta `json:"jobs_started"`
	ErrorsRecorded   Delta `json:"errors_recorded"`
}

// WebsiteStats summarizes one website.
type WebsiteStats struct {
	WebsiteID         string                    `json:"website_id"`
	JobStats          map[crawler.JobStatus]int `json:"job_stats"`
	TotalArticles     int                       `json:"total_articles"`
	LatestArticleDate *time.Time                `json:"latest_article_date,omitempty"`
	RecentJobs        []crawler.Job             `json:"recent_jobs"`
}

// Performance summarizes jobs created in a trailing window.
type Performance struct {
	Days              int     `json:"days"`
	TotalJobs         int     `json:"total_jobs"`
	SuccessRate       float64 `json:"success_rate"`
	FailureRate       float64 `json:"failure_rate"`
	AvgArticlesPerJob float64 `json:"avg_articles_per_job"`
	AvgJobDuration    float64 `json:"avg_job_duration_seconds"`
}

// RecentJob is a job joined with its website name.
type RecentJob struct {
	crawler.Job
	WebsiteName string `json:"website_name"`
}

// Service answers stats queries.
type Service struct {
	repos       store.Repositories
	clock       crawler.Clock
	errorWindow time.Duration
	logger      *zap.Logger
}

// NewService wires a Service. errorWindow bounds the unresolved error count
// and defaults to 24h.
func NewService(repos store.Repositories, clock crawler.Clock, errorWindow time.Duration, logger *zap.Logger) *Service {
	if errorWindow <= 0 {
		errorWindow = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repos: repos, clock: clock, errorWindow: errorWindow, logger: logger.Named("stats")}
}

// Dashboard computes the overview rollup.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	now := s.clock.Now()
	var out Dashboard
	var err error

	if out.TotalArticles, err = s.repos.Articles.CountArticles(ctx, store.ArticleFilter{ActiveOnly: true}); err != nil {
		return Dashboard{}, fmt.Errorf("count articles: %w", err)
	}
	if out.ActiveWebsites, err = s.repos.Websites.CountWebsites(ctx, true); err != nil {
		return Dashboard{}, fmt.Errorf("count websites: %w", err)
	}
	active := store.JobFilter{Statuses: []crawler.JobStatus{crawler.JobStatusRunning, crawler.JobStatusPaused}}
	if out.ActiveJobs, err = s.repos.Jobs.CountJobs(ctx, active); err != nil {
		return Dashboard{}, fmt.Errorf("count active jobs: %w", err)
	}
	unresolved := false
	from := now.Add(-s.errorWindow)
	out.UnresolvedErrors, err = s.repos.Errors.CountErrors(ctx, store.ErrorFilter{Resolved: &unresolved, CreatedFrom: &from})
	if err != nil {
		return Dashboard{}, fmt.Errorf("count unresolved errors: %w", err)
	}

	thisWeek, lastWeek := now.Add(-week), now.Add(-2*week)
	if out.ArticlesCreated, err = s.weekly(now, thisWeek, lastWeek, func(from, to *time.Time) (int, error) {
		return s.repos.Articles.CountArticles(ctx, store.ArticleFilter{CreatedFrom: from, CreatedTo: to})
	}); err != nil {
		return Dashboard{}, fmt.Errorf("articles delta: %w", err)
	}
	if out.JobsStarted, err = s.weekly(now, thisWeek, lastWeek, func(from, to *time.Time) (int, error) {
		return s.repos.Jobs.CountJobs(ctx, store.JobFilter{CreatedFrom: from, CreatedTo: to})
	}); err != nil {
		return Dashboard{}, fmt.Errorf("jobs delta: %w", err)
	}
	if out.ErrorsRecorded, err = s.weekly(now, thisWeek, lastWeek, func(from, to *time.Time) (int, error) {
		return s.repos.Errors.CountErrors(ctx, store.ErrorFilter{CreatedFrom: from, CreatedTo: to})
	}); err != nil {
		return Dashboard{}, fmt.Errorf("errors delta: %w", err)
	}
	return out, nil
}

func (s *Service) weekly(now, thisWeek, lastWeek time.Time, count func(from, to *time.Time) (int, error)) (Delta, error) {
	end := now.Add(time.Nanosecond)
	current, err := count(&thisWeek, &end)
	if err != nil {
		return Delta{}, err
	}
	previous, err := count(&lastWeek, &thisWeek)
	if err != nil {
		return Delta{}, err
	}
	return newDelta(current, previous), nil
}

// JobStats counts jobs per status, optionally for one website.
func (s *Service) JobStats(ctx context.Context, websiteID string) (map[crawler.JobStatus]int, error) {
	out := make(map[crawler.JobStatus]int, len(crawler.JobStatuses))
	for _, status := range crawler.JobStatuses {
		n, err := s.repos.Jobs.CountJobs(ctx, store.JobFilter{WebsiteID: websiteID, Statuses: []crawler.JobStatus{status}})
		if err != nil {
			return nil, fmt.Errorf("count %s jobs: %w", status, err)
		}
		out[status] = n
	}
	return out, nil
}

// WebsiteStats summarizes one website.
func (s *Service) WebsiteStats(ctx context.Context, websiteID string) (WebsiteStats, error) {
	if _, err := s.repos.Websites.GetWebsite(ctx, websiteID); err != nil {
		return WebsiteStats{}, fmt.Errorf("load website %s: %w", websiteID, err)
	}
	jobStats, err := s.JobStats(ctx, websiteID)
	if err != nil {
		return WebsiteStats{}, err
	}
	total, err := s.repos.Articles.CountArticles(ctx, store.ArticleFilter{WebsiteID: websiteID})
	if err != nil {
		return WebsiteStats{}, fmt.Errorf("count website articles: %w", err)
	}
	latest, err := s.repos.Articles.ListArticles(ctx, store.ArticleFilter{WebsiteID: websiteID, Limit: 1})
	if err != nil {
		return WebsiteStats{}, fmt.Errorf("latest website article: %w", err)
	}
	recent, err := s.repos.Jobs.ListJobs(ctx, store.JobFilter{WebsiteID: websiteID, Limit: websiteRecentJobs})
	if err != nil {
		return WebsiteStats{}, fmt.Errorf("recent website jobs: %w", err)
	}
	out := WebsiteStats{
		WebsiteID:     websiteID,
		JobStats:      jobStats,
		TotalArticles: total,
		RecentJobs:    recent,
	}
	if out.RecentJobs == nil {
		out.RecentJobs = []crawler.Job{}
	}
	if len(latest) > 0 {
		created := latest[0].CreatedAt
		out.LatestArticleDate = &created
	}
	return out, nil
}

// Performance reports success and failure rates, average articles per job
// and average duration for jobs created in the last days.
func (s *Service) Performance(ctx context.Context, days int) (Performance, error) {
	if days <= 0 {
		days = 7
	}
	from := s.clock.Now().AddDate(0, 0, -days)
	list, err := s.repos.Jobs.ListJobs(ctx, store.JobFilter{CreatedFrom: &from, Limit: performanceLimit})
	if err != nil {
		return Performance{}, fmt.Errorf("list jobs: %w", err)
	}
	out := Performance{Days: days, TotalJobs: len(list)}
	if len(list) == 0 {
		return out, nil
	}
	var completed, failed, processed, timed int
	var duration time.Duration
	for _, job := range list {
		switch job.Status {
		case crawler.JobStatusCompleted:
			completed++
		case crawler.JobStatusFailed:
			failed++
		}
		processed += job.ArticlesProcessed
		if job.StartTime != nil && job.EndTime != nil {
			duration += job.EndTime.Sub(*job.StartTime)
			timed++
		}
	}
	total := float64(len(list))
	out.SuccessRate = float64(completed) / total * 100
	out.FailureRate = float64(failed) / total * 100
	out.AvgArticlesPerJob = float64(processed) / total
	if timed > 0 {
		out.AvgJobDuration = duration.Seconds() / float64(timed)
	}
	return out, nil
}

// RecentJobs returns the newest jobs with their website names.
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]RecentJob, error) {
	if limit <= 0 {
		limit = 10
	}
	list, err := s.repos.Jobs.ListJobs(ctx, store.JobFilter{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	names := make(map[string]string)
	out := make([]RecentJob, 0, len(list))
	for _, job := range list {
		name, ok := names[job.WebsiteID]
		if !ok {
			website, err := s.repos.Websites.GetWebsite(ctx, job.WebsiteID)
			if err != nil {
				s.logger.Warn("website lookup failed", zap.String("website_id", job.WebsiteID), zap.Error(err))
			}
			name = website.Name
			names[job.WebsiteID] = name
		}
		out = append(out, RecentJob{Job: job, WebsiteName: name})
	}
	return out, nil
}
