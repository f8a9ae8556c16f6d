package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

var jobColumns = []string{
	"id", "website_id", "status", "start_time", "end_time", "paused_at",
	"articles_found", "articles_processed", "config", "error_message", "created_at", "updated_at",
}

// CreateJob inserts a job. The partial unique index on active statuses
// surfaces as ErrConflict.
func (s *Store) CreateJob(ctx context.Context, job crawler.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	query := `
INSERT INTO scraping_jobs (id, website_id, status, start_time, end_time, paused_at,
	articles_found, articles_processed, config, error_message, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err = s.pool.Exec(ctx, query,
		job.ID, job.WebsiteID, string(job.Status), job.StartTime, job.EndTime, job.PausedAt,
		job.ArticlesFound, job.ArticlesProcessed, cfg, job.ErrorMessage, job.CreatedAt, now,
	)
	return mapError("insert job", err)
}

// UpdateJob overwrites the job row.
func (s *Store) UpdateJob(ctx context.Context, job crawler.Job) error {
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	query := `
UPDATE scraping_jobs
SET status = $2, start_time = $3, end_time = $4, paused_at = $5, articles_found = $6,
	articles_processed = $7, config = $8, error_message = $9, updated_at = $10
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.StartTime, job.EndTime, job.PausedAt,
		job.ArticlesFound, job.ArticlesProcessed, cfg, job.ErrorMessage, s.now(),
	)
	if err != nil {
		return mapError("update job", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (crawler.Job, error) {
	query, args, err := s.sb.Select(jobColumns...).From("scraping_jobs").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: build query: %w", err)
	}
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return crawler.Job{}, mapError("get job", err)
	}
	return job, nil
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, filter store.JobFilter) ([]crawler.Job, error) {
	builder := s.sb.Select(jobColumns...).
		From("scraping_jobs").
		Where(jobWhere(filter)).
		OrderBy("created_at DESC", "id DESC")
	query, args, err := page(builder, filter.Limit, filter.Offset).ToSql()
	if err != nil {
		return nil, fmt.Errorf("list jobs: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list jobs", err)
	}
	defer rows.Close()

	var out []crawler.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, job)
	}
	return out, mapError("list jobs", rows.Err())
}

// CountJobs counts matching jobs.
func (s *Store) CountJobs(ctx context.Context, filter store.JobFilter) (int, error) {
	return s.count(ctx, s.sb.Select("count(*)").From("scraping_jobs").Where(jobWhere(filter)), "count jobs")
}

func jobWhere(filter store.JobFilter) sq.And {
	preds := sq.And{}
	if filter.WebsiteID != "" {
		preds = append(preds, sq.Eq{"website_id": filter.WebsiteID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		preds = append(preds, sq.Eq{"status": statuses})
	}
	return append(preds, windowPredicates("created_at", filter.CreatedFrom, filter.CreatedTo)...)
}

func scanJob(row pgx.Row) (crawler.Job, error) {
	var (
		j      crawler.Job
		status string
		cfg    []byte
	)
	err := row.Scan(
		&j.ID, &j.WebsiteID, &status, &j.StartTime, &j.EndTime, &j.PausedAt,
		&j.ArticlesFound, &j.ArticlesProcessed, &cfg, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return crawler.Job{}, err
	}
	j.Status = crawler.JobStatus(status)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &j.Config); err != nil {
			return crawler.Job{}, fmt.Errorf("decode job config: %w", err)
		}
	}
	return j, nil
}
