package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const errorColumns = "id, job_id, website_id, url, error_type, message, severity, created_at, resolved, resolved_at"

// InsertError appends an error record.
func (s *Store) InsertError(ctx context.Context, record crawler.ScrapingError) error {
	query := `
INSERT INTO scraping_errors (id, job_id, website_id, url, error_type, message, severity, created_at, resolved, resolved_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.pool.Exec(ctx, query,
		record.ID, nullString(record.JobID), record.WebsiteID, record.URL, string(record.Kind),
		record.Message, string(record.Severity), record.CreatedAt, record.Resolved, record.ResolvedAt,
	)
	return mapError("insert scraping error", err)
}

// ResolveError marks a record resolved, keeping the first resolution time.
func (s *Store) ResolveError(ctx context.Context, id string, at time.Time) (crawler.ScrapingError, error) {
	query := `
UPDATE scraping_errors
SET resolved = TRUE, resolved_at = COALESCE(resolved_at, $2)
WHERE id = $1
RETURNING ` + errorColumns
	record, err := scanError(s.pool.QueryRow(ctx, query, id, at))
	if err != nil {
		return crawler.ScrapingError{}, mapError("resolve scraping error", err)
	}
	return record, nil
}

// ListErrors returns matching errors, newest first.
func (s *Store) ListErrors(ctx context.Context, filter store.ErrorFilter) ([]crawler.ScrapingError, error) {
	builder := s.sb.Select(errorColumns).
		From("scraping_errors").
		Where(errorWhere(filter)).
		OrderBy("created_at DESC", "id DESC")
	query, args, err := page(builder, filter.Limit, filter.Offset).ToSql()
	if err != nil {
		return nil, fmt.Errorf("list scraping errors: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list scraping errors", err)
	}
	defer rows.Close()

	var out []crawler.ScrapingError
	for rows.Next() {
		record, err := scanError(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scraping error row: %w", err)
		}
		out = append(out, record)
	}
	return out, mapError("list scraping errors", rows.Err())
}

// CountErrors counts matching errors.
func (s *Store) CountErrors(ctx context.Context, filter store.ErrorFilter) (int, error) {
	return s.count(ctx, s.sb.Select("count(*)").From("scraping_errors").Where(errorWhere(filter)), "count scraping errors")
}

// CountErrorsByKind groups matching errors by kind.
func (s *Store) CountErrorsByKind(ctx context.Context, filter store.ErrorFilter) (map[crawler.ErrorKind]int, error) {
	query, args, err := s.sb.Select("error_type", "count(*)").
		From("scraping_errors").
		Where(errorWhere(filter)).
		GroupBy("error_type").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("count errors by kind: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("count errors by kind", err)
	}
	defer rows.Close()

	out := make(map[crawler.ErrorKind]int)
	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan error kind row: %w", err)
		}
		out[crawler.ErrorKind(kind)] = n
	}
	return out, mapError("count errors by kind", rows.Err())
}

func errorWhere(filter store.ErrorFilter) sq.And {
	preds := sq.And{}
	if filter.JobID != "" {
		preds = append(preds, sq.Eq{"job_id": filter.JobID})
	}
	if filter.WebsiteID != "" {
		preds = append(preds, sq.Eq{"website_id": filter.WebsiteID})
	}
	if filter.Resolved != nil {
		preds = append(preds, sq.Eq{"resolved": *filter.Resolved})
	}
	return append(preds, windowPredicates("created_at", filter.CreatedFrom, filter.CreatedTo)...)
}

func scanError(row pgx.Row) (crawler.ScrapingError, error) {
	var (
		e        crawler.ScrapingError
		jobID    *string
		kind     string
		severity string
	)
	err := row.Scan(&e.ID, &jobID, &e.WebsiteID, &e.URL, &kind, &e.Message, &severity, &e.CreatedAt, &e.Resolved, &e.ResolvedAt)
	if err != nil {
		return crawler.ScrapingError{}, err
	}
	e.JobID = deref(jobID)
	e.Kind = crawler.ErrorKind(kind)
	e.Severity = crawler.Severity(severity)
	return e, nil
}
