package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

var websiteColumns = []string{"id", "name", "base_url", "sitemap_url", "active", "created_at", "updated_at"}

// CreateWebsite inserts a website.
func (s *Store) CreateWebsite(ctx context.Context, website crawler.Website) error {
	now := s.now()
	if website.CreatedAt.IsZero() {
		website.CreatedAt = now
	}
	query := `
INSERT INTO websites (id, name, base_url, sitemap_url, active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, query,
		website.ID,
		website.Name,
		website.BaseURL,
		nullString(website.SitemapURL),
		website.Active,
		website.CreatedAt,
		now,
	)
	return mapError("insert website", err)
}

// UpdateWebsite overwrites mutable website columns.
func (s *Store) UpdateWebsite(ctx context.Context, website crawler.Website) error {
	query := `
UPDATE websites
SET name = $2, base_url = $3, sitemap_url = $4, active = $5, updated_at = $6
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		website.ID,
		website.Name,
		website.BaseURL,
		nullString(website.SitemapURL),
		website.Active,
		s.now(),
	)
	if err != nil {
		return mapError("update website", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteWebsite removes a website; foreign keys cascade to dependents.
func (s *Store) DeleteWebsite(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM websites WHERE id = $1`, id)
	if err != nil {
		return mapError("delete website", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetWebsite loads a website by ID.
func (s *Store) GetWebsite(ctx context.Context, id string) (crawler.Website, error) {
	return s.getWebsite(ctx, sq.Eq{"id": id})
}

// GetWebsiteByBaseURL loads a website by base URL.
func (s *Store) GetWebsiteByBaseURL(ctx context.Context, baseURL string) (crawler.Website, error) {
	return s.getWebsite(ctx, sq.Eq{"base_url": baseURL})
}

func (s *Store) getWebsite(ctx context.Context, where sq.Sqlizer) (crawler.Website, error) {
	query, args, err := s.sb.Select(websiteColumns...).From("websites").Where(where).ToSql()
	if err != nil {
		return crawler.Website{}, fmt.Errorf("get website: build query: %w", err)
	}
	website, err := scanWebsite(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return crawler.Website{}, mapError("get website", err)
	}
	return website, nil
}

// ListWebsites returns websites ordered by name.
func (s *Store) ListWebsites(ctx context.Context, activeOnly bool) ([]crawler.Website, error) {
	builder := s.sb.Select(websiteColumns...).From("websites").OrderBy("lower(name)", "id")
	if activeOnly {
		builder = builder.Where(sq.Eq{"active": true})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("list websites: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list websites", err)
	}
	defer rows.Close()

	var out []crawler.Website
	for rows.Next() {
		website, err := scanWebsite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan website row: %w", err)
		}
		out = append(out, website)
	}
	return out, mapError("list websites", rows.Err())
}

// CountWebsites counts websites.
func (s *Store) CountWebsites(ctx context.Context, activeOnly bool) (int, error) {
	builder := s.sb.Select("count(*)").From("websites")
	if activeOnly {
		builder = builder.Where(sq.Eq{"active": true})
	}
	return s.count(ctx, builder, "count websites")
}

// CreateCategory inserts a category.
func (s *Store) CreateCategory(ctx context.Context, category crawler.Category) error {
	if category.CreatedAt.IsZero() {
		category.CreatedAt = s.now()
	}
	query := `
INSERT INTO categories (id, website_id, name, url, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query,
		category.ID,
		category.WebsiteID,
		category.Name,
		nullString(category.URL),
		category.CreatedAt,
	)
	return mapError("insert category", err)
}

// ListCategories returns a website's categories ordered by name.
func (s *Store) ListCategories(ctx context.Context, websiteID string) ([]crawler.Category, error) {
	query := `
SELECT id, website_id, name, url, created_at
FROM categories
WHERE website_id = $1
ORDER BY name`
	rows, err := s.pool.Query(ctx, query, websiteID)
	if err != nil {
		return nil, mapError("list categories", err)
	}
	defer rows.Close()

	var out []crawler.Category
	for rows.Next() {
		var (
			c   crawler.Category
			url *string
		)
		if err := rows.Scan(&c.ID, &c.WebsiteID, &c.Name, &url, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan category row: %w", err)
		}
		c.URL = deref(url)
		out = append(out, c)
	}
	return out, mapError("list categories", rows.Err())
}

// UpsertDiscoveredURL inserts or refreshes a candidate. A missing lastmod
// keeps the previously known one.
func (s *Store) UpsertDiscoveredURL(ctx context.Context, d crawler.DiscoveredURL) error {
	query := `
INSERT INTO discovered_urls (id, website_id, url, last_modified, is_valid, last_checked_at, status_code, source, category)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (website_id, url) DO UPDATE SET
	last_modified = COALESCE(EXCLUDED.last_modified, discovered_urls.last_modified),
	is_valid = EXCLUDED.is_valid,
	last_checked_at = EXCLUDED.last_checked_at,
	status_code = COALESCE(EXCLUDED.status_code, discovered_urls.status_code),
	source = EXCLUDED.source,
	category = COALESCE(EXCLUDED.category, discovered_urls.category)`
	_, err := s.pool.Exec(ctx, query,
		d.ID,
		d.WebsiteID,
		d.URL,
		d.LastModified,
		d.IsValid,
		d.LastCheckedAt,
		nullInt(d.StatusCode),
		string(d.Source),
		nullString(d.Category),
	)
	return mapError("upsert discovered url", err)
}

// ListDiscoveredURLs returns a website's candidates, most recently checked first.
func (s *Store) ListDiscoveredURLs(ctx context.Context, websiteID string, limit int) ([]crawler.DiscoveredURL, error) {
	builder := s.sb.
		Select("id", "website_id", "url", "last_modified", "is_valid", "last_checked_at", "status_code", "source", "category").
		From("discovered_urls").
		Where(sq.Eq{"website_id": websiteID}).
		OrderBy("last_checked_at DESC", "url")
	query, args, err := page(builder, limit, 0).ToSql()
	if err != nil {
		return nil, fmt.Errorf("list discovered urls: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list discovered urls", err)
	}
	defer rows.Close()

	var out []crawler.DiscoveredURL
	for rows.Next() {
		var (
			d        crawler.DiscoveredURL
			status   *int
			source   string
			category *string
		)
		err := rows.Scan(&d.ID, &d.WebsiteID, &d.URL, &d.LastModified, &d.IsValid, &d.LastCheckedAt, &status, &source, &category)
		if err != nil {
			return nil, fmt.Errorf("scan discovered url row: %w", err)
		}
		if status != nil {
			d.StatusCode = *status
		}
		d.Source = crawler.DiscoverySource(source)
		d.Category = deref(category)
		out = append(out, d)
	}
	return out, mapError("list discovered urls", rows.Err())
}

func scanWebsite(row pgx.Row) (crawler.Website, error) {
	var (
		w       crawler.Website
		sitemap *string
	)
	if err := row.Scan(&w.ID, &w.Name, &w.BaseURL, &sitemap, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return crawler.Website{}, err
	}
	w.SitemapURL = deref(sitemap)
	return w, nil
}
