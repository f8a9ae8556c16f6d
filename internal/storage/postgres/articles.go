package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const articleColumns = `a.id, a.url, a.website_id, a.title, a.author, a.published_at, a.image_url,
a.metadata, a.active, a.update_count, a.created_at, a.updated_at, a.last_checked_at`

const articleCategoriesColumn = `COALESCE((
	SELECT array_agg(c.name ORDER BY c.name)
	FROM article_categories ac JOIN categories c ON c.id = ac.category_id
	WHERE ac.article_id = a.id), '{}') AS categories`

// errInsertRace reports that another writer inserted the URL between our
// locking read and insert.
var errInsertRace = errors.New("article inserted concurrently")

// UpsertArticle locks the URL's row (if any) inside a transaction, applies
// mutate and writes the result. A concurrent first insert is retried once so
// the loser observes the winner's row.
func (s *Store) UpsertArticle(ctx context.Context, url string, mutate store.ArticleMutator) (crawler.Article, error) {
	for attempt := 0; ; attempt++ {
		article, err := s.upsertArticleOnce(ctx, url, mutate)
		if errors.Is(err, errInsertRace) && attempt == 0 {
			continue
		}
		return article, err
	}
}

func (s *Store) upsertArticleOnce(ctx context.Context, url string, mutate store.ArticleMutator) (article crawler.Article, err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return crawler.Article{}, mapError("begin article upsert", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, err := lockArticle(ctx, tx, url)
	if err != nil {
		return crawler.Article{}, err
	}
	next, err := mutate(existing)
	if err != nil {
		return crawler.Article{}, err
	}
	next.URL = url
	metadata, err := json.Marshal(next.Metadata)
	if err != nil {
		return crawler.Article{}, fmt.Errorf("marshal article metadata: %w", err)
	}

	if existing == nil {
		if next.ID == "" {
			return crawler.Article{}, fmt.Errorf("article %s: id is required", url)
		}
		next.Categories = crawler.UnionStrings(nil, next.Categories)
		tag, execErr := tx.Exec(ctx, `
INSERT INTO articles (id, url, website_id, title, author, published_at, image_url, metadata, active,
	update_count, created_at, updated_at, last_checked_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (url) DO NOTHING`,
			next.ID, next.URL, next.WebsiteID, next.Title, nullString(next.Author), next.PublishedAt,
			nullString(next.ImageURL), metadata, next.Active, next.UpdateCount,
			next.CreatedAt, next.UpdatedAt, next.LastCheckedAt,
		)
		if execErr != nil {
			return crawler.Article{}, mapError("insert article", execErr)
		}
		if tag.RowsAffected() == 0 {
			return crawler.Article{}, errInsertRace
		}
	} else {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		next.Categories = crawler.UnionStrings(existing.Categories, next.Categories)
		_, execErr := tx.Exec(ctx, `
UPDATE articles
SET website_id = $2, title = $3, author = $4, published_at = $5, image_url = $6, metadata = $7,
	active = $8, update_count = $9, updated_at = $10, last_checked_at = $11
WHERE id = $1`,
			next.ID, next.WebsiteID, next.Title, nullString(next.Author), next.PublishedAt,
			nullString(next.ImageURL), metadata, next.Active, next.UpdateCount,
			next.UpdatedAt, next.LastCheckedAt,
		)
		if execErr != nil {
			return crawler.Article{}, mapError("update article", execErr)
		}
	}

	if err = linkCategories(ctx, tx, next); err != nil {
		return crawler.Article{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return crawler.Article{}, mapError("commit article upsert", err)
	}
	return next, nil
}

func lockArticle(ctx context.Context, tx pgx.Tx, url string) (*crawler.Article, error) {
	row := tx.QueryRow(ctx, `SELECT `+articleColumns+` FROM articles a WHERE a.url = $1 FOR UPDATE`, url)
	article, err := scanArticle(row, false)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapError("lock article", err)
	}
	rows, err := tx.Query(ctx, `
SELECT c.name
FROM article_categories ac JOIN categories c ON c.id = ac.category_id
WHERE ac.article_id = $1
ORDER BY c.name`, article.ID)
	if err != nil {
		return nil, mapError("load article categories", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category name: %w", err)
		}
		article.Categories = append(article.Categories, name)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("load article categories", err)
	}
	return &article, nil
}

func linkCategories(ctx context.Context, tx pgx.Tx, article crawler.Article) error {
	for _, name := range article.Categories {
		var categoryID string
		err := tx.QueryRow(ctx, `
INSERT INTO categories (id, website_id, name)
VALUES ($1, $2, $3)
ON CONFLICT (website_id, name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, uuid.NewString(), article.WebsiteID, name).Scan(&categoryID)
		if err != nil {
			return mapError("ensure category", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO article_categories (article_id, category_id)
VALUES ($1, $2)
ON CONFLICT DO NOTHING`, article.ID, categoryID)
		if err != nil {
			return mapError("link article category", err)
		}
	}
	return nil
}

// GetArticle loads an article by ID.
func (s *Store) GetArticle(ctx context.Context, id string) (crawler.Article, error) {
	return s.getArticle(ctx, sq.Eq{"a.id": id})
}

// GetArticleByURL loads an article by canonical URL.
func (s *Store) GetArticleByURL(ctx context.Context, url string) (crawler.Article, error) {
	return s.getArticle(ctx, sq.Eq{"a.url": url})
}

func (s *Store) getArticle(ctx context.Context, where sq.Sqlizer) (crawler.Article, error) {
	query, args, err := s.sb.Select(articleColumns, articleCategoriesColumn).From("articles a").Where(where).ToSql()
	if err != nil {
		return crawler.Article{}, fmt.Errorf("get article: build query: %w", err)
	}
	article, err := scanArticle(s.pool.QueryRow(ctx, query, args...), true)
	if err != nil {
		return crawler.Article{}, mapError("get article", err)
	}
	return article, nil
}

// ListArticles returns matching articles, newest first.
func (s *Store) ListArticles(ctx context.Context, filter store.ArticleFilter) ([]crawler.Article, error) {
	builder := s.sb.Select(articleColumns, articleCategoriesColumn).
		From("articles a").
		Where(articleWhere(filter)).
		OrderBy("a.created_at DESC", "a.url")
	query, args, err := page(builder, filter.Limit, filter.Offset).ToSql()
	if err != nil {
		return nil, fmt.Errorf("list articles: build query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list articles", err)
	}
	defer rows.Close()

	var out []crawler.Article
	for rows.Next() {
		article, err := scanArticle(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		out = append(out, article)
	}
	return out, mapError("list articles", rows.Err())
}

// CountArticles counts matching articles.
func (s *Store) CountArticles(ctx context.Context, filter store.ArticleFilter) (int, error) {
	builder := s.sb.Select("count(*)").From("articles a").Where(articleWhere(filter))
	return s.count(ctx, builder, "count articles")
}

// likeEscaper makes search text match literally under ILIKE's default
// backslash escape.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func articleWhere(filter store.ArticleFilter) sq.And {
	preds := sq.And{}
	if filter.WebsiteID != "" {
		preds = append(preds, sq.Eq{"a.website_id": filter.WebsiteID})
	}
	if filter.ActiveOnly {
		preds = append(preds, sq.Eq{"a.active": true})
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := "%" + likeEscaper.Replace(search) + "%"
		preds = append(preds, sq.Or{sq.ILike{"a.title": pattern}, sq.ILike{"a.url": pattern}})
	}
	return append(preds, windowPredicates("a.created_at", filter.CreatedFrom, filter.CreatedTo)...)
}

func scanArticle(row pgx.Row, withCategories bool) (crawler.Article, error) {
	var (
		a        crawler.Article
		author   *string
		image    *string
		metadata []byte
	)
	dest := []any{
		&a.ID, &a.URL, &a.WebsiteID, &a.Title, &author, &a.PublishedAt, &image,
		&metadata, &a.Active, &a.UpdateCount, &a.CreatedAt, &a.UpdatedAt, &a.LastCheckedAt,
	}
	if withCategories {
		dest = append(dest, &a.Categories)
	}
	if err := row.Scan(dest...); err != nil {
		return crawler.Article{}, err
	}
	a.Author = deref(author)
	a.ImageURL = deref(image)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return crawler.Article{}, fmt.Errorf("decode article metadata: %w", err)
		}
	}
	if withCategories && len(a.Categories) == 0 {
		a.Categories = nil
	}
	return a, nil
}
