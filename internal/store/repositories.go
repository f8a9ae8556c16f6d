package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrConflict signals a unique constraint violation, such as a duplicate
// website base URL or a second active job for one website.
var ErrConflict = errors.New("record conflicts with existing data")

// WebsiteRepository persists operator-managed websites and categories.
type WebsiteRepository interface {
	// CreateWebsite inserts a website or returns ErrConflict for a duplicate base URL.
	CreateWebsite(ctx context.Context, website crawler.Website) error
	// UpdateWebsite overwrites mutable website columns.
	UpdateWebsite(ctx context.Context, website crawler.Website) error
	// DeleteWebsite removes a website and cascades to its dependents.
	DeleteWebsite(ctx context.Context, id string) error
	// GetWebsite loads one website or returns ErrNotFound.
	GetWebsite(ctx context.Context, id string) (crawler.Website, error)
	// GetWebsiteByBaseURL loads a website by its unique base URL.
	GetWebsiteByBaseURL(ctx context.Context, baseURL string) (crawler.Website, error)
	// ListWebsites returns websites ordered by name.
	ListWebsites(ctx context.Context, activeOnly bool) ([]crawler.Website, error)
	// CountWebsites counts websites, optionally only active ones.
	CountWebsites(ctx context.Context, activeOnly bool) (int, error)
	// CreateCategory inserts a category for a website.
	CreateCategory(ctx context.Context, category crawler.Category) error
	// ListCategories returns a website's categories ordered by name.
	ListCategories(ctx context.Context, websiteID string) ([]crawler.Category, error)
}

// DiscoveredURLRepository persists discovery candidates.
type DiscoveredURLRepository interface {
	// UpsertDiscoveredURL inserts or refreshes a candidate keyed by (website, url).
	UpsertDiscoveredURL(ctx context.Context, discovered crawler.DiscoveredURL) error
	// ListDiscoveredURLs returns a website's candidates, newest check first.
	ListDiscoveredURLs(ctx context.Context, websiteID string, limit int) ([]crawler.DiscoveredURL, error)
}

// ArticleMutator computes the row to persist from the current one. existing
// is nil when no article has the URL yet.
type ArticleMutator func(existing *crawler.Article) (crawler.Article, error)

// ArticleRepository persists deduplicated articles.
type ArticleRepository interface {
	// UpsertArticle serializes writers of one canonical URL, hands the
	// current row to mutate and persists its result. Categories on the
	// returned article are associated with the row (never removed).
	UpsertArticle(ctx context.Context, url string, mutate ArticleMutator) (crawler.Article, error)
	// GetArticle loads an article by ID or returns ErrNotFound.
	GetArticle(ctx context.Context, id string) (crawler.Article, error)
	// GetArticleByURL loads an article by canonical URL or returns ErrNotFound.
	GetArticleByURL(ctx context.Context, url string) (crawler.Article, error)
	// ListArticles returns articles matching the filter, newest first.
	ListArticles(ctx context.Context, filter ArticleFilter) ([]crawler.Article, error)
	// CountArticles counts articles matching the filter, ignoring paging.
	CountArticles(ctx context.Context, filter ArticleFilter) (int, error)
}

// JobRepository persists scraping jobs. Only the owning state machine writes
// a job after creation.
type JobRepository interface {
	// CreateJob inserts a job or returns ErrConflict when the website already
	// has an active job.
	CreateJob(ctx context.Context, job crawler.Job) error
	// UpdateJob overwrites the job row.
	UpdateJob(ctx context.Context, job crawler.Job) error
	// GetJob loads a job or returns ErrNotFound.
	GetJob(ctx context.Context, id string) (crawler.Job, error)
	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]crawler.Job, error)
	// CountJobs counts jobs matching the filter, ignoring paging.
	CountJobs(ctx context.Context, filter JobFilter) (int, error)
}

// ErrorRepository persists scraping errors.
type ErrorRepository interface {
	// InsertError appends an error record.
	InsertError(ctx context.Context, record crawler.ScrapingError) error
	// ResolveError marks an error resolved at the given time if it is not
	// already resolved, and returns the stored record.
	ResolveError(ctx context.Context, id string, at time.Time) (crawler.ScrapingError, error)
	// ListErrors returns errors matching the filter, newest first.
	ListErrors(ctx context.Context, filter ErrorFilter) ([]crawler.ScrapingError, error)
	// CountErrors counts errors matching the filter.
	CountErrors(ctx context.Context, filter ErrorFilter) (int, error)
	// CountErrorsByKind groups matching errors by kind.
	CountErrorsByKind(ctx context.Context, filter ErrorFilter) (map[crawler.ErrorKind]int, error)
}

// Repositories bundles every repository for wiring.
type Repositories struct {
	Websites   WebsiteRepository
	Discovered DiscoveredURLRepository
	Articles   ArticleRepository
	Jobs       JobRepository
	Errors     ErrorRepository
}
