package crawler

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrQueueClosed is returned by a Queue that was closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// ArticleWorker fetches and extracts a single article URL. Implementations
// must honor ctx cancellation and return a *CrawlError for typed failures.
type ArticleWorker interface {
	Crawl(ctx context.Context, task Task) (ArticleResult, error)
}

// WorkerFunc adapts a function to ArticleWorker.
type WorkerFunc func(ctx context.Context, task Task) (ArticleResult, error)

// Crawl calls f.
func (f WorkerFunc) Crawl(ctx context.Context, task Task) (ArticleResult, error) {
	return f(ctx, task)
}

// Fetcher retrieves discovery documents (sitemaps, category pages).
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
	Head(ctx context.Context, url string) (int, error)
}

// FetchRequest describes one discovery fetch.
type FetchRequest struct {
	JobID string
	URL   string
}

// FetchResponse carries the body and status of a discovery fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// BlobStore writes export artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes lifecycle events to Pub/Sub, Kafka or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Limiter throttles requests per domain.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces entity IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a task ready to run along with its cancellable context.
type QueueItem struct {
	Task Task
	Ctx  context.Context //nolint:containedctx // per-task cancellation travels with the item
	Done func(TaskResult)
}

// RetryPolicy decides whether and when failed tasks are retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
