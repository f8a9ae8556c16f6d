// Package export streams stored articles as newline-delimited JSON to a blob
// store.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const (
	contentType     = "application/x-ndjson"
	defaultPageSize = 500
	allWebsites     = "all"
)

// Request selects the articles to export.
type Request struct {
	WebsiteID string
	Since     *time.Time
}

// Result describes a written export.
type Result struct {
	URI      string `json:"uri"`
	Path     string `json:"path"`
	Articles int    `json:"articles"`
}

// Exporter pages through articles and writes one object per export.
type Exporter struct {
	articles store.ArticleRepository
	blobs    crawler.BlobStore
	clock    crawler.Clock
	prefix   string
	pageSize int
	logger   *zap.Logger
}

// New builds an Exporter writing under prefix.
func New(articles store.ArticleRepository, blobs crawler.BlobStore, clock crawler.Clock, prefix string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		articles: articles,
		blobs:    blobs,
		clock:    clock,
		prefix:   prefix,
		pageSize: defaultPageSize,
		logger:   logger.Named("export"),
	}
}

// ObjectPath names the export object: <prefix>/<website>/<timestamp>.ndjson.
func ObjectPath(prefix, websiteID string, at time.Time) string {
	if websiteID == "" {
		websiteID = allWebsites
	}
	return path.Join(prefix, websiteID, at.UTC().Format("20060102T150405Z")+".ndjson")
}

// Export writes the selected articles and reports where they went.
func (e *Exporter) Export(ctx context.Context, req Request) (Result, error) {
	objectPath := ObjectPath(e.prefix, req.WebsiteID, e.clock.Now())
	pr, pw := io.Pipe()

	written := make(chan int, 1)
	go func() {
		n, err := e.encode(ctx, pw, req)
		written <- n
		_ = pw.CloseWithError(err)
	}()

	uri, err := e.blobs.PutObject(ctx, objectPath, contentType, pr)
	_ = pr.CloseWithError(err)
	count := <-written
	if err != nil {
		return Result{}, fmt.Errorf("export articles to %s: %w", objectPath, err)
	}
	e.logger.Info("articles exported",
		zap.String("uri", uri),
		zap.String("website_id", req.WebsiteID),
		zap.Int("articles", count),
	)
	return Result{URI: uri, Path: objectPath, Articles: count}, nil
}

func (e *Exporter) encode(ctx context.Context, w io.Writer, req Request) (int, error) {
	enc := json.NewEncoder(w)
	filter := store.ArticleFilter{WebsiteID: req.WebsiteID, CreatedFrom: req.Since, Limit: e.pageSize}
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		page, err := e.articles.ListArticles(ctx, filter)
		if err != nil {
			return count, fmt.Errorf("list articles: %w", err)
		}
		for _, article := range page {
			if err := enc.Encode(article); err != nil {
				return count, fmt.Errorf("encode article %s: %w", article.ID, err)
			}
			count++
		}
		if len(page) < filter.Limit {
			return count, nil
		}
		filter.Offset += len(page)
	}
}
