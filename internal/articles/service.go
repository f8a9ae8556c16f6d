// Package articles implements the deduplicating article store: upserts keyed
// by canonical URL with metadata merging and change detection.
package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// Input is one article observation to persist.
type Input struct {
	URL        string
	Fields     crawler.ArticleFields
	Metadata   crawler.Metadata
	Categories []string
}

// InputFromResult converts a worker result into an upsert input.
func InputFromResult(websiteID string, res crawler.ArticleResult) Input {
	return Input{
		URL: res.URL,
		Fields: crawler.ArticleFields{
			WebsiteID:   websiteID,
			Title:       strings.TrimSpace(res.Title),
			Author:      strings.TrimSpace(res.Author),
			PublishedAt: res.PublishedAt,
			ImageURL:    strings.TrimSpace(res.ImageURL),
		},
		Metadata:   crawler.MetadataFromResult(res),
		Categories: res.Categories,
	}
}

// Outcome reports what an upsert did.
type Outcome struct {
	Article crawler.Article
	Created bool
	Changed []string
}

// Page is a window of articles plus the unpaged total.
type Page struct {
	Articles []crawler.Article `json:"articles"`
	Total    int               `json:"total"`
}

// Service coordinates article persistence.
type Service struct {
	repo   store.ArticleRepository
	clock  crawler.Clock
	ids    crawler.IDGenerator
	logger *zap.Logger
}

// NewService wires the article store.
func NewService(repo store.ArticleRepository, clock crawler.Clock, ids crawler.IDGenerator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		clock:  clock,
		ids:    ids,
		logger: logger.Named("articles"),
	}
}

// Upsert inserts the article when its canonical URL is new, otherwise merges
// the observation into the stored row. UpdateCount grows only when a field
// actually changed.
func (s *Service) Upsert(ctx context.Context, in Input) (Outcome, error) {
	canonical, err := crawler.NormalizeURL(in.URL)
	if err != nil {
		return Outcome{}, crawler.Invalidf("article url: %v", err)
	}
	if in.Fields.WebsiteID == "" {
		return Outcome{}, crawler.Invalidf("article %s: website id is required", canonical)
	}

	now := s.clock.Now()
	var outcome Outcome
	article, err := s.repo.UpsertArticle(ctx, canonical, func(existing *crawler.Article) (crawler.Article, error) {
		outcome = Outcome{}
		if existing == nil {
			id, err := s.ids.NewID()
			if err != nil {
				return crawler.Article{}, fmt.Errorf("generate article id: %w", err)
			}
			outcome.Created = true
			return crawler.Article{
				ID:            id,
				URL:           canonical,
				WebsiteID:     in.Fields.WebsiteID,
				Title:         in.Fields.Title,
				Author:        in.Fields.Author,
				PublishedAt:   in.Fields.PublishedAt,
				ImageURL:      in.Fields.ImageURL,
				Metadata:      in.Metadata.Clone(),
				Categories:    crawler.UnionStrings(nil, in.Categories),
				Active:        true,
				CreatedAt:     now,
				UpdatedAt:     now,
				LastCheckedAt: now,
			}, nil
		}
		next, changed := Merge(*existing, in)
		next.LastCheckedAt = now
		if len(changed) > 0 {
			next.UpdateCount++
			next.UpdatedAt = now
		}
		outcome.Changed = changed
		return next, nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("upsert article %s: %w", canonical, err)
	}
	outcome.Article = article

	if outcome.Created {
		s.logger.Debug("article created", zap.String("url", canonical), zap.String("article_id", article.ID))
	} else if len(outcome.Changed) > 0 {
		s.logger.Debug("article updated",
			zap.String("url", canonical),
			zap.Strings("changed", outcome.Changed),
			zap.Int("update_count", article.UpdateCount),
		)
	}
	return outcome, nil
}

// Get loads an article by ID.
func (s *Service) Get(ctx context.Context, id string) (crawler.Article, error) {
	article, err := s.repo.GetArticle(ctx, id)
	if err != nil {
		return crawler.Article{}, fmt.Errorf("get article %s: %w", id, err)
	}
	return article, nil
}

// GetByURL canonicalizes rawURL and loads the matching article.
func (s *Service) GetByURL(ctx context.Context, rawURL string) (crawler.Article, error) {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return crawler.Article{}, crawler.Invalidf("article url: %v", err)
	}
	article, err := s.repo.GetArticleByURL(ctx, canonical)
	if err != nil {
		return crawler.Article{}, fmt.Errorf("get article by url: %w", err)
	}
	return article, nil
}

// List returns a page of articles and the total matching count.
func (s *Service) List(ctx context.Context, filter store.ArticleFilter) (Page, error) {
	list, err := s.repo.ListArticles(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("list articles: %w", err)
	}
	total, err := s.repo.CountArticles(ctx, filter)
	if err != nil {
		return Page{}, fmt.Errorf("count articles: %w", err)
	}
	if list == nil {
		list = []crawler.Article{}
	}
	return Page{Articles: list, Total: total}, nil
}

// Count counts articles matching filter.
func (s *Service) Count(ctx context.Context, filter store.ArticleFilter) (int, error) {
	n, err := s.repo.CountArticles(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// Fresh reports whether a stored article already covers rawURL: it exists
// and lastModified (when known) is not newer than its last check.
func (s *Service) Fresh(ctx context.Context, rawURL string, lastModified *time.Time) (bool, error) {
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false, crawler.Invalidf("article url: %v", err)
	}
	article, err := s.repo.GetArticleByURL(ctx, canonical)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check article freshness: %w", err)
	}
	if lastModified == nil {
		return true, nil
	}
	return !lastModified.After(article.LastCheckedAt), nil
}
