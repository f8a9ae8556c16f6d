package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// UpsertArticle runs mutate under the write lock so same-URL writers serialize.
func (s *Store) UpsertArticle(_ context.Context, url string, mutate store.ArticleMutator) (crawler.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *crawler.Article
	if current, ok := s.articles[url]; ok {
		cp := cloneArticle(current)
		existing = &cp
	}
	next, err := mutate(existing)
	if err != nil {
		return crawler.Article{}, err
	}
	if next.ID == "" {
		return crawler.Article{}, fmt.Errorf("article %s: id is required", url)
	}
	next.URL = url
	if existing != nil {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
		next.Categories = crawler.UnionStrings(existing.Categories, next.Categories)
	} else {
		next.Categories = crawler.UnionStrings(nil, next.Categories)
	}
	for _, name := range next.Categories {
		key := categoryKey(next.WebsiteID, name)
		if _, ok := s.categories[key]; !ok {
			s.seq++
			s.categories[key] = crawler.Category{
				ID:        fmt.Sprintf("category-%d", s.seq),
				WebsiteID: next.WebsiteID,
				Name:      name,
				CreatedAt: s.now(),
			}
		}
	}
	s.articles[url] = cloneArticle(next)
	s.articleIDs[next.ID] = url
	return cloneArticle(next), nil
}

// GetArticle fetches an article by ID.
func (s *Store) GetArticle(_ context.Context, id string) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	url, ok := s.articleIDs[id]
	if !ok {
		return crawler.Article{}, store.ErrNotFound
	}
	return cloneArticle(s.articles[url]), nil
}

// GetArticleByURL fetches an article by canonical URL.
func (s *Store) GetArticleByURL(_ context.Context, url string) (crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	article, ok := s.articles[url]
	if !ok {
		return crawler.Article{}, store.ErrNotFound
	}
	return cloneArticle(article), nil
}

// ListArticles returns matching articles, newest first.
func (s *Store) ListArticles(_ context.Context, filter store.ArticleFilter) ([]crawler.Article, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchArticles(filter)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].URL < matched[j].URL
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := store.Page(len(matched), filter.Offset, filter.Limit)
	out := make([]crawler.Article, 0, end-start)
	for _, a := range matched[start:end] {
		out = append(out, cloneArticle(a))
	}
	return out, nil
}

// CountArticles counts matching articles.
func (s *Store) CountArticles(_ context.Context, filter store.ArticleFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchArticles(filter)), nil
}

func (s *Store) matchArticles(filter store.ArticleFilter) []crawler.Article {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var out []crawler.Article
	for _, a := range s.articles {
		if filter.WebsiteID != "" && a.WebsiteID != filter.WebsiteID {
			continue
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		if !store.InWindow(a.CreatedAt, filter.CreatedFrom, filter.CreatedTo) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(a.Title), search) && !strings.Contains(strings.ToLower(a.URL), search) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func cloneArticle(a crawler.Article) crawler.Article {
	out := a
	out.PublishedAt = copyTime(a.PublishedAt)
	out.Metadata = a.Metadata.Clone()
	if a.Categories != nil {
		out.Categories = append([]string(nil), a.Categories...)
	}
	return out
}
