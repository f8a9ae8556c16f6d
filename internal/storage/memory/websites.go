package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// CreateWebsite stores a website with a unique base URL.
func (s *Store) CreateWebsite(_ context.Context, website crawler.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.websites[website.ID]; exists {
		return fmt.Errorf("website %s: %w", website.ID, store.ErrConflict)
	}
	for _, existing := range s.websites {
		if existing.BaseURL == website.BaseURL {
			return fmt.Errorf("website base url %s: %w", website.BaseURL, store.ErrConflict)
		}
	}
	now := s.now()
	if website.CreatedAt.IsZero() {
		website.CreatedAt = now
	}
	website.UpdatedAt = now
	s.websites[website.ID] = website
	return nil
}

// UpdateWebsite overwrites a stored website.
func (s *Store) UpdateWebsite(_ context.Context, website crawler.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.websites[website.ID]
	if !ok {
		return store.ErrNotFound
	}
	for id, existing := range s.websites {
		if id != website.ID && existing.BaseURL == website.BaseURL {
			return fmt.Errorf("website base url %s: %w", website.BaseURL, store.ErrConflict)
		}
	}
	website.CreatedAt = current.CreatedAt
	website.UpdatedAt = s.now()
	s.websites[website.ID] = website
	return nil
}

// DeleteWebsite removes a website and everything that references it.
func (s *Store) DeleteWebsite(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.websites[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.websites, id)
	for key, c := range s.categories {
		if c.WebsiteID == id {
			delete(s.categories, key)
		}
	}
	for key, d := range s.discovered {
		if d.WebsiteID == id {
			delete(s.discovered, key)
		}
	}
	for url, a := range s.articles {
		if a.WebsiteID == id {
			delete(s.articles, url)
			delete(s.articleIDs, a.ID)
		}
	}
	for key, j := range s.jobs {
		if j.WebsiteID == id {
			delete(s.jobs, key)
		}
	}
	for key, e := range s.errors {
		if e.WebsiteID == id {
			delete(s.errors, key)
		}
	}
	return nil
}

// GetWebsite fetches a website by ID.
func (s *Store) GetWebsite(_ context.Context, id string) (crawler.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	website, ok := s.websites[id]
	if !ok {
		return crawler.Website{}, store.ErrNotFound
	}
	return website, nil
}

// GetWebsiteByBaseURL fetches a website by base URL.
func (s *Store) GetWebsiteByBaseURL(_ context.Context, baseURL string) (crawler.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, website := range s.websites {
		if website.BaseURL == baseURL {
			return website, nil
		}
	}
	return crawler.Website{}, store.ErrNotFound
}

// ListWebsites returns websites sorted by name.
func (s *Store) ListWebsites(_ context.Context, activeOnly bool) ([]crawler.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Website, 0, len(s.websites))
	for _, website := range s.websites {
		if activeOnly && !website.Active {
			continue
		}
		out = append(out, website)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// CountWebsites counts stored websites.
func (s *Store) CountWebsites(ctx context.Context, activeOnly bool) (int, error) {
	list, err := s.ListWebsites(ctx, activeOnly)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// CreateCategory stores a category; names are unique per website.
func (s *Store) CreateCategory(_ context.Context, category crawler.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.websites[category.WebsiteID]; !ok {
		return fmt.Errorf("category website %s: %w", category.WebsiteID, store.ErrNotFound)
	}
	key := categoryKey(category.WebsiteID, category.Name)
	if _, exists := s.categories[key]; exists {
		return fmt.Errorf("category %s: %w", category.Name, store.ErrConflict)
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = s.now()
	}
	s.categories[key] = category
	return nil
}

// ListCategories returns a website's categories sorted by name.
func (s *Store) ListCategories(_ context.Context, websiteID string) ([]crawler.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Category
	for _, c := range s.categories {
		if c.WebsiteID == websiteID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertDiscoveredURL inserts or refreshes a candidate keyed by website and URL.
func (s *Store) UpsertDiscoveredURL(_ context.Context, discovered crawler.DiscoveredURL) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := discovered.WebsiteID + "\x00" + discovered.URL
	if existing, ok := s.discovered[key]; ok {
		discovered.ID = existing.ID
		if discovered.LastModified == nil {
			discovered.LastModified = existing.LastModified
		}
	}
	discovered.LastModified = copyTime(discovered.LastModified)
	s.discovered[key] = discovered
	return nil
}

// ListDiscoveredURLs returns a website's candidates, most recently checked first.
func (s *Store) ListDiscoveredURLs(_ context.Context, websiteID string, limit int) ([]crawler.DiscoveredURL, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.DiscoveredURL
	for _, d := range s.discovered {
		if d.WebsiteID == websiteID {
			d.LastModified = copyTime(d.LastModified)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastCheckedAt.Equal(out[j].LastCheckedAt) {
			return out[i].URL < out[j].URL
		}
		return out[i].LastCheckedAt.After(out[j].LastCheckedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func categoryKey(websiteID, name string) string {
	return websiteID + "\x00" + name
}
