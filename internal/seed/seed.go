// Package seed loads websites and their categories from a YAML file.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// File is the seed document.
type File struct {
	Websites []Website `yaml:"websites"`
}

// Website is one seeded source.
type Website struct {
	Name       string     `yaml:"name"`
	BaseURL    string     `yaml:"base_url"`
	SitemapURL string     `yaml:"sitemap_url"`
	Active     *bool      `yaml:"active"`
	Categories []Category `yaml:"categories"`
}

// Category is one seeded section page.
type Category struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Result counts what a seed run changed.
type Result struct {
	WebsitesCreated   int
	WebsitesUpdated   int
	CategoriesCreated int
}

// Parse decodes a seed document and validates every entry.
func Parse(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	for i, w := range file.Websites {
		if strings.TrimSpace(w.Name) == "" {
			return File{}, crawler.Invalidf("website %d: name is required", i)
		}
		if _, err := crawler.NormalizeURL(w.BaseURL); err != nil {
			return File{}, crawler.Invalidf("website %q: base_url: %v", w.Name, err)
		}
		for _, c := range w.Categories {
			if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.URL) == "" {
				return File{}, crawler.Invalidf("website %q: categories need a name and url", w.Name)
			}
		}
	}
	return file, nil
}

// Loader upserts seed files into the website repository.
type Loader struct {
	repo   store.WebsiteRepository
	ids    crawler.IDGenerator
	clock  crawler.Clock
	logger *zap.Logger
}

// NewLoader builds a Loader.
func NewLoader(repo store.WebsiteRepository, ids crawler.IDGenerator, clock crawler.Clock, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{repo: repo, ids: ids, clock: clock, logger: logger.Named("seed")}
}

// Apply creates websites that are new by base URL, updates the rest, and adds
// categories whose name the website does not have yet.
func (l *Loader) Apply(ctx context.Context, file File) (Result, error) {
	var res Result
	for _, entry := range file.Websites {
		website, created, err := l.upsertWebsite(ctx, entry)
		if err != nil {
			return res, err
		}
		if created {
			res.WebsitesCreated++
		} else {
			res.WebsitesUpdated++
		}
		n, err := l.addCategories(ctx, website, entry.Categories)
		if err != nil {
			return res, err
		}
		res.CategoriesCreated += n
	}
	l.logger.Info("seed applied",
		zap.Int("websites_created", res.WebsitesCreated),
		zap.Int("websites_updated", res.WebsitesUpdated),
		zap.Int("categories_created", res.CategoriesCreated),
	)
	return res, nil
}

func (l *Loader) upsertWebsite(ctx context.Context, entry Website) (crawler.Website, bool, error) {
	baseURL, err := crawler.NormalizeURL(entry.BaseURL)
	if err != nil {
		return crawler.Website{}, false, crawler.Invalidf("website %q: %v", entry.Name, err)
	}
	active := entry.Active == nil || *entry.Active
	now := l.clock.Now()

	existing, err := l.repo.GetWebsiteByBaseURL(ctx, baseURL)
	switch {
	case err == nil:
		existing.Name = entry.Name
		existing.SitemapURL = entry.SitemapURL
		existing.Active = active
		existing.UpdatedAt = now
		if err := l.repo.UpdateWebsite(ctx, existing); err != nil {
			return crawler.Website{}, false, fmt.Errorf("update website %s: %w", baseURL, err)
		}
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return crawler.Website{}, false, fmt.Errorf("look up website %s: %w", baseURL, err)
	}

	id, err := l.ids.NewID()
	if err != nil {
		return crawler.Website{}, false, fmt.Errorf("generate website id: %w", err)
	}
	website := crawler.Website{
		ID:         id,
		Name:       entry.Name,
		BaseURL:    baseURL,
		SitemapURL: entry.SitemapURL,
		Active:     active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.repo.CreateWebsite(ctx, website); err != nil {
		return crawler.Website{}, false, fmt.Errorf("create website %s: %w", baseURL, err)
	}
	return website, true, nil
}

func (l *Loader) addCategories(ctx context.Context, website crawler.Website, entries []Category) (int, error) {
	current, err := l.repo.ListCategories(ctx, website.ID)
	if err != nil {
		return 0, fmt.Errorf("list categories for %s: %w", website.ID, err)
	}
	known := make(map[string]struct{}, len(current))
	for _, c := range current {
		known[strings.ToLower(c.Name)] = struct{}{}
	}
	created := 0
	for _, entry := range entries {
		key := strings.ToLower(strings.TrimSpace(entry.Name))
		if _, ok := known[key]; ok {
			continue
		}
		id, err := l.ids.NewID()
		if err != nil {
			return created, fmt.Errorf("generate category id: %w", err)
		}
		category := crawler.Category{
			ID:        id,
			WebsiteID: website.ID,
			Name:      strings.TrimSpace(entry.Name),
			URL:       strings.TrimSpace(entry.URL),
			CreatedAt: l.clock.Now(),
		}
		if err := l.repo.CreateCategory(ctx, category); err != nil {
			return created, fmt.Errorf("create category %q: %w", entry.Name, err)
		}
		known[key] = struct{}{}
		created++
	}
	return created, nil
}
