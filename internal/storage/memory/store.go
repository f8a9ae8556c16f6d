// Package memory provides in-process repositories and a blob store for
// development and tests.
package memory

import (
	"sync"
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// Store implements every repository in internal/store with maps guarded by a
// single RWMutex. Values are copied in and out so callers never share state.
type Store struct {
	mu         sync.RWMutex
	websites   map[string]crawler.Website
	categories map[string]crawler.Category
	discovered map[string]crawler.DiscoveredURL
	articles   map[string]crawler.Article
	articleIDs map[string]string
	jobs       map[string]crawler.Job
	errors     map[string]crawler.ScrapingError
	now        func() time.Time
	seq        int
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		websites:   make(map[string]crawler.Website),
		categories: make(map[string]crawler.Category),
		discovered: make(map[string]crawler.DiscoveredURL),
		articles:   make(map[string]crawler.Article),
		articleIDs: make(map[string]string),
		jobs:       make(map[string]crawler.Job),
		errors:     make(map[string]crawler.ScrapingError),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Repositories exposes the store through the repository bundle.
func (s *Store) Repositories() store.Repositories {
	return store.Repositories{
		Websites:   s,
		Discovered: s,
		Articles:   s,
		Jobs:       s,
		Errors:     s,
	}
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return pointerTime(*t)
}
