package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// InsertError appends an error record.
func (s *Store) InsertError(_ context.Context, record crawler.ScrapingError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.errors[record.ID]; exists {
		return fmt.Errorf("error %s: %w", record.ID, store.ErrConflict)
	}
	record.ResolvedAt = copyTime(record.ResolvedAt)
	s.errors[record.ID] = record
	return nil
}

// ResolveError marks an error resolved once; later calls keep the first timestamp.
func (s *Store) ResolveError(_ context.Context, id string, at time.Time) (crawler.ScrapingError, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.errors[id]
	if !ok {
		return crawler.ScrapingError{}, store.ErrNotFound
	}
	if !record.Resolved {
		record.Resolved = true
		record.ResolvedAt = pointerTime(at)
		s.errors[id] = record
	}
	record.ResolvedAt = copyTime(record.ResolvedAt)
	return record, nil
}

// ListErrors returns matching errors, newest first.
func (s *Store) ListErrors(_ context.Context, filter store.ErrorFilter) ([]crawler.ScrapingError, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchErrors(filter)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := store.Page(len(matched), filter.Offset, filter.Limit)
	out := make([]crawler.ScrapingError, 0, end-start)
	for _, e := range matched[start:end] {
		e.ResolvedAt = copyTime(e.ResolvedAt)
		out = append(out, e)
	}
	return out, nil
}

// CountErrors counts matching errors.
func (s *Store) CountErrors(_ context.Context, filter store.ErrorFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchErrors(filter)), nil
}

// CountErrorsByKind groups matching errors by kind.
func (s *Store) CountErrorsByKind(_ context.Context, filter store.ErrorFilter) (map[crawler.ErrorKind]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[crawler.ErrorKind]int)
	for _, e := range s.matchErrors(filter) {
		out[e.Kind]++
	}
	return out, nil
}

func (s *Store) matchErrors(filter store.ErrorFilter) []crawler.ScrapingError {
	var out []crawler.ScrapingError
	for _, e := range s.errors {
		if filter.JobID != "" && e.JobID != filter.JobID {
			continue
		}
		if filter.WebsiteID != "" && e.WebsiteID != filter.WebsiteID {
			continue
		}
		if filter.Resolved != nil && e.Resolved != *filter.Resolved {
			continue
		}
		if !store.InWindow(e.CreatedAt, filter.CreatedFrom, filter.CreatedTo) {
			continue
		}
		out = append(out, e)
	}
	return out
}
