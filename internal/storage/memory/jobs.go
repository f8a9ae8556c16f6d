package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// CreateJob stores a new job. At most one active job may exist per website.
func (s *Store) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, store.ErrConflict)
	}
	if _, ok := s.websites[job.WebsiteID]; !ok {
		return fmt.Errorf("job website %s: %w", job.WebsiteID, store.ErrNotFound)
	}
	if job.Status.IsActive() && s.hasOtherActive(job) {
		return fmt.Errorf("website %s already has an active job: %w", job.WebsiteID, store.ErrConflict)
	}
	now := s.now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// UpdateJob overwrites a stored job.
func (s *Store) UpdateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[job.ID]
	if !ok {
		return store.ErrNotFound
	}
	if job.Status.IsActive() && s.hasOtherActive(job) {
		return fmt.Errorf("website %s already has an active job: %w", job.WebsiteID, store.ErrConflict)
	}
	job.CreatedAt = current.CreatedAt
	job.UpdatedAt = s.now()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(_ context.Context, id string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return crawler.Job{}, store.ErrNotFound
	}
	return cloneJob(job), nil
}

// ListJobs returns matching jobs, newest first.
func (s *Store) ListJobs(_ context.Context, filter store.JobFilter) ([]crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.matchJobs(filter)
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := store.Page(len(matched), filter.Offset, filter.Limit)
	out := make([]crawler.Job, 0, end-start)
	for _, j := range matched[start:end] {
		out = append(out, cloneJob(j))
	}
	return out, nil
}

// CountJobs counts matching jobs.
func (s *Store) CountJobs(_ context.Context, filter store.JobFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchJobs(filter)), nil
}

func (s *Store) matchJobs(filter store.JobFilter) []crawler.Job {
	var out []crawler.Job
	for _, j := range s.jobs {
		if filter.WebsiteID != "" && j.WebsiteID != filter.WebsiteID {
			continue
		}
		if !filter.HasStatus(j.Status) {
			continue
		}
		if !store.InWindow(j.CreatedAt, filter.CreatedFrom, filter.CreatedTo) {
			continue
		}
		out = append(out, j)
	}
	return out
}

func (s *Store) hasOtherActive(job crawler.Job) bool {
	for id, existing := range s.jobs {
		if id != job.ID && existing.WebsiteID == job.WebsiteID && existing.Status.IsActive() {
			return true
		}
	}
	return false
}

func cloneJob(j crawler.Job) crawler.Job {
	out := j
	out.StartTime = copyTime(j.StartTime)
	out.EndTime = copyTime(j.EndTime)
	out.PausedAt = copyTime(j.PausedAt)
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}
