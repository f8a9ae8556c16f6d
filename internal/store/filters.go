package store

import (
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// ArticleFilter narrows article queries.
type ArticleFilter struct {
	WebsiteID   string
	Search      string
	ActiveOnly  bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// JobFilter narrows job queries.
type JobFilter struct {
	WebsiteID   string
	Statuses    []crawler.JobStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// ErrorFilter narrows error queries.
type ErrorFilter struct {
	JobID       string
	WebsiteID   string
	Resolved    *bool
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
	Offset      int
}

// InWindow reports whether t falls in [from, to).
func InWindow(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && !t.Before(*to) {
		return false
	}
	return true
}

// HasStatus reports whether status passes the filter (an empty list passes all).
func (f JobFilter) HasStatus(status crawler.JobStatus) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Page applies offset and limit to n items, returning the slice bounds.
func Page(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if limit > 0 && offset+limit < n {
		end = offset + limit
	}
	return offset, end
}
