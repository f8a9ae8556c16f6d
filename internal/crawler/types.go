package crawler

import (
	"fmt"
	"strings"
	"time"
)

// JobStatus captures the lifecycle state of a scraping job.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// JobStatuses lists every valid status in lifecycle order.
var JobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRunning,
	JobStatusPaused,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusStopped,
}

// Valid reports whether s is one of the six known statuses.
func (s JobStatus) Valid() bool {
	for _, known := range JobStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no command other than restart applies.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusStopped
}

// IsActive reports whether the job holds its website's crawl slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusPaused
}

// ParseJobStatus converts user input into a JobStatus.
func ParseJobStatus(input string) (JobStatus, error) {
	status := JobStatus(strings.ToLower(strings.TrimSpace(input)))
	if !status.Valid() {
		return "", fmt.Errorf("invalid job status %q", input)
	}
	return status, nil
}

// Website is an operator-managed news source.
type Website struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	BaseURL    string    `json:"base_url"`
	SitemapURL string    `json:"sitemap_url,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Category is a section listing page that belongs to a website.
type Category struct {
	ID        string    `json:"id"`
	WebsiteID string    `json:"website_id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// DiscoverySource records where a candidate URL came from.
type DiscoverySource string

// Discovery sources.
const (
	SourceSitemap  DiscoverySource = "sitemap"
	SourceCategory DiscoverySource = "category"
)

// DiscoveredURL is a candidate article URL produced by discovery.
type DiscoveredURL struct {
	ID            string          `json:"id"`
	WebsiteID     string          `json:"website_id"`
	URL           string          `json:"url"`
	LastModified  *time.Time      `json:"last_modified,omitempty"`
	IsValid       bool            `json:"is_valid"`
	LastCheckedAt time.Time       `json:"last_checked_at"`
	StatusCode    int             `json:"status_code,omitempty"`
	Source        DiscoverySource `json:"source"`
	Category      string          `json:"category,omitempty"`
}

// Article is a deduplicated article keyed by its canonical URL.
type Article struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	WebsiteID     string     `json:"website_id"`
	Title         string     `json:"title"`
	Author        string     `json:"author,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	ImageURL      string     `json:"image_url,omitempty"`
	Metadata      Metadata   `json:"metadata"`
	Categories    []string   `json:"categories,omitempty"`
	Active        bool       `json:"active"`
	UpdateCount   int        `json:"update_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastCheckedAt time.Time  `json:"last_checked_at"`
}

// ArticleFields are the mutable scalar columns supplied by a crawl result.
type ArticleFields struct {
	WebsiteID   string
	Title       string
	Author      string
	PublishedAt *time.Time
	ImageURL    string
}

// JobConfig carries per-job crawl tuning.
type JobConfig struct {
	MaxDepth        int  `json:"max_depth"`
	RateLimit       int  `json:"rate_limit"`
	ProxyRotation   bool `json:"proxy_rotation"`
	MaintenanceMode bool `json:"maintenance_mode"`
	MaxArticles     int  `json:"max_articles,omitempty"`
	UseCategories   bool `json:"use_categories"`
}

// Job is one crawl execution attempt for a single website.
type Job struct {
	ID                string     `json:"id"`
	WebsiteID         string     `json:"website_id"`
	Status            JobStatus  `json:"status"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	PausedAt          *time.Time `json:"paused_at,omitempty"`
	ArticlesFound     int        `json:"articles_found"`
	ArticlesProcessed int        `json:"articles_processed"`
	Config            JobConfig  `json:"config"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// JobSnapshot is the externally visible view of a job.
type JobSnapshot struct {
	Job
	WebsiteName string  `json:"website_name,omitempty"`
	Progress    float64 `json:"progress"`
	Errors      int     `json:"errors"`
}

// ErrorKind classifies a crawl failure.
type ErrorKind string

// Error kinds recorded for failed URLs.
const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindParsing    ErrorKind = "parsing"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindRateLimit  ErrorKind = "rate_limit"
	ErrorKindUnknown    ErrorKind = "unknown"
)

// Transient reports whether failures of this kind are worth retrying.
func (k ErrorKind) Transient() bool {
	return k == ErrorKindNetwork || k == ErrorKindRateLimit
}

// Severity ranks errors for the dashboard.
type Severity string

// Severity levels.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// SeverityFor maps an error kind to its dashboard severity.
func SeverityFor(kind ErrorKind) Severity {
	switch kind {
	case ErrorKindNetwork, ErrorKindRateLimit:
		return SeverityMedium
	case ErrorKindParsing, ErrorKindValidation:
		return SeverityLow
	default:
		return SeverityHigh
	}
}

// ScrapingError is an append-only record of a failed URL or discovery root.
type ScrapingError struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	WebsiteID  string     `json:"website_id"`
	URL        string     `json:"url"`
	Kind       ErrorKind  `json:"error_type"`
	Message    string     `json:"message"`
	Severity   Severity   `json:"severity"`
	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Task is one URL handed to a crawl worker.
type Task struct {
	JobID        string
	WebsiteID    string
	URL          string
	Category     string
	LastModified *time.Time
	Config       JobConfig
	// Epoch increments on every restart of the job.
	Epoch int
	// Seq identifies one dispatch of the task within its job.
	Seq uint64
}

// ArticleResult is the structured output of a successful crawl.
type ArticleResult struct {
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Author      string         `json:"author,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	ImageURL    string         `json:"image_url,omitempty"`
	Categories  []string       `json:"categories,omitempty"`
	Content     string         `json:"content,omitempty"`
	WordCount   int            `json:"word_count,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TaskResult reports the outcome of one task back to its job.
type TaskResult struct {
	Task     Task
	Article  ArticleResult
	Err      error
	Attempts int
	Duration time.Duration
}
