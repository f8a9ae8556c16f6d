// Package remote binds the article extraction contract to an external
// HTTP service.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

const maxErrorBody = 4 << 10

// Config points the client at the extraction service.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// Token is sent as a bearer token when set.
	Token string
}

// Client implements crawler.ArticleWorker over HTTP.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
}

type extractRequest struct {
	URL       string            `json:"url"`
	WebsiteID string            `json:"website_id"`
	JobID     string            `json:"job_id"`
	Category  string            `json:"category,omitempty"`
	Config    crawler.JobConfig `json:"config"`
}

type errorBody struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// New builds a Client with a traced transport.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("worker endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		token:    cfg.Token,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Crawl posts task to the extraction service and decodes the article.
func (c *Client) Crawl(ctx context.Context, task crawler.Task) (crawler.ArticleResult, error) {
	payload, err := json.Marshal(extractRequest{
		URL:       task.URL,
		WebsiteID: task.WebsiteID,
		JobID:     task.JobID,
		Category:  task.Category,
		Config:    task.Config,
	})
	if err != nil {
		return crawler.ArticleResult{}, fmt.Errorf("marshal extract request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return crawler.ArticleResult{}, fmt.Errorf("build extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return crawler.ArticleResult{}, ctx.Err()
		}
		return crawler.ArticleResult{}, crawler.NewCrawlError(crawler.ErrorKindNetwork, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return crawler.ArticleResult{}, statusError(resp)
	}

	var article crawler.ArticleResult
	if err := json.NewDecoder(resp.Body).Decode(&article); err != nil {
		return crawler.ArticleResult{}, crawler.NewCrawlError(crawler.ErrorKindParsing, resp.StatusCode, fmt.Errorf("decode extract response: %w", err))
	}
	if strings.TrimSpace(article.Title) == "" {
		return crawler.ArticleResult{}, crawler.NewCrawlError(crawler.ErrorKindValidation, resp.StatusCode, errors.New("extracted article has no title"))
	}
	if article.URL == "" {
		article.URL = task.URL
	}
	return article, nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body errorBody
	message := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		message = body.Error
	}
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}

	kind := crawler.KindForStatus(resp.StatusCode)
	if resp.StatusCode == http.StatusUnprocessableEntity && body.ErrorType != "" {
		kind = crawler.ParseErrorKind(body.ErrorType)
	}
	return crawler.NewCrawlError(kind, resp.StatusCode, errors.New(message))
}
