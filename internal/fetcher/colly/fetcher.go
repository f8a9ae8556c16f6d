// Package collyfetcher implements the discovery Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
	// OnRobotsFallback is called when robots.txt could not be fetched and an
	// allow-all policy was assumed for host.
	OnRobotsFallback func(host string)
}

// Fetcher implements crawler.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher sharing one pooled transport across requests.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.AllowURLRevisit = true
	c.SetRequestTimeout(cfg.Timeout)

	var transport http.RoundTripper = newHTTPTransport()
	if cfg.RespectRobots {
		transport = newRobotsTransport(transport, cfg.OnRobotsFallback)
	}
	c.WithTransport(transport)

	return &Fetcher{cfg: cfg, baseCollector: c}
}

// Fetch executes a GET. Non-2xx responses return a *crawler.CrawlError whose
// kind follows the status code.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, start, &result, &fetchErr)

	if err := f.run(ctx, func() error { return collector.Visit(request.URL) }, &fetchErr); err != nil {
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

// Head issues a HEAD request and returns the status code. A non-2xx status is
// reported through the code, not as an error.
func (f *Fetcher) Head(ctx context.Context, url string) (int, error) {
	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureCollectorHooks(collector, time.Now(), &result, &fetchErr)

	err := f.run(ctx, func() error { return collector.Head(url) }, &fetchErr)
	var crawlErr *crawler.CrawlError
	if errors.As(err, &crawlErr) && crawlErr.StatusCode > 0 {
		return crawlErr.StatusCode, nil
	}
	if err != nil {
		return 0, err
	}
	return result.StatusCode, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			result.StatusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				result.URL = r.Request.URL.String()
			}
			result.Duration = time.Since(start)
			*fetchErr = crawler.NewCrawlError(crawler.KindForStatus(r.StatusCode), r.StatusCode, err)
			return
		}
		*fetchErr = crawler.NewCrawlError(crawler.ErrorKindNetwork, 0, err)
	})
}

func (f *Fetcher) run(ctx context.Context, visit func() error, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", crawler.NewCrawlError(classifyVisitError(err), 0, err))
		}
		return nil
	}
}

func classifyVisitError(err error) crawler.ErrorKind {
	if errors.Is(err, colly.ErrForbiddenURL) ||
		errors.Is(err, colly.ErrForbiddenDomain) ||
		errors.Is(err, colly.ErrRobotsTxtBlocked) ||
		errors.Is(err, colly.ErrMissingURL) {
		return crawler.ErrorKindValidation
	}
	return crawler.ErrorKindNetwork
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
