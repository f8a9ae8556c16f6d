// Package discovery turns a website's sitemaps and category pages into a
// lazy stream of candidate article URLs.
package discovery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

// ProbeLocations are tried under the base URL when a website has no sitemap.
var ProbeLocations = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/post-sitemap.xml",
	"/news-sitemap.xml",
}

const defaultRootRetries = 3

// Config bounds a discovery pass.
type Config struct {
	MaxSitemapDepth  int
	MaxCategoryPages int
	// RootRetries is the number of fetch attempts for a root document.
	RootRetries      int
	RetryDelay       time.Duration
	ValidateURLs     bool
	ExcludedPatterns []string
}

// Target names the website a pass walks.
type Target struct {
	JobID         string
	Website       crawler.Website
	Categories    []crawler.Category
	UseCategories bool
	// OnFailure is called as each unreachable document is found.
	OnFailure func(ctx context.Context, failure Failure)
}

// Failure describes a document discovery could not fetch or parse.
type Failure struct {
	URL  string
	Root bool
	Err  error
}

// Report summarizes a finished pass.
type Report struct {
	Roots       int
	FailedRoots int
	Failures    []Failure
	Candidates  int
	Emitted     int
}

// Fatal reports whether every root was unreachable.
func (r Report) Fatal() bool {
	return r.Roots > 0 && r.FailedRoots == r.Roots
}

// EmitFunc receives each valid candidate. It may block until the consumer
// wants more work; a returned error ends the pass.
type EmitFunc func(ctx context.Context, candidate crawler.DiscoveredURL) error

// Discoverer walks sitemaps and category pages.
type Discoverer struct {
	fetcher    crawler.Fetcher
	repo       store.DiscoveredURLRepository
	hasher     crawler.Hasher
	clock      crawler.Clock
	ids        crawler.IDGenerator
	cfg        Config
	exclusions *crawler.ExclusionList
	logger     *zap.Logger
}

// New builds a Discoverer. Zero config values take defaults.
func New(
	fetcher crawler.Fetcher,
	repo store.DiscoveredURLRepository,
	hasher crawler.Hasher,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Discoverer {
	if cfg.MaxSitemapDepth <= 0 {
		cfg.MaxSitemapDepth = 3
	}
	if cfg.MaxCategoryPages <= 0 {
		cfg.MaxCategoryPages = 50
	}
	if cfg.RootRetries <= 0 {
		cfg.RootRetries = defaultRootRetries
	}
	patterns := cfg.ExcludedPatterns
	if len(patterns) == 0 {
		patterns = crawler.DefaultExcludedPatterns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher:    fetcher,
		repo:       repo,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		exclusions: crawler.NewExclusionList(patterns),
		logger:     logger.Named("discovery"),
	}
}

// pass holds the per-run state; every Run starts from the roots again.
type pass struct {
	target  Target
	emit    EmitFunc
	seen    map[string]struct{}
	visited map[string]struct{}
	report  Report
	logger  *zap.Logger
}

// Run walks every root of the target and emits valid candidates. It returns
// crawler.ErrDiscoveryFatal when every root was unreachable, and the
// context or emit error when the pass was cut short.
func (d *Discoverer) Run(ctx context.Context, target Target, emit EmitFunc) (Report, error) {
	p := &pass{
		target:  target,
		emit:    emit,
		seen:    make(map[string]struct{}),
		visited: make(map[string]struct{}),
		logger:  d.logger.With(zap.String("job_id", target.JobID), zap.String("website_id", target.Website.ID)),
	}

	if err := d.runSitemaps(ctx, p); err != nil {
		return p.report, err
	}
	if target.UseCategories {
		for _, category := range target.Categories {
			p.report.Roots++
			ok, err := d.walkCategory(ctx, p, category)
			if err != nil {
				return p.report, err
			}
			if !ok {
				p.report.FailedRoots++
			}
		}
	}

	p.logger.Info("discovery pass finished",
		zap.Int("roots", p.report.Roots),
		zap.Int("failed_roots", p.report.FailedRoots),
		zap.Int("candidates", p.report.Candidates),
		zap.Int("emitted", p.report.Emitted),
	)
	if p.report.Fatal() {
		return p.report, fmt.Errorf("website %s: %w", target.Website.BaseURL, crawler.ErrDiscoveryFatal)
	}
	return p.report, nil
}

// runSitemaps walks the configured sitemap, or the probe locations as a
// single root when none is configured.
func (d *Discoverer) runSitemaps(ctx context.Context, p *pass) error {
	p.report.Roots++
	website := p.target.Website
	if website.SitemapURL != "" {
		ok, err := d.walkSitemap(ctx, p, website.SitemapURL, 0, d.cfg.RootRetries)
		if err != nil {
			return err
		}
		if !ok {
			p.report.FailedRoots++
		}
		return nil
	}

	base := strings.TrimRight(website.BaseURL, "/")
	var probeErrs []error
	found := false
	for _, location := range ProbeLocations {
		candidate := base + location
		if _, ok := p.visited[normalizedOrEmpty(candidate)]; ok {
			found = true
			continue
		}
		body, doc, err := d.loadSitemap(ctx, p, candidate, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			probeErrs = append(probeErrs, err)
			continue
		}
		found = true
		if err := d.walkDocument(ctx, p, candidate, body, doc, 0); err != nil {
			return err
		}
	}
	if !found {
		p.report.FailedRoots++
		d.fail(ctx, p, Failure{URL: base + ProbeLocations[0], Root: true, Err: errors.Join(probeErrs...)})
	}
	return nil
}

// walkSitemap fetches loc and walks it. It returns false when loc could not
// be fetched or parsed; the error is reserved for a cut-short pass.
func (d *Discoverer) walkSitemap(ctx context.Context, p *pass, loc string, depth, attempts int) (bool, error) {
	key := normalizedOrEmpty(loc)
	if key == "" {
		key = loc
	}
	if _, ok := p.visited[key]; ok {
		return true, nil
	}
	p.visited[key] = struct{}{}

	body, doc, err := d.loadSitemap(ctx, p, loc, attempts)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		d.fail(ctx, p, Failure{URL: loc, Root: depth == 0, Err: err})
		return false, nil
	}
	return true, d.walkDocument(ctx, p, loc, body, doc, depth)
}

func (d *Discoverer) walkDocument(ctx context.Context, p *pass, loc string, body []byte, doc sitemapDocument, depth int) error {
	metrics.ObserveDiscoveryFetch(p.target.Website.BaseURL, len(body))
	if key := normalizedOrEmpty(loc); key != "" {
		p.visited[key] = struct{}{}
	}

	switch doc.kind() {
	case sitemapIndex:
		if depth+1 > d.cfg.MaxSitemapDepth {
			p.logger.Warn("sitemap depth limit reached", zap.String("url", loc), zap.Int("depth", depth))
			return nil
		}
		for _, child := range doc.Sitemaps {
			childURL := strings.TrimSpace(child.Loc)
			if childURL == "" {
				continue
			}
			if _, err := d.walkSitemap(ctx, p, childURL, depth+1, 1); err != nil {
				return err
			}
		}
	case sitemapLeaf:
		for _, entry := range doc.URLs {
			if _, err := d.yield(ctx, p, entry.Loc, parseLastMod(entry.LastMod), crawler.SourceSitemap, ""); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Discoverer) loadSitemap(ctx context.Context, p *pass, loc string, attempts int) ([]byte, sitemapDocument, error) {
	body, err := d.fetch(ctx, crawler.FetchRequest{JobID: p.target.JobID, URL: loc}, attempts)
	if err != nil {
		return nil, sitemapDocument{}, err
	}
	doc, err := parseSitemap(body)
	if err != nil {
		return nil, sitemapDocument{}, crawler.NewCrawlError(crawler.ErrorKindParsing, 0, err)
	}
	return body, doc, nil
}

// walkCategory follows a category listing through its pages. It returns
// false when page 1 could not be fetched.
func (d *Discoverer) walkCategory(ctx context.Context, p *pass, category crawler.Category) (bool, error) {
	pageURL := normalizedOrEmpty(category.URL)
	if pageURL == "" {
		d.fail(ctx, p, Failure{URL: category.URL, Root: true, Err: crawler.Invalidf("category url %q is not absolute", category.URL)})
		return false, nil
	}

	pages := make(map[string]struct{})
	fingerprints := make(map[string]struct{})
	for page := 1; page <= d.cfg.MaxCategoryPages && pageURL != ""; page++ {
		if _, ok := pages[pageURL]; ok {
			break
		}
		pages[pageURL] = struct{}{}

		attempts := 1
		if page == 1 {
			attempts = d.cfg.RootRetries
		}
		body, err := d.fetch(ctx, crawler.FetchRequest{JobID: p.target.JobID, URL: pageURL}, attempts)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.fail(ctx, p, Failure{URL: pageURL, Root: page == 1, Err: err})
			return page > 1, nil
		}
		metrics.ObserveDiscoveryFetch(p.target.Website.BaseURL, len(body))

		if d.hasher != nil {
			sum, err := d.hasher.Hash(body)
			if err == nil {
				if _, ok := fingerprints[sum]; ok {
					break
				}
				fingerprints[sum] = struct{}{}
			}
		}

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
		if err != nil {
			d.fail(ctx, p, Failure{URL: pageURL, Root: page == 1, Err: crawler.NewCrawlError(crawler.ErrorKindParsing, 0, err)})
			return page > 1, nil
		}
		current, err := url.Parse(pageURL)
		if err != nil {
			return page > 1, nil
		}

		fresh := 0
		for _, link := range extractLinks(doc, current) {
			added, err := d.yield(ctx, p, link, nil, crawler.SourceCategory, category.Name)
			if err != nil {
				return true, err
			}
			if added {
				fresh++
			}
		}
		if fresh == 0 {
			break
		}
		pageURL = nextPageURL(doc, current, page)
	}
	return true, nil
}

// yield filters, records and emits one candidate. It reports whether the URL
// was new to this pass.
func (d *Discoverer) yield(
	ctx context.Context,
	p *pass,
	raw string,
	lastModified *time.Time,
	source crawler.DiscoverySource,
	category string,
) (bool, error) {
	normalized, err := crawler.NormalizeURL(raw)
	if err != nil {
		return false, nil
	}
	if !crawler.IsArticleURL(p.target.Website.BaseURL, normalized, d.exclusions) {
		return false, nil
	}
	if _, ok := p.seen[normalized]; ok {
		return false, nil
	}
	p.seen[normalized] = struct{}{}
	p.report.Candidates++

	id, err := d.ids.NewID()
	if err != nil {
		return true, fmt.Errorf("generate discovered url id: %w", err)
	}
	candidate := crawler.DiscoveredURL{
		ID:            id,
		WebsiteID:     p.target.Website.ID,
		URL:           normalized,
		LastModified:  lastModified,
		IsValid:       true,
		LastCheckedAt: d.clock.Now().UTC(),
		Source:        source,
		Category:      category,
	}

	if d.cfg.ValidateURLs {
		code, err := d.fetcher.Head(ctx, normalized)
		switch {
		case err != nil && ctx.Err() != nil:
			return true, ctx.Err()
		case err != nil:
			candidate.IsValid = false
			d.fail(ctx, p, Failure{URL: normalized, Err: err})
		default:
			candidate.StatusCode = code
			candidate.IsValid = code >= 200 && code < 400
		}
	}

	if err := d.repo.UpsertDiscoveredURL(ctx, candidate); err != nil {
		return true, fmt.Errorf("upsert discovered url: %w", err)
	}
	if !candidate.IsValid {
		return true, nil
	}

	metrics.ObserveDiscovered(p.target.Website.BaseURL, string(source))
	p.report.Emitted++
	if err := p.emit(ctx, candidate); err != nil {
		return true, err
	}
	return true, nil
}

// fetch GETs a discovery document, retrying transient failures up to
// attempts times.
func (d *Discoverer) fetch(ctx context.Context, request crawler.FetchRequest, attempts int) ([]byte, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := d.fetcher.Fetch(ctx, request)
		if err == nil {
			return resp.Body, nil
		}
		lastErr = err
		if ctx.Err() != nil || !crawler.ClassifyError(err).Transient() || attempt == attempts {
			break
		}
		d.logger.Debug("retrying discovery fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("fetch %s: %w", request.URL, lastErr)
}

func (d *Discoverer) fail(ctx context.Context, p *pass, failure Failure) {
	p.report.Failures = append(p.report.Failures, failure)
	p.logger.Warn("discovery document unavailable",
		zap.String("url", failure.URL),
		zap.Bool("root", failure.Root),
		zap.Error(failure.Err),
	)
	if p.target.OnFailure != nil {
		p.target.OnFailure(ctx, failure)
	}
}
