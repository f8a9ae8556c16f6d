package discovery

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

const dateOnlyFormat = "2006-01-02"

// sitemapKind distinguishes a sitemap index from a leaf url set.
type sitemapKind int

const (
	sitemapUnknown sitemapKind = iota
	sitemapIndex
	sitemapLeaf
)

// sitemapDocument decodes either root element; XMLName reports which one.
type sitemapDocument struct {
	XMLName  xml.Name
	URLs     []sitemapEntry `xml:"url"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

type sitemapEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

func (d sitemapDocument) kind() sitemapKind {
	switch strings.ToLower(d.XMLName.Local) {
	case "sitemapindex":
		return sitemapIndex
	case "urlset":
		return sitemapLeaf
	default:
		return sitemapUnknown
	}
}

// parseSitemap decodes body as a sitemap index or url set.
func parseSitemap(body []byte) (sitemapDocument, error) {
	var doc sitemapDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return sitemapDocument{}, fmt.Errorf("parse sitemap: %w", err)
	}
	if doc.kind() == sitemapUnknown {
		return sitemapDocument{}, fmt.Errorf("parse sitemap: unexpected root element %q", doc.XMLName.Local)
	}
	return doc, nil
}

// parseLastMod accepts RFC 3339 timestamps and date-only values. Unparseable
// values yield nil.
func parseLastMod(raw string) *time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, trimmed); err == nil {
		t = t.UTC()
		return &t
	}
	if t, err := time.Parse(dateOnlyFormat, trimmed); err == nil {
		return &t
	}
	return nil
}
