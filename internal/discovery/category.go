package discovery

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

var pagePathToken = regexp.MustCompile(`/page/(\d+)/?$`)

// nextPageSelectors are tried in order; the first resolvable href wins.
var nextPageSelectors = []string{
	`link[rel="next"]`,
	`a[rel="next"]`,
	`a.next`,
	`.next a`,
	`.pagination a.next`,
}

// extractLinks returns every resolvable anchor href on the page in document
// order.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if resolved, ok := resolveHref(base, href); ok {
			links = append(links, resolved)
		}
	})
	return links
}

// nextPageURL finds the page after page, first through explicit pagination
// markup and then through a page token already present in the URL. It
// returns "" when no next page can be determined.
func nextPageURL(doc *goquery.Document, current *url.URL, page int) string {
	for _, selector := range nextPageSelectors {
		href, ok := doc.Find(selector).First().Attr("href")
		if !ok {
			continue
		}
		if resolved, ok := resolveHref(current, href); ok {
			return resolved
		}
	}

	want := strconv.Itoa(page + 1)
	var numbered string
	doc.Find(".pagination a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != want {
			return true
		}
		href, _ := s.Attr("href")
		if resolved, ok := resolveHref(current, href); ok {
			numbered = resolved
			return false
		}
		return true
	})
	if numbered != "" {
		return numbered
	}

	return incrementPageToken(current)
}

// incrementPageToken bumps a /page/N/ path segment or a page=N query value.
func incrementPageToken(current *url.URL) string {
	next := *current
	if m := pagePathToken.FindStringSubmatchIndex(next.Path); m != nil {
		n, err := strconv.Atoi(next.Path[m[2]:m[3]])
		if err != nil {
			return ""
		}
		next.Path = next.Path[:m[2]] + strconv.Itoa(n+1) + next.Path[m[3]:]
		next.RawPath = ""
		return normalizedOrEmpty(next.String())
	}

	q := next.Query()
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return ""
		}
		q.Set("page", strconv.Itoa(n+1))
		next.RawQuery = q.Encode()
		return normalizedOrEmpty(next.String())
	}
	return ""
}

func resolveHref(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	resolved, err := crawler.ResolveURL(base, href)
	if err != nil {
		return "", false
	}
	return resolved, true
}

func normalizedOrEmpty(raw string) string {
	normalized, err := crawler.NormalizeURL(raw)
	if err != nil {
		return ""
	}
	return normalized
}
