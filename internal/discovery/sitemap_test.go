package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseSitemapKinds(t *testing.T) {
	t.Parallel()

	doc, err := parseSitemap([]byte(`<sitemapindex><sitemap><loc>https://a.ng/1.xml</loc></sitemap></sitemapindex>`))
	require.NoError(t, err)
	require.Equal(t, sitemapIndex, doc.kind())
	require.Len(t, doc.Sitemaps, 1)

	doc, err = parseSitemap([]byte(`<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><url><loc>https://a.ng/x</loc></url></urlset>`))
	require.NoError(t, err)
	require.Equal(t, sitemapLeaf, doc.kind())
	require.Equal(t, "https://a.ng/x", doc.URLs[0].Loc)

	_, err = parseSitemap([]byte(`<html><body>soft 404</body></html>`))
	require.Error(t, err)

	_, err = parseSitemap([]byte(`not xml`))
	require.Error(t, err)
}

func TestParseLastMod(t *testing.T) {
	t.Parallel()

	got := parseLastMod("2026-02-28T10:00:00+01:00")
	require.NotNil(t, got)
	require.Equal(t, time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC), *got)

	got = parseLastMod(" 2026-02-27 ")
	require.NotNil(t, got)
	require.Equal(t, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), *got)

	require.Nil(t, parseLastMod(""))
	require.Nil(t, parseLastMod("yesterday"))
}
