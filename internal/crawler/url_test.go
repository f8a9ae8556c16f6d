package crawler

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases host", "HTTPS://Example.COM/News/Story", "https://example.com/News/Story"},
		{"drops default port", "http://example.com:80/a", "http://example.com/a"},
		{"drops fragment", "https://example.com/a#comments", "https://example.com/a"},
		{"sorts query", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"trims trailing slash", "https://example.com/news/story/", "https://example.com/news/story"},
		{"keeps root", "https://example.com/", "https://example.com/"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	t.Parallel()

	_, err := NormalizeURL("/news/story")
	require.Error(t, err)
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/politics/")
	require.NoError(t, err)
	got, err := ResolveURL(base, "../sports/match-report/")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/sports/match-report", got)
}

func TestIsArticleURL(t *testing.T) {
	t.Parallel()

	exclusions := NewExclusionList(DefaultExcludedPatterns)
	cases := []struct {
		candidate string
		want      bool
	}{
		{"https://example.com/2024/05/budget-passed", true},
		{"https://www.example.com/2024/05/budget-passed", true},
		{"https://other.com/2024/05/budget-passed", false},
		{"https://example.com/", false},
		{"https://example.com/tag/economy", false},
		{"https://example.com/wp-content/uploads/a.jpg", false},
		{"mailto:desk@example.com", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsArticleURL("https://example.com", tc.candidate, exclusions), tc.candidate)
	}
}
