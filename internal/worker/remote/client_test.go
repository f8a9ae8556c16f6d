package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

func TestCrawlDecodesArticle(t *testing.T) {
	t.Parallel()

	var got extractRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Fuel price rises","author":"Ade","categories":["business"],"word_count":420,"metadata":{"tags":["fuel"]}}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Endpoint: srv.URL, Token: "secret"})
	require.NoError(t, err)

	article, err := c.Crawl(context.Background(), crawler.Task{
		JobID:     "job-1",
		WebsiteID: "w1",
		URL:       "https://punchng.com/fuel",
		Config:    crawler.JobConfig{RateLimit: 4},
	})
	require.NoError(t, err)
	require.Equal(t, "Fuel price rises", article.Title)
	require.Equal(t, "https://punchng.com/fuel", article.URL)
	require.Equal(t, 420, article.WordCount)
	require.Equal(t, "w1", got.WebsiteID)
	require.Equal(t, 4, got.Config.RateLimit)
}

func TestCrawlMapsStatusToKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		kind   crawler.ErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, ``, crawler.ErrorKindRateLimit},
		{"unprocessable defaults to parsing", http.StatusUnprocessableEntity, `{"error":"no article body"}`, crawler.ErrorKindParsing},
		{"unprocessable validation", http.StatusUnprocessableEntity, `{"error":"paywalled","error_type":"validation"}`, crawler.ErrorKindValidation},
		{"upstream down", http.StatusBadGateway, `oops`, crawler.ErrorKindNetwork},
		{"not found", http.StatusNotFound, ``, crawler.ErrorKindValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			c, err := New(Config{Endpoint: srv.URL})
			require.NoError(t, err)
			_, err = c.Crawl(context.Background(), crawler.Task{URL: "https://punchng.com/x"})
			var crawlErr *crawler.CrawlError
			require.True(t, errors.As(err, &crawlErr))
			require.Equal(t, tc.kind, crawlErr.Kind)
			require.Equal(t, tc.status, crawlErr.StatusCode)
		})
	}
}

func TestCrawlRejectsUntitledArticle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"title":"  "}`))
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = c.Crawl(context.Background(), crawler.Task{URL: "https://punchng.com/x"})
	require.Equal(t, crawler.ErrorKindValidation, crawler.ClassifyError(err))
}

func TestCrawlTimeoutIsNetwork(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := New(Config{Endpoint: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Crawl(context.Background(), crawler.Task{URL: "https://punchng.com/x"})
	require.Equal(t, crawler.ErrorKindNetwork, crawler.ClassifyError(err))
}

func TestCrawlCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	t.Cleanup(srv.Close)

	c, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Crawl(ctx, crawler.Task{URL: "https://punchng.com/x"})
	require.True(t, crawler.IsCanceled(err))
}

func TestNewRequiresEndpoint(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
