package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte("<urlset></urlset>"))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchReturnsBody(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{UserAgent: "newshub-test"})

	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + "/sitemap.xml"})
		if err != nil {
			t.Fatalf("Fetch() pass %d error = %v", i, err)
		}
		if resp.StatusCode != http.StatusOK || string(resp.Body) != "<urlset></urlset>" {
			t.Fatalf("unexpected response %+v", resp)
		}
	}
}

func TestFetchMapsStatusToKind(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{})

	tests := []struct {
		path string
		kind crawler.ErrorKind
		code int
	}{
		{path: "/missing", kind: crawler.ErrorKindValidation, code: http.StatusNotFound},
		{path: "/down", kind: crawler.ErrorKindNetwork, code: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL + tc.path})
		var crawlErr *crawler.CrawlError
		if !errors.As(err, &crawlErr) {
			t.Fatalf("%s: expected CrawlError, got %v", tc.path, err)
		}
		if crawlErr.Kind != tc.kind || crawlErr.StatusCode != tc.code {
			t.Fatalf("%s: got kind=%s code=%d", tc.path, crawlErr.Kind, crawlErr.StatusCode)
		}
	}
}

func TestHeadReportsStatus(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{})

	code, err := f.Head(context.Background(), srv.URL+"/sitemap.xml")
	if err != nil || code != http.StatusOK {
		t.Fatalf("Head() = %d, %v", code, err)
	}
	code, err = f.Head(context.Background(), srv.URL+"/missing")
	if err != nil || code != http.StatusNotFound {
		t.Fatalf("Head() missing = %d, %v", code, err)
	}
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	f := New(Config{Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: srv.URL + "/slow"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClassifyVisitError(t *testing.T) {
	t.Parallel()

	if got := classifyVisitError(errors.New("dial tcp: refused")); got != crawler.ErrorKindNetwork {
		t.Fatalf("expected network, got %s", got)
	}
}
