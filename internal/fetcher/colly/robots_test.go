package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastRobotsTransport(base http.RoundTripper, onFallback func(string)) *robotsAwareTransport {
	t := newRobotsTransport(base, onFallback)
	t.backoff = []time.Duration{0, 0, 0}
	return t
}

func robotsRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "https://punchng.com/robots.txt", nil)
}

func statusResponse(code int) *http.Response {
	rec := httptest.NewRecorder()
	rec.WriteHeader(code)
	return rec.Result()
}

func TestRobotsFallbackAfterTimeouts(t *testing.T) {
	t.Parallel()

	var fallbackHost string
	base := &stubRoundTripper{results: []roundTripResult{{err: context.DeadlineExceeded}}}
	transport := fastRobotsTransport(base, func(host string) { fallbackHost = host })

	resp, err := transport.RoundTrip(robotsRequest())
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	require.Equal(t, allowAllRobots, string(body))
	require.Equal(t, "punchng.com", fallbackHost)
	require.Equal(t, 4, base.calls)
}

func TestRobotsFallbackAfterServerErrors(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{resp: statusResponse(http.StatusBadGateway)}}}
	fallbacks := 0
	transport := fastRobotsTransport(base, func(string) { fallbacks++ })

	resp, err := transport.RoundTrip(robotsRequest())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 4, base.calls)

	// The host is remembered, so the next fetch skips the backoff entirely.
	resp, err = transport.RoundTrip(robotsRequest())
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 4, base.calls)
	require.Equal(t, 1, fallbacks)
}

func TestRobotsRetryStopsAfterSuccess(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{
		{err: context.DeadlineExceeded},
		{resp: statusResponse(http.StatusNotFound)},
	}}
	transport := fastRobotsTransport(base, nil)

	resp, err := transport.RoundTrip(robotsRequest())
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 2, base.calls)
}

func TestRobotsNonTransientFailsFast(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{err: errors.New("connection refused")}}}
	transport := fastRobotsTransport(base, nil)

	_, err := transport.RoundTrip(robotsRequest())
	require.Error(t, err)
	require.Equal(t, 1, base.calls)
}

func TestRobotsTransportPassesOtherRequests(t *testing.T) {
	t.Parallel()

	base := &stubRoundTripper{results: []roundTripResult{{resp: statusResponse(http.StatusServiceUnavailable)}}}
	transport := fastRobotsTransport(base, nil)

	req := httptest.NewRequest(http.MethodGet, "https://punchng.com/sitemap.xml", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, 1, base.calls)
}

type roundTripResult struct {
	resp *http.Response
	err  error
}

type stubRoundTripper struct {
	results []roundTripResult
	calls   int
}

func (s *stubRoundTripper) RoundTrip(_ *http.Request) (*http.Response, error) {
	defer func() { s.calls++ }()
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	res := s.results[idx]
	if res.resp != nil {
		// Each attempt needs its own readable body.
		rec := httptest.NewRecorder()
		rec.WriteHeader(res.resp.StatusCode)
		return rec.Result(), nil
	}
	return nil, res.err
}
