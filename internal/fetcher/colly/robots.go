package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsAwareTransport retries robots.txt fetches that time out or answer
// 5xx. When retries run out it serves an allow-all policy for the host and
// remembers that, so a broken robots endpoint costs one backoff per host.
type robotsAwareTransport struct {
	base       http.RoundTripper
	backoff    []time.Duration
	onFallback func(host string)

	mu        sync.Mutex
	fallbacks map[string]struct{}
}

func newRobotsTransport(base http.RoundTripper, onFallback func(host string)) *robotsAwareTransport {
	return &robotsAwareTransport{
		base:       base,
		backoff:    defaultRobotsBackoff,
		onFallback: onFallback,
		fallbacks:  make(map[string]struct{}),
	}
}

func (t *robotsAwareTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !strings.EqualFold(req.URL.Path, "/robots.txt") {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("roundtrip %s: %w", req.URL.Host, err)
		}
		return resp, nil
	}
	if t.knownFallback(req.URL.Host) {
		return allowAllResponse(req), nil
	}
	return t.fetchRobots(req)
}

func (t *robotsAwareTransport) fetchRobots(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		retry := false
		switch {
		case err != nil:
			if !isTransientError(err) {
				return nil, fmt.Errorf("fetch robots.txt for %s: %w", req.URL.Host, err)
			}
			retry = true
		case resp.StatusCode >= http.StatusInternalServerError:
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			retry = true
		default:
			return resp, nil
		}

		if !retry || attempt >= len(t.backoff) {
			t.markFallback(req.URL.Host)
			return allowAllResponse(req), nil
		}
		if err := sleepWithContext(req.Context(), t.backoff[attempt]); err != nil {
			return nil, err
		}
	}
}

func (t *robotsAwareTransport) knownFallback(host string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.fallbacks[host]
	return ok
}

func (t *robotsAwareTransport) markFallback(host string) {
	t.mu.Lock()
	if t.fallbacks == nil {
		t.fallbacks = make(map[string]struct{})
	}
	t.fallbacks[host] = struct{}{}
	t.mu.Unlock()
	if t.onFallback != nil {
		t.onFallback(host)
	}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

func isTransientError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
