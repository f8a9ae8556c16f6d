package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
)

type scriptedWorker struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (w *scriptedWorker) Crawl(_ context.Context, task crawler.Task) (crawler.ArticleResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= len(w.errs) {
		return crawler.ArticleResult{Title: "partial"}, w.errs[w.calls-1]
	}
	return crawler.ArticleResult{Title: "Story"}, nil
}

type recordingLimiter struct {
	mu       sync.Mutex
	waits    int
	reported []crawler.ErrorKind
}

func (l *recordingLimiter) Wait(ctx context.Context, _ string) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return ctx.Err()
}

func (l *recordingLimiter) ReportResult(_ string, kind crawler.ErrorKind) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reported = append(l.reported, kind)
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Now() }

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventLog) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func networkErr() error {
	return crawler.NewCrawlError(crawler.ErrorKindNetwork, http.StatusServiceUnavailable, errors.New("unavailable"))
}

func TestRunnerRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	w := &scriptedWorker{errs: []error{networkErr(), networkErr()}}
	limiter := &recordingLimiter{}
	events := &eventLog{}
	r := NewRunner(w, limiter, crawler.NewExponentialRetryPolicy(3, time.Millisecond, 2*time.Millisecond), fakeClock{}, events, zap.NewNop())

	res := r.Run(context.Background(), crawler.Task{JobID: "j", URL: "https://punchng.com/story"})
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Attempts)
	require.Equal(t, "Story", res.Article.Title)
	require.Equal(t, "https://punchng.com/story", res.Article.URL)
	require.Equal(t, 3, limiter.waits)
	require.Equal(t, []crawler.ErrorKind{crawler.ErrorKindNetwork, crawler.ErrorKindNetwork}, limiter.reported)
	require.Empty(t, events.events)
}

func TestRunnerDoesNotRetryStructuralFailures(t *testing.T) {
	t.Parallel()

	parseErr := crawler.NewCrawlError(crawler.ErrorKindParsing, 0, errors.New("no body"))
	w := &scriptedWorker{errs: []error{parseErr}}
	events := &eventLog{}
	r := NewRunner(w, nil, crawler.NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond), fakeClock{}, events, nil)

	res := r.Run(context.Background(), crawler.Task{JobID: "j", URL: "https://punchng.com/story"})
	require.ErrorIs(t, res.Err, parseErr)
	require.Equal(t, 1, res.Attempts)
	require.Empty(t, res.Article.Title, "partial results are discarded")
	require.Len(t, events.events, 1)
	require.Equal(t, progress.StageURLError, events.events[0].Stage)
	require.Equal(t, crawler.ErrorKindParsing, events.events[0].ErrorKind)
	require.Equal(t, "punchng.com", events.events[0].Site)
}

func TestRunnerGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	w := &scriptedWorker{errs: []error{networkErr(), networkErr(), networkErr()}}
	r := NewRunner(w, nil, crawler.NewExponentialRetryPolicy(1, time.Millisecond, time.Millisecond), fakeClock{}, nil, nil)

	res := r.Run(context.Background(), crawler.Task{JobID: "j", URL: "https://punchng.com/story"})
	require.Error(t, res.Err)
	require.Equal(t, 2, res.Attempts)
	require.Equal(t, crawler.ErrorKindNetwork, crawler.ClassifyError(res.Err))
}

func TestRunnerCanceledEmitsNothing(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := &scriptedWorker{}
	events := &eventLog{}
	r := NewRunner(w, &recordingLimiter{}, nil, fakeClock{}, events, nil)

	res := r.Run(ctx, crawler.Task{JobID: "j", URL: "https://punchng.com/story"})
	require.True(t, crawler.IsCanceled(res.Err))
	require.Zero(t, w.calls)
	require.Empty(t, events.events)
}
