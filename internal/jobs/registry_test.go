package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/articles"
	"github.com/JakeFAU/newshub-crawler/internal/clock/system"
	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/discovery"
	"github.com/JakeFAU/newshub-crawler/internal/dispatcher"
	"github.com/JakeFAU/newshub-crawler/internal/failures"
	"github.com/JakeFAU/newshub-crawler/internal/id/uuid"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
	"github.com/JakeFAU/newshub-crawler/internal/storage/memory"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const (
	testWebsite = "w1"
	testBaseURL = "https://punchng.com"
	waitFor     = 5 * time.Second
	tick        = 5 * time.Millisecond
)

type discoveryPass func(ctx context.Context, target discovery.Target, emit discovery.EmitFunc) (discovery.Report, error)

// scriptedDiscoverer plays one pass per Run call and repeats the last.
type scriptedDiscoverer struct {
	mu     sync.Mutex
	passes []discoveryPass
	calls  int
}

func (d *scriptedDiscoverer) Run(ctx context.Context, target discovery.Target, emit discovery.EmitFunc) (discovery.Report, error) {
	d.mu.Lock()
	pass := d.passes[min(d.calls, len(d.passes)-1)]
	d.calls++
	d.mu.Unlock()
	return pass(ctx, target, emit)
}

func emitPaths(paths ...string) discoveryPass {
	return func(ctx context.Context, target discovery.Target, emit discovery.EmitFunc) (discovery.Report, error) {
		report := discovery.Report{Roots: 1}
		for _, path := range paths {
			report.Candidates++
			err := emit(ctx, crawler.DiscoveredURL{
				WebsiteID: target.Website.ID,
				URL:       target.Website.BaseURL + path,
				IsValid:   true,
				Source:    crawler.SourceSitemap,
			})
			if err != nil {
				return report, err
			}
			report.Emitted++
		}
		return report, nil
	}
}

func blockingPass(ctx context.Context, _ discovery.Target, _ discovery.EmitFunc) (discovery.Report, error) {
	<-ctx.Done()
	return discovery.Report{}, ctx.Err()
}

func fatalPass(ctx context.Context, target discovery.Target, _ discovery.EmitFunc) (discovery.Report, error) {
	if target.OnFailure != nil {
		target.OnFailure(ctx, discovery.Failure{
			URL:  target.Website.BaseURL + "/sitemap.xml",
			Root: true,
			Err:  crawler.NewCrawlError(crawler.ErrorKindNetwork, 503, errors.New("unavailable")),
		})
	}
	return discovery.Report{Roots: 1, FailedRoots: 1},
		fmt.Errorf("discover %s: %w", target.Website.BaseURL, crawler.ErrDiscoveryFatal)
}

type runnerFunc func(ctx context.Context, task crawler.Task) crawler.TaskResult

func (f runnerFunc) Run(ctx context.Context, task crawler.Task) crawler.TaskResult {
	return f(ctx, task)
}

func succeed(_ context.Context, task crawler.Task) crawler.TaskResult {
	return crawler.TaskResult{
		Task:     task,
		Article:  crawler.ArticleResult{URL: task.URL, Title: "Title of " + task.URL},
		Attempts: 1,
	}
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.Stage)
	}
	return out
}

type harness struct {
	store    *memory.Store
	articles *articles.Service
	failures *failures.Aggregator
	events   *recorder
	registry *Registry
}

func newHarness(t *testing.T, disc Discoverer, runner dispatcher.TaskRunner, opts Options) *harness {
	t.Helper()
	return newHarnessWithJobs(t, disc, runner, opts, nil)
}

// newHarnessWithJobs lets a test wrap the job repository the registry uses.
func newHarnessWithJobs(
	t *testing.T,
	disc Discoverer,
	runner dispatcher.TaskRunner,
	opts Options,
	wrap func(*memory.Store) store.JobRepository,
) *harness {
	t.Helper()
	st := memory.NewStore()
	var jobRepo store.JobRepository = st
	if wrap != nil {
		jobRepo = wrap(st)
	}
	require.NoError(t, st.CreateWebsite(context.Background(), crawler.Website{
		ID: testWebsite, Name: "Punch", BaseURL: testBaseURL, Active: true,
	}))

	clk := system.New()
	ids := uuid.New()
	logger := zap.NewNop()
	h := &harness{
		store:    st,
		articles: articles.NewService(st, clk, ids, logger),
		failures: failures.New(st, clk, ids, logger),
		events:   &recorder{},
	}
	h.registry = NewRegistry(Deps{
		Jobs:       jobRepo,
		Articles:   h.articles,
		Failures:   h.failures,
		Discoverer: disc,
		Runners:    func(crawler.JobConfig) dispatcher.TaskRunner { return runner },
		Events:     h.events,
		Clock:      clk,
		Logger:     logger,
	}, RegistryConfig{
		Websites: st,
		Errors:   h.failures,
		IDs:      ids,
		Defaults: crawler.JobConfig{RateLimit: 2, MaxDepth: 3},
		Options:  opts,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, h.registry.Shutdown(ctx))
	})
	return h
}

func (h *harness) waitStatus(t *testing.T, jobID string, status crawler.JobStatus) crawler.JobSnapshot {
	t.Helper()
	var snap crawler.JobSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = h.registry.Get(context.Background(), jobID)
		return err == nil && snap.Status == status
	}, waitFor, tick)
	return snap
}

func (h *harness) waitReleased(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return h.registry.Live() == 0 }, waitFor, tick)
}

func (h *harness) articleCount(t *testing.T) int {
	t.Helper()
	n, err := h.store.CountArticles(context.Background(), store.ArticleFilter{})
	require.NoError(t, err)
	return n
}

func TestJobCompletesWithPartialFailures(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a", "/news/b", "/news/c")}}
	runner := runnerFunc(func(ctx context.Context, task crawler.Task) crawler.TaskResult {
		if task.URL == testBaseURL+"/news/c" {
			return crawler.TaskResult{
				Task:     task,
				Err:      crawler.NewCrawlError(crawler.ErrorKindParsing, 0, errors.New("no article body")),
				Attempts: 1,
			}
		}
		return succeed(ctx, task)
	})
	h := newHarness(t, disc, runner, Options{})
	ctx := context.Background()

	started, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, started.Status)
	require.NotNil(t, started.StartTime)
	require.Equal(t, 2, started.Config.RateLimit)

	snap := h.waitStatus(t, started.ID, crawler.JobStatusCompleted)
	h.waitReleased(t)

	snap, err = h.registry.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, 3, snap.ArticlesFound)
	require.Equal(t, 3, snap.ArticlesProcessed)
	require.Equal(t, 1, snap.Errors)
	require.InDelta(t, 100.0, snap.Progress, 0.001)
	require.NotNil(t, snap.EndTime)
	require.Equal(t, "Punch", snap.WebsiteName)
	require.Equal(t, 2, h.articleCount(t))

	unresolved := false
	n, err := h.store.CountErrors(ctx, store.ErrorFilter{JobID: snap.ID, Resolved: &unresolved})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stages := h.events.Stages()
	require.Equal(t, progress.StageJobStart, stages[0])
	require.Equal(t, progress.StageJobComplete, stages[len(stages)-1])
	done := 0
	for _, stage := range stages {
		if stage == progress.StageURLDone {
			done++
		}
	}
	require.Equal(t, 2, done)
}

func TestConcurrentStartOnOneWebsite(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{blockingPass}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})

	const callers = 8
	var wins, busy atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.registry.Start(context.Background(), testWebsite, crawler.JobConfig{})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrWebsiteBusy):
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(callers-1), busy.Load())
}

func TestControlRejectsInvalidTransitions(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{blockingPass}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)

	_, err = h.registry.Control(ctx, snap.ID, ActionResume)
	require.ErrorIs(t, err, ErrInvalidTransition)
	var transitionErr *InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	require.Equal(t, crawler.JobStatusRunning, transitionErr.From)

	_, err = h.registry.Control(ctx, snap.ID, ActionRestart)
	require.ErrorIs(t, err, ErrInvalidTransition)

	current, err := h.registry.Get(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, current.Status)

	paused, err := h.registry.Control(ctx, snap.ID, ActionPause)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	_, err = h.registry.Control(ctx, snap.ID, ActionPause)
	require.ErrorIs(t, err, ErrInvalidTransition)

	stopped, err := h.registry.Control(ctx, snap.ID, ActionStop)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusStopped, stopped.Status)
	require.NotNil(t, stopped.EndTime)

	_, err = h.registry.Control(ctx, snap.ID, ActionPause)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.registry.Control(ctx, "missing", ActionPause)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCommandAfterCompletionIsRejected(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a")}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)

	for _, action := range []Action{ActionPause, ActionResume, ActionStop} {
		_, err := h.registry.Control(ctx, snap.ID, action)
		require.ErrorIs(t, err, ErrInvalidTransition, "action %s", action)
	}
}

// gatedRunner blocks every task until the gate opens or its context ends.
type gatedRunner struct {
	gate    chan struct{}
	started atomic.Int32
	mu      sync.Mutex
	done    map[string]int
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{gate: make(chan struct{}), done: make(map[string]int)}
}

func (g *gatedRunner) Run(ctx context.Context, task crawler.Task) crawler.TaskResult {
	g.started.Add(1)
	select {
	case <-ctx.Done():
		return crawler.TaskResult{Task: task, Err: ctx.Err(), Attempts: 1}
	case <-g.gate:
	}
	g.mu.Lock()
	g.done[task.URL]++
	g.mu.Unlock()
	return succeed(ctx, task)
}

func (g *gatedRunner) completions() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.done))
	for k, v := range g.done {
		out[k] = v
	}
	return out
}

func TestPauseCancelsInflightAndResumeContinues(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a", "/news/b", "/news/c")}}
	runner := newGatedRunner()
	h := newHarness(t, disc, runner, Options{PausePolicy: PauseCancel})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{RateLimit: 2})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.started.Load() == 2 }, waitFor, tick)

	paused, err := h.registry.Control(ctx, snap.ID, ActionPause)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusPaused, paused.Status)

	require.Never(t, func() bool {
		current, err := h.registry.Get(ctx, snap.ID)
		return err != nil || current.Status != crawler.JobStatusPaused || current.ArticlesProcessed > 0
	}, 100*time.Millisecond, tick)
	require.Equal(t, int32(2), runner.started.Load())

	close(runner.gate)
	resumed, err := h.registry.Control(ctx, snap.ID, ActionResume)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusRunning, resumed.Status)
	require.Nil(t, resumed.PausedAt)

	final := h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)
	require.Equal(t, 3, final.ArticlesFound)
	require.Equal(t, 3, final.ArticlesProcessed)
	require.Equal(t, 3, h.articleCount(t))
	for url, n := range runner.completions() {
		require.Equal(t, 1, n, "url %s processed more than once", url)
	}

	list, err := h.store.ListArticles(ctx, store.ArticleFilter{})
	require.NoError(t, err)
	for _, article := range list {
		require.Zero(t, article.UpdateCount)
	}

	stages := h.events.Stages()
	require.Contains(t, stages, progress.StageJobPause)
	require.Contains(t, stages, progress.StageJobResume)
}

func TestPauseDrainPersistsInflightResults(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a", "/news/b", "/news/c")}}
	runner := newGatedRunner()
	h := newHarness(t, disc, runner, Options{PausePolicy: PauseDrain})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{RateLimit: 2})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.started.Load() == 2 }, waitFor, tick)

	_, err = h.registry.Control(ctx, snap.ID, ActionPause)
	require.NoError(t, err)
	close(runner.gate)

	require.Eventually(t, func() bool {
		current, err := h.registry.Get(ctx, snap.ID)
		return err == nil && current.Status == crawler.JobStatusPaused && current.ArticlesProcessed == 2
	}, waitFor, tick)
	require.Equal(t, int32(2), runner.started.Load())

	_, err = h.registry.Control(ctx, snap.ID, ActionResume)
	require.NoError(t, err)
	final := h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)
	require.Equal(t, 3, final.ArticlesProcessed)
}

func TestStopReleasesWebsite(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a", "/news/b")}}
	runner := newGatedRunner()
	h := newHarness(t, disc, runner, Options{})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.started.Load() == 2 }, waitFor, tick)

	stopped, err := h.registry.Control(ctx, snap.ID, ActionStop)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusStopped, stopped.Status)
	h.waitReleased(t)

	persisted, err := h.store.GetJob(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusStopped, persisted.Status)
	require.Zero(t, persisted.ArticlesProcessed)

	next, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	require.NotEqual(t, snap.ID, next.ID)
}

func TestRestartFailedJobResetsCounters(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{fatalPass, emitPaths("/news/a")}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	failed := h.waitStatus(t, snap.ID, crawler.JobStatusFailed)
	require.NotNil(t, failed.ErrorMessage)
	require.Contains(t, *failed.ErrorMessage, "unreachable")
	require.Equal(t, 1, failed.Errors)
	h.waitReleased(t)

	restarted, err := h.registry.Control(ctx, snap.ID, ActionRestart)
	require.NoError(t, err)
	require.Equal(t, snap.ID, restarted.ID)
	require.Equal(t, crawler.JobStatusRunning, restarted.Status)
	require.Nil(t, restarted.ErrorMessage)
	require.Nil(t, restarted.EndTime)

	final := h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)
	require.Equal(t, 1, final.ArticlesFound)
	require.Equal(t, 1, final.ArticlesProcessed)
	require.Contains(t, h.events.Stages(), progress.StageJobRestart)
}

// slowJobReads widens the window between reading a job and acting on it.
// reads, when set, is signalled after each read.
type slowJobReads struct {
	*memory.Store
	delay time.Duration
	reads chan struct{}
}

func (s slowJobReads) GetJob(ctx context.Context, id string) (crawler.Job, error) {
	job, err := s.Store.GetJob(ctx, id)
	if s.reads != nil {
		select {
		case s.reads <- struct{}{}:
		default:
		}
	}
	time.Sleep(s.delay)
	return job, err
}

func TestConcurrentRestartsLaunchOneRun(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{fatalPass, blockingPass}}
	h := newHarnessWithJobs(t, disc, runnerFunc(succeed), Options{},
		func(st *memory.Store) store.JobRepository { return slowJobReads{Store: st, delay: 20 * time.Millisecond} })
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	h.waitStatus(t, snap.ID, crawler.JobStatusFailed)
	h.waitReleased(t)

	const callers = 4
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		errs      = make(chan error, callers)
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.registry.Control(ctx, snap.ID, ActionRestart); err != nil {
				errs <- err
				return
			}
			succeeded.Add(1)
		}()
	}
	wg.Wait()
	close(errs)

	require.Equal(t, int32(1), succeeded.Load())
	for err := range errs {
		require.True(t, errors.Is(err, ErrWebsiteBusy) || errors.Is(err, ErrInvalidTransition), "unexpected error: %v", err)
	}
	require.Equal(t, 1, h.registry.Live())
	disc.mu.Lock()
	require.Equal(t, 2, disc.calls)
	disc.mu.Unlock()
	h.waitStatus(t, snap.ID, crawler.JobStatusRunning)
}

func TestRestartLockIsNotReenteredByAnotherRegistry(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{fatalPass, blockingPass}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)
	h.waitStatus(t, snap.ID, crawler.JobStatusFailed)
	h.waitReleased(t)

	// A second replica sharing the store and the lock still sees the job
	// as terminal, but the first replica's run holds the website.
	replicaCfg := h.registry.cfg
	replicaDeps := h.registry.deps
	reads := make(chan struct{}, 1)
	replicaDeps.Jobs = slowJobReads{Store: h.store, delay: 50 * time.Millisecond, reads: reads}
	replica := NewRegistry(replicaDeps, replicaCfg)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, replica.Shutdown(shutdownCtx))
	})

	replicaErr := make(chan error, 1)
	go func() {
		_, err := replica.Control(ctx, snap.ID, ActionRestart)
		replicaErr <- err
	}()
	<-reads
	_, err = h.registry.Control(ctx, snap.ID, ActionRestart)
	require.NoError(t, err)

	require.ErrorIs(t, <-replicaErr, ErrWebsiteBusy)
	require.Zero(t, replica.Live())
	require.Equal(t, 1, h.registry.Live())
}

// stubbornRunner ignores cancellation and finishes only when the gate opens.
type stubbornRunner struct {
	gate  chan struct{}
	calls atomic.Int32
}

func (s *stubbornRunner) Run(ctx context.Context, task crawler.Task) crawler.TaskResult {
	s.calls.Add(1)
	<-s.gate
	return succeed(ctx, task)
}

func TestResultsAfterCancelGraceAreDiscardedAndRequeued(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a", "/news/b", "/news/c")}}
	runner := &stubbornRunner{gate: make(chan struct{})}
	grace := 30 * time.Millisecond
	h := newHarness(t, disc, runner, Options{PausePolicy: PauseCancel, CancelGrace: grace})
	ctx := context.Background()

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{RateLimit: 2})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return runner.calls.Load() == 2 }, waitFor, tick)

	_, err = h.registry.Control(ctx, snap.ID, ActionPause)
	require.NoError(t, err)
	time.Sleep(5 * grace)

	_, err = h.registry.Control(ctx, snap.ID, ActionResume)
	require.NoError(t, err)
	close(runner.gate)

	final := h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)
	require.Equal(t, 3, final.ArticlesFound)
	require.Equal(t, 3, final.ArticlesProcessed)
	require.Equal(t, 3, h.articleCount(t))
	require.Equal(t, int32(5), runner.calls.Load())

	list, err := h.store.ListArticles(ctx, store.ArticleFilter{})
	require.NoError(t, err)
	for _, article := range list {
		require.Zero(t, article.UpdateCount, "article %s stored twice", article.URL)
	}
}

func TestRecoverFailsInterruptedJobs(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths()}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	require.NoError(t, h.store.CreateJob(ctx, crawler.Job{
		ID: "interrupted", WebsiteID: testWebsite, Status: crawler.JobStatusRunning, ArticlesFound: 4,
	}))

	n, err := h.registry.Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	job, err := h.store.GetJob(ctx, "interrupted")
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, InterruptedMessage, *job.ErrorMessage)
	require.NotNil(t, job.EndTime)

	_, err = h.registry.Control(ctx, "interrupted", ActionRestart)
	require.NoError(t, err)
	final := h.waitStatus(t, "interrupted", crawler.JobStatusCompleted)
	require.Zero(t, final.ArticlesFound)
	require.InDelta(t, 100.0, final.Progress, 0.001)
}

func TestMaintenanceModeSkipsStoredArticles(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/news/a", "/news/b")}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	_, err := h.articles.Upsert(ctx, articles.Input{
		URL:    testBaseURL + "/news/a",
		Fields: crawler.ArticleFields{WebsiteID: testWebsite, Title: "Stored"},
	})
	require.NoError(t, err)

	snap, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{MaintenanceMode: true})
	require.NoError(t, err)
	final := h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)
	require.Equal(t, 1, final.ArticlesFound)
	require.Equal(t, 1, final.ArticlesProcessed)

	stored, err := h.articles.GetByURL(ctx, testBaseURL+"/news/a")
	require.NoError(t, err)
	require.Equal(t, "Stored", stored.Title)
}

func TestMaxArticlesEndsDiscovery(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{emitPaths("/a1", "/a2", "/a3", "/a4", "/a5")}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})

	snap, err := h.registry.Start(context.Background(), testWebsite, crawler.JobConfig{MaxArticles: 2})
	require.NoError(t, err)
	final := h.waitStatus(t, snap.ID, crawler.JobStatusCompleted)
	require.Equal(t, 2, final.ArticlesFound)
	require.Equal(t, 2, final.ArticlesProcessed)
}

func TestStartAllReportsBusyWebsites(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{blockingPass}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()
	require.NoError(t, h.store.CreateWebsite(ctx, crawler.Website{
		ID: "w2", Name: "Vanguard", BaseURL: "https://vanguardngr.com", Active: true,
	}))
	require.NoError(t, h.store.CreateWebsite(ctx, crawler.Website{
		ID: "w3", Name: "Dormant", BaseURL: "https://dormant.example", Active: false,
	}))

	_, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)

	results, err := h.registry.StartAll(ctx, crawler.JobConfig{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	byWebsite := make(map[string]StartResult)
	for _, res := range results {
		byWebsite[res.WebsiteID] = res
	}
	require.ErrorIs(t, byWebsite[testWebsite].Err, ErrWebsiteBusy)
	require.NotNil(t, byWebsite["w2"].Job)
	require.Equal(t, crawler.JobStatusRunning, byWebsite["w2"].Job.Status)
}

func TestStartValidatesInput(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{blockingPass}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	_, err := h.registry.Start(ctx, "nope", crawler.JobConfig{})
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = h.registry.Start(ctx, testWebsite, crawler.JobConfig{RateLimit: -1})
	require.ErrorIs(t, err, crawler.ErrInvalidInput)
}

func TestListOverlaysLiveJobs(t *testing.T) {
	t.Parallel()

	disc := &scriptedDiscoverer{passes: []discoveryPass{blockingPass}}
	h := newHarness(t, disc, runnerFunc(succeed), Options{})
	ctx := context.Background()

	require.NoError(t, h.store.CreateJob(ctx, crawler.Job{
		ID: "old", WebsiteID: testWebsite, Status: crawler.JobStatusCompleted, ArticlesFound: 2, ArticlesProcessed: 2,
	}))
	live, err := h.registry.Start(ctx, testWebsite, crawler.JobConfig{})
	require.NoError(t, err)

	list, total, err := h.registry.List(ctx, store.JobFilter{WebsiteID: testWebsite})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	statuses := map[string]crawler.JobStatus{}
	for _, snap := range list {
		statuses[snap.ID] = snap.Status
		if snap.ID == "old" {
			require.InDelta(t, 100.0, snap.Progress, 0.001)
		}
	}
	require.Equal(t, crawler.JobStatusRunning, statuses[live.ID])
	require.Equal(t, crawler.JobStatusCompleted, statuses["old"])
}
