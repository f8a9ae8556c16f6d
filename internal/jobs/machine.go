package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/articles"
	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/discovery"
	"github.com/JakeFAU/newshub-crawler/internal/dispatcher"
	"github.com/JakeFAU/newshub-crawler/internal/metrics"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
	memqueue "github.com/JakeFAU/newshub-crawler/internal/queue/memory"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const tracerName = "github.com/JakeFAU/newshub-crawler/internal/jobs"

// PausePolicy decides what happens to in-flight work when a job pauses.
type PausePolicy string

// Pause policies.
const (
	// PauseCancel cancels in-flight tasks and re-queues their URLs.
	PauseCancel PausePolicy = "cancel"
	// PauseDrain lets in-flight tasks finish while nothing new is dispatched.
	PauseDrain PausePolicy = "drain"
)

// Options tunes every machine a registry runs.
type Options struct {
	PausePolicy PausePolicy
	// CancelGrace bounds how long cancelled work may still deliver a result.
	CancelGrace time.Duration
	// FlushInterval is how often changed counters are written to the job row.
	FlushInterval time.Duration
	// Lookahead is how many discovered URLs are buffered beyond the pool size.
	Lookahead int
}

func (o Options) withDefaults() Options {
	if o.PausePolicy != PauseDrain {
		o.PausePolicy = PauseCancel
	}
	if o.CancelGrace <= 0 {
		o.CancelGrace = 10 * time.Second
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.Lookahead <= 0 {
		o.Lookahead = 16
	}
	return o
}

// ArticleStore persists worker results.
type ArticleStore interface {
	Upsert(ctx context.Context, in articles.Input) (articles.Outcome, error)
	Fresh(ctx context.Context, rawURL string, lastModified *time.Time) (bool, error)
}

// ErrorRecorder appends scraping errors.
type ErrorRecorder interface {
	Record(ctx context.Context, jobID, websiteID, url string, kind crawler.ErrorKind, message string) (crawler.ScrapingError, error)
}

// Discoverer produces the candidate URLs of one discovery pass.
type Discoverer interface {
	Run(ctx context.Context, target discovery.Target, emit discovery.EmitFunc) (discovery.Report, error)
}

// RunnerFactory builds the task runner used by one run of a job.
type RunnerFactory func(cfg crawler.JobConfig) dispatcher.TaskRunner

// Deps are the collaborators shared by every machine.
type Deps struct {
	Jobs       store.JobRepository
	Articles   ArticleStore
	Failures   ErrorRecorder
	Discoverer Discoverer
	Runners    RunnerFactory
	Events     progress.Emitter
	Clock      crawler.Clock
	Logger     *zap.Logger
	Tracer     trace.Tracer
}

type command struct {
	action Action
	reply  chan commandResult
}

type commandResult struct {
	job crawler.Job
	pct float64
	err error
}

type discoveredURL struct {
	epoch int
	url   crawler.DiscoveredURL
}

type discoveryEnd struct {
	epoch  int
	report discovery.Report
	err    error
}

type pendingURL struct {
	url          string
	category     string
	lastModified *time.Time
}

type inflightTask struct {
	task   crawler.Task
	cancel context.CancelFunc
	// abandonAt is set when a pause cancelled the task; results after it are
	// discarded.
	abandonAt time.Time
}

// Machine owns one job. All job state is touched only by its loop goroutine;
// other goroutines talk to it through channels and read a published copy.
type Machine struct {
	deps   Deps
	opts   Options
	target discovery.Target
	logger *zap.Logger
	onExit func(*Machine)
	// owner is the website lock token this run holds.
	owner string

	commands      chan command
	results       chan crawler.TaskResult
	discovered    chan discoveredURL
	discoveryEnds chan discoveryEnd
	done          chan struct{}

	viewMu sync.RWMutex
	view   crawler.Job
	pct    float64

	job           crawler.Job
	epoch         int
	seq           uint64
	pending       []pendingURL
	inflight      map[uint64]*inflightTask
	discovering   bool
	stopDiscovery context.CancelFunc
	runCtx        context.Context //nolint:containedctx // scoped to one run of the loop
	runCancel     context.CancelFunc
	pool          *dispatcher.Pool
	queue         *memqueue.Queue
	grace         *time.Timer
	highWater     float64
	dirty         bool
}

func newMachine(
	job crawler.Job,
	website crawler.Website,
	categories []crawler.Category,
	epoch int,
	deps Deps,
	opts Options,
	onExit func(*Machine),
) *Machine {
	if deps.Events == nil {
		deps.Events = progress.Nop
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	m := &Machine{
		deps: deps,
		opts: opts.withDefaults(),
		target: discovery.Target{
			JobID:         job.ID,
			Website:       website,
			Categories:    categories,
			UseCategories: job.Config.UseCategories,
		},
		logger: deps.Logger.Named("job").With(
			zap.String("job_id", job.ID),
			zap.String("website_id", job.WebsiteID),
		),
		onExit:        onExit,
		commands:      make(chan command),
		results:       make(chan crawler.TaskResult),
		discovered:    make(chan discoveredURL),
		discoveryEnds: make(chan discoveryEnd),
		done:          make(chan struct{}),
		job:           job,
		epoch:         epoch,
		inflight:      make(map[uint64]*inflightTask),
	}
	m.target.OnFailure = m.recordDiscoveryFailure
	m.publishView()
	return m
}

// ID returns the job id.
func (m *Machine) ID() string {
	return m.target.JobID
}

// Done is closed once the loop has exited and the machine released its
// website.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Snapshot returns the latest published job state and its progress percent.
func (m *Machine) Snapshot() (crawler.Job, float64) {
	m.viewMu.RLock()
	defer m.viewMu.RUnlock()
	return m.view, m.pct
}

// Send delivers action to the loop and waits for the updated job and its
// progress percent.
func (m *Machine) Send(ctx context.Context, action Action) (crawler.Job, float64, error) {
	reply := make(chan commandResult, 1)
	select {
	case m.commands <- command{action: action, reply: reply}:
	case <-m.done:
		return crawler.Job{}, 0, errMachineExited
	case <-ctx.Done():
		return crawler.Job{}, 0, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.job, res.pct, res.err
	case <-ctx.Done():
		return crawler.Job{}, 0, ctx.Err()
	}
}

// begin moves a pending job to running. It runs before the loop starts, so
// the caller sees the running job or an error.
func (m *Machine) begin(ctx context.Context, restarted bool) error {
	next := m.job
	now := m.deps.Clock.Now()
	next.Status = crawler.JobStatusRunning
	next.StartTime = &now
	next.UpdatedAt = now
	if err := m.save(ctx, next); err != nil {
		return fmt.Errorf("start job %s: %w", m.job.ID, err)
	}
	m.job = next
	metrics.ObserveJobTransition(string(next.Status))
	stage := progress.StageJobStart
	if restarted {
		stage = progress.StageJobRestart
	}
	m.emitLifecycle(stage, "")
	m.logger.Info("job started", zap.Int("epoch", m.epoch), zap.Bool("restarted", restarted))
	m.publishView()
	return nil
}

// run is the machine loop. It returns when the job reaches a terminal state
// or base is cancelled.
func (m *Machine) run(base context.Context) {
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	defer m.exit()

	m.startRun(base)
	flush := time.NewTicker(m.opts.FlushInterval)
	defer flush.Stop()

	for !m.job.Status.IsTerminal() {
		var discovered <-chan discoveredURL
		if m.wantsDiscovery() {
			discovered = m.discovered
		}
		var grace <-chan time.Time
		if m.grace != nil {
			grace = m.grace.C
		}

		select {
		case <-base.Done():
			m.logger.Info("job loop shutting down", zap.String("status", string(m.job.Status)))
			m.teardown()
			return
		case cmd := <-m.commands:
			job, err := m.handleCommand(base, cmd.action)
			cmd.reply <- commandResult{job: job, pct: m.percent(), err: err}
		case res := <-m.results:
			m.handleResult(base, res)
		case d := <-discovered:
			m.handleDiscovered(d)
		case end := <-m.discoveryEnds:
			m.handleDiscoveryEnd(base, end)
		case <-grace:
			m.grace = nil
			m.expireAbandoned()
		case <-flush.C:
			m.flush(base)
		}

		m.dispatch()
		m.maybeComplete(base)
		m.publishView()
	}
	m.teardown()
}

func (m *Machine) startRun(base context.Context) {
	size := m.job.Config.RateLimit
	if size < 1 {
		size = 1
	}
	m.runCtx, m.runCancel = context.WithCancel(base)
	m.queue = memqueue.NewQueue(size)
	m.pool = dispatcher.New(m.queue, m.deps.Runners(m.job.Config), size, m.logger)
	m.pool.Start(m.runCtx)
	m.startDiscovery()
}

func (m *Machine) startDiscovery() {
	ctx, cancel := context.WithCancel(m.runCtx)
	m.stopDiscovery = cancel
	m.discovering = true

	epoch := m.epoch
	maintenance := m.job.Config.MaintenanceMode
	emit := func(ctx context.Context, candidate crawler.DiscoveredURL) error {
		if maintenance {
			fresh, err := m.deps.Articles.Fresh(ctx, candidate.URL, candidate.LastModified)
			if err != nil {
				m.logger.Warn("freshness check failed", zap.String("url", candidate.URL), zap.Error(err))
			} else if fresh {
				return nil
			}
		}
		select {
		case m.discovered <- discoveredURL{epoch: epoch, url: candidate}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	target := m.target
	go func() {
		report, err := m.deps.Discoverer.Run(ctx, target, emit)
		select {
		case m.discoveryEnds <- discoveryEnd{epoch: epoch, report: report, err: err}:
		case <-m.done:
		}
	}()
}

func (m *Machine) wantsDiscovery() bool {
	if !m.discovering || m.job.Status != crawler.JobStatusRunning {
		return false
	}
	return len(m.pending) < m.pool.Size()+m.opts.Lookahead
}

func (m *Machine) handleDiscovered(d discoveredURL) {
	if d.epoch != m.epoch || !m.discovering {
		return
	}
	m.pending = append(m.pending, pendingURL{
		url:          d.url.URL,
		category:     d.url.Category,
		lastModified: d.url.LastModified,
	})
	m.job.ArticlesFound++
	m.dirty = true
	if limit := m.job.Config.MaxArticles; limit > 0 && m.job.ArticlesFound >= limit {
		m.logger.Info("article limit reached", zap.Int("max_articles", limit))
		m.endDiscovery()
	}
}

func (m *Machine) endDiscovery() {
	m.discovering = false
	if m.stopDiscovery != nil {
		m.stopDiscovery()
	}
}

func (m *Machine) handleDiscoveryEnd(ctx context.Context, end discoveryEnd) {
	if end.epoch != m.epoch || !m.discovering {
		return
	}
	m.discovering = false
	m.stopDiscovery()

	fields := []zap.Field{
		zap.Int("roots", end.report.Roots),
		zap.Int("failed_roots", end.report.FailedRoots),
		zap.Int("candidates", end.report.Candidates),
		zap.Int("emitted", end.report.Emitted),
	}
	switch {
	case errors.Is(end.err, crawler.ErrDiscoveryFatal):
		m.logger.Warn("discovery failed", append(fields, zap.Error(end.err))...)
		m.finish(ctx, crawler.JobStatusFailed, end.err.Error())
	case end.err != nil && !crawler.IsCanceled(end.err):
		m.logger.Error("discovery ended early", append(fields, zap.Error(end.err))...)
		m.record(ctx, m.target.Website.BaseURL, crawler.ErrorKindUnknown, fmt.Sprintf("discovery ended early: %v", end.err))
	default:
		m.logger.Info("discovery finished", fields...)
	}
}

func (m *Machine) recordDiscoveryFailure(ctx context.Context, failure discovery.Failure) {
	m.record(ctx, failure.URL, crawler.ClassifyError(failure.Err), failure.Err.Error())
}

func (m *Machine) record(ctx context.Context, url string, kind crawler.ErrorKind, message string) {
	// Runs on the discovery goroutine too, so only immutable fields are read.
	if _, err := m.deps.Failures.Record(ctx, m.target.JobID, m.target.Website.ID, url, kind, message); err != nil {
		m.logger.Error("record scraping error failed", zap.String("url", url), zap.Error(err))
	}
}

// dispatch hands pending URLs to the pool while the job runs and the pool
// has a free slot. The queue holds at most pool-size items, so Submit never
// blocks.
func (m *Machine) dispatch() {
	for m.job.Status == crawler.JobStatusRunning && len(m.pending) > 0 && len(m.inflight) < m.pool.Size() {
		next := m.pending[0]
		m.pending = m.pending[1:]

		m.seq++
		task := crawler.Task{
			JobID:        m.job.ID,
			WebsiteID:    m.job.WebsiteID,
			URL:          next.url,
			Category:     next.category,
			LastModified: next.lastModified,
			Config:       m.job.Config,
			Epoch:        m.epoch,
			Seq:          m.seq,
		}
		taskCtx, cancel := context.WithCancel(m.runCtx)
		m.inflight[task.Seq] = &inflightTask{task: task, cancel: cancel}
		item := crawler.QueueItem{Task: task, Ctx: taskCtx, Done: m.deliver}
		if err := m.pool.Submit(m.runCtx, item); err != nil {
			cancel()
			delete(m.inflight, task.Seq)
			m.pending = append([]pendingURL{next}, m.pending...)
			m.logger.Error("dispatch failed", zap.String("url", next.url), zap.Error(err))
			return
		}
	}
}

// deliver runs on pool goroutines.
func (m *Machine) deliver(res crawler.TaskResult) {
	select {
	case m.results <- res:
	case <-m.done:
	}
}

func (m *Machine) handleResult(ctx context.Context, res crawler.TaskResult) {
	flight, ok := m.inflight[res.Task.Seq]
	if !ok || res.Task.Epoch != m.epoch {
		m.logger.Debug("discarding stale result", zap.String("url", res.Task.URL))
		return
	}
	delete(m.inflight, res.Task.Seq)
	flight.cancel()

	requeue := crawler.IsCanceled(res.Err)
	if !flight.abandonAt.IsZero() && (res.Err != nil || m.deps.Clock.Now().After(flight.abandonAt)) {
		requeue = true
	}
	if requeue {
		m.requeue(flight.task)
		return
	}

	site := metrics.SanitizeSite(res.Task.URL)
	if res.Err != nil {
		kind := crawler.ClassifyError(res.Err)
		m.record(ctx, res.Task.URL, kind, res.Err.Error())
		metrics.ObserveArticle(site, string(progress.OutcomeFailed))
		m.processed()
		return
	}

	outcome, err := m.deps.Articles.Upsert(ctx, articles.InputFromResult(m.job.WebsiteID, res.Article))
	if err != nil {
		kind := crawler.ErrorKindUnknown
		if errors.Is(err, crawler.ErrInvalidInput) {
			kind = crawler.ErrorKindValidation
		}
		m.record(ctx, res.Task.URL, kind, err.Error())
		metrics.ObserveArticle(site, string(progress.OutcomeFailed))
		m.processed()
		return
	}
	label := outcomeOf(outcome)
	metrics.ObserveArticle(site, string(label))
	m.processed()
	m.deps.Events.Emit(progress.Event{
		JobID:     m.job.ID,
		WebsiteID: m.job.WebsiteID,
		TS:        m.deps.Clock.Now(),
		Stage:     progress.StageURLDone,
		Site:      site,
		URL:       outcome.Article.URL,
		Outcome:   label,
		Attempts:  res.Attempts,
		Dur:       res.Duration,
		Found:     m.job.ArticlesFound,
		Processed: m.job.ArticlesProcessed,
	})
}

func outcomeOf(outcome articles.Outcome) progress.Outcome {
	switch {
	case outcome.Created:
		return progress.OutcomeCreated
	case len(outcome.Changed) > 0:
		return progress.OutcomeUpdated
	default:
		return progress.OutcomeUnchanged
	}
}

func (m *Machine) processed() {
	m.job.ArticlesProcessed++
	m.dirty = true
}

func (m *Machine) requeue(task crawler.Task) {
	m.pending = append([]pendingURL{{
		url:          task.URL,
		category:     task.Category,
		lastModified: task.LastModified,
	}}, m.pending...)
}

// expireAbandoned re-queues cancelled tasks whose grace period has passed.
// Their results, if they ever arrive, no longer match an in-flight entry.
func (m *Machine) expireAbandoned() {
	now := m.deps.Clock.Now()
	var next time.Time
	for seq, flight := range m.inflight {
		if flight.abandonAt.IsZero() {
			continue
		}
		if !now.Before(flight.abandonAt) {
			delete(m.inflight, seq)
			m.requeue(flight.task)
			continue
		}
		if next.IsZero() || flight.abandonAt.Before(next) {
			next = flight.abandonAt
		}
	}
	if !next.IsZero() {
		m.grace = time.NewTimer(next.Sub(now))
	}
}

func (m *Machine) handleCommand(ctx context.Context, action Action) (crawler.Job, error) {
	to, err := Next(m.job, action)
	if err != nil {
		return crawler.Job{}, err
	}
	if action == ActionRestart || action == ActionStart {
		// Live machines are never pending or terminal, so the table never
		// allows these here.
		return crawler.Job{}, &InvalidTransitionError{JobID: m.job.ID, From: m.job.Status, Action: action}
	}
	if err := m.transition(ctx, to, ""); err != nil {
		return crawler.Job{}, err
	}
	switch to {
	case crawler.JobStatusPaused:
		m.pauseInflight()
	case crawler.JobStatusStopped:
		m.teardown()
	}
	return m.job, nil
}

func (m *Machine) pauseInflight() {
	if m.opts.PausePolicy == PauseDrain || len(m.inflight) == 0 {
		return
	}
	deadline := m.deps.Clock.Now().Add(m.opts.CancelGrace)
	for _, flight := range m.inflight {
		flight.abandonAt = deadline
		flight.cancel()
	}
	if m.grace != nil {
		m.grace.Stop()
	}
	m.grace = time.NewTimer(m.opts.CancelGrace)
	m.logger.Info("in-flight tasks cancelled for pause",
		zap.Int("in_flight", len(m.inflight)),
		zap.Duration("grace", m.opts.CancelGrace),
	)
}

func (m *Machine) maybeComplete(ctx context.Context) {
	if m.job.Status != crawler.JobStatusRunning || m.discovering {
		return
	}
	if len(m.pending) > 0 || len(m.inflight) > 0 {
		return
	}
	m.finish(ctx, crawler.JobStatusCompleted, "")
}

// finish applies a transition the machine decided on itself. A failed write
// leaves the row dirty for the final flush.
func (m *Machine) finish(ctx context.Context, to crawler.JobStatus, message string) {
	if err := m.transition(ctx, to, message); err != nil {
		m.logger.Error("persist transition failed", zap.String("status", string(to)), zap.Error(err))
		m.apply(to, message)
		m.dirty = true
	}
}

// transition persists the job in status to and then applies it. On error
// nothing changes.
func (m *Machine) transition(ctx context.Context, to crawler.JobStatus, message string) error {
	ctx, span := m.deps.Tracer.Start(ctx, "job.transition", trace.WithAttributes(
		attribute.String("job.id", m.job.ID),
		attribute.String("job.from", string(m.job.Status)),
		attribute.String("job.to", string(to)),
	))
	defer span.End()

	from := m.job.Status
	next := m.next(to, message)
	if err := m.save(ctx, next); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("job %s: %w", m.job.ID, err)
	}
	m.job = next
	m.dirty = false
	m.transitioned(from, message)
	return nil
}

func (m *Machine) apply(to crawler.JobStatus, message string) {
	from := m.job.Status
	m.job = m.next(to, message)
	m.transitioned(from, message)
}

func (m *Machine) next(to crawler.JobStatus, message string) crawler.Job {
	now := m.deps.Clock.Now()
	next := m.job
	next.Status = to
	next.UpdatedAt = now
	switch to {
	case crawler.JobStatusRunning:
		next.PausedAt = nil
	case crawler.JobStatusPaused:
		next.PausedAt = &now
	case crawler.JobStatusCompleted, crawler.JobStatusFailed, crawler.JobStatusStopped:
		next.EndTime = &now
	}
	if message != "" {
		next.ErrorMessage = &message
	}
	return next
}

func (m *Machine) transitioned(from crawler.JobStatus, message string) {
	to := m.job.Status
	metrics.ObserveJobTransition(string(to))
	m.emitLifecycle(progress.StageForStatus(to, from == crawler.JobStatusPaused), message)
	m.logger.Info("job transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("articles_found", m.job.ArticlesFound),
		zap.Int("articles_processed", m.job.ArticlesProcessed),
	)
}

func (m *Machine) emitLifecycle(stage progress.Stage, note string) {
	now := m.deps.Clock.Now()
	evt := progress.Event{
		JobID:     m.job.ID,
		WebsiteID: m.job.WebsiteID,
		TS:        now,
		Stage:     stage,
		Site:      metrics.SanitizeSite(m.target.Website.BaseURL),
		Found:     m.job.ArticlesFound,
		Processed: m.job.ArticlesProcessed,
		Note:      note,
	}
	if m.job.EndTime != nil && m.job.StartTime != nil {
		evt.Dur = m.job.EndTime.Sub(*m.job.StartTime)
	}
	m.deps.Events.Emit(evt)
}

func (m *Machine) save(ctx context.Context, job crawler.Job) error {
	ctx, span := m.deps.Tracer.Start(ctx, "job.save", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.status", string(job.Status)),
	))
	defer span.End()
	if err := m.deps.Jobs.UpdateJob(ctx, job); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (m *Machine) flush(ctx context.Context) {
	if !m.dirty {
		return
	}
	if err := m.save(ctx, m.job); err != nil {
		m.logger.Warn("flush job counters failed", zap.Error(err))
		return
	}
	m.dirty = false
}

// teardown stops discovery and every in-flight task. Late results are
// dropped by deliver once the loop has exited.
func (m *Machine) teardown() {
	m.endDiscovery()
	if m.grace != nil {
		m.grace.Stop()
		m.grace = nil
	}
	for seq, flight := range m.inflight {
		flight.cancel()
		delete(m.inflight, seq)
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	if m.queue != nil {
		m.queue.Close()
	}
}

func (m *Machine) exit() {
	m.flush(context.Background())
	m.publishView()
	if m.onExit != nil {
		m.onExit(m)
	}
	close(m.done)
}

// percent is monotone while the job is live, stays below 100 until the
// job completes and reads exactly 100 afterwards.
func (m *Machine) percent() float64 {
	if m.job.Status == crawler.JobStatusCompleted {
		return 100
	}
	p := crawler.Percent(m.job.ArticlesFound, m.job.ArticlesProcessed)
	if p >= 100 {
		p = 99
	}
	if p > m.highWater {
		m.highWater = p
	}
	return m.highWater
}

func (m *Machine) publishView() {
	pct := m.percent()
	m.viewMu.Lock()
	m.view = m.job
	m.pct = pct
	m.viewMu.Unlock()
}
