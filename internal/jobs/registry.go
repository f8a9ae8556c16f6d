package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/store"
)

const unlockTimeout = 5 * time.Second

// InterruptedMessage is stored on jobs a previous process left active.
const InterruptedMessage = "interrupted by restart"

// ErrorCounter counts the scraping errors recorded for a job.
type ErrorCounter interface {
	CountForJob(ctx context.Context, jobID string) (int, error)
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	Websites store.WebsiteRepository
	Errors   ErrorCounter
	Locker   Locker
	IDs      crawler.IDGenerator
	// Defaults fills zero fields of a start request's JobConfig.
	Defaults crawler.JobConfig
	Options  Options
}

// StartResult is the per-website outcome of StartAll.
type StartResult struct {
	WebsiteID string               `json:"website_id"`
	Job       *crawler.JobSnapshot `json:"job,omitempty"`
	Error     string               `json:"error,omitempty"`
	Err       error                `json:"-"`
}

// Registry is the arena of live machines keyed by job id.
type Registry struct {
	deps     Deps
	cfg      RegistryConfig
	logger   *zap.Logger
	base     context.Context //nolint:containedctx // lifetime of every machine loop
	cancel   context.CancelFunc
	mu       sync.Mutex
	machines map[string]*Machine
	// restarting holds job ids between the terminal check and launch.
	restarting map[string]struct{}
	// epochs remembers the last run of each exited job so a restarted
	// machine never matches results of an earlier run.
	epochs map[string]int
}

// NewRegistry builds a Registry. Machines run until their job is terminal or
// Shutdown is called.
func NewRegistry(deps Deps, cfg RegistryConfig) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.Locker == nil {
		cfg.Locker = NewMemoryLocker()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.Named("registry"),
		base:     base,
		cancel:   cancel,
		machines:   make(map[string]*Machine),
		restarting: make(map[string]struct{}),
		epochs:     make(map[string]int),
	}
}

// Start creates a job for websiteID and starts its machine. It fails fast
// with ErrWebsiteBusy when the website already has an active job.
func (r *Registry) Start(ctx context.Context, websiteID string, cfg crawler.JobConfig) (crawler.JobSnapshot, error) {
	website, err := r.cfg.Websites.GetWebsite(ctx, websiteID)
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("load website %s: %w", websiteID, err)
	}
	if !website.Active {
		return crawler.JobSnapshot{}, crawler.Invalidf("website %s is inactive", websiteID)
	}
	cfg, err = r.normalizeConfig(cfg)
	if err != nil {
		return crawler.JobSnapshot{}, err
	}
	categories, err := r.cfg.Websites.ListCategories(ctx, websiteID)
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("load categories for %s: %w", websiteID, err)
	}
	id, err := r.cfg.IDs.NewID()
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("generate job id: %w", err)
	}

	if err := r.lock(ctx, websiteID, id); err != nil {
		return crawler.JobSnapshot{}, err
	}
	now := r.deps.Clock.Now()
	job := crawler.Job{
		ID:        id,
		WebsiteID: websiteID,
		Status:    crawler.JobStatusPending,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.deps.Jobs.CreateJob(ctx, job); err != nil {
		r.unlock(websiteID, id)
		if errors.Is(err, store.ErrConflict) {
			return crawler.JobSnapshot{}, fmt.Errorf("website %s: %w", websiteID, ErrWebsiteBusy)
		}
		return crawler.JobSnapshot{}, fmt.Errorf("create job: %w", err)
	}
	return r.launch(ctx, job, website, categories, id, 0, false)
}

// StartAll starts one job per active website. Busy websites and other
// per-website failures are reported in the results and do not stop the call.
func (r *Registry) StartAll(ctx context.Context, cfg crawler.JobConfig) ([]StartResult, error) {
	websites, err := r.cfg.Websites.ListWebsites(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list active websites: %w", err)
	}
	results := make([]StartResult, 0, len(websites))
	for _, website := range websites {
		res := StartResult{WebsiteID: website.ID}
		snap, err := r.Start(ctx, website.ID, cfg)
		if err != nil {
			res.Err = err
			res.Error = err.Error()
			r.logger.Info("website not started", zap.String("website_id", website.ID), zap.Error(err))
		} else {
			res.Job = &snap
		}
		results = append(results, res)
	}
	return results, nil
}

// Control forwards action to the job's machine. restart rehydrates a machine
// for a terminal job under the same id.
func (r *Registry) Control(ctx context.Context, jobID string, action Action) (crawler.JobSnapshot, error) {
	if m := r.live(jobID); m != nil {
		job, pct, err := m.Send(ctx, action)
		switch {
		case err == nil:
			return r.snapshot(ctx, job, pct)
		case !errors.Is(err, errMachineExited):
			return crawler.JobSnapshot{}, err
		}
		select {
		case <-m.Done():
		case <-ctx.Done():
			return crawler.JobSnapshot{}, ctx.Err()
		}
	}

	if action == ActionRestart {
		if !r.reserve(jobID) {
			return crawler.JobSnapshot{}, fmt.Errorf("job %s is already restarting: %w", jobID, ErrWebsiteBusy)
		}
		defer r.unreserve(jobID)
	}
	job, err := r.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if _, err := Next(job, action); err != nil {
		return crawler.JobSnapshot{}, err
	}
	if action != ActionRestart {
		return crawler.JobSnapshot{}, fmt.Errorf("job %s: %w", jobID, ErrNotOwned)
	}
	return r.restart(ctx, job)
}

// reserve claims jobID for one restart. It fails while another restart of
// the job is in progress or a machine for it is live.
func (r *Registry) reserve(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.restarting[jobID]; busy {
		return false
	}
	if _, live := r.machines[jobID]; live {
		return false
	}
	r.restarting[jobID] = struct{}{}
	return true
}

func (r *Registry) unreserve(jobID string) {
	r.mu.Lock()
	delete(r.restarting, jobID)
	r.mu.Unlock()
}

func (r *Registry) restart(ctx context.Context, job crawler.Job) (crawler.JobSnapshot, error) {
	website, err := r.cfg.Websites.GetWebsite(ctx, job.WebsiteID)
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("load website %s: %w", job.WebsiteID, err)
	}
	categories, err := r.cfg.Websites.ListCategories(ctx, job.WebsiteID)
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("load categories for %s: %w", job.WebsiteID, err)
	}
	// Each run locks under its own token, so a replica restarting the same
	// job cannot re-enter a lock this run holds.
	owner, err := r.cfg.IDs.NewID()
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("generate lock token: %w", err)
	}
	if err := r.lock(ctx, job.WebsiteID, owner); err != nil {
		return crawler.JobSnapshot{}, err
	}

	job.Status = crawler.JobStatusPending
	job.ArticlesFound = 0
	job.ArticlesProcessed = 0
	job.StartTime = nil
	job.EndTime = nil
	job.PausedAt = nil
	job.ErrorMessage = nil
	job.UpdatedAt = r.deps.Clock.Now()
	if err := r.deps.Jobs.UpdateJob(ctx, job); err != nil {
		r.unlock(job.WebsiteID, owner)
		if errors.Is(err, store.ErrConflict) {
			return crawler.JobSnapshot{}, fmt.Errorf("website %s: %w", job.WebsiteID, ErrWebsiteBusy)
		}
		return crawler.JobSnapshot{}, fmt.Errorf("reset job %s: %w", job.ID, err)
	}
	r.logger.Info("restarting job", zap.String("job_id", job.ID))
	return r.launch(ctx, job, website, categories, owner, r.nextEpoch(job.ID), true)
}

// launch moves the pending job to running and hands it to a new loop.
func (r *Registry) launch(
	ctx context.Context,
	job crawler.Job,
	website crawler.Website,
	categories []crawler.Category,
	owner string,
	epoch int,
	restarted bool,
) (crawler.JobSnapshot, error) {
	m := newMachine(job, website, categories, epoch, r.deps, r.cfg.Options, r.release)
	m.owner = owner
	if err := m.begin(ctx, restarted); err != nil {
		r.abandon(job, owner, err)
		return crawler.JobSnapshot{}, err
	}
	r.mu.Lock()
	r.machines[job.ID] = m
	r.mu.Unlock()
	go m.run(r.base)

	started, pct := m.Snapshot()
	return r.snapshot(ctx, started, pct)
}

// abandon fails a job whose machine never started so the pending row does
// not hold the website's slot.
func (r *Registry) abandon(job crawler.Job, owner string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	now := r.deps.Clock.Now()
	message := cause.Error()
	job.Status = crawler.JobStatusFailed
	job.EndTime = &now
	job.UpdatedAt = now
	job.ErrorMessage = &message
	if err := r.deps.Jobs.UpdateJob(ctx, job); err != nil {
		r.logger.Error("fail unstarted job", zap.String("job_id", job.ID), zap.Error(err))
	}
	r.unlock(job.WebsiteID, owner)
}

// release runs on the machine goroutine as its loop exits.
func (r *Registry) release(m *Machine) {
	job, _ := m.Snapshot()
	r.mu.Lock()
	if r.machines[job.ID] == m {
		delete(r.machines, job.ID)
	}
	r.epochs[job.ID] = m.epoch
	r.mu.Unlock()
	r.unlock(job.WebsiteID, m.owner)
}

// Get returns one job, preferring the live view over the persisted row.
func (r *Registry) Get(ctx context.Context, jobID string) (crawler.JobSnapshot, error) {
	if m := r.live(jobID); m != nil {
		job, pct := m.Snapshot()
		return r.snapshot(ctx, job, pct)
	}
	job, err := r.deps.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return crawler.JobSnapshot{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return r.snapshot(ctx, job, crawler.SnapshotProgress(job))
}

// List returns a page of jobs with live views overlaid, plus the total.
func (r *Registry) List(ctx context.Context, filter store.JobFilter) ([]crawler.JobSnapshot, int, error) {
	rows, err := r.deps.Jobs.ListJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	total, err := r.deps.Jobs.CountJobs(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}
	out := make([]crawler.JobSnapshot, 0, len(rows))
	for _, job := range rows {
		pct := crawler.SnapshotProgress(job)
		if m := r.live(job.ID); m != nil {
			job, pct = m.Snapshot()
		}
		snap, err := r.snapshot(ctx, job, pct)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, snap)
	}
	return out, total, nil
}

// Recover marks jobs that a previous process left pending, running or
// paused as failed. Jobs whose website lock is still held elsewhere are left
// alone.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	stale, err := r.deps.Jobs.ListJobs(ctx, store.JobFilter{Statuses: []crawler.JobStatus{
		crawler.JobStatusPending,
		crawler.JobStatusRunning,
		crawler.JobStatusPaused,
	}})
	if err != nil {
		return 0, fmt.Errorf("list interrupted jobs: %w", err)
	}
	recovered := 0
	for _, job := range stale {
		if r.live(job.ID) != nil {
			continue
		}
		ok, err := r.cfg.Locker.TryLock(ctx, job.WebsiteID, job.ID)
		if err != nil {
			return recovered, fmt.Errorf("lock website %s: %w", job.WebsiteID, err)
		}
		if !ok {
			r.logger.Info("job still owned elsewhere", zap.String("job_id", job.ID))
			continue
		}
		now := r.deps.Clock.Now()
		message := InterruptedMessage
		job.Status = crawler.JobStatusFailed
		job.EndTime = &now
		job.UpdatedAt = now
		job.ErrorMessage = &message
		err = r.deps.Jobs.UpdateJob(ctx, job)
		r.unlock(job.WebsiteID, job.ID)
		if err != nil {
			return recovered, fmt.Errorf("fail interrupted job %s: %w", job.ID, err)
		}
		r.logger.Warn("interrupted job marked failed", zap.String("job_id", job.ID))
		recovered++
	}
	return recovered, nil
}

// Shutdown stops every machine loop without changing job status and waits
// for them to exit. The jobs are recovered on the next start.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.cancel()
	r.mu.Lock()
	live := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		live = append(live, m)
	}
	r.mu.Unlock()
	for _, m := range live {
		select {
		case <-m.Done():
		case <-ctx.Done():
			return fmt.Errorf("shutdown jobs: %w", ctx.Err())
		}
	}
	return nil
}

// Live reports the number of running machines.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.machines)
}

func (r *Registry) nextEpoch(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.epochs[jobID] + 1
}

func (r *Registry) live(jobID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machines[jobID]
}

func (r *Registry) lock(ctx context.Context, websiteID, owner string) error {
	ok, err := r.cfg.Locker.TryLock(ctx, websiteID, owner)
	if err != nil {
		return fmt.Errorf("lock website %s: %w", websiteID, err)
	}
	if !ok {
		return fmt.Errorf("website %s: %w", websiteID, ErrWebsiteBusy)
	}
	return nil
}

func (r *Registry) unlock(websiteID, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if err := r.cfg.Locker.Unlock(ctx, websiteID, owner); err != nil {
		r.logger.Warn("release website lock failed",
			zap.String("website_id", websiteID),
			zap.String("owner", owner),
			zap.Error(err),
		)
	}
}

func (r *Registry) normalizeConfig(cfg crawler.JobConfig) (crawler.JobConfig, error) {
	if cfg.RateLimit < 0 || cfg.MaxDepth < 0 || cfg.MaxArticles < 0 {
		return cfg, crawler.Invalidf("job config values must not be negative")
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = r.cfg.Defaults.RateLimit
	}
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = r.cfg.Defaults.MaxDepth
	}
	if cfg.MaxArticles == 0 {
		cfg.MaxArticles = r.cfg.Defaults.MaxArticles
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
	return cfg, nil
}

func (r *Registry) snapshot(ctx context.Context, job crawler.Job, pct float64) (crawler.JobSnapshot, error) {
	snap := crawler.JobSnapshot{Job: job, Progress: pct}
	if r.cfg.Errors != nil {
		count, err := r.cfg.Errors.CountForJob(ctx, job.ID)
		if err != nil {
			return crawler.JobSnapshot{}, fmt.Errorf("count errors for job %s: %w", job.ID, err)
		}
		snap.Errors = count
	}
	website, err := r.cfg.Websites.GetWebsite(ctx, job.WebsiteID)
	switch {
	case err == nil:
		snap.WebsiteName = website.Name
	case !errors.Is(err, store.ErrNotFound):
		return crawler.JobSnapshot{}, fmt.Errorf("load website %s: %w", job.WebsiteID, err)
	}
	return snap, nil
}
