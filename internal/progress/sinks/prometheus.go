package sinks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/newshub-crawler/internal/progress"
)

// PrometheusSink exports job lifecycle and per-URL outcomes. It owns its
// collectors so tests can register them against a private registry.
type PrometheusSink struct {
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobsRunning  prometheus.Gauge
	jobRuntime   *prometheus.HistogramVec

	urlOutcomes *prometheus.CounterVec
	urlErrors   *prometheus.CounterVec
	urlDuration *prometheus.HistogramVec

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against reg, or the default
// registerer when reg is nil.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newshub_jobs_started_total",
			Help: "Jobs that entered running from a start or restart.",
		}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newshub_jobs_finished_total",
			Help: "Jobs that reached a terminal state, partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "newshub_jobs_running",
			Help: "Jobs started and not yet terminal, including paused ones.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newshub_job_runtime_seconds",
			Help:    "Wall time per terminal job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		urlOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newshub_url_outcomes_total",
			Help: "Processed article URLs partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		urlErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newshub_url_errors_total",
			Help: "Failed article URLs partitioned by site and error type.",
		}, []string{"site", "error_type"}),
		urlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newshub_url_duration_seconds",
			Help:    "Worker time per article URL including retries.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"site"}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsFinished,
		s.jobsRunning,
		s.jobRuntime,
		s.urlOutcomes,
		s.urlErrors,
		s.urlDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageJobStart, progress.StageJobRestart:
			s.jobsStarted.Inc()
			if s.tracker.start(evt.JobID) {
				s.jobsRunning.Inc()
			}
		case progress.StageJobComplete, progress.StageJobFail, progress.StageJobStop:
			result := strings.ToLower(strings.TrimPrefix(string(evt.Stage), "JOB_"))
			s.jobsFinished.WithLabelValues(result).Inc()
			if evt.Dur > 0 {
				s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
			}
			if s.tracker.complete(evt.JobID) {
				s.jobsRunning.Dec()
			}
		case progress.StageURLDone:
			s.urlOutcomes.WithLabelValues(siteLabel(evt.Site), string(evt.Outcome)).Inc()
			s.observeDuration(evt)
		case progress.StageURLError:
			site := siteLabel(evt.Site)
			s.urlOutcomes.WithLabelValues(site, string(progress.OutcomeFailed)).Inc()
			s.urlErrors.WithLabelValues(site, string(evt.ErrorKind)).Inc()
			s.observeDuration(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) observeDuration(evt progress.Event) {
	if evt.Dur > 0 {
		s.urlDuration.WithLabelValues(siteLabel(evt.Site)).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func siteLabel(site string) string {
	if site == "" {
		return "unknown"
	}
	return site
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
