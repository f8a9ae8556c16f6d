package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageURLDone, Site: "punchng.com", Outcome: progress.OutcomeCreated, Dur: 200 * time.Millisecond},
		{JobID: "job-1", TS: now, Stage: progress.StageURLError, Site: "punchng.com", ErrorKind: crawler.ErrorKindParsing},
		{JobID: "job-1", TS: now.Add(15 * time.Second), Stage: progress.StageJobComplete, Dur: 15 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("complete")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.urlOutcomes.WithLabelValues("punchng.com", "created")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.urlOutcomes.WithLabelValues("punchng.com", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.urlErrors.WithLabelValues("punchng.com", string(crawler.ErrorKindParsing))))
	require.Equal(t, 1, testutil.CollectAndCount(sink.urlDuration, "newshub_url_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.jobRuntime, "newshub_job_runtime_seconds"))
}

func TestPrometheusSinkRunningGaugeIgnoresDuplicates(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobStart},
		{JobID: "a", TS: now, Stage: progress.StageJobRestart},
		{JobID: "b", TS: now, Stage: progress.StageJobStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.jobsStarted))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "a", TS: now, Stage: progress.StageJobStop},
		{JobID: "a", TS: now, Stage: progress.StageJobFail},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("stop")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.jobsFinished.WithLabelValues("fail")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
