package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/progress"
	"github.com/JakeFAU/newshub-crawler/internal/publisher/memory"
)

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(context.Context, string, any) (string, error) {
	p.calls++
	return "", errors.New("broker unavailable")
}

func TestPublishSinkForwardsLifecycleOnly(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "newshub.jobs", zap.NewNop())

	now := time.Now()
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageURLDone, Site: "punchng.com", Outcome: progress.OutcomeCreated},
		{JobID: "job-1", TS: now, Stage: progress.StageJobComplete, Found: 3, Processed: 3},
	})
	require.NoError(t, err)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "newshub.jobs", msgs[0].Topic)
	require.Equal(t, "job-1", msgs[0].Key)
	require.Contains(t, string(msgs[1].Data), `"stage":"JOB_COMPLETE"`)
	require.Contains(t, string(msgs[1].Data), `"articles_processed":3`)

	require.NoError(t, sink.Close(context.Background()))
}

func TestPublishSinkJoinsErrors(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{}
	sink := NewPublishSink(pub, "newshub.jobs", nil)

	now := time.Now()
	err := sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobStart},
		{JobID: "job-1", TS: now, Stage: progress.StageJobStop},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "JOB_START")
	require.Contains(t, err.Error(), "JOB_STOP")
	require.Equal(t, 2, pub.calls)
	require.NoError(t, sink.Close(context.Background()))
}

func TestPublishSinkWithoutTopicIsNoop(t *testing.T) {
	t.Parallel()

	pub := memory.New()
	sink := NewPublishSink(pub, "", nil)
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobStart},
	}))
	require.Empty(t, pub.Messages())
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	sink := NewLogSink(zap.New(core))

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job-1", TS: now, Stage: progress.StageJobPause, Note: "operator request"},
		{JobID: "job-1", TS: now, Stage: progress.StageURLError, Site: "punchng.com", ErrorKind: crawler.ErrorKindNetwork, Attempts: 3},
	}))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, "job lifecycle", entries[0].Message)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, "operator request", entries[0].ContextMap()["note"])
	require.Equal(t, "url processed", entries[1].Message)
	require.Equal(t, zap.DebugLevel, entries[1].Level)
	require.Equal(t, "network", entries[1].ContextMap()["error_type"])
	require.NoError(t, sink.Close(context.Background()))
}
