package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newshub-crawler/internal/progress"
)

type recordingWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishKeysByJob(t *testing.T) {
	t.Parallel()

	w := &recordingWriter{}
	pub := newWithWriter(w, "newshub-jobs")
	pub.now = func() time.Time { return time.Unix(100, 0) }

	id, err := pub.Publish(context.Background(), "", progress.Event{JobID: "job-1", TS: time.Unix(0, 0).UTC(), Stage: progress.StageJobStart})
	require.NoError(t, err)
	require.Equal(t, "newshub-jobs/job-1@100000000000", id)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "newshub-jobs", w.msgs[0].Topic)
	require.Equal(t, []byte("job-1"), w.msgs[0].Key)
	require.Contains(t, string(w.msgs[0].Value), `"job_id":"job-1"`)

	require.NoError(t, pub.Close())
	require.True(t, w.closed)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := newWithWriter(&recordingWriter{}, "").Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = newWithWriter(&recordingWriter{err: errors.New("broker down")}, "t").Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "broker down")

	_, err = New(Config{})
	require.Error(t, err)
}
