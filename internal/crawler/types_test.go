package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobStatusClassification(t *testing.T) {
	t.Parallel()

	for _, status := range JobStatuses {
		require.True(t, status.Valid())
		require.NotEqual(t, status.IsActive(), status.IsTerminal(), status)
	}
	require.False(t, JobStatus("canceled").Valid())
}

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	status, err := ParseJobStatus(" Running ")
	require.NoError(t, err)
	require.Equal(t, JobStatusRunning, status)

	_, err = ParseJobStatus("queued")
	require.Error(t, err)
}

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, SeverityMedium, SeverityFor(ErrorKindNetwork))
	require.Equal(t, SeverityMedium, SeverityFor(ErrorKindRateLimit))
	require.Equal(t, SeverityLow, SeverityFor(ErrorKindParsing))
	require.Equal(t, SeverityLow, SeverityFor(ErrorKindValidation))
	require.Equal(t, SeverityHigh, SeverityFor(ErrorKindUnknown))
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("crawl: %w", NewCrawlError(ErrorKindParsing, 0, errors.New("no title")))
	require.Equal(t, ErrorKindParsing, ClassifyError(wrapped))
	require.Equal(t, ErrorKindNetwork, ClassifyError(fmt.Errorf("fetch: %w", errDeadline)))
	require.Equal(t, ErrorKindUnknown, ClassifyError(errors.New("boom")))
}

func TestKindForStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, ErrorKindRateLimit, KindForStatus(http.StatusTooManyRequests))
	require.Equal(t, ErrorKindNetwork, KindForStatus(http.StatusBadGateway))
	require.Equal(t, ErrorKindValidation, KindForStatus(http.StatusNotFound))
	require.Equal(t, ErrorKindParsing, KindForStatus(http.StatusUnprocessableEntity))
}

func TestPercent(t *testing.T) {
	t.Parallel()

	require.InDelta(t, 0.0, Percent(0, 0), 0.001)
	require.InDelta(t, 50.0, Percent(4, 2), 0.001)
	require.InDelta(t, 100.0, Percent(2, 5), 0.001)
	require.InDelta(t, 100.0, SnapshotProgress(Job{Status: JobStatusCompleted}), 0.001)
}

func TestRetryPolicyOnlyRetriesTransient(t *testing.T) {
	t.Parallel()

	policy := NewExponentialRetryPolicy(2, time.Millisecond, 10*time.Millisecond)
	network := NewCrawlError(ErrorKindNetwork, 0, errors.New("timeout"))
	parse := NewCrawlError(ErrorKindParsing, 0, errors.New("bad html"))

	require.True(t, policy.ShouldRetry(network, 1))
	require.True(t, policy.ShouldRetry(network, 2))
	require.False(t, policy.ShouldRetry(network, 3))
	require.False(t, policy.ShouldRetry(parse, 1))
	require.LessOrEqual(t, policy.Backoff(5), 10*time.Millisecond)
}

var errDeadline = deadlineError{}

type deadlineError struct{}

func (deadlineError) Error() string   { return "i/o timeout" }
func (deadlineError) Timeout() bool   { return true }
func (deadlineError) Temporary() bool { return true }
