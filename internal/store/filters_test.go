package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
)

func TestInWindow(t *testing.T) {
	t.Parallel()

	from := time.Unix(100, 0)
	to := time.Unix(200, 0)

	require.True(t, InWindow(time.Unix(100, 0), &from, &to))
	require.False(t, InWindow(time.Unix(200, 0), &from, &to))
	require.False(t, InWindow(time.Unix(99, 0), &from, nil))
	require.True(t, InWindow(time.Unix(5, 0), nil, nil))
}

func TestJobFilterHasStatus(t *testing.T) {
	t.Parallel()

	require.True(t, JobFilter{}.HasStatus(crawler.JobStatusFailed))
	f := JobFilter{Statuses: []crawler.JobStatus{crawler.JobStatusRunning, crawler.JobStatusPaused}}
	require.True(t, f.HasStatus(crawler.JobStatusPaused))
	require.False(t, f.HasStatus(crawler.JobStatusCompleted))
}

func TestPage(t *testing.T) {
	t.Parallel()

	start, end := Page(10, 2, 3)
	require.Equal(t, 2, start)
	require.Equal(t, 5, end)

	start, end = Page(10, 8, 5)
	require.Equal(t, 8, start)
	require.Equal(t, 10, end)

	start, end = Page(3, 7, 0)
	require.Equal(t, 3, start)
	require.Equal(t, 3, end)
}
