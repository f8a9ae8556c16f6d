package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLockerOwnership(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := NewMemoryLocker()

	ok, err := l.TryLock(ctx, "w1", "job-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.TryLock(ctx, "w1", "job-b")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = l.TryLock(ctx, "w1", "job-a")
	require.NoError(t, err)
	require.True(t, ok, "owner may re-lock")

	require.NoError(t, l.Unlock(ctx, "w1", "job-b"))
	ok, err = l.TryLock(ctx, "w1", "job-b")
	require.NoError(t, err)
	require.False(t, ok, "non-owner unlock is ignored")

	require.NoError(t, l.Unlock(ctx, "w1", "job-a"))
	ok, err = l.TryLock(ctx, "w1", "job-b")
	require.NoError(t, err)
	require.True(t, ok)
}
