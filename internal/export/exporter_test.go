package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/newshub-crawler/internal/crawler"
	"github.com/JakeFAU/newshub-crawler/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func seedArticles(t *testing.T, st *memory.Store, website string, n int, created time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", website, i)
		_, err := st.UpsertArticle(context.Background(), "https://example.com/"+id, func(*crawler.Article) (crawler.Article, error) {
			return crawler.Article{ID: id, WebsiteID: website, Title: id, Active: true, CreatedAt: created}, nil
		})
		require.NoError(t, err)
	}
}

func TestExportWritesNDJSONAcrossPages(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	st := memory.NewStore()
	seedArticles(t, st, "w1", 7, now.Add(-time.Hour))
	seedArticles(t, st, "w2", 2, now.Add(-time.Hour))
	blobs := memory.NewBlobStore()

	exp := New(st, blobs, fixedClock{now: now}, "exports", zap.NewNop())
	exp.pageSize = 3

	res, err := exp.Export(context.Background(), Request{WebsiteID: "w1"})
	require.NoError(t, err)
	require.Equal(t, 7, res.Articles)
	require.Equal(t, "exports/w1/20260304T050607Z.ndjson", res.Path)

	data, ct, ok := blobs.Object(res.Path)
	require.True(t, ok)
	require.Equal(t, contentType, ct)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	seen := map[string]bool{}
	for scanner.Scan() {
		var article crawler.Article
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &article))
		require.Equal(t, "w1", article.WebsiteID)
		seen[article.ID] = true
	}
	require.Len(t, seen, 7)
}

func TestExportFiltersBySince(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	st := memory.NewStore()
	seedArticles(t, st, "old", 2, now.AddDate(0, 0, -10))
	seedArticles(t, st, "new", 3, now.Add(-time.Hour))

	since := now.AddDate(0, 0, -1)
	res, err := New(st, memory.NewBlobStore(), fixedClock{now: now}, "", nil).Export(context.Background(), Request{Since: &since})
	require.NoError(t, err)
	require.Equal(t, 3, res.Articles)
	require.Equal(t, "all/20260304T000000Z.ndjson", res.Path)
}

type failingBlobs struct{}

func (failingBlobs) PutObject(_ context.Context, _ string, _ string, data io.Reader) (string, error) {
	_, _ = io.CopyN(io.Discard, data, 1)
	return "", errors.New("bucket unavailable")
}

func TestExportReportsBlobFailure(t *testing.T) {
	t.Parallel()

	st := memory.NewStore()
	seedArticles(t, st, "w1", 3, time.Now())
	_, err := New(st, failingBlobs{}, fixedClock{now: time.Now()}, "x", nil).Export(context.Background(), Request{})
	require.ErrorContains(t, err, "bucket unavailable")
}
