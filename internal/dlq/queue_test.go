package dlq

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herrors "github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/logging"
	"github.com/rohankatakam/herald/internal/models"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(context.Background(), Options{Driver: "sqlite3", DSN: ":memory:"}, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

var (
	bob     = models.ContributorAnnouncement{Identity: "bob@example.com", Name: "Bob", Message: "hi", URL: "https://example.com/c/1"}
	release = models.ReleaseAnnouncement{Version: "v1.2.0", URL: "https://example.com/r/1"}
)

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mysql"}, nil)
	require.Error(t, err)
	assert.Equal(t, herrors.ErrorTypeConfig, herrors.GetType(err))
}

func TestOpen_CreatesFileAndDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dlq.db")
	q, err := Open(context.Background(), Options{DSN: path}, logging.Discard())
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), release, errors.New("x"), 1))
	assert.FileExists(t, path)
}

func TestEnqueue_RoundTrip(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	cause := herrors.ExhaustedRetries(errors.New("503 service unavailable"), 3)
	require.NoError(t, q.Enqueue(ctx, bob, cause, 3))

	pending, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	e := pending[0]
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "contributor", e.Kind)
	assert.Equal(t, "bob@example.com", e.Subject)
	assert.Equal(t, 3, e.Attempts)
	assert.False(t, e.Rejected)
	assert.Contains(t, e.ErrorMessage, "after 3 attempts")
	assert.False(t, e.ResolvedAt.Valid)

	ann, err := e.Announcement()
	require.NoError(t, err)
	assert.Equal(t, bob, ann)
}

func TestPending_ExcludesRejectedAndResolved(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, bob, herrors.PostRejected(errors.New("403"), 403), 1))
	require.NoError(t, q.Enqueue(ctx, release, herrors.ExhaustedRetries(errors.New("502"), 3), 3))
	require.NoError(t, q.Enqueue(ctx, models.ReleaseAnnouncement{Version: "v2"}, errors.New("timeout"), 3))

	pending, err := q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "v1.2.0", pending[0].Subject, "oldest first")

	require.NoError(t, q.MarkResolved(ctx, pending[0].ID))
	assert.ErrorIs(t, q.MarkResolved(ctx, pending[0].ID), ErrNotFound)

	pending, err = q.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "v2", pending[0].Subject)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Pending: 1, Rejected: 1, Resolved: 1}, *stats)
}

func TestRecordFailure(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, bob, errors.New("timeout"), 3))
	pending, err := q.Pending(ctx, 1)
	require.NoError(t, err)
	id := pending[0].ID

	require.NoError(t, q.RecordFailure(ctx, id, herrors.PostRejected(errors.New("duplicate"), 403), 1))

	e, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 4, e.Attempts)
	assert.True(t, e.Rejected)
	assert.Contains(t, e.ErrorMessage, "duplicate")

	_, err = q.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecentAndPurge(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, bob, errors.New("a"), 1))
	require.NoError(t, q.Enqueue(ctx, release, errors.New("b"), 1))

	recent, err := q.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	n, err := q.PurgeOld(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.PurgeOld(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}
