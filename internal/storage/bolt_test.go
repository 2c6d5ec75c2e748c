package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/herald/internal/logging"
	"github.com/rohankatakam/herald/internal/models"
)

func openTestStore(t *testing.T, path string) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(path, logging.Discard())
	require.NoError(t, err)
	return s
}

func TestBoltStore_LoadMissing(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()

	_, err := s.Load(context.Background(), "acme/widget")
	assert.ErrorIs(t, err, ErrNotFound)

	c, err := ForRepo(s, "acme/widget").Load(context.Background())
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()
	want := models.Cursor{ETag: `W/"abc"`, LastEventID: 42}

	s := openTestStore(t, path)
	view := ForRepo(s, "acme/widget")
	require.NoError(t, view.Save(ctx, models.Cursor{LastEventID: 1}))
	require.NoError(t, view.Save(ctx, want))
	require.NoError(t, s.Close())

	s = openTestStore(t, path)
	defer s.Close()

	got, err := ForRepo(s, "acme/widget").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = s.Load(ctx, "acme/other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStore_Delete(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.db"))
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "acme/widget", models.Cursor{LastEventID: 7}))
	require.NoError(t, s.Delete(ctx, "acme/widget"))

	_, err := s.Load(ctx, "acme/widget")
	assert.ErrorIs(t, err, ErrNotFound)
}
