package storage

import (
	"context"
	"errors"

	"github.com/rohankatakam/herald/internal/models"
)

// Common errors
var (
	ErrNotFound = errors.New("not found")
	ErrClosed   = errors.New("store closed")
)

// CursorStore persists poll cursors keyed by repository ("owner/repo")
type CursorStore interface {
	Load(ctx context.Context, repo string) (models.Cursor, error)
	Save(ctx context.Context, repo string, c models.Cursor) error
	Close() error
}

// RepoCursor binds a CursorStore to one repository
type RepoCursor struct {
	store CursorStore
	repo  string
}

// ForRepo returns a view of store scoped to repo
func ForRepo(store CursorStore, repo string) *RepoCursor {
	return &RepoCursor{store: store, repo: repo}
}

// Load returns the stored cursor, or the zero cursor when none was saved
func (r *RepoCursor) Load(ctx context.Context) (models.Cursor, error) {
	c, err := r.store.Load(ctx, r.repo)
	if errors.Is(err, ErrNotFound) {
		return models.Cursor{}, nil
	}
	return c, err
}

// Save upserts the cursor
func (r *RepoCursor) Save(ctx context.Context, c models.Cursor) error {
	return r.store.Save(ctx, r.repo, c)
}
