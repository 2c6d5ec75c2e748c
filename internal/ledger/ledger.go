// Package ledger holds the set of contributor identities that have already
// landed a commit on the tracked branch.
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/rohankatakam/herald/internal/models"
)

// HistorySource pages through the commit history of a branch
type HistorySource interface {
	ListCommitHistory(ctx context.Context, branch string, page, perPage int) (models.CommitPage, error)
}

// Ledger is a grow-only set of identities. Safe for concurrent use.
type Ledger struct {
	mu  sync.RWMutex
	ids map[models.Identity]struct{}
}

// New returns an empty ledger
func New() *Ledger {
	return &Ledger{ids: make(map[models.Identity]struct{})}
}

// Seed adds identities without reporting which were new. Returns how many
// entries were actually added.
func (l *Ledger) Seed(ids ...models.Identity) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := l.ids[id]; ok {
			continue
		}
		l.ids[id] = struct{}{}
		added++
	}
	return added
}

// SeedFromHistory walks every page of the branch history and records each
// commit author. Any source error aborts seeding and is returned as-is.
func (l *Ledger) SeedFromHistory(ctx context.Context, source HistorySource, branch string, perPage int, key models.IdentityKey) (int, error) {
	added := 0
	page := 1
	for page != 0 {
		if err := ctx.Err(); err != nil {
			return added, err
		}

		result, err := source.ListCommitHistory(ctx, branch, page, perPage)
		if err != nil {
			return added, fmt.Errorf("commit history page %d: %w", page, err)
		}

		ids := make([]models.Identity, 0, len(result.Commits))
		for _, c := range result.Commits {
			ids = append(ids, c.Author.Identity(key))
		}
		added += l.Seed(ids...)

		if result.NextPage != 0 && result.NextPage <= page {
			return added, fmt.Errorf("commit history page %d: next page %d does not advance", page, result.NextPage)
		}
		page = result.NextPage
	}
	return added, nil
}

// RecordIfNew inserts id and reports whether it was absent. This is the only
// signal that a contribution is a first one. The empty identity is never
// recorded.
func (l *Ledger) RecordIfNew(id models.Identity) bool {
	if id == "" {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

// Contains reports whether id is already known
func (l *Ledger) Contains(id models.Identity) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.ids[id]
	return ok
}

// Len returns the number of known identities
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}
