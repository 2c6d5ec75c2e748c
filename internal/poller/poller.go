// Package poller runs the incremental activity loop: fetch what is new since
// the cursor, classify it, hand announcements downstream, advance the cursor.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rohankatakam/herald/internal/models"
)

// State of the loop
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Source yields activity newer than a cursor
type Source interface {
	ListActivitySince(ctx context.Context, cursor models.Cursor) (models.ActivityPage, error)
}

// Classifier turns one activity into zero or more announcements
type Classifier interface {
	Classify(a models.Activity) []models.Announcement
}

// CursorSaver persists the cursor after each advance
type CursorSaver interface {
	Save(ctx context.Context, c models.Cursor) error
}

// Config for the poll loop
type Config struct {
	Interval time.Duration
	// ExitOnError stops the loop on the first fetch error instead of retrying
	// on the next cycle.
	ExitOnError bool
	// SkipBacklog makes the first poll from a zero cursor establish the cursor
	// without classifying what it returned.
	SkipBacklog bool
}

// Poller owns the cursor. Ledger mutation happens inside the classifier, on
// this loop's goroutine.
type Poller struct {
	cfg        Config
	source     Source
	classifier Classifier
	store      CursorSaver
	logger     *slog.Logger

	state atomic.Int32

	mu     sync.RWMutex
	cursor models.Cursor
}

// New creates a poller starting from cursor. store may be nil.
func New(cfg Config, source Source, classifier Classifier, store CursorSaver, cursor models.Cursor, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		store:      store,
		cursor:     cursor,
		logger:     logger.With("component", "poller"),
	}
}

// State returns the current loop state
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Cursor returns a copy of the current cursor
func (p *Poller) Cursor() models.Cursor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Run polls until ctx is cancelled or, with ExitOnError, a fetch fails.
// Announcements are sent on out in activity order; sends block when the
// consumer is behind. out is closed when Run returns. Cancellation is a
// normal stop and returns nil.
func (p *Poller) Run(ctx context.Context, out chan<- models.Announcement) error {
	defer close(out)
	defer p.setState(StateStopped)

	p.logger.Info("poll loop starting", "interval", p.cfg.Interval, "cursor_event", p.Cursor().LastEventID)
	first := true

	for {
		if ctx.Err() != nil {
			p.logger.Info("poll loop stopped")
			return nil
		}

		err := p.cycle(ctx, out, first)
		if ctx.Err() != nil {
			p.logger.Info("poll loop stopped")
			return nil
		}
		if err != nil {
			p.logger.Error("poll failed", "error", err)
			if p.cfg.ExitOnError {
				return err
			}
		} else {
			first = false
		}

		p.setState(StateSleeping)
		if !sleep(ctx, p.cfg.Interval) {
			p.logger.Info("poll loop stopped")
			return nil
		}
	}
}

// cycle performs one fetch/process round. The cursor is only advanced after
// every item of the batch has been handed off.
func (p *Poller) cycle(ctx context.Context, out chan<- models.Announcement, first bool) error {
	p.setState(StateFetching)
	cursor := p.Cursor()

	page, err := p.source.ListActivitySince(ctx, cursor)
	if err != nil {
		return err
	}
	if page.NotModified || len(page.Items) == 0 {
		p.logger.Debug("no new activity", "not_modified", page.NotModified)
		return nil
	}

	if first && p.cfg.SkipBacklog && cursor.IsZero() {
		p.logger.Info("skipping activity backlog", "items", len(page.Items))
		p.advance(ctx, page.Cursor)
		return nil
	}

	p.setState(StateProcessing)
	sent := 0
	for _, item := range page.Items {
		for _, ann := range p.classifier.Classify(item) {
			select {
			case out <- ann:
				sent++
			case <-ctx.Done():
				p.logger.Warn("cancelled mid-batch, cursor not advanced", "item", item.ID)
				return ctx.Err()
			}
		}
	}

	p.logger.Info("processed activity", "items", len(page.Items), "announcements", sent)
	p.advance(ctx, page.Cursor)
	return nil
}

func (p *Poller) advance(ctx context.Context, next models.Cursor) {
	p.mu.Lock()
	p.cursor = next
	p.mu.Unlock()

	if p.store == nil {
		return
	}
	if err := p.store.Save(ctx, next); err != nil {
		p.logger.Warn("failed to persist cursor", "error", err, "event_id", next.LastEventID)
	}
}

// sleep waits for d and reports false when ctx ended first
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
