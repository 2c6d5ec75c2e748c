// Package bot wires seeding, the poll loop, the webhook surface and the
// publishing consumer into one process lifecycle.
package bot

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/ledger"
	"github.com/rohankatakam/herald/internal/models"
	"github.com/rohankatakam/herald/internal/poller"
	"github.com/rohankatakam/herald/internal/webhook"
)

// Publisher delivers announcements; failures are handled internally
type Publisher interface {
	Publish(ctx context.Context, a models.Announcement)
}

// CursorStore loads and saves the poll cursor for the tracked repository
type CursorStore interface {
	Load(ctx context.Context) (models.Cursor, error)
	Save(ctx context.Context, c models.Cursor) error
}

// Config for the bot lifecycle
type Config struct {
	Branch      string
	PerPage     int
	IdentityKey models.IdentityKey
	Poll        poller.Config

	// Webhook settings, used by Serve
	WebhookAddr string
	WebhookPath string
	Webhook     webhook.Config
}

// Deps are the collaborators the bot drives
type Deps struct {
	History    ledger.HistorySource
	Source     poller.Source
	Ledger     *ledger.Ledger
	Classifier poller.Classifier
	Publisher  Publisher
	// Cursors may be nil, in which case polling starts from scratch
	Cursors CursorStore
	Logger  *slog.Logger
}

// Bot is one herald process
type Bot struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
}

// New creates a bot
func New(cfg Config, deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New()
	}
	return &Bot{cfg: cfg, deps: deps, logger: logger.With("component", "bot")}
}

// Seed fills the ledger from the full commit history. A failure here is
// fatal: without a complete ledger every past contributor would look new.
func (b *Bot) Seed(ctx context.Context) (int, error) {
	start := time.Now()
	b.logger.Info("seeding contributor ledger", "branch", b.cfg.Branch)

	n, err := b.deps.Ledger.SeedFromHistory(ctx, b.deps.History, b.cfg.Branch, b.cfg.PerPage, b.cfg.IdentityKey)
	if err != nil {
		return n, errors.SeedError(err)
	}

	b.logger.Info("contributor ledger seeded", "contributors", n, "duration", time.Since(start))
	return n, nil
}

func (b *Bot) loadCursor(ctx context.Context) models.Cursor {
	if b.deps.Cursors == nil {
		return models.Cursor{}
	}
	c, err := b.deps.Cursors.Load(ctx)
	if err != nil {
		b.logger.Warn("failed to load cursor, starting fresh", "error", err)
		return models.Cursor{}
	}
	return c
}

func (b *Bot) newPoller(ctx context.Context) *poller.Poller {
	var store poller.CursorSaver
	if b.deps.Cursors != nil {
		store = b.deps.Cursors
	}
	return poller.New(b.cfg.Poll, b.deps.Source, b.deps.Classifier, store, b.loadCursor(ctx), b.deps.Logger)
}

// Run seeds the ledger, then polls and publishes until ctx is cancelled or
// the loop stops on an error. Returns after the consumer drained.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.Seed(ctx); err != nil {
		return err
	}

	p := b.newPoller(ctx)
	out := make(chan models.Announcement, 1)

	// the consumer publishes on ctx, not gctx: a loop stopping on error must
	// not cancel announcements it already queued
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx, out)
	})
	g.Go(func() error {
		b.consume(ctx, out, nil)
		return nil
	})

	err := g.Wait()
	b.logger.Info("bot stopped", "cursor_event", p.Cursor().LastEventID)
	return err
}

// Serve seeds the ledger and accepts webhook deliveries. With poll set the
// poll loop runs alongside, sharing the ledger.
func (b *Bot) Serve(ctx context.Context, poll bool) error {
	if _, err := b.Seed(ctx); err != nil {
		return err
	}

	hooks := make(chan models.Announcement, 1)
	handler := webhook.NewHandler(b.cfg.Webhook, b.deps.Classifier, hooks, b.deps.Logger)
	server := webhook.NewServer(b.cfg.WebhookAddr, b.cfg.WebhookPath, handler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the server returns only after admitted deliveries finished
		defer close(hooks)
		return server.Run(gctx)
	})

	var polled chan models.Announcement
	if poll {
		p := b.newPoller(ctx)
		polled = make(chan models.Announcement, 1)
		g.Go(func() error {
			return p.Run(gctx, polled)
		})
	}

	g.Go(func() error {
		b.consume(ctx, hooks, polled)
		return nil
	})

	return g.Wait()
}

// consume publishes from both channels until each is closed. A nil channel
// counts as closed. Only closing the channels stops it.
func (b *Bot) consume(ctx context.Context, a, c <-chan models.Announcement) {
	for a != nil || c != nil {
		select {
		case ann, ok := <-a:
			if !ok {
				a = nil
				continue
			}
			b.deps.Publisher.Publish(ctx, ann)
		case ann, ok := <-c:
			if !ok {
				c = nil
				continue
			}
			b.deps.Publisher.Publish(ctx, ann)
		}
	}
	b.logger.Debug("consumer drained")
}
