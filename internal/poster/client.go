// Package poster publishes announcements to the posting API with a rate
// window and bounded retries.
package poster

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/models"
)

// Transport sends rendered text to the posting API
type Transport interface {
	CreatePost(ctx context.Context, text string) (models.PostID, error)
}

// DeadLetterer records announcements that could not be published
type DeadLetterer interface {
	Enqueue(ctx context.Context, a models.Announcement, cause error, attempts int) error
}

// Config holds retry and delivery settings
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// DryRun renders and logs posts without calling the transport
	DryRun bool
}

// DefaultConfig returns 3 attempts with a 2s linear backoff step
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Client is the outbound post client
type Client struct {
	cfg       Config
	transport Transport
	window    Window
	renderer  *Renderer
	dlq       DeadLetterer
	logger    *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a post client. window may be nil to disable rate limiting.
func New(cfg Config, transport Transport, window Window, renderer *Renderer, logger *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:       cfg,
		transport: transport,
		window:    window,
		renderer:  renderer,
		logger:    logger.With("component", "poster"),
		sleep:     sleepCtx,
	}
}

// SetDeadLetters attaches a queue for announcements dropped after a terminal
// failure
func (c *Client) SetDeadLetters(d DeadLetterer) {
	c.dlq = d
}

// Publish sends a and logs the outcome. Terminal failures are dead-lettered
// when a queue is attached; nothing is returned to the caller.
func (c *Client) Publish(ctx context.Context, a models.Announcement) {
	_, attempts, err := c.publish(ctx, a)
	if err == nil {
		return
	}
	if ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
		c.logger.Info("publish cancelled", "kind", a.Kind(), "subject", a.Subject())
		return
	}

	c.logger.Error("announcement dropped",
		"kind", a.Kind(),
		"subject", a.Subject(),
		"attempts", attempts,
		"rejected", errors.IsRejected(err),
		"error", err)

	if c.dlq == nil {
		return
	}
	if dlqErr := c.dlq.Enqueue(ctx, a, err, attempts); dlqErr != nil {
		c.logger.Error("failed to dead-letter announcement", "subject", a.Subject(), "error", dlqErr)
	}
}

// PublishWithAck sends a and returns the created post id
func (c *Client) PublishWithAck(ctx context.Context, a models.Announcement) (models.PostID, error) {
	id, _, err := c.publish(ctx, a)
	return id, err
}

func (c *Client) publish(ctx context.Context, a models.Announcement) (models.PostID, int, error) {
	text, err := c.renderer.Render(a)
	if err != nil {
		return "", 0, errors.PostRejected(err, 0)
	}

	requestID := uuid.NewString()
	log := c.logger.With("request_id", requestID, "kind", a.Kind(), "subject", a.Subject())

	if c.cfg.DryRun {
		log.Info("dry run, not posting", "text", text)
		return models.PostID("dry-run-" + requestID), 0, nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		var slot Slot
		if c.window != nil {
			if slot, err = c.window.Acquire(ctx); err != nil {
				return "", attempt - 1, err
			}
		}

		id, err := c.transport.CreatePost(ctx, text)
		if err == nil {
			log.Info("posted announcement", "post_id", id, "attempt", attempt)
			return id, attempt, nil
		}

		if c.window != nil {
			c.window.Release(ctx, slot)
		}
		if ctx.Err() != nil {
			return "", attempt, ctx.Err()
		}

		classified := classify(err)
		if errors.IsRejected(classified) {
			log.Error("post rejected", "status", errors.StatusCode(classified), "error", err)
			return "", attempt, classified
		}
		lastErr = classified

		if attempt == c.cfg.MaxAttempts {
			break
		}
		delay := c.backoff(attempt)
		log.Warn("post failed, retrying",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"delay", delay,
			"status", errors.StatusCode(classified),
			"error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return "", attempt, err
		}
	}

	return "", c.cfg.MaxAttempts, errors.ExhaustedRetries(lastErr, c.cfg.MaxAttempts)
}

// backoff is linear in the attempt number, capped at MaxDelay
func (c *Client) backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * c.cfg.BaseDelay
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}

// classify sorts a transport error into Rejected or Transient. 4xx responses
// other than 429 are permanent; everything else (5xx, 429, network, timeout)
// may succeed on retry.
func classify(err error) error {
	var se *StatusError
	if stderrors.As(err, &se) {
		if se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500 {
			return errors.PostTransient(err, se.StatusCode)
		}
		if se.StatusCode >= 400 {
			return errors.PostRejected(err, se.StatusCode)
		}
	}
	if stderrors.Is(err, ErrMalformedResponse) {
		// the post may exist; retrying risks a duplicate
		return errors.PostRejected(err, 0)
	}
	return errors.PostTransient(err, 0)
}
