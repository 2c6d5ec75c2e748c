// Package webhook receives GitHub push and release deliveries and routes them
// through the same classifier as the poll loop.
package webhook

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	gh "github.com/google/go-github/v57/github"

	"github.com/rohankatakam/herald/internal/github"
	"github.com/rohankatakam/herald/internal/models"
)

// Classifier turns one activity into announcements
type Classifier interface {
	Classify(a models.Activity) []models.Announcement
}

// Config for the webhook handler
type Config struct {
	// Secret verifies X-Hub-Signature-256. Empty disables verification.
	Secret string
	// Repository ("owner/repo") limits deliveries to one repository. Empty
	// accepts any.
	Repository string
}

// Handler serves the webhook endpoint. Announcements are sent on out in the
// order deliveries are classified.
type Handler struct {
	cfg        Config
	classifier Classifier
	out        chan<- models.Announcement
	logger     *slog.Logger

	// mu serializes classification so ledger updates and sends stay ordered
	mu sync.Mutex

	// stateMu guards stopped so no delivery joins inflight once Wait may run
	stateMu  sync.Mutex
	stopped  bool
	done     chan struct{}
	inflight sync.WaitGroup
}

// NewHandler creates a webhook handler. The caller owns out and must only
// close it after Shutdown and Wait returned.
func NewHandler(cfg Config, classifier Classifier, out chan<- models.Announcement, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:        cfg,
		classifier: classifier,
		out:        out,
		logger:     logger.With("component", "webhook"),
		done:       make(chan struct{}),
	}
}

// Shutdown makes pending and future deliveries fail with 503
func (h *Handler) Shutdown() {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
}

// Wait blocks until every delivery admitted before Shutdown has returned
func (h *Handler) Wait() {
	h.inflight.Wait()
}

// enter admits one delivery unless shutting down
func (h *Handler) enter() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.stopped {
		return false
	}
	h.inflight.Add(1)
	return true
}

func (h *Handler) shuttingDown() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Health reports liveness
func (h *Handler) Health(c *gin.Context) {
	if h.shuttingDown() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting down"})
		return
	}
	c.String(http.StatusOK, "OK")
}

// HandleEvent processes one GitHub delivery
func (h *Handler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	if !h.enter() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
		return
	}
	defer h.inflight.Done()

	eventType := gh.WebHookType(c.Request)
	if eventType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-GitHub-Event header"})
		return
	}
	deliveryID := gh.DeliveryID(c.Request)
	log := h.logger.With("event", eventType, "delivery", deliveryID)

	payload, err := gh.ValidatePayload(c.Request, []byte(h.cfg.Secret))
	if err != nil {
		if h.cfg.Secret != "" {
			log.Warn("webhook signature rejected", "error", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	switch eventType {
	case "ping":
		log.Info("webhook ping received")
		c.JSON(http.StatusOK, gin.H{"status": "pong"})
		return
	case "push", "release":
	default:
		log.Debug("unsupported webhook event")
		c.JSON(http.StatusNotImplemented, gin.H{"error": "event type not supported"})
		return
	}

	parsed, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		log.Warn("malformed webhook payload", "error", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	var activity models.Activity
	var repo string
	switch ev := parsed.(type) {
	case *gh.PushEvent:
		if ev.Ref == nil || ev.Repo == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed push payload"})
			return
		}
		repo = ev.GetRepo().GetFullName()
		activity = models.Activity{
			ID:   deliveryID,
			Kind: models.ActivityPush,
			Push: github.ConvertPush(ev, ev.GetRepo().GetHTMLURL()),
		}
	case *gh.ReleaseEvent:
		if ev.Action == nil || ev.Release == nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed release payload"})
			return
		}
		repo = ev.GetRepo().GetFullName()
		activity = models.Activity{
			ID:      deliveryID,
			Kind:    models.ActivityRelease,
			Release: github.ConvertRelease(ev),
		}
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "malformed payload"})
		return
	}

	if h.cfg.Repository != "" && repo != "" && !strings.EqualFold(repo, h.cfg.Repository) {
		log.Info("ignoring delivery for other repository", "repo", repo)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	anns := h.classifier.Classify(activity)
	for i, ann := range anns {
		select {
		case h.out <- ann:
		case <-h.done:
			log.Warn("shutdown while queueing announcements", "queued", i, "total", len(anns))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		case <-ctx.Done():
			log.Warn("client went away while queueing announcements", "queued", i, "total", len(anns))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
			return
		}
	}

	log.Info("webhook processed", "repo", repo, "announcements", len(anns))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "announcements": len(anns)})
}
