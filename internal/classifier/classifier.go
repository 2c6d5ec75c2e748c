// Package classifier turns repository activity into announcements.
package classifier

import (
	"log/slog"
	"strings"

	"github.com/rohankatakam/herald/internal/models"
)

// Recorder is the slice of the ledger the classifier needs
type Recorder interface {
	RecordIfNew(id models.Identity) bool
}

// Config controls which activity is eligible for announcement
type Config struct {
	// Branch restricts pushes to refs/heads/<Branch>. Empty accepts any ref.
	Branch        string
	IdentityKey   models.IdentityKey
	IgnoreAuthors []string
}

// Classifier maps activity records to announcements. It mutates the ledger,
// so each activity must be classified at most once.
type Classifier struct {
	cfg    Config
	ledger Recorder
	ignore map[string]struct{}
	logger *slog.Logger
}

// New builds a classifier over the given ledger
func New(cfg Config, ledger Recorder, logger *slog.Logger) *Classifier {
	if !cfg.IdentityKey.Valid() {
		cfg.IdentityKey = models.IdentityKeyEmail
	}
	if logger == nil {
		logger = slog.Default()
	}

	ignore := make(map[string]struct{}, len(cfg.IgnoreAuthors))
	for _, a := range cfg.IgnoreAuthors {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			ignore[a] = struct{}{}
		}
	}

	return &Classifier{
		cfg:    cfg,
		ledger: ledger,
		ignore: ignore,
		logger: logger.With("component", "classifier"),
	}
}

// Classify returns the announcements derived from one activity record. A nil
// result means nothing is announceable. Classification never fails.
func (c *Classifier) Classify(a models.Activity) []models.Announcement {
	switch a.Kind {
	case models.ActivityPush:
		if a.Push == nil {
			return nil
		}
		return c.classifyPush(a.Push)
	case models.ActivityRelease:
		if a.Release == nil {
			return nil
		}
		if ann, ok := c.classifyRelease(a.Release); ok {
			return []models.Announcement{ann}
		}
		return nil
	default:
		return nil
	}
}

func (c *Classifier) classifyPush(p *models.PushActivity) []models.Announcement {
	if c.cfg.Branch != "" && p.Ref != "" && p.Ref != "refs/heads/"+c.cfg.Branch {
		c.logger.Debug("push to untracked ref", "ref", p.Ref)
		return nil
	}

	var out []models.Announcement
	for _, commit := range p.Commits {
		if !commit.Distinct {
			continue
		}
		if c.ignored(commit.Author) {
			continue
		}

		id := commit.Author.Identity(c.cfg.IdentityKey)
		if id == "" {
			c.logger.Debug("commit without author identity", "sha", commit.SHA)
			continue
		}
		if !c.ledger.RecordIfNew(id) {
			continue
		}

		c.logger.Info("first-time contributor", "identity", id, "sha", commit.SHA)
		out = append(out, models.ContributorAnnouncement{
			Identity: id,
			Name:     commit.Author.DisplayName(),
			Message:  commit.Message,
			URL:      commit.URL,
		})
	}
	return out
}

func (c *Classifier) classifyRelease(r *models.ReleaseActivity) (models.Announcement, bool) {
	if r.Action != models.ReleaseActionPublished {
		return nil, false
	}

	version := r.Name
	if strings.TrimSpace(version) == "" {
		version = r.TagName
	}
	if version == "" {
		c.logger.Warn("published release without name or tag", "url", r.URL)
		return nil, false
	}

	return models.ReleaseAnnouncement{Version: version, URL: r.URL}, true
}

func (c *Classifier) ignored(a models.Author) bool {
	if len(c.ignore) == 0 {
		return false
	}
	for _, v := range []string{a.Login, a.Email, a.Name} {
		if _, ok := c.ignore[strings.ToLower(strings.TrimSpace(v))]; ok && v != "" {
			return true
		}
	}
	return false
}
