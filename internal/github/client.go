package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/models"
)

const (
	defaultPerPage       = 100
	defaultMaxEventPages = 3
	defaultHTMLBase      = "https://github.com"
)

// Options configures the repository adapter
type Options struct {
	Owner string
	Repo  string
	Token string
	// BaseURL overrides the REST endpoint (GitHub Enterprise, tests)
	BaseURL string
	// HTMLBase is used to build commit links (default https://github.com)
	HTMLBase string
	// RateLimit is the number of API requests allowed per second
	RateLimit     float64
	PerPage       int
	MaxEventPages int
}

// Client wraps the GitHub API client with rate limiting. It implements the
// commit history and activity feed used by the ledger and the poll loop.
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	owner       string
	repo        string
	htmlBase    string
	perPage     int
	maxPages    int
	logger      *slog.Logger
}

// NewClient creates a new GitHub client with rate limiting
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Owner == "" || opts.Repo == "" {
		return nil, errors.ConfigError("github owner and repo are required")
	}

	client := github.NewClient(nil)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, errors.ConfigErrorf("invalid github base url %q: %v", opts.BaseURL, err)
		}
		client.BaseURL = u
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.PerPage <= 0 || opts.PerPage > 100 {
		opts.PerPage = defaultPerPage
	}
	if opts.MaxEventPages <= 0 {
		opts.MaxEventPages = defaultMaxEventPages
	}
	if opts.HTMLBase == "" {
		opts.HTMLBase = defaultHTMLBase
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		client:      client,
		rateLimiter: rate.NewLimiter(limit, 1),
		owner:       opts.Owner,
		repo:        opts.Repo,
		htmlBase:    strings.TrimSuffix(opts.HTMLBase, "/"),
		perPage:     opts.PerPage,
		maxPages:    opts.MaxEventPages,
		logger:      logger.With("component", "github", "repo", opts.Owner+"/"+opts.Repo),
	}, nil
}

// Repository returns "owner/repo"
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

func (c *Client) repoHTMLURL() string {
	return fmt.Sprintf("%s/%s/%s", c.htmlBase, c.owner, c.repo)
}

// ListCommitHistory returns one page of commits on branch. NextPage is 0 on
// the last page.
func (c *Client) ListCommitHistory(ctx context.Context, branch string, page, perPage int) (models.CommitPage, error) {
	if perPage <= 0 {
		perPage = c.perPage
	}
	opts := &github.CommitsListOptions{
		SHA: branch,
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return models.CommitPage{}, fmt.Errorf("rate limiter: %w", err)
	}

	commits, resp, err := c.client.Repositories.ListCommits(ctx, c.owner, c.repo, opts)
	if err != nil {
		return models.CommitPage{}, errors.SourceFetchErrorf(err, "fetch commits page %d", page)
	}

	result := models.CommitPage{Commits: make([]models.Commit, 0, len(commits))}
	for _, commit := range commits {
		result.Commits = append(result.Commits, models.Commit{
			SHA:     commit.GetSHA(),
			Message: commit.GetCommit().GetMessage(),
			URL:     commit.GetHTMLURL(),
			Author: models.Author{
				Name:  commit.GetCommit().GetAuthor().GetName(),
				Email: commit.GetCommit().GetAuthor().GetEmail(),
				Login: commit.GetAuthor().GetLogin(),
			},
			Distinct: true,
		})
	}
	if resp != nil {
		result.NextPage = resp.NextPage
	}

	c.logger.Debug("fetched commit page", "page", page, "commits", len(result.Commits), "next", result.NextPage)
	return result, nil
}

// ListActivitySince fetches repository events newer than cursor. A 304 for the
// cursor's ETag yields NotModified. Items are returned oldest first. The
// returned cursor only differs from the input when there are new items.
func (c *Client) ListActivitySince(ctx context.Context, cursor models.Cursor) (models.ActivityPage, error) {
	var (
		fresh   []*github.Event
		etag    string
		maxID   = cursor.LastEventID
		reached bool
	)

	for page := 1; page <= c.maxPages && !reached; page++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return models.ActivityPage{}, fmt.Errorf("rate limiter: %w", err)
		}

		u := fmt.Sprintf("repos/%s/%s/events?per_page=%d&page=%d", c.owner, c.repo, c.perPage, page)
		req, err := c.client.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return models.ActivityPage{}, errors.SourceFetchError(err, "build events request")
		}
		if page == 1 && cursor.ETag != "" {
			req.Header.Set("If-None-Match", cursor.ETag)
		}

		var events []*github.Event
		resp, err := c.client.Do(ctx, req, &events)
		if resp != nil && resp.StatusCode == http.StatusNotModified {
			c.logger.Debug("events not modified", "etag", cursor.ETag)
			return models.ActivityPage{Cursor: cursor, NotModified: true}, nil
		}
		if err != nil {
			return models.ActivityPage{}, errors.SourceFetchErrorf(err, "fetch events page %d", page)
		}
		if page == 1 {
			etag = resp.Header.Get("ETag")
		}

		for _, ev := range events {
			id, err := strconv.ParseInt(ev.GetID(), 10, 64)
			if err != nil {
				c.logger.Warn("skipping event with non-numeric id", "id", ev.GetID(), "type", ev.GetType())
				continue
			}
			if id <= cursor.LastEventID {
				// events are newest first; everything below is already consumed
				reached = true
				continue
			}
			fresh = append(fresh, ev)
			if id > maxID {
				maxID = id
			}
		}

		if resp.NextPage == 0 || cursor.IsZero() {
			break
		}
	}

	if len(fresh) == 0 {
		return models.ActivityPage{Cursor: cursor}, nil
	}

	sort.SliceStable(fresh, func(i, j int) bool {
		a, _ := strconv.ParseInt(fresh[i].GetID(), 10, 64)
		b, _ := strconv.ParseInt(fresh[j].GetID(), 10, 64)
		return a < b
	})

	items := make([]models.Activity, 0, len(fresh))
	for _, ev := range fresh {
		act, err := c.convertEvent(ev)
		if err != nil {
			return models.ActivityPage{}, err
		}
		items = append(items, act)
	}

	if etag == "" {
		etag = cursor.ETag
	}
	return models.ActivityPage{
		Cursor: models.Cursor{ETag: etag, LastEventID: maxID},
		Items:  items,
	}, nil
}

// LatestRelease returns the most recent published release
func (c *Client) LatestRelease(ctx context.Context) (*models.ReleaseActivity, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	rel, _, err := c.client.Repositories.GetLatestRelease(ctx, c.owner, c.repo)
	if err != nil {
		return nil, errors.SourceFetchError(err, "fetch latest release")
	}
	return &models.ReleaseActivity{
		Action:  models.ReleaseActionPublished,
		TagName: rel.GetTagName(),
		Name:    rel.GetName(),
		URL:     rel.GetHTMLURL(),
	}, nil
}

func (c *Client) convertEvent(ev *github.Event) (models.Activity, error) {
	act := models.Activity{
		ID:        ev.GetID(),
		Kind:      models.ActivityOther,
		CreatedAt: ev.GetCreatedAt().Time,
	}

	switch ev.GetType() {
	case "PushEvent", "ReleaseEvent":
	default:
		return act, nil
	}

	payload, err := ev.ParsePayload()
	if err != nil {
		return models.Activity{}, errors.SourceFetchErrorf(err, "malformed %s payload for event %s", ev.GetType(), ev.GetID())
	}

	switch p := payload.(type) {
	case *github.PushEvent:
		act.Kind = models.ActivityPush
		act.Push = ConvertPush(p, c.repoHTMLURL())
	case *github.ReleaseEvent:
		act.Kind = models.ActivityRelease
		act.Release = ConvertRelease(p)
	}
	return act, nil
}

// ConvertPush maps a push payload (events API or webhook) to a PushActivity.
// When repoURL is set commit links are built from it, since the events API
// only carries API urls.
func ConvertPush(ev *github.PushEvent, repoURL string) *models.PushActivity {
	push := &models.PushActivity{
		Ref:     ev.GetRef(),
		Commits: make([]models.Commit, 0, len(ev.Commits)),
	}
	repoURL = strings.TrimSuffix(repoURL, "/")

	for _, hc := range ev.Commits {
		sha := hc.GetSHA()
		if sha == "" {
			sha = hc.GetID()
		}
		link := hc.GetURL()
		if repoURL != "" && sha != "" {
			link = repoURL + "/commit/" + sha
		}

		distinct := true
		if hc.Distinct != nil {
			distinct = *hc.Distinct
		}

		push.Commits = append(push.Commits, models.Commit{
			SHA:     sha,
			Message: hc.GetMessage(),
			URL:     link,
			Author: models.Author{
				Name:  hc.GetAuthor().GetName(),
				Email: hc.GetAuthor().GetEmail(),
				Login: hc.GetAuthor().GetLogin(),
			},
			Distinct: distinct,
		})
	}
	return push
}

// ConvertRelease maps a release payload to a ReleaseActivity
func ConvertRelease(ev *github.ReleaseEvent) *models.ReleaseActivity {
	return &models.ReleaseActivity{
		Action:  ev.GetAction(),
		TagName: ev.GetRelease().GetTagName(),
		Name:    ev.GetRelease().GetName(),
		URL:     ev.GetRelease().GetHTMLURL(),
	}
}
