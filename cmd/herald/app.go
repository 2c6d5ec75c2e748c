package main

import (
	"context"
	"io"

	"github.com/rohankatakam/herald/internal/bot"
	"github.com/rohankatakam/herald/internal/classifier"
	"github.com/rohankatakam/herald/internal/config"
	"github.com/rohankatakam/herald/internal/dlq"
	"github.com/rohankatakam/herald/internal/github"
	"github.com/rohankatakam/herald/internal/ledger"
	"github.com/rohankatakam/herald/internal/logging"
	"github.com/rohankatakam/herald/internal/models"
	"github.com/rohankatakam/herald/internal/poller"
	"github.com/rohankatakam/herald/internal/poster"
	"github.com/rohankatakam/herald/internal/storage"
	"github.com/rohankatakam/herald/internal/webhook"
)

// app holds everything a long-running command needs. Resources are closed in
// reverse order of opening.
type app struct {
	github   *github.Client
	ledger   *ledger.Ledger
	poster   *poster.Client
	queue    *dlq.Queue
	cursors  *storage.BoltStore
	bot      *bot.Bot
	closeFns []func() error
}

func (a *app) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			logger.WithError(err).Warn("Failed to close resource")
		}
	}
}

func (a *app) onClose(c io.Closer) {
	a.closeFns = append(a.closeFns, c.Close)
}

// resolveSecrets fills tokens from the credential chain and validates the
// configuration for the command
func resolveSecrets(ctx config.ValidationContext, needPost bool) error {
	if err := config.NewCredentialManager().ResolveSecrets(cfg, needPost && !cfg.Post.DryRun); err != nil {
		return err
	}

	result := cfg.Validate(ctx)
	for _, warn := range result.Warnings {
		logger.Warn(warn)
	}
	return result.Err()
}

func newGitHubClient() (*github.Client, error) {
	return github.NewClient(github.Options{
		Owner:         cfg.GitHub.Owner,
		Repo:          cfg.GitHub.Repo,
		Token:         cfg.GitHub.Token,
		BaseURL:       cfg.GitHub.BaseURL,
		RateLimit:     cfg.GitHub.RateLimit,
		PerPage:       cfg.GitHub.PageSize,
		MaxEventPages: cfg.GitHub.EventPages,
	}, logging.Default())
}

func openQueue(ctx context.Context) (*dlq.Queue, error) {
	return dlq.Open(ctx, dlq.Options{Driver: cfg.DLQ.Driver, DSN: cfg.DLQ.DSN}, logging.Default())
}

// newWindow picks the shared Redis window when configured
func newWindow(ctx context.Context, a *app) (poster.Window, error) {
	if cfg.RateLimit.RedisAddr == "" {
		return poster.NewRateWindow(cfg.RateLimit.Window, cfg.RateLimit.Capacity, logging.Default()), nil
	}

	rw, err := poster.NewRedisWindow(ctx, cfg.RateLimit.RedisAddr, cfg.RateLimit.RedisKey,
		cfg.RateLimit.Window, cfg.RateLimit.Capacity, logging.Default())
	if err != nil {
		return nil, err
	}
	a.onClose(rw)
	return rw, nil
}

func newPoster(ctx context.Context, a *app) (*poster.Client, error) {
	renderer, err := poster.NewRenderer(cfg.Post.ProjectName, cfg.Post.ContributorTemplate,
		cfg.Post.ReleaseTemplate, cfg.Post.MaxLength)
	if err != nil {
		return nil, err
	}

	window, err := newWindow(ctx, a)
	if err != nil {
		return nil, err
	}

	transport := poster.NewXClient(cfg.Post.BaseURL, cfg.Post.Token, cfg.Post.Timeout)
	client := poster.New(poster.Config{
		MaxAttempts: cfg.Post.MaxAttempts,
		BaseDelay:   cfg.Post.BaseDelay,
		MaxDelay:    cfg.Post.MaxDelay,
		DryRun:      cfg.Post.DryRun,
	}, transport, window, renderer, logging.Default())
	return client, nil
}

// buildApp wires the full pipeline for run and serve
func buildApp(ctx context.Context) (*app, error) {
	a := &app{ledger: ledger.New()}

	gh, err := newGitHubClient()
	if err != nil {
		return nil, err
	}
	a.github = gh

	a.poster, err = newPoster(ctx, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.DLQ.Enabled {
		a.queue, err = openQueue(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(a.queue)
		a.poster.SetDeadLetters(a.queue)
	}

	identityKey := models.IdentityKey(cfg.GitHub.IdentityKey)
	cls := classifier.New(classifier.Config{
		Branch:        cfg.GitHub.Branch,
		IdentityKey:   identityKey,
		IgnoreAuthors: cfg.GitHub.IgnoreAuthors,
	}, a.ledger, logging.Default())

	deps := bot.Deps{
		History:    gh,
		Source:     gh,
		Ledger:     a.ledger,
		Classifier: cls,
		Publisher:  a.poster,
		Logger:     logging.Default(),
	}

	if cfg.Poll.StatePath != "" {
		a.cursors, err = storage.NewBoltStore(cfg.Poll.StatePath, logging.Default())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(a.cursors)
		deps.Cursors = storage.ForRepo(a.cursors, gh.Repository())
	}

	a.bot = bot.New(bot.Config{
		Branch:      cfg.GitHub.Branch,
		PerPage:     cfg.GitHub.PageSize,
		IdentityKey: identityKey,
		Poll: poller.Config{
			Interval:    cfg.Poll.Interval,
			ExitOnError: cfg.Poll.ExitOnError,
			SkipBacklog: cfg.Poll.SkipBacklog,
		},
		WebhookAddr: cfg.Webhook.Addr,
		WebhookPath: cfg.Webhook.Path,
		Webhook: webhook.Config{
			Secret:     cfg.Webhook.Secret,
			Repository: gh.Repository(),
		},
	}, deps)

	return a, nil
}
