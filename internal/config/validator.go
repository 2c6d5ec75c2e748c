package config

import (
	"fmt"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/rohankatakam/herald/internal/errors"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextRun - herald run needs the repository and a posting token
	ValidationContextRun ValidationContext = "run"
	// ValidationContextServe - herald serve additionally needs the webhook surface
	ValidationContextServe ValidationContext = "serve"
	// ValidationContextSeed - herald seed only reads the repository
	ValidationContextSeed ValidationContext = "seed"
	// ValidationContextDLQ - dlq commands need the queue database
	ValidationContextDLQ ValidationContext = "dlq"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  ❌ %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  ⚠️  %s\n", warn))
		}
	}

	return sb.String()
}

// Err returns the result as a config error, or nil when valid
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigError(strings.TrimSpace(vr.Error()))
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextSeed:
		c.validateGitHub(result)
	case ValidationContextRun:
		c.validateGitHub(result)
		c.validatePoll(result)
		c.validatePost(result)
		c.validateRateLimit(result)
		c.validateDLQ(result, false)
	case ValidationContextServe:
		c.validateGitHub(result)
		c.validatePoll(result)
		c.validatePost(result)
		c.validateRateLimit(result)
		c.validateDLQ(result, false)
		c.validateWebhook(result)
	case ValidationContextDLQ:
		c.validateDLQ(result, true)
	}

	return result
}

func (c *Config) validateGitHub(result *ValidationResult) {
	if c.GitHub.Owner == "" {
		result.AddError("github.owner (REPO_OWNER) is required but not set")
	}
	if c.GitHub.Repo == "" {
		result.AddError("github.repo (REPO_NAME) is required but not set")
	}
	if c.GitHub.Branch == "" {
		result.AddWarning("github.branch is empty, pushes to every branch will be considered")
	}
	if c.GitHub.Token == "" {
		result.AddWarning("GITHUB_TOKEN is not set. Unauthenticated requests are limited to 60 per hour")
	}
	if c.GitHub.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.GitHub.BaseURL); err != nil {
			result.AddError("github.base_url is invalid: %v", err)
		}
	}
	if c.GitHub.PageSize < 1 || c.GitHub.PageSize > 100 {
		result.AddError("github.page_size must be between 1 and 100 (got %d)", c.GitHub.PageSize)
	}
	if c.GitHub.RateLimit < 0 {
		result.AddError("github.rate_limit cannot be negative")
	}
	switch c.GitHub.IdentityKey {
	case "email", "login":
	default:
		result.AddError("github.identity_key must be 'email' or 'login' (got %q)", c.GitHub.IdentityKey)
	}
}

func (c *Config) validatePoll(result *ValidationResult) {
	if c.Poll.Interval <= 0 {
		result.AddError("poll.interval must be positive")
	}
	if c.Poll.StatePath == "" {
		result.AddWarning("poll.state_path is empty, the cursor will not survive restarts")
	}
}

func (c *Config) validatePost(result *ValidationResult) {
	if c.Post.Token == "" && !c.Post.DryRun {
		result.AddError("X_BEARER_TOKEN is required but not set. Run: herald configure")
	}
	if c.Post.ProjectName == "" {
		result.AddWarning("post.project_name is empty, announcements will not name the project")
	}
	if _, err := url.ParseRequestURI(c.Post.BaseURL); err != nil {
		result.AddError("post.base_url is invalid: %v", err)
	}
	if c.Post.MaxAttempts < 1 {
		result.AddError("post.max_attempts must be at least 1")
	}
	if c.Post.BaseDelay <= 0 {
		result.AddError("post.base_delay must be positive")
	}
	// the last retry waits (max_attempts-1) x base_delay; a lower cap
	// flattens the backoff
	if c.Post.MaxAttempts > 1 && c.Post.BaseDelay > 0 {
		if longest := time.Duration(c.Post.MaxAttempts-1) * c.Post.BaseDelay; c.Post.MaxDelay < longest {
			result.AddWarning("post.max_delay (%s) is below %d x post.base_delay (%s), later retries will not back off further",
				c.Post.MaxDelay, c.Post.MaxAttempts-1, longest)
		}
	}
	if c.Post.MaxLength < 1 {
		result.AddError("post.max_length must be positive")
	}
	for name, text := range map[string]string{
		"post.contributor_template": c.Post.ContributorTemplate,
		"post.release_template":     c.Post.ReleaseTemplate,
	} {
		if text == "" {
			continue
		}
		if _, err := template.New(name).Parse(text); err != nil {
			result.AddError("%s does not parse: %v", name, err)
		}
	}
	if c.Post.DryRun {
		result.AddWarning("post.dry_run is set, nothing will be published")
	}
}

func (c *Config) validateRateLimit(result *ValidationResult) {
	if c.RateLimit.Window <= 0 {
		result.AddError("rate_limit.window must be positive")
	}
	if c.RateLimit.Capacity < 1 {
		result.AddError("rate_limit.capacity must be at least 1")
	}
	if c.RateLimit.RedisAddr != "" && c.RateLimit.RedisKey == "" {
		result.AddError("rate_limit.redis_key is required when redis_addr is set")
	}
}

func (c *Config) validateDLQ(result *ValidationResult, required bool) {
	if !c.DLQ.Enabled {
		if required {
			result.AddError("dlq.enabled is false")
		}
		return
	}
	switch c.DLQ.Driver {
	case "sqlite3", "postgres", "pgx":
	default:
		result.AddError("dlq.driver must be sqlite3, postgres or pgx (got %q)", c.DLQ.Driver)
	}
	if c.DLQ.DSN == "" {
		result.AddError("dlq.dsn is required when the dead letter queue is enabled")
	}
}

func (c *Config) validateWebhook(result *ValidationResult) {
	if c.Webhook.Addr == "" {
		result.AddError("webhook.addr is required")
	}
	if !strings.HasPrefix(c.Webhook.Path, "/") {
		result.AddError("webhook.path must start with '/' (got %q)", c.Webhook.Path)
	}
	if c.Webhook.Secret == "" {
		result.AddWarning("WEBHOOK_SECRET is not set, deliveries will not be verified")
	}
}
