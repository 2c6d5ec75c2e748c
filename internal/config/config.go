package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	// Tracked repository and GitHub access
	GitHub GitHubConfig `mapstructure:"github" yaml:"github"`

	// Poll loop settings
	Poll PollConfig `mapstructure:"poll" yaml:"poll"`

	// Outbound posting
	Post PostConfig `mapstructure:"post" yaml:"post"`

	// Post rate window
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// Dead letter queue
	DLQ DLQConfig `mapstructure:"dlq" yaml:"dlq"`

	// Inbound webhook surface
	Webhook WebhookConfig `mapstructure:"webhook" yaml:"webhook"`

	Log LogConfig `mapstructure:"log" yaml:"log"`
}

type GitHubConfig struct {
	Owner      string  `mapstructure:"owner" yaml:"owner"`
	Repo       string  `mapstructure:"repo" yaml:"repo"`
	Branch     string  `mapstructure:"branch" yaml:"branch"`
	Token      string  `mapstructure:"token" yaml:"token"`
	BaseURL    string  `mapstructure:"base_url" yaml:"base_url"`
	PageSize   int     `mapstructure:"page_size" yaml:"page_size"`
	EventPages int     `mapstructure:"event_pages" yaml:"event_pages"`
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second

	// IdentityKey is "email" or "login"
	IdentityKey   string   `mapstructure:"identity_key" yaml:"identity_key"`
	IgnoreAuthors []string `mapstructure:"ignore_authors" yaml:"ignore_authors"`
}

// Repository returns "owner/repo"
func (g GitHubConfig) Repository() string {
	return g.Owner + "/" + g.Repo
}

type PollConfig struct {
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	ExitOnError bool          `mapstructure:"exit_on_error" yaml:"exit_on_error"`
	SkipBacklog bool          `mapstructure:"skip_backlog" yaml:"skip_backlog"`
	StatePath   string        `mapstructure:"state_path" yaml:"state_path"` // bbolt cursor file
}

type PostConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Token       string        `mapstructure:"token" yaml:"token"`
	ProjectName string        `mapstructure:"project_name" yaml:"project_name"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxLength   int           `mapstructure:"max_length" yaml:"max_length"`

	// Empty templates select the built-in wording
	ContributorTemplate string `mapstructure:"contributor_template" yaml:"contributor_template"`
	ReleaseTemplate     string `mapstructure:"release_template" yaml:"release_template"`

	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
}

type RateLimitConfig struct {
	Window   time.Duration `mapstructure:"window" yaml:"window"`
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`

	// RedisAddr shares the window across processes when set
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisKey  string `mapstructure:"redis_key" yaml:"redis_key"`
}

type DLQConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Driver  string `mapstructure:"driver" yaml:"driver"` // "sqlite3", "postgres", "pgx"
	DSN     string `mapstructure:"dsn" yaml:"dsn"`
}

type WebhookConfig struct {
	Addr   string `mapstructure:"addr" yaml:"addr"`
	Path   string `mapstructure:"path" yaml:"path"`
	Secret string `mapstructure:"secret" yaml:"secret"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
	JSON  bool   `mapstructure:"json" yaml:"json"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		GitHub: GitHubConfig{
			Branch:      "main",
			PageSize:    100,
			EventPages:  3,
			RateLimit:   1,
			IdentityKey: "email",
		},
		Poll: PollConfig{
			Interval:    60 * time.Second,
			SkipBacklog: true,
			StatePath:   filepath.Join(homeDir, ".herald", "state.db"),
		},
		Post: PostConfig{
			BaseURL:     "https://api.x.com",
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			Timeout:     30 * time.Second,
			MaxLength:   280,
		},
		RateLimit: RateLimitConfig{
			Window:   15 * time.Minute,
			Capacity: 50,
			RedisKey: "herald:posts",
		},
		DLQ: DLQConfig{
			Enabled: true,
			Driver:  "sqlite3",
			DSN:     filepath.Join(homeDir, ".herald", "dlq.db"),
		},
		Webhook: WebhookConfig{
			Addr: ":8080",
			Path: "/webhook",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	setDefaults(v, cfg)

	// HERALD_POLL_INTERVAL overrides poll.interval, and so on
	v.SetEnvPrefix("HERALD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".herald")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".herald"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	cfg.Poll.StatePath = expandPath(cfg.Poll.StatePath)
	if cfg.DLQ.Driver == "sqlite3" {
		cfg.DLQ.DSN = expandPath(cfg.DLQ.DSN)
	}
	cfg.Log.File = expandPath(cfg.Log.File)

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it during Unmarshal
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("github.owner", cfg.GitHub.Owner)
	v.SetDefault("github.repo", cfg.GitHub.Repo)
	v.SetDefault("github.branch", cfg.GitHub.Branch)
	v.SetDefault("github.token", cfg.GitHub.Token)
	v.SetDefault("github.base_url", cfg.GitHub.BaseURL)
	v.SetDefault("github.page_size", cfg.GitHub.PageSize)
	v.SetDefault("github.event_pages", cfg.GitHub.EventPages)
	v.SetDefault("github.rate_limit", cfg.GitHub.RateLimit)
	v.SetDefault("github.identity_key", cfg.GitHub.IdentityKey)
	v.SetDefault("github.ignore_authors", cfg.GitHub.IgnoreAuthors)

	v.SetDefault("poll.interval", cfg.Poll.Interval)
	v.SetDefault("poll.exit_on_error", cfg.Poll.ExitOnError)
	v.SetDefault("poll.skip_backlog", cfg.Poll.SkipBacklog)
	v.SetDefault("poll.state_path", cfg.Poll.StatePath)

	v.SetDefault("post.base_url", cfg.Post.BaseURL)
	v.SetDefault("post.token", cfg.Post.Token)
	v.SetDefault("post.project_name", cfg.Post.ProjectName)
	v.SetDefault("post.max_attempts", cfg.Post.MaxAttempts)
	v.SetDefault("post.base_delay", cfg.Post.BaseDelay)
	v.SetDefault("post.max_delay", cfg.Post.MaxDelay)
	v.SetDefault("post.timeout", cfg.Post.Timeout)
	v.SetDefault("post.max_length", cfg.Post.MaxLength)
	v.SetDefault("post.contributor_template", cfg.Post.ContributorTemplate)
	v.SetDefault("post.release_template", cfg.Post.ReleaseTemplate)
	v.SetDefault("post.dry_run", cfg.Post.DryRun)

	v.SetDefault("rate_limit.window", cfg.RateLimit.Window)
	v.SetDefault("rate_limit.capacity", cfg.RateLimit.Capacity)
	v.SetDefault("rate_limit.redis_addr", cfg.RateLimit.RedisAddr)
	v.SetDefault("rate_limit.redis_key", cfg.RateLimit.RedisKey)

	v.SetDefault("dlq.enabled", cfg.DLQ.Enabled)
	v.SetDefault("dlq.driver", cfg.DLQ.Driver)
	v.SetDefault("dlq.dsn", cfg.DLQ.DSN)

	v.SetDefault("webhook.addr", cfg.Webhook.Addr)
	v.SetDefault("webhook.path", cfg.Webhook.Path)
	v.SetDefault("webhook.secret", cfg.Webhook.Secret)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.json", cfg.Log.JSON)
}

// loadEnvFiles loads .env files in order of precedence. godotenv never
// overwrites a variable that is already set, so earlier files win.
func loadEnvFiles() {
	envFiles := []string{
		".env.local",   // Local overrides (highest precedence)
		".env",         // Main environment file
		".env.example", // Example file as fallback
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".herald", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the unprefixed environment variables used by
// existing deployments
func applyEnvOverrides(cfg *Config) {
	// GitHub configuration
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if owner := os.Getenv("REPO_OWNER"); owner != "" {
		cfg.GitHub.Owner = owner
	}
	if name := os.Getenv("REPO_NAME"); name != "" {
		cfg.GitHub.Repo = name
	}
	if branch := os.Getenv("REPO_BRANCH"); branch != "" {
		cfg.GitHub.Branch = branch
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.ParseFloat(rateLimit, 64); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	// Poll loop
	if secs := os.Getenv("POLL_INTERVAL_SECONDS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			cfg.Poll.Interval = time.Duration(n) * time.Second
		}
	}

	// Posting
	if token := os.Getenv("X_BEARER_TOKEN"); token != "" {
		cfg.Post.Token = token
	}
	if name := os.Getenv("PROJECT_NAME"); name != "" {
		cfg.Post.ProjectName = name
	}
	if attempts := os.Getenv("RETRY_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			cfg.Post.MaxAttempts = n
		}
	}
	if ms := os.Getenv("RETRY_INITIAL_DELAY_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.Post.BaseDelay = time.Duration(n) * time.Millisecond
		}
	}
	if ms := os.Getenv("RETRY_MAX_DELAY_MS"); ms != "" {
		if n, err := strconv.Atoi(ms); err == nil {
			cfg.Post.MaxDelay = time.Duration(n) * time.Millisecond
		}
	}
	if secs := os.Getenv("REQUEST_TIMEOUT_SECONDS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			cfg.Post.Timeout = time.Duration(n) * time.Second
		}
	}

	// Rate window
	if max := os.Getenv("RATE_LIMIT_MAX_REQUESTS"); max != "" {
		if n, err := strconv.Atoi(max); err == nil {
			cfg.RateLimit.Capacity = n
		}
	}
	if secs := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			cfg.RateLimit.Window = time.Duration(n) * time.Second
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RateLimit.RedisAddr = addr
	}

	// Dead letters
	if dsn := os.Getenv("DLQ_DSN"); dsn != "" {
		cfg.DLQ.DSN = dsn
	}

	// Webhook
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Webhook.Addr = ":" + port
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("github", c.GitHub)
	v.Set("poll", c.Poll)
	v.Set("post", c.Post)
	v.Set("rate_limit", c.RateLimit)
	v.Set("dlq", c.DLQ)
	v.Set("webhook", c.Webhook)
	v.Set("log", c.Log)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
