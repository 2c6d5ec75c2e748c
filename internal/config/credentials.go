package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/herald/internal/errors"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// CredentialManager handles credential retrieval with priority chain
// Priority: Environment Variables → Keychain → Credentials File → Interactive Prompt
type CredentialManager struct {
	keyring    *KeyringManager
	configPath string

	// prompt I/O, replaced in tests
	in          io.Reader
	out         io.Writer
	interactive func() bool
}

// Credentials holds all user credentials
type Credentials struct {
	GitHubToken string `yaml:"github_token"`
	PostToken   string `yaml:"post_token"`
}

// NewCredentialManager creates a new credential manager
func NewCredentialManager() *CredentialManager {
	homeDir, _ := os.UserHomeDir()
	return &CredentialManager{
		keyring:     NewKeyringManager(),
		configPath:  filepath.Join(homeDir, ".config", "herald", "credentials.yaml"),
		in:          os.Stdin,
		out:         os.Stdout,
		interactive: isInteractive,
	}
}

// GetGitHubToken retrieves the GitHub token using priority chain. The token
// is optional for public repositories, so a missing token is not an error.
func (cm *CredentialManager) GetGitHubToken() (string, error) {
	for _, envVar := range []string{"GITHUB_TOKEN", "GH_TOKEN"} {
		if token := os.Getenv(envVar); token != "" {
			return token, nil
		}
	}

	if cm.keyring.IsAvailable() {
		if token, err := cm.keyring.GetGitHubToken(); err == nil && token != "" {
			return token, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.GitHubToken != "" {
		return creds.GitHubToken, nil
	}

	if cm.interactive() {
		fmt.Fprintln(cm.out, "\nGitHub token not found (optional).")
		fmt.Fprintln(cm.out, "   Required for: private repos, higher rate limits")
		fmt.Fprintln(cm.out, "   Create one at: https://github.com/settings/tokens")
		fmt.Fprint(cm.out, "Enter GitHub token (or press Enter to skip): ")

		token, _ := cm.readSecurely()
		if token != "" {
			cm.store(Credentials{GitHubToken: token})
		}
		return token, nil
	}

	return "", nil
}

// GetPostToken retrieves the posting API bearer token using priority chain
func (cm *CredentialManager) GetPostToken() (string, error) {
	if token := os.Getenv("X_BEARER_TOKEN"); token != "" {
		return token, nil
	}

	if cm.keyring.IsAvailable() {
		if token, err := cm.keyring.GetPostToken(); err == nil && token != "" {
			return token, nil
		}
	}

	if creds, err := cm.loadConfigFile(); err == nil && creds.PostToken != "" {
		return creds.PostToken, nil
	}

	if cm.interactive() {
		fmt.Fprintln(cm.out, "\nPosting API token not found.")
		fmt.Fprintln(cm.out, "   Create one at: https://developer.x.com/en/portal/dashboard")
		fmt.Fprint(cm.out, "Enter bearer token: ")

		token, err := cm.readSecurely()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh, "failed to read token")
		}
		if token == "" {
			return "", errors.ConfigError("posting API token is required")
		}
		cm.store(Credentials{PostToken: token})
		return token, nil
	}

	return "", errors.ConfigErrorf(
		"X_BEARER_TOKEN not found. Set it via:\n"+
			"  1. Environment variable: export X_BEARER_TOKEN=...\n"+
			"  2. Run: herald configure (to set up keychain)\n"+
			"  3. Credentials file: %s", cm.configPath)
}

// SaveCredentials saves credentials to keychain (preferred) or the
// credentials file (fallback)
func (cm *CredentialManager) SaveCredentials(creds Credentials) error {
	if cm.keyring.IsAvailable() {
		if creds.GitHubToken != "" {
			if err := cm.keyring.SetGitHubToken(creds.GitHubToken); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
					"failed to save GitHub token to keychain")
			}
		}
		if creds.PostToken != "" {
			if err := cm.keyring.SetPostToken(creds.PostToken); err != nil {
				return errors.Wrap(err, errors.ErrorTypeConfig, errors.SeverityHigh,
					"failed to save posting token to keychain")
			}
		}
		return nil
	}

	// merge with what is already on disk
	existing, err := cm.loadConfigFile()
	if err == nil {
		if creds.GitHubToken == "" {
			creds.GitHubToken = existing.GitHubToken
		}
		if creds.PostToken == "" {
			creds.PostToken = existing.PostToken
		}
	}
	return cm.saveConfigFile(creds)
}

// store persists a prompted credential, reporting where it went
func (cm *CredentialManager) store(creds Credentials) {
	if err := cm.SaveCredentials(creds); err != nil {
		fmt.Fprintf(cm.out, "Could not save credential: %v\n", err)
		return
	}
	if cm.keyring.IsAvailable() {
		fmt.Fprintln(cm.out, "✓ Saved to keychain")
	} else {
		fmt.Fprintf(cm.out, "✓ Saved to %s\n", cm.configPath)
	}
}

// loadConfigFile loads credentials from the credentials file
func (cm *CredentialManager) loadConfigFile() (*Credentials, error) {
	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	return &creds, nil
}

// saveConfigFile saves credentials to the credentials file
func (cm *CredentialManager) saveConfigFile(creds Credentials) error {
	dir := filepath.Dir(cm.configPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	// user-only read/write
	return os.WriteFile(cm.configPath, data, 0600)
}

// readSecurely reads a token without echoing when stdin is a terminal
func (cm *CredentialManager) readSecurely() (string, error) {
	if f, ok := cm.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytes, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cm.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	// piped input
	reader := bufio.NewReader(cm.in)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// isInteractive returns true if stdin is a terminal (not piped)
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// GetConfigPath returns the path to the credentials file
func (cm *CredentialManager) GetConfigPath() string {
	return cm.configPath
}

// ResolveSecrets fills empty token fields of cfg from the credential chain.
// Values already present (config file, env overrides) are kept.
func (cm *CredentialManager) ResolveSecrets(cfg *Config, requirePost bool) error {
	if cfg.GitHub.Token == "" {
		token, err := cm.GetGitHubToken()
		if err != nil {
			return err
		}
		cfg.GitHub.Token = token
	}

	if cfg.Post.Token == "" && requirePost {
		token, err := cm.GetPostToken()
		if err != nil {
			return err
		}
		cfg.Post.Token = token
	}
	return nil
}
