package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "herald"

	// KeyringGitHubTokenItem is the key for the GitHub token
	KeyringGitHubTokenItem = "github-token"

	// KeyringPostTokenItem is the key for the posting API bearer token
	KeyringPostTokenItem = "post-token"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	service string
	logger  *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		service: KeyringService,
		logger:  slog.Default().With("component", "keyring"),
	}
}

// get reads one item. A missing item is not an error.
func (km *KeyringManager) get(item string) (string, error) {
	secret, err := keyring.Get(km.service, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to read from keychain", "item", item, "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("secret retrieved from keychain", "item", item)
	return secret, nil
}

func (km *KeyringManager) set(item, secret string) error {
	if secret == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}

	if err := keyring.Set(km.service, item, secret); err != nil {
		km.logger.Error("failed to save to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("secret saved to keychain", "service", km.service, "item", item)
	return nil
}

func (km *KeyringManager) delete(item string) error {
	err := keyring.Delete(km.service, item)
	if err == keyring.ErrNotFound {
		// Already deleted, not an error
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete from keychain", "item", item, "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("secret deleted from keychain", "item", item)
	return nil
}

// GetGitHubToken retrieves the GitHub token from OS keychain
func (km *KeyringManager) GetGitHubToken() (string, error) {
	return km.get(KeyringGitHubTokenItem)
}

// SetGitHubToken stores the GitHub token in OS keychain
func (km *KeyringManager) SetGitHubToken(token string) error {
	return km.set(KeyringGitHubTokenItem, token)
}

// DeleteGitHubToken removes the GitHub token from OS keychain
func (km *KeyringManager) DeleteGitHubToken() error {
	return km.delete(KeyringGitHubTokenItem)
}

// GetPostToken retrieves the posting API token from OS keychain
func (km *KeyringManager) GetPostToken() (string, error) {
	return km.get(KeyringPostTokenItem)
}

// SetPostToken stores the posting API token in OS keychain
func (km *KeyringManager) SetPostToken(token string) error {
	return km.set(KeyringPostTokenItem, token)
}

// DeletePostToken removes the posting API token from OS keychain
func (km *KeyringManager) DeletePostToken() error {
	return km.delete(KeyringPostTokenItem)
}

// IsAvailable checks if OS keychain is available.
// Returns false on headless systems (CI) where no secret service runs.
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(km.service, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// KeySourceInfo describes where a secret is coming from
type KeySourceInfo struct {
	Source      string // "env", "keychain", "config", "none"
	Secure      bool
	Recommended string
}

// GetPostTokenSource determines where the posting token is coming from
func (km *KeyringManager) GetPostTokenSource(cfg *Config) KeySourceInfo {
	if os.Getenv("X_BEARER_TOKEN") != "" {
		return KeySourceInfo{
			Source:      "env",
			Secure:      true,
			Recommended: "Using environment variable",
		}
	}

	if token, _ := km.GetPostToken(); token != "" {
		return KeySourceInfo{
			Source:      "keychain",
			Secure:      true,
			Recommended: "Stored in OS keychain",
		}
	}

	if cfg != nil && cfg.Post.Token != "" {
		return KeySourceInfo{
			Source:      "config",
			Secure:      false,
			Recommended: "Plaintext token in config file. Run: herald configure",
		}
	}

	return KeySourceInfo{
		Source:      "none",
		Secure:      false,
		Recommended: "No posting token configured. Run: herald configure",
	}
}

// MaskSecret masks a token for display.
// Shows first 4 chars and last 4 chars: "ghp_...wxyz"
func MaskSecret(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", secret[:4], secret[len(secret)-4:])
}
