package config

import (
	"testing"

	"github.com/zalando/go-keyring"
)

func newMockKeyring(t *testing.T) *KeyringManager {
	t.Helper()
	keyring.MockInit()
	return NewKeyringManager()
}

func TestKeyringManager_SaveAndGetPostToken(t *testing.T) {
	km := newMockKeyring(t)

	if err := km.SetPostToken("x-test-token-123"); err != nil {
		t.Fatalf("Failed to save post token: %v", err)
	}

	got, err := km.GetPostToken()
	if err != nil {
		t.Fatalf("Failed to get post token: %v", err)
	}
	if got != "x-test-token-123" {
		t.Errorf("Expected token %s, got %s", "x-test-token-123", got)
	}

	// tokens are stored under separate items
	gh, err := km.GetGitHubToken()
	if err != nil {
		t.Fatalf("Failed to get github token: %v", err)
	}
	if gh != "" {
		t.Errorf("Expected empty github token, got %s", gh)
	}
}

func TestKeyringManager_DeleteGitHubToken(t *testing.T) {
	km := newMockKeyring(t)

	if err := km.SetGitHubToken("ghp_delete_me"); err != nil {
		t.Fatalf("Failed to save github token: %v", err)
	}
	if err := km.DeleteGitHubToken(); err != nil {
		t.Fatalf("Failed to delete github token: %v", err)
	}

	got, err := km.GetGitHubToken()
	if err != nil {
		t.Fatalf("Error getting token after deletion: %v", err)
	}
	if got != "" {
		t.Errorf("Expected empty token after deletion, got %s", got)
	}

	// Delete again (should not error)
	if err := km.DeleteGitHubToken(); err != nil {
		t.Errorf("Expected no error when deleting non-existent token, got: %v", err)
	}
}

func TestKeyringManager_EmptyToken(t *testing.T) {
	km := newMockKeyring(t)

	if err := km.SetPostToken(""); err == nil {
		t.Error("Expected error when saving empty token")
	}
}

func TestKeyringManager_IsAvailable(t *testing.T) {
	km := newMockKeyring(t)

	if !km.IsAvailable() {
		t.Error("Expected mock keychain to be available")
	}
}

func TestGetPostTokenSource(t *testing.T) {
	km := newMockKeyring(t)
	cfg := Default()

	t.Setenv("X_BEARER_TOKEN", "")
	if got := km.GetPostTokenSource(cfg).Source; got != "none" {
		t.Errorf("Expected source 'none', got '%s'", got)
	}

	cfg.Post.Token = "plaintext-token"
	info := km.GetPostTokenSource(cfg)
	if info.Source != "config" || info.Secure {
		t.Errorf("Expected insecure 'config' source, got %+v", info)
	}

	if err := km.SetPostToken("keychain-token"); err != nil {
		t.Fatalf("Failed to save post token: %v", err)
	}
	info = km.GetPostTokenSource(cfg)
	if info.Source != "keychain" || !info.Secure {
		t.Errorf("Expected secure 'keychain' source, got %+v", info)
	}

	t.Setenv("X_BEARER_TOKEN", "env-token")
	if got := km.GetPostTokenSource(cfg).Source; got != "env" {
		t.Errorf("Expected source 'env', got '%s'", got)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Standard token",
			input:    "ghp_1234567890abcdefg",
			expected: "ghp_...defg",
		},
		{
			name:     "Empty token",
			input:    "",
			expected: "(not set)",
		},
		{
			name:     "Short token",
			input:    "abc123",
			expected: "***",
		},
		{
			name:     "Exact 12 chars",
			input:    "abcd12345678",
			expected: "abcd...5678",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskSecret(tt.input)
			if result != tt.expected {
				t.Errorf("MaskSecret(%q) = %q, expected %q", tt.input, result, tt.expected)
			}
		})
	}
}
