package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIdentity(t *testing.T) {
	assert.Equal(t, Identity("alice@example.com"), NewIdentity("  Alice@Example.COM "))
	assert.Equal(t, Identity(""), NewIdentity("   "))
}

func TestAuthorIdentity(t *testing.T) {
	both := Author{Name: "Alice", Email: "Alice@example.com", Login: "AliceDev"}
	assert.Equal(t, Identity("alice@example.com"), both.Identity(IdentityKeyEmail))
	assert.Equal(t, Identity("alicedev"), both.Identity(IdentityKeyLogin))

	// falls back to the other field
	noLogin := Author{Email: "bob@example.com"}
	assert.Equal(t, Identity("bob@example.com"), noLogin.Identity(IdentityKeyLogin))
	noEmail := Author{Login: "carol"}
	assert.Equal(t, Identity("carol"), noEmail.Identity(IdentityKeyEmail))

	assert.Equal(t, Identity(""), Author{Name: "Nobody"}.Identity(IdentityKeyEmail))
}

func TestAuthorDisplayName(t *testing.T) {
	assert.Equal(t, "Alice", Author{Name: "Alice", Login: "a"}.DisplayName())
	assert.Equal(t, "a", Author{Login: "a", Email: "a@x"}.DisplayName())
	assert.Equal(t, "a@x", Author{Email: "a@x"}.DisplayName())
}

func TestIdentityKeyValid(t *testing.T) {
	assert.True(t, IdentityKeyEmail.Valid())
	assert.True(t, IdentityKeyLogin.Valid())
	assert.False(t, IdentityKey("name").Valid())
}

func TestCursorIsZero(t *testing.T) {
	assert.True(t, Cursor{}.IsZero())
	assert.False(t, Cursor{ETag: `"abc"`}.IsZero())
	assert.False(t, Cursor{LastEventID: 1}.IsZero())
}

func TestAnnouncementEnvelope(t *testing.T) {
	in := ContributorAnnouncement{Identity: "bob@example.com", Name: "Bob", Message: "feat: add thing", URL: "https://github.com/acme/widget/commit/b1"}

	data, err := EncodeAnnouncement(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"contributor"`)

	out, err := DecodeAnnouncement(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Equal(t, "bob@example.com", out.Subject())
}

func TestDecodeAnnouncementErrors(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":        `{`,
		"unknown kind":    `{"kind":"issue"}`,
		"missing payload": `{"kind":"release"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeAnnouncement([]byte(payload))
			assert.Error(t, err)
		})
	}
}
