package poster

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/herald/internal/models"
)

func TestRender_Release(t *testing.T) {
	r, err := NewRenderer("Delta", "", "", 0)
	require.NoError(t, err)

	text, err := r.Render(models.ReleaseAnnouncement{Version: "v1.2.0", URL: "https://github.com/acme/delta/releases/tag/v1.2.0"})
	require.NoError(t, err)
	assert.Equal(t, "New release (v1.2.0) of Delta out! 🎉\n\nLink to release notes: https://github.com/acme/delta/releases/tag/v1.2.0", text)
}

func TestRender_CustomTemplate(t *testing.T) {
	r, err := NewRenderer("Delta", "Welcome {{.Name}} ({{.Identity}}): {{.Message}}", "{{.Project}} {{.Version}}", 0)
	require.NoError(t, err)

	text, err := r.Render(models.ContributorAnnouncement{Identity: "bob@example.com", Name: "Bob", Message: "  fix bug\nmore  "})
	require.NoError(t, err)
	assert.Equal(t, "Welcome Bob (bob@example.com): fix bug", text)
}

func TestRender_TruncatesToMaxRunes(t *testing.T) {
	r, err := NewRenderer("Delta", "", "", 40)
	require.NoError(t, err)

	text, err := r.Render(models.ContributorAnnouncement{
		Name:    "Bob",
		Message: strings.Repeat("é", 100),
		URL:     "https://example.com",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, utf8.RuneCountInString(text), 40)
	assert.True(t, strings.HasSuffix(text, "…"))
}

func TestNewRenderer_InvalidTemplate(t *testing.T) {
	_, err := NewRenderer("Delta", "{{.Name", "", 0)
	assert.Error(t, err)
}

func TestRender_UnknownField(t *testing.T) {
	r, err := NewRenderer("Delta", "", "{{.Nope}}", 0)
	require.NoError(t, err)

	_, err = r.Render(models.ReleaseAnnouncement{Version: "v1"})
	assert.Error(t, err)
}
