package poster

import (
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/rohankatakam/herald/internal/models"
)

const (
	DefaultContributorTemplate = "{{.Project}} got a new contributor {{.Name}}!\n\nDetails: {{.Message}}\n\nLink: {{.URL}}"
	DefaultReleaseTemplate     = "New release ({{.Version}}) of {{.Project}} out! 🎉\n\nLink to release notes: {{.URL}}"

	// DefaultMaxLength is the posting API's character limit
	DefaultMaxLength = 280
	ellipsis         = "…"
)

// Renderer turns announcements into post text
type Renderer struct {
	project     string
	maxLength   int
	contributor *template.Template
	release     *template.Template
}

type contributorView struct {
	Project  string
	Name     string
	Identity string
	Message  string
	URL      string
}

type releaseView struct {
	Project string
	Version string
	URL     string
}

// NewRenderer parses both templates. Empty template strings select the
// defaults.
func NewRenderer(project, contributorTmpl, releaseTmpl string, maxLength int) (*Renderer, error) {
	if contributorTmpl == "" {
		contributorTmpl = DefaultContributorTemplate
	}
	if releaseTmpl == "" {
		releaseTmpl = DefaultReleaseTemplate
	}
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	ct, err := template.New("contributor").Option("missingkey=error").Parse(contributorTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse contributor template: %w", err)
	}
	rt, err := template.New("release").Option("missingkey=error").Parse(releaseTmpl)
	if err != nil {
		return nil, fmt.Errorf("parse release template: %w", err)
	}

	return &Renderer{
		project:     project,
		maxLength:   maxLength,
		contributor: ct,
		release:     rt,
	}, nil
}

// Render produces the post text for a, truncated to the length limit
func (r *Renderer) Render(a models.Announcement) (string, error) {
	var sb strings.Builder

	switch v := a.(type) {
	case models.ContributorAnnouncement:
		err := r.contributor.Execute(&sb, contributorView{
			Project:  r.project,
			Name:     v.Name,
			Identity: string(v.Identity),
			Message:  firstLine(v.Message),
			URL:      v.URL,
		})
		if err != nil {
			return "", fmt.Errorf("render contributor announcement: %w", err)
		}
	case models.ReleaseAnnouncement:
		err := r.release.Execute(&sb, releaseView{
			Project: r.project,
			Version: v.Version,
			URL:     v.URL,
		})
		if err != nil {
			return "", fmt.Errorf("render release announcement: %w", err)
		}
	default:
		return "", fmt.Errorf("unsupported announcement %T", a)
	}

	return truncate(sb.String(), r.maxLength), nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// truncate cuts s to at most max runes, marking the cut with an ellipsis
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:max-1]), " \n") + ellipsis
}
