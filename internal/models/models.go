package models

import (
	"strings"
	"time"
)

// Identity is the deduplication key for a contributor (email or login)
type Identity string

// NewIdentity normalizes a raw email or login into an Identity
func NewIdentity(raw string) Identity {
	return Identity(strings.ToLower(strings.TrimSpace(raw)))
}

// IdentityKey selects which author field forms the contributor identity
type IdentityKey string

const (
	IdentityKeyEmail IdentityKey = "email"
	IdentityKeyLogin IdentityKey = "login"
)

// Valid reports whether the key is one of the supported identity keys
func (k IdentityKey) Valid() bool {
	return k == IdentityKeyEmail || k == IdentityKeyLogin
}

// Author represents the author of a commit
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Login string `json:"login,omitempty"`
}

// Identity derives the dedup key for this author. The selected field is
// preferred; the other one is used when it is empty.
func (a Author) Identity(key IdentityKey) Identity {
	primary, fallback := a.Email, a.Login
	if key == IdentityKeyLogin {
		primary, fallback = a.Login, a.Email
	}
	if id := NewIdentity(primary); id != "" {
		return id
	}
	return NewIdentity(fallback)
}

// DisplayName returns the best human-readable name for the author
func (a Author) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	if a.Login != "" {
		return a.Login
	}
	return a.Email
}

// Commit represents a git commit as seen in history pages and push activity
type Commit struct {
	SHA      string `json:"sha"`
	Message  string `json:"message"`
	URL      string `json:"url"`
	Author   Author `json:"author"`
	Distinct bool   `json:"distinct"`
}

// CommitPage is one page of commit history
type CommitPage struct {
	Commits  []Commit
	NextPage int // 0 when this is the last page
}

// ActivityKind discriminates the payload carried by an Activity
type ActivityKind string

const (
	ActivityPush    ActivityKind = "push"
	ActivityRelease ActivityKind = "release"
	ActivityOther   ActivityKind = "other"
)

// Activity is one repository event. Exactly one payload is set, matching Kind;
// ActivityOther carries none.
type Activity struct {
	ID        string
	Kind      ActivityKind
	CreatedAt time.Time
	Push      *PushActivity
	Release   *ReleaseActivity
}

// PushActivity is the payload of a push
type PushActivity struct {
	Ref     string
	Commits []Commit
}

// ReleaseActivity is the payload of a release event
type ReleaseActivity struct {
	Action  string
	TagName string
	Name    string
	URL     string
}

// ReleaseActionPublished is the only release action that gets announced
const ReleaseActionPublished = "published"

// Cursor marks the point up to which activity has been consumed
type Cursor struct {
	ETag        string `json:"etag"`
	LastEventID int64  `json:"last_event_id"`
}

// IsZero reports whether no activity has been consumed yet
func (c Cursor) IsZero() bool {
	return c.ETag == "" && c.LastEventID == 0
}

// ActivityPage is the result of one incremental fetch
type ActivityPage struct {
	Cursor      Cursor
	NotModified bool
	Items       []Activity
}

// PostID identifies a created post on the posting API
type PostID string
