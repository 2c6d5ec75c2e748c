package models

import (
	"encoding/json"
	"fmt"
)

// AnnouncementKind names an Announcement variant
type AnnouncementKind string

const (
	KindContributor AnnouncementKind = "contributor"
	KindRelease     AnnouncementKind = "release"
)

// Announcement is a pending outbound notification. The set of variants is
// closed: ContributorAnnouncement and ReleaseAnnouncement.
type Announcement interface {
	Kind() AnnouncementKind
	// Subject is a short label used in logs and dead letters
	Subject() string
	isAnnouncement()
}

// ContributorAnnouncement announces a first-time contributor
type ContributorAnnouncement struct {
	Identity Identity `json:"identity"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
	URL      string   `json:"url"`
}

func (ContributorAnnouncement) Kind() AnnouncementKind { return KindContributor }
func (a ContributorAnnouncement) Subject() string      { return string(a.Identity) }
func (ContributorAnnouncement) isAnnouncement()        {}

// ReleaseAnnouncement announces a published release
type ReleaseAnnouncement struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

func (ReleaseAnnouncement) Kind() AnnouncementKind { return KindRelease }
func (a ReleaseAnnouncement) Subject() string      { return a.Version }
func (ReleaseAnnouncement) isAnnouncement()        {}

type envelope struct {
	Kind        AnnouncementKind         `json:"kind"`
	Contributor *ContributorAnnouncement `json:"contributor,omitempty"`
	Release     *ReleaseAnnouncement     `json:"release,omitempty"`
}

// EncodeAnnouncement serializes an announcement with its variant tag
func EncodeAnnouncement(a Announcement) ([]byte, error) {
	env := envelope{Kind: a.Kind()}
	switch v := a.(type) {
	case ContributorAnnouncement:
		env.Contributor = &v
	case ReleaseAnnouncement:
		env.Release = &v
	default:
		return nil, fmt.Errorf("unknown announcement type %T", a)
	}
	return json.Marshal(env)
}

// DecodeAnnouncement is the inverse of EncodeAnnouncement
func DecodeAnnouncement(data []byte) (Announcement, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode announcement: %w", err)
	}

	switch env.Kind {
	case KindContributor:
		if env.Contributor == nil {
			return nil, fmt.Errorf("decode announcement: missing contributor payload")
		}
		return *env.Contributor, nil
	case KindRelease:
		if env.Release == nil {
			return nil, fmt.Errorf("decode announcement: missing release payload")
		}
		return *env.Release, nil
	default:
		return nil, fmt.Errorf("decode announcement: unknown kind %q", env.Kind)
	}
}
