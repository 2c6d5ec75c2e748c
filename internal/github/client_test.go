package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/herald/internal/errors"
	"github.com/rohankatakam/herald/internal/logging"
	"github.com/rohankatakam/herald/internal/models"
)

const pushPayload = `{"ref":"refs/heads/main","commits":[` +
	`{"sha":"aaa111","message":"first\n\nbody","distinct":true,"url":"https://api.github.com/repos/acme/widget/commits/aaa111","author":{"name":"Alice","email":"alice@example.com"}},` +
	`{"sha":"bbb222","message":"merged","distinct":false,"author":{"name":"Bob","email":"bob@example.com"}}]}`

const releasePayload = `{"action":"published","release":{"tag_name":"v1.2.0","name":"","html_url":"https://github.com/acme/widget/releases/tag/v1.2.0"}}`

func event(id int, typ, payload string) string {
	if payload == "" {
		payload = "{}"
	}
	return fmt.Sprintf(`{"id":"%d","type":"%s","created_at":"2024-05-01T10:00:00Z","payload":%s}`, id, typ, payload)
}

func eventsJSON(evs ...string) string {
	out := "["
	for i, e := range evs {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out + "]"
}

type recorder struct {
	mu          sync.Mutex
	ifNoneMatch []string
	pages       []string
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{
		Owner:         "acme",
		Repo:          "widget",
		Token:         "test-token",
		BaseURL:       srv.URL,
		PerPage:       30,
		MaxEventPages: 3,
	}, logging.Discard())
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresRepo(t *testing.T) {
	_, err := NewClient(Options{Owner: "acme"}, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeConfig, errors.GetType(err))
}

func TestListActivitySince_FirstPollOrdersOldestFirst(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		rec.ifNoneMatch = append(rec.ifNoneMatch, r.Header.Get("If-None-Match"))
		rec.mu.Unlock()

		assert.Equal(t, "/repos/acme/widget/events", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("ETag", `"etag-1"`)
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/widget/events?page=2>; rel="next"`, r.Host))
		fmt.Fprint(w, eventsJSON(
			event(12, "PushEvent", pushPayload),
			event(11, "ReleaseEvent", releasePayload),
			event(10, "WatchEvent", ""),
		))
	}))

	page, err := c.ListActivitySince(context.Background(), models.Cursor{})
	require.NoError(t, err)

	assert.False(t, page.NotModified)
	assert.Equal(t, models.Cursor{ETag: `"etag-1"`, LastEventID: 12}, page.Cursor)
	require.Len(t, page.Items, 3)
	assert.Equal(t, []string{"10", "11", "12"}, []string{page.Items[0].ID, page.Items[1].ID, page.Items[2].ID})
	assert.Equal(t, []string{""}, rec.ifNoneMatch, "zero cursor reads a single page without a conditional header")

	assert.Equal(t, models.ActivityOther, page.Items[0].Kind)

	rel := page.Items[1]
	require.Equal(t, models.ActivityRelease, rel.Kind)
	assert.Equal(t, "published", rel.Release.Action)
	assert.Equal(t, "v1.2.0", rel.Release.TagName)

	push := page.Items[2]
	require.Equal(t, models.ActivityPush, push.Kind)
	assert.Equal(t, "refs/heads/main", push.Push.Ref)
	require.Len(t, push.Push.Commits, 2)
	assert.Equal(t, "https://github.com/acme/widget/commit/aaa111", push.Push.Commits[0].URL)
	assert.Equal(t, "alice@example.com", push.Push.Commits[0].Author.Email)
	assert.True(t, push.Push.Commits[0].Distinct)
	assert.False(t, push.Push.Commits[1].Distinct)
}

func TestListActivitySince_NotModified(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"etag-1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		t.Errorf("unexpected unconditional request")
	}))

	cursor := models.Cursor{ETag: `"etag-1"`, LastEventID: 12}
	page, err := c.ListActivitySince(context.Background(), cursor)
	require.NoError(t, err)

	assert.True(t, page.NotModified)
	assert.Empty(t, page.Items)
	assert.Equal(t, cursor, page.Cursor)
}

func TestListActivitySince_FiltersConsumedAndFollowsPages(t *testing.T) {
	rec := &recorder{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Query().Get("page")
		rec.mu.Lock()
		rec.pages = append(rec.pages, p)
		rec.mu.Unlock()

		switch p {
		case "1":
			w.Header().Set("ETag", `"etag-2"`)
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/widget/events?page=2>; rel="next"`, r.Host))
			fmt.Fprint(w, eventsJSON(event(9, "WatchEvent", ""), event(8, "WatchEvent", "")))
		case "2":
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/widget/events?page=3>; rel="next"`, r.Host))
			fmt.Fprint(w, eventsJSON(event(7, "WatchEvent", ""), event(6, "WatchEvent", ""), event(5, "WatchEvent", "")))
		default:
			t.Errorf("page %s should not be requested once the cursor is reached", p)
			fmt.Fprint(w, "[]")
		}
	}))

	page, err := c.ListActivitySince(context.Background(), models.Cursor{ETag: `"etag-1"`, LastEventID: 5})
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2"}, rec.pages)
	require.Len(t, page.Items, 4)
	for i, want := range []string{"6", "7", "8", "9"} {
		assert.Equal(t, want, page.Items[i].ID)
	}
	assert.Equal(t, models.Cursor{ETag: `"etag-2"`, LastEventID: 9}, page.Cursor)
}

func TestListActivitySince_NoNewItemsKeepsCursor(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"etag-3"`)
		fmt.Fprint(w, eventsJSON(event(5, "WatchEvent", "")))
	}))

	cursor := models.Cursor{ETag: `"etag-1"`, LastEventID: 5}
	page, err := c.ListActivitySince(context.Background(), cursor)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, cursor, page.Cursor)
}

func TestListActivitySince_ServerError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusBadGateway)
	}))

	_, err := c.ListActivitySince(context.Background(), models.Cursor{LastEventID: 1})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeSourceFetch, errors.GetType(err))
}

func TestListCommitHistory_Pages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/commits", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		if r.URL.Query().Get("page") == "1" {
			w.Header().Set("Link", fmt.Sprintf(`<http://%s/repos/acme/widget/commits?page=2>; rel="next"`, r.Host))
		}
		fmt.Fprint(w, `[{"sha":"abc","html_url":"https://github.com/acme/widget/commit/abc",`+
			`"commit":{"message":"init","author":{"name":"Alice","email":"alice@example.com"}},`+
			`"author":{"login":"alice"}}]`)
	}))

	first, err := c.ListCommitHistory(context.Background(), "main", 1, 2)
	require.NoError(t, err)
	require.Len(t, first.Commits, 1)
	assert.Equal(t, 2, first.NextPage)
	assert.Equal(t, models.Author{Name: "Alice", Email: "alice@example.com", Login: "alice"}, first.Commits[0].Author)
	assert.Equal(t, "https://github.com/acme/widget/commit/abc", first.Commits[0].URL)

	last, err := c.ListCommitHistory(context.Background(), "main", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, last.NextPage)
}

func TestLatestRelease(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/releases/latest", r.URL.Path)
		fmt.Fprint(w, `{"tag_name":"v2.0.0","name":"Two","html_url":"https://github.com/acme/widget/releases/tag/v2.0.0"}`)
	}))

	rel, err := c.LatestRelease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2.0.0", rel.TagName)
	assert.Equal(t, "Two", rel.Name)
	assert.Equal(t, models.ReleaseActionPublished, rel.Action)
}
