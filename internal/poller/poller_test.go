package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/herald/internal/classifier"
	"github.com/rohankatakam/herald/internal/ledger"
	"github.com/rohankatakam/herald/internal/logging"
	"github.com/rohankatakam/herald/internal/models"
)

type step struct {
	page models.ActivityPage
	err  error
}

// scriptedSource replays steps in order and calls done once they run out
type scriptedSource struct {
	mu    sync.Mutex
	steps []step
	seen  []models.Cursor
	done  func()
}

func (s *scriptedSource) ListActivitySince(ctx context.Context, cursor models.Cursor) (models.ActivityPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, cursor)
	if len(s.steps) == 0 {
		s.done()
		return models.ActivityPage{Cursor: cursor, NotModified: true}, nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.page, st.err
}

func (s *scriptedSource) cursors() []models.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Cursor(nil), s.seen...)
}

type memStore struct {
	mu    sync.Mutex
	saved []models.Cursor
	err   error
}

func (m *memStore) Save(ctx context.Context, c models.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, c)
	return m.err
}

func pushActivity(id string, commits ...models.Commit) models.Activity {
	return models.Activity{ID: id, Kind: models.ActivityPush, Push: &models.PushActivity{Ref: "refs/heads/main", Commits: commits}}
}

func authored(sha, email string) models.Commit {
	return models.Commit{SHA: sha, Message: "msg " + sha, Distinct: true, Author: models.Author{Name: email, Email: email}}
}

type harness struct {
	poller *Poller
	source *scriptedSource
	ledger *ledger.Ledger
	store  *memStore
}

func newHarness(cfg Config, start models.Cursor, cancel func(), steps ...step) *harness {
	l := ledger.New()
	l.Seed("alice@example.com")
	src := &scriptedSource{steps: steps, done: cancel}
	store := &memStore{}
	if cfg.Interval == 0 {
		cfg.Interval = time.Millisecond
	}
	cls := classifier.New(classifier.Config{Branch: "main"}, l, logging.Discard())
	return &harness{
		poller: New(cfg, src, cls, store, start, logging.Discard()),
		source: src,
		ledger: l,
		store:  store,
	}
}

func drain(out <-chan models.Announcement) <-chan []models.Announcement {
	res := make(chan []models.Announcement, 1)
	go func() {
		var got []models.Announcement
		for a := range out {
			got = append(got, a)
		}
		res <- got
	}()
	return res
}

func TestRun_EmptyPollsLeaveStateUnchanged(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := models.Cursor{ETag: `"e1"`, LastEventID: 10}
	h := newHarness(Config{}, start, cancel,
		step{page: models.ActivityPage{Cursor: start, NotModified: true}},
		step{page: models.ActivityPage{Cursor: start}},
	)

	out := make(chan models.Announcement, 1)
	res := drain(out)
	require.NoError(t, h.poller.Run(ctx, out))

	assert.Empty(t, <-res)
	assert.Equal(t, start, h.poller.Cursor())
	assert.Equal(t, 1, h.ledger.Len())
	assert.Empty(t, h.store.saved)
	assert.Equal(t, StateStopped, h.poller.State())
}

func TestRun_FailedPollRetriesFromSameCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := models.Cursor{ETag: `"e1"`, LastEventID: 10}
	next := models.Cursor{ETag: `"e2"`, LastEventID: 11}
	h := newHarness(Config{}, start, cancel,
		step{err: errors.New("connection reset")},
		step{page: models.ActivityPage{Cursor: next, Items: []models.Activity{pushActivity("11", authored("b1", "bob@example.com"))}}},
	)

	out := make(chan models.Announcement, 1)
	res := drain(out)
	require.NoError(t, h.poller.Run(ctx, out))

	got := <-res
	require.Len(t, got, 1)
	seen := h.source.cursors()
	require.GreaterOrEqual(t, len(seen), 3)
	assert.Equal(t, start, seen[0])
	assert.Equal(t, start, seen[1], "retry must resume from the unchanged cursor")
	assert.Equal(t, next, seen[2])
	assert.Equal(t, next, h.poller.Cursor())
	assert.Equal(t, []models.Cursor{next}, h.store.saved)
}

func TestRun_AnnouncementsKeepActivityOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	next := models.Cursor{ETag: `"e2"`, LastEventID: 21}
	h := newHarness(Config{}, models.Cursor{LastEventID: 19}, cancel,
		step{page: models.ActivityPage{Cursor: next, Items: []models.Activity{
			pushActivity("20",
				authored("a1", "alice@example.com"),
				authored("b1", "bob@example.com"),
				authored("c1", "carol@example.com"),
			),
			{ID: "21", Kind: models.ActivityRelease, Release: &models.ReleaseActivity{Action: "published", TagName: "v1.2.0"}},
		}}},
	)

	out := make(chan models.Announcement, 1)
	res := drain(out)
	require.NoError(t, h.poller.Run(ctx, out))

	got := <-res
	require.Len(t, got, 3)
	assert.Equal(t, "bob@example.com", got[0].Subject())
	assert.Equal(t, "carol@example.com", got[1].Subject())
	assert.Equal(t, "v1.2.0", got[2].Subject())
}

func TestRun_ExitOnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boom := errors.New("401 bad credentials")
	h := newHarness(Config{ExitOnError: true}, models.Cursor{}, cancel, step{err: boom})

	out := make(chan models.Announcement, 1)
	err := h.poller.Run(ctx, out)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateStopped, h.poller.State())

	_, open := <-out
	assert.False(t, open, "output channel must be closed")
}

func TestRun_CancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(Config{Interval: time.Hour}, models.Cursor{}, func() {})

	out := make(chan models.Announcement, 1)
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx, out) }()

	require.Eventually(t, func() bool { return h.poller.State() == StateSleeping }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
	_, open := <-out
	assert.False(t, open)
}

func TestRun_CancelMidBatchKeepsCursor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := models.Cursor{LastEventID: 1}
	h := newHarness(Config{}, start, func() {},
		step{page: models.ActivityPage{Cursor: models.Cursor{LastEventID: 2}, Items: []models.Activity{
			pushActivity("2", authored("b1", "bob@example.com"), authored("c1", "carol@example.com")),
		}}},
	)

	// unbuffered and never read: the first send blocks
	out := make(chan models.Announcement)
	done := make(chan error, 1)
	go func() { done <- h.poller.Run(ctx, out) }()

	require.Eventually(t, func() bool { return h.poller.State() == StateProcessing }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, start, h.poller.Cursor())
	assert.Empty(t, h.store.saved)
}

func TestRun_SkipBacklog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backlog := models.Cursor{ETag: `"e1"`, LastEventID: 50}
	fresh := models.Cursor{ETag: `"e2"`, LastEventID: 51}
	h := newHarness(Config{SkipBacklog: true}, models.Cursor{}, cancel,
		step{page: models.ActivityPage{Cursor: backlog, Items: []models.Activity{pushActivity("50", authored("o1", "old@example.com"))}}},
		step{page: models.ActivityPage{Cursor: fresh, Items: []models.Activity{pushActivity("51", authored("n1", "new@example.com"))}}},
	)

	out := make(chan models.Announcement, 1)
	res := drain(out)
	require.NoError(t, h.poller.Run(ctx, out))

	got := <-res
	require.Len(t, got, 1)
	assert.Equal(t, "new@example.com", got[0].Subject())
	assert.False(t, h.ledger.Contains("old@example.com"))
	assert.Equal(t, []models.Cursor{backlog, fresh}, h.store.saved)
}

func TestRun_StoreFailureIsNotFatal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	next := models.Cursor{LastEventID: 3}
	h := newHarness(Config{ExitOnError: true}, models.Cursor{LastEventID: 2}, cancel,
		step{page: models.ActivityPage{Cursor: next, Items: []models.Activity{{ID: "3", Kind: models.ActivityOther}}}},
	)
	h.store.err = errors.New("disk full")

	out := make(chan models.Announcement, 1)
	res := drain(out)
	require.NoError(t, h.poller.Run(ctx, out))
	<-res

	assert.Equal(t, next, h.poller.Cursor())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
