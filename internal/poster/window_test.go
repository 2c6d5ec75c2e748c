package poster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/herald/internal/logging"
)

type fakeClock struct {
	now   time.Time
	waits []time.Duration
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.waits = append(f.waits, d)
	f.now = f.now.Add(d)
	return nil
}

func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newTestWindow(window time.Duration, capacity int) (*RateWindow, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	w := NewRateWindow(window, capacity, logging.Discard())
	w.now = clock.Now
	w.wait = clock.Sleep
	return w, clock
}

func acquire(t *testing.T, w Window) Slot {
	t.Helper()
	slot, err := w.Acquire(context.Background())
	require.NoError(t, err)
	return slot
}

func TestRateWindow_OverCapacityWaitsForBoundary(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 3)

	for i := 0; i < 3; i++ {
		acquire(t, w)
		clock.Advance(10 * time.Second)
	}
	assert.Empty(t, clock.waits)

	// window opened at t0; now is t0+30s
	acquire(t, w)
	assert.Equal(t, []time.Duration{30 * time.Second}, clock.waits)
	assert.Equal(t, 1, w.Count(), "the waiting post opens the next window")
}

func TestRateWindow_CapacityAcrossTwoWindowsNeverWaits(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 3)

	for i := 0; i < 3; i++ {
		acquire(t, w)
	}
	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		acquire(t, w)
	}

	assert.Empty(t, clock.waits)
	assert.Equal(t, 3, w.Count())
}

func TestRateWindow_CountNeverExceedsCapacity(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 2)

	for i := 0; i < 7; i++ {
		acquire(t, w)
		assert.LessOrEqual(t, w.Count(), 2)
	}
	assert.Len(t, clock.waits, 3)
}

func TestRateWindow_ReleaseReturnsSlot(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 2)
	ctx := context.Background()

	acquire(t, w)
	slot := acquire(t, w)
	w.Release(ctx, slot)
	acquire(t, w)

	assert.Empty(t, clock.waits)
	assert.Equal(t, 2, w.Count())
}

func TestRateWindow_CancelledWhileWaiting(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 1)

	acquire(t, w)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateWindow_RealTimerCancellation(t *testing.T) {
	w := NewRateWindow(time.Hour, 1, logging.Discard())
	acquire(t, w)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := w.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateWindow_StaleReleaseDoesNotFreeNewWindow(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 2)
	ctx := context.Background()

	// reserved in the first window, released after the second one opened
	stale := acquire(t, w)
	clock.Advance(61 * time.Second)
	acquire(t, w)
	acquire(t, w)
	w.Release(ctx, stale)

	assert.Equal(t, 2, w.Count())
	assert.Empty(t, clock.waits)

	acquire(t, w)
	assert.Len(t, clock.waits, 1, "third post in the second window must wait")
}

func TestRateWindow_ReleaseAfterExpiryIsNoop(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 1)
	ctx := context.Background()

	slot := acquire(t, w)
	clock.Advance(2 * time.Minute)
	w.Release(ctx, slot)
	assert.Equal(t, 0, w.Count())

	acquire(t, w)
	assert.Empty(t, clock.waits)
}
