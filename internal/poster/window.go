package poster

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultWindow and DefaultCapacity match the posting API's allowance of
	// 50 posts per 15 minutes.
	DefaultWindow   = 15 * time.Minute
	DefaultCapacity = 50
)

// Slot is a reservation made by Acquire. It remembers the window it was
// taken from so a late Release cannot free capacity in a newer window.
type Slot struct {
	generation int64
}

// Window bounds how many posts may be sent per interval
type Window interface {
	// Acquire reserves one slot, waiting for the window to reset when it is
	// full. It returns ctx.Err() if cancelled while waiting.
	Acquire(ctx context.Context) (Slot, error)
	// Release hands back a slot whose send failed. It is a no-op once the
	// slot's window has been replaced.
	Release(ctx context.Context, slot Slot)
}

// RateWindow is an in-process fixed window. The window opens on the first
// reservation after the previous one expired.
type RateWindow struct {
	mu       sync.Mutex
	window   time.Duration
	capacity int
	count    int
	start    time.Time

	// generation increases every time a new window opens
	generation int64

	now    func() time.Time
	wait   func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// NewRateWindow creates a window allowing capacity reservations per window
func NewRateWindow(window time.Duration, capacity int, logger *slog.Logger) *RateWindow {
	if window <= 0 {
		window = DefaultWindow
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RateWindow{
		window:   window,
		capacity: capacity,
		now:      time.Now,
		wait:     sleepCtx,
		logger:   logger.With("component", "rate_window"),
	}
}

// Acquire implements Window
func (w *RateWindow) Acquire(ctx context.Context) (Slot, error) {
	for {
		w.mu.Lock()
		now := w.now()
		if w.start.IsZero() || !now.Before(w.start.Add(w.window)) {
			w.start = now
			w.count = 0
			w.generation++
		}
		if w.count < w.capacity {
			w.count++
			slot := Slot{generation: w.generation}
			w.mu.Unlock()
			return slot, nil
		}
		delay := w.start.Add(w.window).Sub(now)
		count := w.count
		w.mu.Unlock()

		w.logger.Warn("rate window full, waiting for reset", "count", count, "capacity", w.capacity, "wait", delay)
		if err := w.wait(ctx, delay); err != nil {
			return Slot{}, err
		}
	}
}

// Release implements Window
func (w *RateWindow) Release(ctx context.Context, slot Slot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot.generation != w.generation {
		return
	}
	if w.count > 0 && w.now().Before(w.start.Add(w.window)) {
		w.count--
	}
}

// Count returns the number of reservations in the current window
func (w *RateWindow) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.start.IsZero() || !w.now().Before(w.start.Add(w.window)) {
		return 0
	}
	return w.count
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
