package search

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Throttle gates calls to remote services independently of the resolver's
// worker count: at most maxInFlight concurrent calls and at most limit call
// starts in any sliding window.
type Throttle struct {
	sem    *semaphore.Weighted
	mu     sync.Mutex
	window slidingWindow
	limit  int
	now    func() time.Time
}

// slidingWindow tracks call start timestamps, oldest first.
type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

// NewThrottle creates a throttle. A limit of zero disables the rate window.
func NewThrottle(maxInFlight int64, limit int, window time.Duration) *Throttle {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Throttle{
		sem:    semaphore.NewWeighted(maxInFlight),
		window: slidingWindow{window: window},
		limit:  limit,
		now:    time.Now,
	}
}

// Acquire blocks until a slot is free in both the in-flight cap and the rate
// window. The returned release func must be called when the call finishes.
func (t *Throttle) Acquire(ctx context.Context) (func(), error) {
	if t == nil {
		return func() {}, nil
	}
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire throttle: %w", err)
	}
	release := func() { t.sem.Release(1) }

	for {
		wait, ok := t.reserve()
		if ok {
			return release, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, fmt.Errorf("acquire throttle: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// reserve records a call start if the window has room, otherwise it reports
// how long until the oldest start falls out of the window.
func (t *Throttle) reserve() (time.Duration, bool) {
	if t.limit <= 0 || t.window.window <= 0 {
		return 0, true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.window.cleanup(now)
	if len(t.window.timestamps) < t.limit {
		t.window.timestamps = append(t.window.timestamps, now)
		return 0, true
	}
	wait := t.window.timestamps[0].Add(t.window.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow returns the number of call starts in the current window.
func (t *Throttle) InWindow() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.window.cleanup(t.now())
	return len(t.window.timestamps)
}

// cleanup removes timestamps that have left the window.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
