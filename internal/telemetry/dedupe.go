package telemetry

import (
	"sync"
	"time"
)

// Window is how long an identical error signature is suppressed.
const Window = 60 * time.Second

// Deduper suppresses repeated emissions of the same error signature
// within a sliding window. Uses in-memory state; entries are pruned
// lazily, at most one table scan per window interval.
type Deduper struct {
	window    time.Duration
	mu        sync.Mutex
	seen      map[string]time.Time
	lastPrune time.Time
	now       func() time.Time // injectable for tests
}

// NewDeduper creates a deduper with the given suppression window.
func NewDeduper(window time.Duration) *Deduper {
	return &Deduper{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether an event with the given signature key should be
// emitted. The first occurrence of a key is allowed and recorded; repeats
// inside the window are suppressed. After the window expires the key is
// allowed again.
func (d *Deduper) Allow(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.maybePrune(now)

	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		return false
	}
	d.seen[key] = now
	return true
}

// maybePrune drops expired entries. Scanning the whole table on every call
// would make Allow O(n); one scan per window keeps the amortized cost flat.
// Caller holds d.mu.
func (d *Deduper) maybePrune(now time.Time) {
	if now.Sub(d.lastPrune) < d.window {
		return
	}
	d.lastPrune = now
	cutoff := now.Add(-d.window)
	for key, last := range d.seen {
		if last.Before(cutoff) {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked signatures. Used by tests and the
// environment status endpoint.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
