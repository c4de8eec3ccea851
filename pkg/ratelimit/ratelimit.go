// Package ratelimit implements the fixed-window, per-caller limiter that
// gates the Muso.AI search route. Counters live in a Store so the in-memory
// default can be replaced by a shared one (see pkg/db) when more than one
// process serves traffic.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"Music-Enrich-Go/pkg/metrics"
)

const (
	DefaultLimit  = 30
	DefaultWindow = time.Minute
)

// Window is the state of one caller's current window.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store persists windows. Acquire must be atomic per key: it starts a fresh
// window when none is active at now, otherwise increments the count unless
// that would exceed limit. A denied attempt leaves the stored count
// unchanged, so Count never exceeds limit.
type Store interface {
	Acquire(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error)
	// Peek returns the active window for key, if any, without modifying it.
	Peek(ctx context.Context, key string, now time.Time) (Window, bool, error)
	// Prune drops windows that ended at or before now and reports how many.
	Prune(ctx context.Context, now time.Time) (int, error)
}

// Decision is the outcome of TryAcquire.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetTime time.Time
}

// Usage is a read-only view of a caller's window.
type Usage struct {
	Limit     int
	Count     int
	Remaining int
	ResetTime time.Time
}

// Limiter allows at most Limit attempts per key within each window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
	// Now is the clock; tests replace it.
	Now func() time.Time
}

// New returns a limiter over store. Non-positive limit or window select the
// defaults.
func New(store Store, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{store: store, limit: limit, window: window, Now: time.Now}
}

func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) Window() time.Duration { return l.window }

// Key builds a caller key such as "muso_search_203.0.113.7".
func Key(prefix, caller string) string {
	return prefix + "_" + caller
}

// TryAcquire consumes one slot for key if one is left.
func (l *Limiter) TryAcquire(ctx context.Context, key string) (Decision, error) {
	w, allowed, err := l.store.Acquire(ctx, key, l.limit, l.window, l.Now())
	if err != nil {
		return Decision{}, err
	}
	metrics.ObserveDecision(allowed)
	d := Decision{Allowed: allowed, Limit: l.limit, ResetTime: w.ResetAt}
	if allowed {
		d.Remaining = l.limit - w.Count
	}
	return d, nil
}

// Status reports key's usage without consuming a slot. A caller with no
// active window has its full allowance and a window that would start now.
func (l *Limiter) Status(ctx context.Context, key string) (Usage, error) {
	now := l.Now()
	w, ok, err := l.store.Peek(ctx, key, now)
	if err != nil {
		return Usage{}, err
	}
	if !ok {
		return Usage{Limit: l.limit, Remaining: l.limit, ResetTime: now.Add(l.window)}, nil
	}
	remaining := l.limit - w.Count
	if remaining < 0 {
		remaining = 0
	}
	return Usage{Limit: l.limit, Count: w.Count, Remaining: remaining, ResetTime: w.ResetAt}, nil
}

// Prune removes expired windows from the store.
func (l *Limiter) Prune(ctx context.Context) (int, error) {
	return l.store.Prune(ctx, l.Now())
}

// MemoryStore keeps windows in a map. It is process-local; a restart resets
// every counter.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]Window
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: map[string]Window{}}
}

func (m *MemoryStore) Acquire(_ context.Context, key string, limit int, window time.Duration, now time.Time) (Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		w = Window{Count: 1, ResetAt: now.Add(window)}
		m.windows[key] = w
		return w, true, nil
	}
	if w.Count >= limit {
		return w, false, nil
	}
	w.Count++
	m.windows[key] = w
	return w, true, nil
}

func (m *MemoryStore) Peek(_ context.Context, key string, now time.Time) (Window, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.ResetAt) {
		return Window{}, false, nil
	}
	return w, true, nil
}

func (m *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, w := range m.windows {
		if !now.Before(w.ResetAt) {
			delete(m.windows, k)
			n++
		}
	}
	return n, nil
}
