package store

import (
	"context"
	"sync"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// staleWindows is the number of idle windows after which a bucket is swept.
const staleWindows = 3

// bucket is one rate-limit window counter. All mutation happens under its own
// mutex, so buckets for different keys never contend with each other.
type bucket struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	limit       int
	window      time.Duration
}

// tryConsume performs the reset-check-increment sequence as one atomic step.
func (b *bucket) tryConsume(now time.Time, limit int, window time.Duration) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Policy values follow the caller so limit changes apply immediately.
	b.limit = limit
	b.window = window

	if now.Sub(b.windowStart) >= b.window {
		b.count = 0
		b.windowStart = now
	}

	reset := b.window - now.Sub(b.windowStart)
	if reset < time.Second {
		reset = time.Second
	}

	if b.count >= b.limit {
		return Result{Allowed: false, Remaining: 0, Reset: reset}
	}

	b.count++
	return Result{Allowed: true, Remaining: b.limit - b.count, Reset: reset}
}

// stale reports whether the bucket has seen no window activity for
// staleWindows full windows.
func (b *bucket) stale(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return now.Sub(b.windowStart) > time.Duration(staleWindows)*b.window
}

// Memory is an in-memory implementation of Store.
// Suitable for single-instance deployments and development.
type Memory struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	stopCh  chan struct{}
}

// NewMemory creates a new in-memory store with periodic sweeping of stale
// buckets (no activity for three full windows).
func NewMemory() *Memory {
	m := &Memory{
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}

	go m.sweep(defaultSweepInterval)
	return m
}

func (m *Memory) TryConsume(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()

	m.mu.RLock()
	b, ok := m.buckets[key]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		b, ok = m.buckets[key]
		if !ok {
			b = &bucket{windowStart: now, limit: limit, window: window}
			m.buckets[key] = b
		}
		m.mu.Unlock()
	}

	return b.tryConsume(now, limit, window), nil
}

func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

// sweep removes stale buckets on a fixed period. Removal is best-effort: a key
// that becomes active again after removal simply gets a fresh bucket. The map
// write lock is held only for the deletes, never across bucket mutation, so
// request-path increments on unrelated keys are not blocked.
func (m *Memory) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			var staleKeys []string

			m.mu.RLock()
			for key, b := range m.buckets {
				if b.stale(now) {
					staleKeys = append(staleKeys, key)
				}
			}
			m.mu.RUnlock()

			if len(staleKeys) > 0 {
				m.mu.Lock()
				for _, key := range staleKeys {
					delete(m.buckets, key)
				}
				m.mu.Unlock()
			}
		case <-m.stopCh:
			return
		}
	}
}
