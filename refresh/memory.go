package refresh

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// Memory is an in-memory implementation of Store.
// Suitable for single-instance deployments and development.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	byUser  map[string]map[string]struct{}
	stopCh  chan struct{}
}

// NewMemory creates a new in-memory store with automatic cleanup of expired
// records.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]*memoryEntry),
		byUser:  make(map[string]map[string]struct{}),
		stopCh:  make(chan struct{}),
	}

	go m.cleanup()
	return m
}

func (m *Memory) Save(_ context.Context, rec *Record, ttl time.Duration) error {
	if ttl < minTTL {
		ttl = minTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[rec.TokenID] = &memoryEntry{rec: *rec, expiresAt: time.Now().Add(ttl)}
	ids, ok := m.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		m.byUser[rec.UserID] = ids
	}
	ids[rec.TokenID] = struct{}{}
	return nil
}

func (m *Memory) Get(_ context.Context, tokenID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(tokenID, time.Now())
	if entry == nil {
		return nil, ErrNotFound
	}
	rec := entry.rec
	return &rec, nil
}

func (m *Memory) Rotate(_ context.Context, tokenID, successorID string, now time.Time) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.live(tokenID, now)
	if entry == nil {
		return nil, ErrNotFound
	}

	snapshot := entry.rec

	if entry.rec.Revoked {
		if entry.rec.ReplacedByTokenID != "" {
			return &snapshot, ErrReused
		}
		return &snapshot, ErrRevoked
	}

	if !entry.rec.Valid(now) {
		m.remove(tokenID, entry.rec.UserID)
		return nil, ErrExpired
	}

	entry.rec.Revoked = true
	entry.rec.ReplacedByTokenID = successorID
	entry.expiresAt = now.Add(tombstoneTTL)
	return &snapshot, nil
}

func (m *Memory) Revoke(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revokeLocked(tokenID, time.Now())
	return nil
}

func (m *Memory) RevokeAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for tokenID := range m.byUser[userID] {
		m.revokeLocked(tokenID, now)
	}
	return nil
}

func (m *Memory) DeleteAllForUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for tokenID := range m.byUser[userID] {
		delete(m.entries, tokenID)
	}
	delete(m.byUser, userID)
	return nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var records []*Record
	for tokenID := range m.byUser[userID] {
		if entry := m.live(tokenID, now); entry != nil {
			rec := entry.rec
			records = append(records, &rec)
		}
	}
	return records, nil
}

func (m *Memory) Close() error {
	close(m.stopCh)
	return nil
}

// live returns the entry for tokenID if it has not passed its storage TTL.
// Expiry is also enforced lazily here so reads never observe reclaimed state
// between cleanup runs. Caller must hold m.mu.
func (m *Memory) live(tokenID string, now time.Time) *memoryEntry {
	entry, ok := m.entries[tokenID]
	if !ok {
		return nil
	}
	if now.After(entry.expiresAt) {
		m.remove(tokenID, entry.rec.UserID)
		return nil
	}
	return entry
}

// revokeLocked marks a record revoked and shortens its TTL to the tombstone
// window. Idempotent. Caller must hold m.mu.
func (m *Memory) revokeLocked(tokenID string, now time.Time) {
	entry := m.live(tokenID, now)
	if entry == nil || entry.rec.Revoked {
		return
	}
	entry.rec.Revoked = true
	entry.expiresAt = now.Add(tombstoneTTL)
}

func (m *Memory) remove(tokenID, userID string) {
	delete(m.entries, tokenID)
	if ids, ok := m.byUser[userID]; ok {
		delete(ids, tokenID)
		if len(ids) == 0 {
			delete(m.byUser, userID)
		}
	}
}

func (m *Memory) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for tokenID, entry := range m.entries {
				if now.After(entry.expiresAt) {
					m.remove(tokenID, entry.rec.UserID)
				}
			}
			m.mu.Unlock()
		case <-m.stopCh:
			return
		}
	}
}
