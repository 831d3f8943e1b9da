// File: internal/store/session.go
package store

import (
	"context"
	"sync"
	"time"
)

// Session is the in-memory, process-lifetime key/value store. It mirrors the
// browser's session-scoped storage: token copies live here so they never
// outlive the agent.
type Session struct {
	mu      sync.RWMutex
	entries map[string]sessionEntry
}

type sessionEntry struct {
	value  []byte
	expiry int64 // epoch ms; 0 means no expiry
}

var _ KV = (*Session)(nil)

// NewSession creates an empty session store.
func NewSession() *Session {
	return &Session{entries: make(map[string]sessionEntry)}
}

// Get implements KV. Expired entries are deleted on read.
func (s *Session) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, ErrNoRecord
	}
	if e.expiry != 0 && e.expiry < time.Now().UnixMilli() {
		delete(s.entries, key)
		return nil, ErrNoRecord
	}
	// Copy out so callers cannot mutate the stored slice.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set implements KV.
func (s *Session) Set(_ context.Context, key string, value []byte) error {
	return s.put(key, value, 0)
}

// SetWithExpiry implements KV.
func (s *Session) SetWithExpiry(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.put(key, value, time.Now().Add(ttl).UnixMilli())
}

func (s *Session) put(key string, value []byte, expiry int64) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.entries[key] = sessionEntry{value: stored, expiry: expiry}
	s.mu.Unlock()
	return nil
}

// Remove implements KV.
func (s *Session) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// SweepExpired implements KV.
func (s *Session) SweepExpired(_ context.Context) (int, error) {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, e := range s.entries {
		if e.expiry != 0 && e.expiry < now {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close implements KV.
func (s *Session) Close() error { return nil }
