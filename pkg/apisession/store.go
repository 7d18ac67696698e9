// Package apisession provides a generic, thread-safe store for per-credential
// API state. Each credential token maps to one value, created on first use
// and evicted after a period of inactivity.
package apisession

import (
	"sync"
	"time"
)

// cleanupInterval is how often Get() triggers lazy eviction of expired entries.
const cleanupInterval = 100

type entry[T any] struct {
	value      *T
	lastAccess time.Time
}

// Store is a typed, thread-safe session store.
type Store[T any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[T]
	ttl      time.Duration
	newFn    func(id string) *T
	onEvict  func(id string, v *T)
	getCalls int
}

// New creates a Store that evicts sessions inactive longer than ttl.
// newFn is called with the session ID the first time it is seen.
func New[T any](ttl time.Duration, newFn func(id string) *T) *Store[T] {
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		ttl:     ttl,
		newFn:   newFn,
	}
}

// OnEvict registers a hook that runs, outside the store lock, for every value
// removed by Delete, Cleanup or Close.
func (s *Store[T]) OnEvict(fn func(id string, v *T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Get returns the state for the given session, creating it if needed.
// Each call refreshes the session's last-access timestamp.
func (s *Store[T]) Get(id string) *T {
	s.mu.Lock()
	s.getCalls++
	var evicted map[string]*T
	if s.getCalls%cleanupInterval == 0 {
		evicted = s.cleanupLocked()
	}

	e, ok := s.entries[id]
	if !ok {
		e = &entry[T]{value: s.newFn(id)}
		s.entries[id] = e
	}
	e.lastAccess = time.Now()
	hook := s.onEvict
	s.mu.Unlock()

	notify(hook, evicted)
	return e.value
}

// Lookup returns the state for an existing session without creating one.
func (s *Store[T]) Lookup(id string) (*T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastAccess = time.Now()
	return e.value, true
}

// Delete removes a session. It reports whether the session existed.
func (s *Store[T]) Delete(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	hook := s.onEvict
	s.mu.Unlock()

	if ok && hook != nil {
		hook(id, e.value)
	}
	return ok
}

// Cleanup evicts all sessions that have been inactive longer than the TTL.
func (s *Store[T]) Cleanup() int {
	s.mu.Lock()
	evicted := s.cleanupLocked()
	hook := s.onEvict
	s.mu.Unlock()

	notify(hook, evicted)
	return len(evicted)
}

func (s *Store[T]) cleanupLocked() map[string]*T {
	cutoff := time.Now().Add(-s.ttl)
	var evicted map[string]*T
	for id, e := range s.entries {
		if e.lastAccess.Before(cutoff) {
			if evicted == nil {
				evicted = make(map[string]*T)
			}
			evicted[id] = e.value
			delete(s.entries, id)
		}
	}
	return evicted
}

// Close evicts every session.
func (s *Store[T]) Close() {
	s.mu.Lock()
	evicted := make(map[string]*T, len(s.entries))
	for id, e := range s.entries {
		evicted[id] = e.value
	}
	s.entries = make(map[string]*entry[T])
	hook := s.onEvict
	s.mu.Unlock()

	notify(hook, evicted)
}

func notify[T any](hook func(string, *T), evicted map[string]*T) {
	if hook == nil {
		return
	}
	for id, v := range evicted {
		hook(id, v)
	}
}

// Len returns the number of active sessions.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
