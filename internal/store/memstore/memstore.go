// Package memstore provides a mutex-guarded in-memory store implementation.
//
// It backs tests and single-node deployments where an external store is not
// worth operating. Expiry is lazy: expired entries are dropped on access.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vendloc/vendloc/internal/store"
)

type entry struct {
	value     string
	expiresAt time.Time
}

type counter struct {
	count     int64
	expiresAt time.Time
}

// Store is an in-memory store.Store implementation.
type Store struct {
	mu       sync.Mutex
	values   map[string]entry
	sets     map[string]map[string]struct{}
	counters map[string]counter

	// Now is the clock used for expiry checks. Tests may override it.
	Now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		values:   make(map[string]entry),
		sets:     make(map[string]map[string]struct{}),
		counters: make(map[string]counter),
		Now:      time.Now,
	}
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the value at key, or store.ErrNotFound.
func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok {
		return "", store.ErrNotFound
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.values, key)
		return "", store.ErrNotFound
	}
	return e.value, nil
}

// Set writes value at key with an optional ttl.
func (s *Store) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.values[key] = e
	return nil
}

// Delete removes keys across values, sets, and counters.
func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.counters, key)
	}
	return nil
}

// SetAdd adds members to the set at key.
func (s *Store) SetAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, member := range members {
		set[member] = struct{}{}
	}
	return nil
}

// SetRemove removes members from the set at key.
func (s *Store) SetRemove(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if !ok {
		return nil
	}
	for _, member := range members {
		delete(set, member)
	}
	if len(set) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// SetMembers returns all members of the set at key.
func (s *Store) SetMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

// Incr increments the counter at key, stamping the window expiry when the
// counter starts a fresh window.
func (s *Store) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if ok && !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
		ok = false
	}
	if !ok {
		c = counter{}
	}
	c.count++
	if c.count == 1 && window > 0 {
		c.expiresAt = now.Add(window)
	}
	s.counters[key] = c
	return c.count, nil
}

// Scan returns all live keys with the given prefix.
func (s *Store) Scan(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for key, e := range s.values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			continue
		}
		keys = append(keys, key)
	}
	for key := range s.sets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	for key, c := range s.counters {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !c.expiresAt.IsZero() && !now.Before(c.expiresAt) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
