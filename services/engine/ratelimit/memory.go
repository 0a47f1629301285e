// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery bounds how often the opportunistic cleanup pass runs.
// Expired entries are reclaimed lazily during Incr calls, so no
// background goroutine is required to keep the map from growing without
// bound.
const sweepEvery = 1 * time.Minute

// entry is one key's counter inside the current window.
type entry struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the in-process Store implementation.
//
// State is a single mutex-guarded map. This is the only mutable shared
// state the engine owns; it is NOT shared across process instances, so a
// multi-instance deployment enforces each ceiling per instance. Use
// RedisStore when cross-instance consistency is required.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Incr implements Store.
//
// On first observation of key, or when the key's window has elapsed, the
// entry is reinitialized to a fresh window before counting. At most once
// per sweepEvery, the call also reclaims every expired entry in the map
// (amortized cleanup, no dedicated sweeper thread).
func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) >= sweepEvery {
		s.sweepLocked(now)
		s.lastSweep = now
	}

	e, ok := s.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{resetAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++

	return e.count, e.resetAt, nil
}

// sweepLocked removes expired entries. Caller holds the mutex.
func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		if !now.Before(e.resetAt) {
			delete(s.entries, key)
		}
	}
}

// Len returns the number of live entries. Exposed for tests and the
// metrics collector.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)
