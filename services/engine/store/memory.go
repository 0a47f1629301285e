// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sync"

	"github.com/sparlab/arena/services/engine/datatypes"
)

// MemoryStore keeps sessions in a process-local map. Intended for
// tests and development; data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.Session
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*datatypes.Session)}
}

// Create implements SessionStore.
func (m *MemoryStore) Create(_ context.Context, session *datatypes.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.ID]; ok {
		return ErrExists
	}
	m.sessions[session.ID] = session.Clone()
	return nil
}

// Get implements SessionStore.
func (m *MemoryStore) Get(_ context.Context, id string) (*datatypes.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return session.Clone(), nil
}

// AppendMessages implements SessionStore.
func (m *MemoryStore) AppendMessages(_ context.Context, id string, expectedLen int,
	messages ...datatypes.Message) (*datatypes.Session, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if session.Status != datatypes.StatusActive {
		return nil, ErrCompleted
	}
	if len(session.Messages) != expectedLen {
		return nil, ErrConflict
	}
	session.Messages = append(session.Messages, messages...)
	return session.Clone(), nil
}

// SetStatus implements SessionStore.
func (m *MemoryStore) SetStatus(_ context.Context, id string, status datatypes.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	// One-way transition.
	if session.Status == datatypes.StatusCompleted && status == datatypes.StatusActive {
		return nil
	}
	session.Status = status
	return nil
}

// SetScore implements SessionStore.
func (m *MemoryStore) SetScore(_ context.Context, id string, score *datatypes.Score) (*datatypes.Score, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if session.Score == nil {
		stored := *score
		session.Score = &stored
	}
	return session.Clone().Score, nil
}

// Close implements SessionStore.
func (m *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored sessions. Test helper.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

var _ SessionStore = (*MemoryStore)(nil)
