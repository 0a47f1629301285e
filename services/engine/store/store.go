// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists debate sessions.
//
// Two implementations are provided: an in-memory store for tests and
// single-process development, and a BadgerDB-backed store for durable
// local persistence. Both enforce the same optimistic-concurrency
// contract on appends.
package store

import (
	"context"
	"errors"

	"github.com/sparlab/arena/services/engine/datatypes"
)

var (
	// ErrNotFound indicates the session id does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrExists indicates a create collided with an existing id.
	ErrExists = errors.New("session already exists")

	// ErrConflict indicates an append lost a compare-and-swap race:
	// the transcript grew between the caller's read and its write.
	ErrConflict = errors.New("session modified concurrently")

	// ErrCompleted indicates a mutation on a completed session.
	ErrCompleted = errors.New("session already completed")
)

// SessionStore is the persistence contract for debate sessions.
//
// # Thread Safety
//
//	Implementations must be safe for concurrent use.
type SessionStore interface {
	// Create persists a new session. Returns ErrExists when the id is
	// already taken.
	Create(ctx context.Context, session *datatypes.Session) error

	// Get returns a deep copy of the session, or ErrNotFound.
	Get(ctx context.Context, id string) (*datatypes.Session, error)

	// AppendMessages appends messages to the transcript if and only if
	// the current message count equals expectedLen. Returns ErrConflict
	// when another writer got there first, ErrCompleted when the
	// session is no longer active, and the updated session on success.
	AppendMessages(ctx context.Context, id string, expectedLen int,
		messages ...datatypes.Message) (*datatypes.Session, error)

	// SetStatus transitions the session status. The transition is
	// one-way: a completed session never becomes active again.
	SetStatus(ctx context.Context, id string, status datatypes.SessionStatus) error

	// SetScore records the judge verdict exactly once. If a score is
	// already present the stored score is returned unchanged, so
	// concurrent judges converge on one verdict.
	SetScore(ctx context.Context, id string, score *datatypes.Score) (*datatypes.Score, error)

	// Close releases any underlying resources.
	Close() error
}
