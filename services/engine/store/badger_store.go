// Copyright (C) 2025 Sparlab (oss@sparlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/sparlab/arena/services/engine/datatypes"
)

const sessionKeyPrefix = "session:"

// BadgerStore persists sessions in an embedded BadgerDB. Sessions are
// stored as JSON under "session:<id>". Concurrency control rides on
// Badger's serializable transactions: the expectedLen check and the
// write happen inside one txn, and a commit conflict surfaces as
// ErrConflict just like a length mismatch does.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig holds configuration for the session database.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory
	// is true.
	Path string

	// InMemory disables disk persistence. Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens the session database.
//
// # Description
//
//	Opens a BadgerDB at the configured path, or in memory if InMemory
//	is true. Creates the directory if it doesn't exist. Caller must
//	call Close() when done.
//
// # Thread Safety
//
//	The returned store is safe for concurrent use.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreInMemory opens an in-memory session database for
// testing. Data is lost when closed.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStore(BadgerConfig{InMemory: true})
}

func sessionKey(id string) []byte {
	return []byte(sessionKeyPrefix + id)
}

func decodeSession(item *badger.Item) (*datatypes.Session, error) {
	var session datatypes.Session
	err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &session)
	})
	if err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (b *BadgerStore) getInTxn(txn *badger.Txn, id string) (*datatypes.Session, error) {
	item, err := txn.Get(sessionKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", id, err)
	}
	return decodeSession(item)
}

func (b *BadgerStore) setInTxn(txn *badger.Txn, session *datatypes.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", session.ID, err)
	}
	return txn.Set(sessionKey(session.ID), payload)
}

// update runs fn inside a read-write transaction and maps commit
// conflicts to ErrConflict.
func (b *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}

	txn := b.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("commit session txn: %w", err)
	}
	return nil
}

// Create implements SessionStore.
func (b *BadgerStore) Create(ctx context.Context, session *datatypes.Session) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(sessionKey(session.ID))
		if err == nil {
			return ErrExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check session %s: %w", session.ID, err)
		}
		return b.setInTxn(txn, session)
	})
}

// Get implements SessionStore.
func (b *BadgerStore) Get(ctx context.Context, id string) (*datatypes.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var session *datatypes.Session
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = b.getInTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// AppendMessages implements SessionStore.
func (b *BadgerStore) AppendMessages(ctx context.Context, id string, expectedLen int,
	messages ...datatypes.Message) (*datatypes.Session, error) {

	var updated *datatypes.Session
	err := b.update(ctx, func(txn *badger.Txn) error {
		session, err := b.getInTxn(txn, id)
		if err != nil {
			return err
		}
		if session.Status != datatypes.StatusActive {
			return ErrCompleted
		}
		if len(session.Messages) != expectedLen {
			return ErrConflict
		}
		session.Messages = append(session.Messages, messages...)
		if err := b.setInTxn(txn, session); err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStatus implements SessionStore.
func (b *BadgerStore) SetStatus(ctx context.Context, id string, status datatypes.SessionStatus) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		session, err := b.getInTxn(txn, id)
		if err != nil {
			return err
		}
		if session.Status == datatypes.StatusCompleted && status == datatypes.StatusActive {
			return nil
		}
		if session.Status == status {
			return nil
		}
		session.Status = status
		return b.setInTxn(txn, session)
	})
}

// SetScore implements SessionStore.
func (b *BadgerStore) SetScore(ctx context.Context, id string, score *datatypes.Score) (*datatypes.Score, error) {
	var stored *datatypes.Score
	err := b.update(ctx, func(txn *badger.Txn) error {
		session, err := b.getInTxn(txn, id)
		if err != nil {
			return err
		}
		if session.Score != nil {
			stored = session.Score
			return nil
		}
		session.Score = score
		if err := b.setInTxn(txn, session); err != nil {
			return err
		}
		stored = session.Score
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Close implements SessionStore.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

var _ SessionStore = (*BadgerStore)(nil)
