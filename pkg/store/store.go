/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package store is the durable substrate of the protocol engine.
// It keeps protocol instances, deferred waiters and journal markers in a badger database.
//
// All access goes through transactions. Badger transactions are serializable snapshots with optimistic
// conflict detection: when two transactions touch the same protocol instance concurrently,
// the one committing second fails with ErrConflict and must be retried from scratch,
// at which point it observes the state persisted by the winner.
package store

import (
	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/logging"
)

// ErrConflict is returned by Commit when a concurrent transaction modified data read by this one.
var ErrConflict = badger.ErrConflict

// IsConflict returns true if err is (or wraps) ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

// ErrStorage is matched (with errors.Is) by every error the backing database returns from a Tx access.
var ErrStorage = errors.New("storage failure")

type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string        { return e.op + ": " + e.err.Error() }
func (e *storageError) Unwrap() error        { return e.err }
func (e *storageError) Is(target error) bool { return target == ErrStorage }

// Options configure how a Store is opened.
type Options struct {

	// Directory of the database. The database is kept in memory if empty.
	Dir string

	// Sync every committed transaction to disk before Commit returns.
	SyncWrites bool

	// Receives badger's own log messages. Defaults to logging.NilLogger.
	Logger logging.Logger
}

type Store struct {
	db *badger.DB
}

// Open opens (or creates) a store.
func Open(opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NilLogger
	}

	var badgerOpts badger.Options
	if opts.Dir == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		badgerOpts = badger.DefaultOptions(opts.Dir).WithSyncWrites(opts.SyncWrites).WithTruncate(true)
	}
	badgerOpts = badgerOpts.WithLogger(&badgerLogger{logger: logging.Decorate(logger, "badger: ")})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.WithMessage(err, "could not open backing db")
	}

	return &Store{
		db: db,
	}, nil
}

// Begin starts a transaction. The caller must either Commit or Discard it.
func (s *Store) Begin(update bool) *Tx {
	return &Tx{txn: s.db.NewTransaction(update)}
}

// Update runs fn in a read-write transaction and commits it if fn returns nil.
// Commit hooks registered during fn run after a successful commit.
func (s *Store) Update(fn func(tx *Tx) error) error {
	tx := s.Begin(true)
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Tx) error) error {
	tx := s.Begin(false)
	defer tx.Discard()
	return fn(tx)
}

// Sync flushes all committed writes to disk.
func (s *Store) Sync() error {
	return s.db.Sync()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ================================================================================

// badgerLogger forwards badger's printf-style log messages.
type badgerLogger struct {
	logger logging.Logger
}

func (bl *badgerLogger) Errorf(format string, args ...interface{}) {
	bl.logger.Log(logging.LevelError, sprintf(format, args...))
}

func (bl *badgerLogger) Warningf(format string, args ...interface{}) {
	bl.logger.Log(logging.LevelWarn, sprintf(format, args...))
}

func (bl *badgerLogger) Infof(format string, args ...interface{}) {
	bl.logger.Log(logging.LevelDebug, sprintf(format, args...))
}

func (bl *badgerLogger) Debugf(format string, args ...interface{}) {
	bl.logger.Log(logging.LevelDebug, sprintf(format, args...))
}
