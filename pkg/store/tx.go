/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v2"
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/modules"
)

// Tx is a store transaction. It implements modules.Tx, so collaborators can write through it.
// A Tx is not safe for concurrent use.
type Tx struct {
	txn   *badger.Txn
	hooks []func()
	done  bool
}

var _ modules.Tx = (*Tx)(nil)

func (tx *Tx) Get(key []byte) ([]byte, bool, error) {
	item, err := tx.txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	} else if err != nil {
		return nil, false, &storageError{op: sprintf("could not read key %q", printable(key)), err: err}
	}

	value, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, &storageError{op: sprintf("could not copy value of key %q", printable(key)), err: err}
	}
	return value, true, nil
}

func (tx *Tx) Set(key, value []byte) error {
	if err := tx.txn.Set(key, value); err != nil {
		return &storageError{op: sprintf("could not write key %q", printable(key)), err: err}
	}
	return nil
}

func (tx *Tx) Delete(key []byte) error {
	if err := tx.txn.Delete(key); err != nil {
		return &storageError{op: sprintf("could not delete key %q", printable(key)), err: err}
	}
	return nil
}

// Scan iterates over a snapshot of the matching entries taken before fn is first invoked,
// so fn may freely modify the store (including entries under the scanned prefix).
func (tx *Tx) Scan(prefix []byte, fn func(key, value []byte) error) error {
	type entry struct {
		key, value []byte
	}
	var entries []entry

	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			it.Close()
			return &storageError{op: sprintf("could not copy value of key %q", printable(item.Key())), err: err}
		}
		entries = append(entries, entry{key: item.KeyCopy(nil), value: value})
	}
	it.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			return err
		}
	}
	return nil
}

func (tx *Tx) OnCommit(hook func()) {
	tx.hooks = append(tx.hooks, hook)
}

// Commit commits the transaction and runs the commit hooks in registration order.
// It fails with ErrConflict if a concurrent transaction modified data read by this one.
func (tx *Tx) Commit() error {
	if tx.done {
		return errors.New("transaction already finished")
	}
	tx.done = true
	if err := tx.txn.Commit(); err != nil {
		return err
	}
	for _, hook := range tx.hooks {
		hook()
	}
	tx.hooks = nil
	return nil
}

// Discard drops all effects of the transaction. Discarding a committed transaction is a no-op.
func (tx *Tx) Discard() {
	tx.done = true
	tx.hooks = nil
	tx.txn.Discard()
}

// ================================================================================

func sprintf(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

func printable(key []byte) string {
	if len(key) > 48 {
		key = key[:48]
	}
	return fmt.Sprintf("%x", key)
}
