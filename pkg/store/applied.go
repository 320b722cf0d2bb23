/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import "encoding/binary"

// Applied markers record which journal entries have been dispatched.
// A marker is written in the transaction of the step that consumed the entry,
// so the entry is applied if and only if its marker exists.

func appliedKey(index uint64) []byte {
	key, _ := newKey(appliedPrefix).uint64(index).bytes()
	return key
}

// MarkApplied records that the journal entry with the given index has been dispatched.
func (tx *Tx) MarkApplied(index uint64) error {
	return tx.Set(appliedKey(index), []byte{1})
}

// IsApplied returns true if MarkApplied was committed for the given index.
func (tx *Tx) IsApplied(index uint64) (bool, error) {
	_, found, err := tx.Get(appliedKey(index))
	return found, err
}

// ClearAppliedBelow removes the markers of all indexes lower than index.
func (tx *Tx) ClearAppliedBelow(index uint64) error {
	return tx.Scan(appliedPrefix, func(key, _ []byte) error {
		if binary.BigEndian.Uint64(key[len(appliedPrefix):]) >= index {
			return nil
		}
		return tx.Delete(key)
	})
}
