/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

// Tx is the transaction a step executes in.
// Every store and collaborator mutation performed on behalf of one step goes through the same Tx,
// so that either all of them become visible or none does.
//
// Keys and values passed to and returned from Tx must not be modified afterwards.
type Tx interface {

	// Get returns the value stored under key. found is false if there is no such key.
	Get(key []byte) (value []byte, found bool, err error)

	// Set stores value under key, overwriting any previous value.
	Set(key, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key []byte) error

	// Scan calls fn for every key with the given prefix, in ascending key order.
	// Scanning stops at the first error returned by fn, which is then returned by Scan.
	Scan(prefix []byte, fn func(key, value []byte) error) error

	// OnCommit registers a function invoked after the transaction commits successfully.
	// Hooks of transactions that are discarded or fail to commit are never invoked.
	OnCommit(hook func())
}
