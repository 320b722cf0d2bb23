/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	t "github.com/e2ee/protoengine/pkg/types"
)

// Waiter is a deferred waiter: once the trust level of Owned in Contact reaches Target,
// a local message of kind Kind must be delivered to Instance.
//
// Waiters are stored under a key starting with (Owned, Contact), so that all waiters affected by
// a trust level change are found with a single prefix scan. A secondary index keyed by instance
// allows removing the waiters of an instance.
type Waiter struct {
	Owned    t.Identity
	Contact  t.Identity
	Target   t.TrustLevel
	Kind     t.MessageKind
	Instance t.InstanceID
}

func (w *Waiter) String() string {
	return fmt.Sprintf("waiter(%s -> %s >= %d, kind %d, %s)", w.Owned, w.Contact, w.Target, w.Kind, w.Instance)
}

type waiterRecord struct {
	Owned    []byte `cbor:"1,keyasint"`
	Contact  []byte `cbor:"2,keyasint"`
	Target   int64  `cbor:"3,keyasint"`
	Kind     uint32 `cbor:"4,keyasint"`
	Protocol uint32 `cbor:"5,keyasint"`
	UID      []byte `cbor:"6,keyasint"`
}

func (w *Waiter) record() waiterRecord {
	return waiterRecord{
		Owned:    w.Owned.Bytes(),
		Contact:  w.Contact.Bytes(),
		Target:   int64(w.Target),
		Kind:     uint32(w.Kind),
		Protocol: uint32(w.Instance.Protocol),
		UID:      w.Instance.UID[:],
	}
}

func waiterFromRecord(rec *waiterRecord) (*Waiter, error) {
	uid, err := t.UIDFromBytes(rec.UID)
	if err != nil {
		return nil, err
	}
	owned := t.IdentityFromBytes(rec.Owned)
	return &Waiter{
		Owned:    owned,
		Contact:  t.IdentityFromBytes(rec.Contact),
		Target:   t.TrustLevel(rec.Target),
		Kind:     t.MessageKind(rec.Kind),
		Instance: t.InstanceID{Protocol: t.ProtocolKind(rec.Protocol), UID: uid, Owned: owned},
	}, nil
}

// Primary key: owned, contact, instance, target, kind.
func waiterKey(w *Waiter) ([]byte, error) {
	return newKey(waiterPrefix).
		identity(w.Owned).identity(w.Contact).
		uint32(uint32(w.Instance.Protocol)).uid(w.Instance.UID).
		trust(w.Target).uint32(uint32(w.Kind)).
		bytes()
}

func waiterContactPrefix(owned, contact t.Identity) ([]byte, error) {
	return newKey(waiterPrefix).identity(owned).identity(contact).bytes()
}

// Secondary key: instance, contact, target, kind. The value is the primary key.
func waiterIndexKey(w *Waiter) ([]byte, error) {
	return newKey(waiterIndexPrefix).
		uint32(uint32(w.Instance.Protocol)).uid(w.Instance.UID).identity(w.Owned).
		identity(w.Contact).trust(w.Target).uint32(uint32(w.Kind)).
		bytes()
}

func waiterInstancePrefix(id t.InstanceID) ([]byte, error) {
	return newKey(waiterIndexPrefix).uint32(uint32(id.Protocol)).uid(id.UID).identity(id.Owned).bytes()
}

func waiterInstanceContactPrefix(id t.InstanceID, contact t.Identity) ([]byte, error) {
	return newKey(waiterIndexPrefix).uint32(uint32(id.Protocol)).uid(id.UID).identity(id.Owned).identity(contact).bytes()
}

// InsertWaiter stores a deferred waiter. Inserting an identical waiter twice stores it once.
// Callers replacing a waiter must delete the stale one first (see DeleteWaiters).
func (tx *Tx) InsertWaiter(w *Waiter) error {
	if w.Instance.Owned != w.Owned {
		return errors.Errorf("waiter owned by %s for an instance of %s", w.Owned, w.Instance.Owned)
	}
	if w.Contact.IsEmpty() {
		return errors.New("waiter without contact")
	}

	key, err := waiterKey(w)
	if err != nil {
		return err
	}
	indexKey, err := waiterIndexKey(w)
	if err != nil {
		return err
	}
	value, err := cbor.Marshal(w.record())
	if err != nil {
		return errors.WithMessage(err, "could not encode waiter")
	}

	if err := tx.Set(key, value); err != nil {
		return err
	}
	return tx.Set(indexKey, key)
}

// DeleteWaiters removes all waiters of an instance watching contact.
func (tx *Tx) DeleteWaiters(id t.InstanceID, contact t.Identity) error {
	prefix, err := waiterInstanceContactPrefix(id, contact)
	if err != nil {
		return err
	}
	return tx.deleteIndexed(prefix)
}

// DeleteWaitersOfInstance removes all waiters of an instance.
func (tx *Tx) DeleteWaitersOfInstance(id t.InstanceID) error {
	prefix, err := waiterInstancePrefix(id)
	if err != nil {
		return err
	}
	return tx.deleteIndexed(prefix)
}

func (tx *Tx) deleteIndexed(indexPrefix []byte) error {
	return tx.Scan(indexPrefix, func(indexKey, primaryKey []byte) error {
		if err := tx.Delete(primaryKey); err != nil {
			return err
		}
		return tx.Delete(indexKey)
	})
}

// DeleteWaiter removes exactly one waiter.
func (tx *Tx) DeleteWaiter(w *Waiter) error {
	key, err := waiterKey(w)
	if err != nil {
		return err
	}
	indexKey, err := waiterIndexKey(w)
	if err != nil {
		return err
	}
	if err := tx.Delete(key); err != nil {
		return err
	}
	return tx.Delete(indexKey)
}

// WaitersSatisfiedBy returns the waiters of owned watching contact whose target is at most level.
func (tx *Tx) WaitersSatisfiedBy(owned, contact t.Identity, level t.TrustLevel) ([]*Waiter, error) {
	prefix, err := waiterContactPrefix(owned, contact)
	if err != nil {
		return nil, err
	}

	var satisfied []*Waiter
	err = tx.scanWaiters(prefix, func(w *Waiter) error {
		if w.Target <= level {
			satisfied = append(satisfied, w)
		}
		return nil
	})
	return satisfied, err
}

// WaitersOf returns all waiters of an instance.
func (tx *Tx) WaitersOf(id t.InstanceID) ([]*Waiter, error) {
	prefix, err := waiterInstancePrefix(id)
	if err != nil {
		return nil, err
	}

	var waiters []*Waiter
	err = tx.Scan(prefix, func(_, primaryKey []byte) error {
		value, found, err := tx.Get(primaryKey)
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("dangling waiter index entry %x", primaryKey)
		}
		w, err := decodeWaiter(value)
		if err != nil {
			return err
		}
		waiters = append(waiters, w)
		return nil
	})
	return waiters, err
}

// Waiters calls fn for every stored waiter.
func (tx *Tx) Waiters(fn func(w *Waiter) error) error {
	return tx.scanWaiters(waiterPrefix, fn)
}

func (tx *Tx) scanWaiters(prefix []byte, fn func(w *Waiter) error) error {
	return tx.Scan(prefix, func(_, value []byte) error {
		w, err := decodeWaiter(value)
		if err != nil {
			return err
		}
		return fn(w)
	})
}

func decodeWaiter(value []byte) (*Waiter, error) {
	var rec waiterRecord
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return nil, errors.WithMessage(err, "corrupt waiter record")
	}
	return waiterFromRecord(&rec)
}
