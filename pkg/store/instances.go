/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	t "github.com/e2ee/protoengine/pkg/types"
)

// Instance is the persisted record of a protocol instance.
type Instance struct {
	ID        t.InstanceID
	StateKind t.StateKind
	Payload   []byte

	// False for instances returned by GetOrCreateInitial that have never been saved.
	Persisted bool
}

type instanceRecord struct {
	StateKind uint32 `cbor:"1,keyasint"`
	Payload   []byte `cbor:"2,keyasint"`
}

// Instance returns the instance with the given ID, or nil if there is none.
func (tx *Tx) Instance(id t.InstanceID) (*Instance, error) {
	key, err := instanceKey(id)
	if err != nil {
		return nil, err
	}
	value, found, err := tx.Get(key)
	if err != nil || !found {
		return nil, err
	}

	var rec instanceRecord
	if err := cbor.Unmarshal(value, &rec); err != nil {
		return nil, errors.WithMessagef(err, "corrupt instance record %s", id)
	}
	return &Instance{ID: id, StateKind: t.StateKind(rec.StateKind), Payload: rec.Payload, Persisted: true}, nil
}

// GetOrCreateInitial returns the instance with the given ID or, if there is none,
// a fresh instance in the given initial state.
// The fresh instance is not written: it only becomes durable once a step saves its successor state,
// so messages that match no step never leave records behind.
func (tx *Tx) GetOrCreateInitial(id t.InstanceID, initialKind t.StateKind, initialPayload []byte) (*Instance, error) {
	inst, err := tx.Instance(id)
	if err != nil || inst != nil {
		return inst, err
	}
	return &Instance{ID: id, StateKind: initialKind, Payload: initialPayload}, nil
}

// SaveInstance overwrites the state of an instance, creating it if necessary.
func (tx *Tx) SaveInstance(id t.InstanceID, kind t.StateKind, payload []byte) error {
	key, err := instanceKey(id)
	if err != nil {
		return err
	}
	value, err := cbor.Marshal(instanceRecord{StateKind: uint32(kind), Payload: payload})
	if err != nil {
		return errors.WithMessage(err, "could not encode instance record")
	}
	return tx.Set(key, value)
}

// DeleteInstance removes an instance together with all its deferred waiters.
func (tx *Tx) DeleteInstance(id t.InstanceID) error {
	key, err := instanceKey(id)
	if err != nil {
		return err
	}
	if err := tx.Delete(key); err != nil {
		return err
	}
	return tx.DeleteWaitersOfInstance(id)
}

// Instances calls fn for every persisted instance, ordered by protocol kind.
func (tx *Tx) Instances(fn func(inst *Instance) error) error {
	return tx.Scan(instancePrefix, func(key, value []byte) error {
		id, err := parseInstanceKey(key)
		if err != nil {
			return errors.WithMessage(err, "corrupt instance key")
		}
		var rec instanceRecord
		if err := cbor.Unmarshal(value, &rec); err != nil {
			return errors.WithMessagef(err, "corrupt instance record %s", id)
		}
		return fn(&Instance{ID: id, StateKind: t.StateKind(rec.StateKind), Payload: rec.Payload, Persisted: true})
	})
}
