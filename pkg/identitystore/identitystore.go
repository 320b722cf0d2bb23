/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package identitystore is an identity delegate keeping the contacts, trust levels, devices and groups
// of the owned identities of one device. Its records live in the same transactional store
// as the protocol instances, so every mutation requested by a step commits or rolls back with the step.
package identitystore

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/modules"
	t "github.com/e2ee/protoengine/pkg/types"
)

// ErrUnknownGroup is returned by mutations of groups that are not known.
var ErrUnknownGroup = modules.ErrUnknownGroup

type contactRecord struct {
	TrustLevel int64 `cbor:"1,keyasint"`
	Active     bool  `cbor:"2,keyasint"`
}

// Store is the identity delegate of one device.
type Store struct {
	device t.UID
}

var _ modules.IdentityDelegate = (*Store)(nil)

// New returns the identity delegate of the given device.
func New(device t.UID) *Store {
	return &Store{device: device}
}

// Device returns the UID of the device the store belongs to.
func (s *Store) Device() t.UID {
	return s.device
}

// ================================================================================
// Devices and contacts
// ================================================================================

// AddOwnedDevice records a device of the owned identity. The current device may be added too.
func (s *Store) AddOwnedDevice(tx modules.Tx, owned t.Identity, device t.UID) error {
	k, err := deviceKey(owned, device)
	if err != nil {
		return err
	}
	return tx.Set(k, []byte{})
}

// OwnedDevices returns all recorded devices of the owned identity.
func (s *Store) OwnedDevices(tx modules.Tx, owned t.Identity) ([]t.UID, error) {
	prefix, err := key(devicePrefix, owned.Bytes())
	if err != nil {
		return nil, err
	}
	var devices []t.UID
	err = tx.Scan(prefix, func(k, _ []byte) error {
		part, err := lastPart(k, len(prefix))
		if err != nil {
			return err
		}
		device, err := t.UIDFromBytes(part)
		if err != nil {
			return err
		}
		devices = append(devices, device)
		return nil
	})
	return devices, err
}

func (s *Store) OtherOwnedDevices(tx modules.Tx, owned t.Identity) ([]t.UID, error) {
	devices, err := s.OwnedDevices(tx, owned)
	if err != nil {
		return nil, err
	}
	others := devices[:0]
	for _, d := range devices {
		if d != s.device {
			others = append(others, d)
		}
	}
	return others, nil
}

func (s *Store) contact(tx modules.Tx, owned, contact t.Identity) (*contactRecord, error) {
	k, err := contactKey(owned, contact)
	if err != nil {
		return nil, err
	}
	value, found, err := tx.Get(k)
	if err != nil || !found {
		return nil, err
	}
	rec := &contactRecord{}
	if err := cbor.Unmarshal(value, rec); err != nil {
		return nil, errors.WithMessagef(err, "corrupt contact record %s", contact)
	}
	return rec, nil
}

func (s *Store) saveContact(tx modules.Tx, owned, contact t.Identity, rec *contactRecord) error {
	k, err := contactKey(owned, contact)
	if err != nil {
		return err
	}
	value, err := cbor.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Set(k, value)
}

// AddContact records an active contact with an initial trust level. Existing contacts are overwritten.
func (s *Store) AddContact(tx modules.Tx, owned, contact t.Identity, level t.TrustLevel) error {
	return s.saveContact(tx, owned, contact, &contactRecord{TrustLevel: int64(level), Active: true})
}

// SetTrustLevel changes the trust level in a contact and returns whether it increased.
// Callers are expected to notify the runtime of increases once tx committed.
func (s *Store) SetTrustLevel(tx modules.Tx, owned, contact t.Identity, level t.TrustLevel) (bool, error) {
	rec, err := s.contact(tx, owned, contact)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, errors.Errorf("unknown contact %s", contact)
	}
	increased := int64(level) > rec.TrustLevel
	rec.TrustLevel = int64(level)
	return increased, s.saveContact(tx, owned, contact, rec)
}

// SetContactActive activates or revokes a contact.
func (s *Store) SetContactActive(tx modules.Tx, owned, contact t.Identity, active bool) error {
	rec, err := s.contact(tx, owned, contact)
	if err != nil {
		return err
	}
	if rec == nil {
		return errors.Errorf("unknown contact %s", contact)
	}
	rec.Active = active
	return s.saveContact(tx, owned, contact, rec)
}

// ContactTrustLevel returns 0 for unknown contacts.
func (s *Store) ContactTrustLevel(tx modules.Tx, owned, contact t.Identity) (t.TrustLevel, error) {
	rec, err := s.contact(tx, owned, contact)
	if err != nil || rec == nil {
		return 0, err
	}
	return t.TrustLevel(rec.TrustLevel), nil
}

func (s *Store) IsContactActive(tx modules.Tx, owned, contact t.Identity) (bool, error) {
	rec, err := s.contact(tx, owned, contact)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.Active, nil
}

// ================================================================================
// Groups
// ================================================================================

func (s *Store) Group(tx modules.Tx, owned, owner t.Identity, uid t.UID) (*groups.Group, error) {
	k, err := groupKey(owned, owner, uid)
	if err != nil {
		return nil, err
	}
	value, found, err := tx.Get(k)
	if err != nil || !found {
		return nil, err
	}
	v, err := encoding.Unmarshal(value)
	if err != nil {
		return nil, errors.WithMessagef(err, "corrupt group record %s", uid)
	}
	return groups.DecodeGroup(v)
}

func (s *Store) saveGroup(tx modules.Tx, owned t.Identity, g *groups.Group) error {
	k, err := groupKey(owned, g.Information.Owner, g.Information.UID)
	if err != nil {
		return err
	}
	return tx.Set(k, encoding.Marshal(g.Encode()))
}

// Groups calls fn for every group known to the owned identity.
func (s *Store) Groups(tx modules.Tx, owned t.Identity, fn func(g *groups.Group) error) error {
	prefix, err := key(groupPrefix, owned.Bytes())
	if err != nil {
		return err
	}
	return tx.Scan(prefix, func(_, value []byte) error {
		v, err := encoding.Unmarshal(value)
		if err != nil {
			return err
		}
		g, err := groups.DecodeGroup(v)
		if err != nil {
			return err
		}
		return fn(g)
	})
}

// CreateOwnedGroup creates a group owned by owned, with the given contacts pending.
func (s *Store) CreateOwnedGroup(tx modules.Tx, owned t.Identity, details []byte, pending []groups.PendingMember) (*groups.Group, error) {
	uid, err := t.NewRandomUID()
	if err != nil {
		return nil, err
	}
	g := &groups.Group{
		Information:    groups.Information{Owner: owned, UID: uid, Version: 1, Details: details},
		Pending:        pending,
		MembersVersion: 1,
	}
	return g, s.saveGroup(tx, owned, g)
}

// ownedGroup loads a group owned by owned, failing if there is none.
func (s *Store) ownedGroup(tx modules.Tx, owned t.Identity, uid t.UID) (*groups.Group, error) {
	g, err := s.Group(tx, owned, owned, uid)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.WithMessagef(ErrUnknownGroup, "owned group %s", uid)
	}
	return g, nil
}

// joinedGroup loads a group joined by owned, failing if there is none.
func (s *Store) joinedGroup(tx modules.Tx, owned, owner t.Identity, uid t.UID) (*groups.Group, error) {
	if owner == owned {
		return nil, errors.WithMessagef(modules.ErrOwnGroup, "group %s is owned, not joined", uid)
	}
	g, err := s.Group(tx, owned, owner, uid)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, errors.WithMessagef(ErrUnknownGroup, "joined group %s", uid)
	}
	return g, nil
}

// CreateJoinedGroup does nothing if the group is already known.
func (s *Store) CreateJoinedGroup(tx modules.Tx, owned t.Identity, info groups.Information, members []groups.Member, pending []groups.PendingMember) error {
	if info.Owner == owned {
		return errors.WithMessagef(modules.ErrOwnGroup, "cannot join group %s", info.UID)
	}
	existing, err := s.Group(tx, owned, info.Owner, info.UID)
	if err != nil || existing != nil {
		return err
	}
	return s.saveGroup(tx, owned, &groups.Group{Information: info, Members: members, Pending: pending})
}

func (s *Store) UpdateJoinedGroupInformation(tx modules.Tx, owned t.Identity, info groups.Information) error {
	g, err := s.joinedGroup(tx, owned, info.Owner, info.UID)
	if err != nil {
		return err
	}
	g.Information = info
	return s.saveGroup(tx, owned, g)
}

func (s *Store) ResetJoinedGroupMembersVersion(tx modules.Tx, owned, owner t.Identity, uid t.UID) error {
	g, err := s.joinedGroup(tx, owned, owner, uid)
	if err != nil {
		return err
	}
	g.MembersVersion = 0
	return s.saveGroup(tx, owned, g)
}

func (s *Store) UpdateJoinedGroupMembers(tx modules.Tx, owned t.Identity, info groups.Information, members []groups.Member, pending []groups.PendingMember, version uint64) (bool, error) {
	g, err := s.joinedGroup(tx, owned, info.Owner, info.UID)
	if errors.Is(err, ErrUnknownGroup) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if version <= g.MembersVersion {
		return false, nil
	}
	g.Information = info
	g.Members = members
	g.Pending = pending
	g.MembersVersion = version
	return true, s.saveGroup(tx, owned, g)
}

func (s *Store) DeleteJoinedGroup(tx modules.Tx, owned, owner t.Identity, uid t.UID) error {
	if owner == owned {
		return errors.WithMessagef(modules.ErrOwnGroup, "group %s is owned, not joined", uid)
	}
	k, err := groupKey(owned, owner, uid)
	if err != nil {
		return err
	}
	return tx.Delete(k)
}

// ConfirmPendingMember does nothing (and does not invoke onChanged) if member is not pending.
func (s *Store) ConfirmPendingMember(tx modules.Tx, owned t.Identity, uid t.UID, member t.Identity, onChanged func() error) error {
	g, err := s.ownedGroup(tx, owned, uid)
	if err != nil {
		return err
	}
	pm, ok := g.PendingMember(member)
	if !ok {
		return nil
	}
	g.Pending = removePending(g.Pending, member)
	g.Members = append(g.Members, groups.Member{Identity: member, Details: pm.Details})
	return s.membersChanged(tx, owned, g, onChanged)
}

func (s *Store) DeclinePendingMember(tx modules.Tx, owned t.Identity, uid t.UID, member t.Identity) error {
	g, err := s.ownedGroup(tx, owned, uid)
	if err != nil {
		return err
	}
	for i := range g.Pending {
		if g.Pending[i].Identity == member {
			g.Pending[i].Declined = true
			return s.saveGroup(tx, owned, g)
		}
	}
	return nil
}

// DemoteMemberToDeclined does nothing (and does not invoke onChanged) if member is not a confirmed member.
func (s *Store) DemoteMemberToDeclined(tx modules.Tx, owned t.Identity, uid t.UID, member t.Identity, onChanged func() error) error {
	g, err := s.ownedGroup(tx, owned, uid)
	if err != nil {
		return err
	}
	for i, m := range g.Members {
		if m.Identity != member {
			continue
		}
		g.Members = append(g.Members[:i:i], g.Members[i+1:]...)
		g.Pending = append(g.Pending, groups.PendingMember{Identity: member, Details: m.Details, Declined: true})
		return s.membersChanged(tx, owned, g, onChanged)
	}
	return nil
}

// membersChanged bumps the members version, saves the group and then invokes onChanged.
func (s *Store) membersChanged(tx modules.Tx, owned t.Identity, g *groups.Group, onChanged func() error) error {
	g.MembersVersion++
	if err := s.saveGroup(tx, owned, g); err != nil {
		return err
	}
	if onChanged == nil {
		return nil
	}
	return onChanged()
}

func removePending(pending []groups.PendingMember, id t.Identity) []groups.PendingMember {
	kept := make([]groups.PendingMember, 0, len(pending))
	for _, pm := range pending {
		if pm.Identity != id {
			kept = append(kept, pm)
		}
	}
	return kept
}
