/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package groups holds the group descriptors exchanged by the group protocols and kept by the identity delegate.
package groups

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	t "github.com/e2ee/protoengine/pkg/types"
)

// Information is the authoritative, owner-signed description of a group.
type Information struct {
	// Identity of the group owner. Only the owner may invite, kick or publish member lists.
	Owner t.Identity

	// UID of the group, unique per owner.
	UID t.UID

	// Version of the details. Incremented by the owner on each change.
	Version uint64

	// Opaque serialized details (name, photo reference, ...).
	Details []byte
}

// Placeholder returns a minimal descriptor identifying a group only by its owner and UID.
// It is used when the real descriptor is no longer available, e.g. to kick a member from a deleted group.
func Placeholder(owner t.Identity, uid t.UID) Information {
	return Information{Owner: owner, UID: uid}
}

// IsPlaceholder returns true if the descriptor carries no version and no details.
func (gi Information) IsPlaceholder() bool {
	return gi.Version == 0 && len(gi.Details) == 0
}

func (gi Information) Encode() encoding.Value {
	return encoding.List(
		gi.Owner.Encode(),
		gi.UID.Encode(),
		encoding.Uint(gi.Version),
		encoding.Bytes(gi.Details),
	)
}

func DecodeInformation(v encoding.Value) (Information, error) {
	items, err := v.AsListOf(4)
	if err != nil {
		return Information{}, encoding.Malformed("group information", err)
	}
	owner, err := t.DecodeIdentity(items[0])
	if err != nil {
		return Information{}, encoding.Malformed("group owner", err)
	}
	uid, err := t.DecodeUID(items[1])
	if err != nil {
		return Information{}, encoding.Malformed("group uid", err)
	}
	version, err := items[2].AsUint()
	if err != nil {
		return Information{}, encoding.Malformed("group version", err)
	}
	details, err := items[3].AsBytes()
	if err != nil {
		return Information{}, encoding.Malformed("group details", err)
	}
	return Information{Owner: owner, UID: uid, Version: version, Details: details}, nil
}

// ================================================================================

// Member is a confirmed member of a group.
type Member struct {
	Identity t.Identity
	Details  []byte
}

func (m Member) Encode() encoding.Value {
	return encoding.List(m.Identity.Encode(), encoding.Bytes(m.Details))
}

func DecodeMember(v encoding.Value) (Member, error) {
	items, err := v.AsListOf(2)
	if err != nil {
		return Member{}, err
	}
	id, err := t.DecodeIdentity(items[0])
	if err != nil {
		return Member{}, err
	}
	details, err := items[1].AsBytes()
	if err != nil {
		return Member{}, err
	}
	return Member{Identity: id, Details: details}, nil
}

// PendingMember was invited to a group but has not accepted (yet).
type PendingMember struct {
	Identity t.Identity
	Details  []byte

	// Set when the invitee explicitly declined the invitation.
	Declined bool
}

func (pm PendingMember) Encode() encoding.Value {
	return encoding.List(pm.Identity.Encode(), encoding.Bytes(pm.Details), encoding.Bool(pm.Declined))
}

func DecodePendingMember(v encoding.Value) (PendingMember, error) {
	items, err := v.AsListOf(3)
	if err != nil {
		return PendingMember{}, err
	}
	id, err := t.DecodeIdentity(items[0])
	if err != nil {
		return PendingMember{}, err
	}
	details, err := items[1].AsBytes()
	if err != nil {
		return PendingMember{}, err
	}
	declined, err := items[2].AsBool()
	if err != nil {
		return PendingMember{}, err
	}
	return PendingMember{Identity: id, Details: details, Declined: declined}, nil
}

// EncodeMembers encodes a set of members as a list.
func EncodeMembers(members []Member) encoding.Value {
	items := make([]encoding.Value, len(members))
	for i, m := range members {
		items[i] = m.Encode()
	}
	return encoding.List(items...)
}

// DecodeMembers decodes a set of members. Duplicate identities are rejected.
func DecodeMembers(v encoding.Value) ([]Member, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, encoding.Malformed("members", err)
	}
	seen := make(map[t.Identity]struct{}, len(items))
	members := make([]Member, 0, len(items))
	for _, item := range items {
		m, err := DecodeMember(item)
		if err != nil {
			return nil, encoding.Malformed("member", err)
		}
		if _, ok := seen[m.Identity]; ok {
			return nil, encoding.Malformed("members", errors.Errorf("duplicate member %s", m.Identity))
		}
		seen[m.Identity] = struct{}{}
		members = append(members, m)
	}
	return members, nil
}

// EncodePendingMembers encodes a set of pending members as a list.
func EncodePendingMembers(pending []PendingMember) encoding.Value {
	items := make([]encoding.Value, len(pending))
	for i, pm := range pending {
		items[i] = pm.Encode()
	}
	return encoding.List(items...)
}

// DecodePendingMembers decodes a set of pending members. Duplicate identities are rejected.
func DecodePendingMembers(v encoding.Value) ([]PendingMember, error) {
	items, err := v.AsList()
	if err != nil {
		return nil, encoding.Malformed("pending members", err)
	}
	seen := make(map[t.Identity]struct{}, len(items))
	pending := make([]PendingMember, 0, len(items))
	for _, item := range items {
		pm, err := DecodePendingMember(item)
		if err != nil {
			return nil, encoding.Malformed("pending member", err)
		}
		if _, ok := seen[pm.Identity]; ok {
			return nil, encoding.Malformed("pending members", errors.Errorf("duplicate pending member %s", pm.Identity))
		}
		seen[pm.Identity] = struct{}{}
		pending = append(pending, pm)
	}
	return pending, nil
}

// FindPending returns the pending member with the given identity, if any.
func FindPending(pending []PendingMember, id t.Identity) (PendingMember, bool) {
	for _, pm := range pending {
		if pm.Identity == id {
			return pm, true
		}
	}
	return PendingMember{}, false
}

// ================================================================================

// Group is the local view of a group, either owned or joined.
type Group struct {
	Information Information
	Members     []Member
	Pending     []PendingMember

	// Version of the member list last applied locally.
	// Reset to 0 to force a full resynchronization on the next member list received from the owner.
	MembersVersion uint64
}

// HasMember returns true if id is a confirmed member (or the owner) of the group.
func (g *Group) HasMember(id t.Identity) bool {
	if id == g.Information.Owner {
		return true
	}
	for _, m := range g.Members {
		if m.Identity == id {
			return true
		}
	}
	return false
}

// PendingMember returns the pending entry of id, if any.
func (g *Group) PendingMember(id t.Identity) (PendingMember, bool) {
	return FindPending(g.Pending, id)
}

// MemberIdentities returns the identities of all confirmed members, sorted.
func (g *Group) MemberIdentities() []t.Identity {
	ids := make([]t.Identity, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.Identity)
	}
	t.SortIdentities(ids)
	return ids
}

func (g *Group) Encode() encoding.Value {
	return encoding.List(
		g.Information.Encode(),
		EncodeMembers(g.Members),
		EncodePendingMembers(g.Pending),
		encoding.Uint(g.MembersVersion),
	)
}

func DecodeGroup(v encoding.Value) (*Group, error) {
	items, err := v.AsListOf(4)
	if err != nil {
		return nil, encoding.Malformed("group", err)
	}
	info, err := DecodeInformation(items[0])
	if err != nil {
		return nil, err
	}
	members, err := DecodeMembers(items[1])
	if err != nil {
		return nil, err
	}
	pending, err := DecodePendingMembers(items[2])
	if err != nil {
		return nil, err
	}
	version, err := items[3].AsUint()
	if err != nil {
		return nil, encoding.Malformed("members version", err)
	}
	return &Group{Information: info, Members: members, Pending: pending, MembersVersion: version}, nil
}
