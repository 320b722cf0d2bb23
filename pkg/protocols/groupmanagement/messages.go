/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package groupmanagement

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

const (
	MembersChangedMessageKind       t.MessageKind = 0
	TriggerUpdateMembersMessageKind t.MessageKind = 1
	NewMembersMessageKind           t.MessageKind = 2
	KickFromGroupMessageKind        t.MessageKind = 3
)

// InstanceUID returns the UID shared by every participant's instance for a group,
// so that no participant needs to learn it from another.
func InstanceUID(owner t.Identity, groupUID t.UID) t.UID {
	return t.DeriveUID("groupManagement", owner.Bytes(), groupUID[:])
}

// MembersChangedMessage tells the owner's instance that the membership of an owned group changed.
type MembersChangedMessage struct {
	GroupUID t.UID
}

func (m *MembersChangedMessage) Kind() t.MessageKind {
	return MembersChangedMessageKind
}

func (m *MembersChangedMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{m.GroupUID.Encode()}, nil
}

// TriggerUpdateMembersMessage asks the owner's instance to send the full member list to one member.
type TriggerUpdateMembersMessage struct {
	GroupUID t.UID
	Member   t.Identity
}

func (m *TriggerUpdateMembersMessage) Kind() t.MessageKind {
	return TriggerUpdateMembersMessageKind
}

func (m *TriggerUpdateMembersMessage) Encode() ([]encoding.Value, error) {
	if m.Member.IsEmpty() {
		return nil, errors.New("no member to update")
	}
	return []encoding.Value{m.GroupUID.Encode(), m.Member.Encode()}, nil
}

// NewMembersMessage carries the owner's member list of a group.
type NewMembersMessage struct {
	Info    groups.Information
	Members []groups.Member
	Pending []groups.PendingMember
	Version uint64
}

func (m *NewMembersMessage) Kind() t.MessageKind {
	return NewMembersMessageKind
}

func (m *NewMembersMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{
		m.Info.Encode(),
		groups.EncodeMembers(m.Members),
		groups.EncodePendingMembers(m.Pending),
		encoding.Uint(m.Version),
	}, nil
}

// KickFromGroupMessage tells a contact it is not a member of a group (anymore).
// Info may be a placeholder if the owner no longer knows the group.
type KickFromGroupMessage struct {
	Info groups.Information
}

func (m *KickFromGroupMessage) Kind() t.MessageKind {
	return KickFromGroupMessageKind
}

func (m *KickFromGroupMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{m.Info.Encode()}, nil
}

func decodeMessage(msg *modules.ReceivedMessage) (protocol.Message, error) {
	m, err := decodeInputs(msg.Kind, msg.Inputs)
	if err != nil {
		return nil, protocol.Malformed("group management message", err)
	}
	return m, nil
}

func decodeInputs(kind t.MessageKind, inputs []encoding.Value) (protocol.Message, error) {
	switch kind {
	case MembersChangedMessageKind:
		if err := encoding.ExpectArity(inputs, 1); err != nil {
			return nil, err
		}
		uid, err := t.DecodeUID(inputs[0])
		if err != nil {
			return nil, err
		}
		return &MembersChangedMessage{GroupUID: uid}, nil

	case TriggerUpdateMembersMessageKind:
		if err := encoding.ExpectArity(inputs, 2); err != nil {
			return nil, err
		}
		uid, err := t.DecodeUID(inputs[0])
		if err != nil {
			return nil, err
		}
		member, err := t.DecodeIdentity(inputs[1])
		if err != nil {
			return nil, err
		}
		return &TriggerUpdateMembersMessage{GroupUID: uid, Member: member}, nil

	case NewMembersMessageKind:
		if err := encoding.ExpectArity(inputs, 4); err != nil {
			return nil, err
		}
		info, err := groups.DecodeInformation(inputs[0])
		if err != nil {
			return nil, err
		}
		members, err := groups.DecodeMembers(inputs[1])
		if err != nil {
			return nil, err
		}
		pending, err := groups.DecodePendingMembers(inputs[2])
		if err != nil {
			return nil, err
		}
		version, err := inputs[3].AsUint()
		if err != nil {
			return nil, err
		}
		return &NewMembersMessage{Info: info, Members: members, Pending: pending, Version: version}, nil

	case KickFromGroupMessageKind:
		if err := encoding.ExpectArity(inputs, 1); err != nil {
			return nil, err
		}
		info, err := groups.DecodeInformation(inputs[0])
		if err != nil {
			return nil, err
		}
		return &KickFromGroupMessage{Info: info}, nil

	default:
		return nil, errors.Errorf("unknown message kind %d", kind)
	}
}
