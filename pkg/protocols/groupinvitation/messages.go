/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package groupinvitation

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

// Message kinds. The values are part of the wire format.
const (
	InitialMessageKind                     t.MessageKind = 0
	InvitationMessageKind                  t.MessageKind = 1
	DialogAcceptGroupInvitationMessageKind t.MessageKind = 2
	InvitationResponseMessageKind          t.MessageKind = 3
	TrustLevelIncreasedMessageKind         t.MessageKind = 4
	PropagateInvitationResponseMessageKind t.MessageKind = 5
)

// InitialMessage makes the group owner invite a contact.
type InitialMessage struct {
	Contact t.Identity
	Info    groups.Information

	// Everyone the invitation lists, including the invited contact.
	Pending []groups.PendingMember
}

// NewInitialMessage returns the local message starting an invitation of contact to a group.
func NewInitialMessage(contact t.Identity, info groups.Information, pending []groups.PendingMember) *InitialMessage {
	return &InitialMessage{Contact: contact, Info: info, Pending: pending}
}

func (m *InitialMessage) Kind() t.MessageKind {
	return InitialMessageKind
}

func (m *InitialMessage) Encode() ([]encoding.Value, error) {
	if m.Contact.IsEmpty() {
		return nil, errors.New("no contact to invite")
	}
	return []encoding.Value{m.Contact.Encode(), m.Info.Encode(), groups.EncodePendingMembers(m.Pending)}, nil
}

func decodeInitialMessage(inputs []encoding.Value) (*InitialMessage, error) {
	if err := encoding.ExpectArity(inputs, 3); err != nil {
		return nil, err
	}
	contact, err := t.DecodeIdentity(inputs[0])
	if err != nil {
		return nil, err
	}
	info, err := groups.DecodeInformation(inputs[1])
	if err != nil {
		return nil, err
	}
	pending, err := decodeNonEmptyPending(inputs[2])
	if err != nil {
		return nil, err
	}
	return &InitialMessage{Contact: contact, Info: info, Pending: pending}, nil
}

// InvitationMessage is sent by the group owner to an invited contact.
type InvitationMessage struct {
	Info    groups.Information
	Pending []groups.PendingMember
}

func (m *InvitationMessage) Kind() t.MessageKind {
	return InvitationMessageKind
}

func (m *InvitationMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{m.Info.Encode(), groups.EncodePendingMembers(m.Pending)}, nil
}

func decodeInvitationMessage(inputs []encoding.Value) (*InvitationMessage, error) {
	if err := encoding.ExpectArity(inputs, 2); err != nil {
		return nil, err
	}
	info, err := groups.DecodeInformation(inputs[0])
	if err != nil {
		return nil, err
	}
	pending, err := decodeNonEmptyPending(inputs[1])
	if err != nil {
		return nil, err
	}
	return &InvitationMessage{Info: info, Pending: pending}, nil
}

// DialogAcceptGroupInvitationMessage carries the user's answer to the invitation dialog.
// When sent (to show or retract the dialog) it has no inputs.
type DialogAcceptGroupInvitationMessage struct {
	DialogID t.DialogID
	Accepted bool
}

func (m *DialogAcceptGroupInvitationMessage) Kind() t.MessageKind {
	return DialogAcceptGroupInvitationMessageKind
}

func (m *DialogAcceptGroupInvitationMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{}, nil
}

func decodeDialogMessage(inputs []encoding.Value, provenance modules.Provenance) (*DialogAcceptGroupInvitationMessage, error) {
	if err := encoding.ExpectArity(inputs, 0); err != nil {
		return nil, err
	}
	if provenance.Kind != modules.ProvenanceDialogResponse {
		// Left to the channel guard.
		return &DialogAcceptGroupInvitationMessage{}, nil
	}
	if !provenance.Decision.IsValid() {
		return nil, errors.New("dialog response without decision")
	}
	accepted, err := provenance.Decision.AsBool()
	if err != nil {
		return nil, err
	}
	return &DialogAcceptGroupInvitationMessage{DialogID: provenance.DialogID, Accepted: accepted}, nil
}

// InvitationResponseMessage is the invitee's answer, sent to the group owner.
type InvitationResponseMessage struct {
	GroupUID t.UID
	Accepted bool
}

func (m *InvitationResponseMessage) Kind() t.MessageKind {
	return InvitationResponseMessageKind
}

func (m *InvitationResponseMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{m.GroupUID.Encode(), encoding.Bool(m.Accepted)}, nil
}

func decodeInvitationResponseMessage(inputs []encoding.Value) (*InvitationResponseMessage, error) {
	if err := encoding.ExpectArity(inputs, 2); err != nil {
		return nil, err
	}
	uid, err := t.DecodeUID(inputs[0])
	if err != nil {
		return nil, err
	}
	accepted, err := inputs[1].AsBool()
	if err != nil {
		return nil, err
	}
	return &InvitationResponseMessage{GroupUID: uid, Accepted: accepted}, nil
}

// TrustLevelIncreasedMessage is synthesized by the runtime when a deferred waiter is satisfied.
type TrustLevelIncreasedMessage struct {
	Contact t.Identity
	Level   t.TrustLevel
}

func (m *TrustLevelIncreasedMessage) Kind() t.MessageKind {
	return TrustLevelIncreasedMessageKind
}

func (m *TrustLevelIncreasedMessage) Encode() ([]encoding.Value, error) {
	return protocol.TrustLevelIncreasedInputs(m.Contact, m.Level), nil
}

// PropagateInvitationResponseMessage informs the other devices of the owned identity
// about the answer given on this device.
type PropagateInvitationResponseMessage struct {
	Info     groups.Information
	Pending  []groups.PendingMember
	Accepted bool
}

func (m *PropagateInvitationResponseMessage) Kind() t.MessageKind {
	return PropagateInvitationResponseMessageKind
}

func (m *PropagateInvitationResponseMessage) Encode() ([]encoding.Value, error) {
	return []encoding.Value{m.Info.Encode(), groups.EncodePendingMembers(m.Pending), encoding.Bool(m.Accepted)}, nil
}

func decodePropagateMessage(inputs []encoding.Value) (*PropagateInvitationResponseMessage, error) {
	if err := encoding.ExpectArity(inputs, 3); err != nil {
		return nil, err
	}
	info, err := groups.DecodeInformation(inputs[0])
	if err != nil {
		return nil, err
	}
	pending, err := groups.DecodePendingMembers(inputs[1])
	if err != nil {
		return nil, err
	}
	accepted, err := inputs[2].AsBool()
	if err != nil {
		return nil, err
	}
	return &PropagateInvitationResponseMessage{Info: info, Pending: pending, Accepted: accepted}, nil
}

func decodeNonEmptyPending(v encoding.Value) ([]groups.PendingMember, error) {
	pending, err := groups.DecodePendingMembers(v)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, errors.New("empty pending member set")
	}
	return pending, nil
}

// decodeMessage constructs the typed message for an inbound message.
func decodeMessage(msg *modules.ReceivedMessage) (protocol.Message, error) {
	var m protocol.Message
	var err error

	switch msg.Kind {
	case InitialMessageKind:
		m, err = decodeInitialMessage(msg.Inputs)
	case InvitationMessageKind:
		m, err = decodeInvitationMessage(msg.Inputs)
	case DialogAcceptGroupInvitationMessageKind:
		m, err = decodeDialogMessage(msg.Inputs, msg.Provenance)
	case InvitationResponseMessageKind:
		m, err = decodeInvitationResponseMessage(msg.Inputs)
	case TrustLevelIncreasedMessageKind:
		var contact t.Identity
		var level t.TrustLevel
		contact, level, err = protocol.DecodeTrustLevelIncreased(msg.Inputs)
		m = &TrustLevelIncreasedMessage{Contact: contact, Level: level}
	case PropagateInvitationResponseMessageKind:
		m, err = decodePropagateMessage(msg.Inputs)
	default:
		return nil, protocol.Malformed("group invitation", errors.Errorf("unknown message kind %d", msg.Kind))
	}

	if err != nil {
		return nil, protocol.Malformed("group invitation message", err)
	}
	return m, nil
}
