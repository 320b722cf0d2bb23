/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package groupinvitation implements the invitation of contacts to groups.
//
// The group owner sends an invitation to each invited contact in an instance of its own.
// The invitee accepts automatically if it trusts the owner enough, or asks the user,
// possibly after the trust level in the owner increased. The answer goes back to the owner,
// who updates the group membership and tells the group management protocol about changes.
// Answers are also propagated to the other devices of the invitee, so that the user is asked only once.
package groupinvitation

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

const (
	sendInvitationStep t.StepID = iota
	processInvitationStep
	processDialogResponseStep
	recheckTrustStep
	processPropagatedResponseStep
	processResponseStep
)

var transitions = protocol.MustTable(
	protocol.Transition{
		From: InitialStateKind, Message: InitialMessageKind,
		Guard: protocol.GuardLocal, Step: sendInvitationStep, Name: "SendInvitation",
	},
	protocol.Transition{
		From: InitialStateKind, Message: InvitationMessageKind,
		Guard: protocol.GuardContact, Step: processInvitationStep, Name: "ProcessInvitation",
	},
	protocol.Transition{
		From: InvitationReceivedStateKind, Message: DialogAcceptGroupInvitationMessageKind,
		Guard: protocol.GuardDialogResponse, Step: processDialogResponseStep, Name: "ProcessDialogResponse",
	},
	protocol.Transition{
		From: InvitationReceivedStateKind, Message: TrustLevelIncreasedMessageKind,
		Guard: protocol.GuardLocal, Step: recheckTrustStep, Name: "RecheckTrust",
	},
	protocol.Transition{
		From: InitialStateKind, Message: PropagateInvitationResponseMessageKind,
		Guard: protocol.GuardOwnedDevice, Step: processPropagatedResponseStep, Name: "ProcessPropagatedResponse",
	},
	protocol.Transition{
		From: InvitationReceivedStateKind, Message: PropagateInvitationResponseMessageKind,
		Guard: protocol.GuardOwnedDevice, Step: processPropagatedResponseStep, Name: "ProcessPropagatedResponse",
	},
	protocol.Transition{
		From: InitialStateKind, Message: InvitationResponseMessageKind,
		Guard: protocol.GuardContact, Step: processResponseStep, Name: "ProcessResponse",
	},
)

// Protocol is the group invitation protocol.
type Protocol struct{}

var _ protocol.Protocol = (*Protocol)(nil)

func New() *Protocol {
	return &Protocol{}
}

func (p *Protocol) Kind() t.ProtocolKind {
	return t.GroupInvitation
}

func (p *Protocol) InitialState() protocol.State {
	return InitialState
}

func (p *Protocol) CancelledState() protocol.State {
	return CancelledState
}

func (p *Protocol) SelfDeleting(kind t.StateKind) bool {
	return selfDeleting(kind)
}

func (p *Protocol) DecodeState(kind t.StateKind, payload encoding.Value) (protocol.State, error) {
	return decodeState(kind, payload)
}

func (p *Protocol) DecodeMessage(msg *modules.ReceivedMessage) (protocol.Message, error) {
	return decodeMessage(msg)
}

func (p *Protocol) Transitions() *protocol.Table {
	return transitions
}

func (p *Protocol) NewStep(id t.StepID, start protocol.State, msg protocol.Message, ctx protocol.Context) (protocol.Step, error) {
	switch id {
	case sendInvitationStep:
		if m, ok := msg.(*InitialMessage); ok {
			return &sendInvitation{ctx: ctx, msg: m}, nil
		}
	case processInvitationStep:
		if m, ok := msg.(*InvitationMessage); ok {
			return &processInvitation{ctx: ctx, msg: m}, nil
		}
	case processDialogResponseStep:
		s, okState := start.(*InvitationReceivedState)
		m, okMsg := msg.(*DialogAcceptGroupInvitationMessage)
		if okState && okMsg {
			return &processDialogResponse{ctx: ctx, start: s, msg: m}, nil
		}
	case recheckTrustStep:
		s, okState := start.(*InvitationReceivedState)
		m, okMsg := msg.(*TrustLevelIncreasedMessage)
		if okState && okMsg {
			return &recheckTrust{ctx: ctx, start: s, msg: m}, nil
		}
	case processPropagatedResponseStep:
		if m, ok := msg.(*PropagateInvitationResponseMessage); ok {
			return &processPropagatedResponse{ctx: ctx, start: start, msg: m}, nil
		}
	case processResponseStep:
		if m, ok := msg.(*InvitationResponseMessage); ok {
			return &processResponse{ctx: ctx, msg: m}, nil
		}
	default:
		return nil, errors.Errorf("unknown group invitation step %d", id)
	}
	return nil, errors.Errorf("step %d cannot start in state %d with message kind %d", id, start.Kind(), msg.Kind())
}
