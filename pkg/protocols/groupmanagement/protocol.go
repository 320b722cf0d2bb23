/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package groupmanagement keeps the member lists of groups in sync between the owner and the members.
//
// Every exchange is a single step: the owner's instance publishes member lists when membership changes
// or a member asks for a resynchronization, and members apply the lists (or kick notices) they receive.
// All instances end in a self-deleting state, so the instance of a group is reused by later exchanges.
package groupmanagement

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

const (
	InitialStateKind   t.StateKind = 0
	FinalStateKind     t.StateKind = 1
	CancelledStateKind t.StateKind = 2
)

type emptyState t.StateKind

func (s emptyState) Kind() t.StateKind {
	return t.StateKind(s)
}

func (s emptyState) Encode() (encoding.Value, error) {
	return encoding.List(), nil
}

var (
	InitialState   protocol.State = emptyState(InitialStateKind)
	FinalState     protocol.State = emptyState(FinalStateKind)
	CancelledState protocol.State = emptyState(CancelledStateKind)
)

const (
	publishMembersStep t.StepID = iota
	updateMembersStep
	processNewMembersStep
	processKickStep
)

var transitions = protocol.MustTable(
	protocol.Transition{
		From: InitialStateKind, Message: MembersChangedMessageKind,
		Guard: protocol.GuardLocal, Step: publishMembersStep, Name: "PublishMembers",
	},
	protocol.Transition{
		From: InitialStateKind, Message: TriggerUpdateMembersMessageKind,
		Guard: protocol.GuardLocal, Step: updateMembersStep, Name: "UpdateMembers",
	},
	protocol.Transition{
		From: InitialStateKind, Message: NewMembersMessageKind,
		Guard: protocol.GuardContact, Step: processNewMembersStep, Name: "ProcessNewMembers",
	},
	protocol.Transition{
		From: InitialStateKind, Message: KickFromGroupMessageKind,
		Guard: protocol.GuardContact, Step: processKickStep, Name: "ProcessKick",
	},
)

// Protocol is the group management protocol.
type Protocol struct{}

var _ protocol.Protocol = (*Protocol)(nil)

func New() *Protocol {
	return &Protocol{}
}

func (p *Protocol) Kind() t.ProtocolKind {
	return t.GroupManagement
}

func (p *Protocol) InitialState() protocol.State {
	return InitialState
}

func (p *Protocol) CancelledState() protocol.State {
	return CancelledState
}

func (p *Protocol) SelfDeleting(kind t.StateKind) bool {
	return kind == FinalStateKind || kind == CancelledStateKind
}

func (p *Protocol) DecodeState(kind t.StateKind, payload encoding.Value) (protocol.State, error) {
	if kind > CancelledStateKind {
		return nil, errors.Errorf("unknown group management state kind %d", kind)
	}
	if _, err := payload.AsListOf(0); err != nil {
		return nil, err
	}
	return emptyState(kind), nil
}

func (p *Protocol) DecodeMessage(msg *modules.ReceivedMessage) (protocol.Message, error) {
	return decodeMessage(msg)
}

func (p *Protocol) Transitions() *protocol.Table {
	return transitions
}

func (p *Protocol) NewStep(id t.StepID, start protocol.State, msg protocol.Message, ctx protocol.Context) (protocol.Step, error) {
	var step protocol.Step
	var ok bool

	switch id {
	case publishMembersStep:
		var m *MembersChangedMessage
		m, ok = msg.(*MembersChangedMessage)
		step = &publishMembers{ctx: ctx, msg: m}
	case updateMembersStep:
		var m *TriggerUpdateMembersMessage
		m, ok = msg.(*TriggerUpdateMembersMessage)
		step = &updateMembers{ctx: ctx, msg: m}
	case processNewMembersStep:
		var m *NewMembersMessage
		m, ok = msg.(*NewMembersMessage)
		step = &processNewMembers{ctx: ctx, msg: m}
	case processKickStep:
		var m *KickFromGroupMessage
		m, ok = msg.(*KickFromGroupMessage)
		step = &processKick{ctx: ctx, msg: m}
	default:
		return nil, errors.Errorf("unknown group management step %d", id)
	}

	if !ok {
		return nil, errors.Errorf("step %d cannot handle message kind %d", id, msg.Kind())
	}
	return step, nil
}
