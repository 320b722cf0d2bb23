/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package groupinvitation

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

// State kinds. The values are persisted.
const (
	InitialStateKind            t.StateKind = 0
	InvitationSentStateKind     t.StateKind = 1
	InvitationReceivedStateKind t.StateKind = 2
	ResponseSentStateKind       t.StateKind = 3
	ResponseReceivedStateKind   t.StateKind = 4
	CancelledStateKind          t.StateKind = 5
)

// emptyState is a state without payload.
type emptyState t.StateKind

func (s emptyState) Kind() t.StateKind {
	return t.StateKind(s)
}

func (s emptyState) Encode() (encoding.Value, error) {
	return encoding.List(), nil
}

var (
	InitialState          protocol.State = emptyState(InitialStateKind)
	InvitationSentState   protocol.State = emptyState(InvitationSentStateKind)
	ResponseSentState     protocol.State = emptyState(ResponseSentStateKind)
	ResponseReceivedState protocol.State = emptyState(ResponseReceivedStateKind)
	CancelledState        protocol.State = emptyState(CancelledStateKind)
)

// InvitationReceivedState is the invitee's state while the user (or a trust level increase) decides.
type InvitationReceivedState struct {
	Info     groups.Information
	DialogID t.DialogID
	Pending  []groups.PendingMember
}

func (s *InvitationReceivedState) Kind() t.StateKind {
	return InvitationReceivedStateKind
}

func (s *InvitationReceivedState) Encode() (encoding.Value, error) {
	return encoding.List(s.Info.Encode(), s.DialogID.Encode(), groups.EncodePendingMembers(s.Pending)), nil
}

func decodeInvitationReceivedState(v encoding.Value) (*InvitationReceivedState, error) {
	items, err := v.AsListOf(3)
	if err != nil {
		return nil, err
	}
	info, err := groups.DecodeInformation(items[0])
	if err != nil {
		return nil, err
	}
	dialogID, err := t.DecodeDialogID(items[1])
	if err != nil {
		return nil, err
	}
	pending, err := groups.DecodePendingMembers(items[2])
	if err != nil {
		return nil, err
	}
	return &InvitationReceivedState{Info: info, DialogID: dialogID, Pending: pending}, nil
}

func decodeState(kind t.StateKind, v encoding.Value) (protocol.State, error) {
	switch kind {
	case InitialStateKind, InvitationSentStateKind, ResponseSentStateKind, ResponseReceivedStateKind, CancelledStateKind:
		if _, err := v.AsListOf(0); err != nil {
			return nil, err
		}
		return emptyState(kind), nil
	case InvitationReceivedStateKind:
		return decodeInvitationReceivedState(v)
	default:
		return nil, errors.Errorf("unknown group invitation state kind %d", kind)
	}
}

// selfDeleting lists the terminal states whose instances are deleted right away.
// Only InvitationReceived is ever persisted: a late or duplicate message reaching a deleted instance
// starts over from the initial state, where every step is safe to repeat.
func selfDeleting(kind t.StateKind) bool {
	switch kind {
	case InvitationSentStateKind, ResponseSentStateKind, ResponseReceivedStateKind, CancelledStateKind:
		return true
	default:
		return false
	}
}
