/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package protocol defines the building blocks protocols are written with.
//
// A protocol is a closed set of states and messages, each tagged with a kind that is stable per protocol,
// and a transition table mapping (state kind, message kind) pairs to steps. Each transition declares
// the reception channel a message must have arrived over for the step to run.
// A step receives a snapshot of the start state and the decoded message, performs all its side effects
// through a Context and returns the next state. A step never blocks: when a protocol has to wait
// (for a reply, a dialog answer or a trust level increase) the step persists a state and a later,
// independently delivered message resumes the protocol.
package protocol

import (
	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/modules"
	t "github.com/e2ee/protoengine/pkg/types"
)

// State is an immutable snapshot of the progress of a protocol instance.
// Its encoding must be self-contained: only identifiers, never references to in-memory objects.
type State interface {
	Kind() t.StateKind
	Encode() (encoding.Value, error)
}

// Message is an immutable, typed trigger of a transition.
type Message interface {
	Kind() t.MessageKind

	// Encode returns the fixed-arity list of inputs of the message.
	Encode() ([]encoding.Value, error)
}

// Step is one guarded transition, bound to its start state, message and execution context.
type Step interface {

	// Execute performs the side effects of the step through its Context and returns the next state.
	// Returning a nil state is illegal. Protocol-level failures are expressed by returning
	// a cancelled state (or the unchanged start state, to ignore a message) with a nil error.
	// A non-nil error aborts the whole dispatch, rolling back every effect of the step.
	Execute() (State, error)
}

// Protocol is the definition of one protocol.
type Protocol interface {
	Kind() t.ProtocolKind

	// InitialState returns the state unknown instances start in.
	InitialState() State

	// CancelledState returns the terminal state local faults lead to.
	CancelledState() State

	// SelfDeleting returns true for terminal states whose instances are deleted instead of persisted.
	SelfDeleting(kind t.StateKind) bool

	// DecodeState reconstructs a persisted state.
	DecodeState(kind t.StateKind, payload encoding.Value) (State, error)

	// DecodeMessage constructs a typed message from an inbound message.
	// Unknown message kinds and shape violations are reported as ErrMalformedMessage.
	DecodeMessage(msg *modules.ReceivedMessage) (Message, error)

	// Transitions returns the transition table of the protocol.
	Transitions() *Table

	// NewStep constructs the step with the given ID.
	NewStep(id t.StepID, start State, msg Message, ctx Context) (Step, error)
}

// EncodeState marshals a state into a persistable payload.
func EncodeState(s State) ([]byte, error) {
	v, err := s.Encode()
	if err != nil {
		return nil, err
	}
	return encoding.Marshal(v), nil
}
