/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runtime

import (
	"fmt"

	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

// Status tells what the runtime did with an inbound message.
type Status int

const (
	// Executed means a step ran and its result was committed.
	Executed Status = iota

	// DroppedMalformed means the message did not have the shape its kind requires.
	DroppedMalformed

	// DroppedNoStep means no step of the protocol starts in the current state with this message kind.
	// This is the normal fate of duplicate, stale and out-of-order deliveries.
	DroppedNoStep

	// DroppedGuard means a step matched, but the message arrived over the wrong kind of channel.
	DroppedGuard

	// DroppedUnknownProtocol means no protocol of the message's kind is registered.
	DroppedUnknownProtocol

	// DroppedAlreadyApplied means a journaled delivery being replayed had already been applied.
	DroppedAlreadyApplied

	// CancelledCorruptState means the stored state of the instance could not be decoded
	// (or a step's next state could not be encoded), so the instance was cancelled.
	CancelledCorruptState

	// CancelledStepFault means a step failed with a local fault or a refusal of a collaborator
	// instead of moving to a state, so the instance was cancelled.
	CancelledStepFault
)

var statusNames = map[Status]string{
	Executed:               "Executed",
	DroppedMalformed:       "DroppedMalformed",
	DroppedNoStep:          "DroppedNoStep",
	DroppedGuard:           "DroppedGuard",
	DroppedUnknownProtocol: "DroppedUnknownProtocol",
	DroppedAlreadyApplied:  "DroppedAlreadyApplied",
	CancelledCorruptState:  "CancelledCorruptState",
	CancelledStepFault:     "CancelledStepFault",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Outcome describes the result of dispatching one message.
type Outcome struct {
	Status   Status
	Instance t.InstanceID

	// State kind of the instance when the message was dispatched.
	From t.StateKind

	// Name of the executed step, if any.
	Step string

	// State the instance ended up in. Nil unless a step was executed or the instance was cancelled.
	Next protocol.State

	// The instance was deleted because its next state is self-deleting.
	Deleted bool

	// The instance ended up in its protocol's cancelled state.
	Cancelled bool
}

func (o *Outcome) String() string {
	if o.Step == "" {
		return fmt.Sprintf("%s %s", o.Status, o.Instance)
	}
	return fmt.Sprintf("%s %s via %s (deleted: %t, cancelled: %t)", o.Status, o.Instance, o.Step, o.Deleted, o.Cancelled)
}
