/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/modules"
	t "github.com/e2ee/protoengine/pkg/types"
)

// Context is the only handle a step has on the outside world.
// One Context is created per step execution and all effects issued through it
// belong to the transaction of that execution.
type Context interface {

	// Instance returns the ID of the instance the step runs for.
	Instance() t.InstanceID

	// Provenance returns where the triggering message came from.
	Provenance() modules.Provenance

	// Tx returns the transaction of the step.
	Tx() modules.Tx

	Logger() logging.Logger

	// Trust returns the configured trust thresholds.
	Trust() TrustPolicy

	// Identity returns the identity delegate, or ErrCollaboratorUnavailable if none is wired.
	Identity() (modules.IdentityDelegate, error)

	// Send posts a message of the current protocol to the current instance UID at the destination.
	// It fails with ErrCollaboratorUnavailable if no channel delegate is wired
	// and with ErrEncodingFault if the message cannot be encoded.
	Send(msg Message, dest modules.Destination) error

	// SendTo is like Send, but addresses an instance of any protocol.
	SendTo(protocol t.ProtocolKind, uid t.UID, msg Message, dest modules.Destination) error

	// RequestDialog shows a dialog. The answer is delivered later as msg's kind with dialog response provenance.
	RequestDialog(msg Message, dialog *modules.Dialog) error

	// WaitForTrustLevel registers a deferred waiter: once the trust level in contact reaches target,
	// a local message of the given kind is delivered to the current instance.
	WaitForTrustLevel(contact t.Identity, target t.TrustLevel, kind t.MessageKind) error

	// StopWaiting removes all waiters of the current instance watching contact.
	StopWaiting(contact t.Identity) error
}

// SendBestEffort sends a notification whose loss does not affect the protocol.
// Failures are logged and swallowed.
func SendBestEffort(ctx Context, protocol t.ProtocolKind, uid t.UID, msg Message, dest modules.Destination) {
	if err := ctx.SendTo(protocol, uid, msg, dest); err != nil {
		ctx.Logger().Log(logging.LevelWarn, "Ignoring failed notification.",
			"error", ErrNonEssentialSendFailure.Error(), "cause", err.Error(), "dest", dest.String())
	}
}

// ================================================================================

// TrustLevelIncreasedInputs returns the inputs of the message synthesized when a deferred waiter is satisfied.
func TrustLevelIncreasedInputs(contact t.Identity, level t.TrustLevel) []encoding.Value {
	return []encoding.Value{contact.Encode(), level.Encode()}
}

// DecodeTrustLevelIncreased parses the inputs produced by TrustLevelIncreasedInputs.
func DecodeTrustLevelIncreased(inputs []encoding.Value) (t.Identity, t.TrustLevel, error) {
	if err := encoding.ExpectArity(inputs, 2); err != nil {
		return "", 0, Malformed("trust level increased", err)
	}
	contact, err := t.DecodeIdentity(inputs[0])
	if err != nil {
		return "", 0, Malformed("trust level increased contact", err)
	}
	level, err := t.DecodeTrustLevel(inputs[1])
	if err != nil {
		return "", 0, Malformed("trust level increased level", err)
	}
	return contact, level, nil
}
