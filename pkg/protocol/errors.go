/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/modules"
)

var (
	// ErrMalformedMessage is returned when untrusted input does not have the shape its message kind requires.
	// The message is dropped and the instance is left untouched.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrGuardRejected marks well-formed messages failing a protocol-level precondition.
	ErrGuardRejected = errors.New("guard rejected")

	// ErrCollaboratorUnavailable is returned when a step needs a collaborator that is not wired.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")

	// ErrEncodingFault is returned when an outbound message or a state cannot be encoded.
	ErrEncodingFault = errors.New("encoding fault")

	// ErrNonEssentialSendFailure marks failed best-effort notifications. It never changes a step's outcome.
	ErrNonEssentialSendFailure = errors.New("non-essential send failed")

	// ErrNoNextState is returned by the runtime when a step returns no state.
	ErrNoNextState = errors.New("step returned no next state")
)

// Malformed wraps a decoding failure of an inbound message.
func Malformed(what string, err error) error {
	return errors.WithMessagef(ErrMalformedMessage, "%s: %v", what, err)
}

// IsMalformed returns true for errors caused by untrusted input.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedMessage) || errors.Is(err, encoding.ErrMalformed)
}

// Cancel logs why a step gives up on its instance and returns the cancelled state.
// Local faults are logged as errors, rejected guards at info level.
func Cancel(ctx Context, cancelled State, reason error) (State, error) {
	level := logging.LevelInfo
	if errors.Is(reason, ErrCollaboratorUnavailable) || errors.Is(reason, ErrEncodingFault) {
		level = logging.LevelError
	}
	ctx.Logger().Log(level, "Cancelling protocol instance.", "reason", reason.Error())
	return cancelled, nil
}

// Reject is a shorthand for cancelling because a precondition does not hold.
func Reject(ctx Context, cancelled State, format string, args ...interface{}) (State, error) {
	return Cancel(ctx, cancelled, errors.WithMessagef(ErrGuardRejected, format, args...))
}

// IsLocalFault returns true for errors a step handles by cancelling its instance.
func IsLocalFault(err error) bool {
	return errors.Is(err, ErrCollaboratorUnavailable) || errors.Is(err, ErrEncodingFault)
}

// IsRefused returns true for collaborator errors refusing what a message asked for.
// Such a message passed its guards but does not fit the local view, so its instance is cancelled.
func IsRefused(err error) bool {
	return errors.Is(err, ErrGuardRejected) ||
		errors.Is(err, modules.ErrUnknownGroup) ||
		errors.Is(err, modules.ErrOwnGroup)
}

// Fail turns the error of a collaborator call into the result of a step.
// Local faults and refusals cancel the instance, any other error aborts the dispatch.
func Fail(ctx Context, cancelled State, err error) (State, error) {
	if IsLocalFault(err) || IsRefused(err) {
		return Cancel(ctx, cancelled, err)
	}
	return nil, err
}
