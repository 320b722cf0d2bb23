/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package encoding

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformed is matched (via errors.Is) by every error the decoder returns.
	ErrMalformed = errors.New("encoding: malformed value")

	ErrShortHeader   = errors.New("encoding: short value header")
	ErrShortValue    = errors.New("encoding: short value payload")
	ErrTrailingData  = errors.New("encoding: trailing data")
	ErrUnknownType   = errors.New("encoding: unknown type")
	ErrTypeMismatch  = errors.New("encoding: type mismatch")
	ErrInvalidLength = errors.New("encoding: invalid length")
	ErrInvalidUTF8   = errors.New("encoding: invalid utf-8")
	ErrArity         = errors.New("encoding: unexpected element count")
	ErrTooDeep       = errors.New("encoding: nesting too deep")
)

// DecodeError describes why untrusted input could not be decoded.
type DecodeError struct {
	// What was being decoded when the failure occurred.
	Op string

	// The underlying cause, usually one of the sentinel errors of this package.
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes every DecodeError match ErrMalformed.
func (e *DecodeError) Is(target error) bool {
	return target == ErrMalformed
}

// Malformed wraps err into a DecodeError, prefixing the operation with what.
// Errors that already are DecodeErrors keep their cause.
func Malformed(what string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return &DecodeError{Op: what + ": " + de.Op, Err: de.Err}
	}
	return &DecodeError{Op: what, Err: err}
}
