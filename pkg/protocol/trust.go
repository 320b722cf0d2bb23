/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"fmt"

	"github.com/pkg/errors"

	t "github.com/e2ee/protoengine/pkg/types"
)

// TrustPolicy holds the thresholds gating automatic decisions on messages from contacts.
type TrustPolicy struct {

	// Messages from contacts trusted at least this much are acted upon without asking the user.
	AutoAccept t.TrustLevel

	// Below this level, the user is asked to increase trust before deciding.
	Minimum t.TrustLevel
}

// DefaultTrustPolicy returns the thresholds used when nothing else is configured.
func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{
		AutoAccept: 3,
		Minimum:    2,
	}
}

// Check returns an error if the policy is not usable.
func (tp TrustPolicy) Check() error {

	// The thresholds must be ascending.
	if tp.Minimum > tp.AutoAccept {
		return errors.Errorf("minimum trust level (%d) exceeds auto-accept trust level (%d)", tp.Minimum, tp.AutoAccept)
	}

	return nil
}

// TrustDecision is the outcome of comparing a trust level against a TrustPolicy.
type TrustDecision int

const (
	// TrustAutoAccept means the request can be accepted without involving the user.
	TrustAutoAccept TrustDecision = iota

	// TrustAskUser means the user has to decide.
	TrustAskUser

	// TrustTooLow means the user is asked to increase the trust level first.
	TrustTooLow
)

func (td TrustDecision) String() string {
	switch td {
	case TrustAutoAccept:
		return "AutoAccept"
	case TrustAskUser:
		return "AskUser"
	case TrustTooLow:
		return "TooLow"
	default:
		return fmt.Sprintf("TrustDecision(%d)", int(td))
	}
}

// Decide classifies a trust level.
func (tp TrustPolicy) Decide(level t.TrustLevel) TrustDecision {
	switch {
	case level >= tp.AutoAccept:
		return TrustAutoAccept
	case level >= tp.Minimum:
		return TrustAskUser
	default:
		return TrustTooLow
	}
}
