/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"fmt"

	"github.com/e2ee/protoengine/pkg/modules"
)

// ChannelGuard is the reception channel a transition requires.
// It only checks the kind of channel. Checking which contact sent a message is left to the step,
// since the expected contact usually depends on the message content.
type ChannelGuard int

const (
	// GuardLocal admits messages originating from this device.
	GuardLocal ChannelGuard = iota

	// GuardContact admits messages received over a confirmed channel with a contact.
	GuardContact

	// GuardOwnedDevice admits messages received over a confirmed channel with another owned device.
	GuardOwnedDevice

	// GuardDialogResponse admits user answers to dialogs.
	GuardDialogResponse
)

// Admits returns true if a message with the given provenance may trigger a transition with this guard.
func (g ChannelGuard) Admits(p modules.Provenance) bool {
	switch g {
	case GuardLocal:
		return p.Kind == modules.ProvenanceLocal
	case GuardContact:
		return p.Kind == modules.ProvenanceContact && !p.Contact.IsEmpty()
	case GuardOwnedDevice:
		return p.Kind == modules.ProvenanceOwnedDevice
	case GuardDialogResponse:
		return p.Kind == modules.ProvenanceDialogResponse && !p.DialogID.IsZero()
	default:
		return false
	}
}

func (g ChannelGuard) String() string {
	switch g {
	case GuardLocal:
		return "Local"
	case GuardContact:
		return "Contact"
	case GuardOwnedDevice:
		return "OwnedDevice"
	case GuardDialogResponse:
		return "DialogResponse"
	default:
		return fmt.Sprintf("Guard(%d)", int(g))
	}
}
