/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import (
	"fmt"

	"github.com/e2ee/protoengine/pkg/encoding"
	t "github.com/e2ee/protoengine/pkg/types"
)

// ProvenanceKind classifies how an inbound message reached the engine.
type ProvenanceKind int

const (
	// ProvenanceLocal marks messages originating from the application on this device,
	// including messages synthesized by the engine itself.
	ProvenanceLocal ProvenanceKind = iota

	// ProvenanceContact marks messages received over a confirmed secure channel with a contact.
	ProvenanceContact

	// ProvenanceOwnedDevice marks messages received over a confirmed secure channel with another device
	// of the owned identity.
	ProvenanceOwnedDevice

	// ProvenanceDialogResponse marks the user's answer to a dialog previously requested by a step.
	ProvenanceDialogResponse
)

func (pk ProvenanceKind) String() string {
	switch pk {
	case ProvenanceLocal:
		return "Local"
	case ProvenanceContact:
		return "Contact"
	case ProvenanceOwnedDevice:
		return "OwnedDevice"
	case ProvenanceDialogResponse:
		return "DialogResponse"
	default:
		return fmt.Sprintf("Provenance(%d)", int(pk))
	}
}

// Provenance describes where an inbound message came from.
// It is established by the channel delegate (or the engine itself) and can be relied on.
type Provenance struct {
	Kind ProvenanceKind

	// Remote identity, for ProvenanceContact.
	Contact t.Identity

	// Sending device, for ProvenanceOwnedDevice.
	Device t.UID

	// Answered dialog and the user's decision, for ProvenanceDialogResponse.
	DialogID t.DialogID
	Decision encoding.Value
}

func LocalProvenance() Provenance {
	return Provenance{Kind: ProvenanceLocal}
}

func ContactProvenance(contact t.Identity) Provenance {
	return Provenance{Kind: ProvenanceContact, Contact: contact}
}

func OwnedDeviceProvenance(device t.UID) Provenance {
	return Provenance{Kind: ProvenanceOwnedDevice, Device: device}
}

func DialogResponseProvenance(dialogID t.DialogID, decision encoding.Value) Provenance {
	return Provenance{Kind: ProvenanceDialogResponse, DialogID: dialogID, Decision: decision}
}

func (p Provenance) String() string {
	switch p.Kind {
	case ProvenanceContact:
		return fmt.Sprintf("Contact(%s)", p.Contact)
	case ProvenanceOwnedDevice:
		return fmt.Sprintf("OwnedDevice(%s)", p.Device)
	case ProvenanceDialogResponse:
		return fmt.Sprintf("DialogResponse(%s)", p.DialogID)
	default:
		return p.Kind.String()
	}
}

// ================================================================================

// DestinationKind selects the recipients of an outbound message.
type DestinationKind int

const (
	// DestinationContacts sends over all confirmed channels with each of the listed contacts.
	DestinationContacts DestinationKind = iota

	// DestinationOwnedDevices sends over all confirmed channels with the other devices of the owned identity.
	DestinationOwnedDevices

	// DestinationLocal loops the message back to this device.
	DestinationLocal

	// DestinationDialog shows (or, for DialogDelete, retracts) a user-facing dialog.
	DestinationDialog
)

func (dk DestinationKind) String() string {
	switch dk {
	case DestinationContacts:
		return "Contacts"
	case DestinationOwnedDevices:
		return "OwnedDevices"
	case DestinationLocal:
		return "Local"
	case DestinationDialog:
		return "Dialog"
	default:
		return fmt.Sprintf("Destination(%d)", int(dk))
	}
}

// Destination is where an outbound message goes.
type Destination struct {
	Kind     DestinationKind
	Contacts []t.Identity
	Dialog   *Dialog
}

func ToContacts(contacts ...t.Identity) Destination {
	return Destination{Kind: DestinationContacts, Contacts: contacts}
}

func ToOwnedDevices() Destination {
	return Destination{Kind: DestinationOwnedDevices}
}

func ToLocal() Destination {
	return Destination{Kind: DestinationLocal}
}

func ToDialog(dialog *Dialog) Destination {
	return Destination{Kind: DestinationDialog, Dialog: dialog}
}

func (d Destination) String() string {
	switch d.Kind {
	case DestinationContacts:
		return fmt.Sprintf("Contacts%v", d.Contacts)
	case DestinationDialog:
		if d.Dialog == nil {
			return "Dialog(nil)"
		}
		return fmt.Sprintf("Dialog(%s, %s)", d.Dialog.ID, d.Dialog.Category)
	default:
		return d.Kind.String()
	}
}

// ================================================================================

// DialogCategory tells the user interface what kind of prompt to render.
type DialogCategory int

const (
	// DialogAcceptGroupInvite asks whether to join a group. Answered with a boolean decision.
	DialogAcceptGroupInvite DialogCategory = iota

	// DialogIncreaseGroupOwnerTrustLevel informs the user that a group invitation is held back
	// until the trust level in the group owner increases. It can still be answered with a boolean decision.
	DialogIncreaseGroupOwnerTrustLevel

	// DialogDelete retracts a previously shown dialog.
	DialogDelete
)

func (dc DialogCategory) String() string {
	switch dc {
	case DialogAcceptGroupInvite:
		return "AcceptGroupInvite"
	case DialogIncreaseGroupOwnerTrustLevel:
		return "IncreaseGroupOwnerTrustLevel"
	case DialogDelete:
		return "Delete"
	default:
		return fmt.Sprintf("DialogCategory(%d)", int(dc))
	}
}

// Dialog is a prompt (or informative display) requested by a step.
// The answer, if any, is delivered later as a message of the kind the dialog was sent with,
// carrying a ProvenanceDialogResponse with the same ID.
type Dialog struct {
	ID       t.DialogID
	Category DialogCategory

	// Content to render, e.g. the group descriptor and the inviter.
	Payload encoding.Value
}

// DeleteDialog returns a dialog retracting the dialog with the given ID.
func DeleteDialog(id t.DialogID) *Dialog {
	return &Dialog{ID: id, Category: DialogDelete}
}

// ================================================================================

// ReceivedMessage is an inbound protocol message as handed to the runtime.
// The message kind is carried out of band and never inferred from the inputs.
type ReceivedMessage struct {
	Protocol t.ProtocolKind
	UID      t.UID
	Owned    t.Identity
	Kind     t.MessageKind

	// Fixed-arity list of encoded inputs, as defined by the message kind.
	Inputs []encoding.Value

	Provenance Provenance
}

// InstanceID returns the ID of the protocol instance the message is addressed to.
func (rm *ReceivedMessage) InstanceID() t.InstanceID {
	return t.InstanceID{Protocol: rm.Protocol, UID: rm.UID, Owned: rm.Owned}
}

// OutboundMessage is a protocol message handed to the channel delegate.
type OutboundMessage struct {
	Protocol t.ProtocolKind
	UID      t.UID
	Owned    t.Identity
	Kind     t.MessageKind
	Inputs   []encoding.Value

	Destination Destination
}

// ReceivedBy returns the message as it is delivered to the given provenance.
func (om *OutboundMessage) ReceivedBy(owned t.Identity, provenance Provenance) *ReceivedMessage {
	return &ReceivedMessage{
		Protocol:   om.Protocol,
		UID:        om.UID,
		Owned:      owned,
		Kind:       om.Kind,
		Inputs:     om.Inputs,
		Provenance: provenance,
	}
}
