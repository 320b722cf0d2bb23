/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runtime

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/store"
	t "github.com/e2ee/protoengine/pkg/types"
)

// execContext is the protocol.Context of one step execution.
type execContext struct {
	runtime    *Runtime
	tx         *store.Tx
	instance   t.InstanceID
	provenance modules.Provenance
	logger     logging.Logger
}

var _ protocol.Context = (*execContext)(nil)

func (ec *execContext) Instance() t.InstanceID {
	return ec.instance
}

func (ec *execContext) Provenance() modules.Provenance {
	return ec.provenance
}

func (ec *execContext) Tx() modules.Tx {
	return ec.tx
}

func (ec *execContext) Logger() logging.Logger {
	return ec.logger
}

func (ec *execContext) Trust() protocol.TrustPolicy {
	return ec.runtime.config.Trust
}

func (ec *execContext) Identity() (modules.IdentityDelegate, error) {
	if ec.runtime.modules.Identity == nil {
		return nil, errors.WithMessage(protocol.ErrCollaboratorUnavailable, "no identity delegate")
	}
	return ec.runtime.modules.Identity, nil
}

func (ec *execContext) Send(msg protocol.Message, dest modules.Destination) error {
	return ec.SendTo(ec.instance.Protocol, ec.instance.UID, msg, dest)
}

func (ec *execContext) SendTo(protocolKind t.ProtocolKind, uid t.UID, msg protocol.Message, dest modules.Destination) error {
	channel := ec.runtime.modules.Channel
	if channel == nil {
		return errors.WithMessage(protocol.ErrCollaboratorUnavailable, "no channel delegate")
	}

	inputs, err := msg.Encode()
	if err != nil {
		return errors.WithMessagef(protocol.ErrEncodingFault, "message kind %d: %v", msg.Kind(), err)
	}
	for i, input := range inputs {
		if !input.IsValid() {
			return errors.WithMessagef(protocol.ErrEncodingFault, "message kind %d: invalid input %d", msg.Kind(), i)
		}
	}

	switch dest.Kind {
	case modules.DestinationContacts:
		if len(dest.Contacts) == 0 {
			return errors.New("no contacts to send to")
		}
	case modules.DestinationDialog:
		if dest.Dialog == nil || dest.Dialog.ID.IsZero() {
			return errors.New("dialog destination without dialog")
		}
	}

	ec.logger.Log(logging.LevelDebug, "Posting message.",
		"protocol", protocolKind.String(), "kind", int(msg.Kind()), "dest", dest.String())
	return channel.Post(ec.tx, &modules.OutboundMessage{
		Protocol:    protocolKind,
		UID:         uid,
		Owned:       ec.instance.Owned,
		Kind:        msg.Kind(),
		Inputs:      inputs,
		Destination: dest,
	})
}

func (ec *execContext) RequestDialog(msg protocol.Message, dialog *modules.Dialog) error {
	return ec.Send(msg, modules.ToDialog(dialog))
}

func (ec *execContext) WaitForTrustLevel(contact t.Identity, target t.TrustLevel, kind t.MessageKind) error {
	ec.logger.Log(logging.LevelDebug, "Waiting for trust level.", "contact", contact.String(), "target", int(target))
	return ec.tx.InsertWaiter(&store.Waiter{
		Owned:    ec.instance.Owned,
		Contact:  contact,
		Target:   target,
		Kind:     kind,
		Instance: ec.instance,
	})
}

func (ec *execContext) StopWaiting(contact t.Identity) error {
	return ec.tx.DeleteWaiters(ec.instance, contact)
}
