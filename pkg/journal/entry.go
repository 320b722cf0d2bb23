/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package journal

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/modules"
	t "github.com/e2ee/protoengine/pkg/types"
)

type entryType uint64

const (
	entryDelivery entryType = 1
	entryDone     entryType = 2
)

// Field numbers of the protobuf wire layout of journal entries.
const (
	fieldType           protowire.Number = 1
	fieldDone           protowire.Number = 2
	fieldProtocol       protowire.Number = 3
	fieldUID            protowire.Number = 4
	fieldOwned          protowire.Number = 5
	fieldKind           protowire.Number = 6
	fieldInputs         protowire.Number = 7
	fieldProvenanceKind protowire.Number = 8
	fieldContact        protowire.Number = 9
	fieldDevice         protowire.Number = 10
	fieldDialogID       protowire.Number = 11
	fieldDecision       protowire.Number = 12
)

type entry struct {
	typ      entryType
	done     uint64
	delivery *modules.ReceivedMessage
}

func deliveryEntry(msg *modules.ReceivedMessage) (*entry, error) {
	for _, input := range msg.Inputs {
		if !input.IsValid() {
			return nil, errors.New("delivery with invalid input")
		}
	}
	return &entry{typ: entryDelivery, delivery: msg}, nil
}

func marshalEntry(e *entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.typ))

	if e.typ == entryDone {
		b = protowire.AppendTag(b, fieldDone, protowire.VarintType)
		return protowire.AppendVarint(b, e.done)
	}

	msg := e.delivery
	b = protowire.AppendTag(b, fieldProtocol, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.Protocol.Pb())
	b = protowire.AppendTag(b, fieldUID, protowire.BytesType)
	b = protowire.AppendBytes(b, msg.UID[:])
	b = protowire.AppendTag(b, fieldOwned, protowire.BytesType)
	b = protowire.AppendBytes(b, msg.Owned.Bytes())
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.Kind.Pb())
	b = protowire.AppendTag(b, fieldInputs, protowire.BytesType)
	b = protowire.AppendBytes(b, encoding.MarshalList(msg.Inputs))

	p := msg.Provenance
	b = protowire.AppendTag(b, fieldProvenanceKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(p.Kind))
	if !p.Contact.IsEmpty() {
		b = protowire.AppendTag(b, fieldContact, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Contact.Bytes())
	}
	if !p.Device.IsZero() {
		b = protowire.AppendTag(b, fieldDevice, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Device[:])
	}
	if !p.DialogID.IsZero() {
		b = protowire.AppendTag(b, fieldDialogID, protowire.BytesType)
		b = protowire.AppendBytes(b, p.DialogID[:])
	}
	if p.Decision.IsValid() {
		b = protowire.AppendTag(b, fieldDecision, protowire.BytesType)
		b = protowire.AppendBytes(b, encoding.Marshal(p.Decision))
	}
	return b
}

func unmarshalEntry(b []byte) (*entry, error) {
	e := &entry{}
	msg := &modules.ReceivedMessage{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldType:
				e.typ = entryType(v)
			case fieldDone:
				e.done = v
			case fieldProtocol:
				msg.Protocol = t.ProtocolKind(v)
			case fieldKind:
				msg.Kind = t.MessageKind(v)
			case fieldProvenanceKind:
				msg.Provenance.Kind = modules.ProvenanceKind(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			if err := setBytesField(msg, num, v); err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}

	switch e.typ {
	case entryDelivery:
		e.delivery = msg
	case entryDone:
	default:
		return nil, errors.Errorf("unknown entry type %d", e.typ)
	}
	return e, nil
}

func setBytesField(msg *modules.ReceivedMessage, num protowire.Number, v []byte) error {
	var err error
	switch num {
	case fieldUID:
		msg.UID, err = t.UIDFromBytes(v)
	case fieldOwned:
		msg.Owned = t.IdentityFromBytes(append([]byte(nil), v...))
	case fieldInputs:
		msg.Inputs, err = encoding.UnmarshalList(v)
	case fieldContact:
		msg.Provenance.Contact = t.IdentityFromBytes(append([]byte(nil), v...))
	case fieldDevice:
		msg.Provenance.Device, err = t.UIDFromBytes(v)
	case fieldDialogID:
		copy(msg.Provenance.DialogID[:], v)
	case fieldDecision:
		msg.Provenance.Decision, err = encoding.Unmarshal(v)
	}
	return err
}
