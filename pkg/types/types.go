/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/e2ee/protoengine/pkg/encoding"
)

// ================================================================================

// ProtocolKind identifies a protocol. The numeric values are persisted and sent over the wire,
// so a value must never be reused for a different protocol.
type ProtocolKind uint32

const (
	ChannelEstablishment ProtocolKind = 0
	DeviceDiscovery      ProtocolKind = 1
	TrustEstablishment   ProtocolKind = 2
	MutualIntroduction   ProtocolKind = 3
	GroupInvitation      ProtocolKind = 4
	GroupManagement      ProtocolKind = 5
)

var protocolKindNames = map[ProtocolKind]string{
	ChannelEstablishment: "ChannelEstablishment",
	DeviceDiscovery:      "DeviceDiscovery",
	TrustEstablishment:   "TrustEstablishment",
	MutualIntroduction:   "MutualIntroduction",
	GroupInvitation:      "GroupInvitation",
	GroupManagement:      "GroupManagement",
}

func (pk ProtocolKind) String() string {
	if name, ok := protocolKindNames[pk]; ok {
		return name
	}
	return fmt.Sprintf("Protocol(%d)", uint32(pk))
}

// Pb converts a ProtocolKind to its underlying native type.
func (pk ProtocolKind) Pb() uint64 {
	return uint64(pk)
}

// ================================================================================

// StateKind is the tag of a concrete protocol state. Tags are only unique within one protocol.
type StateKind uint32

// Pb converts a StateKind to its underlying native type.
func (sk StateKind) Pb() uint64 {
	return uint64(sk)
}

// MessageKind is the tag of a concrete protocol message. Tags are only unique within one protocol.
type MessageKind uint32

// Pb converts a MessageKind to its underlying native type.
func (mk MessageKind) Pb() uint64 {
	return uint64(mk)
}

// StepID identifies a step within one protocol.
type StepID uint32

// ================================================================================

// UIDLen is the length in bytes of a UID.
const UIDLen = 32

// UID is a 256-bit identifier, used for protocol instances, groups and devices.
type UID [UIDLen]byte

// NewRandomUID returns a fresh UID read from the system's cryptographic random source.
func NewRandomUID() (UID, error) {
	var uid UID
	if _, err := rand.Read(uid[:]); err != nil {
		return UID{}, errors.WithMessage(err, "could not read random bytes")
	}
	return uid, nil
}

// DeriveUID deterministically derives a UID from a domain separation label and some context.
// All parties knowing the same context obtain the same UID without having to exchange it.
func DeriveUID(label string, context ...[]byte) UID {
	h := sha3.New256()
	h.Write([]byte(label))
	for _, c := range context {
		// Length-prefix every part so that different splits of the same bytes do not collide.
		h.Write([]byte{byte(len(c) >> 8), byte(len(c))})
		h.Write(c)
	}
	var uid UID
	copy(uid[:], h.Sum(nil))
	return uid
}

// UIDFromBytes converts a byte slice of length UIDLen to a UID.
func UIDFromBytes(b []byte) (UID, error) {
	var uid UID
	if len(b) != UIDLen {
		return uid, errors.Errorf("invalid UID length: %d", len(b))
	}
	copy(uid[:], b)
	return uid, nil
}

// IsZero returns true if all bytes of the UID are zero.
func (u UID) IsZero() bool {
	return u == UID{}
}

func (u UID) String() string {
	return hex.EncodeToString(u[:4])
}

// Encode returns the wire representation of the UID.
func (u UID) Encode() encoding.Value {
	return encoding.Bytes(u[:])
}

// DecodeUID parses a UID from its wire representation.
func DecodeUID(v encoding.Value) (UID, error) {
	b, err := v.AsBytes()
	if err != nil {
		return UID{}, err
	}
	if len(b) != UIDLen {
		return UID{}, encoding.Malformed("uid", errors.Errorf("length %d", len(b)))
	}
	return UIDFromBytes(b)
}

// ================================================================================

// Identity is the canonical byte representation of a cryptographic identity.
// The bytes are held in a string so that identities can be compared and used as map keys.
type Identity string

// IdentityFromBytes converts raw identity bytes to an Identity.
func IdentityFromBytes(b []byte) Identity {
	return Identity(b)
}

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte {
	return []byte(id)
}

// IsEmpty returns true for the zero Identity.
func (id Identity) IsEmpty() bool {
	return len(id) == 0
}

func (id Identity) String() string {
	b := []byte(id)
	if len(b) > 6 {
		b = b[:6]
	}
	return hex.EncodeToString(b)
}

// Encode returns the wire representation of the identity.
func (id Identity) Encode() encoding.Value {
	return encoding.Bytes([]byte(id))
}

// DecodeIdentity parses an identity from its wire representation. Empty identities are rejected.
func DecodeIdentity(v encoding.Value) (Identity, error) {
	b, err := v.AsBytes()
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", encoding.Malformed("identity", errors.New("empty"))
	}
	return Identity(b), nil
}

// SortIdentities sorts a slice of identities in place by their byte representation.
func SortIdentities(ids []Identity) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare([]byte(ids[i]), []byte(ids[j])) < 0
	})
}

// ================================================================================

// InstanceID identifies a protocol instance.
// Global uniqueness of the UID is only required per (Protocol, Owned).
type InstanceID struct {
	Protocol ProtocolKind
	UID      UID
	Owned    Identity
}

func (iid InstanceID) String() string {
	return fmt.Sprintf("%s/%s@%s", iid.Protocol, iid.UID, iid.Owned)
}

// ================================================================================

// TrustLevel is the locally computed confidence in a contact's identity.
// Higher values mean more trust.
type TrustLevel int

// Pb converts a TrustLevel to its underlying native type.
func (tl TrustLevel) Pb() int64 {
	return int64(tl)
}

// Encode returns the wire representation of the trust level.
func (tl TrustLevel) Encode() encoding.Value {
	return encoding.Int(int64(tl))
}

// DecodeTrustLevel parses a trust level from its wire representation.
func DecodeTrustLevel(v encoding.Value) (TrustLevel, error) {
	i, err := v.AsInt()
	if err != nil {
		return 0, err
	}
	return TrustLevel(i), nil
}

// ================================================================================

// DialogID correlates a user-facing dialog with the answer that eventually comes back for it.
type DialogID uuid.UUID

// NewDialogID returns a fresh random DialogID.
func NewDialogID() DialogID {
	return DialogID(uuid.New())
}

// IsZero returns true for the zero DialogID.
func (d DialogID) IsZero() bool {
	return d == DialogID{}
}

func (d DialogID) String() string {
	return uuid.UUID(d).String()
}

// Encode returns the wire representation of the dialog ID.
func (d DialogID) Encode() encoding.Value {
	return encoding.Bytes(d[:])
}

// DecodeDialogID parses a DialogID from its wire representation.
func DecodeDialogID(v encoding.Value) (DialogID, error) {
	b, err := v.AsBytes()
	if err != nil {
		return DialogID{}, err
	}
	id, err := uuid.FromBytes(b)
	if err != nil {
		return DialogID{}, encoding.Malformed("dialog id", err)
	}
	return DialogID(id), nil
}
