/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package modules

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/groups"
	t "github.com/e2ee/protoengine/pkg/types"
)

// Errors an IdentityDelegate returns when it refuses a group mutation.
// They are matched with errors.Is.
var (
	// ErrUnknownGroup is returned by mutations of groups the owned identity does not know.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrOwnGroup is returned by joined group operations addressing a group owned by the owned identity.
	ErrOwnGroup = errors.New("group is owned by the identity itself")
)

// IdentityDelegate gives access to the contacts, trust levels, devices and groups of the owned identities.
// All methods operate within the transaction of the calling step.
// Groups are addressed by (owner, group UID). For groups owned by the owned identity, owner == owned.
type IdentityDelegate interface {

	// OtherOwnedDevices returns the UIDs of the owned identity's devices except the current one.
	OtherOwnedDevices(tx Tx, owned t.Identity) ([]t.UID, error)

	// ContactTrustLevel returns the current trust level of the owned identity in contact.
	ContactTrustLevel(tx Tx, owned, contact t.Identity) (t.TrustLevel, error)

	// IsContactActive returns false for unknown or revoked contacts.
	IsContactActive(tx Tx, owned, contact t.Identity) (bool, error)

	// Group returns the owned identity's view of a group, or nil if the group is not known.
	Group(tx Tx, owned, owner t.Identity, uid t.UID) (*groups.Group, error)

	// CreateJoinedGroup records that owned joined a group owned by someone else.
	CreateJoinedGroup(tx Tx, owned t.Identity, info groups.Information, members []groups.Member, pending []groups.PendingMember) error

	// UpdateJoinedGroupInformation overwrites the descriptor of a joined group.
	UpdateJoinedGroupInformation(tx Tx, owned t.Identity, info groups.Information) error

	// ResetJoinedGroupMembersVersion forces the next member list received from the owner to be applied.
	ResetJoinedGroupMembersVersion(tx Tx, owned, owner t.Identity, uid t.UID) error

	// UpdateJoinedGroupMembers replaces the member lists of a joined group
	// if version is newer than the locally applied one. It returns whether the lists were replaced.
	UpdateJoinedGroupMembers(tx Tx, owned t.Identity, info groups.Information, members []groups.Member, pending []groups.PendingMember, version uint64) (bool, error)

	// DeleteJoinedGroup forgets a joined group. Deleting an unknown group is not an error.
	DeleteJoinedGroup(tx Tx, owned, owner t.Identity, uid t.UID) error

	// ConfirmPendingMember moves member from the pending list of an owned group to its members.
	// If membership changed, onChanged is invoked synchronously within tx, after the mutation is visible in tx.
	ConfirmPendingMember(tx Tx, owned t.Identity, uid t.UID, member t.Identity, onChanged func() error) error

	// DeclinePendingMember marks the pending entry of member in an owned group as declined.
	DeclinePendingMember(tx Tx, owned t.Identity, uid t.UID, member t.Identity) error

	// DemoteMemberToDeclined moves a confirmed member of an owned group back to the pending list, marked declined.
	// onChanged is invoked as for ConfirmPendingMember.
	DemoteMemberToDeclined(tx Tx, owned t.Identity, uid t.UID, member t.Identity, onChanged func() error) error
}
