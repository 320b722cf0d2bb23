/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package groupmanagement

import (
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

// ownedGroup loads a group owned by the owned identity and checks the instance belongs to it.
func ownedGroup(ctx protocol.Context, groupUID t.UID) (*groups.Group, error) {
	owned := ctx.Instance().Owned
	if InstanceUID(owned, groupUID) != ctx.Instance().UID {
		return nil, errors.WithMessagef(protocol.ErrGuardRejected, "instance does not belong to group %s", groupUID)
	}
	identity, err := ctx.Identity()
	if err != nil {
		return nil, err
	}
	return identity.Group(ctx.Tx(), owned, owned, groupUID)
}

func newMembersOf(group *groups.Group) *NewMembersMessage {
	return &NewMembersMessage{
		Info:    group.Information,
		Members: group.Members,
		Pending: group.Pending,
		Version: group.MembersVersion,
	}
}

// publishMembers sends the member list of an owned group to all its members.
type publishMembers struct {
	ctx protocol.Context
	msg *MembersChangedMessage
}

func (s *publishMembers) Execute() (protocol.State, error) {
	group, err := ownedGroup(s.ctx, s.msg.GroupUID)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if group == nil {
		s.ctx.Logger().Log(logging.LevelDebug, "Group is gone, nothing to publish.")
		return FinalState, nil
	}

	members := group.MemberIdentities()
	if len(members) == 0 {
		return FinalState, nil
	}
	if err := s.ctx.Send(newMembersOf(group), modules.ToContacts(members...)); err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	return FinalState, nil
}

// updateMembers sends the member list of an owned group to one member.
type updateMembers struct {
	ctx protocol.Context
	msg *TriggerUpdateMembersMessage
}

func (s *updateMembers) Execute() (protocol.State, error) {
	group, err := ownedGroup(s.ctx, s.msg.GroupUID)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if group == nil || !group.HasMember(s.msg.Member) || s.msg.Member == group.Information.Owner {
		s.ctx.Logger().Log(logging.LevelDebug, "Not a member anymore, no update sent.", "member", s.msg.Member.String())
		return FinalState, nil
	}

	if err := s.ctx.Send(newMembersOf(group), modules.ToContacts(s.msg.Member)); err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	return FinalState, nil
}

// processNewMembers applies a member list received from the owner of a joined group.
type processNewMembers struct {
	ctx protocol.Context
	msg *NewMembersMessage
}

func (s *processNewMembers) Execute() (protocol.State, error) {
	owned := s.ctx.Instance().Owned
	info := s.msg.Info
	if info.Owner != s.ctx.Provenance().Contact {
		return protocol.Reject(s.ctx, CancelledState, "member list of %s sent by %s", info.Owner, s.ctx.Provenance().Contact)
	}
	if info.Owner == owned {
		return protocol.Reject(s.ctx, CancelledState, "member list of an owned group")
	}

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	group, err := identity.Group(s.ctx.Tx(), owned, info.Owner, info.UID)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if group == nil {
		// Not joined (yet). The invitation protocol creates the group.
		return FinalState, nil
	}

	stillMember := false
	for _, m := range s.msg.Members {
		if m.Identity == owned {
			stillMember = true
			break
		}
	}
	if !stillMember {
		s.ctx.Logger().Log(logging.LevelInfo, "Removed from group.", "group", info.UID.String())
		if err := identity.DeleteJoinedGroup(s.ctx.Tx(), owned, info.Owner, info.UID); err != nil {
			return protocol.Fail(s.ctx, CancelledState, err)
		}
		return FinalState, nil
	}

	applied, err := identity.UpdateJoinedGroupMembers(s.ctx.Tx(), owned, info, s.msg.Members, s.msg.Pending, s.msg.Version)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if !applied {
		s.ctx.Logger().Log(logging.LevelDebug, "Ignoring outdated member list.", "version", s.msg.Version)
	}
	return FinalState, nil
}

// processKick removes a joined group whose owner kicked the owned identity.
type processKick struct {
	ctx protocol.Context
	msg *KickFromGroupMessage
}

func (s *processKick) Execute() (protocol.State, error) {
	owned := s.ctx.Instance().Owned
	info := s.msg.Info
	if info.Owner != s.ctx.Provenance().Contact {
		return protocol.Reject(s.ctx, CancelledState, "kick from group of %s sent by %s", info.Owner, s.ctx.Provenance().Contact)
	}
	if info.Owner == owned {
		return protocol.Reject(s.ctx, CancelledState, "kick from an owned group")
	}

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	if err := identity.DeleteJoinedGroup(s.ctx.Tx(), owned, info.Owner, info.UID); err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	s.ctx.Logger().Log(logging.LevelInfo, "Kicked from group.", "group", info.UID.String())
	return FinalState, nil
}
