/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package groupinvitation

import (
	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/protocols/groupmanagement"
	t "github.com/e2ee/protoengine/pkg/types"
)

// ================================================================================
// Owner side
// ================================================================================

// sendInvitation sends the invitation of an owned group to a contact.
type sendInvitation struct {
	ctx protocol.Context
	msg *InitialMessage
}

func (s *sendInvitation) Execute() (protocol.State, error) {
	owned := s.ctx.Instance().Owned
	if s.msg.Info.Owner != owned {
		return protocol.Reject(s.ctx, CancelledState, "cannot invite to a group owned by %s", s.msg.Info.Owner)
	}
	if _, ok := groups.FindPending(s.msg.Pending, s.msg.Contact); !ok {
		return protocol.Reject(s.ctx, CancelledState, "invited contact %s is not a pending member", s.msg.Contact)
	}

	invitation := &InvitationMessage{Info: s.msg.Info, Pending: s.msg.Pending}
	if err := s.ctx.Send(invitation, modules.ToContacts(s.msg.Contact)); err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	return InvitationSentState, nil
}

// processResponse handles the answer of an invited contact.
// The owner keeps no state per invitation, so the answer is checked against the current group.
type processResponse struct {
	ctx protocol.Context
	msg *InvitationResponseMessage
}

func (s *processResponse) Execute() (protocol.State, error) {
	owned := s.ctx.Instance().Owned
	replier := s.ctx.Provenance().Contact
	groupUID := s.msg.GroupUID

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	group, err := identity.Group(s.ctx.Tx(), owned, owned, groupUID)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}

	gmUID := groupmanagement.InstanceUID(owned, groupUID)
	kick := func(info groups.Information) {
		protocol.SendBestEffort(s.ctx, t.GroupManagement, gmUID,
			&groupmanagement.KickFromGroupMessage{Info: info}, modules.ToContacts(replier))
	}
	membersChanged := func() error {
		return s.ctx.SendTo(t.GroupManagement, gmUID,
			&groupmanagement.MembersChangedMessage{GroupUID: groupUID}, modules.ToLocal())
	}
	logger := logging.Decorate(s.ctx.Logger(), "", "group", groupUID.String(), "replier", replier.String())

	if group == nil {
		logger.Log(logging.LevelInfo, "Response for an unknown group, kicking replier.")
		kick(groups.Placeholder(owned, groupUID))
		return ResponseReceivedState, nil
	}

	if group.HasMember(replier) {
		if s.msg.Accepted {
			// The member reset its member list version, send it the full list again.
			trigger := &groupmanagement.TriggerUpdateMembersMessage{GroupUID: groupUID, Member: replier}
			if err := s.ctx.SendTo(t.GroupManagement, gmUID, trigger, modules.ToLocal()); err != nil {
				return protocol.Cancel(s.ctx, CancelledState, err)
			}
			return ResponseReceivedState, nil
		}

		// A decline overtaken by an earlier accept.
		logger.Log(logging.LevelInfo, "Member declined, demoting.")
		if err := identity.DemoteMemberToDeclined(s.ctx.Tx(), owned, groupUID, replier, membersChanged); err != nil {
			return protocol.Fail(s.ctx, CancelledState, err)
		}
		kick(group.Information)
		return ResponseReceivedState, nil
	}

	if _, ok := group.PendingMember(replier); !ok {
		// The replier missed its removal from the group.
		logger.Log(logging.LevelInfo, "Response from a non-member, kicking replier.")
		kick(group.Information)
		return ResponseReceivedState, nil
	}

	if s.msg.Accepted {
		err = identity.ConfirmPendingMember(s.ctx.Tx(), owned, groupUID, replier, membersChanged)
	} else {
		err = identity.DeclinePendingMember(s.ctx.Tx(), owned, groupUID, replier)
	}
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	return ResponseReceivedState, nil
}

// ================================================================================
// Invitee side
// ================================================================================

// invitee holds what the invitee-side steps share about the invitation being decided on.
type invitee struct {
	ctx      protocol.Context
	identity modules.IdentityDelegate
	info     groups.Information
	pending  []groups.PendingMember
	dialogID t.DialogID
}

func (s *InvitationReceivedState) invitee(ctx protocol.Context, identity modules.IdentityDelegate) *invitee {
	return &invitee{ctx: ctx, identity: identity, info: s.Info, pending: s.Pending, dialogID: s.DialogID}
}

// isMember returns true if the owned identity already joined the group.
func (iv *invitee) isMember() (bool, error) {
	group, err := iv.identity.Group(iv.ctx.Tx(), iv.ctx.Instance().Owned, iv.info.Owner, iv.info.UID)
	return group != nil, err
}

// decide accepts the invitation, or asks the user and waits, depending on the trust level in the owner.
// Members accept right away so that resent invitations do not loop.
func (iv *invitee) decide(alreadyMember, dialogShown bool) (protocol.State, error) {
	owner := iv.info.Owner

	// Any previous waiter is replaced.
	if err := iv.ctx.StopWaiting(owner); err != nil {
		return nil, err
	}

	decision := protocol.TrustAutoAccept
	if !alreadyMember {
		level, err := iv.identity.ContactTrustLevel(iv.ctx.Tx(), iv.ctx.Instance().Owned, owner)
		if err != nil {
			return protocol.Fail(iv.ctx, CancelledState, err)
		}
		decision = iv.ctx.Trust().Decide(level)
		iv.ctx.Logger().Log(logging.LevelDebug, "Evaluated trust in group owner.",
			"level", int(level), "decision", decision.String())
	}

	switch decision {
	case protocol.TrustAutoAccept:
		if dialogShown {
			iv.retractDialog()
		}
		return iv.respond(true, alreadyMember)
	case protocol.TrustAskUser:
		return iv.wait(modules.DialogAcceptGroupInvite, iv.ctx.Trust().AutoAccept)
	default:
		return iv.wait(modules.DialogIncreaseGroupOwnerTrustLevel, iv.ctx.Trust().Minimum)
	}
}

// wait shows (or updates) the invitation dialog and waits for the trust level in the owner to reach target.
func (iv *invitee) wait(category modules.DialogCategory, target t.TrustLevel) (protocol.State, error) {
	dialog := &modules.Dialog{
		ID:       iv.dialogID,
		Category: category,
		Payload:  encoding.List(iv.info.Encode(), groups.EncodePendingMembers(iv.pending)),
	}
	if err := iv.ctx.RequestDialog(&DialogAcceptGroupInvitationMessage{}, dialog); err != nil {
		return protocol.Cancel(iv.ctx, CancelledState, err)
	}
	if err := iv.ctx.WaitForTrustLevel(iv.info.Owner, target, TrustLevelIncreasedMessageKind); err != nil {
		return nil, err
	}
	return &InvitationReceivedState{Info: iv.info, DialogID: iv.dialogID, Pending: iv.pending}, nil
}

// respond sends the answer to the owner and the other owned devices, and joins the group on accept.
func (iv *invitee) respond(accepted, alreadyMember bool) (protocol.State, error) {
	owned := iv.ctx.Instance().Owned

	response := &InvitationResponseMessage{GroupUID: iv.info.UID, Accepted: accepted}
	if err := iv.ctx.Send(response, modules.ToContacts(iv.info.Owner)); err != nil {
		return protocol.Cancel(iv.ctx, CancelledState, err)
	}

	devices, err := iv.identity.OtherOwnedDevices(iv.ctx.Tx(), owned)
	if err != nil {
		return protocol.Fail(iv.ctx, CancelledState, err)
	}
	if len(devices) > 0 {
		propagate := &PropagateInvitationResponseMessage{Info: iv.info, Pending: iv.pending, Accepted: accepted}
		protocol.SendBestEffort(iv.ctx, t.GroupInvitation, iv.ctx.Instance().UID, propagate, modules.ToOwnedDevices())
	}

	if accepted && !alreadyMember {
		if err := join(iv.ctx, iv.identity, iv.info, iv.pending); err != nil {
			return protocol.Fail(iv.ctx, CancelledState, err)
		}
	}
	return ResponseSentState, nil
}

func (iv *invitee) retractDialog() {
	if err := iv.ctx.RequestDialog(&DialogAcceptGroupInvitationMessage{}, modules.DeleteDialog(iv.dialogID)); err != nil {
		iv.ctx.Logger().Log(logging.LevelWarn, "Could not retract dialog.", "dialog", iv.dialogID.String(), "error", err.Error())
	}
}

// join records the group as joined. The member lists are filled in later by the owner.
func join(ctx protocol.Context, identity modules.IdentityDelegate, info groups.Information, pending []groups.PendingMember) error {
	owned := ctx.Instance().Owned
	others := make([]groups.PendingMember, 0, len(pending))
	for _, pm := range pending {
		if pm.Identity != owned {
			others = append(others, pm)
		}
	}
	ctx.Logger().Log(logging.LevelInfo, "Joining group.", "group", info.UID.String(), "owner", info.Owner.String())
	return identity.CreateJoinedGroup(ctx.Tx(), owned, info, nil, others)
}

// processInvitation decides on an invitation received from a group owner.
type processInvitation struct {
	ctx protocol.Context
	msg *InvitationMessage
}

func (s *processInvitation) Execute() (protocol.State, error) {
	owned := s.ctx.Instance().Owned
	info := s.msg.Info
	sender := s.ctx.Provenance().Contact

	if info.Owner != sender {
		return protocol.Reject(s.ctx, CancelledState, "invitation to a group of %s sent by %s", info.Owner, sender)
	}
	if info.Owner == owned {
		return protocol.Reject(s.ctx, CancelledState, "invitation to an owned group")
	}
	if _, ok := groups.FindPending(s.msg.Pending, owned); !ok {
		return protocol.Reject(s.ctx, CancelledState, "not among the invited members")
	}

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	iv := &invitee{
		ctx:      s.ctx,
		identity: identity,
		info:     info,
		pending:  s.msg.Pending,
		dialogID: t.NewDialogID(),
	}

	alreadyMember, err := iv.isMember()
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if alreadyMember {
		// The invitation is authoritative. Force a full member list resync.
		if err := identity.UpdateJoinedGroupInformation(s.ctx.Tx(), owned, info); err != nil {
			return protocol.Fail(s.ctx, CancelledState, err)
		}
		if err := identity.ResetJoinedGroupMembersVersion(s.ctx.Tx(), owned, info.Owner, info.UID); err != nil {
			return protocol.Fail(s.ctx, CancelledState, err)
		}
	}
	return iv.decide(alreadyMember, false)
}

// processDialogResponse applies the user's answer to the invitation dialog.
type processDialogResponse struct {
	ctx   protocol.Context
	start *InvitationReceivedState
	msg   *DialogAcceptGroupInvitationMessage
}

func (s *processDialogResponse) Execute() (protocol.State, error) {
	if s.msg.DialogID != s.start.DialogID {
		s.ctx.Logger().Log(logging.LevelDebug, "Ignoring answer to another dialog.", "dialog", s.msg.DialogID.String())
		return s.start, nil
	}

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	iv := s.start.invitee(s.ctx, identity)
	owner := s.start.Info.Owner

	iv.retractDialog()
	if err := s.ctx.StopWaiting(owner); err != nil {
		return nil, err
	}

	active, err := identity.IsContactActive(s.ctx.Tx(), s.ctx.Instance().Owned, owner)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if !active {
		return protocol.Reject(s.ctx, CancelledState, "group owner %s is not an active contact", owner)
	}

	alreadyMember, err := iv.isMember()
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	return iv.respond(s.msg.Accepted, alreadyMember)
}

// recheckTrust decides again once the trust level in the owner increased.
// The current trust level is used, which may exceed the one the waiter was registered for.
type recheckTrust struct {
	ctx   protocol.Context
	start *InvitationReceivedState
	msg   *TrustLevelIncreasedMessage
}

func (s *recheckTrust) Execute() (protocol.State, error) {
	if s.msg.Contact != s.start.Info.Owner {
		return s.start, nil
	}

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}
	iv := s.start.invitee(s.ctx, identity)
	alreadyMember, err := iv.isMember()
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	return iv.decide(alreadyMember, true)
}

// processPropagatedResponse applies an answer given on another device of the owned identity.
type processPropagatedResponse struct {
	ctx   protocol.Context
	start protocol.State
	msg   *PropagateInvitationResponseMessage
}

func (s *processPropagatedResponse) Execute() (protocol.State, error) {
	owned := s.ctx.Instance().Owned
	if s.msg.Info.Owner == owned {
		return protocol.Reject(s.ctx, CancelledState, "propagated response for an owned group")
	}

	identity, err := s.ctx.Identity()
	if err != nil {
		return protocol.Cancel(s.ctx, CancelledState, err)
	}

	if received, ok := s.start.(*InvitationReceivedState); ok {
		received.invitee(s.ctx, identity).retractDialog()
		if err := s.ctx.StopWaiting(received.Info.Owner); err != nil {
			return nil, err
		}
	}

	if !s.msg.Accepted {
		return ResponseSentState, nil
	}

	group, err := identity.Group(s.ctx.Tx(), owned, s.msg.Info.Owner, s.msg.Info.UID)
	if err != nil {
		return protocol.Fail(s.ctx, CancelledState, err)
	}
	if group == nil {
		if err := join(s.ctx, identity, s.msg.Info, s.msg.Pending); err != nil {
			return protocol.Fail(s.ctx, CancelledState, err)
		}
	}
	return ResponseSentState, nil
}
