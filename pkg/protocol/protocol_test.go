/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol_test

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

var _ = Describe("Table", func() {
	first := protocol.Transition{From: 0, Message: 1, Guard: protocol.GuardContact, Step: 0, Name: "First"}
	second := protocol.Transition{From: 1, Message: 1, Guard: protocol.GuardLocal, Step: 1, Name: "Second"}
	third := protocol.Transition{From: 0, Message: 0, Guard: protocol.GuardLocal, Step: 2, Name: "Third"}

	It("looks transitions up by state and message kind", func() {
		tb, err := protocol.NewTable(first, second, third)
		Expect(err).NotTo(HaveOccurred())
		Expect(tb.Len()).To(Equal(3))

		tr, ok := tb.Lookup(1, 1)
		Expect(ok).To(BeTrue())
		Expect(tr.Name).To(Equal("Second"))

		_, ok = tb.Lookup(1, 0)
		Expect(ok).To(BeFalse())
	})

	It("orders all transitions", func() {
		tb := protocol.MustTable(second, first, third)
		names := []string{}
		for _, tr := range tb.All() {
			names = append(names, tr.Name)
		}
		Expect(names).To(Equal([]string{"Third", "First", "Second"}))
	})

	It("rejects ambiguous tables", func() {
		clash := first
		clash.Name = "Clash"
		_, err := protocol.NewTable(first, clash)
		Expect(err).To(MatchError(ContainSubstring("ambiguous")))
		Expect(func() { protocol.MustTable(first, clash) }).To(Panic())
	})
})

var _ = Describe("ChannelGuard", func() {
	dialogID := t.NewDialogID()

	DescribeTable("admits only its channel",
		func(guard protocol.ChannelGuard, p modules.Provenance, admitted bool) {
			Expect(guard.Admits(p)).To(Equal(admitted))
		},
		Entry("local from local", protocol.GuardLocal, modules.LocalProvenance(), true),
		Entry("local from contact", protocol.GuardLocal, modules.ContactProvenance("bob"), false),
		Entry("contact from contact", protocol.GuardContact, modules.ContactProvenance("bob"), true),
		Entry("contact without identity", protocol.GuardContact, modules.ContactProvenance(""), false),
		Entry("contact from owned device", protocol.GuardContact, modules.OwnedDeviceProvenance(t.UID{1}), false),
		Entry("owned device from owned device", protocol.GuardOwnedDevice, modules.OwnedDeviceProvenance(t.UID{1}), true),
		Entry("owned device from local", protocol.GuardOwnedDevice, modules.LocalProvenance(), false),
		Entry("dialog from dialog", protocol.GuardDialogResponse, modules.DialogResponseProvenance(dialogID, encoding.Bool(true)), true),
		Entry("dialog without ID", protocol.GuardDialogResponse, modules.DialogResponseProvenance(t.DialogID{}, encoding.Bool(true)), false),
		Entry("dialog from contact", protocol.GuardDialogResponse, modules.ContactProvenance("bob"), false),
		Entry("unknown guard", protocol.ChannelGuard(42), modules.LocalProvenance(), false),
	)
})

var _ = Describe("TrustPolicy", func() {
	policy := protocol.TrustPolicy{AutoAccept: 4, Minimum: 1}

	DescribeTable("classifies trust levels",
		func(level int, decision protocol.TrustDecision) {
			Expect(policy.Decide(t.TrustLevel(level))).To(Equal(decision))
		},
		Entry("negative", -1, protocol.TrustTooLow),
		Entry("below minimum", 0, protocol.TrustTooLow),
		Entry("at minimum", 1, protocol.TrustAskUser),
		Entry("between", 3, protocol.TrustAskUser),
		Entry("at auto-accept", 4, protocol.TrustAutoAccept),
		Entry("above auto-accept", 9, protocol.TrustAutoAccept),
	)

	It("requires ascending thresholds", func() {
		Expect(protocol.DefaultTrustPolicy().Check()).To(Succeed())
		Expect(protocol.TrustPolicy{AutoAccept: 2, Minimum: 2}.Check()).To(Succeed())
		Expect(protocol.TrustPolicy{AutoAccept: 1, Minimum: 2}.Check()).NotTo(Succeed())
	})
})

var _ = Describe("Trust level increased inputs", func() {
	It("round-trips", func() {
		inputs := protocol.TrustLevelIncreasedInputs("bob", 3)
		contact, level, err := protocol.DecodeTrustLevelIncreased(inputs)
		Expect(err).NotTo(HaveOccurred())
		Expect(contact).To(Equal(t.Identity("bob")))
		Expect(level).To(Equal(t.TrustLevel(3)))
	})

	It("reports malformed inputs", func() {
		_, _, err := protocol.DecodeTrustLevelIncreased([]encoding.Value{encoding.String("bob")})
		Expect(protocol.IsMalformed(err)).To(BeTrue())

		_, _, err = protocol.DecodeTrustLevelIncreased([]encoding.Value{encoding.Bool(true), encoding.Int(1)})
		Expect(protocol.IsMalformed(err)).To(BeTrue())
	})
})

var _ = Describe("Errors", func() {
	It("classifies local faults", func() {
		Expect(protocol.IsLocalFault(errors.WithMessage(protocol.ErrCollaboratorUnavailable, "no channel"))).To(BeTrue())
		Expect(protocol.IsLocalFault(errors.WithMessage(protocol.ErrEncodingFault, "bad"))).To(BeTrue())
		Expect(protocol.IsLocalFault(protocol.ErrGuardRejected)).To(BeFalse())
	})

	It("classifies refusals of the identity delegate", func() {
		Expect(protocol.IsRefused(errors.WithMessage(modules.ErrOwnGroup, "cannot join group"))).To(BeTrue())
		Expect(protocol.IsRefused(errors.WithMessage(modules.ErrUnknownGroup, "owned group"))).To(BeTrue())
		Expect(protocol.IsRefused(protocol.ErrGuardRejected)).To(BeTrue())
		Expect(protocol.IsRefused(errors.New("disk full"))).To(BeFalse())
	})

	It("treats codec failures as malformed", func() {
		_, err := encoding.Unmarshal([]byte{0xff})
		Expect(err).To(HaveOccurred())
		Expect(protocol.IsMalformed(err)).To(BeTrue())
		Expect(protocol.IsMalformed(protocol.Malformed("x", errors.New("y")))).To(BeTrue())
		Expect(protocol.IsMalformed(errors.New("disk full"))).To(BeFalse())
	})
})
