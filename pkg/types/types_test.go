/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package types_test

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/encoding"
	t "github.com/e2ee/protoengine/pkg/types"
)

var _ = Describe("Types", func() {

	Describe("UIDs", func() {
		It("derives the same UID from the same context", func() {
			Expect(t.DeriveUID("group", []byte("alice"), []byte("g1"))).
				To(Equal(t.DeriveUID("group", []byte("alice"), []byte("g1"))))
		})

		It("separates labels and context splits", func() {
			uid := t.DeriveUID("group", []byte("ab"), []byte("c"))
			Expect(uid).NotTo(Equal(t.DeriveUID("group", []byte("a"), []byte("bc"))))
			Expect(uid).NotTo(Equal(t.DeriveUID("device", []byte("ab"), []byte("c"))))
			Expect(uid.IsZero()).To(BeFalse())
		})

		It("decodes its wire representation", func() {
			uid, err := t.NewRandomUID()
			Expect(err).NotTo(HaveOccurred())

			decoded, err := t.DecodeUID(uid.Encode())
			Expect(err).NotTo(HaveOccurred())
			Expect(decoded).To(Equal(uid))
		})

		It("rejects wrong lengths as malformed", func() {
			_, err := t.DecodeUID(encoding.Bytes([]byte{1, 2, 3}))
			Expect(errors.Is(err, encoding.ErrMalformed)).To(BeTrue())

			_, err = t.UIDFromBytes(make([]byte, t.UIDLen+1))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("identities", func() {
		It("rejects empty identities", func() {
			_, err := t.DecodeIdentity(t.Identity("").Encode())
			Expect(errors.Is(err, encoding.ErrMalformed)).To(BeTrue())
		})

		It("sorts by byte representation", func() {
			ids := []t.Identity{"carol", "alice", "bob"}
			t.SortIdentities(ids)
			Expect(ids).To(Equal([]t.Identity{"alice", "bob", "carol"}))
		})
	})

	It("decodes trust levels and dialog IDs", func() {
		level, err := t.DecodeTrustLevel(t.TrustLevel(-2).Encode())
		Expect(err).NotTo(HaveOccurred())
		Expect(level).To(Equal(t.TrustLevel(-2)))

		id := t.NewDialogID()
		decoded, err := t.DecodeDialogID(id.Encode())
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded).To(Equal(id))

		_, err = t.DecodeDialogID(encoding.Bytes([]byte{1}))
		Expect(errors.Is(err, encoding.ErrMalformed)).To(BeTrue())
	})

	It("names protocol kinds", func() {
		Expect(t.GroupInvitation.String()).To(Equal("GroupInvitation"))
		Expect(t.ProtocolKind(42).String()).To(Equal("Protocol(42)"))
	})
})
