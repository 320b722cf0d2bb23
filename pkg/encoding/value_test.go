/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package encoding_test

import (
	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/encoding"
)

var _ = Describe("Value", func() {

	DescribeTable("round trips through Marshal and Unmarshal", func(v encoding.Value) {
		decoded, err := encoding.Unmarshal(encoding.Marshal(v))
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.Equal(v)).To(BeTrue(), "decoded %s, expected %s", decoded, v)
	},
		Entry("uint", encoding.Uint(1<<40+7)),
		Entry("negative int", encoding.Int(-42)),
		Entry("bool", encoding.Bool(true)),
		Entry("string", encoding.String("héllo")),
		Entry("empty bytes", encoding.Bytes(nil)),
		Entry("bytes", encoding.Bytes([]byte{0, 1, 2, 255})),
		Entry("empty list", encoding.List()),
		Entry("nested list", encoding.List(
			encoding.List(encoding.Bytes([]byte("alice")), encoding.Bytes([]byte("details"))),
			encoding.List(encoding.Bytes([]byte("bob")), encoding.Bytes(nil)),
			encoding.Bool(false),
		)),
	)

	It("decodes typed accessors", func() {
		v, err := encoding.Unmarshal(encoding.Marshal(encoding.List(encoding.Uint(3), encoding.String("x"))))
		Expect(err).NotTo(HaveOccurred())

		items, err := v.AsListOf(2)
		Expect(err).NotTo(HaveOccurred())
		u, err := items[0].AsUint()
		Expect(err).NotTo(HaveOccurred())
		Expect(u).To(Equal(uint64(3)))
		s, err := items[1].AsString()
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(Equal("x"))
	})

	It("returns copies of byte strings", func() {
		v := encoding.Bytes([]byte{1, 2, 3})
		b, err := v.AsBytes()
		Expect(err).NotTo(HaveOccurred())
		b[0] = 9
		again, _ := v.AsBytes()
		Expect(again).To(Equal([]byte{1, 2, 3}))
	})

	When("the input is malformed", func() {
		It("rejects a type mismatch", func() {
			_, err := encoding.Uint(1).AsBytes()
			Expect(errors.Is(err, encoding.ErrTypeMismatch)).To(BeTrue())
			Expect(errors.Is(err, encoding.ErrMalformed)).To(BeTrue())
		})

		It("rejects a wrong element count", func() {
			_, err := encoding.List(encoding.Bool(true)).AsListOf(2)
			Expect(errors.Is(err, encoding.ErrArity)).To(BeTrue())
			Expect(errors.Is(err, encoding.ErrMalformed)).To(BeTrue())
		})

		DescribeTable("rejects raw input without panicking", func(data []byte, cause error) {
			_, err := encoding.Unmarshal(data)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, encoding.ErrMalformed)).To(BeTrue())
			Expect(errors.Is(err, cause)).To(BeTrue())

			var de *encoding.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
		},
			Entry("empty", []byte{}, encoding.ErrShortHeader),
			Entry("truncated header", []byte{byte(encoding.TypeBytes), 0, 0}, encoding.ErrShortHeader),
			Entry("truncated payload", []byte{byte(encoding.TypeBytes), 0, 0, 0, 4, 1, 2}, encoding.ErrShortValue),
			Entry("unknown type", []byte{77, 0, 0, 0, 0}, encoding.ErrUnknownType),
			Entry("short integer", []byte{byte(encoding.TypeUint), 0, 0, 0, 2, 1, 2}, encoding.ErrInvalidLength),
			Entry("bad bool", []byte{byte(encoding.TypeBool), 0, 0, 0, 1, 7}, encoding.ErrInvalidLength),
			Entry("bad utf-8", []byte{byte(encoding.TypeString), 0, 0, 0, 1, 0xff}, encoding.ErrInvalidUTF8),
			Entry("trailing data", append(encoding.Marshal(encoding.Bool(true)), 0), encoding.ErrTrailingData),
			Entry("truncated list element", []byte{byte(encoding.TypeList), 0, 0, 0, 3, byte(encoding.TypeBool), 0, 0}, encoding.ErrShortHeader),
		)

		It("rejects excessive nesting", func() {
			v := encoding.Bool(true)
			for i := 0; i < 40; i++ {
				v = encoding.List(v)
			}
			_, err := encoding.Unmarshal(encoding.Marshal(v))
			Expect(errors.Is(err, encoding.ErrTooDeep)).To(BeTrue())
		})
	})

	It("prefixes wrapped decode errors", func() {
		_, inner := encoding.Bool(true).AsString()
		err := encoding.Malformed("group name", inner)
		Expect(err.Error()).To(ContainSubstring("group name"))
		Expect(errors.Is(err, encoding.ErrTypeMismatch)).To(BeTrue())
	})
})
