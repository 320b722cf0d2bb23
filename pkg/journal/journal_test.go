/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package journal_test

import (
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/journal"
	"github.com/e2ee/protoengine/pkg/modules"
	t "github.com/e2ee/protoengine/pkg/types"
)

var _ = Describe("Journal", func() {
	var (
		tmpDir string
		path   string
		j      *journal.Journal
	)

	delivery := func(kind t.MessageKind, provenance modules.Provenance) *modules.ReceivedMessage {
		return &modules.ReceivedMessage{
			Protocol:   t.GroupInvitation,
			UID:        t.DeriveUID("journal", []byte{byte(kind)}),
			Owned:      t.Identity("alice"),
			Kind:       kind,
			Inputs:     []encoding.Value{encoding.Uint(uint64(kind)), encoding.String("x")},
			Provenance: provenance,
		}
	}

	pending := func() map[uint64]*modules.ReceivedMessage {
		result := make(map[uint64]*modules.ReceivedMessage)
		Expect(j.Pending(func(index uint64, msg *modules.ReceivedMessage) error {
			result[index] = msg
			return nil
		})).To(Succeed())
		return result
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = ioutil.TempDir("", "journal")
		Expect(err).NotTo(HaveOccurred())
		path = filepath.Join(tmpDir, "journal")
		j, err = journal.Open(path, false)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if j != nil {
			Expect(j.Close()).To(Succeed())
		}
		Expect(os.RemoveAll(tmpDir)).To(Succeed())
	})

	It("keeps deliveries that were not marked done across restarts", func() {
		dialogID := t.NewDialogID()
		first := delivery(1, modules.ContactProvenance(t.Identity("bob")))
		second := delivery(2, modules.LocalProvenance())
		third := delivery(3, modules.DialogResponseProvenance(dialogID, encoding.Bool(true)))

		i1, err := j.Append(first)
		Expect(err).NotTo(HaveOccurred())
		i2, err := j.Append(second)
		Expect(err).NotTo(HaveOccurred())
		i3, err := j.Append(third)
		Expect(err).NotTo(HaveOccurred())
		Expect(i2).To(Equal(i1 + 1))
		Expect(j.Done(i2)).To(Succeed())

		Expect(j.Close()).To(Succeed())
		j, err = journal.Open(path, false)
		Expect(err).NotTo(HaveOccurred())

		recovered := pending()
		Expect(recovered).To(HaveLen(2))
		Expect(recovered).To(HaveKey(i1))
		Expect(recovered).To(HaveKey(i3))

		Expect(recovered[i1].Provenance.Contact).To(Equal(t.Identity("bob")))
		Expect(recovered[i1].UID).To(Equal(first.UID))
		Expect(encoding.List(recovered[i1].Inputs...).Equal(encoding.List(first.Inputs...))).To(BeTrue())

		Expect(recovered[i3].Provenance.Kind).To(Equal(modules.ProvenanceDialogResponse))
		Expect(recovered[i3].Provenance.DialogID).To(Equal(dialogID))
		Expect(recovered[i3].Provenance.Decision.Equal(encoding.Bool(true))).To(BeTrue())
	})

	It("truncates entries that are no longer needed", func() {
		i1, err := j.Append(delivery(1, modules.LocalProvenance()))
		Expect(err).NotTo(HaveOccurred())
		i2, err := j.Append(delivery(2, modules.LocalProvenance()))
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Done(i1)).To(Succeed())
		Expect(j.Done(i2)).To(Succeed())
		Expect(j.PendingCount()).To(BeZero())

		count := 0
		Expect(j.Entries(func(index uint64, msg *modules.ReceivedMessage, done uint64) error {
			count++
			Expect(msg).To(BeNil())
			Expect(done).To(Equal(i2))
			return nil
		})).To(Succeed())
		Expect(count).To(Equal(1))
	})

	It("reports the oldest delivery not yet done as low-water mark", func() {
		low, err := j.LowWater()
		Expect(err).NotTo(HaveOccurred())
		Expect(low).To(Equal(uint64(1)))

		i1, err := j.Append(delivery(1, modules.LocalProvenance()))
		Expect(err).NotTo(HaveOccurred())
		i2, err := j.Append(delivery(2, modules.LocalProvenance()))
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Done(i2)).To(Succeed())
		low, err = j.LowWater()
		Expect(err).NotTo(HaveOccurred())
		Expect(low).To(Equal(i1))

		Expect(j.Done(i1)).To(Succeed())
		low, err = j.LowWater()
		Expect(err).NotTo(HaveOccurred())
		// Past both deliveries and the two done markers.
		Expect(low).To(Equal(i2 + 3))
	})

	It("ignores repeated done markers", func() {
		index, err := j.Append(delivery(1, modules.LocalProvenance()))
		Expect(err).NotTo(HaveOccurred())
		Expect(j.Done(index)).To(Succeed())
		Expect(j.Done(index)).To(Succeed())
		Expect(pending()).To(BeEmpty())
	})
})
