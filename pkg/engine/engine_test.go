/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package engine_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/e2ee/protoengine/pkg/config"
	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/engine"
	"github.com/e2ee/protoengine/pkg/groups"
	"github.com/e2ee/protoengine/pkg/journal"
	"github.com/e2ee/protoengine/pkg/metrics"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocols/groupinvitation"
	"github.com/e2ee/protoengine/pkg/runtime"
	t "github.com/e2ee/protoengine/pkg/types"
)

// unusable is a message the group invitation protocol cannot decode.
func unusable() *modules.ReceivedMessage {
	return &modules.ReceivedMessage{
		Protocol:   t.GroupInvitation,
		UID:        t.DeriveUID("invitation"),
		Owned:      "bob",
		Kind:       99,
		Inputs:     []encoding.Value{encoding.Bool(true)},
		Provenance: modules.ContactProvenance("alice"),
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx  context.Context
		reg  *prometheus.Registry
		opts engine.Options
	)

	BeforeEach(func() {
		ctx = context.Background()
		reg = prometheus.NewRegistry()
		opts = engine.Options{Metrics: metrics.New(reg), LogOutput: GinkgoWriter}
	})

	It("rejects an invalid configuration", func() {
		c := config.Default()
		c.Trust.MinimumThreshold = c.Trust.AutoAcceptThreshold + 1
		_, err := engine.Open(ctx, c, opts)
		Expect(err).To(HaveOccurred())
	})

	It("runs the built-in protocols and records metrics", func() {
		e, err := engine.Open(ctx, config.Default(), opts)
		Expect(err).NotTo(HaveOccurred())
		defer e.Close()

		Expect(e.Replayed).To(BeZero())
		Expect(e.Runtime.Register(groupinvitation.New())).NotTo(Succeed())

		outcome, err := e.Runtime.Deliver(ctx, unusable())
		Expect(err).NotTo(HaveOccurred())
		Expect(outcome.Status).To(Equal(runtime.DroppedMalformed))

		count, err := testutil.GatherAndCount(reg, "protoengine_runtime_dispatches_total")
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})

	When("a previous run left deliveries in the journal", func() {
		var (
			dir string
			c   *config.Config
		)

		BeforeEach(func() {
			var err error
			dir, err = ioutil.TempDir("", "engine")
			Expect(err).NotTo(HaveOccurred())

			c = config.Default()
			c.Store.Dir = filepath.Join(dir, "store")
			c.Journal.Dir = filepath.Join(dir, "journal")

			j, err := journal.Open(c.Journal.Dir, true)
			Expect(err).NotTo(HaveOccurred())
			_, err = j.Append(unusable())
			Expect(err).NotTo(HaveOccurred())
			Expect(j.Close()).To(Succeed())
		})

		AfterEach(func() {
			os.RemoveAll(dir)
		})

		It("replays deliveries for a group of the owned identity without wedging", func() {
			propagation := &groupinvitation.PropagateInvitationResponseMessage{
				Info:     groups.Placeholder("bob", t.DeriveUID("group")),
				Accepted: true,
			}
			inputs, err := propagation.Encode()
			Expect(err).NotTo(HaveOccurred())
			j, err := journal.Open(c.Journal.Dir, true)
			Expect(err).NotTo(HaveOccurred())
			_, err = j.Append(&modules.ReceivedMessage{
				Protocol:   t.GroupInvitation,
				UID:        t.DeriveUID("propagation"),
				Owned:      "bob",
				Kind:       groupinvitation.PropagateInvitationResponseMessageKind,
				Inputs:     inputs,
				Provenance: modules.OwnedDeviceProvenance(t.DeriveUID("device")),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(j.Close()).To(Succeed())

			e, err := engine.Open(ctx, c, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Replayed).To(Equal(2))
			Expect(e.Skipped).To(BeEmpty())
			Expect(e.Close()).To(Succeed())

			e, err = engine.Open(ctx, c, engine.Options{Metrics: metrics.New(nil), LogOutput: GinkgoWriter})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Replayed).To(BeZero())
			Expect(e.Close()).To(Succeed())
		})

		It("replays them once", func() {
			e, err := engine.Open(ctx, c, opts)
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Replayed).To(Equal(1))
			Expect(e.Close()).To(Succeed())

			e, err = engine.Open(ctx, c, engine.Options{Metrics: metrics.New(nil), LogOutput: GinkgoWriter})
			Expect(err).NotTo(HaveOccurred())
			Expect(e.Replayed).To(BeZero())
			Expect(e.Close()).To(Succeed())
		})
	})
})
