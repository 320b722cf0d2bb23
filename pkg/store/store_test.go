/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package store_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/store"
	t "github.com/e2ee/protoengine/pkg/types"
)

var _ = Describe("Store", func() {
	var (
		s     *store.Store
		alice = t.Identity("alice")
		bob   = t.Identity("bob")
		carol = t.Identity("carol")
		id    t.InstanceID
	)

	BeforeEach(func() {
		var err error
		s, err = store.Open(store.Options{})
		Expect(err).NotTo(HaveOccurred())
		id = t.InstanceID{Protocol: t.GroupInvitation, UID: t.DeriveUID("test", []byte("1")), Owned: alice}
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	Describe("instances", func() {
		It("does not persist fresh initial instances", func() {
			Expect(s.Update(func(tx *store.Tx) error {
				inst, err := tx.GetOrCreateInitial(id, 0, []byte{1})
				Expect(err).NotTo(HaveOccurred())
				Expect(inst.Persisted).To(BeFalse())
				Expect(inst.Payload).To(Equal([]byte{1}))
				return nil
			})).To(Succeed())

			Expect(s.View(func(tx *store.Tx) error {
				inst, err := tx.Instance(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst).To(BeNil())
				return nil
			})).To(Succeed())
		})

		It("saves, overwrites, lists and deletes instances", func() {
			Expect(s.Update(func(tx *store.Tx) error {
				return tx.SaveInstance(id, 2, []byte("first"))
			})).To(Succeed())
			Expect(s.Update(func(tx *store.Tx) error {
				return tx.SaveInstance(id, 3, []byte("second"))
			})).To(Succeed())

			Expect(s.View(func(tx *store.Tx) error {
				inst, err := tx.GetOrCreateInitial(id, 0, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst.Persisted).To(BeTrue())
				Expect(inst.StateKind).To(Equal(t.StateKind(3)))
				Expect(inst.Payload).To(Equal([]byte("second")))

				var listed []t.InstanceID
				Expect(tx.Instances(func(inst *store.Instance) error {
					listed = append(listed, inst.ID)
					return nil
				})).To(Succeed())
				Expect(listed).To(Equal([]t.InstanceID{id}))
				return nil
			})).To(Succeed())

			Expect(s.Update(func(tx *store.Tx) error {
				return tx.DeleteInstance(id)
			})).To(Succeed())
			Expect(s.View(func(tx *store.Tx) error {
				inst, err := tx.Instance(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst).To(BeNil())
				return nil
			})).To(Succeed())
		})

		It("serializes concurrent transitions of the same instance", func() {
			first := s.Begin(true)
			second := s.Begin(true)
			defer first.Discard()
			defer second.Discard()

			for _, tx := range []*store.Tx{first, second} {
				inst, err := tx.GetOrCreateInitial(id, 0, nil)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst.Persisted).To(BeFalse())
			}
			Expect(first.SaveInstance(id, 1, nil)).To(Succeed())
			Expect(second.SaveInstance(id, 2, nil)).To(Succeed())

			Expect(first.Commit()).To(Succeed())
			err := second.Commit()
			Expect(store.IsConflict(err)).To(BeTrue())

			Expect(s.View(func(tx *store.Tx) error {
				inst, err := tx.Instance(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(inst.StateKind).To(Equal(t.StateKind(1)))
				return nil
			})).To(Succeed())
		})
	})

	Describe("commit hooks", func() {
		It("runs hooks only after a successful commit", func() {
			fired := 0
			Expect(s.Update(func(tx *store.Tx) error {
				tx.OnCommit(func() { fired++ })
				Expect(fired).To(Equal(0))
				return nil
			})).To(Succeed())
			Expect(fired).To(Equal(1))

			tx := s.Begin(true)
			tx.OnCommit(func() { fired++ })
			tx.Discard()
			Expect(fired).To(Equal(1))
		})
	})

	Describe("failures", func() {
		It("tags errors of the backing database as storage failures", func() {
			Expect(s.View(func(tx *store.Tx) error {
				err := tx.Set([]byte("key"), []byte("value"))
				Expect(err).To(MatchError(store.ErrStorage))
				Expect(store.IsConflict(err)).To(BeFalse())
				return nil
			})).To(Succeed())

			tx := s.Begin(true)
			tx.Discard()
			Expect(tx.Delete([]byte("key"))).To(MatchError(store.ErrStorage))
		})
	})

	Describe("waiters", func() {
		var lower, upper *store.Waiter

		BeforeEach(func() {
			lower = &store.Waiter{Owned: alice, Contact: bob, Target: 2, Kind: 4, Instance: id}
			upper = &store.Waiter{Owned: alice, Contact: bob, Target: 3, Kind: 4, Instance: id}
			Expect(s.Update(func(tx *store.Tx) error {
				Expect(tx.InsertWaiter(lower)).To(Succeed())
				Expect(tx.InsertWaiter(upper)).To(Succeed())
				return tx.InsertWaiter(&store.Waiter{Owned: alice, Contact: carol, Target: -1, Kind: 4, Instance: id})
			})).To(Succeed())
		})

		It("finds the waiters satisfied by a trust level", func() {
			Expect(s.View(func(tx *store.Tx) error {
				satisfied, err := tx.WaitersSatisfiedBy(alice, bob, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(satisfied).To(BeEmpty())

				satisfied, err = tx.WaitersSatisfiedBy(alice, bob, 2)
				Expect(err).NotTo(HaveOccurred())
				Expect(satisfied).To(Equal([]*store.Waiter{lower}))

				satisfied, err = tx.WaitersSatisfiedBy(alice, bob, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(satisfied).To(ConsistOf(lower, upper))

				satisfied, err = tx.WaitersSatisfiedBy(bob, alice, 10)
				Expect(err).NotTo(HaveOccurred())
				Expect(satisfied).To(BeEmpty())
				return nil
			})).To(Succeed())
		})

		It("deletes the waiters of one contact", func() {
			Expect(s.Update(func(tx *store.Tx) error {
				return tx.DeleteWaiters(id, bob)
			})).To(Succeed())
			Expect(s.View(func(tx *store.Tx) error {
				waiters, err := tx.WaitersOf(id)
				Expect(err).NotTo(HaveOccurred())
				Expect(waiters).To(HaveLen(1))
				Expect(waiters[0].Contact).To(Equal(carol))
				Expect(waiters[0].Target).To(Equal(t.TrustLevel(-1)))
				return nil
			})).To(Succeed())
		})

		It("deletes all waiters together with their instance", func() {
			Expect(s.Update(func(tx *store.Tx) error {
				return tx.DeleteInstance(id)
			})).To(Succeed())
			Expect(s.View(func(tx *store.Tx) error {
				count := 0
				Expect(tx.Waiters(func(*store.Waiter) error {
					count++
					return nil
				})).To(Succeed())
				Expect(count).To(BeZero())
				return nil
			})).To(Succeed())
		})

		It("rejects waiters of another identity's instance", func() {
			Expect(s.Update(func(tx *store.Tx) error {
				return tx.InsertWaiter(&store.Waiter{Owned: bob, Contact: carol, Target: 1, Instance: id})
			})).To(HaveOccurred())
		})
	})

	Describe("applied markers", func() {
		It("records and clears journal markers", func() {
			Expect(s.Update(func(tx *store.Tx) error {
				Expect(tx.MarkApplied(3)).To(Succeed())
				return tx.MarkApplied(7)
			})).To(Succeed())
			Expect(s.Update(func(tx *store.Tx) error {
				return tx.ClearAppliedBelow(5)
			})).To(Succeed())
			Expect(s.View(func(tx *store.Tx) error {
				applied, err := tx.IsApplied(3)
				Expect(err).NotTo(HaveOccurred())
				Expect(applied).To(BeFalse())
				applied, err = tx.IsApplied(7)
				Expect(err).NotTo(HaveOccurred())
				Expect(applied).To(BeTrue())
				return nil
			})).To(Succeed())
		})
	})
})
