/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package localnet_test

import (
	"context"

	"github.com/pkg/errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/identitystore"
	"github.com/e2ee/protoengine/pkg/localnet"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/runtime"
	"github.com/e2ee/protoengine/pkg/store"
	t "github.com/e2ee/protoengine/pkg/types"
)

// echoProtocol loops a local message back to itself forever.
const echoKind t.ProtocolKind = 77

type echoState t.StateKind

func (s echoState) Kind() t.StateKind               { return t.StateKind(s) }
func (s echoState) Encode() (encoding.Value, error) { return encoding.List(), nil }

type echoMessage struct{}

func (m echoMessage) Kind() t.MessageKind                { return 0 }
func (m echoMessage) Encode() ([]encoding.Value, error) { return []encoding.Value{}, nil }

type echoProtocol struct{}

func (p echoProtocol) Kind() t.ProtocolKind               { return echoKind }
func (p echoProtocol) InitialState() protocol.State       { return echoState(0) }
func (p echoProtocol) CancelledState() protocol.State     { return echoState(1) }
func (p echoProtocol) SelfDeleting(kind t.StateKind) bool { return true }
func (p echoProtocol) Transitions() *protocol.Table       { return echoTransitions }

func (p echoProtocol) DecodeState(kind t.StateKind, payload encoding.Value) (protocol.State, error) {
	return echoState(kind), nil
}

func (p echoProtocol) DecodeMessage(msg *modules.ReceivedMessage) (protocol.Message, error) {
	if msg.Kind != 0 {
		return nil, protocol.Malformed("echo", errors.Errorf("unknown kind %d", msg.Kind))
	}
	return echoMessage{}, nil
}

func (p echoProtocol) NewStep(id t.StepID, start protocol.State, msg protocol.Message, ctx protocol.Context) (protocol.Step, error) {
	return echoStep{ctx: ctx}, nil
}

var echoTransitions = protocol.MustTable(
	protocol.Transition{From: 0, Message: 0, Guard: protocol.GuardLocal, Step: 0, Name: "Echo"},
)

type echoStep struct {
	ctx protocol.Context
}

func (s echoStep) Execute() (protocol.State, error) {
	if err := s.ctx.Send(echoMessage{}, modules.ToLocal()); err != nil {
		return nil, err
	}
	return echoState(0), nil
}

// ================================================================================

var _ = Describe("Network", func() {
	var (
		net   *localnet.Network
		st    *store.Store
		alice *localnet.Endpoint
		bob1  *localnet.Endpoint
		bob2  *localnet.Endpoint
	)

	device := func(n byte) t.UID {
		return t.DeriveUID("device", []byte{n})
	}

	// post posts msg from an endpoint in a committed transaction.
	post := func(from *localnet.Endpoint, msg *modules.OutboundMessage) error {
		return st.Update(func(tx *store.Tx) error {
			return from.Post(tx, msg)
		})
	}

	outbound := func(dest modules.Destination) *modules.OutboundMessage {
		return &modules.OutboundMessage{
			Protocol:    echoKind,
			UID:         t.DeriveUID("instance"),
			Owned:       "sender",
			Inputs:      []encoding.Value{},
			Destination: dest,
		}
	}

	BeforeEach(func() {
		var err error
		st, err = store.Open(store.Options{})
		Expect(err).NotTo(HaveOccurred())

		net = localnet.New(nil)
		alice = net.Endpoint("alice", device(1))
		bob1 = net.Endpoint("bob", device(2))
		bob2 = net.Endpoint("bob", device(3))
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	It("returns the same endpoint for the same device", func() {
		Expect(net.Endpoint("alice", device(1))).To(BeIdenticalTo(alice))
	})

	It("delivers to every device of each contact", func() {
		Expect(post(alice, outbound(modules.ToContacts("bob")))).To(Succeed())

		queued := net.Queued()
		Expect(queued).To(HaveLen(2))
		Expect([]localnet.Address{queued[0].To, queued[1].To}).To(ConsistOf(bob1.Address(), bob2.Address()))
		for _, d := range queued {
			Expect(d.Message.Owned).To(Equal(t.Identity("bob")))
			Expect(d.Message.Provenance).To(Equal(modules.ContactProvenance("alice")))
		}
		Expect(net.Sent()).To(HaveLen(1))
	})

	It("delivers to the other devices of the sender", func() {
		Expect(post(bob1, outbound(modules.ToOwnedDevices()))).To(Succeed())

		queued := net.Queued()
		Expect(queued).To(HaveLen(1))
		Expect(queued[0].To).To(Equal(bob2.Address()))
		Expect(queued[0].Message.Provenance).To(Equal(modules.OwnedDeviceProvenance(device(2))))
	})

	It("loops local messages back", func() {
		Expect(post(alice, outbound(modules.ToLocal()))).To(Succeed())

		queued := net.Queued()
		Expect(queued).To(HaveLen(1))
		Expect(queued[0].To).To(Equal(alice.Address()))
		Expect(queued[0].Message.Provenance).To(Equal(modules.LocalProvenance()))
	})

	It("routes nothing before commit", func() {
		tx := st.Begin(true)
		Expect(alice.Post(tx, outbound(modules.ToContacts("bob")))).To(Succeed())
		tx.Discard()

		Expect(net.Queued()).To(BeEmpty())
		Expect(net.Sent()).To(BeEmpty())
	})

	It("fails posts of failing endpoints", func() {
		alice.SetFailing(true)
		err := post(alice, outbound(modules.ToContacts("bob")))
		Expect(errors.Is(err, localnet.ErrPostFailed)).To(BeTrue())
		Expect(net.Queued()).To(BeEmpty())

		alice.SetFailing(false)
		Expect(post(alice, outbound(modules.ToContacts("bob")))).To(Succeed())
	})

	Describe("dialogs", func() {
		var id t.DialogID

		BeforeEach(func() {
			id = t.NewDialogID()
			dialog := &modules.Dialog{ID: id, Category: modules.DialogAcceptGroupInvite}
			Expect(post(bob1, outbound(modules.ToDialog(dialog)))).To(Succeed())
		})

		It("shows dialogs on the requesting device", func() {
			Expect(net.Dialogs(bob1.Address())).To(HaveLen(1))
			Expect(net.Dialogs(bob2.Address())).To(BeEmpty())
			Expect(net.Queued()).To(BeEmpty())
		})

		It("delivers answers with the decision", func() {
			Expect(net.Answer(id, encoding.Bool(true))).To(Succeed())

			queued := net.Queued()
			Expect(queued).To(HaveLen(1))
			Expect(queued[0].To).To(Equal(bob1.Address()))
			Expect(queued[0].Message.Provenance).To(Equal(modules.DialogResponseProvenance(id, encoding.Bool(true))))
			Expect(net.Dialogs(bob1.Address())).To(HaveLen(1))
		})

		It("retracts dialogs", func() {
			Expect(post(bob1, outbound(modules.ToDialog(modules.DeleteDialog(id))))).To(Succeed())
			Expect(net.Dialogs(bob1.Address())).To(BeEmpty())
			Expect(net.Answer(id, encoding.Bool(true))).NotTo(Succeed())
		})
	})

	Describe("stepping", func() {
		var rt *runtime.Runtime

		BeforeEach(func() {
			var err error
			rt, err = runtime.New(runtime.DefaultConfig(), st, modules.Modules{Channel: alice, Identity: identitystore.New(device(1))})
			Expect(err).NotTo(HaveOccurred())
			Expect(rt.Register(echoProtocol{})).To(Succeed())
			alice.Attach(rt)
		})

		It("reports an empty queue", func() {
			more, err := net.Step(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(more).To(BeFalse())
		})

		It("drops deliveries to devices without runtime", func() {
			Expect(post(alice, outbound(modules.ToContacts("bob")))).To(Succeed())
			delivered, err := net.Flush(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(delivered).To(Equal(2))
			Expect(net.Dropped()).To(Equal(2))
		})

		It("delivers injected messages to the attached runtime", func() {
			net.Inject(alice.Address(), &modules.ReceivedMessage{
				Protocol:   t.ProtocolKind(99),
				Owned:      "alice",
				Inputs:     []encoding.Value{},
				Provenance: modules.LocalProvenance(),
			})
			more, err := net.Step(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(more).To(BeTrue())
			Expect(net.Dropped()).To(BeZero())
			Expect(net.Queued()).To(BeEmpty())
		})

		It("gives up on protocols that never settle", func() {
			Expect(post(alice, outbound(modules.ToLocal()))).To(Succeed())
			delivered, err := net.Flush(context.Background())
			Expect(err).To(HaveOccurred())
			Expect(delivered).To(Equal(localnet.DefaultMaxDeliveries))

			net.ResetSent()
			Expect(net.Sent()).To(BeEmpty())
		})
	})
})
