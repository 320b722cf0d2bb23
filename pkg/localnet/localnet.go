/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package localnet connects the runtimes of several devices in one process.
//
// Each device gets an Endpoint, which is the channel delegate of its runtime. Messages posted
// by a step are routed once the step's transaction commits and queued until the network is stepped,
// so tests control the interleaving of deliveries. Dialogs shown by steps are collected in an inbox
// and answered with Answer.
package localnet

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/runtime"
	t "github.com/e2ee/protoengine/pkg/types"
)

// DefaultMaxDeliveries bounds Flush, so that protocols exchanging messages forever are detected.
const DefaultMaxDeliveries = 10000

// ErrPostFailed is returned by endpoints configured to fail.
var ErrPostFailed = errors.New("post failed")

// Address identifies a device of an identity.
type Address struct {
	Identity t.Identity
	Device   t.UID
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%s", a.Identity, a.Device)
}

// Delivery is a message queued for a device.
type Delivery struct {
	To      Address
	Message *modules.ReceivedMessage
}

// Sent is an outbound message posted by a device, in commit order.
type Sent struct {
	From    Address
	Message *modules.OutboundMessage
}

// Dialog is a dialog shown on a device and not retracted yet.
type Dialog struct {
	Address Address
	Dialog  *modules.Dialog
	Message *modules.OutboundMessage
}

// Network routes messages between endpoints.
type Network struct {
	logger logging.Logger

	mutex     sync.Mutex
	endpoints []*Endpoint
	queue     deliveryList
	dialogs   map[t.DialogID]*Dialog
	sent      []*Sent
	dropped   int
}

// New returns an empty network. The logger is shared by every delivering goroutine.
func New(logger logging.Logger) *Network {
	if logger == nil {
		logger = logging.NilLogger
	} else {
		logger = logging.Synchronize(logger)
	}
	return &Network{
		logger:  logger,
		dialogs: make(map[t.DialogID]*Dialog),
	}
}

// Endpoint returns the endpoint of a device, creating it if necessary.
func (n *Network) Endpoint(identity t.Identity, device t.UID) *Endpoint {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	address := Address{Identity: identity, Device: device}
	for _, e := range n.endpoints {
		if e.address == address {
			return e
		}
	}
	e := &Endpoint{network: n, address: address}
	n.endpoints = append(n.endpoints, e)
	return e
}

// Endpoint is the channel delegate of one device.
type Endpoint struct {
	network *Network
	address Address

	mutex   sync.Mutex
	runtime *runtime.Runtime
	failing bool
}

var _ modules.ChannelDelegate = (*Endpoint)(nil)

func (e *Endpoint) Address() Address {
	return e.address
}

// Attach sets the runtime messages for this device are delivered to.
func (e *Endpoint) Attach(r *runtime.Runtime) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.runtime = r
}

// SetFailing makes Post fail, as a channel that cannot enqueue anything would.
func (e *Endpoint) SetFailing(failing bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.failing = failing
}

func (e *Endpoint) Post(tx modules.Tx, msg *modules.OutboundMessage) error {
	e.mutex.Lock()
	failing := e.failing
	e.mutex.Unlock()
	if failing {
		return errors.WithMessagef(ErrPostFailed, "endpoint %s", e.address)
	}
	tx.OnCommit(func() {
		e.network.route(e.address, msg)
	})
	return nil
}

func (e *Endpoint) attached() *runtime.Runtime {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.runtime
}

// ================================================================================

// route turns a committed outbound message into deliveries.
func (n *Network) route(from Address, msg *modules.OutboundMessage) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.sent = append(n.sent, &Sent{From: from, Message: msg})
	dest := msg.Destination

	switch dest.Kind {
	case modules.DestinationContacts:
		for _, contact := range dest.Contacts {
			for _, e := range n.endpoints {
				if e.address.Identity == contact {
					n.enqueue(e.address, msg.ReceivedBy(contact, modules.ContactProvenance(from.Identity)))
				}
			}
		}
	case modules.DestinationOwnedDevices:
		for _, e := range n.endpoints {
			if e.address.Identity == from.Identity && e.address.Device != from.Device {
				n.enqueue(e.address, msg.ReceivedBy(from.Identity, modules.OwnedDeviceProvenance(from.Device)))
			}
		}
	case modules.DestinationLocal:
		n.enqueue(from, msg.ReceivedBy(from.Identity, modules.LocalProvenance()))
	case modules.DestinationDialog:
		if dest.Dialog.Category == modules.DialogDelete {
			delete(n.dialogs, dest.Dialog.ID)
		} else {
			n.dialogs[dest.Dialog.ID] = &Dialog{Address: from, Dialog: dest.Dialog, Message: msg}
		}
	}
}

func (n *Network) enqueue(to Address, msg *modules.ReceivedMessage) {
	n.logger.Log(logging.LevelDebug, "Queueing delivery.", "to", to.String(), "protocol", msg.Protocol.String(),
		"kind", int(msg.Kind), "provenance", msg.Provenance.String())
	n.queue.PushBack(&Delivery{To: to, Message: msg})
}

func (n *Network) endpoint(address Address) *Endpoint {
	for _, e := range n.endpoints {
		if e.address == address {
			return e
		}
	}
	return nil
}

// Answer delivers the user's decision on a shown dialog. The dialog stays shown until a step retracts it.
func (n *Network) Answer(id t.DialogID, decision encoding.Value) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	d, ok := n.dialogs[id]
	if !ok {
		return errors.Errorf("no dialog %s", id)
	}
	n.queue.PushBack(&Delivery{
		To:      d.Address,
		Message: d.Message.ReceivedBy(d.Address.Identity, modules.DialogResponseProvenance(id, decision)),
	})
	return nil
}

// Inject queues a message for a device, as if a channel had received it.
func (n *Network) Inject(to Address, msg *modules.ReceivedMessage) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.queue.PushBack(&Delivery{To: to, Message: msg})
}

// Step delivers the first queued message. It returns false if the queue is empty.
func (n *Network) Step(ctx context.Context) (bool, error) {
	n.mutex.Lock()
	d := n.queue.PopFront()
	var e *Endpoint
	if d != nil {
		e = n.endpoint(d.To)
	}
	n.mutex.Unlock()

	if d == nil {
		return false, nil
	}

	var r *runtime.Runtime
	if e != nil {
		r = e.attached()
	}
	if r == nil {
		n.mutex.Lock()
		n.dropped++
		n.mutex.Unlock()
		n.logger.Log(logging.LevelWarn, "Dropping delivery to a device without runtime.", "to", d.To.String())
		return true, nil
	}

	// Routing happens in commit hooks, which need the network lock, so the lock is not held here.
	outcome, err := r.Deliver(ctx, d.Message)
	if err != nil {
		return true, errors.WithMessagef(err, "delivery to %s failed", d.To)
	}
	n.logger.Log(logging.LevelDebug, "Delivered.", "to", d.To.String(), "outcome", outcome.String())
	return true, nil
}

// Flush steps the network until no delivery is queued and returns the number of deliveries made.
func (n *Network) Flush(ctx context.Context) (int, error) {
	for delivered := 0; ; delivered++ {
		if delivered >= DefaultMaxDeliveries {
			return delivered, errors.Errorf("network did not settle after %d deliveries", delivered)
		}
		more, err := n.Step(ctx)
		if err != nil || !more {
			return delivered, err
		}
	}
}

// Queued returns the deliveries waiting in the queue, in order.
func (n *Network) Queued() []*Delivery {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	queued := make([]*Delivery, 0, n.queue.Len())
	it := n.queue.Iterator()
	for d := it.Next(); d != nil; d = it.Next() {
		queued = append(queued, d)
	}
	return queued
}

// Sent returns every message posted so far, in commit order.
func (n *Network) Sent() []*Sent {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]*Sent(nil), n.sent...)
}

// ResetSent clears the log returned by Sent.
func (n *Network) ResetSent() {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.sent = nil
}

// Dialogs returns the dialogs shown on a device and not retracted.
func (n *Network) Dialogs(address Address) []*Dialog {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	var dialogs []*Dialog
	for _, d := range n.dialogs {
		if d.Address == address {
			dialogs = append(dialogs, d)
		}
	}
	return dialogs
}

// Dropped returns the number of deliveries to devices without runtime.
func (n *Network) Dropped() int {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.dropped
}
