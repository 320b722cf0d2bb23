/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runtime_test

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	t "github.com/e2ee/protoengine/pkg/types"
)

// counterProtocol is a small protocol exercising every dispatch path.
// Started with a number, it pings bob and waits until bob is trusted at level 2.

const counterKind t.ProtocolKind = 42

const (
	idleKind t.StateKind = iota
	waitingKind
	doneKind
	cancelledKind
)

const (
	startKind t.MessageKind = iota
	bumpKind
	pingKind
	failKind
	nilKind
	brokenKind
	identityKind
	refusedKind
)

const (
	startStep t.StepID = iota
	bumpStep
	pingStep
	failStep
	nilStep
	brokenStep
	identityStep
	refusedStep
)

var bob = t.Identity("bob")

type plainState t.StateKind

func (s plainState) Kind() t.StateKind               { return t.StateKind(s) }
func (s plainState) Encode() (encoding.Value, error) { return encoding.List(), nil }

type waitingState struct {
	n uint64
}

func (s *waitingState) Kind() t.StateKind               { return waitingKind }
func (s *waitingState) Encode() (encoding.Value, error) { return encoding.List(encoding.Uint(s.n)), nil }

// brokenState cannot be encoded.
type brokenState struct{}

func (s brokenState) Kind() t.StateKind { return waitingKind }
func (s brokenState) Encode() (encoding.Value, error) {
	return encoding.Value{}, errors.New("cannot encode")
}

type counterMessage struct {
	kind t.MessageKind
	n    uint64
}

func (m *counterMessage) Kind() t.MessageKind { return m.kind }

func (m *counterMessage) Encode() ([]encoding.Value, error) {
	if m.kind == startKind {
		return []encoding.Value{encoding.Uint(m.n)}, nil
	}
	return []encoding.Value{}, nil
}

type counterProtocol struct{}

func (p *counterProtocol) Kind() t.ProtocolKind           { return counterKind }
func (p *counterProtocol) InitialState() protocol.State   { return plainState(idleKind) }
func (p *counterProtocol) CancelledState() protocol.State { return plainState(cancelledKind) }

// Cancelled instances are kept, so that their inertness can be observed.
func (p *counterProtocol) SelfDeleting(kind t.StateKind) bool { return kind == doneKind }

func (p *counterProtocol) DecodeState(kind t.StateKind, payload encoding.Value) (protocol.State, error) {
	switch kind {
	case waitingKind:
		items, err := payload.AsListOf(1)
		if err != nil {
			return nil, err
		}
		n, err := items[0].AsUint()
		if err != nil {
			return nil, err
		}
		return &waitingState{n: n}, nil
	case idleKind, doneKind, cancelledKind:
		if _, err := payload.AsListOf(0); err != nil {
			return nil, err
		}
		return plainState(kind), nil
	default:
		return nil, errors.Errorf("unknown state %d", kind)
	}
}

func (p *counterProtocol) DecodeMessage(msg *modules.ReceivedMessage) (protocol.Message, error) {
	switch msg.Kind {
	case startKind:
		if err := encoding.ExpectArity(msg.Inputs, 1); err != nil {
			return nil, protocol.Malformed("start", err)
		}
		n, err := msg.Inputs[0].AsUint()
		if err != nil {
			return nil, protocol.Malformed("start", err)
		}
		return &counterMessage{kind: startKind, n: n}, nil
	case bumpKind:
		_, level, err := protocol.DecodeTrustLevelIncreased(msg.Inputs)
		if err != nil {
			return nil, err
		}
		return &counterMessage{kind: bumpKind, n: uint64(level)}, nil
	case pingKind, failKind, nilKind, brokenKind, identityKind, refusedKind:
		if err := encoding.ExpectArity(msg.Inputs, 0); err != nil {
			return nil, protocol.Malformed("message", err)
		}
		return &counterMessage{kind: msg.Kind}, nil
	default:
		return nil, protocol.Malformed("counter", errors.Errorf("unknown kind %d", msg.Kind))
	}
}

var counterTransitions = protocol.MustTable(
	protocol.Transition{From: idleKind, Message: startKind, Guard: protocol.GuardLocal, Step: startStep, Name: "Start"},
	protocol.Transition{From: waitingKind, Message: bumpKind, Guard: protocol.GuardLocal, Step: bumpStep, Name: "Bump"},
	protocol.Transition{From: idleKind, Message: pingKind, Guard: protocol.GuardContact, Step: pingStep, Name: "Ping"},
	protocol.Transition{From: waitingKind, Message: failKind, Guard: protocol.GuardLocal, Step: failStep, Name: "Fail"},
	protocol.Transition{From: idleKind, Message: nilKind, Guard: protocol.GuardLocal, Step: nilStep, Name: "Nil"},
	protocol.Transition{From: idleKind, Message: brokenKind, Guard: protocol.GuardLocal, Step: brokenStep, Name: "Broken"},
	protocol.Transition{From: idleKind, Message: identityKind, Guard: protocol.GuardLocal, Step: identityStep, Name: "Identity"},
	protocol.Transition{From: idleKind, Message: refusedKind, Guard: protocol.GuardLocal, Step: refusedStep, Name: "Refused"},
)

func (p *counterProtocol) Transitions() *protocol.Table { return counterTransitions }

func (p *counterProtocol) NewStep(id t.StepID, start protocol.State, msg protocol.Message, ctx protocol.Context) (protocol.Step, error) {
	return &counterStep{id: id, msg: msg.(*counterMessage), ctx: ctx}, nil
}

type counterStep struct {
	id  t.StepID
	msg *counterMessage
	ctx protocol.Context
}

func (s *counterStep) Execute() (protocol.State, error) {
	cancelled := plainState(cancelledKind)
	ping := &counterMessage{kind: pingKind}

	switch s.id {
	case startStep:
		if err := s.ctx.Send(ping, modules.ToContacts(bob)); err != nil {
			return protocol.Cancel(s.ctx, cancelled, err)
		}
		if err := s.ctx.WaitForTrustLevel(bob, 2, bumpKind); err != nil {
			return nil, err
		}
		return &waitingState{n: s.msg.n}, nil
	case bumpStep, pingStep:
		return plainState(doneKind), nil
	case failStep:
		if err := s.ctx.Send(ping, modules.ToContacts(bob)); err != nil {
			return nil, err
		}
		return nil, errors.New("boom")
	case nilStep:
		return nil, nil
	case brokenStep:
		if err := s.ctx.Send(ping, modules.ToContacts(bob)); err != nil {
			return nil, err
		}
		return brokenState{}, nil
	case identityStep:
		if _, err := s.ctx.Identity(); err != nil {
			return protocol.Cancel(s.ctx, cancelled, err)
		}
		return plainState(doneKind), nil
	case refusedStep:
		// Fails like a step not mapping the refusal of its identity delegate.
		if err := s.ctx.Send(ping, modules.ToContacts(bob)); err != nil {
			return nil, err
		}
		return nil, errors.WithMessage(modules.ErrOwnGroup, "cannot join")
	}
	return nil, errors.Errorf("unknown step %d", s.id)
}

// ================================================================================

// recordingChannel records the messages of committed transactions.
type recordingChannel struct {
	mutex  sync.Mutex
	posted []*modules.OutboundMessage
}

func (c *recordingChannel) Post(tx modules.Tx, msg *modules.OutboundMessage) error {
	tx.OnCommit(func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		c.posted = append(c.posted, msg)
	})
	return nil
}

func (c *recordingChannel) Posted() []*modules.OutboundMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]*modules.OutboundMessage(nil), c.posted...)
}
