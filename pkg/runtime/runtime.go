/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package runtime dispatches inbound messages to the steps of the registered protocols.
//
// Each message is dispatched in its own store transaction: the instance it addresses is loaded
// (or started in its protocol's initial state), the transition table is consulted for a step
// starting in the instance's current state with the message's kind, the step's channel guard
// is checked against the message's provenance, and the step is executed. The next state
// returned by the step is persisted (or the instance is deleted, for self-deleting states)
// in the same transaction as every effect the step issued. Messages matching no step are dropped.
//
// Concurrent dispatches touching the same instance are serialized by the store. The loser
// of a race is retried and observes the winner's next state.
package runtime

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/journal"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/metrics"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/store"
	t "github.com/e2ee/protoengine/pkg/types"
)

var (
	// errCancelInstance is returned by an attempt that must be replaced by cancelling the instance.
	errCancelInstance = errors.New("instance must be cancelled")

	// errStepFault is returned by an attempt whose step failed in a way that cancels the instance.
	errStepFault = errors.New("step fault cancels the instance")
)

// StepError is returned when a step fails with an error that is neither a storage failure
// nor a fault the instance can be cancelled for. Dispatching the same message again would fail
// the same way, so the delivery is not kept for replay.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsStepError returns true if err is (or wraps) a *StepError.
func IsStepError(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr)
}

// Recovery reports what Recover did with the pending journal entries.
type Recovery struct {
	// Number of deliveries dispatched again.
	Replayed int

	// Journal indexes of the deliveries dropped because their step failed.
	Skipped []uint64
}

// Runtime is safe for concurrent use.
type Runtime struct {
	config  *Config
	store   *store.Store
	modules modules.Modules
	journal *journal.Journal
	logger  logging.Logger
	metrics *metrics.Metrics

	protocolsLock sync.RWMutex
	protocols     map[t.ProtocolKind]protocol.Protocol
}

// Option customizes a Runtime.
type Option func(r *Runtime)

// WithJournal makes the runtime journal every delivery, so that Recover can replay unfinished ones.
func WithJournal(j *journal.Journal) Option {
	return func(r *Runtime) { r.journal = j }
}

func WithLogger(logger logging.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runtime) { r.metrics = m }
}

// New creates a runtime. Collaborators missing from mods make the steps needing them cancel their instances.
func New(config *Config, st *store.Store, mods modules.Modules, opts ...Option) (*Runtime, error) {
	if err := CheckConfig(config); err != nil {
		return nil, errors.WithMessage(err, "invalid runtime configuration")
	}
	if st == nil {
		return nil, errors.New("runtime needs a store")
	}

	r := &Runtime{
		config:    config,
		store:     st,
		modules:   mods,
		logger:    logging.NilLogger,
		protocols: make(map[t.ProtocolKind]protocol.Protocol),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register adds a protocol. Each protocol kind can only be registered once.
func (r *Runtime) Register(p protocol.Protocol) error {
	r.protocolsLock.Lock()
	defer r.protocolsLock.Unlock()

	if _, ok := r.protocols[p.Kind()]; ok {
		return errors.Errorf("protocol %s already registered", p.Kind())
	}
	r.protocols[p.Kind()] = p
	return nil
}

func (r *Runtime) protocol(kind t.ProtocolKind) protocol.Protocol {
	r.protocolsLock.RLock()
	defer r.protocolsLock.RUnlock()
	return r.protocols[kind]
}

// Deliver dispatches an inbound message.
// Protocol-level outcomes, including dropped messages, are reported in the returned Outcome.
// An error is only returned for infrastructure failures, in which case no effect of the message persists.
func (r *Runtime) Deliver(ctx context.Context, msg *modules.ReceivedMessage) (*Outcome, error) {
	if r.journal == nil {
		return r.dispatch(ctx, msg, 0, nil)
	}

	index, err := r.journal.Append(msg)
	if err != nil {
		return nil, errors.WithMessage(err, "could not journal delivery")
	}
	outcome, err := r.dispatch(ctx, msg, index, nil)
	if IsStepError(err) {
		if doneErr := r.journal.Done(index); doneErr != nil {
			r.logger.Log(logging.LevelError, "Could not mark failed delivery done.", "index", index, "error", doneErr.Error())
		}
		return nil, err
	} else if err != nil {
		// The delivery stays pending and is replayed by Recover.
		return nil, err
	}
	if err := r.journal.Done(index); err != nil {
		return nil, errors.WithMessage(err, "could not mark delivery done")
	}
	r.clearApplied()
	return outcome, nil
}

// Initiate starts (or advances) a protocol instance of the owned identity with a local message.
func (r *Runtime) Initiate(ctx context.Context, kind t.ProtocolKind, uid t.UID, owned t.Identity, msg protocol.Message) (*Outcome, error) {
	inputs, err := msg.Encode()
	if err != nil {
		return nil, errors.WithMessagef(protocol.ErrEncodingFault, "initial message: %v", err)
	}
	return r.Deliver(ctx, &modules.ReceivedMessage{
		Protocol:   kind,
		UID:        uid,
		Owned:      owned,
		Kind:       msg.Kind(),
		Inputs:     inputs,
		Provenance: modules.LocalProvenance(),
	})
}

// NotifyTrustLevelIncreased must be called whenever the trust level of owned in contact increases.
// Every deferred waiter satisfied by the new level is removed and a message of its kind is delivered
// to its instance, in the same transaction. It returns the number of messages synthesized.
func (r *Runtime) NotifyTrustLevelIncreased(ctx context.Context, owned, contact t.Identity, level t.TrustLevel) (int, error) {
	var waiters []*store.Waiter
	if err := r.store.View(func(tx *store.Tx) error {
		var err error
		waiters, err = tx.WaitersSatisfiedBy(owned, contact, level)
		return err
	}); err != nil {
		return 0, errors.WithMessage(err, "could not look up waiters")
	}

	synthesized := 0
	for _, w := range waiters {
		w := w
		msg := &modules.ReceivedMessage{
			Protocol:   w.Instance.Protocol,
			UID:        w.Instance.UID,
			Owned:      w.Owned,
			Kind:       w.Kind,
			Inputs:     protocol.TrustLevelIncreasedInputs(contact, level),
			Provenance: modules.LocalProvenance(),
		}

		// The waiter may have been consumed or replaced since the lookup.
		consumed := false
		_, err := r.dispatch(ctx, msg, 0, func(tx *store.Tx) (bool, error) {
			current, err := tx.WaitersOf(w.Instance)
			if err != nil {
				return false, err
			}
			consumed = false
			for _, c := range current {
				if *c == *w {
					consumed = true
					return true, tx.DeleteWaiter(w)
				}
			}
			return false, nil
		})
		if err != nil {
			return synthesized, err
		}
		if consumed {
			synthesized++
			r.metrics.RecordSynthesized(w.Instance.Protocol.String())
		}
	}
	return synthesized, nil
}

// Recover replays the journaled deliveries that were not marked done, e.g. because of a crash.
// Deliveries whose effects had been committed are not applied again.
// A delivery whose step fails is logged, marked done and reported in Recovery.Skipped,
// so it cannot block later recoveries. Other errors abort the recovery and keep the delivery pending.
// Recover must complete before the runtime is handed new deliveries.
func (r *Runtime) Recover(ctx context.Context) (*Recovery, error) {
	recovery := &Recovery{}
	if r.journal == nil {
		return recovery, nil
	}

	err := r.journal.Pending(func(index uint64, msg *modules.ReceivedMessage) error {
		outcome, err := r.dispatch(ctx, msg, index, nil)
		if IsStepError(err) {
			r.logger.Log(logging.LevelError, "Skipping journaled delivery.", "index", index,
				"instance", msg.InstanceID().String(), "error", err.Error())
			recovery.Skipped = append(recovery.Skipped, index)
			return r.journal.Done(index)
		} else if err != nil {
			return err
		}
		r.logger.Log(logging.LevelInfo, "Replayed journaled delivery.", "index", index, "outcome", outcome.String())
		recovery.Replayed++
		return r.journal.Done(index)
	})
	if err != nil {
		return recovery, errors.WithMessage(err, "could not replay journal")
	}

	// No delivery is pending anymore, so no marker is needed.
	if err := r.store.Update(func(tx *store.Tx) error {
		return tx.ClearAppliedBelow(math.MaxUint64)
	}); err != nil {
		return recovery, errors.WithMessage(err, "could not clear journal markers")
	}
	return recovery, nil
}

// clearApplied removes the applied markers of the deliveries below the journal's low-water mark.
// Failures are only logged, the next delivery or Recover clears the markers left behind.
func (r *Runtime) clearApplied() {
	low, err := r.journal.LowWater()
	if err == nil {
		err = r.store.Update(func(tx *store.Tx) error {
			return tx.ClearAppliedBelow(low)
		})
	}
	if err != nil {
		r.logger.Log(logging.LevelDebug, "Could not clear journal markers.", "error", err.Error())
	}
}

// State returns the decoded current state of an instance, or nil if the instance is not persisted.
func (r *Runtime) State(id t.InstanceID) (protocol.State, error) {
	p := r.protocol(id.Protocol)
	if p == nil {
		return nil, errors.Errorf("unknown protocol %s", id.Protocol)
	}
	var state protocol.State
	err := r.store.View(func(tx *store.Tx) error {
		inst, err := tx.Instance(id)
		if err != nil || inst == nil {
			return err
		}
		state, err = decodeState(p, inst)
		return err
	})
	return state, err
}

// Waiters returns the deferred waiters of an instance.
func (r *Runtime) Waiters(id t.InstanceID) ([]*store.Waiter, error) {
	var waiters []*store.Waiter
	err := r.store.View(func(tx *store.Tx) error {
		var err error
		waiters, err = tx.WaitersOf(id)
		return err
	})
	return waiters, err
}

// ================================================================================

// dispatch runs attempts until one commits. prepare, if not nil, runs first in every attempt
// and may veto the dispatch by returning false.
func (r *Runtime) dispatch(
	ctx context.Context,
	msg *modules.ReceivedMessage,
	journalIndex uint64,
	prepare func(tx *store.Tx) (bool, error),
) (*Outcome, error) {
	cancelInstance := false
	cancelStatus := CancelledCorruptState

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		tx := r.store.Begin(true)
		var outcome *Outcome
		var err error
		if cancelInstance {
			outcome, err = r.cancelAttempt(tx, msg, journalIndex, cancelStatus)
		} else {
			outcome, err = r.attempt(tx, msg, journalIndex, prepare)
		}

		if errors.Is(err, errCancelInstance) || errors.Is(err, errStepFault) {
			// Drop every effect of the failed attempt and only cancel the instance.
			tx.Discard()
			cancelInstance = true
			if errors.Is(err, errStepFault) {
				cancelStatus = CancelledStepFault
			}
			attempt--
			continue
		} else if err != nil {
			tx.Discard()
			return nil, err
		}

		err = tx.Commit()
		if store.IsConflict(err) {
			r.metrics.RecordConflict(msg.Protocol.String())
			r.logger.Log(logging.LevelDebug, "Transaction conflict, retrying.",
				"instance", msg.InstanceID().String(), "attempt", attempt)
			if attempt >= r.config.MaxTxRetries {
				return nil, errors.WithMessagef(err, "giving up after %d attempts", attempt)
			}
			continue
		} else if err != nil {
			return nil, errors.WithMessage(err, "could not commit")
		}

		r.metrics.RecordDispatch(msg.Protocol.String(), outcome.Status.String())
		if outcome.Step != "" {
			r.metrics.RecordStep(msg.Protocol.String(), outcome.Step, time.Since(start), outcome.Cancelled)
		}
		return outcome, nil
	}
}

// attempt dispatches msg within tx. It returns errCancelInstance if the stored state of the instance
// or the next state returned by the step cannot be used, and errStepFault if the step failed
// with a local fault or a refusal.
func (r *Runtime) attempt(
	tx *store.Tx,
	msg *modules.ReceivedMessage,
	journalIndex uint64,
	prepare func(tx *store.Tx) (bool, error),
) (*Outcome, error) {
	id := msg.InstanceID()
	outcome := &Outcome{Instance: id}
	logger := logging.Decorate(r.logger, "", "instance", id.String(), "kind", int(msg.Kind))

	p := r.protocol(msg.Protocol)
	if p == nil {
		logger.Log(logging.LevelWarn, "Dropping message of unknown protocol.")
		outcome.Status = DroppedUnknownProtocol
		return outcome, nil
	}

	if journalIndex != 0 {
		applied, err := tx.IsApplied(journalIndex)
		if err != nil {
			return nil, err
		}
		if applied {
			outcome.Status = DroppedAlreadyApplied
			return outcome, nil
		}
		if err := tx.MarkApplied(journalIndex); err != nil {
			return nil, err
		}
	}

	if prepare != nil {
		proceed, err := prepare(tx)
		if err != nil {
			return nil, err
		}
		if !proceed {
			outcome.Status = DroppedNoStep
			return outcome, nil
		}
	}

	decoded, err := p.DecodeMessage(msg)
	if protocol.IsMalformed(err) {
		logger.Log(logging.LevelDebug, "Dropping malformed message.", "error", err.Error())
		outcome.Status = DroppedMalformed
		return outcome, nil
	} else if err != nil {
		return nil, errors.WithMessage(err, "could not decode message")
	}

	initial := p.InitialState()
	initialPayload, err := protocol.EncodeState(initial)
	if err != nil {
		return nil, errors.WithMessage(err, "could not encode initial state")
	}
	inst, err := tx.GetOrCreateInitial(id, initial.Kind(), initialPayload)
	if err != nil {
		return nil, errors.WithMessage(err, "could not load instance")
	}
	outcome.From = inst.StateKind

	start, err := decodeState(p, inst)
	if err != nil {
		logger.Log(logging.LevelError, "Stored state is corrupt.", "error", err.Error())
		return nil, errCancelInstance
	}

	tr, ok := p.Transitions().Lookup(start.Kind(), decoded.Kind())
	if !ok {
		logger.Log(logging.LevelDebug, "Dropping message matching no step.", "state", int(start.Kind()))
		outcome.Status = DroppedNoStep
		return outcome, nil
	}
	if !tr.Guard.Admits(msg.Provenance) {
		logger.Log(logging.LevelWarn, "Dropping message received over the wrong channel.",
			"step", tr.Name, "guard", tr.Guard.String(), "provenance", msg.Provenance.String())
		outcome.Status = DroppedGuard
		return outcome, nil
	}

	stepLogger := logging.Decorate(logger, tr.Name+": ")
	step, err := p.NewStep(tr.Step, start, decoded, &execContext{
		runtime:    r,
		tx:         tx,
		instance:   id,
		provenance: msg.Provenance,
		logger:     stepLogger,
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "could not construct step %s", tr.Name)
	}

	next, err := step.Execute()
	switch {
	case err == nil:
	case protocol.IsLocalFault(err) || protocol.IsRefused(err):
		stepLogger.Log(logging.LevelWarn, "Step failed, cancelling instance.", "error", err.Error())
		return nil, errStepFault
	case errors.Is(err, store.ErrStorage):
		return nil, errors.WithMessagef(err, "step %s failed", tr.Name)
	default:
		return nil, &StepError{Step: tr.Name, Err: err}
	}
	if next == nil {
		return nil, &StepError{Step: tr.Name, Err: protocol.ErrNoNextState}
	}

	outcome.Status = Executed
	outcome.Step = tr.Name
	outcome.Next = next
	outcome.Cancelled = next.Kind() == p.CancelledState().Kind()

	if p.SelfDeleting(next.Kind()) {
		outcome.Deleted = true
		if err := tx.DeleteInstance(id); err != nil {
			return nil, errors.WithMessage(err, "could not delete instance")
		}
		stepLogger.Log(logging.LevelDebug, "Instance finished.", "state", int(next.Kind()))
		return outcome, nil
	}

	payload, err := protocol.EncodeState(next)
	if err != nil {
		stepLogger.Log(logging.LevelError, "Could not encode next state.",
			"error", errors.WithMessage(protocol.ErrEncodingFault, err.Error()).Error())
		return nil, errCancelInstance
	}
	if err := tx.SaveInstance(id, next.Kind(), payload); err != nil {
		return nil, errors.WithMessage(err, "could not save instance")
	}
	stepLogger.Log(logging.LevelDebug, "Instance advanced.", "from", int(start.Kind()), "to", int(next.Kind()))
	return outcome, nil
}

// cancelAttempt moves the instance addressed by msg to its cancelled state, without running any step.
func (r *Runtime) cancelAttempt(tx *store.Tx, msg *modules.ReceivedMessage, journalIndex uint64, status Status) (*Outcome, error) {
	id := msg.InstanceID()
	p := r.protocol(msg.Protocol)
	cancelled := p.CancelledState()
	outcome := &Outcome{Status: status, Instance: id, Next: cancelled, Cancelled: true}

	if journalIndex != 0 {
		if err := tx.MarkApplied(journalIndex); err != nil {
			return nil, err
		}
	}

	if inst, err := tx.Instance(id); err != nil {
		return nil, err
	} else if inst != nil {
		outcome.From = inst.StateKind
	}

	if p.SelfDeleting(cancelled.Kind()) {
		outcome.Deleted = true
		return outcome, tx.DeleteInstance(id)
	}
	payload, err := protocol.EncodeState(cancelled)
	if err != nil {
		return nil, errors.WithMessage(err, "could not encode cancelled state")
	}
	if err := tx.DeleteWaitersOfInstance(id); err != nil {
		return nil, err
	}
	return outcome, tx.SaveInstance(id, cancelled.Kind(), payload)
}

func decodeState(p protocol.Protocol, inst *store.Instance) (protocol.State, error) {
	v, err := encoding.Unmarshal(inst.Payload)
	if err != nil {
		return nil, err
	}
	return p.DecodeState(inst.StateKind, v)
}
