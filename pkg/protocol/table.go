/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package protocol

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	t "github.com/e2ee/protoengine/pkg/types"
)

// Transition is one row of a protocol's transition table.
type Transition struct {
	From    t.StateKind
	Message t.MessageKind

	// Guard restricts the channels the message may arrive over.
	Guard ChannelGuard

	Step t.StepID

	// Human-readable step name, used in logs and metrics.
	Name string
}

func (tr Transition) String() string {
	return fmt.Sprintf("%s(state %d, message %d, %s)", tr.Name, tr.From, tr.Message, tr.Guard)
}

type transitionKey struct {
	from    t.StateKind
	message t.MessageKind
}

// Table maps (state kind, message kind) pairs to at most one transition.
type Table struct {
	transitions map[transitionKey]Transition
}

// NewTable builds a transition table. Two transitions for the same pair are an error.
func NewTable(transitions ...Transition) (*Table, error) {
	table := &Table{transitions: make(map[transitionKey]Transition, len(transitions))}
	for _, tr := range transitions {
		key := transitionKey{from: tr.From, message: tr.Message}
		if existing, ok := table.transitions[key]; ok {
			return nil, errors.Errorf("ambiguous transitions %s and %s", existing, tr)
		}
		table.transitions[key] = tr
	}
	return table, nil
}

// MustTable is like NewTable but panics on ambiguous tables. It is meant for package-level table definitions.
func MustTable(transitions ...Transition) *Table {
	table, err := NewTable(transitions...)
	if err != nil {
		panic(err)
	}
	return table
}

// Lookup returns the transition for a state kind and a message kind.
func (tb *Table) Lookup(from t.StateKind, message t.MessageKind) (Transition, bool) {
	tr, ok := tb.transitions[transitionKey{from: from, message: message}]
	return tr, ok
}

// All returns every transition, ordered by state kind and message kind.
func (tb *Table) All() []Transition {
	all := make([]Transition, 0, len(tb.transitions))
	for _, tr := range tb.transitions {
		all = append(all, tr)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].From != all[j].From {
			return all[i].From < all[j].From
		}
		return all[i].Message < all[j].Message
	})
	return all
}

// Len returns the number of transitions.
func (tb *Table) Len() int {
	return len(tb.transitions)
}
