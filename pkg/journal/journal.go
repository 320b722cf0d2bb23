/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package journal is a write-ahead log of inbound deliveries.
//
// The runtime appends every delivery to the journal before dispatching it and marks it done afterwards.
// After a crash, the deliveries that were appended but never marked done are dispatched again.
// Whether such a delivery had already been applied before the crash is decided by the store
// (see store.Tx.MarkApplied), so a replay never applies a delivery twice.
package journal

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tidwall/wal"

	"github.com/e2ee/protoengine/pkg/modules"
)

type Journal struct {
	mutex sync.Mutex
	log   *wal.Log

	// Whether every append is synced to disk before returning.
	sync bool

	// Indexes of delivery entries not yet marked done.
	pending map[uint64]struct{}
}

// Open opens (or creates) the journal in the given directory and recovers the set of pending deliveries.
func Open(path string, sync bool) (*Journal, error) {

	// Create underlying log
	log, err := wal.Open(path, &wal.Options{
		NoSync: !sync,
		NoCopy: true,
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not open journal")
	}

	j := &Journal{
		log:     log,
		sync:    sync,
		pending: make(map[uint64]struct{}),
	}

	if err := j.forEach(func(index uint64, e *entry) error {
		switch e.typ {
		case entryDelivery:
			j.pending[index] = struct{}{}
		case entryDone:
			delete(j.pending, e.done)
		}
		return nil
	}); err != nil {
		_ = log.Close()
		return nil, err
	}

	return j, nil
}

// forEach decodes every entry still in the log. The caller must hold the mutex or have exclusive access.
func (j *Journal) forEach(fn func(index uint64, e *entry) error) error {
	firstIndex, err := j.log.FirstIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read first index")
	}
	if firstIndex == 0 {
		// Journal is empty
		return nil
	}
	lastIndex, err := j.log.LastIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read last index")
	}

	for i := firstIndex; i <= lastIndex; i++ {
		data, err := j.log.Read(i)
		if err != nil {
			return errors.WithMessagef(err, "could not read index %d", i)
		}
		e, err := unmarshalEntry(data)
		if err != nil {
			return errors.WithMessagef(err, "corrupt journal entry %d", i)
		}
		if err := fn(i, e); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) append(e *entry) (uint64, error) {
	last, err := j.log.LastIndex()
	if err != nil {
		return 0, errors.WithMessage(err, "could not read last index")
	}

	// The underlying log counts from 1, so last+1 is valid for an empty log too.
	index := last + 1
	if err := j.log.Write(index, marshalEntry(e)); err != nil {
		return 0, errors.WithMessagef(err, "could not write journal entry %d", index)
	}
	return index, nil
}

// Append records a delivery and returns its journal index.
func (j *Journal) Append(msg *modules.ReceivedMessage) (uint64, error) {
	e, err := deliveryEntry(msg)
	if err != nil {
		return 0, err
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	index, err := j.append(e)
	if err != nil {
		return 0, err
	}
	j.pending[index] = struct{}{}
	return index, nil
}

// Done marks a delivery as dispatched and truncates the journal up to the oldest pending delivery.
func (j *Journal) Done(index uint64) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if _, ok := j.pending[index]; !ok {
		return nil
	}
	doneIndex, err := j.append(&entry{typ: entryDone, done: index})
	if err != nil {
		return err
	}
	delete(j.pending, index)

	// Everything before the oldest pending delivery is obsolete.
	// Without pending deliveries only the done marker just written is kept.
	low := doneIndex
	for p := range j.pending {
		if p < low {
			low = p
		}
	}
	first, err := j.log.FirstIndex()
	if err != nil {
		return errors.WithMessage(err, "could not read first index")
	}
	if low > first {
		if err := j.log.TruncateFront(low); err != nil {
			return errors.WithMessagef(err, "could not truncate journal at %d", low)
		}
	}
	return nil
}

// LowWater returns the index of the oldest delivery not yet marked done.
// Without pending deliveries it returns the index the next entry will get.
// Every delivery below the low-water mark is done.
func (j *Journal) LowWater() (uint64, error) {
	j.mutex.Lock()
	defer j.mutex.Unlock()

	if len(j.pending) > 0 {
		low := uint64(math.MaxUint64)
		for p := range j.pending {
			if p < low {
				low = p
			}
		}
		return low, nil
	}
	last, err := j.log.LastIndex()
	if err != nil {
		return 0, errors.WithMessage(err, "could not read last index")
	}
	return last + 1, nil
}

// PendingCount returns the number of deliveries not yet marked done.
func (j *Journal) PendingCount() int {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return len(j.pending)
}

// Pending calls fn for every delivery not yet marked done, oldest first.
func (j *Journal) Pending(fn func(index uint64, msg *modules.ReceivedMessage) error) error {
	j.mutex.Lock()
	indexes := make([]uint64, 0, len(j.pending))
	for index := range j.pending {
		indexes = append(indexes, index)
	}
	j.mutex.Unlock()
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })

	for _, index := range indexes {
		j.mutex.Lock()
		data, err := j.log.Read(index)
		j.mutex.Unlock()
		if err != nil {
			return errors.WithMessagef(err, "could not read index %d", index)
		}
		e, err := unmarshalEntry(data)
		if err != nil {
			return errors.WithMessagef(err, "corrupt journal entry %d", index)
		}
		if err := fn(index, e.delivery); err != nil {
			return err
		}
	}
	return nil
}

// Entries calls fn for every entry still in the journal, including done markers.
// A nil message denotes a done marker for the delivery with index done.
func (j *Journal) Entries(fn func(index uint64, msg *modules.ReceivedMessage, done uint64) error) error {
	j.mutex.Lock()
	defer j.mutex.Unlock()
	return j.forEach(func(index uint64, e *entry) error {
		return fn(index, e.delivery, e.done)
	})
}

func (j *Journal) Sync() error {
	return j.log.Sync()
}

func (j *Journal) Close() error {
	return j.log.Close()
}
