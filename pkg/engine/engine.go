/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package engine assembles a protocol runtime from a configuration.
//
// Open creates the store, the dispatch journal (if configured), the logger and the metrics,
// registers the built-in protocols and replays the deliveries a previous run left unfinished.
package engine

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/config"
	"github.com/e2ee/protoengine/pkg/journal"
	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/metrics"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/protocols/groupinvitation"
	"github.com/e2ee/protoengine/pkg/protocols/groupmanagement"
	"github.com/e2ee/protoengine/pkg/runtime"
	"github.com/e2ee/protoengine/pkg/store"
)

// Options hold the collaborators of an engine that cannot be described by a configuration file.
type Options struct {

	// Channel and identity delegates handed to the runtime.
	Modules modules.Modules

	// Metrics the runtime records into. Defaults to metrics.Default().
	Metrics *metrics.Metrics

	// Destination of log messages. Defaults to os.Stderr.
	LogOutput io.Writer
}

// Engine is an assembled runtime with the resources it owns.
type Engine struct {
	Store   *store.Store
	Runtime *runtime.Runtime

	// Number of journaled deliveries replayed by Open.
	Replayed int

	// Journal indexes of the deliveries Open dropped because their step failed.
	Skipped []uint64

	journal *journal.Journal
	logger  logging.Logger
}

// Builtin returns the protocols every engine runs.
func Builtin() []protocol.Protocol {
	return []protocol.Protocol{
		groupinvitation.New(),
		groupmanagement.New(),
	}
}

// Open assembles an engine. The channel delegate must be ready to accept messages,
// as replayed deliveries may post some before Open returns.
func Open(ctx context.Context, c *config.Config, opts Options) (*Engine, error) {
	if err := config.Check(c); err != nil {
		return nil, errors.WithMessage(err, "invalid configuration")
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := logging.Synchronize(c.Logger(out))

	m := opts.Metrics
	if m == nil {
		m = metrics.Default()
	}

	st, err := store.Open(store.Options{
		Dir:        c.Store.Dir,
		SyncWrites: c.Store.SyncWrites,
		Logger:     logging.Decorate(logger, "Store: "),
	})
	if err != nil {
		return nil, err
	}
	e := &Engine{Store: st, logger: logger}

	runtimeOpts := []runtime.Option{
		runtime.WithLogger(logging.Decorate(logger, "Runtime: ")),
		runtime.WithMetrics(m),
	}
	if c.Journal.Dir != "" {
		e.journal, err = journal.Open(c.Journal.Dir, c.Journal.Sync)
		if err != nil {
			e.Close()
			return nil, err
		}
		runtimeOpts = append(runtimeOpts, runtime.WithJournal(e.journal))
	}

	e.Runtime, err = runtime.New(c.RuntimeConfig(), st, opts.Modules, runtimeOpts...)
	if err != nil {
		e.Close()
		return nil, err
	}
	for _, p := range Builtin() {
		if err := e.Runtime.Register(p); err != nil {
			e.Close()
			return nil, err
		}
	}

	recovery, err := e.Runtime.Recover(ctx)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.Replayed, e.Skipped = recovery.Replayed, recovery.Skipped
	if e.Replayed > 0 || len(e.Skipped) > 0 {
		logger.Log(logging.LevelInfo, "Recovered unfinished deliveries.", "count", e.Replayed, "skipped", len(e.Skipped))
	}
	return e, nil
}

// Close releases the journal and the store. The runtime must not be used afterwards.
func (e *Engine) Close() error {
	var journalErr error
	if e.journal != nil {
		journalErr = e.journal.Close()
	}
	if err := e.Store.Close(); err != nil {
		return errors.WithMessage(err, "could not close store")
	}
	if journalErr != nil {
		return errors.WithMessage(journalErr, "could not close journal")
	}
	return nil
}
