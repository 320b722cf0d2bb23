/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// protoctl inspects the persistent state of a protocol engine.
// It lists the protocol instances and deferred waiters of a store, dumps the dispatch journal
// and validates configuration files. The engine must not be running while its store is inspected.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/e2ee/protoengine/pkg/config"
	"github.com/e2ee/protoengine/pkg/encoding"
	"github.com/e2ee/protoengine/pkg/journal"
	"github.com/e2ee/protoengine/pkg/modules"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/protocols/groupinvitation"
	"github.com/e2ee/protoengine/pkg/protocols/groupmanagement"
	"github.com/e2ee/protoengine/pkg/store"
	t "github.com/e2ee/protoengine/pkg/types"
)

const (
	cmdInstances   = "instances"
	cmdWaiters     = "waiters"
	cmdJournal     = "journal"
	cmdCheckConfig = "check-config"
)

// Protocols whose states can be decoded for display.
var knownProtocols = map[t.ProtocolKind]protocol.Protocol{
	t.GroupInvitation: groupinvitation.New(),
	t.GroupManagement: groupmanagement.New(),
}

type arguments struct {
	command  string
	config   *config.Config
	protocol string
	owned    string
	all      bool
}

func protocolNames() []string {
	names := make([]string, 0, len(knownProtocols))
	for kind := range knownProtocols {
		names = append(names, kind.String())
	}
	return names
}

func parseArgs(args []string) (*arguments, error) {
	app := kingpin.New("protoctl", "Utility for inspecting the state of a protocol engine.")
	configFile := app.Flag("config", "The engine configuration file (defaults to the built-in configuration).").ExistingFile()
	storeDir := app.Flag("store", "The store directory, overriding the configuration.").String()
	journalDir := app.Flag("journal", "The journal directory, overriding the configuration.").String()

	instances := app.Command(cmdInstances, "List protocol instances and their states.")
	protocolName := instances.Flag("protocol", "Report instances of this protocol only.").Enum(protocolNames()...)
	owned := instances.Flag("owned", "Report instances of this owned identity only.").String()

	app.Command(cmdWaiters, "List deferred waiters on trust level increases.")

	journalCmd := app.Command(cmdJournal, "Dump the deliveries of the dispatch journal not yet dispatched.")
	all := journalCmd.Flag("all", "Dump every entry still in the journal, including done markers.").Default("false").Bool()

	app.Command(cmdCheckConfig, "Validate the configuration and print it.")

	command, err := app.Parse(args)
	if err != nil {
		return nil, err
	}

	c := config.Default()
	if *configFile != "" {
		c, err = config.Load(*configFile)
		if err != nil {
			return nil, err
		}
	}
	if *storeDir != "" {
		c.Store.Dir = *storeDir
	}
	if *journalDir != "" {
		c.Journal.Dir = *journalDir
	}

	switch {
	case (command == cmdInstances || command == cmdWaiters) && c.Store.Dir == "":
		return nil, errors.Errorf("no store directory configured, use --store")
	case command == cmdJournal && c.Journal.Dir == "":
		return nil, errors.Errorf("no journal directory configured, use --journal")
	}

	return &arguments{
		command:  command,
		config:   c,
		protocol: *protocolName,
		owned:    *owned,
		all:      *all,
	}, nil
}

func (a *arguments) execute(output io.Writer) error {
	switch a.command {
	case cmdInstances:
		return a.withStore(func(tx *store.Tx) error {
			return a.listInstances(tx, output)
		})
	case cmdWaiters:
		return a.withStore(func(tx *store.Tx) error {
			return tx.Waiters(func(w *store.Waiter) error {
				_, err := fmt.Fprintln(output, w.String())
				return err
			})
		})
	case cmdJournal:
		return a.dumpJournal(output)
	case cmdCheckConfig:
		return a.checkConfig(output)
	default:
		return errors.Errorf("unknown command %s", a.command)
	}
}

func (a *arguments) withStore(fn func(tx *store.Tx) error) error {
	st, err := store.Open(store.Options{
		Dir:    a.config.Store.Dir,
		Logger: a.config.Logger(os.Stderr),
	})
	if err != nil {
		return err
	}
	defer st.Close()
	return st.View(fn)
}

func (a *arguments) listInstances(tx *store.Tx, output io.Writer) error {
	count := 0
	err := tx.Instances(func(inst *store.Instance) error {
		if a.protocol != "" && inst.ID.Protocol.String() != a.protocol {
			return nil
		}
		if a.owned != "" && string(inst.ID.Owned) != a.owned {
			return nil
		}
		count++
		_, err := fmt.Fprintf(output, "%s state=%s\n", inst.ID, describeState(inst))
		return err
	})
	if err != nil {
		return errors.WithMessage(err, "could not list instances")
	}
	_, err = fmt.Fprintf(output, "%d instances\n", count)
	return err
}

// describeState renders the state of an instance, decoding it if its protocol is known.
func describeState(inst *store.Instance) string {
	payload, err := encoding.Unmarshal(inst.Payload)
	if err != nil {
		return fmt.Sprintf("%d (undecodable: %s)", inst.StateKind, err)
	}
	p, ok := knownProtocols[inst.ID.Protocol]
	if !ok {
		return fmt.Sprintf("%d %s", inst.StateKind, payload)
	}
	if _, err := p.DecodeState(inst.StateKind, payload); err != nil {
		return fmt.Sprintf("%d (corrupt: %s)", inst.StateKind, err)
	}
	return fmt.Sprintf("%d %s", inst.StateKind, payload)
}

func describeDelivery(msg *modules.ReceivedMessage) string {
	return fmt.Sprintf("%s kind=%d provenance=%s inputs=%s",
		msg.InstanceID(), msg.Kind, msg.Provenance, encoding.List(msg.Inputs...))
}

func (a *arguments) dumpJournal(output io.Writer) error {
	j, err := journal.Open(a.config.Journal.Dir, false)
	if err != nil {
		return err
	}
	defer j.Close()

	if a.all {
		return j.Entries(func(index uint64, msg *modules.ReceivedMessage, done uint64) error {
			if msg == nil {
				_, err := fmt.Fprintf(output, "% 6d done %d\n", index, done)
				return err
			}
			_, err := fmt.Fprintf(output, "% 6d delivery %s\n", index, describeDelivery(msg))
			return err
		})
	}

	if err := j.Pending(func(index uint64, msg *modules.ReceivedMessage) error {
		_, err := fmt.Fprintf(output, "% 6d %s\n", index, describeDelivery(msg))
		return err
	}); err != nil {
		return err
	}
	_, err = fmt.Fprintf(output, "%d pending deliveries\n", j.PendingCount())
	return err
}

func (a *arguments) checkConfig(output io.Writer) error {
	if err := config.Check(a.config); err != nil {
		return errors.WithMessage(err, "invalid configuration")
	}
	c := a.config
	fmt.Fprintf(output, "store:   dir=%q sync_writes=%t\n", c.Store.Dir, c.Store.SyncWrites)
	fmt.Fprintf(output, "journal: dir=%q sync=%t\n", c.Journal.Dir, c.Journal.Sync)
	fmt.Fprintf(output, "runtime: max_tx_retries=%d\n", c.Runtime.MaxTxRetries)
	fmt.Fprintf(output, "trust:   auto_accept=%d minimum=%d\n", c.Trust.AutoAcceptThreshold, c.Trust.MinimumThreshold)
	fmt.Fprintf(output, "log:     level=%s console=%t\n", c.Log.Level, c.Log.Console)
	return nil
}

func main() {
	kingpin.Version("0.0.1")
	args, err := parseArgs(os.Args[1:])
	if err != nil {
		kingpin.Fatalf("failed to parse arguments, %s, try --help", err)
	}
	err = args.execute(os.Stdout)
	if err != nil {
		fmt.Println("")
		kingpin.Fatalf("%s", err)
	}
}
