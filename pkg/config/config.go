/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package config loads the configuration of an engine from a TOML file.
package config

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/e2ee/protoengine/pkg/logging"
	"github.com/e2ee/protoengine/pkg/protocol"
	"github.com/e2ee/protoengine/pkg/runtime"
	t "github.com/e2ee/protoengine/pkg/types"
)

// Environment variables overriding values of the configuration file.
const (
	EnvLogLevel = "PROTOENGINE_LOG_LEVEL"
	EnvStoreDir = "PROTOENGINE_STORE_DIR"
)

type Store struct {
	// Empty for an in-memory store.
	Dir        string `toml:"dir"`
	SyncWrites bool   `toml:"sync_writes"`
}

type Journal struct {
	// Empty to disable journaling.
	Dir  string `toml:"dir"`
	Sync bool   `toml:"sync"`
}

type Runtime struct {
	MaxTxRetries int `toml:"max_tx_retries"`
}

type Trust struct {
	AutoAcceptThreshold int `toml:"auto_accept_threshold"`
	MinimumThreshold    int `toml:"minimum_threshold"`
}

type Log struct {
	Level   string `toml:"level"`
	Console bool   `toml:"console"`
}

// Config is the configuration of an engine.
type Config struct {
	Store   Store   `toml:"store"`
	Journal Journal `toml:"journal"`
	Runtime Runtime `toml:"runtime"`
	Trust   Trust   `toml:"trust"`
	Log     Log     `toml:"log"`
}

// Default returns a valid configuration for an in-memory engine without journal.
func Default() *Config {
	rc := runtime.DefaultConfig()
	return &Config{
		Runtime: Runtime{MaxTxRetries: rc.MaxTxRetries},
		Trust: Trust{
			AutoAcceptThreshold: int(rc.Trust.AutoAccept),
			MinimumThreshold:    int(rc.Trust.Minimum),
		},
		Log: Log{Level: "info", Console: true},
	}
}

// Load reads a configuration file. Keys missing from the file keep their default values
// and unknown keys are an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	c := Default()
	meta, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not load configuration %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return nil, errors.Errorf("unknown configuration keys in %s: %s", path, strings.Join(keys, ", "))
	}
	c.applyEnv(os.LookupEnv)
	return c, nil
}

// Parse is like Load, but reads the configuration from a string.
func Parse(data string) (*Config, error) {
	c := Default()
	if _, err := toml.Decode(data, c); err != nil {
		return nil, errors.WithMessage(err, "could not parse configuration")
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		c.Log.Level = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvStoreDir); ok {
		c.Store.Dir = strings.TrimSpace(v)
	}
}

// Check returns an error if the configuration cannot be used.
func Check(c *Config) error {

	// The runtime parameters must be valid on their own.
	if err := runtime.CheckConfig(c.RuntimeConfig()); err != nil {
		return err
	}

	// The log level must be known.
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}

	// The journal records deliveries whose effects end up in the store, so a journal
	// next to a store that does not survive restarts would replay into nothing.
	if c.Journal.Dir != "" && c.Store.Dir == "" {
		return errors.New("journal configured for an in-memory store")
	}

	return nil
}

// TrustPolicy returns the configured trust thresholds.
func (c *Config) TrustPolicy() protocol.TrustPolicy {
	return protocol.TrustPolicy{
		AutoAccept: t.TrustLevel(c.Trust.AutoAcceptThreshold),
		Minimum:    t.TrustLevel(c.Trust.MinimumThreshold),
	}
}

// RuntimeConfig returns the configuration of the runtime.
func (c *Config) RuntimeConfig() *runtime.Config {
	return &runtime.Config{
		Trust:        c.TrustPolicy(),
		MaxTxRetries: c.Runtime.MaxTxRetries,
	}
}

// Logger returns the configured logger writing to out. The configuration must have passed Check.
func (c *Config) Logger(out io.Writer) logging.Logger {
	level, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	if c.Log.Console {
		return logging.NewZeroConsoleLogger(level, out)
	}
	return logging.NewZeroJSONLogger(level, out)
}
