/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package runtime

import (
	"fmt"

	"github.com/e2ee/protoengine/pkg/protocol"
)

// The Config type defines the parameters of a Runtime.
type Config struct {

	// Trust thresholds handed to every step execution.
	// The minimum threshold must not exceed the auto-accept threshold.
	Trust protocol.TrustPolicy

	// How many times the dispatch of a single message is attempted
	// when its transaction conflicts with a concurrent transition of the same instance.
	// Must be positive.
	MaxTxRetries int
}

// CheckConfig checks whether the given configuration satisfies all necessary constraints.
func CheckConfig(c *Config) error {

	// The trust policy must be consistent.
	if err := c.Trust.Check(); err != nil {
		return fmt.Errorf("invalid trust policy: %w", err)
	}

	// Every message must be attempted at least once.
	if c.MaxTxRetries <= 0 {
		return fmt.Errorf("non-positive MaxTxRetries: %d", c.MaxTxRetries)
	}

	// If all checks passed, return nil error.
	return nil
}

// DefaultConfig returns a valid configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Trust:        protocol.DefaultTrustPolicy(),
		MaxTxRetries: 8,
	}
}
