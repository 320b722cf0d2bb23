/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import "sync"

type synchronizedLogger struct {
	logger Logger
	mutex  sync.Mutex
}

func (sl *synchronizedLogger) Log(level LogLevel, text string, args ...interface{}) {
	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	sl.logger.Log(level, text, args...)
}

// Synchronize wraps a Logger that is not safe for concurrent use.
// Runtimes dispatch concurrently, so console loggers shared between them should be synchronized.
func Synchronize(logger Logger) Logger {
	return &synchronizedLogger{
		logger: logger,
	}
}
