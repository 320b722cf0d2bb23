/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package logging provides the minimal Logger interface used throughout the engine,
// together with a few implementations and combinators.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Logger is minimal logging interface designed to be easily adaptable to any
// logging library.
type Logger interface {
	// Log is invoked with the log level, the log message, and key/value pairs
	// of any relevant log details. The keys are always strings, while the
	// values are unspecified.
	Log(level LogLevel, text string, args ...interface{})
}

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts a level name (debug, info, warn or error) to a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.Errorf("unknown log level: %q", name)
	}
}

// Simple console logger writing log messages directly to a writer (standard output by default).
type consoleLogger struct {
	level LogLevel
	out   io.Writer
}

// NewConsoleLogger returns a Logger writing all messages of at least the given level to out.
func NewConsoleLogger(level LogLevel, out io.Writer) Logger {
	return &consoleLogger{level: level, out: out}
}

// Log writes the message, followed by its key/value pairs, as a single line.
func (l *consoleLogger) Log(level LogLevel, text string, args ...interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(level.String()))
	sb.WriteString(" ")
	sb.WriteString(text)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fmt.Fprintf(&sb, " %v=%%MISSING%%", args[i])
			break
		}
		switch v := args[i+1].(type) {
		case []byte:
			// Print byte arrays in base 16 encoding.
			fmt.Fprintf(&sb, " %v=%x", args[i], v)
		default:
			fmt.Fprintf(&sb, " %v=%v", args[i], v)
		}
	}
	sb.WriteString("\n")
	_, _ = io.WriteString(l.out, sb.String())
}

// The nil logger drops all messages.
type nilLogger struct{}

func (nl *nilLogger) Log(level LogLevel, text string, args ...interface{}) {
	// Do nothing.
}

var (
	// ConsoleDebugLogger implements Logger and writes all log messages to stdout.
	ConsoleDebugLogger = NewConsoleLogger(LevelDebug, os.Stdout)

	// ConsoleInfoLogger implements Logger and writes all LevelInfo and above log messages to stdout.
	ConsoleInfoLogger = NewConsoleLogger(LevelInfo, os.Stdout)

	// ConsoleWarnLogger implements Logger and writes all LevelWarn and above log messages to stdout.
	ConsoleWarnLogger = NewConsoleLogger(LevelWarn, os.Stdout)

	// ConsoleErrorLogger implements Logger and writes all LevelError log messages to stdout.
	ConsoleErrorLogger = NewConsoleLogger(LevelError, os.Stdout)

	// NilLogger drops all log messages.
	NilLogger Logger = &nilLogger{}
)
