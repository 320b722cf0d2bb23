/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type zeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger adapts a zerolog.Logger. Key/value pairs become fields of the log event.
func NewZeroLogger(logger zerolog.Logger) Logger {
	return &zeroLogger{logger: logger}
}

// NewZeroConsoleLogger returns a zerolog-backed Logger writing human-readable lines to out.
func NewZeroConsoleLogger(level LogLevel, out io.Writer) Logger {
	if out == nil {
		out = os.Stderr
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: out}).
		Level(zeroLevel(level)).
		With().Timestamp().Logger()
	return NewZeroLogger(zl)
}

// NewZeroJSONLogger returns a zerolog-backed Logger writing one JSON object per line to out.
func NewZeroJSONLogger(level LogLevel, out io.Writer) Logger {
	zl := zerolog.New(out).Level(zeroLevel(level)).With().Timestamp().Logger()
	return NewZeroLogger(zl)
}

func (zl *zeroLogger) Log(level LogLevel, text string, args ...interface{}) {
	event := zl.logger.WithLevel(zeroLevel(level))
	if event == nil {
		// Level disabled.
		return
	}
	for i := 0; i < len(args); i += 2 {
		key := fmt.Sprint(args[i])
		if i+1 >= len(args) {
			event = event.Str(key, "%MISSING%")
			break
		}
		switch v := args[i+1].(type) {
		case string:
			event = event.Str(key, v)
		case []byte:
			event = event.Hex(key, v)
		case int:
			event = event.Int(key, v)
		case uint64:
			event = event.Uint64(key, v)
		case bool:
			event = event.Bool(key, v)
		case error:
			event = event.AnErr(key, v)
		case fmt.Stringer:
			event = event.Stringer(key, v)
		default:
			event = event.Interface(key, v)
		}
	}
	event.Msg(text)
}

func zeroLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
