// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package logger

import (
	"sync/atomic"

	"github.com/sassoftware/viya-doc-engine/tracer"
)

// LogLevel represents log severity
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogFunc is a single logger function that handles all levels
type LogFunc func(level LogLevel, msg string, keyvals ...interface{})

var nopLog LogFunc = func(level LogLevel, msg string, keyvals ...interface{}) {}

// logFunc is swapped atomically; the actor thread and request goroutines log concurrently.
var logFunc atomic.Pointer[LogFunc]

func init() {
	logFunc.Store(&nopLog)
}

// SetLogger sets the global logger function
func SetLogger(f LogFunc) {
	if f != nil {
		logFunc.Store(&f)
	}
}

// Reset restores the no-op logger.
func Reset() {
	logFunc.Store(&nopLog)
}

func emit(level LogLevel, msg string, keyvals ...interface{}) {
	(*logFunc.Load())(level, msg, keyvals...)
}

// Debug logs a message at debug level
// If the last keyvals element is a bool and true, it is treated as trace flag
func Debug(msg string, keyvals ...interface{}) {
	trace := false
	if len(keyvals) > 0 {
		if b, ok := keyvals[len(keyvals)-1].(bool); ok {
			trace = b
			keyvals = keyvals[:len(keyvals)-1]
		}
	}
	emit(DebugLevel, msg, keyvals...)

	if trace {
		tracer.Log(msg)
	}
}

// Info logs a message at info level
func Info(msg string, keyvals ...interface{}) {
	emit(InfoLevel, msg, keyvals...)
}

// Warn logs a message at warn level
func Warn(msg string, keyvals ...interface{}) {
	emit(WarnLevel, msg, keyvals...)
}

// Error logs a message at error level
func Error(msg string, keyvals ...interface{}) {
	emit(ErrorLevel, msg, keyvals...)
}
