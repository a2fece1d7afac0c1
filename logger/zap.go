// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package logger

import "go.uber.org/zap"

// Zap adapts a zap logger to LogFunc. keyvals are passed as loosely typed
// key/value pairs, the same convention the package functions use.
func Zap(l *zap.Logger) LogFunc {
	s := l.WithOptions(zap.AddCallerSkip(2)).Sugar()
	return func(level LogLevel, msg string, keyvals ...interface{}) {
		switch level {
		case DebugLevel:
			s.Debugw(msg, keyvals...)
		case InfoLevel:
			s.Infow(msg, keyvals...)
		case WarnLevel:
			s.Warnw(msg, keyvals...)
		default:
			s.Errorw(msg, keyvals...)
		}
	}
}
