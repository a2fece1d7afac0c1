// Copyright © 2026, SAS Institute Inc., Cary, NC, USA.  All Rights Reserved.
// SPDX-License-Identifier: BSD-3-Clause

package tracer

import (
	"fmt"
	"io"
	"sync"
)

// DefaultCapacity is the number of trace lines retained before the oldest are dropped.
const DefaultCapacity = 1024

var (
	mu       sync.Mutex
	messages = make([]string, 0, DefaultCapacity)
	limit    = DefaultCapacity
	dropped  int
)

// Log just adds a message to the trace log.
func Log(msg string) {
	mu.Lock()
	defer mu.Unlock()
	if len(messages) >= limit {
		n := copy(messages, messages[1:])
		messages = messages[:n]
		dropped++
	}
	messages = append(messages, msg)
}

// SetCapacity changes how many lines are retained. Values below 1 are ignored.
func SetCapacity(n int) {
	if n < 1 {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	limit = n
	if len(messages) > n {
		dropped += len(messages) - n
		messages = append(messages[:0], messages[len(messages)-n:]...)
	}
}

// Snapshot returns a copy of the retained trace lines, oldest first.
func Snapshot() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), messages...)
}

// Flush writes the accumulated trace log to w and resets it.
func Flush(w io.Writer) {
	mu.Lock()
	lines := messages
	lost := dropped
	messages = make([]string, 0, limit)
	dropped = 0
	mu.Unlock()

	if lost > 0 {
		fmt.Fprintf(w, "... %d earlier trace lines dropped\n", lost)
	}
	for _, msg := range lines {
		fmt.Fprintln(w, msg)
	}
}
