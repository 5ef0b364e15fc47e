// Copyright 2016 The Upspin Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package inprocess

import (
	"fmt"
	"io"
	"sync"

	"cipherbox.io/log"
)

// AuditLog is the TEE double's structured log sink. It implements
// log.ExternalLogger, so a process can route its logging here via
// log.Register and keep one interleaved, line-oriented record of
// client-side operations and TEE-side republishes. Lines are buffered
// until Flush.
type AuditLog struct {
	mu    sync.Mutex
	w     io.Writer
	lines []string
}

// NewAuditLog returns an AuditLog that Flush writes to w.
func NewAuditLog(w io.Writer) *AuditLog {
	return &AuditLog{w: w}
}

// Log implements log.ExternalLogger.
func (a *AuditLog) Log(level log.Level, msg string) {
	a.mu.Lock()
	a.lines = append(a.lines, fmt.Sprintf("%s: %s", level, msg))
	a.mu.Unlock()
}

// Flush implements log.ExternalLogger: it writes the buffered lines to
// the underlying writer and clears the buffer.
func (a *AuditLog) Flush() {
	a.mu.Lock()
	lines := a.lines
	a.lines = nil
	a.mu.Unlock()
	for _, l := range lines {
		fmt.Fprintln(a.w, l)
	}
}

// Lines returns a copy of the buffered, not-yet-flushed lines, for
// tests inspecting the audit trail.
func (a *AuditLog) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.lines...)
}
