// Package gid implements per-goroutine task-local lookup for the current
// transaction handle.
//
// Go has no first-class goroutine-local storage, and the ecosystem has no
// widely-used third-party replacement grounded in this codebase's retrieval
// pack. The runtime exposes a numeric goroutine id only through the text of
// a stack dump, so that is what this package parses. It is used for exactly
// one purpose: letting stm.Atomically detect that it has been re-entered on
// the same goroutine (flat nesting) and letting Store.IsInTransaction answer
// without the caller threading a *Txn through every call site by hand.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// Current returns the calling goroutine's runtime id.
func Current() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	// "goroutine 123 [running]:\n..."
	const prefix = "goroutine "
	if !bytes.HasPrefix(buf, []byte(prefix)) {
		return 0
	}
	rest := buf[len(prefix):]
	end := bytes.IndexByte(rest, ' ')
	if end < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(rest[:end]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
