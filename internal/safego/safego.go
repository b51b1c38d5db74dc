// Package safego wraps goroutine launches with panic recovery.
package safego

import "log/slog"

// Go runs fn in a new goroutine, recovering and logging any panic instead of
// crashing the process. All fire-and-forget goroutines (rotation ticks, async
// audit shipping) go through here; a bare `go fn()` would let a panic take the
// whole server down.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
