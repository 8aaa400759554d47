// File: api/handler.go
// Package api defines the EventHandler interface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventHandler processes one readiness notification for one descriptor.
// Handlers run synchronously on the reactor goroutine: a handler that
// blocks stalls dispatch for every other registered descriptor.
type EventHandler interface {
	HandleEvent(fd int, events Events)
}

// EventHandlerFunc adapts an ordinary function to the EventHandler
// interface.
type EventHandlerFunc func(fd int, events Events)

// HandleEvent calls f(fd, events).
func (f EventHandlerFunc) HandleEvent(fd int, events Events) { f(fd, events) }
