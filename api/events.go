// File: api/events.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness event bitmask shared between interest registration and dispatch.

package api

import "strings"

// Events is a bitmask of readiness conditions. The same type serves as the
// interest mask passed at registration time and as the delivered mask passed
// to handlers; delivered bits are a subset of the interest bits plus the
// always-reported EventError.
type Events uint32

const (
	// EventRead reports buffered input waiting to be read.
	EventRead Events = 1 << iota

	// EventWrite reports that a write would not block.
	EventWrite

	// EventPeerClosed reports that the peer shut down its write half.
	// Delivered in addition to EventRead, not instead of it.
	EventPeerClosed

	// EventError reports an error or hangup condition on the descriptor.
	// It is delivered regardless of the interest mask and is not a valid
	// interest bit.
	EventError
)

// Has reports whether any bit of mask is set in e.
func (e Events) Has(mask Events) bool { return e&mask != 0 }

// String renders the set bits for logs and debug output.
func (e Events) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	if e.Has(EventRead) {
		parts = append(parts, "read")
	}
	if e.Has(EventWrite) {
		parts = append(parts, "write")
	}
	if e.Has(EventPeerClosed) {
		parts = append(parts, "peer-closed")
	}
	if e.Has(EventError) {
		parts = append(parts, "error")
	}
	return strings.Join(parts, "|")
}
