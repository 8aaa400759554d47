//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub for platforms without epoll support.

package reactor

import "github.com/momentics/hioload-reactor/api"

// Reactor is only implemented on Linux.
type Reactor struct{}

// New fails on platforms without epoll.
func New(opts ...Option) (*Reactor, error) {
	return nil, api.NewError(api.ErrCodeNotSupported, "reactor requires linux epoll")
}
