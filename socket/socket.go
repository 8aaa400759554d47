//go:build unix

// File: socket/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Exclusive-ownership descriptor wrapper. At most one live Socket owns a
// given descriptor; ownership moves via Take/Adopt/MoveFrom, never by
// copying.

package socket

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// InvalidFd is the sentinel value meaning "no descriptor owned".
const InvalidFd = -1

// Socket owns at most one file descriptor and releases it exactly once.
// Always handle a *Socket: copying the value would duplicate ownership.
// The zero value is not usable (it would claim descriptor 0); construct
// with New.
type Socket struct {
	fd int
}

// New adopts fd. Pass InvalidFd (or any negative value) for a Socket that
// owns nothing.
func New(fd int) *Socket {
	if fd < 0 {
		fd = InvalidFd
	}
	return &Socket{fd: fd}
}

// Fd returns the owned descriptor, or InvalidFd. No side effects.
func (s *Socket) Fd() int { return s.fd }

// Valid reports whether s currently owns a descriptor.
func (s *Socket) Valid() bool { return s.fd != InvalidFd }

// Take transfers the descriptor out of s and invalidates s. The caller
// becomes responsible for closing the returned descriptor.
func (s *Socket) Take() int {
	fd := s.fd
	s.fd = InvalidFd
	return fd
}

// Adopt releases any descriptor s currently owns, then takes ownership
// of fd. Adopting the descriptor s already owns is a no-op.
func (s *Socket) Adopt(fd int) {
	if fd < 0 {
		fd = InvalidFd
	}
	if s.fd == fd {
		return
	}
	s.Close()
	s.fd = fd
}

// MoveFrom moves ownership from src into s, releasing whatever s owned
// before. src is left invalid. Self-move is a no-op.
func (s *Socket) MoveFrom(src *Socket) {
	if s == src {
		return
	}
	s.Adopt(src.Take())
}

// SetNonBlocking enables non-blocking I/O mode on the owned descriptor.
func (s *Socket) SetNonBlocking() error {
	if err := unix.SetNonblock(s.fd, true); err != nil {
		return fmt.Errorf("set nonblocking fd=%d: %w", s.fd, err)
	}
	return nil
}

// SetReuseAddr enables SO_REUSEADDR on the owned descriptor.
func (s *Socket) SetReuseAddr() error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set reuseaddr fd=%d: %w", s.fd, err)
	}
	return nil
}

// Close releases the owned descriptor. Closing an invalid Socket is a
// no-op, so Close never runs twice for the same descriptor.
func (s *Socket) Close() error {
	if s.fd == InvalidFd {
		return nil
	}
	fd := s.fd
	s.fd = InvalidFd
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close fd=%d: %w", fd, err)
	}
	return nil
}
