//go:build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reactor-driven TCP echo server. Everything runs on the goroutine that
// calls Run: the accept handler, the per-connection echo handlers and all
// registry mutations. Stop is the reactor shutdown protocol and may be
// called from anywhere.

package server

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/reactor"
	"github.com/momentics/hioload-reactor/socket"
)

// connInterest is the baseline interest mask of an accepted connection;
// write readiness is added only while the pending queue is non-empty.
const connInterest = api.EventRead | api.EventPeerClosed

// Server accepts TCP connections and echoes every received byte back to
// the sender.
type Server struct {
	cfg   *Config
	r     *reactor.Reactor
	lsock *socket.Socket
	conns map[int]*conn
	log   zerolog.Logger
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithLogger replaces the default stderr logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

// New builds the listening socket, binds it and registers the accept
// handler on a fresh reactor.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:   cfg,
		conns: make(map[int]*conn),
		log:   zerolog.New(os.Stderr).With().Timestamp().Str("component", "server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	sa, err := cfg.sockaddr()
	if err != nil {
		return nil, err
	}
	r, err := reactor.New(reactor.WithLogger(s.log))
	if err != nil {
		return nil, err
	}
	s.r = r

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("listen socket: %w", err)
	}
	s.lsock = socket.New(fd)

	if err := s.setupListener(sa); err != nil {
		s.lsock.Close()
		r.Close()
		return nil, err
	}
	return s, nil
}

func (s *Server) setupListener(sa *unix.SockaddrInet4) error {
	if err := s.lsock.SetReuseAddr(); err != nil {
		return err
	}
	if err := s.lsock.SetNonBlocking(); err != nil {
		return err
	}
	if err := unix.Bind(s.lsock.Fd(), sa); err != nil {
		return fmt.Errorf("bind %s: %w", s.cfg.ListenAddr, err)
	}
	if err := unix.Listen(s.lsock.Fd(), s.cfg.Backlog); err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	return s.r.RegisterHandler(s.lsock.Fd(), api.EventRead, api.EventHandlerFunc(s.onAccept))
}

// Addr returns the actual bound host:port, useful when the configured
// port was 0.
func (s *Server) Addr() (string, error) {
	sa, err := unix.Getsockname(s.lsock.Fd())
	if err != nil {
		return "", fmt.Errorf("getsockname: %w", err)
	}
	sa4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return "", fmt.Errorf("getsockname: unexpected address family")
	}
	return net.JoinHostPort(net.IP(sa4.Addr[:]).String(), strconv.Itoa(sa4.Port)), nil
}

// Run blocks dispatching events until Stop is called.
func (s *Server) Run() error {
	addr, _ := s.Addr()
	s.log.Info().Str("addr", addr).Msg("listening")
	return s.r.Run()
}

// Stop signals the reactor shutdown descriptor. Safe from any goroutine.
func (s *Server) Stop() error { return s.r.Wake() }

// Close releases all connections, the listener and the reactor. Call
// after Run has returned.
func (s *Server) Close() error {
	for fd, c := range s.conns {
		s.r.UnregisterHandler(fd)
		c.sock.Close()
		delete(s.conns, fd)
	}
	s.r.UnregisterHandler(s.lsock.Fd())
	err := s.lsock.Close()
	if cerr := s.r.Close(); err == nil {
		err = cerr
	}
	return err
}

// onAccept drains the accept backlog. The listener is level-triggered, so
// leftover connections would fire again anyway; draining here just saves
// wakeups.
func (s *Server) onAccept(int, api.Events) {
	for {
		fd, _, err := unix.Accept4(s.lsock.Fd(), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Msg("accept")
			return
		}
		c := newConn(fd, s.cfg.ReadBufferSize)
		if err := s.r.RegisterHandler(fd, connInterest, api.EventHandlerFunc(s.onConn)); err != nil {
			s.log.Warn().Err(err).Int("fd", fd).Msg("register connection")
			c.sock.Close()
			continue
		}
		s.conns[fd] = c
		s.log.Debug().Int("fd", fd).Msg("accepted connection")
	}
}

// onConn handles one readiness notification for an accepted connection.
func (s *Server) onConn(fd int, events api.Events) {
	c, ok := s.conns[fd]
	if !ok {
		return
	}
	if events.Has(api.EventError) {
		s.closeConn(fd, c, "socket error")
		return
	}
	if events.Has(api.EventWrite) {
		if err := s.flush(fd, c); err != nil {
			s.closeConn(fd, c, "flush failed")
			return
		}
	}
	if events.Has(api.EventRead) {
		n, err := unix.Read(fd, c.readBuf)
		switch {
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			// raced with an earlier drain in the same wake
		case err != nil:
			s.closeConn(fd, c, "read failed")
			return
		case n == 0:
			s.closeConn(fd, c, "connection closed by peer")
			return
		default:
			if err := s.echo(fd, c, c.readBuf[:n]); err != nil {
				s.closeConn(fd, c, "write failed")
				return
			}
		}
	}
	if events.Has(api.EventPeerClosed) && !events.Has(api.EventRead) {
		s.closeConn(fd, c, "peer half-closed")
	}
}

// echo writes p back to the client, queueing whatever the socket does not
// accept immediately.
func (s *Server) echo(fd int, c *conn, p []byte) error {
	if c.hasPending() {
		// keep byte order: everything goes behind the queued data
		c.enqueue(p)
		return nil
	}
	n, err := unix.Write(fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		n = 0
		err = nil
	}
	if err != nil {
		return fmt.Errorf("write fd=%d: %w", fd, err)
	}
	if n < len(p) {
		c.enqueue(p[n:])
		return s.r.ModifyHandler(fd, connInterest|api.EventWrite)
	}
	return nil
}

// flush writes queued buffers until the queue empties or the socket stops
// accepting, then drops write interest once nothing is pending.
func (s *Server) flush(fd int, c *conn) error {
	for c.hasPending() {
		b := c.pending.Peek().(*outBuf)
		n, err := unix.Write(fd, b.remaining())
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err != nil {
			return fmt.Errorf("flush fd=%d: %w", fd, err)
		}
		b.off += n
		if b.off < len(b.data) {
			return nil
		}
		c.pending.Remove()
	}
	return s.r.ModifyHandler(fd, connInterest)
}

func (s *Server) closeConn(fd int, c *conn, reason string) {
	s.r.UnregisterHandler(fd)
	c.sock.Close()
	delete(s.conns, fd)
	s.log.Debug().Int("fd", fd).Str("reason", reason).Msg("connection closed")
}
