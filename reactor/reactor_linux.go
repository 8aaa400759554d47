//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) reactor: registry, level-triggered wait loop, eventfd
// shutdown protocol and per-dispatch panic isolation.

package reactor

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
)

// registration pairs a stored interest mask with its handler. The registry
// map and the kernel interest set are mutated together on every operation
// and must never diverge.
type registration struct {
	interest api.Events
	handler  api.EventHandler
}

// Reactor multiplexes readiness notifications across registered
// descriptors and dispatches them to handlers on the goroutine that calls
// Run.
//
// The Reactor is deliberately lock-free: registry mutations are only
// supported from the reactor's own goroutine (a handler may freely
// register, modify or unregister other descriptors). The one cross-thread
// safe operation is writing to the shutdown descriptor, via Wake or a raw
// 8-byte write to ShutdownFd.
//
// The Reactor never closes registered descriptors; their owners keep that
// responsibility.
type Reactor struct {
	epfd       int
	shutdownFd int
	handlers   map[int]*registration
	log        zerolog.Logger
	closed     bool
}

// New creates a Reactor with its epoll instance and shutdown eventfd; the
// eventfd is registered for read readiness from the start.
func New(opts ...Option) (*Reactor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(efd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(efd)
		return nil, fmt.Errorf("epoll ctl add shutdown fd: %w", err)
	}
	return &Reactor{
		epfd:       epfd,
		shutdownFd: efd,
		handlers:   make(map[int]*registration),
		log:        cfg.logger,
	}, nil
}

// RegisterHandler adds fd to the interest set with the given mask and
// stores handler for dispatch. Registering a descriptor twice fails with
// api.ErrAlreadyRegistered; the duplicate check runs before any kernel
// call, so a failed registration has no side effect.
func (r *Reactor) RegisterHandler(fd int, interest api.Events, handler api.EventHandler) error {
	if r.closed {
		return api.NewError(api.ErrCodeClosed, "register handler")
	}
	if _, ok := r.handlers[fd]; ok {
		return api.NewError(api.ErrCodeAlreadyRegistered, "register handler").WithContext("fd", fd)
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	r.handlers[fd] = &registration{interest: interest, handler: handler}
	return nil
}

// ModifyHandler replaces the interest mask of an existing registration.
// Unknown descriptors fail with api.ErrNotRegistered and leave the
// registry unchanged.
func (r *Reactor) ModifyHandler(fd int, interest api.Events) error {
	reg, ok := r.handlers[fd]
	if !ok {
		return api.NewError(api.ErrCodeNotRegistered, "modify handler").WithContext("fd", fd)
	}
	ev := unix.EpollEvent{Events: toEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	reg.interest = interest
	return nil
}

// UnregisterHandler removes fd from the registry and the kernel interest
// set. Unlike registration, unknown descriptors are not an error: the call
// logs a warning and returns normally. The asymmetry is part of the
// contract.
func (r *Reactor) UnregisterHandler(fd int) {
	if _, ok := r.handlers[fd]; !ok {
		r.log.Warn().Int("fd", fd).Msg("unregister: descriptor not registered")
		return
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		r.log.Warn().Err(err).Int("fd", fd).Msg("epoll ctl del")
	}
	delete(r.handlers, fd)
}

// Registered returns the number of caller registrations (the shutdown
// descriptor is not counted).
func (r *Reactor) Registered() int { return len(r.handlers) }

// ShutdownFd returns the dedicated shutdown descriptor. Writing an 8-byte
// nonzero counter value to it is the only supported way to stop Run; the
// write is safe from any goroutine or signal context.
func (r *Reactor) ShutdownFd() int { return r.shutdownFd }

var wakeBuf = []byte{1, 0, 0, 0, 0, 0, 0, 0}

// Wake increments the shutdown counter, making an active (or the next)
// Run call return. Safe to call from any goroutine.
func (r *Reactor) Wake() error {
	if _, err := unix.Write(r.shutdownFd, wakeBuf); err != nil {
		return fmt.Errorf("wake write: %w", err)
	}
	return nil
}

// Run blocks on the level-triggered wait loop, dispatching every ready
// descriptor to its handler, until the shutdown descriptor is signaled.
// Within one wake all other ready descriptors are dispatched before the
// shutdown takes effect; the pending counter is drained so a later Run can
// be re-armed. A descriptor with unconsumed input stays ready and is
// re-delivered on every subsequent wake.
func (r *Reactor) Run() error {
	if r.closed {
		return api.NewError(api.ErrCodeClosed, "run")
	}
	events := make([]unix.EpollEvent, maxEvents)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll wait: %w", err)
		}
		stop := false
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.shutdownFd {
				r.drainShutdown()
				stop = true
				continue
			}
			reg, ok := r.handlers[fd]
			if !ok {
				// unregistered by an earlier handler in this wake
				continue
			}
			r.dispatch(reg.handler, fd, fromEpoll(events[i].Events))
		}
		if stop {
			return nil
		}
	}
}

// dispatch invokes one handler behind a panic boundary so a failing
// handler cannot terminate the wait loop or starve other descriptors.
func (r *Reactor) dispatch(h api.EventHandler, fd int, events api.Events) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Int("fd", fd).Stringer("events", events).
				Interface("panic", rec).Msg("handler panicked")
		}
	}()
	h.HandleEvent(fd, events)
}

// drainShutdown consumes and discards the eventfd counter so the shutdown
// descriptor can be re-armed before a later run.
func (r *Reactor) drainShutdown() {
	var buf [8]byte
	if _, err := unix.Read(r.shutdownFd, buf[:]); err != nil && err != unix.EAGAIN {
		r.log.Warn().Err(err).Msg("drain shutdown fd")
	}
}

// Close releases the epoll instance and the shutdown descriptor. Remaining
// registrations are discarded without invoking their handlers; the
// descriptors themselves stay open for their owners.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.handlers = nil
	err := unix.Close(r.epfd)
	if cerr := unix.Close(r.shutdownFd); err == nil {
		err = cerr
	}
	return err
}

// toEpoll translates an interest mask into epoll event bits. Level
// triggered on purpose: EPOLLET is never set.
func toEpoll(interest api.Events) uint32 {
	var ev uint32
	if interest.Has(api.EventRead) {
		ev |= unix.EPOLLIN
	}
	if interest.Has(api.EventWrite) {
		ev |= unix.EPOLLOUT
	}
	if interest.Has(api.EventPeerClosed) {
		ev |= unix.EPOLLRDHUP
	}
	return ev
}

// fromEpoll translates delivered epoll bits into the api mask handed to
// handlers.
func fromEpoll(ev uint32) api.Events {
	var events api.Events
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		events |= api.EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		events |= api.EventWrite
	}
	if ev&unix.EPOLLRDHUP != 0 {
		events |= api.EventPeerClosed
	}
	if ev&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		events |= api.EventError
	}
	return events
}
