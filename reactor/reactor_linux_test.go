//go:build linux

package reactor_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/reactor"
)

func newReactor(t *testing.T) *reactor.Reactor {
	t.Helper()
	r, err := reactor.New(reactor.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// socketPair returns a connected, non-blocking AF_UNIX stream pair.
func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func nopHandler() api.EventHandlerFunc {
	return func(int, api.Events) {}
}

func TestRegisterAndUnregister(t *testing.T) {
	r := newReactor(t)
	fd, _ := socketPair(t)

	require.NoError(t, r.RegisterHandler(fd, api.EventRead, nopHandler()))
	require.Equal(t, 1, r.Registered())

	r.UnregisterHandler(fd)
	require.Equal(t, 0, r.Registered())
}

func TestRegisterDuplicateFails(t *testing.T) {
	r := newReactor(t)
	fd, _ := socketPair(t)

	require.NoError(t, r.RegisterHandler(fd, api.EventRead, nopHandler()))

	err := r.RegisterHandler(fd, api.EventRead, nopHandler())
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrAlreadyRegistered)
	// first registration stays intact
	assert.Equal(t, 1, r.Registered())
}

func TestUnregisterUnknownIsNotAnError(t *testing.T) {
	r := newReactor(t)
	fd, _ := socketPair(t)

	require.NotPanics(t, func() { r.UnregisterHandler(fd) })
}

func TestModifyUnknownFails(t *testing.T) {
	r := newReactor(t)
	fd, _ := socketPair(t)

	err := r.ModifyHandler(fd, api.EventRead|api.EventWrite)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrNotRegistered)
}

func TestHandlerCalledWhenDataAvailable(t *testing.T) {
	r := newReactor(t)
	w, rd := socketPair(t)

	var called bool
	var got api.Events
	require.NoError(t, r.RegisterHandler(rd, api.EventRead, api.EventHandlerFunc(func(fd int, events api.Events) {
		called = true
		got = events
		buf := make([]byte, 100)
		unix.Read(fd, buf)
		require.NoError(t, r.Wake())
	})))

	_, err := unix.Write(w, []byte("trigger"))
	require.NoError(t, err)

	require.NoError(t, r.Run())
	assert.True(t, called)
	assert.True(t, got.Has(api.EventRead))
}

func TestModifyDeliversWriteReadiness(t *testing.T) {
	r := newReactor(t)
	_, fd := socketPair(t)

	var got api.Events
	require.NoError(t, r.RegisterHandler(fd, api.EventRead, api.EventHandlerFunc(func(_ int, events api.Events) {
		got = events
		require.NoError(t, r.Wake())
	})))

	// No data was written, so the handler only fires once write readiness
	// is part of the interest mask.
	require.NoError(t, r.ModifyHandler(fd, api.EventRead|api.EventWrite))

	require.NoError(t, r.Run())
	assert.True(t, got.Has(api.EventWrite))
}

func TestPeerHalfCloseDelivered(t *testing.T) {
	r := newReactor(t)
	w, rd := socketPair(t)

	var got api.Events
	require.NoError(t, r.RegisterHandler(rd, api.EventRead|api.EventPeerClosed, api.EventHandlerFunc(func(_ int, events api.Events) {
		got = events
		require.NoError(t, r.Wake())
	})))

	// Shutting down the write half sends a FIN, which surfaces as
	// peer-closed readiness on the other end.
	require.NoError(t, unix.Shutdown(w, unix.SHUT_WR))

	require.NoError(t, r.Run())
	assert.True(t, got.Has(api.EventPeerClosed))
}

func TestLevelTriggeredRedelivery(t *testing.T) {
	r := newReactor(t)
	w, rd := socketPair(t)

	// Two buffered bytes and a handler that drains one byte per call:
	// level-triggered delivery must invoke it exactly twice.
	calls := 0
	require.NoError(t, r.RegisterHandler(rd, api.EventRead, api.EventHandlerFunc(func(fd int, _ api.Events) {
		buf := make([]byte, 1)
		unix.Read(fd, buf)
		calls++
		if calls == 2 {
			require.NoError(t, r.Wake())
		}
	})))

	_, err := unix.Write(w, []byte("ab"))
	require.NoError(t, err)

	require.NoError(t, r.Run())
	assert.Equal(t, 2, calls)
}

func TestHandlerPanicDoesNotStopTheLoop(t *testing.T) {
	r := newReactor(t)
	w, rd := socketPair(t)

	calls := 0
	require.NoError(t, r.RegisterHandler(rd, api.EventRead, api.EventHandlerFunc(func(fd int, _ api.Events) {
		buf := make([]byte, 1)
		unix.Read(fd, buf)
		calls++
		if calls == 1 {
			panic("deliberate handler error")
		}
		require.NoError(t, r.Wake())
	})))

	_, err := unix.Write(w, []byte("ab"))
	require.NoError(t, err)

	require.NoError(t, r.Run())
	assert.Equal(t, 2, calls)
}

func TestShutdownFdIsValidAndStopsRun(t *testing.T) {
	r := newReactor(t)

	sfd := r.ShutdownFd()
	require.GreaterOrEqual(t, sfd, 0)

	n, err := unix.Write(sfd, []byte{1, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	require.Equal(t, 8, n)

	require.NoError(t, r.Run())
}

func TestWakeStopsRunFromAnotherGoroutine(t *testing.T) {
	r := newReactor(t)

	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.Wake())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Wake")
	}
}

func TestReadyDescriptorsDispatchedBeforeShutdown(t *testing.T) {
	r := newReactor(t)
	w, rd := socketPair(t)

	called := false
	require.NoError(t, r.RegisterHandler(rd, api.EventRead, api.EventHandlerFunc(func(fd int, _ api.Events) {
		called = true
		buf := make([]byte, 8)
		unix.Read(fd, buf)
	})))

	// Both the data descriptor and the shutdown descriptor become ready in
	// the same wake; the data handler must still run before Run exits.
	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, r.Wake())

	require.NoError(t, r.Run())
	assert.True(t, called)
}

func TestRunCanBeReArmed(t *testing.T) {
	r := newReactor(t)
	w, rd := socketPair(t)

	calls := 0
	require.NoError(t, r.RegisterHandler(rd, api.EventRead, api.EventHandlerFunc(func(fd int, _ api.Events) {
		buf := make([]byte, 8)
		unix.Read(fd, buf)
		calls++
		require.NoError(t, r.Wake())
	})))

	_, err := unix.Write(w, []byte("1"))
	require.NoError(t, err)
	require.NoError(t, r.Run())

	// The shutdown counter was drained on exit, so a second run blocks
	// again until the next wake.
	_, err = unix.Write(w, []byte("2"))
	require.NoError(t, err)
	require.NoError(t, r.Run())

	assert.Equal(t, 2, calls)
}

func TestOperationsFailAfterClose(t *testing.T) {
	r, err := reactor.New(reactor.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	fd, _ := socketPair(t)
	assert.ErrorIs(t, r.RegisterHandler(fd, api.EventRead, nopHandler()), api.ErrReactorClosed)
	assert.ErrorIs(t, r.Run(), api.ErrReactorClosed)
}
