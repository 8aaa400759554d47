// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package server implements a single-threaded TCP echo server on top of
// the reactor: a non-blocking listening socket, per-connection echo
// handlers and queued partial writes flushed on write readiness.
package server
