// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a single-threaded, level-triggered event
// dispatcher over Linux epoll. Descriptors are registered together with an
// interest mask and a handler; Run blocks, waits for readiness across all
// registrations and invokes handlers on the calling goroutine until the
// dedicated shutdown descriptor is signaled.
package reactor
