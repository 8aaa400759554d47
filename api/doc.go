// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package api defines the shared types of the hioload-reactor library:
// the readiness event bitmask, the event handler contract, and the
// structured error values used across packages.
package api
