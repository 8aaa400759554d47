// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package socket provides an exclusive-ownership wrapper around one OS
// file descriptor, with explicit move-style ownership transfer and
// release-exactly-once semantics.
package socket
