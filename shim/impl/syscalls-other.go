//go:build !unix

/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package impl

import (
	"errors"
	"syscall"
)

// RawConn is the raw connection of a socket.
type RawConn = syscall.RawConn

var errUnsupported = errors.New("socket options not supported on this platform")

// SyscallSetBufferSizes is not supported on this platform.
func SyscallSetBufferSizes(c RawConn, size int) error {
	return errUnsupported
}

// SyscallGetReceiveBufferSize is not supported on this platform.
func SyscallGetReceiveBufferSize(c RawConn) (int, error) {
	return 0, errUnsupported
}
