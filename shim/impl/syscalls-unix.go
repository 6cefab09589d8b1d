//go:build unix

/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package impl

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// RawConn is the raw connection of a socket.
type RawConn = syscall.RawConn

// SyscallSetBufferSizes sets SO_SNDBUF and SO_RCVBUF on Unix-like platforms.
func SyscallSetBufferSizes(c RawConn, size int) error {
	var err error
	ctlErr := c.Control(func(fd uintptr) {
		if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size); err != nil {
			return
		}
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
	})
	if ctlErr != nil {
		return ctlErr
	}
	return err
}

// SyscallGetReceiveBufferSize returns SO_RCVBUF of the socket.
func SyscallGetReceiveBufferSize(c RawConn) (int, error) {
	var val int
	var err error
	ctlErr := c.Control(func(fd uintptr) {
		val, err = unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF)
	})
	if ctlErr != nil {
		return 0, ctlErr
	}
	return val, err
}
