/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import "errors"

// Error definitions
var (
	ErrFrameTooLarge      = errors.New("frame exceeds maximum frame size")
	ErrChannelDown        = errors.New("channel is down")
	ErrUnsupportedAddress = errors.New("no channel type serves this address")
	ErrPoolClosed         = errors.New("channel pool is closed")
)
