/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

import "errors"

// Error definitions
var (
	ErrTruncated     = errors.New("message is truncated")
	ErrBadVersion    = errors.New("unsupported protocol version")
	ErrUnknownType   = errors.New("unknown message type")
	ErrTrailingBytes = errors.New("unexpected bytes after message")
	ErrInvalidString = errors.New("string is not valid UTF-8")
	ErrTooLarge      = errors.New("field exceeds maximum size")
)
