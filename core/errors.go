/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "errors"

// Error definitions
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownPort   = errors.New("unknown port")
)
