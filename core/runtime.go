/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package core

import "time"

// Version of ipcpd.
var Version string

// BuildTime contains the timestamp of when the version of ipcpd was built.
var BuildTime string

// StartTimestamp is the time the daemon was started.
var StartTimestamp time.Time
