/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

// ChannelState is the state of a channel.
type ChannelState int

const (
	// Up means the channel is connected and its receive loop may run.
	Up ChannelState = iota
	// Down means the channel is closed.
	Down
)

func (s ChannelState) String() string {
	switch s {
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "Unknown"
	}
}
