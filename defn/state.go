/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package defn

// State is the state of a connection endpoint.
type State int

const (
	// Detached is the pre-allocation state
	Detached State = iota
	// Connecting indicates the handshake is in progress
	Connecting
	// Open indicates data may flow
	Open
	// Closing indicates a graceful disconnect is in progress
	Closing
	// Closed indicates the connection is gone
	Closed
)

func (s State) String() string {
	switch s {
	case Detached:
		return "Detached"
	case Connecting:
		return "Connecting"
	case Open:
		return "Open"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}
