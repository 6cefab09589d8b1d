/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

// Version is the protocol version carried in the high byte of every header word.
const Version = 1

// MessageType is the low byte of the header word.
type MessageType uint8

// Message types.
const (
	ConnectRequestType     MessageType = 0
	ConnectResponseType    MessageType = 1
	DisconnectRequestType  MessageType = 2
	DisconnectResponseType MessageType = 3
	DataType               MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case ConnectRequestType:
		return "ConnectRequest"
	case ConnectResponseType:
		return "ConnectResponse"
	case DisconnectRequestType:
		return "DisconnectRequest"
	case DisconnectResponseType:
		return "DisconnectResponse"
	case DataType:
		return "Data"
	default:
		return "Unknown"
	}
}

// ConnectResult is the outcome carried by a ConnectResponse.
type ConnectResult uint8

// Connect results.
const (
	Accepted               ConnectResult = 0
	AuthenticationRequired ConnectResult = 1
	Rejected               ConnectResult = 2
	NotFound               ConnectResult = 3
	Fail                   ConnectResult = 255
)

func (r ConnectResult) String() string {
	switch r {
	case Accepted:
		return "Accepted"
	case AuthenticationRequired:
		return "AuthenticationRequired"
	case Rejected:
		return "Rejected"
	case NotFound:
		return "NotFound"
	case Fail:
		return "Fail"
	default:
		return "Unknown"
	}
}

// DisconnectFlags qualifies a DisconnectRequest or DisconnectResponse.
type DisconnectFlags uint32

// Disconnect flags.
const (
	Abort     DisconnectFlags = 1
	Gracefull DisconnectFlags = 2
	Close     DisconnectFlags = 3
)

func (f DisconnectFlags) String() string {
	switch f {
	case Abort:
		return "Abort"
	case Gracefull:
		return "Gracefull"
	case Close:
		return "Close"
	default:
		return "Unknown"
	}
}
