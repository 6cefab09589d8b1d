/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package wire

import (
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// Message is one of the five wire message kinds: *ConnectRequest, *ConnectResponse, *DisconnectRequest,
// *DisconnectResponse or *Data.
type Message interface {
	Type() MessageType
	Head() *Header
	isMessage()
}

// Header holds the fields common to every message.
type Header struct {
	SourceAddress      defn.Address
	DestinationAddress defn.Address
	DestinationCepId   defn.CepId
}

// Head returns the common header of the message.
func (h *Header) Head() *Header {
	return h
}

func (*Header) isMessage() {}

// ConnectRequest asks the peer to allocate a flow to DestinationApplication.
type ConnectRequest struct {
	Header
	SourceApplication      defn.ApplicationNamingInfo
	DestinationApplication defn.ApplicationNamingInfo
	RequesterCepId         defn.CepId
}

// ConnectResponse answers a ConnectRequest.
type ConnectResponse struct {
	Header
	Result         ConnectResult
	RequesterCepId defn.CepId
	ResponderCepId defn.CepId
}

// DisconnectRequest closes a flow.
type DisconnectRequest struct {
	Header
	Flags DisconnectFlags
}

// DisconnectResponse acknowledges a graceful DisconnectRequest.
type DisconnectResponse struct {
	Header
	Flags DisconnectFlags
}

// Data carries one encoded PDU of a flow.
type Data struct {
	Header
	Payload []byte
}

// Type returns ConnectRequestType.
func (*ConnectRequest) Type() MessageType { return ConnectRequestType }

// Type returns ConnectResponseType.
func (*ConnectResponse) Type() MessageType { return ConnectResponseType }

// Type returns DisconnectRequestType.
func (*DisconnectRequest) Type() MessageType { return DisconnectRequestType }

// Type returns DisconnectResponseType.
func (*DisconnectResponse) Type() MessageType { return DisconnectResponseType }

// Type returns DataType.
func (*Data) Type() MessageType { return DataType }
