/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"errors"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/dtp"
	"github.com/rysavy-ondrej/RINASharp-sub000/shim"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

// Error definitions
var (
	errUnknownCepId     = errors.New("no connection endpoint with this id")
	errWrongChannel     = errors.New("connection endpoint belongs to another channel")
	errWrongSource      = errors.New("source address does not match the connection peer")
	errUnexpectedState  = errors.New("connection endpoint is not accepting data")
	errUnknownMessage   = errors.New("unknown message type")
	errMissingRequester = errors.New("flow request without requester CepId")
)

// HandleMessage processes a message received on ch. It is called on the receive loop of ch, so
// messages of one channel are handled in order.
func (e *Engine) HandleMessage(ch shim.Channel, msg wire.Message) {
	switch m := msg.(type) {
	case *wire.Data:
		e.handleData(ch, m)
	case *wire.ConnectRequest:
		e.handleConnectRequest(ch, m)
	case *wire.ConnectResponse:
		e.handleConnectResponse(ch, m)
	case *wire.DisconnectRequest:
		e.handleDisconnectRequest(ch, m)
	case *wire.DisconnectResponse:
		e.handleDisconnectResponse(ch, m)
	default:
		e.invalidMessage(ch, errUnknownMessage, msg.Head().DestinationCepId)
	}
}

// HandleInvalidFrame records a frame that could not be decoded.
func (e *Engine) HandleInvalidFrame(ch shim.Channel, err error) {
	e.invalidMessage(ch, err, defn.NoCepId)
}

// HandleChannelDown closes every connection carried by ch.
func (e *Engine) HandleChannelDown(ch shim.Channel) {
	for _, cep := range e.connections.Values() {
		if cep.channel == ch {
			cep.changeState(defn.Closed)
		}
	}
	e.events.emit(Event{Kind: EventChannelDown, Address: ch.RemoteAddress()})
}

// endpointFor returns the connection endpoint addressed by a message received on ch.
func (e *Engine) endpointFor(ch shim.Channel, h *wire.Header) (*connectionEndpoint, error) {
	cep, ok := e.connections.Get(h.DestinationCepId)
	if !ok {
		return nil, errUnknownCepId
	}
	if cep.channel != ch {
		return nil, errWrongChannel
	}
	if h.SourceAddress != cep.RemoteAddress() {
		return nil, errWrongSource
	}
	return cep, nil
}

func (e *Engine) handleData(ch shim.Channel, m *wire.Data) {
	cep, err := e.endpointFor(ch, &m.Header)
	if err != nil {
		e.invalidMessage(ch, err, m.DestinationCepId)
		return
	}
	if state := cep.State(); state != defn.Open && state != defn.Closing {
		e.invalidMessage(ch, errUnexpectedState, m.DestinationCepId)
		return
	}

	pdu, err := dtp.DecodePdu(m.Payload)
	if err != nil {
		e.invalidMessage(ch, err, m.DestinationCepId)
		return
	}
	if err := pdu.CheckConnection(cep.RemoteCepId(), cep.localCepId); err != nil {
		e.invalidMessage(ch, err, m.DestinationCepId)
		return
	}
	pdu.SourceAddress = m.SourceAddress
	pdu.DestinationAddress = m.DestinationAddress
	cep.handlePdu(&pdu)
}

func (e *Engine) handleDisconnectRequest(ch shim.Channel, m *wire.DisconnectRequest) {
	cep, err := e.endpointFor(ch, &m.Header)
	if err != nil {
		// Aborts race with local closes, so an unknown endpoint is expected
		core.LogDebug(e, "Disconnect for ", m.DestinationCepId, ": ", err, " - DROP")
		return
	}

	switch m.Flags {
	case wire.Abort:
		core.LogInfo(cep, "Aborted by peer")
		cep.changeState(defn.Closed)
	case wire.Gracefull:
		if cep.State() != defn.Open {
			// A simultaneous close: both sides wait for their own response
			if !cep.deliverControl(&wire.DisconnectResponse{Header: m.Header, Flags: wire.Close}) {
				core.LogDebug(cep, "Disconnect request while ", cep.State(), " - DROP")
			}
			return
		}
		core.LogInfo(cep, "Closing on peer request")
		go e.closeOnPeerRequest(cep)
	default:
		e.invalidMessage(ch, errUnknownMessage, m.DestinationCepId)
	}
}

func (e *Engine) handleDisconnectResponse(ch shim.Channel, m *wire.DisconnectResponse) {
	cep, err := e.endpointFor(ch, &m.Header)
	if err != nil {
		core.LogDebug(e, "Disconnect response for ", m.DestinationCepId, ": ", err, " - DROP")
		return
	}
	if state := cep.State(); state != defn.Closing {
		core.LogDebug(cep, "Disconnect response while ", state, " - DROP")
		return
	}
	if !cep.deliverControl(m) {
		core.LogDebug(cep, "Unexpected disconnect response - DROP")
	}
}
