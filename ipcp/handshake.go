/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"context"
	"errors"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/shim"
	"github.com/rysavy-ondrej/RINASharp-sub000/utils"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

var (
	errHandshakeTimeout  = errors.New("no response before handshake timeout")
	errUnexpectedMessage = errors.New("unexpected control message")
	errChannelLost       = errors.New("channel went down")
)

// AllocateFlow requests a flow to the destination of flow and waits for the peer's decision.
func (e *Engine) AllocateFlow(flow *defn.FlowInformation) (*Port, wire.ConnectResult, error) {
	return e.AllocateFlowContext(context.Background(), flow)
}

// AllocateFlowContext requests a flow and waits for the peer's decision, at most for the handshake
// timeout and until ctx is done. A refusal by the peer is not an error: the result tells why no port
// was returned.
func (e *Engine) AllocateFlowContext(ctx context.Context, flow *defn.FlowInformation) (*Port, wire.ConnectResult, error) {
	if flow == nil {
		return nil, wire.Fail, defn.MakePortError(defn.InvalidArgument, nil)
	}
	for _, name := range []defn.ApplicationNamingInfo{flow.SourceApplication(), flow.DestinationApplication()} {
		if err := name.Validate(); err != nil {
			return nil, wire.Fail, defn.MakePortError(defn.InvalidArgument, err)
		}
	}
	destination, err := e.resolve(flow)
	if err != nil {
		return nil, wire.Fail, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.options.HandshakeTimeout)
	defer cancel()

	ch, err := e.channelTo(ctx, destination)
	if err != nil {
		return nil, wire.Fail, err
	}

	local := e.cepIds.Next()
	cep := newConnectionEndpoint(e, local, flow, ch, destination)
	if err := e.connections.Insert(local, cep); err != nil {
		e.cepIds.Release(local)
		return nil, wire.Fail, defn.MakePortError(defn.Fault, err)
	}

	start := time.Now()
	err = ch.Send(&wire.ConnectRequest{
		Header: wire.Header{
			SourceAddress:      e.Address(),
			DestinationAddress: destination,
			DestinationCepId:   defn.NoCepId,
		},
		SourceApplication:      flow.SourceApplication(),
		DestinationApplication: flow.DestinationApplication(),
		RequesterCepId:         local,
	})
	if err != nil {
		cep.changeState(defn.Closed)
		return nil, wire.Fail, err
	}
	core.LogDebug(cep, "Requested flow to ", flow.DestinationApplication(), " at ", destination)

	select {
	case msg := <-cep.control:
		resp, ok := msg.(*wire.ConnectResponse)
		if !ok {
			e.abort(cep)
			return nil, wire.Fail, defn.MakePortError(defn.Fault, errUnexpectedMessage)
		}
		if resp.Result != wire.Accepted {
			core.LogInfo(e, "Flow to ", flow.DestinationApplication(), " refused: ", resp.Result)
			return nil, resp.Result, nil
		}
		if cep.State() != defn.Open {
			return nil, wire.Fail, defn.MakePortError(defn.ConnectionAborted, errAborted)
		}
		e.measurements.AddSampleToEWMA("handshake_ms", float64(time.Since(start).Microseconds())/1000, 0.125)
		core.LogInfo(e, "Allocated flow to ", flow.DestinationApplication(), " ", cep)
		return &Port{engine: e, cep: cep}, wire.Accepted, nil
	case <-ch.Done():
		cep.changeState(defn.Closed)
		return nil, wire.Fail, defn.MakePortError(defn.ConnectionAborted, errChannelLost)
	case <-ctx.Done():
		e.abort(cep)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, wire.Fail, defn.MakePortError(defn.TimedOut, errHandshakeTimeout)
		}
		return nil, wire.Fail, defn.MakePortError(defn.ConnectionAborted, ctx.Err())
	}
}

// handleConnectRequest serves a flow request of a peer. It runs on the receive loop of ch.
func (e *Engine) handleConnectRequest(ch shim.Channel, m *wire.ConnectRequest) {
	reply := func(result wire.ConnectResult, responder defn.CepId) error {
		return ch.Send(&wire.ConnectResponse{
			Header: wire.Header{
				SourceAddress:      e.Address(),
				DestinationAddress: m.SourceAddress,
				DestinationCepId:   m.RequesterCepId,
			},
			Result:         result,
			RequesterCepId: m.RequesterCepId,
			ResponderCepId: responder,
		})
	}

	if m.RequesterCepId == defn.NoCepId {
		e.invalidMessage(ch, errMissingRequester, defn.NoCepId)
		return
	}
	if _, ok := e.connections.GetByRemote(m.SourceAddress, m.RequesterCepId); ok {
		core.LogDebug(e, "Duplicate flow request from ", m.SourceAddress, " ", m.RequesterCepId, " - DROP")
		return
	}

	_, handler, ok := e.applications.Lookup(m.DestinationApplication)
	if !ok {
		core.LogInfo(e, "Flow request for unregistered application ", m.DestinationApplication)
		if err := reply(wire.NotFound, defn.NoCepId); err != nil {
			core.LogWarn(e, "Unable to send response: ", err)
		}
		return
	}

	flow := defn.NewFlowInformation(m.DestinationApplication, m.SourceApplication,
		defn.WithSourceAddress(e.Address()), defn.WithDestinationAddress(m.SourceAddress))
	result, onAccept := e.invokeRequestHandler(handler, flow)
	if result != wire.Accepted {
		core.LogInfo(e, "Flow request ", flow, " refused: ", result)
		if err := reply(result, defn.NoCepId); err != nil {
			core.LogWarn(e, "Unable to send response: ", err)
		}
		return
	}

	local := e.cepIds.Next()
	cep := newConnectionEndpoint(e, local, flow, ch, m.SourceAddress)
	if err := e.connections.Insert(local, cep); err != nil {
		e.cepIds.Release(local)
		core.LogError(e, "Unable to index connection endpoint: ", err)
		return
	}
	if err := reply(wire.Accepted, local); err != nil {
		core.LogWarn(cep, "Unable to send response: ", err)
		cep.changeState(defn.Closed)
		return
	}
	if err := cep.open(m.RequesterCepId, m.SourceAddress); err != nil {
		core.LogWarn(cep, "Unable to open: ", err)
		e.abort(cep)
		return
	}
	e.flowAllocated(cep)

	if onAccept != nil {
		port := &Port{engine: e, cep: cep}
		go utils.Recover(func() { onAccept(port) }, func(r interface{}) {
			core.LogError(cep, "Accept callback panicked: ", r)
		})
	}
}

// invokeRequestHandler asks handler for a decision. A panicking handler rejects the flow.
func (e *Engine) invokeRequestHandler(handler RequestHandler, flow *defn.FlowInformation) (result wire.ConnectResult, onAccept AcceptFunc) {
	result = wire.Rejected
	utils.Recover(func() { result, onAccept = handler(flow) }, func(r interface{}) {
		core.LogError(e, "Request handler for ", flow, " panicked: ", r, " - REJECT")
		result, onAccept = wire.Rejected, nil
	})
	return result, onAccept
}

// handleConnectResponse completes a flow request of this engine. It runs on the receive loop of ch so
// that the connection is open before any data of the peer is processed.
func (e *Engine) handleConnectResponse(ch shim.Channel, m *wire.ConnectResponse) {
	cep, ok := e.connections.Get(m.DestinationCepId)
	if !ok || cep.channel != ch || cep.State() != defn.Connecting || m.RequesterCepId != m.DestinationCepId {
		core.LogDebug(e, "Response for unknown flow request ", m.DestinationCepId, " - DROP")
		if m.Result == wire.Accepted && m.ResponderCepId != defn.NoCepId {
			// The peer created an endpoint nobody is waiting for
			e.sendAbort(ch, m.SourceAddress, m.ResponderCepId)
		}
		return
	}

	if m.Result == wire.Accepted {
		remoteAddress := m.SourceAddress
		if remoteAddress.IsEmpty() {
			remoteAddress = cep.RemoteAddress()
		}
		if err := cep.open(m.ResponderCepId, remoteAddress); err != nil {
			core.LogWarn(cep, "Unable to open: ", err)
			cep.changeState(defn.Closed)
			e.sendAbort(ch, remoteAddress, m.ResponderCepId)
		} else {
			e.flowAllocated(cep)
		}
	} else {
		cep.changeState(defn.Closed)
	}
	cep.deliverControl(m)
}

func (e *Engine) flowAllocated(cep *connectionEndpoint) {
	e.measurements.AddToInt("flows_allocated", 1)
	e.events.emit(Event{
		Kind:        EventFlowAllocated,
		LocalCepId:  cep.localCepId,
		RemoteCepId: cep.RemoteCepId(),
		Address:     cep.RemoteAddress(),
	})
}

// DeallocateFlow closes the flow of p. A graceful close sends queued data, then waits for the peer to
// confirm; otherwise the flow is aborted without waiting.
func (e *Engine) DeallocateFlow(p *Port, graceful bool) error {
	return e.DeallocateFlowContext(context.Background(), p, graceful)
}

// DeallocateFlowContext closes the flow of p. The graceful wait is bounded by the handshake timeout and
// ctx; when either expires the flow is aborted.
func (e *Engine) DeallocateFlowContext(ctx context.Context, p *Port, graceful bool) error {
	if err := e.checkPort(p); err != nil {
		return err
	}
	cep := p.cep
	state := cep.State()
	if state == defn.Closed {
		return nil
	}
	if !graceful || state == defn.Connecting {
		e.abort(cep)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.options.HandshakeTimeout)
	defer cancel()

	if !cep.changeState(defn.Closing) {
		// The peer is already closing the flow
		select {
		case <-cep.closed:
			return nil
		case <-ctx.Done():
			e.abort(cep)
			return defn.MakePortError(defn.TimedOut, ctx.Err())
		}
	}

	select {
	case <-cep.sendDone:
	case <-ctx.Done():
		e.abort(cep)
		return defn.MakePortError(defn.TimedOut, ctx.Err())
	}

	err := cep.channel.Send(&wire.DisconnectRequest{
		Header: wire.Header{
			SourceAddress:      e.Address(),
			DestinationAddress: cep.RemoteAddress(),
			DestinationCepId:   cep.RemoteCepId(),
		},
		Flags: wire.Gracefull,
	})
	if err != nil {
		cep.changeState(defn.Closed)
		return err
	}

	select {
	case msg := <-cep.control:
		if resp, ok := msg.(*wire.DisconnectResponse); !ok || resp.Flags != wire.Close {
			core.LogDebug(cep, "Unexpected response to disconnect: ", msg.Type())
		}
		cep.changeState(defn.Closed)
		return nil
	case <-cep.closed:
		return nil
	case <-cep.channel.Done():
		cep.changeState(defn.Closed)
		return defn.MakePortError(defn.ConnectionAborted, errChannelLost)
	case <-ctx.Done():
		e.abort(cep)
		return defn.MakePortError(defn.TimedOut, ctx.Err())
	}
}

// closeOnPeerRequest completes a graceful disconnect requested by the peer: queued data is sent
// before the peer is told the connection is closed.
func (e *Engine) closeOnPeerRequest(cep *connectionEndpoint) {
	cep.changeState(defn.Closing)
	select {
	case <-cep.sendDone:
	case <-time.After(e.options.HandshakeTimeout):
		core.LogWarn(cep, "Send queue not drained before handshake timeout")
	}

	err := cep.channel.Send(&wire.DisconnectResponse{
		Header: wire.Header{
			SourceAddress:      e.Address(),
			DestinationAddress: cep.RemoteAddress(),
			DestinationCepId:   cep.RemoteCepId(),
		},
		Flags: wire.Close,
	})
	if err != nil {
		core.LogDebug(cep, "Unable to confirm disconnect: ", err)
	}
	cep.changeState(defn.Closed)
}
