/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"errors"
	"sync"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/dtp"
	"github.com/rysavy-ondrej/RINASharp-sub000/shim"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

var (
	errNotOpen = errors.New("connection is not open")
	errAborted = errors.New("connection aborted")
)

type sendRequest struct {
	sdu  []byte
	done chan error
}

// connectionEndpoint is the state of one side of a flow.
type connectionEndpoint struct {
	engine        *Engine
	localCepId    defn.CepId
	flow          *defn.FlowInformation
	channel       shim.Channel
	recv          *receiveBuffer
	control       chan wire.Message
	sendQueue     chan *sendRequest
	sendingClosed chan struct{}
	sendDone      chan struct{}
	closed        chan struct{}

	// reassembler is only used by the receive loop of channel.
	reassembler dtp.Reassembler

	lock           sync.Mutex
	state          defn.State
	remoteCepId    defn.CepId
	remoteAddress  defn.Address
	delimiter      *dtp.Delimiter
	blocking       bool
	receiveTimeout time.Duration
	sendingOnce    sync.Once
}

func newConnectionEndpoint(e *Engine, local defn.CepId, flow *defn.FlowInformation, ch shim.Channel,
	remoteAddress defn.Address) *connectionEndpoint {
	return &connectionEndpoint{
		engine:         e,
		localCepId:     local,
		flow:           flow,
		channel:        ch,
		recv:           newReceiveBuffer(e.options.ReceiveBufferSize, e.options.ReceiveQueueDepth),
		reassembler:    dtp.Reassembler{MaxSduSize: e.options.ReceiveBufferSize},
		control:        make(chan wire.Message, 1),
		sendQueue:      make(chan *sendRequest, e.options.SendQueueSize),
		sendingClosed:  make(chan struct{}),
		sendDone:       make(chan struct{}),
		closed:         make(chan struct{}),
		state:          defn.Connecting,
		remoteAddress:  remoteAddress,
		blocking:       e.options.Blocking,
		receiveTimeout: e.options.ReceiveTimeout,
	}
}

func (c *connectionEndpoint) String() string {
	return "CEP, LocalCepId=" + c.localCepId.String() + ", RemoteCepId=" + c.RemoteCepId().String()
}

// State returns the state of the connection.
func (c *connectionEndpoint) State() defn.State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// RemoteCepId returns the id of the peer endpoint, or NoCepId before the handshake completes.
func (c *connectionEndpoint) RemoteCepId() defn.CepId {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.remoteCepId
}

// RemoteAddress returns the address of the peer process.
func (c *connectionEndpoint) RemoteAddress() defn.Address {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.remoteAddress
}

func (c *connectionEndpoint) connectionId() dtp.ConnectionId {
	c.lock.Lock()
	defer c.lock.Unlock()
	return dtp.ConnectionId{SourceCepId: c.localCepId, DestinationCepId: c.remoteCepId}
}

func validTransition(from defn.State, to defn.State) bool {
	switch from {
	case defn.Detached:
		return to == defn.Connecting
	case defn.Connecting:
		return to == defn.Open || to == defn.Closed
	case defn.Open:
		return to == defn.Closing || to == defn.Closed
	case defn.Closing:
		return to == defn.Closed
	default:
		return false
	}
}

// open binds the peer endpoint and enables data transfer.
func (c *connectionEndpoint) open(remote defn.CepId, remoteAddress defn.Address) error {
	c.lock.Lock()
	c.remoteCepId = remote
	c.remoteAddress = remoteAddress
	delimiter, err := dtp.NewDelimiter(c.engine.options.MaxPduSize, c.engine.Address(), remoteAddress,
		dtp.ConnectionId{QosId: 0, SourceCepId: c.localCepId, DestinationCepId: remote})
	c.delimiter = delimiter
	c.lock.Unlock()
	if err != nil {
		return err
	}
	if err := c.engine.connections.Bind(c.localCepId, remoteAddress, remote); err != nil {
		return err
	}
	if !c.changeState(defn.Open) {
		return errNotOpen
	}
	go c.runSend()
	return nil
}

// changeState moves the endpoint to a new state and returns whether the transition happened. Leaving for
// Closing or Closed stops accepting sends; reaching Closed releases the CepId and unindexes the
// endpoint. Each of these happens exactly once.
func (c *connectionEndpoint) changeState(new defn.State) bool {
	c.lock.Lock()
	old := c.state
	if !validTransition(old, new) {
		c.lock.Unlock()
		return false
	}
	c.state = new
	c.lock.Unlock()

	core.LogDebug(c, "state: ", old, " -> ", new)
	if new == defn.Closing || new == defn.Closed {
		c.sendingOnce.Do(func() { close(c.sendingClosed) })
	}
	if new == defn.Closed {
		c.onClosed(old)
	}
	return true
}

func (c *connectionEndpoint) onClosed(old defn.State) {
	e := c.engine
	e.connections.Remove(c.localCepId)
	e.cepIds.Release(c.localCepId)
	c.recv.close()
	close(c.closed)
	if old == defn.Connecting {
		// runSend was never started
		close(c.sendDone)
		return
	}
	e.measurements.AddToInt("flows_deallocated", 1)
	e.events.emit(Event{
		Kind:        EventFlowDeallocated,
		LocalCepId:  c.localCepId,
		RemoteCepId: c.RemoteCepId(),
		Address:     c.RemoteAddress(),
	})
}

// enqueue queues an SDU for transmission. Without blocking it fails with WouldBlock when the send
// queue is full.
func (c *connectionEndpoint) enqueue(req *sendRequest, blocking bool) error {
	if c.State() != defn.Open {
		return defn.MakePortError(defn.NotConnected, errNotOpen)
	}
	if !blocking {
		select {
		case c.sendQueue <- req:
			return nil
		case <-c.sendingClosed:
			return defn.MakePortError(defn.NotConnected, errNotOpen)
		default:
			return defn.MakePortError(defn.WouldBlock, nil)
		}
	}
	select {
	case c.sendQueue <- req:
		return nil
	case <-c.sendingClosed:
		return defn.MakePortError(defn.NotConnected, errNotOpen)
	}
}

// awaitSent waits for the transmission result of a queued request.
func (c *connectionEndpoint) awaitSent(req *sendRequest) error {
	select {
	case err := <-req.done:
		return err
	case <-c.sendDone:
		select {
		case err := <-req.done:
			return err
		default:
			return defn.MakePortError(defn.NotConnected, errNotOpen)
		}
	}
}

// runSend transmits queued SDUs until sending is closed, then flushes what is still queued.
func (c *connectionEndpoint) runSend() {
	defer close(c.sendDone)
	for {
		select {
		case req := <-c.sendQueue:
			c.transmit(req)
		case <-c.sendingClosed:
			for {
				select {
				case req := <-c.sendQueue:
					c.transmit(req)
				default:
					return
				}
			}
		}
	}
}

// transmit delimits an SDU and writes its PDUs. Queued data of an aborted connection is discarded.
func (c *connectionEndpoint) transmit(req *sendRequest) {
	if c.State() == defn.Closed {
		req.done <- defn.MakePortError(defn.ConnectionAborted, errAborted)
		return
	}

	c.lock.Lock()
	delimiter := c.delimiter
	remoteAddress := c.remoteAddress
	remote := c.remoteCepId
	c.lock.Unlock()

	e := c.engine
	for _, pdu := range delimiter.Delimit(req.sdu) {
		msg := &wire.Data{
			Header: wire.Header{
				SourceAddress:      e.Address(),
				DestinationAddress: remoteAddress,
				DestinationCepId:   remote,
			},
			Payload: pdu.Encode(),
		}
		if err := c.channel.Send(msg); err != nil {
			core.LogWarn(c, "Unable to send PDU ", pdu.SequenceNumber, ": ", err)
			req.done <- err
			return
		}
		e.measurements.AddToInt("pdus_out", 1)
	}
	e.measurements.AddToInt("sdus_out", 1)
	e.measurements.AddToInt("bytes_out", len(req.sdu))
	req.done <- nil
}

// deliverControl passes a handshake or disconnect response to the goroutine waiting for it.
func (c *connectionEndpoint) deliverControl(msg wire.Message) bool {
	select {
	case c.control <- msg:
		return true
	default:
		return false
	}
}

// handlePdu reassembles a received PDU and buffers complete SDUs. It runs on the receive loop.
func (c *connectionEndpoint) handlePdu(pdu *dtp.Pdu) {
	e := c.engine
	e.measurements.AddToInt("pdus_in", 1)
	pending := c.reassembler.PendingBytes()
	sdu, err := c.reassembler.Push(pdu)
	if err != nil {
		core.LogDebug(c, "Reassembly of PDU ", pdu.SequenceNumber, " failed: ", err)
		switch {
		case errors.Is(err, dtp.ErrSduTooLarge):
			e.dropMessage(c, pending+pdu.UserData.Len(), defn.MakePortError(defn.NoBufferSpaceAvailable, err))
			return
		case errors.Is(err, dtp.ErrOrphanFragment), errors.Is(err, dtp.ErrOutOfSequence):
			e.invalidMessage(c.channel, err, c.localCepId)
			return
		case errors.Is(err, dtp.ErrDiscardedFragment):
			return
		}
	}
	if len(sdu) == 0 {
		return
	}

	if !c.recv.fits(len(sdu)) {
		e.dropMessage(c, len(sdu), defn.MakePortError(defn.NoBufferSpaceAvailable, nil))
		return
	}
	if err := c.recv.post(sdu); err != nil {
		e.dropMessage(c, len(sdu), err)
		return
	}
	e.measurements.AddToInt("sdus_in", 1)
	e.measurements.AddToInt("bytes_in", len(sdu))
}
