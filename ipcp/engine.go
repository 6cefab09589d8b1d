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
	"fmt"
	"io"
	"sync"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/shim"
	"github.com/rysavy-ondrej/RINASharp-sub000/table"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

// ErrInvalidRegistration is returned when registering an application without a name or handler.
var ErrInvalidRegistration = errors.New("application name and request handler are required")

var errNoDestination = errors.New("flow has no destination address and no resolver is set")

// AcceptFunc serves an accepted flow. It runs on its own goroutine.
type AcceptFunc func(port *Port)

// RequestHandler decides on an incoming flow request. On Accepted it may return an AcceptFunc that is
// run with the port of the new flow.
type RequestHandler func(flow *defn.FlowInformation) (wire.ConnectResult, AcceptFunc)

// Engine is an IPC process: it allocates flows to peer processes, serves flow requests for registered
// applications, and moves application data over the channels of its pool.
type Engine struct {
	options      Options
	cepIds       *table.CepIdSpace
	connections  *table.ConnectionTable[*connectionEndpoint]
	applications *table.ApplicationRegistry[RequestHandler]
	measurements *table.Measurements
	events       Events
	pool         *shim.ChannelPool

	lock         sync.Mutex
	started      bool
	stopped      bool
	unixListener *shim.UnixListener
	wsListener   *shim.WebSocketListener
}

var _ shim.Handler = &Engine{}

// NewEngine creates an engine. It can allocate flows right away; Start makes it reachable by peers.
func NewEngine(options Options) *Engine {
	options.normalize()
	e := &Engine{
		options:      options,
		cepIds:       table.NewCepIdSpace(),
		connections:  table.NewConnectionTable[*connectionEndpoint](),
		applications: table.NewApplicationRegistry[RequestHandler](),
		measurements: table.NewMeasurements(),
	}
	e.events.handler = options.EventHandler
	e.pool = shim.NewChannelPool(options.Address, &e.options.Shim, e)
	return e
}

func (e *Engine) String() string {
	return "Engine, " + e.options.Address.String()
}

// Address returns the address of this IPC process.
func (e *Engine) Address() defn.Address {
	return e.options.Address
}

// Options returns the effective options of the engine.
func (e *Engine) Options() Options {
	return e.options
}

// Events returns the recent events of the engine.
func (e *Engine) Events() *Events {
	return &e.events
}

// Measurements returns the traffic counters of the engine.
func (e *Engine) Measurements() *table.Measurements {
	return e.measurements
}

// CepIds returns the connection endpoint id space of the engine.
func (e *Engine) CepIds() *table.CepIdSpace {
	return e.cepIds
}

// Pool returns the channel pool of the engine.
func (e *Engine) Pool() *shim.ChannelPool {
	return e.pool
}

// Start listens for peers on the unix socket of the engine address and, if enabled, on WebSocket.
func (e *Engine) Start() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.started {
		return nil
	}

	unixListener := shim.MakeUnixListener(e.pool)
	if err := unixListener.Listen(); err != nil {
		return fmt.Errorf("unable to listen on %s: %w", unixListener.SocketPath(), err)
	}
	go unixListener.Run()
	e.unixListener = unixListener

	if e.options.Shim.WebSocketEnabled {
		wsListener := shim.NewWebSocketListener(e.pool)
		if err := wsListener.Listen(); err != nil {
			unixListener.Close()
			e.unixListener = nil
			return fmt.Errorf("unable to listen for WebSocket: %w", err)
		}
		go wsListener.Run()
		e.wsListener = wsListener
	}

	e.started = true
	core.LogInfo(e, "Started")
	return nil
}

// WebSocketURL returns the address WebSocket peers connect to, or "" when not listening.
func (e *Engine) WebSocketURL() string {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.wsListener == nil {
		return ""
	}
	return e.wsListener.URL()
}

// Stop aborts all flows, stops listening and closes all channels.
func (e *Engine) Stop() {
	e.lock.Lock()
	if e.stopped {
		e.lock.Unlock()
		return
	}
	e.stopped = true
	unixListener, wsListener := e.unixListener, e.wsListener
	e.lock.Unlock()

	for _, cep := range e.connections.Values() {
		e.abort(cep)
	}
	if unixListener != nil {
		unixListener.Close()
	}
	if wsListener != nil {
		wsListener.Close()
	}
	e.pool.Close()
	core.LogInfo(e, "Stopped")
}

// RegisterApplication makes name reachable by flow requests, which are decided by handler.
func (e *Engine) RegisterApplication(name defn.ApplicationNamingInfo, handler RequestHandler) error {
	if name.IsEmpty() || handler == nil {
		return ErrInvalidRegistration
	}
	if err := name.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRegistration, err)
	}
	if err := e.applications.Register(name, handler); err != nil {
		return err
	}
	core.LogInfo(e, "Registered application ", name)
	return nil
}

// DeregisterApplication removes name and returns whether it was registered. Existing flows stay open.
func (e *Engine) DeregisterApplication(name defn.ApplicationNamingInfo) bool {
	if !e.applications.Deregister(name) {
		return false
	}
	core.LogInfo(e, "Deregistered application ", name)
	return true
}

// Port returns the port of the connection endpoint with the given local id.
func (e *Engine) Port(id defn.CepId) (*Port, error) {
	cep, ok := e.connections.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownPort, id)
	}
	return &Port{engine: e, cep: cep}, nil
}

// Ports returns the ports of all active connection endpoints.
func (e *Engine) Ports() []*Port {
	ceps := e.connections.Values()
	ports := make([]*Port, 0, len(ceps))
	for _, cep := range ceps {
		ports = append(ports, &Port{engine: e, cep: cep})
	}
	return ports
}

func (e *Engine) checkPort(p *Port) error {
	if p == nil || p.engine != e || p.cep == nil {
		return fmt.Errorf("%w: port does not belong to %s", core.ErrUnknownPort, e)
	}
	return nil
}

// resolve returns the address serving the destination of flow.
func (e *Engine) resolve(flow *defn.FlowInformation) (defn.Address, error) {
	if address := flow.DestinationAddress(); !address.IsEmpty() {
		return address, nil
	}
	if e.options.Resolver == nil {
		return defn.Address{}, defn.MakePortError(defn.InvalidArgument, errNoDestination)
	}
	address, err := e.options.Resolver(flow.DestinationApplication())
	if err != nil {
		return defn.Address{}, defn.MakePortError(defn.InvalidArgument, err)
	}
	return address, nil
}

// channelTo returns a live channel to address.
func (e *Engine) channelTo(ctx context.Context, address defn.Address) (shim.Channel, error) {
	_, _, existed := e.pool.Lookup(address)
	ch, err := e.pool.Get(ctx, address)
	if err != nil {
		return nil, err
	}
	if !existed {
		e.events.emit(Event{Kind: EventChannelUp, Address: address})
	}
	return ch, nil
}

// Send queues data as one SDU. A blocking port waits until the SDU is written and returns its
// transmission error; a non-blocking port returns once the SDU is queued, or WouldBlock if the send
// queue is full.
func (e *Engine) Send(p *Port, data []byte) (int, error) {
	if err := e.checkPort(p); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	blocking := p.Blocking()
	sdu := data
	if !blocking {
		sdu = append([]byte(nil), data...)
	}
	req := &sendRequest{sdu: sdu, done: make(chan error, 1)}
	if err := p.cep.enqueue(req, blocking); err != nil {
		return 0, err
	}
	if !blocking {
		return len(data), nil
	}
	if err := p.cep.awaitSent(req); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Receive returns the next received SDU. A blocking port waits up to its receive timeout and fails
// with TimedOut; a non-blocking port fails with WouldBlock when nothing is buffered.
func (e *Engine) Receive(p *Port) ([]byte, error) {
	if err := e.checkPort(p); err != nil {
		return nil, err
	}
	sdu, err := p.cep.recv.receive(p.Blocking(), p.ReceiveTimeout())
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, defn.MakePortError(defn.NotConnected, errNotOpen)
		}
		return nil, err
	}
	return sdu, nil
}

// Read copies received data into b, splitting SDUs across reads when b is short. It returns io.EOF once
// the flow is closed and all data was read.
func (e *Engine) Read(p *Port, b []byte) (int, error) {
	if err := e.checkPort(p); err != nil {
		return 0, err
	}
	return p.cep.recv.read(b, p.Blocking(), p.ReceiveTimeout())
}

// TryRead copies already received data into b without waiting.
func (e *Engine) TryRead(p *Port, b []byte) int {
	if e.checkPort(p) != nil {
		return 0
	}
	return p.cep.recv.tryRead(b)
}

// abort closes the connection immediately, discarding queued data, and tells the peer without waiting.
func (e *Engine) abort(c *connectionEndpoint) {
	if !c.changeState(defn.Closed) {
		return
	}
	if remote := c.RemoteCepId(); remote != defn.NoCepId {
		e.sendAbort(c.channel, c.RemoteAddress(), remote)
	}
}

// sendAbort tells the endpoint remote at address that its connection is gone.
func (e *Engine) sendAbort(ch shim.Channel, address defn.Address, remote defn.CepId) {
	if !ch.IsRunning() {
		return
	}
	err := ch.Send(&wire.DisconnectRequest{
		Header: wire.Header{
			SourceAddress:      e.Address(),
			DestinationAddress: address,
			DestinationCepId:   remote,
		},
		Flags: wire.Abort,
	})
	if err != nil {
		core.LogDebug(e, "Unable to send abort to ", remote, ": ", err)
	}
}

// invalidMessage reports a received message that was discarded.
func (e *Engine) invalidMessage(ch shim.Channel, err error, cepId defn.CepId) {
	core.LogDebug(e, "Invalid message on ", ch, " for ", cepId, ": ", err, " - DROP")
	e.measurements.AddToInt("invalid_messages", 1)
	e.events.emit(Event{Kind: EventInvalidMessage, LocalCepId: cepId, Address: ch.RemoteAddress(), Err: err})
}

// dropMessage reports an SDU discarded for lack of receive buffer space.
func (e *Engine) dropMessage(c *connectionEndpoint, length int, err error) {
	core.LogDebug(c, "Receive buffer full, SDU of ", length, " bytes - DROP")
	e.measurements.AddToInt("messages_dropped", 1)
	e.events.emit(Event{
		Kind:        EventMessageDropped,
		LocalCepId:  c.localCepId,
		RemoteCepId: c.RemoteCepId(),
		Address:     c.RemoteAddress(),
		Length:      length,
		Err:         err,
	})
}
