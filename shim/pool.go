/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/prep/socketpair"
	"github.com/rs/xid"
	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

type poolEntry struct {
	channel    Channel
	generation uint64
}

// ChannelPool owns the channels of one process: it reuses a live channel per peer address, replaces
// channels that went down, and runs the receive loop of every channel it creates or accepts.
type ChannelPool struct {
	localAddress defn.Address
	options      *Options
	handler      Handler
	frames       *framePool

	lock           sync.Mutex
	byAddress      map[defn.Address]*poolEntry
	live           map[xid.ID]Channel
	lastGeneration uint64
	closed         bool
	receivers      sync.WaitGroup
}

var _ Handler = &ChannelPool{}

// NewChannelPool creates a channel pool for the process at local. Traffic of all channels is passed to
// handler.
func NewChannelPool(local defn.Address, options *Options, handler Handler) *ChannelPool {
	return &ChannelPool{
		localAddress: local,
		options:      options,
		handler:      handler,
		frames:       newFramePool(options.FramePoolSize, options.MaxFrameSize),
		byAddress:    make(map[defn.Address]*poolEntry),
		live:         make(map[xid.ID]Channel),
	}
}

func (p *ChannelPool) String() string {
	return "ChannelPool, " + p.localAddress.String()
}

// LocalAddress returns the address of this process.
func (p *ChannelPool) LocalAddress() defn.Address {
	return p.localAddress
}

// Options returns the transport options of the pool.
func (p *ChannelPool) Options() *Options {
	return p.options
}

// Lookup returns the live channel to remote and its generation, if any.
func (p *ChannelPool) Lookup(remote defn.Address) (Channel, uint64, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	entry, ok := p.byAddress[remote]
	if !ok || !entry.channel.IsRunning() {
		return nil, 0, false
	}
	return entry.channel, entry.generation, true
}

// Get returns the live channel to remote, connecting a new one when there is none or the previous one
// went down. Connecting is bounded by the connect timeout and by ctx.
func (p *ChannelPool) Get(ctx context.Context, remote defn.Address) (Channel, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, defn.MakePortError(defn.NotConnected, ErrPoolClosed)
	}
	if entry, ok := p.byAddress[remote]; ok {
		if entry.channel.IsRunning() {
			return entry.channel, nil
		}
		core.LogDebug(p, "Replacing dead channel ", entry.channel.Id().String(), " to ", remote)
		delete(p.byAddress, remote)
	}

	ch, err := p.connect(ctx, remote)
	if err != nil {
		return nil, err
	}
	p.lastGeneration++
	p.byAddress[remote] = &poolEntry{channel: ch, generation: p.lastGeneration}
	p.start(ch)
	return ch, nil
}

// connect creates a channel to remote. The pool lock must be held.
func (p *ChannelPool) connect(ctx context.Context, remote defn.Address) (Channel, error) {
	switch remote.Family() {
	case defn.AddressPipe:
		if !remote.IsLocal() {
			return nil, defn.MakePortError(defn.InvalidArgument, ErrUnsupportedAddress)
		}
		if remote == p.localAddress {
			return p.connectLoopback()
		}
		conn, err := p.dialUnix(ctx, remote)
		if err != nil {
			return nil, defn.MakePortError(defn.NotConnected, err)
		}
		return MakeStreamChannel("UnixChannel", p.localAddress, remote, conn, p.options, p.frames, p), nil
	case defn.AddressUri:
		ctx, cancel := context.WithTimeout(ctx, p.options.ConnectTimeout)
		defer cancel()
		dialer := websocket.Dialer{HandshakeTimeout: p.options.ConnectTimeout}
		c, _, err := dialer.DialContext(ctx, remote.URI(), nil)
		if err != nil {
			return nil, defn.MakePortError(defn.NotConnected, err)
		}
		return MakeWebSocketChannel(p.localAddress, remote, c, p.options, p), nil
	default:
		return nil, defn.MakePortError(defn.InvalidArgument, ErrUnsupportedAddress)
	}
}

// connectLoopback joins the process to itself with a socket pair. The far end is accepted like any
// other inbound channel.
func (p *ChannelPool) connectLoopback() (Channel, error) {
	near, far, err := socketpair.New("unix")
	if err != nil {
		return nil, defn.MakePortError(defn.Fault, err)
	}
	accepted := MakeStreamChannel("LoopbackChannel", p.localAddress, defn.Address{}, far, p.options, p.frames, p)
	p.start(accepted)
	return MakeStreamChannel("LoopbackChannel", p.localAddress, p.localAddress, near, p.options, p.frames, p), nil
}

func (p *ChannelPool) dialUnix(ctx context.Context, remote defn.Address) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, p.options.ConnectTimeout)
	defer cancel()

	sockPath := p.options.SocketPath(remote)
	b := &backoff.Backoff{Min: 10 * time.Millisecond, Max: 500 * time.Millisecond, Factor: 2}
	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "unix", sockPath)
		if err == nil {
			return conn, nil
		}
		d := b.Duration()
		core.LogDebug(p, "Connection attempt ", int(b.Attempt()), " to ", sockPath, " failed (", err, "), retrying in ", d)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(d):
		}
	}
}

// Accept adopts an inbound stream connection and starts its receive loop.
func (p *ChannelPool) Accept(conn net.Conn) (Channel, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	ch := MakeStreamChannel("UnixChannel", p.localAddress, defn.Address{}, conn, p.options, p.frames, p)
	p.start(ch)
	return ch, nil
}

// AcceptWebSocket adopts an inbound WebSocket connection and starts its receive loop.
func (p *ChannelPool) AcceptWebSocket(c *websocket.Conn) (Channel, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	ch := MakeWebSocketChannel(p.localAddress, defn.Address{}, c, p.options, p)
	p.start(ch)
	return ch, nil
}

// start runs the receive loop of ch. The pool lock must be held.
func (p *ChannelPool) start(ch Channel) {
	p.live[ch.Id()] = ch
	p.receivers.Add(1)
	go func() {
		defer p.receivers.Done()
		ch.runReceive()
	}()
}

// Channels returns a snapshot of all live channels.
func (p *ChannelPool) Channels() []Channel {
	p.lock.Lock()
	defer p.lock.Unlock()
	channels := make([]Channel, 0, len(p.live))
	for _, ch := range p.live {
		channels = append(channels, ch)
	}
	return channels
}

// Len returns the number of live channels.
func (p *ChannelPool) Len() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.live)
}

// Close brings every channel down and waits for their receive loops to exit.
func (p *ChannelPool) Close() {
	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	channels := make([]Channel, 0, len(p.live))
	for _, ch := range p.live {
		channels = append(channels, ch)
	}
	p.lock.Unlock()

	for _, ch := range channels {
		ch.Close()
	}
	p.receivers.Wait()
	p.frames.close()
	core.LogInfo(p, "Closed")
}

// HandleMessage learns the address of accepted channels from the first message and passes msg on.
func (p *ChannelPool) HandleMessage(ch Channel, msg wire.Message) {
	if source := msg.Head().SourceAddress; ch.RemoteAddress().IsEmpty() && !source.IsEmpty() {
		ch.setRemoteAddress(source)
		p.lock.Lock()
		if entry, ok := p.byAddress[source]; !ok || !entry.channel.IsRunning() {
			p.lastGeneration++
			p.byAddress[source] = &poolEntry{channel: ch, generation: p.lastGeneration}
		}
		p.lock.Unlock()
		core.LogDebug(p, "Channel ", ch.Id().String(), " identified as ", source)
	}
	p.handler.HandleMessage(ch, msg)
}

// HandleInvalidFrame passes the decode failure on.
func (p *ChannelPool) HandleInvalidFrame(ch Channel, err error) {
	p.handler.HandleInvalidFrame(ch, err)
}

// HandleChannelDown forgets ch and passes the notification on.
func (p *ChannelPool) HandleChannelDown(ch Channel) {
	p.lock.Lock()
	delete(p.live, ch.Id())
	if entry, ok := p.byAddress[ch.RemoteAddress()]; ok && entry.channel == ch {
		delete(p.byAddress, ch.RemoteAddress())
	}
	p.lock.Unlock()
	p.handler.HandleChannelDown(ch)
}
