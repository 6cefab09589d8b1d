/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/jpillora/sizestr"
	"github.com/rs/xid"
	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

// Handler receives the traffic of channels. Calls for one channel come from its receive loop only.
type Handler interface {
	HandleMessage(ch Channel, msg wire.Message)
	HandleInvalidFrame(ch Channel, err error)
	HandleChannelDown(ch Channel)
}

// Channel is a bidirectional message-preserving link to a peer process.
type Channel interface {
	String() string
	Id() xid.ID
	LocalAddress() defn.Address
	RemoteAddress() defn.Address
	State() ChannelState
	IsRunning() bool

	// Send writes msg as one frame.
	Send(msg wire.Message) error
	// Close brings the channel down.
	Close()
	// Done is closed once the channel is down.
	Done() <-chan struct{}

	NInBytes() uint64
	NOutBytes() uint64

	setRemoteAddress(address defn.Address)
	runReceive()
	sendFrame(frame []byte) error
}

// channelBase provides logic common to all channel types.
type channelBase struct {
	self         Channel
	id           xid.ID
	kind         string
	localAddress defn.Address
	options      *Options
	handler      Handler

	lock          sync.Mutex
	remoteAddress defn.Address
	state         ChannelState
	done          chan struct{}
	closeConn     func() error

	nInBytes   atomix.Uint64
	nOutBytes  atomix.Uint64
	nInFrames  atomix.Uint64
	nOutFrames atomix.Uint64
}

func (c *channelBase) makeChannelBase(self Channel, kind string, local defn.Address, remote defn.Address,
	options *Options, handler Handler, closeConn func() error) {
	c.self = self
	c.id = xid.New()
	c.kind = kind
	c.localAddress = local
	c.remoteAddress = remote
	c.options = options
	c.handler = handler
	c.state = Up
	c.done = make(chan struct{})
	c.closeConn = closeConn
}

func (c *channelBase) String() string {
	return c.kind + ", Id=" + c.id.String() + ", RemoteAddress=" + c.RemoteAddress().String()
}

// Id returns the unique id of the channel.
func (c *channelBase) Id() xid.ID {
	return c.id
}

// LocalAddress returns the address of this process.
func (c *channelBase) LocalAddress() defn.Address {
	return c.localAddress
}

// RemoteAddress returns the address of the peer, which is empty for accepted channels until the peer
// has identified itself.
func (c *channelBase) RemoteAddress() defn.Address {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.remoteAddress
}

func (c *channelBase) setRemoteAddress(address defn.Address) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.remoteAddress = address
}

// State returns the state of the channel.
func (c *channelBase) State() ChannelState {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

// IsRunning returns whether the channel can still carry messages.
func (c *channelBase) IsRunning() bool {
	return c.State() == Up
}

// Done is closed when the channel goes down.
func (c *channelBase) Done() <-chan struct{} {
	return c.done
}

// NInBytes returns the number of frame bytes received on this channel.
func (c *channelBase) NInBytes() uint64 {
	return c.nInBytes.Load()
}

// NOutBytes returns the number of frame bytes sent on this channel.
func (c *channelBase) NOutBytes() uint64 {
	return c.nOutBytes.Load()
}

// Close brings the channel down.
func (c *channelBase) Close() {
	c.changeState(Down)
}

// Send encodes msg and writes it as one frame.
func (c *channelBase) Send(msg wire.Message) error {
	if !c.IsRunning() {
		return defn.MakePortError(defn.NotConnected, ErrChannelDown)
	}
	frame, err := wire.Encode(msg)
	if err != nil {
		return defn.MakePortError(defn.InvalidArgument, err)
	}
	if len(frame) > c.options.MaxFrameSize {
		core.LogWarn(c.self, "Attempted to send frame larger than maximum frame size - DROP")
		return defn.MakePortError(defn.NoBufferSpaceAvailable, ErrFrameTooLarge)
	}

	core.LogTrace(c.self, "Sending ", msg.Type(), " frame of size ", len(frame))
	if err := c.self.sendFrame(frame); err != nil {
		core.LogWarn(c.self, "Unable to send on channel (", err, ") - Channel DOWN")
		c.changeState(Down)
		return defn.MakePortError(defn.ConnectionAborted, err)
	}
	c.nOutBytes.Add(uint64(len(frame)))
	c.nOutFrames.Add(1)
	return nil
}

// handleFrame decodes a received frame and passes it to the handler.
func (c *channelBase) handleFrame(frame []byte) {
	c.nInBytes.Add(uint64(len(frame)))
	c.nInFrames.Add(1)
	msg, err := wire.Decode(frame)
	if err != nil {
		core.LogInfo(c.self, "Unable to decode received frame: ", err)
		c.handler.HandleInvalidFrame(c.self, err)
		return
	}
	core.LogTrace(c.self, "Received ", msg.Type(), " frame of size ", len(frame))
	c.handler.HandleMessage(c.self, msg)
}

// changeState moves the channel to a new state. Going down closes the connection and notifies the
// handler exactly once.
func (c *channelBase) changeState(new ChannelState) {
	c.lock.Lock()
	if c.state == new {
		c.lock.Unlock()
		return
	}
	old := c.state
	c.state = new
	c.lock.Unlock()
	core.LogInfo(c.self, "state: ", old, " -> ", new)

	if new == Down {
		if err := c.closeConn(); err != nil {
			core.LogDebug(c.self, "Error closing connection: ", err)
		}
		core.LogInfo(c.self, "Closed after ", c.nInFrames.Load(), " frames in (", sizestr.ToString(int64(c.NInBytes())),
			"), ", c.nOutFrames.Load(), " frames out (", sizestr.ToString(int64(c.NOutBytes())), ")")
		close(c.done)
		c.handler.HandleChannelDown(c.self)
	}
}
