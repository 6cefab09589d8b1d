/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/shim/impl"
)

// StreamChannel carries length-prefixed frames over a stream socket.
type StreamChannel struct {
	channelBase
	conn      net.Conn
	frames    *framePool
	writeLock sync.Mutex
}

var _ Channel = &StreamChannel{}

// MakeStreamChannel wraps an established stream connection.
func MakeStreamChannel(kind string, local defn.Address, remote defn.Address, conn net.Conn, options *Options,
	frames *framePool, handler Handler) *StreamChannel {
	c := &StreamChannel{conn: conn, frames: frames}
	c.makeChannelBase(c, kind, local, remote, options, handler, conn.Close)

	if options.SocketBufferSize > 0 {
		if sc, ok := conn.(interface {
			SyscallConn() (impl.RawConn, error)
		}); ok {
			if raw, err := sc.SyscallConn(); err == nil {
				if err := impl.SyscallSetBufferSizes(raw, options.SocketBufferSize); err != nil {
					core.LogWarn(c, "Unable to set socket buffer sizes: ", err)
				}
			}
		}
	}
	return c
}

func (c *StreamChannel) sendFrame(frame []byte) error {
	buf := make([]byte, FrameHeaderSize, FrameHeaderSize+len(frame))
	binary.LittleEndian.PutUint32(buf, uint32(len(frame)))
	buf = append(buf, frame...)

	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	_, err := c.conn.Write(buf)
	return err
}

func (c *StreamChannel) runReceive() {
	core.LogTrace(c, "Starting receive thread")
	defer c.changeState(Down)

	recvBuf := c.frames.get()
	defer c.frames.put(recvBuf)

	err := readFrameStream(c.conn, recvBuf, c.options.MaxFrameSize, c.handleFrame)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && c.IsRunning() {
		core.LogWarn(c, "Unable to read from socket (", err, ") - Channel DOWN")
	}
}

// readFrameStream reads length-prefixed frames from reader into recvBuf and passes each complete frame
// to frameCb. The frame slice is only valid during the callback.
func readFrameStream(reader io.Reader, recvBuf []byte, maxFrameSize int, frameCb func([]byte)) error {
	var header [FrameHeaderSize]byte
	for {
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			return err
		}
		frameSize := int(binary.LittleEndian.Uint32(header[:]))
		if frameSize > maxFrameSize {
			return ErrFrameTooLarge
		}

		frame := recvBuf
		if cap(frame) < frameSize {
			frame = make([]byte, frameSize)
		}
		frame = frame[:frameSize]
		if _, err := io.ReadFull(reader, frame); err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		frameCb(frame)
	}
}
