/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// WebSocketChannel carries one frame per binary WebSocket message.
type WebSocketChannel struct {
	channelBase
	c         *websocket.Conn
	writeLock sync.Mutex
}

var _ Channel = &WebSocketChannel{}

// MakeWebSocketChannel wraps an established WebSocket connection.
func MakeWebSocketChannel(local defn.Address, remote defn.Address, c *websocket.Conn, options *Options,
	handler Handler) *WebSocketChannel {
	t := &WebSocketChannel{c: c}
	t.makeChannelBase(t, "WebSocketChannel", local, remote, options, handler, c.Close)
	c.SetReadLimit(int64(options.MaxFrameSize))
	return t
}

func (t *WebSocketChannel) sendFrame(frame []byte) error {
	t.writeLock.Lock()
	defer t.writeLock.Unlock()
	return t.c.WriteMessage(websocket.BinaryMessage, frame)
}

func (t *WebSocketChannel) runReceive() {
	core.LogTrace(t, "Starting receive thread")
	defer t.changeState(Down)

	for {
		mt, message, err := t.c.ReadMessage()
		if err != nil {
			if t.IsRunning() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				core.LogWarn(t, "Unable to read from socket (", err, ") - Channel DOWN")
			}
			return
		}

		if mt != websocket.BinaryMessage {
			core.LogWarn(t, "Ignored non-binary message")
			continue
		}

		t.handleFrame(message)
	}
}
