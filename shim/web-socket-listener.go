/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rysavy-ondrej/RINASharp-sub000/core"
)

// WebSocketListener accepts channels from WebSocket clients.
type WebSocketListener struct {
	pool     *ChannelPool
	server   http.Server
	upgrader websocket.Upgrader
	listener net.Listener
	localURL *url.URL
}

// NewWebSocketListener creates a listener bound to the configured WebSocket address.
func NewWebSocketListener(pool *ChannelPool) *WebSocketListener {
	addr := net.JoinHostPort(pool.options.WebSocketBind, strconv.FormatUint(uint64(pool.options.WebSocketPort), 10))
	l := &WebSocketListener{
		pool:   pool,
		server: http.Server{Addr: addr},
		upgrader: websocket.Upgrader{
			WriteBufferPool: &sync.Pool{},
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		localURL: &url.URL{Scheme: "ws", Host: addr},
	}
	l.server.Handler = http.HandlerFunc(l.handler)
	return l
}

func (l *WebSocketListener) String() string {
	return "WebSocketListener, " + l.localURL.String()
}

// Listen binds the TCP socket. It must be called before Run.
func (l *WebSocketListener) Listen() error {
	listener, err := net.Listen("tcp", l.server.Addr)
	if err != nil {
		return err
	}
	l.listener = listener
	l.localURL.Host = listener.Addr().String()
	core.LogInfo(l, "Listening")
	return nil
}

// URL returns the address clients connect to.
func (l *WebSocketListener) URL() string {
	return l.localURL.String()
}

// Run serves WebSocket upgrades until the listener is closed.
func (l *WebSocketListener) Run() {
	if err := l.server.Serve(l.listener); !errors.Is(err, http.ErrServerClosed) {
		core.LogError(l, "Unable to serve: ", err)
	}
}

func (l *WebSocketListener) handler(w http.ResponseWriter, r *http.Request) {
	c, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch, err := l.pool.AcceptWebSocket(c)
	if err != nil {
		core.LogWarn(l, "Unable to accept channel: ", err)
		c.Close()
		return
	}
	core.LogInfo(l, "Accepting new WebSocket channel ", ch.Id().String())
}

// Close stops the listener.
func (l *WebSocketListener) Close() {
	core.LogInfo(l, "Stopping listener")
	l.server.Shutdown(context.Background())
}
