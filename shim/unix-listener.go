/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"errors"
	"net"
	"os"
	"path/filepath"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
)

// UnixListener accepts channels on the unix socket of the local process.
type UnixListener struct {
	pool     *ChannelPool
	sockPath string
	conn     net.Listener
	stopped  chan bool
}

// MakeUnixListener constructs a UnixListener serving the local address of pool.
func MakeUnixListener(pool *ChannelPool) *UnixListener {
	return &UnixListener{
		pool:     pool,
		sockPath: pool.options.SocketPath(pool.LocalAddress()),
		stopped:  make(chan bool, 1),
	}
}

func (l *UnixListener) String() string {
	return "UnixListener, " + l.sockPath
}

// SocketPath returns the path of the listening socket.
func (l *UnixListener) SocketPath() string {
	return l.sockPath
}

// Listen binds the socket. It must be called before Run.
func (l *UnixListener) Listen() error {
	// Delete any existing socket
	os.Remove(l.sockPath)

	if err := os.MkdirAll(filepath.Dir(l.sockPath), os.ModePerm); err != nil {
		return err
	}

	var err error
	if l.conn, err = net.Listen("unix", l.sockPath); err != nil {
		return err
	}

	// Allow all local applications to connect
	if err := os.Chmod(l.sockPath, os.ModePerm); err != nil {
		l.conn.Close()
		return err
	}

	core.LogInfo(l, "Listening")
	return nil
}

// Run accepts channels until the listener is closed.
func (l *UnixListener) Run() {
	defer func() { l.stopped <- true }()

	for {
		newConn, err := l.conn.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				core.LogWarn(l, "Unable to accept connection: ", err)
			}
			return
		}

		if _, err := l.pool.Accept(newConn); err != nil {
			core.LogWarn(l, "Unable to accept channel: ", err)
			newConn.Close()
			continue
		}
	}
}

// Close stops the listener and removes its socket.
func (l *UnixListener) Close() {
	if l.conn != nil {
		l.conn.Close()
		<-l.stopped
		os.Remove(l.sockPath)
	}
}
