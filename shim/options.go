/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package shim

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// FrameHeaderSize is the length prefix written before every frame on stream sockets.
const FrameHeaderSize = 4

// Options contains the channel transport configuration.
type Options struct {
	// SocketDir is the directory holding the unix sockets of local processes.
	SocketDir string
	// ConnectTimeout bounds the time spent dialing a peer.
	ConnectTimeout time.Duration
	// MaxFrameSize is the largest encoded message a channel accepts.
	MaxFrameSize int
	// SocketBufferSize sets SO_SNDBUF and SO_RCVBUF when non-zero.
	SocketBufferSize int
	// FramePoolSize is the number of pooled receive buffers.
	FramePoolSize int

	WebSocketEnabled bool
	WebSocketBind    string
	WebSocketPort    uint16
}

// MakeOptions reads the channel transport options from the configuration.
func MakeOptions() Options {
	return Options{
		SocketDir:        os.ExpandEnv(core.GetConfigStringDefault("shim.socket_dir", "/tmp/rina")),
		ConnectTimeout:   core.GetConfigDurationMsDefault("shim.connect_timeout_ms", 3*time.Second),
		MaxFrameSize:     core.GetConfigIntDefault("shim.max_frame_size", 65536),
		SocketBufferSize: core.GetConfigIntDefault("shim.socket_buffer_size", 0),
		FramePoolSize:    core.GetConfigIntDefault("shim.frame_pool_size", 256),
		WebSocketEnabled: core.GetConfigBoolDefault("shim.websocket.enabled", false),
		WebSocketBind:    core.GetConfigStringDefault("shim.websocket.bind", ""),
		WebSocketPort:    core.GetConfigUint16Default("shim.websocket.port", 9696),
	}
}

// SocketPath returns the path of the unix socket serving the pipe address.
func (o *Options) SocketPath(address defn.Address) string {
	return filepath.Join(o.SocketDir, address.Name()+".sock")
}
