/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/dtp"
	"github.com/rysavy-ondrej/RINASharp-sub000/shim"
	"github.com/rysavy-ondrej/RINASharp-sub000/utils/comparison"
)

// addressReserve is the encoded size budgeted for one address in a data frame.
const addressReserve = 256

// dataFrameOverhead is the part of a data frame not available to PDU user data.
const dataFrameOverhead = 2 + 2*addressReserve + 8 + 4 + dtp.PduHeaderSize

// Resolver maps an application name to the address of the process serving it.
type Resolver func(name defn.ApplicationNamingInfo) (defn.Address, error)

// Options contains the configuration of an engine.
type Options struct {
	// Address is the address of this IPC process.
	Address defn.Address
	// ReceiveBufferSize bounds the unread bytes of a connection; arrivals beyond it are dropped.
	ReceiveBufferSize int
	// ReceiveQueueDepth bounds the number of unread SDUs of a connection.
	ReceiveQueueDepth int
	// ReceiveTimeout bounds blocking reads.
	ReceiveTimeout time.Duration
	// HandshakeTimeout bounds flow allocation and graceful deallocation.
	HandshakeTimeout time.Duration
	// SendQueueSize is the number of SDUs a connection queues for transmission.
	SendQueueSize int
	// Blocking is the initial mode of new ports.
	Blocking bool
	// MaxPduSize is the largest user data carried by one PDU.
	MaxPduSize int

	Shim shim.Options

	// Resolver locates destinations of flow requests without a destination address.
	Resolver Resolver
	// EventHandler is invoked for every engine event.
	EventHandler EventHandler
}

// MakeOptions reads the engine options from the configuration.
func MakeOptions() Options {
	return Options{
		Address: defn.MakePipeAddress(core.GetConfigStringDefault("ipcp.host", defn.LocalHost),
			core.GetConfigStringDefault("ipcp.name", "ipcpd")),
		ReceiveBufferSize: core.GetConfigIntDefault("ipcp.receive_buffer_size", 65536),
		ReceiveQueueDepth: core.GetConfigIntDefault("ipcp.receive_queue_depth", 1024),
		ReceiveTimeout:    core.GetConfigDurationMsDefault("ipcp.receive_timeout_ms", 5*time.Second),
		HandshakeTimeout:  core.GetConfigDurationMsDefault("ipcp.handshake_timeout_ms", 5*time.Second),
		SendQueueSize:     core.GetConfigIntDefault("ipcp.send_queue_size", 64),
		Blocking:          core.GetConfigBoolDefault("ipcp.blocking", true),
		MaxPduSize:        core.GetConfigIntDefault("dtp.max_pdu_size", 4096),
		Shim:              shim.MakeOptions(),
	}
}

// normalize bounds option values so that every PDU fits into one frame.
func (o *Options) normalize() {
	o.ReceiveQueueDepth = comparison.Max(o.ReceiveQueueDepth, 1)
	o.SendQueueSize = comparison.Max(o.SendQueueSize, 1)
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	maxPayload := o.Shim.MaxFrameSize - dataFrameOverhead
	o.MaxPduSize = comparison.Clamp(o.MaxPduSize, 1, comparison.Max(maxPayload, 1))
}
