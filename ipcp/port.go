/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package ipcp

import (
	"io"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
)

// Port is the application handle of a flow.
type Port struct {
	engine *Engine
	cep    *connectionEndpoint
}

var _ io.ReadWriteCloser = &Port{}

func (p *Port) String() string {
	return "Port, LocalCepId=" + p.cep.localCepId.String()
}

// LocalCepId returns the id of the local connection endpoint.
func (p *Port) LocalCepId() defn.CepId {
	return p.cep.localCepId
}

// RemoteCepId returns the id of the peer connection endpoint.
func (p *Port) RemoteCepId() defn.CepId {
	return p.cep.RemoteCepId()
}

// RemoteAddress returns the address of the peer process.
func (p *Port) RemoteAddress() defn.Address {
	return p.cep.RemoteAddress()
}

// Flow returns the flow as seen from this side.
func (p *Port) Flow() *defn.FlowInformation {
	return p.cep.flow
}

// State returns the state of the connection.
func (p *Port) State() defn.State {
	return p.cep.State()
}

// Connected returns whether data can be sent on the port.
func (p *Port) Connected() bool {
	return p.cep.State() == defn.Open
}

// Available returns the number of bytes that can be read without blocking.
func (p *Port) Available() int {
	return p.cep.recv.available()
}

// Blocking returns whether reads and writes wait.
func (p *Port) Blocking() bool {
	p.cep.lock.Lock()
	defer p.cep.lock.Unlock()
	return p.cep.blocking
}

// SetBlocking sets whether reads and writes wait.
func (p *Port) SetBlocking(blocking bool) {
	p.cep.lock.Lock()
	defer p.cep.lock.Unlock()
	p.cep.blocking = blocking
}

// ReceiveTimeout returns how long blocking reads wait for data.
func (p *Port) ReceiveTimeout() time.Duration {
	p.cep.lock.Lock()
	defer p.cep.lock.Unlock()
	return p.cep.receiveTimeout
}

// SetReceiveTimeout sets how long blocking reads wait for data.
func (p *Port) SetReceiveTimeout(timeout time.Duration) {
	p.cep.lock.Lock()
	defer p.cep.lock.Unlock()
	p.cep.receiveTimeout = timeout
}

// Read reads received data. It returns io.EOF once the flow is closed and drained.
func (p *Port) Read(b []byte) (int, error) {
	return p.engine.Read(p, b)
}

// TryRead reads received data without waiting.
func (p *Port) TryRead(b []byte) int {
	return p.engine.TryRead(p, b)
}

// Write sends b as one SDU.
func (p *Port) Write(b []byte) (int, error) {
	return p.engine.Send(p, b)
}

// Close deallocates the flow gracefully.
func (p *Port) Close() error {
	return p.engine.DeallocateFlow(p, true)
}
