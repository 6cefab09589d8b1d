/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package tools

import (
	"code.hybscloud.com/atomix"
	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/ipcp"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

// PingServer is an application that echoes every SDU received on its flows.
type PingServer struct {
	engine *ipcp.Engine
	name   defn.ApplicationNamingInfo
	nFlows atomix.Int64
	nRecv  atomix.Int64
}

func NewPingServer(engine *ipcp.Engine, name defn.ApplicationNamingInfo) *PingServer {
	return &PingServer{engine: engine, name: name}
}

func (ps *PingServer) String() string {
	return "PingServer, " + ps.name.String()
}

// Start registers the application with the engine.
func (ps *PingServer) Start() error {
	return ps.engine.RegisterApplication(ps.name, ps.onRequest)
}

// Stop deregisters the application. Flows being served stay open.
func (ps *PingServer) Stop() {
	ps.engine.DeregisterApplication(ps.name)
}

// Flows returns the number of accepted flows.
func (ps *PingServer) Flows() int64 {
	return ps.nFlows.Load()
}

// Received returns the number of echoed SDUs.
func (ps *PingServer) Received() int64 {
	return ps.nRecv.Load()
}

func (ps *PingServer) onRequest(flow *defn.FlowInformation) (wire.ConnectResult, ipcp.AcceptFunc) {
	core.LogInfo(ps, "Accepting flow from ", flow.DestinationApplication(), " at ", flow.DestinationAddress())
	return wire.Accepted, ps.serve
}

func (ps *PingServer) serve(port *ipcp.Port) {
	ps.nFlows.Add(1)
	for {
		sdu, err := ps.engine.Receive(port)
		switch defn.PortErrorCodeOf(err) {
		case defn.Success:
		case defn.TimedOut, defn.WouldBlock:
			continue
		default:
			core.LogDebug(ps, "Flow ", port, " ended: ", err)
			return
		}

		ps.nRecv.Add(1)
		if _, err := port.Write(sdu); err != nil {
			core.LogDebug(ps, "Unable to echo on ", port, ": ", err)
			return
		}
	}
}
