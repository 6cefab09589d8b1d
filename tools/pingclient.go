/* ipcpd - RINA IPC Process Daemon
 *
 * Copyright (C) 2024 RINASharp contributors.
 *
 * This file is licensed under the terms of the MIT License, as found in LICENSE.md.
 */

package tools

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/ipcp"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
)

// ErrFlowRefused is returned when the ping server does not accept the flow.
var ErrFlowRefused = errors.New("flow refused")

// PingClient sends numbered SDUs over one flow and measures the time until they are echoed.
type PingClient struct {
	engine *ipcp.Engine
	flow   *defn.FlowInformation
	port   *ipcp.Port

	// stat counters
	nSent    int
	nRecv    int
	nTimeout int

	// stat rtt counters
	totalTime time.Duration
	rttMin    time.Duration
	rttMax    time.Duration
	rttAvg    time.Duration
}

func NewPingClient(engine *ipcp.Engine, flow *defn.FlowInformation) *PingClient {
	return &PingClient{engine: engine, flow: flow}
}

// Connect allocates the flow to the ping server. timeout bounds the wait for each echo.
func (pc *PingClient) Connect(ctx context.Context, timeout time.Duration) error {
	port, result, err := pc.engine.AllocateFlowContext(ctx, pc.flow)
	if err != nil {
		return err
	}
	if result != wire.Accepted {
		return fmt.Errorf("%w: %s", ErrFlowRefused, result)
	}
	port.SetBlocking(true)
	port.SetReceiveTimeout(timeout)
	pc.port = port
	return nil
}

// Ping sends seq and waits for its echo. Late echoes of earlier pings are skipped.
func (pc *PingClient) Ping(seq uint64) (time.Duration, error) {
	var payload [8]byte
	binary.LittleEndian.PutUint64(payload[:], seq)

	pc.nSent++
	t1 := time.Now()
	if _, err := pc.port.Write(payload[:]); err != nil {
		return 0, err
	}
	for {
		sdu, err := pc.engine.Receive(pc.port)
		if defn.PortErrorCodeOf(err) == defn.TimedOut {
			pc.nTimeout++
			return 0, err
		} else if err != nil {
			return 0, err
		}
		if len(sdu) != len(payload) || binary.LittleEndian.Uint64(sdu) != seq {
			continue
		}

		rtt := time.Since(t1)
		pc.nRecv++
		pc.totalTime += rtt
		if pc.nRecv == 1 || rtt < pc.rttMin {
			pc.rttMin = rtt
		}
		pc.rttMax = max(pc.rttMax, rtt)
		pc.rttAvg = pc.totalTime / time.Duration(pc.nRecv)
		return rtt, nil
	}
}

// Run pings every interval until count pings were sent or ctx is done, printing each result to out.
func (pc *PingClient) Run(ctx context.Context, out io.Writer, seq uint64, interval time.Duration, count int) {
	name := pc.flow.DestinationApplication()
	fmt.Fprintf(out, "PING %s\n", name)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rtt, err := pc.Ping(seq)
		if err != nil {
			fmt.Fprintf(out, "no reply from %s: seq=%d (%v)\n", name, seq, err)
			if !pc.port.Connected() {
				return
			}
		} else {
			fmt.Fprintf(out, "reply from %s: seq=%d, time=%f ms\n", name, seq, float64(rtt.Microseconds())/1000.0)
		}
		seq++
		if count > 0 && pc.nSent >= count {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Stats writes the summary of all pings to out.
func (pc *PingClient) Stats(out io.Writer) {
	if pc.nSent == 0 {
		fmt.Fprintf(out, "No pings transmitted\n")
		return
	}

	fmt.Fprintf(out, "\n--- %s ping statistics ---\n", pc.flow.DestinationApplication())
	fmt.Fprintf(out, "%d pings transmitted, %d received, %d%% lost\n",
		pc.nSent, pc.nRecv, (pc.nSent-pc.nRecv)*100/pc.nSent)
	fmt.Fprintf(out, "rtt min/avg/max = %f/%f/%f ms\n",
		float64(pc.rttMin.Microseconds())/1000.0,
		float64(pc.rttAvg.Microseconds())/1000.0,
		float64(pc.rttMax.Microseconds())/1000.0)
}

// Close deallocates the flow.
func (pc *PingClient) Close() error {
	if pc.port == nil {
		return nil
	}
	return pc.engine.DeallocateFlow(pc.port, true)
}
