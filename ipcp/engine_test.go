package ipcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second
const tick = 10 * time.Millisecond

// socketDir returns a short directory for unix sockets; test names make t.TempDir paths too long.
func socketDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "ipcp")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func testOptions(dir string, name string) Options {
	options := MakeOptions()
	options.Address = defn.MakePipeAddress("", name)
	options.Shim.SocketDir = dir
	options.Shim.ConnectTimeout = time.Second
	options.Shim.FramePoolSize = 8
	options.HandshakeTimeout = 2 * time.Second
	options.ReceiveTimeout = 2 * time.Second
	return options
}

func testEngine(t *testing.T, dir string, name string, configure func(*Options)) *Engine {
	options := testOptions(dir, name)
	if configure != nil {
		configure(&options)
	}
	e := NewEngine(options)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e
}

func flowTo(server *Engine, application string) *defn.FlowInformation {
	return defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"),
		defn.MakeApplicationNamingInfo(application), defn.WithDestinationAddress(server.Address()))
}

// acceptAll registers application on e and returns the ports of accepted flows.
func acceptAll(t *testing.T, e *Engine, application string) <-chan *Port {
	accepted := make(chan *Port, 4)
	err := e.RegisterApplication(defn.MakeApplicationNamingInfo(application),
		func(*defn.FlowInformation) (wire.ConnectResult, AcceptFunc) {
			return wire.Accepted, func(port *Port) { accepted <- port }
		})
	require.NoError(t, err)
	return accepted
}

func nextPort(t *testing.T, accepted <-chan *Port) *Port {
	select {
	case port := <-accepted:
		return port
	case <-time.After(waitFor):
		require.FailNow(t, "flow not accepted")
		return nil
	}
}

func TestAllocateFlowNotFound(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)

	before := client.CepIds().Len()
	port, result, err := client.AllocateFlow(flowTo(server, "Nobody"))
	require.NoError(t, err)
	assert.Nil(t, port)
	assert.Equal(t, wire.NotFound, result)
	assert.Equal(t, before, client.CepIds().Len())
	assert.Equal(t, 0, server.CepIds().Len())
	assert.Empty(t, client.Ports())
}

func TestAllocateFlowRejected(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)

	flows := make(chan *defn.FlowInformation, 1)
	err := server.RegisterApplication(defn.MakeApplicationNamingInfo("Picky"),
		func(flow *defn.FlowInformation) (wire.ConnectResult, AcceptFunc) {
			flows <- flow
			return wire.Rejected, nil
		})
	require.NoError(t, err)

	port, result, err := client.AllocateFlow(flowTo(server, "picky"))
	require.NoError(t, err)
	assert.Nil(t, port)
	assert.Equal(t, wire.Rejected, result)
	assert.Equal(t, 0, client.CepIds().Len())
	assert.Equal(t, 0, server.CepIds().Len())
	assert.Empty(t, server.Ports())

	requested := <-flows
	assert.Equal(t, "picky", requested.SourceApplication().ApplicationName)
	assert.Equal(t, "client", requested.DestinationApplication().ApplicationName)
	assert.Equal(t, client.Address(), requested.DestinationAddress())
}

func TestAllocateFlowHandlerPanics(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)

	err := server.RegisterApplication(defn.MakeApplicationNamingInfo("Broken"),
		func(*defn.FlowInformation) (wire.ConnectResult, AcceptFunc) {
			panic("handler failure")
		})
	require.NoError(t, err)

	port, result, err := client.AllocateFlow(flowTo(server, "Broken"))
	require.NoError(t, err)
	assert.Nil(t, port)
	assert.Equal(t, wire.Rejected, result)

	// The channel survives the panic
	_, result, err = client.AllocateFlow(flowTo(server, "Nobody"))
	require.NoError(t, err)
	assert.Equal(t, wire.NotFound, result)
}

func TestAllocateFlowAccepted(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	port, result, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.Equal(t, wire.Accepted, result)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	assert.Equal(t, serverPort.LocalCepId(), port.RemoteCepId())
	assert.Equal(t, port.LocalCepId(), serverPort.RemoteCepId())
	assert.Equal(t, defn.Open, port.State())
	assert.Equal(t, defn.Open, serverPort.State())
	assert.True(t, port.Connected())
	assert.Equal(t, server.Address(), port.RemoteAddress())
	assert.Equal(t, client.Address(), serverPort.RemoteAddress())
	assert.True(t, client.CepIds().Occupied(port.LocalCepId()))
	assert.True(t, server.CepIds().Occupied(serverPort.LocalCepId()))

	found, err := client.Port(port.LocalCepId())
	require.NoError(t, err)
	assert.Equal(t, port.LocalCepId(), found.LocalCepId())

	assert.Equal(t, 1, client.Events().CountKind(EventFlowAllocated))
	assert.Equal(t, 1, client.Events().CountKind(EventChannelUp))
	assert.Equal(t, 1, server.Events().CountKind(EventFlowAllocated))
	assert.Equal(t, 1, client.Measurements().Int("flows_allocated"))
	assert.Equal(t, 1, server.Measurements().Int("flows_allocated"))
}

func TestSendReceiveFragmented(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", func(options *Options) {
		options.MaxPduSize = 16
	})
	accepted := acceptAll(t, server, "Sink")

	port, _, err := client.AllocateFlow(flowTo(server, "Sink"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	sdu := []byte(strings.Repeat("0123456789", 10))
	n, err := port.Write(sdu)
	require.NoError(t, err)
	assert.Equal(t, len(sdu), n)
	n, err = port.Write([]byte("second"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	received, err := server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, sdu, received)
	received, err = server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), received)

	assert.Equal(t, 8, client.Measurements().Int("pdus_out"))
	assert.Equal(t, 2, client.Measurements().Int("sdus_out"))
	assert.Equal(t, 8, server.Measurements().Int("pdus_in"))
	assert.Eventually(t, func() bool {
		return server.Measurements().Int("sdus_in") == 2 && server.Measurements().Int("bytes_in") == len(sdu)+6
	}, waitFor, tick)

	n, err = port.Write(nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestNonBlockingSend(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Sink")

	port, _, err := client.AllocateFlow(flowTo(server, "Sink"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	port.SetBlocking(false)
	assert.False(t, port.Blocking())
	payload := []byte("queued")
	n, err := port.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	copy(payload, "XXXXXX")

	received, err := server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, []byte("queued"), received)
}

func TestReceiveBufferOverflow(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	drops := make(chan Event, 4)
	server := testEngine(t, dir, "server", func(options *Options) {
		options.ReceiveBufferSize = 64
		options.EventHandler = func(event Event) {
			if event.Kind == EventMessageDropped {
				drops <- event
			}
		}
	})
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Small")

	port, _, err := client.AllocateFlow(flowTo(server, "Small"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	_, err = port.Write(make([]byte, 40))
	require.NoError(t, err)
	_, err = port.Write([]byte(strings.Repeat("x", 40)))
	require.NoError(t, err)

	select {
	case event := <-drops:
		assert.Equal(t, 40, event.Length)
		assert.Equal(t, serverPort.LocalCepId(), event.LocalCepId)
	case <-time.After(waitFor):
		require.FailNow(t, "drop not reported")
	}

	received, err := server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 40), received)
	assert.Equal(t, 0, serverPort.TryRead(make([]byte, 64)))
	assert.Equal(t, 0, serverPort.Available())
	assert.Equal(t, 1, server.Events().CountKind(EventMessageDropped))
	assert.Equal(t, 1, server.Measurements().Int("messages_dropped"))
}

func TestReassemblyBoundedByReceiveBuffer(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "server", func(options *Options) {
		options.ReceiveBufferSize = 64
	})
	client := testEngine(t, dir, "client", func(options *Options) {
		options.MaxPduSize = 16
	})
	accepted := acceptAll(t, server, "Small")

	port, _, err := client.AllocateFlow(flowTo(server, "Small"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	_, err = port.Write(make([]byte, 200))
	require.NoError(t, err)
	_, err = port.Write([]byte("after"))
	require.NoError(t, err)

	received, err := server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), received)
	assert.Equal(t, 1, server.Events().CountKind(EventMessageDropped))
	assert.Equal(t, 0, server.Events().CountKind(EventInvalidMessage))
	last, ok := server.Events().Last()
	require.True(t, ok)
	event, ok := server.Events().Get(last)
	require.True(t, ok)
	assert.Equal(t, EventMessageDropped, event.Kind)
	assert.Equal(t, 64, event.Length)
}

func TestReadTimeout(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Quiet")

	port, _, err := client.AllocateFlow(flowTo(server, "Quiet"))
	require.NoError(t, err)
	require.NotNil(t, port)
	nextPort(t, accepted)

	port.SetReceiveTimeout(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, port.ReceiveTimeout())
	buf := make([]byte, 16)
	n, err := port.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, defn.TimedOut, defn.PortErrorCodeOf(err))
	assert.Equal(t, 0, port.TryRead(buf))

	port.SetBlocking(false)
	_, err = client.Receive(port)
	assert.Equal(t, defn.WouldBlock, defn.PortErrorCodeOf(err))
	assert.Equal(t, defn.Open, port.State())
}

func TestTimeServer(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "timeserver", nil)
	client := testEngine(t, dir, "timeclient", nil)

	served := make(chan *Port, 1)
	err := server.RegisterApplication(defn.MakeApplicationNamingInfo("TimeServer"),
		func(*defn.FlowInformation) (wire.ConnectResult, AcceptFunc) {
			return wire.Accepted, func(port *Port) {
				line, err := bufio.NewReader(port).ReadString('\n')
				if err != nil || line != "DateTime.Now\n" {
					port.Close()
					return
				}
				fmt.Fprintf(port, "OK: %s\n", time.Now().Format(time.RFC3339Nano))
				served <- port
			}
		})
	require.NoError(t, err)

	port, result, err := client.AllocateFlow(flowTo(server, "TimeServer"))
	require.NoError(t, err)
	require.Equal(t, wire.Accepted, result)

	n, err := port.Write([]byte("DateTime.Now\n"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)

	reply, err := client.Receive(port)
	require.NoError(t, err)
	assert.Regexp(t, `^OK: \S+\n$`, string(reply))
	serverPort := nextPort(t, served)

	local := port.LocalCepId()
	require.NoError(t, client.DeallocateFlow(port, true))
	assert.Equal(t, defn.Closed, port.State())
	assert.False(t, client.CepIds().Occupied(local))
	assert.Eventually(t, func() bool { return serverPort.State() == defn.Closed }, waitFor, tick)
	assert.Eventually(t, func() bool { return server.CepIds().Len() == 0 }, waitFor, tick)
	assert.Equal(t, 1, client.Events().CountKind(EventFlowDeallocated))

	_, err = client.Port(local)
	assert.ErrorIs(t, err, core.ErrUnknownPort)
	_, err = port.Write([]byte("late"))
	assert.Equal(t, defn.NotConnected, defn.PortErrorCodeOf(err))
	assert.NoError(t, client.DeallocateFlow(port, true))

	// A new flow works after the old one is gone
	again, result, err := client.AllocateFlow(flowTo(server, "TimeServer"))
	require.NoError(t, err)
	require.Equal(t, wire.Accepted, result)
	require.NoError(t, again.Close())
}

func TestDeallocateFromResponder(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	_, err = port.Write([]byte("in flight"))
	require.NoError(t, err)
	_, err = serverPort.Write([]byte("last words"))
	require.NoError(t, err)
	require.NoError(t, server.DeallocateFlow(serverPort, true))
	assert.Equal(t, defn.Closed, serverPort.State())

	assert.Eventually(t, func() bool { return port.State() == defn.Closed }, waitFor, tick)
	received, err := client.Receive(port)
	require.NoError(t, err)
	assert.Equal(t, []byte("last words"), received)
	buf := make([]byte, 8)
	_, err = port.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, func() bool { return client.CepIds().Len() == 0 }, waitFor, tick)
}

func TestAbort(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	require.NoError(t, client.DeallocateFlow(port, false))
	assert.Equal(t, defn.Closed, port.State())
	assert.Equal(t, 0, client.CepIds().Len())

	assert.Eventually(t, func() bool { return serverPort.State() == defn.Closed }, waitFor, tick)
	_, err = serverPort.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	_, err = server.Receive(serverPort)
	assert.Equal(t, defn.NotConnected, defn.PortErrorCodeOf(err))
}

func TestHandshakeTimeout(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", func(options *Options) {
		options.HandshakeTimeout = 100 * time.Millisecond
	})

	err := server.RegisterApplication(defn.MakeApplicationNamingInfo("Slow"),
		func(*defn.FlowInformation) (wire.ConnectResult, AcceptFunc) {
			time.Sleep(300 * time.Millisecond)
			return wire.Accepted, nil
		})
	require.NoError(t, err)

	port, _, err := client.AllocateFlow(flowTo(server, "Slow"))
	assert.Nil(t, port)
	assert.Equal(t, defn.TimedOut, defn.PortErrorCodeOf(err))
	assert.Equal(t, 0, client.CepIds().Len())

	// The late acceptance is aborted by the requester
	assert.Eventually(t, func() bool {
		return server.Events().CountKind(EventFlowDeallocated) == 1 && server.CepIds().Len() == 0
	}, waitFor, tick)
}

func TestAllocateFlowCancelled(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)

	release := make(chan struct{})
	err := server.RegisterApplication(defn.MakeApplicationNamingInfo("Stuck"),
		func(*defn.FlowInformation) (wire.ConnectResult, AcceptFunc) {
			<-release
			return wire.Rejected, nil
		})
	require.NoError(t, err)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	port, _, err := client.AllocateFlowContext(ctx, flowTo(server, "Stuck"))
	assert.Nil(t, port)
	assert.Equal(t, defn.ConnectionAborted, defn.PortErrorCodeOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.CepIds().Len())
}

func TestLoopback(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	e := testEngine(t, dir, "self", nil)
	accepted := acceptAll(t, e, "Mirror")

	flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"),
		defn.MakeApplicationNamingInfo("Mirror"), defn.WithDestinationAddress(e.Address()))
	port, result, err := e.AllocateFlow(flow)
	require.NoError(t, err)
	require.Equal(t, wire.Accepted, result)
	serverPort := nextPort(t, accepted)

	assert.Equal(t, serverPort.LocalCepId(), port.RemoteCepId())
	assert.Equal(t, 2, e.CepIds().Len())
	assert.Len(t, e.Ports(), 2)

	_, err = port.Write([]byte("ping"))
	require.NoError(t, err)
	received, err := e.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), received)

	_, err = serverPort.Write([]byte("pong"))
	require.NoError(t, err)
	received, err = e.Receive(port)
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), received)

	require.NoError(t, port.Close())
	assert.Eventually(t, func() bool { return e.CepIds().Len() == 0 }, waitFor, tick)
}

func TestResolver(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", func(options *Options) {
		options.Resolver = func(name defn.ApplicationNamingInfo) (defn.Address, error) {
			if name.ApplicationName == "Echo" {
				return server.Address(), nil
			}
			return defn.Address{}, errors.New("unknown application")
		}
	})
	acceptAll(t, server, "Echo")

	flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"), defn.MakeApplicationNamingInfo("Echo"))
	port, result, err := client.AllocateFlow(flow)
	require.NoError(t, err)
	assert.Equal(t, wire.Accepted, result)
	assert.NotNil(t, port)

	flow = defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"), defn.MakeApplicationNamingInfo("Other"))
	_, _, err = client.AllocateFlow(flow)
	assert.Equal(t, defn.InvalidArgument, defn.PortErrorCodeOf(err))
}

func TestAllocateFlowErrors(t *testing.T) {
	dir := socketDir(t)
	client := testEngine(t, dir, "client", func(options *Options) {
		options.Shim.ConnectTimeout = 100 * time.Millisecond
	})

	flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"), defn.MakeApplicationNamingInfo("Echo"))
	_, _, err := client.AllocateFlow(flow)
	assert.Equal(t, defn.InvalidArgument, defn.PortErrorCodeOf(err))

	flow = defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"), defn.MakeApplicationNamingInfo("Echo"),
		defn.WithDestinationAddress(defn.MakePipeAddress("", "missing")))
	_, _, err = client.AllocateFlow(flow)
	assert.Equal(t, defn.NotConnected, defn.PortErrorCodeOf(err))
	assert.Equal(t, 0, client.CepIds().Len())

	_, _, err = client.AllocateFlow(nil)
	assert.Equal(t, defn.InvalidArgument, defn.PortErrorCodeOf(err))

	flow = defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"), defn.MakeApplicationNamingInfo("rina/time"),
		defn.WithDestinationAddress(client.Address()))
	_, _, err = client.AllocateFlow(flow)
	assert.Equal(t, defn.InvalidArgument, defn.PortErrorCodeOf(err))
	assert.ErrorIs(t, err, defn.ErrInvalidName)
	assert.Equal(t, 0, client.CepIds().Len())

	_, err = client.Port(12345)
	assert.ErrorIs(t, err, core.ErrUnknownPort)
	_, err = client.Send(&Port{}, []byte("x"))
	assert.ErrorIs(t, err, core.ErrUnknownPort)
}

func TestRegistration(t *testing.T) {
	e := NewEngine(MakeOptions())
	handler := func(*defn.FlowInformation) (wire.ConnectResult, AcceptFunc) { return wire.Rejected, nil }

	assert.ErrorIs(t, e.RegisterApplication(defn.ApplicationNamingInfo{}, handler), ErrInvalidRegistration)
	assert.ErrorIs(t, e.RegisterApplication(defn.MakeApplicationNamingInfo("App"), nil), ErrInvalidRegistration)
	err := e.RegisterApplication(defn.MakeApplicationNamingInfo("rina/time"), handler)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	assert.ErrorIs(t, err, defn.ErrInvalidName)
	require.NoError(t, e.RegisterApplication(defn.MakeApplicationNamingInfo("App"), handler))
	assert.Error(t, e.RegisterApplication(defn.MakeApplicationNamingInfo("App"), handler))
	assert.True(t, e.DeregisterApplication(defn.MakeApplicationNamingInfo("App")))
	assert.False(t, e.DeregisterApplication(defn.MakeApplicationNamingInfo("App")))
	e.Stop()
}

func TestInvalidMessages(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	ch, _, ok := client.Pool().Lookup(server.Address())
	require.True(t, ok)
	require.NoError(t, ch.Send(&wire.Data{
		Header:  wire.Header{SourceAddress: client.Address(), DestinationAddress: server.Address(), DestinationCepId: 999},
		Payload: []byte{1, 2, 3},
	}))
	require.NoError(t, ch.Send(&wire.Data{
		Header: wire.Header{
			SourceAddress:      client.Address(),
			DestinationAddress: server.Address(),
			DestinationCepId:   serverPort.LocalCepId(),
		},
		Payload: []byte{1, 2, 3},
	}))
	assert.Eventually(t, func() bool { return server.Events().CountKind(EventInvalidMessage) == 2 }, waitFor, tick)

	// The flow is unaffected
	_, err = port.Write([]byte("still fine"))
	require.NoError(t, err)
	received, err := server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, []byte("still fine"), received)
	assert.Equal(t, 2, server.Measurements().Int("invalid_messages"))
}

func TestUnsolicitedDisconnectResponse(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	ch, _, ok := client.Pool().Lookup(server.Address())
	require.True(t, ok)
	header := wire.Header{
		SourceAddress:      client.Address(),
		DestinationAddress: server.Address(),
		DestinationCepId:   serverPort.LocalCepId(),
	}
	require.NoError(t, ch.Send(&wire.DisconnectResponse{Header: header, Flags: wire.Close}))
	header.DestinationCepId = 999
	require.NoError(t, ch.Send(&wire.Data{Header: header, Payload: []byte{1}}))
	assert.Eventually(t, func() bool { return server.Events().CountKind(EventInvalidMessage) == 1 }, waitFor, tick)

	assert.Equal(t, defn.Open, serverPort.State())
	assert.Empty(t, serverPort.cep.control)

	// Graceful close still waits for the real response of the peer
	require.NoError(t, server.DeallocateFlow(serverPort, true))
	assert.Equal(t, defn.Closed, serverPort.State())
	assert.Eventually(t, func() bool { return port.State() == defn.Closed }, waitFor, tick)
}

func TestChannelDown(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	ch, _, ok := client.Pool().Lookup(server.Address())
	require.True(t, ok)
	ch.Close()

	assert.Eventually(t, func() bool { return port.State() == defn.Closed }, waitFor, tick)
	assert.Eventually(t, func() bool { return serverPort.State() == defn.Closed }, waitFor, tick)
	assert.Equal(t, 1, client.Events().CountKind(EventChannelDown))
	_, err = port.Write([]byte("gone"))
	assert.Equal(t, defn.NotConnected, defn.PortErrorCodeOf(err))

	// A new channel replaces the dead one
	again, result, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	assert.Equal(t, wire.Accepted, result)
	assert.True(t, again.Connected())
}

func TestStopAfterChannelDown(t *testing.T) {
	core.SetLogLevel("DEBUG")
	defer core.SetLogLevel("INFO")

	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := NewEngine(testOptions(dir, "client"))
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	nextPort(t, accepted)

	ch, _, ok := client.Pool().Lookup(server.Address())
	require.True(t, ok)
	ch.Close()
	assert.Eventually(t, func() bool { return port.State() == defn.Closed }, waitFor, tick)

	stopped := make(chan struct{})
	go func() {
		client.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(waitFor):
		require.FailNow(t, "engine did not stop")
	}
	assert.Equal(t, 0, client.Pool().Len())
}

func TestWebSocketFlow(t *testing.T) {
	skipRace(t)
	dir := socketDir(t)
	server := testEngine(t, dir, "server", func(options *Options) {
		options.Shim.WebSocketEnabled = true
		options.Shim.WebSocketBind = "127.0.0.1"
		options.Shim.WebSocketPort = 0
	})
	client := testEngine(t, dir, "client", nil)
	accepted := acceptAll(t, server, "Echo")

	url := server.WebSocketURL()
	require.NotEmpty(t, url)
	flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("client"), defn.MakeApplicationNamingInfo("Echo"),
		defn.WithDestinationAddress(defn.MakeUriAddress(url)))
	port, result, err := client.AllocateFlow(flow)
	require.NoError(t, err)
	require.Equal(t, wire.Accepted, result)
	serverPort := nextPort(t, accepted)

	_, err = port.Write([]byte("over websocket"))
	require.NoError(t, err)
	received, err := server.Receive(serverPort)
	require.NoError(t, err)
	assert.Equal(t, []byte("over websocket"), received)
	require.NoError(t, port.Close())
}

func TestStopAbortsFlows(t *testing.T) {
	dir := socketDir(t)
	server := testEngine(t, dir, "server", nil)
	client := NewEngine(testOptions(dir, "client"))
	accepted := acceptAll(t, server, "Echo")

	port, _, err := client.AllocateFlow(flowTo(server, "Echo"))
	require.NoError(t, err)
	require.NotNil(t, port)
	serverPort := nextPort(t, accepted)

	client.Stop()
	client.Stop()
	assert.Equal(t, defn.Closed, port.State())
	assert.Eventually(t, func() bool { return serverPort.State() == defn.Closed }, waitFor, tick)
	assert.Equal(t, 0, client.Pool().Len())
}
