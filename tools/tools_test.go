package tools

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/defn"
	"github.com/rysavy-ondrej/RINASharp-sub000/ipcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEngine(t *testing.T, dir string, name string) *ipcp.Engine {
	options := ipcp.MakeOptions()
	options.Address = defn.MakePipeAddress("", name)
	options.Shim.SocketDir = dir
	options.ReceiveTimeout = 200 * time.Millisecond
	e := ipcp.NewEngine(options)
	require.NoError(t, e.Start())
	t.Cleanup(e.Stop)
	return e
}

func TestPing(t *testing.T) {
	skipRace(t)
	dir, err := os.MkdirTemp("", "tools")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	serverEngine := startEngine(t, dir, "pingserver")
	clientEngine := startEngine(t, dir, "pingclient")

	server := NewPingServer(serverEngine, defn.MakeApplicationNamingInfo("ping"))
	require.NoError(t, server.Start())
	defer server.Stop()

	flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("pinger"), defn.MakeApplicationNamingInfo("ping"),
		defn.WithDestinationAddress(serverEngine.Address()))
	client := NewPingClient(clientEngine, flow)
	require.NoError(t, client.Connect(context.Background(), 2*time.Second))

	var out bytes.Buffer
	client.Run(context.Background(), &out, 10, time.Millisecond, 3)
	assert.Contains(t, out.String(), "reply from ping: seq=12")
	assert.Equal(t, int64(3), server.Received())
	assert.Equal(t, int64(1), server.Flows())

	out.Reset()
	client.Stats(&out)
	assert.Contains(t, out.String(), "3 pings transmitted, 3 received, 0% lost")
	require.NoError(t, client.Close())
}

func TestPingRefused(t *testing.T) {
	dir, err := os.MkdirTemp("", "tools")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	serverEngine := startEngine(t, dir, "pingserver")
	clientEngine := startEngine(t, dir, "pingclient")

	flow := defn.NewFlowInformation(defn.MakeApplicationNamingInfo("pinger"), defn.MakeApplicationNamingInfo("ping"),
		defn.WithDestinationAddress(serverEngine.Address()))
	client := NewPingClient(clientEngine, flow)
	err = client.Connect(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrFlowRefused)
	assert.NoError(t, client.Close())

	var out bytes.Buffer
	client.Stats(&out)
	assert.Equal(t, "No pings transmitted\n", out.String())
}
