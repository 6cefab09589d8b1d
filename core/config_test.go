package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rysavy-ondrej/RINASharp-sub000/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaultsWithoutFile(t *testing.T) {
	core.SetConfig(nil)
	assert.Equal(t, 42, core.GetConfigIntDefault("ipcp.receive_buffer_size", 42))
	assert.Equal(t, "INFO", core.GetConfigStringDefault("core.log_level", "INFO"))
	assert.True(t, core.GetConfigBoolDefault("ipcp.blocking", true))
	assert.Equal(t, time.Second, core.GetConfigDurationMsDefault("ipcp.receive_timeout_ms", time.Second))
}

func TestConfigToml(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "ipcpd.toml")
	require.NoError(t, os.WriteFile(file, []byte(`
[core]
log_level = "DEBUG"

[ipcp]
name = "alpha"
receive_buffer_size = 1024
receive_timeout_ms = 250
blocking = false

[shim.websocket]
port = 7000
`), 0o644))

	require.NoError(t, core.LoadConfig(file))
	defer core.SetConfig(nil)

	assert.Equal(t, "DEBUG", core.GetConfigStringDefault("core.log_level", "INFO"))
	assert.Equal(t, "alpha", core.GetConfigStringDefault("ipcp.name", ""))
	assert.Equal(t, 1024, core.GetConfigIntDefault("ipcp.receive_buffer_size", 0))
	assert.Equal(t, 250*time.Millisecond, core.GetConfigDurationMsDefault("ipcp.receive_timeout_ms", 0))
	assert.False(t, core.GetConfigBoolDefault("ipcp.blocking", true))
	assert.Equal(t, uint16(7000), core.GetConfigUint16Default("shim.websocket.port", 9696))
	assert.Equal(t, uint16(9696), core.GetConfigUint16Default("shim.websocket.missing", 9696))
	assert.Equal(t, filepath.Join(dir, "cert.pem"), core.ResolveConfigFileRelPath("cert.pem"))
}

func TestConfigYaml(t *testing.T) {
	tree, err := core.ParseYAMLConfig([]byte("ipcp:\n  name: beta\n  send_queue_size: 8\n"))
	require.NoError(t, err)
	core.SetConfig(tree)
	defer core.SetConfig(nil)

	assert.Equal(t, "beta", core.GetConfigStringDefault("ipcp.name", ""))
	assert.Equal(t, 8, core.GetConfigIntDefault("ipcp.send_queue_size", 64))
}

func TestConfigInvalid(t *testing.T) {
	_, err := core.ParseYAMLConfig([]byte("ipcp: [unterminated"))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
