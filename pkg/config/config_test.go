package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, TransportBLE, cfg.Transport)
	assert.Empty(t, cfg.Address)
	assert.Equal(t, "Decent Scale", cfg.BLE.DeviceName)
	assert.Equal(t, 115200, cfg.USB.BaudRate)
	assert.Equal(t, "hds.local", cfg.WiFi.Host)
	assert.Equal(t, 20*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.True(t, cfg.FixDroppedCommand)
	assert.False(t, cfg.Heartbeat)
	assert.Equal(t, 4*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 50*time.Millisecond, cfg.DroppedCommandRetryDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.PostCommandSettleDelay)
	assert.Empty(t, cfg.API.Listen)
	assert.False(t, cfg.Debug)

	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
transport: usb
address: /dev/ttyUSB0
fix_dropped_command: false
heartbeat: true
heartbeat_interval: 3s
post_command_settle_delay: 100ms
api:
  listen: ":8080"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportUSB, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Address)
	assert.False(t, cfg.FixDroppedCommand)
	assert.True(t, cfg.Heartbeat)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.PostCommandSettleDelay)
	assert.Equal(t, ":8080", cfg.API.Listen)

	// Unset values retain their defaults
	assert.Equal(t, 20*time.Second, cfg.Timeout)
	assert.Equal(t, 115200, cfg.USB.BaudRate)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for _, data := range []string{
		"transport: zigbee",
		"max_retries: 0",
		"timeout: 0s",
		"heartbeat: true\nheartbeat_interval: 5s",
		"transport: wifi\nheartbeat: true",
		"timeout: [",
	} {
		_, err := Parse([]byte(data))
		assert.Error(t, err, data)
	}

	// The heartbeat interval is irrelevant unless the heartbeat is enabled
	_, err := Parse([]byte("heartbeat_interval: 10s"))
	require.NoError(t, err)
}

func TestBuild(t *testing.T) {
	for _, transport := range []string{TransportUSB, TransportWiFi} {
		cfg := Default()
		cfg.Transport = transport

		s, err := cfg.Build(&scale.NullLogger{})
		require.NoError(t, err)
		assert.Equal(t, scale.StateDisconnected, s.ConnectionStatus().State)
		require.NoError(t, s.Close())
	}

	cfg := Default()
	cfg.Transport = "zigbee"
	_, err := cfg.Build(&scale.NullLogger{})
	require.Error(t, err)
}

func TestRetransmit(t *testing.T) {
	cfg := Default()
	for _, transport := range []string{TransportBLE, TransportUSB} {
		cfg.Transport = transport
		assert.True(t, cfg.retransmit(), transport)
	}

	cfg.Transport = TransportWiFi
	assert.False(t, cfg.retransmit())

	cfg.Transport = TransportBLE
	cfg.FixDroppedCommand = false
	assert.False(t, cfg.retransmit())
}
