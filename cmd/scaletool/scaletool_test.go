package main

import (
	"testing"
	"time"

	"github.com/fako1024/decentscale/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	for _, args := range [][]string{
		{"tare"},
		{"led-on", "--unit", "oz"},
		{"led-off"},
		{"power-off"},
		{"timer", "start"},
		{"info"},
	} {
		cmd, _, err := rootCmd.Find(args)
		require.NoError(t, err, args)
		assert.Equal(t, args[0], cmd.Name())
	}

	require.Error(t, timerCmd.Args(timerCmd, []string{"pause"}))
	require.Error(t, timerCmd.Args(timerCmd, nil))
	require.NoError(t, timerCmd.Args(timerCmd, []string{"reset"}))
}

func TestApplyFlags(t *testing.T) {
	require.NoError(t, tareCmd.ParseFlags([]string{"--transport", "usb", "--addr", "/dev/ttyUSB1"}))

	cfg := config.Default()
	applyFlags(tareCmd, cfg)

	assert.Equal(t, config.TransportUSB, cfg.Transport)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Address)
	assert.False(t, cfg.Heartbeat)
	assert.Equal(t, 20*time.Second, cfg.Timeout)
}
