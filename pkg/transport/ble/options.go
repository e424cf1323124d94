package ble

import (
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/gatt"
)

// WithDeviceName sets the advertised name used to discover the scale
func WithDeviceName(deviceName string) func(*Transport) {
	return func(t *Transport) {
		t.deviceName = deviceName
	}
}

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Transport) {
	return func(t *Transport) {
		t.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}
