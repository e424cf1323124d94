package usb

import "github.com/fako1024/decentscale/pkg/scale"

// WithBaudRate sets the baud rate of the serial port
func WithBaudRate(baudRate int) func(*Transport) {
	return func(t *Transport) {
		t.baudRate = baudRate
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Transport) {
	return func(t *Transport) {
		t.logger = logger
	}
}
