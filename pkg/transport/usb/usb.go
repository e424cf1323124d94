// Package usb implements the USB-serial transport for the Half Decent Scale,
// which exposes the protocol via a CH340 bridge chip
package usb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	defaultBaudRate = 115200

	// CH340 USB-serial bridge
	vendorID  = "1a86"
	productID = "7522"

	readTimeout    = 100 * time.Millisecond
	readBufferSize = 64
)

// Makes the scale stream weight frames via USB
var enableWeightStream = []byte{protocol.Header, 0x20, 0x01}

// Transport denotes a USB-serial connection to a Half Decent Scale
type Transport struct {
	mu sync.Mutex

	port      serial.Port
	receiveFn transport.ReceiveFunc
	closing   bool
	done      chan struct{}

	onDisconnect func(err error)

	baudRate  int
	openPort  func(name string, mode *serial.Mode) (serial.Port, error)
	listPorts func() ([]*enumerator.PortDetails, error)

	logger scale.Logger
}

// New instantiates a new USB transport, executing functional options, if any
func New(options ...func(*Transport)) *Transport {

	// Initialize a new instance of a USB transport
	t := &Transport{
		baudRate:  defaultBaudRate,
		openPort:  serial.Open,
		listPorts: enumerator.GetDetailedPortsList,
		logger:    &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	return t
}

// Discover returns the name of the first serial port backed by a CH340 bridge
func (t *Transport) Discover(_ context.Context) (string, error) {
	ports, err := t.listPorts()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	for _, port := range ports {
		t.logger.Debugf("checking serial port `%s` (usb: %v, vid: %s, pid: %s)", port.Name, port.IsUSB, port.VID, port.PID)
		if port.IsUSB && strings.EqualFold(port.VID, vendorID) && strings.EqualFold(port.PID, productID) {
			return port.Name, nil
		}
	}

	return "", fmt.Errorf("%w: no serial port with VID %s / PID %s", transport.ErrNotFound, vendorID, productID)
}

// Connect opens the serial port and enables the weight stream
func (t *Transport) Connect(_ context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}

	port, err := t.openPort(address, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open serial port `%s`: %w", address, err)
	}

	// A read timeout allows the read loop to terminate upon disconnect
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	if _, err := port.Write(enableWeightStream); err != nil {
		_ = port.Close()
		return fmt.Errorf("failed to enable weight stream: %w", err)
	}

	t.port, t.closing, t.done = port, false, make(chan struct{})
	go t.readLoop(port, t.done)

	return nil
}

// Disconnect closes the serial port
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	port, done := t.port, t.done
	if port == nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.mu.Unlock()

	err := port.Close()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	t.port, t.receiveFn = nil, nil
	t.mu.Unlock()

	return err
}

// Write writes a raw buffer to the serial port
func (t *Transport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()

	if port == nil {
		return transport.ErrNotConnected
	}

	_, err := port.Write(data)
	return err
}

// Subscribe starts the delivery of received frames to fn
func (t *Transport) Subscribe(_ context.Context, fn transport.ReceiveFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return transport.ErrNotConnected
	}
	t.receiveFn = fn

	return nil
}

// Unsubscribe stops the delivery of received frames. The port keeps being
// drained in the background
func (t *Transport) Unsubscribe(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.receiveFn = nil

	return nil
}

// SetDisconnectHandler defines a function that is called if the serial port
// fails unexpectedly (e.g. the cable is unplugged)
func (t *Transport) SetDisconnectHandler(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onDisconnect = fn
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) readLoop(port serial.Port, done chan struct{}) {
	defer close(done)

	var (
		chunk   = make([]byte, readBufferSize)
		decoder = newStreamDecoder(t.logger)
	)
	for {
		n, err := port.Read(chunk)
		if err != nil {
			t.readFailed(port, err)
			return
		}

		// Read timeout
		if n == 0 {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if closing {
				return
			}
			continue
		}

		frames := decoder.decode(chunk[:n])

		t.mu.Lock()
		fn := t.receiveFn
		t.mu.Unlock()

		if fn == nil {
			continue
		}
		for _, frame := range frames {
			fn(frame)
		}
	}
}

func (t *Transport) readFailed(port serial.Port, err error) {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	t.port, t.receiveFn = nil, nil
	handler := t.onDisconnect
	t.mu.Unlock()

	_ = port.Close()

	if isDisconnectionError(err) {
		t.logger.Warnf("serial port disconnected: %s", err)
	} else {
		t.logger.Errorf("failed to read from serial port: %s", err)
	}

	if handler != nil {
		handler(err)
	}
}

func isDisconnectionError(err error) bool {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return true
		}
	}

	return false
}
