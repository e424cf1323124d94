// Package ble implements the Bluetooth Low Energy GATT transport for Decent
// Scale devices
package ble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
	"github.com/fako1024/gatt"
)

const (
	defaultDeviceName = "Decent Scale"

	dataService         = "fff0"
	readCharacteristic  = "fff4"
	writeCharacteristic = "36f5"

	// Suffix of the Bluetooth base UUID (used to match 16 bit short forms)
	baseUUIDSuffix = "00001000800000805f9b34fb"
)

var errPeripheralDisconnected = errors.New("peripheral disconnected")

// Transport denotes a BLE connection to a Decent Scale
type Transport struct {
	mu sync.Mutex

	btDevice    gatt.Device
	poweredOn   chan struct{}
	powerOnce   sync.Once
	peripherals map[string]gatt.Peripheral
	scanMatch   func(p gatt.Peripheral) bool
	scanResult  chan gatt.Peripheral

	// Current connection, if any
	btPeripheral gatt.Peripheral
	readChar     *gatt.Characteristic
	writeChar    *gatt.Characteristic
	connResult   chan error
	releaseChan  chan struct{}
	closedChan   chan struct{}
	disconnected bool

	onDisconnect func(err error)

	deviceName string
	logger     scale.Logger
}

// New instantiates a new BLE transport, executing functional options, if any
func New(options ...func(*Transport)) (*Transport, error) {

	// Initialize a new instance of a BLE transport
	t := &Transport{
		deviceName:  defaultDeviceName,
		poweredOn:   make(chan struct{}),
		peripherals: make(map[string]gatt.Peripheral),
		logger:      &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	// Initialize a new GATT device (if not provided as option)
	if t.btDevice == nil {
		btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
		if err != nil {
			return nil, err
		}
		t.btDevice = btDevice
	}

	// Register handlers
	t.btDevice.Handle(
		gatt.AddPeripheralDiscovered(t.onPeriphDiscovered),
		gatt.AddPeripheralConnected(t.onPeriphConnected),
		gatt.AddPeripheralDisconnected(t.onPeriphDisconnected),
	)

	// Initialize the device
	return t, t.btDevice.Init(t.onStateChanged)
}

// Discover scans for a peripheral advertising the configured device name and
// returns its ID
func (t *Transport) Discover(ctx context.Context) (string, error) {
	p, err := t.scan(ctx, func(p gatt.Peripheral) bool {
		return strings.EqualFold(p.Name(), t.deviceName)
	})
	if err != nil {
		return "", err
	}

	return p.ID(), nil
}

// Connect establishes a connection to the peripheral with the given ID and
// discovers the Decent Scale characteristics
func (t *Transport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	if t.btPeripheral != nil {
		t.mu.Unlock()
		return nil
	}
	p, known := t.peripherals[strings.ToUpper(address)]
	t.mu.Unlock()

	// Scan for the peripheral if it has not been seen yet
	if !known {
		var err error
		if p, err = t.scan(ctx, func(p gatt.Peripheral) bool {
			return strings.EqualFold(p.ID(), address)
		}); err != nil {
			return err
		}
	}

	result := make(chan error, 1)
	t.mu.Lock()
	t.connResult = result
	t.mu.Unlock()

	t.logger.Debugf("connecting device `%s/%s`", p.Name(), p.ID())
	if err := t.btDevice.Connect(p); err != nil {
		return fmt.Errorf("failed to connect device `%s`: %w", p.ID(), err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		_ = t.btDevice.CancelConnection(p)
		return ctx.Err()
	}
}

// Disconnect releases the connection to the peripheral
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.btPeripheral == nil {
		t.mu.Unlock()
		return nil
	}
	t.disconnected = true
	release, closed := t.releaseChan, t.closedChan
	t.mu.Unlock()

	select {
	case release <- struct{}{}:
	default:
	}

	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Write writes a raw buffer to the write characteristic
func (t *Transport) Write(_ context.Context, data []byte) error {
	t.mu.Lock()
	p, c := t.btPeripheral, t.writeChar
	t.mu.Unlock()

	if p == nil || c == nil {
		return transport.ErrNotConnected
	}

	return p.WriteCharacteristic(c, data, false)
}

// Subscribe enables notifications on the read characteristic
func (t *Transport) Subscribe(_ context.Context, fn transport.ReceiveFunc) error {
	t.mu.Lock()
	p, c := t.btPeripheral, t.readChar
	t.mu.Unlock()

	if p == nil || c == nil {
		return transport.ErrNotConnected
	}

	return p.SetNotifyValue(c, func(_ *gatt.Characteristic, data []byte, err error) {
		if err != nil {
			t.logger.Warnf("error receiving notification: %s", err)
			return
		}
		fn(data)
	})
}

// Unsubscribe disables notifications on the read characteristic
func (t *Transport) Unsubscribe(_ context.Context) error {
	t.mu.Lock()
	p, c := t.btPeripheral, t.readChar
	t.mu.Unlock()

	if p == nil || c == nil {
		return transport.ErrNotConnected
	}

	return p.SetNotifyValue(c, nil)
}

// SetDisconnectHandler defines a function that is called if the peripheral
// disconnects unexpectedly
func (t *Transport) SetDisconnectHandler(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onDisconnect = fn
}

// Close stops scanning and releases the Bluetooth device
func (t *Transport) Close() error {
	_ = t.btDevice.StopScanning()
	return t.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) scan(ctx context.Context, match func(p gatt.Peripheral) bool) (gatt.Peripheral, error) {

	// Wait for the adapter to be ready
	select {
	case <-t.poweredOn:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: bluetooth adapter not powered on: %w", transport.ErrNotFound, ctx.Err())
	}

	result := make(chan gatt.Peripheral, 1)
	t.mu.Lock()
	t.scanMatch, t.scanResult = match, result
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.scanMatch, t.scanResult = nil, nil
		t.mu.Unlock()

		if err := t.btDevice.StopScanning(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	}()

	if err := t.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		return nil, fmt.Errorf("failed to start scanning: %w", err)
	}

	select {
	case p := <-result:
		return p, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", transport.ErrNotFound, ctx.Err())
	}
}

func (t *Transport) onStateChanged(d gatt.Device, s gatt.State) {
	t.logger.Debugf("bluetooth adapter state changed to %v", s)

	switch s {
	case gatt.StatePoweredOn:
		t.powerOnce.Do(func() {
			close(t.poweredOn)
		})
	case gatt.StatePoweredOff:
		t.connectionLost(fmt.Errorf("bluetooth adapter powered off"))
	}
}

func (t *Transport) onPeriphDiscovered(p gatt.Peripheral, _ *gatt.Advertisement, _ int) {
	t.logger.Debugf("discovered device `%s/%s`", p.Name(), p.ID())

	t.mu.Lock()
	defer t.mu.Unlock()

	t.peripherals[strings.ToUpper(p.ID())] = p
	if t.scanMatch != nil && t.scanMatch(p) {
		select {
		case t.scanResult <- p:
		default:
		}
	}
}

func (t *Transport) onPeriphConnected(p gatt.Peripheral, connErr error) {
	t.mu.Lock()
	result := t.connResult
	t.connResult = nil
	t.mu.Unlock()

	// Not initiated by Connect()
	if result == nil {
		return
	}
	if connErr != nil {
		result <- fmt.Errorf("failed to connect peripheral: %w", connErr)
		return
	}

	t.logger.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())

	readChar, writeChar, err := discoverCharacteristics(p)
	if err != nil {
		_ = p.Device().CancelConnection(p)
		result <- err
		return
	}

	release, closed := make(chan struct{}, 1), make(chan struct{})
	t.mu.Lock()
	t.btPeripheral, t.readChar, t.writeChar = p, readChar, writeChar
	t.releaseChan, t.closedChan = release, closed
	t.disconnected = false
	t.mu.Unlock()

	result <- nil

	t.logger.Debugf("waiting to release peripheral `%s/%s`", p.Name(), p.ID())
	<-release
	t.logger.Debugf("released peripheral `%s/%s`", p.Name(), p.ID())

	if err := p.Device().CancelConnection(p); err != nil {
		t.logger.Warnf("failed to cancel connection to `%s`: %s", p.ID(), err)
	}
}

func (t *Transport) onPeriphDisconnected(p gatt.Peripheral, err error) {
	t.logger.Debugf("disconnected peripheral `%s/%s`", p.Name(), p.ID())

	t.mu.Lock()
	current := t.btPeripheral != nil && strings.EqualFold(t.btPeripheral.ID(), p.ID())
	t.mu.Unlock()

	if !current {
		return
	}
	if err == nil {
		err = errPeripheralDisconnected
	}
	t.connectionLost(err)
}

// connectionLost clears the connection and notifies the disconnect handler
// unless the disconnect was requested via Disconnect()
func (t *Transport) connectionLost(err error) {
	t.mu.Lock()
	if t.btPeripheral == nil {
		t.mu.Unlock()
		return
	}
	expected, handler := t.disconnected, t.onDisconnect
	release, closed := t.releaseChan, t.closedChan
	t.btPeripheral, t.readChar, t.writeChar = nil, nil, nil
	t.releaseChan, t.closedChan = nil, nil
	t.mu.Unlock()

	// Unblock the connection handler (if still waiting)
	select {
	case release <- struct{}{}:
	default:
	}
	close(closed)

	if !expected && handler != nil {
		handler(err)
	}
}

func discoverCharacteristics(p gatt.Peripheral) (readChar, writeChar *gatt.Characteristic, err error) {

	// Discover services
	ss, err := p.DiscoverServices(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to discover services: %w", err)
	}
	for _, s := range ss {
		if !matchUUID(s.UUID(), dataService) {
			continue
		}

		// Discover characteristics
		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to discover characteristics: %w", err)
		}
		for _, c := range cs {
			switch {
			case matchUUID(c.UUID(), readCharacteristic):

				// Discover descriptors (required for notifications)
				if _, err := p.DiscoverDescriptors(nil, c); err != nil {
					return nil, nil, fmt.Errorf("failed to discover descriptors: %w", err)
				}
				readChar = c
			case matchUUID(c.UUID(), writeCharacteristic):
				writeChar = c
			}
		}
	}

	if readChar == nil || writeChar == nil {
		return nil, nil, fmt.Errorf("peripheral `%s` does not provide the Decent Scale characteristics", p.ID())
	}

	return
}

func matchUUID(u gatt.UUID, short string) bool {
	return matchUUIDString(u.String(), short)
}

// matchUUIDString compares a UUID string (short or long form, with or without
// dashes) against a 16 bit short form
func matchUUIDString(s, short string) bool {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	return s == short || s == "0000"+short+baseUUIDSuffix
}
