// Package transport defines the capabilities a physical link to the scale has
// to provide. Implementations live in the sub-packages (ble, usb, wifi)
package transport

import (
	"context"
	"errors"
)

var (

	// ErrNotFound denotes that discovery did not yield a matching device
	ErrNotFound = errors.New("device not found")

	// ErrNotConnected denotes an operation on a transport without connection
	ErrNotConnected = errors.New("transport not connected")

	// ErrUnsupported denotes a command the transport cannot deliver
	ErrUnsupported = errors.New("command not supported by transport")
)

// ReceiveFunc is called for every raw buffer received from the device. The
// buffer must not be retained after the call returns
type ReceiveFunc func(data []byte)

// Transport denotes a bidirectional channel to the scale
type Transport interface {

	// Connect establishes the connection to the device at the given address
	Connect(ctx context.Context, address string) error

	// Disconnect terminates the connection
	Disconnect(ctx context.Context) error

	// Write sends a raw buffer to the device
	Write(ctx context.Context, data []byte) error

	// Subscribe starts the delivery of received buffers to fn
	Subscribe(ctx context.Context, fn ReceiveFunc) error

	// Unsubscribe stops the delivery of received buffers
	Unsubscribe(ctx context.Context) error

	// SetDisconnectHandler defines a function that is called if the connection
	// is lost without a call to Disconnect()
	SetDisconnectHandler(fn func(err error))
}

// Discoverer denotes a mechanism to locate a device
type Discoverer interface {

	// Discover returns the address of a matching device or ErrNotFound
	Discover(ctx context.Context) (string, error)
}

// DiscovererFunc is an adapter to allow the use of ordinary functions as Discoverer
type DiscovererFunc func(ctx context.Context) (string, error)

// Discover calls f(ctx)
func (f DiscovererFunc) Discover(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static returns a Discoverer that always yields the given address
func Static(address string) Discoverer {
	return DiscovererFunc(func(context.Context) (string, error) {
		if address == "" {
			return "", ErrNotFound
		}
		return address, nil
	})
}
