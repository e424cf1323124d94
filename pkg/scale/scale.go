package scale

import "time"

// Basic denotes a basic coffee scale
type Basic interface {

	// ConnectionStatus returns the current connection status of the scale device
	ConnectionStatus() ConnectionStatus

	// BatteryLevel returns the current battery level
	BatteryLevel() BatteryLevel

	// FirmwareVersion returns the firmware version (empty if not known yet)
	FirmwareVersion() string

	// Unit returns the current weight unit
	Unit() Unit

	// Weight returns the most recent weight sample, if any
	Weight() (DataPoint, bool)

	// Tare tares the scale
	Tare() error

	// AddWeightCallback registers a function that is called upon retrieval of
	// each weight sample
	AddWeightCallback(fn WeightCallback) CallbackID

	// RemoveWeightCallback removes a previously registered weight callback
	RemoveWeightCallback(id CallbackID)

	// SetStateChangeHandler defines a handler function that is called upon state
	// change. Implementations call it outside of any internal lock, so the
	// handler may call back into the scale (e.g. to reconnect)
	SetStateChangeHandler(fn func(status ConnectionStatus))

	// SetStateChangeChannel defines a channel that receives state changes
	SetStateChangeChannel(ch chan ConnectionStatus)

	// SetDataChannel defines a channel that receives weight samples
	SetDataChannel(ch chan DataPoint)

	// Close terminates the connection to the device
	Close() error
}

// Session denotes connection lifecycle management
type Session interface {

	// AutoConnect discovers and connects to a scale, retrying up to maxRetries times
	AutoConnect(maxRetries int) bool

	// Connect connects to the scale at the given address
	Connect(address string) bool

	// Disconnect terminates the connection to the scale
	Disconnect() bool

	// EnableNotifications subscribes to notifications sent by the scale
	EnableNotifications() error

	// DisableNotifications unsubscribes from notifications sent by the scale
	DisableNotifications() error
}

// Display denotes display / LED functionality
type Display interface {

	// LEDOn turns on the display, showing the given unit
	LEDOn(unit Unit) error

	// LEDOff turns off the display
	LEDOff() error
}

// Timer denotes timer / stopwatch functionality
type Timer interface {

	// StartTimer starts the timer / stopwatch
	StartTimer() error

	// StopTimer stops the timer / stopwatch
	StopTimer() error

	// ResetTimer resets the timer / stopwatch
	ResetTimer() error

	// ElapsedTime returns the current timer value
	ElapsedTime() time.Duration
}

// Power denotes remote power management
type Power interface {

	// PowerOff turns off the scale
	PowerOff() error
}

// WithTimer denotes a scale with timer functionality
type WithTimer interface {
	Basic
	Timer
}

// Scale denotes the "default" scale containing all functionality
type Scale interface {
	Basic
	Session
	Display
	Timer
	Power
}
