package scale

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Unit denotes the unit of the weight measurement
type Unit string

const (

	// UnitUnknown denotes an unknown / invalid unit
	UnitUnknown Unit = "--"

	// UnitGrams denotes metric units
	UnitGrams Unit = "g"

	// UnitOz denotes imperial units
	UnitOz Unit = "oz"
)

// ParseUnit converts a textual unit ("g" / "oz") into a Unit
func ParseUnit(s string) (Unit, error) {
	switch Unit(s) {
	case UnitGrams, "":
		return UnitGrams, nil
	case UnitOz:
		return UnitOz, nil
	}

	return UnitUnknown, fmt.Errorf("invalid unit `%s` (must be `g` or `oz`)", s)
}

// State denotes a connection state
type State int

const (

	// StateDisconnected is active while no connection to the scale exists
	StateDisconnected State = iota

	// StateConnecting is active while a connection attempt is in progress
	StateConnecting

	// StateConnected is active while being connected to the scale
	StateConnected

	// StateNotificationsActive is active while connected and subscribed to
	// notifications sent by the scale
	StateNotificationsActive
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateNotificationsActive:
		return "notifications_active"
	}

	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// MarshalJSON encodes the state by name
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsConnected returns if the state implies an established connection
func (s State) IsConnected() bool {
	return s >= StateConnected
}

// ConnectionStatus denotes the current status of the connection to the device
type ConnectionStatus struct {
	Error error
	State

	// HeartbeatActive is only ever true while in StateNotificationsActive
	HeartbeatActive bool
}

// BatteryLevel denotes the battery charge in percent or one of the special
// values BatteryUnknown / BatteryUSB
type BatteryLevel int

const (

	// BatteryUnknown denotes that no battery information has been received yet
	BatteryUnknown BatteryLevel = -1

	// BatteryUSB denotes that the scale is powered via USB
	BatteryUSB BatteryLevel = -2
)

// IsKnown returns if a battery level has been reported
func (b BatteryLevel) IsKnown() bool {
	return b != BatteryUnknown
}

// IsUSB returns if the scale is powered via USB
func (b BatteryLevel) IsUSB() bool {
	return b == BatteryUSB
}

// String returns a human-readable representation of the battery level
func (b BatteryLevel) String() string {
	switch b {
	case BatteryUnknown:
		return "unknown"
	case BatteryUSB:
		return "USB"
	}

	return strconv.Itoa(int(b)) + "%"
}

// MarshalJSON encodes the battery level as number, "USB" or null
func (b BatteryLevel) MarshalJSON() ([]byte, error) {
	switch b {
	case BatteryUnknown:
		return []byte("null"), nil
	case BatteryUSB:
		return json.Marshal("USB")
	}

	return json.Marshal(int(b))
}

// ElapsedTime denotes a timer snapshot as reported by the scale
type ElapsedTime struct {
	Minutes     uint8 `json:"minutes"`
	Seconds     uint8 `json:"seconds"`
	Deciseconds uint8 `json:"deciseconds"`
}

// Duration converts the snapshot into a time.Duration
func (e ElapsedTime) Duration() time.Duration {
	return time.Duration(e.Minutes)*time.Minute +
		time.Duration(e.Seconds)*time.Second +
		time.Duration(e.Deciseconds)*100*time.Millisecond
}

// String returns the snapshot in m:ss.d notation
func (e ElapsedTime) String() string {
	return fmt.Sprintf("%d:%02d.%d", e.Minutes, e.Seconds, e.Deciseconds)
}

// DataPoint denotes a weight measurement at a certain point in time
type DataPoint struct {
	TimeStamp time.Time
	Unit      Unit
	Weight    float64

	// Elapsed is only populated by firmware emitting extended weight frames
	Elapsed *ElapsedTime
}

// Value provides a method to retrieve the current value (for interface use)
func (d DataPoint) Value() float64 {
	return d.Weight
}

// DataPoints denotes a set of data points (usually part of a brew process)
type DataPoints []DataPoint

// CallbackID identifies a registered weight callback
type CallbackID uint64

// WeightCallback is called for every decoded weight sample
type WeightCallback func(data DataPoint)
