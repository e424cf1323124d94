// Package protocol implements the binary wire format spoken by Decent Scale
// devices: fixed-length command frames sent to the scale and checksummed
// notification frames received from it.
//
// Every frame starts with the header byte 0x03, followed by a type byte and a
// payload, and ends with an XOR checksum over all preceding bytes.
package protocol

import (
	"encoding/hex"
	"fmt"
)

const (

	// Header denotes the first byte of every frame
	Header = 0x03

	// CommandLength denotes the length of every command frame
	CommandLength = 7

	// ShortFrameLength denotes the length of a regular notification frame
	ShortFrameLength = 7

	// LongFrameLength denotes the length of a notification frame carrying an
	// elapsed time stamp (firmware v1.2+)
	LongFrameLength = 10
)

// Frame / command types (byte 1)
const (
	TypeWeight       = 0xCA
	TypeWeightStable = 0xCE
	TypeButton       = 0xAA
	TypeTare         = 0x0F
	TypeStatus       = 0x0A
	TypeTimer        = 0x0B
)

// Command denotes an immutable command frame sent to the scale
type Command [CommandLength]byte

var (
	cmdLEDOnGrams  = mustCommand(0x03, 0x0A, 0x01, 0x01, 0x00, 0x00, 0x09)
	cmdLEDOnOunces = mustCommand(0x03, 0x0A, 0x01, 0x01, 0x01, 0x00, 0x08)
	cmdLEDOff      = mustCommand(0x03, 0x0A, 0x00, 0x00, 0x00, 0x00, 0x09)
	cmdPowerOff    = mustCommand(0x03, 0x0A, 0x02, 0x00, 0x00, 0x00, 0x0B)
	cmdStartTimer  = mustCommand(0x03, 0x0B, 0x03, 0x00, 0x00, 0x00, 0x0B)
	cmdStopTimer   = mustCommand(0x03, 0x0B, 0x00, 0x00, 0x00, 0x00, 0x08)
	cmdResetTimer  = mustCommand(0x03, 0x0B, 0x02, 0x00, 0x00, 0x00, 0x0A)
	cmdHeartbeat   = mustCommand(0x03, 0x0A, 0x03, 0xFF, 0xFF, 0x00, 0x0A)
)

// LEDOnGrams returns the command turning on the display in grams
func LEDOnGrams() Command { return cmdLEDOnGrams }

// LEDOnOunces returns the command turning on the display in ounces
func LEDOnOunces() Command { return cmdLEDOnOunces }

// LEDOff returns the command turning off the display
func LEDOff() Command { return cmdLEDOff }

// PowerOff returns the command powering off the scale (firmware v1.2+)
func PowerOff() Command { return cmdPowerOff }

// StartTimer returns the command starting the timer
func StartTimer() Command { return cmdStartTimer }

// StopTimer returns the command stopping the timer
func StopTimer() Command { return cmdStopTimer }

// ResetTimer returns the command resetting the timer
func ResetTimer() Command { return cmdResetTimer }

// Heartbeat returns the keepalive command required by the Half Decent Scale
func Heartbeat() Command { return cmdHeartbeat }

// Bytes returns a copy of the raw command frame
func (c Command) Bytes() []byte {
	b := make([]byte, CommandLength)
	copy(b, c[:])
	return b
}

// Type returns the command type (byte 1)
func (c Command) Type() byte {
	return c[1]
}

// Valid returns if the command carries the correct header and checksum
func (c Command) Valid() bool {
	return c[0] == Header && Checksum(c[:CommandLength-1]) == c[CommandLength-1]
}

// String returns the hex representation of the command
func (c Command) String() string {
	return hex.EncodeToString(c[:])
}

// Checksum computes the XOR over all provided bytes
func Checksum(data []byte) (xor byte) {
	for _, b := range data {
		xor ^= b
	}
	return
}

// ParseCommand interprets a raw buffer as command frame
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if len(data) != CommandLength {
		return c, fmt.Errorf("%w: command length %d", ErrMalformedFrame, len(data))
	}
	copy(c[:], data)
	if c[0] != Header {
		return c, fmt.Errorf("%w: header 0x%02x", ErrMalformedFrame, c[0])
	}
	if !c.Valid() {
		return c, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksumMismatch, c[CommandLength-1], Checksum(c[:CommandLength-1]))
	}

	return c, nil
}

func newCommand(typ, b2, b3, b4, b5 byte) Command {
	c := Command{Header, typ, b2, b3, b4, b5, 0}
	c[CommandLength-1] = Checksum(c[:CommandLength-1])
	return c
}

func mustCommand(b ...byte) Command {
	if len(b) != CommandLength {
		panic(fmt.Sprintf("invalid command template length %d", len(b)))
	}
	var c Command
	copy(c[:], b)
	if !c.Valid() {
		panic(fmt.Sprintf("invalid checksum in command template %s (want 0x%02x)", c, Checksum(c[:CommandLength-1])))
	}

	return c
}

////////////////////////////////////////////////////////////////////////////////

// Encoder builds tare commands, cycling the tare sequence counter
type Encoder struct {
	sequence  byte
	heartbeat bool
}

// NewEncoder instantiates a new Encoder. If heartbeat is set, tare commands
// request the scale to expect heartbeats
func NewEncoder(heartbeat bool) *Encoder {
	return &Encoder{heartbeat: heartbeat}
}

// Tare increments the sequence counter (mod 256) and returns the
// corresponding tare command
func (e *Encoder) Tare() Command {
	e.sequence++

	var hb byte
	if e.heartbeat {
		hb = 0x01
	}

	return newCommand(TypeTare, e.sequence, 0x00, 0x00, hb)
}

// Sequence returns the sequence number of the most recently built tare command
func (e *Encoder) Sequence() byte {
	return e.sequence
}

// LEDOn returns the LED on command for the requested unit (ounces or grams)
func LEDOn(ounces bool) Command {
	if ounces {
		return cmdLEDOnOunces
	}
	return cmdLEDOnGrams
}
