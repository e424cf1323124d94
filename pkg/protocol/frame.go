package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fako1024/decentscale/pkg/scale"
)

var (

	// ErrMalformedFrame denotes a frame with invalid header or length
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrChecksumMismatch denotes a frame whose XOR checksum does not match
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrUnknownFrameType denotes a valid frame of an unsupported type
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Kind denotes the kind of a decoded frame
type Kind int

const (
	KindUnknown Kind = iota
	KindWeight
	KindButton
	KindTareAck
	KindStatus
	KindTimer
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindWeight:
		return "weight"
	case KindButton:
		return "button"
	case KindTareAck:
		return "tare_ack"
	case KindStatus:
		return "status"
	case KindTimer:
		return "timer"
	}
	return "unknown"
}

const tareConfirmed = 0xFE

var firmwareVersions = map[byte]string{
	0xFE: "1.0",
	0x02: "1.1",
	0x03: "1.2",
}

// Message denotes a decoded frame
type Message interface {
	Kind() Kind
}

// WeightMessage carries a weight sample (and a timer snapshot on newer firmware)
type WeightMessage struct {
	Stable  bool
	Weight  float64
	Elapsed *scale.ElapsedTime
}

// ButtonMessage denotes a button press on the scale
type ButtonMessage struct {
	Button   byte
	Duration byte
}

// TareAckMessage denotes the acknowledgement of a tare command
type TareAckMessage struct {
	Sequence  byte
	Confirmed bool
}

// StatusMessage is sent in reply to LED / heartbeat commands
type StatusMessage struct {
	Unit     scale.Unit
	Battery  scale.BatteryLevel
	Firmware string
}

// TimerMessage is reserved for timer information (not decoded yet)
type TimerMessage struct {
	Raw []byte
}

func (WeightMessage) Kind() Kind  { return KindWeight }
func (ButtonMessage) Kind() Kind  { return KindButton }
func (TareAckMessage) Kind() Kind { return KindTareAck }
func (StatusMessage) Kind() Kind  { return KindStatus }
func (TimerMessage) Kind() Kind   { return KindTimer }

// Parse validates a notification frame and decodes it by type
func Parse(data []byte) (Message, error) {
	if len(data) != ShortFrameLength && len(data) != LongFrameLength {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(data))
	}
	if data[0] != Header {
		return nil, fmt.Errorf("%w: header 0x%02x", ErrMalformedFrame, data[0])
	}
	if xor := Checksum(data[:len(data)-1]); xor != data[len(data)-1] {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrChecksumMismatch, data[len(data)-1], xor)
	}

	switch typ := data[1]; typ {
	case TypeWeight, TypeWeightStable:
		msg := WeightMessage{
			Stable: typ == TypeWeightStable,
			Weight: float64(int16(binary.BigEndian.Uint16(data[2:4]))) / 10.,
		}
		if len(data) == LongFrameLength {
			msg.Elapsed = &scale.ElapsedTime{
				Minutes:     data[4],
				Seconds:     data[5],
				Deciseconds: data[6],
			}
		}
		return msg, nil
	case TypeButton:
		return ButtonMessage{Button: data[2], Duration: data[3]}, nil
	case TypeTare:
		return TareAckMessage{Sequence: data[2], Confirmed: data[5] == tareConfirmed}, nil
	case TypeStatus:
		return parseStatus(data), nil
	case TypeTimer:
		raw := make([]byte, len(data))
		copy(raw, data)
		return TimerMessage{Raw: raw}, nil
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFrameType, typ)
	}
}

// FirmwareVersion maps the raw firmware byte of a status frame to a version
func FirmwareVersion(raw byte) string {
	if v, ok := firmwareVersions[raw]; ok {
		return v
	}
	return fmt.Sprintf("unknown(%02x)", raw)
}

// EncodeWeight builds a weight frame for the given weight (in display units),
// appending the timer snapshot if provided. Values outside of the 16 bit
// range are clamped
func EncodeWeight(weight float64, stable bool, elapsed *scale.ElapsedTime) []byte {
	raw := math.Round(weight * 10.)
	if raw > math.MaxInt16 {
		raw = math.MaxInt16
	} else if raw < math.MinInt16 {
		raw = math.MinInt16
	}

	typ := byte(TypeWeight)
	if stable {
		typ = TypeWeightStable
	}

	frame := make([]byte, ShortFrameLength, LongFrameLength)
	frame[0], frame[1] = Header, typ
	binary.BigEndian.PutUint16(frame[2:4], uint16(int16(raw)))
	if elapsed != nil {
		frame = frame[:LongFrameLength]
		frame[4], frame[5], frame[6] = elapsed.Minutes, elapsed.Seconds, elapsed.Deciseconds
	}
	frame[len(frame)-1] = Checksum(frame[:len(frame)-1])

	return frame
}

// Extract splits a raw byte stream into checksum-valid frames. Garbage is
// skipped one byte at a time until a frame header with a matching checksum is
// found. The unconsumed remainder (a potentially incomplete frame) is returned
// for the next call
func Extract(buf []byte) (frames [][]byte, rest []byte) {
	for {
		start := -1
		for i, b := range buf {
			if b == Header {
				start = i
				break
			}
		}
		if start < 0 {
			return frames, nil
		}
		buf = buf[start:]

		if len(buf) < ShortFrameLength {
			return frames, buf
		}

		// Weight frames carrying a timer snapshot may also pass the short
		// checksum, so the long form takes precedence
		if len(buf) >= LongFrameLength && isWeightType(buf[1]) &&
			Checksum(buf[:LongFrameLength-1]) == buf[LongFrameLength-1] {
			frames = append(frames, cloneBytes(buf[:LongFrameLength]))
			buf = buf[LongFrameLength:]
			continue
		}

		if Checksum(buf[:ShortFrameLength-1]) == buf[ShortFrameLength-1] {
			frames = append(frames, cloneBytes(buf[:ShortFrameLength]))
			buf = buf[ShortFrameLength:]
			continue
		}

		// The long form can only be ruled out once enough data is available
		if len(buf) < LongFrameLength {
			return frames, buf
		}
		if Checksum(buf[:LongFrameLength-1]) == buf[LongFrameLength-1] {
			frames = append(frames, cloneBytes(buf[:LongFrameLength]))
			buf = buf[LongFrameLength:]
			continue
		}

		buf = buf[1:]
	}
}

////////////////////////////////////////////////////////////////////////////////

func parseStatus(data []byte) StatusMessage {
	msg := StatusMessage{
		Unit:     scale.UnitGrams,
		Battery:  scale.BatteryLevel(data[4]),
		Firmware: FirmwareVersion(data[5]),
	}
	if data[3] == 0x01 {
		msg.Unit = scale.UnitOz
	}
	if data[4] == 0xFF {
		msg.Battery = scale.BatteryUSB
	}

	return msg
}

func isWeightType(typ byte) bool {
	return typ == TypeWeight || typ == TypeWeightStable
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
