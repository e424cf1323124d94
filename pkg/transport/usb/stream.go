package usb

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/scale"
)

// streamMode denotes the format of the data streamed by the scale. Depending
// on the firmware, weights are sent as binary frames or as text lines
type streamMode int

const (
	modeUnknown streamMode = iota
	modeBinary
	modeText
)

func (m streamMode) String() string {
	switch m {
	case modeBinary:
		return "binary"
	case modeText:
		return "text"
	}
	return "unknown"
}

// Upper limit for data kept while waiting for a mode marker / line break
const maxPending = 256

var textWeightPrefix = []byte("Weight:")

// streamDecoder turns the raw serial stream into notification frames. Text
// lines (`Weight: <grams>`) are re-encoded into weight frames
type streamDecoder struct {
	mode    streamMode
	pending []byte
	logger  scale.Logger
}

func newStreamDecoder(logger scale.Logger) *streamDecoder {
	return &streamDecoder{logger: logger}
}

func (d *streamDecoder) decode(data []byte) [][]byte {
	d.pending = append(d.pending, data...)

	if d.mode == modeUnknown {
		switch {
		case bytes.Contains(d.pending, textWeightPrefix):
			d.mode = modeText
		case bytes.IndexByte(d.pending, protocol.Header) >= 0:
			d.mode = modeBinary
		default:
			d.pending = truncate(d.pending, len(textWeightPrefix)-1)
			return nil
		}
		d.logger.Debugf("detected %s stream protocol", d.mode)
	}

	if d.mode == modeBinary {
		var frames [][]byte
		frames, d.pending = protocol.Extract(d.pending)
		return frames
	}

	return d.decodeLines()
}

func (d *streamDecoder) decodeLines() (frames [][]byte) {
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(d.pending[:idx])
		d.pending = d.pending[idx+1:]

		pos := strings.Index(line, string(textWeightPrefix))
		if pos < 0 {
			continue
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(line[pos+len(textWeightPrefix):]), 64)
		if err != nil {
			d.logger.Warnf("failed to parse weight from line `%s`: %s", strings.TrimSpace(line), err)
			continue
		}
		frames = append(frames, protocol.EncodeWeight(weight, false, nil))
	}

	// A line this long will never be a weight line
	if len(d.pending) > maxPending {
		d.pending = nil
	}

	return
}

// truncate keeps the last n bytes of buf once it exceeds maxPending
func truncate(buf []byte, n int) []byte {
	if len(buf) <= maxPending {
		return buf
	}
	return append([]byte{}, buf[len(buf)-n:]...)
}
