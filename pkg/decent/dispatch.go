package decent

import (
	"errors"
	"time"

	"github.com/fako1024/decentscale/pkg/protocol"
)

// onReceive is called by the transport for every received buffer and queues
// its dispatch onto the worker
func (s *Scale) onReceive(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)

	if !s.worker.post(func() { s.dispatch(frame) }) {
		frameErrorsCounter.WithLabelValues("queue_full").Inc()
		s.logger.Warnf("dropping frame %x: dispatch queue full", frame)
	}
}

// dispatch decodes a frame and updates the device state accordingly. Invalid
// frames are logged and dropped. Must be called from the worker
func (s *Scale) dispatch(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		switch {
		case errors.Is(err, protocol.ErrChecksumMismatch):
			frameErrorsCounter.WithLabelValues("checksum").Inc()
			s.logger.Warnf("dropping frame %x: %s", data, err)
		case errors.Is(err, protocol.ErrUnknownFrameType):
			frameErrorsCounter.WithLabelValues("unknown_type").Inc()
			s.logger.Warnf("dropping frame %x: %s", data, err)
		default:
			frameErrorsCounter.WithLabelValues("malformed").Inc()
			s.logger.Infof("invalid notification %x (not a Decent Scale?): %s", data, err)
		}
		return
	}

	framesReceivedCounter.WithLabelValues(msg.Kind().String()).Inc()
	s.logger.Debugf("received %s frame %x", msg.Kind(), data)

	switch m := msg.(type) {
	case protocol.WeightMessage:
		s.mu.Lock()
		s.device.weight = m.Weight
		s.device.hasWeight = true
		s.device.weighedAt = time.Now()
		s.device.elapsed = m.Elapsed
		dataPoint, dataChan := s.device.dataPoint(), s.dataChan
		s.mu.Unlock()

		s.subscribers.notify(dataPoint)

		// Put data point on channel, if any
		if dataChan != nil {
			select {
			case dataChan <- dataPoint:
			default:
			}
		}

	case protocol.ButtonMessage:
		s.logger.Debugf("button press: %d, duration: %d", m.Button, m.Duration)

	case protocol.TareAckMessage:
		if seq := s.encoder.Sequence(); m.Sequence != seq {
			s.logger.Debugf("tare acknowledgement for sequence %d does not match last tare %d", m.Sequence, seq)
		}
		if m.Confirmed {
			s.logger.Debugf("tare %d confirmed", m.Sequence)
		}

	case protocol.StatusMessage:
		s.mu.Lock()
		s.device.unit = m.Unit
		s.device.battery = m.Battery
		s.device.firmware = m.Firmware
		s.mu.Unlock()

		s.logger.Debugf("scale status: unit %s, battery %s, firmware %s", m.Unit, m.Battery, m.Firmware)

	case protocol.TimerMessage:
		// reserved, no timer information is decoded yet
	}
}
