package decent

import (
	"time"

	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
)

// WithTransport sets the transport used to communicate with the scale
func WithTransport(t transport.Transport) func(*Scale) {
	return func(s *Scale) {
		s.transport = t
	}
}

// WithDiscoverer sets the mechanism used by AutoConnect() to locate the scale
func WithDiscoverer(d transport.Discoverer) func(*Scale) {
	return func(s *Scale) {
		s.discoverer = d
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Scale) {
	return func(s *Scale) {
		s.logger = logger
	}
}

// WithTimeout sets the timeout for discovery and connection attempts
func WithTimeout(timeout time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.timeout = timeout
	}
}

// WithFixDroppedCommand enables / disables sending every command twice to work
// around firmware dropping the first write (enabled by default)
func WithFixDroppedCommand(enable bool) func(*Scale) {
	return func(s *Scale) {
		s.fixDroppedCommand = enable
	}
}

// WithHeartbeat enables / disables the keepalive required by the Half Decent Scale
func WithHeartbeat(enable bool) func(*Scale) {
	return func(s *Scale) {
		s.heartbeatEnabled = enable
	}
}

// WithDroppedCommandRetryDelay sets the delay between the two writes of a command
func WithDroppedCommandRetryDelay(delay time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.droppedCommandRetryDelay = delay
	}
}

// WithPostCommandSettleDelay sets the delay granted to the scale after each command
func WithPostCommandSettleDelay(delay time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.postCommandSettleDelay = delay
	}
}

// WithHeartbeatInterval sets the heartbeat interval (must stay below 5s)
func WithHeartbeatInterval(interval time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.heartbeatInterval = interval
	}
}

// WithNotificationSettleDelay sets the delay after subscribing to notifications
func WithNotificationSettleDelay(delay time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.notificationSettleDelay = delay
	}
}

// WithConnectSettleDelay sets the delay after the initial LED on command
func WithConnectSettleDelay(delay time.Duration) func(*Scale) {
	return func(s *Scale) {
		s.connectSettleDelay = delay
	}
}
