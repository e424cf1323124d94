// Package decent implements a driver for Decent Scale / Half Decent Scale
// devices. All public methods are synchronous: they schedule work onto a
// dedicated worker goroutine that owns every interaction with the transport
// (connection handling, command writes, heartbeats and frame dispatch) and
// block until it has been carried out.
//
// Weight callbacks and the data channel are served from the worker goroutine.
// Callbacks must return quickly and must not call blocking methods of the
// Scale (e.g. Tare()), otherwise the worker deadlocks. State changes are
// delivered in order from a separate goroutine, so state change handlers may
// call any method (e.g. Connect() after a connection loss).
package decent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
	"github.com/fatih/stopwatch"
)

const (
	defaultTimeout                  = 20 * time.Second
	defaultDroppedCommandRetryDelay = 50 * time.Millisecond
	defaultPostCommandSettleDelay   = 200 * time.Millisecond
	defaultHeartbeatInterval        = 4 * time.Second
	defaultNotificationSettleDelay  = time.Second
	defaultConnectSettleDelay       = 500 * time.Millisecond

	// DefaultMaxRetries denotes the default number of attempts for AutoConnect()
	DefaultMaxRetries = 3
)

var (

	// ErrNoTransport denotes a scale instantiated without transport
	ErrNoTransport = errors.New("no transport provided")

	// ErrConnectFailure denotes a failed connection attempt
	ErrConnectFailure = errors.New("failed to connect")

	// ErrConnectionLost denotes an unexpected termination of the connection
	ErrConnectionLost = errors.New("connection lost")
)

// Scale denotes a Decent Scale, connected via an arbitrary transport
type Scale struct {

	// opMu serializes public operations issued by (potentially) multiple callers
	opMu sync.Mutex

	// mu guards the status, device state, timer and handlers below
	mu     sync.RWMutex
	status scale.ConnectionStatus
	device deviceState
	timer  *stopwatch.Stopwatch

	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus
	dataChan           chan scale.DataPoint

	transport  transport.Transport
	discoverer transport.Discoverer

	// Owned by the worker
	encoder   *protocol.Encoder
	heartbeat *heartbeat

	worker      *worker
	notifier    *notifier
	sender      *sender
	subscribers *registry

	timeout                  time.Duration
	fixDroppedCommand        bool
	droppedCommandRetryDelay time.Duration
	postCommandSettleDelay   time.Duration
	heartbeatEnabled         bool
	heartbeatInterval        time.Duration
	notificationSettleDelay  time.Duration
	connectSettleDelay       time.Duration

	logger scale.Logger
}

// New instantiates a new Scale, executing functional options, if any
func New(options ...func(*Scale)) (*Scale, error) {

	// Initialize a new instance of a Decent scale
	s := &Scale{
		status:                   scale.ConnectionStatus{State: scale.StateDisconnected},
		device:                   newDeviceState(),
		subscribers:              newRegistry(),
		timeout:                  defaultTimeout,
		fixDroppedCommand:        true,
		droppedCommandRetryDelay: defaultDroppedCommandRetryDelay,
		postCommandSettleDelay:   defaultPostCommandSettleDelay,
		heartbeatInterval:        defaultHeartbeatInterval,
		notificationSettleDelay:  defaultNotificationSettleDelay,
		connectSettleDelay:       defaultConnectSettleDelay,
		logger:                   &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}

	if s.transport == nil {
		return nil, ErrNoTransport
	}

	s.encoder = protocol.NewEncoder(s.heartbeatEnabled)
	s.worker = newWorker()
	s.notifier = newNotifier()
	s.sender = &sender{
		transport:         s.transport,
		sleep:             s.worker.sleep,
		fixDroppedCommand: s.fixDroppedCommand,
		retryDelay:        s.droppedCommandRetryDelay,
		settleDelay:       s.postCommandSettleDelay,
	}
	s.transport.SetDisconnectHandler(s.onConnectionLost)

	return s, nil
}

// ConnectionStatus returns the current status of the connection
func (s *Scale) ConnectionStatus() scale.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.status
}

// BatteryLevel returns the current battery level
func (s *Scale) BatteryLevel() scale.BatteryLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.device.battery
}

// FirmwareVersion returns the firmware version (empty if not known yet)
func (s *Scale) FirmwareVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.device.firmware
}

// Unit returns the current weight unit
func (s *Scale) Unit() scale.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.device.unit
}

// Weight returns the most recent weight sample (including the timer snapshot,
// if provided by the firmware). The second return value is false if no weight
// has been received since notifications were enabled
func (s *Scale) Weight() (scale.DataPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.device.dataPoint(), s.device.hasWeight
}

// ElapsedTime returns the current timer value. The snapshot reported by the
// scale takes precedence over the locally tracked timer
func (s *Scale) ElapsedTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.device.elapsed != nil {
		return s.device.elapsed.Duration()
	}
	if s.timer != nil {
		return s.timer.ElapsedTime()
	}

	return 0
}

// AddWeightCallback registers a function that is called upon retrieval of
// each weight sample, in order of registration
func (s *Scale) AddWeightCallback(fn scale.WeightCallback) scale.CallbackID {
	return s.subscribers.add(fn)
}

// RemoveWeightCallback removes a previously registered weight callback
func (s *Scale) RemoveWeightCallback(id scale.CallbackID) {
	if !s.subscribers.remove(id) {
		s.logger.Debugf("weight callback %d not registered", id)
	}
}

// SetStateChangeHandler defines a handler function that is called upon state
// change. It runs asynchronously (in order of the state changes) and may call
// any method of the Scale
func (s *Scale) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes (non-blocking)
func (s *Scale) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateChangeChan = ch
}

// SetDataChannel defines a channel that receives weight samples (non-blocking)
func (s *Scale) SetDataChannel(ch chan scale.DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataChan = ch
}

// AutoConnect discovers the scale and connects to it, making up to maxRetries
// attempts. It returns true if connected, including the case of an already
// existing connection
func (s *Scale) AutoConnect(maxRetries int) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if state := s.ConnectionStatus().State; state != scale.StateDisconnected {
		s.logger.Warnf("already connected (state: %s)", state)
		return state.IsConnected()
	}
	if s.discoverer == nil {
		s.logger.Errorf("cannot auto-connect: no discoverer provided")
		return false
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		address, err := s.discover()
		if err != nil {
			lastErr = err
			s.logger.Warnf("scale not found (attempt %d/%d): %s", attempt, maxRetries, err)
			continue
		}

		s.logger.Infof("found scale `%s` (attempt %d/%d)", address, attempt, maxRetries)
		if s.connect(address) {
			return true
		}
		lastErr = s.ConnectionStatus().Error
	}

	s.logger.Errorf("auto-connect failed after %d attempt(s), make sure the scale is turned on", maxRetries)
	s.setStatus(scale.StateDisconnected, false, lastErr)

	return false
}

// Connect connects to the scale at the given address. Calling Connect while
// already connected is a no-op
func (s *Scale) Connect(address string) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.connect(address)
}

// Disconnect terminates the connection to the scale (disabling notifications
// and heartbeat first, if active). Calling Disconnect while not connected is a
// no-op
func (s *Scale) Disconnect() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.disconnect()
}

// EnableNotifications subscribes to notifications sent by the scale and starts
// the heartbeat (if enabled)
func (s *Scale) EnableNotifications() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("enable notifications", s.enableNotifications)
}

// DisableNotifications stops the heartbeat (if running) and unsubscribes from
// notifications sent by the scale
func (s *Scale) DisableNotifications() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("disable notifications", s.disableNotifications)
}

// Tare tares the scale
func (s *Scale) Tare() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("tare", func(ctx context.Context) error {
		return s.sender.send(ctx, s.encoder.Tare())
	})
}

// LEDOn turns on the display, showing the given unit
func (s *Scale) LEDOn(unit scale.Unit) error {
	if unit != scale.UnitGrams && unit != scale.UnitOz {
		return fmt.Errorf("invalid unit `%s`", unit)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("turn on LED", func(ctx context.Context) error {
		return s.sender.send(ctx, protocol.LEDOn(unit == scale.UnitOz))
	})
}

// LEDOff turns off the display
func (s *Scale) LEDOff() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("turn off LED", func(ctx context.Context) error {
		return s.sender.send(ctx, protocol.LEDOff())
	})
}

// PowerOff turns off the scale (requires firmware v1.2 or newer)
func (s *Scale) PowerOff() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("power off", func(ctx context.Context) error {
		if fw := s.FirmwareVersion(); !supportsPowerOff(fw) {
			if fw == "" {
				fw = "unknown"
			}
			s.logger.Warnf("power off requires firmware v1.2 or newer (current: %s)", fw)
			return nil
		}
		return s.sender.send(ctx, protocol.PowerOff())
	})
}

// StartTimer starts the timer / stopwatch
func (s *Scale) StartTimer() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("start timer", func(ctx context.Context) error {
		if err := s.sender.send(ctx, protocol.StartTimer()); err != nil {
			return err
		}

		s.mu.Lock()
		if s.timer == nil {
			s.timer = stopwatch.Start(0)
		} else {
			s.timer.Start(0)
		}
		s.mu.Unlock()

		return nil
	})
}

// StopTimer stops the timer / stopwatch
func (s *Scale) StopTimer() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("stop timer", func(ctx context.Context) error {
		if err := s.sender.send(ctx, protocol.StopTimer()); err != nil {
			return err
		}

		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()

		return nil
	})
}

// ResetTimer resets the timer / stopwatch
func (s *Scale) ResetTimer() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.guarded("reset timer", func(ctx context.Context) error {
		if err := s.sender.send(ctx, protocol.ResetTimer()); err != nil {
			return err
		}

		s.mu.Lock()
		if s.timer != nil {
			s.timer.Reset()
		}
		s.mu.Unlock()

		return nil
	})
}

// Close terminates the connection to the device (if any) and stops the worker.
// Pending state changes are still delivered
func (s *Scale) Close() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var err error
	if s.ConnectionStatus().State != scale.StateDisconnected && !s.disconnect() {
		err = s.ConnectionStatus().Error
	}

	s.worker.stop()
	s.notifier.stop()
	s.subscribers.clear()

	return err
}

////////////////////////////////////////////////////////////////////////////////

// guarded runs fn on the worker if the scale is connected. Otherwise the
// operation is skipped with a warning
func (s *Scale) guarded(op string, fn func(ctx context.Context) error) error {
	if state := s.ConnectionStatus().State; !state.IsConnected() {
		s.logger.Warnf("cannot %s: scale is not connected (state: %s)", op, state)
		return nil
	}

	return s.worker.do(context.Background(), fn)
}

func (s *Scale) setStatus(state scale.State, heartbeatActive bool, err error) {
	s.mu.Lock()
	s.status = scale.ConnectionStatus{
		State:           state,
		HeartbeatActive: heartbeatActive && state == scale.StateNotificationsActive,
		Error:           err,
	}
	status, handler, ch := s.status, s.stateChangeHandler, s.stateChangeChan
	s.mu.Unlock()

	s.notifier.push(func() {

		// Call handler function, if any
		if handler != nil {
			handler(status)
		}

		// Put state change on channel, if any
		if ch != nil {
			select {
			case ch <- status:
			default:
			}
		}
	})
}

func (s *Scale) discover() (address string, err error) {
	err = s.worker.do(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		address, err = s.discoverer.Discover(ctx)
		return err
	})

	return
}

func (s *Scale) connect(address string) bool {
	if state := s.ConnectionStatus().State; state != scale.StateDisconnected {
		s.logger.Warnf("already connected (state: %s)", state)
		return state.IsConnected()
	}

	s.setStatus(scale.StateConnecting, false, nil)
	err := s.worker.do(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		return s.transport.Connect(ctx, address)
	})
	if err != nil {
		connectAttemptsCounter.WithLabelValues(labelFailure).Inc()
		err = fmt.Errorf("%w to `%s`: %w", ErrConnectFailure, address, err)
		s.logger.Errorf("%s", err)
		s.setStatus(scale.StateDisconnected, false, err)
		return false
	}
	connectAttemptsCounter.WithLabelValues(labelSuccess).Inc()

	s.mu.Lock()
	s.device.reset()
	s.mu.Unlock()
	s.setStatus(scale.StateConnected, false, nil)
	s.logger.Infof("connected to scale `%s`", address)

	// Wake up the display, which also makes the scale report its status
	if err := s.worker.do(context.Background(), func(ctx context.Context) error {
		if err := s.sender.send(ctx, protocol.LEDOnGrams()); err != nil {
			return err
		}
		return s.worker.sleep(ctx, s.connectSettleDelay)
	}); err != nil {
		s.logUnsupported(err, "failed to turn on LED after connecting: %s")
	}

	return true
}

func (s *Scale) disconnect() bool {
	state := s.ConnectionStatus().State
	if state == scale.StateDisconnected {
		s.logger.Warnf("already disconnected")
		return true
	}

	// Not waited for: the worker executes jobs in order, so notifications are
	// disabled (and the heartbeat stopped) before the transport is closed
	if state == scale.StateNotificationsActive {
		s.worker.goAsync(context.Background(), func(ctx context.Context) error {
			if err := s.disableNotifications(ctx); err != nil {
				s.logger.Warnf("failed to disable notifications during disconnect: %s", err)
			}
			return nil
		})
	}

	err := s.worker.do(context.Background(), func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		return s.transport.Disconnect(ctx)
	})

	s.mu.Lock()
	s.device.reset()
	s.timer = nil
	s.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("failed to disconnect: %w", err)
		s.logger.Errorf("%s", err)
	} else {
		s.logger.Infof("disconnected from scale")
	}
	s.setStatus(scale.StateDisconnected, false, err)

	return err == nil
}

// enableNotifications must be called from the worker
func (s *Scale) enableNotifications(ctx context.Context) error {
	if s.ConnectionStatus().State == scale.StateNotificationsActive {
		s.logger.Warnf("notifications already enabled")
		return nil
	}

	if err := s.transport.Subscribe(ctx, s.onReceive); err != nil {
		return fmt.Errorf("failed to subscribe to notifications: %w", err)
	}
	if err := s.worker.sleep(ctx, s.notificationSettleDelay); err != nil {
		return err
	}

	if s.heartbeatEnabled {
		s.startHeartbeat()
	}
	s.setStatus(scale.StateNotificationsActive, s.heartbeatEnabled, nil)

	// Request a status reply to learn unit, battery level and firmware version
	if err := s.sender.send(ctx, protocol.LEDOn(s.Unit() == scale.UnitOz)); err != nil {
		s.logUnsupported(err, "failed to request status: %s")
	}

	return nil
}

// disableNotifications must be called from the worker
func (s *Scale) disableNotifications(ctx context.Context) error {
	if s.ConnectionStatus().State != scale.StateNotificationsActive {
		s.logger.Warnf("notifications not enabled")
		return nil
	}

	s.stopHeartbeat()
	err := s.transport.Unsubscribe(ctx)

	s.mu.Lock()
	s.device.clearWeight()
	s.mu.Unlock()
	s.setStatus(scale.StateConnected, false, nil)

	if err != nil {
		return fmt.Errorf("failed to unsubscribe from notifications: %w", err)
	}

	return nil
}

// logUnsupported logs an error of an implicit command, which is expected (and
// only logged at debug level) if the transport does not support the command
func (s *Scale) logUnsupported(err error, format string) {
	if errors.Is(err, transport.ErrUnsupported) {
		s.logger.Debugf(format, err)
		return
	}
	s.logger.Warnf(format, err)
}

func (s *Scale) onConnectionLost(err error) {
	s.worker.goAsync(context.Background(), func(context.Context) error {
		if s.ConnectionStatus().State == scale.StateDisconnected {
			return nil
		}

		s.stopHeartbeat()

		s.mu.Lock()
		s.device.reset()
		s.timer = nil
		s.mu.Unlock()

		s.logger.Warnf("connection to scale lost: %s", err)
		s.setStatus(scale.StateDisconnected, false, fmt.Errorf("%w: %w", ErrConnectionLost, err))

		return nil
	})
}
