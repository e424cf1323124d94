package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fatih/stopwatch"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	defaultAddress  = "Mock Scale"
	defaultFirmware = "1.2"
	defaultBattery  = 100
)

// Mock denotes an in-memory Decent Scale, e.g. for development of tools
// without access to a physical device
type Mock struct {
	mu sync.Mutex

	connectionStatus scale.ConnectionStatus
	batteryLevel     scale.BatteryLevel
	firmwareVersion  string
	unit             scale.Unit
	isLEDOn          bool

	weight    scale.DataPoint
	hasWeight bool
	tareCount int

	timer *stopwatch.Stopwatch

	address string

	callbacks          *orderedmap.OrderedMap[scale.CallbackID, scale.WeightCallback]
	nextCallbackID     scale.CallbackID
	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus
	dataChan           chan scale.DataPoint
}

// New instantiates a new (disconnected) Mock scale
func New() *Mock {
	return &Mock{
		connectionStatus: scale.ConnectionStatus{State: scale.StateDisconnected},
		batteryLevel:     defaultBattery,
		firmwareVersion:  defaultFirmware,
		unit:             scale.UnitGrams,
		address:          defaultAddress,
		callbacks:        orderedmap.New[scale.CallbackID, scale.WeightCallback](),
	}
}

// ConnectionStatus returns the current status of the connection
func (m *Mock) ConnectionStatus() scale.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connectionStatus
}

// BatteryLevel returns the current battery level
func (m *Mock) BatteryLevel() scale.BatteryLevel {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.batteryLevel
}

// FirmwareVersion returns the simulated firmware version
func (m *Mock) FirmwareVersion() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.firmwareVersion
}

// Unit returns the current weight unit
func (m *Mock) Unit() scale.Unit {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.unit
}

// Weight returns the most recent weight sample
func (m *Mock) Weight() (scale.DataPoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.weight, m.hasWeight
}

// IsLEDOn returns if the display is turned on
func (m *Mock) IsLEDOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.isLEDOn
}

// TareCount returns the number of successful Tare() calls
func (m *Mock) TareCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.tareCount
}

// AddWeightCallback registers a function that is called upon each weight sample
func (m *Mock) AddWeightCallback(fn scale.WeightCallback) scale.CallbackID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextCallbackID++
	m.callbacks.Set(m.nextCallbackID, fn)

	return m.nextCallbackID
}

// RemoveWeightCallback removes a previously registered weight callback
func (m *Mock) RemoveWeightCallback(id scale.CallbackID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callbacks.Delete(id)
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (m *Mock) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that receives state changes (non-blocking)
func (m *Mock) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stateChangeChan = ch
}

// SetDataChannel defines a channel that receives weight samples (non-blocking)
func (m *Mock) SetDataChannel(ch chan scale.DataPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dataChan = ch
}

// AutoConnect connects to the simulated scale
func (m *Mock) AutoConnect(maxRetries int) bool {
	if maxRetries <= 0 {
		return false
	}
	return m.Connect(defaultAddress)
}

// Connect connects to the simulated scale
func (m *Mock) Connect(address string) bool {
	m.mu.Lock()
	if m.connectionStatus.State != scale.StateDisconnected {
		m.mu.Unlock()
		return true
	}
	m.address, m.isLEDOn = address, true
	m.mu.Unlock()

	m.setStatus(scale.StateConnected)
	return true
}

// Disconnect disconnects from the simulated scale
func (m *Mock) Disconnect() bool {
	m.mu.Lock()
	if m.connectionStatus.State == scale.StateDisconnected {
		m.mu.Unlock()
		return true
	}
	m.hasWeight, m.isLEDOn, m.timer = false, false, nil
	m.mu.Unlock()

	m.setStatus(scale.StateDisconnected)
	return true
}

// EnableNotifications starts the delivery of weight samples passed to Feed()
func (m *Mock) EnableNotifications() error {
	if state := m.ConnectionStatus().State; state != scale.StateConnected {
		return nil
	}

	m.setStatus(scale.StateNotificationsActive)
	return nil
}

// DisableNotifications stops the delivery of weight samples
func (m *Mock) DisableNotifications() error {
	if state := m.ConnectionStatus().State; state != scale.StateNotificationsActive {
		return nil
	}

	m.mu.Lock()
	m.hasWeight = false
	m.mu.Unlock()

	m.setStatus(scale.StateConnected)
	return nil
}

// Tare tares the scale
func (m *Mock) Tare() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectionStatus.IsConnected() {
		return nil
	}
	m.tareCount++
	if m.hasWeight {
		m.weight.Weight = 0
	}

	return nil
}

// LEDOn turns on the display, showing the given unit
func (m *Mock) LEDOn(unit scale.Unit) error {
	if unit != scale.UnitGrams && unit != scale.UnitOz {
		return fmt.Errorf("invalid unit `%s`", unit)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectionStatus.IsConnected() {
		return nil
	}
	m.isLEDOn, m.unit = true, unit

	return nil
}

// LEDOff turns off the display
func (m *Mock) LEDOff() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectionStatus.IsConnected() {
		return nil
	}
	m.isLEDOn = false

	return nil
}

// PowerOff turns off the simulated scale, terminating the connection
func (m *Mock) PowerOff() error {
	if !m.ConnectionStatus().IsConnected() {
		return nil
	}

	m.Disconnect()
	return nil
}

// StartTimer starts the timer / stopwatch
func (m *Mock) StartTimer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer == nil {
		m.timer = stopwatch.Start(0)
	} else {
		m.timer.Start(0)
	}

	return nil
}

// StopTimer stops the timer / stopwatch
func (m *Mock) StopTimer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Stop()
	}

	return nil
}

// ResetTimer resets the timer / stopwatch
func (m *Mock) ResetTimer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		m.timer.Reset()
	}

	return nil
}

// ElapsedTime returns the current timer value
func (m *Mock) ElapsedTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.timer != nil {
		return m.timer.ElapsedTime()
	}

	return 0
}

// Feed simulates a weight sample sent by the scale. It is ignored unless
// notifications are enabled
func (m *Mock) Feed(weight float64) {
	m.mu.Lock()
	if m.connectionStatus.State != scale.StateNotificationsActive {
		m.mu.Unlock()
		return
	}

	dataPoint := scale.DataPoint{
		TimeStamp: time.Now(),
		Unit:      m.unit,
		Weight:    weight,
	}
	m.weight, m.hasWeight = dataPoint, true

	var callbacks []scale.WeightCallback
	for pair := m.callbacks.Oldest(); pair != nil; pair = pair.Next() {
		callbacks = append(callbacks, pair.Value)
	}
	dataChan := m.dataChan
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(dataPoint)
	}

	// Put data point on channel, if any
	if dataChan != nil {
		select {
		case dataChan <- dataPoint:
		default:
		}
	}
}

// Close terminates the connection to the simulated scale
func (m *Mock) Close() error {
	m.Disconnect()

	m.mu.Lock()
	m.callbacks = orderedmap.New[scale.CallbackID, scale.WeightCallback]()
	m.mu.Unlock()

	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (m *Mock) setStatus(state scale.State) {
	m.mu.Lock()
	m.connectionStatus = scale.ConnectionStatus{State: state}
	status, handler, ch := m.connectionStatus, m.stateChangeHandler, m.stateChangeChan
	m.mu.Unlock()

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
}

var _ scale.Scale = (*Mock)(nil)
