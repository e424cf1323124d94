package decent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress  = "FF:22:33:44:55:66"
	eventTimeout = time.Second
	eventTick    = time.Millisecond
)

var errLinkLost = errors.New("link lost")

func newTestScale(t *testing.T, options ...func(*Scale)) (*Scale, *fakeTransport) {
	tr := &fakeTransport{}
	s, err := New(append([]func(*Scale){
		WithTransport(tr),
		WithDroppedCommandRetryDelay(0),
		WithPostCommandSettleDelay(0),
		WithNotificationSettleDelay(0),
		WithConnectSettleDelay(0),
	}, options...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})

	return s, tr
}

func newActiveScale(t *testing.T, options ...func(*Scale)) (*Scale, *fakeTransport) {
	s, tr := newTestScale(t, options...)
	require.True(t, s.Connect(testAddress))
	require.NoError(t, s.EnableNotifications())
	require.Equal(t, scale.StateNotificationsActive, s.ConnectionStatus().State)

	return s, tr
}

func statusFrame(ounces bool, battery, firmware byte) []byte {
	frame := []byte{protocol.Header, protocol.TypeStatus, 0x01, 0x00, battery, firmware, 0x00}
	if ounces {
		frame[3] = 0x01
	}
	frame[6] = protocol.Checksum(frame[:6])

	return frame
}

func TestInit(t *testing.T) {
	s, err := New()
	require.ErrorIs(t, err, ErrNoTransport)
	require.Nil(t, s)
}

func TestInitialState(t *testing.T) {
	s, tr := newTestScale(t)

	status := s.ConnectionStatus()
	assert.Equal(t, scale.StateDisconnected, status.State)
	assert.False(t, status.HeartbeatActive)
	assert.Nil(t, status.Error)
	assert.Equal(t, scale.UnitGrams, s.Unit())
	assert.Equal(t, scale.BatteryUnknown, s.BatteryLevel())
	assert.Empty(t, s.FirmwareVersion())

	_, ok := s.Weight()
	assert.False(t, ok)
	assert.Zero(t, tr.numWrites())
}

func TestCommandsWhileDisconnected(t *testing.T) {
	s, tr := newTestScale(t)

	assert.NoError(t, s.Tare())
	assert.NoError(t, s.LEDOn(scale.UnitGrams))
	assert.NoError(t, s.LEDOff())
	assert.NoError(t, s.PowerOff())
	assert.NoError(t, s.StartTimer())
	assert.NoError(t, s.StopTimer())
	assert.NoError(t, s.ResetTimer())
	assert.NoError(t, s.EnableNotifications())
	assert.NoError(t, s.DisableNotifications())

	assert.Zero(t, tr.numWrites())
	assert.Empty(t, tr.operations())
	assert.Equal(t, scale.StateDisconnected, s.ConnectionStatus().State)
}

func TestConnect(t *testing.T) {
	ch := make(chan scale.ConnectionStatus, 8)
	s, tr := newTestScale(t)
	s.SetStateChangeChannel(ch)

	require.True(t, s.Connect(testAddress))
	assert.Equal(t, scale.StateConnected, s.ConnectionStatus().State)
	assert.Equal(t, "connect "+testAddress, tr.operations()[0])

	// The display is turned on right after connecting (written twice)
	assert.Equal(t, 2, tr.countWrites(protocol.LEDOnGrams()))

	assert.Equal(t, scale.StateConnecting, (<-ch).State)
	assert.Equal(t, scale.StateConnected, (<-ch).State)
}

func TestConnectIdempotent(t *testing.T) {
	s, tr := newTestScale(t)

	require.True(t, s.Connect(testAddress))
	require.True(t, s.Connect(testAddress))
	require.True(t, s.AutoConnect(DefaultMaxRetries))

	var connects int
	for _, op := range tr.operations() {
		if op == "connect "+testAddress {
			connects++
		}
	}
	assert.Equal(t, 1, connects)

	require.True(t, s.Disconnect())
	require.True(t, s.Disconnect())
	assert.Equal(t, scale.StateDisconnected, s.ConnectionStatus().State)
	assert.Equal(t, "disconnect", tr.operations()[len(tr.operations())-1])
}

func TestConnectFailure(t *testing.T) {
	errRefused := errors.New("connection refused")

	s, tr := newTestScale(t)
	tr.connectErr = errRefused

	require.False(t, s.Connect(testAddress))

	status := s.ConnectionStatus()
	assert.Equal(t, scale.StateDisconnected, status.State)
	assert.ErrorIs(t, status.Error, ErrConnectFailure)
	assert.ErrorIs(t, status.Error, errRefused)
	assert.Zero(t, tr.numWrites())
}

func TestAutoConnectNotFound(t *testing.T) {
	var calls int
	s, tr := newTestScale(t, WithDiscoverer(transport.DiscovererFunc(func(ctx context.Context) (string, error) {
		calls++
		return "", transport.ErrNotFound
	})))

	require.False(t, s.AutoConnect(3))
	assert.Equal(t, 3, calls)

	status := s.ConnectionStatus()
	assert.Equal(t, scale.StateDisconnected, status.State)
	assert.ErrorIs(t, status.Error, transport.ErrNotFound)
	assert.Empty(t, tr.operations())
}

func TestAutoConnectRetry(t *testing.T) {
	var calls int
	s, tr := newTestScale(t, WithDiscoverer(transport.DiscovererFunc(func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", transport.ErrNotFound
		}
		return testAddress, nil
	})))

	require.True(t, s.AutoConnect(DefaultMaxRetries))
	assert.Equal(t, 2, calls)
	assert.Equal(t, scale.StateConnected, s.ConnectionStatus().State)
	assert.Equal(t, []string{"connect " + testAddress, "write", "write"}, tr.operations())
}

func TestAutoConnectWithoutDiscoverer(t *testing.T) {
	s, _ := newTestScale(t)
	require.False(t, s.AutoConnect(DefaultMaxRetries))
}

func TestSendRetransmission(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		s, tr := newTestScale(t,
			WithDroppedCommandRetryDelay(20*time.Millisecond),
			WithPostCommandSettleDelay(30*time.Millisecond),
		)
		require.True(t, s.Connect(testAddress))

		start := time.Now()
		require.NoError(t, s.LEDOff())
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		assert.Equal(t, 2, tr.countWrites(protocol.LEDOff()))
	})

	t.Run("disabled", func(t *testing.T) {
		s, tr := newTestScale(t, WithFixDroppedCommand(false))
		require.True(t, s.Connect(testAddress))

		require.NoError(t, s.LEDOff())
		assert.Equal(t, 1, tr.countWrites(protocol.LEDOff()))
		assert.Equal(t, 1, tr.countWrites(protocol.LEDOnGrams()))
	})
}

func TestWriteFailure(t *testing.T) {
	errWrite := errors.New("write failed")

	s, tr := newTestScale(t)
	require.True(t, s.Connect(testAddress))
	tr.mu.Lock()
	tr.writeErr = errWrite
	tr.mu.Unlock()

	err := s.Tare()
	require.ErrorIs(t, err, errWrite)
	assert.Equal(t, scale.StateConnected, s.ConnectionStatus().State)
}

func TestTare(t *testing.T) {
	t.Run("plain", func(t *testing.T) {
		s, tr := newTestScale(t, WithFixDroppedCommand(false))
		require.True(t, s.Connect(testAddress))

		require.NoError(t, s.Tare())
		assert.Equal(t, []byte{0x03, 0x0F, 0x01, 0x00, 0x00, 0x00, 0x0D}, tr.lastWrite())
		require.NoError(t, s.Tare())
		assert.Equal(t, byte(0x02), tr.lastWrite()[2])
	})

	t.Run("heartbeat", func(t *testing.T) {
		s, tr := newTestScale(t, WithFixDroppedCommand(false), WithHeartbeat(true))
		require.True(t, s.Connect(testAddress))

		require.NoError(t, s.Tare())
		assert.Equal(t, []byte{0x03, 0x0F, 0x01, 0x00, 0x00, 0x01, 0x0C}, tr.lastWrite())
	})
}

func TestLEDOn(t *testing.T) {
	s, tr := newTestScale(t)
	require.True(t, s.Connect(testAddress))

	require.NoError(t, s.LEDOn(scale.UnitOz))
	assert.Equal(t, 2, tr.countWrites(protocol.LEDOnOunces()))

	n := tr.numWrites()
	require.Error(t, s.LEDOn(scale.UnitUnknown))
	require.Error(t, s.LEDOn(scale.Unit("kg")))
	assert.Equal(t, n, tr.numWrites())
}

func TestPowerOffFirmwareGuard(t *testing.T) {
	s, tr := newActiveScale(t)

	// Firmware unknown
	require.NoError(t, s.PowerOff())
	assert.Zero(t, tr.countWrites(protocol.PowerOff()))

	// Firmware too old
	tr.deliver(statusFrame(false, 80, 0xFE))
	require.Eventually(t, func() bool {
		return s.FirmwareVersion() == "1.0"
	}, eventTimeout, eventTick)
	require.NoError(t, s.PowerOff())
	assert.Zero(t, tr.countWrites(protocol.PowerOff()))

	// Supported firmware
	tr.deliver(statusFrame(false, 80, 0x03))
	require.Eventually(t, func() bool {
		return s.FirmwareVersion() == "1.2"
	}, eventTimeout, eventTick)
	require.NoError(t, s.PowerOff())
	assert.Equal(t, 2, tr.countWrites(protocol.PowerOff()))
}

func TestStatusUpdate(t *testing.T) {
	s, tr := newActiveScale(t)

	// Enabling notifications requests the status
	assert.Equal(t, 4, tr.countWrites(protocol.LEDOnGrams()))

	tr.deliver(statusFrame(true, 0xFF, 0x03))
	require.Eventually(t, func() bool {
		return s.Unit() == scale.UnitOz
	}, eventTimeout, eventTick)
	assert.True(t, s.BatteryLevel().IsUSB())
	assert.Equal(t, "1.2", s.FirmwareVersion())

	tr.deliver(statusFrame(false, 42, 0x02))
	require.Eventually(t, func() bool {
		return s.Unit() == scale.UnitGrams
	}, eventTimeout, eventTick)
	assert.Equal(t, scale.BatteryLevel(42), s.BatteryLevel())
	assert.Equal(t, "1.1", s.FirmwareVersion())
}

func TestWeightUpdate(t *testing.T) {
	ch := make(chan scale.DataPoint, 1)
	s, tr := newActiveScale(t)
	s.SetDataChannel(ch)

	tr.deliver(protocol.EncodeWeight(-12.3, false, nil))

	select {
	case dp := <-ch:
		assert.InDelta(t, -12.3, dp.Weight, 1e-9)
		assert.Equal(t, scale.UnitGrams, dp.Unit)
		assert.Nil(t, dp.Elapsed)
	case <-time.After(eventTimeout):
		t.Fatal("no data point received")
	}

	dp, ok := s.Weight()
	require.True(t, ok)
	assert.InDelta(t, -12.3, dp.Weight, 1e-9)
	assert.False(t, dp.TimeStamp.IsZero())

	// Weight frame with timer snapshot
	tr.deliver(protocol.EncodeWeight(15, true, &scale.ElapsedTime{Minutes: 1, Seconds: 30, Deciseconds: 5}))
	require.Eventually(t, func() bool {
		return s.ElapsedTime() == 90*time.Second+500*time.Millisecond
	}, eventTimeout, eventTick)

	dp, ok = s.Weight()
	require.True(t, ok)
	assert.InDelta(t, 15., dp.Weight, 1e-9)
}

func TestInvalidFramesLeaveStateUnchanged(t *testing.T) {
	s, tr := newActiveScale(t)

	tr.deliver(protocol.EncodeWeight(12.3, true, nil))
	require.Eventually(t, func() bool {
		dp, ok := s.Weight()
		return ok && dp.Weight == 12.3
	}, eventTimeout, eventTick)

	corrupt := protocol.EncodeWeight(99.9, true, nil)
	corrupt[len(corrupt)-1] ^= 0xFF
	tr.deliver(corrupt)
	tr.deliver([]byte{0x03, 0xCA, 0x00})
	unknown := []byte{0x03, 0x42, 0x00, 0x00, 0x00, 0x00, 0x00}
	unknown[6] = protocol.Checksum(unknown[:6])
	tr.deliver(unknown)

	// Frames are dispatched in order, so once the status frame has been
	// processed all invalid frames must have been dropped
	tr.deliver(statusFrame(true, 50, 0x03))
	require.Eventually(t, func() bool {
		return s.Unit() == scale.UnitOz
	}, eventTimeout, eventTick)

	dp, ok := s.Weight()
	require.True(t, ok)
	assert.Equal(t, 12.3, dp.Weight)
	assert.Equal(t, scale.StateNotificationsActive, s.ConnectionStatus().State)
}

func TestWeightCallbacks(t *testing.T) {
	s, tr := newActiveScale(t)

	var (
		mu    sync.Mutex
		calls []string
		idB   scale.CallbackID
	)
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}
	numCalls := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(calls)
	}

	s.AddWeightCallback(func(scale.DataPoint) {
		record("a")
		s.RemoveWeightCallback(idB)
	})
	idB = s.AddWeightCallback(func(scale.DataPoint) {
		record("b")
	})
	idC := s.AddWeightCallback(func(scale.DataPoint) {
		record("c")
	})

	tr.deliver(protocol.EncodeWeight(1, false, nil))
	require.Eventually(t, func() bool { return numCalls() == 2 }, eventTimeout, eventTick)

	s.RemoveWeightCallback(idC)
	tr.deliver(protocol.EncodeWeight(2, false, nil))
	require.Eventually(t, func() bool { return numCalls() == 3 }, eventTimeout, eventTick)

	mu.Lock()
	assert.Equal(t, []string{"a", "c", "a"}, calls)
	mu.Unlock()
}

func TestDisableNotificationsClearsWeight(t *testing.T) {
	s, tr := newActiveScale(t)

	tr.deliver(protocol.EncodeWeight(5, false, nil))
	require.Eventually(t, func() bool {
		_, ok := s.Weight()
		return ok
	}, eventTimeout, eventTick)

	require.NoError(t, s.DisableNotifications())
	_, ok := s.Weight()
	assert.False(t, ok)
	assert.Equal(t, scale.StateConnected, s.ConnectionStatus().State)
	assert.Equal(t, "unsubscribe", tr.operations()[len(tr.operations())-1])

	// No longer subscribed, so no further weight updates
	tr.deliver(protocol.EncodeWeight(6, false, nil))
	_, ok = s.Weight()
	assert.False(t, ok)
}

func TestHeartbeat(t *testing.T) {
	s, tr := newActiveScale(t, WithHeartbeat(true), WithHeartbeatInterval(5*time.Millisecond))
	assert.True(t, s.ConnectionStatus().HeartbeatActive)

	require.Eventually(t, func() bool {
		return tr.countWrites(protocol.Heartbeat()) >= 4
	}, eventTimeout, eventTick)

	require.NoError(t, s.DisableNotifications())
	assert.False(t, s.ConnectionStatus().HeartbeatActive)

	n := tr.countWrites(protocol.Heartbeat())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, tr.countWrites(protocol.Heartbeat()))
}

func TestHeartbeatDisabled(t *testing.T) {
	s, tr := newActiveScale(t, WithHeartbeatInterval(5*time.Millisecond))
	assert.False(t, s.ConnectionStatus().HeartbeatActive)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, tr.countWrites(protocol.Heartbeat()))
}

func TestDisconnectTeardownOrder(t *testing.T) {
	s, tr := newActiveScale(t, WithHeartbeat(true), WithHeartbeatInterval(5*time.Millisecond))
	require.Eventually(t, func() bool {
		return tr.countWrites(protocol.Heartbeat()) > 0
	}, eventTimeout, eventTick)

	require.True(t, s.Disconnect())
	status := s.ConnectionStatus()
	assert.Equal(t, scale.StateDisconnected, status.State)
	assert.False(t, status.HeartbeatActive)
	assert.Nil(t, status.Error)

	ops := tr.operations()
	require.GreaterOrEqual(t, len(ops), 2)
	assert.Equal(t, []string{"unsubscribe", "disconnect"}, ops[len(ops)-2:])

	n := tr.countWrites(protocol.Heartbeat())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, tr.countWrites(protocol.Heartbeat()))
}

func TestDisconnectFailure(t *testing.T) {
	errBusy := errors.New("device busy")

	s, tr := newTestScale(t)
	require.True(t, s.Connect(testAddress))
	tr.mu.Lock()
	tr.disconnectErr = errBusy
	tr.mu.Unlock()

	require.False(t, s.Disconnect())
	status := s.ConnectionStatus()
	assert.Equal(t, scale.StateDisconnected, status.State)
	assert.ErrorIs(t, status.Error, errBusy)
}

func TestConnectionLost(t *testing.T) {
	var (
		mu     sync.Mutex
		states []scale.State
	)
	s, tr := newActiveScale(t, WithHeartbeat(true), WithHeartbeatInterval(5*time.Millisecond))
	s.SetStateChangeHandler(func(status scale.ConnectionStatus) {
		mu.Lock()
		states = append(states, status.State)
		mu.Unlock()
	})

	tr.drop(errLinkLost)
	require.Eventually(t, func() bool {
		return s.ConnectionStatus().State == scale.StateDisconnected
	}, eventTimeout, eventTick)

	status := s.ConnectionStatus()
	assert.ErrorIs(t, status.Error, errLinkLost)
	assert.ErrorIs(t, status.Error, ErrConnectionLost)
	assert.False(t, status.HeartbeatActive)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) == 1
	}, eventTimeout, eventTick)
	mu.Lock()
	assert.Equal(t, []scale.State{scale.StateDisconnected}, states)
	mu.Unlock()

	// Reconnecting is possible afterwards
	require.True(t, s.Connect(testAddress))
	assert.Equal(t, scale.StateConnected, s.ConnectionStatus().State)
}

func TestTimer(t *testing.T) {
	s, tr := newTestScale(t)
	assert.Zero(t, s.ElapsedTime())

	require.True(t, s.Connect(testAddress))
	require.NoError(t, s.StartTimer())
	assert.Equal(t, 2, tr.countWrites(protocol.StartTimer()))

	require.Eventually(t, func() bool {
		return s.ElapsedTime() > 0
	}, eventTimeout, eventTick)

	require.NoError(t, s.StopTimer())
	require.NoError(t, s.ResetTimer())
	assert.Equal(t, 2, tr.countWrites(protocol.StopTimer()))
	assert.Equal(t, 2, tr.countWrites(protocol.ResetTimer()))

	require.True(t, s.Disconnect())
	assert.Zero(t, s.ElapsedTime())
}

func TestClose(t *testing.T) {
	s, tr := newActiveScale(t)
	s.AddWeightCallback(func(scale.DataPoint) {})

	require.NoError(t, s.Close())
	assert.Equal(t, scale.StateDisconnected, s.ConnectionStatus().State)
	assert.Equal(t, "disconnect", tr.operations()[len(tr.operations())-1])
	assert.Zero(t, s.subscribers.len())

	// A closed scale cannot be connected anymore
	require.False(t, s.Connect(testAddress))
}

func TestStateChangeHandlerCallsScale(t *testing.T) {
	s, tr := newTestScale(t)

	reconnected := make(chan bool, 1)
	s.SetStateChangeHandler(func(status scale.ConnectionStatus) {
		switch {
		case status.State == scale.StateConnected:
			assert.NoError(t, s.LEDOff())
		case status.State == scale.StateDisconnected && errors.Is(status.Error, errLinkLost):
			reconnected <- s.Connect(testAddress)
		}
	})

	require.True(t, s.Connect(testAddress))
	require.Eventually(t, func() bool {
		return tr.countWrites(protocol.LEDOff()) == 2
	}, eventTimeout, eventTick)

	tr.drop(errLinkLost)
	select {
	case ok := <-reconnected:
		require.True(t, ok)
	case <-time.After(eventTimeout):
		t.Fatal("no reconnect from state change handler")
	}

	assert.Equal(t, scale.StateConnected, s.ConnectionStatus().State)
	require.Eventually(t, func() bool {
		return tr.countWrites(protocol.LEDOff()) == 4
	}, eventTimeout, eventTick)

	require.NoError(t, s.Close())
}
