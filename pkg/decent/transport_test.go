package decent

import (
	"bytes"
	"context"
	"sync"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/transport"
)

// fakeTransport records all operations and allows injecting frames
type fakeTransport struct {
	mu sync.Mutex

	connected  bool
	subscribed bool

	connectErr    error
	disconnectErr error
	writeErr      error

	ops    []string
	writes [][]byte

	onData       transport.ReceiveFunc
	onDisconnect func(err error)
}

func (f *fakeTransport) Connect(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "connect "+address)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	return nil
}

func (f *fakeTransport) Disconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "disconnect")
	f.connected = false
	return f.disconnectErr
}

func (f *fakeTransport) Write(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return transport.ErrNotConnected
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.ops = append(f.ops, "write")
	f.writes = append(f.writes, append([]byte{}, data...))
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, fn transport.ReceiveFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "subscribe")
	f.subscribed = true
	f.onData = fn
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ops = append(f.ops, "unsubscribe")
	f.subscribed = false
	f.onData = nil
	return nil
}

func (f *fakeTransport) SetDisconnectHandler(fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.onDisconnect = fn
}

// deliver simulates a notification sent by the scale
func (f *fakeTransport) deliver(frame []byte) {
	f.mu.Lock()
	fn := f.onData
	f.mu.Unlock()

	if fn != nil {
		fn(frame)
	}
}

// drop simulates an unexpected loss of the connection
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.connected = false
	fn := f.onDisconnect
	f.mu.Unlock()

	fn(err)
}

func (f *fakeTransport) countWrites(cmd protocol.Command) (n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, w := range f.writes {
		if bytes.Equal(w, cmd.Bytes()) {
			n++
		}
	}
	return
}

func (f *fakeTransport) numWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.writes)
}

func (f *fakeTransport) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeTransport) operations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.ops...)
}

var _ transport.Transport = (*fakeTransport)(nil)
