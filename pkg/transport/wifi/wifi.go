// Package wifi implements the WebSocket transport of the Half Decent Scale
// (firmware v3+), which publishes JSON weight snapshots and accepts a textual
// tare command
package wifi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/scale"
	"github.com/fako1024/decentscale/pkg/transport"
	"nhooyr.io/websocket"
)

const (
	defaultHost  = "hds.local"
	snapshotPath = "/snapshot"

	tareMessage = "tare"
)

// snapshot denotes a weight update published by the scale
type snapshot struct {
	Grams *float64 `json:"grams"`
}

// Transport denotes a WebSocket connection to a Half Decent Scale
type Transport struct {
	mu sync.Mutex

	conn      *websocket.Conn
	cancel    context.CancelFunc
	done      chan struct{}
	receiveFn transport.ReceiveFunc
	closing   bool

	onDisconnect func(err error)

	host     string
	resolver *net.Resolver
	logger   scale.Logger
}

// New instantiates a new WebSocket transport, executing functional options, if any
func New(options ...func(*Transport)) *Transport {

	// Initialize a new instance of a WebSocket transport
	t := &Transport{
		host:     defaultHost,
		resolver: net.DefaultResolver,
		logger:   &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	return t
}

// Discover resolves the configured host name (mDNS name of the scale by default)
func (t *Transport) Discover(ctx context.Context) (string, error) {
	addrs, err := t.resolver.LookupHost(ctx, t.host)
	if err != nil {
		return "", fmt.Errorf("%w: failed to resolve `%s`: %w", transport.ErrNotFound, t.host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("%w: no address for `%s`", transport.ErrNotFound, t.host)
	}

	return addrs[0], nil
}

// Connect opens the snapshot WebSocket. The address is either a host (name
// or IP) or a complete WebSocket URL
func (t *Transport) Connect(ctx context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}

	conn, _, err := websocket.Dial(ctx, snapshotURL(address), nil)
	if err != nil {
		return fmt.Errorf("failed to connect to `%s`: %w", address, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	t.conn, t.cancel, t.done, t.closing = conn, cancel, make(chan struct{}), false
	go t.readLoop(readCtx, conn, t.done)

	return nil
}

// Disconnect closes the WebSocket
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	conn, cancel, done := t.conn, t.cancel, t.done
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.mu.Unlock()

	// The connection is gone either way, a failed close handshake is irrelevant
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.logger.Debugf("websocket close handshake failed: %s", err)
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	t.mu.Lock()
	t.conn, t.cancel, t.receiveFn = nil, nil, nil
	t.mu.Unlock()

	return nil
}

// Write translates a command into its WebSocket representation. Only tare is
// supported, all other commands fail with transport.ErrUnsupported
func (t *Transport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return transport.ErrNotConnected
	}

	cmd, err := protocol.ParseCommand(data)
	if err != nil {
		return err
	}
	if cmd.Type() != protocol.TypeTare {
		return fmt.Errorf("%w: %s", transport.ErrUnsupported, cmd)
	}

	return conn.Write(ctx, websocket.MessageText, []byte(tareMessage))
}

// Subscribe starts the delivery of weight frames to fn
func (t *Transport) Subscribe(_ context.Context, fn transport.ReceiveFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return transport.ErrNotConnected
	}
	t.receiveFn = fn

	return nil
}

// Unsubscribe stops the delivery of weight frames
func (t *Transport) Unsubscribe(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.receiveFn = nil

	return nil
}

// SetDisconnectHandler defines a function that is called if the WebSocket is
// closed by the scale or fails
func (t *Transport) SetDisconnectHandler(fn func(err error)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.onDisconnect = fn
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.readFailed(err)
			return
		}

		// Invalid snapshots are skipped
		var snap snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			t.logger.Warnf("invalid snapshot received: %s", err)
			continue
		}
		if snap.Grams == nil {
			continue
		}

		t.mu.Lock()
		fn := t.receiveFn
		t.mu.Unlock()

		// Re-encoded as weight frame to share the decoding path with the other
		// transports
		if fn != nil {
			fn(protocol.EncodeWeight(*snap.Grams, false, nil))
		}
	}
}

func (t *Transport) readFailed(err error) {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return
	}
	conn, cancel, handler := t.conn, t.cancel, t.onDisconnect
	t.conn, t.cancel, t.receiveFn = nil, nil, nil
	t.mu.Unlock()

	cancel()
	_ = conn.Close(websocket.StatusInternalError, "read failed")

	t.logger.Warnf("websocket connection lost: %s", err)
	if handler != nil {
		handler(err)
	}
}

func snapshotURL(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	return "ws://" + address + snapshotPath
}
