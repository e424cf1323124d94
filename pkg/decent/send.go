package decent

import (
	"context"
	"fmt"
	"time"

	"github.com/fako1024/decentscale/pkg/protocol"
	"github.com/fako1024/decentscale/pkg/transport"
)

// sender writes commands to the transport, compensating for firmware that
// silently drops the first write of a command
type sender struct {
	transport transport.Transport
	sleep     func(ctx context.Context, d time.Duration) error

	fixDroppedCommand bool
	retryDelay        time.Duration
	settleDelay       time.Duration
}

// send writes cmd once (twice if fixDroppedCommand is set, separated by the
// retry delay) and waits for the settle delay before returning
func (s *sender) send(ctx context.Context, cmd protocol.Command) error {
	if err := s.write(ctx, cmd); err != nil {
		return err
	}

	if s.fixDroppedCommand {
		if err := s.sleep(ctx, s.retryDelay); err != nil {
			return err
		}
		if err := s.write(ctx, cmd); err != nil {
			return err
		}
	}

	// The acknowledgement cannot reliably be correlated to a specific write,
	// so the device is simply given time to process the command
	return s.sleep(ctx, s.settleDelay)
}

func (s *sender) write(ctx context.Context, cmd protocol.Command) error {
	if err := s.transport.Write(ctx, cmd.Bytes()); err != nil {
		commandWritesCounter.WithLabelValues(labelFailure).Inc()
		return fmt.Errorf("failed to write command %s: %w", cmd, err)
	}
	commandWritesCounter.WithLabelValues(labelSuccess).Inc()

	return nil
}
