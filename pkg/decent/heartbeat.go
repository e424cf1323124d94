package decent

import (
	"context"
	"errors"
	"time"

	"github.com/fako1024/decentscale/pkg/protocol"
)

// heartbeat periodically schedules a keepalive command onto the worker. The
// Half Decent Scale disconnects if it does not receive one within 5 seconds
type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startHeartbeat launches the heartbeat loop. Must be called from the worker
func (s *Scale) startHeartbeat() {
	if s.heartbeat != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	hb := &heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.heartbeat = hb

	go func() {
		defer close(hb.done)

		timer := time.NewTimer(0)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			err := s.worker.do(ctx, func(ctx context.Context) error {

				// The job may have been queued before cancellation
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := s.sender.send(ctx, protocol.Heartbeat()); err != nil {
					return err
				}
				heartbeatsCounter.Inc()
				return nil
			})
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errWorkerStopped) {
				s.logger.Warnf("failed to send heartbeat: %s", err)
			}

			timer.Reset(s.heartbeatInterval)
		}
	}()
}

// stopHeartbeat cancels the heartbeat loop and waits for it to terminate.
// Must be called from the worker
func (s *Scale) stopHeartbeat() {
	if s.heartbeat == nil {
		return
	}

	s.heartbeat.cancel()
	<-s.heartbeat.done
	s.heartbeat = nil
}
