package decent

import (
	"sync"
)

// notifier runs state change notifications in order from a dedicated
// goroutine, so handlers may call any method of the Scale (e.g. reconnect
// after a connection loss)
type notifier struct {
	mu    sync.Mutex
	queue []func()

	wake     chan struct{}
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newNotifier() *notifier {
	n := &notifier{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go n.run()

	return n
}

// push queues a notification, never blocking the caller
func (n *notifier) push(fn func()) {
	n.mu.Lock()
	n.queue = append(n.queue, fn)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// stop terminates the notifier once all queued notifications have been run.
// It does not wait for termination, as it may be called from a handler
func (n *notifier) stop() {
	n.stopOnce.Do(func() {
		close(n.quit)
	})
}

func (n *notifier) run() {
	defer close(n.done)

	for {
		select {
		case <-n.wake:
			n.flush()
		case <-n.quit:
			n.flush()
			return
		}
	}
}

func (n *notifier) flush() {
	for {
		n.mu.Lock()
		if len(n.queue) == 0 {
			n.mu.Unlock()
			return
		}
		fn := n.queue[0]
		n.queue = n.queue[1:]
		n.mu.Unlock()

		fn()
	}
}
