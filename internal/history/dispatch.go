package history

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultQueueSize   = 256
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to sinks from a single goroutine, so events
// reach each sink in publish order and a slow sink never blocks the caller.
// Failures are logged at warn level and otherwise ignored.
type Dispatcher struct {
	sinks   []Sink
	log     *slog.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}
	once   sync.Once
}

// NewDispatcher starts a dispatcher. With no sinks Publish is a no-op.
func NewDispatcher(log *slog.Logger, timeout time.Duration, sinks ...Sink) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		ctx:     ctx,
		cancel:  cancel,
		sinks:   append([]Sink(nil), sinks...),
		log:     log,
		timeout: timeout,
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Publish enqueues e. When the queue is full the event is dropped.
func (d *Dispatcher) Publish(e Event) {
	if len(d.sinks) == 0 {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.log.Warn("history queue full, dropping event", "type", e.Type, "id", e.Record.ID)
	}
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for e := range d.queue {
		if d.ctx.Err() != nil {
			continue
		}
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
			if err := s.Send(ctx, e); err != nil {
				d.log.Warn("history sink send failed", "type", e.Type, "id", e.Record.ID, "error", err)
			}
			cancel()
		}
	}
}

// Close drains queued events, waiting at most wait, then closes the sinks.
// On timeout the remaining events are dropped and the in-flight send is
// cancelled; sinks are never closed while a send is still running.
func (d *Dispatcher) Close(wait time.Duration) error {
	var err error
	d.once.Do(func() {
		defer d.cancel()
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		select {
		case <-d.done:
		case <-time.After(wait):
			d.log.Warn("history flush timed out", "pending", len(d.queue))
			d.cancel()
			// the in-flight send gives up by its own deadline at the latest
			select {
			case <-d.done:
			case <-time.After(d.timeout):
				d.log.Warn("history sink still busy, leaving sinks open")
				return
			}
		}
		err = Close(d.sinks...)
	})
	return err
}
