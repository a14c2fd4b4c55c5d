package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Writer interface {
	Write(ctx context.Context, e Event) error
}

// Dispatcher hands events to a single background writer. When the buffer is
// full the event is dropped and logged; callers never block.
type Dispatcher struct {
	writer  Writer
	timeout time.Duration
	events  chan Event
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(w Writer, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1000
	}
	d := &Dispatcher{
		writer:  w,
		timeout: 5 * time.Second,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go d.processLoop()
	return d
}

func (d *Dispatcher) Record(_ context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slog.Warn("audit dispatcher closed, dropping event", "action", e.Action)
		return
	}
	select {
	case d.events <- e:
	default:
		slog.Warn("audit queue full, dropping event", "action", e.Action)
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) processLoop() {
	defer close(d.done)
	for e := range d.events {
		d.write(e)
	}
}

func (d *Dispatcher) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.writer.Write(ctx, e); err != nil {
		slog.Error("audit write failed", "error", err, "action", e.Action)
	}
}
