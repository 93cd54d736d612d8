package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fernshop/admingate/internal/logger"
	"github.com/fernshop/admingate/internal/metrics"
)

// Dispatcher forwards events to a sink from a background worker. The
// buffer is bounded; overflow drops the event and increments a counter,
// because losing a log line must never undo a privileged action that
// already succeeded.
type Dispatcher struct {
	sink    Sink
	log     *logger.Logger
	metrics *metrics.Metrics

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher starts the worker. bufferSize below 1 is clamped to 1.
func NewDispatcher(sink Sink, bufferSize int, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	d := &Dispatcher{
		sink:    sink,
		log:     log,
		metrics: m,
		ch:      make(chan Event, bufferSize),
		done:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.write(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.write(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) write(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.sink.Write(ctx, event); err != nil {
		d.metrics.Inc(metrics.AuditWriteFailure)
		if d.log != nil {
			d.log.Error("audit write failed", "action", event.Action, "error", err)
		}
	}
}

// Emit queues an event without blocking. Missing ID or timestamp are
// filled in here so emitters stay one-liners.
func (d *Dispatcher) Emit(event Event) {
	if d == nil {
		return
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.metrics.Inc(metrics.AuditDropped)
	}
}

// Close drains queued events and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.done)
		d.wg.Wait()
	})
}
