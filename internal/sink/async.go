package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/r-smith/sshlure/internal/console"
	"github.com/r-smith/sshlure/internal/eventdata"
	"github.com/r-smith/sshlure/internal/metrics"
)

var (
	// ErrBufferFull is returned by Async.Record when the queue has no room.
	// The record is dropped.
	ErrBufferFull = errors.New("sink buffer full; record dropped")

	// ErrClosed is returned after Async.Close has been called.
	ErrClosed = errors.New("sink closed")
)

// Async decouples sessions from slow backends. Record places the record on a
// bounded queue and returns immediately. A single worker delivers queued
// records to the wrapped sink in order and logs any failures.
type Async struct {
	name  string
	next  Sink
	queue chan eventdata.AttackRecord
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts a worker that delivers records to next. size is the queue
// capacity.
func NewAsync(next Sink, size int) *Async {
	return newAsync("", next, size)
}

// newAsync is NewAsync with a sink name for failure logs.
func newAsync(name string, next Sink, size int) *Async {
	if size < 1 {
		size = 1
	}
	a := &Async{
		name:  name,
		next:  next,
		queue: make(chan eventdata.AttackRecord, size),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Record queues rec for delivery. It never blocks.
func (a *Async) Record(rec eventdata.AttackRecord) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- rec:
		metrics.SinkQueueDepth.Inc()
		return nil
	default:
		metrics.SinkDropped.Inc()
		return ErrBufferFull
	}
}

func (a *Async) run() {
	defer close(a.done)

	for rec := range a.queue {
		metrics.SinkQueueDepth.Dec()
		if err := a.next.Record(rec); err != nil {
			if a.name != "" {
				console.Errors(console.Sink, "Failed to store record "+rec.ID+" in "+a.name+": ", err)
				continue
			}
			console.Errors(console.Sink, "Failed to store record "+rec.ID+": ", err)
		}
	}
}

// Close stops accepting records, waits for queued records to be delivered,
// and then closes the wrapped sink if it can be closed. If ctx ends first,
// Close returns without closing the wrapped sink.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-ctx.Done():
		return fmt.Errorf("sink drain: %d records undelivered: %w", len(a.queue), ctx.Err())
	}

	return closeSink(ctx, a.next)
}
