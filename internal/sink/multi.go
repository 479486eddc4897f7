package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/r-smith/sshlure/internal/eventdata"
	"github.com/r-smith/sshlure/internal/metrics"
)

// Multi delivers each record to every added sink in order. A failing sink
// does not stop delivery to the others.
//
// Sinks are added during setup. Add and AddQueued must not be called
// concurrently with Record.
type Multi struct {
	sinks []namedSink
}

type namedSink struct {
	name string
	Sink
}

// NewMulti returns an empty Multi.
func NewMulti() *Multi {
	return &Multi{}
}

// Add appends s under name. The name labels errors and metrics. s is called
// directly from Record.
func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, namedSink{name: name, Sink: counted{name: name, Sink: s}})
}

// AddQueued appends s under name behind its own Async queue of the given
// size. A slow or unresponsive s then only delays its own records, and
// Record never waits on it.
func (m *Multi) AddQueued(name string, s Sink, size int) {
	m.sinks = append(m.sinks, namedSink{name: name, Sink: newAsync(name, counted{name: name, Sink: s}, size)})
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

// Record delivers rec to every sink and returns the joined errors of those
// that failed.
func (m *Multi) Record(rec eventdata.AttackRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Record(rec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink, draining queued sinks until ctx is done.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := closeSink(ctx, s.Sink); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// counted records delivery metrics for one named sink.
type counted struct {
	name string
	Sink
}

func (c counted) Record(rec eventdata.AttackRecord) error {
	if err := c.Sink.Record(rec); err != nil {
		metrics.SinkErrors.WithLabelValues(c.name).Inc()
		return err
	}
	metrics.RecordsEmitted.WithLabelValues(c.name).Inc()
	return nil
}

func (c counted) Close(ctx context.Context) error {
	return closeSink(ctx, c.Sink)
}
