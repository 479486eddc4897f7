// Package sink delivers finished attack records to persistence and alerting
// backends.
package sink

import (
	"context"
	"io"

	"github.com/r-smith/sshlure/internal/eventdata"
)

// Sink receives finished attack records. Implementations must be safe for
// concurrent use, must return promptly, and must not panic. Record is called
// exactly once per session.
type Sink interface {
	Record(rec eventdata.AttackRecord) error
}

// Func adapts an ordinary function to the Sink interface.
type Func func(rec eventdata.AttackRecord) error

// Record calls f(rec).
func (f Func) Record(rec eventdata.AttackRecord) error {
	return f(rec)
}

// Discard accepts and drops every record.
var Discard Sink = Func(func(eventdata.AttackRecord) error { return nil })

// closeSink closes s if it supports closing. Sinks that drain a queue take
// ctx as their deadline.
func closeSink(ctx context.Context, s Sink) error {
	switch c := s.(type) {
	case interface{ Close(context.Context) error }:
		return c.Close(ctx)
	case io.Closer:
		return c.Close()
	}
	return nil
}
