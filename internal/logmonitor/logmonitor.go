// Package logmonitor tees written log lines to a channel so other components
// can follow the record log live.
package logmonitor

// Monitor is an io.Writer that sends a copy of each write to Channel. Writes
// are non-blocking. If the channel is full, the data is silently discarded.
//
// Monitor does not implement io.Closer. Once initialized, it is meant to run
// for the duration of the program.
type Monitor struct {
	Channel chan []byte
}

// New creates a new Monitor whose Channel buffers up to size writes. The
// Channel should have a receiver to capture and process the data.
func New(size int) *Monitor {
	if size < 1 {
		size = 1
	}
	return &Monitor{
		Channel: make(chan []byte, size),
	}
}

// Write sends a copy of p to the Monitor's channel. Callers such as
// log/slog reuse their buffers, so p itself is never retained. Write always
// returns n = len(p) and err = nil.
func (m *Monitor) Write(p []byte) (n int, err error) {
	b := make([]byte, len(p))
	copy(b, p)

	select {
	case m.Channel <- b:
	default:
	}
	return len(p), nil
}
