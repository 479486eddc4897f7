package logmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteCopiesData(t *testing.T) {
	m := New(2)
	buf := []byte(`{"id":"r1"}`)

	n, err := m.Write(buf)
	assert.NoError(t, err)
	assert.Equal(t, len(buf), n)

	buf[2] = 'X'
	assert.Equal(t, `{"id":"r1"}`, string(<-m.Channel))
}

func TestWriteNeverBlocks(t *testing.T) {
	m := New(1)
	for range 5 {
		n, err := m.Write([]byte("line\n"))
		assert.NoError(t, err)
		assert.Equal(t, 5, n)
	}
	assert.Len(t, m.Channel, 1)
}
