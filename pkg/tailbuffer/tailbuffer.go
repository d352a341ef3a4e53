// Package tailbuffer implements a fixed-size ring buffer that retains the
// most recently written bytes. The gateway tees its log output through one so
// the admin API can serve a bounded log tail.
package tailbuffer

import (
	"io"
	"sync"
)

type tailBuffer struct {
	mu    sync.Mutex
	data  []byte
	start int
	count int
}

// NewTailBuffer returns a ring buffer holding at most size bytes. Writes
// never block or fail; once the buffer is full the oldest bytes are dropped.
// Reads drain the buffer and return io.EOF when it is empty.
func NewTailBuffer(size uint) io.ReadWriter {
	return &tailBuffer{data: make([]byte, size)}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	capacity := len(t.data)
	if capacity == 0 {
		return len(p), nil
	}
	if len(p) >= capacity {
		// Only the tail of the write survives.
		copy(t.data, p[len(p)-capacity:])
		t.start = 0
		t.count = capacity
		return len(p), nil
	}
	for _, b := range p {
		t.data[(t.start+t.count)%capacity] = b
		if t.count == capacity {
			t.start = (t.start + 1) % capacity
		} else {
			t.count++
		}
	}
	return len(p), nil
}

func (t *tailBuffer) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && t.count > 0 {
		p[n] = t.data[t.start]
		t.start = (t.start + 1) % len(t.data)
		t.count--
		n++
	}
	return n, nil
}
