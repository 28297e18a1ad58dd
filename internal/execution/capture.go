package execution

import (
	"sync"
)

// captureBuffer is a thread-safe stream capture bounded to max bytes.
// When full it keeps the most recent output; max <= 0 means unbounded.
type captureBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped int64
}

func newCaptureBuffer(max int) *captureBuffer {
	return &captureBuffer{max: max}
}

func (c *captureBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, p...)
	if c.max > 0 && len(c.buf) > c.max {
		excess := len(c.buf) - c.max
		c.dropped += int64(excess)
		c.buf = append(c.buf[:0], c.buf[excess:]...)
	}
	return len(p), nil
}

func (c *captureBuffer) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf...)
}

func (c *captureBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.buf)
}

// Dropped returns how many leading bytes were discarded to stay within max.
func (c *captureBuffer) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
