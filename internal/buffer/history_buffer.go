// Package buffer provides the bounded history buffer for session output.
package buffer

import (
	"sync"
)

// HistoryBuffer is a thread-safe, capacity-bounded byte buffer keeping the
// most recent rendered output of a kernel session. When full, the oldest
// bytes are discarded. Editors reattaching to a session receive its contents
// as hot-restore history.
type HistoryBuffer struct {
	mu       sync.RWMutex
	data     []byte
	capacity int
}

// NewHistoryBuffer creates a buffer holding up to capacity bytes. A
// non-positive capacity defaults to 1.
func NewHistoryBuffer(capacity int) *HistoryBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &HistoryBuffer{
		data:     make([]byte, 0, capacity),
		capacity: capacity,
	}
}

// Write appends p, evicting the oldest bytes once capacity is exceeded.
// Implements io.Writer; the returned length is always len(p).
func (b *HistoryBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(p) >= b.capacity {
		b.data = append(b.data[:0], p[len(p)-b.capacity:]...)
		return len(p), nil
	}

	overflow := len(b.data) + len(p) - b.capacity
	if overflow > 0 {
		b.data = b.data[:copy(b.data, b.data[overflow:])]
	}
	b.data = append(b.data, p...)

	return len(p), nil
}

// Snapshot returns a copy of the buffered bytes, or nil when empty.
func (b *HistoryBuffer) Snapshot() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.data) == 0 {
		return nil
	}
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Clear discards the buffered bytes.
func (b *HistoryBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// Len returns the number of buffered bytes.
func (b *HistoryBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Cap returns the buffer capacity.
func (b *HistoryBuffer) Cap() int {
	return b.capacity
}
