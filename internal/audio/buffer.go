package audio

import (
	"sync"
)

// RingBuffer is a fixed-size byte FIFO shared between a producer and the
// audio device callback
type RingBuffer struct {
	mu       sync.Mutex
	buffer   []byte
	writePos int
	readPos  int
	count    int
}

// NewRingBuffer creates a ring buffer holding size bytes
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{buffer: make([]byte, size)}
}

// Write copies as much of data as fits and returns the number of bytes taken
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), len(rb.buffer)-rb.count)
	for i := 0; i < n; i++ {
		rb.buffer[rb.writePos] = data[i]
		rb.writePos = (rb.writePos + 1) % len(rb.buffer)
	}
	rb.count += n
	return n
}

// Read fills data with up to len(data) bytes and returns the number read
func (rb *RingBuffer) Read(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(data), rb.count)
	for i := 0; i < n; i++ {
		data[i] = rb.buffer[rb.readPos]
		rb.readPos = (rb.readPos + 1) % len(rb.buffer)
	}
	rb.count -= n
	return n
}

// Available returns the number of bytes waiting to be read
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Free returns the number of bytes that can be written
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buffer) - rb.count
}

// Reset discards everything buffered
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.readPos = 0
	rb.writePos = 0
	rb.count = 0
}

// Size returns the capacity in bytes
func (rb *RingBuffer) Size() int {
	return len(rb.buffer)
}
