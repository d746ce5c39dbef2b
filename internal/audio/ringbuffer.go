package audio

import "sync"

// RingBuffer is a fixed-size circular buffer of mono samples.
// It is safe for concurrent use.
type RingBuffer struct {
	mu      sync.RWMutex
	samples []float32
	pos     int   // next write index
	written int64 // samples written since creation or Reset
}

// NewRingBuffer returns a RingBuffer holding size samples.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{samples: make([]float32, max(size, 1))}
}

// Size returns the buffer capacity in samples.
func (b *RingBuffer) Size() int {
	return len(b.samples)
}

// Write appends samples, overwriting the oldest data once the buffer is full.
func (b *RingBuffer) Write(samples []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()

	size := len(b.samples)
	if len(samples) >= size {
		copy(b.samples, samples[len(samples)-size:])
		b.pos = 0
		b.written += int64(len(samples))
		return
	}

	n := copy(b.samples[b.pos:], samples)
	if n < len(samples) {
		copy(b.samples, samples[n:])
	}
	b.pos = (b.pos + len(samples)) % size
	b.written += int64(len(samples))
}

// ReadRecent returns the count samples that end at the write position, oldest first.
// It returns ErrInsufficientBuffer if fewer than count samples have been written.
func (b *RingBuffer) ReadRecent(count int) ([]float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	size := len(b.samples)
	if count <= 0 || count > size || b.written < int64(count) {
		return nil, ErrInsufficientBuffer
	}

	out := make([]float32, count)
	start := (b.pos - count + size) % size
	n := copy(out, b.samples[start:])
	if n < count {
		copy(out[n:], b.samples[:count-n])
	}
	return out, nil
}

// WritePosition returns the index the next sample will be written to.
func (b *RingBuffer) WritePosition() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pos
}

// Written returns the number of samples written since creation or Reset.
func (b *RingBuffer) Written() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.written
}

// Reset clears the buffer contents and history.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.samples)
	b.pos = 0
	b.written = 0
}
