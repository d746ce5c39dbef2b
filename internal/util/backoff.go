package util

import (
	"sync"
	"time"
)

// Backoff is an exponential backoff calculator that also counts attempts.
// It is safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	maxDelay time.Duration
	factor   float64
	attempts int
}

// NewBackoff returns a Backoff doubling from initial up to maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		current:  initial,
		initial:  initial,
		maxDelay: maxDelay,
		factor:   2.0,
	}
}

// Next returns the current delay, counts an attempt and advances the delay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.current
	b.current = min(time.Duration(float64(b.current)*b.factor), b.maxDelay)
	b.attempts++
	return current
}

// Current returns the current delay without advancing.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Attempts returns how many delays were handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Exhausted reports whether at least limit attempts were made.
func (b *Backoff) Exhausted(limit int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts >= limit
}

// Reset returns to the initial delay and clears the attempt count.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}
