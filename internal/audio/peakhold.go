package audio

import (
	"sync"
	"time"
)

// DefaultPeakHoldDuration is how long a volume peak is held before it decays.
const DefaultPeakHoldDuration = 1500 * time.Millisecond

// PeakHolder holds the highest recent volume for level meters.
// It is safe for concurrent use.
type PeakHolder struct {
	mu           sync.Mutex
	held         float64
	heldAt       time.Time
	holdDuration time.Duration
}

// NewPeakHolder returns a PeakHolder with the default hold duration.
func NewPeakHolder() *PeakHolder {
	return &PeakHolder{holdDuration: DefaultPeakHoldDuration}
}

// Update records v at now and returns the held peak.
func (p *PeakHolder) Update(v float64, now time.Time) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v >= p.held || now.Sub(p.heldAt) > p.holdDuration {
		p.held = v
		p.heldAt = now
	}
	return p.held
}

// Reset clears the held peak.
func (p *PeakHolder) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.held = 0
	p.heldAt = time.Time{}
}
