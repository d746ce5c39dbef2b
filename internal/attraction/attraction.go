// Package attraction maps speech intensity to an attraction radius for
// consumers that react to a speaking user.
package attraction

import (
	"sync"
	"time"

	"github.com/oszuidwest/zwfm-speechdetect/internal/speech"
)

// Default radius bounds.
const (
	DefaultMinRadius = 2.0
	DefaultMaxRadius = 10.0
)

// Attractor tracks the classifier and exposes the current radius.
// It is safe for concurrent use.
type Attractor struct {
	mu        sync.RWMutex
	minRadius float64
	maxRadius float64
	speaking  bool
	intensity float64
	updatedAt time.Time
}

// New returns an Attractor with the given bounds. Invalid bounds fall back to the defaults.
func New(minRadius, maxRadius float64) *Attractor {
	a := &Attractor{}
	a.SetBounds(minRadius, maxRadius)
	return a
}

// Attach subscribes the Attractor to c.
func (a *Attractor) Attach(c *speech.Classifier) {
	c.OnStarted(func(ev speech.Event) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.speaking = true
		a.intensity = ev.PeakIntensity
		a.updatedAt = ev.StartedAt
	})
	c.OnEnded(func(ev speech.Event) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.speaking = false
		a.intensity = 0
		a.updatedAt = ev.EndedAt
	})
	c.OnIntensity(func(v float64, at time.Time) {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.intensity = v
		a.updatedAt = at
	})
}

// SetBounds changes the radius range.
func (a *Attractor) SetBounds(minRadius, maxRadius float64) {
	if minRadius < 0 || maxRadius <= 0 || maxRadius < minRadius {
		minRadius, maxRadius = DefaultMinRadius, DefaultMaxRadius
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.minRadius = minRadius
	a.maxRadius = maxRadius
}

// Radius returns the attraction radius: interpolated between the bounds by
// intensity while speaking, 0 otherwise.
func (a *Attractor) Radius() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.speaking {
		return 0
	}
	return a.minRadius + (a.maxRadius-a.minRadius)*a.intensity
}

// Speaking reports whether the tracked classifier is in a segment.
func (a *Attractor) Speaking() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.speaking
}

// UpdatedAt returns the time of the last applied event.
func (a *Attractor) UpdatedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updatedAt
}
