package detector

import (
	"sync"

	"github.com/oszuidwest/zwfm-speechdetect/internal/types"
)

// Subscribe returns a channel of live events and a function that cancels the
// subscription and closes the channel. A subscriber that falls behind misses
// events rather than stalling the pipeline.
func (d *Detector) Subscribe() (<-chan types.LiveEvent, func()) {
	ch := make(chan types.LiveEvent, subscriberBuffer)

	d.subMu.Lock()
	d.subscribers[ch] = struct{}{}
	d.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.subMu.Lock()
			delete(d.subscribers, ch)
			close(ch)
			d.subMu.Unlock()
		})
	}
	return ch, cancel
}

// publish delivers ev to every subscriber without blocking.
func (d *Detector) publish(ev types.LiveEvent) {
	ev.Type = "live"

	d.subMu.Lock()
	defer d.subMu.Unlock()
	for ch := range d.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
