package speech

// window is a fixed-capacity FIFO of recent values. The oldest value is
// evicted before a new one is admitted once full.
type window struct {
	values []float64
	head   int // index of the oldest value
	n      int
}

func newWindow(capacity int) *window {
	return &window{values: make([]float64, max(capacity, 1))}
}

// Push admits v, evicting the oldest value when full.
func (w *window) Push(v float64) {
	capacity := len(w.values)
	if w.n == capacity {
		w.values[w.head] = v
		w.head = (w.head + 1) % capacity
		return
	}
	w.values[(w.head+w.n)%capacity] = v
	w.n++
}

// Mean returns the arithmetic mean of the held values, or 0 when empty.
func (w *window) Mean() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := range w.n {
		sum += w.values[(w.head+i)%len(w.values)]
	}
	return sum / float64(w.n)
}

// Len returns the number of held values.
func (w *window) Len() int {
	return w.n
}

// Cap returns the window capacity.
func (w *window) Cap() int {
	return len(w.values)
}

// Reset drops all values.
func (w *window) Reset() {
	clear(w.values)
	w.head = 0
	w.n = 0
}
