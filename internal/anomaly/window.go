package anomaly

// Sample is one paired sensor reading
type Sample struct {
	Temperature float32
	Humidity    float32
}

// Window keeps the last N samples in arrival order.
// Push overwrites the oldest slot, so each push is O(1); Flatten reads the
// ring back oldest-first, which is the order the model was trained on.
type Window struct {
	samples []Sample
	next    int // slot the next push writes
	pushed  int // pushes since creation, saturating at capacity
}

// NewWindow creates a window holding n samples
func NewWindow(n int) *Window {
	if n <= 0 {
		n = 1
	}
	return &Window{samples: make([]Sample, n)}
}

// Push appends s, evicting the oldest sample once the window is full
func (w *Window) Push(s Sample) {
	w.samples[w.next] = s
	w.next = (w.next + 1) % len(w.samples)
	if w.pushed < len(w.samples) {
		w.pushed++
	}
}

// Ready reports whether N samples have been pushed
func (w *Window) Ready() bool {
	return w.pushed == len(w.samples)
}

// Len returns the number of samples held
func (w *Window) Len() int {
	return w.pushed
}

// Capacity returns N
func (w *Window) Capacity() int {
	return len(w.samples)
}

// Flatten writes [t0,h0,...,tN-1,hN-1] oldest-first into dst, reusing its
// storage when large enough. Before the window is full only the held samples
// are written.
func (w *Window) Flatten(dst []float32) []float32 {
	n := 2 * w.pushed
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	start := 0
	if w.Ready() {
		start = w.next
	}
	for i := 0; i < w.pushed; i++ {
		s := w.samples[(start+i)%len(w.samples)]
		dst[2*i] = s.Temperature
		dst[2*i+1] = s.Humidity
	}
	return dst
}
