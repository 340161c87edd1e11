package anomaly

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shiftWindow is the shift-and-append buffer the model was trained against
type shiftWindow struct {
	buf []float32
}

func (w *shiftWindow) push(s Sample) {
	n := len(w.buf) / 2
	for i := 0; i < n-1; i++ {
		w.buf[i*2] = w.buf[(i+1)*2]
		w.buf[i*2+1] = w.buf[(i+1)*2+1]
	}
	w.buf[(n-1)*2] = s.Temperature
	w.buf[(n-1)*2+1] = s.Humidity
}

func TestWindowFIFO(t *testing.T) {
	w := NewWindow(3)
	assert.False(t, w.Ready())

	for i := 1; i <= 3; i++ {
		w.Push(Sample{Temperature: float32(i), Humidity: float32(10 * i)})
	}
	require.True(t, w.Ready())
	assert.Equal(t, []float32{1, 10, 2, 20, 3, 30}, w.Flatten(nil))

	w.Push(Sample{Temperature: 4, Humidity: 40})
	flat := w.Flatten(nil)
	assert.Equal(t, []float32{2, 20, 3, 30, 4, 40}, flat)
	assert.NotContains(t, flat, float32(1))
	assert.Equal(t, 3, w.Len())
}

func TestWindowPartial(t *testing.T) {
	w := NewWindow(WindowSize)
	w.Push(Sample{Temperature: 21, Humidity: 55})
	w.Push(Sample{Temperature: 22, Humidity: 56})

	assert.False(t, w.Ready())
	assert.Equal(t, 2, w.Len())
	assert.Equal(t, WindowSize, w.Capacity())
	assert.Equal(t, []float32{21, 55, 22, 56}, w.Flatten(nil))
}

func TestWindowMatchesShiftBuffer(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ring := NewWindow(WindowSize)
	ref := &shiftWindow{buf: make([]float32, InputDim)}

	flat := make([]float32, 0, InputDim)
	for i := 0; i < 5*WindowSize+3; i++ {
		s := Sample{Temperature: rng.Float32() * 40, Humidity: rng.Float32() * 100}
		ring.Push(s)
		ref.push(s)

		if ring.Ready() {
			flat = ring.Flatten(flat)
			require.Equal(t, ref.buf, flat, "after %d pushes", i+1)
		}
	}
}

func TestWindowFlattenReusesStorage(t *testing.T) {
	w := NewWindow(2)
	w.Push(Sample{Temperature: 1, Humidity: 2})
	w.Push(Sample{Temperature: 3, Humidity: 4})

	buf := make([]float32, 0, 8)
	out := w.Flatten(buf)
	assert.Len(t, out, 4)
	assert.Same(t, &buf[:1][0], &out[0])
}
