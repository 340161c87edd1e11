package ml

import (
	"fmt"
	"unsafe"
)

const arenaAlignment = 16

// Arena is a fixed-size bump allocator backing every activation tensor
// of an interpreter. It never grows; running out is a configuration error.
type Arena struct {
	buf  []byte
	used int
}

// NewArena creates an arena of exactly size bytes
func NewArena(size int) *Arena {
	if size < 0 {
		size = 0
	}
	return &Arena{buf: make([]byte, size)}
}

// Size returns the capacity in bytes
func (a *Arena) Size() int {
	return len(a.buf)
}

// Used returns the bytes handed out so far, alignment padding included
func (a *Arena) Used() int {
	return a.used
}

// Reset releases every allocation
func (a *Arena) Reset() {
	a.used = 0
}

func (a *Arena) alloc(n int) ([]byte, error) {
	start := (a.used + arenaAlignment - 1) &^ (arenaAlignment - 1)
	end := start + n
	if end > len(a.buf) {
		return nil, fmt.Errorf("%w: need %d bytes, arena has %d", ErrArenaExhausted, end, len(a.buf))
	}
	a.used = end
	return a.buf[start:end:end], nil
}

func (a *Arena) allocUint8(n int) ([]uint8, error) {
	return a.alloc(n)
}

func (a *Arena) allocFloat64(n int) ([]float64, error) {
	b, err := a.alloc(n * 8)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []float64{}, nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), n), nil
}
