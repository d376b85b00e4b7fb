package optimize

import (
	"sync"
)

// MTU is the largest RTP/RTCP datagram the media engine reads.
const MTU = 1500

// BytePool is a pool of fixed-size byte buffers used for packet reads.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a new byte pool with specified size
func NewBytePool(size int) *BytePool {
	p := &BytePool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Get gets a full-length buffer from the pool
func (p *BytePool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns a buffer to the pool. Buffers smaller than the pool size are
// dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// SlicePool reuses scratch slices, e.g. the consumer snapshot taken for
// every forwarded packet.
type SlicePool[T any] struct {
	pool sync.Pool
	size int
}

// NewSlicePool creates a slice pool whose slices start with capacity size.
func NewSlicePool[T any](size int) *SlicePool[T] {
	p := &SlicePool[T]{size: size}
	p.pool.New = func() interface{} {
		s := make([]T, 0, size)
		return &s
	}
	return p
}

// Get returns an empty slice.
func (p *SlicePool[T]) Get() []T {
	return (*(p.pool.Get().(*[]T)))[:0]
}

// Put clears s and returns it to the pool. Slices that grew far beyond the
// pool size are released to the GC.
func (p *SlicePool[T]) Put(s []T) {
	if cap(s) > p.size*4 {
		return
	}
	var zero T
	for i := range s {
		s[i] = zero
	}
	s = s[:0]
	p.pool.Put(&s)
}
