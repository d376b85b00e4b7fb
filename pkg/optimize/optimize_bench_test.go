package optimize

import (
	"testing"
)

func BenchmarkBytePool(b *testing.B) {
	pool := NewBytePool(MTU)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf[0] = byte(i)
		pool.Put(buf)
	}
}

func BenchmarkByteAllocation(b *testing.B) {
	for i := 0; i < b.N; i++ {
		buf := make([]byte, MTU)
		buf[0] = byte(i)
	}
}

func BenchmarkSlicePool(b *testing.B) {
	pool := NewSlicePool[int](8)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		s := pool.Get()
		s = append(s, i, i+1, i+2)
		pool.Put(s)
	}
}
