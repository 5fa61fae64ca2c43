package msg

import "sync"

// Allocator supplies payload buffers. The default hands allocation to the Go
// runtime; a pooling allocator can be plugged per context to recycle reception
// buffers under steady message rates.
type Allocator interface {
	Alloc(n int) []byte
	Free(b []byte)
}

// SystemAllocator allocates from the runtime heap. Free is a no-op.
type SystemAllocator struct{}

func (SystemAllocator) Alloc(n int) []byte { return make([]byte, n) }
func (SystemAllocator) Free([]byte)        {}

// PoolAllocator recycles fixed-size buffers through a sync.Pool. Requests of
// other sizes fall through to the runtime.
type PoolAllocator struct {
	size int
	pool sync.Pool
}

// NewPoolAllocator returns a pooling allocator for buffers of exactly size
// bytes.
func NewPoolAllocator(size int) *PoolAllocator {
	p := &PoolAllocator{size: size}
	p.pool.New = func() any { return make([]byte, size) }
	return p
}

func (p *PoolAllocator) Alloc(n int) []byte {
	if n == p.size {
		return p.pool.Get().([]byte)
	}
	return make([]byte, n)
}

func (p *PoolAllocator) Free(b []byte) {
	if cap(b) == p.size {
		p.pool.Put(b[:p.size])
	}
}
