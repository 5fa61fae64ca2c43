package msg

import "sync/atomic"

// arenaBuf is one reception buffer plus the counter that couples its lifetime
// to the messages viewing it. The arena holds one reference of its own while
// the buffer is the current reception window.
type arenaBuf struct {
	refs atomic.Int32
	b    []byte
	free func([]byte)
}

func (ab *arenaBuf) decRef() {
	if ab.refs.Add(-1) == 0 && ab.free != nil {
		ab.free(ab.b)
	}
}

// Arena is the shared reception buffer of one decoder. Wire bytes are read
// into the current buffer; frames that fit the remaining window become shared
// messages referencing it without a copy.
//
// Lifecycle per receive cycle: Begin drops the arena's own reference on the
// previous buffer and either reuses it in place (no outstanding message
// references) or allocates a fresh one. The buffer's memory is reclaimed in
// whichever goroutine drops the last reference.
type Arena struct {
	maxSize int
	alloc   Allocator
	cur     *arenaBuf
}

// NewArena returns an arena producing buffers of size bytes.
func NewArena(size int, alloc Allocator) *Arena {
	if alloc == nil {
		alloc = SystemAllocator{}
	}
	return &Arena{maxSize: size, alloc: alloc}
}

// Begin starts a receive cycle and returns the reception window.
func (a *Arena) Begin() []byte {
	if a.cur != nil {
		if a.cur.refs.Add(-1) == 0 {
			// No message holds a view; reuse the buffer in place.
			a.cur.refs.Store(1)
			return a.cur.b
		}
		a.cur = nil
	}
	ab := &arenaBuf{b: a.alloc.Alloc(a.maxSize), free: a.alloc.Free}
	ab.refs.Store(1)
	a.cur = ab
	return ab.b
}

// Buffer returns the current reception window, or nil before the first Begin.
func (a *Arena) Buffer() []byte {
	if a.cur == nil {
		return nil
	}
	return a.cur.b
}

// Share wraps buf[off:off+n] of the current window as a shared message,
// incrementing the buffer's reference count.
func (a *Arena) Share(off, n int) Message {
	a.cur.refs.Add(1)
	return Message{
		kind:  kindShared,
		flags: Shared,
		data:  a.cur.b[off : off+n : off+n],
		ab:    a.cur,
	}
}

// Release drops the arena's own reference, handing the buffer over to the
// messages that view it. A subsequent Begin allocates fresh.
func (a *Arena) Release() {
	if a.cur != nil {
		a.cur.decRef()
		a.cur = nil
	}
}

// Refs reports the current buffer's reference count. Test hook.
func (a *Arena) Refs() int32 {
	if a.cur == nil {
		return 0
	}
	return a.cur.refs.Load()
}
