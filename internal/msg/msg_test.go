package msg

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepresentations(t *testing.T) {
	small := NewSize(10)
	assert.Equal(t, 10, small.Len())
	assert.Equal(t, kindInline, small.kind)

	large := NewSize(InlineMax + 1)
	assert.Equal(t, InlineMax+1, large.Len())
	assert.Equal(t, kindHeap, large.kind)

	static := []byte("static payload")
	c := NewConst(static)
	assert.Equal(t, kindConst, c.kind)
	assert.Equal(t, static, c.Data())

	small.Close()
	large.Close()
	c.Close()
}

func TestCopyPromotesHeapToShared(t *testing.T) {
	m := NewData(bytes.Repeat([]byte("x"), 100))
	dup := m.Copy()

	assert.Equal(t, kindShared, m.kind)
	assert.Equal(t, kindShared, dup.kind)
	assert.True(t, m.Flags()&Shared != 0)
	require.NotNil(t, m.ref)
	assert.Same(t, m.ref, dup.ref)
	assert.Equal(t, int32(2), m.ref.n.Load())

	dup.Close()
	assert.Equal(t, int32(1), m.ref.n.Load())
	m.Close()
}

func TestCloseIdempotent(t *testing.T) {
	m := NewData([]byte("hello"))
	m.Close()
	m.Close()
	assert.Equal(t, 0, m.Len())
}

func TestMove(t *testing.T) {
	src := NewData([]byte("payload"))
	var dst Message
	dst.Move(&src)

	assert.Equal(t, []byte("payload"), dst.Data())
	assert.Equal(t, 0, src.Len())
	dst.Close()
}

func TestFlags(t *testing.T) {
	m := New()
	m.SetFlags(More | Command)
	assert.True(t, m.HasMore())
	assert.True(t, m.IsCommand())
	m.ResetFlags(More)
	assert.False(t, m.HasMore())

	sub := NewSubscribe([]byte("topic"))
	assert.True(t, sub.IsSubscribe())
	assert.False(t, sub.IsCancel())
	can := NewCancel([]byte("topic"))
	assert.True(t, can.IsCancel())
}

func TestGroup(t *testing.T) {
	m := New()
	require.NoError(t, m.SetGroup("weather"))
	assert.Equal(t, "weather", m.Group())
	assert.Error(t, m.SetGroup("far-too-long-group-name"))

	j, err := NewJoin("news")
	require.NoError(t, err)
	assert.True(t, j.IsJoin())
	assert.Equal(t, "news", j.Group())
}

func TestArenaShareAndReuse(t *testing.T) {
	a := NewArena(1024, nil)
	buf := a.Begin()
	require.Len(t, buf, 1024)
	assert.Equal(t, int32(1), a.Refs())

	copy(buf, "0123456789")
	m := a.Share(0, 10)
	assert.Equal(t, []byte("0123456789"), m.Data())
	assert.Equal(t, int32(2), a.Refs())

	// Outstanding reference forces a fresh buffer.
	buf2 := a.Begin()
	assert.NotSame(t, &buf[0], &buf2[0])
	// Message data survives the cycle.
	assert.Equal(t, []byte("0123456789"), m.Data())
	m.Close()

	// With no outstanding references the buffer is reused in place.
	buf3 := a.Begin()
	assert.Same(t, &buf2[0], &buf3[0])
}

func TestArenaCopyCloseLeavesRefcountUnchanged(t *testing.T) {
	a := NewArena(256, nil)
	a.Begin()
	m := a.Share(0, 16)
	before := a.Refs()

	dup := m.Copy()
	dup.Close()
	assert.Equal(t, before, a.Refs())
	m.Close()
}

func TestConcurrentCloseOfSharedCopies(t *testing.T) {
	a := NewArena(4096, nil)
	a.Begin()

	const n = 64
	msgs := make([]Message, n)
	for i := range msgs {
		msgs[i] = a.Share(i, 1)
	}
	a.Release()

	var wg sync.WaitGroup
	for i := range msgs {
		wg.Add(1)
		go func(m Message) {
			defer wg.Done()
			m.Close()
		}(msgs[i])
	}
	wg.Wait()
	assert.Equal(t, int32(0), a.Refs())
}

func TestPoolAllocatorRoundTrip(t *testing.T) {
	p := NewPoolAllocator(512)
	b := p.Alloc(512)
	assert.Len(t, b, 512)
	p.Free(b)

	odd := p.Alloc(100)
	assert.Len(t, odd, 100)
	p.Free(odd)
}
