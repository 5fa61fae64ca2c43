package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYQueuePushPop(t *testing.T) {
	q := NewYQueue[int](4)
	q.Push()
	for i := 0; i < 100; i++ {
		*q.Back() = i
		q.Push()
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, *q.Front())
		q.Pop()
	}
}

func TestYQueueUnpush(t *testing.T) {
	q := NewYQueue[int](4)
	q.Push()
	*q.Back() = 1
	q.Push()
	*q.Back() = 2
	q.Push()

	q.Unpush()
	assert.Equal(t, 2, *q.Back())
	q.Unpush()
	assert.Equal(t, 1, *q.Back())
}

func TestYPipeBasicReadWrite(t *testing.T) {
	p := NewYPipe[int](16)

	_, ok := p.Read()
	assert.False(t, ok, "empty pipe must not read")

	p.Write(42, false)
	// Not flushed yet: the reader went asleep above, flush must report it.
	assert.False(t, p.Flush())

	v, ok := p.Read()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestYPipeFlushWhileReaderAwake(t *testing.T) {
	p := NewYPipe[int](16)
	p.Write(1, false)
	assert.True(t, p.Flush(), "reader never slept, flush needs no wake-up")
}

func TestYPipeIncompleteNotFlushed(t *testing.T) {
	p := NewYPipe[int](16)
	p.Write(1, true)
	p.Flush()
	_, ok := p.Read()
	assert.False(t, ok, "incomplete item must not be visible")

	p.Write(2, false)
	p.Flush()
	v, ok := p.Read()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = p.Read()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestYPipeUnwrite(t *testing.T) {
	p := NewYPipe[int](16)
	p.Write(1, true)
	p.Write(2, true)

	v, ok := p.Unwrite()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	v, ok = p.Unwrite()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = p.Unwrite()
	assert.False(t, ok)
}

func TestYPipeSPSCOrdering(t *testing.T) {
	const n = 100000
	p := NewYPipe[int](64)
	var wg sync.WaitGroup
	wg.Add(1)

	wake := make(chan struct{}, 1)
	go func() {
		defer wg.Done()
		next := 0
		for next < n {
			v, ok := p.Read()
			if !ok {
				// Reader announced sleep; wait for the writer's wake-up.
				<-wake
				continue
			}
			if v != next {
				t.Errorf("out of order: got %d want %d", v, next)
				return
			}
			next++
		}
	}()

	for i := 0; i < n; i++ {
		p.Write(i, false)
		if !p.Flush() {
			wake <- struct{}{}
		}
	}
	wg.Wait()
}
