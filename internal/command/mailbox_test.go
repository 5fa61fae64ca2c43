package command

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

func TestMailboxEmptyRecvTimesOut(t *testing.T) {
	m := NewMailbox(NewChanSignaler())
	defer m.Close()

	_, err := m.Recv(0)
	assert.ErrorIs(t, err, errs.ErrAgain)

	start := time.Now()
	_, err = m.Recv(20 * time.Millisecond)
	assert.ErrorIs(t, err, errs.ErrAgain)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMailboxFIFO(t *testing.T) {
	m := NewMailbox(NewChanSignaler())
	defer m.Close()

	for i := 0; i < 50; i++ {
		m.Send(Command{Type: ActivateWrite, MsgsRead: uint64(i)})
	}
	for i := 0; i < 50; i++ {
		cmd, err := m.Recv(time.Second)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), cmd.MsgsRead)
	}
}

func TestMailboxCrossThread(t *testing.T) {
	m := NewMailbox(NewChanSignaler())
	defer m.Close()

	const senders = 4
	const each = 1000
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < each; i++ {
				m.Send(Command{Type: ActivateRead})
			}
		}()
	}

	got := 0
	for got < senders*each {
		_, err := m.Recv(time.Second)
		require.NoError(t, err)
		got++
	}
	wg.Wait()
}

func TestFdSignalerWakes(t *testing.T) {
	s, err := NewFdSignaler()
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Wait(0), errs.ErrAgain)
	s.Signal()
	assert.NoError(t, s.Wait(time.Second))
	s.Drain()
	assert.ErrorIs(t, s.Wait(0), errs.ErrAgain)
}
