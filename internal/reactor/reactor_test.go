package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
)

type countingSink struct {
	fired atomic.Int32
	ids   chan int
}

func (s *countingSink) TimerEvent(id int) {
	s.fired.Add(1)
	select {
	case s.ids <- id:
	default:
	}
}

type echoHandler struct {
	mbox *command.Mailbox
	got  chan command.Type
}

func (h *echoHandler) CommandMailbox() *command.Mailbox { return h.mbox }
func (h *echoHandler) Process(cmd command.Command)      { h.got <- cmd.Type }

func TestReactorTimerFires(t *testing.T) {
	r, err := New(zap.NewNop())
	require.NoError(t, err)
	go r.Run()

	sink := &countingSink{ids: make(chan int, 1)}
	r.AddTimer(10*time.Millisecond, sink, 7)

	select {
	case id := <-sink.ids:
		assert.Equal(t, 7, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	r.Stop()
	r.Join()
}

func TestReactorCancelledTimerDoesNotFire(t *testing.T) {
	r, err := New(zap.NewNop())
	require.NoError(t, err)

	sink := &countingSink{ids: make(chan int, 1)}
	tok := r.AddTimer(30*time.Millisecond, sink, 1)
	r.CancelTimer(tok)

	go r.Run()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), sink.fired.Load())

	r.Stop()
	r.Join()
}

func TestReactorDispatchesCommands(t *testing.T) {
	r, err := New(zap.NewNop())
	require.NoError(t, err)
	go r.Run()

	h := &echoHandler{mbox: r.CommandMailbox(), got: make(chan command.Type, 4)}
	command.Post(command.Command{Dest: h, Type: command.ActivateRead})
	command.Post(command.Command{Dest: h, Type: command.ActivateWrite})

	assert.Equal(t, command.ActivateRead, <-h.got)
	assert.Equal(t, command.ActivateWrite, <-h.got)

	r.Stop()
	r.Join()
}

func TestReactorStops(t *testing.T) {
	r, err := New(zap.NewNop())
	require.NoError(t, err)
	go r.Run()
	r.Stop()

	done := make(chan struct{})
	go func() { r.Join(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not stop")
	}
}
