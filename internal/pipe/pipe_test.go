package pipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/msg"
)

type sinkEvents struct {
	readActivated  int
	writeActivated int
	hiccuped       int
	terminated     int
}

func (s *sinkEvents) ReadActivated(*Pipe)  { s.readActivated++ }
func (s *sinkEvents) WriteActivated(*Pipe) { s.writeActivated++ }
func (s *sinkEvents) Hiccuped(*Pipe)       { s.hiccuped++ }
func (s *sinkEvents) PipeTerminated(*Pipe) { s.terminated++ }

// harness wires a pipe pair to two mailboxes and pumps commands on demand,
// standing in for the two owner threads.
type harness struct {
	p0, p1 *Pipe
	m0, m1 *command.Mailbox
	s0, s1 sinkEvents
}

func newHarness(hwms [2]int, conflate [2]bool) *harness {
	h := &harness{}
	h.p0, h.p1 = NewPair(hwms, conflate)
	h.m0 = command.NewMailbox(command.NewChanSignaler())
	h.m1 = command.NewMailbox(command.NewChanSignaler())
	h.p0.SetMailbox(h.m0)
	h.p1.SetMailbox(h.m1)
	h.p0.SetSink(&h.s0)
	h.p1.SetSink(&h.s1)
	return h
}

// pump drains both mailboxes until quiescent.
func (h *harness) pump() {
	for {
		progressed := false
		for _, m := range []*command.Mailbox{h.m0, h.m1} {
			for {
				cmd, err := m.Recv(0)
				if err != nil {
					break
				}
				cmd.Dest.Process(cmd)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func TestPipeFIFO(t *testing.T) {
	h := newHarness([2]int{0, 0}, [2]bool{false, false})

	for i := byte(0); i < 100; i++ {
		ok := h.p0.Write(msg.NewData([]byte{i}))
		require.True(t, ok)
	}
	h.p0.Flush()
	h.pump()

	for i := byte(0); i < 100; i++ {
		m, ok := h.p1.Read()
		require.True(t, ok)
		assert.Equal(t, []byte{i}, m.Data())
		m.Close()
	}
	_, ok := h.p1.Read()
	assert.False(t, ok)
}

func TestPipeHWMEnforcement(t *testing.T) {
	const hwm = 4
	// hwms[0] is p0's inbound limit; p0 writes against hwms[1].
	h := newHarness([2]int{0, hwm}, [2]bool{false, false})

	for i := 0; i < hwm; i++ {
		require.True(t, h.p0.Write(msg.NewData([]byte("m"))), "write %d under hwm", i)
	}
	assert.False(t, h.p0.Write(msg.NewData([]byte("over"))), "hwm reached")
	assert.False(t, h.p0.CheckWrite())

	// Drain past the low water mark; the reader's credit update reopens flow.
	h.p0.Flush()
	h.pump()
	for i := 0; i < hwm; i++ {
		m, ok := h.p1.Read()
		require.True(t, ok)
		m.Close()
	}
	h.pump()
	assert.True(t, h.p0.CheckWrite(), "credit restored after drain")
	assert.Positive(t, h.s0.writeActivated)
}

func TestPipeMultipartRollback(t *testing.T) {
	h := newHarness([2]int{0, 0}, [2]bool{false, false})

	part := msg.NewData([]byte("part"))
	part.SetFlags(msg.More)
	require.True(t, h.p0.Write(part))
	h.p0.Rollback()
	h.p0.Flush()
	h.pump()

	_, ok := h.p1.Read()
	assert.False(t, ok, "rolled back part must not surface")
}

func TestPipeReaderSleepWake(t *testing.T) {
	h := newHarness([2]int{0, 0}, [2]bool{false, false})

	_, ok := h.p1.Read()
	require.False(t, ok, "empty read puts reader to sleep")

	require.True(t, h.p0.Write(msg.NewData([]byte("x"))))
	h.p0.Flush()
	h.pump()
	assert.Positive(t, h.s1.readActivated, "sleeping reader must be activated")

	m, ok := h.p1.Read()
	require.True(t, ok)
	m.Close()
}

func TestPipeConflate(t *testing.T) {
	// Conflation on p1's inbound direction.
	h := newHarness([2]int{0, 1}, [2]bool{false, true})

	for i := byte(0); i < 10; i++ {
		require.True(t, h.p0.Write(msg.NewData([]byte{i})))
		h.p0.Flush()
	}
	h.pump()

	m, ok := h.p1.Read()
	require.True(t, ok)
	assert.Equal(t, []byte{9}, m.Data(), "conflating pipe keeps only the last message")
	m.Close()
	_, ok = h.p1.Read()
	assert.False(t, ok)
}

func TestPipeTwoPhaseTermination(t *testing.T) {
	h := newHarness([2]int{0, 0}, [2]bool{false, false})

	require.True(t, h.p0.Write(msg.NewData([]byte("last"))))
	h.p0.Flush()

	h.p0.Terminate(false)
	h.pump()
	// p1 sees PipeTerm; without delay it acks immediately.
	h.p1.Terminate(false)
	h.pump()

	assert.Positive(t, h.s0.terminated)
	assert.Positive(t, h.s1.terminated)
	assert.False(t, h.p0.Write(msg.NewData([]byte("after"))), "terminating pipe refuses writes")
}

func TestPipeHiccupDropsInFlight(t *testing.T) {
	h := newHarness([2]int{0, 0}, [2]bool{false, false})

	require.True(t, h.p0.Write(msg.NewData([]byte("stale"))))
	h.p0.Flush()

	// Reader replaces its inbound queue before draining.
	h.p1.Hiccup()
	h.pump()
	assert.Positive(t, h.s0.hiccuped)

	_, ok := h.p1.Read()
	assert.False(t, ok, "pre-hiccup message was dropped")

	// New messages flow through the replacement queue.
	require.True(t, h.p0.Write(msg.NewData([]byte("fresh"))))
	h.p0.Flush()
	h.pump()
	m, ok := h.p1.Read()
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), m.Data())
	m.Close()
}
