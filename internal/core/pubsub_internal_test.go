package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

type nopSink struct{}

func (nopSink) ReadActivated(*pipe.Pipe)  {}
func (nopSink) WriteActivated(*pipe.Pipe) {}
func (nopSink) Hiccuped(*pipe.Pipe)       {}
func (nopSink) PipeTerminated(*pipe.Pipe) {}

// upstreamHarness attaches an xsub pattern to one pipe and captures what it
// sends toward the publisher.
type upstreamHarness struct {
	x        *xsubPattern
	upstream *pipe.Pipe
	mb       *command.Mailbox
}

func newUpstreamHarness(verboseUnsubs bool) *upstreamHarness {
	b := &Base{opts: config.OptionsFrom(config.Default())}
	b.opts.XSubVerboseUnsubscribe = verboseUnsubs
	x := newXSub(b).(*xsubPattern)

	local, remote := pipe.NewPair([2]int{0, 0}, [2]bool{false, false})
	mb := command.NewMailbox(command.NewChanSignaler())
	local.SetMailbox(mb)
	remote.SetMailbox(mb)
	local.SetSink(nopSink{})
	remote.SetSink(nopSink{})

	x.attachPipe(local, false)
	return &upstreamHarness{x: x, upstream: remote, mb: mb}
}

// drain pumps pipe commands and returns the frames the publisher would see.
func (h *upstreamHarness) drain() []msg.Message {
	for {
		cmd, err := h.mb.Recv(0)
		if err != nil {
			break
		}
		cmd.Dest.Process(cmd)
	}
	var out []msg.Message
	for {
		m, ok := h.upstream.Read()
		if !ok {
			return out
		}
		out = append(out, m)
	}
}

func TestXSubVerboseUnsubscribeForwardsDuplicates(t *testing.T) {
	h := newUpstreamHarness(true)

	h.x.Subscribe([]byte("topic"))
	subs := h.drain()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsSubscribe())

	h.x.Unsubscribe([]byte("topic"))
	h.x.Unsubscribe([]byte("topic"))
	cancels := h.drain()
	assert.Len(t, cancels, 2, "verbose mode forwards even the unmatched cancel")
	for _, c := range cancels {
		assert.True(t, c.IsCancel())
	}
}

func TestXSubQuietUnsubscribeSwallowsDuplicates(t *testing.T) {
	h := newUpstreamHarness(false)

	h.x.Subscribe([]byte("topic"))
	_ = h.drain()

	h.x.Unsubscribe([]byte("topic"))
	h.x.Unsubscribe([]byte("topic"))
	cancels := h.drain()
	assert.Len(t, cancels, 1, "second cancel matches nothing and stays local")
}

func TestXPubNotifiesOnlyOnEdges(t *testing.T) {
	b := &Base{opts: config.OptionsFrom(config.Default())}
	x := newXPub(b).(*xpubPattern)

	sub1, pub1 := pipe.NewPair([2]int{0, 0}, [2]bool{false, false})
	mb := command.NewMailbox(command.NewChanSignaler())
	for _, p := range []*pipe.Pipe{sub1, pub1} {
		p.SetMailbox(mb)
		p.SetSink(nopSink{})
	}
	x.attachPipe(pub1, false)

	write := func(m msg.Message) {
		require.True(t, sub1.Write(m))
		sub1.Flush()
		for {
			cmd, err := mb.Recv(0)
			if err != nil {
				break
			}
			cmd.Dest.Process(cmd)
		}
		x.readFromPipe(pub1)
	}

	write(msg.NewSubscribe([]byte("a")))
	write(msg.NewSubscribe([]byte("a"))) // duplicate, no edge
	write(msg.NewCancel([]byte("a")))    // still one holder
	write(msg.NewCancel([]byte("a")))    // edge: last one gone

	var got []msg.Message
	for {
		var m msg.Message
		if err := x.recv(&m); err != nil {
			break
		}
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, []byte{1, 'a'}, got[0].Data())
	assert.Equal(t, []byte{0, 'a'}, got[1].Data())
}
