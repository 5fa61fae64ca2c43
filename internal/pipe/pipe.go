// Package pipe implements the bidirectional message channel between two
// objects living on (possibly) different threads.
//
// A Pipe value is one endpoint; NewPair wires two of them back to back over a
// pair of single-producer single-consumer queues. Messages flow through the
// queues; credit, activation and termination travel out-of-band over the
// command bus. Termination is a two-phase handshake driven by a delimiter
// message so that in-flight data is never truncated mid-message.
package pipe

import (
	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/queue"
)

// Message pipes allocate in batches of this many slots.
const granularity = 256

// EventSink receives pipe notifications on the endpoint owner's thread.
type EventSink interface {
	ReadActivated(*Pipe)
	WriteActivated(*Pipe)
	Hiccuped(*Pipe)
	PipeTerminated(*Pipe)
}

type state uint8

const (
	// Active: both directions flowing.
	stActive state = iota
	// DelimiterReceived: reader saw the delimiter; no more inbound data.
	stDelimiterReceived
	// WaitingForDelimiter: terminate(delay) called, draining until delimiter.
	stWaitingForDelimiter
	// TermAckSent: our side acknowledged; only awaiting release.
	stTermAckSent
	// TermReqSent1: we asked the peer to terminate.
	stTermReqSent1
	// TermReqSent2: peer asked back while our request was in flight.
	stTermReqSent2
)

// Pipe is one endpoint of a message channel.
type Pipe struct {
	in  queue.Pipe[msg.Message]
	out queue.Pipe[msg.Message]

	inActive  bool
	outActive bool

	hwm int
	lwm int

	msgsRead      uint64
	msgsWritten   uint64
	peersMsgsRead uint64

	peer *Pipe
	sink EventSink

	st    state
	delay bool

	conflate bool

	routingID uint32

	mbox *command.Mailbox
}

// NewPair creates two connected pipe endpoints. hwms[0] is the inbound high
// water mark of the first endpoint (and therefore the outbound limit of the
// second); hwms[1] the converse. conflate applies per inbound direction.
func NewPair(hwms [2]int, conflate [2]bool) (*Pipe, *Pipe) {
	q01 := newStorage(conflate[1]) // endpoint 0 writes, endpoint 1 reads
	q10 := newStorage(conflate[0])

	// A conflating direction never accumulates more than one message, so the
	// water marks are moot there.
	hwm0, hwm1 := hwms[0], hwms[1]
	if conflate[0] {
		hwm0 = 0
	}
	if conflate[1] {
		hwm1 = 0
	}

	// delay defaults to true: a reader asked to terminate keeps draining
	// until the writer's delimiter arrives, so flushed messages are not lost.
	p0 := &Pipe{
		in:        q10,
		out:       q01,
		inActive:  true,
		outActive: true,
		hwm:       hwm1,
		lwm:       computeLWM(hwm0),
		conflate:  conflate[0],
		delay:     true,
	}
	p1 := &Pipe{
		in:        q01,
		out:       q10,
		inActive:  true,
		outActive: true,
		hwm:       hwm0,
		lwm:       computeLWM(hwm1),
		conflate:  conflate[1],
		delay:     true,
	}
	p0.peer = p1
	p1.peer = p0
	return p0, p1
}

func newStorage(conflate bool) queue.Pipe[msg.Message] {
	if conflate {
		return queue.NewDBuffer[msg.Message](func(m msg.Message) { m.Close() })
	}
	return queue.NewYPipe[msg.Message](granularity)
}

// computeLWM places the low water mark far enough below the high water mark
// to absorb credit-update latency without ping-ponging commands.
func computeLWM(hwm int) int {
	return (hwm + 1) / 2
}

// SetSink installs the event sink. Must be called before the pipe is used.
func (p *Pipe) SetSink(s EventSink) { p.sink = s }

// SetMailbox assigns the mailbox of the thread owning this endpoint; peer
// commands are delivered through it.
func (p *Pipe) SetMailbox(m *command.Mailbox) { p.mbox = m }

// Peer returns the opposite endpoint.
func (p *Pipe) Peer() *Pipe { return p.peer }

// RoutingID returns this pipe's routing id (ROUTER-side identity).
func (p *Pipe) RoutingID() uint32 { return p.routingID }

// SetRoutingID tags the pipe with a routing id.
func (p *Pipe) SetRoutingID(id uint32) { p.routingID = id }

// CommandMailbox implements command.Handler.
func (p *Pipe) CommandMailbox() *command.Mailbox { return p.mbox }

// CheckRead reports whether a message can be read.
func (p *Pipe) CheckRead() bool {
	if !p.inActive {
		return false
	}
	if p.st != stActive && p.st != stWaitingForDelimiter {
		return false
	}

	if !p.in.CheckRead() {
		p.inActive = false
		return false
	}

	// A delimiter at the head means the peer terminated; consume it now.
	isDelim := p.in.Probe(func(m *msg.Message) bool { return m.IsDelimiter() })
	if isDelim {
		p.in.Read()
		p.processDelimiter()
		return false
	}
	return true
}

// Read dequeues one message.
func (p *Pipe) Read() (msg.Message, bool) {
	if !p.CheckRead() {
		return msg.Message{}, false
	}
	m, ok := p.in.Read()
	if !ok {
		return msg.Message{}, false
	}

	if !m.HasMore() && !m.IsJoin() && !m.IsLeave() {
		p.msgsRead++
	}

	if p.lwm > 0 && p.msgsRead%uint64(p.lwm) == 0 {
		p.sendToPeer(command.Command{Type: command.ActivateWrite, MsgsRead: p.msgsRead})
	}
	return m, true
}

// CheckWrite reports whether a message can be written without hitting the
// high water mark.
func (p *Pipe) CheckWrite() bool {
	if !p.outActive || p.st != stActive {
		return false
	}
	if p.hwm > 0 && p.msgsWritten-p.peersMsgsRead == uint64(p.hwm) {
		p.outActive = false
		return false
	}
	return true
}

// Write enqueues a message without publishing it; call Flush to publish.
// Returns false when the pipe is full or terminating; the message is then
// still owned by the caller.
func (p *Pipe) Write(m msg.Message) bool {
	if !p.CheckWrite() {
		return false
	}
	more := m.HasMore()
	p.out.Write(m, more)
	if !more && !m.IsJoin() && !m.IsLeave() {
		p.msgsWritten++
	}
	return true
}

// Rollback removes all unflushed messages, closing them. Used to withdraw a
// multipart message whose final part could not be written. Only MORE-marked
// parts can be pending; completed messages are already flushed.
func (p *Pipe) Rollback() {
	if p.out == nil {
		return
	}
	for {
		m, ok := p.out.Unwrite()
		if !ok {
			break
		}
		m.Close()
	}
}

// Flush publishes all completed messages, waking the reader if it sleeps.
func (p *Pipe) Flush() {
	if p.st == stTermAckSent {
		return
	}
	if p.out != nil && !p.out.Flush() {
		p.sendToPeer(command.Command{Type: command.ActivateRead})
	}
}

func (p *Pipe) sendToPeer(cmd command.Command) {
	cmd.Dest = p.peer
	command.Post(cmd)
}

// Process implements command.Handler; it runs on the owner's thread.
func (p *Pipe) Process(cmd command.Command) {
	switch cmd.Type {
	case command.ActivateRead:
		p.processActivateRead()
	case command.ActivateWrite:
		p.processActivateWrite(cmd.MsgsRead)
	case command.Hiccup:
		p.processHiccup(cmd.Pipe)
	case command.PipeTerm:
		p.processPipeTerm()
	case command.PipeTermAck:
		p.processPipeTermAck()
	case command.PipeHWM:
		p.processHWM(cmd.InHWM, cmd.OutHWM)
	}
}

func (p *Pipe) processActivateRead() {
	if p.inActive || (p.st != stActive && p.st != stWaitingForDelimiter) {
		return
	}
	p.inActive = true
	p.sink.ReadActivated(p)
}

func (p *Pipe) processActivateWrite(msgsRead uint64) {
	p.peersMsgsRead = msgsRead
	if p.outActive || p.st != stActive {
		return
	}
	p.outActive = true
	p.sink.WriteActivated(p)
}

func (p *Pipe) processHiccup(newPipe any) {
	if p.out == nil {
		return
	}
	// Drain and destroy the old outbound pipe; unread messages were meant
	// for the previous engine incarnation.
	p.out.Flush()
	for {
		m, ok := p.out.Read()
		if !ok {
			break
		}
		if !m.HasMore() {
			p.msgsWritten--
		}
		m.Close()
	}
	p.out = newPipe.(queue.Pipe[msg.Message])
	if p.st == stActive {
		p.sink.Hiccuped(p)
	}
}

func (p *Pipe) processPipeTerm() {
	switch p.st {
	case stActive:
		// The peer wants to terminate. If our user asked to drain first,
		// wait for the delimiter; otherwise acknowledge immediately.
		if p.delay {
			p.st = stWaitingForDelimiter
		} else {
			p.st = stTermAckSent
			p.out = nil
			p.sendToPeer(command.Command{Type: command.PipeTermAck})
		}
	case stDelimiterReceived:
		p.st = stTermAckSent
		p.out = nil
		p.sendToPeer(command.Command{Type: command.PipeTermAck})
	case stTermReqSent1:
		p.st = stTermReqSent2
		p.out = nil
		p.sendToPeer(command.Command{Type: command.PipeTermAck})
	}
}

func (p *Pipe) processPipeTermAck() {
	p.sink.PipeTerminated(p)
	if p.st == stTermReqSent1 {
		p.out = nil
		p.sendToPeer(command.Command{Type: command.PipeTermAck})
	}

	// Drop any remaining inbound messages.
	for {
		m, ok := p.in.Read()
		if !ok {
			break
		}
		m.Close()
	}
	p.in = nil
}

func (p *Pipe) processHWM(inHWM, outHWM int) {
	p.hwm = outHWM
	p.lwm = computeLWM(inHWM)
}

// SetHWMs adjusts the water marks on this endpoint and informs the peer.
func (p *Pipe) SetHWMs(inHWM, outHWM int) {
	p.hwm = outHWM
	p.lwm = computeLWM(inHWM)
	p.sendToPeer(command.Command{Type: command.PipeHWM, InHWM: outHWM, OutHWM: inHWM})
}

func (p *Pipe) processDelimiter() {
	switch p.st {
	case stActive:
		p.st = stDelimiterReceived
	case stWaitingForDelimiter:
		p.Rollback()
		p.out = nil
		p.st = stTermAckSent
		p.sendToPeer(command.Command{Type: command.PipeTermAck})
	}
}

// Hiccup replaces this endpoint's inbound queue after a reconnect. The old
// queue travels to the writer, which drains and swaps it.
func (p *Pipe) Hiccup() {
	if p.st != stActive {
		return
	}
	fresh := newStorage(p.conflate)
	p.in = fresh
	p.inActive = true
	p.sendToPeer(command.Command{Type: command.Hiccup, Pipe: fresh})
}

// Terminate starts the two-phase shutdown of this endpoint. With delay the
// reader keeps draining until the peer's delimiter arrives.
func (p *Pipe) Terminate(delay bool) {
	p.delay = delay

	switch p.st {
	case stTermReqSent1, stTermReqSent2, stTermAckSent:
		return
	case stActive:
		p.sendToPeer(command.Command{Type: command.PipeTerm})
		p.st = stTermReqSent1
	case stWaitingForDelimiter:
		if !delay {
			p.Rollback()
			p.out = nil
			p.st = stTermAckSent
			p.sendToPeer(command.Command{Type: command.PipeTermAck})
		}
	case stDelimiterReceived:
		p.sendToPeer(command.Command{Type: command.PipeTerm})
		p.st = stTermReqSent1
	}

	// Stop outbound flow and mark its end with the delimiter. No watermark
	// check: there is always room for the delimiter.
	p.outActive = false
	if p.out != nil {
		p.Rollback()
		p.out.Write(msg.NewDelimiter(), false)
		if !p.out.Flush() {
			p.sendToPeer(command.Command{Type: command.ActivateRead})
		}
	}
}

// Active reports whether the pipe still carries data.
func (p *Pipe) Active() bool { return p.st == stActive }
