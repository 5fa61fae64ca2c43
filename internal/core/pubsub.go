package core

import (
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
	"github.com/GriffinCanCode/Courier/internal/trie"
)

// xpubPattern is the bind-side publish socket: it broadcasts to matching
// subscribers and surfaces subscription traffic to the application.
type xpubPattern struct {
	b    *Base
	dist dist
	subs *trie.Trie[*pipe.Pipe]

	// Subscription notifications awaiting xrecv, in legacy framing
	// (0x01/0x00 prefix byte).
	pending []msg.Message

	moreSend bool
}

func newXPub(b *Base) pattern {
	return &xpubPattern{b: b, subs: trie.New[*pipe.Pipe]()}
}

func newPub(b *Base) pattern {
	return &pubPattern{xpubPattern{b: b, subs: trie.New[*pipe.Pipe]()}}
}

// pubPattern hides the subscription stream from the application.
type pubPattern struct {
	xpubPattern
}

func (x *pubPattern) recv(*msg.Message) error { return errs.ErrFSM }
func (x *pubPattern) hasIn() bool             { return false }

func (x *xpubPattern) attachPipe(p *pipe.Pipe, subscribeToAll bool) {
	x.dist.attach(p)
	if subscribeToAll {
		x.subs.Add(nil, p)
	}
	x.readFromPipe(p)
}

// readFromPipe drains subscription commands from a subscriber pipe.
func (x *xpubPattern) readFromPipe(p *pipe.Pipe) {
	for {
		m, ok := p.Read()
		if !ok {
			return
		}
		x.applySubscription(&m, p)
		m.Close()
	}
}

func (x *xpubPattern) applySubscription(m *msg.Message, p *pipe.Pipe) {
	data := m.Data()
	var (
		subscribe bool
		topic     []byte
	)
	switch {
	case m.IsSubscribe():
		subscribe, topic = true, data
	case m.IsCancel():
		subscribe, topic = false, data
	case len(data) > 0 && data[0] == 1:
		subscribe, topic = true, data[1:]
	case len(data) > 0 && data[0] == 0:
		subscribe, topic = false, data[1:]
	default:
		// Not a subscription message; xpub ignores other upstream traffic.
		return
	}

	var notify bool
	if subscribe {
		notify = x.subs.Add(topic, p)
	} else {
		notify = x.subs.Rm(topic, p)
	}
	if notify {
		out := make([]byte, len(topic)+1)
		if subscribe {
			out[0] = 1
		}
		copy(out[1:], topic)
		x.pending = append(x.pending, msg.NewData(out))
	}
}

func (x *xpubPattern) send(m *msg.Message) error {
	firstPart := !x.moreSend

	if firstPart {
		x.dist.unmatch()
		x.subs.Match(m.Data(), func(p *pipe.Pipe) { x.dist.match(p) })
		if x.b.opts.XPubNoDrop && !x.dist.checkHWM() {
			x.dist.unmatch()
			return errs.ErrAgain
		}
	}
	x.moreSend = m.HasMore()

	x.dist.sendToMatching(m)
	*m = msg.New()
	return nil
}

func (x *xpubPattern) recv(m *msg.Message) error {
	if len(x.pending) == 0 {
		return errs.ErrAgain
	}
	m.Close()
	*m = x.pending[0]
	x.pending = x.pending[1:]
	return nil
}

func (x *xpubPattern) hasIn() bool  { return len(x.pending) > 0 }
func (x *xpubPattern) hasOut() bool { return x.dist.hasOut() }

func (x *xpubPattern) readActivated(p *pipe.Pipe)  { x.readFromPipe(p) }
func (x *xpubPattern) writeActivated(p *pipe.Pipe) { x.dist.activated(p) }
func (x *xpubPattern) hiccuped(*pipe.Pipe)         {}

func (x *xpubPattern) pipeTerminated(p *pipe.Pipe) {
	// Unsubscribe everything the departed peer held.
	x.subs.RmValue(p, func([]byte) {})
	x.dist.terminated(p)
}

// getOption implements patternOptions.
func (x *xpubPattern) getOption(opt Option) (any, bool) {
	if opt == TopicsCount {
		return x.subs.Count(), true
	}
	return nil, false
}

func (x *xpubPattern) setOption(Option, any) error { return errs.ErrInval }

// xsubPattern is the connect-side subscribe socket: it fair-queues inbound
// messages, filters them against the local subscription set, and forwards
// (un)subscriptions upstream on every pipe.
type xsubPattern struct {
	b    *Base
	fq   fq
	dist dist
	subs *trie.Trie[struct{}]

	// filter drops non-matching messages locally (SUB); XSUB passes all.
	filter bool

	hasMessage bool
	message    msg.Message
	moreSend   bool
	moreRecv   bool
	processSub bool
}

func newXSub(b *Base) pattern {
	return &xsubPattern{b: b, subs: trie.New[struct{}]()}
}

// subPattern restricts the API to Subscribe/Unsubscribe options.
type subPattern struct {
	xsubPattern
}

func newSub(b *Base) pattern {
	s := &subPattern{xsubPattern{b: b, subs: trie.New[struct{}]()}}
	s.filter = true
	return s
}

func (s *subPattern) send(*msg.Message) error { return errs.ErrFSM }
func (s *subPattern) hasOut() bool            { return false }

func (x *xsubPattern) attachPipe(p *pipe.Pipe, _ bool) {
	x.fq.attach(p)
	x.dist.attach(p)
	// Replay the cached subscriptions to the new publisher.
	x.sendAllSubscriptions(p)
}

func (x *xsubPattern) sendAllSubscriptions(p *pipe.Pipe) {
	x.subs.Apply(func(topic []byte) {
		m := msg.NewSubscribe(topic)
		// Reaching the water mark drops the subscription, matching what a
		// full pipe does to option-set subscriptions.
		if !p.Write(m) {
			m.Close()
		}
	})
	p.Flush()
}

func (x *xsubPattern) send(m *msg.Message) error {
	size := m.Len()
	data := m.Data()

	firstPart := !x.moreSend
	x.moreSend = m.HasMore()

	if firstPart {
		x.processSub = !x.b.opts.OnlyFirstSubscribe
	} else if !x.processSub {
		return x.dist.sendToAll(m)
	}

	switch {
	case m.IsSubscribe() || (size > 0 && data[0] == 1):
		topic := data
		if !m.IsSubscribe() {
			topic = data[1:]
		}
		x.processSub = true
		x.subs.Add(topic, struct{}{})
		return x.dist.sendToAll(m)

	case m.IsCancel() || (size > 0 && data[0] == 0):
		topic := data
		if !m.IsCancel() {
			topic = data[1:]
		}
		x.processSub = true
		removed := x.subs.Rm(topic, struct{}{})
		if removed || x.b.opts.XSubVerboseUnsubscribe {
			return x.dist.sendToAll(m)
		}
		m.Close()
		*m = msg.New()
		return nil

	default:
		// Ordinary upstream traffic.
		return x.dist.sendToAll(m)
	}
}

func (x *xsubPattern) recv(m *msg.Message) error {
	// A message prefetched by hasIn is served first.
	if x.hasMessage {
		m.Close()
		m.Move(&x.message)
		x.hasMessage = false
		x.moreRecv = m.HasMore()
		return nil
	}

	for {
		if err := x.fq.recv(m); err != nil {
			return err
		}
		if x.moreRecv || !x.filter || x.match(m) {
			x.moreRecv = m.HasMore()
			return nil
		}
		// Swallow the remaining parts of the unmatched message.
		for m.HasMore() {
			if err := x.fq.recv(m); err != nil {
				return err
			}
		}
	}
}

func (x *xsubPattern) hasIn() bool {
	if x.moreRecv {
		return true
	}
	if x.hasMessage {
		return true
	}
	for {
		if err := x.fq.recv(&x.message); err != nil {
			return false
		}
		if !x.filter || x.match(&x.message) {
			x.hasMessage = true
			return true
		}
		for x.message.HasMore() {
			if err := x.fq.recv(&x.message); err != nil {
				return false
			}
		}
	}
}

func (x *xsubPattern) match(m *msg.Message) bool {
	return x.subs.Check(m.Data())
}

func (x *xsubPattern) hasOut() bool { return true }

func (x *xsubPattern) readActivated(p *pipe.Pipe)  { x.fq.activated(p) }
func (x *xsubPattern) writeActivated(p *pipe.Pipe) { x.dist.activated(p) }

func (x *xsubPattern) hiccuped(p *pipe.Pipe) {
	// The peer reconnected with empty state; replay the subscriptions.
	x.sendAllSubscriptions(p)
}

func (x *xsubPattern) pipeTerminated(p *pipe.Pipe) {
	x.fq.terminated(p)
	x.dist.terminated(p)
}

// Subscribe adds a topic locally and forwards it upstream.
func (x *xsubPattern) Subscribe(topic []byte) {
	x.subs.Add(topic, struct{}{})
	m := msg.NewSubscribe(topic)
	x.dist.sendToAll(&m)
}

// Unsubscribe removes a topic locally and forwards the cancellation.
func (x *xsubPattern) Unsubscribe(topic []byte) {
	removed := x.subs.Rm(topic, struct{}{})
	if removed || x.b.opts.XSubVerboseUnsubscribe {
		m := msg.NewCancel(topic)
		x.dist.sendToAll(&m)
	}
}

// setOption implements patternOptions.
func (x *xsubPattern) setOption(opt Option, v any) error {
	switch opt {
	case Subscribe:
		x.Subscribe(toBytes(v))
		return nil
	case Unsubscribe:
		x.Unsubscribe(toBytes(v))
		return nil
	}
	return errs.ErrInval
}

func (x *xsubPattern) getOption(opt Option) (any, bool) {
	if opt == TopicsCount {
		return x.subs.Count(), true
	}
	return nil, false
}

func toBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}
