package core

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// dealerPattern: fair-queued ingress, load-balanced egress.
type dealerPattern struct {
	b  *Base
	fq fq
	lb lb
}

func newDealer(b *Base) pattern { return &dealerPattern{b: b} }

func (d *dealerPattern) attachPipe(p *pipe.Pipe, _ bool) {
	d.fq.attach(p)
	d.lb.attach(p)
}

func (d *dealerPattern) send(m *msg.Message) error { return d.lb.send(m) }
func (d *dealerPattern) recv(m *msg.Message) error { return d.fq.recv(m) }
func (d *dealerPattern) hasIn() bool               { return d.fq.hasIn() }
func (d *dealerPattern) hasOut() bool              { return d.lb.hasOut() }

func (d *dealerPattern) readActivated(p *pipe.Pipe)  { d.fq.activated(p) }
func (d *dealerPattern) writeActivated(p *pipe.Pipe) { d.lb.activated(p) }
func (d *dealerPattern) hiccuped(*pipe.Pipe)         {}

func (d *dealerPattern) pipeTerminated(p *pipe.Pipe) {
	d.fq.terminated(p)
	d.lb.terminated(p)
}

// routerPattern: fair-queued ingress with an identity frame prepended to
// each message; egress routed by the leading identity frame.
type routerPattern struct {
	b  *Base
	fq fq

	outPipes map[uint32]*pipe.Pipe

	// Ingress state: the body part stashed while its identity frame is
	// surfaced.
	pendingIn *msg.Message
	moreIn    bool

	// Egress state.
	identExpected bool
	currentOut    *pipe.Pipe
	dropping      bool
}

func newRouter(b *Base) pattern {
	return &routerPattern{
		b:             b,
		outPipes:      make(map[uint32]*pipe.Pipe),
		identExpected: true,
	}
}

// newRoutingID derives a 4-byte routing id; uuids keep ids unique across
// reconnects without coordination.
func newRoutingID() uint32 {
	u := uuid.New()
	id := binary.BigEndian.Uint32(u[:4])
	if id == 0 {
		id = 1
	}
	return id
}

func (r *routerPattern) attachPipe(p *pipe.Pipe, _ bool) {
	id := newRoutingID()
	for _, taken := r.outPipes[id]; taken; _, taken = r.outPipes[id] {
		id = newRoutingID()
	}
	p.SetRoutingID(id)
	r.outPipes[id] = p
	r.fq.attach(p)
}

func (r *routerPattern) recv(m *msg.Message) error {
	// Deliver the stashed body after its identity frame.
	if r.pendingIn != nil {
		m.Close()
		*m = *r.pendingIn
		r.pendingIn = nil
		r.moreIn = m.HasMore()
		return nil
	}
	if r.moreIn {
		if err := r.fq.recv(m); err != nil {
			return err
		}
		r.moreIn = m.HasMore()
		return nil
	}

	var p *pipe.Pipe
	var body msg.Message
	if err := r.fq.recvPipe(&body, &p); err != nil {
		return err
	}

	ident := make([]byte, 4)
	binary.BigEndian.PutUint32(ident, p.RoutingID())
	m.Close()
	*m = msg.NewData(ident)
	m.SetFlags(msg.More)
	r.pendingIn = &body
	return nil
}

func (r *routerPattern) send(m *msg.Message) error {
	if r.identExpected {
		r.identExpected = false
		r.dropping = false
		r.currentOut = nil

		if m.Len() == 4 {
			id := binary.BigEndian.Uint32(m.Data())
			if p, ok := r.outPipes[id]; ok && p.CheckWrite() {
				r.currentOut = p
			}
		}
		if r.currentOut == nil {
			// Unroutable: silently drop the whole message.
			r.dropping = true
		}
		if !m.HasMore() {
			// An identity frame with no body addresses nobody.
			r.identExpected = true
		}
		m.Close()
		*m = msg.New()
		return nil
	}

	last := !m.HasMore()
	if r.dropping {
		m.Close()
	} else if !r.currentOut.Write(*m) {
		// Mid-message overflow: drop the remainder.
		r.currentOut.Rollback()
		r.dropping = true
		m.Close()
	} else if last {
		r.currentOut.Flush()
	}
	if last {
		r.identExpected = true
		r.currentOut = nil
		r.dropping = false
	}
	*m = msg.New()
	return nil
}

func (r *routerPattern) hasIn() bool {
	return r.pendingIn != nil || r.fq.hasIn()
}

func (r *routerPattern) hasOut() bool { return true }

func (r *routerPattern) readActivated(p *pipe.Pipe)  { r.fq.activated(p) }
func (r *routerPattern) writeActivated(*pipe.Pipe)   {}
func (r *routerPattern) hiccuped(*pipe.Pipe)         {}

func (r *routerPattern) pipeTerminated(p *pipe.Pipe) {
	delete(r.outPipes, p.RoutingID())
	r.fq.terminated(p)
	if r.currentOut == p {
		r.dropping = true
		r.currentOut = nil
	}
}

// reqPattern layers strict request-reply alternation and optional request
// correlation over the dealer.
type reqPattern struct {
	dealerPattern

	receivingReply bool
	messageBegins  bool
	requestID      uint32
}

func newReq(b *Base) pattern {
	return &reqPattern{dealerPattern: dealerPattern{b: b}, messageBegins: true}
}

func (r *reqPattern) send(m *msg.Message) error {
	if r.receivingReply {
		if !r.b.opts.ReqRelaxed {
			return errs.ErrFSM
		}
		// Relaxed mode abandons the outstanding request.
		r.receivingReply = false
		r.messageBegins = true
	}

	if r.messageBegins {
		if r.b.opts.ReqCorrelate {
			r.requestID++
			id := make([]byte, 4)
			binary.BigEndian.PutUint32(id, r.requestID)
			idm := msg.NewData(id)
			idm.SetFlags(msg.More)
			if err := r.lb.send(&idm); err != nil {
				return err
			}
		}
		delim := msg.New()
		delim.SetFlags(msg.More)
		if err := r.lb.send(&delim); err != nil {
			return err
		}
		r.messageBegins = false
	}

	last := !m.HasMore()
	if err := r.lb.send(m); err != nil {
		return err
	}
	if last {
		r.receivingReply = true
		r.messageBegins = true
	}
	return nil
}

func (r *reqPattern) recv(m *msg.Message) error {
	if !r.receivingReply {
		return errs.ErrFSM
	}

	for {
		if !r.messageBegins {
			// Mid-body: pass parts straight through.
			if err := r.fq.recv(m); err != nil {
				return err
			}
			if !m.HasMore() {
				r.receivingReply = false
				r.messageBegins = true
			}
			return nil
		}

		// Strip and validate the envelope of a fresh reply.
		if err := r.fq.recv(m); err != nil {
			return err
		}

		if r.b.opts.ReqCorrelate {
			if m.Len() != 4 || !m.HasMore() ||
				binary.BigEndian.Uint32(m.Data()) != r.requestID {
				// Stale or malformed reply: skim and try the next one.
				r.skim(m)
				continue
			}
			if err := r.fq.recv(m); err != nil {
				return err
			}
		}

		// The delimiter separates envelope from body.
		if m.Len() != 0 || !m.HasMore() {
			r.skim(m)
			continue
		}

		if err := r.fq.recv(m); err != nil {
			return err
		}
		if !m.HasMore() {
			r.receivingReply = false
		} else {
			r.messageBegins = false
		}
		return nil
	}
}

// skim discards the remaining parts of a rejected reply.
func (r *reqPattern) skim(m *msg.Message) {
	for m.HasMore() {
		if err := r.fq.recv(m); err != nil {
			return
		}
	}
	m.Close()
}

func (r *reqPattern) hasOut() bool {
	if r.receivingReply && !r.b.opts.ReqRelaxed {
		return false
	}
	return r.lb.hasOut()
}

func (r *reqPattern) hasIn() bool {
	return r.receivingReply && r.fq.hasIn()
}

// repPattern layers reply routing over the router: the request envelope is
// held back on recv and replayed on send.
type repPattern struct {
	routerPattern

	sendingReply  bool
	requestBegins bool
	envelope      []msg.Message
}

func newRep(b *Base) pattern {
	rp := &repPattern{requestBegins: true}
	rp.b = b
	rp.outPipes = make(map[uint32]*pipe.Pipe)
	rp.identExpected = true
	return rp
}

func (r *repPattern) recv(m *msg.Message) error {
	if r.sendingReply {
		return errs.ErrFSM
	}

	if r.requestBegins {
		// Collect the envelope: identity plus anything up to and including
		// the empty delimiter.
		for {
			if err := r.routerPattern.recv(m); err != nil {
				// Rewind so a retry rebuilds the envelope from scratch.
				r.dropEnvelope()
				return err
			}
			part := *m
			*m = msg.New()
			r.envelope = append(r.envelope, part)
			if part.Len() == 0 && !part.IsDelimiter() {
				break
			}
			if !part.HasMore() {
				// Malformed request without delimiter: drop it entirely.
				r.dropEnvelope()
				return errs.ErrAgain
			}
		}
		r.requestBegins = false
	}

	if err := r.routerPattern.recv(m); err != nil {
		return err
	}
	if !m.HasMore() {
		r.sendingReply = true
		r.requestBegins = true
	}
	return nil
}

func (r *repPattern) send(m *msg.Message) error {
	if !r.sendingReply {
		return errs.ErrFSM
	}

	if len(r.envelope) > 0 {
		for i := range r.envelope {
			part := r.envelope[i]
			if err := r.routerPattern.send(&part); err != nil {
				return err
			}
		}
		r.envelope = r.envelope[:0]
	}

	last := !m.HasMore()
	if err := r.routerPattern.send(m); err != nil {
		return err
	}
	if last {
		r.sendingReply = false
	}
	return nil
}

func (r *repPattern) dropEnvelope() {
	for i := range r.envelope {
		r.envelope[i].Close()
	}
	r.envelope = r.envelope[:0]
}

func (r *repPattern) hasIn() bool  { return !r.sendingReply && r.routerPattern.hasIn() }
func (r *repPattern) hasOut() bool { return r.sendingReply }
