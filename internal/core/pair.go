package core

import (
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// pairPattern connects exactly two peers over one pipe.
type pairPattern struct {
	b *Base
	p *pipe.Pipe
}

func newPair(b *Base) pattern { return &pairPattern{b: b} }

func (pp *pairPattern) attachPipe(p *pipe.Pipe, _ bool) {
	if pp.p != nil {
		// A PAIR socket accepts exactly one peer; the latecomer is shut
		// down through the normal handshake.
		p.Terminate(false)
		return
	}
	pp.p = p
}

func (pp *pairPattern) send(m *msg.Message) error {
	if pp.p == nil || !pp.p.Write(*m) {
		return errs.ErrAgain
	}
	if !m.HasMore() {
		pp.p.Flush()
	}
	*m = msg.New()
	return nil
}

func (pp *pairPattern) recv(m *msg.Message) error {
	if pp.p == nil {
		return errs.ErrAgain
	}
	got, ok := pp.p.Read()
	if !ok {
		return errs.ErrAgain
	}
	m.Close()
	*m = got
	return nil
}

func (pp *pairPattern) hasIn() bool  { return pp.p != nil && pp.p.CheckRead() }
func (pp *pairPattern) hasOut() bool { return pp.p != nil && pp.p.CheckWrite() }

func (pp *pairPattern) readActivated(*pipe.Pipe)  {}
func (pp *pairPattern) writeActivated(*pipe.Pipe) {}
func (pp *pairPattern) hiccuped(*pipe.Pipe)       {}

func (pp *pairPattern) pipeTerminated(p *pipe.Pipe) {
	if pp.p == p {
		pp.p = nil
	}
}
