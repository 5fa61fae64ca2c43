package core

import (
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// radioPattern broadcasts single-part messages tagged with a group name;
// filtering happens on the receiving dish.
type radioPattern struct {
	b    *Base
	dist dist
}

func newRadio(b *Base) pattern { return &radioPattern{b: b} }

func (r *radioPattern) attachPipe(p *pipe.Pipe, _ bool) { r.dist.attach(p) }

func (r *radioPattern) send(m *msg.Message) error {
	// Group messages are atomic; multipart does not exist on the radio.
	if m.HasMore() {
		return errs.ErrInval
	}
	return r.dist.sendToAll(m)
}

func (r *radioPattern) recv(*msg.Message) error { return errs.ErrFSM }
func (r *radioPattern) hasIn() bool             { return false }
func (r *radioPattern) hasOut() bool            { return r.dist.hasOut() }

func (r *radioPattern) readActivated(*pipe.Pipe)    {}
func (r *radioPattern) writeActivated(p *pipe.Pipe) { r.dist.activated(p) }
func (r *radioPattern) hiccuped(*pipe.Pipe)         {}
func (r *radioPattern) pipeTerminated(p *pipe.Pipe) { r.dist.terminated(p) }

// dishPattern fair-queues inbound group messages and delivers only those
// whose group the application joined.
type dishPattern struct {
	b      *Base
	fq     fq
	groups map[string]struct{}

	hasMessage bool
	message    msg.Message
}

func newDish(b *Base) pattern {
	return &dishPattern{b: b, groups: make(map[string]struct{})}
}

func (d *dishPattern) attachPipe(p *pipe.Pipe, _ bool) { d.fq.attach(p) }

func (d *dishPattern) send(*msg.Message) error { return errs.ErrFSM }

func (d *dishPattern) recv(m *msg.Message) error {
	if d.hasMessage {
		m.Close()
		m.Move(&d.message)
		d.hasMessage = false
		return nil
	}
	return d.recvMatching(m)
}

func (d *dishPattern) recvMatching(m *msg.Message) error {
	for {
		if err := d.fq.recv(m); err != nil {
			return err
		}
		if _, ok := d.groups[m.Group()]; ok {
			return nil
		}
		m.Close()
	}
}

func (d *dishPattern) hasIn() bool {
	if d.hasMessage {
		return true
	}
	if err := d.recvMatching(&d.message); err != nil {
		return false
	}
	d.hasMessage = true
	return true
}

func (d *dishPattern) hasOut() bool { return false }

func (d *dishPattern) readActivated(p *pipe.Pipe)  { d.fq.activated(p) }
func (d *dishPattern) writeActivated(*pipe.Pipe)   {}
func (d *dishPattern) hiccuped(*pipe.Pipe)         {}
func (d *dishPattern) pipeTerminated(p *pipe.Pipe) { d.fq.terminated(p) }

// setOption implements patternOptions: Join and Leave manage the group set.
func (d *dishPattern) setOption(opt Option, v any) error {
	group, ok := v.(string)
	if !ok || len(group) > msg.MaxGroupLen {
		return errs.ErrInval
	}
	switch opt {
	case Join:
		if _, dup := d.groups[group]; dup {
			return errs.ErrInval
		}
		d.groups[group] = struct{}{}
		return nil
	case Leave:
		if _, present := d.groups[group]; !present {
			return errs.ErrInval
		}
		delete(d.groups, group)
		return nil
	}
	return errs.ErrInval
}

func (d *dishPattern) getOption(Option) (any, bool) { return nil, false }
