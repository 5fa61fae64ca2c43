package core

import (
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// dist is the broadcast distributor used by the publish side. Its pipe list
// is split into four regions:
//
//	[0,matching)        pipes matched for the message in flight
//	[matching,active)   active but unmatched
//	[active,eligible)   eligible but stalled on their high water mark
//	[eligible,len)      joined mid-multipart, not yet eligible
//
// A pipe that refuses a write falls out of the matched and active regions
// until its credit update arrives.
type dist struct {
	pipes    []*pipe.Pipe
	matching int
	active   int
	eligible int
	more     bool
}

func (d *dist) attach(p *pipe.Pipe) {
	d.pipes = append(d.pipes, p)
	if d.more {
		// Joining mid-message: hold the pipe out until the message ends so
		// it never observes a tail without its head.
		d.swap(d.eligible, len(d.pipes)-1)
		d.eligible++
		return
	}
	d.swap(d.eligible, len(d.pipes)-1)
	d.eligible++
	d.swap(d.active, d.eligible-1)
	d.active++
}

// match moves p into the matched region for the current message.
func (d *dist) match(p *pipe.Pipe) {
	i := d.index(p)
	// Only active pipes can match; stalled or immature ones stay out.
	if i < 0 || i < d.matching || i >= d.active {
		return
	}
	d.swap(i, d.matching)
	d.matching++
}

// unmatch resets the matched region.
func (d *dist) unmatch() { d.matching = 0 }

func (d *dist) terminated(p *pipe.Pipe) {
	i := d.index(p)
	if i < 0 {
		return
	}
	if i < d.matching {
		d.swap(i, d.matching-1)
		d.matching--
		i = d.matching
	}
	if i < d.active {
		d.swap(i, d.active-1)
		d.active--
		i = d.active
	}
	if i < d.eligible {
		d.swap(i, d.eligible-1)
		d.eligible--
		i = d.eligible
	}
	d.pipes = append(d.pipes[:i], d.pipes[i+1:]...)
}

// activated returns a stalled pipe to circulation once its credit arrives.
func (d *dist) activated(p *pipe.Pipe) {
	i := d.index(p)
	if i < 0 {
		return
	}
	if i >= d.eligible {
		d.swap(i, d.eligible)
		d.eligible++
		i = d.eligible - 1
	}
	if !d.more && i >= d.active {
		d.swap(i, d.active)
		d.active++
	}
}

// sendToAll distributes to every active pipe.
func (d *dist) sendToAll(m *msg.Message) error {
	d.matching = d.active
	return d.sendToMatching(m)
}

// sendToMatching distributes to the matched region, consuming m.
func (d *dist) sendToMatching(m *msg.Message) error {
	msgMore := m.HasMore()
	d.distribute(m)
	// A terminal part re-admits pipes that joined mid-message.
	if !msgMore {
		d.active = d.eligible
		d.more = false
	} else {
		d.more = true
	}
	return nil
}

func (d *dist) distribute(m *msg.Message) {
	if d.matching == 0 {
		m.Close()
		return
	}
	for i := 0; i < d.matching; {
		if !d.write(d.pipes[i], m) {
			// The failing pipe swapped out of the matched region; the same
			// index now holds a different pipe.
			continue
		}
		i++
	}
	m.Close()
}

// write pushes a reference of m into p; on overflow the pipe loses both its
// matched and active standing until reactivation.
func (d *dist) write(p *pipe.Pipe, m *msg.Message) bool {
	cp := m.Copy()
	if !p.Write(cp) {
		cp.Close()
		d.swap(d.index(p), d.matching-1)
		d.matching--
		d.swap(d.index(p), d.active-1)
		d.active--
		return false
	}
	if !m.HasMore() {
		p.Flush()
	}
	return true
}

// checkHWM reports whether every matched pipe can take a message; the
// no-drop publisher refuses to send otherwise.
func (d *dist) checkHWM() bool {
	for i := 0; i < d.matching; i++ {
		if !d.pipes[i].CheckWrite() {
			return false
		}
	}
	return true
}

func (d *dist) hasOut() bool { return true }

func (d *dist) swap(i, j int) {
	if i != j {
		d.pipes[i], d.pipes[j] = d.pipes[j], d.pipes[i]
	}
}

func (d *dist) index(p *pipe.Pipe) int {
	for i, q := range d.pipes {
		if q == p {
			return i
		}
	}
	return -1
}
