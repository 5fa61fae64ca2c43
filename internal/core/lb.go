package core

import (
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// lb is the load-balanced egress selector, the mirror image of fq: the
// cursor walks the active write-pipes, a full pipe swaps to inactive, and
// MORE pins the cursor until the final part so multipart messages stay on
// one pipe.
type lb struct {
	pipes    []*pipe.Pipe
	active   int
	current  int
	more     bool
	dropping bool
}

func (l *lb) attach(p *pipe.Pipe) {
	l.pipes = append(l.pipes, p)
	l.swap(l.active, len(l.pipes)-1)
	l.active++
}

func (l *lb) terminated(p *pipe.Pipe) {
	i := l.index(p)
	if i < 0 {
		return
	}
	if i == l.current && l.more {
		// The rest of the in-flight multipart has nowhere to go.
		l.dropping = true
	}
	if i < l.active {
		l.active--
		l.swap(i, l.active)
		if l.current == l.active {
			l.current = 0
		}
		i = l.active
	}
	l.pipes = append(l.pipes[:i], l.pipes[i+1:]...)
}

func (l *lb) activated(p *pipe.Pipe) {
	i := l.index(p)
	if i < 0 || i < l.active {
		return
	}
	l.swap(i, l.active)
	l.active++
}

func (l *lb) send(m *msg.Message) error {
	return l.sendPipe(m, nil)
}

func (l *lb) sendPipe(m *msg.Message, out **pipe.Pipe) error {
	// Drop the remainder of a multipart whose pipe died mid-message.
	if l.dropping {
		l.more = m.HasMore()
		l.dropping = l.more
		m.Close()
		return nil
	}

	for l.active > 0 {
		cur := l.pipes[l.current]
		if cur.Write(*m) {
			if out != nil {
				*out = cur
			}
			l.more = m.HasMore()
			if !l.more {
				cur.Flush()
				if l.active > 0 {
					l.current = (l.current + 1) % l.active
				}
			}
			*m = msg.New()
			return nil
		}

		if l.more {
			// Mid-message overflow: withdraw the written parts and swallow
			// what remains of this message.
			cur.Rollback()
			cur.Flush()
			l.dropping = m.HasMore()
			l.more = false
			m.Close()
			return nil
		}

		l.active--
		l.swap(l.current, l.active)
		if l.current == l.active {
			l.current = 0
		}
	}

	return errs.ErrAgain
}

func (l *lb) hasOut() bool {
	if l.more {
		return true
	}
	for l.active > 0 {
		if l.pipes[l.current].CheckWrite() {
			return true
		}
		l.active--
		l.swap(l.current, l.active)
		if l.current == l.active {
			l.current = 0
		}
	}
	return false
}

func (l *lb) swap(i, j int) {
	if i != j {
		l.pipes[i], l.pipes[j] = l.pipes[j], l.pipes[i]
	}
}

func (l *lb) index(p *pipe.Pipe) int {
	for i, q := range l.pipes {
		if q == p {
			return i
		}
	}
	return -1
}
