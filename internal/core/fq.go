package core

import (
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
)

// fq is the fair-queue ingress selector: read-pipes are partitioned into
// active [0,active) and inactive [active,len) regions and served round-robin.
// A pipe that runs dry swaps into the inactive region until its reader-side
// activation arrives; a MORE-marked part pins the cursor so multipart
// messages never interleave.
type fq struct {
	pipes   []*pipe.Pipe
	active  int
	current int
	more    bool
}

func (f *fq) attach(p *pipe.Pipe) {
	f.pipes = append(f.pipes, p)
	f.swap(f.active, len(f.pipes)-1)
	f.active++
}

func (f *fq) terminated(p *pipe.Pipe) {
	i := f.index(p)
	if i < 0 {
		return
	}
	if i < f.active {
		f.active--
		f.swap(i, f.active)
		if f.current == f.active {
			f.current = 0
		}
		i = f.active
	}
	f.pipes = append(f.pipes[:i], f.pipes[i+1:]...)
	if f.current >= f.active && f.active > 0 {
		f.current = 0
	}
}

func (f *fq) activated(p *pipe.Pipe) {
	i := f.index(p)
	if i < 0 || i < f.active {
		return
	}
	f.swap(i, f.active)
	f.active++
}

func (f *fq) recv(m *msg.Message) error {
	return f.recvPipe(m, nil)
}

func (f *fq) recvPipe(m *msg.Message, out **pipe.Pipe) error {
	m.Close()

	for f.active > 0 {
		cur := f.pipes[f.current]
		got, ok := cur.Read()
		if ok {
			if out != nil {
				*out = cur
			}
			*m = got
			f.more = got.HasMore()
			if !f.more {
				f.current = (f.current + 1) % f.active
			}
			return nil
		}

		// A started multipart must be completable without blocking; running
		// dry mid-message would break atomicity.
		if f.more {
			return errs.ErrAgain
		}

		f.active--
		f.swap(f.current, f.active)
		if f.current == f.active {
			f.current = 0
		}
	}

	*m = msg.New()
	return errs.ErrAgain
}

func (f *fq) hasIn() bool {
	if f.more {
		return true
	}
	for f.active > 0 {
		if f.pipes[f.current].CheckRead() {
			return true
		}
		f.active--
		f.swap(f.current, f.active)
		if f.current == f.active {
			f.current = 0
		}
	}
	return false
}

func (f *fq) swap(i, j int) {
	if i != j {
		f.pipes[i], f.pipes[j] = f.pipes[j], f.pipes[i]
	}
}

func (f *fq) index(p *pipe.Pipe) int {
	for i, q := range f.pipes {
		if q == p {
			return i
		}
	}
	return -1
}
