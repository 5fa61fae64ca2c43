//go:build unix && !linux

package command

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// pipeSignaler is the self-pipe fallback for platforms without eventfd.
type pipeSignaler struct {
	r, w int
}

// NewFdSignaler returns the platform fd-backed signaler.
func NewFdSignaler() (FdSignaler, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, err
		}
	}
	return &pipeSignaler{r: fds[0], w: fds[1]}, nil
}

func (s *pipeSignaler) Fd() int { return s.r }

func (s *pipeSignaler) Signal() {
	buf := []byte{1}
	for {
		_, err := unix.Write(s.w, buf)
		if err != unix.EINTR {
			return
		}
	}
}

func (s *pipeSignaler) Wait(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	for {
		fds := []unix.PollFd{{Fd: int32(s.r), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errs.ErrAgain
		}
		return nil
	}
}

func (s *pipeSignaler) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.r, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (s *pipeSignaler) Close() error {
	unix.Close(s.w)
	return unix.Close(s.r)
}
