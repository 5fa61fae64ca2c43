//go:build linux

package command

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// eventfdSignaler wakes consumers through an eventfd, letting a reactor fold
// command wake-ups into its poller wait.
type eventfdSignaler struct {
	fd int
}

// NewFdSignaler returns the platform fd-backed signaler.
func NewFdSignaler() (FdSignaler, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &eventfdSignaler{fd: fd}, nil
}

func (s *eventfdSignaler) Fd() int { return s.fd }

func (s *eventfdSignaler) Signal() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(s.fd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (s *eventfdSignaler) Wait(timeout time.Duration) error {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	for {
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
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

func (s *eventfdSignaler) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(s.fd, buf[:])
		if err != unix.EINTR {
			return
		}
	}
}

func (s *eventfdSignaler) Close() error { return unix.Close(s.fd) }
