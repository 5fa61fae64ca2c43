package command

import (
	"time"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// FdSignaler is a Signaler backed by a file descriptor, so a reactor can wait
// for commands and I/O readiness in a single poller call.
type FdSignaler interface {
	Signaler
	Fd() int
}

// chanSignaler wakes consumers through a 1-slot channel. Used by user-thread
// socket mailboxes, where the consumer blocks in Go code rather than a poller.
type chanSignaler struct {
	ch chan struct{}
}

// NewChanSignaler returns a channel-backed signaler.
func NewChanSignaler() Signaler {
	return &chanSignaler{ch: make(chan struct{}, 1)}
}

func (s *chanSignaler) Signal() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

func (s *chanSignaler) Wait(timeout time.Duration) error {
	if timeout < 0 {
		<-s.ch
		// Put the token back so Drain sees a consistent state.
		s.Signal()
		return nil
	}
	if timeout == 0 {
		select {
		case <-s.ch:
			s.Signal()
			return nil
		default:
			return errs.ErrAgain
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-s.ch:
		s.Signal()
		return nil
	case <-t.C:
		return errs.ErrAgain
	}
}

func (s *chanSignaler) Drain() {
	select {
	case <-s.ch:
	default:
	}
}

func (s *chanSignaler) Close() error { return nil }
