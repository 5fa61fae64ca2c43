//go:build unix && !linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable backend over poll(2).
type pollPoller struct {
	entries map[int]*pollEntry
}

type pollEntry struct {
	fd      int
	events  int16
	handler Handler
	retired bool
}

// New returns the platform poller.
func New() (Poller, error) {
	return &pollPoller{entries: make(map[int]*pollEntry)}, nil
}

func (p *pollPoller) Add(fd int, h Handler) error {
	p.entries[fd] = &pollEntry{fd: fd, handler: h}
	return nil
}

func (p *pollPoller) modify(fd int, set, clear int16) error {
	e, ok := p.entries[fd]
	if !ok || e.retired {
		return unix.ENOENT
	}
	e.events = (e.events | set) &^ clear
	return nil
}

func (p *pollPoller) SetPollIn(fd int) error    { return p.modify(fd, unix.POLLIN, 0) }
func (p *pollPoller) ResetPollIn(fd int) error  { return p.modify(fd, 0, unix.POLLIN) }
func (p *pollPoller) SetPollOut(fd int) error   { return p.modify(fd, unix.POLLOUT, 0) }
func (p *pollPoller) ResetPollOut(fd int) error { return p.modify(fd, 0, unix.POLLOUT) }

func (p *pollPoller) Remove(fd int) error {
	e, ok := p.entries[fd]
	if !ok {
		return unix.ENOENT
	}
	e.retired = true
	delete(p.entries, fd)
	return nil
}

func (p *pollPoller) Load() int { return len(p.entries) }

func (p *pollPoller) Wait(timeout time.Duration) (int, error) {
	fds := make([]unix.PollFd, 0, len(p.entries))
	handlers := make([]*pollEntry, 0, len(p.entries))
	for _, e := range p.entries {
		fds = append(fds, unix.PollFd{Fd: int32(e.fd), Events: e.events})
		handlers = append(handlers, e)
	}

	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, ms)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	dispatched := 0
	for i := range fds {
		e := handlers[i]
		re := fds[i].Revents
		if re == 0 || e.retired {
			continue
		}
		dispatched++
		if re&(unix.POLLIN|unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			e.handler.InEvent()
		}
		if e.retired {
			continue
		}
		if re&unix.POLLOUT != 0 {
			e.handler.OutEvent()
		}
	}
	return dispatched, nil
}

func (p *pollPoller) Close() error { return nil }
