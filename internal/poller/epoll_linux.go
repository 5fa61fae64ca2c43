//go:build linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux backend, level-triggered.
type epollPoller struct {
	epfd    int
	entries map[int]*epollEntry
	events  []unix.EpollEvent
}

type epollEntry struct {
	fd      int
	events  uint32
	handler Handler
	// Deferred removal: Remove during dispatch must not free an entry a
	// pending event still points at.
	retired bool
}

// New returns the platform poller.
func New() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{
		epfd:    epfd,
		entries: make(map[int]*epollEntry),
		events:  make([]unix.EpollEvent, 64),
	}, nil
}

func (p *epollPoller) Add(fd int, h Handler) error {
	e := &epollEntry{fd: fd, handler: h}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd)}); err != nil {
		return err
	}
	p.entries[fd] = e
	return nil
}

func (p *epollPoller) modify(fd int, set, clear uint32) error {
	e, ok := p.entries[fd]
	if !ok || e.retired {
		return unix.ENOENT
	}
	e.events = (e.events | set) &^ clear
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd,
		&unix.EpollEvent{Fd: int32(fd), Events: e.events})
}

func (p *epollPoller) SetPollIn(fd int) error    { return p.modify(fd, unix.EPOLLIN, 0) }
func (p *epollPoller) ResetPollIn(fd int) error  { return p.modify(fd, 0, unix.EPOLLIN) }
func (p *epollPoller) SetPollOut(fd int) error   { return p.modify(fd, unix.EPOLLOUT, 0) }
func (p *epollPoller) ResetPollOut(fd int) error { return p.modify(fd, 0, unix.EPOLLOUT) }

func (p *epollPoller) Remove(fd int) error {
	e, ok := p.entries[fd]
	if !ok {
		return unix.ENOENT
	}
	e.retired = true
	delete(p.entries, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) Load() int { return len(p.entries) }

func (p *epollPoller) Wait(timeout time.Duration) (int, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, p.events, ms)
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for i := 0; i < n; i++ {
		ev := p.events[i]
		e, ok := p.entries[int(ev.Fd)]
		if !ok || e.retired {
			continue
		}
		dispatched++
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP|unix.EPOLLIN) != 0 {
			e.handler.InEvent()
		}
		if e.retired {
			continue
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			e.handler.OutEvent()
		}
	}
	if n == len(p.events) {
		// Full batch: grow for the next round.
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return dispatched, nil
}

func (p *epollPoller) Close() error { return unix.Close(p.epfd) }
