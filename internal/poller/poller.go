// Package poller abstracts OS readiness notification behind a small
// capability so reactors stay backend-agnostic: epoll on Linux, poll
// elsewhere. Handlers run on the reactor goroutine that calls Wait.
package poller

import "time"

// Handler receives readiness callbacks for one registered descriptor.
type Handler interface {
	// InEvent fires when the descriptor is readable (or has an error; error
	// conditions are delivered as readability so the owner reads the failure).
	InEvent()
	// OutEvent fires when the descriptor is writable.
	OutEvent()
}

// Poller multiplexes descriptor readiness. Not safe for concurrent use: all
// calls happen on the owning reactor goroutine.
type Poller interface {
	// Add registers fd with no events armed.
	Add(fd int, h Handler) error
	// SetPollIn, ResetPollIn, SetPollOut and ResetPollOut arm or disarm the
	// respective readiness interest.
	SetPollIn(fd int) error
	ResetPollIn(fd int) error
	SetPollOut(fd int) error
	ResetPollOut(fd int) error
	// Remove unregisters fd.
	Remove(fd int) error
	// Wait blocks until readiness or timeout and dispatches the callbacks.
	// A negative timeout blocks indefinitely. Returns the number of
	// descriptors dispatched.
	Wait(timeout time.Duration) (int, error)
	// Load reports the number of registered descriptors; contexts use it to
	// pick the least loaded I/O thread.
	Load() int
	Close() error
}
