package command

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/queue"
)

// Commands are batched in small chunks; command traffic is bursty but light.
const mailboxGranularity = 16

// Signaler wakes a sleeping mailbox consumer. The channel implementation
// serves user-thread sockets; the fd implementation plugs into a reactor's
// poller.
type Signaler interface {
	// Signal posts one wake-up. It never blocks.
	Signal()
	// Wait blocks until a wake-up arrives or the timeout elapses. A negative
	// timeout blocks indefinitely. Returns errs.ErrAgain on timeout.
	Wait(timeout time.Duration) error
	// Drain consumes pending wake-ups without blocking.
	Drain()
	Close() error
}

// Mailbox is the single-consumer command queue of one object owner. Any
// thread may Send; exactly one drains via Recv.
type Mailbox struct {
	pipe *queue.YPipe[Command]
	sig  Signaler

	// Serialises writers; the underlying pipe is single-producer.
	sync.Mutex

	// True while the consumer is extracting commands without sleeping.
	// Consumer-side only.
	active bool
}

// NewMailbox returns a mailbox waking consumers through sig.
func NewMailbox(sig Signaler) *Mailbox {
	m := &Mailbox{
		pipe: queue.NewYPipe[Command](mailboxGranularity),
		sig:  sig,
	}
	// Put the pipe into passive state so the very first Send signals even
	// though no consumer has slept on it yet.
	m.pipe.CheckRead()
	return m
}

// Signaler exposes the mailbox's wake-up primitive so a reactor can register
// its file descriptor with the poller.
func (m *Mailbox) Signaler() Signaler { return m.sig }

// Send enqueues cmd, waking the consumer if it sleeps.
func (m *Mailbox) Send(cmd Command) {
	m.Lock()
	m.pipe.Write(cmd, false)
	ok := m.pipe.Flush()
	m.Unlock()
	if !ok {
		m.sig.Signal()
	}
}

// Recv dequeues one command. With a zero timeout it polls; with a negative
// timeout it blocks until a command arrives. Returns errs.ErrAgain when no
// command is available within the timeout.
func (m *Mailbox) Recv(timeout time.Duration) (Command, error) {
	// Try to get the command straight away.
	if m.active {
		if cmd, ok := m.pipe.Read(); ok {
			return cmd, nil
		}
		// The pipe is empty; go to sleep (Read already announced it).
		m.active = false
	}

	if err := m.sig.Wait(timeout); err != nil {
		return Command{}, err
	}
	m.sig.Drain()
	m.active = true

	cmd, ok := m.pipe.Read()
	if !ok {
		return Command{}, errs.ErrAgain
	}
	return cmd, nil
}

// Close releases the signaler.
func (m *Mailbox) Close() error { return m.sig.Close() }
