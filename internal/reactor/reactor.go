// Package reactor implements the I/O runtime: one event loop per I/O thread,
// each multiplexing engines over the OS poller, driving a timer set and
// draining a command mailbox whose signaler is registered with the same
// poller. A dedicated reaper reactor walks closed sockets through their
// residual termination off the user thread.
package reactor

import (
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/poller"
)

// Reactor is one I/O thread's event loop.
type Reactor struct {
	mbox   *command.Mailbox
	sig    command.FdSignaler
	poll   poller.Poller
	timers *timerSet
	log    *zap.Logger

	stopping bool
	done     chan struct{}
}

// New creates a reactor; Run must be called on its own goroutine.
func New(log *zap.Logger) (*Reactor, error) {
	sig, err := command.NewFdSignaler()
	if err != nil {
		return nil, err
	}
	p, err := poller.New()
	if err != nil {
		sig.Close()
		return nil, err
	}
	r := &Reactor{
		mbox:   command.NewMailbox(sig),
		sig:    sig,
		poll:   p,
		timers: newTimerSet(),
		log:    log,
		done:   make(chan struct{}),
	}
	if err := p.Add(sig.Fd(), (*mailboxHandler)(r)); err != nil {
		p.Close()
		sig.Close()
		return nil, err
	}
	if err := p.SetPollIn(sig.Fd()); err != nil {
		p.Close()
		sig.Close()
		return nil, err
	}
	return r, nil
}

// mailboxHandler adapts the reactor's command drain to the poller callback.
type mailboxHandler Reactor

func (h *mailboxHandler) InEvent()  { (*Reactor)(h).drainCommands() }
func (h *mailboxHandler) OutEvent() {}

// CommandMailbox implements command.Handler so objects can address the
// reactor itself (Stop).
func (r *Reactor) CommandMailbox() *command.Mailbox { return r.mbox }

// Process implements command.Handler.
func (r *Reactor) Process(cmd command.Command) {
	switch cmd.Type {
	case command.Stop:
		r.stopping = true
	}
}

// Poller exposes the reactor's poller to the engines it owns.
func (r *Reactor) Poller() poller.Poller { return r.poll }

// Load reports how many descriptors this reactor multiplexes (minus its own
// mailbox); the context assigns new engines to the least loaded reactor.
func (r *Reactor) Load() int { return r.poll.Load() - 1 }

// AddTimer schedules sink.TimerEvent(id) after d on this reactor.
func (r *Reactor) AddTimer(d time.Duration, sink TimerSink, id int) uint64 {
	return r.timers.add(d, sink, id)
}

// CancelTimer cancels a timer by token.
func (r *Reactor) CancelTimer(token uint64) {
	r.timers.cancel(token)
}

// Stop asks the reactor to exit its loop.
func (r *Reactor) Stop() {
	command.Post(command.Command{Dest: r, Type: command.Stop})
}

// Run executes the event loop until stopped.
func (r *Reactor) Run() {
	defer close(r.done)
	for !r.stopping {
		if _, err := r.poll.Wait(r.timers.timeout()); err != nil {
			r.log.Error("poller wait failed", zap.Error(err))
			break
		}
		r.timers.execute()
	}
}

// Join blocks until the loop has exited, then releases resources.
func (r *Reactor) Join() {
	<-r.done
	r.poll.Close()
	r.mbox.Close()
}

func (r *Reactor) drainCommands() {
	for {
		cmd, err := r.mbox.Recv(0)
		if err != nil {
			return
		}
		cmd.Dest.Process(cmd)
	}
}
