package reactor

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
)

// Reapable is a closed socket handed to the reaper: the reaper drains its
// mailbox until the socket reports termination via a Reaped command.
type Reapable interface {
	command.Handler
	// StartReaping tells the socket its commands are now processed on the
	// reaper thread; the socket initiates (or resumes) its termination
	// protocol and eventually posts Reaped back to the given handler.
	StartReaping(reaper command.Handler)
	// FinishReaping runs after the reaper dropped the socket's mailbox from
	// its poller; the socket releases the mailbox descriptor.
	FinishReaping()
}

// Reaper drives closed sockets through residual termination off the user
// thread. It is a reactor whose only handles are socket mailbox signalers.
type Reaper struct {
	r *Reactor

	pending int
	term    bool
	log     *zap.Logger
}

// NewReaper creates the reaper; Run must be called on its own goroutine.
func NewReaper(log *zap.Logger) (*Reaper, error) {
	inner, err := New(log)
	if err != nil {
		return nil, err
	}
	return &Reaper{r: inner, log: log}, nil
}

// CommandMailbox implements command.Handler.
func (rp *Reaper) CommandMailbox() *command.Mailbox { return rp.r.mbox }

// Process implements command.Handler.
func (rp *Reaper) Process(cmd command.Command) {
	switch cmd.Type {
	case command.Reap:
		rp.reap(cmd.Object.(Reapable))
	case command.Reaped:
		if s, ok := cmd.Object.(Reapable); ok {
			if sig, ok := s.CommandMailbox().Signaler().(command.FdSignaler); ok {
				rp.r.poll.Remove(sig.Fd())
			}
			s.FinishReaping()
		}
		rp.pending--
		rp.maybeStop()
	case command.Done:
		rp.term = true
		rp.maybeStop()
	case command.Stop:
		rp.r.stopping = true
	}
}

func (rp *Reaper) reap(s Reapable) {
	rp.pending++
	mb := s.CommandMailbox()
	sig, ok := mb.Signaler().(command.FdSignaler)
	if !ok {
		// Socket mailboxes always carry fd signalers; anything else is a
		// programming error worth surfacing loudly.
		rp.log.Error("reaped socket has no pollable mailbox")
		rp.pending--
		return
	}
	h := &reapHandler{mbox: mb}
	if err := rp.r.poll.Add(sig.Fd(), h); err != nil {
		rp.log.Error("reaper failed to adopt socket", zap.Error(err))
		rp.pending--
		return
	}
	rp.r.poll.SetPollIn(sig.Fd())
	s.StartReaping(rp)
	// Commands may already be queued from before adoption.
	h.InEvent()
}

func (rp *Reaper) maybeStop() {
	if rp.term && rp.pending == 0 {
		rp.r.stopping = true
	}
}

// Run executes the reaper loop until all sockets are reaped and Done arrived.
func (rp *Reaper) Run() { rp.r.Run() }

// Join blocks until the loop exits.
func (rp *Reaper) Join() { rp.r.Join() }

// Stop aborts the reaper regardless of pending sockets.
func (rp *Reaper) Stop() { rp.r.Stop() }

// reapHandler drains one adopted socket mailbox inside the reaper loop.
type reapHandler struct {
	mbox *command.Mailbox
}

func (h *reapHandler) InEvent() {
	for {
		cmd, err := h.mbox.Recv(0)
		if err != nil {
			return
		}
		cmd.Dest.Process(cmd)
	}
}

func (h *reapHandler) OutEvent() {}
