// Package command implements the cross-thread control plane: the command
// vocabulary, the single-consumer mailbox each object owner drains, and the
// signalers that wake a sleeping consumer.
//
// Commands destined to the same mailbox are delivered FIFO. Cross-mailbox
// ordering is not guaranteed; protocols that need causality rely on the
// owning-thread discipline (exactly one thread mutates a given object).
package command

import "time"

// Type enumerates every command carried by the bus.
type Type uint8

const (
	// Stop tells an I/O thread to terminate itself.
	Stop Type = iota
	// Plug makes an I/O object register with its I/O thread.
	Plug
	// Own informs a socket about a newly created owned object.
	Own
	// Attach hands a ready engine to a session; a nil engine reports a
	// failed connect.
	Attach
	// Bind establishes pipes between a session and its socket.
	Bind
	// ActivateRead wakes a dormant pipe reader.
	ActivateRead
	// ActivateWrite carries the reader's message count back to the writer.
	ActivateWrite
	// Hiccup tells the writer its inbound pipe was replaced after reconnect.
	Hiccup
	// PipeTerm asks the pipe peer to terminate its end.
	PipeTerm
	// PipeTermAck acknowledges PipeTerm.
	PipeTermAck
	// PipeHWM adjusts water marks on an existing pipe.
	PipeHWM
	// TermReq asks the owner to shut down an owned object.
	TermReq
	// Term starts the shutdown of an I/O object.
	Term
	// TermAck acknowledges completed shutdown to the owner.
	TermAck
	// TermEndpoint asks a socket to disconnect an endpoint.
	TermEndpoint
	// Reap transfers a closed socket to the reaper thread.
	Reap
	// Reaped notifies the reaper the socket finished deallocation.
	Reaped
	// InprocConnected notifies a connecting socket that its pending inproc
	// endpoint was bound.
	InprocConnected
	// ConnFailed notifies a session that its connect attempt failed for good.
	ConnFailed
	// PipePeerStats and PipeStatsPublish carry queue depth probes.
	PipePeerStats
	PipeStatsPublish
	// Done signals the reaper it may stop once everything is reaped.
	Done
	// Exec runs a closure on the destination's owner thread. Pumped engines
	// use it to re-enter their session's reactor from blocking I/O
	// goroutines.
	Exec
)

var typeNames = [...]string{
	"stop", "plug", "own", "attach", "bind", "activate_read", "activate_write",
	"hiccup", "pipe_term", "pipe_term_ack", "pipe_hwm", "term_req", "term",
	"term_ack", "term_endpoint", "reap", "reaped", "inproc_connected",
	"conn_failed", "pipe_peer_stats", "pipe_stats_publish", "done", "exec",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "unknown"
}

// Handler is an object that can receive commands. Its mailbox identifies the
// thread that owns it; only that thread invokes Process.
type Handler interface {
	Process(Command)
	CommandMailbox() *Mailbox
}

// Command is one control message. The payload fields are a flattened union;
// which ones are meaningful depends on Type.
type Command struct {
	Dest Handler
	Type Type

	// ActivateWrite
	MsgsRead uint64
	// Hiccup, Bind, PipeHWM
	Pipe any
	// Own, Attach, TermReq, Reap
	Object any
	// Term
	Linger time.Duration
	// TermEndpoint
	Endpoint string
	// PipeHWM
	InHWM, OutHWM int
	// Exec
	Fn func()
}

// Post delivers cmd to its destination's mailbox.
func Post(cmd Command) {
	cmd.Dest.CommandMailbox().Send(cmd)
}
