// Package engine implements the per-connection drivers that translate wire
// bytes into messages and back. The stream engine is reactor-driven over a
// non-blocking descriptor; the WebSocket and datagram engines are pumped by
// goroutines that re-enter their session's reactor through Exec commands.
//
// An engine never blocks: input is gated by the session pipe's credit and
// output by encoder readiness, mirrored into poller interest.
package engine

import (
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/reactor"
)

// Host is the session-side surface an engine drives. All calls happen on the
// session's reactor goroutine.
type Host interface {
	// PushMsg hands a decoded message to the session; errs.ErrAgain means
	// the pipe is full and the engine must stop reading until RestartInput.
	PushMsg(m msg.Message) error
	// PullMsg fetches the next outbound message; errs.ErrAgain means the
	// engine should stop writing until RestartOutput.
	PullMsg() (msg.Message, error)
	// Flush publishes messages pushed so far.
	Flush()
	// EngineReady reports a completed handshake.
	EngineReady()
	// EngineError reports a fatal connection failure; the session tears the
	// engine down and applies its reconnect policy.
	EngineError(err error)
	// Exec runs fn on the session's reactor goroutine.
	Exec(fn func())
}

// Engine is one connection driver, owned by a single reactor at a time.
type Engine interface {
	// Plug binds the engine to its reactor and session and starts the
	// handshake (when the transport has one).
	Plug(r *reactor.Reactor, h Host)
	// RestartInput resumes reading after a full session pipe drained.
	RestartInput()
	// RestartOutput resumes writing after new outbound messages arrived.
	RestartOutput()
	// Terminate stops the engine and releases the connection.
	Terminate()
}
