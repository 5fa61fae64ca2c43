// Package errs defines the sentinel errors surfaced by the messaging core.
//
// Every error that crosses the public API boundary is one of these values,
// possibly wrapped with context via fmt.Errorf("...: %w", err). Callers match
// with errors.Is.
package errs

import "errors"

var (
	// ErrAgain indicates a non-blocking operation could not complete now.
	ErrAgain = errors.New("resource temporarily unavailable")
	// ErrInval indicates an invalid argument or option value.
	ErrInval = errors.New("invalid argument")
	// ErrMsgSize indicates a message exceeded the configured maximum size.
	ErrMsgSize = errors.New("message too large")
	// ErrProto indicates a wire protocol violation from a peer.
	ErrProto = errors.New("protocol error")
	// ErrFSM indicates an operation not permitted in the socket's current state.
	ErrFSM = errors.New("operation cannot be performed in current state")
	// ErrNotSock indicates an operation on a closed or invalid socket.
	ErrNotSock = errors.New("not a valid socket")
	// ErrTerm indicates the context is shutting down.
	ErrTerm = errors.New("context terminated")
	// ErrHostUnreach indicates the peer is unreachable (routable patterns).
	ErrHostUnreach = errors.New("host unreachable")
	// ErrNotConn indicates there is no connected peer.
	ErrNotConn = errors.New("not connected")
	// ErrMThread indicates no I/O thread is available.
	ErrMThread = errors.New("no I/O thread available")
	// ErrAddrInUse indicates the endpoint is already bound.
	ErrAddrInUse = errors.New("address in use")
	// ErrAddrNotAvail indicates the endpoint cannot be bound on this host.
	ErrAddrNotAvail = errors.New("address not available")
	// ErrConnRefused indicates the peer actively refused the connection.
	ErrConnRefused = errors.New("connection refused")
)
