// Package courier is a brokerless, multi-transport messaging library. It
// exposes sockets implementing the classic messaging patterns — PAIR,
// PUB/SUB (with the XPUB/XSUB raw forms), REQ/REP, DEALER/ROUTER, and the
// group-based RADIO/DISH — over pluggable transports: tcp, ipc, inproc, ws
// and udp multicast.
//
// A Context owns the I/O thread pool; sockets bind or connect endpoints and
// exchange multipart messages with fair-queued ingress and load-balanced or
// broadcast egress, with credit-based backpressure per connection.
//
//	ctx, _ := courier.NewContext()
//	defer ctx.Term()
//
//	pub, _ := ctx.NewSocket(courier.PUB)
//	pub.Bind("tcp://127.0.0.1:5555")
//
//	sub, _ := ctx.NewSocket(courier.SUB)
//	sub.SetOption(courier.Subscribe, "")
//	sub.Connect("tcp://127.0.0.1:5555")
package courier

import (
	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/core"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/monitoring"
	"github.com/GriffinCanCode/Courier/internal/msg"
)

// SocketType selects a messaging pattern.
type SocketType = core.Type

// Socket pattern types.
const (
	PAIR   = core.PAIR
	PUB    = core.PUB
	SUB    = core.SUB
	XPUB   = core.XPUB
	XSUB   = core.XSUB
	REQ    = core.REQ
	REP    = core.REP
	DEALER = core.DEALER
	ROUTER = core.ROUTER
	RADIO  = core.RADIO
	DISH   = core.DISH
)

// Option re-exports the socket option keys.
type Option = core.Option

// Socket options.
const (
	SndHWM                   = core.SndHWM
	RcvHWM                   = core.RcvHWM
	Linger                   = core.Linger
	SndTimeo                 = core.SndTimeo
	RcvTimeo                 = core.RcvTimeo
	ReconnectIvl             = core.ReconnectIvl
	ReconnectIvlMax          = core.ReconnectIvlMax
	ConnectTimeout           = core.ConnectTimeout
	HandshakeIvl             = core.HandshakeIvl
	ReconnectStopConnRefused = core.ReconnectStopConnRefused
	MaxMsgSize               = core.MaxMsgSize
	Conflate                 = core.Conflate
	XPubNoDrop               = core.XPubNoDrop
	OnlyFirstSubscribe       = core.OnlyFirstSubscribe
	XSubVerboseUnsubscribe   = core.XSubVerboseUnsubscribe
	ReqCorrelate             = core.ReqCorrelate
	ReqRelaxed               = core.ReqRelaxed
	GreedyClub               = core.GreedyClub
	Subscribe                = core.Subscribe
	Unsubscribe              = core.Unsubscribe
	Join                     = core.Join
	Leave                    = core.Leave
	TopicsCount              = core.TopicsCount
	LastEndpoint             = core.LastEndpoint
)

// Sentinel errors, matched with errors.Is.
var (
	ErrAgain        = errs.ErrAgain
	ErrInval        = errs.ErrInval
	ErrMsgSize      = errs.ErrMsgSize
	ErrProto        = errs.ErrProto
	ErrFSM          = errs.ErrFSM
	ErrNotSock      = errs.ErrNotSock
	ErrTerm         = errs.ErrTerm
	ErrHostUnreach  = errs.ErrHostUnreach
	ErrNotConn      = errs.ErrNotConn
	ErrMThread      = errs.ErrMThread
	ErrAddrInUse    = errs.ErrAddrInUse
	ErrAddrNotAvail = errs.ErrAddrNotAvail
)

// Event is an asynchronous monitor notification.
type Event = monitoring.Event

// Config re-exports the context configuration record.
type Config = config.Config

// Context is the process-level root owning the I/O threads and the reaper.
type Context struct {
	inner *core.Context
}

// NewContext creates a context configured from COURIER_* environment
// variables (or defaults).
func NewContext() (*Context, error) {
	return NewContextConfig(nil)
}

// NewContextConfig creates a context with explicit configuration.
func NewContextConfig(cfg *Config) (*Context, error) {
	inner, err := core.NewContext(cfg)
	if err != nil {
		return nil, err
	}
	return &Context{inner: inner}, nil
}

// NewSocket creates a socket of the given pattern type.
func (c *Context) NewSocket(t SocketType) (*Socket, error) {
	b, err := c.inner.NewSocket(t)
	if err != nil {
		return nil, err
	}
	return &Socket{b: b}, nil
}

// Term shuts the context down after every socket has been closed.
func (c *Context) Term() error { return c.inner.Term() }

// Socket is one messaging endpoint.
type Socket struct {
	b *core.Base
}

// Type returns the socket's pattern type.
func (s *Socket) Type() SocketType { return s.b.Type() }

// Bind attaches the socket to a local endpoint, e.g. "tcp://*:5555",
// "ipc:///tmp/sock", "inproc://name", "ws://127.0.0.1:8080/path",
// "udp://239.0.0.1:7500".
func (s *Socket) Bind(endpoint string) error { return s.b.Bind(endpoint) }

// Connect attaches the socket to a remote endpoint.
func (s *Socket) Connect(endpoint string) error { return s.b.Connect(endpoint) }

// Disconnect detaches a connected endpoint.
func (s *Socket) Disconnect(endpoint string) error { return s.b.Disconnect(endpoint) }

// Unbind detaches a bound endpoint.
func (s *Socket) Unbind(endpoint string) error { return s.b.Unbind(endpoint) }

// Send transmits one message part; more marks a non-final part of a
// multipart message.
func (s *Socket) Send(data []byte, more bool) error { return s.b.Send(data, more) }

// SendString transmits one final string part.
func (s *Socket) SendString(data string) error { return s.b.Send([]byte(data), false) }

// SendGroup transmits a single-part message into a RADIO group.
func (s *Socket) SendGroup(group string, data []byte) error {
	m := msg.NewData(data)
	if err := m.SetGroup(group); err != nil {
		return err
	}
	return s.b.SendMsg(&m)
}

// SendMultipart transmits all parts of one message atomically.
func (s *Socket) SendMultipart(parts [][]byte) error {
	for i, part := range parts {
		if err := s.Send(part, i < len(parts)-1); err != nil {
			return err
		}
	}
	return nil
}

// Recv returns the next message part and whether more parts follow.
func (s *Socket) Recv() ([]byte, bool, error) { return s.b.Recv() }

// RecvMultipart returns all parts of the next message.
func (s *Socket) RecvMultipart() ([][]byte, error) {
	var parts [][]byte
	for {
		data, more, err := s.Recv()
		if err != nil {
			return nil, err
		}
		parts = append(parts, data)
		if !more {
			return parts, nil
		}
	}
}

// SetOption changes a socket option.
func (s *Socket) SetOption(opt Option, v any) error { return s.b.SetOption(opt, v) }

// GetOption reads a socket option.
func (s *Socket) GetOption(opt Option) (any, error) { return s.b.GetOption(opt) }

// Monitor returns the socket's asynchronous event stream.
func (s *Socket) Monitor() <-chan Event { return s.b.Monitor() }

// Close starts the socket's shutdown; undelivered messages are handled per
// the Linger option.
func (s *Socket) Close() error { return s.b.Close() }
