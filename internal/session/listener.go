package session

import (
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/engine"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/monitoring"
	"github.com/GriffinCanCode/Courier/internal/reactor"
	"github.com/GriffinCanCode/Courier/internal/transport"
)

// Listener owns one bound stream endpoint on an I/O reactor and spawns an
// accepted session per inbound connection.
type Listener struct {
	r    *reactor.Reactor
	sock command.Handler
	opts config.Options
	log  *zap.Logger
	mon  *monitoring.Emitter

	scheme string
	ln     transport.StreamListener

	closed bool
}

// NewListener wraps a bound stream listener; the socket posts Plug to start
// accepting.
func NewListener(r *reactor.Reactor, sock command.Handler, opts config.Options,
	scheme string, ln transport.StreamListener, log *zap.Logger, mon *monitoring.Emitter) *Listener {
	return &Listener{
		r:      r,
		sock:   sock,
		opts:   opts,
		log:    log,
		mon:    mon,
		scheme: scheme,
		ln:     ln,
	}
}

// Addr returns the effective bound endpoint.
func (l *Listener) Addr() string { return l.ln.Addr() }

// CommandMailbox implements command.Handler.
func (l *Listener) CommandMailbox() *command.Mailbox { return l.r.CommandMailbox() }

// Process implements command.Handler.
func (l *Listener) Process(cmd command.Command) {
	switch cmd.Type {
	case command.Plug:
		l.plug()
	case command.Term:
		l.terminate()
	}
}

func (l *Listener) plug() {
	p := l.r.Poller()
	if err := p.Add(l.ln.Fd(), l); err != nil {
		l.log.Error("listener plug failed", zap.Error(err))
		return
	}
	p.SetPollIn(l.ln.Fd())
	l.mon.Emit(monitoring.Event{Type: monitoring.EventListening, Endpoint: l.Addr()})
}

// InEvent implements poller.Handler: drain the accept backlog.
func (l *Listener) InEvent() {
	for {
		fd, err := l.ln.Accept()
		if errors.Is(err, errs.ErrAgain) {
			return
		}
		if err != nil {
			l.mon.Emit(monitoring.Event{Type: monitoring.EventAcceptFailed, Endpoint: l.Addr(), Err: err})
			return
		}
		monitoring.Default().AcceptsTotal.WithLabelValues(l.scheme).Inc()
		l.mon.Emit(monitoring.Event{Type: monitoring.EventAccepted, Endpoint: l.Addr()})

		eng := engine.NewStream(fd, l.opts, true, l.log)
		s := NewAccepted(l.r, l.sock, l.opts, KindStream, l.Addr(), eng, l.log, l.mon)
		s.plugEngine()
	}
}

// OutEvent implements poller.Handler.
func (l *Listener) OutEvent() {}

func (l *Listener) terminate() {
	if l.closed {
		return
	}
	l.closed = true
	l.r.Poller().Remove(l.ln.Fd())
	l.ln.Close()
	l.mon.Emit(monitoring.Event{Type: monitoring.EventClosed, Endpoint: l.Addr()})
	command.Post(command.Command{Dest: l.sock, Type: command.TermAck, Object: l})
}

// WSAcceptor serves a WebSocket endpoint through a pump goroutine; accepted
// connections become pumped sessions on the reactor.
type WSAcceptor struct {
	r    *reactor.Reactor
	sock command.Handler
	opts config.Options
	log  *zap.Logger
	mon  *monitoring.Emitter

	ln     *transport.WSListener
	closed bool
}

// NewWSAcceptor wraps a bound WebSocket listener.
func NewWSAcceptor(r *reactor.Reactor, sock command.Handler, opts config.Options,
	ln *transport.WSListener, log *zap.Logger, mon *monitoring.Emitter) *WSAcceptor {
	return &WSAcceptor{r: r, sock: sock, opts: opts, log: log, mon: mon, ln: ln}
}

// Addr returns the effective bound endpoint.
func (a *WSAcceptor) Addr() string { return a.ln.Addr() }

// CommandMailbox implements command.Handler.
func (a *WSAcceptor) CommandMailbox() *command.Mailbox { return a.r.CommandMailbox() }

// Process implements command.Handler.
func (a *WSAcceptor) Process(cmd command.Command) {
	switch cmd.Type {
	case command.Plug:
		a.mon.Emit(monitoring.Event{Type: monitoring.EventListening, Endpoint: a.Addr()})
		go a.acceptLoop()
	case command.Term:
		a.terminate()
	case command.Exec:
		if cmd.Fn != nil {
			cmd.Fn()
		}
	}
}

func (a *WSAcceptor) acceptLoop() {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		command.Post(command.Command{Dest: a, Type: command.Exec, Fn: func() {
			if a.closed {
				conn.Close()
				return
			}
			monitoring.Default().AcceptsTotal.WithLabelValues(transport.SchemeWS).Inc()
			a.mon.Emit(monitoring.Event{Type: monitoring.EventAccepted, Endpoint: a.Addr()})
			eng := engine.NewWS(conn, a.opts, a.log)
			s := NewAccepted(a.r, a.sock, a.opts, KindWS, a.Addr(), eng, a.log, a.mon)
			s.plugEngine()
		}})
	}
}

func (a *WSAcceptor) terminate() {
	if a.closed {
		return
	}
	a.closed = true
	a.ln.Close()
	a.mon.Emit(monitoring.Event{Type: monitoring.EventClosed, Endpoint: a.Addr()})
	command.Post(command.Command{Dest: a.sock, Type: command.TermAck, Object: a})
}
