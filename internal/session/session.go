// Package session implements the pattern-side endpoint of one connection. A
// session outlives its engine: when the transport drops, the session keeps
// the pipe toward its socket and schedules reconnects until the peer returns
// or the socket terminates it.
package session

import (
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/engine"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/monitoring"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
	"github.com/GriffinCanCode/Courier/internal/reactor"
	"github.com/GriffinCanCode/Courier/internal/transport"
)

const (
	reconnectTimerID = iota + 1
	connectTimeoutTimerID
	lingerTimerID
)

// Kind selects the engine family a session drives.
type Kind uint8

const (
	// KindStream: tcp/ipc, reactor-driven descriptor engine.
	KindStream Kind = iota
	// KindWS: pumped WebSocket engine.
	KindWS
	// KindRadio and KindDish: pumped datagram chunk engines.
	KindRadio
	KindDish
)

// Session is one connection endpoint owned by an I/O reactor.
type Session struct {
	r    *reactor.Reactor
	sock command.Handler
	opts config.Options
	log  *zap.Logger
	mon  *monitoring.Emitter

	kind        Kind
	scheme      string
	addr        string
	connectSide bool

	pipe *pipe.Pipe
	eng  engine.Engine

	// In-flight non-blocking stream connect.
	pending      *transport.Pending
	connectTimer uint64
	reconTimer   uint64
	lingerTimer  uint64
	attempt      int

	terminating bool
	dead        bool
}

// NewConnect creates a connecting session. The socket attaches the pipe pair
// before posting Plug.
func NewConnect(r *reactor.Reactor, sock command.Handler, opts config.Options,
	kind Kind, scheme, addr string, log *zap.Logger, mon *monitoring.Emitter) *Session {
	return &Session{
		r:           r,
		sock:        sock,
		opts:        opts,
		log:         log,
		mon:         mon,
		kind:        kind,
		scheme:      scheme,
		addr:        addr,
		connectSide: true,
	}
}

// NewAccepted creates a session for an inbound connection; eng is already
// connected.
func NewAccepted(r *reactor.Reactor, sock command.Handler, opts config.Options,
	kind Kind, endpoint string, eng engine.Engine, log *zap.Logger, mon *monitoring.Emitter) *Session {
	return &Session{
		r:    r,
		sock: sock,
		opts: opts,
		log:  log,
		mon:  mon,
		kind: kind,
		addr: endpoint,
		eng:  eng,
	}
}

// Endpoint returns the session's endpoint string.
func (s *Session) Endpoint() string { return s.scheme + "://" + s.addr }

// AttachPipe installs the session end of the socket pipe pair. Called by the
// socket before Plug, or internally for accepted sessions.
func (s *Session) AttachPipe(p *pipe.Pipe) {
	s.pipe = p
	p.SetMailbox(s.r.CommandMailbox())
	p.SetSink(s)
}

// CommandMailbox implements command.Handler: session commands are processed
// on its reactor.
func (s *Session) CommandMailbox() *command.Mailbox { return s.r.CommandMailbox() }

// Process implements command.Handler.
func (s *Session) Process(cmd command.Command) {
	switch cmd.Type {
	case command.Plug:
		s.processPlug()
	case command.Attach:
		if cmd.Object == nil {
			s.retryConnect(errs.ErrConnRefused)
			return
		}
		s.attachEngine(cmd.Object.(engine.Engine))
	case command.Term:
		s.processTerm(cmd.Linger)
	case command.Exec:
		if cmd.Fn != nil {
			cmd.Fn()
		}
	}
}

func (s *Session) processPlug() {
	if s.eng != nil {
		// Accepted session: engine came ready-made.
		s.plugEngine()
		return
	}
	s.startConnect()
}

func (s *Session) plugEngine() {
	if s.pipe == nil {
		s.makePipe()
	}
	s.eng.Plug(s.r, s)
}

// makePipe builds the socket<->session pipe pair and hands the socket its
// end through a Bind command.
func (s *Session) makePipe() {
	sockEnd, sessEnd := pipe.NewPair(
		[2]int{s.opts.RcvHWM, s.opts.SndHWM},
		[2]bool{s.opts.Conflate, false},
	)
	sockEnd.SetMailbox(s.sock.CommandMailbox())
	s.AttachPipe(sessEnd)
	command.Post(command.Command{
		Dest: s.sock, Type: command.Bind, Pipe: sockEnd, Object: s,
	})
}

// --- connect path ---

func (s *Session) startConnect() {
	if s.terminating || s.dead {
		return
	}
	m := monitoring.Default()
	m.ConnectsTotal.WithLabelValues(s.scheme).Inc()

	switch s.kind {
	case KindStream:
		s.startStreamConnect()
	case KindWS:
		go s.dialWS()
	case KindRadio, KindDish:
		s.openDgram()
	}
}

func (s *Session) startStreamConnect() {
	var (
		p   *transport.Pending
		err error
	)
	switch s.scheme {
	case transport.SchemeTCP:
		p, err = transport.ConnectTCP(s.addr)
	case transport.SchemeIPC:
		p, err = transport.ConnectIPC(s.addr)
	default:
		err = errs.ErrInval
	}
	if err != nil {
		s.retryConnect(err)
		return
	}
	s.pending = p
	if err := s.r.Poller().Add(p.Fd(), (*connectHandler)(s)); err != nil {
		p.Abort()
		s.pending = nil
		s.retryConnect(err)
		return
	}
	s.r.Poller().SetPollOut(p.Fd())
	if s.opts.ConnectTimeout > 0 {
		s.connectTimer = s.r.AddTimer(s.opts.ConnectTimeout, s, connectTimeoutTimerID)
	}
	s.mon.Emit(monitoring.Event{Type: monitoring.EventConnectDelayed, Endpoint: s.Endpoint()})
}

// connectHandler receives readiness for the in-flight connect descriptor.
type connectHandler Session

func (h *connectHandler) InEvent()  { (*Session)(h).connectReady() }
func (h *connectHandler) OutEvent() { (*Session)(h).connectReady() }

func (s *Session) connectReady() {
	if s.pending == nil {
		return
	}
	p := s.pending
	s.pending = nil
	s.r.Poller().Remove(p.Fd())
	s.cancelTimer(&s.connectTimer)

	fd, err := p.Finish()
	if err != nil {
		s.retryConnect(err)
		return
	}
	eng := engine.NewStream(fd, s.opts, false, s.log)
	s.attachEngine(eng)
}

// dialWS blocks in its own goroutine; the outcome re-enters the reactor as
// an Attach command (nil engine = failed connect).
func (s *Session) dialWS() {
	timeout := s.opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	conn, err := transport.ConnectWS(s.addr, timeout)
	if err != nil {
		command.Post(command.Command{Dest: s, Type: command.Attach})
		return
	}
	command.Post(command.Command{
		Dest: s, Type: command.Attach, Object: engine.NewWS(conn, s.opts, s.log),
	})
}

func (s *Session) openDgram() {
	var (
		conn *transport.DgramConn
		err  error
	)
	sender := s.kind == KindRadio
	if sender {
		conn, err = transport.OpenRadio(s.addr)
	} else {
		conn, err = transport.OpenDish(s.addr)
	}
	if err != nil {
		s.retryConnect(err)
		return
	}
	s.attachEngine(engine.NewDgram(conn, s.opts, sender, s.log))
}

func (s *Session) attachEngine(eng engine.Engine) {
	if s.terminating || s.dead {
		eng.Terminate()
		return
	}
	s.eng = eng
	s.attempt = 0
	s.plugEngine()
}

// EngineReady implements engine.Host.
func (s *Session) EngineReady() {
	monitoring.Default().ConnectionsActive.Inc()
	s.mon.Emit(monitoring.Event{Type: monitoring.EventHandshakeSucceeded, Endpoint: s.Endpoint()})
	if s.connectSide {
		s.mon.Emit(monitoring.Event{Type: monitoring.EventConnected, Endpoint: s.Endpoint()})
	}
}

// EngineError implements engine.Host: the engine already tore itself down.
func (s *Session) EngineError(err error) {
	if s.eng == nil {
		return
	}
	s.eng = nil
	monitoring.Default().ConnectionsActive.Dec()
	s.mon.Emit(monitoring.Event{Type: monitoring.EventDisconnected, Endpoint: s.Endpoint(), Err: err})
	s.log.Debug("engine failed",
		zap.String("endpoint", s.Endpoint()), zap.Error(err))

	if s.terminating {
		s.finishTerm()
		return
	}
	if !s.connectSide {
		// Accepted sessions die with their connection; the socket unbinds
		// the pipe through the termination handshake.
		s.selfTerminate()
		return
	}

	// Drop half-read multiparts and tell the socket the peer went away so
	// subscription state can be replayed on reconnect.
	if s.pipe != nil {
		s.pipe.Hiccup()
	}
	s.retryConnect(err)
}

func (s *Session) retryConnect(err error) {
	if s.terminating || s.dead {
		return
	}
	if s.opts.ReconnectStopConnRefused && errors.Is(err, errs.ErrConnRefused) {
		s.log.Warn("connect refused, giving up", zap.String("endpoint", s.Endpoint()))
		command.Post(command.Command{Dest: s.sock, Type: command.ConnFailed, Object: s})
		s.selfTerminate()
		return
	}
	ivl := s.reconnectInterval()
	if ivl <= 0 {
		s.startConnect()
		return
	}
	monitoring.Default().Reconnects.Inc()
	s.mon.Emit(monitoring.Event{Type: monitoring.EventConnectRetried, Endpoint: s.Endpoint(), Err: err})
	s.reconTimer = s.r.AddTimer(ivl, s, reconnectTimerID)
}

// reconnectInterval applies exponential backoff capped at ReconnectIvlMax,
// with jitter so herds of peers do not reconnect in lockstep.
func (s *Session) reconnectInterval() time.Duration {
	base := s.opts.ReconnectIvl
	if base <= 0 {
		return 0
	}
	ivl := base << uint(min(s.attempt, 10))
	if s.opts.ReconnectIvlMax > 0 && ivl > s.opts.ReconnectIvlMax {
		ivl = s.opts.ReconnectIvlMax
	}
	s.attempt++
	jitter := time.Duration(rand.Int63n(int64(base) + 1))
	return ivl + jitter
}

// TimerEvent implements reactor.TimerSink.
func (s *Session) TimerEvent(id int) {
	switch id {
	case reconnectTimerID:
		s.reconTimer = 0
		s.startConnect()
	case connectTimeoutTimerID:
		s.connectTimer = 0
		if s.pending != nil {
			p := s.pending
			s.pending = nil
			s.r.Poller().Remove(p.Fd())
			p.Abort()
			s.retryConnect(errs.ErrHostUnreach)
		}
	case lingerTimerID:
		s.lingerTimer = 0
		if s.terminating {
			s.forceFinish()
		}
	}
}

// --- engine.Host data path ---

// PushMsg implements engine.Host.
func (s *Session) PushMsg(m msg.Message) error {
	if s.pipe == nil || !s.pipe.Write(m) {
		return errs.ErrAgain
	}
	return nil
}

// PullMsg implements engine.Host.
func (s *Session) PullMsg() (msg.Message, error) {
	if s.pipe == nil {
		return msg.Message{}, errs.ErrAgain
	}
	m, ok := s.pipe.Read()
	if !ok {
		return msg.Message{}, errs.ErrAgain
	}
	return m, nil
}

// Flush implements engine.Host.
func (s *Session) Flush() {
	if s.pipe != nil {
		s.pipe.Flush()
	}
}

// Exec implements engine.Host.
func (s *Session) Exec(fn func()) {
	command.Post(command.Command{Dest: s, Type: command.Exec, Fn: fn})
}

// --- pipe.EventSink (session end) ---

// ReadActivated: the socket queued messages for us.
func (s *Session) ReadActivated(*pipe.Pipe) {
	if s.eng != nil {
		s.eng.RestartOutput()
	}
}

// WriteActivated: the socket drained; resume the wire.
func (s *Session) WriteActivated(*pipe.Pipe) {
	if s.eng != nil {
		s.eng.RestartInput()
	}
}

// Hiccuped is only meaningful on the socket side.
func (s *Session) Hiccuped(*pipe.Pipe) {}

// PipeTerminated completes the session's half of the termination handshake.
func (s *Session) PipeTerminated(p *pipe.Pipe) {
	if p != s.pipe {
		return
	}
	s.pipe = nil
	if s.terminating {
		s.finishTerm()
	} else {
		s.selfTerminate()
	}
}

// --- termination ---

func (s *Session) processTerm(linger time.Duration) {
	if s.terminating {
		return
	}
	s.terminating = true
	s.cancelTimer(&s.reconTimer)
	s.cancelTimer(&s.connectTimer)
	if s.pending != nil {
		s.r.Poller().Remove(s.pending.Fd())
		s.pending.Abort()
		s.pending = nil
	}

	if s.pipe == nil {
		s.finishTerm()
		return
	}

	// The socket's PipeTerm has already arrived (commands are FIFO), so the
	// pipe is draining toward the delimiter. Zero linger cuts that short
	// and drops whatever is still queued; positive linger bounds the drain
	// with a timer; negative drains fully.
	s.pipe.Terminate(linger != 0)
	if linger > 0 {
		s.lingerTimer = s.r.AddTimer(linger, s, lingerTimerID)
	}
}

// forceFinish aborts a lingering drain.
func (s *Session) forceFinish() {
	if s.pipe != nil {
		s.pipe.Rollback()
		s.pipe.Terminate(false)
	}
	if s.eng != nil {
		eng := s.eng
		s.eng = nil
		eng.Terminate()
		monitoring.Default().ConnectionsActive.Dec()
	}
}

// finishTerm runs when both the pipe and the engine are gone.
func (s *Session) finishTerm() {
	if s.pipe != nil {
		return
	}
	if s.eng != nil {
		eng := s.eng
		s.eng = nil
		eng.Terminate()
		monitoring.Default().ConnectionsActive.Dec()
	}
	if !s.dead {
		s.dead = true
		s.cancelTimer(&s.lingerTimer)
		command.Post(command.Command{Dest: s.sock, Type: command.TermAck, Object: s})
	}
}

// selfTerminate ends a session whose connection or pipe died outside a
// socket-driven shutdown.
func (s *Session) selfTerminate() {
	if s.dead || s.terminating {
		return
	}
	s.terminating = true
	if s.pipe != nil {
		s.pipe.Terminate(false)
		return // finishTerm fires from PipeTerminated
	}
	if s.eng != nil {
		eng := s.eng
		s.eng = nil
		eng.Terminate()
		monitoring.Default().ConnectionsActive.Dec()
	}
	s.dead = true
	command.Post(command.Command{Dest: s.sock, Type: command.TermReq, Object: s})
}

func (s *Session) cancelTimer(tok *uint64) {
	if *tok != 0 {
		s.r.CancelTimer(*tok)
		*tok = 0
	}
}
