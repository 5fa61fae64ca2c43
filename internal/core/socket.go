package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/command"
	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/monitoring"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/pipe"
	"github.com/GriffinCanCode/Courier/internal/session"
	"github.com/GriffinCanCode/Courier/internal/transport"
)

// Type identifies a socket pattern.
type Type int

const (
	PAIR Type = iota
	PUB
	SUB
	XPUB
	XSUB
	REQ
	REP
	DEALER
	ROUTER
	RADIO
	DISH
)

var typeNames = [...]string{
	"PAIR", "PUB", "SUB", "XPUB", "XSUB", "REQ", "REP", "DEALER", "ROUTER",
	"RADIO", "DISH",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "UNKNOWN"
}

// pattern is the per-type behavior a Base delegates to. All methods run on
// the socket owner's thread.
type pattern interface {
	attachPipe(p *pipe.Pipe, subscribeToAll bool)
	send(m *msg.Message) error
	recv(m *msg.Message) error
	hasIn() bool
	hasOut() bool
	readActivated(p *pipe.Pipe)
	writeActivated(p *pipe.Pipe)
	hiccuped(p *pipe.Pipe)
	pipeTerminated(p *pipe.Pipe)
}

// patternOptions is implemented by patterns with their own options.
type patternOptions interface {
	setOption(opt Option, v any) error
	getOption(opt Option) (any, bool)
}

// Base is the user-facing socket. A mutex serialises the user-side API, so a
// Base may migrate between (or be shared by) threads.
type Base struct {
	ctx  *Context
	typ  Type
	opts config.Options
	log  *zap.Logger
	mon  *monitoring.Emitter

	mbox    *command.Mailbox
	pattern pattern

	mu sync.Mutex

	pipes []*pipe.Pipe

	// endpoint bookkeeping
	endpoints map[string]command.Handler // bound endpoints
	connects  map[string]*session.Session
	inprocs   []string
	children  map[any]struct{} // listeners + connect sessions awaiting ack

	lastEndpoint string

	closed  bool
	reaping bool
	reaper  command.Handler
}

// NewSocket creates a socket of the given type.
func (c *Context) NewSocket(t Type) (*Base, error) {
	sig, err := command.NewFdSignaler()
	if err != nil {
		return nil, err
	}
	b := &Base{
		ctx:       c,
		typ:       t,
		opts:      config.OptionsFrom(c.cfg),
		log:       c.log.Named("socket").With(zap.String("type", t.String())),
		mon:       monitoring.NewEmitter(128),
		mbox:      command.NewMailbox(sig),
		endpoints: make(map[string]command.Handler),
		connects:  make(map[string]*session.Session),
		children:  make(map[any]struct{}),
	}
	switch t {
	case PAIR:
		b.pattern = newPair(b)
	case PUB:
		b.pattern = newPub(b)
	case SUB:
		b.pattern = newSub(b)
	case XPUB:
		b.pattern = newXPub(b)
	case XSUB:
		b.pattern = newXSub(b)
	case REQ:
		b.pattern = newReq(b)
	case REP:
		b.pattern = newRep(b)
	case DEALER:
		b.pattern = newDealer(b)
	case ROUTER:
		b.pattern = newRouter(b)
	case RADIO:
		b.pattern = newRadio(b)
	case DISH:
		b.pattern = newDish(b)
	default:
		b.mbox.Close()
		return nil, errs.ErrInval
	}
	if err := c.registerSocket(b); err != nil {
		b.mbox.Close()
		return nil, err
	}
	monitoring.Default().SocketsActive.Inc()
	return b, nil
}

// Type returns the socket's pattern type.
func (b *Base) Type() Type { return b.typ }

// CommandMailbox implements command.Handler.
func (b *Base) CommandMailbox() *command.Mailbox { return b.mbox }

// Process implements command.Handler; runs on whichever thread drains the
// socket mailbox (owner or reaper).
func (b *Base) Process(cmd command.Command) {
	switch cmd.Type {
	case command.Bind:
		p := cmd.Pipe.(*pipe.Pipe)
		b.attachPipe(p, false)
		if b.closed {
			// A session bound its pipe while the socket was closing; walk it
			// straight into termination so the shutdown can complete.
			p.Terminate(false)
		}
	case command.InprocConnected:
		// Deferred inproc connect completed; nothing else to do.
	case command.TermAck, command.TermReq, command.ConnFailed:
		if _, ok := b.children[cmd.Object]; ok {
			delete(b.children, cmd.Object)
			for ep, s := range b.connects {
				if any(s) == cmd.Object {
					delete(b.connects, ep)
					break
				}
			}
			b.checkDestroy()
		}
	case command.Exec:
		if cmd.Fn != nil {
			cmd.Fn()
		}
	}
}

// attachPipe wires a new pipe end into the pattern.
func (b *Base) attachPipe(p *pipe.Pipe, subscribeToAll bool) {
	p.SetSink(b)
	p.SetMailbox(b.mbox)
	b.pipes = append(b.pipes, p)
	b.pattern.attachPipe(p, subscribeToAll)
}

// --- pipe.EventSink ---

func (b *Base) ReadActivated(p *pipe.Pipe)  { b.pattern.readActivated(p) }
func (b *Base) WriteActivated(p *pipe.Pipe) { b.pattern.writeActivated(p) }
func (b *Base) Hiccuped(p *pipe.Pipe)       { b.pattern.hiccuped(p) }

func (b *Base) PipeTerminated(p *pipe.Pipe) {
	b.pattern.pipeTerminated(p)
	for i, q := range b.pipes {
		if q == p {
			b.pipes = append(b.pipes[:i], b.pipes[i+1:]...)
			break
		}
	}
	b.checkDestroy()
}

// --- command pump ---

// processCommands drains the mailbox, waiting up to timeout for the first
// command (negative blocks, zero polls).
func (b *Base) processCommands(timeout time.Duration) {
	cmd, err := b.mbox.Recv(timeout)
	for err == nil {
		b.dispatch(cmd)
		cmd, err = b.mbox.Recv(0)
	}
}

func (b *Base) dispatch(cmd command.Command) {
	if cmd.Dest == nil {
		return
	}
	cmd.Dest.Process(cmd)
}

// interrupt wakes any blocking Send/Recv so it can observe termination.
func (b *Base) interrupt() {
	b.mbox.Signaler().Signal()
}

// --- endpoint management ---

// Bind attaches the socket to a local endpoint.
func (b *Base) Bind(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.ErrNotSock
	}
	scheme, addr, err := transport.SplitEndpoint(endpoint)
	if err != nil {
		return err
	}
	b.processCommands(0)

	switch scheme {
	case transport.SchemeInproc:
		if err := b.ctx.bindInproc(addr, b); err != nil {
			return err
		}
		b.inprocs = append(b.inprocs, addr)
		b.lastEndpoint = endpoint
		return nil

	case transport.SchemeTCP, transport.SchemeIPC:
		var ln transport.StreamListener
		if scheme == transport.SchemeTCP {
			ln, err = transport.ListenTCP(addr)
		} else {
			ln, err = transport.ListenIPC(addr)
		}
		if err != nil {
			b.mon.Emit(monitoring.Event{Type: monitoring.EventBindFailed, Endpoint: endpoint, Err: err})
			return err
		}
		r := b.ctx.chooseReactor()
		l := session.NewListener(r, b, b.opts, scheme, ln, b.log, b.mon)
		b.endpoints[l.Addr()] = l
		b.children[l] = struct{}{}
		b.lastEndpoint = l.Addr()
		command.Post(command.Command{Dest: l, Type: command.Plug})
		return nil

	case transport.SchemeWS:
		wln, err := transport.ListenWS(addr)
		if err != nil {
			b.mon.Emit(monitoring.Event{Type: monitoring.EventBindFailed, Endpoint: endpoint, Err: err})
			return err
		}
		r := b.ctx.chooseReactor()
		a := session.NewWSAcceptor(r, b, b.opts, wln, b.log, b.mon)
		b.endpoints[a.Addr()] = a
		b.children[a] = struct{}{}
		b.lastEndpoint = a.Addr()
		command.Post(command.Command{Dest: a, Type: command.Plug})
		return nil

	case transport.SchemeUDP:
		// Binding the group transport opens the receiving side.
		if b.typ != DISH {
			return fmt.Errorf("udp bind on %s socket: %w", b.typ, errs.ErrInval)
		}
		return b.startSession(session.KindDish, scheme, addr, endpoint)

	default:
		return errs.ErrInval
	}
}

// Connect attaches the socket to a remote endpoint.
func (b *Base) Connect(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.ErrNotSock
	}
	scheme, addr, err := transport.SplitEndpoint(endpoint)
	if err != nil {
		return err
	}
	b.processCommands(0)

	switch scheme {
	case transport.SchemeInproc:
		b.ctx.connectInproc(addr, b)
		b.lastEndpoint = endpoint
		return nil
	case transport.SchemeTCP, transport.SchemeIPC:
		return b.startSession(session.KindStream, scheme, addr, endpoint)
	case transport.SchemeWS:
		return b.startSession(session.KindWS, scheme, addr, endpoint)
	case transport.SchemeUDP:
		kind := session.KindRadio
		if b.typ == DISH {
			kind = session.KindDish
		}
		return b.startSession(kind, scheme, addr, endpoint)
	default:
		return errs.ErrInval
	}
}

// startSession creates a connecting session with its pipe pair pre-attached.
func (b *Base) startSession(kind session.Kind, scheme, addr, endpoint string) error {
	r := b.ctx.chooseReactor()
	s := session.NewConnect(r, b, b.opts, kind, scheme, addr, b.log, b.mon)

	sockEnd, sessEnd := pipe.NewPair(
		[2]int{b.opts.RcvHWM, b.opts.SndHWM},
		[2]bool{b.opts.Conflate, false},
	)
	s.AttachPipe(sessEnd)
	b.attachPipe(sockEnd, b.typ == SUB || b.typ == DISH)

	b.connects[endpoint] = s
	b.children[s] = struct{}{}
	b.lastEndpoint = endpoint
	command.Post(command.Command{Dest: s, Type: command.Plug})
	return nil
}

// Disconnect detaches a connected endpoint.
func (b *Base) Disconnect(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.connects[endpoint]
	if !ok {
		return errs.ErrNotConn
	}
	delete(b.connects, endpoint)
	command.Post(command.Command{Dest: s, Type: command.Term, Linger: 0})
	return nil
}

// Unbind detaches a bound endpoint.
func (b *Base) Unbind(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.endpoints[endpoint]
	if !ok {
		return errs.ErrNotConn
	}
	delete(b.endpoints, endpoint)
	command.Post(command.Command{Dest: h, Type: command.Term})
	return nil
}

// --- data plane ---

// SendMsg sends one message part; the socket takes ownership on success.
func (b *Base) SendMsg(m *msg.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.ErrNotSock
	}
	b.processCommands(0)

	err := b.pattern.send(m)
	if err == nil {
		monitoring.Default().MsgsSent.WithLabelValues(b.typ.String()).Inc()
		return nil
	}
	if !errors.Is(err, errs.ErrAgain) {
		return err
	}
	if b.opts.SndTimeo == 0 {
		monitoring.Default().HWMStalls.Inc()
		return errs.ErrAgain
	}

	var deadline time.Time
	if b.opts.SndTimeo > 0 {
		deadline = time.Now().Add(b.opts.SndTimeo)
	}
	for {
		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				monitoring.Default().HWMStalls.Inc()
				return errs.ErrAgain
			}
		}
		b.processCommands(wait)
		if b.ctx.Terminating() {
			return errs.ErrTerm
		}
		if b.closed {
			return errs.ErrNotSock
		}
		err = b.pattern.send(m)
		if err == nil {
			monitoring.Default().MsgsSent.WithLabelValues(b.typ.String()).Inc()
			return nil
		}
		if !errors.Is(err, errs.ErrAgain) {
			return err
		}
	}
}

// RecvMsg receives one message part into m.
func (b *Base) RecvMsg(m *msg.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.ErrNotSock
	}
	b.processCommands(0)

	err := b.pattern.recv(m)
	if err == nil {
		monitoring.Default().MsgsReceived.WithLabelValues(b.typ.String()).Inc()
		return nil
	}
	if !errors.Is(err, errs.ErrAgain) {
		return err
	}
	if b.opts.RcvTimeo == 0 {
		return errs.ErrAgain
	}

	var deadline time.Time
	if b.opts.RcvTimeo > 0 {
		deadline = time.Now().Add(b.opts.RcvTimeo)
	}
	for {
		wait := time.Duration(-1)
		if !deadline.IsZero() {
			wait = time.Until(deadline)
			if wait <= 0 {
				return errs.ErrAgain
			}
		}
		b.processCommands(wait)
		if b.ctx.Terminating() {
			return errs.ErrTerm
		}
		if b.closed {
			return errs.ErrNotSock
		}
		err = b.pattern.recv(m)
		if err == nil {
			monitoring.Default().MsgsReceived.WithLabelValues(b.typ.String()).Inc()
			return nil
		}
		if !errors.Is(err, errs.ErrAgain) {
			return err
		}
	}
}

// Send is the []byte convenience form; more marks a non-final part.
func (b *Base) Send(data []byte, more bool) error {
	m := msg.NewData(data)
	if more {
		m.SetFlags(msg.More)
	}
	return b.SendMsg(&m)
}

// Recv returns the next message part and whether more parts follow.
func (b *Base) Recv() ([]byte, bool, error) {
	var m msg.Message
	if err := b.RecvMsg(&m); err != nil {
		return nil, false, err
	}
	data := append([]byte(nil), m.Data()...)
	more := m.HasMore()
	m.Close()
	return data, more, nil
}

// Monitor returns the socket's event stream.
func (b *Base) Monitor() <-chan monitoring.Event { return b.mon.Events() }

// --- shutdown ---

// Close starts the socket's termination; delivery of flushed messages is
// bounded by the Linger option. Close returns immediately and the reaper
// finishes the protocol.
func (b *Base) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errs.ErrNotSock
	}
	b.closed = true
	b.processCommands(0)

	for _, name := range b.inprocs {
		b.ctx.unbindInproc(name, b)
	}
	b.inprocs = nil

	// Pipes terminate first so every session end sees the PipeTerm (and the
	// trailing delimiter) before its Term command; the session then drains
	// the flushed messages within the linger budget.
	for _, p := range b.pipes {
		p.Terminate(false)
	}
	for _, h := range b.endpoints {
		command.Post(command.Command{Dest: h, Type: command.Term, Linger: b.opts.Linger})
	}
	for _, s := range b.connects {
		command.Post(command.Command{Dest: s, Type: command.Term, Linger: b.opts.Linger})
	}
	b.connects = make(map[string]*session.Session)
	b.endpoints = make(map[string]command.Handler)

	monitoring.Default().SocketsActive.Dec()
	command.Post(command.Command{Dest: b.ctx.reaper, Type: command.Reap, Object: b})
	return nil
}

// StartReaping implements reactor.Reapable; runs on the reaper thread.
func (b *Base) StartReaping(reaper command.Handler) {
	b.reaper = reaper
	b.reaping = true
	b.checkDestroy()
}

// checkDestroy finishes the termination protocol once every child and pipe
// has acknowledged.
func (b *Base) checkDestroy() {
	if !b.reaping {
		return
	}
	if len(b.children) > 0 || len(b.pipes) > 0 {
		return
	}
	b.reaping = false
	command.Post(command.Command{Dest: b.reaper, Type: command.Reaped, Object: b})
	b.ctx.socketClosed(b)
}

// FinishReaping implements reactor.Reapable: the reaper dropped the mailbox
// from its poller, so the descriptor can go.
func (b *Base) FinishReaping() {
	b.mbox.Close()
}
