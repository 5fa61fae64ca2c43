package engine

import (
	"errors"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/monitoring"
	"github.com/GriffinCanCode/Courier/internal/msg"
	"github.com/GriffinCanCode/Courier/internal/reactor"
	"github.com/GriffinCanCode/Courier/internal/transport"
	"github.com/GriffinCanCode/Courier/internal/wire"
)

const handshakeTimerID = 1

// StreamEngine drives one connected stream descriptor (tcp, ipc) through the
// greeting handshake and the framed protocol.
type StreamEngine struct {
	fd   int
	opts config.Options
	log  *zap.Logger

	r    *reactor.Reactor
	host Host

	dec *wire.Decoder
	enc *wire.Encoder

	// Greeting exchange state.
	handshaking bool
	outGreeting [wire.GreetingSize]byte
	outGreetPos int
	inGreeting  [wire.GreetingSize]byte
	inGreetPos  int
	hsTimer     uint64

	// Input state.
	inputStopped bool
	pending      *msg.Message

	// Output state.
	outBuf        []byte
	outStart      int
	outEnd        int
	outputStopped bool

	plugged    bool
	terminated bool
}

// NewStream wraps a connected non-blocking descriptor.
func NewStream(fd int, opts config.Options, asServer bool, log *zap.Logger) *StreamEngine {
	e := &StreamEngine{
		fd:          fd,
		opts:        opts,
		log:         log,
		dec:         wire.NewDecoder(opts.InBatchSize, opts.MaxMsgSize, opts.ZeroCopy, opts.Allocator),
		enc:         wire.NewEncoder(opts.OutBatchSize),
		outBuf:      make([]byte, opts.OutBatchSize),
		handshaking: true,
	}
	g := wire.Greeting{
		Major:     wire.ProtocolMajor,
		Minor:     wire.ProtocolMinor,
		Mechanism: wire.MechanismNull,
		AsServer:  asServer,
	}
	e.outGreeting = g.Marshal()
	return e
}

// Plug implements Engine.
func (e *StreamEngine) Plug(r *reactor.Reactor, h Host) {
	e.r = r
	e.host = h
	e.plugged = true

	p := r.Poller()
	if err := p.Add(e.fd, e); err != nil {
		e.fail(err)
		return
	}
	p.SetPollIn(e.fd)
	p.SetPollOut(e.fd)

	if e.opts.HandshakeIvl > 0 {
		e.hsTimer = r.AddTimer(e.opts.HandshakeIvl, e, handshakeTimerID)
	}

	// Push the greeting out straight away; short writes finish via OutEvent.
	e.OutEvent()
}

// TimerEvent implements reactor.TimerSink.
func (e *StreamEngine) TimerEvent(id int) {
	if id == handshakeTimerID && e.handshaking {
		monitoring.Default().HandshakeFailures.Inc()
		e.hsTimer = 0
		e.fail(errs.ErrProto)
	}
}

// InEvent implements poller.Handler.
func (e *StreamEngine) InEvent() {
	if e.terminated {
		return
	}
	if e.handshaking {
		e.handshakeIn()
		return
	}
	if e.inputStopped {
		// Readiness can race a stall; input resumes via RestartInput only.
		return
	}

	for {
		if !e.deliver() {
			return
		}
		window := e.dec.BeginRead()
		n, err := transport.ReadFd(e.fd, window)
		if errors.Is(err, errs.ErrAgain) {
			e.host.Flush()
			return
		}
		if err != nil {
			e.host.Flush()
			e.fail(err)
			return
		}
		monitoring.Default().BytesRecv.Add(float64(n))
		e.dec.EndRead(n)
	}
}

// deliver pushes the stashed and newly decoded messages into the session.
// Returns false when input stalled or the engine died.
func (e *StreamEngine) deliver() bool {
	if e.pending != nil {
		if !e.pushOne(e.pending) {
			return false
		}
		e.pending = nil
	}
	for {
		m, err := e.dec.Next()
		if err != nil {
			e.host.Flush()
			e.fail(err)
			return false
		}
		if m == nil {
			return true
		}
		if !e.pushOne(m) {
			return false
		}
	}
}

func (e *StreamEngine) pushOne(m *msg.Message) bool {
	err := e.host.PushMsg(*m)
	if err == nil {
		return true
	}
	if errors.Is(err, errs.ErrAgain) {
		e.pending = m
		e.stallInput()
		return false
	}
	e.fail(err)
	return false
}

func (e *StreamEngine) stallInput() {
	e.inputStopped = true
	e.r.Poller().ResetPollIn(e.fd)
	e.host.Flush()
}

// RestartInput implements Engine.
func (e *StreamEngine) RestartInput() {
	if !e.inputStopped || e.terminated {
		return
	}
	e.inputStopped = false
	e.r.Poller().SetPollIn(e.fd)
	e.InEvent()
}

// OutEvent implements poller.Handler.
func (e *StreamEngine) OutEvent() {
	if e.terminated {
		return
	}
	if e.handshaking {
		e.handshakeOut()
		return
	}

	for {
		if e.outStart == e.outEnd {
			if !e.refillOut() {
				return
			}
		}
		n, err := transport.WriteFd(e.fd, e.outBuf[e.outStart:e.outEnd])
		if errors.Is(err, errs.ErrAgain) {
			return
		}
		if err != nil {
			e.fail(err)
			return
		}
		monitoring.Default().BytesSent.Add(float64(n))
		e.outStart += n
	}
}

// refillOut clubs outbound messages into the batch buffer. Returns false
// when there is nothing to send (POLLOUT disarmed).
func (e *StreamEngine) refillOut() bool {
	e.outStart, e.outEnd = 0, 0
	for e.outEnd < len(e.outBuf) {
		if !e.enc.HasMsg() {
			m, err := e.host.PullMsg()
			if errors.Is(err, errs.ErrAgain) {
				break
			}
			if err != nil {
				e.fail(err)
				return false
			}
			e.enc.LoadMsg(m)
		}
		span := e.enc.Encode(e.outBuf[e.outEnd:])
		e.outEnd += len(span)
	}
	if e.outEnd == 0 {
		e.outputStopped = true
		e.r.Poller().ResetPollOut(e.fd)
		return false
	}
	return true
}

// RestartOutput implements Engine.
func (e *StreamEngine) RestartOutput() {
	if e.terminated {
		return
	}
	if e.outputStopped {
		e.outputStopped = false
		e.r.Poller().SetPollOut(e.fd)
	}
	e.OutEvent()
}

// Terminate implements Engine.
func (e *StreamEngine) Terminate() {
	e.shutdown()
}

func (e *StreamEngine) fail(err error) {
	if e.terminated {
		return
	}
	host := e.host
	e.shutdown()
	host.EngineError(err)
}

func (e *StreamEngine) shutdown() {
	if e.terminated {
		return
	}
	e.terminated = true
	if e.hsTimer != 0 {
		e.r.CancelTimer(e.hsTimer)
		e.hsTimer = 0
	}
	if e.plugged {
		e.r.Poller().Remove(e.fd)
	}
	transport.CloseFd(e.fd)
}

// handshakeOut pushes the rest of our greeting.
func (e *StreamEngine) handshakeOut() {
	for e.outGreetPos < wire.GreetingSize {
		n, err := transport.WriteFd(e.fd, e.outGreeting[e.outGreetPos:])
		if errors.Is(err, errs.ErrAgain) {
			return
		}
		if err != nil {
			e.fail(err)
			return
		}
		e.outGreetPos += n
	}
	// Nothing more to write until the handshake completes.
	e.r.Poller().ResetPollOut(e.fd)
	e.maybeFinishHandshake()
}

// handshakeIn reads the peer greeting.
func (e *StreamEngine) handshakeIn() {
	for e.inGreetPos < wire.GreetingSize {
		n, err := transport.ReadFd(e.fd, e.inGreeting[e.inGreetPos:])
		if errors.Is(err, errs.ErrAgain) {
			return
		}
		if err != nil {
			e.fail(err)
			return
		}
		e.inGreetPos += n
	}
	e.maybeFinishHandshake()
}

func (e *StreamEngine) maybeFinishHandshake() {
	if e.outGreetPos < wire.GreetingSize || e.inGreetPos < wire.GreetingSize {
		return
	}
	g, ok := wire.ParseGreeting(e.inGreeting[:])
	if !ok || g.Mechanism != wire.MechanismNull {
		monitoring.Default().HandshakeFailures.Inc()
		e.fail(errs.ErrProto)
		return
	}
	e.handshaking = false
	if e.hsTimer != 0 {
		e.r.CancelTimer(e.hsTimer)
		e.hsTimer = 0
	}
	e.log.Debug("handshake complete", zap.Uint8("peer_major", g.Major))
	e.host.EngineReady()

	// Enter the framed phase with both directions armed.
	e.r.Poller().SetPollOut(e.fd)
	e.OutEvent()
	if !e.terminated {
		e.InEvent()
	}
}
