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

// WSEngine drives one WebSocket connection. The blocking gorilla conn is
// bridged by a reader and a writer pump; all session and codec state is
// mutated on the session's reactor goroutine via Exec, so the engine obeys
// the same single-mutator discipline as the stream engine.
type WSEngine struct {
	conn *transport.WSConn
	opts config.Options
	log  *zap.Logger

	host Host

	dec *wire.Decoder
	enc *wire.Encoder

	// Reactor-side input state.
	pending   *msg.Message
	remainder []byte
	stalled   bool

	outBuf []byte

	// Pump coordination.
	resumeIn  chan struct{}
	signalOut chan struct{}
	stop      chan struct{}

	terminated bool
}

// NewWS wraps an established WebSocket connection.
func NewWS(conn *transport.WSConn, opts config.Options, log *zap.Logger) *WSEngine {
	return &WSEngine{
		conn:      conn,
		opts:      opts,
		log:       log,
		dec:       wire.NewDecoder(opts.InBatchSize, opts.MaxMsgSize, opts.ZeroCopy, opts.Allocator),
		enc:       wire.NewEncoder(opts.OutBatchSize),
		outBuf:    make([]byte, opts.OutBatchSize),
		resumeIn:  make(chan struct{}, 1),
		signalOut: make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Plug implements Engine. The WebSocket handshake happened at upgrade time,
// so the engine is ready immediately.
func (e *WSEngine) Plug(_ *reactor.Reactor, h Host) {
	e.host = h
	h.EngineReady()
	go e.readPump()
	go e.writePump()
	e.kickOut()
}

// RestartInput implements Engine; runs on the reactor goroutine.
func (e *WSEngine) RestartInput() {
	if e.terminated || !e.stalled {
		return
	}
	e.stalled = false
	if e.consume(nil) {
		select {
		case e.resumeIn <- struct{}{}:
		default:
		}
	}
}

// RestartOutput implements Engine.
func (e *WSEngine) RestartOutput() {
	if e.terminated {
		return
	}
	e.kickOut()
}

func (e *WSEngine) kickOut() {
	select {
	case e.signalOut <- struct{}{}:
	default:
	}
}

// Terminate implements Engine.
func (e *WSEngine) Terminate() {
	e.shutdown()
}

func (e *WSEngine) shutdown() {
	if e.terminated {
		return
	}
	e.terminated = true
	close(e.stop)
	e.conn.Close()
}

func (e *WSEngine) fail(err error) {
	if e.terminated {
		return
	}
	host := e.host
	e.shutdown()
	host.EngineError(err)
}

// readPump moves batches from the connection onto the reactor goroutine.
func (e *WSEngine) readPump() {
	for {
		data, err := e.conn.ReadBatch()
		if err != nil {
			e.host.Exec(func() { e.fail(err) })
			return
		}
		monitoring.Default().BytesRecv.Add(float64(len(data)))

		done := make(chan bool, 1)
		e.host.Exec(func() { done <- e.consume(data) })
		select {
		case ok := <-done:
			if !ok {
				// Input stalled; wait until the session drains.
				select {
				case <-e.resumeIn:
				case <-e.stop:
					return
				}
			}
		case <-e.stop:
			return
		}
	}
}

// consume decodes and pushes batch bytes on the reactor goroutine. A nil
// batch resumes previously stalled input. Returns false when stalled again.
func (e *WSEngine) consume(batch []byte) bool {
	if e.terminated {
		return false
	}
	if batch != nil {
		if e.remainder != nil {
			e.remainder = append(e.remainder, batch...)
		} else {
			e.remainder = batch
		}
	}

	if e.pending != nil {
		err := e.host.PushMsg(*e.pending)
		if errors.Is(err, errs.ErrAgain) {
			e.stalled = true
			e.host.Flush()
			return false
		}
		if err != nil {
			e.host.Flush()
			e.fail(err)
			return false
		}
		e.pending = nil
	}

	for {
		// Drain decoded frames first.
		for {
			m, err := e.dec.Next()
			if err != nil {
				e.host.Flush()
				e.fail(err)
				return false
			}
			if m == nil {
				break
			}
			if err := e.host.PushMsg(*m); err != nil {
				if errors.Is(err, errs.ErrAgain) {
					e.pending = m
					e.stalled = true
					e.host.Flush()
					return false
				}
				e.host.Flush()
				e.fail(err)
				return false
			}
		}
		if len(e.remainder) == 0 {
			e.remainder = nil
			e.host.Flush()
			return true
		}
		w := e.dec.BeginRead()
		n := copy(w, e.remainder)
		e.dec.EndRead(n)
		e.remainder = e.remainder[n:]
	}
}

// writePump collects batches on the reactor goroutine and writes them
// blocking.
func (e *WSEngine) writePump() {
	for {
		select {
		case <-e.signalOut:
		case <-e.stop:
			return
		}
		for {
			out := make(chan []byte, 1)
			e.host.Exec(func() { out <- e.collect() })
			var batch []byte
			select {
			case batch = <-out:
			case <-e.stop:
				return
			}
			if len(batch) == 0 {
				break // wait for the next signal
			}
			if err := e.conn.WriteBatch(batch); err != nil {
				e.host.Exec(func() { e.fail(err) })
				return
			}
			monitoring.Default().BytesSent.Add(float64(len(batch)))
		}
	}
}

// collect clubs outbound messages into one batch on the reactor goroutine.
func (e *WSEngine) collect() []byte {
	if e.terminated {
		return nil
	}
	end := 0
	for end < len(e.outBuf) {
		if !e.enc.HasMsg() {
			m, err := e.host.PullMsg()
			if err != nil {
				break
			}
			e.enc.LoadMsg(m)
		}
		span := e.enc.Encode(e.outBuf[end:])
		end += len(span)
	}
	if end == 0 {
		return nil
	}
	return e.outBuf[:end]
}
