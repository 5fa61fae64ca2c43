package engine

import (
	"encoding/binary"
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

// Chunk framing for the datagram group transport: every chunk starts with a
// 16-bit big-endian offset to the first message boundary inside it, or
// noMessageBoundary when the chunk only continues an earlier message. A
// receiver entering mid-stream discards chunks until a boundary appears,
// then is joined; a decode error resets it to not-joined.
const (
	chunkHeaderSize   = 2
	noMessageBoundary = 0xFFFF
)

// DgramEngine drives one datagram endpoint (radio or dish side). Like the
// WebSocket engine it is pumped, with all codec state on the reactor
// goroutine.
type DgramEngine struct {
	conn   *transport.DgramConn
	opts   config.Options
	log    *zap.Logger
	sender bool

	host Host

	dec    *wire.Decoder
	enc    *wire.Encoder
	joined bool

	// Group header recombination (receive side).
	curGroup *string

	// Pending body after a synthesized group frame (send side).
	pendingBody *msg.Message

	chunk []byte

	signalOut chan struct{}
	stop      chan struct{}

	terminated bool
}

// NewDgram wraps an open datagram endpoint; sender selects the radio side.
func NewDgram(conn *transport.DgramConn, opts config.Options, sender bool, log *zap.Logger) *DgramEngine {
	return &DgramEngine{
		conn:      conn,
		opts:      opts,
		log:       log,
		sender:    sender,
		dec:       wire.NewDecoder(opts.InBatchSize, opts.MaxMsgSize, opts.ZeroCopy, opts.Allocator),
		enc:       wire.NewEncoder(opts.OutBatchSize),
		chunk:     make([]byte, 8192),
		signalOut: make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}
}

// Plug implements Engine.
func (e *DgramEngine) Plug(_ *reactor.Reactor, h Host) {
	e.host = h
	h.EngineReady()
	if e.sender {
		go e.writePump()
		e.kickOut()
	} else {
		go e.readPump()
	}
}

// RestartInput implements Engine. Datagram input never stalls: chunks that
// cannot be delivered are dropped, as datagram transports drop on overflow.
func (e *DgramEngine) RestartInput() {}

// RestartOutput implements Engine.
func (e *DgramEngine) RestartOutput() {
	if e.terminated {
		return
	}
	e.kickOut()
}

func (e *DgramEngine) kickOut() {
	select {
	case e.signalOut <- struct{}{}:
	default:
	}
}

// Terminate implements Engine.
func (e *DgramEngine) Terminate() {
	if e.terminated {
		return
	}
	e.terminated = true
	close(e.stop)
	e.conn.Close()
}

func (e *DgramEngine) fail(err error) {
	if e.terminated {
		return
	}
	host := e.host
	e.Terminate()
	host.EngineError(err)
}

func (e *DgramEngine) readPump() {
	for {
		data, err := e.conn.ReadChunk()
		if err != nil {
			e.host.Exec(func() { e.fail(err) })
			return
		}
		chunk := append([]byte(nil), data...)
		done := make(chan struct{}, 1)
		e.host.Exec(func() { e.consumeChunk(chunk); done <- struct{}{} })
		select {
		case <-done:
		case <-e.stop:
			return
		}
	}
}

// consumeChunk runs on the reactor goroutine.
func (e *DgramEngine) consumeChunk(data []byte) {
	if e.terminated || len(data) < chunkHeaderSize {
		return
	}
	offset := binary.BigEndian.Uint16(data)
	body := data[chunkHeaderSize:]

	if !e.joined {
		if offset == noMessageBoundary || int(offset) > len(body) {
			return
		}
		// Resynchronise at the first message boundary.
		body = body[offset:]
		e.joined = true
	}

	for len(body) > 0 {
		w := e.dec.BeginRead()
		n := copy(w, body)
		e.dec.EndRead(n)
		body = body[n:]
		for {
			m, err := e.dec.Next()
			if err != nil {
				// Broken stream: drop state and wait for the next boundary.
				e.resync()
				return
			}
			if m == nil {
				break
			}
			e.deliver(m)
		}
	}
	e.host.Flush()
}

// resync resets to not-joined with a fresh decoder.
func (e *DgramEngine) resync() {
	e.joined = false
	e.curGroup = nil
	e.dec = wire.NewDecoder(e.opts.InBatchSize, e.opts.MaxMsgSize, e.opts.ZeroCopy, e.opts.Allocator)
}

// deliver recombines the group header frame with its body and pushes the
// message; datagram overflow drops instead of stalling.
func (e *DgramEngine) deliver(m *msg.Message) {
	if e.curGroup == nil && m.HasMore() {
		g := string(m.Data())
		m.Close()
		e.curGroup = &g
		return
	}
	if e.curGroup != nil {
		m.ResetFlags(msg.More)
		if err := m.SetGroup(*e.curGroup); err != nil {
			e.curGroup = nil
			m.Close()
			return
		}
		e.curGroup = nil
	}
	if err := e.host.PushMsg(*m); err != nil {
		if !errors.Is(err, errs.ErrAgain) {
			e.fail(err)
			return
		}
		m.Close()
	}
}

func (e *DgramEngine) writePump() {
	for {
		select {
		case <-e.signalOut:
		case <-e.stop:
			return
		}
		for {
			out := make(chan []byte, 1)
			e.host.Exec(func() { out <- e.buildChunk() })
			var chunk []byte
			select {
			case chunk = <-out:
			case <-e.stop:
				return
			}
			if len(chunk) == 0 {
				break
			}
			if err := e.conn.WriteChunk(chunk); err != nil {
				e.host.Exec(func() { e.fail(err) })
				return
			}
			monitoring.Default().BytesSent.Add(float64(len(chunk)))
			if !e.opts.GreedyClub {
				// Without greedy clubbing, keep building chunks only while a
				// message is still part-encoded; the next send re-signals.
				if !e.moreQueued() {
					break
				}
			}
		}
	}
}

// moreQueued asks the reactor side whether another chunk is worth building.
func (e *DgramEngine) moreQueued() bool {
	out := make(chan bool, 1)
	e.host.Exec(func() { out <- e.enc.HasMsg() || e.pendingBody != nil })
	select {
	case more := <-out:
		return more
	case <-e.stop:
		return false
	}
}

// buildChunk runs on the reactor goroutine: club frames into one chunk and
// record the first message boundary in the header.
func (e *DgramEngine) buildChunk() []byte {
	if e.terminated {
		return nil
	}
	payload := e.chunk[chunkHeaderSize:]
	pos := 0
	offset := uint16(noMessageBoundary)

	for pos < len(payload) {
		if !e.enc.HasMsg() {
			start := e.pendingBody == nil
			m, err := e.pull()
			if err != nil {
				break
			}
			if offset == noMessageBoundary && start {
				offset = uint16(pos)
			}
			e.enc.LoadMsg(m)
		}
		span := e.enc.Encode(payload[pos:])
		pos += len(span)
	}
	if pos == 0 {
		return nil
	}
	binary.BigEndian.PutUint16(e.chunk, offset)
	return e.chunk[:chunkHeaderSize+pos]
}

// pull fetches the next outbound frame, splitting a grouped message into a
// group header frame followed by its body.
func (e *DgramEngine) pull() (msg.Message, error) {
	if e.pendingBody != nil {
		m := *e.pendingBody
		e.pendingBody = nil
		return m, nil
	}
	m, err := e.host.PullMsg()
	if err != nil {
		return msg.Message{}, err
	}
	if g := m.Group(); g != "" {
		body := m
		gm := msg.NewData([]byte(g))
		gm.SetFlags(msg.More)
		e.pendingBody = &body
		return gm, nil
	}
	return m, nil
}
