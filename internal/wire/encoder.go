package wire

import (
	"encoding/binary"

	"github.com/GriffinCanCode/Courier/internal/msg"
)

type encoderStep uint8

const (
	// encStepMessageReady: next output is the header of the loaded message.
	encStepMessageReady encoderStep = iota
	// encStepSizeReady: header emitted, next output is the payload.
	encStepSizeReady
)

// Encoder turns messages into wire bytes incrementally. Load a message with
// LoadMsg, then call Encode until it reports the message is finished; the
// encoder never allocates per message and hands out payload slices directly
// when a whole batch can be skipped (zero-copy fast path).
type Encoder struct {
	step encoderStep

	// Current span to emit and whether finishing it completes the message.
	span       []byte
	newMsgFlag bool

	tmp [10]byte // flags byte + 8-byte length + subscribe/cancel marker

	inProgress msg.Message
	hasMsg     bool

	buf []byte
}

// NewEncoder returns an encoder with an internal batch buffer of batchSize
// bytes, used when the caller does not supply its own.
func NewEncoder(batchSize int) *Encoder {
	return &Encoder{buf: make([]byte, batchSize)}
}

// HasMsg reports whether a message is currently being encoded.
func (e *Encoder) HasMsg() bool { return e.hasMsg }

// LoadMsg hands the encoder the next message to serialise. The encoder takes
// ownership and closes it when fully emitted.
func (e *Encoder) LoadMsg(m msg.Message) {
	if e.hasMsg {
		panic("wire: LoadMsg while a message is in progress")
	}
	e.inProgress = m
	e.hasMsg = true
	e.step = encStepMessageReady
	e.stepMessageReady()
}

// stepMessageReady emits the header: flags, length, and the subscription
// marker byte for subscribe/cancel frames.
func (e *Encoder) stepMessageReady() {
	size := uint64(e.inProgress.Len())
	flags := frameFlags(&e.inProgress)
	subMark := e.inProgress.IsSubscribe() || e.inProgress.IsCancel()
	if subMark {
		size++
	}

	e.tmp[0] = flags
	headerSize := 2
	if size > 255 {
		e.tmp[0] |= FlagLong
		binary.BigEndian.PutUint64(e.tmp[1:9], size)
		headerSize = 9
	} else {
		e.tmp[1] = byte(size)
	}

	if subMark {
		if e.inProgress.IsSubscribe() {
			e.tmp[headerSize] = 1
		} else {
			e.tmp[headerSize] = 0
		}
		headerSize++
	}

	e.span = e.tmp[:headerSize]
	e.newMsgFlag = false
	e.step = encStepSizeReady
}

// stepSizeReady emits the payload.
func (e *Encoder) stepSizeReady() {
	e.span = e.inProgress.Data()
	e.newMsgFlag = true
	e.step = encStepMessageReady
}

// Encode produces the next batch of wire bytes. With a nil buf the encoder
// uses its internal buffer and may return a slice of the message payload
// itself when that fills the whole batch. The result is valid until the next
// call. A nil result means no message is loaded.
func (e *Encoder) Encode(buf []byte) []byte {
	target := buf
	if target == nil {
		target = e.buf
	}
	if !e.hasMsg {
		return nil
	}

	pos := 0
	for pos < len(target) {
		if len(e.span) == 0 {
			if e.newMsgFlag {
				e.inProgress.Close()
				e.hasMsg = false
				break
			}
			e.runStep()
		}

		// Zero-copy fast path: nothing batched yet and the span alone covers
		// a whole batch. Handing out the span directly cannot regress
		// batching since nothing else would fit anyway.
		if pos == 0 && buf == nil && len(e.span) >= len(target) {
			out := e.span
			e.span = nil
			return out
		}

		n := copy(target[pos:], e.span)
		pos += n
		e.span = e.span[n:]
	}
	return target[:pos]
}

func (e *Encoder) runStep() {
	switch e.step {
	case encStepMessageReady:
		e.stepMessageReady()
	case encStepSizeReady:
		e.stepSizeReady()
	}
}
