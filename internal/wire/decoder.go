package wire

import (
	"encoding/binary"

	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
)

type decoderStep uint8

const (
	decStepFlags decoderStep = iota
	decStepSizeOne
	decStepSizeEight
	decStepBody
)

// Decoder parses wire bytes into messages incrementally. Each receive cycle
// the engine reads into the window returned by BeginRead, reports the span
// length via EndRead, and pulls completed messages with Next. Frames wholly
// contained in the window become shared messages over the reception arena
// without copying; frames spanning windows are accumulated into heap
// messages.
type Decoder struct {
	arena    *msg.Arena
	maxSize  int64
	zeroCopy bool

	window []byte
	limit  int // received bytes in window
	pos    int // parse position

	step decoderStep

	tmp    [8]byte
	tmpGot int

	msgFlags msg.Flags

	// Copy-path accumulation for frames spanning receive cycles.
	inProgress msg.Message
	bodyDst    []byte
}

// NewDecoder returns a decoder with a reception window of bufSize bytes.
// maxSize < 0 disables the message size limit.
func NewDecoder(bufSize int, maxSize int64, zeroCopy bool, alloc msg.Allocator) *Decoder {
	return &Decoder{
		arena:    msg.NewArena(bufSize, alloc),
		maxSize:  maxSize,
		zeroCopy: zeroCopy,
	}
}

// BeginRead starts a receive cycle and returns the window to read into. Any
// unparsed bytes from the previous cycle have already been consumed or moved
// to the copy path, so the window is always fresh.
func (d *Decoder) BeginRead() []byte {
	d.window = d.arena.Begin()
	d.limit = 0
	d.pos = 0
	return d.window
}

// EndRead tells the decoder how many bytes were received into the window.
func (d *Decoder) EndRead(n int) {
	d.limit = n
	d.pos = 0
}

// Next parses the next message out of the current window. It returns nil
// with a nil error when more bytes are needed; the engine then starts the
// next receive cycle. Protocol violations surface as errs.ErrMsgSize or
// errs.ErrProto and are fatal to the connection.
func (d *Decoder) Next() (*msg.Message, error) {
	for d.pos < d.limit {
		rest := d.window[d.pos:d.limit]
		switch d.step {
		case decStepFlags:
			flags := rest[0]
			d.pos++
			if flags&^(FlagMore|FlagLong|FlagCommand) != 0 {
				return nil, errs.ErrProto
			}
			d.msgFlags = 0
			if flags&FlagMore != 0 {
				d.msgFlags |= msg.More
			}
			if flags&FlagCommand != 0 {
				d.msgFlags |= msg.Command
			}
			if flags&FlagLong != 0 {
				d.step = decStepSizeEight
				d.tmpGot = 0
			} else {
				d.step = decStepSizeOne
			}

		case decStepSizeOne:
			size := uint64(rest[0])
			d.pos++
			m, err := d.sizeReady(size)
			if err != nil {
				return nil, err
			}
			if m != nil {
				return m, nil
			}

		case decStepSizeEight:
			n := copy(d.tmp[d.tmpGot:8], rest)
			d.tmpGot += n
			d.pos += n
			if d.tmpGot < 8 {
				continue
			}
			m, err := d.sizeReady(binary.BigEndian.Uint64(d.tmp[:8]))
			if err != nil {
				return nil, err
			}
			if m != nil {
				return m, nil
			}

		case decStepBody:
			n := copy(d.bodyDst, rest)
			d.bodyDst = d.bodyDst[n:]
			d.pos += n
			if len(d.bodyDst) > 0 {
				continue
			}
			m := d.inProgress
			d.inProgress = msg.Message{}
			d.step = decStepFlags
			return &m, nil
		}
	}
	return nil, nil
}

// sizeReady validates the frame length and either completes the frame in
// place (zero-copy arena view, or an empty frame) or arms the copy path for
// a body that spans receive cycles.
func (d *Decoder) sizeReady(size uint64) (*msg.Message, error) {
	if d.maxSize >= 0 && size > uint64(d.maxSize) {
		return nil, errs.ErrMsgSize
	}
	if size > uint64(int(^uint(0)>>1)) {
		return nil, errs.ErrMsgSize
	}

	n := int(size)
	if n == 0 {
		m := msg.New()
		m.SetFlags(d.msgFlags)
		d.step = decStepFlags
		return &m, nil
	}

	if d.zeroCopy && n <= d.limit-d.pos {
		m := d.arena.Share(d.pos, n)
		m.SetFlags(d.msgFlags)
		d.pos += n
		d.step = decStepFlags
		return &m, nil
	}

	// Point bodyDst into d.inProgress itself: an inline payload lives in the
	// Message value, so a slice of a local copy would never reach the result.
	d.inProgress = msg.NewSize(n)
	d.inProgress.SetFlags(d.msgFlags)
	d.bodyDst = d.inProgress.Data()
	d.step = decStepBody
	return nil, nil
}
