// Package msg implements the reference-counted message value and the shared
// reception arena that backs zero-copy receive.
//
// A Message has exactly one of four payload representations at any time:
// inline (small payloads stored in the descriptor), heap (uniquely owned
// slice), shared (a view into an arena buffer or a promoted heap slice,
// tracked by an atomic counter), or const (borrowed caller memory). Delimiter,
// join and leave messages carry no payload and exist only as control markers
// on pipes.
package msg

import (
	"sync/atomic"

	"github.com/GriffinCanCode/Courier/internal/errs"
)

// Flags carried by a message. MORE marks non-final parts of a multipart
// message; COMMAND marks protocol-internal frames.
type Flags uint8

const (
	// More indicates further parts of the same message follow.
	More Flags = 1 << 0
	// Command marks a protocol command frame.
	Command Flags = 1 << 1
	// Subscribe marks a subscription request frame.
	Subscribe Flags = 1 << 2
	// Cancel marks a subscription cancellation frame.
	Cancel Flags = 1 << 3
	// Ping and Pong mark heartbeat frames.
	Ping Flags = 1 << 4
	Pong Flags = 1 << 5
	// CloseCmd marks a connection close command frame.
	CloseCmd Flags = 1 << 6
	// Shared is set on messages whose payload is reference counted.
	Shared Flags = 1 << 7
)

// InlineMax is the largest payload stored directly in the descriptor.
const InlineMax = 30

// MaxGroupLen bounds the group name carried by radio-dish messages.
const MaxGroupLen = 15

type kind uint8

const (
	kindInline kind = iota
	kindHeap
	kindShared
	kindConst
	kindDelimiter
	kindJoin
	kindLeave
)

// refcnt is the shared-payload counter. It lives outside the Message so that
// copies observe a single count.
type refcnt struct {
	n atomic.Int32
}

func (r *refcnt) add(delta int32) int32 { return r.n.Add(delta) }

// Message is a single frame. The zero value is an empty inline message.
type Message struct {
	flags     Flags
	kind      kind
	routingID uint32
	glen      uint8
	ilen      uint8
	group     [MaxGroupLen]byte
	inline    [InlineMax]byte

	// heap / shared / const representation
	data []byte
	ref  *refcnt
	ab   *arenaBuf
}

// New returns an empty inline message.
func New() Message { return Message{} }

// NewSize returns a message with an n-byte payload: inline when it fits,
// otherwise a single heap allocation.
func NewSize(n int) Message {
	if n <= InlineMax {
		return Message{kind: kindInline, ilen: uint8(n)}
	}
	return Message{kind: kindHeap, data: make([]byte, n)}
}

// NewData returns a message holding a copy of b.
func NewData(b []byte) Message {
	m := NewSize(len(b))
	copy(m.Data(), b)
	return m
}

// NewConst borrows b without copying or reference counting. The caller
// guarantees b outlives every copy of the message.
func NewConst(b []byte) Message {
	return Message{kind: kindConst, data: b}
}

// NewDelimiter returns the pipe termination sentinel.
func NewDelimiter() Message { return Message{kind: kindDelimiter} }

// NewJoin and NewLeave return radio-dish group membership markers.
func NewJoin(group string) (Message, error) {
	m := Message{kind: kindJoin}
	if err := m.SetGroup(group); err != nil {
		return Message{}, err
	}
	return m, nil
}

func NewLeave(group string) (Message, error) {
	m := Message{kind: kindLeave}
	if err := m.SetGroup(group); err != nil {
		return Message{}, err
	}
	return m, nil
}

// NewSubscribe returns a subscription frame for topic.
func NewSubscribe(topic []byte) Message {
	m := NewData(topic)
	m.flags |= Subscribe
	return m
}

// NewCancel returns an unsubscription frame for topic.
func NewCancel(topic []byte) Message {
	m := NewData(topic)
	m.flags |= Cancel
	return m
}

// Data returns the payload. The slice aliases message-owned memory; it is
// valid until Close.
func (m *Message) Data() []byte {
	switch m.kind {
	case kindInline:
		return m.inline[:m.ilen]
	case kindHeap, kindShared, kindConst:
		return m.data
	default:
		return nil
	}
}

// Len returns the payload length.
func (m *Message) Len() int {
	if m.kind == kindInline {
		return int(m.ilen)
	}
	return len(m.data)
}

// Flags returns the current flag bits.
func (m *Message) Flags() Flags { return m.flags }

// SetFlags sets the given flag bits.
func (m *Message) SetFlags(f Flags) { m.flags |= f }

// ResetFlags clears the given flag bits.
func (m *Message) ResetFlags(f Flags) { m.flags &^= f }

// HasMore reports whether further parts follow.
func (m *Message) HasMore() bool { return m.flags&More != 0 }

// IsCommand reports whether this is a protocol command frame.
func (m *Message) IsCommand() bool { return m.flags&Command != 0 }

// IsSubscribe reports whether this is a subscription frame.
func (m *Message) IsSubscribe() bool { return m.flags&Subscribe != 0 }

// IsCancel reports whether this is an unsubscription frame.
func (m *Message) IsCancel() bool { return m.flags&Cancel != 0 }

// IsDelimiter reports whether this is the pipe termination sentinel.
func (m *Message) IsDelimiter() bool { return m.kind == kindDelimiter }

// IsJoin and IsLeave report group membership markers.
func (m *Message) IsJoin() bool  { return m.kind == kindJoin }
func (m *Message) IsLeave() bool { return m.kind == kindLeave }

// Group returns the radio-dish group name.
func (m *Message) Group() string { return string(m.group[:m.glen]) }

// SetGroup sets the radio-dish group name.
func (m *Message) SetGroup(g string) error {
	if len(g) > MaxGroupLen {
		return errs.ErrInval
	}
	m.glen = uint8(copy(m.group[:], g))
	return nil
}

// RoutingID returns the ROUTER routing id, zero if unset.
func (m *Message) RoutingID() uint32 { return m.routingID }

// SetRoutingID tags the message with a ROUTER routing id.
func (m *Message) SetRoutingID(id uint32) { m.routingID = id }

// Copy produces a second reference to the same payload. Shared payloads gain
// a reference; heap payloads are promoted to shared first so both descriptors
// observe one count.
func (m *Message) Copy() Message {
	switch m.kind {
	case kindHeap:
		m.kind = kindShared
		m.ref = &refcnt{}
		m.ref.n.Store(1)
		m.flags |= Shared
		fallthrough
	case kindShared:
		if m.ab != nil {
			m.ab.refs.Add(1)
		} else {
			m.ref.add(1)
		}
	}
	return *m
}

// Move transfers ownership from src, leaving src empty.
func (m *Message) Move(src *Message) {
	*m = *src
	*src = Message{}
}

// Close releases the payload per the active representation and resets the
// message to empty inline. Closing an already-closed message is a no-op.
func (m *Message) Close() {
	if m.kind == kindShared {
		if m.ab != nil {
			m.ab.decRef()
		} else if m.ref != nil {
			m.ref.add(-1)
		}
	}
	*m = Message{}
}
