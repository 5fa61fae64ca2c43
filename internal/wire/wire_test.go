package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
)

// encodeAll runs the encoder to completion over a sequence of messages.
func encodeAll(t *testing.T, msgs []msg.Message, batch int) []byte {
	t.Helper()
	e := NewEncoder(batch)
	var out bytes.Buffer
	for _, m := range msgs {
		e.LoadMsg(m)
		for e.HasMsg() {
			chunk := e.Encode(nil)
			out.Write(chunk)
		}
	}
	return out.Bytes()
}

// decodeAll feeds stream to a decoder in reads of at most chunk bytes.
func decodeAll(t *testing.T, stream []byte, chunk, bufSize int, zeroCopy bool) []msg.Message {
	t.Helper()
	d := NewDecoder(bufSize, -1, zeroCopy, nil)
	var msgs []msg.Message
	for len(stream) > 0 {
		window := d.BeginRead()
		n := copy(window, stream[:min(chunk, len(stream))])
		stream = stream[n:]
		d.EndRead(n)
		for {
			m, err := d.Next()
			require.NoError(t, err)
			if m == nil {
				break
			}
			msgs = append(msgs, *m)
		}
	}
	return msgs
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte("s"), 255),
		bytes.Repeat([]byte("L"), 256),
		bytes.Repeat([]byte("B"), 70000),
	}
	var in []msg.Message
	for i, p := range payloads {
		m := msg.NewData(p)
		if i%2 == 0 {
			m.SetFlags(msg.More)
		}
		in = append(in, m)
	}

	stream := encodeAll(t, in, 8192)

	for _, chunk := range []int{1, 7, 4096, 1 << 20} {
		out := decodeAll(t, append([]byte(nil), stream...), chunk, 8192, true)
		require.Len(t, out, len(payloads), "chunk=%d", chunk)
		for i, m := range out {
			assert.Equal(t, string(payloads[i]), string(m.Data()), "payload %d chunk=%d", i, chunk)
			assert.Equal(t, i%2 == 0, m.HasMore(), "more flag %d", i)
		}
	}
}

func TestLongFrameUsesEightByteLength(t *testing.T) {
	m := msg.NewData(bytes.Repeat([]byte("a"), 300))
	stream := encodeAll(t, []msg.Message{m}, 1024)
	assert.Equal(t, FlagLong, stream[0]&FlagLong)
	assert.Equal(t, byte(0), stream[1])
	assert.Equal(t, byte(300>>8), stream[7])
	assert.Equal(t, byte(300&0xFF), stream[8])
}

func TestSubscribeCancelMarkerByte(t *testing.T) {
	sub := msg.NewSubscribe([]byte("topic"))
	stream := encodeAll(t, []msg.Message{sub}, 1024)
	// flags, size (5+1 marker), marker, payload
	assert.Equal(t, byte(6), stream[1])
	assert.Equal(t, byte(1), stream[2])
	assert.Equal(t, []byte("topic"), stream[3:8])

	can := msg.NewCancel([]byte("t"))
	stream = encodeAll(t, []msg.Message{can}, 1024)
	assert.Equal(t, byte(2), stream[1])
	assert.Equal(t, byte(0), stream[2])
}

func TestDecoderRejectsOversizedMessage(t *testing.T) {
	m := msg.NewData(bytes.Repeat([]byte("z"), 2048))
	stream := encodeAll(t, []msg.Message{m}, 4096)

	d := NewDecoder(4096, 1024, true, nil)
	w := d.BeginRead()
	n := copy(w, stream)
	d.EndRead(n)
	_, err := d.Next()
	assert.ErrorIs(t, err, errs.ErrMsgSize)
}

func TestDecoderRejectsBogusFlags(t *testing.T) {
	d := NewDecoder(256, -1, true, nil)
	w := d.BeginRead()
	w[0] = 0x80
	d.EndRead(1)
	_, err := d.Next()
	assert.ErrorIs(t, err, errs.ErrProto)
}

func TestZeroCopySharesArena(t *testing.T) {
	m := msg.NewData([]byte("zero copy payload here"))
	stream := encodeAll(t, []msg.Message{m}, 1024)

	d := NewDecoder(1024, -1, true, nil)
	w := d.BeginRead()
	n := copy(w, stream)
	d.EndRead(n)
	got, err := d.Next()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Flags()&msg.Shared != 0, "in-window frame must be a shared arena view")
	assert.Equal(t, []byte("zero copy payload here"), got.Data())
	got.Close()
}

func TestEncoderZeroCopyFastPath(t *testing.T) {
	// Payload larger than the batch: the encoder must hand out the payload
	// slice itself rather than stage it through the batch buffer.
	payload := bytes.Repeat([]byte("p"), 4096)
	m := msg.NewData(payload)
	e := NewEncoder(512)
	e.LoadMsg(m)

	total := 0
	sawDirect := false
	for e.HasMsg() {
		span := e.Encode(nil)
		total += len(span)
		if len(span) > 512 {
			sawDirect = true
		}
	}
	assert.Equal(t, 9+4096, total, "flags + 8-byte length + payload")
	assert.True(t, sawDirect, "large remainder must be handed out directly")
}

func TestGreetingRoundTrip(t *testing.T) {
	g := Greeting{Major: ProtocolMajor, Minor: ProtocolMinor, Mechanism: MechanismNull, AsServer: true}
	b := g.Marshal()
	assert.Equal(t, byte(SignatureHead), b[0])
	assert.Equal(t, byte(SignatureTail), b[9])

	parsed, ok := ParseGreeting(b[:])
	require.True(t, ok)
	assert.Equal(t, g, parsed)

	b[0] = 0x00
	_, ok = ParseGreeting(b[:])
	assert.False(t, ok)
}

func TestZ85HelloWorld(t *testing.T) {
	data := []byte{0x86, 0x4F, 0xD2, 0x6F, 0xB5, 0x59, 0xF7, 0x5B}
	enc, err := Z85Encode(data)
	require.NoError(t, err)
	assert.Equal(t, "HelloWorld", enc)

	dec, err := Z85DecodeString(enc)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

func TestZ85RejectsBadLengths(t *testing.T) {
	_, err := Z85Encode([]byte{1, 2, 3})
	assert.ErrorIs(t, err, errs.ErrInval)
	_, err = Z85DecodeString("abcd")
	assert.ErrorIs(t, err, errs.ErrInval)
	_, err = Z85DecodeString("~~~~~")
	assert.ErrorIs(t, err, errs.ErrInval)
}
