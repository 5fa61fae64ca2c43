package engine

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
)

// fakeHost queues messages on both sides of a pumped engine and runs Exec
// closures inline, standing in for the session reactor.
type fakeHost struct {
	out      []msg.Message // messages the engine will pull
	in       []msg.Message // messages the engine pushed
	lastErr  error
	ready    bool
}

func (h *fakeHost) PushMsg(m msg.Message) error {
	h.in = append(h.in, m)
	return nil
}

func (h *fakeHost) PullMsg() (msg.Message, error) {
	if len(h.out) == 0 {
		return msg.Message{}, errs.ErrAgain
	}
	m := h.out[0]
	h.out = h.out[1:]
	return m, nil
}

func (h *fakeHost) Flush()              {}
func (h *fakeHost) EngineReady()        { h.ready = true }
func (h *fakeHost) EngineError(e error) { h.lastErr = e }
func (h *fakeHost) Exec(fn func())      { fn() }

func testDgram(sender bool) (*DgramEngine, *fakeHost) {
	opts := config.OptionsFrom(config.Default())
	e := NewDgram(nil, opts, sender, zap.NewNop())
	h := &fakeHost{}
	e.host = h
	return e, h
}

func TestChunkCarriesOffsetToFirstBoundary(t *testing.T) {
	e, h := testDgram(true)
	h.out = append(h.out, msg.NewData([]byte("alpha")), msg.NewData([]byte("beta")))

	chunk := e.buildChunk()
	require.NotEmpty(t, chunk)
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(chunk),
		"chunk starting at a message boundary carries offset 0")

	// Both frames clubbed: flags+len+payload each.
	assert.Equal(t, 2+2+5+2+4, len(chunk))
}

func TestChunkRoundTripThroughReceiver(t *testing.T) {
	snd, hs := testDgram(true)
	hs.out = append(hs.out, msg.NewData([]byte("one")), msg.NewData([]byte("two")))
	chunk := snd.buildChunk()
	require.NotEmpty(t, chunk)

	rcv, hr := testDgram(false)
	rcv.consumeChunk(chunk)

	require.Len(t, hr.in, 2)
	assert.Equal(t, []byte("one"), hr.in[0].Data())
	assert.Equal(t, []byte("two"), hr.in[1].Data())
}

func TestReceiverJoinsOnlyAtBoundary(t *testing.T) {
	rcv, h := testDgram(false)

	// A continuation-only chunk must not join the stream.
	cont := make([]byte, 6)
	binary.BigEndian.PutUint16(cont, noMessageBoundary)
	rcv.consumeChunk(cont)
	assert.False(t, rcv.joined)
	assert.Empty(t, h.in)

	// A chunk with a boundary joins and decodes from the offset.
	snd, hs := testDgram(true)
	hs.out = append(hs.out, msg.NewData([]byte("payload")))
	chunk := snd.buildChunk()

	// Prefix the frame bytes with garbage and point the offset past it.
	garbage := []byte{0xDE, 0xAD}
	frames := chunk[chunkHeaderSize:]
	patched := make([]byte, chunkHeaderSize+len(garbage)+len(frames))
	binary.BigEndian.PutUint16(patched, uint16(len(garbage)))
	copy(patched[chunkHeaderSize:], garbage)
	copy(patched[chunkHeaderSize+len(garbage):], frames)

	rcv.consumeChunk(patched)
	assert.True(t, rcv.joined)
	require.Len(t, h.in, 1)
	assert.Equal(t, []byte("payload"), h.in[0].Data())
}

func TestReceiverResyncsOnBrokenStream(t *testing.T) {
	rcv, _ := testDgram(false)

	snd, hs := testDgram(true)
	hs.out = append(hs.out, msg.NewData([]byte("ok")))
	rcv.consumeChunk(snd.buildChunk())
	require.True(t, rcv.joined)

	// A frame with invalid flag bits is a protocol violation.
	bad := make([]byte, 3)
	binary.BigEndian.PutUint16(bad, 0)
	bad[2] = 0xF0
	rcv.consumeChunk(bad)
	assert.False(t, rcv.joined, "decode error resets to not-joined")
}

func TestGroupHeaderFrameRecombines(t *testing.T) {
	snd, hs := testDgram(true)
	m := msg.NewData([]byte("forecast"))
	require.NoError(t, m.SetGroup("weather"))
	hs.out = append(hs.out, m)

	chunk := snd.buildChunk()
	require.NotEmpty(t, chunk)
	// The group travels as a leading MORE frame.
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(chunk))

	rcv, hr := testDgram(false)
	rcv.consumeChunk(chunk)
	require.Len(t, hr.in, 1)
	assert.Equal(t, "weather", hr.in[0].Group())
	assert.Equal(t, []byte("forecast"), hr.in[0].Data())
	assert.False(t, hr.in[0].HasMore())
}
