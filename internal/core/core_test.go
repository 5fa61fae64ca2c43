package core

import (
	"encoding/binary"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/Courier/internal/config"
	"github.com/GriffinCanCode/Courier/internal/errs"
	"github.com/GriffinCanCode/Courier/internal/msg"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	cfg := config.Default()
	cfg.LogLevel = "error"
	ctx, err := NewContext(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Term() })
	return ctx
}

func recvString(t *testing.T, s *Base, timeout time.Duration) string {
	t.Helper()
	require.NoError(t, s.SetOption(RcvTimeo, timeout))
	data, _, err := s.Recv()
	require.NoError(t, err)
	return string(data)
}

// pump runs one empty-timeout receive so the socket drains its mailbox.
func pump(s *Base) {
	_ = s.SetOption(RcvTimeo, time.Duration(0))
	_, _, _ = s.Recv()
}

func TestInprocPubSubBaseline(t *testing.T) {
	ctx := testContext(t)

	pub, err := ctx.NewSocket(PUB)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Bind("inproc://pubsub-baseline"))

	sub, err := ctx.NewSocket(SUB)
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Connect("inproc://pubsub-baseline"))
	require.NoError(t, sub.SetOption(Subscribe, ""))
	pump(sub) // attach the pipe and replay the subscription

	for _, s := range []string{"test1", "test2", "test3"} {
		require.NoError(t, pub.Send([]byte(s), false))
	}
	assert.Equal(t, "test1", recvString(t, sub, time.Second))
	assert.Equal(t, "test2", recvString(t, sub, time.Second))
	assert.Equal(t, "test3", recvString(t, sub, time.Second))
}

func TestSubscriptionFiltering(t *testing.T) {
	ctx := testContext(t)

	pub, _ := ctx.NewSocket(PUB)
	defer pub.Close()
	require.NoError(t, pub.Bind("inproc://pubsub-filter"))

	sub, _ := ctx.NewSocket(SUB)
	defer sub.Close()
	require.NoError(t, sub.Connect("inproc://pubsub-filter"))
	require.NoError(t, sub.SetOption(Subscribe, "weather"))
	pump(sub)

	require.NoError(t, pub.Send([]byte("sport.news"), false))
	require.NoError(t, pub.Send([]byte("weather.london"), false))
	assert.Equal(t, "weather.london", recvString(t, sub, time.Second))

	count, err := sub.GetOption(TopicsCount)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPairHWMEnforcement(t *testing.T) {
	ctx := testContext(t)

	a, _ := ctx.NewSocket(PAIR)
	defer a.Close()
	require.NoError(t, a.SetOption(RcvHWM, 500))
	require.NoError(t, a.Bind("inproc://pair-hwm"))

	b, _ := ctx.NewSocket(PAIR)
	defer b.Close()
	require.NoError(t, b.SetOption(SndHWM, 500))
	require.NoError(t, b.SetOption(SndTimeo, time.Duration(0)))
	require.NoError(t, b.Connect("inproc://pair-hwm"))
	pump(b)
	pump(a)

	sent := 0
	for i := 0; i < 5000; i++ {
		if err := b.Send([]byte("m"), false); err != nil {
			assert.ErrorIs(t, err, errs.ErrAgain)
			break
		}
		sent++
	}
	assert.Equal(t, 1000, sent, "combined water marks bound the queue")

	// Drain everything; credit returns and sending resumes.
	require.NoError(t, a.SetOption(RcvTimeo, time.Second))
	for i := 0; i < sent; i++ {
		_, _, err := a.Recv()
		require.NoError(t, err)
	}
	require.NoError(t, b.Send([]byte("again"), false))
	assert.Equal(t, "again", recvString(t, a, time.Second))
}

func TestFairQueueBalance(t *testing.T) {
	ctx := testContext(t)

	sink, _ := ctx.NewSocket(DEALER)
	defer sink.Close()
	require.NoError(t, sink.Bind("inproc://fq-balance"))

	const senders = 3
	const perSender = 10
	var socks []*Base
	for i := 0; i < senders; i++ {
		s, err := ctx.NewSocket(DEALER)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Connect("inproc://fq-balance"))
		socks = append(socks, s)
	}
	for i, s := range socks {
		for j := 0; j < perSender; j++ {
			require.NoError(t, s.Send([]byte{byte(i)}, false))
		}
	}

	counts := make([]int, senders)
	require.NoError(t, sink.SetOption(RcvTimeo, time.Second))
	for i := 0; i < senders*perSender; i++ {
		data, _, err := sink.Recv()
		require.NoError(t, err)
		counts[data[0]]++
		if (i+1)%senders == 0 {
			// After every full round each pipe contributed within one
			// message of the mean.
			mean := (i + 1) / senders
			for s := 0; s < senders; s++ {
				assert.InDelta(t, mean, counts[s], 1, "round %d sender %d", i+1, s)
			}
		}
	}
	for s := 0; s < senders; s++ {
		assert.Equal(t, perSender, counts[s])
	}
}

func TestMultipartAtomicity(t *testing.T) {
	ctx := testContext(t)

	sink, _ := ctx.NewSocket(DEALER)
	defer sink.Close()
	require.NoError(t, sink.Bind("inproc://multipart-atomic"))

	const senders = 2
	const perSender = 50
	done := make(chan error, senders)
	for i := 0; i < senders; i++ {
		s, err := ctx.NewSocket(DEALER)
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Connect("inproc://multipart-atomic"))
		go func(tag byte, s *Base) {
			for j := 0; j < perSender; j++ {
				if err := s.Send([]byte{tag, 0}, true); err != nil {
					done <- err
					return
				}
				if err := s.Send([]byte{tag, 1}, true); err != nil {
					done <- err
					return
				}
				if err := s.Send([]byte{tag, 2}, false); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}(byte(i), s)
	}

	require.NoError(t, sink.SetOption(RcvTimeo, 2*time.Second))
	for n := 0; n < senders*perSender; n++ {
		first, more, err := sink.Recv()
		require.NoError(t, err)
		require.True(t, more)
		tag := first[0]
		require.Equal(t, byte(0), first[1])
		for want := byte(1); want <= 2; want++ {
			part, m, err := sink.Recv()
			require.NoError(t, err)
			assert.Equal(t, tag, part[0], "parts of one message never interleave")
			assert.Equal(t, want, part[1])
			assert.Equal(t, want != 2, m)
		}
	}
	for i := 0; i < senders; i++ {
		require.NoError(t, <-done)
	}
}

func TestReqRepRoundTrip(t *testing.T) {
	ctx := testContext(t)

	rep, _ := ctx.NewSocket(REP)
	defer rep.Close()
	require.NoError(t, rep.Bind("inproc://reqrep"))

	req, _ := ctx.NewSocket(REQ)
	defer req.Close()
	require.NoError(t, req.Connect("inproc://reqrep"))

	require.NoError(t, req.Send([]byte("ping"), false))
	assert.Equal(t, "ping", recvString(t, rep, time.Second))
	require.NoError(t, rep.Send([]byte("pong"), false))
	assert.Equal(t, "pong", recvString(t, req, time.Second))

	// Strict alternation: a second request before the reply is a state error.
	require.NoError(t, req.Send([]byte("again"), false))
	err := req.Send([]byte("too-eager"), false)
	assert.ErrorIs(t, err, errs.ErrFSM)
}

func TestReqCorrelationDiscardsStaleReply(t *testing.T) {
	ctx := testContext(t)

	router, _ := ctx.NewSocket(ROUTER)
	defer router.Close()
	require.NoError(t, router.Bind("inproc://req-correlate"))

	req, _ := ctx.NewSocket(REQ)
	defer req.Close()
	require.NoError(t, req.SetOption(ReqCorrelate, true))
	require.NoError(t, req.Connect("inproc://req-correlate"))

	require.NoError(t, req.Send([]byte("request"), false))

	// The router sees identity, request id, delimiter, body.
	require.NoError(t, router.SetOption(RcvTimeo, time.Second))
	identity, more, err := router.Recv()
	require.NoError(t, err)
	require.True(t, more)
	reqID, more, err := router.Recv()
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, reqID, 4)
	delim, more, err := router.Recv()
	require.NoError(t, err)
	require.True(t, more)
	require.Empty(t, delim)
	body, more, err := router.Recv()
	require.NoError(t, err)
	require.False(t, more)
	require.Equal(t, "request", string(body))

	wrongID := make([]byte, 4)
	binary.BigEndian.PutUint32(wrongID, binary.BigEndian.Uint32(reqID)+7)

	// First reply carries a wrong id, second the right one.
	for _, id := range [][]byte{wrongID, reqID} {
		require.NoError(t, router.Send(identity, true))
		require.NoError(t, router.Send(id, true))
		require.NoError(t, router.Send(nil, true))
		require.NoError(t, router.Send([]byte(fmt.Sprintf("reply-%x", id)), false))
	}

	got := recvString(t, req, time.Second)
	assert.Equal(t, fmt.Sprintf("reply-%x", reqID), got, "stale reply must be discarded")
}

func TestRouterRoutesByIdentity(t *testing.T) {
	ctx := testContext(t)

	router, _ := ctx.NewSocket(ROUTER)
	defer router.Close()
	require.NoError(t, router.Bind("inproc://router-routes"))

	d1, _ := ctx.NewSocket(DEALER)
	defer d1.Close()
	require.NoError(t, d1.Connect("inproc://router-routes"))
	d2, _ := ctx.NewSocket(DEALER)
	defer d2.Close()
	require.NoError(t, d2.Connect("inproc://router-routes"))

	require.NoError(t, d1.Send([]byte("from-1"), false))
	require.NoError(t, d2.Send([]byte("from-2"), false))

	require.NoError(t, router.SetOption(RcvTimeo, time.Second))
	identities := make(map[string][]byte)
	for i := 0; i < 2; i++ {
		ident, more, err := router.Recv()
		require.NoError(t, err)
		require.True(t, more)
		body, _, err := router.Recv()
		require.NoError(t, err)
		identities[string(body)] = ident
	}

	// Route a reply back to the first dealer only.
	require.NoError(t, router.Send(identities["from-1"], true))
	require.NoError(t, router.Send([]byte("for-1"), false))

	assert.Equal(t, "for-1", recvString(t, d1, time.Second))
	_ = d2.SetOption(RcvTimeo, 50*time.Millisecond)
	_, _, err := d2.Recv()
	assert.ErrorIs(t, err, errs.ErrAgain)
}

func TestCloseAndTermComplete(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"
	ctx, err := NewContext(cfg)
	require.NoError(t, err)

	a, _ := ctx.NewSocket(PAIR)
	require.NoError(t, a.Bind("inproc://term-complete"))
	b, _ := ctx.NewSocket(PAIR)
	require.NoError(t, b.Connect("inproc://term-complete"))
	require.NoError(t, b.Send([]byte("bye"), false))
	assert.Equal(t, "bye", recvString(t, a, time.Second))

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	finished := make(chan struct{})
	go func() { _ = ctx.Term(); close(finished) }()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("context term did not complete")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	ctx := testContext(t)
	s, _ := ctx.NewSocket(PAIR)
	require.NoError(t, s.Close())
	err := s.Send([]byte("x"), false)
	assert.ErrorIs(t, err, errs.ErrNotSock)

	var m msg.Message
	err = s.RecvMsg(&m)
	assert.ErrorIs(t, err, errs.ErrNotSock)
}

func TestPubToNobodyDropsSilently(t *testing.T) {
	ctx := testContext(t)
	pub, _ := ctx.NewSocket(PUB)
	defer pub.Close()
	require.NoError(t, pub.Bind("inproc://pub-void"))
	// No subscribers: the message vanishes without an error.
	require.NoError(t, pub.Send([]byte("into the void"), false))
}

func TestXPubNoDropBackpressure(t *testing.T) {
	ctx := testContext(t)

	pub, _ := ctx.NewSocket(XPUB)
	defer pub.Close()
	require.NoError(t, pub.SetOption(XPubNoDrop, true))
	require.NoError(t, pub.SetOption(SndHWM, 50))
	require.NoError(t, pub.SetOption(SndTimeo, time.Duration(0)))
	require.NoError(t, pub.Bind("inproc://xpub-nodrop"))

	sub, _ := ctx.NewSocket(SUB)
	defer sub.Close()
	require.NoError(t, sub.SetOption(RcvHWM, 50))
	require.NoError(t, sub.Connect("inproc://xpub-nodrop"))
	require.NoError(t, sub.SetOption(Subscribe, ""))
	pump(sub)

	sent := 0
	sawAgain := false
	for i := 0; i < 1000; i++ {
		if err := pub.Send([]byte("m"), false); err != nil {
			require.ErrorIs(t, err, errs.ErrAgain)
			sawAgain = true
			break
		}
		sent++
	}
	require.True(t, sawAgain, "no-drop publisher must refuse instead of dropping")
	assert.Equal(t, 100, sent)

	// Drain everything that was accepted; nothing was lost.
	require.NoError(t, sub.SetOption(RcvTimeo, time.Second))
	for i := 0; i < sent; i++ {
		_, _, err := sub.Recv()
		require.NoError(t, err, "message %d", i)
	}

	// Credit is back; the publisher resumes.
	require.NoError(t, pub.Send([]byte("resumed"), false))
	assert.Equal(t, "resumed", recvString(t, sub, time.Second))
}
