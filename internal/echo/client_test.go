package echo

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"pingcounter/internal/loop"
	pkgerrors "pingcounter/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeNet hands out in-memory PacketConns. responder decides which
// packets come back for every packet written.
type fakeNet struct {
	mu        sync.Mutex
	listenErr error
	networks  []string
	written   [][]byte
	responder func(pkt []byte) [][]byte
}

func (n *fakeNet) listen(network, _ string) (PacketConn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listenErr != nil {
		return nil, n.listenErr
	}
	n.networks = append(n.networks, network)
	return &fakeConn{net: n, in: make(chan []byte, 16), closed: make(chan struct{})}, nil
}

func (n *fakeNet) writes() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.written)
}

type fakeConn struct {
	net    *fakeNet
	in     chan []byte
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case pkt := <-c.in:
		return copy(b, pkt), &net.UDPAddr{}, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(b []byte, _ net.Addr) (int, error) {
	c.net.mu.Lock()
	pkt := append([]byte(nil), b...)
	c.net.written = append(c.net.written, pkt)
	responder := c.net.responder
	c.net.mu.Unlock()

	if responder != nil {
		for _, r := range responder(pkt) {
			c.in <- r
		}
	}
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// echoReply turns a request into the matching reply.
func echoReply(t *testing.T) func(pkt []byte) [][]byte {
	return func(pkt []byte) [][]byte {
		msg, err := icmp.ParseMessage(protocolICMP, pkt)
		require.NoError(t, err)
		msg.Type = ipv4.ICMPTypeEchoReply
		out, err := msg.Marshal(nil)
		require.NoError(t, err)
		return [][]byte{out}
	}
}

type harness struct {
	t      *testing.T
	clock  *clockwork.FakeClock
	loop   *loop.Loop
	client *Client
	net    *fakeNet
}

func newHarness(t *testing.T, opts ...Option) *harness {
	clock := clockwork.NewFakeClock()
	lp := loop.New(clock, nil)
	lp.Start()

	fn := &fakeNet{}
	opts = append([]Option{WithListener(fn.listen), WithPrivileged(false)}, opts...)
	h := &harness{t: t, clock: clock, loop: lp, client: New(lp, opts...), net: fn}
	t.Cleanup(func() {
		_ = lp.Call(context.Background(), func() { _ = h.client.Close() })
		lp.Stop()
	})
	return h
}

func (h *harness) send(address string) (Handle, chan Outcome, error) {
	results := make(chan Outcome, 4)
	var handle Handle
	var err error
	require.NoError(h.t, h.loop.Call(context.Background(), func() {
		handle, err = h.client.SendProbe(address, func(o Outcome) { results <- o })
	}))
	return handle, results, err
}

func (h *harness) pending() int {
	var n int
	require.NoError(h.t, h.loop.Call(context.Background(), func() { n = h.client.Pending() }))
	return n
}

func waitOutcome(t *testing.T, ch chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no outcome delivered")
		return Outcome{}
	}
}

func TestSendProbeSuccess(t *testing.T) {
	h := newHarness(t)
	h.net.responder = echoReply(t)

	handle, results, err := h.send("192.0.2.10")
	require.NoError(t, err)
	assert.NotZero(t, handle)

	o := waitOutcome(t, results)
	assert.Equal(t, KindSuccess, o.Kind)
	assert.True(t, o.OK())
	assert.Equal(t, 0, h.pending())
	assert.Equal(t, []string{"udp4"}, h.net.networks)
}

func TestSendProbeTimeout(t *testing.T) {
	h := newHarness(t)

	_, results, err := h.send("192.0.2.10")
	require.NoError(t, err)

	require.NoError(t, h.clock.BlockUntilContext(context.Background(), 1))
	h.clock.Advance(DefaultTimeout)

	o := waitOutcome(t, results)
	assert.Equal(t, KindTimeout, o.Kind)
	assert.Equal(t, 0, h.pending())
}

func TestSendProbeInvalidAddress(t *testing.T) {
	h := newHarness(t)

	handle, _, err := h.send("not an ip!!")
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidAddress)
	assert.Zero(t, handle)
	assert.Equal(t, 0, h.net.writes())
}

func TestDuplicateReplyIsDiscarded(t *testing.T) {
	h := newHarness(t)
	base := echoReply(t)
	h.net.responder = func(pkt []byte) [][]byte {
		r := base(pkt)
		return append(r, r...)
	}

	_, results, err := h.send("192.0.2.10")
	require.NoError(t, err)

	assert.Equal(t, KindSuccess, waitOutcome(t, results).Kind)

	// Let the duplicate drain through the loop, then fire the old timer.
	require.Eventually(t, func() bool { return h.pending() == 0 }, time.Second, time.Millisecond)
	h.clock.Advance(2 * DefaultTimeout)
	require.NoError(t, h.loop.Call(context.Background(), func() {}))

	select {
	case o := <-results:
		t.Fatalf("second outcome delivered: %v", o)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestReplyForOtherHandleIgnored(t *testing.T) {
	h := newHarness(t)
	h.net.responder = func(pkt []byte) [][]byte {
		msg, err := icmp.ParseMessage(protocolICMP, pkt)
		require.NoError(t, err)
		echo := msg.Body.(*icmp.Echo)
		data := append([]byte(nil), echo.Data...)
		data[len(data)-1] ^= 0xff
		msg.Type = ipv4.ICMPTypeEchoReply
		msg.Body = &icmp.Echo{ID: echo.ID, Seq: echo.Seq, Data: data}
		out, err := msg.Marshal(nil)
		require.NoError(t, err)
		return [][]byte{out}
	}

	_, results, err := h.send("192.0.2.10")
	require.NoError(t, err)

	require.NoError(t, h.clock.BlockUntilContext(context.Background(), 1))
	h.clock.Advance(DefaultTimeout)
	assert.Equal(t, KindTimeout, waitOutcome(t, results).Kind)
}

func TestDestinationUnreachable(t *testing.T) {
	h := newHarness(t)
	h.net.responder = func(pkt []byte) [][]byte {
		header := make([]byte, ipv4.HeaderLen)
		header[0] = 0x45
		header[9] = protocolICMP
		quoted := append(header, pkt[:8]...)
		msg := icmp.Message{
			Type: ipv4.ICMPTypeDestinationUnreachable,
			Code: 1,
			Body: &icmp.DstUnreach{Data: quoted},
		}
		out, err := msg.Marshal(nil)
		require.NoError(t, err)
		return [][]byte{out}
	}

	_, results, err := h.send("192.0.2.10")
	require.NoError(t, err)

	o := waitOutcome(t, results)
	assert.Equal(t, KindFailure, o.Kind)
	assert.Equal(t, ReasonUnreachable, o.Reason)
}

func TestSocketOpenFailure(t *testing.T) {
	h := newHarness(t)
	h.net.listenErr = errors.New("operation not permitted")

	_, results, err := h.send("192.0.2.10")
	require.NoError(t, err)

	o := waitOutcome(t, results)
	assert.Equal(t, KindFailure, o.Kind)
	assert.Equal(t, ReasonSocket, o.Reason)
}

type stubResolver struct {
	addrs []netip.Addr
	err   error
}

func (r stubResolver) LookupNetIP(context.Context, string, string) ([]netip.Addr, error) {
	return r.addrs, r.err
}

func TestResolveError(t *testing.T) {
	h := newHarness(t, WithResolver(stubResolver{err: errors.New("no such host")}))

	handle, results, err := h.send("router.invalid")
	require.NoError(t, err)
	assert.NotZero(t, handle)

	o := waitOutcome(t, results)
	assert.Equal(t, KindFailure, o.Kind)
	assert.Equal(t, ReasonResolve, o.Reason)
}

func TestResolveThenProbe(t *testing.T) {
	h := newHarness(t, WithResolver(stubResolver{addrs: []netip.Addr{netip.MustParseAddr("192.0.2.20")}}))
	h.net.responder = echoReply(t)

	_, results, err := h.send("gateway.example")
	require.NoError(t, err)
	assert.Equal(t, KindSuccess, waitOutcome(t, results).Kind)
}

func TestCancelSuppressesOutcome(t *testing.T) {
	h := newHarness(t)

	handle, results, err := h.send("192.0.2.10")
	require.NoError(t, err)
	require.NoError(t, h.loop.Call(context.Background(), func() { h.client.Cancel(handle) }))
	assert.Equal(t, 0, h.pending())

	h.clock.Advance(2 * DefaultTimeout)
	require.NoError(t, h.loop.Call(context.Background(), func() {}))
	select {
	case o := <-results:
		t.Fatalf("cancelled probe delivered %v", o)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSendAfterClose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.loop.Call(context.Background(), func() { require.NoError(t, h.client.Close()) }))

	_, _, err := h.send("192.0.2.10")
	assert.ErrorIs(t, err, pkgerrors.ErrClientClosed)
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		address string
		valid   bool
	}{
		{"8.8.8.8", true},
		{"2001:db8::1", true},
		{"fe80::1%eth0", true},
		{"router.lan", true},
		{"not an ip!!", false},
		{"", false},
		{"-bad.example", false},
		{"a..b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidAddress(tt.address), tt.address)
	}

	addr, ok := ParseIP("::ffff:10.0.0.1")
	require.True(t, ok)
	assert.True(t, addr.Is4())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "timeout", Timeout().String())
	assert.Equal(t, "failure(unreachable)", Failure(ReasonUnreachable).String())
	assert.Equal(t, "success(5ms)", Success(5*time.Millisecond).String())
}
