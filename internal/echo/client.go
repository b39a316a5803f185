package echo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jonboulle/clockwork"

	"pingcounter/internal/loop"
	pkgerrors "pingcounter/pkg/errors"
)

// DefaultTimeout bounds a single echo request, resolution included.
const DefaultTimeout = time.Second

// Handle correlates a probe with its outcome. The zero Handle is never
// issued.
type Handle uint64

// Resolver looks up host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithListener replaces the ICMP socket factory.
func WithListener(fn ListenFunc) Option {
	return func(c *Client) { c.listen = fn }
}

// WithResolver replaces the host name resolver.
func WithResolver(r Resolver) Option {
	return func(c *Client) { c.resolver = r }
}

// WithPrivileged forces raw (true) or datagram (false) ICMP sockets.
func WithPrivileged(privileged bool) Option {
	return func(c *Client) { c.privileged = privileged }
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Client issues ICMP echo requests and reports each outcome exactly once.
//
// SendProbe, Cancel and Close must be called on the client's loop, and
// completion callbacks run on that loop.
type Client struct {
	loop       *loop.Loop
	clock      clockwork.Clock
	logger     log.Logger
	listen     ListenFunc
	resolver   Resolver
	timeout    time.Duration
	privileged bool
	id         uint16

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Owned by the loop.
	nextHandle Handle
	nextSeq    uint16
	pending    map[Handle]*request
	bySeq      map[seqKey]Handle
	sockets    map[family]*socket
	closed     bool
}

type seqKey struct {
	family family
	seq    uint16
}

type request struct {
	handle  Handle
	address string
	family  family
	seq     uint16
	sent    time.Time
	onWire  bool
	timer   *loop.Timer
	done    func(Outcome)
}

type socket struct {
	family family
	conn   PacketConn
	closed atomic.Bool
}

// New creates a client bound to lp.
func New(lp *loop.Loop, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		loop:       lp,
		clock:      lp.Clock(),
		logger:     log.NewNopLogger(),
		listen:     listenICMP,
		resolver:   net.DefaultResolver,
		timeout:    DefaultTimeout,
		privileged: defaultPrivileged(),
		id:         uint16(os.Getpid() & 0xffff),
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[Handle]*request),
		bySeq:      make(map[seqKey]Handle),
		sockets:    make(map[family]*socket),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.With(c.logger, "component", "echo")
	return c
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// SendProbe transmits one echo request to address and returns immediately.
// done is invoked exactly once on the loop, never before SendProbe returns.
// address must be an IP literal or a syntactically valid host name.
func (c *Client) SendProbe(address string, done func(Outcome)) (Handle, error) {
	if c.closed {
		return 0, pkgerrors.ErrClientClosed
	}
	if !ValidAddress(address) {
		return 0, &pkgerrors.ProbeError{Address: address, Err: pkgerrors.ErrInvalidAddress}
	}

	c.nextHandle++
	h := c.nextHandle
	req := &request{handle: h, address: address, done: done}
	c.pending[h] = req
	req.timer = c.loop.AfterFunc(c.timeout, func() {
		c.resolve(h, Timeout())
	})

	if addr, ok := ParseIP(address); ok {
		c.transmit(req, addr)
	} else {
		c.lookup(req)
	}
	return h, nil
}

// Cancel discards a pending probe. Its callback is never invoked.
func (c *Client) Cancel(h Handle) {
	req, ok := c.pending[h]
	if !ok {
		return
	}
	c.forget(req)
}

// Pending returns the number of unresolved probes.
func (c *Client) Pending() int {
	return len(c.pending)
}

// Close discards all pending probes, closes the sockets and waits for the
// reader goroutines. It must run on the loop or after the loop stopped.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()

	for _, req := range c.pending {
		c.forget(req)
	}

	var errs []error
	for fam, s := range c.sockets {
		s.closed.Store(true)
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s socket: %w", fam, err))
		}
		delete(c.sockets, fam)
	}
	c.wg.Wait()
	return errors.Join(errs...)
}

func (c *Client) transmit(req *request, addr netip.Addr) {
	fam := familyOf(addr)
	s, err := c.socketFor(fam)
	if err != nil {
		level.Error(c.logger).Log("msg", "cannot open icmp socket", "family", fam, "err", err)
		c.deliverLater(req.handle, Failure(ReasonSocket))
		return
	}

	seq, ok := c.allocSeq(fam)
	if !ok {
		c.deliverLater(req.handle, Failure(ReasonSend))
		return
	}

	pkt, err := marshalRequest(fam, c.id, seq, req.handle)
	if err != nil {
		level.Error(c.logger).Log("msg", "marshal echo request", "err", err)
		c.deliverLater(req.handle, Failure(ReasonSend))
		return
	}

	req.family = fam
	req.seq = seq
	req.onWire = true
	req.sent = c.clock.Now()
	c.bySeq[seqKey{family: fam, seq: seq}] = req.handle

	if _, err := s.conn.WriteTo(pkt, destination(addr, c.privileged)); err != nil {
		level.Debug(c.logger).Log("msg", "echo request write failed", "address", req.address, "err", err)
		c.deliverLater(req.handle, Failure(writeReason(err)))
		return
	}
	level.Debug(c.logger).Log("msg", "echo request sent", "address", req.address, "seq", seq)
}

func (c *Client) lookup(req *request) {
	h := req.handle
	host := req.address
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()
		addrs, err := c.resolver.LookupNetIP(ctx, "ip", host)

		c.loop.Post(func() {
			req, ok := c.pending[h]
			if !ok {
				return
			}
			if err != nil || len(addrs) == 0 {
				level.Debug(c.logger).Log("msg", "resolve failed", "host", host, "err", err)
				c.resolve(h, Failure(ReasonResolve))
				return
			}
			c.transmit(req, addrs[0].Unmap())
		})
	}()
}

// allocSeq returns the next sequence number not held by a pending request.
func (c *Client) allocSeq(fam family) (uint16, bool) {
	for i := 0; i < 1<<16; i++ {
		c.nextSeq++
		if _, busy := c.bySeq[seqKey{family: fam, seq: c.nextSeq}]; !busy {
			return c.nextSeq, true
		}
	}
	return 0, false
}

func (c *Client) socketFor(fam family) (*socket, error) {
	if s, ok := c.sockets[fam]; ok {
		return s, nil
	}

	network, address := fam.network(c.privileged)
	conn, err := c.listen(network, address)
	if err != nil {
		return nil, &pkgerrors.ProbeError{
			Address: address,
			Reason:  ReasonSocket,
			Err:     fmt.Errorf("%w: %s: %v", pkgerrors.ErrSocketOpen, network, err),
		}
	}

	s := &socket{family: fam, conn: conn}
	c.sockets[fam] = s
	c.wg.Add(1)
	go c.readLoop(s)
	level.Debug(c.logger).Log("msg", "icmp socket opened", "network", network)
	return s, nil
}

func (c *Client) readLoop(s *socket) {
	defer c.wg.Done()

	buf := make([]byte, 1500)
	for {
		n, _, err := s.conn.ReadFrom(buf)
		if err != nil {
			if s.closed.Load() {
				return
			}
			level.Warn(c.logger).Log("msg", "icmp read failed, dropping socket", "family", s.family, "err", err)
			c.loop.Post(func() { c.dropSocket(s) })
			return
		}
		at := c.clock.Now()
		data := make([]byte, n)
		copy(data, buf[:n])
		c.loop.Post(func() { c.handlePacket(s.family, data, at) })
	}
}

// dropSocket discards a broken socket; the next probe reopens it. Probes
// already on the wire run into their timeout.
func (c *Client) dropSocket(s *socket) {
	if c.sockets[s.family] != s {
		return
	}
	delete(c.sockets, s.family)
	s.closed.Store(true)
	_ = s.conn.Close()
}

func (c *Client) handlePacket(fam family, data []byte, at time.Time) {
	r, ok := parseReply(fam, data)
	if !ok {
		return
	}

	h, ok := c.bySeq[seqKey{family: fam, seq: r.seq}]
	if !ok {
		return
	}
	req := c.pending[h]
	// Datagram sockets rewrite the identifier; raw sockets see every
	// ICMP message on the host and must filter on it.
	if c.privileged && r.id != c.id {
		return
	}
	if r.handle != 0 && r.handle != h {
		return
	}

	switch r.kind {
	case replyEcho:
		c.resolve(h, Success(at.Sub(req.sent)))
	case replyUnreachable:
		c.resolve(h, Failure(ReasonUnreachable))
	case replyTimeExceeded:
		c.resolve(h, Failure(ReasonTimeExceeded))
	}
}

// deliverLater resolves h on a later loop iteration so the callback never
// runs inside SendProbe.
func (c *Client) deliverLater(h Handle, o Outcome) {
	c.loop.Post(func() { c.resolve(h, o) })
}

// resolve delivers o for h. Later outcomes for the same handle are dropped.
func (c *Client) resolve(h Handle, o Outcome) {
	req, ok := c.pending[h]
	if !ok {
		return
	}
	c.forget(req)
	if req.done != nil {
		req.done(o)
	}
}

func (c *Client) forget(req *request) {
	delete(c.pending, req.handle)
	if req.onWire {
		key := seqKey{family: req.family, seq: req.seq}
		if c.bySeq[key] == req.handle {
			delete(c.bySeq, key)
		}
	}
	req.timer.Stop()
}

func writeReason(err error) string {
	switch {
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return ReasonNoRoute
	default:
		return ReasonSend
	}
}
