package check

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/jonboulle/clockwork"

	"pingcounter/internal/echo"
	"pingcounter/internal/loop"
	pkgerrors "pingcounter/pkg/errors"
)

// Strategy defines how a single reachability test is performed.
type Strategy interface {
	// Name returns the strategy identifier ("icmp" or "tcp").
	Name() string
	// Probe tests address once.
	Probe(ctx context.Context, address string) echo.Outcome
}

// ICMPStrategy sends one echo request through a shared client. The loop
// must be running.
type ICMPStrategy struct {
	loop   *loop.Loop
	client *echo.Client
}

// NewICMPStrategy creates an ICMPStrategy using client, which is bound to lp.
func NewICMPStrategy(lp *loop.Loop, client *echo.Client) *ICMPStrategy {
	return &ICMPStrategy{loop: lp, client: client}
}

func (s *ICMPStrategy) Name() string { return "icmp" }

func (s *ICMPStrategy) Probe(ctx context.Context, address string) echo.Outcome {
	result := make(chan echo.Outcome, 1)
	var (
		h       echo.Handle
		sendErr error
	)
	err := s.loop.Call(ctx, func() {
		h, sendErr = s.client.SendProbe(address, func(o echo.Outcome) {
			result <- o
		})
	})
	if err != nil {
		return echo.Failure(echo.ReasonSend)
	}
	if sendErr != nil {
		if errors.Is(sendErr, pkgerrors.ErrInvalidAddress) {
			return echo.Failure(echo.ReasonResolve)
		}
		return echo.Failure(echo.ReasonSend)
	}

	select {
	case o := <-result:
		return o
	case <-ctx.Done():
		s.loop.Post(func() { s.client.Cancel(h) })
		return echo.Timeout()
	}
}

// TCPStrategy measures the time of a TCP handshake to address:Port. It
// needs no privileges and works where ICMP is filtered.
type TCPStrategy struct {
	Port  int
	clock clockwork.Clock
}

// DefaultTCPPort is dialed when TCPStrategy.Port is zero.
const DefaultTCPPort = 443

func (s *TCPStrategy) Name() string { return "tcp" }

func (s *TCPStrategy) Probe(ctx context.Context, address string) echo.Outcome {
	clock := s.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	port := s.Port
	if port == 0 {
		port = DefaultTCPPort
	}

	start := clock.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		if ctx.Err() != nil {
			return echo.Timeout()
		}
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return echo.Failure(echo.ReasonResolve)
		}
		return echo.Failure(echo.ReasonUnreachable)
	}
	elapsed := clock.Since(start)
	conn.Close()
	return echo.Success(elapsed)
}

// NewStrategy creates a Strategy by name. Valid names: "icmp", "tcp".
// lp and client are only used by the icmp strategy.
func NewStrategy(name string, lp *loop.Loop, client *echo.Client, port int) (Strategy, error) {
	switch name {
	case "icmp", "":
		if lp == nil || client == nil {
			return nil, fmt.Errorf("icmp strategy needs an echo client")
		}
		return NewICMPStrategy(lp, client), nil
	case "tcp":
		return &TCPStrategy{Port: port}, nil
	default:
		return nil, fmt.Errorf("unknown test strategy: %s (available: icmp, tcp)", name)
	}
}
