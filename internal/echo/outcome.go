package echo

import (
	"fmt"
	"time"
)

// Kind classifies the result of a single echo request.
type Kind int

const (
	KindSuccess Kind = iota + 1
	KindFailure
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailure:
		return "failure"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Failure reasons reported by the client.
const (
	ReasonResolve      = "resolve_error"
	ReasonUnreachable  = "unreachable"
	ReasonTimeExceeded = "time_exceeded"
	ReasonSend         = "send_error"
	ReasonSocket       = "socket_error"
	ReasonNoRoute      = "no_route"
)

// Outcome is the transient result of one probe attempt.
type Outcome struct {
	Kind   Kind
	RTT    time.Duration
	Reason string
}

// Success builds a successful outcome.
func Success(rtt time.Duration) Outcome {
	return Outcome{Kind: KindSuccess, RTT: rtt}
}

// Failure builds a failed outcome with the given reason.
func Failure(reason string) Outcome {
	return Outcome{Kind: KindFailure, Reason: reason}
}

// Timeout builds a timed-out outcome.
func Timeout() Outcome {
	return Outcome{Kind: KindTimeout}
}

// OK reports whether the probe succeeded.
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return fmt.Sprintf("success(%s)", o.RTT)
	case KindFailure:
		return fmt.Sprintf("failure(%s)", o.Reason)
	default:
		return o.Kind.String()
	}
}
