package counter

import (
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jonboulle/clockwork"

	"pingcounter/internal/alert"
	"pingcounter/internal/echo"
	pkgerrors "pingcounter/pkg/errors"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultThreshold = 10
	MinThreshold     = 1
	MaxThreshold     = 100

	// StaleProbeAge is how long a probe may stay outstanding before a poll
	// tick abandons it. The echo client normally resolves every probe well
	// before this.
	StaleProbeAge = 5 * time.Second
)

// Prober issues asynchronous echo requests. *echo.Client satisfies it.
type Prober interface {
	SendProbe(address string, done func(echo.Outcome)) (echo.Handle, error)
	Cancel(h echo.Handle)
}

// NetworkChecker reports whether the host has usable connectivity.
type NetworkChecker interface {
	Connected() bool
}

// Observer is notified after every outcome has been folded into the state.
type Observer interface {
	ObserveProbe(target Target, outcome echo.Outcome, state State)
}

// Options carries the construction parameters of one counter.
type Options struct {
	Name      string
	Address   string
	Interval  time.Duration
	Threshold int
}

// Target is the validated, immutable configuration of a counter.
type Target struct {
	Name      string
	Address   string
	Interval  time.Duration
	Threshold int
}

// State is the runtime tally. AlertActive always equals
// ConsecutiveFailures >= Threshold.
type State struct {
	ConsecutiveFailures int
	AlertActive         bool
	LastOutcome         *echo.Outcome
	LastProbeAt         time.Time
	Probes              uint64
	Skipped             uint64
}

// Counter polls one target and drives an optional alert sink. All methods
// except Target must be called on the event loop that runs the prober's
// callbacks.
type Counter struct {
	target   Target
	prober   Prober
	sink     alert.Sink
	network  NetworkChecker
	observer Observer
	clock    clockwork.Clock
	logger   log.Logger

	state         State
	inflight      echo.Handle
	inflightSince time.Time
	started       bool
	stopped       bool
}

// Option configures optional collaborators.
type Option func(*Counter)

// WithSink binds the alert output.
func WithSink(s alert.Sink) Option {
	return func(c *Counter) { c.sink = s }
}

// WithNetworkChecker skips ticks while the host is offline.
func WithNetworkChecker(n NetworkChecker) Option {
	return func(c *Counter) { c.network = n }
}

// WithObserver registers an outcome observer.
func WithObserver(o Observer) Option {
	return func(c *Counter) { c.observer = o }
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Counter) { c.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Counter) { c.logger = logger }
}

// DefaultOptions returns the options of a counter with the default
// interval and threshold.
func DefaultOptions(name, address string) Options {
	return Options{
		Name:      name,
		Address:   address,
		Interval:  DefaultInterval,
		Threshold: DefaultThreshold,
	}
}

// Validate checks opts. A zero interval selects DefaultInterval.
func Validate(opts Options) (Target, error) {
	addr, ok := echo.ParseIP(opts.Address)
	if !ok {
		return Target{}, &pkgerrors.ConfigError{
			Counter: opts.Name,
			Field:   "ip_address",
			Err:     fmt.Errorf("%w: %q (host names are not supported, use an IP literal)", pkgerrors.ErrInvalidAddress, opts.Address),
		}
	}

	threshold := opts.Threshold
	if threshold < MinThreshold || threshold > MaxThreshold {
		return Target{}, &pkgerrors.ConfigError{
			Counter: opts.Name,
			Field:   "threshold",
			Err:     fmt.Errorf("%w: got %d", pkgerrors.ErrThresholdRange, threshold),
		}
	}

	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < 0 {
		return Target{}, &pkgerrors.ConfigError{
			Counter: opts.Name,
			Field:   "update_interval",
			Err:     pkgerrors.ErrIntervalInvalid,
		}
	}

	return Target{
		Name:      opts.Name,
		Address:   addr.String(),
		Interval:  interval,
		Threshold: threshold,
	}, nil
}

// New validates opts and builds a counter in the Normal state. A
// configuration error means the counter must not be started.
func New(opts Options, prober Prober, options ...Option) (*Counter, error) {
	target, err := Validate(opts)
	if err != nil {
		return nil, err
	}

	c := &Counter{
		target: target,
		prober: prober,
		clock:  clockwork.NewRealClock(),
		logger: log.NewNopLogger(),
	}
	for _, o := range options {
		o(c)
	}
	c.logger = log.With(c.logger, "counter", target.Name, "target", target.Address)
	return c, nil
}

// Target returns the immutable configuration.
func (c *Counter) Target() Target {
	return c.target
}

// State returns a copy of the current tally.
func (c *Counter) State() State {
	st := c.state
	if st.LastOutcome != nil {
		o := *st.LastOutcome
		st.LastOutcome = &o
	}
	return st
}

// InFlight reports whether a probe is outstanding.
func (c *Counter) InFlight() bool {
	return c.inflight != 0
}

// Setup puts the alert output in a known state and logs the configuration.
func (c *Counter) Setup() {
	if c.started {
		return
	}
	c.started = true
	c.DumpConfig()
	if c.sink != nil {
		c.sink.PublishState(false)
	}
}

// DumpConfig logs the counter configuration.
func (c *Counter) DumpConfig() {
	level.Info(c.logger).Log(
		"msg", "ping counter configured",
		"interval", c.target.Interval,
		"threshold", c.target.Threshold,
		"alert_bound", c.sink != nil,
	)
}

// Update is the poll tick. It issues a probe unless one is outstanding.
func (c *Counter) Update() {
	if c.stopped {
		return
	}
	if c.network != nil && !c.network.Connected() {
		level.Debug(c.logger).Log("msg", "network down, skipping probe")
		c.state.Skipped++
		return
	}

	if c.inflight != 0 {
		if c.clock.Since(c.inflightSince) <= StaleProbeAge {
			level.Debug(c.logger).Log("msg", "probe already in progress, skipping tick")
			c.state.Skipped++
			return
		}
		level.Warn(c.logger).Log("msg", "probe hung, abandoning it", "age", c.clock.Since(c.inflightSince))
		c.prober.Cancel(c.inflight)
		c.inflight = 0
	}

	var h echo.Handle
	h, err := c.prober.SendProbe(c.target.Address, func(o echo.Outcome) {
		c.HandleOutcome(h, o)
	})
	if err != nil {
		level.Warn(c.logger).Log("msg", "failed to send probe", "err", err)
		c.apply(echo.Failure(echo.ReasonSend))
		return
	}
	c.inflight = h
	c.inflightSince = c.clock.Now()
	c.state.Probes++
}

// HandleOutcome folds the outcome of probe h into the tally. Outcomes for
// anything but the outstanding probe are discarded.
func (c *Counter) HandleOutcome(h echo.Handle, o echo.Outcome) {
	if c.stopped || h == 0 || h != c.inflight {
		return
	}
	c.inflight = 0
	c.apply(o)
}

// Stop cancels the outstanding probe and ignores any later tick or outcome.
func (c *Counter) Stop() {
	if c.stopped {
		return
	}
	c.stopped = true
	if c.inflight != 0 {
		c.prober.Cancel(c.inflight)
		c.inflight = 0
	}
}

func (c *Counter) apply(o echo.Outcome) {
	outcome := o
	c.state.LastOutcome = &outcome
	c.state.LastProbeAt = c.clock.Now()

	if o.OK() {
		if c.state.ConsecutiveFailures > 0 {
			level.Info(c.logger).Log("msg", "target recovered", "failures", c.state.ConsecutiveFailures, "rtt", o.RTT)
		}
		c.state.ConsecutiveFailures = 0
		if c.state.AlertActive {
			c.state.AlertActive = false
			c.publish(false)
		}
	} else {
		if c.state.ConsecutiveFailures < maxInt {
			c.state.ConsecutiveFailures++
		}
		level.Warn(c.logger).Log(
			"msg", "probe missed",
			"outcome", o,
			"failures", c.state.ConsecutiveFailures,
			"threshold", c.target.Threshold,
		)
		if !c.state.AlertActive && c.state.ConsecutiveFailures >= c.target.Threshold {
			c.state.AlertActive = true
			level.Error(c.logger).Log("msg", "failure threshold reached", "failures", c.state.ConsecutiveFailures)
			c.publish(true)
		}
	}

	if c.observer != nil {
		c.observer.ObserveProbe(c.target, o, c.State())
	}
}

func (c *Counter) publish(active bool) {
	if c.sink == nil {
		return
	}
	c.sink.PublishState(active)
}

const maxInt = int(^uint(0) >> 1)
