// Package engine runs every configured ping counter on one event loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jonboulle/clockwork"

	"pingcounter/internal/alert"
	"pingcounter/internal/config"
	"pingcounter/internal/counter"
	"pingcounter/internal/echo"
	"pingcounter/internal/loop"
	"pingcounter/internal/scheduler"
	pkgerrors "pingcounter/pkg/errors"
)

// SinkFactory builds the alert sink a component attaches to one counter.
type SinkFactory interface {
	AlertSink(target counter.Target) alert.Sink
}

// ProberFactory builds the prober shared by every counter.
type ProberFactory func(lp *loop.Loop) counter.Prober

// CounterSnapshot is a point-in-time copy of one counter.
type CounterSnapshot struct {
	Target   counter.Target
	State    counter.State
	InFlight bool
	NextRun  time.Time
	Alert    string
}

// Engine owns the event loop, the echo client, the scheduler and every
// counter built from the configuration.
type Engine struct {
	logger  log.Logger
	clock   clockwork.Clock
	loop    *loop.Loop
	sched   *scheduler.Scheduler
	prober  counter.Prober
	closer  func() error
	network counter.NetworkChecker

	observers []counter.Observer
	sinks     []SinkFactory
	echoOpts  []echo.Option
	newProber ProberFactory

	counters []*counter.Counter
	byName   map[string]*counter.Counter
	alerts   map[string]string

	mu      sync.Mutex
	running bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock replaces the wall clock of the loop and the scheduler.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithObserver registers an outcome observer on every counter.
func WithObserver(o counter.Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithSinks attaches the sinks built by f to every counter that declares
// an alert output.
func WithSinks(f ...SinkFactory) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, f...) }
}

// WithNetworkChecker makes counters skip ticks while the host is offline.
func WithNetworkChecker(n counter.NetworkChecker) Option {
	return func(e *Engine) { e.network = n }
}

// WithEchoOptions passes options to the echo client.
func WithEchoOptions(opts ...echo.Option) Option {
	return func(e *Engine) { e.echoOpts = append(e.echoOpts, opts...) }
}

// WithProber replaces the echo client.
func WithProber(f ProberFactory) Option {
	return func(e *Engine) { e.newProber = f }
}

// New builds every counter in cfg. Any configuration error is returned
// joined with the others and nothing is started.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	e := &Engine{
		logger: log.NewNopLogger(),
		clock:  clockwork.NewRealClock(),
		byName: make(map[string]*counter.Counter),
		alerts: make(map[string]string),
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = log.With(e.logger, "component", "engine")

	if len(cfg.Counters) == 0 {
		return nil, &pkgerrors.ConfigError{Field: "ping_counter", Err: pkgerrors.ErrNoCounters}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e.loop = loop.New(e.clock, e.logger)
	if e.newProber != nil {
		e.prober = e.newProber(e.loop)
	} else {
		client := echo.New(e.loop, append([]echo.Option{echo.WithLogger(e.logger)}, e.echoOpts...)...)
		e.prober = client
		e.closer = client.Close
	}

	sched, err := scheduler.New(scheduler.WithClock(e.clock), scheduler.WithLogger(e.logger))
	if err != nil {
		return nil, err
	}
	e.sched = sched

	observer := multiObserver(e.observers)
	for _, cc := range cfg.Counters {
		c, err := e.build(cc, observer)
		if err != nil {
			sched.Stop()
			return nil, err
		}
		e.counters = append(e.counters, c)
		e.byName[cc.ID] = c

		t := c.Target()
		if err := sched.Add(t.Name, t.Interval, func() { e.loop.Post(c.Update) }); err != nil {
			sched.Stop()
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) build(cc config.CounterConfig, observer counter.Observer) (*counter.Counter, error) {
	target, err := counter.Validate(cc.Options())
	if err != nil {
		return nil, err
	}

	opts := []counter.Option{
		counter.WithClock(e.clock),
		counter.WithLogger(e.logger),
	}
	if observer != nil {
		opts = append(opts, counter.WithObserver(observer))
	}
	if e.network != nil {
		opts = append(opts, counter.WithNetworkChecker(e.network))
	}
	if cc.AlertBinarySensor != nil {
		label := cc.AlertBinarySensor.Label()
		e.alerts[cc.ID] = label
		sinks := []alert.Sink{alert.NewLogSink(e.logger, label)}
		for _, f := range e.sinks {
			sinks = append(sinks, f.AlertSink(target))
		}
		opts = append(opts, counter.WithSink(alert.Multi(sinks...)))
	}
	for _, o := range e.observers {
		if i, ok := o.(interface{ Init(counter.Target) }); ok {
			i.Init(target)
		}
	}

	return counter.New(cc.Options(), e.prober, opts...)
}

// Start runs the loop, sets every counter up and starts polling.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return pkgerrors.ErrEngineRunning
	}
	if e.stopped {
		return fmt.Errorf("engine: %w", pkgerrors.ErrLoopStopped)
	}

	e.loop.Start()
	err := e.loop.Call(ctx, func() {
		for _, c := range e.counters {
			c.Setup()
		}
	})
	if err != nil {
		return fmt.Errorf("set up counters: %w", err)
	}
	if err := e.sched.Start(); err != nil {
		return err
	}
	e.running = true
	level.Info(e.logger).Log("msg", "engine started", "counters", len(e.counters))
	return nil
}

// Stop stops polling, cancels outstanding probes and releases the sockets.
// Callbacks still in flight are discarded.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	wasRunning := e.running
	e.stopped = true
	e.running = false

	var errs []error
	if err := e.sched.Stop(); err != nil {
		errs = append(errs, err)
	}

	teardown := func() {
		for _, c := range e.counters {
			c.Stop()
		}
		if e.closer != nil {
			if err := e.closer(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if wasRunning {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := e.loop.Call(ctx, teardown)
		cancel()
		e.loop.Stop()
		if err != nil {
			level.Warn(e.logger).Log("msg", "loop did not run teardown", "err", err)
			teardown()
		}
	} else {
		e.loop.Stop()
		teardown()
	}

	level.Info(e.logger).Log("msg", "engine stopped")
	return errors.Join(errs...)
}

// Names returns the counter names in configuration order.
func (e *Engine) Names() []string {
	names := make([]string, 0, len(e.counters))
	for _, c := range e.counters {
		names = append(names, c.Target().Name)
	}
	return names
}

// Snapshot copies the state of every counter.
func (e *Engine) Snapshot(ctx context.Context) ([]CounterSnapshot, error) {
	out := make([]CounterSnapshot, len(e.counters))
	err := e.loop.Call(ctx, func() {
		for i, c := range e.counters {
			out[i] = e.snapshot(c)
		}
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if next, err := e.sched.NextRun(out[i].Target.Name); err == nil {
			out[i].NextRun = next
		}
	}
	return out, nil
}

// SnapshotOf copies the state of the named counter.
func (e *Engine) SnapshotOf(ctx context.Context, name string) (CounterSnapshot, error) {
	c, ok := e.byName[name]
	if !ok {
		return CounterSnapshot{}, fmt.Errorf("%w: %s", pkgerrors.ErrCounterNotFound, name)
	}
	var snap CounterSnapshot
	if err := e.loop.Call(ctx, func() { snap = e.snapshot(c) }); err != nil {
		return CounterSnapshot{}, err
	}
	if next, err := e.sched.NextRun(name); err == nil {
		snap.NextRun = next
	}
	return snap, nil
}

func (e *Engine) snapshot(c *counter.Counter) CounterSnapshot {
	t := c.Target()
	return CounterSnapshot{
		Target:   t,
		State:    c.State(),
		InFlight: c.InFlight(),
		Alert:    e.alerts[t.Name],
	}
}

type observers []counter.Observer

func multiObserver(list []counter.Observer) counter.Observer {
	switch len(list) {
	case 0:
		return nil
	case 1:
		return list[0]
	}
	return observers(list)
}

func (o observers) ObserveProbe(target counter.Target, outcome echo.Outcome, state counter.State) {
	for _, obs := range o {
		obs.ObserveProbe(target, outcome, state)
	}
}
