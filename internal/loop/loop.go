package loop

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jonboulle/clockwork"

	pkgerrors "pingcounter/pkg/errors"
)

// Loop is a single-goroutine executor. Every function posted to it runs
// on the same goroutine, one at a time, in posting order. State owned by
// code that only runs on the loop needs no locking.
type Loop struct {
	clock  clockwork.Clock
	logger log.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool

	wake   chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

// Timer is a pending callback armed with AfterFunc.
type Timer struct {
	t clockwork.Timer
}

// Stop prevents the timer from firing. It returns false if the timer has
// already fired or been stopped. A callback that was already posted to the
// loop still runs; callers must guard their own state.
func (t *Timer) Stop() bool {
	if t == nil || t.t == nil {
		return false
	}
	return t.t.Stop()
}

// New creates a loop driven by the given clock.
func New(clock clockwork.Clock, logger log.Logger) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Loop{
		clock:  clock,
		logger: log.With(logger, "component", "loop"),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Clock returns the clock the loop arms timers with.
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	go l.run()
}

// Stop terminates the loop and waits for the current function to return.
// Queued functions that have not started are discarded.
func (l *Loop) Stop() {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.stopped = true
	wasRunning := l.running
	l.queue = nil
	l.mu.Unlock()

	close(l.stopCh)
	if wasRunning {
		<-l.doneCh
	}
}

// Post queues fn for execution on the loop. It never blocks and returns
// false if the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits until it has run.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return pkgerrors.ErrLoopStopped
	}

	select {
	case <-done:
		return nil
	case <-l.stopCh:
		// fn may still be running; wait for the loop to exit so the caller
		// never observes a half-finished call.
		<-l.doneCh
		select {
		case <-done:
			return nil
		default:
			return pkgerrors.ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFunc arms a timer whose callback runs on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	return &Timer{t: l.clock.AfterFunc(d, func() {
		l.Post(fn)
	})}
}

func (l *Loop) run() {
	defer close(l.doneCh)

	for {
		select {
		case <-l.stopCh:
			return
		case <-l.wake:
		}

		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			l.exec(fn)

			select {
			case <-l.stopCh:
				return
			default:
			}
		}
	}
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			level.Error(l.logger).Log("msg", "recovered panic in loop callback", "panic", r)
		}
	}()
	fn()
}
