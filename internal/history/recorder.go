// Package history persists probe outcomes and alert transitions.
package history

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jonboulle/clockwork"

	"pingcounter/internal/alert"
	"pingcounter/internal/counter"
	"pingcounter/internal/echo"
	"pingcounter/internal/storage"
	"pingcounter/internal/storage/models"
)

const (
	defaultQueueSize = 256
	maxBatch         = 64
	pruneEvery       = time.Hour
)

// Recorder writes records on its own goroutine so the event loop never
// waits on the database. It implements counter.Observer.
type Recorder struct {
	store     storage.Storage
	logger    log.Logger
	clock     clockwork.Clock
	retention time.Duration

	queue   chan record
	quit    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.Mutex
	dropped uint64
	closed  bool
}

type record struct {
	probe *models.ProbeRecord
	alert *models.AlertEvent
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = clock }
}

// WithRetention prunes probe rows older than d. Zero keeps everything.
func WithRetention(d time.Duration) Option {
	return func(r *Recorder) { r.retention = d }
}

// WithQueueSize bounds the number of records waiting to be written.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan record, n)
		}
	}
}

// NewRecorder creates a recorder writing to store. Call Start before use.
func NewRecorder(store storage.Storage, opts ...Option) *Recorder {
	r := &Recorder{
		store:  store,
		logger: log.NewNopLogger(),
		clock:  clockwork.NewRealClock(),
		queue:  make(chan record, defaultQueueSize),
		quit:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = log.With(r.logger, "component", "history")
	return r
}

// Start launches the writer goroutine.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// Close flushes queued records and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.quit)
	})
	r.wg.Wait()
}

// Dropped returns the number of records discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// ObserveProbe queues a probe row.
func (r *Recorder) ObserveProbe(target counter.Target, outcome echo.Outcome, state counter.State) {
	rec := &models.ProbeRecord{
		Counter:  target.Name,
		Address:  target.Address,
		Kind:     outcome.Kind.String(),
		Reason:   outcome.Reason,
		Failures: state.ConsecutiveFailures,
		ProbedAt: state.LastProbeAt,
	}
	if outcome.OK() {
		us := outcome.RTT.Microseconds()
		rec.RTTMicros = &us
	}
	r.enqueue(record{probe: rec})
}

// AlertSink returns a sink that records every transition of target's
// alert output.
func (r *Recorder) AlertSink(target counter.Target) alert.Sink {
	return alert.SinkFunc(func(active bool) {
		ev := &models.AlertEvent{
			Counter:   target.Name,
			Address:   target.Address,
			Active:    active,
			ChangedAt: r.clock.Now(),
		}
		if active {
			ev.Failures = target.Threshold
		}
		r.enqueue(record{alert: ev})
	})
}

func (r *Recorder) enqueue(rec record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.dropped++
		level.Warn(r.logger).Log("msg", "history queue full, dropping record", "dropped", r.dropped)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()

	var prune <-chan time.Time
	if r.retention > 0 {
		r.prune()
		ticker := r.clock.NewTicker(pruneEvery)
		defer ticker.Stop()
		prune = ticker.Chan()
	}

	for {
		select {
		case rec := <-r.queue:
			r.flush(rec)
		case <-prune:
			r.prune()
		case <-r.quit:
			r.drain()
			return
		}
	}
}

// flush writes first plus whatever else is already queued in one transaction.
func (r *Recorder) flush(first record) {
	batch := []record{first}
	for len(batch) < maxBatch {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			continue
		default:
		}
		break
	}
	r.write(batch)
}

func (r *Recorder) drain() {
	var batch []record
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			if len(batch) > 0 {
				r.write(batch)
			}
			return
		}
	}
}

func (r *Recorder) write(batch []record) {
	ctx := context.Background()
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		level.Error(r.logger).Log("msg", "failed to begin transaction", "err", err)
		return
	}
	for _, rec := range batch {
		if rec.probe != nil {
			err = tx.RecordProbe(ctx, rec.probe)
		} else {
			err = tx.RecordAlert(ctx, rec.alert)
		}
		if err != nil {
			tx.Rollback()
			level.Error(r.logger).Log("msg", "failed to write history", "records", len(batch), "err", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		level.Error(r.logger).Log("msg", "failed to commit history", "err", err)
		return
	}
	level.Debug(r.logger).Log("msg", "history written", "records", len(batch))
}

func (r *Recorder) prune() {
	cutoff := r.clock.Now().Add(-r.retention)
	n, err := r.store.PruneProbes(context.Background(), cutoff)
	if err != nil {
		level.Error(r.logger).Log("msg", "failed to prune probe history", "err", err)
		return
	}
	if n > 0 {
		level.Info(r.logger).Log("msg", "pruned probe history", "rows", n, "before", cutoff)
	}
}
