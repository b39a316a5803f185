// Package scheduler drives the poll ticks of every counter.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jonboulle/clockwork"
)

// Scheduler runs one duration job per counter.
type Scheduler struct {
	scheduler gocron.Scheduler
	logger    log.Logger

	mu      sync.Mutex
	jobs    map[string]gocron.Job
	running bool
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	clock  clockwork.Clock
	logger log.Logger
}

// WithClock replaces the wall clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a scheduler. Jobs are added with Add and begin firing on Start.
func New(opts ...Option) (*Scheduler, error) {
	o := options{logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.With(o.logger, "component", "scheduler")

	schedOpts := []gocron.SchedulerOption{gocron.WithLogger(gokitLogger{logger})}
	if o.clock != nil {
		schedOpts = append(schedOpts, gocron.WithClock(o.clock))
	}
	scheduler, err := gocron.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{
		scheduler: scheduler,
		logger:    logger,
		jobs:      make(map[string]gocron.Job),
	}, nil
}

// Add schedules task every interval under name, with the first run as soon
// as the scheduler starts. Overlapping runs of one job are skipped.
func (s *Scheduler) Add(name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive, got %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %q already scheduled", name)
	}

	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithTags(name),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job %q: %w", name, err)
	}
	s.jobs[name] = job
	level.Debug(s.logger).Log("msg", "job scheduled", "job", name, "interval", interval)
	return nil
}

// Remove unschedules the named job.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("job %q not scheduled", name)
	}
	delete(s.jobs, name)
	return s.scheduler.RemoveJob(job.ID())
}

// NextRun returns when the named job fires next.
func (s *Scheduler) NextRun(name string) (time.Time, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("job %q not scheduled", name)
	}
	return job.NextRun()
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.scheduler.Start()
	s.running = true
	level.Info(s.logger).Log("msg", "scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop shuts the scheduler down and waits for running tasks to return.
// A stopped scheduler cannot be restarted.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	s.running = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// gokitLogger adapts a go-kit logger to gocron.Logger.
type gokitLogger struct {
	logger log.Logger
}

func (l gokitLogger) Debug(msg string, args ...any) {
	level.Debug(l.logger).Log(append([]any{"msg", msg}, args...)...)
}

func (l gokitLogger) Info(msg string, args ...any) {
	level.Info(l.logger).Log(append([]any{"msg", msg}, args...)...)
}

func (l gokitLogger) Warn(msg string, args ...any) {
	level.Warn(l.logger).Log(append([]any{"msg", msg}, args...)...)
}

func (l gokitLogger) Error(msg string, args ...any) {
	level.Error(l.logger).Log(append([]any{"msg", msg}, args...)...)
}
