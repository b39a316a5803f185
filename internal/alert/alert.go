package alert

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Sink is a boolean state output. A counter publishes to it on every alert
// transition.
type Sink interface {
	PublishState(active bool)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(active bool)

func (f SinkFunc) PublishState(active bool) { f(active) }

// Multi fans a state out to every non-nil sink, in order.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) PublishState(active bool) {
	for _, s := range m {
		s.PublishState(active)
	}
}

// LogSink logs every published state under the binding's name.
type LogSink struct {
	logger log.Logger
	name   string
	last   *bool
}

// NewLogSink creates a LogSink for the named output.
func NewLogSink(logger log.Logger, name string) *LogSink {
	return &LogSink{logger: log.With(logger, "sensor", name), name: name}
}

func (s *LogSink) PublishState(active bool) {
	if s.last != nil && *s.last == active {
		level.Debug(s.logger).Log("msg", "publishing state", "state", stateText(active))
		return
	}
	s.last = &active
	if active {
		level.Warn(s.logger).Log("msg", "alert sensor on", "state", stateText(active))
		return
	}
	level.Info(s.logger).Log("msg", "alert sensor off", "state", stateText(active))
}

func stateText(active bool) string {
	if active {
		return "ON"
	}
	return "OFF"
}
