package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// Configuration errors
	ErrInvalidAddress   = errors.New("invalid address")
	ErrThresholdRange   = errors.New("threshold must be between 1 and 100")
	ErrIntervalInvalid  = errors.New("poll interval must be positive")
	ErrNoCounters       = errors.New("configuration must define at least one ping counter")
	ErrDuplicateCounter = errors.New("duplicate ping counter id")

	// Runtime errors
	ErrLoopStopped     = errors.New("event loop is not running")
	ErrClientClosed    = errors.New("echo client is closed")
	ErrCounterNotFound = errors.New("ping counter not found")
	ErrEngineRunning   = errors.New("engine is already running")

	// Probe errors
	ErrProbeSend    = errors.New("failed to send echo request")
	ErrProbeTimeout = errors.New("echo request timed out")
	ErrSocketOpen   = errors.New("failed to open icmp socket")
)

// ConfigError represents an invalid ping counter configuration.
// It is fatal: a counter that fails validation never starts probing.
type ConfigError struct {
	Counter string
	Field   string
	Err     error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Counter != "" && e.Field != "":
		return fmt.Sprintf("ping counter '%s': %s: %v", e.Counter, e.Field, e.Err)
	case e.Counter != "":
		return fmt.Sprintf("ping counter '%s': %v", e.Counter, e.Err)
	case e.Field != "":
		return fmt.Sprintf("config %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ProbeError represents a failed echo request.
type ProbeError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ProbeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("probe %s (%s): %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("probe %s: %v", e.Address, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
