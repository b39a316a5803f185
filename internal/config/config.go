package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"pingcounter/internal/counter"
	"pingcounter/internal/paths"
	pkgerrors "pingcounter/pkg/errors"
)

const (
	defaultLogLevel  = "info"
	defaultRetention = 7 * 24 * time.Hour
)

// Config represents configuration data for the daemon.
type Config struct {
	LogLevel         string      `yaml:"log_level"`
	DatabasePath     string      `yaml:"database_path"`
	HTTPListen       string      `yaml:"http_listen"`
	HistoryRetention Duration    `yaml:"history_retention"`
	SkipWhenOffline  bool        `yaml:"skip_when_offline"`
	Counters         CounterList `yaml:"ping_counter"`
}

// CounterConfig declares one ping counter.
type CounterConfig struct {
	ID                string        `yaml:"id"`
	IPAddress         string        `yaml:"ip_address"`
	Threshold         *int          `yaml:"threshold"`
	UpdateInterval    Duration      `yaml:"update_interval"`
	AlertBinarySensor *AlertBinding `yaml:"alert_binary_sensor"`
}

// AlertBinding names the boolean output a counter drives.
type AlertBinding struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// Label returns the most descriptive identifier of the binding.
func (b AlertBinding) Label() string {
	if b.Name != "" {
		return b.Name
	}
	return b.ID
}

// CounterList accepts either a single mapping or a sequence of mappings.
type CounterList []CounterConfig

func (l *CounterList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var single CounterConfig
		if err := value.Decode(&single); err != nil {
			return err
		}
		*l = CounterList{single}
		return nil
	case yaml.SequenceNode:
		var many []CounterConfig
		if err := value.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	default:
		return fmt.Errorf("line %d: ping_counter must be a mapping or a list", value.Line)
	}
}

// Duration is a time.Duration that decodes from "10s" style strings or
// from a plain number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	parsed, err := time.ParseDuration(strings.Replace(raw, "min", "m", 1))
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", value.Line, raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Options converts the declaration into counter construction parameters.
func (c CounterConfig) Options() counter.Options {
	opts := counter.DefaultOptions(c.ID, c.IPAddress)
	if c.UpdateInterval != 0 {
		opts.Interval = c.UpdateInterval.Std()
	}
	if c.Threshold != nil {
		opts.Threshold = *c.Threshold
	}
	return opts
}

// DefaultConfig returns the defaults applied before the file is decoded.
func DefaultConfig() Config {
	dbPath := "pingcounter.db"
	if dir, err := paths.DataDir(); err == nil {
		dbPath = filepath.Join(dir, "pingcounter.db")
	}
	return Config{
		LogLevel:         defaultLogLevel,
		DatabasePath:     dbPath,
		HistoryRetention: Duration(defaultRetention),
	}
}

// Load reads configuration from a yaml file.
func Load(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(content)
}

// Parse decodes configuration, fills in defaults and performs structural
// checks. Per-counter values are validated when the counter is built.
func Parse(content []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultConfig().DatabasePath
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = Duration(defaultRetention)
	}
	if len(cfg.Counters) == 0 {
		return Config{}, &pkgerrors.ConfigError{Field: "ping_counter", Err: pkgerrors.ErrNoCounters}
	}

	seen := make(map[string]struct{}, len(cfg.Counters))
	for i := range cfg.Counters {
		c := &cfg.Counters[i]
		if c.ID == "" {
			c.ID = generateID()
		}
		if _, dup := seen[c.ID]; dup {
			return Config{}, &pkgerrors.ConfigError{Counter: c.ID, Field: "id", Err: pkgerrors.ErrDuplicateCounter}
		}
		seen[c.ID] = struct{}{}
		if c.AlertBinarySensor != nil && c.AlertBinarySensor.Label() == "" {
			c.AlertBinarySensor.Name = c.ID + "_alert"
		}
	}
	return cfg, nil
}

// Validate builds every counter target without starting anything.
func (c Config) Validate() error {
	var errs []error
	for _, cc := range c.Counters {
		if _, err := counter.Validate(cc.Options()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Find returns the counter declaration with the given id.
func (c Config) Find(id string) (CounterConfig, bool) {
	for _, cc := range c.Counters {
		if cc.ID == id {
			return cc, true
		}
	}
	return CounterConfig{}, false
}

func generateID() string {
	return "ping_counter_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
