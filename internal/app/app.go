package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"pingcounter/internal/config"
	"pingcounter/internal/paths"
	"pingcounter/internal/storage"
	"pingcounter/internal/storage/sqlite"
)

// App represents the application context
type App struct {
	Config     config.Config
	ConfigPath string
	Logger     log.Logger

	storage storage.Storage
	dbPath  string
}

// Options selects where the application reads its state from. Empty
// fields fall back to the defaults.
type Options struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	LogOutput  io.Writer
}

// New loads the configuration and builds the logger. Storage is opened on
// first use.
func New(opts Options) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		path = paths.DefaultConfigFile()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		cfg.DatabasePath = opts.DBPath
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, err := NewLogger(out, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		ConfigPath: path,
		Logger:     logger,
		dbPath:     cfg.DatabasePath,
	}, nil
}

// Storage opens the database on first call.
func (a *App) Storage() (storage.Storage, error) {
	if a.storage != nil {
		return a.storage, nil
	}
	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := sqlite.New(a.dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	paths.ChownToRealUser(a.dbPath)
	a.storage = store
	return store, nil
}

// DBPath returns the database location.
func (a *App) DBPath() string {
	return a.dbPath
}

// Close closes the application and releases resources
func (a *App) Close() error {
	if a.storage != nil {
		err := a.storage.Close()
		a.storage = nil
		return err
	}
	return nil
}

// NewLogger returns a logfmt logger filtered at the named level.
func NewLogger(w io.Writer, lvl string) (log.Logger, error) {
	var allow level.Option
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		allow = level.AllowDebug()
	case "info", "":
		allow = level.AllowInfo()
	case "warn", "warning":
		allow = level.AllowWarn()
	case "error":
		allow = level.AllowError()
	case "none", "off":
		allow = level.AllowNone()
	default:
		return nil, fmt.Errorf("unknown log level %q (use debug, info, warn, error)", lvl)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, allow)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}
