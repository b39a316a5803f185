package cli

import (
	"context"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"pingcounter/internal/app"
	"pingcounter/internal/echo"
	"pingcounter/internal/engine"
	"pingcounter/internal/history"
	"pingcounter/internal/metrics"
	"pingcounter/internal/server"
	"pingcounter/internal/storage"
)

// monitor is the set of long-running components shared by run and tui.
type monitor struct {
	engine   *engine.Engine
	recorder *history.Recorder
	hub      *server.Hub
	registry *prometheus.Registry
	storage  storage.Storage
}

type monitorOptions struct {
	unprivileged bool
	withHub      bool
}

func newMonitor(a *app.App, opts monitorOptions) (*monitor, error) {
	store, err := a.Storage()
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder := history.NewRecorder(store,
		history.WithLogger(a.Logger),
		history.WithRetention(a.Config.HistoryRetention.Std()),
	)

	m := &monitor{
		recorder: recorder,
		registry: registry,
		storage:  store,
	}

	engineOpts := []engine.Option{
		engine.WithLogger(a.Logger),
		engine.WithObserver(recorder),
		engine.WithObserver(metrics.New(registry)),
		engine.WithSinks(recorder),
	}
	if opts.withHub {
		m.hub = server.NewHub(nil, a.Logger)
		engineOpts = append(engineOpts, engine.WithObserver(m.hub), engine.WithSinks(m.hub))
	}
	if a.Config.SkipWhenOffline {
		engineOpts = append(engineOpts, engine.WithNetworkChecker(engine.NewInterfaceChecker()))
	}
	if opts.unprivileged {
		engineOpts = append(engineOpts, engine.WithEchoOptions(echo.WithPrivileged(false)))
	}

	eng, err := engine.New(a.Config, engineOpts...)
	if err != nil {
		return nil, err
	}
	m.engine = eng
	return m, nil
}

func (m *monitor) start(ctx context.Context, a *app.App) error {
	m.recorder.Start()
	if err := m.engine.Start(ctx); err != nil {
		m.engine.Stop()
		m.recorder.Close()
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := m.storage.SetSetting(ctx, "last_run_started", now); err != nil {
		level.Warn(a.Logger).Log("msg", "failed to record start time", "err", err)
	}
	return nil
}

// stop tears the engine down before the recorder so the final alert
// transitions still reach the database.
func (m *monitor) stop(a *app.App) error {
	err := m.engine.Stop()
	m.recorder.Close()
	if m.hub != nil {
		m.hub.Close()
	}
	if dropped := m.recorder.Dropped(); dropped > 0 {
		level.Warn(a.Logger).Log("msg", "history records dropped", "count", dropped)
	}
	return err
}
