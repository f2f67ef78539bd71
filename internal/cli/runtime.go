package cli

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mailchimp/Firebase/internal/backfill"
	"github.com/mailchimp/Firebase/internal/config"
	"github.com/mailchimp/Firebase/internal/engine"
	"github.com/mailchimp/Firebase/internal/metrics"
	"github.com/mailchimp/Firebase/internal/status"
	"github.com/mailchimp/Firebase/internal/store"
	"github.com/mailchimp/Firebase/internal/taskqueue"
)

// runtime is the wired process: store, engine, backfill orchestrator and
// the task worker that drives it.
type runtime struct {
	raw      config.Raw
	store    *store.Store
	engine   *engine.Engine
	orch     *backfill.Orchestrator
	worker   *taskqueue.Worker
	registry *prometheus.Registry
	logger   *slog.Logger
}

// openRuntime loads the configuration at configPath, opens the database
// (dbPath wins over DATABASE_PATH) and configures the engine. An audience
// client initialization failure is logged, not returned: the process
// stays up so the configuration can be fixed through reconfigure.
func openRuntime(configPath, dbPath string, logger *slog.Logger) (*runtime, error) {
	raw, err := config.LoadRaw(configPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if dbPath == "" {
		dbPath = raw.DatabasePath
	}
	if dbPath == "" {
		return nil, NewExitError(ExitCommandError, "a database path is required (--db or DATABASE_PATH)")
	}

	logger.Info("opening database", "path", dbPath)
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector()
	registry.MustRegister(m)

	eng := engine.New(engine.WithMetrics(m), engine.WithLogger(logger))
	diags, err := eng.Configure(raw)
	for _, d := range diags {
		logger.Warn("config diagnostic", "key", d.Key, "code", d.Code, "message", d.Message)
	}
	if err != nil {
		logger.Error("audience client not initialized", "error", err)
	}

	orch := backfill.New(eng, st, st, st, status.NewStoreReporter(st, logger),
		backfill.WithMetrics(m),
		backfill.WithLogger(logger),
	)
	worker := taskqueue.NewWorker(st, taskqueue.WithLogger(logger))
	worker.Handle(backfill.QueueName, orch.Execute)

	return &runtime{
		raw:      raw,
		store:    st,
		engine:   eng,
		orch:     orch,
		worker:   worker,
		registry: registry,
		logger:   logger,
	}, nil
}

func (r *runtime) Close() {
	if err := r.store.Close(); err != nil {
		r.logger.Error("error closing database", "error", err)
	}
}
