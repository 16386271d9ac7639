package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/dig"

	"parcelflow/internal/config"
	"parcelflow/internal/logx"
	"parcelflow/internal/ports/ledger"
	"parcelflow/internal/service/audit"
)

// MustBuildWorkerContainer builds the auditor container.
func MustBuildWorkerContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuildWorker(ctx)
}

// MustBuildWorker builds the auditor container: storage, the audit service and the debug server.
func (b *ContainerBuilder) MustBuildWorker(ctx context.Context) *dig.Container {
	container, err := b.buildWorker(ctx)
	if err != nil {
		b.logFatalf("failed to build worker container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) buildWorker(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx, b.config); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerStorage(container, b.dbConnect); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := provideAll(container,
		func(repo ledger.Auditor, m *Metrics, logger logx.Logger) *audit.Service {
			return audit.NewService(repo, m.InvariantViolations, 0, logger.With(logx.String("component", "auditor")))
		},
		provideWorkerDebug,
	); err != nil {
		return nil, fmt.Errorf("worker: %w", err)
	}
	return container, nil
}

type workerDebug struct {
	dig.Out

	Debug *http.Server `name:"debug_server"`
}

func provideWorkerDebug(cfg *config.Config, gatherer prometheus.Gatherer) workerDebug {
	if !cfg.Debug.Enabled() {
		return workerDebug{}
	}
	return workerDebug{Debug: newDebugServer(cfg, gatherer)}
}

// WorkerRunner runs the invariant auditor on a cron schedule.
type WorkerRunner struct {
	runFn func(*dig.Container) error
	exit  func(int)
}

// NewWorkerRunner returns a new WorkerRunner.
func NewWorkerRunner() *WorkerRunner {
	return &WorkerRunner{runFn: runWorker, exit: os.Exit}
}

// MustRun runs the auditor until the container context is done.
func (r *WorkerRunner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	resolveLogger(container).Error("auditor stopped", logx.Err(err))
	if r.exit != nil {
		r.exit(1)
	}
}

type workerIn struct {
	dig.In

	Ctx    context.Context
	Cfg    *config.Config
	Logger logx.Logger
	Audit  *audit.Service
	Debug  *http.Server `name:"debug_server"`
	Pool   *pgxpool.Pool
}

func runWorker(container *dig.Container) error {
	return container.Invoke(workerRun)
}

func workerRun(in workerIn) error {
	if in.Audit == nil {
		return fmt.Errorf("audit service is nil: worker container misconfigured")
	}
	if in.Cfg.Storage.Driver == config.StorageMemory {
		return fmt.Errorf("auditor needs shared storage, got %q", in.Cfg.Storage.Driver)
	}
	defer closeWorker(in)

	sched, err := newAuditScheduler(in.Ctx, in.Cfg.Audit.Schedule, in.Audit, in.Logger)
	if err != nil {
		return err
	}
	if in.Debug != nil {
		go func() {
			if err := serve(in.Debug, in.Logger, "debug"); err != nil {
				in.Logger.Error("debug server failed", logx.Err(err))
			}
		}()
	}

	in.Logger.Info("parcelflow auditor started", logx.String("schedule", in.Cfg.Audit.Schedule))
	runAudit(in.Ctx, in.Audit, in.Logger)
	sched.Start()

	<-in.Ctx.Done()
	stopped := sched.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(shutdownTimeout):
		in.Logger.Warn("audit run still in progress at shutdown")
	}
	if in.Debug != nil {
		gracefulShutdown(in.Debug, in.Logger, shutdownTimeout)
	}
	return in.Ctx.Err()
}

func newAuditScheduler(ctx context.Context, schedule string, svc *audit.Service, logger logx.Logger) (*cron.Cron, error) {
	cl := cronLogger{l: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(schedule, func() { runAudit(ctx, svc, logger) }); err != nil {
		return nil, fmt.Errorf("audit schedule %q: %w", schedule, err)
	}
	return c, nil
}

func runAudit(ctx context.Context, svc *audit.Service, logger logx.Logger) {
	if ctx.Err() != nil {
		return
	}
	if _, err := svc.Run(ctx); err != nil {
		logger.Error("audit run failed", logx.Err(err))
	}
}

func closeWorker(in workerIn) {
	if in.Pool != nil {
		in.Pool.Close()
	}
	_ = in.Logger.Sync()
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ l logx.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron "+msg, kvFields(keysAndValues)...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(key, kv[i+1]))
	}
	return out
}
