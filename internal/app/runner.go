package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/dig"
	"golang.org/x/sync/errgroup"

	"parcelflow/internal/fanout"
	"parcelflow/internal/logx"
	"parcelflow/internal/transport/kafka"
)

const shutdownTimeout = 15 * time.Second

// Runner runs the server process.
type Runner struct {
	runFn func(*dig.Container) error
	exit  func(int)
}

// NewRunner returns a new Runner.
func NewRunner() *Runner {
	return &Runner{runFn: run, exit: os.Exit}
}

// MustRun starts the process using the provided DI container and blocks until shutdown.
func (r *Runner) MustRun(container *dig.Container) {
	err := r.runFn(container)
	logger := resolveLogger(container)
	switch {
	case err == nil:
		return
	case errors.Is(err, context.Canceled):
		logger.Info("shutdown requested, exiting")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("startup aborted: startup timeout exceeded")
	default:
		logger.Error("run error", logx.Err(err))
		if r.exit != nil {
			r.exit(1)
		}
	}
}

func resolveLogger(container *dig.Container) logx.Logger {
	logger := logx.Nop()
	_ = container.Invoke(func(l logx.Logger) { logger = l })
	return logger
}

type runIn struct {
	dig.In

	Ctx      context.Context
	Logger   logx.Logger
	Server   *http.Server
	Debug    *http.Server `name:"debug_server"`
	Hub      *fanout.Hub
	Producer *kafka.Producer
	Relay    *kafka.Consumer
	Pool     *pgxpool.Pool
	Redis    redisCloser
}

func run(container *dig.Container) error {
	return container.Invoke(appRun)
}

func appRun(in runIn) error {
	g, gctx := errgroup.WithContext(in.Ctx)

	g.Go(func() error { return serve(in.Server, in.Logger, "http") })
	if in.Debug != nil {
		g.Go(func() error { return serve(in.Debug, in.Logger, "debug") })
	}
	if in.Relay != nil {
		g.Go(func() error {
			err := in.Relay.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		in.Logger.Info("shutting down parcelflow")
		// Closing the hub ends websocket sessions; Shutdown does not track hijacked conns.
		if in.Hub != nil {
			in.Hub.Close()
		}
		gracefulShutdown(in.Server, in.Logger, shutdownTimeout)
		if in.Debug != nil {
			gracefulShutdown(in.Debug, in.Logger, shutdownTimeout)
		}
		return nil
	})

	err := g.Wait()
	closeResources(in)
	if err != nil {
		return err
	}
	return in.Ctx.Err()
}

func serve(srv *http.Server, logger logx.Logger, name string) error {
	logger.Info("listening", logx.String("server", name), logx.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func gracefulShutdown(srv *http.Server, logger logx.Logger, timeout time.Duration) {
	shCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("graceful shutdown error", logx.Err(err))
	}
}

func closeResources(in runIn) {
	if in.Producer != nil {
		if err := in.Producer.Close(); err != nil {
			in.Logger.Error("kafka producer close error", logx.Err(err))
		}
	}
	if in.Relay != nil {
		if err := in.Relay.Close(); err != nil {
			in.Logger.Error("kafka consumer close error", logx.Err(err))
		}
	}
	if in.Redis != nil {
		if err := in.Redis(); err != nil {
			in.Logger.Error("redis close error", logx.Err(err))
		}
	}
	if in.Pool != nil {
		in.Pool.Close()
	}
	_ = in.Logger.Sync()
}
