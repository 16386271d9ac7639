package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parcelflow/internal/logx"
	"parcelflow/internal/repository"
)

// newPool is swapped in tests.
var newPool = repository.NewPool

type dbConnectFunc func(ctx context.Context, logger logx.Logger, dsn string, retries int, delay time.Duration) (*pgxpool.Pool, error)

const (
	dbAttemptTimeout = 3 * time.Second
	// backoff doubles from the configured delay up to this multiple of it.
	dbMaxBackoffFactor = 8
)

// connectDbWithRetry dials Postgres up to retries times, backing off between
// attempts. The last dial error is wrapped in the result.
func connectDbWithRetry(ctx context.Context, logger logx.Logger, dsn string, retries int, delay time.Duration) (*pgxpool.Pool, error) {
	if retries < 1 {
		retries = 1
	}
	wait := delay
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		pool, err := dialOnce(ctx, dsn)
		if err == nil {
			logger.Info("db connected", logx.Int("attempt", attempt))
			return pool, nil
		}
		lastErr = err
		logger.Warn("db connect failed",
			logx.Int("attempt", attempt),
			logx.Int("retries", retries),
			logx.Duration("next_wait", wait),
			logx.Err(err),
		)
		if attempt == retries {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
		wait = nextBackoff(wait, delay)
	}
	return nil, fmt.Errorf("db connect failed after %d attempts: %w", retries, lastErr)
}

func dialOnce(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbAttemptTimeout)
	defer cancel()
	return newPool(ctx, dsn)
}

func nextBackoff(cur, base time.Duration) time.Duration {
	next := cur * 2
	if limit := base * dbMaxBackoffFactor; next > limit {
		return limit
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
