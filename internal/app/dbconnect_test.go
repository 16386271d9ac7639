package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parcelflow/internal/logx"
)

func withStubNewPool(t *testing.T, stub func(context.Context, string) (*pgxpool.Pool, error)) {
	t.Helper()
	orig := newPool
	newPool = stub
	t.Cleanup(func() { newPool = orig })
}

// failingDials fails the first n dials, then hands out pool.
func failingDials(n int, pool *pgxpool.Pool, calls *int) func(context.Context, string) (*pgxpool.Pool, error) {
	return func(ctx context.Context, _ string) (*pgxpool.Pool, error) {
		*calls++
		if _, ok := ctx.Deadline(); !ok {
			return nil, errors.New("dial without deadline")
		}
		if *calls <= n {
			return nil, errors.New("connection refused")
		}
		return pool, nil
	}
}

func TestConnectDbWithRetry(t *testing.T) {
	want := &pgxpool.Pool{}
	tests := []struct {
		name      string
		failures  int
		retries   int
		wantCalls int
		wantErr   bool
	}{
		{name: "first attempt", failures: 0, retries: 3, wantCalls: 1},
		{name: "after failures", failures: 2, retries: 5, wantCalls: 3},
		{name: "exhausted", failures: 10, retries: 3, wantCalls: 3, wantErr: true},
		{name: "zero retries still dials once", failures: 0, retries: 0, wantCalls: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			withStubNewPool(t, failingDials(tc.failures, want, &calls))

			pool, err := connectDbWithRetry(context.Background(), logx.Nop(), "postgres://stub", tc.retries, time.Millisecond)

			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, pool)
				assert.Contains(t, err.Error(), "connection refused")
				return
			}
			require.NoError(t, err)
			assert.Same(t, want, pool)
		})
	}
}

func TestConnectDbWithRetry_ContextCanceledBetweenRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	withStubNewPool(t, failingDials(10, nil, &calls))

	pool, err := connectDbWithRetry(ctx, logx.Nop(), "postgres://stub", 3, 50*time.Millisecond)

	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, pool)
	assert.Equal(t, 1, calls)
}

func TestNextBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	assert.Equal(t, 200*time.Millisecond, nextBackoff(base, base))
	assert.Equal(t, 800*time.Millisecond, nextBackoff(400*time.Millisecond, base))
	assert.Equal(t, 800*time.Millisecond, nextBackoff(800*time.Millisecond, base))
	assert.Equal(t, time.Duration(0), nextBackoff(0, 0))
}
