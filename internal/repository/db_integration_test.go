//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"parcelflow/internal/repository"
)

func TestNewPool(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dsn     func() string
		wantErr bool
	}{
		{name: "testcontainer", dsn: func() string { return tcDSN }},
		{name: "malformed dsn", dsn: func() string { return "not-a-valid-dsn" }, wantErr: true},
		{
			name:    "unreachable server",
			dsn:     func() string { return "postgres://u:p@127.0.0.1:65000/parcelflow?sslmode=disable" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			pool, err := repository.NewPool(ctx, tt.dsn())
			if tt.wantErr {
				require.Error(t, err)
				require.Nil(t, pool)
				return
			}
			require.NoError(t, err)
			defer pool.Close()
			require.NoError(t, pool.Ping(ctx))
		})
	}
}

func TestApplySchema_IsIdempotentAndComplete(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, repository.ApplySchema(ctx, tcPool), "schema must be re-appliable")

	var tables int
	err := tcPool.QueryRow(ctx, `
        SELECT count(*) FROM information_schema.tables
        WHERE table_schema = 'public' AND table_name IN ('drivers', 'deliveries')`).Scan(&tables)
	require.NoError(t, err)
	require.Equal(t, 2, tables)

	var indexes int
	err = tcPool.QueryRow(ctx, `
        SELECT count(*) FROM pg_indexes
        WHERE tablename = 'deliveries' AND indexname = 'deliveries_one_active_per_driver'`).Scan(&indexes)
	require.NoError(t, err)
	require.Equal(t, 1, indexes, "one active delivery per driver is enforced by the schema")
}
