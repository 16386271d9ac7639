package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassifiers(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	fk := &pgconn.PgError{Code: "23503"}
	other := &pgconn.PgError{Code: "40001"}
	noRows := fmt.Errorf("get: %w", pgx.ErrNoRows)
	plain := errors.New("boom")

	tests := []struct {
		name                  string
		err                   error
		dup, foreign, missing bool
	}{
		{name: "unique", err: unique, dup: true},
		{name: "foreign key", err: fk, foreign: true},
		{name: "other sqlstate", err: other},
		{name: "no rows", err: noRows, missing: true},
		{name: "plain", err: plain},
		{name: "nil", err: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.dup, IsDuplicate(tc.err))
			assert.Equal(t, tc.foreign, IsForeignKey(tc.err))
			assert.Equal(t, tc.missing, IsNotFound(tc.err))
		})
	}
}
