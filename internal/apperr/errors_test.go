package apperr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"parcelflow/internal/apperr"
)

func TestKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{apperr.ErrInvalid, "invalid"},
		{apperr.ErrNotFound, "not-found"},
		{apperr.ErrInvalidTransition, "invalid-transition"},
		{apperr.ErrAlreadyTerminal, "already-terminal"},
		{apperr.ErrDriverUnavailable, "driver-unavailable"},
		{apperr.ErrDeliveryNotPending, "delivery-not-pending"},
		{apperr.ErrWriteConflict, "write-conflict"},
		{apperr.ErrDriverBusy, "driver-busy"},
		{fmt.Errorf("load delivery d-1: %w", apperr.ErrNotFound), "not-found"},
		{errors.New("connection reset"), "internal"},
		{fmt.Errorf("assigned -> assigned: %w: %w", apperr.ErrInvalidTransition, apperr.ErrDeliveryNotPending), "delivery-not-pending"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, apperr.Kind(tc.err), "err=%v", tc.err)
	}
}

func TestRecoverable(t *testing.T) {
	t.Parallel()

	require.True(t, apperr.Recoverable(apperr.ErrWriteConflict))
	require.True(t, apperr.Recoverable(fmt.Errorf("wrap: %w", apperr.ErrDriverUnavailable)))
	require.False(t, apperr.Recoverable(errors.New("boom")))
	require.False(t, apperr.Recoverable(nil))
}
