package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"parcelflow/internal/apperr"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to DeliveryStatus
		want     bool
	}{
		{StatusPending, StatusAssigned, true},
		{StatusPending, StatusCancelled, true},
		{StatusAssigned, StatusPickedUp, true},
		{StatusAssigned, StatusInTransit, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusPickedUp, StatusInTransit, true},
		{StatusPickedUp, StatusDelivered, true},
		{StatusPickedUp, StatusCancelled, true},
		{StatusInTransit, StatusDelivered, true},
		{StatusInTransit, StatusCancelled, true},
		// skipping edges
		{StatusPending, StatusDelivered, false},
		{StatusPending, StatusInTransit, false},
		{StatusPending, StatusPickedUp, false},
		{StatusAssigned, StatusDelivered, false},
		// backwards
		{StatusInTransit, StatusPickedUp, false},
		{StatusAssigned, StatusPending, false},
		// no-op
		{StatusPending, StatusPending, false},
		{StatusInTransit, StatusInTransit, false},
		// terminal
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestValidateTransition_TerminalWinsOverEverything(t *testing.T) {
	t.Parallel()

	for _, cur := range []DeliveryStatus{StatusDelivered, StatusCancelled} {
		for _, req := range allStatuses {
			err := ValidateTransition(cur, req)
			require.ErrorIs(t, err, apperr.ErrAlreadyTerminal, "%s -> %s", cur, req)
		}
	}
}

func TestValidateTransition_ExhaustiveAgainstTable(t *testing.T) {
	t.Parallel()

	for _, cur := range allStatuses {
		if cur.Terminal() {
			continue
		}
		for _, req := range allStatuses {
			err := ValidateTransition(cur, req)
			if CanTransition(cur, req) {
				require.NoError(t, err, "%s -> %s", cur, req)
				continue
			}
			require.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s -> %s", cur, req)
		}
	}
}

func TestValidateTransition_AssignOutsidePendingIsNotPending(t *testing.T) {
	t.Parallel()

	for _, cur := range []DeliveryStatus{StatusAssigned, StatusPickedUp, StatusInTransit} {
		err := ValidateTransition(cur, StatusAssigned)
		require.ErrorIs(t, err, apperr.ErrDeliveryNotPending, "%s -> assigned", cur)
		require.ErrorIs(t, err, apperr.ErrInvalidTransition, "%s -> assigned", cur)
		require.Equal(t, "delivery-not-pending", apperr.Kind(err))
	}
	require.NoError(t, ValidateTransition(StatusPending, StatusAssigned))
	require.Equal(t, "already-terminal", apperr.Kind(ValidateTransition(StatusDelivered, StatusAssigned)))
}

func TestValidateTransition_MessageListsAllowedTargets(t *testing.T) {
	t.Parallel()

	err := ValidateTransition(StatusPending, StatusDelivered)
	require.EqualError(t, err, "pending -> delivered (allowed: assigned, cancelled): invalid transition")
	require.Equal(t, "invalid-transition", apperr.Kind(ValidateTransition(StatusInTransit, StatusPickedUp)))
}

func TestValidateDriverArgument(t *testing.T) {
	t.Parallel()

	driver := "drv-1"
	empty := ""

	require.NoError(t, ValidateDriverArgument(StatusAssigned, &driver))
	require.ErrorIs(t, ValidateDriverArgument(StatusAssigned, nil), apperr.ErrInvalid)
	require.ErrorIs(t, ValidateDriverArgument(StatusAssigned, &empty), apperr.ErrInvalid)
	require.NoError(t, ValidateDriverArgument(StatusInTransit, nil))
	require.ErrorIs(t, ValidateDriverArgument(StatusDelivered, &driver), apperr.ErrInvalid)
}

func TestStatusPredicates(t *testing.T) {
	t.Parallel()

	require.True(t, StatusAssigned.Active())
	require.True(t, StatusPickedUp.Active())
	require.True(t, StatusInTransit.Active())
	require.False(t, StatusPending.Active())
	require.False(t, StatusDelivered.Active())

	require.True(t, StatusDelivered.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusInTransit.Terminal())

	require.True(t, StatusPickedUp.Valid())
	require.False(t, DeliveryStatus("lost").Valid())
}

func TestNextStatuses_ReturnsCopy(t *testing.T) {
	t.Parallel()

	next := NextStatuses(StatusPending)
	require.Equal(t, []DeliveryStatus{StatusAssigned, StatusCancelled}, next)
	next[0] = StatusDelivered
	require.Equal(t, StatusAssigned, NextStatuses(StatusPending)[0])
	require.Empty(t, NextStatuses(StatusDelivered))
}

func TestStatusUpdate_Applied(t *testing.T) {
	t.Parallel()

	driver := "drv-9"
	d := Delivery{ID: "d1", Status: StatusPending, Version: 3}
	got := StatusUpdate{DeliveryID: "d1", FromStatus: StatusPending, FromVersion: 3, ToStatus: StatusAssigned, DriverID: &driver}.Applied(d)

	require.Equal(t, StatusAssigned, got.Status)
	require.Equal(t, int64(4), got.Version)
	require.True(t, got.HasDriver())
	require.Equal(t, "drv-9", *got.DriverID)
	require.Nil(t, d.DriverID)
}
