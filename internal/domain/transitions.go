package domain

import (
	"fmt"
	"strings"

	"parcelflow/internal/apperr"
)

// allowedTransitions is the delivery state machine as code.
// Terminal statuses have no entry.
var allowedTransitions = map[DeliveryStatus][]DeliveryStatus{
	StatusPending:   {StatusAssigned, StatusCancelled},
	StatusAssigned:  {StatusPickedUp, StatusInTransit, StatusCancelled},
	StatusPickedUp:  {StatusInTransit, StatusDelivered, StatusCancelled},
	StatusInTransit: {StatusDelivered, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to DeliveryStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// NextStatuses returns a copy of the statuses reachable from s.
func NextStatuses(s DeliveryStatus) []DeliveryStatus {
	next := allowedTransitions[s]
	out := make([]DeliveryStatus, len(next))
	copy(out, next)
	return out
}

// ValidateTransition decides whether current -> requested is legal, independent of any I/O.
// Terminal current statuses are rejected with apperr.ErrAlreadyTerminal whatever the target.
// Assignment of a delivery that already left pending wraps apperr.ErrDeliveryNotPending as
// well as apperr.ErrInvalidTransition; everything else outside the table (including no-op
// requests) is apperr.ErrInvalidTransition.
func ValidateTransition(current, requested DeliveryStatus) error {
	if current.Terminal() {
		return fmt.Errorf("%s -> %s: %w", current, requested, apperr.ErrAlreadyTerminal)
	}
	if CanTransition(current, requested) {
		return nil
	}
	if requested == StatusAssigned {
		return fmt.Errorf("%s -> %s: %w: %w", current, requested, apperr.ErrDeliveryNotPending, apperr.ErrInvalidTransition)
	}
	return fmt.Errorf("%s -> %s (allowed: %s): %w", current, requested, joinStatuses(NextStatuses(current)), apperr.ErrInvalidTransition)
}

func joinStatuses(ss []DeliveryStatus) string {
	if len(ss) == 0 {
		return "none"
	}
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ", ")
}

// ValidateDriverArgument checks the driver argument of a transition request.
// Assignment needs a driver; every other transition must leave the driver unchanged.
func ValidateDriverArgument(requested DeliveryStatus, driverID *string) error {
	hasDriver := driverID != nil && *driverID != ""
	if requested == StatusAssigned && !hasDriver {
		return fmt.Errorf("assignment requires a driver id: %w", apperr.ErrInvalid)
	}
	if requested != StatusAssigned && driverID != nil {
		return fmt.Errorf("%s must not change the assigned driver: %w", requested, apperr.ErrInvalid)
	}
	return nil
}
