package apperr

import "errors"

// ErrInvalid is returned when the input fails validation (HTTP 400).
var ErrInvalid = errors.New("invalid input")

// ErrNotFound indicates that the delivery or driver does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidTransition is a state machine rejection: the edge is not in the transition table.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrAlreadyTerminal rejects any transition out of delivered or cancelled.
var ErrAlreadyTerminal = errors.New("delivery already terminal")

// ErrDriverUnavailable means the driver is not available or already holds an active delivery.
var ErrDriverUnavailable = errors.New("driver unavailable")

// ErrDeliveryNotPending means the delivery left pending before the assignment landed.
var ErrDeliveryNotPending = errors.New("delivery not pending")

// ErrWriteConflict is an optimistic-concurrency miss on the ledger.
var ErrWriteConflict = errors.New("write conflict")

// ErrDriverBusy rejects re-activating a driver who still holds an active delivery.
var ErrDriverBusy = errors.New("driver busy")

// kinds is ordered: the first match wins for errors wrapping several sentinels.
var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalid, "invalid"},
	{ErrNotFound, "not-found"},
	{ErrDeliveryNotPending, "delivery-not-pending"},
	{ErrInvalidTransition, "invalid-transition"},
	{ErrAlreadyTerminal, "already-terminal"},
	{ErrDriverUnavailable, "driver-unavailable"},
	{ErrWriteConflict, "write-conflict"},
	{ErrDriverBusy, "driver-busy"},
}

// Kind returns the stable kebab-case kind of err, or "internal" for anything outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// Recoverable reports whether err belongs to the caller-recoverable taxonomy.
func Recoverable(err error) bool {
	k := Kind(err)
	return k != "" && k != "internal"
}
