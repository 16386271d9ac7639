package domain

import (
	"fmt"
	"strings"
	"time"

	"parcelflow/internal/apperr"
)

// LifecycleEvent announces one committed delivery transition.
type LifecycleEvent struct {
	DeliveryID     string
	TrackingCode   string
	CustomerID     string
	PreviousStatus DeliveryStatus
	Status         DeliveryStatus
	DriverID       *string
	// Version is the ledger version after the write; it totally orders the events of one delivery.
	Version int64
	// Sequence is stamped by the fan-out hub on publish.
	Sequence  uint64
	EmittedAt time.Time
}

// NewLifecycleEvent builds the event for a committed transition of d out of prev.
func NewLifecycleEvent(d Delivery, prev DeliveryStatus, at time.Time) LifecycleEvent {
	ev := LifecycleEvent{
		DeliveryID:     d.ID,
		TrackingCode:   d.TrackingCode,
		CustomerID:     d.CustomerID,
		PreviousStatus: prev,
		Status:         d.Status,
		Version:        d.Version,
		EmittedAt:      at,
	}
	if d.DriverID != nil {
		id := *d.DriverID
		ev.DriverID = &id
	}
	return ev
}

// ScopeKind distinguishes the admin broadcast group from a customer's private channel.
type ScopeKind string

const (
	ScopeAdmin    ScopeKind = "admin"
	ScopeCustomer ScopeKind = "customer"
)

// Scope is what a subscriber declares interest in.
type Scope struct {
	Kind       ScopeKind
	CustomerID string
}

// AdminScope is the admin broadcast group.
func AdminScope() Scope { return Scope{Kind: ScopeAdmin} }

// CustomerScope is the private channel of one customer.
func CustomerScope(customerID string) Scope {
	return Scope{Kind: ScopeCustomer, CustomerID: customerID}
}

// String renders the scope as "admin" or "customer:<id>".
func (s Scope) String() string {
	if s.Kind == ScopeCustomer {
		return string(ScopeCustomer) + ":" + s.CustomerID
	}
	return string(s.Kind)
}

// ParseScope parses "admin" or "customer:<id>".
func ParseScope(raw string) (Scope, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(ScopeAdmin) {
		return AdminScope(), nil
	}
	id, ok := strings.CutPrefix(raw, string(ScopeCustomer)+":")
	if !ok || strings.TrimSpace(id) == "" {
		return Scope{}, fmt.Errorf("unknown scope %q: %w", raw, apperr.ErrInvalid)
	}
	return CustomerScope(id), nil
}

// ScopesFor returns the scopes an event is routed to: always admin, plus the owning customer.
func ScopesFor(ev LifecycleEvent) []Scope {
	if ev.CustomerID == "" {
		return []Scope{AdminScope()}
	}
	return []Scope{AdminScope(), CustomerScope(ev.CustomerID)}
}
