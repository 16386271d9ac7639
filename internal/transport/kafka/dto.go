package kafka

import (
	"fmt"
	"strings"
	"time"

	"parcelflow/internal/domain"
)

// EventDTO is the wire shape of a domain.LifecycleEvent on the event topic.
type EventDTO struct {
	DeliveryID     string    `json:"delivery_id"`
	TrackingCode   string    `json:"tracking_code"`
	CustomerID     string    `json:"customer_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	DriverID       *string   `json:"driver_id,omitempty"`
	Version        int64     `json:"version"`
	EmittedAt      time.Time `json:"emitted_at"`
}

// FromDomain converts a lifecycle event to its wire shape. Sequence is not carried:
// each instance's hub stamps its own.
func FromDomain(ev domain.LifecycleEvent) EventDTO {
	return EventDTO{
		DeliveryID:     ev.DeliveryID,
		TrackingCode:   ev.TrackingCode,
		CustomerID:     ev.CustomerID,
		PreviousStatus: string(ev.PreviousStatus),
		Status:         string(ev.Status),
		DriverID:       ev.DriverID,
		Version:        ev.Version,
		EmittedAt:      ev.EmittedAt,
	}
}

// ToDomain converts EventDTO to domain.LifecycleEvent.
func ToDomain(dto EventDTO) (domain.LifecycleEvent, error) {
	ev := domain.LifecycleEvent{
		DeliveryID:     strings.TrimSpace(dto.DeliveryID),
		TrackingCode:   dto.TrackingCode,
		CustomerID:     strings.TrimSpace(dto.CustomerID),
		PreviousStatus: domain.DeliveryStatus(dto.PreviousStatus),
		Status:         domain.DeliveryStatus(dto.Status),
		DriverID:       dto.DriverID,
		Version:        dto.Version,
		EmittedAt:      dto.EmittedAt,
	}
	if ev.DeliveryID == "" {
		return domain.LifecycleEvent{}, fmt.Errorf("empty delivery_id")
	}
	if !ev.Status.Valid() {
		return domain.LifecycleEvent{}, fmt.Errorf("unknown status %q", dto.Status)
	}
	return ev, nil
}
