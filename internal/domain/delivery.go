package domain

import (
	"encoding/json"
	"time"
)

// Delivery is a single parcel-transport order tracked from creation to a terminal status.
type Delivery struct {
	ID           string
	TrackingCode string
	Status       DeliveryStatus
	CustomerID   string
	// DriverID is nil while pending. It is kept after delivered/cancelled for audit.
	DriverID  *string
	Version   int64
	Pricing   json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasDriver reports whether a driver is attached to the delivery.
func (d Delivery) HasDriver() bool {
	return d.DriverID != nil && *d.DriverID != ""
}

// StatusUpdate is a compare-and-swap write of a delivery status.
// The write applies only while the stored row still has FromStatus and FromVersion.
type StatusUpdate struct {
	DeliveryID  string
	FromStatus  DeliveryStatus
	FromVersion int64
	ToStatus    DeliveryStatus
	// DriverID is written only on assignment; nil leaves the stored driver untouched.
	DriverID *string
	At       time.Time
}

// Applied returns the delivery as it looks after u has been committed.
func (u StatusUpdate) Applied(d Delivery) Delivery {
	d.Status = u.ToStatus
	d.Version = u.FromVersion + 1
	d.UpdatedAt = u.At
	if u.DriverID != nil {
		id := *u.DriverID
		d.DriverID = &id
	}
	return d
}
