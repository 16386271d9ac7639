package handlers

import (
	"encoding/json"
	"time"
)

type deliveryDTO struct {
	ID           string          `json:"id"`
	TrackingCode string          `json:"tracking_code"`
	Status       string          `json:"status"`
	CustomerID   string          `json:"customer_id"`
	DriverID     *string         `json:"driver_id"`
	Version      int64           `json:"version"`
	Pricing      json.RawMessage `json:"pricing"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type createDeliveryRequest struct {
	CustomerID string          `json:"customer_id"`
	Pricing    json.RawMessage `json:"pricing,omitempty"`
}

type transitionRequest struct {
	Status          string  `json:"status"`
	DriverID        *string `json:"driver_id,omitempty"`
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
}

// eventDTO is the frame pushed to websocket subscribers.
type eventDTO struct {
	DeliveryID     string    `json:"delivery_id"`
	TrackingCode   string    `json:"tracking_code"`
	CustomerID     string    `json:"customer_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	DriverID       *string   `json:"driver_id"`
	Version        int64     `json:"version"`
	Sequence       uint64    `json:"sequence"`
	EmittedAt      time.Time `json:"emitted_at"`
}
