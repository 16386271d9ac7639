package handlers

import (
	"encoding/json"

	"parcelflow/internal/domain"
	"parcelflow/internal/service/lifecycle"
)

func (r createDeliveryRequest) toModel() lifecycle.NewDelivery {
	return lifecycle.NewDelivery{CustomerID: r.CustomerID, Pricing: r.Pricing}
}

func (r transitionRequest) toModel(id string) lifecycle.TransitionRequest {
	return lifecycle.TransitionRequest{
		DeliveryID:      id,
		Status:          domain.DeliveryStatus(r.Status),
		DriverID:        r.DriverID,
		ExpectedVersion: r.ExpectedVersion,
	}
}

func deliveryToResponse(d domain.Delivery) deliveryDTO {
	pricing := d.Pricing
	if len(pricing) == 0 {
		pricing = json.RawMessage(`{}`)
	}
	return deliveryDTO{
		ID:           d.ID,
		TrackingCode: d.TrackingCode,
		Status:       string(d.Status),
		CustomerID:   d.CustomerID,
		DriverID:     d.DriverID,
		Version:      d.Version,
		Pricing:      pricing,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func eventToFrame(ev domain.LifecycleEvent) eventDTO {
	return eventDTO{
		DeliveryID:     ev.DeliveryID,
		TrackingCode:   ev.TrackingCode,
		CustomerID:     ev.CustomerID,
		PreviousStatus: string(ev.PreviousStatus),
		Status:         string(ev.Status),
		DriverID:       ev.DriverID,
		Version:        ev.Version,
		Sequence:       ev.Sequence,
		EmittedAt:      ev.EmittedAt,
	}
}
