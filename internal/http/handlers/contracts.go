package handlers

import (
	"context"

	"parcelflow/internal/domain"
	"parcelflow/internal/fanout"
	"parcelflow/internal/service/driver"
	"parcelflow/internal/service/lifecycle"
)

type deliveryUsecase interface {
	Create(ctx context.Context, in lifecycle.NewDelivery) (domain.Delivery, error)
	Get(ctx context.Context, id string) (domain.Delivery, error)
	RequestTransition(ctx context.Context, req lifecycle.TransitionRequest) (domain.Delivery, error)
}

// NewDeliveryUsecase wires the Coordinator into a deliveryUsecase.
func NewDeliveryUsecase(c *lifecycle.Coordinator) deliveryUsecase {
	return c
}

type driverUsecase interface {
	Create(ctx context.Context, in driver.NewDriver) (domain.Driver, error)
	Get(ctx context.Context, id string) (domain.Driver, error)
	ListAvailable(ctx context.Context) ([]domain.Driver, error)
	Activate(ctx context.Context, id string) (domain.Driver, error)
	Deactivate(ctx context.Context, id string) (domain.Driver, error)
}

// NewDriverUsecase wires a driver Service into a driverUsecase.
func NewDriverUsecase(s *driver.Service) driverUsecase {
	return s
}

type eventSource interface {
	Subscribe(scope domain.Scope) (*fanout.Subscription, error)
	Unsubscribe(sub *fanout.Subscription)
	Dropped(sub *fanout.Subscription) bool
}

// NewEventSource wires the fan-out hub into an eventSource.
func NewEventSource(h *fanout.Hub) eventSource {
	return h
}
