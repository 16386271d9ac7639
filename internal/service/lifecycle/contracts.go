//go:generate mockgen -source=contracts.go -destination=lifecycle_mocks_test.go -package=lifecycle_test

package lifecycle

import (
	"context"

	"parcelflow/internal/domain"
)

// Publisher hands a committed transition's event to the fan-out path.
// It must not wait for subscriber delivery.
type Publisher interface {
	Publish(ctx context.Context, ev domain.LifecycleEvent) error
}

// Assigner is the subset of the Assignment Arbiter the Coordinator drives.
type Assigner interface {
	TryAssign(ctx context.Context, deliveryID, driverID string) (domain.Delivery, error)
	TryRelease(ctx context.Context, d domain.Delivery, to domain.DeliveryStatus) (domain.Delivery, error)
}
