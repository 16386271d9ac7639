package driver

import (
	"context"

	"parcelflow/internal/domain"
)

// driverRepository defines storage operations required by the business layer.
type driverRepository interface {
	GetDriver(ctx context.Context, id string) (*domain.Driver, error)
	InsertDriver(ctx context.Context, d *domain.Driver) error
	ListAvailable(ctx context.Context) ([]domain.Driver, error)
}

// availabilitySetter is the Arbiter path that owns the availability flag.
type availabilitySetter interface {
	SetAvailability(ctx context.Context, driverID string, available bool) (domain.Driver, error)
}
