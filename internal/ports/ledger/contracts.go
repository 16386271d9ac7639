package ledger

import (
	"context"
	"errors"
	"time"

	"parcelflow/internal/domain"
)

// ErrDuplicate is returned by inserts that hit a unique key (tracking code, driver phone).
var ErrDuplicate = errors.New("duplicate key")

// Tx is the set of reads and writes that run inside one ledger transaction.
// Lookups of missing rows return (nil, nil).
type Tx interface {
	GetDeliveryForUpdate(ctx context.Context, id string) (*domain.Delivery, error)
	GetDriverForUpdate(ctx context.Context, id string) (*domain.Driver, error)
	// CountActiveByDriver counts deliveries in an active status assigned to the driver.
	CountActiveByDriver(ctx context.Context, driverID string) (int, error)
	// UpdateDeliveryStatus is a compare-and-swap on (status, version).
	// It reports false when the stored row no longer matches.
	UpdateDeliveryStatus(ctx context.Context, u domain.StatusUpdate) (bool, error)
	SetDriverAvailable(ctx context.Context, driverID string, available bool, at time.Time) error
}

// Runner runs fn in a transaction; a non-nil error from fn rolls it back.
type Runner interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Deliveries is the non-transactional side of the Delivery Ledger.
type Deliveries interface {
	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	InsertDelivery(ctx context.Context, d *domain.Delivery) error
}

// Drivers is the non-transactional side of the Driver Directory.
type Drivers interface {
	GetDriver(ctx context.Context, id string) (*domain.Driver, error)
	InsertDriver(ctx context.Context, d *domain.Driver) error
	// ListAvailable returns drivers flagged available that hold no active delivery.
	ListAvailable(ctx context.Context) ([]domain.Driver, error)
}

// Auditor exposes the read-only queries used by the invariant audit.
type Auditor interface {
	// DriversWithManyActive returns drivers holding more than one active delivery.
	DriversWithManyActive(ctx context.Context) ([]string, error)
	// AvailableDriversWithActive returns drivers flagged available while holding an active delivery.
	AvailableDriversWithActive(ctx context.Context) ([]string, error)
	// PendingWithDriver returns pending deliveries that carry a driver.
	PendingWithDriver(ctx context.Context) ([]string, error)
}
