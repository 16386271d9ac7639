package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parcelflow/internal/domain"
	"parcelflow/internal/ports/ledger"
)

const deliveryColumns = `id, tracking_code, status, customer_id, assigned_driver_id, version, pricing, created_at, updated_at`

// DeliveryRepo represents delivery repository.
type DeliveryRepo struct {
	db *pgxpool.Pool
}

// NewDeliveryRepo creates a new DeliveryRepo.
func NewDeliveryRepo(db *pgxpool.Pool) *DeliveryRepo {
	return &DeliveryRepo{db: db}
}

// GetDelivery returns the delivery or nil when it does not exist.
func (r *DeliveryRepo) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	row := r.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery %q: %w", id, err)
	}
	return d, nil
}

// InsertDelivery - insert a new delivery; a taken tracking code yields ledger.ErrDuplicate.
func (r *DeliveryRepo) InsertDelivery(ctx context.Context, d *domain.Delivery) error {
	pricing := string(d.Pricing)
	if pricing == "" {
		pricing = "{}"
	}
	_, err := r.db.Exec(ctx, `
        INSERT INTO deliveries (id, tracking_code, status, customer_id, assigned_driver_id, version, pricing, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
    `, d.ID, d.TrackingCode, string(d.Status), d.CustomerID, d.DriverID, d.Version, pricing, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("insert delivery %q: %w", d.ID, ledger.ErrDuplicate)
		}
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var (
		d       domain.Delivery
		status  string
		pricing []byte
	)
	if err := row.Scan(&d.ID, &d.TrackingCode, &status, &d.CustomerID, &d.DriverID,
		&d.Version, &pricing, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = domain.DeliveryStatus(status)
	d.Pricing = pricing
	return &d, nil
}
