package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parcelflow/internal/domain"
	"parcelflow/internal/ports/ledger"
)

const driverColumns = `id, name, phone, vehicle, available, created_at, updated_at`

// DriverRepo represents driver repository.
type DriverRepo struct{ db *pgxpool.Pool }

// NewDriverRepo creates a new DriverRepo.
func NewDriverRepo(db *pgxpool.Pool) *DriverRepo { return &DriverRepo{db: db} }

// GetDriver - returns driver by its ID, nil when absent.
func (r *DriverRepo) GetDriver(ctx context.Context, id string) (*domain.Driver, error) {
	d, err := scanDriver(r.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get driver %q: %w", id, err)
	}
	return d, nil
}

// InsertDriver - creates a new driver.
func (r *DriverRepo) InsertDriver(ctx context.Context, d *domain.Driver) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO drivers (id, name, phone, vehicle, available, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
    `, d.ID, d.Name, d.Phone, d.Vehicle, d.Available, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if IsDuplicate(err) {
			return fmt.Errorf("insert driver %q: %w", d.ID, ledger.ErrDuplicate)
		}
		return fmt.Errorf("insert driver: %w", err)
	}
	return nil
}

// ListAvailable returns drivers flagged available that hold no active delivery.
// The flag alone is not trusted: the NOT EXISTS re-checks the ledger.
func (r *DriverRepo) ListAvailable(ctx context.Context) ([]domain.Driver, error) {
	rows, err := r.db.Query(ctx, `
        SELECT dr.id, dr.name, dr.phone, dr.vehicle, dr.available, dr.created_at, dr.updated_at
        FROM drivers dr
        WHERE dr.available
          AND NOT EXISTS (
              SELECT 1 FROM deliveries d
              WHERE d.assigned_driver_id = dr.id
                AND d.status = ANY($1)
          )
        ORDER BY dr.created_at, dr.id
    `, activeStatuses())
	if err != nil {
		return nil, fmt.Errorf("list available drivers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Driver, 0)
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanDriver(row pgx.Row) (*domain.Driver, error) {
	var d domain.Driver
	if err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Vehicle, &d.Available, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
