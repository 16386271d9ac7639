package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"parcelflow/internal/apperr"
	"parcelflow/internal/domain"
	"parcelflow/internal/ports/ledger"
)

// LedgerRepo runs ledger transactions against PostgreSQL.
type LedgerRepo struct {
	db *pgxpool.Pool
}

// NewLedgerRepo creates a new LedgerRepo.
func NewLedgerRepo(db *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// WithTx opens a transaction and executes fn within it.
func (r *LedgerRepo) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// roll back on panic
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				panic(rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(&TxRepo{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback tx: %w (original error: %s)", rbErr, err.Error())
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TxRepo represents transaction repository.
type TxRepo struct {
	tx pgx.Tx
}

// GetDeliveryForUpdate - locks and returns the delivery row.
func (r *TxRepo) GetDeliveryForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE id = $1 FOR UPDATE`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery %q for update: %w", id, err)
	}
	return d, nil
}

// GetDriverForUpdate - locks and returns the driver row.
func (r *TxRepo) GetDriverForUpdate(ctx context.Context, id string) (*domain.Driver, error) {
	d, err := scanDriver(r.tx.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get driver %q for update: %w", id, err)
	}
	return d, nil
}

// CountActiveByDriver - counts active deliveries held by the driver.
func (r *TxRepo) CountActiveByDriver(ctx context.Context, driverID string) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `
        SELECT COUNT(*) FROM deliveries
        WHERE assigned_driver_id = $1 AND status = ANY($2)
    `, driverID, activeStatuses()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active deliveries of %q: %w", driverID, err)
	}
	return n, nil
}

// UpdateDeliveryStatus - compare-and-swap on (status, version).
func (r *TxRepo) UpdateDeliveryStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	ct, err := r.tx.Exec(ctx, `
        UPDATE deliveries
        SET status             = $1,
            version            = version + 1,
            assigned_driver_id = COALESCE($2, assigned_driver_id),
            updated_at         = $3
        WHERE id = $4 AND status = $5 AND version = $6
    `, string(u.ToStatus), u.DriverID, u.At, u.DeliveryID, string(u.FromStatus), u.FromVersion)
	if err != nil {
		if IsDuplicate(err) {
			// deliveries_one_active_per_driver
			return false, fmt.Errorf("update delivery %q: %w", u.DeliveryID, apperr.ErrDriverUnavailable)
		}
		if IsForeignKey(err) {
			return false, fmt.Errorf("update delivery %q: driver: %w", u.DeliveryID, apperr.ErrNotFound)
		}
		return false, fmt.Errorf("update delivery %q: %w", u.DeliveryID, err)
	}
	return ct.RowsAffected() == 1, nil
}

// SetDriverAvailable - writes the availability flag.
func (r *TxRepo) SetDriverAvailable(ctx context.Context, driverID string, available bool, at time.Time) error {
	ct, err := r.tx.Exec(ctx, `
        UPDATE drivers SET available = $2, updated_at = $3 WHERE id = $1
    `, driverID, available, at)
	if err != nil {
		return fmt.Errorf("set driver %q available=%t: %w", driverID, available, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("driver %q: %w", driverID, apperr.ErrNotFound)
	}
	return nil
}
