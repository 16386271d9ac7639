package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditRepo runs the read-only invariant queries.
type AuditRepo struct{ db *pgxpool.Pool }

// NewAuditRepo creates a new AuditRepo.
func NewAuditRepo(db *pgxpool.Pool) *AuditRepo { return &AuditRepo{db: db} }

// DriversWithManyActive returns drivers holding more than one active delivery.
func (r *AuditRepo) DriversWithManyActive(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "drivers with many active", `
        SELECT assigned_driver_id FROM deliveries
        WHERE assigned_driver_id IS NOT NULL AND status = ANY($1)
        GROUP BY assigned_driver_id
        HAVING COUNT(*) > 1
        ORDER BY assigned_driver_id
    `, activeStatuses())
}

// AvailableDriversWithActive returns drivers flagged available while holding an active delivery.
func (r *AuditRepo) AvailableDriversWithActive(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "available drivers with active", `
        SELECT DISTINCT dr.id FROM drivers dr
        JOIN deliveries d ON d.assigned_driver_id = dr.id
        WHERE dr.available AND d.status = ANY($1)
        ORDER BY dr.id
    `, activeStatuses())
}

// PendingWithDriver returns pending deliveries that carry a driver.
func (r *AuditRepo) PendingWithDriver(ctx context.Context) ([]string, error) {
	return r.ids(ctx, "pending with driver", `
        SELECT id FROM deliveries
        WHERE status = 'pending' AND assigned_driver_id IS NOT NULL
        ORDER BY id
    `)
}

func (r *AuditRepo) ids(ctx context.Context, what, q string, args ...any) ([]string, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit %s: %w", what, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("audit %s: %w", what, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
