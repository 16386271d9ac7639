// Package arbiter serializes every write of a driver's availability flag.
//
// All paths take the per-driver lock first and then run one ledger
// transaction, so "is this driver free" and "mark driver busy" cannot
// interleave with another request for the same driver.
package arbiter

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parcelflow/internal/apperr"
	"parcelflow/internal/domain"
	"parcelflow/internal/lock"
	"parcelflow/internal/logx"
	"parcelflow/internal/ports/ledger"
)

// Arbiter is the Assignment Arbiter.
type Arbiter struct {
	runner   ledger.Runner
	locker   lock.Locker
	attempts *prometheus.CounterVec
	logger   logx.Logger
	now      func() time.Time
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithAttemptsCounter records assignment attempts by result.
func WithAttemptsCounter(c *prometheus.CounterVec) Option {
	return func(a *Arbiter) { a.attempts = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) { a.now = now }
}

// New creates an Arbiter.
func New(runner ledger.Runner, locker lock.Locker, logger logx.Logger, opts ...Option) *Arbiter {
	if logger == nil {
		logger = logx.Nop()
	}
	a := &Arbiter{
		runner: runner,
		locker: locker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// TryAssign assigns the pending delivery to the driver.
// It fails with apperr.ErrDriverUnavailable when the driver is flagged unavailable or
// already holds an active delivery, and with apperr.ErrDeliveryNotPending when the
// delivery has left pending.
func (a *Arbiter) TryAssign(ctx context.Context, deliveryID, driverID string) (domain.Delivery, error) {
	var out domain.Delivery

	err := a.withDriver(ctx, driverID, func(tx ledger.Tx) error {
		drv, err := tx.GetDriverForUpdate(ctx, driverID)
		if err != nil {
			return err
		}
		if drv == nil {
			return fmt.Errorf("driver %q: %w", driverID, apperr.ErrNotFound)
		}
		if !drv.Available {
			return fmt.Errorf("driver %q: %w", driverID, apperr.ErrDriverUnavailable)
		}
		active, err := tx.CountActiveByDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("driver %q holds %d active deliveries: %w", driverID, active, apperr.ErrDriverUnavailable)
		}

		d, err := tx.GetDeliveryForUpdate(ctx, deliveryID)
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("delivery %q: %w", deliveryID, apperr.ErrNotFound)
		}
		if d.Status != domain.StatusPending {
			return fmt.Errorf("delivery %q is %s: %w", deliveryID, d.Status, apperr.ErrDeliveryNotPending)
		}

		now := a.now()
		if err := tx.SetDriverAvailable(ctx, driverID, false, now); err != nil {
			return err
		}
		u := domain.StatusUpdate{
			DeliveryID:  d.ID,
			FromStatus:  d.Status,
			FromVersion: d.Version,
			ToStatus:    domain.StatusAssigned,
			DriverID:    &driverID,
			At:          now,
		}
		ok, err := tx.UpdateDeliveryStatus(ctx, u)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delivery %q: %w", deliveryID, apperr.ErrDeliveryNotPending)
		}
		out = u.Applied(*d)
		return nil
	})

	a.observe(err)
	if err != nil {
		if apperr.Recoverable(err) {
			a.logger.Info("assignment rejected",
				logx.String("event", "assignment_rejected"),
				logx.String("delivery_id", deliveryID),
				logx.String("driver_id", driverID),
				logx.String("reason", apperr.Kind(err)),
			)
		}
		return domain.Delivery{}, err
	}
	return out, nil
}

// TryRelease moves a delivery holding a driver into a terminal status and frees the driver.
// d is the snapshot the caller validated; a changed row fails with apperr.ErrWriteConflict.
func (a *Arbiter) TryRelease(ctx context.Context, d domain.Delivery, to domain.DeliveryStatus) (domain.Delivery, error) {
	if !to.Terminal() {
		return domain.Delivery{}, fmt.Errorf("release into %s: %w", to, apperr.ErrInvalidTransition)
	}
	if !d.HasDriver() {
		return domain.Delivery{}, fmt.Errorf("delivery %q has no driver: %w", d.ID, apperr.ErrInvalid)
	}
	driverID := *d.DriverID
	var out domain.Delivery

	err := a.withDriver(ctx, driverID, func(tx ledger.Tx) error {
		now := a.now()
		u := domain.StatusUpdate{
			DeliveryID:  d.ID,
			FromStatus:  d.Status,
			FromVersion: d.Version,
			ToStatus:    to,
			At:          now,
		}
		ok, err := tx.UpdateDeliveryStatus(ctx, u)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delivery %q changed since version %d: %w", d.ID, d.Version, apperr.ErrWriteConflict)
		}

		still, err := tx.CountActiveByDriver(ctx, driverID)
		if err != nil {
			return err
		}
		if still == 0 {
			if err := tx.SetDriverAvailable(ctx, driverID, true, now); err != nil {
				return err
			}
		} else {
			a.logger.Error("driver still holds active deliveries after release",
				logx.String("driver_id", driverID),
				logx.Int("active", still),
			)
		}
		out = u.Applied(d)
		return nil
	})
	if err != nil {
		return domain.Delivery{}, err
	}
	return out, nil
}

// SetAvailability is the operator activation/deactivation path.
// Activating a driver who holds an active delivery fails with apperr.ErrDriverBusy.
func (a *Arbiter) SetAvailability(ctx context.Context, driverID string, available bool) (domain.Driver, error) {
	var out domain.Driver

	err := a.withDriver(ctx, driverID, func(tx ledger.Tx) error {
		drv, err := tx.GetDriverForUpdate(ctx, driverID)
		if err != nil {
			return err
		}
		if drv == nil {
			return fmt.Errorf("driver %q: %w", driverID, apperr.ErrNotFound)
		}
		if available {
			active, err := tx.CountActiveByDriver(ctx, driverID)
			if err != nil {
				return err
			}
			if active > 0 {
				return fmt.Errorf("driver %q: %w", driverID, apperr.ErrDriverBusy)
			}
		}
		now := a.now()
		if drv.Available != available {
			if err := tx.SetDriverAvailable(ctx, driverID, available, now); err != nil {
				return err
			}
			drv.Available = available
			drv.UpdatedAt = now
		}
		out = *drv
		return nil
	})
	if err != nil {
		return domain.Driver{}, err
	}

	a.logger.Info("driver availability set",
		logx.String("event", "driver_availability"),
		logx.String("driver_id", driverID),
		logx.Bool("available", available),
	)
	return out, nil
}

func (a *Arbiter) withDriver(ctx context.Context, driverID string, fn func(tx ledger.Tx) error) error {
	unlock, err := a.locker.Lock(ctx, lock.DriverKey(driverID))
	if err != nil {
		return fmt.Errorf("lock driver %q: %w", driverID, err)
	}
	defer unlock()
	return a.runner.WithTx(ctx, fn)
}

func (a *Arbiter) observe(err error) {
	if a.attempts == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = apperr.Kind(err)
	}
	a.attempts.WithLabelValues(result).Inc()
}
