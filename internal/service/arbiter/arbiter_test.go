package arbiter_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"parcelflow/internal/apperr"
	"parcelflow/internal/domain"
	"parcelflow/internal/lock"
	"parcelflow/internal/logx"
	"parcelflow/internal/metrics"
	"parcelflow/internal/ports/ledger"
	"parcelflow/internal/repository/memory"
	"parcelflow/internal/service/arbiter"
	tu "parcelflow/internal/testutil"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

var phoneSeq atomic.Int64

func newFixture(t *testing.T) (*memory.Store, *arbiter.Arbiter) {
	t.Helper()
	s := memory.NewStore()
	a := arbiter.New(s, lock.NewKeyedMutex(), logx.Nop(), arbiter.WithClock(func() time.Time { return t0 }))
	return s, a
}

func addDriver(t *testing.T, s *memory.Store, id string, available bool) {
	t.Helper()
	require.NoError(t, s.InsertDriver(context.Background(), &domain.Driver{
		ID: id, Name: id, Phone: fmt.Sprintf("+1%010d", phoneSeq.Add(1)), Available: available, CreatedAt: t0,
	}))
}

func addDelivery(t *testing.T, s *memory.Store, id string, status domain.DeliveryStatus, driverID *string) {
	t.Helper()
	require.NoError(t, s.InsertDelivery(context.Background(), &domain.Delivery{
		ID: id, TrackingCode: "PF-" + id, Status: status, CustomerID: "c1", DriverID: driverID, CreatedAt: t0,
	}))
}

func driverAvailable(t *testing.T, s *memory.Store, id string) bool {
	t.Helper()
	d, err := s.GetDriver(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, d)
	return d.Available
}

func ptr(s string) *string { return &s }

func TestTryAssign_Success(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d", domain.StatusPending, nil)

	got, err := a.TryAssign(context.Background(), "d", "x")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, got.Status)
	assert.Equal(t, int64(1), got.Version)
	require.NotNil(t, got.DriverID)
	assert.Equal(t, "x", *got.DriverID)
	assert.Equal(t, t0, got.UpdatedAt)

	stored, err := s.GetDelivery(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, got, *stored)
	assert.False(t, driverAvailable(t, s, "x"))
}

func TestTryAssign_DriverFlaggedUnavailable(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", false)
	addDelivery(t, s, "d", domain.StatusPending, nil)

	_, err := a.TryAssign(context.Background(), "d", "x")
	require.ErrorIs(t, err, apperr.ErrDriverUnavailable)

	stored, err := s.GetDelivery(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, stored.Status)
	assert.Nil(t, stored.DriverID)
}

func TestTryAssign_DriverHoldsActiveDeliveryDespiteFlag(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "busy", domain.StatusInTransit, ptr("x"))
	addDelivery(t, s, "d", domain.StatusPending, nil)

	_, err := a.TryAssign(context.Background(), "d", "x")
	require.ErrorIs(t, err, apperr.ErrDriverUnavailable)
}

func TestTryAssign_DeliveryNotPending(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d", domain.StatusCancelled, nil)

	_, err := a.TryAssign(context.Background(), "d", "x")
	require.ErrorIs(t, err, apperr.ErrDeliveryNotPending)
	assert.True(t, driverAvailable(t, s, "x"), "flag must roll back with the failed tx")
}

func TestTryAssign_NotFound(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d", domain.StatusPending, nil)

	_, err := a.TryAssign(context.Background(), "d", "ghost")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = a.TryAssign(context.Background(), "ghost", "x")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestTryAssign_CountsAttemptsAndLogsRejections(t *testing.T) {
	t.Parallel()
	s := memory.NewStore()
	rec := tu.NewRecorder()
	attempts := metrics.NewAssignmentAttemptsTotal()
	a := arbiter.New(s, lock.NewKeyedMutex(), rec.Logger(), arbiter.WithAttemptsCounter(attempts))
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d1", domain.StatusPending, nil)
	addDelivery(t, s, "d2", domain.StatusPending, nil)

	_, err := a.TryAssign(context.Background(), "d1", "x")
	require.NoError(t, err)
	_, err = a.TryAssign(context.Background(), "d2", "x")
	require.ErrorIs(t, err, apperr.ErrDriverUnavailable)

	assert.InDelta(t, 1, testutil.ToFloat64(attempts.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(attempts.WithLabelValues("driver-unavailable")), 0)

	logged := rec.Find("info", "assignment rejected")
	require.Len(t, logged, 1)
	reason, _ := logged[0].Field("reason")
	assert.Equal(t, "driver-unavailable", reason)
}

func TestTryAssign_SameDeliveryManyDrivers(t *testing.T) {
	t.Parallel()
	const n = 16
	s, a := newFixture(t)
	addDelivery(t, s, "d", domain.StatusPending, nil)
	for i := 0; i < n; i++ {
		addDriver(t, s, fmt.Sprintf("drv-%02d", i), true)
	}

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			<-start
			_, err := a.TryAssign(context.Background(), "d", driverID)
			errs <- err
		}(fmt.Sprintf("drv-%02d", i))
	}
	close(start)
	wg.Wait()
	close(errs)

	var ok, notPending int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrDeliveryNotPending):
			notPending++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, notPending)

	d, err := s.GetDelivery(context.Background(), "d")
	require.NoError(t, err)
	require.NotNil(t, d.DriverID)

	avail, err := s.ListAvailable(context.Background())
	require.NoError(t, err)
	assert.Len(t, avail, n-1)
	for _, drv := range avail {
		assert.NotEqual(t, *d.DriverID, drv.ID)
	}
}

func TestTryAssign_SameDriverManyDeliveries(t *testing.T) {
	t.Parallel()
	const n = 16
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	for i := 0; i < n; i++ {
		addDelivery(t, s, fmt.Sprintf("d-%02d", i), domain.StatusPending, nil)
	}

	var (
		mu          sync.Mutex
		ok, refused int
	)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("d-%02d", i)
		g.Go(func() error {
			_, err := a.TryAssign(ctx, id, "x")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrDriverUnavailable):
				refused++
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, refused)

	many, err := s.DriversWithManyActive(context.Background())
	require.NoError(t, err)
	assert.Empty(t, many)
	assert.False(t, driverAvailable(t, s, "x"))
}

func TestTryRelease_FreesDriver(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d", domain.StatusPending, nil)
	assigned, err := a.TryAssign(context.Background(), "d", "x")
	require.NoError(t, err)

	done, err := a.TryRelease(context.Background(), assigned, domain.StatusDelivered)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, done.Status)
	assert.Equal(t, int64(2), done.Version)
	require.NotNil(t, done.DriverID, "driver stays attached for audit")
	assert.Equal(t, "x", *done.DriverID)
	assert.True(t, driverAvailable(t, s, "x"))
}

func TestTryRelease_StaleSnapshot(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d", domain.StatusPending, nil)
	assigned, err := a.TryAssign(context.Background(), "d", "x")
	require.NoError(t, err)

	stale := assigned
	stale.Version = 0
	_, err = a.TryRelease(context.Background(), stale, domain.StatusCancelled)
	require.ErrorIs(t, err, apperr.ErrWriteConflict)
	assert.False(t, driverAvailable(t, s, "x"))
}

func TestTryRelease_RejectsBadArguments(t *testing.T) {
	t.Parallel()
	_, a := newFixture(t)

	_, err := a.TryRelease(context.Background(), domain.Delivery{ID: "d", DriverID: ptr("x")}, domain.StatusInTransit)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = a.TryRelease(context.Background(), domain.Delivery{ID: "d"}, domain.StatusCancelled)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestSetAvailability(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)

	drv, err := a.SetAvailability(context.Background(), "x", false)
	require.NoError(t, err)
	assert.False(t, drv.Available)
	assert.False(t, driverAvailable(t, s, "x"))

	drv, err = a.SetAvailability(context.Background(), "x", true)
	require.NoError(t, err)
	assert.True(t, drv.Available)

	_, err = a.SetAvailability(context.Background(), "ghost", true)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSetAvailability_BusyDriverCannotBeActivated(t *testing.T) {
	t.Parallel()
	s, a := newFixture(t)
	addDriver(t, s, "x", true)
	addDelivery(t, s, "d", domain.StatusPending, nil)
	_, err := a.TryAssign(context.Background(), "d", "x")
	require.NoError(t, err)

	_, err = a.SetAvailability(context.Background(), "x", true)
	require.ErrorIs(t, err, apperr.ErrDriverBusy)

	drv, err := a.SetAvailability(context.Background(), "x", false)
	require.NoError(t, err, "deactivation is always allowed")
	assert.False(t, drv.Available)
}

type failingLocker struct{ err error }

func (f failingLocker) Lock(context.Context, string) (func(), error) { return nil, f.err }

type runnerFunc func(ctx context.Context, fn func(tx ledger.Tx) error) error

func (r runnerFunc) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error { return r(ctx, fn) }

func TestArbiter_LockFailureSkipsLedger(t *testing.T) {
	t.Parallel()
	boom := errors.New("redis down")
	called := false
	a := arbiter.New(runnerFunc(func(context.Context, func(ledger.Tx) error) error {
		called = true
		return nil
	}), failingLocker{err: boom}, nil)

	_, err := a.TryAssign(context.Background(), "d", "x")
	require.ErrorIs(t, err, boom)
	assert.False(t, called)
	assert.Equal(t, "internal", apperr.Kind(err))
}

func TestArbiter_LedgerErrorPropagates(t *testing.T) {
	t.Parallel()
	boom := errors.New("db down")
	a := arbiter.New(runnerFunc(func(context.Context, func(ledger.Tx) error) error {
		return boom
	}), lock.NewKeyedMutex(), nil)

	_, err := a.SetAvailability(context.Background(), "x", true)
	require.ErrorIs(t, err, boom)
}
