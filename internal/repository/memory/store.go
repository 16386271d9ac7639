// Package memory keeps the delivery ledger and driver directory in process memory.
// It backs the memory storage driver and unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"parcelflow/internal/apperr"
	"parcelflow/internal/domain"
	"parcelflow/internal/ports/ledger"
)

// Store is an in-memory ledger. Transactions are serialized and staged until commit.
type Store struct {
	mu         sync.RWMutex
	deliveries map[string]domain.Delivery
	drivers    map[string]domain.Driver
	codes      map[string]string
	phones     map[string]string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		deliveries: make(map[string]domain.Delivery),
		drivers:    make(map[string]domain.Driver),
		codes:      make(map[string]string),
		phones:     make(map[string]string),
	}
}

// WithTx runs fn against a staged view and commits it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txView{
		store:      s,
		deliveries: make(map[string]domain.Delivery),
		drivers:    make(map[string]domain.Driver),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	for id, d := range tx.deliveries {
		s.deliveries[id] = d
	}
	for id, d := range tx.drivers {
		s.drivers[id] = d
	}
	return nil
}

// GetDelivery returns a copy of the delivery or nil.
func (s *Store) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, nil
	}
	return cloneDelivery(d), nil
}

// InsertDelivery stores a new delivery; a taken id or tracking code yields ledger.ErrDuplicate.
func (s *Store) InsertDelivery(ctx context.Context, d *domain.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; ok {
		return fmt.Errorf("insert delivery %q: %w", d.ID, ledger.ErrDuplicate)
	}
	if _, ok := s.codes[d.TrackingCode]; ok {
		return fmt.Errorf("insert delivery %q: tracking code: %w", d.ID, ledger.ErrDuplicate)
	}
	s.deliveries[d.ID] = *cloneDelivery(*d)
	s.codes[d.TrackingCode] = d.ID
	return nil
}

// GetDriver returns a copy of the driver or nil.
func (s *Store) GetDriver(ctx context.Context, id string) (*domain.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// InsertDriver stores a new driver; a taken id or phone yields ledger.ErrDuplicate.
func (s *Store) InsertDriver(ctx context.Context, d *domain.Driver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.drivers[d.ID]; ok {
		return fmt.Errorf("insert driver %q: %w", d.ID, ledger.ErrDuplicate)
	}
	if _, ok := s.phones[d.Phone]; ok {
		return fmt.Errorf("insert driver %q: phone: %w", d.ID, ledger.ErrDuplicate)
	}
	s.drivers[d.ID] = *d
	s.phones[d.Phone] = d.ID
	return nil
}

// ListAvailable returns drivers flagged available that hold no active delivery.
func (s *Store) ListAvailable(ctx context.Context) ([]domain.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	busy := s.activeCounts()
	out := make([]domain.Driver, 0)
	for _, d := range s.drivers {
		if d.Available && busy[d.ID] == 0 {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DriversWithManyActive returns drivers holding more than one active delivery.
func (s *Store) DriversWithManyActive(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, n := range s.activeCounts() {
		if n > 1 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// AvailableDriversWithActive returns drivers flagged available while holding an active delivery.
func (s *Store) AvailableDriversWithActive(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, n := range s.activeCounts() {
		if d, ok := s.drivers[id]; ok && d.Available && n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// PendingWithDriver returns pending deliveries that carry a driver.
func (s *Store) PendingWithDriver(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, d := range s.deliveries {
		if d.Status == domain.StatusPending && d.HasDriver() {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// activeCounts must be called with mu held.
func (s *Store) activeCounts() map[string]int {
	counts := make(map[string]int)
	for _, d := range s.deliveries {
		if d.Status.Active() && d.HasDriver() {
			counts[*d.DriverID]++
		}
	}
	return counts
}

// txView overlays staged writes on the store. The store lock is held for its lifetime.
type txView struct {
	store      *Store
	deliveries map[string]domain.Delivery
	drivers    map[string]domain.Driver
}

func (t *txView) delivery(id string) (domain.Delivery, bool) {
	if d, ok := t.deliveries[id]; ok {
		return d, true
	}
	d, ok := t.store.deliveries[id]
	return d, ok
}

func (t *txView) driver(id string) (domain.Driver, bool) {
	if d, ok := t.drivers[id]; ok {
		return d, true
	}
	d, ok := t.store.drivers[id]
	return d, ok
}

func (t *txView) GetDeliveryForUpdate(ctx context.Context, id string) (*domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := t.delivery(id)
	if !ok {
		return nil, nil
	}
	return cloneDelivery(d), nil
}

func (t *txView) GetDriverForUpdate(ctx context.Context, id string) (*domain.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, ok := t.driver(id)
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (t *txView) CountActiveByDriver(ctx context.Context, driverID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := 0
	for id := range t.store.deliveries {
		d, _ := t.delivery(id)
		if d.Status.Active() && d.HasDriver() && *d.DriverID == driverID {
			n++
		}
	}
	return n, nil
}

func (t *txView) UpdateDeliveryStatus(ctx context.Context, u domain.StatusUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d, ok := t.delivery(u.DeliveryID)
	if !ok || d.Status != u.FromStatus || d.Version != u.FromVersion {
		return false, nil
	}
	if u.DriverID != nil {
		if _, ok := t.driver(*u.DriverID); !ok {
			return false, fmt.Errorf("update delivery %q: driver: %w", u.DeliveryID, apperr.ErrNotFound)
		}
	}
	t.deliveries[u.DeliveryID] = *cloneDelivery(u.Applied(d))
	return true, nil
}

func (t *txView) SetDriverAvailable(ctx context.Context, driverID string, available bool, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, ok := t.driver(driverID)
	if !ok {
		return fmt.Errorf("driver %q: %w", driverID, apperr.ErrNotFound)
	}
	d.Available = available
	d.UpdatedAt = at
	t.drivers[driverID] = d
	return nil
}

func cloneDelivery(d domain.Delivery) *domain.Delivery {
	if d.DriverID != nil {
		id := *d.DriverID
		d.DriverID = &id
	}
	if d.Pricing != nil {
		d.Pricing = append([]byte(nil), d.Pricing...)
	}
	return &d
}
