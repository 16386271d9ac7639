// Package lifecycle is the only entry point that mutates delivery status.
package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"parcelflow/internal/apperr"
	"parcelflow/internal/domain"
	"parcelflow/internal/lock"
	"parcelflow/internal/logx"
	"parcelflow/internal/ports/ledger"
)

const maxTrackingAttempts = 3

// TransitionRequest asks for one status change.
type TransitionRequest struct {
	DeliveryID string
	Status     domain.DeliveryStatus
	// DriverID is required for assigned and must be nil otherwise.
	DriverID *string
	// ExpectedVersion, when set, must equal the stored version.
	ExpectedVersion *int64
}

// NewDelivery is the input of Create.
type NewDelivery struct {
	CustomerID string
	Pricing    json.RawMessage
}

// Coordinator is the Lifecycle Coordinator.
type Coordinator struct {
	deliveries       ledger.Deliveries
	runner           ledger.Runner
	arbiter          Assigner
	locker           lock.Locker
	publisher        Publisher
	logger           logx.Logger
	transitions      *prometheus.CounterVec
	operationTimeout time.Duration
	now              func() time.Time
	newID            func() string
	newCode          func() (string, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTransitionsCounter records transition requests by target and result.
func WithTransitionsCounter(c *prometheus.CounterVec) Option {
	return func(s *Coordinator) { s.transitions = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Coordinator) { s.now = now }
}

// WithIDs overrides id and tracking code generation.
func WithIDs(newID func() string, newCode func() (string, error)) Option {
	return func(s *Coordinator) {
		if newID != nil {
			s.newID = newID
		}
		if newCode != nil {
			s.newCode = newCode
		}
	}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(
	deliveries ledger.Deliveries,
	runner ledger.Runner,
	arbiter Assigner,
	locker lock.Locker,
	publisher Publisher,
	timeout time.Duration,
	logger logx.Logger,
	opts ...Option,
) *Coordinator {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	s := &Coordinator{
		deliveries:       deliveries,
		runner:           runner,
		arbiter:          arbiter,
		locker:           locker,
		publisher:        publisher,
		logger:           logger,
		operationTimeout: timeout,
		now:              func() time.Time { return time.Now().UTC() },
		newID:            uuid.NewString,
		newCode:          NewTrackingCode,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Coordinator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.operationTimeout)
}

// Get returns the delivery snapshot.
func (s *Coordinator) Get(ctx context.Context, id string) (domain.Delivery, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Delivery{}, apperr.ErrInvalid
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	d, err := s.deliveries.GetDelivery(ctx, id)
	if err != nil {
		return domain.Delivery{}, err
	}
	if d == nil {
		return domain.Delivery{}, fmt.Errorf("delivery %q: %w", id, apperr.ErrNotFound)
	}
	return *d, nil
}

// Create books a new pending delivery with a fresh tracking code. No event is emitted.
func (s *Coordinator) Create(ctx context.Context, in NewDelivery) (domain.Delivery, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	if customerID == "" {
		return domain.Delivery{}, fmt.Errorf("customer id is required: %w", apperr.ErrInvalid)
	}
	pricing, err := normalizePricing(in.Pricing)
	if err != nil {
		return domain.Delivery{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	d := domain.Delivery{
		ID:         s.newID(),
		Status:     domain.StatusPending,
		CustomerID: customerID,
		Pricing:    pricing,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for attempt := 1; ; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return domain.Delivery{}, err
		}
		d.TrackingCode = code
		err = s.deliveries.InsertDelivery(ctx, &d)
		if err == nil {
			break
		}
		if !errors.Is(err, ledger.ErrDuplicate) || attempt >= maxTrackingAttempts {
			return domain.Delivery{}, err
		}
		s.logger.Warn("tracking code collision", logx.String("tracking_code", code), logx.Int("attempt", attempt))
	}

	s.logger.Info("delivery created",
		logx.String("event", "delivery_created"),
		logx.String("delivery_id", d.ID),
		logx.String("tracking_code", d.TrackingCode),
		logx.String("customer_id", d.CustomerID),
	)
	return d, nil
}

// RequestTransition validates and applies one transition, then emits its event.
//
// The per-delivery lock is held from the load until the event is handed to the
// publisher, so events of one delivery leave in commit order. Once started the
// operation ignores caller cancellation and is bounded by the operation timeout;
// a caller that gives up must re-query the delivery.
func (s *Coordinator) RequestTransition(ctx context.Context, req TransitionRequest) (domain.Delivery, error) {
	out, err := s.requestTransition(ctx, req)
	s.observe(req.Status, err)
	return out, err
}

func (s *Coordinator) requestTransition(ctx context.Context, req TransitionRequest) (domain.Delivery, error) {
	req.DeliveryID = strings.TrimSpace(req.DeliveryID)
	if req.DeliveryID == "" {
		return domain.Delivery{}, fmt.Errorf("delivery id is required: %w", apperr.ErrInvalid)
	}
	if req.DriverID != nil {
		trimmed := strings.TrimSpace(*req.DriverID)
		req.DriverID = &trimmed
	}

	ctx, cancel := s.withTimeout(context.WithoutCancel(ctx))
	defer cancel()

	unlock, err := s.locker.Lock(ctx, lock.DeliveryKey(req.DeliveryID))
	if err != nil {
		return domain.Delivery{}, fmt.Errorf("lock delivery %q: %w", req.DeliveryID, err)
	}
	defer unlock()

	cur, err := s.deliveries.GetDelivery(ctx, req.DeliveryID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if cur == nil {
		return domain.Delivery{}, fmt.Errorf("delivery %q: %w", req.DeliveryID, apperr.ErrNotFound)
	}
	// terminal and not-pending outcomes outrank a stale expected version
	if err := domain.ValidateTransition(cur.Status, req.Status); err != nil {
		return domain.Delivery{}, err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != cur.Version {
		return domain.Delivery{}, fmt.Errorf("delivery %q is at version %d, caller saw %d: %w",
			cur.ID, cur.Version, *req.ExpectedVersion, apperr.ErrWriteConflict)
	}
	if err := domain.ValidateDriverArgument(req.Status, req.DriverID); err != nil {
		return domain.Delivery{}, err
	}

	var next domain.Delivery
	switch {
	case req.Status == domain.StatusAssigned:
		next, err = s.arbiter.TryAssign(ctx, cur.ID, *req.DriverID)
	case req.Status.Terminal() && cur.HasDriver():
		next, err = s.arbiter.TryRelease(ctx, *cur, req.Status)
	default:
		next, err = s.write(ctx, *cur, req.Status)
	}
	if err != nil {
		return domain.Delivery{}, err
	}

	s.logger.Info("delivery transition",
		logx.String("event", "delivery_transition"),
		logx.String("delivery_id", next.ID),
		logx.String("from", string(cur.Status)),
		logx.String("to", string(next.Status)),
		logx.OptString("driver_id", next.DriverID),
		logx.Int64("version", next.Version),
	)

	ev := domain.NewLifecycleEvent(next, cur.Status, s.now())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		// the write is committed; subscribers reconcile by re-fetching
		s.logger.Warn("publish lifecycle event failed",
			logx.String("delivery_id", next.ID),
			logx.Int64("version", next.Version),
			logx.Err(err),
		)
	}
	return next, nil
}

// write applies a transition that does not touch driver availability.
func (s *Coordinator) write(ctx context.Context, cur domain.Delivery, to domain.DeliveryStatus) (domain.Delivery, error) {
	u := domain.StatusUpdate{
		DeliveryID:  cur.ID,
		FromStatus:  cur.Status,
		FromVersion: cur.Version,
		ToStatus:    to,
		At:          s.now(),
	}
	err := s.runner.WithTx(ctx, func(tx ledger.Tx) error {
		ok, err := tx.UpdateDeliveryStatus(ctx, u)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("delivery %q changed since version %d: %w", cur.ID, cur.Version, apperr.ErrWriteConflict)
		}
		return nil
	})
	if err != nil {
		return domain.Delivery{}, err
	}
	return u.Applied(cur), nil
}

func (s *Coordinator) observe(to domain.DeliveryStatus, err error) {
	if s.transitions == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = apperr.Kind(err)
	}
	label := string(to)
	if !to.Valid() {
		label = "unknown"
	}
	s.transitions.WithLabelValues(label, result).Inc()
}

func normalizePricing(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage(`{}`), nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, fmt.Errorf("pricing must be a JSON object: %w", apperr.ErrInvalid)
	}
	return json.RawMessage(trimmed), nil
}
