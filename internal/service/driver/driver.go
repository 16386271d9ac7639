// Package driver implements the driver directory use cases.
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"parcelflow/internal/apperr"
	"parcelflow/internal/domain"
	"parcelflow/internal/ports/ledger"
)

// NewDriver is the input of Create. Available defaults to true.
type NewDriver struct {
	Name      string
	Phone     string
	Vehicle   string
	Available *bool
}

// Service coordinates driver business logic and orchestrates repository calls.
type Service struct {
	repo             driverRepository
	arbiter          availabilitySetter
	operationTimeout time.Duration
	now              func() time.Time
}

// NewService creates and configures a driver Service.
func NewService(r driverRepository, a availabilitySetter, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{
		repo:             r,
		arbiter:          a,
		operationTimeout: timeout,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.operationTimeout)
}

func validateCreate(in *NewDriver) error {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Vehicle = strings.TrimSpace(in.Vehicle)
	if in.Name == "" {
		return fmt.Errorf("name is required: %w", apperr.ErrInvalid)
	}
	if !domain.ValidatePhone(in.Phone) {
		return fmt.Errorf("phone %q: %w", in.Phone, apperr.ErrInvalid)
	}
	return nil
}

// Create registers a driver.
func (s *Service) Create(ctx context.Context, in NewDriver) (domain.Driver, error) {
	if err := validateCreate(&in); err != nil {
		return domain.Driver{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.now()
	d := domain.Driver{
		ID:        uuid.NewString(),
		Name:      in.Name,
		Phone:     in.Phone,
		Vehicle:   in.Vehicle,
		Available: in.Available == nil || *in.Available,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertDriver(ctx, &d); err != nil {
		if errors.Is(err, ledger.ErrDuplicate) {
			return domain.Driver{}, fmt.Errorf("phone already registered: %w", apperr.ErrInvalid)
		}
		return domain.Driver{}, err
	}
	return d, nil
}

// Get retrieves a driver by its ID.
func (s *Service) Get(ctx context.Context, id string) (domain.Driver, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Driver{}, apperr.ErrInvalid
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	d, err := s.repo.GetDriver(ctx, id)
	if err != nil {
		return domain.Driver{}, err
	}
	if d == nil {
		return domain.Driver{}, fmt.Errorf("driver %q: %w", id, apperr.ErrNotFound)
	}
	return *d, nil
}

// ListAvailable returns drivers that can take a delivery right now.
func (s *Service) ListAvailable(ctx context.Context) ([]domain.Driver, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.repo.ListAvailable(ctx)
}

// Activate marks the driver available; a driver holding an active delivery cannot be activated.
func (s *Service) Activate(ctx context.Context, id string) (domain.Driver, error) {
	return s.setAvailability(ctx, id, true)
}

// Deactivate marks the driver unavailable. An active delivery stays attached.
func (s *Service) Deactivate(ctx context.Context, id string) (domain.Driver, error) {
	return s.setAvailability(ctx, id, false)
}

func (s *Service) setAvailability(ctx context.Context, id string, available bool) (domain.Driver, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Driver{}, apperr.ErrInvalid
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.arbiter.SetAvailability(ctx, id, available)
}
