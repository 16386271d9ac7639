// Package audit checks ledger invariants without writing anything.
package audit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"parcelflow/internal/logx"
	"parcelflow/internal/ports/ledger"
)

// Check names, used as the "check" metric label.
const (
	CheckManyActive          = "driver_many_active"
	CheckAvailableWithActive = "available_with_active"
	CheckPendingWithDriver   = "pending_with_driver"
)

// Report is the outcome of one audit run; offenders are keyed by check.
type Report struct {
	Offenders map[string][]string
}

// Violations returns the total number of offending rows.
func (r Report) Violations() int {
	n := 0
	for _, ids := range r.Offenders {
		n += len(ids)
	}
	return n
}

// Service is the invariant auditor.
type Service struct {
	repo       ledger.Auditor
	violations *prometheus.GaugeVec
	logger     logx.Logger
	timeout    time.Duration
}

// NewService creates an auditor. violations may be nil.
func NewService(repo ledger.Auditor, violations *prometheus.GaugeVec, timeout time.Duration, logger logx.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Service{repo: repo, violations: violations, logger: logger, timeout: timeout}
}

// Run executes every check once.
func (s *Service) Run(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	checks := []struct {
		name string
		fn   func(context.Context) ([]string, error)
	}{
		{CheckManyActive, s.repo.DriversWithManyActive},
		{CheckAvailableWithActive, s.repo.AvailableDriversWithActive},
		{CheckPendingWithDriver, s.repo.PendingWithDriver},
	}

	rep := Report{Offenders: make(map[string][]string, len(checks))}
	for _, c := range checks {
		ids, err := c.fn(ctx)
		if err != nil {
			s.logger.Error("audit check failed", logx.String("check", c.name), logx.Err(err))
			return rep, err
		}
		rep.Offenders[c.name] = ids
		if s.violations != nil {
			s.violations.WithLabelValues(c.name).Set(float64(len(ids)))
		}
		if len(ids) > 0 {
			s.logger.Error("ledger invariant violated",
				logx.String("event", "invariant_violation"),
				logx.String("check", c.name),
				logx.Int("count", len(ids)),
				logx.Any("ids", ids),
			)
		}
	}

	s.logger.Info("audit finished", logx.Int("violations", rep.Violations()))
	return rep, nil
}
