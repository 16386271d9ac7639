package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// NewRateLimitExceededTotal returns a Prometheus counter for the number of rejected HTTP requests due to rate limiting
func NewRateLimitExceededTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limit_exceeded_total",
		Help: "Total number of rejected HTTP requests due to rate limiting",
	})
}

// NewTransitionsTotal counts transition requests by target status and result kind ("ok" on success).
func NewTransitionsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_transitions_total",
		Help: "Delivery transition requests by target status and result",
	}, []string{"to", "result"})
}

// NewAssignmentAttemptsTotal counts Arbiter assignment attempts by result kind.
func NewAssignmentAttemptsTotal() *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "assignment_attempts_total",
		Help: "Driver assignment attempts by result",
	}, []string{"result"})
}

// NewFanoutPublishedTotal counts events accepted by the fan-out hub.
func NewFanoutPublishedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_events_published_total",
		Help: "Lifecycle events published to the fan-out hub",
	})
}

// NewFanoutDroppedTotal counts subscribers closed because their buffer overflowed.
func NewFanoutDroppedTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fanout_subscribers_dropped_total",
		Help: "Subscribers disconnected for falling behind",
	})
}

// NewFanoutSubscribers tracks connected subscribers by scope kind.
func NewFanoutSubscribers() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fanout_subscribers",
		Help: "Connected fan-out subscribers",
	}, []string{"scope_kind"})
}

// NewEventBusFailuresTotal counts events the Kafka producer failed to deliver.
func NewEventBusFailuresTotal() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Name: "event_bus_publish_failures_total",
		Help: "Lifecycle events that could not be written to Kafka",
	})
}

// NewInvariantViolations exposes the latest audit result per check.
func NewInvariantViolations() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledger_invariant_violations",
		Help: "Rows violating a ledger invariant at the last audit",
	}, []string{"check"})
}

// Register registers cs, tolerating collectors that are already registered.
func Register(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// RegisterOrExisting registers c and returns it, or returns the collector already registered
// under the same descriptor.
func RegisterOrExisting[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}
