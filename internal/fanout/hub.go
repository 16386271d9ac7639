// Package fanout routes lifecycle events to live subscribers by scope.
//
// Publish never blocks. Every subscription has a bounded FIFO buffer; a
// subscriber whose buffer is full is disconnected instead of being skipped,
// so a subscriber that stays connected sees every routed event in
// publish order, without gaps.
package fanout

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"parcelflow/internal/domain"
	"parcelflow/internal/logx"
)

// DefaultBuffer is the per-subscriber buffer used when none is configured.
const DefaultBuffer = 64

// ErrClosed is returned by a closed hub.
var ErrClosed = errors.New("fanout: hub closed")

// Subscription is one live session's view of the event stream.
// Events is closed when the subscription ends; Dropped tells overflow from a normal close.
type Subscription struct {
	id      string
	scope   domain.Scope
	ch      chan domain.LifecycleEvent
	dropped bool
}

// ID returns the subscription id.
func (s *Subscription) ID() string { return s.id }

// Scope returns the declared scope.
func (s *Subscription) Scope() domain.Scope { return s.scope }

// Events yields routed events in publish order.
func (s *Subscription) Events() <-chan domain.LifecycleEvent { return s.ch }

// Hub is the in-process Event Fan-out.
type Hub struct {
	mu     sync.Mutex
	seq    uint64
	subs   map[string]map[string]*Subscription
	buffer int
	closed bool

	logger      logx.Logger
	published   prometheus.Counter
	dropped     prometheus.Counter
	subscribers *prometheus.GaugeVec
}

// Option configures a Hub.
type Option func(*Hub)

// WithMetrics wires the hub's Prometheus collectors. Any of them may be nil.
func WithMetrics(published, dropped prometheus.Counter, subscribers *prometheus.GaugeVec) Option {
	return func(h *Hub) {
		h.published = published
		h.dropped = dropped
		h.subscribers = subscribers
	}
}

// NewHub creates a Hub; buffer <= 0 means DefaultBuffer.
func NewHub(buffer int, logger logx.Logger, opts ...Option) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = logx.Nop()
	}
	h := &Hub{
		subs:   make(map[string]map[string]*Subscription),
		buffer: buffer,
		logger: logger,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a session for scope. It sees only events published after it joined.
func (h *Hub) Subscribe(scope domain.Scope) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		id:    uuid.NewString(),
		scope: scope,
		ch:    make(chan domain.LifecycleEvent, h.buffer),
	}
	key := scope.String()
	if h.subs[key] == nil {
		h.subs[key] = make(map[string]*Subscription)
	}
	h.subs[key][sub.id] = sub
	h.gauge(scope, 1)
	return sub, nil
}

// Unsubscribe ends sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(sub)
}

// Dropped reports whether sub was disconnected for falling behind.
func (h *Hub) Dropped(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sub.dropped
}

// Publish stamps ev with the next sequence number and routes it to the admin group and the
// owning customer. It never waits on a subscriber.
func (h *Hub) Publish(_ context.Context, ev domain.LifecycleEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}

	h.seq++
	ev.Sequence = h.seq
	if h.published != nil {
		h.published.Inc()
	}

	for _, scope := range domain.ScopesFor(ev) {
		for _, sub := range h.subs[scope.String()] {
			select {
			case sub.ch <- ev:
			default:
				sub.dropped = true
				h.remove(sub)
				if h.dropped != nil {
					h.dropped.Inc()
				}
				h.logger.Warn("fanout subscriber dropped",
					logx.String("event", "subscriber_dropped"),
					logx.String("subscription_id", sub.id),
					logx.String("scope", scope.String()),
					logx.Uint64("sequence", ev.Sequence),
				)
			}
		}
	}
	return nil
}

// Count returns the number of live subscriptions for scope.
func (h *Hub) Count(scope domain.Scope) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[scope.String()])
}

// Closed reports whether Close has run.
func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close ends every subscription. Further Subscribe and Publish calls fail with ErrClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, group := range h.subs {
		for _, sub := range group {
			h.remove(sub)
		}
	}
}

// remove must be called with mu held.
func (h *Hub) remove(sub *Subscription) {
	key := sub.scope.String()
	group, ok := h.subs[key]
	if !ok {
		return
	}
	if _, ok := group[sub.id]; !ok {
		return
	}
	delete(group, sub.id)
	if len(group) == 0 {
		delete(h.subs, key)
	}
	close(sub.ch)
	h.gauge(sub.scope, -1)
}

func (h *Hub) gauge(scope domain.Scope, delta float64) {
	if h.subscribers != nil {
		h.subscribers.WithLabelValues(string(scope.Kind)).Add(delta)
	}
}
