package app

import (
	"context"

	"parcelflow/internal/domain"
	"parcelflow/internal/fanout"
	"parcelflow/internal/transport/kafka"
)

// relayTo feeds events read from the bus into the local hub, which stamps its own sequence.
func relayTo(hub *fanout.Hub) kafka.HandleFunc {
	return func(ctx context.Context, ev domain.LifecycleEvent) error {
		return hub.Publish(ctx, ev)
	}
}
