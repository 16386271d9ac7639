package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"parcelflow/internal/domain"
	"parcelflow/internal/logx"
)

// HandleFunc processes a single lifecycle event read from Kafka.
type HandleFunc func(context.Context, domain.LifecycleEvent) error

var newConsumerGroup = sarama.NewConsumerGroup

// Consumer wraps a Sarama consumer group and dispatches events to a handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	topic   string
	handler HandleFunc
	logger  logx.Logger
}

// NewConsumer creates a consumer that starts at the newest offset, so a fresh group sees
// only events produced after it joined. It returns (nil, nil) when Kafka is not configured.
func NewConsumer(logger logx.Logger, brokers []string, groupID, topic string, h HandleFunc) (*Consumer, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" || strings.TrimSpace(groupID) == "" {
		return nil, nil
	}

	cfg := sarama.NewConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Return.Errors = false

	group, err := newConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		group:   group,
		topic:   topic,
		handler: h,
		logger:  logger,
	}, nil
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}

	h := &groupHandler{c: c}

	for {
		if err := c.group.Consume(ctx, []string{c.topic}, h); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("kafka consume error", logx.Err(err))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Close closes the consumer group.
func (c *Consumer) Close() error {
	if c == nil {
		return nil
	}
	return c.group.Close()
}

type groupHandler struct{ c *Consumer }

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		err := h.handle(sess.Context(), msg)
		switch {
		case err == nil:
		case IsPermanent(err):
			h.c.logger.Warn("kafka message skipped",
				logx.Int64("offset", msg.Offset),
				logx.Int("partition", int(msg.Partition)),
				logx.Err(err),
			)
		default:
			h.c.logger.Error("kafka handle failed, retrying",
				logx.Int64("offset", msg.Offset),
				logx.Err(err),
			)
			return err
		}
		sess.MarkMessage(msg, "")
	}
	return nil
}

// handle decodes one message and passes it on. Undecodable or invalid messages are permanent.
func (h *groupHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var dto EventDTO
	if err := json.Unmarshal(msg.Value, &dto); err != nil {
		return Permanent(fmt.Errorf("decode: %w", err))
	}
	ev, err := ToDomain(dto)
	if err != nil {
		return Permanent(fmt.Errorf("invalid event: %w", err))
	}
	if err := h.c.handler(ctx, ev); err != nil {
		return fmt.Errorf("delivery %s v%d: %w", ev.DeliveryID, ev.Version, err)
	}
	return nil
}
