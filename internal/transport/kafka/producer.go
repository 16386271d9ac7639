package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"

	"parcelflow/internal/domain"
	"parcelflow/internal/logx"
)

// ErrProducerClosed is returned by Publish after Close.
var ErrProducerClosed = errors.New("kafka: producer closed")

// ErrBacklogFull is returned by Publish when the local backlog has no room.
var ErrBacklogFull = errors.New("kafka: publish backlog full")

// DefaultBacklog is the number of events Publish can queue ahead of the brokers.
const DefaultBacklog = 256

var newAsyncProducer = sarama.NewAsyncProducer

// NewProducerConfig keeps one delivery's events in order on its partition:
// keys hash to a fixed partition and a single in-flight request with idempotence
// prevents retry reordering.
func NewProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Producer publishes lifecycle events to the event topic, keyed by delivery id.
// Publish never blocks: events queue in a bounded FIFO backlog that one goroutine
// feeds into the AsyncProducer, so per-delivery order is kept.
type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   logx.Logger
	failures prometheus.Counter
	backlog  chan *sarama.ProducerMessage

	mu     sync.RWMutex
	closed bool
	fwd    sync.WaitGroup
	wg     sync.WaitGroup
}

// ProducerOption tunes a Producer.
type ProducerOption func(*Producer)

// WithBacklog sets the backlog size; n < 1 keeps DefaultBacklog.
func WithBacklog(n int) ProducerOption {
	return func(p *Producer) {
		if n > 0 {
			p.backlog = make(chan *sarama.ProducerMessage, n)
		}
	}
}

// NewProducer dials the brokers. failures may be nil.
func NewProducer(logger logx.Logger, brokers []string, topic string, failures prometheus.Counter, opts ...ProducerOption) (*Producer, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka producer: brokers and topic are required")
	}
	p, err := newAsyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewProducerFrom(p, topic, logger, failures, opts...), nil
}

// NewProducerFrom wraps an existing AsyncProducer.
func NewProducerFrom(p sarama.AsyncProducer, topic string, logger logx.Logger, failures prometheus.Counter, opts ...ProducerOption) *Producer {
	if logger == nil {
		logger = logx.Nop()
	}
	pr := &Producer{producer: p, topic: topic, logger: logger, failures: failures}
	for _, opt := range opts {
		opt(pr)
	}
	if pr.backlog == nil {
		pr.backlog = make(chan *sarama.ProducerMessage, DefaultBacklog)
	}
	pr.fwd.Add(1)
	go pr.forward()
	pr.wg.Add(1)
	go pr.drainErrors()
	return pr
}

// Publish enqueues ev without waiting on the brokers. A full backlog drops the
// event, counts it as a failure and returns ErrBacklogFull.
func (p *Producer) Publish(ctx context.Context, ev domain.LifecycleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(FromDomain(ev))
	if err != nil {
		return fmt.Errorf("kafka marshal: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.DeliveryID),
		Value: sarama.ByteEncoder(body),
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.backlog <- msg:
		return nil
	default:
		if p.failures != nil {
			p.failures.Inc()
		}
		return fmt.Errorf("delivery %s v%d: %w", ev.DeliveryID, ev.Version, ErrBacklogFull)
	}
}

// Close flushes the backlog and buffered messages, then stops the producer.
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.backlog)
	p.mu.Unlock()

	p.fwd.Wait()
	err := p.producer.Close()
	p.wg.Wait()
	return err
}

func (p *Producer) forward() {
	defer p.fwd.Done()
	for msg := range p.backlog {
		p.producer.Input() <- msg
	}
}

func (p *Producer) drainErrors() {
	defer p.wg.Done()
	for perr := range p.producer.Errors() {
		if p.failures != nil {
			p.failures.Inc()
		}
		key := ""
		if perr.Msg != nil && perr.Msg.Key != nil {
			if b, err := perr.Msg.Key.Encode(); err == nil {
				key = string(b)
			}
		}
		p.logger.Error("kafka publish failed",
			logx.String("delivery_id", key),
			logx.Err(perr.Err),
		)
	}
}
