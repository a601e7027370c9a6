package kafka

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	"liqzones/internal/metrics"
	"liqzones/pkg/errors"
	"liqzones/pkg/logger"
)

// Producer handles Kafka message publishing
type Producer struct {
	mu      sync.Mutex
	writers map[string]*kafka.Writer
	brokers []string
	async   bool
	log     *logger.Logger
}

// ProducerConfig holds producer configuration
type ProducerConfig struct {
	Brokers []string
	Async   bool
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig) *Producer {
	return &Producer{
		writers: make(map[string]*kafka.Writer),
		brokers: cfg.Brokers,
		async:   cfg.Async,
		log:     logger.Get().With("component", "kafka_producer"),
	}
}

// getWriter returns or creates a writer for a topic
func (p *Producer) getWriter(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // same coin lands on the same partition
		Async:                  p.async,
		AllowAutoTopicCreation: true,
	}

	p.writers[topic] = w
	return w
}

// Publish sends a JSON encoded message to a topic
func (p *Producer) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	return p.PublishBinary(ctx, topic, []byte(key), data)
}

// PublishBinary sends an already encoded payload to a topic
func (p *Producer) PublishBinary(ctx context.Context, topic string, key []byte, data []byte) error {
	return p.PublishBatch(ctx, topic, []kafka.Message{{Key: key, Value: data}})
}

// PublishBatch sends multiple messages to a topic
func (p *Producer) PublishBatch(ctx context.Context, topic string, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	if err := p.getWriter(topic).WriteMessages(ctx, messages...); err != nil {
		metrics.KafkaMessages.WithLabelValues(topic, "produce", "error").Add(float64(len(messages)))
		p.log.Errorw("Failed to publish", "topic", topic, "messages", len(messages), "error", err)
		return errors.Wrapf(err, "failed to publish to %s", topic)
	}

	metrics.KafkaMessages.WithLabelValues(topic, "produce", "success").Add(float64(len(messages)))
	p.log.Debugw("Published", "topic", topic, "messages", len(messages))
	return nil
}

// Close closes all writers, returning the first error
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.log.Errorw("Failed to close writer", "topic", topic, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
