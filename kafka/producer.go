package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"reconciliation-service/models"
)

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes order events keyed by order id, so every event of one
// order lands on the same partition in order.
type Producer struct {
	writer MessageWriter
	topic  string
	logger *zap.Logger
}

func NewProducer(brokers []string, topic string, logger *zap.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	logger.Info("Kafka producer initialized", zap.String("topic", topic), zap.Strings("brokers", brokers))
	return NewProducerWithWriter(w, topic, logger)
}

func NewProducerWithWriter(w MessageWriter, topic string, logger *zap.Logger) *Producer {
	return &Producer{writer: w, topic: topic, logger: logger}
}

// PublishOrderEvent writes evt to the order topic.
func (p *Producer) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish %s for order %s: %w", evt.EventType, evt.OrderID, err)
	}
	p.logger.Debug("Order event published to Kafka",
		zap.String("topic", p.topic),
		zap.String("event_type", evt.EventType),
		zap.String("order_id", evt.OrderID),
	)
	return nil
}

func (p *Producer) Close() error {
	p.logger.Info("Closing Kafka writer", zap.String("topic", p.topic))
	return p.writer.Close()
}
