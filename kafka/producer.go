package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"order-svc/config"
	"order-svc/middleware"
	"order-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func InitProducer(cfg *config.Config, logger *zap.Logger) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	config.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.KafkaBrokers))
	return producer, nil
}

// EventProducer publishes order lifecycle events and dead-lettered payment
// results through a sarama SyncProducer.
type EventProducer struct {
	producer    sarama.SyncProducer
	eventsTopic string
	dlqTopic    string
	logger      *zap.Logger
}

func NewEventProducer(producer sarama.SyncProducer, eventsTopic, dlqTopic string, logger *zap.Logger) *EventProducer {
	return &EventProducer{
		producer:    producer,
		eventsTopic: eventsTopic,
		dlqTopic:    dlqTopic,
		logger:      logger,
	}
}

// PublishOrderEvent sends event keyed by order number so every event of one
// order lands on the same partition.
func (p *EventProducer) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.eventsTopic,
		Key:   sarama.StringEncoder(event.OrderNumber),
		Value: sarama.ByteEncoder(eventJSON),
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Info("Event published",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", p.eventsTopic),
		zap.String("event_type", event.EventType),
		zap.String("order_number", event.OrderNumber),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
	)
	return nil
}

// SendToDLQ copies msg to the dead-letter topic together with where it came
// from and why it was given up on.
func (p *EventProducer) SendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, reason error) error {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+4)
	for _, h := range msg.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}
	headers = append(headers,
		sarama.RecordHeader{Key: []byte("x-original-topic"), Value: []byte(msg.Topic)},
		sarama.RecordHeader{Key: []byte("x-original-partition"), Value: []byte(strconv.FormatInt(int64(msg.Partition), 10))},
		sarama.RecordHeader{Key: []byte("x-original-offset"), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		sarama.RecordHeader{Key: []byte("x-error"), Value: []byte(reason.Error())},
	)

	dlqMsg := &sarama.ProducerMessage{
		Topic:   p.dlqTopic,
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
	}
	if msg.Key != nil {
		dlqMsg.Key = sarama.ByteEncoder(msg.Key)
	}

	if _, _, err := p.producer.SendMessage(dlqMsg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", p.dlqTopic, err)
	}

	p.logger.Warn("Message dead-lettered",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("reason", reason.Error()),
	)
	return nil
}

func injectTraceContext(ctx context.Context, msg *sarama.ProducerMessage) {
	carrier := saramaHeaderCarrier(msg.Headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = []sarama.RecordHeader(carrier)
}

// saramaHeaderCarrier implements the TextMapCarrier interface for Kafka headers (for producer)
type saramaHeaderCarrier []sarama.RecordHeader

func (c saramaHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *saramaHeaderCarrier) Set(key, value string) {
	*c = append(*c, sarama.RecordHeader{
		Key:   []byte(key),
		Value: []byte(value),
	})
}

func (c saramaHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
