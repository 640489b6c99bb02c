package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"order-svc/config"
	"order-svc/middleware"
	"order-svc/models"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notifier emits {type, recipient, data} events for the notification
// service.
type Notifier struct {
	writer messageWriter
	logger *zap.Logger
}

func NewNotifier(cfg *config.Config, logger *zap.Logger) *Notifier {
	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.NotificationTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		WriteTimeout:           5 * time.Second,
		AllowAutoTopicCreation: true,
	}

	logger.Info("Notification writer initialized", zap.String("topic", cfg.NotificationTopic))
	return &Notifier{writer: writer, logger: logger}
}

// Notify publishes event. Unknown types are dropped with a warning instead of
// being sent to consumers that cannot render them.
func (n *Notifier) Notify(ctx context.Context, event models.NotificationEvent) error {
	if !event.Type.Known() {
		middleware.RecordNotificationPublished(string(event.Type), "rejected")
		n.logger.Warn("Rejected notification with unknown type",
			zap.String("type", string(event.Type)),
			zap.String("recipient", event.Recipient),
		)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.Recipient),
		Value: payload,
	}
	carrier := kafkaGoHeaderCarrier(msg.Headers)
	otel.GetTextMapPropagator().Inject(ctx, &carrier)
	msg.Headers = []kafkago.Header(carrier)

	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		middleware.RecordNotificationPublished(string(event.Type), "error")
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	middleware.RecordNotificationPublished(string(event.Type), "success")
	n.logger.Info("Notification published",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("type", string(event.Type)),
	)
	return nil
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}

type kafkaGoHeaderCarrier []kafkago.Header

func (c kafkaGoHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *kafkaGoHeaderCarrier) Set(key, value string) {
	*c = append(*c, kafkago.Header{Key: key, Value: []byte(value)})
}

func (c kafkaGoHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}
