package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-svc/config"
	"order-svc/middleware"
	"order-svc/models"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var errInvalidPaymentResult = errors.New("invalid payment result")

type PaymentSettler interface {
	UnlockOrder(ctx context.Context, orderID, paymentID int64, txnID string, success bool) error
}

// SettlementLedger remembers payment ids whose result was already applied.
type SettlementLedger interface {
	IsSettled(ctx context.Context, paymentID int64) (bool, error)
	MarkSettled(ctx context.Context, paymentID int64) error
}

type DeadLetterer interface {
	SendToDLQ(ctx context.Context, msg *sarama.ConsumerMessage, reason error) error
}

func InitConsumerGroup(cfg *config.Config, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V2_1_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Retry.Backoff = 1 * time.Second
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}

	group, err := sarama.NewConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized", zap.String("group", cfg.KafkaConsumerGroup))
	return group, nil
}

// PaymentResultConsumer feeds payment results into order settlement. Offsets
// are marked only after a message was settled or dead-lettered.
type PaymentResultConsumer struct {
	settler    PaymentSettler
	ledger     SettlementLedger
	dlq        DeadLetterer
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func NewPaymentResultConsumer(settler PaymentSettler, ledger SettlementLedger, dlq DeadLetterer, maxRetries int, logger *zap.Logger) *PaymentResultConsumer {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &PaymentResultConsumer{
		settler:    settler,
		ledger:     ledger,
		dlq:        dlq,
		maxRetries: maxRetries,
		backoff:    time.Second,
		logger:     logger,
	}
}

// Run joins the consumer group and consumes topic until ctx is done.
func (c *PaymentResultConsumer) Run(ctx context.Context, group sarama.ConsumerGroup, topic string) error {
	go func() {
		for err := range group.Errors() {
			c.logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	c.logger.Info("Kafka consumer started", zap.String("topic", topic))

	for {
		if err := group.Consume(ctx, []string{topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("Consumer group session ended with error", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(c.backoff):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *PaymentResultConsumer) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *PaymentResultConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *PaymentResultConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.handleMessage(session.Context(), message); err != nil {
				// Leave the offset unmarked so the message is redelivered.
				return err
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage settles one payment result. It returns an error only when the
// message could neither be settled nor dead-lettered.
func (c *PaymentResultConsumer) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	// Extract trace context from Kafka message headers
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	ctx, span := otel.Tracer("order-service").Start(ctx, "ProcessPaymentResult")
	defer span.End()

	logger := c.logger.With(
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset),
	)

	var event models.PaymentResultEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		span.RecordError(err)
		return c.deadLetter(ctx, message, fmt.Errorf("failed to unmarshal event: %w", err), logger)
	}
	if event.OrderID <= 0 || event.PaymentID <= 0 {
		err := fmt.Errorf("%w: orderId=%d paymentId=%d", errInvalidPaymentResult, event.OrderID, event.PaymentID)
		span.RecordError(err)
		return c.deadLetter(ctx, message, err, logger)
	}

	span.SetAttributes(
		attribute.Int64("order.id", event.OrderID),
		attribute.Int64("payment.id", event.PaymentID),
		attribute.Bool("payment.success", event.Success),
	)
	logger = logger.With(zap.Int64("order_id", event.OrderID), zap.Int64("payment_id", event.PaymentID))

	if c.ledger != nil {
		settled, err := c.ledger.IsSettled(ctx, event.PaymentID)
		if err != nil {
			logger.Warn("Settlement ledger unavailable, settling against the database", zap.Error(err))
		} else if settled {
			middleware.RecordPaymentResult("duplicate")
			logger.Info("Payment result already settled, skipping")
			return nil
		}
	}

	if err := c.settleWithRetry(ctx, event, logger); err != nil {
		span.RecordError(err)
		return c.deadLetter(ctx, message, err, logger)
	}

	if c.ledger != nil {
		if err := c.ledger.MarkSettled(ctx, event.PaymentID); err != nil {
			logger.Warn("Failed to mark payment settled", zap.Error(err))
		}
	}

	middleware.RecordPaymentResult("settled")
	logger.Info("Payment result settled", zap.Bool("success", event.Success))
	return nil
}

func (c *PaymentResultConsumer) settleWithRetry(ctx context.Context, event models.PaymentResultEvent, logger *zap.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.settler.UnlockOrder(ctx, event.OrderID, event.PaymentID, event.TransactionID, event.Success)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			logger.Warn("Retrying payment settlement",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *PaymentResultConsumer) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, reason error, logger *zap.Logger) error {
	if ctx.Err() != nil {
		// Shutting down; redeliver instead of dead-lettering.
		return ctx.Err()
	}
	if err := c.dlq.SendToDLQ(ctx, message, reason); err != nil {
		logger.Error("Failed to dead-letter payment result", zap.Error(err), zap.NamedError("reason", reason))
		return err
	}
	middleware.RecordPaymentResult("dead_lettered")
	logger.Error("Payment result dead-lettered", zap.Error(reason))
	return nil
}

// saramaHeaderCarrierConsumer implements the TextMapCarrier interface for Kafka headers (for consumer)
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {
	// Not needed for extraction
}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
